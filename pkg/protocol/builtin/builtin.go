// Package builtin assembles the protocol registry with every plugin shipped
// in this module.
package builtin

import (
	"github.com/marmos91/rsemgr/pkg/protocol"
	"github.com/marmos91/rsemgr/pkg/protocol/memory"
	"github.com/marmos91/rsemgr/pkg/protocol/posix"
	"github.com/marmos91/rsemgr/pkg/protocol/s3"
)

// Registry returns a fresh registry with the file, s3 and mock schemes.
// The mock scheme is backed by memory.DefaultStore.
func Registry() *protocol.Registry {
	r := protocol.NewRegistry()
	r.Register(posix.Scheme, posix.New)
	r.Register(s3.Scheme, s3.New)
	r.Register(memory.Scheme, memory.DefaultStore.Factory())
	return r
}
