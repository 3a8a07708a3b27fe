// Package testing provides a reusable contract test suite for
// protocol.Protocol implementations.
package testing

import (
	"context"
	"testing"

	"github.com/marmos91/rsemgr/pkg/protocol"
	"github.com/marmos91/rsemgr/pkg/rse"
)

// ProtocolTestSuite tests the plugin contract, not backend internals, so the
// same assertions run against posix, s3 and memory.
//
// Usage:
//
//	func TestMyProtocol(t *testing.T) {
//	    suite := &prototesting.ProtocolTestSuite{
//	        NewProtocol: func(t *testing.T) protocol.Protocol {
//	            p, _ := myproto.New(spec, protocol.Options{})
//	            return p
//	        },
//	    }
//	    suite.Run(t)
//	}
type ProtocolTestSuite struct {
	// NewProtocol returns an unconnected plugin over a fresh, empty namespace.
	NewProtocol func(t *testing.T) protocol.Protocol

	// Credentials are passed to Connect
	Credentials rse.Credentials
}

// Run executes all tests in the suite.
func (suite *ProtocolTestSuite) Run(t *testing.T) {
	t.Run("Translate", suite.RunTranslateTests)
	t.Run("Transfer", suite.RunTransferTests)
	t.Run("Delete", suite.RunDeleteTests)
	t.Run("Rename", suite.RunRenameTests)
}

func testContext() context.Context {
	return context.Background()
}
