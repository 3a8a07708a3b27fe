// Package lfn2pfn maps catalog identities (scope, name) to storage paths.
//
// Translation is pure: the same scope, name and scheme always yield the same
// relative path, with no I/O. Protocol plugins join the path to their prefix
// to form the final PFN.
package lfn2pfn

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/rsemgr/pkg/rse"
)

// DefaultScheme is used when an RSE does not configure a naming scheme.
const DefaultScheme = "hash"

// Scheme computes the relative storage path of a catalog identity.
type Scheme interface {
	// Name is the identifier RSEs reference in naming_scheme.
	Name() string

	// Path returns the relative path (no leading slash) of scope:name.
	Path(scope, name string) (string, error)
}

// SchemeFunc adapts a function to Scheme.
type SchemeFunc struct {
	ID string
	Fn func(scope, name string) (string, error)
}

func (s SchemeFunc) Name() string { return s.ID }

func (s SchemeFunc) Path(scope, name string) (string, error) { return s.Fn(scope, name) }

// Registry maps scheme identifiers to schemes.
type Registry struct {
	mu      sync.RWMutex
	schemes map[string]Scheme
}

// NewRegistry returns a registry holding the built-in hash and flat schemes.
func NewRegistry() *Registry {
	r := &Registry{schemes: make(map[string]Scheme)}
	r.Register(Hash{})
	r.Register(Flat{})
	return r
}

// Register adds or replaces a scheme.
func (r *Registry) Register(s Scheme) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemes[s.Name()] = s
}

// Lookup returns the named scheme. An empty name selects DefaultScheme.
func (r *Registry) Lookup(name string) (Scheme, error) {
	if name == "" {
		name = DefaultScheme
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemes[name]
	if !ok {
		return nil, fmt.Errorf("naming scheme %q is not registered", name)
	}
	return s, nil
}

// Names lists registered scheme identifiers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemes))
	for name := range r.schemes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ScopePath turns user and group scopes into nested directories
// ("user.jdoe" becomes "user/jdoe"). Other scopes are kept verbatim.
func ScopePath(scope string) string {
	if strings.HasPrefix(scope, "user.") || strings.HasPrefix(scope, "group.") {
		return strings.ReplaceAll(scope, ".", "/")
	}
	return scope
}

// Hash is the default deterministic layout:
//
//	<scope-path>/<md5[0:2]>/<md5[2:4]>/<name>
//
// where md5 is the hex digest of "scope:name". Two levels of 256 fan-out
// bound the number of entries per directory.
type Hash struct{}

func (Hash) Name() string { return "hash" }

func (Hash) Path(scope, name string) (string, error) {
	if scope == "" || name == "" {
		return "", fmt.Errorf("hash scheme needs scope and name: %w", rse.ErrInvalidDescriptor)
	}

	sum := md5.Sum([]byte(scope + ":" + name))
	digest := hex.EncodeToString(sum[:])

	return strings.Join([]string{ScopePath(scope), digest[0:2], digest[2:4], name}, "/"), nil
}

// Flat is the legacy layout <scope>/<name>.
type Flat struct{}

func (Flat) Name() string { return "flat" }

func (Flat) Path(scope, name string) (string, error) {
	if scope == "" || name == "" {
		return "", fmt.Errorf("flat scheme needs scope and name: %w", rse.ErrInvalidDescriptor)
	}
	return scope + "/" + name, nil
}
