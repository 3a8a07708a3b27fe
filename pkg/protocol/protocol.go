// Package protocol defines the capability interface every storage transport
// implements, the registry mapping scheme identifiers to plugin constructors,
// and the connection session the manager drives plugins through.
//
// Bulk result convention:
// Every batch primitive returns a failures map keyed by PFN plus a call-level
// error. A PFN absent from the map succeeded. The call-level error is only
// set for context cancellation or a transport collapse, and in that case the
// map holds an entry for every item that did not succeed:
//
//	failures, err := p.Delete(ctx, pfns)
//	if err != nil {
//	    // ctx cancelled or transport lost; failures covers every unfinished PFN
//	}
//	for pfn, ferr := range failures {
//	    if rse.IsRetryable(ferr) {
//	        // connection-level, worth another protocol
//	    }
//	}
package protocol

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/rsemgr/pkg/lfn2pfn"
	"github.com/marmos91/rsemgr/pkg/rse"
)

// Capability is one primitive a plugin may implement.
type Capability uint8

const (
	CapGet Capability = 1 << iota
	CapPut
	CapDelete
	CapExists
	CapRename
)

// Capabilities is a set of primitives.
type Capabilities uint8

// AllCapabilities is the full read-write set.
const AllCapabilities = Capabilities(CapGet | CapPut | CapDelete | CapExists | CapRename)

// ReadCapabilities is the set left on read-only protocols.
const ReadCapabilities = Capabilities(CapGet | CapExists)

func (c Capabilities) Has(want Capability) bool {
	return c&Capabilities(want) != 0
}

// Without removes caps from the set.
func (c Capabilities) Without(drop ...Capability) Capabilities {
	for _, d := range drop {
		c &^= Capabilities(d)
	}
	return c
}

func (c Capabilities) String() string {
	var names []string
	for _, one := range []Capability{CapGet, CapPut, CapDelete, CapExists, CapRename} {
		if c.Has(one) {
			names = append(names, one.String())
		}
	}
	return "[" + strings.Join(names, " ") + "]"
}

func (c Capability) String() string {
	switch c {
	case CapGet:
		return "get"
	case CapPut:
		return "put"
	case CapDelete:
		return "delete"
	case CapExists:
		return "exists"
	case CapRename:
		return "rename"
	default:
		return fmt.Sprintf("capability(%d)", uint8(c))
	}
}

// Transfer pairs a remote PFN with a local file path.
type Transfer struct {
	PFN   string
	Local string
}

// Protocol is the capability interface of one transport family.
//
// A Protocol instance is owned by a single call and is never shared between
// concurrent calls. Methods of a capability the plugin does not declare
// return ErrUnsupportedOperation.
type Protocol interface {
	// Spec returns a copy of the protocol specification the plugin serves.
	Spec() rse.ProtocolSpec

	// Capabilities lists the primitives this instance supports.
	Capabilities() Capabilities

	// Connect performs the transport handshake.
	Connect(ctx context.Context, creds rse.Credentials) error

	// Close releases the transport. Safe to call more than once.
	Close() error

	// Translate resolves a descriptor to a PFN on this protocol: an
	// explicit PFN or bare physical identifier is returned as-is,
	// otherwise the naming scheme computes the path.
	Translate(f rse.File) (string, error)

	// Get downloads each Transfer.PFN into Transfer.Local.
	Get(ctx context.Context, transfers []Transfer) (map[string]error, error)

	// Put uploads each Transfer.Local to Transfer.PFN. An existing
	// destination fails with ErrFileReplicaAlreadyExists.
	Put(ctx context.Context, transfers []Transfer) (map[string]error, error)

	// Delete removes each PFN. A missing PFN fails with ErrSourceNotFound.
	Delete(ctx context.Context, pfns []string) (map[string]error, error)

	// Exists reports missing PFNs as ErrSourceNotFound failures.
	Exists(ctx context.Context, pfns []string) (map[string]error, error)

	// Rename moves each key PFN to its value PFN without overwriting.
	Rename(ctx context.Context, renames map[string]string) (map[string]error, error)
}

// Options carries the per-RSE settings every plugin receives.
type Options struct {
	// Naming computes paths for catalog identities
	Naming lfn2pfn.Scheme

	// Parallelism bounds concurrent item processing within one batch.
	// Values below 1 mean sequential.
	Parallelism int
}

// Factory builds an unconnected plugin for spec.
type Factory func(spec rse.ProtocolSpec, opts Options) (Protocol, error)

// Registry maps scheme identifiers to plugin factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for scheme.
func (r *Registry) Register(scheme string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[scheme] = f
}

// Has reports whether scheme has a factory.
func (r *Registry) Has(scheme string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[scheme]
	return ok
}

// Schemes lists registered schemes in sorted order.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.factories))
	for s := range r.factories {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// New builds a plugin for spec. An unknown scheme returns an error wrapping
// ErrRSEProtocolNotSupported.
func (r *Registry) New(spec rse.ProtocolSpec, opts Options) (Protocol, error) {
	r.mu.RLock()
	f, ok := r.factories[spec.Scheme]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("scheme %q: %w", spec.Scheme, rse.ErrRSEProtocolNotSupported)
	}
	if opts.Naming == nil {
		opts.Naming = lfn2pfn.Hash{}
	}
	return f(spec.Clone(), opts)
}

// Unsupported builds the error returned for an undeclared primitive.
func Unsupported(scheme string, c Capability) error {
	return fmt.Errorf("%s: %s: %w", scheme, c, rse.ErrUnsupportedOperation)
}

// Unavailable wraps a transport error so it is recognised as connection-level
// while keeping the cause inspectable.
func Unavailable(op string, err error) error {
	if err == nil || rse.IsRetryable(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, rse.ErrServiceUnavailable, err)
}

// FailAll records err for every key not already failed. Callers pass only
// the keys that never completed when a call aborts mid-batch.
func FailAll(failures map[string]error, keys []string, err error) {
	for _, k := range keys {
		if _, failed := failures[k]; !failed {
			failures[k] = err
		}
	}
}
