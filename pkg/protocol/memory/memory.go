// Package memory implements the "mock" protocol: objects live in a
// process-local Store shared by every plugin instance built from it.
//
// It is meant for tests, dry runs and demos. A Store can simulate outages
// and per-object failures to exercise protocol fallback.
package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/rsemgr/pkg/protocol"
	"github.com/marmos91/rsemgr/pkg/rse"
)

// Scheme is the PFN scheme served by this plugin.
const Scheme = "mock"

// Store holds the objects of every mock endpoint, keyed by hostname and path.
//
// Thread Safety:
// All operations are protected by a sync.RWMutex. Data is copied in and out
// so callers never alias stored bytes.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
	down    map[string]bool
	faults  map[string]error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		objects: make(map[string][]byte),
		down:    make(map[string]bool),
		faults:  make(map[string]error),
	}
}

// DefaultStore backs the mock scheme of the built-in registry.
var DefaultStore = NewStore()

// Factory returns a protocol.Factory bound to the store.
func (s *Store) Factory() protocol.Factory {
	return func(spec rse.ProtocolSpec, opts protocol.Options) (protocol.Protocol, error) {
		caps := protocol.AllCapabilities
		if spec.ReadOnly() {
			caps = protocol.ReadCapabilities
		}
		return &Protocol{Base: protocol.NewBase(spec, opts), store: s, caps: caps}, nil
	}
}

// SetDown makes every handshake to hostname fail with ErrServiceUnavailable.
func (s *Store) SetDown(hostname string, down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down[hostname] = down
}

// Fail makes every operation on pfn fail with err until cleared with a nil err.
func (s *Store) Fail(pfn string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, pfn)
		return
	}
	s.faults[pfn] = err
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Object returns a copy of the object stored at pfn.
func (s *Store) Object(pfn string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[pfn]
	return append([]byte(nil), data...), ok
}

// Protocol is one mock endpoint.
type Protocol struct {
	protocol.Base

	store *Store
	caps  protocol.Capabilities
}

func (p *Protocol) Capabilities() protocol.Capabilities {
	return p.caps
}

func (p *Protocol) Connect(ctx context.Context, _ rse.Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.store.mu.RLock()
	defer p.store.mu.RUnlock()

	if p.store.down[p.Spec().Hostname] {
		return fmt.Errorf("mock endpoint %s is down: %w", p.Spec().Hostname, rse.ErrServiceUnavailable)
	}
	return nil
}

func (p *Protocol) Close() error {
	return nil
}

// key normalises pfn to the canonical PFN of its path, so equivalent
// spellings address the same object.
func (p *Protocol) key(pfn string) (string, error) {
	path, err := p.Path(pfn)
	if err != nil {
		return "", err
	}

	p.store.mu.RLock()
	fault := p.store.faults[pfn]
	p.store.mu.RUnlock()
	if fault != nil {
		return "", fault
	}

	return p.Spec().Scheme + "://" + p.Spec().Hostname + path, nil
}

func (p *Protocol) Get(ctx context.Context, transfers []protocol.Transfer) (map[string]error, error) {
	keys, byPFN := protocol.TransferKeys(transfers)

	return protocol.Each(ctx, p.Parallelism(), keys, func(ctx context.Context, pfn string) error {
		key, err := p.key(pfn)
		if err != nil {
			return err
		}

		p.store.mu.RLock()
		data, ok := p.store.objects[key]
		p.store.mu.RUnlock()
		if !ok {
			return fmt.Errorf("get %s: %w", pfn, rse.ErrSourceNotFound)
		}

		local := byPFN[pfn].Local
		tmp := local + ".part"
		if err := os.WriteFile(tmp, data, 0644); err != nil {
			return fmt.Errorf("get %s: %w", pfn, err)
		}
		return os.Rename(tmp, filepath.Clean(local))
	})
}

func (p *Protocol) Put(ctx context.Context, transfers []protocol.Transfer) (map[string]error, error) {
	if !p.caps.Has(protocol.CapPut) {
		return nil, protocol.Unsupported(Scheme, protocol.CapPut)
	}
	keys, byPFN := protocol.TransferKeys(transfers)

	return protocol.Each(ctx, p.Parallelism(), keys, func(ctx context.Context, pfn string) error {
		key, err := p.key(pfn)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(byPFN[pfn].Local)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("put %s: local %s: %w", pfn, byPFN[pfn].Local, rse.ErrSourceNotFound)
			}
			return fmt.Errorf("put %s: %w", pfn, err)
		}

		p.store.mu.Lock()
		defer p.store.mu.Unlock()
		if _, exists := p.store.objects[key]; exists {
			return fmt.Errorf("put %s: %w", pfn, rse.ErrFileReplicaAlreadyExists)
		}
		p.store.objects[key] = data
		return nil
	})
}

func (p *Protocol) Delete(ctx context.Context, pfns []string) (map[string]error, error) {
	if !p.caps.Has(protocol.CapDelete) {
		return nil, protocol.Unsupported(Scheme, protocol.CapDelete)
	}

	return protocol.Each(ctx, p.Parallelism(), pfns, func(ctx context.Context, pfn string) error {
		key, err := p.key(pfn)
		if err != nil {
			return err
		}

		p.store.mu.Lock()
		defer p.store.mu.Unlock()
		if _, exists := p.store.objects[key]; !exists {
			return fmt.Errorf("delete %s: %w", pfn, rse.ErrSourceNotFound)
		}
		delete(p.store.objects, key)
		return nil
	})
}

func (p *Protocol) Exists(ctx context.Context, pfns []string) (map[string]error, error) {
	return protocol.Each(ctx, p.Parallelism(), pfns, func(ctx context.Context, pfn string) error {
		key, err := p.key(pfn)
		if err != nil {
			return err
		}

		p.store.mu.RLock()
		defer p.store.mu.RUnlock()
		if _, exists := p.store.objects[key]; !exists {
			return fmt.Errorf("exists %s: %w", pfn, rse.ErrSourceNotFound)
		}
		return nil
	})
}

func (p *Protocol) Rename(ctx context.Context, renames map[string]string) (map[string]error, error) {
	if !p.caps.Has(protocol.CapRename) {
		return nil, protocol.Unsupported(Scheme, protocol.CapRename)
	}

	keys := make([]string, 0, len(renames))
	for src := range renames {
		keys = append(keys, src)
	}

	return protocol.Each(ctx, p.Parallelism(), keys, func(ctx context.Context, srcPFN string) error {
		src, err := p.key(srcPFN)
		if err != nil {
			return err
		}
		dst, err := p.key(renames[srcPFN])
		if err != nil {
			return err
		}

		// Single critical section: the move is atomic to observers
		p.store.mu.Lock()
		defer p.store.mu.Unlock()

		data, ok := p.store.objects[src]
		if !ok {
			return fmt.Errorf("rename %s: %w", srcPFN, rse.ErrSourceNotFound)
		}
		if _, exists := p.store.objects[dst]; exists {
			return fmt.Errorf("rename %s: %w", renames[srcPFN], rse.ErrFileReplicaAlreadyExists)
		}
		p.store.objects[dst] = data
		delete(p.store.objects, src)
		return nil
	})
}
