// Package memory provides an in-memory RSE repository, typically populated
// from the configuration file at startup.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/rsemgr/pkg/rse"
)

// Repository implements rse.WritableRepository with a map guarded by an RWMutex.
//
// Stored entries and returned entries are deep copies, so neither the caller
// that registered an RSE nor the caller that read it can mutate the stored
// configuration.
type Repository struct {
	mu   sync.RWMutex
	rses map[string]*rse.Info
}

// New creates a repository seeded with infos. Duplicate or invalid entries
// are rejected.
func New(infos ...*rse.Info) (*Repository, error) {
	r := &Repository{rses: make(map[string]*rse.Info, len(infos))}
	for _, info := range infos {
		if err := info.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.rses[info.Tag]; dup {
			return nil, fmt.Errorf("rse %s: registered twice", info.Tag)
		}
		r.rses[info.Tag] = info.Clone()
	}
	return r, nil
}

func (r *Repository) Get(ctx context.Context, tag string) (*rse.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.rses[tag]
	if !ok {
		return nil, fmt.Errorf("rse %s: %w", tag, rse.ErrRSENotFound)
	}
	return info.Clone(), nil
}

func (r *Repository) List(ctx context.Context) ([]*rse.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*rse.Info, 0, len(r.rses))
	for _, info := range r.rses {
		out = append(out, info.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out, nil
}

func (r *Repository) Put(ctx context.Context, info *rse.Info) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := info.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rses[info.Tag] = info.Clone()
	return nil
}

func (r *Repository) Delete(ctx context.Context, tag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rses[tag]; !ok {
		return fmt.Errorf("rse %s: %w", tag, rse.ErrRSENotFound)
	}
	delete(r.rses, tag)
	return nil
}

// Close is a no-op; the repository holds no external resources.
func (r *Repository) Close() error {
	return nil
}
