package rsemgr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marmos91/rsemgr/pkg/protocol"
	"github.com/marmos91/rsemgr/pkg/rse"
)

// ============================================================================
// Bulk Operations
// ============================================================================
//
// Every operation follows the same result contract:
//   - configuration problems (unknown RSE, no protocol for the domain,
//     malformed or repeated descriptors) and unsupported primitives return
//     (nil, err) before any item is processed
//   - a call with exactly one descriptor returns (nil, err) when that item
//     fails
//   - a call with several descriptors returns every per-item failure inside
//     the BulkResult with a nil error
//   - when no candidate protocol is left for some items, they fail with
//     ErrServiceUnavailable and the call also returns an error wrapping it

// Download fetches files from tag into the local directory dest, which is
// created when missing. Each file lands in dest under its base name.
//
// An empty domain selects the manager default.
func (m *Manager) Download(ctx context.Context, tag string, files []rse.File, dest string, domain rse.Domain) (*BulkResult, error) {
	p, err := m.newPlan(ctx, "download", rse.OpRead, tag, files, domain)
	if err != nil {
		return nil, err
	}
	p.needs = []protocol.Capability{protocol.CapGet}

	locals := make(map[string]string, len(p.items))
	for _, it := range p.items {
		it.local = filepath.Join(dest, it.file.BaseName())
		if owner, dup := locals[it.local]; dup {
			return nil, fmt.Errorf("descriptors %s and %s both download to %s: %w", owner, it.key, it.local, rse.ErrInvalidDescriptor)
		}
		locals[it.local] = it.key
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, fmt.Errorf("download: create destination: %w", err)
	}

	p.exec = func(ctx context.Context, s *protocol.Session, batch []*item) (map[string]error, error) {
		transfers := make([]protocol.Transfer, len(batch))
		for i, it := range batch {
			transfers[i] = protocol.Transfer{PFN: it.pfn, Local: it.local}
		}
		failures, err := s.Get(ctx, transfers)
		return byKey(batch, failures), err
	}
	return m.run(ctx, p)
}

// Upload stores files on tag, reading each from sourceDir under its base
// name. An existing replica is never overwritten.
func (m *Manager) Upload(ctx context.Context, tag string, files []rse.File, sourceDir string, domain rse.Domain) (*BulkResult, error) {
	p, err := m.newPlan(ctx, "upload", rse.OpWrite, tag, files, domain)
	if err != nil {
		return nil, err
	}
	p.needs = []protocol.Capability{protocol.CapPut}

	for _, it := range p.items {
		it.local = filepath.Join(sourceDir, it.file.BaseName())
	}

	p.exec = func(ctx context.Context, s *protocol.Session, batch []*item) (map[string]error, error) {
		transfers := make([]protocol.Transfer, len(batch))
		for i, it := range batch {
			transfers[i] = protocol.Transfer{PFN: it.pfn, Local: it.local}
		}
		failures, err := s.Put(ctx, transfers)
		return byKey(batch, failures), err
	}
	return m.run(ctx, p)
}

// Delete removes files from tag. A missing file fails with ErrSourceNotFound.
func (m *Manager) Delete(ctx context.Context, tag string, files []rse.File) (*BulkResult, error) {
	p, err := m.newPlan(ctx, "delete", rse.OpDelete, tag, files, "")
	if err != nil {
		return nil, err
	}
	p.needs = []protocol.Capability{protocol.CapDelete}

	p.exec = func(ctx context.Context, s *protocol.Session, batch []*item) (map[string]error, error) {
		failures, err := s.Delete(ctx, pfns(batch))
		return byKey(batch, failures), err
	}
	return m.run(ctx, p)
}

// Exists checks files on tag. A missing file is recorded as
// ErrSourceNotFound, so OK is true iff every file exists.
//
// Unlike the other operations, a single missing file is not returned as the
// call error: the result comes back with OK false.
func (m *Manager) Exists(ctx context.Context, tag string, files []rse.File) (*BulkResult, error) {
	p, err := m.newPlan(ctx, "exists", rse.OpRead, tag, files, "")
	if err != nil {
		return nil, err
	}
	p.needs = []protocol.Capability{protocol.CapExists}
	p.raise = func(err error) bool {
		return !errors.Is(err, rse.ErrSourceNotFound)
	}

	p.exec = func(ctx context.Context, s *protocol.Session, batch []*item) (map[string]error, error) {
		failures, err := s.Exists(ctx, pfns(batch))
		return byKey(batch, failures), err
	}
	return m.run(ctx, p)
}

// Rename moves files on tag to the location of their rename target (see
// rse.File.RenameTarget).
//
// Each item is checked independently and the batch always continues:
//   - a destination already claimed by an earlier item of the batch, or
//     already resolving to an existing object, fails with
//     ErrFileReplicaAlreadyExists and the source is left untouched
//   - a missing source fails with ErrSourceNotFound
//
// Concurrent calls renaming onto the same destination must be serialized by
// the caller.
func (m *Manager) Rename(ctx context.Context, tag string, files []rse.File) (*BulkResult, error) {
	p, err := m.newPlan(ctx, "rename", rse.OpWrite, tag, files, "")
	if err != nil {
		return nil, err
	}
	p.needs = []protocol.Capability{protocol.CapExists, protocol.CapRename}
	p.rename = true

	for _, it := range p.items {
		if it.target, err = it.file.RenameTarget(); err != nil {
			return nil, err
		}
	}

	p.exec = renameBatch
	return m.run(ctx, p)
}

func (m *Manager) newPlan(ctx context.Context, operation string, class rse.Operation, tag string, files []rse.File, domain rse.Domain) (*plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := m.lookup(tag)
	if err != nil {
		return nil, err
	}
	d, err := m.domain(domain)
	if err != nil {
		return nil, err
	}
	items, err := prepare(files)
	if err != nil {
		return nil, err
	}

	return &plan{
		operation: operation,
		class:     class,
		info:      info,
		domain:    d,
		items:     items,
	}, nil
}

// renameBatch checks destinations and sources, then renames what is left.
func renameBatch(ctx context.Context, s *protocol.Session, batch []*item) (map[string]error, error) {
	failures := make(map[string]error)

	// ========================================================================
	// Step 1: Destinations claimed twice within the batch, first wins
	// ========================================================================

	claimed := make(map[string]string, len(batch))
	live := make([]*item, 0, len(batch))
	for _, it := range batch {
		if owner, dup := claimed[it.dst]; dup {
			failures[it.key] = fmt.Errorf("rename %s: destination %s already claimed by %s: %w",
				it.key, it.dst, owner, rse.ErrFileReplicaAlreadyExists)
			continue
		}
		claimed[it.dst] = it.key
		live = append(live, it)
	}

	// ========================================================================
	// Step 2: Destinations must not exist
	// ========================================================================

	dsts := make([]string, len(live))
	for i, it := range live {
		dsts[i] = it.dst
	}
	found, err := s.Exists(ctx, dsts)
	if err != nil {
		return failRest(failures, batch, err), err
	}

	free := live[:0:0]
	for _, it := range live {
		switch ferr, failed := found[it.dst]; {
		case !failed:
			failures[it.key] = fmt.Errorf("rename %s: destination %s: %w", it.key, it.dst, rse.ErrFileReplicaAlreadyExists)
		case errors.Is(ferr, rse.ErrSourceNotFound):
			free = append(free, it)
		default:
			failures[it.key] = ferr
		}
	}

	// ========================================================================
	// Step 3: Sources must exist
	// ========================================================================

	found, err = s.Exists(ctx, pfns(free))
	if err != nil {
		return failRest(failures, batch, err), err
	}

	renames := make(map[string]string, len(free))
	ready := free[:0:0]
	for _, it := range free {
		if ferr, failed := found[it.pfn]; failed {
			failures[it.key] = ferr
			continue
		}
		renames[it.pfn] = it.dst
		ready = append(ready, it)
	}
	if len(ready) == 0 {
		return failures, nil
	}

	// ========================================================================
	// Step 4: Rename
	// ========================================================================

	renamed, err := s.Rename(ctx, renames)
	if renamed == nil && err != nil {
		return failRest(failures, batch, err), err
	}
	for k, ferr := range byKey(ready, renamed) {
		failures[k] = ferr
	}
	return failures, err
}

// failRest records err for every item of batch without an outcome yet.
func failRest(failures map[string]error, batch []*item, err error) map[string]error {
	for _, it := range batch {
		if _, failed := failures[it.key]; !failed {
			failures[it.key] = err
		}
	}
	return failures
}
