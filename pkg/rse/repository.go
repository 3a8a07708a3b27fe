package rse

import "context"

// Repository is the source of storage element configuration.
//
// Implementations return deep copies so callers may keep the result without
// observing later edits to the repository.
type Repository interface {
	// Get returns the RSE registered under tag, or an error wrapping
	// ErrRSENotFound.
	Get(ctx context.Context, tag string) (*Info, error)

	// List returns every registered RSE, sorted by tag.
	List(ctx context.Context) ([]*Info, error)
}

// WritableRepository is a Repository that accepts updates.
type WritableRepository interface {
	Repository

	// Put stores or replaces the RSE identified by info.Tag.
	Put(ctx context.Context, info *Info) error

	// Delete removes the RSE. Deleting an unknown tag returns ErrRSENotFound.
	Delete(ctx context.Context, tag string) error
}
