// Package badger provides a persistent RSE repository backed by BadgerDB.
//
// Each storage element is stored as one YAML document under the key
// "rse:<tag>", which keeps the database inspectable with stock badger tools
// and lets `rsemgr rses export` dump it verbatim.
package badger

import (
	"context"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/rsemgr/internal/logger"
	"github.com/marmos91/rsemgr/pkg/rse"
	"gopkg.in/yaml.v3"
)

const keyPrefix = "rse:"

func keyRSE(tag string) []byte {
	return []byte(keyPrefix + tag)
}

// Repository implements rse.WritableRepository on BadgerDB.
//
// Thread Safety:
// BadgerDB transactions are safe for concurrent use; the repository adds no
// locking of its own.
type Repository struct {
	db *badgerdb.DB
}

// Config configures the repository.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the database entirely in memory (tests, dry runs)
	InMemory bool
}

// New opens (or creates) the repository.
//
// Parameters:
//   - ctx: Context checked before opening the database
//   - cfg: Database location
//
// Returns:
//   - *Repository: Opened repository, to be closed with Close
//   - error: Open failure or context cancellation
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badgerdb.Options
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger rse repository: path is required")
		}
		opts = badgerdb.DefaultOptions(cfg.Path)
	}

	// RSE documents are tiny and rarely written
	opts = opts.WithLoggingLevel(badgerdb.WARNING).
		WithNumVersionsToKeep(1)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	logger.Debug("Badger RSE repository opened: path=%s in_memory=%v", cfg.Path, cfg.InMemory)

	return &Repository{db: db}, nil
}

func (r *Repository) Get(ctx context.Context, tag string) (*rse.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var info *rse.Info
	err := r.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyRSE(tag))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("rse %s: %w", tag, rse.ErrRSENotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read rse %s: %w", tag, err)
		}

		return item.Value(func(val []byte) error {
			info, err = decodeInfo(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (r *Repository) List(ctx context.Context) ([]*rse.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var infos []*rse.Info
	err := r.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		// Keys iterate in byte order, which is tag order
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			err := it.Item().Value(func(val []byte) error {
				info, err := decodeInfo(val)
				if err != nil {
					return err
				}
				infos = append(infos, info)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

func (r *Repository) Put(ctx context.Context, info *rse.Info) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := info.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode rse %s: %w", info.Tag, err)
	}

	return r.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(keyRSE(info.Tag), data)
	})
}

func (r *Repository) Delete(ctx context.Context, tag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(keyRSE(tag)); err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return fmt.Errorf("rse %s: %w", tag, rse.ErrRSENotFound)
			}
			return err
		}
		return txn.Delete(keyRSE(tag))
	})
}

// Close releases the database.
func (r *Repository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

func decodeInfo(data []byte) (*rse.Info, error) {
	var info rse.Info
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to decode rse document: %w", err)
	}
	return &info, nil
}
