package config

import (
	"context"
	"fmt"

	"github.com/marmos91/rsemgr/internal/logger"
	"github.com/marmos91/rsemgr/internal/ratelimiter"
	"github.com/marmos91/rsemgr/pkg/lfn2pfn"
	"github.com/marmos91/rsemgr/pkg/protocol"
	"github.com/marmos91/rsemgr/pkg/protocol/builtin"
	"github.com/marmos91/rsemgr/pkg/rse"
	"github.com/marmos91/rsemgr/pkg/rse/badger"
	"github.com/marmos91/rsemgr/pkg/rse/memory"
	"github.com/marmos91/rsemgr/pkg/rsemgr"
	"github.com/mitchellh/mapstructure"
)

// Repository is an RSE repository built from configuration. Close releases
// the backing database, if any.
type Repository interface {
	rse.WritableRepository
	Close() error
}

// NewRepository creates the RSE repository selected by cfg.Repository.Type.
//
// Supported types:
//   - "static": in-memory repository holding exactly cfg.RSEs
//   - "badger": persistent repository (pkg/rse/badger); cfg.RSEs are upserted
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Complete configuration (repository section and RSE list)
//
// Returns:
//   - Repository: Initialized repository, to be closed by the caller
//   - error: Configuration or initialization error
func NewRepository(ctx context.Context, cfg *Config) (Repository, error) {
	switch cfg.Repository.Type {
	case "static":
		return createStaticRepository(cfg.RSEs)
	case "badger":
		return createBadgerRepository(ctx, cfg.Repository.Badger, cfg.RSEs)
	default:
		return nil, fmt.Errorf("unknown repository type: %q", cfg.Repository.Type)
	}
}

func createStaticRepository(rses []rse.Info) (Repository, error) {
	infos := make([]*rse.Info, len(rses))
	for i := range rses {
		infos[i] = &rses[i]
	}

	repo, err := memory.New(infos...)
	if err != nil {
		return nil, fmt.Errorf("failed to create static rse repository: %w", err)
	}
	return repo, nil
}

// decodeBadgerConfig decodes the repository.badger section. Weak decoding
// accepts "true" from environment variables for in_memory.
func decodeBadgerConfig(options map[string]any) (badger.Config, error) {
	type BadgerRepositoryConfig struct {
		Path     string `mapstructure:"path"`
		InMemory bool   `mapstructure:"in_memory"`
	}

	var repoCfg BadgerRepositoryConfig
	if err := mapstructure.WeakDecode(options, &repoCfg); err != nil {
		return badger.Config{}, fmt.Errorf("failed to decode badger repository config: %w", err)
	}

	return badger.Config{
		Path:     repoCfg.Path,
		InMemory: repoCfg.InMemory,
	}, nil
}

func createBadgerRepository(ctx context.Context, options map[string]any, rses []rse.Info) (Repository, error) {
	repoCfg, err := decodeBadgerConfig(options)
	if err != nil {
		return nil, err
	}

	repo, err := badger.New(ctx, repoCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger rse repository: %w", err)
	}

	for i := range rses {
		if err := repo.Put(ctx, &rses[i]); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("failed to store rse %s: %w", rses[i].Tag, err)
		}
	}
	if len(rses) > 0 {
		logger.Debug("Upserted %d configured RSE(s) into %s", len(rses), repoCfg.Path)
	}

	return repo, nil
}

// NewProtocolRegistry returns the registry with every built-in plugin.
func NewProtocolRegistry() *protocol.Registry {
	return builtin.Registry()
}

// NewManager builds an rsemgr.Manager from the manager section.
//
// Parameters:
//   - ctx: Context for loading the RSE snapshot
//   - cfg: Complete configuration
//   - repo: Source of storage element definitions
//   - m: Manager metrics, nil for none
func NewManager(ctx context.Context, cfg *Config, repo rse.Repository, m rsemgr.Metrics) (*rsemgr.Manager, error) {
	var limiter *ratelimiter.RateLimiter
	if cfg.Manager.RateLimit.RequestsPerSecond > 0 {
		limiter = ratelimiter.New(cfg.Manager.RateLimit.RequestsPerSecond, cfg.Manager.RateLimit.Burst)
	}

	return rsemgr.New(ctx, rsemgr.Config{
		Repository:    repo,
		Protocols:     NewProtocolRegistry(),
		Naming:        lfn2pfn.NewRegistry(),
		DefaultDomain: rse.Domain(cfg.Manager.DefaultDomain),
		Parallelism:   cfg.Manager.Parallelism,
		ConnectPolicy: protocol.ConnectPolicy{
			MaxAttempts:     cfg.Manager.Connect.MaxAttempts,
			InitialInterval: cfg.Manager.Connect.InitialInterval,
			MaxInterval:     cfg.Manager.Connect.MaxInterval,
		},
		Limiter: limiter,
		Metrics: m,
	})
}
