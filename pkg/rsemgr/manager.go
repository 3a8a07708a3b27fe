// Package rsemgr is the public entry point for moving, inspecting and
// renaming files on storage elements.
//
// A Manager combines three collaborators:
//   - the RSE snapshot loaded from a rse.Repository
//   - the protocol plugin registry
//   - the LFN to PFN naming schemes
//
// Every bulk operation selects the candidate protocols for the requested
// domain, translates the descriptors that carry no explicit PFN, runs the
// plugin primitive and aggregates one outcome per descriptor.
//
// Thread Safety:
// A Manager is immutable after New and safe for concurrent use. Each call
// builds and connects its own plugin instances; connections are never
// shared between calls.
package rsemgr

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/marmos91/rsemgr/internal/logger"
	"github.com/marmos91/rsemgr/internal/ratelimiter"
	"github.com/marmos91/rsemgr/pkg/lfn2pfn"
	"github.com/marmos91/rsemgr/pkg/protocol"
	"github.com/marmos91/rsemgr/pkg/rse"
)

// Config wires a Manager.
type Config struct {
	// Repository provides the storage element configuration. Required.
	Repository rse.Repository

	// Protocols maps schemes to plugin factories. Required.
	Protocols *protocol.Registry

	// Naming holds the LFN to PFN schemes. Defaults to lfn2pfn.NewRegistry().
	Naming *lfn2pfn.Registry

	// DefaultDomain is used when a call passes an empty domain.
	DefaultDomain rse.Domain

	// Parallelism bounds concurrent items inside one plugin call.
	Parallelism int

	// ConnectPolicy bounds handshake retries per candidate protocol.
	ConnectPolicy protocol.ConnectPolicy

	// Limiter throttles storage requests across all calls. Nil is unlimited.
	Limiter *ratelimiter.RateLimiter

	// Metrics is optional
	Metrics Metrics
}

// Manager executes file operations on storage elements.
type Manager struct {
	rses          map[string]*rse.Info
	naming        map[string]lfn2pfn.Scheme
	protocols     *protocol.Registry
	defaultDomain rse.Domain
	parallelism   int
	policy        protocol.ConnectPolicy
	limiter       *ratelimiter.RateLimiter
	metrics       Metrics
}

// New loads every storage element from cfg.Repository and validates it
// against the registries. The snapshot is never refreshed: build a new
// Manager to pick up configuration changes.
//
// Every protocol spec is built once so attribute errors surface here.
//
// Returns an error wrapping ErrRSEProtocolNotSupported when an RSE names an
// unregistered scheme or naming scheme, and ErrInvalidConfiguration when a
// plugin rejects its spec.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Repository == nil {
		return nil, fmt.Errorf("rsemgr: repository is required")
	}
	if cfg.Protocols == nil {
		return nil, fmt.Errorf("rsemgr: protocol registry is required")
	}
	if cfg.Naming == nil {
		cfg.Naming = lfn2pfn.NewRegistry()
	}

	domain, err := rse.ParseDomain(string(cfg.DefaultDomain))
	if err != nil {
		return nil, fmt.Errorf("rsemgr: default domain: %w", err)
	}

	policy := cfg.ConnectPolicy
	if policy.MaxAttempts == 0 {
		policy = protocol.DefaultConnectPolicy()
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	infos, err := cfg.Repository.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("rsemgr: load storage elements: %w", err)
	}

	m := &Manager{
		rses:          make(map[string]*rse.Info, len(infos)),
		naming:        make(map[string]lfn2pfn.Scheme, len(infos)),
		protocols:     cfg.Protocols,
		defaultDomain: domain,
		parallelism:   max(cfg.Parallelism, 1),
		policy:        policy,
		limiter:       cfg.Limiter,
		metrics:       metrics,
	}

	for _, info := range infos {
		if err := info.Validate(); err != nil {
			return nil, err
		}

		scheme, err := cfg.Naming.Lookup(info.NamingScheme)
		if err != nil {
			return nil, fmt.Errorf("rse %s: %v: %w", info.Tag, err, rse.ErrRSEProtocolNotSupported)
		}
		for _, spec := range info.Protocols {
			if !cfg.Protocols.Has(spec.Scheme) {
				return nil, fmt.Errorf("rse %s: scheme %q: %w", info.Tag, spec.Scheme, rse.ErrRSEProtocolNotSupported)
			}
			opts := protocol.Options{Naming: scheme, Parallelism: m.parallelism}
			if _, err := cfg.Protocols.New(spec, opts); err != nil {
				return nil, configError(info.Tag, spec, err)
			}
		}

		m.rses[info.Tag] = info.Clone()
		m.naming[info.Tag] = scheme
	}

	logger.Info("RSE manager ready: %d storage element(s), default domain %s", len(m.rses), m.defaultDomain)
	return m, nil
}

// RSEs lists the loaded storage element tags in sorted order.
func (m *Manager) RSEs() []string {
	tags := make([]string, 0, len(m.rses))
	for tag := range m.rses {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Info returns a copy of the configuration of tag.
func (m *Manager) Info(tag string) (*rse.Info, error) {
	info, err := m.lookup(tag)
	if err != nil {
		return nil, err
	}
	return info.Clone(), nil
}

func (m *Manager) lookup(tag string) (*rse.Info, error) {
	info, ok := m.rses[tag]
	if !ok {
		return nil, fmt.Errorf("rse %q: %w", tag, rse.ErrRSENotFound)
	}
	return info, nil
}

func (m *Manager) domain(d rse.Domain) (rse.Domain, error) {
	if d == "" {
		return m.defaultDomain, nil
	}
	parsed, err := rse.ParseDomain(string(d))
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, rse.ErrInvalidDescriptor)
	}
	return parsed, nil
}

// configError reports a plugin that rejected its spec as
// ErrInvalidConfiguration.
func configError(tag string, spec rse.ProtocolSpec, err error) error {
	if errors.Is(err, rse.ErrInvalidConfiguration) {
		return fmt.Errorf("rse %s: %s: %w", tag, spec, err)
	}
	return fmt.Errorf("rse %s: %s: %v: %w", tag, spec, err, rse.ErrInvalidConfiguration)
}

func (m *Manager) options(tag string) protocol.Options {
	return protocol.Options{Naming: m.naming[tag], Parallelism: m.parallelism}
}

func (m *Manager) sessionOptions() protocol.SessionOptions {
	return protocol.SessionOptions{
		Policy:           m.policy,
		Limiter:          m.limiter,
		OnConnectAttempt: m.metrics.RecordConnectAttempt,
	}
}

// Lfn2Pfn returns the PFN f resolves to on the preferred read protocol of
// the storage element in the default domain. No connection is made.
func (m *Manager) Lfn2Pfn(ctx context.Context, tag string, f rse.File) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	info, err := m.lookup(tag)
	if err != nil {
		return "", err
	}
	if err := f.Validate(); err != nil {
		return "", err
	}

	candidates, err := Candidates(info, m.defaultDomain, rse.OpRead)
	if err != nil {
		return "", err
	}

	p, err := m.protocols.New(candidates[0], m.options(tag))
	if err != nil {
		return "", err
	}
	return p.Translate(f)
}
