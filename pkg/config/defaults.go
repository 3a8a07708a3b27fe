package config

import (
	"strings"

	"github.com/marmos91/rsemgr/pkg/lfn2pfn"
	"github.com/marmos91/rsemgr/pkg/protocol"
	"github.com/marmos91/rsemgr/pkg/rse"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Repository-specific defaults are handled by the repository factory
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyManagerDefaults(&cfg.Manager)
	applyRepositoryDefaults(&cfg.Repository)

	for i := range cfg.RSEs {
		applyRSEDefaults(&cfg.RSEs[i])
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyManagerDefaults sets manager defaults. Connect defaults follow
// protocol.DefaultConnectPolicy.
func applyManagerDefaults(cfg *ManagerConfig) {
	if cfg.DefaultDomain == "" {
		cfg.DefaultDomain = string(rse.DefaultDomain)
	}
	cfg.DefaultDomain = strings.ToLower(cfg.DefaultDomain)

	if cfg.Parallelism == 0 {
		cfg.Parallelism = 4
	}

	policy := protocol.DefaultConnectPolicy()
	if cfg.Connect.MaxAttempts == 0 {
		cfg.Connect.MaxAttempts = policy.MaxAttempts
	}
	if cfg.Connect.InitialInterval == 0 {
		cfg.Connect.InitialInterval = policy.InitialInterval
	}
	if cfg.Connect.MaxInterval == 0 {
		cfg.Connect.MaxInterval = policy.MaxInterval
	}
}

func applyRepositoryDefaults(cfg *RepositoryConfig) {
	if cfg.Type == "" {
		cfg.Type = "static"
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
}

// applyRSEDefaults fills the naming scheme and lower-cases domain keys so
// "LAN" and "lan" mean the same thing.
func applyRSEDefaults(info *rse.Info) {
	if info.NamingScheme == "" {
		info.NamingScheme = lfn2pfn.Hash{}.Name()
	}

	for i := range info.Protocols {
		p := &info.Protocols[i]
		if len(p.Domains) == 0 {
			continue
		}
		domains := make(map[rse.Domain]rse.Priorities, len(p.Domains))
		for d, prio := range p.Domains {
			domains[rse.Domain(strings.ToLower(string(d)))] = prio
		}
		p.Domains = domains
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// The result holds no storage elements; it is useful for tests and for
// commands that only talk to a repository.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
