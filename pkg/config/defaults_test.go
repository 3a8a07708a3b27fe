package config

import (
	"testing"
	"time"

	"github.com/marmos91/rsemgr/pkg/rse"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format text, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output stdout, got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_Manager(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	m := cfg.Manager
	if m.DefaultDomain != "wan" {
		t.Errorf("Expected default domain wan, got %q", m.DefaultDomain)
	}
	if m.Parallelism != 4 {
		t.Errorf("Expected parallelism 4, got %d", m.Parallelism)
	}
	if m.Connect.MaxAttempts != 3 || m.Connect.InitialInterval != 200*time.Millisecond || m.Connect.MaxInterval != 2*time.Second {
		t.Errorf("Unexpected connect defaults: %+v", m.Connect)
	}
	if m.RateLimit.RequestsPerSecond != 0 {
		t.Errorf("Expected unlimited rate, got %d", m.RateLimit.RequestsPerSecond)
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected metrics port 9090, got %d", cfg.Metrics.Port)
	}
	if cfg.Repository.Type != "static" || cfg.Repository.Badger == nil {
		t.Errorf("Unexpected repository defaults: %+v", cfg.Repository)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Manager: ManagerConfig{
			DefaultDomain: "LAN",
			Parallelism:   16,
			Connect:       ConnectConfig{MaxAttempts: 1, InitialInterval: time.Second, MaxInterval: time.Minute},
		},
		Repository: RepositoryConfig{Type: "badger"},
	}
	ApplyDefaults(cfg)

	if cfg.Manager.DefaultDomain != "lan" {
		t.Errorf("Expected lan, got %q", cfg.Manager.DefaultDomain)
	}
	if cfg.Manager.Parallelism != 16 {
		t.Errorf("Expected parallelism 16, got %d", cfg.Manager.Parallelism)
	}
	if cfg.Manager.Connect.MaxAttempts != 1 || cfg.Manager.Connect.MaxInterval != time.Minute {
		t.Errorf("Connect values were overwritten: %+v", cfg.Manager.Connect)
	}
	if cfg.Repository.Type != "badger" {
		t.Errorf("Expected badger, got %q", cfg.Repository.Type)
	}
}

func TestApplyDefaults_RSEs(t *testing.T) {
	cfg := &Config{
		RSEs: []rse.Info{{
			Tag: "MOCK",
			Protocols: []rse.ProtocolSpec{{
				Scheme:  "file",
				Domains: map[rse.Domain]rse.Priorities{"WAN": {Read: 1}},
			}},
		}},
	}
	ApplyDefaults(cfg)

	info := cfg.RSEs[0]
	if info.NamingScheme != "hash" {
		t.Errorf("Expected naming scheme hash, got %q", info.NamingScheme)
	}
	if _, ok := info.Protocols[0].Domains[rse.DomainWAN]; !ok {
		t.Errorf("Expected domain keys lower-cased, got %v", info.Protocols[0].Domains)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}
