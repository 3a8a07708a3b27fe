package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/rsemgr/pkg/rse"
)

const sampleYAML = `
logging:
  level: debug
  format: json
  output: stderr
manager:
  default_domain: LAN
  parallelism: 2
  connect:
    max_attempts: 5
    initial_interval: 50ms
    max_interval: 1s
rses:
  - tag: MOCK
    naming_scheme: flat
    credentials:
      region: eu-west-1
    protocols:
      - scheme: file
        hostname: localhost
        prefix: /tmp/rucio/remote
        domains:
          lan: {read: 1, write: 1, delete: 1}
          wan: {read: 2, write: 2, delete: 2}
        attributes:
          read_only: "false"
  - tag: MOCK-S3
    protocols:
      - scheme: s3
        hostname: bucket
        domains:
          wan: {read: 1, write: 1, delete: 1}
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("Unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.Manager.DefaultDomain != "lan" {
		t.Errorf("Expected default domain lan, got %q", cfg.Manager.DefaultDomain)
	}
	if cfg.Manager.Parallelism != 2 {
		t.Errorf("Expected parallelism 2, got %d", cfg.Manager.Parallelism)
	}
	if cfg.Manager.Connect.MaxAttempts != 5 || cfg.Manager.Connect.InitialInterval != 50*time.Millisecond || cfg.Manager.Connect.MaxInterval != time.Second {
		t.Errorf("Unexpected connect config: %+v", cfg.Manager.Connect)
	}

	if len(cfg.RSEs) != 2 {
		t.Fatalf("Expected 2 RSEs, got %d", len(cfg.RSEs))
	}

	mock := cfg.RSEs[0]
	if mock.Tag != "MOCK" {
		t.Errorf("Expected tag MOCK (case preserved), got %q", mock.Tag)
	}
	if mock.NamingScheme != "flat" {
		t.Errorf("Expected naming scheme flat, got %q", mock.NamingScheme)
	}
	if mock.Credentials.Region != "eu-west-1" {
		t.Errorf("Expected region eu-west-1, got %q", mock.Credentials.Region)
	}
	p := mock.Protocols[0]
	if p.Prefix != "/tmp/rucio/remote" || p.Hostname != "localhost" {
		t.Errorf("Unexpected protocol: %+v", p)
	}
	if got := p.Priority(rse.DomainWAN, rse.OpWrite); got != 2 {
		t.Errorf("Expected wan write priority 2, got %d", got)
	}
	if p.ReadOnly() {
		t.Error("Expected protocol to be writable")
	}

	if cfg.RSEs[1].NamingScheme != "hash" {
		t.Errorf("Expected default naming scheme hash, got %q", cfg.RSEs[1].NamingScheme)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with no config file failed: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level INFO, got %q", cfg.Logging.Level)
	}
	if cfg.Repository.Type != "static" {
		t.Errorf("Expected default repository static, got %q", cfg.Repository.Type)
	}
	if cfg.Manager.DefaultDomain != string(rse.DomainWAN) {
		t.Errorf("Expected default domain wan, got %q", cfg.Manager.DefaultDomain)
	}
	if len(cfg.RSEs) != 0 {
		t.Errorf("Expected no RSEs, got %d", len(cfg.RSEs))
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", "logging:\n  level: [unclosed\n")

	if _, err := Load(path); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoad_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
rses:
  - tag: BROKEN
    protocols:
      - scheme: gsiftp
        domains:
          wan: {read: 1}
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Expected validation error for unregistered scheme")
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[logging]
level = "warn"

[manager]
parallelism = 3

[[rses]]
tag = "MOCK"

[[rses.protocols]]
scheme = "mock"
hostname = "localhost"
prefix = "/data"
domains = { wan = { read = 1, write = 1, delete = 1 } }
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load TOML failed: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level WARN, got %q", cfg.Logging.Level)
	}
	if cfg.Manager.Parallelism != 3 {
		t.Errorf("Expected parallelism 3, got %d", cfg.Manager.Parallelism)
	}
	if len(cfg.RSEs) != 1 || cfg.RSEs[0].Protocols[0].Scheme != "mock" {
		t.Fatalf("Unexpected RSEs: %+v", cfg.RSEs)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("RSEMGR_LOGGING_LEVEL", "ERROR")
	t.Setenv("RSEMGR_MANAGER_PARALLELISM", "8")
	t.Setenv("RSEMGR_MANAGER_DEFAULT_DOMAIN", "lan")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level ERROR from env, got %q", cfg.Logging.Level)
	}
	if cfg.Manager.Parallelism != 8 {
		t.Errorf("Expected parallelism 8 from env, got %d", cfg.Manager.Parallelism)
	}
	if cfg.Manager.DefaultDomain != "lan" {
		t.Errorf("Expected domain lan from env, got %q", cfg.Manager.DefaultDomain)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	want := filepath.Join(dir, "rsemgr", "config.yaml")
	if got := GetDefaultConfigPath(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	if ConfigExists() {
		t.Error("Expected no config at the default path")
	}

	if err := os.MkdirAll(filepath.Dir(want), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(want, []byte("logging:\n  level: INFO\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if !ConfigExists() {
		t.Error("Expected config to exist after writing it")
	}
}
