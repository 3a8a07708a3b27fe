package config

import (
	"github.com/marmos91/rsemgr/pkg/metrics"
	promMetrics "github.com/marmos91/rsemgr/pkg/metrics/prometheus"
	"github.com/marmos91/rsemgr/pkg/rsemgr"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Manager is the collector for the RSE manager (nil if disabled, which
	// the manager treats as no-op)
	Manager rsemgr.Metrics
}

// InitializeMetrics creates the metrics components based on configuration.
//
// If metrics are enabled the global Prometheus registry is initialized and
// a server plus Prometheus-backed collectors are returned. Otherwise both
// fields are nil.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:  metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}),
		Manager: promMetrics.NewManagerMetrics(),
	}
}
