// Package prometheus implements the manager metrics on the registry owned
// by pkg/metrics.
package prometheus

import (
	"time"

	"github.com/marmos91/rsemgr/pkg/metrics"
	"github.com/marmos91/rsemgr/pkg/rsemgr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// managerMetrics is the Prometheus implementation of rsemgr.Metrics.
type managerMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	fallbacksTotal    *prometheus.CounterVec
	connectAttempts   *prometheus.CounterVec
}

// NewManagerMetrics creates Prometheus-backed manager metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// makes the manager use its built-in no-op implementation.
func NewManagerMetrics() rsemgr.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newManagerMetrics(metrics.GetRegistry())
}

func newManagerMetrics(reg prometheus.Registerer) *managerMetrics {
	return &managerMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsemgr_operations_total",
				Help: "Items processed by manager operations, by protocol scheme and outcome",
			},
			[]string{"operation", "scheme", "outcome"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "rsemgr_operation_duration_seconds",
				Help: "Duration of one plugin batch in seconds",
				Buckets: []float64{
					0.005, // 5ms
					0.05,  // 50ms
					0.25,  // 250ms
					1.0,   // 1s
					5.0,   // 5s
					30.0,  // 30s
					120.0, // 2m
					600.0, // 10m
				},
			},
			[]string{"operation", "scheme"},
		),
		fallbacksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsemgr_protocol_fallbacks_total",
				Help: "Times a call moved on to the next candidate protocol",
			},
			[]string{"rse", "operation"},
		),
		connectAttempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsemgr_connect_attempts_total",
				Help: "Protocol handshakes by scheme and result",
			},
			[]string{"scheme", "result"},
		),
	}
}

func (m *managerMetrics) ObserveOperation(operation, scheme string, duration time.Duration, succeeded, failed int) {
	m.operationDuration.WithLabelValues(operation, scheme).Observe(duration.Seconds())
	if succeeded > 0 {
		m.operationsTotal.WithLabelValues(operation, scheme, outcomeSuccess).Add(float64(succeeded))
	}
	if failed > 0 {
		m.operationsTotal.WithLabelValues(operation, scheme, outcomeFailure).Add(float64(failed))
	}
}

func (m *managerMetrics) RecordFallback(rse, operation string) {
	m.fallbacksTotal.WithLabelValues(rse, operation).Inc()
}

func (m *managerMetrics) RecordConnectAttempt(scheme string, err error) {
	result := outcomeSuccess
	if err != nil {
		result = outcomeFailure
	}
	m.connectAttempts.WithLabelValues(scheme, result).Inc()
}
