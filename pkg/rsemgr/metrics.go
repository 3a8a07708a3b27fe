package rsemgr

import "time"

// Metrics provides observability for manager calls.
//
// This is optional - if not provided, metrics collection is skipped.
type Metrics interface {
	// ObserveOperation records one plugin call of a manager operation with
	// the number of items that succeeded and failed
	ObserveOperation(operation, scheme string, duration time.Duration, succeeded, failed int)

	// RecordFallback records a switch to the next candidate protocol
	RecordFallback(rse, operation string)

	// RecordConnectAttempt records one handshake and its result
	RecordConnectAttempt(scheme string, err error)
}

// noopMetrics is a default no-op metrics implementation
type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, time.Duration, int, int) {}
func (noopMetrics) RecordFallback(string, string)                           {}
func (noopMetrics) RecordConnectAttempt(string, error)                      {}
