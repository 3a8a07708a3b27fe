package rsemgr

import (
	"sort"
	"sync"
)

// BulkResult is the outcome of one manager call.
//
// Outcomes holds exactly one entry per input descriptor, keyed by
// rse.File.Key: nil on success, otherwise the error that item failed with.
// OK is true iff every outcome is nil.
type BulkResult struct {
	OK       bool
	Outcomes map[string]error
}

// Failed returns the keys of failed items in sorted order.
func (r *BulkResult) Failed() []string {
	var keys []string
	for k, err := range r.Outcomes {
		if err != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Err returns the outcome of key, nil when it succeeded or is unknown.
func (r *BulkResult) Err(key string) error {
	return r.Outcomes[key]
}

// aggregator collects final outcomes while protocols are attempted.
// An outcome, once set, is never overwritten.
type aggregator struct {
	mu       sync.Mutex
	outcomes map[string]error
}

func newAggregator(n int) *aggregator {
	return &aggregator{outcomes: make(map[string]error, n)}
}

func (a *aggregator) set(key string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, done := a.outcomes[key]; !done {
		a.outcomes[key] = err
	}
}

func (a *aggregator) result() *BulkResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := &BulkResult{OK: true, Outcomes: make(map[string]error, len(a.outcomes))}
	for k, err := range a.outcomes {
		res.Outcomes[k] = err
		if err != nil {
			res.OK = false
		}
	}
	return res
}
