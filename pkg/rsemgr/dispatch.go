package rsemgr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/rsemgr/internal/logger"
	"github.com/marmos91/rsemgr/pkg/protocol"
	"github.com/marmos91/rsemgr/pkg/rse"
)

// item is one descriptor of a call. pfn and dst are resolved again for
// every candidate protocol.
type item struct {
	file   rse.File
	key    string
	target rse.File
	local  string

	pfn string
	dst string
}

// executor runs a plugin primitive on batch and returns failures keyed by
// item key, following the protocol bulk result convention.
type executor func(ctx context.Context, s *protocol.Session, batch []*item) (map[string]error, error)

// plan describes one manager call.
type plan struct {
	operation string
	class     rse.Operation
	needs     []protocol.Capability
	info      *rse.Info
	domain    rse.Domain
	items     []*item
	rename    bool
	exec      executor

	// raise reports whether a single-item failure is returned as the call
	// error. Nil means always.
	raise func(err error) bool
}

// prepare validates the descriptors of a call and indexes them by key.
// A repeated key rejects the whole call.
func prepare(files []rse.File) ([]*item, error) {
	items := make([]*item, 0, len(files))
	seen := make(map[string]struct{}, len(files))

	for _, f := range files {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		key := f.Key()
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("descriptor %s appears twice: %w", key, rse.ErrInvalidDescriptor)
		}
		seen[key] = struct{}{}
		items = append(items, &item{file: f, key: key})
	}
	return items, nil
}

// run drives p through the candidate protocols.
//
// Algorithm:
//  1. Select candidates for the domain and priority class.
//  2. For each candidate: build the plugin, check capabilities, connect.
//     A failed handshake moves on to the next candidate. A missing
//     capability or a spec the plugin rejects fails the whole call.
//  3. Resolve PFNs of the pending items and execute the primitive.
//  4. Content-level failures and successes are final. Items that failed
//     with a connection-level error stay pending for the next candidate.
//  5. Items still pending when candidates run out fail with
//     ErrServiceUnavailable and the call returns the same error.
func (m *Manager) run(ctx context.Context, p *plan) (*BulkResult, error) {
	candidates, err := Candidates(p.info, p.domain, p.class)
	if err != nil {
		return nil, err
	}

	logger.Debug("RSE %s: %s of %d item(s) in domain %s, %d candidate protocol(s)",
		p.info.Tag, p.operation, len(p.items), p.domain, len(candidates))

	agg := newAggregator(len(p.items))
	pending := p.items
	var cause error

	for i, spec := range candidates {
		if len(pending) == 0 || ctx.Err() != nil {
			break
		}
		if i > 0 {
			m.metrics.RecordFallback(p.info.Tag, p.operation)
			logger.Warn("RSE %s: %s falling back to %s for %d item(s): %v",
				p.info.Tag, p.operation, spec, len(pending), cause)
		}

		var err error
		pending, err = m.attempt(ctx, p, spec, pending, agg)
		if errors.Is(err, rse.ErrUnsupportedOperation) || errors.Is(err, rse.ErrInvalidConfiguration) {
			return nil, err
		}
		if err != nil {
			cause = err
		}
	}

	var callErr error
	switch {
	case ctx.Err() != nil:
		callErr = ctx.Err()
		for _, it := range pending {
			agg.set(it.key, callErr)
		}
	case len(pending) > 0:
		outcome := cause
		switch {
		case outcome == nil:
			outcome = rse.ErrServiceUnavailable
		case !rse.IsRetryable(outcome):
			outcome = fmt.Errorf("%w: %w", rse.ErrServiceUnavailable, cause)
		}
		for _, it := range pending {
			agg.set(it.key, outcome)
		}
		callErr = fmt.Errorf("rse %s: %s: %d item(s) unfinished, no protocol left: %w",
			p.info.Tag, p.operation, len(pending), outcome)
		logger.Error("%v", callErr)
	}

	return finish(p, agg.result(), callErr)
}

// attempt runs pending on one candidate and returns the items to retry on
// the next candidate together with the reason.
func (m *Manager) attempt(ctx context.Context, p *plan, spec rse.ProtocolSpec, pending []*item, agg *aggregator) ([]*item, error) {
	proto, err := m.protocols.New(spec, m.options(p.info.Tag))
	if err != nil {
		return pending, configError(p.info.Tag, spec, err)
	}
	for _, c := range p.needs {
		if !proto.Capabilities().Has(c) {
			return pending, fmt.Errorf("rse %s: %w", p.info.Tag, protocol.Unsupported(spec.Scheme, c))
		}
	}

	// ========================================================================
	// Step 1: Connect
	// ========================================================================

	session, err := protocol.Dial(ctx, proto, p.info.Credentials, m.sessionOptions())
	if err != nil {
		return pending, err
	}
	defer session.Close()

	// ========================================================================
	// Step 2: Resolve PFNs on this protocol
	// ========================================================================

	batch := resolve(proto, pending, p.rename, agg)
	if len(batch) == 0 {
		return nil, nil
	}

	// ========================================================================
	// Step 3: Execute and sort outcomes
	// ========================================================================

	start := time.Now()
	failures, callErr := p.exec(ctx, session, batch)
	if callErr != nil && failures == nil {
		failures = make(map[string]error, len(batch))
		for _, it := range batch {
			failures[it.key] = callErr
		}
	}

	var retry []*item
	var cause error
	failed := 0
	for _, it := range batch {
		err := failures[it.key]
		switch {
		case err == nil:
			agg.set(it.key, nil)
		case rse.IsRetryable(err):
			retry = append(retry, it)
			if cause == nil {
				cause = err
			}
		default:
			agg.set(it.key, err)
		}
		if err != nil {
			failed++
		}
	}
	m.metrics.ObserveOperation(p.operation, spec.Scheme, time.Since(start), len(batch)-failed, failed)

	if errors.Is(callErr, rse.ErrUnsupportedOperation) {
		return retry, callErr
	}
	if cause == nil {
		cause = callErr
	}
	return retry, cause
}

// resolve translates items on proto. Items that cannot be translated, or
// that resolve to a PFN already addressed by another item of the batch,
// fail with their final outcome.
func resolve(proto protocol.Protocol, items []*item, withTarget bool, agg *aggregator) []*item {
	owners := make(map[string]string, len(items))
	batch := make([]*item, 0, len(items))

	for _, it := range items {
		pfn, err := proto.Translate(it.file)
		if err == nil {
			if owner, dup := owners[pfn]; dup {
				err = fmt.Errorf("descriptor %s resolves to %s, already addressed by %s: %w",
					it.key, pfn, owner, rse.ErrInvalidDescriptor)
			}
		}
		if err == nil && withTarget {
			it.dst, err = proto.Translate(it.target)
		}
		if err != nil {
			agg.set(it.key, err)
			continue
		}

		owners[pfn] = it.key
		it.pfn = pfn
		batch = append(batch, it)
	}
	return batch
}

// finish applies the cardinality rule: a single-item call returns its
// failure as the call error instead of a result.
func finish(p *plan, res *BulkResult, callErr error) (*BulkResult, error) {
	single := len(p.items) == 1

	if callErr != nil {
		if single {
			return nil, callErr
		}
		return res, callErr
	}

	if single {
		err := res.Outcomes[p.items[0].key]
		if err != nil && (p.raise == nil || p.raise(err)) {
			return nil, err
		}
	}
	return res, nil
}

// byKey converts failures keyed by PFN to failures keyed by item.
func byKey(batch []*item, failures map[string]error) map[string]error {
	if failures == nil {
		return nil
	}
	out := make(map[string]error, len(failures))
	for _, it := range batch {
		if err, failed := failures[it.pfn]; failed {
			out[it.key] = err
		}
	}
	return out
}

func pfns(batch []*item) []string {
	out := make([]string, len(batch))
	for i, it := range batch {
		out[i] = it.pfn
	}
	return out
}
