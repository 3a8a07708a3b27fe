package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/marmos91/rsemgr/internal/logger"
	"github.com/marmos91/rsemgr/internal/ratelimiter"
	"github.com/marmos91/rsemgr/pkg/rse"
)

// State is the connection state of a Session.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// ConnectPolicy bounds connection attempts.
type ConnectPolicy struct {
	// MaxAttempts is the total number of handshakes tried, at least 1
	MaxAttempts int

	// InitialInterval is the delay before the second attempt
	InitialInterval time.Duration

	// MaxInterval caps the exponential delay between attempts
	MaxInterval time.Duration
}

// DefaultConnectPolicy returns 3 attempts with 200ms to 2s exponential backoff.
func DefaultConnectPolicy() ConnectPolicy {
	return ConnectPolicy{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Policy ConnectPolicy

	// Limiter throttles handshakes and batch items. Nil means unlimited.
	Limiter *ratelimiter.RateLimiter

	// OnConnectAttempt is called after each handshake with its result.
	OnConnectAttempt func(scheme string, err error)
}

// Session drives one Protocol through the connection state machine:
//
//	Disconnected -> Connecting -> Connected   handshake succeeded
//	Connecting   -> Disconnected              attempts exhausted
//	Connected    -> Disconnected              Close, or a transport collapse
//
// Every primitive is rejected with ErrServiceUnavailable unless the session
// is Connected, and with ErrUnsupportedOperation when the plugin does not
// declare the capability.
type Session struct {
	proto Protocol
	opts  SessionOptions

	mu    sync.Mutex
	state State
}

// NewSession wraps p in a Disconnected session.
func NewSession(p Protocol, opts SessionOptions) *Session {
	if opts.Policy.MaxAttempts < 1 {
		opts.Policy.MaxAttempts = 1
	}
	return &Session{proto: p, opts: opts}
}

// Dial creates a session and connects it.
func Dial(ctx context.Context, p Protocol, creds rse.Credentials, opts SessionOptions) (*Session, error) {
	s := NewSession(p, opts)
	if err := s.Connect(ctx, creds); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Connect performs the handshake, retrying connection-level failures with
// exponential backoff up to Policy.MaxAttempts. Any other handshake failure
// stops retrying at once.
//
// Returns nil once Connected, the context error on cancellation, an
// ErrInvalidConfiguration error as is, or a fatal connection failure
// wrapping ErrServiceUnavailable.
func (s *Session) Connect(ctx context.Context, creds rse.Credentials) error {
	scheme := s.proto.Spec().Scheme

	s.mu.Lock()
	if s.state != Disconnected {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%s: connect from state %s", scheme, st)
	}
	s.state = Connecting
	s.mu.Unlock()

	policy := s.opts.Policy
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = policy.InitialInterval
	expo.MaxInterval = policy.MaxInterval
	expo.MaxElapsedTime = 0

	attempts := 0
	op := func() error {
		if err := s.opts.Limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		attempts++
		err := s.proto.Connect(ctx, creds)
		if s.opts.OnConnectAttempt != nil {
			s.opts.OnConnectAttempt(scheme, err)
		}
		if err == nil {
			return nil
		}

		logger.Debug("Connect attempt %d/%d to %s failed: %v", attempts, policy.MaxAttempts, s.proto.Spec(), err)
		if ctx.Err() != nil || !rse.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(policy.MaxAttempts-1)), ctx)
	err := backoff.Retry(op, bo)
	if err == nil {
		s.setState(Connected)
		return nil
	}

	s.setState(Disconnected)
	_ = s.proto.Close()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if rse.IsRetryable(err) || errors.Is(err, rse.ErrInvalidConfiguration) {
		return fmt.Errorf("%s: connect failed after %d attempt(s): %w", s.proto.Spec(), attempts, err)
	}
	return fmt.Errorf("%s: connect failed after %d attempt(s): %w: %w", s.proto.Spec(), attempts, rse.ErrServiceUnavailable, err)
}

// Close disconnects. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Disconnected {
		return nil
	}
	s.state = Disconnected
	return s.proto.Close()
}

func (s *Session) guard(ctx context.Context, c Capability, items int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.proto.Capabilities().Has(c) {
		return Unsupported(s.proto.Spec().Scheme, c)
	}
	if st := s.State(); st != Connected {
		return fmt.Errorf("%s: session %s: %w", s.proto.Spec().Scheme, st, rse.ErrServiceUnavailable)
	}
	return s.opts.Limiter.WaitN(ctx, items)
}

// observe drops the connection after a transport collapse.
func (s *Session) observe(err error) {
	if err != nil && rse.IsRetryable(err) {
		logger.Warn("Transport to %s lost: %v", s.proto.Spec(), err)
		_ = s.Close()
	}
}

func (s *Session) Get(ctx context.Context, transfers []Transfer) (map[string]error, error) {
	if err := s.guard(ctx, CapGet, len(transfers)); err != nil {
		return nil, err
	}
	failures, err := s.proto.Get(ctx, transfers)
	s.observe(err)
	return failures, err
}

func (s *Session) Put(ctx context.Context, transfers []Transfer) (map[string]error, error) {
	if err := s.guard(ctx, CapPut, len(transfers)); err != nil {
		return nil, err
	}
	failures, err := s.proto.Put(ctx, transfers)
	s.observe(err)
	return failures, err
}

func (s *Session) Delete(ctx context.Context, pfns []string) (map[string]error, error) {
	if err := s.guard(ctx, CapDelete, len(pfns)); err != nil {
		return nil, err
	}
	failures, err := s.proto.Delete(ctx, pfns)
	s.observe(err)
	return failures, err
}

func (s *Session) Exists(ctx context.Context, pfns []string) (map[string]error, error) {
	if err := s.guard(ctx, CapExists, len(pfns)); err != nil {
		return nil, err
	}
	failures, err := s.proto.Exists(ctx, pfns)
	s.observe(err)
	return failures, err
}

func (s *Session) Rename(ctx context.Context, renames map[string]string) (map[string]error, error) {
	if err := s.guard(ctx, CapRename, len(renames)); err != nil {
		return nil, err
	}
	failures, err := s.proto.Rename(ctx, renames)
	s.observe(err)
	return failures, err
}
