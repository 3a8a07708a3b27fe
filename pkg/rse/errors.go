package rse

import "errors"

// ============================================================================
// Standard Transfer Errors
// ============================================================================

// Every plugin and the manager report failures by wrapping one of these
// sentinels, so callers discriminate outcomes with errors.Is:
//
//	res, err := mgr.Download(ctx, "MOCK", files, dest, rse.DomainWAN)
//	if errors.Is(err, rse.ErrServiceUnavailable) {
//	    // retry the whole call later
//	}
//
// Error Wrapping:
//
//	return fmt.Errorf("pfn %s: %w", pfn, rse.ErrSourceNotFound)

var (
	// ErrSourceNotFound indicates the source object does not exist at the
	// resolved physical location.
	//
	// Content-level: recorded per item for bulk calls, returned directly
	// for single-item calls.
	ErrSourceNotFound = errors.New("source not found")

	// ErrFileReplicaAlreadyExists indicates the target of a put or rename is
	// already occupied. Overwrite is never performed.
	//
	// Content-level.
	ErrFileReplicaAlreadyExists = errors.New("file replica already exists")

	// ErrServiceUnavailable indicates the transport could not be established
	// or failed mid-call after connect retries were exhausted.
	//
	// Connection-level: triggers fallback to the next protocol candidate.
	// This is the only retryable kind.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrUnsupportedOperation indicates the selected protocol does not
	// implement the requested primitive.
	//
	// Hard error: surfaced for the whole call, never per item.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrRSENotFound indicates the storage element tag has no registered
	// configuration.
	ErrRSENotFound = errors.New("rse not found")

	// ErrRSEProtocolNotSupported indicates the storage element offers no
	// protocol for the requested domain and operation, or names a scheme
	// with no registered plugin.
	ErrRSEProtocolNotSupported = errors.New("rse protocol not supported")

	// ErrInvalidDescriptor indicates a malformed file descriptor: empty name,
	// unparsable PFN, a key repeated within one batch, or a rename without
	// a target.
	ErrInvalidDescriptor = errors.New("invalid file descriptor")

	// ErrAccessDenied indicates the backend refused the operation for
	// permission reasons.
	//
	// Content-level.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidConfiguration indicates a protocol spec the plugin cannot
	// be built or connected with (bad attribute, missing bucket).
	//
	// Hard error: surfaced for the whole call, never triggers fallback.
	ErrInvalidConfiguration = errors.New("invalid protocol configuration")

	// ErrRenameIncomplete indicates a rename that published the destination
	// but could not remove the source. The destination is rolled back, so
	// the source is the one surviving copy.
	//
	// Content-level: a fallback would find the destination occupied.
	ErrRenameIncomplete = errors.New("rename incomplete")
)

// IsRetryable reports whether err is a connection-level failure that a later
// attempt, or another protocol, may overcome.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}
