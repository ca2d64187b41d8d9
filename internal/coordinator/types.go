package coordinator

import (
	"time"

	"github.com/example/sendcoord/internal/registry"
)

// Status and StatusKind are re-exported from the registry package so callers
// of the coordinator never need to import internal/registry directly.
type Status = registry.Status
type StatusKind = registry.StatusKind

const (
	StatusPending  = registry.Pending
	StatusRetrying = registry.Retrying
	StatusQueued   = registry.Queued
	StatusSent     = registry.Sent
	StatusFailed   = registry.Failed
)

// Message is the abstract input the coordinator accepts: a destination,
// origin, subject and body, plus an optional caller-supplied idempotency
// tag. Messages are immutable once submitted.
type Message struct {
	Destination string
	Origin      string
	Subject     string
	Body        string

	// IdempotencyTag, when not blank, becomes the message's fingerprint
	// verbatim instead of a content hash.
	IdempotencyTag string
}

// AttemptRecord describes a single transport attempt made while resolving a
// submission.
type AttemptRecord struct {
	Transport string
	Ordinal   int // 1-based within the transport
	Outcome   AttemptOutcome
	Timestamp time.Time
}

// AttemptOutcome enumerates the possible results of a single attempt.
type AttemptOutcome string

const (
	OutcomeSuccess          AttemptOutcome = "success"
	OutcomeTransientFailure AttemptOutcome = "transient_failure"
	OutcomeBreakerOpen      AttemptOutcome = "breaker_open"
)

// SuccessResult is returned on a successful submission and cached against
// the fingerprint for the engine's lifetime.
type SuccessResult struct {
	Fingerprint   string
	DeliveryID    string
	Transport     string
	CompletedAt   time.Time
	TotalAttempts int
}

// QueuedResult is returned when a submission was deferred by the rate
// limiter.
type QueuedResult struct {
	Fingerprint string
}

// FailureResult is returned when every configured transport exhausted its
// retry budget without success.
type FailureResult struct {
	Fingerprint string
	LastError   string
}

// Result is the union Submit returns: exactly one of SuccessResult,
// QueuedResult or FailureResult is non-nil. Attempts records the full
// per-transport attempt history for a dispatched submission (nil for a
// cache-hit or a Queued result, neither of which attempted delivery).
type Result struct {
	Success  *SuccessResult
	Queued   *QueuedResult
	Failure  *FailureResult
	Attempts []AttemptRecord
}
