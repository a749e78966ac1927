package connection

import (
	"time"
)

// Metadata keys recorded by the manager.
const (
	MetaCloseCode   = "close_code"
	MetaCloseReason = "close_reason"
	MetaFailure     = "failure"
	MetaCause       = "cause"
	MetaCancelled   = "cancelled"
	MetaAttempt     = "attempt"
)

// Result is an immutable snapshot of a connection's state. Transitions produce new values; the
// metadata map is never shared between snapshots.
type Result struct {
	Status       Status
	Message      string
	Timestamp    time.Time
	Exchange     string
	ConnectionID string
	StartedAt    time.Time

	metadata map[string]any
	endedAt  time.Time
}

// NewResult returns the IDLE snapshot for an exchange.
func NewResult(exchange string, now time.Time) Result {
	return Result{
		Status:    StatusIdle,
		Message:   "Not connected",
		Timestamp: now,
		Exchange:  exchange,
	}
}

// fresh starts a new history, discarding any previous connection id and metadata.
func fresh(exchange string, status Status, message string, now time.Time) Result {
	return Result{
		Status:    status,
		Message:   message,
		Timestamp: now,
		Exchange:  exchange,
	}
}

// IsConnected reports whether the socket is established.
func (r Result) IsConnected() bool { return r.Status == StatusConnected }

// IsInProgress reports whether a connect attempt is underway.
func (r Result) IsInProgress() bool { return r.Status.InProgress() }

// IsFailed reports whether the last attempt failed.
func (r Result) IsFailed() bool { return r.Status == StatusError }

// IsSuccess reports a settled, non-failed outcome.
func (r Result) IsSuccess() bool {
	switch r.Status {
	case StatusConnected, StatusDisconnected, StatusClosed:
		return true
	default:
		return false
	}
}

// ConnectionDuration returns how long the connection has been (or was) established.
func (r Result) ConnectionDuration(now time.Time) time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	end := now
	if r.Status != StatusConnected && !r.endedAt.IsZero() {
		end = r.endedAt
	}
	if end.Before(r.StartedAt) {
		return 0
	}
	return end.Sub(r.StartedAt)
}

// Metadata returns a copy of the snapshot metadata.
func (r Result) Metadata() map[string]any {
	out := make(map[string]any, len(r.metadata))
	for k, v := range r.metadata {
		out[k] = v
	}
	return out
}

// MetadataValue looks up a single metadata entry.
func (r Result) MetadataValue(key string) (any, bool) {
	v, ok := r.metadata[key]
	return v, ok
}

func (r Result) transition(status Status, message string, now time.Time) Result {
	next := r
	next.metadata = r.Metadata()
	if r.Status == StatusConnected && status != StatusConnected {
		next.endedAt = now
	}
	if status != StatusConnected {
		next.ConnectionID = ""
	}
	next.Status = status
	next.Message = message
	next.Timestamp = now
	return next
}

func (r Result) connected(id string, message string, now time.Time, meta map[string]any) Result {
	next := r.transition(StatusConnected, message, now)
	next.ConnectionID = id
	next.StartedAt = now
	next.endedAt = time.Time{}
	for k, v := range meta {
		next.metadata[k] = v
	}
	return next
}

func (r Result) with(key string, value any) Result {
	next := r
	next.metadata = r.Metadata()
	next.metadata[key] = value
	return next
}

func (r Result) annotate(message string) Result {
	next := r
	next.metadata = r.Metadata()
	next.Message = message
	return next
}
