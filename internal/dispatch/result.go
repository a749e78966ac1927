package dispatch

import (
	"fmt"
	"time"
)

// Outcome tags a Result variant.
type Outcome uint8

const (
	// OutcomeSuccess carries a decoded payload.
	OutcomeSuccess Outcome = iota + 1
	// OutcomeWarning carries a decoded payload that looked suspicious.
	OutcomeWarning
	// OutcomeError carries no payload; the frame could not be handled.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeWarning:
		return "warning"
	case OutcomeError:
		return "error"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// Result is the outcome of processing one frame: Success, Warning or Error. The zero value is not a
// valid result; build one with Success, Warning or Failure.
type Result[T any] struct {
	outcome       Outcome
	correlationID string
	data          T
	message       string
	cause         error
	processedAt   time.Time
}

// Success wraps a decoded payload.
func Success[T any](mctx MessageContext, data T) Result[T] {
	return Result[T]{
		outcome:       OutcomeSuccess,
		correlationID: mctx.CorrelationID(),
		data:          data,
		processedAt:   time.Now(),
	}
}

// Warning wraps a decoded payload together with a note about it.
func Warning[T any](mctx MessageContext, data T, message string) Result[T] {
	return Result[T]{
		outcome:       OutcomeWarning,
		correlationID: mctx.CorrelationID(),
		data:          data,
		message:       message,
		processedAt:   time.Now(),
	}
}

// Failure reports a frame that could not be processed.
func Failure[T any](mctx MessageContext, message string, cause error) Result[T] {
	return Result[T]{
		outcome:       OutcomeError,
		correlationID: mctx.CorrelationID(),
		message:       message,
		cause:         cause,
		processedAt:   time.Now(),
	}
}

func (r Result[T]) Outcome() Outcome { return r.outcome }
func (r Result[T]) IsSuccess() bool { return r.outcome == OutcomeSuccess }
func (r Result[T]) IsWarning() bool { return r.outcome == OutcomeWarning }
func (r Result[T]) IsError() bool { return r.outcome == OutcomeError }
func (r Result[T]) CorrelationID() string { return r.correlationID }
func (r Result[T]) Message() string { return r.message }
func (r Result[T]) Cause() error { return r.cause }
func (r Result[T]) ProcessedAt() time.Time { return r.processedAt }

// Data returns the payload; ok is false for Error results.
func (r Result[T]) Data() (data T, ok bool) {
	if r.outcome == OutcomeError {
		var zero T
		return zero, false
	}
	return r.data, true
}

// Err returns the failure as an error, or nil for Success and Warning results.
func (r Result[T]) Err() error {
	if r.outcome != OutcomeError {
		return nil
	}
	if r.cause != nil {
		return fmt.Errorf("%s: %w", r.message, r.cause)
	}
	return fmt.Errorf("%s", r.message)
}
