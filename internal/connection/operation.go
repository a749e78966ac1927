package connection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// OperationKind distinguishes connect from disconnect operations.
type OperationKind uint8

const (
	// OperationConnect resolves when the socket opens or the attempt fails.
	OperationConnect OperationKind = iota + 1
	// OperationDisconnect resolves when the transport confirms closure.
	OperationDisconnect
)

func (k OperationKind) String() string {
	switch k {
	case OperationConnect:
		return "connect"
	case OperationDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("OperationKind(%d)", uint8(k))
	}
}

// Operation is the handle of an outstanding connect or disconnect. It resolves exactly once with the
// terminal Result of the attempt; callers observe it through Done, Wait, or Outcome.
//
// Its Context is cancelled as soon as the operation resolves or is cancelled, so the transport can
// bound a socket open by it.
type Operation struct {
	kind   OperationKind
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	cancelled atomic.Bool
	result    Result
	err       error
}

func newOperation(kind OperationKind) *Operation {
	ctx, cancel := context.WithCancel(context.Background())
	return &Operation{
		kind:   kind,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func resolvedOperation(kind OperationKind, result Result, err error) *Operation {
	op := newOperation(kind)
	op.complete(result, err)
	return op
}

// Kind reports whether this is a connect or disconnect operation.
func (o *Operation) Kind() OperationKind { return o.kind }

// Done is closed once the operation resolves.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Context is cancelled when the operation resolves or is cancelled.
func (o *Operation) Context() context.Context { return o.ctx }

// Cancelled reports whether the operation was resolved by cancellation.
func (o *Operation) Cancelled() bool { return o.cancelled.Load() }

// IsDone reports whether the operation has resolved without blocking.
func (o *Operation) IsDone() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// Outcome returns the resolved value without blocking; ok is false while pending.
func (o *Operation) Outcome() (result Result, err error, ok bool) {
	if !o.IsDone() {
		return Result{}, nil, false
	}
	return o.result, o.err, true
}

// Wait blocks until the operation resolves or ctx ends.
func (o *Operation) Wait(ctx context.Context) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-o.done:
		return o.result, o.err
	case <-ctx.Done():
		return Result{}, fmt.Errorf("wait for %s operation: %w", o.kind, ctx.Err())
	}
}

func (o *Operation) complete(result Result, err error) bool {
	completed := false
	o.once.Do(func() {
		o.result = result
		o.err = err
		completed = true
		close(o.done)
		o.cancel()
	})
	return completed
}

func (o *Operation) cancelWith(result Result, err error) bool {
	o.cancelled.Store(true)
	if o.complete(result, err) {
		return true
	}
	o.cancelled.Store(false)
	return false
}
