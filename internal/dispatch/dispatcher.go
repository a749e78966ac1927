package dispatch

import (
	"fmt"
	"time"

	"github.com/coachpo/feedlink/internal/observability"
	"github.com/coachpo/feedlink/internal/schema"
)

// Processor decodes one family of frames. CanProcess must be cheap and side-effect free.
type Processor interface {
	Name() string
	CanProcess(raw []byte) bool
	Process(raw []byte, mctx MessageContext) Result[schema.Response]
}

// Recorder observes dispatch outcomes.
type Recorder interface {
	RecordFrame(exchange, processor string, outcome Outcome, elapsed time.Duration)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder attaches a metrics recorder.
func WithRecorder(recorder Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = recorder
	}
}

const unmatchedProcessor = "none"

// Dispatcher selects the first processor whose CanProcess accepts a frame. It never panics and never
// returns an error: unknown or malformed frames become Error results.
type Dispatcher struct {
	processors []Processor
	recorder   Recorder
}

// NewDispatcher copies the processor list; registration order is match order.
func NewDispatcher(processors []Processor, opts ...Option) *Dispatcher {
	list := make([]Processor, 0, len(processors))
	for _, p := range processors {
		if p != nil {
			list = append(list, p)
		}
	}
	d := &Dispatcher{processors: list}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Processors returns the registered processor names in match order.
func (d *Dispatcher) Processors() []string {
	names := make([]string, len(d.processors))
	for i, p := range d.processors {
		names[i] = p.Name()
	}
	return names
}

// Dispatch processes a single frame.
func (d *Dispatcher) Dispatch(raw []byte, mctx MessageContext) Result[schema.Response] {
	start := time.Now()
	name, result := d.dispatch(raw, mctx)
	if d.recorder != nil {
		d.recorder.RecordFrame(mctx.Exchange(), name, result.Outcome(), time.Since(start))
	}
	if result.IsError() {
		observability.Log().Debug("frame not processed",
			observability.F("exchange", mctx.Exchange()),
			observability.F("processor", name),
			observability.F("correlation_id", mctx.CorrelationID()),
			observability.F("reason", result.Message()),
		)
	}
	return result
}

func (d *Dispatcher) dispatch(raw []byte, mctx MessageContext) (string, Result[schema.Response]) {
	for _, p := range d.processors {
		if !safeCanProcess(p, raw) {
			continue
		}
		return p.Name(), safeProcess(p, raw, mctx)
	}
	return unmatchedProcessor, Failure[schema.Response](mctx, "no processor found", nil)
}

func safeCanProcess(p Processor, raw []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return p.CanProcess(raw)
}

func safeProcess(p Processor, raw []byte, mctx MessageContext) (result Result[schema.Response]) {
	defer func() {
		if r := recover(); r != nil {
			result = Failure[schema.Response](mctx,
				fmt.Sprintf("processor %s failed", p.Name()),
				fmt.Errorf("panic: %v", r))
		}
	}()
	return p.Process(raw, mctx)
}
