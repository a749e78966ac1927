package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/feedlink/internal/connection"
	"github.com/coachpo/feedlink/internal/dispatch"
	"github.com/coachpo/feedlink/internal/resilience"
)

const (
	metricConnectionTransitions = "feedlink.connection.transitions"
	metricReconnects            = "feedlink.connection.reconnects"
	metricBreakerTransitions    = "feedlink.breaker.transitions"
	metricDispatchFrames        = "feedlink.dispatch.frames"
	metricDispatchDuration      = "feedlink.dispatch.duration"
	metricDialDuration          = "feedlink.connection.dial.duration"
	meterName                   = "github.com/coachpo/feedlink"
)

// ConnectionMetrics records connection lifecycle, circuit breaker and dispatch signals.
type ConnectionMetrics struct {
	environment string

	transitions        metric.Int64Counter
	reconnects         metric.Int64Counter
	breakerTransitions metric.Int64Counter
	frames             metric.Int64Counter
	dispatchDuration   metric.Float64Histogram
	dialDuration       metric.Float64Histogram
}

// NewConnectionMetrics creates the instruments on the supplied meter.
func NewConnectionMetrics(meter metric.Meter, environment string) (*ConnectionMetrics, error) {
	m := &ConnectionMetrics{environment: environment}
	var err error
	if m.transitions, err = meter.Int64Counter(metricConnectionTransitions,
		metric.WithDescription("Connection state transitions by resulting state"),
		metric.WithUnit("{transition}")); err != nil {
		return nil, fmt.Errorf("create %s: %w", metricConnectionTransitions, err)
	}
	if m.reconnects, err = meter.Int64Counter(metricReconnects,
		metric.WithDescription("Scheduled reconnection attempts"),
		metric.WithUnit("{attempt}")); err != nil {
		return nil, fmt.Errorf("create %s: %w", metricReconnects, err)
	}
	if m.breakerTransitions, err = meter.Int64Counter(metricBreakerTransitions,
		metric.WithDescription("Circuit breaker state changes by resulting state"),
		metric.WithUnit("{transition}")); err != nil {
		return nil, fmt.Errorf("create %s: %w", metricBreakerTransitions, err)
	}
	if m.frames, err = meter.Int64Counter(metricDispatchFrames,
		metric.WithDescription("Inbound frames by processor and outcome"),
		metric.WithUnit("{frame}")); err != nil {
		return nil, fmt.Errorf("create %s: %w", metricDispatchFrames, err)
	}
	if m.dispatchDuration, err = meter.Float64Histogram(metricDispatchDuration,
		metric.WithDescription("Time spent dispatching one frame"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("create %s: %w", metricDispatchDuration, err)
	}
	if m.dialDuration, err = meter.Float64Histogram(metricDialDuration,
		metric.WithDescription("WebSocket dial latency"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("create %s: %w", metricDialDuration, err)
	}
	return m, nil
}

// NewConnectionMetricsFromProvider creates connection metrics on the provider's meter.
func NewConnectionMetricsFromProvider(p *Provider) (*ConnectionMetrics, error) {
	return NewConnectionMetrics(p.Meter(meterName), p.Environment())
}

// Observe is a connection.TransitionObserver.
func (m *ConnectionMetrics) Observe(_ connection.Result, next connection.Result) {
	if m == nil {
		return
	}
	attrs := append(ConnectionAttributes(m.environment, next.Exchange), AttrConnectionState.String(next.Status.String()))
	m.transitions.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// BreakerHook returns a resilience.WithStateChange hook labelled with the exchange.
func (m *ConnectionMetrics) BreakerHook(exchange string) func(from, to resilience.BreakerState) {
	return func(_, to resilience.BreakerState) {
		if m == nil {
			return
		}
		attrs := append(ConnectionAttributes(m.environment, exchange), AttrBreakerState.String(to.String()))
		m.breakerTransitions.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	}
}

// RecordFrame implements dispatch.Recorder.
func (m *ConnectionMetrics) RecordFrame(exchange, processor string, outcome dispatch.Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	if processor == "" {
		processor = "none"
	}
	opt := metric.WithAttributes(FrameAttributes(m.environment, exchange, processor, outcome.String())...)
	m.frames.Add(context.Background(), 1, opt)
	m.dispatchDuration.Record(context.Background(), durationMillis(elapsed), opt)
}

// RecordDial records one dial attempt and its latency.
func (m *ConnectionMetrics) RecordDial(exchange string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if !success {
		result = ResultError
	}
	attrs := append(ConnectionAttributes(m.environment, exchange), AttrResult.String(result))
	m.dialDuration.Record(context.Background(), durationMillis(elapsed), metric.WithAttributes(attrs...))
}

// RecordReconnect counts a scheduled reconnection attempt.
func (m *ConnectionMetrics) RecordReconnect(exchange string, attempt int, _ time.Duration) {
	if m == nil {
		return
	}
	attrs := append(ConnectionAttributes(m.environment, exchange), attribute.String("attempt", strconv.Itoa(attempt)))
	m.reconnects.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
