// Package transport drives websocket connections for one exchange and feeds their frames through the
// dispatcher.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/coachpo/feedlink/errs"
	"github.com/coachpo/feedlink/internal/adapters"
	"github.com/coachpo/feedlink/internal/connection"
	"github.com/coachpo/feedlink/internal/dispatch"
	"github.com/coachpo/feedlink/internal/observability"
	"github.com/coachpo/feedlink/internal/resilience"
	"github.com/coachpo/feedlink/internal/schema"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultPingTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 2 * 1024 * 1024
	defaultControlRate  = 4

	clientCloseReason = "client disconnect"
	headerSymbol      = "symbol"
)

var errSuperseded = errors.New("connection superseded")

// Config tunes socket behaviour and the reconnect loop.
type Config struct {
	DialTimeout   time.Duration
	PingInterval  time.Duration
	PingTimeout   time.Duration
	WriteTimeout  time.Duration
	ReadLimit     int64
	ControlRate   float64 // control messages per second
	AutoReconnect bool
	MaxAttempts   int // 0 means unlimited
}

// DefaultConfig returns the transport defaults with auto-reconnect enabled.
func DefaultConfig() Config {
	return Config{
		DialTimeout:   defaultDialTimeout,
		PingInterval:  defaultPingInterval,
		PingTimeout:   defaultPingTimeout,
		WriteTimeout:  defaultWriteTimeout,
		ReadLimit:     defaultReadLimit,
		ControlRate:   defaultControlRate,
		AutoReconnect: true,
	}
}

func (c Config) normalise() Config {
	def := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = def.PingTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = def.ReadLimit
	}
	if c.ControlRate <= 0 {
		c.ControlRate = def.ControlRate
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}
	return c
}

// Sink receives every dispatched frame.
type Sink func(ctx context.Context, exchange string, result dispatch.Result[schema.Response])

// Recorder observes dial attempts and scheduled reconnects.
type Recorder interface {
	RecordDial(exchange string, success bool, elapsed time.Duration)
	RecordReconnect(exchange string, attempt int, delay time.Duration)
}

// Option configures a Session.
type Option func(*Session)

// WithSink installs the consumer of dispatched frames.
func WithSink(sink Sink) Option {
	return func(s *Session) { s.sink = sink }
}

// WithStrategy replaces the default reconnection strategy.
func WithStrategy(strategy *resilience.ReconnectionStrategy) Option {
	return func(s *Session) {
		if strategy != nil {
			s.strategy = strategy
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(breaker *resilience.CircuitBreaker) Option {
	return func(s *Session) {
		if breaker != nil {
			s.breaker = breaker
		}
	}
}

// WithRecorder installs dial and reconnect metrics.
func WithRecorder(recorder Recorder) Option {
	return func(s *Session) { s.recorder = recorder }
}

// WithFrameRecorder installs per-frame dispatch metrics.
func WithFrameRecorder(recorder dispatch.Recorder) Option {
	return func(s *Session) { s.frameRecorder = recorder }
}

// Session owns the websocket of one exchange. The connection manager holds the authoritative state;
// the session performs the I/O and reports every socket event back to it.
type Session struct {
	exchange      adapters.Exchange
	manager       *connection.Manager
	cfg           Config
	strategy      *resilience.ReconnectionStrategy
	breaker       *resilience.CircuitBreaker
	dispatcher    *dispatch.Dispatcher
	sink          Sink
	recorder      Recorder
	frameRecorder dispatch.Recorder

	// mu serializes loop start and stop.
	mu       sync.Mutex
	loopStop context.CancelFunc
	loopDone chan struct{}

	// opMu guards ownership of manager callbacks. Only the loop driving owner may report events.
	opMu  sync.Mutex
	owner *connection.Operation
}

// NewSession binds an exchange adapter to its connection manager.
func NewSession(exchange adapters.Exchange, manager *connection.Manager, cfg Config, opts ...Option) *Session {
	s := &Session{
		exchange: exchange,
		manager:  manager,
		cfg:      cfg.normalise(),
		strategy: resilience.NewReconnectionStrategy(resilience.DefaultBackoffConfig()),
		breaker:  resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig()),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	var dispatchOpts []dispatch.Option
	if s.frameRecorder != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithRecorder(s.frameRecorder))
	}
	s.dispatcher = dispatch.NewDispatcher(exchange.Processors(), dispatchOpts...)
	return s
}

// Exchange returns the adapter name.
func (s *Session) Exchange() string { return s.exchange.Name }

// Manager exposes the state machine driven by the session.
func (s *Session) Manager() *connection.Manager { return s.manager }

// Breaker exposes the session circuit breaker.
func (s *Session) Breaker() *resilience.CircuitBreaker { return s.breaker }

// Connect starts or joins a connection for the given parameters. Invalid parameters are rejected before
// the state machine moves.
func (s *Session) Connect(params schema.ConnectionParams) (*connection.Operation, error) {
	target, err := s.exchange.URLs.BuildConnectionURL(params)
	if err != nil {
		return nil, err
	}
	subscriptions, err := s.exchange.Subscriptions(params)
	if err != nil {
		return nil, err
	}
	pairs, err := params.ResolvePairs(s.exchange.Name)
	if err != nil {
		return nil, err
	}
	symbol := ""
	if len(pairs) == 1 {
		symbol = s.exchange.Symbol(pairs[0])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.opMu.Lock()
	op, err := s.manager.StartConnection()
	if err != nil {
		s.opMu.Unlock()
		return nil, err
	}
	if op.IsDone() || op == s.owner {
		s.opMu.Unlock()
		return op, nil
	}
	s.owner = op
	s.opMu.Unlock()

	_ = s.stopLoopLocked(context.Background())
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.loopStop, s.loopDone = cancel, done
	go s.run(runCtx, done, op, dialPlan{url: target, subscriptions: subscriptions, symbol: symbol})

	observability.Log().Info("connection requested",
		observability.F("exchange", s.exchange.Name),
		observability.F("url", target),
		observability.F("subscriptions", len(subscriptions)),
	)
	return op, nil
}

// Disconnect starts or joins a disconnection and stops the reconnect loop. It returns once the loop has
// exited or ctx expires.
func (s *Session) Disconnect(ctx context.Context) (*connection.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opMu.Lock()
	op, err := s.manager.StartDisconnection()
	if err == nil && op.IsDone() {
		// Nothing left for the loop to report; it must not start another attempt.
		s.owner = nil
	}
	s.opMu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := s.stopLoopLocked(ctx); err != nil {
		return op, err
	}
	return op, nil
}

// Close stops the session whatever its state and waits for the socket to be released.
func (s *Session) Close(ctx context.Context) error {
	op, err := s.Disconnect(ctx)
	if err != nil && !errs.IsCode(err, errs.CodeConflict) {
		return err
	}
	if op == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.stopLoopLocked(ctx)
	}
	if _, err := op.Wait(ctx); err != nil && ctx.Err() != nil {
		return err
	}
	return nil
}

func (s *Session) stopLoopLocked(ctx context.Context) error {
	if s.loopStop == nil {
		return nil
	}
	s.loopStop()
	done := s.loopDone
	select {
	case <-done:
		s.loopStop, s.loopDone = nil, nil
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop %s session: %w", s.exchange.Name, ctx.Err())
	}
}

// report runs a manager callback only while op still owns the session.
func (s *Session) report(op *connection.Operation, fn func() bool) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.owner != op {
		return false
	}
	return fn()
}

type dialPlan struct {
	url           string
	subscriptions [][]byte
	symbol        string
}

func (s *Session) run(ctx context.Context, done chan struct{}, op *connection.Operation, plan dialPlan) {
	defer close(done)
	for {
		err := s.attempt(ctx, op, plan)
		if ctx.Err() != nil || errors.Is(err, errSuperseded) {
			return
		}
		if !s.cfg.AutoReconnect {
			return
		}
		next, ok := s.awaitRetry(ctx, op, err)
		if !ok {
			return
		}
		op = next
	}
}

func (s *Session) attempt(ctx context.Context, op *connection.Operation, plan dialPlan) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	stop := context.AfterFunc(op.Context(), cancel)
	started := time.Now()
	conn, _, err := websocket.Dial(dialCtx, plan.url, nil)
	stop()
	cancel()
	if s.recorder != nil {
		s.recorder.RecordDial(s.exchange.Name, err == nil, time.Since(started))
	}
	if err != nil {
		s.fail(op, "dial failed", err)
		return fmt.Errorf("dial %s: %w", s.exchange.Name, err)
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	if !s.report(op, func() bool { return s.manager.OnConnected(map[string]any{"url": plan.url}) }) {
		_ = conn.Close(websocket.StatusNormalClosure, "connection superseded")
		return errSuperseded
	}
	s.breaker.RecordSuccess()
	s.strategy.Reset()
	connectionID := s.manager.ConnectionResult().ConnectionID
	observability.Log().Info("connection established",
		observability.F("exchange", s.exchange.Name),
		observability.F("connection_id", connectionID),
	)

	return s.serve(ctx, conn, op, plan, connectionID)
}

func (s *Session) serve(ctx context.Context, conn *websocket.Conn, op *connection.Operation, plan dialPlan, connectionID string) error {
	limiter := rate.NewLimiter(rate.Limit(s.cfg.ControlRate), 1)
	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	errCh := make(chan error, 3)
	var wg conc.WaitGroup
	wg.Go(func() {
		if err := s.sendControl(connCtx, conn, limiter, plan.subscriptions); err != nil {
			errCh <- err
		}
	})
	wg.Go(func() { errCh <- s.readLoop(connCtx, conn, connectionID, plan.symbol) })
	wg.Go(func() { errCh <- s.pingLoop(connCtx, conn, limiter) })

	cause := <-errCh
	connCancel()

	if ctx.Err() != nil {
		s.report(op, func() bool { return s.manager.OnClosing(int(websocket.StatusNormalClosure), clientCloseReason) })
		closeErr := conn.Close(websocket.StatusNormalClosure, clientCloseReason)
		wg.Wait()
		s.report(op, func() bool { return s.manager.OnClosed(int(websocket.StatusNormalClosure), clientCloseReason) })
		if closeErr != nil {
			observability.Log().Debug("close handshake incomplete",
				observability.F("exchange", s.exchange.Name),
				observability.F("error", closeErr.Error()),
			)
		}
		return ctx.Err()
	}

	_ = conn.CloseNow()
	wg.Wait()
	reason := "connection lost"
	if code := websocket.CloseStatus(cause); code != -1 {
		reason = "connection closed by remote"
		var closeErr websocket.CloseError
		text := ""
		if errors.As(cause, &closeErr) {
			text = closeErr.Reason
		}
		s.report(op, func() bool { return s.manager.OnClosing(int(code), text) })
	}
	s.fail(op, reason, cause)
	return cause
}

func (s *Session) sendControl(ctx context.Context, conn *websocket.Conn, limiter *rate.Limiter, frames [][]byte) error {
	for _, frame := range frames {
		if err := limiter.Wait(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("control limiter: %w", err)
		}
		writeCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
		err := conn.Write(writeCtx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("control write: %w", err)
		}
	}
	return nil
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn, connectionID, symbol string) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if s.exchange.IsControl(data) {
			continue
		}
		mctx := dispatch.NewMessageContext(s.exchange.Name, connectionID, time.Now())
		if symbol != "" {
			mctx = mctx.WithHeader(headerSymbol, symbol)
		}
		result := s.dispatcher.Dispatch(data, mctx)
		if s.sink != nil {
			s.sink(ctx, s.exchange.Name, result)
		}
	}
}

func (s *Session) pingLoop(ctx context.Context, conn *websocket.Conn, limiter *rate.Limiter) error {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("ping limiter: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, s.cfg.PingTimeout)
		err := conn.Ping(pingCtx)
		cancel()
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) || websocket.CloseStatus(err) != -1 {
			return fmt.Errorf("ping: connection closed: %w", err)
		}
		return fmt.Errorf("ping: %w", err)
	}
}

func (s *Session) fail(op *connection.Operation, reason string, cause error) {
	if !s.report(op, func() bool { return s.manager.OnFailure(reason, cause) }) {
		return
	}
	s.breaker.RecordFailure()
	observability.Log().Warn("connection failed",
		observability.F("exchange", s.exchange.Name),
		observability.F("reason", reason),
		observability.F("error", errString(cause)),
		observability.F("breaker", s.breaker.State().String()),
	)
}

// awaitRetry parks the session in ERROR while the breaker is open, then enters RECONNECTING, sleeps the
// backoff delay and moves to CONNECTING. It returns the new attempt's operation.
func (s *Session) awaitRetry(ctx context.Context, op *connection.Operation, cause error) (*connection.Operation, bool) {
	for {
		if s.cfg.MaxAttempts > 0 && s.strategy.Attempts() >= s.cfg.MaxAttempts {
			observability.Log().Error("reconnect attempts exhausted", observability.F("exchange", s.exchange.Name),
				observability.F("error", errs.New(s.exchange.Name, errs.CodeNetwork,
					errs.WithCanonicalCode(errs.CanonicalRetriesExhausted),
					errs.WithCause(cause),
				).Error()),
			)
			return nil, false
		}
		if !s.breaker.Allow() {
			wait := s.breaker.RemainingCooldown()
			if wait <= 0 {
				wait = 10 * time.Millisecond
			}
			observability.Log().Warn("reconnect suspended", observability.F("exchange", s.exchange.Name),
				observability.F("canonical", string(errs.CanonicalCircuitOpen)),
				observability.F("cooldown", wait.String()),
			)
			if !sleep(ctx, wait) {
				return nil, false
			}
			continue
		}

		var next *connection.Operation
		s.opMu.Lock()
		if s.owner == op && ctx.Err() == nil {
			if started, ok := s.manager.BeginReconnect(errString(cause)); ok {
				next = started
				s.owner = next
			}
		}
		s.opMu.Unlock()
		if next == nil {
			return nil, false
		}

		delay := s.strategy.NextDelay()
		attempt := s.strategy.Attempts()
		if s.recorder != nil {
			s.recorder.RecordReconnect(s.exchange.Name, attempt, delay)
		}
		observability.Log().Info("reconnect scheduled",
			observability.F("exchange", s.exchange.Name),
			observability.F("attempt", attempt),
			observability.F("delay", delay.String()),
		)
		if !sleep(ctx, delay) {
			return nil, false
		}
		if !s.report(next, func() bool { return s.manager.BeginAttempt(attempt) }) {
			return nil, false
		}
		return next, true
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
