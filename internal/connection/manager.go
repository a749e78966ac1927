package connection

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coachpo/feedlink/errs"
)

// TransitionObserver is notified after every state transition. Observers run while the manager lock
// is held and must not call back into the Manager.
type TransitionObserver func(previous, next Result)

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithIDGenerator overrides how connection ids are minted.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// WithObserver registers a transition observer.
func WithObserver(observer TransitionObserver) Option {
	return func(m *Manager) {
		if observer != nil {
			m.observers = append(m.observers, observer)
		}
	}
}

// Manager coordinates the connection lifecycle of a single exchange. It owns the current Result and
// at most one pending Operation; both are replaced together under one lock.
type Manager struct {
	exchange  string
	clock     func() time.Time
	newID     func() string
	observers []TransitionObserver

	mu      sync.Mutex
	current Result
	pending *Operation
}

// NewManager creates an IDLE manager for the exchange.
func NewManager(exchange string, opts ...Option) *Manager {
	m := &Manager{
		exchange: strings.TrimSpace(exchange),
		clock:    time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.current = NewResult(m.exchange, m.clock())
	return m
}

// Exchange returns the exchange this manager serves.
func (m *Manager) Exchange() string { return m.exchange }

// ConnectionResult returns the current snapshot without blocking. Resolved operations are detached as
// they complete, so the snapshot always reflects the latest resolved value.
func (m *Manager) ConnectionResult() Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		if result, _, ok := m.pending.Outcome(); ok {
			return result
		}
	}
	return m.current
}

// StartConnection begins a connect attempt or joins the one already in flight.
//
// While CONNECTED it resolves immediately; while CONNECTING or RECONNECTING it returns the pending
// handle; from IDLE, ERROR, DISCONNECTED or CLOSED it starts a fresh history in CONNECTING. The caller
// (the transport) must eventually report OnConnected or OnFailure for the returned operation.
func (m *Manager) StartConnection() (*Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.current
	switch {
	case cur.Status == StatusConnected:
		return resolvedOperation(OperationConnect, cur.annotate("Already connected"), nil), nil
	case cur.Status.InProgress() && m.pendingActive():
		return m.pending, nil
	case cur.Status.Restartable() && !m.pendingActive():
		op := newOperation(OperationConnect)
		m.pending = op
		m.set(fresh(m.exchange, StatusConnecting, "Connecting", m.clock()))
		return op, nil
	default:
		return nil, errs.New(m.exchange, errs.CodeConflict,
			errs.WithMessage(fmt.Sprintf("cannot connect while %s", cur.Status)),
			errs.WithCanonicalCode(errs.CanonicalOperationInFlight),
			errs.WithRemediation("retry once the current operation settles"),
		)
	}
}

// StartDisconnection tears down the connection or cancels the attempt in flight.
//
// From IDLE or ERROR and from DISCONNECTED or CLOSED it resolves immediately. While CONNECTING or
// RECONNECTING no socket is open yet, so the pending connect is cancelled and the returned operation
// resolves with a cancelled result. While CONNECTED it returns a pending operation that resolves on
// OnClosed; a second call joins it. A close the manager did not request (CLOSING without a pending
// operation) is rejected.
func (m *Manager) StartDisconnection() (*Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.current
	switch cur.Status {
	case StatusIdle, StatusError:
		return resolvedOperation(OperationDisconnect, cur.annotate("No active connection"), nil), nil
	case StatusDisconnected, StatusClosed:
		return resolvedOperation(OperationDisconnect, cur.annotate("Already disconnected"), nil), nil
	case StatusConnecting, StatusReconnecting:
		next := cur.transition(StatusDisconnected, "Connection cancelled", m.clock()).with(MetaCancelled, true)
		if m.pendingActive() {
			m.pending.cancelWith(next, errs.New(m.exchange, errs.CodeCancelled,
				errs.WithMessage("connection attempt cancelled by disconnect")))
		}
		m.pending = nil
		m.set(next)
		return resolvedOperation(OperationDisconnect, next, nil), nil
	case StatusConnected:
		if m.pendingActive() && m.pending.Kind() == OperationDisconnect {
			return m.pending, nil
		}
		op := newOperation(OperationDisconnect)
		m.pending = op
		return op, nil
	case StatusClosing:
		if m.pendingActive() {
			return m.pending, nil
		}
		fallthrough
	default:
		return nil, errs.New(m.exchange, errs.CodeConflict,
			errs.WithMessage(fmt.Sprintf("cannot disconnect while %s", cur.Status)),
			errs.WithCanonicalCode(errs.CanonicalOperationInFlight),
		)
	}
}

// OnConnected records an established socket and resolves the pending connect. It returns false when
// the attempt is no longer wanted (for example it was cancelled), in which case the transport must
// close the socket it just opened.
func (m *Manager) OnConnected(meta map[string]any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current.Status.InProgress() {
		return false
	}
	next := m.current.connected(m.newID(), "Connected", m.clock(), meta)
	m.set(next)
	m.resolve(next, nil)
	return true
}

// OnClosing records the start of a close handshake. Pending operations stay unresolved.
func (m *Manager) OnClosing(code int, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.current.Status {
	case StatusConnected, StatusClosing:
	default:
		return false
	}
	next := m.current.transition(StatusClosing, closeMessage("Closing", code, reason), m.clock()).
		with(MetaCloseCode, code).
		with(MetaCloseReason, reason)
	m.set(next)
	return true
}

// OnClosed records a completed close and resolves the pending operation.
func (m *Manager) OnClosed(code int, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.current.Status {
	case StatusConnected, StatusClosing:
	default:
		return false
	}
	next := m.current.transition(StatusClosed, closeMessage("Connection closed", code, reason), m.clock()).
		with(MetaCloseCode, code).
		with(MetaCloseReason, reason)
	m.set(next)
	m.resolve(next, nil)
	return true
}

// OnFailure records a transport failure and resolves the pending operation with an error. Failures
// reported after the connection was already torn down are ignored.
func (m *Manager) OnFailure(reason string, cause error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.current.Status {
	case StatusConnecting, StatusReconnecting, StatusConnected, StatusClosing:
	default:
		return false
	}
	next := m.current.transition(StatusError, reason, m.clock()).with(MetaFailure, reason)
	if cause != nil {
		next = next.with(MetaCause, cause.Error())
	}
	m.set(next)
	m.resolve(next, errs.New(m.exchange, errs.CodeNetwork, errs.WithMessage(reason), errs.WithCause(cause)))
	return true
}

// BeginReconnect moves a lost (CONNECTED) or failed (ERROR) connection into RECONNECTING and opens a
// new pending connect operation. It refuses when another operation, such as a requested disconnect,
// is in flight.
func (m *Manager) BeginReconnect(reason string) (*Operation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.current.Status {
	case StatusConnected, StatusError:
	default:
		return nil, false
	}
	if m.pendingActive() {
		return nil, false
	}
	op := newOperation(OperationConnect)
	m.pending = op
	m.set(m.current.transition(StatusReconnecting, "Reconnecting: "+reason, m.clock()))
	return op, true
}

// BeginAttempt moves RECONNECTING into CONNECTING for the given attempt number. It returns false if
// the reconnect was cancelled meanwhile.
func (m *Manager) BeginAttempt(attempt int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Status != StatusReconnecting || !m.pendingActive() {
		return false
	}
	next := m.current.transition(StatusConnecting, fmt.Sprintf("Connecting (attempt %d)", attempt), m.clock()).
		with(MetaAttempt, attempt)
	m.set(next)
	return true
}

func (m *Manager) pendingActive() bool {
	return m.pending != nil && !m.pending.IsDone()
}

func (m *Manager) resolve(result Result, err error) {
	if m.pending == nil {
		return
	}
	m.pending.complete(result, err)
	m.pending = nil
}

func (m *Manager) set(next Result) {
	previous := m.current
	m.current = next
	for _, observer := range m.observers {
		observer(previous, next)
	}
}

func closeMessage(prefix string, code int, reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Sprintf("%s (code %d)", prefix, code)
	}
	return fmt.Sprintf("%s (code %d): %s", prefix, code, reason)
}
