// Package service exposes connection lifecycle operations across all configured exchanges.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/feedlink/errs"
	"github.com/coachpo/feedlink/internal/adapters"
	"github.com/coachpo/feedlink/internal/connection"
	"github.com/coachpo/feedlink/internal/observability"
	"github.com/coachpo/feedlink/internal/schema"
	"github.com/coachpo/feedlink/internal/transport"
)

const defaultOperationTimeout = 15 * time.Second

// ExchangeSettings holds the per-exchange stream selection applied to every connect.
type ExchangeSettings struct {
	StreamType  schema.StreamType
	DepthLevels int
	Pairs       []schema.Pair
}

// SessionFactory builds the transport session for an exchange.
type SessionFactory func(exchange adapters.Exchange, manager *connection.Manager) *transport.Session

// Option configures a Service.
type Option func(*Service)

// WithSessionFactory overrides how sessions are built.
func WithSessionFactory(factory SessionFactory) Option {
	return func(s *Service) {
		if factory != nil {
			s.newSession = factory
		}
	}
}

// WithOperationTimeout bounds how long Connect and Disconnect wait for their operation.
func WithOperationTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.opTimeout = timeout
		}
	}
}

// WithExchangeSettings sets the stream selection of one exchange.
func WithExchangeSettings(name string, settings ExchangeSettings) Option {
	return func(s *Service) {
		s.settings[normalise(name)] = settings
	}
}

// WithClock overrides the time source used for connection durations.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Service owns one session per exchange and renders their state as ConnectionResponse values.
type Service struct {
	catalogue  *adapters.Catalogue
	registry   *connection.Registry
	newSession SessionFactory
	settings   map[string]ExchangeSettings
	opTimeout  time.Duration
	clock      func() time.Time

	mu       sync.Mutex
	sessions map[string]*transport.Session
	closed   bool
}

// New creates a service over the catalogue. A nil registry gets a default one.
func New(catalogue *adapters.Catalogue, registry *connection.Registry, opts ...Option) *Service {
	if registry == nil {
		registry = connection.NewRegistry(nil)
	}
	s := &Service{
		catalogue: catalogue,
		registry:  registry,
		newSession: func(exchange adapters.Exchange, manager *connection.Manager) *transport.Session {
			return transport.NewSession(exchange, manager, transport.DefaultConfig())
		},
		settings:  make(map[string]ExchangeSettings),
		opTimeout: defaultOperationTimeout,
		clock:     time.Now,
		sessions:  make(map[string]*transport.Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Connect starts or joins a connection and reports the state once the attempt settles or the wait
// ends. Invalid parameters are returned as errors and never retried.
func (s *Service) Connect(ctx context.Context, exchange, base, quote string) (ConnectionResponse, error) {
	session, err := s.session(exchange)
	if err != nil {
		return ConnectionResponse{}, err
	}
	settings := s.settings[session.Exchange()]
	params := schema.ConnectionParams{
		StreamType:    settings.StreamType,
		BaseCurrency:  base,
		QuoteCurrency: quote,
		Pairs:         settings.Pairs,
		DepthLevels:   settings.DepthLevels,
	}
	op, err := session.Connect(params)
	if err != nil {
		return ConnectionResponse{}, err
	}
	s.wait(ctx, session.Exchange(), op)
	return s.snapshot(session.Manager()), nil
}

// Disconnect starts or joins a disconnection and reports the resulting state.
func (s *Service) Disconnect(ctx context.Context, exchange string) (ConnectionResponse, error) {
	session, err := s.session(exchange)
	if err != nil {
		return ConnectionResponse{}, err
	}
	waitCtx, cancel := s.bounded(ctx)
	defer cancel()
	op, err := session.Disconnect(waitCtx)
	if err != nil && op == nil {
		return ConnectionResponse{}, err
	}
	s.wait(waitCtx, session.Exchange(), op)
	return s.snapshot(session.Manager()), nil
}

// Status reports the current state of one exchange.
func (s *Service) Status(exchange string) (ConnectionResponse, error) {
	name, err := s.resolve(exchange)
	if err != nil {
		return ConnectionResponse{}, err
	}
	return s.snapshot(s.registry.GetOrCreate(name)), nil
}

// List reports every registered exchange in name order.
func (s *Service) List() []ConnectionResponse {
	names := s.catalogue.Names()
	out := make([]ConnectionResponse, 0, len(names))
	for _, name := range names {
		out = append(out, s.snapshot(s.registry.GetOrCreate(name)))
	}
	return out
}

// Shutdown disconnects every session concurrently and refuses further connects.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*transport.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	var mu sync.Mutex
	failures := make(map[string]error, len(sessions))
	p := pool.New()
	for _, session := range sessions {
		p.Go(func() {
			err := session.Close(ctx)
			mu.Lock()
			failures[session.Exchange()] = err
			mu.Unlock()
		})
	}
	p.Wait()
	return observability.AggregateErrors("shutdown", failures)
}

func (s *Service) session(exchange string) (*transport.Session, error) {
	name, err := s.resolve(exchange)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errs.New(name, errs.CodeUnavailable, errs.WithMessage("service is shutting down"))
	}
	if session, ok := s.sessions[name]; ok {
		return session, nil
	}
	adapter, _ := s.catalogue.Lookup(name)
	session := s.newSession(adapter, s.registry.GetOrCreate(name))
	s.sessions[name] = session
	return session, nil
}

func (s *Service) resolve(exchange string) (string, error) {
	name := normalise(exchange)
	if _, ok := s.catalogue.Lookup(name); !ok {
		return "", errs.New(name, errs.CodeNotFound,
			errs.WithMessage(fmt.Sprintf("unknown exchange %q", exchange)),
			errs.WithRemediation("use one of: "+strings.Join(s.catalogue.Names(), ", ")),
		)
	}
	return name, nil
}

func (s *Service) wait(ctx context.Context, exchange string, op *connection.Operation) {
	waitCtx, cancel := s.bounded(ctx)
	defer cancel()
	if _, err := op.Wait(waitCtx); err != nil {
		observability.Log().Debug("operation settled with error",
			observability.F("exchange", exchange),
			observability.F("operation", op.Kind().String()),
			observability.F("error", err.Error()),
		)
	}
}

func (s *Service) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Service) snapshot(manager *connection.Manager) ConnectionResponse {
	return NewConnectionResponse(manager.ConnectionResult(), s.clock())
}

func normalise(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
