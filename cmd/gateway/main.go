// Command gateway launches the feedlink connection gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/feedlink/internal/adapters"
	"github.com/coachpo/feedlink/internal/app/service"
	"github.com/coachpo/feedlink/internal/connection"
	"github.com/coachpo/feedlink/internal/dispatch"
	"github.com/coachpo/feedlink/internal/infra/config"
	httpserver "github.com/coachpo/feedlink/internal/infra/server/http"
	"github.com/coachpo/feedlink/internal/infra/telemetry"
	"github.com/coachpo/feedlink/internal/observability"
	"github.com/coachpo/feedlink/internal/resilience"
	"github.com/coachpo/feedlink/internal/schema"
	"github.com/coachpo/feedlink/internal/transport"
	"github.com/coachpo/feedlink/lib/async"
)

const (
	defaultConfigPath            = "config/app.yaml"
	configPathEnv                = "FEEDLINK_CONFIG"
	logLevelEnv                  = "LOG_LEVEL"
	deliveryPoolName             = "delivery"
	shutdownTimeout              = 30 * time.Second
	controlServerShutdownTimeout = 5 * time.Second
	connectionsShutdownTimeout   = 10 * time.Second
	lifecycleShutdownTimeout     = 10 * time.Second
	deliveryShutdownTimeout      = 5 * time.Second
	telemetryShutdownTimeout     = 5 * time.Second
	controlReadHeaderTimeout     = 5 * time.Second
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	envLoaded := loadDotEnv()

	configPath := resolveConfigPath(cfgPathFlag)
	appCfg, loadedFromFile, err := config.LoadOrDefault(ctx, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	applyEnvOverrides(&appCfg)

	logger, err := observability.NewLogrusLogger(appCfg.Logging.Logrus("gateway"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Close() }()
	observability.SetLogger(logger)

	if envLoaded {
		logger.Debug("environment file loaded")
	}
	if !loadedFromFile {
		logger.Info("configuration file not found, using defaults", observability.F("path", configPath))
	}
	logger.Info("configuration initialised",
		observability.F("env", appCfg.Environment),
		observability.F("exchanges", len(appCfg.Exchanges)))

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg.Environment, appCfg.Telemetry)
	if err != nil {
		fatal(logger, "initialise telemetry", err)
	}
	metrics, err := telemetry.NewConnectionMetricsFromProvider(telemetryProvider)
	if err != nil {
		fatal(logger, "initialise connection metrics", err)
	}

	catalogue, err := buildCatalogue(appCfg)
	if err != nil {
		fatal(logger, "initialise exchanges", err)
	}
	logger.Info("exchanges registered", observability.F("names", catalogue.Names()))

	deliveryPool, err := async.NewPool(deliveryPoolName, appCfg.Delivery.Workers, appCfg.Delivery.QueueSize,
		async.WithErrorHandler(func(err error) {
			logger.Warn("result delivery failed", observability.F("error", err))
		}))
	if err != nil {
		fatal(logger, "initialise delivery pool", err)
	}

	registry := connection.NewRegistry(func(exchange string) *connection.Manager {
		return connection.NewManager(exchange, connection.WithObserver(metrics.Observe))
	})
	svc := buildService(appCfg, catalogue, registry, metrics, newDeliverySink(logger, deliveryPool))

	var lifecycle conc.WaitGroup
	autoConnect(ctx, &lifecycle, logger, appCfg, svc)

	apiServer := buildAPIServer(appCfg.APIServer, svc)
	startAPIServer(&lifecycle, logger, apiServer)
	logger.Info("control API listening", observability.F("addr", apiServer.Addr))

	logger.Info("gateway started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     apiServer,
		mainCancel: cancel,
		service:    svc,
		lifecycle:  &lifecycle,
		delivery:   deliveryPool,
		telemetry:  telemetryProvider,
	})
	logger.Info("shutdown completed", observability.F("elapsed", time.Since(shutdownStart).String()))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func fatal(logger observability.Logger, step string, err error) {
	logger.Error(step, observability.F("error", err))
	os.Exit(1)
}

// loadDotEnv reads .env from the working directory when present. Variables already set win.
func loadDotEnv() bool {
	if err := godotenv.Load(); err != nil {
		return false
	}
	return true
}

func applyEnvOverrides(cfg *config.AppConfig) {
	if level := strings.TrimSpace(os.Getenv(logLevelEnv)); level != "" {
		cfg.Logging.Level = strings.ToLower(level)
	}
}

func initTelemetry(ctx context.Context, logger observability.Logger, env config.Environment, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.OTLPEndpoint != "" && os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if cfg.ServiceName != "" && os.Getenv("OTEL_SERVICE_NAME") == "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	telemetryCfg.Environment = string(env)
	telemetryCfg.OTLPInsecure = telemetryCfg.OTLPInsecure || cfg.OTLPInsecure
	telemetryCfg.EnableMetrics = telemetryCfg.EnableMetrics && cfg.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise telemetry provider: %w", err)
	}
	if telemetryCfg.Enabled && telemetryCfg.EnableMetrics {
		logger.Info("telemetry initialised",
			observability.F("endpoint", telemetryCfg.OTLPEndpoint),
			observability.F("service", telemetryCfg.ServiceName))
	} else {
		logger.Info("telemetry disabled")
	}
	return provider, nil
}

// buildCatalogue registers the built-in adapters that are enabled in the configuration.
func buildCatalogue(cfg config.AppConfig) (*adapters.Catalogue, error) {
	builtins := adapters.NewCatalogue()
	if err := adapters.RegisterAll(builtins, cfg.BaseURLs()); err != nil {
		return nil, fmt.Errorf("register adapters: %w", err)
	}
	catalogue := adapters.NewCatalogue()
	for _, name := range cfg.ExchangeNames() {
		if !cfg.Exchanges[name].IsEnabled() {
			continue
		}
		exchange, ok := builtins.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("exchange %q has no adapter (available: %s)", name, strings.Join(builtins.Names(), ", "))
		}
		if err := catalogue.Register(exchange); err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
	}
	return catalogue, nil
}

func buildService(cfg config.AppConfig, catalogue *adapters.Catalogue, registry *connection.Registry, metrics *telemetry.ConnectionMetrics, sink transport.Sink) *service.Service {
	factory := func(exchange adapters.Exchange, manager *connection.Manager) *transport.Session {
		breaker := resilience.NewCircuitBreaker(cfg.CircuitBreaker.Breaker(),
			resilience.WithStateChange(metrics.BreakerHook(exchange.Name)))
		return transport.NewSession(exchange, manager, cfg.TransportFor(exchange.Name),
			transport.WithStrategy(resilience.NewReconnectionStrategy(cfg.Reconnect.Backoff())),
			transport.WithBreaker(breaker),
			transport.WithSink(sink),
			transport.WithRecorder(metrics),
			transport.WithFrameRecorder(metrics),
		)
	}
	opts := []service.Option{
		service.WithSessionFactory(factory),
		service.WithOperationTimeout(cfg.Transport.OperationTimeout),
	}
	for name, exchange := range cfg.Exchanges {
		opts = append(opts, service.WithExchangeSettings(name, exchange.Settings()))
	}
	return service.New(catalogue, registry, opts...)
}

// newDeliverySink hands every dispatched result to the delivery pool so a slow consumer never
// blocks the socket read loop. Results are dropped when the pool is saturated.
func newDeliverySink(logger observability.Logger, pool *async.Pool) transport.Sink {
	return func(ctx context.Context, exchange string, result dispatch.Result[schema.Response]) {
		err := pool.Submit(ctx, func(context.Context) error {
			deliver(logger, exchange, result)
			return nil
		})
		if err != nil {
			logger.Warn("result dropped",
				observability.F("exchange", exchange),
				observability.F("correlation_id", result.CorrelationID()),
				observability.F("error", err))
		}
	}
}

func deliver(logger observability.Logger, exchange string, result dispatch.Result[schema.Response]) {
	fields := []observability.Field{
		observability.F("exchange", exchange),
		observability.F("correlation_id", result.CorrelationID()),
		observability.F("outcome", result.Outcome().String()),
	}
	data, ok := result.Data()
	if ok && data != nil {
		fields = append(fields, observability.F("kind", data.Kind().String()))
	}
	if report, isError := data.(schema.ErrorData); ok && isError {
		logger.Warn("exchange error frame", append(fields, observability.F("error", report.Err()))...)
		return
	}
	switch {
	case result.IsError():
		logger.Warn("frame rejected", append(fields, observability.F("error", result.Err()))...)
	case result.IsWarning():
		logger.Warn("frame accepted with warning", append(fields, observability.F("message", result.Message()))...)
	default:
		logger.Debug("frame delivered", fields...)
	}
}

// autoConnect opens the exchanges flagged autoConnect that have pairs configured.
func autoConnect(ctx context.Context, lifecycle *conc.WaitGroup, logger observability.Logger, cfg config.AppConfig, svc *service.Service) {
	for _, name := range cfg.ExchangeNames() {
		exchange := cfg.Exchanges[name]
		if !exchange.IsEnabled() || !exchange.AutoConnect {
			continue
		}
		if len(exchange.Symbols) == 0 {
			logger.Warn("autoConnect skipped: no symbols configured", observability.F("exchange", name))
			continue
		}
		first := exchange.Symbols[0]
		lifecycle.Go(func() {
			resp, err := svc.Connect(ctx, name, first.Base, first.Quote)
			if err != nil {
				logger.Error("autoConnect failed", observability.F("exchange", name), observability.F("error", err))
				return
			}
			logger.Info("autoConnect finished",
				observability.F("exchange", name),
				observability.F("status", resp.Status.String()))
		})
	}
}

func buildAPIServer(cfg config.APIServerConfig, svc httpserver.ConnectionService) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpserver.NewHandler(svc),
		ReadHeaderTimeout: controlReadHeaderTimeout,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger observability.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("control server", observability.F("error", err))
		}
	})
}

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	service    *service.Service
	lifecycle  *conc.WaitGroup
	delivery   *async.Pool
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger observability.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Info("shutdown: " + name)
		if err := fn(stepCtx); err != nil {
			logger.Warn("shutdown: "+name+" failed", observability.F("error", err))
		} else {
			logger.Info("shutdown: " + name + " completed")
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping control server", controlServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Info("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.service != nil {
		shutdownStep("closing connections", connectionsShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.service.Shutdown(stepCtx)
		})
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.delivery != nil {
		shutdownStep("draining delivery pool", deliveryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.delivery.Shutdown(stepCtx)
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(configPathEnv)); env != "" {
		return env
	}
	return filepath.Clean(defaultConfigPath)
}
