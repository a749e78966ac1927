// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/feedlink/internal/adapters/binance"
	"github.com/coachpo/feedlink/internal/adapters/coinbase"
	"github.com/coachpo/feedlink/internal/app/service"
	"github.com/coachpo/feedlink/internal/observability"
	"github.com/coachpo/feedlink/internal/resilience"
	"github.com/coachpo/feedlink/internal/schema"
	"github.com/coachpo/feedlink/internal/transport"
)

// ExchangeConfig selects what one exchange streams and how its session behaves.
type ExchangeConfig struct {
	Enabled     *bool         `yaml:"enabled"`
	BaseURL     string        `yaml:"baseURL"`
	StreamType  string        `yaml:"streamType"`
	DepthLevels int           `yaml:"depthLevels"`
	Symbols     []schema.Pair `yaml:"symbols"`
	AutoConnect bool          `yaml:"autoConnect"`
	ControlRate float64       `yaml:"controlRate"`
}

// IsEnabled reports whether the exchange is served; unset means enabled.
func (c ExchangeConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Settings converts the exchange section into service stream settings.
func (c ExchangeConfig) Settings() service.ExchangeSettings {
	return service.ExchangeSettings{
		StreamType:  schema.StreamType(c.StreamType),
		DepthLevels: c.DepthLevels,
		Pairs:       append([]schema.Pair(nil), c.Symbols...),
	}
}

// ReconnectConfig describes the automatic reconnect policy.
type ReconnectConfig struct {
	Enabled             bool          `yaml:"enabled"`
	InitialInterval     time.Duration `yaml:"initialInterval"`
	Multiplier          float64       `yaml:"multiplier"`
	MaxInterval         time.Duration `yaml:"maxInterval"`
	RandomizationFactor float64       `yaml:"randomizationFactor"`
	MaxAttempts         int           `yaml:"maxAttempts"`
}

// Backoff converts the policy into a backoff configuration.
func (c ReconnectConfig) Backoff() resilience.BackoffConfig {
	return resilience.BackoffConfig{
		InitialInterval:     c.InitialInterval,
		Multiplier:          c.Multiplier,
		MaxInterval:         c.MaxInterval,
		RandomizationFactor: c.RandomizationFactor,
	}
}

// CircuitBreakerConfig suspends reconnects after repeated failures.
type CircuitBreakerConfig struct {
	Threshold int           `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// Breaker converts the section into a breaker configuration.
func (c CircuitBreakerConfig) Breaker() resilience.BreakerConfig {
	return resilience.BreakerConfig{FailureThreshold: c.Threshold, Cooldown: c.Cooldown}
}

// TransportConfig holds socket timeouts shared by all exchanges.
type TransportConfig struct {
	DialTimeout      time.Duration `yaml:"dialTimeout"`
	PingInterval     time.Duration `yaml:"pingInterval"`
	PingTimeout      time.Duration `yaml:"pingTimeout"`
	WriteTimeout     time.Duration `yaml:"writeTimeout"`
	ReadLimitBytes   int64         `yaml:"readLimitBytes"`
	OperationTimeout time.Duration `yaml:"operationTimeout"`
}

// APIServerConfig configures the gateway's HTTP control surface.
type APIServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// Logrus converts the section into logger options.
func (c LoggingConfig) Logrus(component string) observability.LogrusConfig {
	return observability.LogrusConfig{
		Level:      c.Level,
		Format:     c.Format,
		File:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Component:  component,
	}
}

// DeliveryConfig sizes the pool that hands dispatched frames to consumers.
type DeliveryConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queueSize"`
}

// AppConfig is the unified feedlink application configuration sourced from YAML.
type AppConfig struct {
	Environment    Environment               `yaml:"environment"`
	Exchanges      map[string]ExchangeConfig `yaml:"exchanges"`
	Reconnect      ReconnectConfig           `yaml:"reconnect"`
	CircuitBreaker CircuitBreakerConfig      `yaml:"circuitBreaker"`
	Transport      TransportConfig           `yaml:"transport"`
	APIServer      APIServerConfig           `yaml:"apiServer"`
	Telemetry      TelemetryConfig           `yaml:"telemetry"`
	Logging        LoggingConfig             `yaml:"logging"`
	Delivery       DeliveryConfig            `yaml:"delivery"`
}

var defaultBaseURLs = map[string]string{
	binance.Name:  binance.DefaultBaseURL,
	coinbase.Name: coinbase.DefaultBaseURL,
}

// Default returns a configuration that streams BTC tickers from every built-in exchange on demand.
func Default() AppConfig {
	backoff := resilience.DefaultBackoffConfig()
	breaker := resilience.DefaultBreakerConfig()
	tcfg := transport.DefaultConfig()
	return AppConfig{
		Environment: EnvDev,
		Exchanges: map[string]ExchangeConfig{
			binance.Name:  {BaseURL: defaultBaseURLs[binance.Name], StreamType: string(schema.StreamTicker)},
			coinbase.Name: {BaseURL: defaultBaseURLs[coinbase.Name], StreamType: string(schema.StreamTicker)},
		},
		Reconnect: ReconnectConfig{
			Enabled:             true,
			InitialInterval:     backoff.InitialInterval,
			Multiplier:          backoff.Multiplier,
			MaxInterval:         backoff.MaxInterval,
			RandomizationFactor: backoff.RandomizationFactor,
		},
		CircuitBreaker: CircuitBreakerConfig{Threshold: breaker.FailureThreshold, Cooldown: breaker.Cooldown},
		Transport: TransportConfig{
			DialTimeout:      tcfg.DialTimeout,
			PingInterval:     tcfg.PingInterval,
			PingTimeout:      tcfg.PingTimeout,
			WriteTimeout:     tcfg.WriteTimeout,
			ReadLimitBytes:   tcfg.ReadLimit,
			OperationTimeout: 15 * time.Second,
		},
		APIServer: APIServerConfig{Addr: ":8880"},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:  "http://localhost:4318",
			ServiceName:   "feedlink",
			OTLPInsecure:  true,
			EnableMetrics: false,
		},
		Logging:  LoggingConfig{Level: "info", Format: "json", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 14},
		Delivery: DeliveryConfig{Workers: 4, QueueSize: 1024},
	}
}

// Load reads and validates an AppConfig from the provided YAML file. Sections the file omits keep
// their defaults.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	var overlay AppConfig
	if err := yaml.Unmarshal(bytes, &overlay); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if overlay.Exchanges != nil {
		cfg.Exchanges = nil
	}
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.normalise(); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads the file when it exists and falls back to Default otherwise. The boolean
// reports whether the file was read.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, bool, error) {
	if strings.TrimSpace(configPath) == "" {
		return Default(), false, nil
	}
	cfg, err := Load(ctx, configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), false, nil
	}
	if err != nil {
		return AppConfig{}, false, err
	}
	return cfg, true, nil
}

func (c *AppConfig) normalise() error {
	normalised := make(map[string]ExchangeConfig, len(c.Exchanges))
	for key, value := range c.Exchanges {
		name := normalizeExchangeIdentifier(key)
		if _, exists := normalised[name]; exists {
			return fmt.Errorf("duplicate exchange name %q", name)
		}
		value.BaseURL = strings.TrimSpace(value.BaseURL)
		if value.BaseURL == "" {
			value.BaseURL = defaultBaseURLs[name]
		}
		if streamType, ok := schema.ParseStreamType(value.StreamType); ok {
			value.StreamType = string(streamType)
		}
		for i, pair := range value.Symbols {
			value.Symbols[i] = schema.Pair{
				Base:  strings.ToUpper(strings.TrimSpace(pair.Base)),
				Quote: strings.ToUpper(strings.TrimSpace(pair.Quote)),
			}
		}
		normalised[name] = value
	}
	c.Exchanges = normalised

	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	c.APIServer.Addr = strings.TrimSpace(c.APIServer.Addr)
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.File = strings.TrimSpace(c.Logging.File)

	if c.Reconnect.MaxAttempts < 0 {
		c.Reconnect.MaxAttempts = 0
	}
	return nil
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	for _, name := range c.ExchangeNames() {
		exchange := c.Exchanges[name]
		if _, ok := schema.ParseStreamType(exchange.StreamType); !ok {
			return fmt.Errorf("exchanges.%s streamType %q unsupported", name, exchange.StreamType)
		}
		if exchange.DepthLevels < 0 {
			return fmt.Errorf("exchanges.%s depthLevels must be >=0", name)
		}
		if exchange.ControlRate < 0 {
			return fmt.Errorf("exchanges.%s controlRate must be >=0", name)
		}
		for i, pair := range exchange.Symbols {
			if !pair.Complete() {
				return fmt.Errorf("exchanges.%s symbols[%d] requires base and quote", name, i)
			}
		}
	}

	if c.Reconnect.InitialInterval <= 0 {
		return fmt.Errorf("reconnect initialInterval must be >0")
	}
	if c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect multiplier must be >=1")
	}
	if c.Reconnect.MaxInterval < c.Reconnect.InitialInterval {
		return fmt.Errorf("reconnect maxInterval must be >= initialInterval")
	}
	if c.Reconnect.RandomizationFactor < 0 || c.Reconnect.RandomizationFactor >= 1 {
		return fmt.Errorf("reconnect randomizationFactor must be in [0,1)")
	}

	if c.CircuitBreaker.Threshold <= 0 {
		return fmt.Errorf("circuitBreaker threshold must be >0")
	}
	if c.CircuitBreaker.Cooldown <= 0 {
		return fmt.Errorf("circuitBreaker cooldown must be >0")
	}

	if c.Transport.DialTimeout <= 0 || c.Transport.OperationTimeout <= 0 {
		return fmt.Errorf("transport dialTimeout and operationTimeout must be >0")
	}
	if c.Transport.PingInterval <= 0 || c.Transport.PingTimeout <= 0 || c.Transport.WriteTimeout <= 0 {
		return fmt.Errorf("transport ping and write timeouts must be >0")
	}
	if c.Transport.ReadLimitBytes <= 0 {
		return fmt.Errorf("transport readLimitBytes must be >0")
	}

	if strings.TrimSpace(c.APIServer.Addr) == "" {
		return fmt.Errorf("apiServer addr required")
	}
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry serviceName required")
	}

	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging format must be json or text")
	}

	if c.Delivery.Workers <= 0 {
		return fmt.Errorf("delivery workers must be >0")
	}
	if c.Delivery.QueueSize < 0 {
		return fmt.Errorf("delivery queueSize must be >=0")
	}
	return nil
}

// ExchangeNames lists the configured exchanges in sorted order.
func (c AppConfig) ExchangeNames() []string {
	names := make([]string, 0, len(c.Exchanges))
	for name := range c.Exchanges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BaseURLs returns the endpoint overrides of every enabled exchange.
func (c AppConfig) BaseURLs() map[string]string {
	out := make(map[string]string, len(c.Exchanges))
	for name, exchange := range c.Exchanges {
		if exchange.IsEnabled() && exchange.BaseURL != "" {
			out[name] = exchange.BaseURL
		}
	}
	return out
}

// TransportFor builds the session configuration of one exchange.
func (c AppConfig) TransportFor(name string) transport.Config {
	exchange := c.Exchanges[normalizeExchangeIdentifier(name)]
	return transport.Config{
		DialTimeout:   c.Transport.DialTimeout,
		PingInterval:  c.Transport.PingInterval,
		PingTimeout:   c.Transport.PingTimeout,
		WriteTimeout:  c.Transport.WriteTimeout,
		ReadLimit:     c.Transport.ReadLimitBytes,
		ControlRate:   exchange.ControlRate,
		AutoReconnect: c.Reconnect.Enabled,
		MaxAttempts:   c.Reconnect.MaxAttempts,
	}
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
