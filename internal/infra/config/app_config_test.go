package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/feedlink/internal/schema"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, []string{"binance", "coinbase"}, cfg.ExchangeNames())
	require.True(t, cfg.Reconnect.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	cfg, loaded, err := LoadOrDefault(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.False(t, loaded)
	require.Equal(t, Default().APIServer, cfg.APIServer)
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
environment: PROD
exchanges:
  Binance:
    streamType: bookticker
    autoConnect: true
    controlRate: 2
    symbols:
      - base: btc
        quote: usdt
      - base: eth
        quote: usdt
  coinbase:
    enabled: false
reconnect:
  initialInterval: 250ms
  maxInterval: 10s
  maxAttempts: 8
circuitBreaker:
  threshold: 3
  cooldown: 1m
apiServer:
  addr: " :9999 "
logging:
  level: DEBUG
  format: text
`)
	cfg, loaded, err := LoadOrDefault(context.Background(), path)
	require.NoError(t, err)
	require.True(t, loaded)

	require.Equal(t, EnvProd, cfg.Environment)
	require.Equal(t, ":9999", cfg.APIServer.Addr)
	require.Equal(t, "debug", cfg.Logging.Level)

	binance := cfg.Exchanges["binance"]
	require.True(t, binance.IsEnabled())
	require.True(t, binance.AutoConnect)
	require.Equal(t, string(schema.StreamBookTicker), binance.StreamType)
	require.Equal(t, []schema.Pair{{Base: "BTC", Quote: "USDT"}, {Base: "ETH", Quote: "USDT"}}, binance.Symbols)
	require.False(t, cfg.Exchanges["coinbase"].IsEnabled())

	settings := binance.Settings()
	require.Equal(t, schema.StreamBookTicker, settings.StreamType)
	require.Len(t, settings.Pairs, 2)

	require.Equal(t, 250*time.Millisecond, cfg.Reconnect.InitialInterval)
	require.Equal(t, 2.0, cfg.Reconnect.Multiplier, "omitted fields keep defaults")
	require.Equal(t, 3, cfg.CircuitBreaker.Breaker().FailureThreshold)
	require.Equal(t, time.Minute, cfg.CircuitBreaker.Breaker().Cooldown)

	tcfg := cfg.TransportFor("BINANCE")
	require.Equal(t, 2.0, tcfg.ControlRate)
	require.Equal(t, 8, tcfg.MaxAttempts)
	require.True(t, tcfg.AutoReconnect)
	require.Equal(t, Default().Transport.DialTimeout, tcfg.DialTimeout)

	require.Equal(t, map[string]string{"binance": "wss://stream.binance.com:9443"}, cfg.BaseURLs())
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"environment":   "environment: qa\n",
		"duplicate":     "exchanges:\n  Binance: {}\n  binance: {}\n",
		"stream type":   "exchanges:\n  binance:\n    streamType: candles\n",
		"partial pair":  "exchanges:\n  binance:\n    symbols:\n      - base: BTC\n",
		"breaker":       "circuitBreaker:\n  threshold: 0\n",
		"backoff range": "reconnect:\n  initialInterval: 5s\n  maxInterval: 1s\n",
		"log format":    "logging:\n  format: xml\n",
		"delivery":      "delivery:\n  workers: 0\n",
		"api addr":      "apiServer:\n  addr: \"\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(context.Background(), writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadDuplicateExchangeMessage(t *testing.T) {
	_, err := Load(context.Background(), writeConfig(t, "exchanges:\n  Binance: {}\n  binance: {}\n"))
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), `duplicate exchange name "binance"`), err.Error())
}

func TestLoggingConversion(t *testing.T) {
	cfg := Default()
	lcfg := cfg.Logging.Logrus("gateway")
	require.Equal(t, "gateway", lcfg.Component)
	require.Equal(t, "json", lcfg.Format)
	require.Equal(t, 100, lcfg.MaxSizeMB)
}
