package observability

import (
	"bytes"
	"errors"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	debugs int
	infos  int
	errors int
}

func (r *recordingLogger) Debug(string, ...Field) { r.debugs++ }
func (r *recordingLogger) Info(string, ...Field)  { r.infos++ }
func (r *recordingLogger) Warn(string, ...Field)  {}
func (r *recordingLogger) Error(string, ...Field) { r.errors++ }

func TestSetLoggerOverridesGlobal(t *testing.T) {
	recorder := new(recordingLogger)
	SetLogger(recorder)
	t.Cleanup(func() { SetLogger(nil) })

	Log().Debug("test")
	require.Equal(t, 1, recorder.debugs)

	SetLogger(nil)
	Log().Info("noop")
	require.Equal(t, 0, recorder.infos)
}

func TestLogrusLoggerWritesJSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogrusLogger(LogrusConfig{Level: "debug", Output: &buf, Component: "transport"})
	require.NoError(t, err)

	logger.Info("connected", F("exchange", "binance"), F("error", errors.New("boom")))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "connected", record["message"])
	require.Equal(t, "info", record["level"])
	require.Equal(t, "transport", record["component"])
	require.Equal(t, "binance", record["exchange"])
	require.Equal(t, "boom", record["error"])
	require.Contains(t, record, "timestamp")
}

func TestLogrusLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogrusLogger(LogrusConfig{Level: "warn", Output: &buf})
	require.NoError(t, err)

	logger.Info("hidden")
	require.Zero(t, buf.Len())
	logger.Warn("shown")
	require.NotZero(t, buf.Len())
}

func TestLogrusLoggerRejectsBadConfig(t *testing.T) {
	_, err := NewLogrusLogger(LogrusConfig{Level: "loud"})
	require.Error(t, err)

	_, err = NewLogrusLogger(LogrusConfig{Format: "xml"})
	require.Error(t, err)
}

func TestAggregateErrors(t *testing.T) {
	require.NoError(t, AggregateErrors("shutdown", map[string]error{"binance": nil}))

	boom := errors.New("boom")
	err := AggregateErrors("shutdown", map[string]error{"binance": nil, "coinbase": boom})
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "shutdown failed")
	require.Contains(t, err.Error(), "coinbase: boom")
}
