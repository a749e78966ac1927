package connection

import (
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestRegistryGetOrCreateConcurrent(t *testing.T) {
	var created sync.Map
	registry := NewRegistry(func(exchange string) *Manager {
		_, loaded := created.LoadOrStore(exchange, struct{}{})
		require.False(t, loaded, "factory invoked twice for %s", exchange)
		return NewManager(exchange)
	})

	names := []string{"binance", "coinbase", "Binance", " COINBASE "}
	const perName = 16
	results := make([][]*Manager, len(names))
	for i := range results {
		results[i] = make([]*Manager, perName)
	}

	var wg sync.WaitGroup
	for i, name := range names {
		for j := 0; j < perName; j++ {
			wg.Add(1)
			go func(i, j int, name string) {
				defer wg.Done()
				results[i][j] = registry.GetOrCreate(name)
			}(i, j, name)
		}
	}
	wg.Wait()

	binance := results[0][0]
	coinbase := results[1][0]
	require.NotSame(t, binance, coinbase)
	for _, mgr := range append(results[0], results[2]...) {
		require.Same(t, binance, mgr)
	}
	for _, mgr := range append(results[1], results[3]...) {
		require.Same(t, coinbase, mgr)
	}
	require.Equal(t, []string{"binance", "coinbase"}, registry.Names())
}

func TestRegistryGet(t *testing.T) {
	registry := NewRegistry(nil)
	_, ok := registry.Get("kraken")
	require.False(t, ok)

	mgr := registry.GetOrCreate("Kraken")
	require.Equal(t, "kraken", mgr.Exchange())
	got, ok := registry.Get("KRAKEN")
	require.True(t, ok)
	require.Same(t, mgr, got)
}

func TestResultDurationFreezesAfterLeavingConnected(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	idle := NewResult("binance", start)
	require.Zero(t, idle.ConnectionDuration(start.Add(time.Hour)))

	connected := idle.connected("id", "Connected", start, nil)
	require.Equal(t, 5*time.Second, connected.ConnectionDuration(start.Add(5*time.Second)))

	failed := connected.transition(StatusError, "lost", start.Add(10*time.Second))
	require.Empty(t, failed.ConnectionID)
	require.Equal(t, 10*time.Second, failed.ConnectionDuration(start.Add(time.Hour)))
}

func TestResultMetadataIsCopied(t *testing.T) {
	base := NewResult("binance", time.Now()).with("k", "v")
	meta := base.Metadata()
	meta["k"] = "mutated"

	value, ok := base.MetadataValue("k")
	require.True(t, ok)
	require.Equal(t, "v", value)

	next := base.with("k", "other")
	value, _ = base.MetadataValue("k")
	require.Equal(t, "v", value)
	value, _ = next.MetadataValue("k")
	require.Equal(t, "other", value)
}

func TestStatusJSON(t *testing.T) {
	raw, err := json.Marshal(StatusReconnecting)
	require.NoError(t, err)
	require.JSONEq(t, `"RECONNECTING"`, string(raw))

	var status Status
	require.NoError(t, json.Unmarshal([]byte(`"closed"`), &status))
	require.Equal(t, StatusClosed, status)
	require.Error(t, json.Unmarshal([]byte(`"bogus"`), &status))
}
