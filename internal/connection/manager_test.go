package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/feedlink/errs"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, clock *fakeClock, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewManager("binance", opts...)
}

func TestManagerStartsIdle(t *testing.T) {
	mgr := newTestManager(t, newFakeClock())
	result := mgr.ConnectionResult()
	require.Equal(t, StatusIdle, result.Status)
	require.Equal(t, "binance", result.Exchange)
	require.Empty(t, result.ConnectionID)
	require.False(t, result.IsConnected())
}

func TestStartConnectionTwiceReturnsSamePendingHandle(t *testing.T) {
	mgr := newTestManager(t, newFakeClock())

	first, err := mgr.StartConnection()
	require.NoError(t, err)
	second, err := mgr.StartConnection()
	require.NoError(t, err)

	require.Same(t, first, second)
	require.False(t, first.IsDone())
	require.Equal(t, StatusConnecting, mgr.ConnectionResult().Status)
}

func TestOnConnectedResolvesPendingConnect(t *testing.T) {
	clock := newFakeClock()
	mgr := newTestManager(t, clock, WithIDGenerator(func() string { return "conn-1" }))

	op, err := mgr.StartConnection()
	require.NoError(t, err)
	require.True(t, mgr.OnConnected(map[string]any{"url": "wss://example"}))

	result, err := op.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusConnected, result.Status)
	require.Equal(t, "conn-1", result.ConnectionID)
	require.True(t, result.IsSuccess())
	value, ok := result.MetadataValue("url")
	require.True(t, ok)
	require.Equal(t, "wss://example", value)
	require.Error(t, op.Context().Err())

	again, err := mgr.StartConnection()
	require.NoError(t, err)
	require.True(t, again.IsDone())
	resolved, _, _ := again.Outcome()
	require.Equal(t, "Already connected", resolved.Message)
	require.Equal(t, "conn-1", resolved.ConnectionID)
}

func TestStartDisconnectionWhileConnectingCancels(t *testing.T) {
	mgr := newTestManager(t, newFakeClock())

	connectOp, err := mgr.StartConnection()
	require.NoError(t, err)

	disconnectOp, err := mgr.StartDisconnection()
	require.NoError(t, err)
	require.True(t, disconnectOp.IsDone())

	result, err := disconnectOp.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusDisconnected, result.Status)
	require.Contains(t, result.Message, "cancelled")
	cancelled, ok := result.MetadataValue(MetaCancelled)
	require.True(t, ok)
	require.Equal(t, true, cancelled)

	require.True(t, connectOp.Cancelled())
	_, connectErr := connectOp.Wait(context.Background())
	require.True(t, errs.IsCode(connectErr, errs.CodeCancelled))
	require.ErrorIs(t, connectOp.Context().Err(), context.Canceled)

	// The transport finishing the dial late must be told to drop the socket.
	require.False(t, mgr.OnConnected(nil))
	require.Equal(t, StatusDisconnected, mgr.ConnectionResult().Status)
}

func TestStartDisconnectionFromSettledStates(t *testing.T) {
	mgr := newTestManager(t, newFakeClock())

	op, err := mgr.StartDisconnection()
	require.NoError(t, err)
	result, _, ok := op.Outcome()
	require.True(t, ok)
	require.Equal(t, "No active connection", result.Message)
	require.Equal(t, StatusIdle, result.Status)

	_, err = mgr.StartConnection()
	require.NoError(t, err)
	_, err = mgr.StartDisconnection()
	require.NoError(t, err)

	op, err = mgr.StartDisconnection()
	require.NoError(t, err)
	result, _, ok = op.Outcome()
	require.True(t, ok)
	require.Equal(t, "Already disconnected", result.Message)
	require.Equal(t, StatusDisconnected, result.Status)
}

func TestGracefulDisconnectFlow(t *testing.T) {
	clock := newFakeClock()
	mgr := newTestManager(t, clock)

	_, err := mgr.StartConnection()
	require.NoError(t, err)
	require.True(t, mgr.OnConnected(nil))
	clock.Advance(90 * time.Second)

	op, err := mgr.StartDisconnection()
	require.NoError(t, err)
	require.False(t, op.IsDone())
	joined, err := mgr.StartDisconnection()
	require.NoError(t, err)
	require.Same(t, op, joined)

	require.True(t, mgr.OnClosing(1000, "bye"))
	closing := mgr.ConnectionResult()
	require.Equal(t, StatusClosing, closing.Status)
	require.Empty(t, closing.ConnectionID)
	code, ok := closing.MetadataValue(MetaCloseCode)
	require.True(t, ok)
	require.Equal(t, 1000, code)
	require.False(t, op.IsDone())

	clock.Advance(time.Second)
	require.True(t, mgr.OnClosed(1000, "bye"))
	result, err := op.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusClosed, result.Status)
	require.Equal(t, 90*time.Second, result.ConnectionDuration(clock.Now().Add(time.Hour)))
}

func TestRemoteCloseRejectsDisconnect(t *testing.T) {
	mgr := newTestManager(t, newFakeClock())
	_, err := mgr.StartConnection()
	require.NoError(t, err)
	require.True(t, mgr.OnConnected(nil))
	require.True(t, mgr.OnClosing(1001, "going away"))

	_, err = mgr.StartDisconnection()
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.CodeConflict))

	_, err = mgr.StartConnection()
	require.True(t, errs.IsCode(err, errs.CodeConflict))
	require.Equal(t, StatusClosing, mgr.ConnectionResult().Status)
}

func TestOnFailureResolvesWithError(t *testing.T) {
	mgr := newTestManager(t, newFakeClock())
	op, err := mgr.StartConnection()
	require.NoError(t, err)

	boom := errors.New("connection refused")
	require.True(t, mgr.OnFailure("dial failed", boom))

	result, err := op.Wait(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	require.True(t, errs.IsCode(err, errs.CodeNetwork))
	require.True(t, result.IsFailed())
	cause, ok := result.MetadataValue(MetaCause)
	require.True(t, ok)
	require.Equal(t, "connection refused", cause)

	require.False(t, mgr.OnFailure("late", boom))
}

func TestReconnectCycle(t *testing.T) {
	mgr := newTestManager(t, newFakeClock())
	_, err := mgr.StartConnection()
	require.NoError(t, err)
	require.True(t, mgr.OnConnected(nil))
	firstID := mgr.ConnectionResult().ConnectionID
	require.NotEmpty(t, firstID)

	require.True(t, mgr.OnFailure("read failed", errors.New("reset")))
	op, ok := mgr.BeginReconnect("read failed")
	require.True(t, ok)
	require.Equal(t, StatusReconnecting, mgr.ConnectionResult().Status)

	joined, err := mgr.StartConnection()
	require.NoError(t, err)
	require.Same(t, op, joined)

	require.True(t, mgr.BeginAttempt(1))
	attempt, ok := mgr.ConnectionResult().MetadataValue(MetaAttempt)
	require.True(t, ok)
	require.Equal(t, 1, attempt)

	require.True(t, mgr.OnConnected(nil))
	result, err := op.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusConnected, result.Status)
	require.NotEqual(t, firstID, result.ConnectionID)
}

func TestDisconnectDuringReconnectStopsRetry(t *testing.T) {
	mgr := newTestManager(t, newFakeClock())
	_, err := mgr.StartConnection()
	require.NoError(t, err)
	require.True(t, mgr.OnFailure("dial failed", errors.New("refused")))

	op, ok := mgr.BeginReconnect("dial failed")
	require.True(t, ok)

	disconnect, err := mgr.StartDisconnection()
	require.NoError(t, err)
	result, _, done := disconnect.Outcome()
	require.True(t, done)
	require.Equal(t, StatusDisconnected, result.Status)
	require.True(t, op.Cancelled())
	require.False(t, mgr.BeginAttempt(2))
}

func TestBeginReconnectRefusedWhileDisconnectPending(t *testing.T) {
	mgr := newTestManager(t, newFakeClock())
	_, err := mgr.StartConnection()
	require.NoError(t, err)
	require.True(t, mgr.OnConnected(nil))
	_, err = mgr.StartDisconnection()
	require.NoError(t, err)

	_, ok := mgr.BeginReconnect("read failed")
	require.False(t, ok)
}

func TestObserverSeesEveryTransition(t *testing.T) {
	var seen []Status
	mgr := newTestManager(t, newFakeClock(), WithObserver(func(_, next Result) {
		seen = append(seen, next.Status)
	}))

	_, err := mgr.StartConnection()
	require.NoError(t, err)
	require.True(t, mgr.OnConnected(nil))
	_, err = mgr.StartDisconnection()
	require.NoError(t, err)
	require.True(t, mgr.OnClosing(1000, ""))
	require.True(t, mgr.OnClosed(1000, ""))

	require.Equal(t, []Status{StatusConnecting, StatusConnected, StatusClosing, StatusClosed}, seen)
}

func TestFreshResultDiscardsHistory(t *testing.T) {
	mgr := newTestManager(t, newFakeClock())
	_, err := mgr.StartConnection()
	require.NoError(t, err)
	require.True(t, mgr.OnFailure("dial failed", errors.New("refused")))

	_, err = mgr.StartConnection()
	require.NoError(t, err)
	result := mgr.ConnectionResult()
	require.Equal(t, StatusConnecting, result.Status)
	require.Empty(t, result.Metadata())
	require.True(t, result.StartedAt.IsZero())
}

func TestConcurrentStartConnectionSharesHandle(t *testing.T) {
	mgr := newTestManager(t, newFakeClock())

	const workers = 32
	ops := make([]*Operation, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			op, err := mgr.StartConnection()
			require.NoError(t, err)
			ops[i] = op
		}(i)
	}
	wg.Wait()

	for _, op := range ops[1:] {
		require.Same(t, ops[0], op)
	}
}
