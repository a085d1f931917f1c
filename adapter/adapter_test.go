package adapter

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/virgilvox/clasp-flow-sub003/buffer"
	"github.com/virgilvox/clasp-flow-sub003/config"
	"github.com/virgilvox/clasp-flow-sub003/connstate"
	"github.com/virgilvox/clasp-flow-sub003/errors"
)

// fakeHooks is a scriptable protocol client for adapter tests
type fakeHooks struct {
	mu              sync.Mutex
	connectErr      error
	disconnectErr   error
	sendErr         error
	connectCalls    int
	disconnectCalls int
	sent            []any
}

func (f *fakeHooks) DoConnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectErr
}

func (f *fakeHooks) DoDisconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalls++
	return f.disconnectErr
}

func (f *fakeHooks) DoSend(_ context.Context, data any, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeHooks) setConnectErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

func (f *fakeHooks) connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func (f *fakeHooks) sentData() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

func testConfig(id string) config.ConnectionConfig {
	return config.ConnectionConfig{
		ID:             id,
		Protocol:       "test",
		ReconnectDelay: time.Hour, // timers never fire unless a test shortens this
	}
}

func newTestAdapter(t *testing.T, cfg config.ConnectionConfig, hooks Hooks, opts ...Option) *Base {
	t.Helper()
	a := New(cfg, hooks, opts...)
	t.Cleanup(a.Dispose)
	return a
}

func newTestBuffer(t *testing.T) *buffer.Manager {
	t.Helper()
	mgr, err := buffer.NewManager(buffer.Config{MaxBufferSize: 10})
	require.NoError(t, err)
	t.Cleanup(mgr.Dispose)
	return mgr
}

func TestConnectSuccess(t *testing.T) {
	hooks := &fakeHooks{}
	a := newTestAdapter(t, testConfig("c1"), hooks)

	require.NoError(t, a.Connect(context.Background()))
	assert.True(t, a.Machine().IsConnected())
	assert.Equal(t, 1, hooks.connects())
	assert.False(t, a.Machine().Context().LastConnected.IsZero())
}

func TestConnectNoOpWhenConnected(t *testing.T) {
	hooks := &fakeHooks{}
	a := newTestAdapter(t, testConfig("c1"), hooks)

	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.Connect(context.Background()))
	assert.Equal(t, 1, hooks.connects(), "second connect is a no-op")
}

func TestConnectFailureRecordedAndReturned(t *testing.T) {
	hooks := &fakeHooks{connectErr: stderrors.New("dial refused")}
	a := newTestAdapter(t, testConfig("c1"), hooks)

	var statusStates []connstate.State
	a.OnStatusChange(func(s connstate.State, _ connstate.Context) {
		statusStates = append(statusStates, s)
	})

	err := a.Connect(context.Background())
	require.Error(t, err, "connect failures reach the awaiting caller")
	assert.Contains(t, err.Error(), "dial refused")

	// and the state machine observed them too
	assert.True(t, a.Machine().IsError())
	assert.Equal(t, "dial refused", a.Machine().Context().Err)
	assert.Equal(t, []connstate.State{connstate.StateConnecting, connstate.StateError}, statusStates)
}

func TestConnectAfterDisposeRejects(t *testing.T) {
	a := New(testConfig("c1"), &fakeHooks{})
	a.Dispose()

	err := a.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrDisposed))

	assert.Error(t, a.Disconnect(context.Background()))
	assert.Error(t, a.Send(context.Background(), "x", buffer.Options{}))
}

func TestDisconnect(t *testing.T) {
	hooks := &fakeHooks{}
	a := newTestAdapter(t, testConfig("c1"), hooks)

	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.Disconnect(context.Background()))

	assert.Equal(t, connstate.StateDisconnected, a.Machine().State())
	assert.Equal(t, 1, hooks.disconnectCalls)

	// already disconnected: no-op
	require.NoError(t, a.Disconnect(context.Background()))
	assert.Equal(t, 1, hooks.disconnectCalls)
}

func TestDisconnectFromErrorSkipsTransport(t *testing.T) {
	hooks := &fakeHooks{}
	a := newTestAdapter(t, testConfig("c1"), hooks)

	require.NoError(t, a.Connect(context.Background()))
	a.HandleUnexpectedDisconnect("link dropped")
	require.True(t, a.Machine().IsError())

	require.NoError(t, a.Disconnect(context.Background()))
	assert.Equal(t, connstate.StateDisconnected, a.Machine().State())
	assert.Zero(t, hooks.disconnectCalls, "transport already gone in error state")
}

func TestDisconnectFailure(t *testing.T) {
	hooks := &fakeHooks{disconnectErr: stderrors.New("close timeout")}
	a := newTestAdapter(t, testConfig("c1"), hooks)

	require.NoError(t, a.Connect(context.Background()))
	err := a.Disconnect(context.Background())
	require.Error(t, err)
	assert.True(t, a.Machine().IsError())
	assert.Equal(t, "close timeout", a.Machine().Context().Err)
}

func TestSendWhileConnected(t *testing.T) {
	hooks := &fakeHooks{}
	a := newTestAdapter(t, testConfig("c1"), hooks)

	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.Send(context.Background(), "payload", buffer.Options{}))
	assert.Equal(t, []any{"payload"}, hooks.sentData())
}

func TestSendWhileDisconnectedBuffers(t *testing.T) {
	hooks := &fakeHooks{}
	cfg := testConfig("c1")
	cfg.Buffered = true
	a := newTestAdapter(t, cfg, hooks, WithBuffer(newTestBuffer(t)))

	require.NoError(t, a.Send(context.Background(), "while down", buffer.Options{}))
	assert.Equal(t, 1, a.BufferedCount())
	assert.Empty(t, hooks.sentData())
}

func TestSendWhileDisconnectedWithoutBufferFails(t *testing.T) {
	a := newTestAdapter(t, testConfig("c1"), &fakeHooks{})

	err := a.Send(context.Background(), "lost", buffer.Options{})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrNotConnected))
}

func TestSendFailureAbsorbedByBuffer(t *testing.T) {
	hooks := &fakeHooks{sendErr: stderrors.New("broken pipe")}
	cfg := testConfig("c1")
	cfg.Buffered = true
	a := newTestAdapter(t, cfg, hooks, WithBuffer(newTestBuffer(t)))

	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.Send(context.Background(), "retry me", buffer.Options{}),
		"send failure is absorbed by the buffer, not thrown")
	assert.Equal(t, 1, a.BufferedCount())
}

func TestSendFailureWithoutBufferReturned(t *testing.T) {
	hooks := &fakeHooks{sendErr: stderrors.New("broken pipe")}
	a := newTestAdapter(t, testConfig("c1"), hooks)

	require.NoError(t, a.Connect(context.Background()))
	err := a.Send(context.Background(), "lost", buffer.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestSendRateLimited(t *testing.T) {
	hooks := &fakeHooks{}
	a := newTestAdapter(t, testConfig("c1"), hooks,
		WithSendRateLimit(rate.Limit(1000), 1))

	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.Send(context.Background(), "one", buffer.Options{}))
	require.NoError(t, a.Send(context.Background(), "two", buffer.Options{}))
	assert.Len(t, hooks.sentData(), 2)
}

func TestFlushBufferedReplaysInOrder(t *testing.T) {
	hooks := &fakeHooks{}
	cfg := testConfig("c1")
	cfg.Buffered = true
	a := newTestAdapter(t, cfg, hooks, WithBuffer(newTestBuffer(t)))

	require.NoError(t, a.Send(context.Background(), "low", buffer.Options{Priority: buffer.PriorityLow}))
	require.NoError(t, a.Send(context.Background(), "critical", buffer.Options{Priority: buffer.PriorityCritical}))
	require.NoError(t, a.Send(context.Background(), "normal", buffer.Options{Priority: buffer.PriorityNormal}))
	require.Equal(t, 3, a.BufferedCount())

	require.NoError(t, a.Connect(context.Background()))
	delivered := a.FlushBuffered(context.Background())

	assert.Equal(t, 3, delivered)
	assert.Equal(t, []any{"critical", "normal", "low"}, hooks.sentData())
	assert.Zero(t, a.BufferedCount())
}

func TestFlushBufferedFailuresConsumeRetries(t *testing.T) {
	hooks := &fakeHooks{sendErr: stderrors.New("still down")}
	cfg := testConfig("c1")
	cfg.Buffered = true
	mgr, err := buffer.NewManager(buffer.Config{MaxBufferSize: 10, DefaultMaxRetries: 2})
	require.NoError(t, err)
	t.Cleanup(mgr.Dispose)
	a := newTestAdapter(t, cfg, hooks, WithBuffer(mgr))

	require.NoError(t, a.Send(context.Background(), "flaky", buffer.Options{}))
	require.NoError(t, a.Connect(context.Background()))

	assert.Zero(t, a.FlushBuffered(context.Background()))
	assert.Equal(t, 1, a.BufferedCount(), "one retry left")

	var exhausted error
	a.OnError(func(err error) { exhausted = err })
	assert.Zero(t, a.FlushBuffered(context.Background()))
	assert.Zero(t, a.BufferedCount(), "retry budget exhausted")
	require.Error(t, exhausted)
	assert.True(t, stderrors.Is(exhausted, errors.ErrRetryExhausted))
}

func TestScheduleReconnectRequiresAutoReconnect(t *testing.T) {
	a := newTestAdapter(t, testConfig("c1"), &fakeHooks{})

	require.NoError(t, a.Connect(context.Background()))
	a.HandleUnexpectedDisconnect("")

	a.ScheduleReconnect()
	assert.Equal(t, connstate.StateError, a.Machine().State(), "no-op without autoReconnect")
	assert.Zero(t, a.Machine().Context().ReconnectAttempts)
}

func TestReconnectCeilingIsHard(t *testing.T) {
	hooks := &fakeHooks{}
	cfg := testConfig("c1")
	cfg.AutoReconnect = true
	cfg.MaxReconnectAttempts = 2
	cfg.ReconnectDelay = 5 * time.Millisecond
	a := newTestAdapter(t, cfg, hooks)

	require.NoError(t, a.Connect(context.Background()))

	// transport drops and stays down
	hooks.setConnectErr(stderrors.New("endpoint gone"))
	a.HandleUnexpectedDisconnect("endpoint gone")
	require.True(t, a.Machine().IsError())

	a.ScheduleReconnect()

	// the reconnect loop runs until the ceiling stops it
	assert.Eventually(t, func() bool {
		return a.Machine().Context().ReconnectAttempts == 2 &&
			a.Machine().IsError()
	}, time.Second, 5*time.Millisecond)

	time.Sleep(25 * time.Millisecond) // no further timer may fire
	connects := hooks.connects()

	// a further call is a hard no-op: no transition, no timer
	a.ScheduleReconnect()
	time.Sleep(25 * time.Millisecond)

	assert.Equal(t, connstate.StateError, a.Machine().State())
	assert.Equal(t, 2, a.Machine().Context().ReconnectAttempts)
	assert.Equal(t, connects, hooks.connects())
}

func TestReconnectRecoversAndFlushes(t *testing.T) {
	hooks := &fakeHooks{}
	cfg := testConfig("c1")
	cfg.AutoReconnect = true
	cfg.Buffered = true
	cfg.ReconnectDelay = 5 * time.Millisecond
	a := newTestAdapter(t, cfg, hooks, WithBuffer(newTestBuffer(t)))

	require.NoError(t, a.Connect(context.Background()))
	a.HandleUnexpectedDisconnect("blip")
	require.NoError(t, a.Send(context.Background(), "queued while down", buffer.Options{}))

	a.ScheduleReconnect()

	assert.Eventually(t, func() bool {
		return a.Machine().IsConnected() && a.BufferedCount() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{"queued while down"}, hooks.sentData())
	assert.Zero(t, a.Machine().Context().ReconnectAttempts, "successful connect resets attempts")
}

func TestCancelReconnect(t *testing.T) {
	hooks := &fakeHooks{}
	cfg := testConfig("c1")
	cfg.AutoReconnect = true
	cfg.ReconnectDelay = 20 * time.Millisecond
	a := newTestAdapter(t, cfg, hooks)

	require.NoError(t, a.Connect(context.Background()))
	a.HandleUnexpectedDisconnect("")
	a.ScheduleReconnect()
	require.Equal(t, connstate.StateReconnecting, a.Machine().State())

	a.CancelReconnect()
	time.Sleep(60 * time.Millisecond)

	// machine state untouched, timer never fired
	assert.Equal(t, connstate.StateReconnecting, a.Machine().State())
	assert.Equal(t, 1, hooks.connects())
}

// parkTimerFire drives an adapter into reconnecting, then replays the armed
// timer's fire on a goroutine that has passed its generation check but is
// parked waiting for the operation lock, which the caller holds.
func parkTimerFire(t *testing.T, a *Base) chan struct{} {
	t.Helper()

	require.NoError(t, a.Connect(context.Background()))
	a.HandleUnexpectedDisconnect("")
	a.ScheduleReconnect()
	require.Equal(t, connstate.StateReconnecting, a.Machine().State())

	a.mu.Lock()
	gen := a.timerGen
	a.mu.Unlock()

	a.opMu.Lock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.onReconnectTimer(gen)
	}()

	// the goroutine clears the timer handle when it passes the first check
	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.reconnectTimer == nil
	}, time.Second, time.Millisecond)

	return done
}

func TestStaleTimerFireIgnoredAfterDispose(t *testing.T) {
	hooks := &fakeHooks{}
	cfg := testConfig("c1")
	cfg.AutoReconnect = true
	a := newTestAdapter(t, cfg, hooks)

	done := parkTimerFire(t, a)

	a.Dispose()
	a.opMu.Unlock()
	<-done

	// the stale fire neither transitioned the machine nor dialed
	assert.Equal(t, connstate.StateReconnecting, a.Machine().State())
	assert.Equal(t, 1, hooks.connects())
}

func TestStaleTimerFireIgnoredAfterCancel(t *testing.T) {
	hooks := &fakeHooks{}
	cfg := testConfig("c1")
	cfg.AutoReconnect = true
	a := newTestAdapter(t, cfg, hooks)

	done := parkTimerFire(t, a)

	a.CancelReconnect()
	a.opMu.Unlock()
	<-done

	assert.Equal(t, connstate.StateReconnecting, a.Machine().State())
	assert.Equal(t, 1, hooks.connects())
}

func TestHandleUnexpectedDisconnectDefaultMessage(t *testing.T) {
	a := newTestAdapter(t, testConfig("c1"), &fakeHooks{})

	require.NoError(t, a.Connect(context.Background()))
	a.HandleUnexpectedDisconnect("")

	assert.True(t, a.Machine().IsError())
	assert.Equal(t, errors.ErrUnexpectedClosure.Error(), a.Machine().Context().Err)
}

func TestEmitMessageAndErrorStreams(t *testing.T) {
	a := newTestAdapter(t, testConfig("c1"), &fakeHooks{})

	var messages []any
	var errs []error
	unsubMsg := a.OnMessage(func(data any) { messages = append(messages, data) })
	a.OnError(func(err error) { errs = append(errs, err) })

	a.EmitMessage("inbound")
	a.EmitError(stderrors.New("async failure"))

	assert.Equal(t, []any{"inbound"}, messages)
	require.Len(t, errs, 1)

	unsubMsg()
	unsubMsg() // idempotent
	a.EmitMessage("after unsubscribe")
	assert.Len(t, messages, 1)
}

func TestSubscriberPanicIsolated(t *testing.T) {
	a := newTestAdapter(t, testConfig("c1"), &fakeHooks{})

	reached := false
	a.OnMessage(func(any) { panic("handler bug") })
	a.OnMessage(func(any) { reached = true })

	require.NotPanics(t, func() { a.EmitMessage("x") })
	assert.True(t, reached)
}

func TestDisposeClearsSubscribers(t *testing.T) {
	a := New(testConfig("c1"), &fakeHooks{})

	statusFired := false
	messageFired := false
	a.OnStatusChange(func(connstate.State, connstate.Context) { statusFired = true })
	a.OnMessage(func(any) { messageFired = true })

	a.Dispose()
	a.Dispose() // idempotent

	a.EmitMessage("ignored")
	a.Machine().Send(connstate.Connect())

	assert.False(t, statusFired)
	assert.False(t, messageFired)
}

func TestCanConnectCanDisconnect(t *testing.T) {
	a := newTestAdapter(t, testConfig("c1"), &fakeHooks{})

	assert.True(t, a.CanConnect())
	assert.False(t, a.CanDisconnect())

	require.NoError(t, a.Connect(context.Background()))
	assert.False(t, a.CanConnect())
	assert.True(t, a.CanDisconnect())
}

func TestExtendedStatus(t *testing.T) {
	cfg := testConfig("c1")
	cfg.Buffered = true
	a := newTestAdapter(t, cfg, &fakeHooks{}, WithBuffer(newTestBuffer(t)))

	require.NoError(t, a.Send(context.Background(), "held", buffer.Options{}))
	require.NoError(t, a.Connect(context.Background()))

	status := a.ExtendedStatus()
	assert.Equal(t, "c1", status.ID)
	assert.Equal(t, "test", status.Protocol)
	assert.Equal(t, "connected", status.State)
	assert.False(t, status.Busy)
	assert.Equal(t, 1, status.BufferedMessages)
	assert.False(t, status.LastConnected.IsZero())
	assert.Empty(t, status.Error)
}
