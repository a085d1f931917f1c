package adapter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/virgilvox/clasp-flow-sub003/buffer"
	"github.com/virgilvox/clasp-flow-sub003/config"
	"github.com/virgilvox/clasp-flow-sub003/connstate"
	"github.com/virgilvox/clasp-flow-sub003/errors"
)

// Hooks is the protocol-specific surface a concrete client supplies.
// The base adapter owns all lifecycle and reconnection bookkeeping; hooks
// only perform the actual I/O and report failure by returning an error.
type Hooks interface {
	// DoConnect establishes the transport
	DoConnect(ctx context.Context) error

	// DoDisconnect closes the transport
	DoDisconnect(ctx context.Context) error

	// DoSend delivers one payload over the established transport
	DoSend(ctx context.Context, data any, opts any) error
}

// MessageHandler receives inbound payloads emitted by the concrete client
type MessageHandler func(data any)

// ErrorHandler receives asynchronous adapter errors
type ErrorHandler func(err error)

// StatusHandler receives state machine transitions
type StatusHandler func(state connstate.State, ctx connstate.Context)

// ExtendedStatus is a read-only composite of connection state for the
// executor and the UI
type ExtendedStatus struct {
	ID                string    `json:"id"`
	Protocol          string    `json:"protocol"`
	State             string    `json:"state"`
	Busy              bool      `json:"busy"`
	BufferedMessages  int       `json:"buffered_messages"`
	LastConnected     time.Time `json:"last_connected,omitzero"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	Error             string    `json:"error,omitempty"`
}

// Base is the reusable connection lifecycle every protocol client builds
// on. It drives a private state machine, buffers outbound traffic while
// the connection is down, and exposes status/message/error event streams.
//
// Lifecycle operations on one Base never run concurrently (they serialize
// on an internal mutex); distinct adapters are fully independent.
type Base struct {
	cfg     config.ConnectionConfig
	hooks   Hooks
	machine *connstate.Machine
	buffers *buffer.Manager
	logger  *slog.Logger
	limiter *rate.Limiter

	// opMu serializes Connect/Disconnect/Send on this adapter
	opMu sync.Mutex

	// mu guards disposal and the reconnect timer
	mu             sync.Mutex
	disposed       bool
	reconnectTimer *time.Timer
	timerGen       uint64

	// subMu guards the subscriber sets
	subMu        sync.Mutex
	messageSubs  map[int]MessageHandler
	errorSubs    map[int]ErrorHandler
	nextSubID    int
	machineUnsub []func()
}

// Option configures a Base adapter
type Option func(*Base)

// WithBuffer shares a message buffer manager with the adapter. Without a
// buffer, send failures while disconnected surface to the caller directly.
func WithBuffer(mgr *buffer.Manager) Option {
	return func(b *Base) {
		b.buffers = mgr
	}
}

// WithLogger sets the adapter logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSendRateLimit throttles outbound sends. Zero limit means unlimited.
func WithSendRateLimit(limit rate.Limit, burst int) Option {
	return func(b *Base) {
		if limit > 0 {
			b.limiter = rate.NewLimiter(limit, burst)
		}
	}
}

// New creates a base adapter around the supplied hooks. The adapter owns
// its state machine from construction until Dispose.
func New(cfg config.ConnectionConfig, hooks Hooks, opts ...Option) *Base {
	b := &Base{
		cfg:         cfg,
		hooks:       hooks,
		logger:      slog.Default(),
		messageSubs: make(map[int]MessageHandler),
		errorSubs:   make(map[int]ErrorHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.machine = connstate.NewMachine(connstate.WithLogger(b.logger))
	return b
}

// ID returns the connection id
func (b *Base) ID() string {
	return b.cfg.ID
}

// Config returns the connection configuration
func (b *Base) Config() config.ConnectionConfig {
	return b.cfg
}

// Machine exposes the adapter's state machine for status queries
func (b *Base) Machine() *connstate.Machine {
	return b.machine
}

// isDisposed reports terminal disposal
func (b *Base) isDisposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposed
}

// Connect establishes the connection. It is a no-op when already connected
// or while a connect/disconnect is in flight, and rejects once the adapter
// is disposed. A connect failure is recorded in the state machine and
// returned to the caller.
func (b *Base) Connect(ctx context.Context) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	if b.isDisposed() {
		return errors.WrapFatal(errors.ErrDisposed, b.cfg.ID, "Connect", "lifecycle check")
	}
	if b.machine.IsConnected() || b.machine.IsBusy() {
		return nil
	}
	if !b.machine.Send(connstate.Connect()) {
		return nil
	}

	return b.establish(ctx)
}

// establish runs the connect hook from the connecting state and drives the
// resulting transition. Caller must hold opMu.
func (b *Base) establish(ctx context.Context) error {
	if err := b.hooks.DoConnect(ctx); err != nil {
		b.machine.Send(connstate.Error(err.Error()))
		b.logger.Warn("connect failed",
			"connection_id", b.cfg.ID,
			"protocol", b.cfg.Protocol,
			"error", err)
		return errors.WrapTransient(err, b.cfg.ID, "Connect", "transport connect")
	}

	b.machine.Send(connstate.Connected())
	b.logger.Info("connected",
		"connection_id", b.cfg.ID,
		"protocol", b.cfg.Protocol)
	return nil
}

// Disconnect closes the connection. It is a no-op when already
// disconnected. From the reconnecting and error states the transport is
// already gone, so only the state machine moves; otherwise the disconnect
// hook runs and its failure is recorded and returned.
func (b *Base) Disconnect(ctx context.Context) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	if b.isDisposed() {
		return errors.WrapFatal(errors.ErrDisposed, b.cfg.ID, "Disconnect", "lifecycle check")
	}

	switch b.machine.State() {
	case connstate.StateDisconnected, connstate.StateIdle:
		return nil
	case connstate.StateReconnecting, connstate.StateError:
		b.CancelReconnect()
		b.machine.Send(connstate.Disconnect())
		return nil
	}

	if !b.machine.Send(connstate.Disconnect()) {
		return nil
	}

	if err := b.hooks.DoDisconnect(ctx); err != nil {
		b.machine.Send(connstate.Error(err.Error()))
		return errors.WrapTransient(err, b.cfg.ID, "Disconnect", "transport disconnect")
	}

	b.machine.Send(connstate.Disconnected())
	b.logger.Info("disconnected", "connection_id", b.cfg.ID)
	return nil
}

// Send delivers a payload over the connection. While disconnected, or when
// an in-flight send fails, the payload is absorbed by the message buffer
// when buffering is enabled for this connection; otherwise the failure is
// returned to the caller.
func (b *Base) Send(ctx context.Context, data any, opts buffer.Options) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	if b.isDisposed() {
		return errors.WrapFatal(errors.ErrDisposed, b.cfg.ID, "Send", "lifecycle check")
	}

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return errors.WrapTransient(err, b.cfg.ID, "Send", "rate limit wait")
		}
	}

	if !b.machine.IsConnected() {
		if b.bufferEnabled() {
			if _, ok := b.buffers.Enqueue(b.cfg.ID, data, opts); !ok {
				return errors.WrapTransient(errors.ErrBufferFull, b.cfg.ID, "Send", "buffering")
			}
			return nil
		}
		return errors.WrapTransient(errors.ErrNotConnected, b.cfg.ID, "Send", "connection check")
	}

	if err := b.hooks.DoSend(ctx, data, opts.SendOptions); err != nil {
		if b.bufferEnabled() {
			if _, ok := b.buffers.Enqueue(b.cfg.ID, data, opts); !ok {
				return errors.WrapTransient(errors.ErrBufferFull, b.cfg.ID, "Send", "buffering after failure")
			}
			b.logger.Debug("send failed, message buffered",
				"connection_id", b.cfg.ID,
				"error", err)
			return nil
		}
		return errors.WrapTransient(err, b.cfg.ID, "Send", "transport send")
	}
	return nil
}

// bufferEnabled reports whether this connection buffers outbound traffic
func (b *Base) bufferEnabled() bool {
	return b.buffers != nil && b.cfg.Buffered
}

// BufferedCount returns the number of messages buffered for this connection
func (b *Base) BufferedCount() int {
	if b.buffers == nil {
		return 0
	}
	return b.buffers.Depth(b.cfg.ID)
}

// FlushBuffered replays deliverable buffered messages through the send
// hook, in priority-then-FIFO order. Delivered messages are removed; failed
// deliveries consume one retry. It returns the number delivered.
func (b *Base) FlushBuffered(ctx context.Context) int {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	if b.buffers == nil || !b.machine.IsConnected() {
		return 0
	}

	delivered := 0
	for _, msg := range b.buffers.ReadyMessages(b.cfg.ID) {
		if err := b.hooks.DoSend(ctx, msg.Data, msg.SendOptions); err != nil {
			if !b.buffers.MarkFailed(msg.ID) {
				b.emitError(errors.WrapTransient(errors.ErrRetryExhausted,
					b.cfg.ID, "FlushBuffered", "message delivery"))
			}
			continue
		}
		b.buffers.MarkSent(msg.ID)
		delivered++
	}

	if delivered > 0 {
		b.logger.Info("flushed buffered messages",
			"connection_id", b.cfg.ID,
			"delivered", delivered)
	}
	return delivered
}

// ScheduleReconnect arms a reconnect timer for the configured delay. It is
// a no-op unless auto-reconnect is enabled, and a hard no-op once the
// attempt ceiling is reached: the state machine does not transition and no
// timer is armed. The delay is constant across attempts.
func (b *Base) ScheduleReconnect() {
	if !b.cfg.AutoReconnect {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return
	}

	attempts := b.machine.Context().ReconnectAttempts
	if b.cfg.MaxReconnectAttempts > 0 && attempts >= b.cfg.MaxReconnectAttempts {
		b.logger.Warn("reconnect attempt ceiling reached",
			"connection_id", b.cfg.ID,
			"attempts", attempts)
		return
	}

	if !b.machine.Send(connstate.ReconnectScheduled()) {
		return
	}

	if b.reconnectTimer != nil {
		b.reconnectTimer.Stop()
	}
	b.timerGen++
	gen := b.timerGen
	b.reconnectTimer = time.AfterFunc(b.cfg.ReconnectDelay, func() {
		b.onReconnectTimer(gen)
	})

	b.logger.Debug("reconnect scheduled",
		"connection_id", b.cfg.ID,
		"attempt", b.machine.Context().ReconnectAttempts,
		"delay", b.cfg.ReconnectDelay)
}

// onReconnectTimer fires a scheduled reconnect. A fire that raced
// cancellation or disposal is ignored via the generation check; the check
// is repeated once opMu is held, because Dispose or CancelReconnect may
// have completed while this goroutine waited for an in-flight operation.
func (b *Base) onReconnectTimer(gen uint64) {
	b.mu.Lock()
	if b.disposed || gen != b.timerGen {
		b.mu.Unlock()
		return
	}
	b.reconnectTimer = nil
	b.mu.Unlock()

	b.opMu.Lock()

	b.mu.Lock()
	stale := b.disposed || gen != b.timerGen
	b.mu.Unlock()
	if stale || !b.machine.Send(connstate.ReconnectStart()) {
		b.opMu.Unlock()
		return
	}

	err := b.establish(context.Background())
	b.opMu.Unlock()

	if err != nil {
		b.emitError(err)
		// keep the reconnect loop alive until the ceiling stops it
		b.ScheduleReconnect()
		return
	}

	if !b.isDisposed() {
		b.FlushBuffered(context.Background())
	}
}

// CancelReconnect clears any armed reconnect timer without altering the
// state machine. A timer that fired concurrently is ignored after return.
func (b *Base) CancelReconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.timerGen++
	if b.reconnectTimer != nil {
		b.reconnectTimer.Stop()
		b.reconnectTimer = nil
	}
}

// HandleUnexpectedDisconnect is called by a concrete client when the
// transport reports an unsolicited closure. It drives the ERROR transition
// so the standard reconnection path applies to silent drops and explicit
// failures alike.
func (b *Base) HandleUnexpectedDisconnect(errorMessage string) {
	if b.isDisposed() {
		return
	}
	if errorMessage == "" {
		errorMessage = errors.ErrUnexpectedClosure.Error()
	}

	if b.machine.Send(connstate.Error(errorMessage)) {
		b.logger.Warn("unexpected disconnect",
			"connection_id", b.cfg.ID,
			"error", errorMessage)
	}
}

// OnStatusChange subscribes to accepted state machine transitions. The
// returned function removes the subscription and is idempotent.
func (b *Base) OnStatusChange(handler StatusHandler) func() {
	unsub := b.machine.OnStateChange(func(state connstate.State, ctx connstate.Context, _ connstate.Event) {
		handler(state, ctx)
	})

	b.subMu.Lock()
	b.machineUnsub = append(b.machineUnsub, unsub)
	b.subMu.Unlock()
	return unsub
}

// OnMessage subscribes to inbound payloads emitted by the concrete client
func (b *Base) OnMessage(handler MessageHandler) func() {
	b.subMu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.messageSubs[id] = handler
	b.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.subMu.Lock()
			delete(b.messageSubs, id)
			b.subMu.Unlock()
		})
	}
}

// OnError subscribes to asynchronous adapter errors
func (b *Base) OnError(handler ErrorHandler) func() {
	b.subMu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.errorSubs[id] = handler
	b.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.subMu.Lock()
			delete(b.errorSubs, id)
			b.subMu.Unlock()
		})
	}
}

// EmitMessage delivers an inbound payload to message subscribers. Intended
// for concrete clients. Subscriber panics are isolated and logged.
func (b *Base) EmitMessage(data any) {
	b.subMu.Lock()
	handlers := make([]MessageHandler, 0, len(b.messageSubs))
	for _, h := range b.messageSubs {
		handlers = append(handlers, h)
	}
	b.subMu.Unlock()

	for _, handler := range handlers {
		b.invoke(func() { handler(data) }, "message")
	}
}

// EmitError delivers an error to error subscribers. Intended for concrete
// clients; the base adapter also uses it for reconnect failures.
func (b *Base) EmitError(err error) {
	b.emitError(err)
}

func (b *Base) emitError(err error) {
	b.subMu.Lock()
	handlers := make([]ErrorHandler, 0, len(b.errorSubs))
	for _, h := range b.errorSubs {
		handlers = append(handlers, h)
	}
	b.subMu.Unlock()

	for _, handler := range handlers {
		b.invoke(func() { handler(err) }, "error")
	}
}

// invoke runs a subscriber callback with panic isolation
func (b *Base) invoke(fn func(), kind string) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				"connection_id", b.cfg.ID,
				"stream", kind,
				"panic", r)
		}
	}()
	fn()
}

// CanConnect reports whether a CONNECT event is valid in the current state
func (b *Base) CanConnect() bool {
	return !b.isDisposed() && b.machine.Can(connstate.EventConnect)
}

// CanDisconnect reports whether a DISCONNECT event is valid in the current state
func (b *Base) CanDisconnect() bool {
	return !b.isDisposed() && b.machine.Can(connstate.EventDisconnect)
}

// ExtendedStatus returns a read-only composite of machine state, busy flag,
// buffered-message count, and connection history.
func (b *Base) ExtendedStatus() ExtendedStatus {
	state := b.machine.State()
	ctx := b.machine.Context()
	return ExtendedStatus{
		ID:                b.cfg.ID,
		Protocol:          b.cfg.Protocol,
		State:             state.String(),
		Busy:              b.machine.IsBusy(),
		BufferedMessages:  b.BufferedCount(),
		LastConnected:     ctx.LastConnected,
		ReconnectAttempts: ctx.ReconnectAttempts,
		Error:             ctx.Err,
	}
}

// Dispose is terminal: it cancels any pending reconnect timer and clears
// every subscriber set, so previously registered listeners never fire
// again. All further lifecycle calls reject with ErrDisposed.
func (b *Base) Dispose() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	b.timerGen++
	if b.reconnectTimer != nil {
		b.reconnectTimer.Stop()
		b.reconnectTimer = nil
	}
	b.mu.Unlock()

	b.subMu.Lock()
	unsubs := b.machineUnsub
	b.machineUnsub = nil
	b.messageSubs = make(map[int]MessageHandler)
	b.errorSubs = make(map[int]ErrorHandler)
	b.subMu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	b.logger.Debug("adapter disposed", "connection_id", b.cfg.ID)
}
