package connstate

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// State represents the current lifecycle state of a connection
type State int

const (
	// StateIdle indicates the connection was created but never started
	StateIdle State = iota
	// StateConnecting indicates a connect attempt is in flight
	StateConnecting
	// StateConnected indicates the connection is established
	StateConnected
	// StateDisconnecting indicates a disconnect is in flight
	StateDisconnecting
	// StateDisconnected indicates the connection was closed cleanly
	StateDisconnected
	// StateReconnecting indicates a reconnect attempt has been scheduled
	StateReconnecting
	// StateError indicates the last operation on the connection failed
	StateError
)

// String returns a string representation of the connection state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// EventKind identifies the kind of a connection lifecycle event
type EventKind int

const (
	// EventConnect requests a connect attempt
	EventConnect EventKind = iota
	// EventConnected reports a successful connect
	EventConnected
	// EventDisconnect requests a disconnect
	EventDisconnect
	// EventDisconnected reports a completed disconnect
	EventDisconnected
	// EventError reports a failed operation with a message
	EventError
	// EventReconnectScheduled reports that a reconnect timer was armed
	EventReconnectScheduled
	// EventReconnectStart reports that a scheduled reconnect is firing
	EventReconnectStart
	// EventReset returns the connection to idle
	EventReset
)

// String returns a string representation of the event kind
func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "CONNECT"
	case EventConnected:
		return "CONNECTED"
	case EventDisconnect:
		return "DISCONNECT"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventError:
		return "ERROR"
	case EventReconnectScheduled:
		return "RECONNECT_SCHEDULED"
	case EventReconnectStart:
		return "RECONNECT_START"
	case EventReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// Event is a connection lifecycle event. Only Error events carry a payload;
// use the constructor functions rather than building Event values directly.
type Event struct {
	Kind    EventKind
	Message string // set for EventError only
}

// Connect returns a CONNECT event
func Connect() Event { return Event{Kind: EventConnect} }

// Connected returns a CONNECTED event
func Connected() Event { return Event{Kind: EventConnected} }

// Disconnect returns a DISCONNECT event
func Disconnect() Event { return Event{Kind: EventDisconnect} }

// Disconnected returns a DISCONNECTED event
func Disconnected() Event { return Event{Kind: EventDisconnected} }

// Error returns an ERROR event carrying a failure message
func Error(message string) Event { return Event{Kind: EventError, Message: message} }

// ReconnectScheduled returns a RECONNECT_SCHEDULED event
func ReconnectScheduled() Event { return Event{Kind: EventReconnectScheduled} }

// ReconnectStart returns a RECONNECT_START event
func ReconnectStart() Event { return Event{Kind: EventReconnectStart} }

// Reset returns a RESET event
func Reset() Event { return Event{Kind: EventReset} }

// Context holds the bookkeeping that accompanies the connection state.
// It is mutated only as a side effect of an accepted transition.
type Context struct {
	// ReconnectAttempts counts RECONNECT_SCHEDULED events since the last
	// successful connect or reset
	ReconnectAttempts int

	// StateChangedAt is the time of the last accepted transition
	StateChangedAt time.Time

	// LastConnected is the time of the last successful connect
	// (zero value means never connected)
	LastConnected time.Time

	// Err holds the last failure message (empty means no error)
	Err string
}

// ContextPatch describes a partial context overlay for ForceState.
// Nil fields leave the current value untouched.
type ContextPatch struct {
	ReconnectAttempts *int
	LastConnected     *time.Time
	Err               *string
}

// Listener is invoked after every accepted transition with the new state,
// a copy of the context, and the event that caused the transition.
type Listener func(state State, ctx Context, event Event)

// transitions is the strict whitelist of accepted (state, event) pairs.
// Any pair not listed here is rejected without side effects.
var transitions = map[State]map[EventKind]State{
	StateIdle: {
		EventConnect: StateConnecting,
	},
	StateConnecting: {
		EventConnected:  StateConnected,
		EventError:      StateError,
		EventDisconnect: StateDisconnecting,
	},
	StateConnected: {
		EventDisconnect: StateDisconnecting,
		EventError:      StateError,
	},
	StateDisconnecting: {
		EventDisconnected: StateDisconnected,
		EventError:        StateError,
	},
	StateDisconnected: {
		EventConnect:            StateConnecting,
		EventReconnectScheduled: StateReconnecting,
		EventReset:              StateIdle,
	},
	StateReconnecting: {
		EventReconnectStart: StateConnecting,
		EventDisconnect:     StateDisconnected,
		EventReset:          StateIdle,
	},
	StateError: {
		EventConnect:            StateConnecting,
		EventReconnectScheduled: StateReconnecting,
		EventReset:              StateIdle,
		EventDisconnect:         StateDisconnected,
	},
}

// Machine is the per-connection state machine. It performs no I/O and never
// blocks; Send either fully applies a transition (state, context, listener
// notifications) or fully rejects it.
//
// One Machine instance exists per adapter instance. All methods are safe for
// concurrent use.
type Machine struct {
	mu    sync.Mutex
	state State
	ctx   Context

	// notifyMu serializes listener notification in transition application
	// order. It is acquired before mu is released (lock order mu, notifyMu)
	// so concurrent senders cannot deliver notifications out of order.
	notifyMu sync.Mutex

	listeners map[int]Listener
	nextID    int
	order     []int
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Machine
type Option func(*Machine)

// WithLogger sets the logger used for listener failure reports
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// withClock overrides the time source (test hook)
func withClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// NewMachine creates a state machine in the idle state
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		state:     StateIdle,
		listeners: make(map[int]Listener),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ctx.StateChangedAt = m.now()
	return m
}

// State returns the current connection state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Context returns a copy of the current context
func (m *Machine) Context() Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// Can reports whether the event kind would be accepted in the current state
func (m *Machine) Can(kind EventKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := transitions[m.state][kind]
	return ok
}

// ValidEvents returns the event kinds accepted in the current state,
// in a stable order
func (m *Machine) ValidEvents() []EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := transitions[m.state]
	kinds := make([]EventKind, 0, len(row))
	for kind := range row {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Send applies the event if it is valid for the current state. It returns
// true if the transition was accepted, false if rejected. Rejection leaves
// state and context untouched and notifies no listeners.
//
// Listeners for concurrently accepted transitions run in the order the
// transitions were applied. A listener must not call Send or ForceState on
// the same machine; drive follow-up transitions from another goroutine.
func (m *Machine) Send(event Event) bool {
	m.mu.Lock()

	next, ok := transitions[m.state][event.Kind]
	if !ok {
		m.mu.Unlock()
		return false
	}

	m.state = next
	m.applySideEffects(event)
	m.ctx.StateChangedAt = m.now()

	state, ctx, listeners := m.state, m.ctx, m.snapshotListeners()

	// claim the notification slot before releasing the state lock, so a
	// racing sender cannot deliver its notifications first
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	m.notify(listeners, state, ctx, event)
	return true
}

// applySideEffects mutates the context for events that carry side effects.
// Caller must hold m.mu.
func (m *Machine) applySideEffects(event Event) {
	switch event.Kind {
	case EventConnected:
		m.ctx.Err = ""
		m.ctx.LastConnected = m.now()
		m.ctx.ReconnectAttempts = 0
	case EventError:
		m.ctx.Err = event.Message
	case EventReconnectScheduled:
		m.ctx.ReconnectAttempts++
	case EventReset:
		m.ctx.Err = ""
		m.ctx.ReconnectAttempts = 0
	}
}

// ForceState bypasses the transition table and assigns the state directly,
// overlaying any non-nil patch fields onto the context. Listeners are
// notified with a synthetic RESET-kind event. Intended for recovery and
// test scenarios only.
func (m *Machine) ForceState(state State, patch *ContextPatch) {
	m.mu.Lock()

	m.state = state
	if patch != nil {
		if patch.ReconnectAttempts != nil {
			m.ctx.ReconnectAttempts = *patch.ReconnectAttempts
		}
		if patch.LastConnected != nil {
			m.ctx.LastConnected = *patch.LastConnected
		}
		if patch.Err != nil {
			m.ctx.Err = *patch.Err
		}
	}
	m.ctx.StateChangedAt = m.now()

	newState, ctx, listeners := m.state, m.ctx, m.snapshotListeners()

	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	m.notify(listeners, newState, ctx, Event{Kind: EventReset})
}

// OnStateChange registers a listener invoked synchronously, in registration
// order, after every accepted transition. The returned function removes the
// listener and is safe to call more than once.
func (m *Machine) OnStateChange(listener Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = listener
	m.order = append(m.order, id)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			for i, v := range m.order {
				if v == id {
					m.order = append(m.order[:i], m.order[i+1:]...)
					break
				}
			}
			m.mu.Unlock()
		})
	}
}

// snapshotListeners returns the registered listeners in registration order.
// Caller must hold m.mu.
func (m *Machine) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(m.order))
	for _, id := range m.order {
		if l, ok := m.listeners[id]; ok {
			out = append(out, l)
		}
	}
	return out
}

// notify invokes listeners outside the lock. A panicking listener is
// recovered and logged so it cannot prevent later listeners from running
// or escape into the caller of Send.
func (m *Machine) notify(listeners []Listener, state State, ctx Context, event Event) {
	for _, listener := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("state change listener panicked",
						"state", state.String(),
						"event", event.Kind.String(),
						"panic", r)
				}
			}()
			listener(state, ctx, event)
		}()
	}
}

// IsBusy reports whether a connect or disconnect is in flight
func (m *Machine) IsBusy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnecting || m.state == StateDisconnecting
}

// IsConnected reports whether the connection is established
func (m *Machine) IsConnected() bool {
	return m.State() == StateConnected
}

// IsError reports whether the connection is in the error state
func (m *Machine) IsError() bool {
	return m.State() == StateError
}

// StateDuration returns how long the machine has been in its current state
func (m *Machine) StateDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Sub(m.ctx.StateChangedAt)
}
