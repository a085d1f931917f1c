// Package connstate implements the per-connection lifecycle state machine
// used by every protocol adapter in the connection framework.
//
// # Overview
//
// A Machine tracks one logical connection through the states idle,
// connecting, connected, disconnecting, disconnected, reconnecting, and
// error. Transitions are driven by Event values and governed by a strict
// whitelist: an event that is not valid for the current state is rejected,
// leaving state and context untouched and notifying no listeners.
//
// The machine is pure bookkeeping. It performs no I/O, never suspends, and
// applies every accepted transition atomically with its context side
// effects, so observers never see a half-applied transition.
//
// # Quick Start
//
//	m := connstate.NewMachine()
//	unsubscribe := m.OnStateChange(func(s connstate.State, ctx connstate.Context, e connstate.Event) {
//		log.Printf("connection now %s", s)
//	})
//	defer unsubscribe()
//
//	m.Send(connstate.Connect())   // idle -> connecting
//	m.Send(connstate.Connected()) // connecting -> connected
//
// Listener failures are isolated: a listener that panics is recovered and
// logged, and remaining listeners still run.
package connstate
