// Package adapter provides the reusable connection lifecycle every
// protocol client in the flow editor builds on.
//
// # Overview
//
// A Base adapter owns one connection's state machine, shares the
// application's message buffer manager, and performs protocol I/O through
// three hooks supplied by the concrete client: DoConnect, DoDisconnect,
// and DoSend. Everything else is handled here once: reconnect scheduling
// with a hard attempt ceiling, buffering while disconnected, buffered
// replay after recovery, event streams, and terminal disposal.
//
// Concrete clients (see the wsclient and natsconn packages) call
// HandleUnexpectedDisconnect when their transport drops, and EmitMessage /
// EmitError to feed the adapter's event streams.
//
// # Failure semantics
//
// Connect and Disconnect failures are recorded in the state machine (the
// error state, with context.Err set) and returned to the caller, so both
// awaiting code and status subscribers observe them. Send failures are
// absorbed by the message buffer when buffering is enabled for the
// connection, and returned otherwise.
//
// # Reconnection
//
// ScheduleReconnect arms a cancellable timer for the configured constant
// delay. The attempt ceiling is hard: once context.ReconnectAttempts
// reaches MaxReconnectAttempts (non-zero), further calls neither
// transition the machine nor arm a timer. Cancellation is race-free: a
// timer that fired concurrently with CancelReconnect or Dispose is ignored.
package adapter
