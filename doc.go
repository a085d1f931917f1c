// Package claspflow is the connection resilience framework behind the
// CLASP Flow node-graph editor: it keeps many independent, unreliable
// external links (sockets, message brokers, sensor links) alive,
// observable, and safe to send to from a graph that may produce data at
// any time regardless of link health.
//
// # Architecture
//
// The framework is five cooperating pieces:
//
//   - connstate: a pure, synchronous per-connection state machine with a
//     strict transition whitelist
//   - buffer: per-connection priority/TTL/retry queues absorbing outbound
//     traffic while a link is down
//   - credential: a secret store with an encrypting backend and a plain
//     in-memory fallback
//   - validator: preflight classification of a flow's declared connection
//     requirements against live status
//   - adapter: the reusable lifecycle that every concrete protocol client
//     (wsclient, natsconn, and clients outside this module) builds on
//
// The editor's UI, node palette, and per-node business logic are external
// collaborators consumed through the narrow interfaces these packages
// expose.
package claspflow
