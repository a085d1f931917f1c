// Package buffer provides per-connection message buffering with priority
// ordering, TTL expiry, and retry accounting for unreliable connections.
//
// # Overview
//
// A Manager holds one isolated queue per connection id. Messages produced
// while a connection is down are enqueued with a priority, a time-to-live,
// and a retry budget; when the connection recovers the adapter flushes the
// queue and replays deliverable messages in priority-then-FIFO order.
//
// Queues are capacity-bounded. At capacity, an incoming message is admitted
// only if its priority weight strictly exceeds the lowest-weight entry in
// the queue, which is evicted to make room; otherwise the incoming message
// is rejected. Capacity is never exceeded.
//
// A background pruner sweeps expired and retry-exhausted messages at a
// configurable interval, independent of flush and retry traffic.
//
// # Quick Start
//
//	mgr, err := buffer.NewManager(buffer.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer mgr.Dispose()
//
//	id, ok := mgr.Enqueue("mqtt-1", payload, buffer.Options{
//		Priority: buffer.PriorityHigh,
//		TTL:      time.Minute,
//	})
//	if !ok {
//		// queue full of equal-or-higher priority traffic
//	}
//
//	for _, msg := range mgr.Flush("mqtt-1") {
//		if err := deliver(msg); err != nil {
//			mgr.MarkFailed(msg.ID)
//		} else {
//			mgr.MarkSent(msg.ID)
//		}
//	}
//
// Operation counters are always collected (see Statistics); Prometheus
// export is optional via WithMetrics.
package buffer
