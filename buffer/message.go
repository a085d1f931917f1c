package buffer

import (
	"encoding/json"
	"time"
)

// Priority ranks buffered messages for ordering and for admission
// arbitration when a queue is at capacity.
type Priority int

const (
	// PriorityLow is the lowest rank; first to be evicted under pressure
	PriorityLow Priority = 1
	// PriorityNormal is the default rank
	PriorityNormal Priority = 2
	// PriorityHigh ranks above normal traffic
	PriorityHigh Priority = 3
	// PriorityCritical is the highest rank; never evicted by lower ranks
	PriorityCritical Priority = 4
)

// String returns a human-readable representation of the priority
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Weight returns the numeric rank used for ordering and admission
// (critical=4 > high=3 > normal=2 > low=1)
func (p Priority) Weight() int {
	if p < PriorityLow || p > PriorityCritical {
		return int(PriorityNormal)
	}
	return int(p)
}

// Sentinel values for Options fields where the zero value means
// "use the manager default".
const (
	// NoTTL requests a message that never expires
	NoTTL time.Duration = -1
	// NoRetryLimit requests unlimited delivery retries
	NoRetryLimit int = -1
)

// Options carries per-message enqueue parameters. Zero values fall back to
// the manager defaults; use NoTTL / NoRetryLimit to disable expiry or the
// retry ceiling explicitly.
type Options struct {
	Priority    Priority
	TTL         time.Duration
	MaxRetries  int
	Topic       string
	SendOptions any
}

// Message is one outbound payload held for a disconnected or unreliable
// connection.
type Message struct {
	// ID uniquely identifies the message within the manager
	ID string

	// Data is the opaque payload to deliver
	Data any

	// SendOptions are opaque send parameters passed back to the adapter
	SendOptions any

	// Topic optionally names the destination channel or subject
	Topic string

	// Timestamp is the enqueue time
	Timestamp time.Time

	// RetryCount is the number of failed delivery attempts so far
	RetryCount int

	// MaxRetries caps delivery attempts (0 = unlimited)
	MaxRetries int

	// TTL is how long the message stays deliverable (0 = never expires)
	TTL time.Duration

	// Priority ranks the message for ordering and admission
	Priority Priority

	// seq breaks ordering ties between messages enqueued within the same
	// clock tick
	seq uint64
}

// Expired reports whether the message is older than its TTL at the given time
func (m *Message) Expired(now time.Time) bool {
	return m.TTL > 0 && now.Sub(m.Timestamp) > m.TTL
}

// Exhausted reports whether the message has used up its retry budget
func (m *Message) Exhausted() bool {
	return m.MaxRetries > 0 && m.RetryCount >= m.MaxRetries
}

// Ready reports whether the message is still deliverable at the given time
func (m *Message) Ready(now time.Time) bool {
	return !m.Expired(now) && !m.Exhausted()
}

// EstimatedSize returns the serialized length of the payload in bytes.
// Unencodable payloads count as zero.
func (m *Message) EstimatedSize() int {
	switch d := m.Data.(type) {
	case nil:
		return 0
	case []byte:
		return len(d)
	case string:
		return len(d)
	default:
		encoded, err := json.Marshal(d)
		if err != nil {
			return 0
		}
		return len(encoded)
	}
}
