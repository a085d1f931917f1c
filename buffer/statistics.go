package buffer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks buffer manager operation counters. Counters are always
// collected; Prometheus export is optional and layered on top via
// WithMetrics.
type Statistics struct {
	// Atomic counters for thread-safe updates
	enqueues    int64
	evictions   int64
	rejections  int64
	sent        int64
	expirations int64
	exhaustions int64

	// Protected by mutex
	mu           sync.RWMutex
	startTime    time.Time
	currentDepth int64
	maxDepth     int64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{
		startTime: time.Now(),
	}
}

// Enqueue records an admitted message
func (s *Statistics) Enqueue() {
	atomic.AddInt64(&s.enqueues, 1)
}

// Evict records a lower-priority message evicted under capacity pressure
func (s *Statistics) Evict() {
	atomic.AddInt64(&s.evictions, 1)
}

// Reject records a message refused at capacity
func (s *Statistics) Reject() {
	atomic.AddInt64(&s.rejections, 1)
}

// Sent records a message removed after successful delivery
func (s *Statistics) Sent() {
	atomic.AddInt64(&s.sent, 1)
}

// Expire records a message removed after outliving its TTL
func (s *Statistics) Expire() {
	atomic.AddInt64(&s.expirations, 1)
}

// Exhaust records a message removed after using its retry budget
func (s *Statistics) Exhaust() {
	atomic.AddInt64(&s.exhaustions, 1)
}

// UpdateDepth updates the current total depth across all queues
func (s *Statistics) UpdateDepth(depth int64) {
	s.mu.Lock()
	s.currentDepth = depth
	if depth > s.maxDepth {
		s.maxDepth = depth
	}
	s.mu.Unlock()
}

// Enqueues returns the total number of admitted messages
func (s *Statistics) Enqueues() int64 {
	return atomic.LoadInt64(&s.enqueues)
}

// Evictions returns the total number of capacity evictions
func (s *Statistics) Evictions() int64 {
	return atomic.LoadInt64(&s.evictions)
}

// Rejections returns the total number of capacity rejections
func (s *Statistics) Rejections() int64 {
	return atomic.LoadInt64(&s.rejections)
}

// SentCount returns the total number of delivered messages
func (s *Statistics) SentCount() int64 {
	return atomic.LoadInt64(&s.sent)
}

// Expirations returns the total number of TTL expirations
func (s *Statistics) Expirations() int64 {
	return atomic.LoadInt64(&s.expirations)
}

// Exhaustions returns the total number of retry exhaustions
func (s *Statistics) Exhaustions() int64 {
	return atomic.LoadInt64(&s.exhaustions)
}

// CurrentDepth returns the current total depth across all queues
func (s *Statistics) CurrentDepth() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentDepth
}

// MaxDepth returns the high-water mark of total depth
func (s *Statistics) MaxDepth() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxDepth
}

// Uptime returns how long the manager has been running
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}
