package buffer

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/virgilvox/clasp-flow-sub003/metric"
)

// Config configures a Manager. Zero values fall back to defaults.
type Config struct {
	// MaxBufferSize caps the number of messages held per connection
	MaxBufferSize int

	// DefaultTTL applies to messages enqueued without an explicit TTL
	// (0 = never expires)
	DefaultTTL time.Duration

	// DefaultMaxRetries applies to messages enqueued without an explicit
	// retry limit (0 = unlimited)
	DefaultMaxRetries int

	// PruneInterval is how often expired and exhausted messages are swept
	PruneInterval time.Duration
}

// DefaultConfig returns sensible defaults for buffer management
func DefaultConfig() Config {
	return Config{
		MaxBufferSize:     100,
		DefaultTTL:        5 * time.Minute,
		DefaultMaxRetries: 3,
		PruneInterval:     30 * time.Second,
	}
}

// Stats describes one connection's queue
type Stats struct {
	Depth          int
	OldestEnqueued time.Time
	EstimatedBytes int
	ByPriority     map[Priority]int
}

// TotalStats aggregates queue statistics across all connections
type TotalStats struct {
	Connections    int
	Messages       int
	EstimatedBytes int
}

// Manager holds one isolated priority/TTL/retry queue per connection id.
// It absorbs outbound traffic produced while a connection is down without
// unbounded growth: queues are capacity-bounded with priority-weight
// admission arbitration, and a periodic pruner sweeps expired and
// retry-exhausted entries.
//
// All methods are safe for concurrent use. Access to each queue is
// serialized by the manager mutex.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	queues   map[string][]*Message
	index    map[string]string // message id -> connection id
	nextSeq  uint64
	disposed bool

	stats   *Statistics
	metrics *managerMetrics
	logger  *slog.Logger
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Manager
type Option func(*Manager) error

// WithLogger sets the logger used for prune reports
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger != nil {
			m.logger = logger
		}
		return nil
	}
}

// WithMetrics enables Prometheus metrics export for queue statistics.
// If registry is nil the option is ignored.
func WithMetrics(registry *metric.Registry, prefix string) Option {
	return func(m *Manager) error {
		if registry == nil || prefix == "" {
			return nil
		}
		metrics, err := newManagerMetrics(registry, prefix)
		if err != nil {
			return err
		}
		m.metrics = metrics
		return nil
	}
}

// withClock overrides the time source (test hook)
func withClock(now func() time.Time) Option {
	return func(m *Manager) error {
		m.now = now
		return nil
	}
}

// withoutPruner disables the background prune ticker (test hook)
func withoutPruner() Option {
	return func(m *Manager) error {
		m.cfg.PruneInterval = 0
		return nil
	}
}

// NewManager creates a buffer manager and starts its prune timer.
// Call Dispose to stop the timer and release the queues.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = DefaultConfig().MaxBufferSize
	}
	if cfg.PruneInterval < 0 {
		cfg.PruneInterval = 0
	}

	m := &Manager{
		cfg:    cfg,
		queues: make(map[string][]*Message),
		index:  make(map[string]string),
		stats:  NewStatistics(),
		logger: slog.Default(),
		now:    time.Now,
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	if m.cfg.PruneInterval > 0 {
		go m.pruneLoop()
	}

	return m, nil
}

// pruneLoop sweeps all queues at the configured interval until Dispose
func (m *Manager) pruneLoop() {
	ticker := time.NewTicker(m.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Prune()
		case <-m.done:
			return
		}
	}
}

// Enqueue buffers a message for the given connection. It returns the new
// message id and true on admission. When the queue is at capacity the
// incoming message is admitted only if its priority weight strictly exceeds
// the lowest-weight entry, which is evicted; otherwise Enqueue returns
// ("", false). Capacity is never exceeded.
func (m *Manager) Enqueue(connectionID string, data any, opts Options) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return "", false
	}

	msg := m.buildMessage(data, opts)
	queue := m.queues[connectionID]

	if len(queue) >= m.cfg.MaxBufferSize {
		victim := lowestWeightIndex(queue)
		if queue[victim].Priority.Weight() >= msg.Priority.Weight() {
			m.stats.Reject()
			if m.metrics != nil {
				m.metrics.rejected.Inc()
			}
			return "", false
		}

		evicted := queue[victim]
		queue = append(queue[:victim], queue[victim+1:]...)
		delete(m.index, evicted.ID)
		m.stats.Evict()
		if m.metrics != nil {
			m.metrics.evicted.Inc()
		}
		m.logger.Debug("evicted buffered message under capacity pressure",
			"connection_id", connectionID,
			"evicted_id", evicted.ID,
			"evicted_priority", evicted.Priority.String(),
			"incoming_priority", msg.Priority.String())
	}

	queue = append(queue, msg)
	sortQueue(queue)
	m.queues[connectionID] = queue
	m.index[msg.ID] = connectionID

	m.stats.Enqueue()
	m.stats.UpdateDepth(int64(m.totalDepthLocked()))
	if m.metrics != nil {
		m.metrics.enqueued.Inc()
		m.metrics.depth.Set(float64(m.totalDepthLocked()))
	}

	return msg.ID, true
}

// buildMessage resolves per-message options against manager defaults.
// Caller must hold m.mu.
func (m *Manager) buildMessage(data any, opts Options) *Message {
	ttl := opts.TTL
	switch {
	case ttl == 0:
		ttl = m.cfg.DefaultTTL
	case ttl == NoTTL:
		ttl = 0
	}

	maxRetries := opts.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = m.cfg.DefaultMaxRetries
	case maxRetries == NoRetryLimit:
		maxRetries = 0
	}

	priority := opts.Priority
	if priority < PriorityLow || priority > PriorityCritical {
		priority = PriorityNormal
	}

	m.nextSeq++
	return &Message{
		ID:          uuid.NewString(),
		Data:        data,
		SendOptions: opts.SendOptions,
		Topic:       opts.Topic,
		Timestamp:   m.now(),
		MaxRetries:  maxRetries,
		TTL:         ttl,
		Priority:    priority,
		seq:         m.nextSeq,
	}
}

// sortQueue orders a queue by descending priority weight, then ascending
// enqueue time (FIFO within a priority band)
func sortQueue(queue []*Message) {
	sort.SliceStable(queue, func(i, j int) bool {
		wi, wj := queue[i].Priority.Weight(), queue[j].Priority.Weight()
		if wi != wj {
			return wi > wj
		}
		if !queue[i].Timestamp.Equal(queue[j].Timestamp) {
			return queue[i].Timestamp.Before(queue[j].Timestamp)
		}
		return queue[i].seq < queue[j].seq
	})
}

// lowestWeightIndex returns the index of the eviction candidate: the entry
// with the lowest priority weight, oldest first within that weight
func lowestWeightIndex(queue []*Message) int {
	victim := 0
	for i, msg := range queue {
		if msg.Priority.Weight() < queue[victim].Priority.Weight() {
			victim = i
			continue
		}
		if msg.Priority.Weight() == queue[victim].Priority.Weight() &&
			msg.seq < queue[victim].seq {
			victim = i
		}
	}
	return victim
}

// ReadyMessages returns copies of the connection's deliverable messages in
// priority-then-FIFO order without removing them
func (m *Manager) ReadyMessages(connectionID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var ready []Message
	for _, msg := range m.queues[connectionID] {
		if msg.Ready(now) {
			ready = append(ready, *msg)
		}
	}
	return ready
}

// Flush returns the connection's deliverable messages in priority-then-FIFO
// order and empties the entire queue, including expired and retry-exhausted
// entries. Flush never requeues.
func (m *Manager) Flush(connectionID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue, exists := m.queues[connectionID]
	if !exists {
		return nil
	}

	now := m.now()
	var ready []Message
	for _, msg := range queue {
		delete(m.index, msg.ID)
		if msg.Ready(now) {
			ready = append(ready, *msg)
			continue
		}
		if msg.Expired(now) {
			m.stats.Expire()
			if m.metrics != nil {
				m.metrics.expired.Inc()
			}
		} else {
			m.stats.Exhaust()
			if m.metrics != nil {
				m.metrics.exhausted.Inc()
			}
		}
	}

	delete(m.queues, connectionID)
	m.stats.UpdateDepth(int64(m.totalDepthLocked()))
	if m.metrics != nil {
		m.metrics.depth.Set(float64(m.totalDepthLocked()))
	}

	return ready
}

// MarkSent removes a delivered message. Unknown ids are a no-op.
func (m *Manager) MarkSent(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
	m.stats.Sent()
}

// MarkFailed records a failed delivery attempt. It returns true if the
// message remains eligible for another attempt, false if the retry budget
// is exhausted (the message is then removed) or the id is unknown.
// A zero MaxRetries means unlimited retries: MarkFailed always returns true.
func (m *Manager) MarkFailed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	connectionID, exists := m.index[id]
	if !exists {
		return false
	}

	for _, msg := range m.queues[connectionID] {
		if msg.ID != id {
			continue
		}
		msg.RetryCount++
		if msg.Exhausted() {
			m.removeLocked(id)
			m.stats.Exhaust()
			if m.metrics != nil {
				m.metrics.exhausted.Inc()
			}
			return false
		}
		return true
	}
	return false
}

// Prune sweeps every connection's queue, removing expired and
// retry-exhausted entries. It runs periodically on the manager's timer and
// may also be called directly.
func (m *Manager) Prune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return
	}

	now := m.now()
	removed := 0
	for connectionID, queue := range m.queues {
		kept := queue[:0]
		for _, msg := range queue {
			if msg.Ready(now) {
				kept = append(kept, msg)
				continue
			}
			delete(m.index, msg.ID)
			removed++
			if msg.Expired(now) {
				m.stats.Expire()
				if m.metrics != nil {
					m.metrics.expired.Inc()
				}
			} else {
				m.stats.Exhaust()
				if m.metrics != nil {
					m.metrics.exhausted.Inc()
				}
			}
		}
		if len(kept) == 0 {
			delete(m.queues, connectionID)
		} else {
			m.queues[connectionID] = kept
		}
	}

	if removed > 0 {
		m.stats.UpdateDepth(int64(m.totalDepthLocked()))
		if m.metrics != nil {
			m.metrics.depth.Set(float64(m.totalDepthLocked()))
		}
		m.logger.Debug("pruned stale buffered messages", "removed", removed)
	}
}

// removeLocked deletes a message by id. Caller must hold m.mu.
func (m *Manager) removeLocked(id string) {
	connectionID, exists := m.index[id]
	if !exists {
		return
	}
	delete(m.index, id)

	queue := m.queues[connectionID]
	for i, msg := range queue {
		if msg.ID == id {
			m.queues[connectionID] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(m.queues[connectionID]) == 0 {
		delete(m.queues, connectionID)
	}

	m.stats.UpdateDepth(int64(m.totalDepthLocked()))
	if m.metrics != nil {
		m.metrics.depth.Set(float64(m.totalDepthLocked()))
	}
}

// Depth returns the number of messages buffered for a connection
func (m *Manager) Depth(connectionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[connectionID])
}

// GetStats returns queue statistics for one connection
func (m *Manager) GetStats(connectionID string) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{ByPriority: make(map[Priority]int)}
	for _, msg := range m.queues[connectionID] {
		stats.Depth++
		stats.EstimatedBytes += msg.EstimatedSize()
		stats.ByPriority[msg.Priority]++
		if stats.OldestEnqueued.IsZero() || msg.Timestamp.Before(stats.OldestEnqueued) {
			stats.OldestEnqueued = msg.Timestamp
		}
	}
	return stats
}

// GetTotalStats returns aggregate statistics across all queues
func (m *Manager) GetTotalStats() TotalStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := TotalStats{Connections: len(m.queues)}
	for _, queue := range m.queues {
		total.Messages += len(queue)
		for _, msg := range queue {
			total.EstimatedBytes += msg.EstimatedSize()
		}
	}
	return total
}

// Statistics returns the always-on operation counters
func (m *Manager) Statistics() *Statistics {
	return m.stats
}

// Clear empties one connection's queue
func (m *Manager) Clear(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropQueueLocked(connectionID)
}

// ClearAll empties every queue
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for connectionID := range m.queues {
		m.dropQueueLocked(connectionID)
	}
}

// RemoveBuffer tears down a connection's queue, e.g. when the connection is
// deleted from the graph
func (m *Manager) RemoveBuffer(connectionID string) {
	m.Clear(connectionID)
}

// dropQueueLocked removes a queue and its index entries. Caller must hold m.mu.
func (m *Manager) dropQueueLocked(connectionID string) {
	for _, msg := range m.queues[connectionID] {
		delete(m.index, msg.ID)
	}
	delete(m.queues, connectionID)

	m.stats.UpdateDepth(int64(m.totalDepthLocked()))
	if m.metrics != nil {
		m.metrics.depth.Set(float64(m.totalDepthLocked()))
	}
}

// totalDepthLocked sums queue depths. Caller must hold m.mu.
func (m *Manager) totalDepthLocked() int {
	total := 0
	for _, queue := range m.queues {
		total += len(queue)
	}
	return total
}

// Dispose stops the prune timer and releases all queues. After Dispose
// returns, no further timer fire touches the queues and Enqueue rejects
// all messages.
func (m *Manager) Dispose() {
	m.closeOnce.Do(func() {
		close(m.done)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposed = true
	m.queues = make(map[string][]*Message)
	m.index = make(map[string]string)
}
