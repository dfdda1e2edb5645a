package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	Ticks               uint64
	PingsCompleted      map[string]uint64
	PingsSkipped        map[string]uint64
	PingLatencyCount    uint64
	PingLatencyTotalNs  int64
	LinksCreated        uint64
	LinksDeleted        uint64
	CreditDebited       int64
	CreditAdded         int64
	SubscriptionActions map[string]uint64
	PingsPruned         int64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	ticks              uint64
	pingLatencyCount   uint64
	pingLatencyTotalNs int64
	linksCreated       uint64
	linksDeleted       uint64
	creditDebited      int64
	creditAdded        int64
	pingsPruned        int64

	mu            sync.Mutex
	completed     map[string]uint64
	skipped       map[string]uint64
	subscriptions map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		completed:     make(map[string]uint64),
		skipped:       make(map[string]uint64),
		subscriptions: make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		Ticks:               atomic.LoadUint64(&m.ticks),
		PingsCompleted:      copyCounts(m.completed),
		PingsSkipped:        copyCounts(m.skipped),
		PingLatencyCount:    atomic.LoadUint64(&m.pingLatencyCount),
		PingLatencyTotalNs:  atomic.LoadInt64(&m.pingLatencyTotalNs),
		LinksCreated:        atomic.LoadUint64(&m.linksCreated),
		LinksDeleted:        atomic.LoadUint64(&m.linksDeleted),
		CreditDebited:       atomic.LoadInt64(&m.creditDebited),
		CreditAdded:         atomic.LoadInt64(&m.creditAdded),
		SubscriptionActions: copyCounts(m.subscriptions),
		PingsPruned:         atomic.LoadInt64(&m.pingsPruned),
	}
}

// ObserveTick counts a scheduler tick.
func (m *InMemoryRecorder) ObserveTick(duration time.Duration, due int) {
	atomic.AddUint64(&m.ticks, 1)
}

// IncPingCompleted counts a committed probe by outcome.
func (m *InMemoryRecorder) IncPingCompleted(outcome string) {
	m.mu.Lock()
	m.completed[outcome]++
	m.mu.Unlock()
}

// IncPingSkipped counts a due link that was not probed or not committed.
func (m *InMemoryRecorder) IncPingSkipped(reason string) {
	m.mu.Lock()
	m.skipped[reason]++
	m.mu.Unlock()
}

// ObservePingLatency records probe latency.
func (m *InMemoryRecorder) ObservePingLatency(duration time.Duration) {
	atomic.AddUint64(&m.pingLatencyCount, 1)
	atomic.AddInt64(&m.pingLatencyTotalNs, duration.Nanoseconds())
}

// IncLinkCreated increments link created counter.
func (m *InMemoryRecorder) IncLinkCreated() {
	atomic.AddUint64(&m.linksCreated, 1)
}

// IncLinkDeleted increments link deleted counter.
func (m *InMemoryRecorder) IncLinkDeleted() {
	atomic.AddUint64(&m.linksDeleted, 1)
}

// AddCreditDebited accumulates debited minutes.
func (m *InMemoryRecorder) AddCreditDebited(amount int64) {
	atomic.AddInt64(&m.creditDebited, amount)
}

// AddCreditAdded accumulates credited minutes.
func (m *InMemoryRecorder) AddCreditAdded(amount int64) {
	atomic.AddInt64(&m.creditAdded, amount)
}

// IncSubscriptionTransition counts subscription transitions by action.
func (m *InMemoryRecorder) IncSubscriptionTransition(action string) {
	m.mu.Lock()
	m.subscriptions[action]++
	m.mu.Unlock()
}

// AddPingsPruned accumulates pruned ping records.
func (m *InMemoryRecorder) AddPingsPruned(count int64) {
	atomic.AddInt64(&m.pingsPruned, count)
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
