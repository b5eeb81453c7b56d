package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SimulationMetrics tracks simulator throughput and the shape of its fills.
type SimulationMetrics struct {
	// Sliding-window histograms
	SimulateLatency *LatencyHistogram // wall time of SimulateOrderExecution, ms
	FillDelay       *LatencyHistogram // modeled execution delay, ms
	Slippage        *LatencyHistogram // slippage percent per market fill

	ordersSimulated uint64
	ordersFilled    uint64
	ordersCancelled uint64
	ordersRejected  uint64
	blockedRequests uint64
	errorsCount     uint64

	mu          sync.RWMutex
	feeTotal    float64
	activeUsers int
	startedAt   time.Time
}

// LatencyHistogram keeps a sliding window of samples.
// Stats are computed lazily and cached until the next Record.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSimulationMetrics creates a metrics instance with 1000-sample windows.
func NewSimulationMetrics() *SimulationMetrics {
	return &SimulationMetrics{
		SimulateLatency: NewLatencyHistogram(1000),
		FillDelay:       NewLatencyHistogram(1000),
		Slippage:        NewLatencyHistogram(1000),
		startedAt:       time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a sample.
func (h *LatencyHistogram) Record(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, v)
	h.dirty = true
}

// RecordDuration converts d to milliseconds and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99 over the window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed window statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *SimulationMetrics) IncrementSimulated() { atomic.AddUint64(&m.ordersSimulated, 1) }
func (m *SimulationMetrics) IncrementFilled()    { atomic.AddUint64(&m.ordersFilled, 1) }
func (m *SimulationMetrics) IncrementCancelled() { atomic.AddUint64(&m.ordersCancelled, 1) }
func (m *SimulationMetrics) IncrementRejected()  { atomic.AddUint64(&m.ordersRejected, 1) }
func (m *SimulationMetrics) IncrementBlocked()   { atomic.AddUint64(&m.blockedRequests, 1) }
func (m *SimulationMetrics) IncrementErrors()    { atomic.AddUint64(&m.errorsCount, 1) }

// AddFee accumulates simulated fees paid.
func (m *SimulationMetrics) AddFee(fee float64) {
	m.mu.Lock()
	m.feeTotal += fee
	m.mu.Unlock()
}

// SetActiveUsers records the number of initialised portfolios.
func (m *SimulationMetrics) SetActiveUsers(n int) {
	m.mu.Lock()
	m.activeUsers = n
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time view served by the metrics endpoint.
type MetricsSnapshot struct {
	SimulateLatency LatencyStats `json:"simulate_latency_ms"`
	FillDelay       LatencyStats `json:"fill_delay_ms"`
	Slippage        LatencyStats `json:"slippage_percent"`
	OrdersSimulated uint64       `json:"orders_simulated"`
	OrdersFilled    uint64       `json:"orders_filled"`
	OrdersCancelled uint64       `json:"orders_cancelled"`
	OrdersRejected  uint64       `json:"orders_rejected"`
	BlockedRequests uint64       `json:"blocked_requests"`
	ErrorsCount     uint64       `json:"errors_count"`
	FeesTotal       float64      `json:"fees_total"`
	ActiveUsers     int          `json:"active_users"`
	Uptime          string       `json:"uptime"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SimulationMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	fees := m.feeTotal
	users := m.activeUsers
	started := m.startedAt
	m.mu.RUnlock()

	return MetricsSnapshot{
		SimulateLatency: m.SimulateLatency.Stats(),
		FillDelay:       m.FillDelay.Stats(),
		Slippage:        m.Slippage.Stats(),
		OrdersSimulated: atomic.LoadUint64(&m.ordersSimulated),
		OrdersFilled:    atomic.LoadUint64(&m.ordersFilled),
		OrdersCancelled: atomic.LoadUint64(&m.ordersCancelled),
		OrdersRejected:  atomic.LoadUint64(&m.ordersRejected),
		BlockedRequests: atomic.LoadUint64(&m.blockedRequests),
		ErrorsCount:     atomic.LoadUint64(&m.errorsCount),
		FeesTotal:       fees,
		ActiveUsers:     users,
		Uptime:          time.Since(started).Truncate(time.Second).String(),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		Timestamp:       time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records elapsed time to the histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
