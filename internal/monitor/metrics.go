package monitor

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"strategy-core/internal/worker"
	"strategy-core/pkg/db"
)

// Gauges are point-in-time readings pulled from the running engine.
type Gauges struct {
	QueueDepth   int `json:"queue_depth"`
	WorkersBusy  int `json:"workers_busy"`
	WorkersTotal int `json:"workers_total"`
	ActiveLeases int `json:"active_leases"`
	Scheduled    int `json:"scheduled_strategies"`
	// ResultsDropped counts results nobody drained from the pool channel.
	ResultsDropped uint64 `json:"results_dropped"`
}

// Metrics counts job outcomes. It is a worker.ResultSink.
type Metrics struct {
	JobLatency *LatencyHistogram

	succeeded atomic.Uint64
	skipped   atomic.Uint64
	failed    atomic.Uint64
	timedOut  atomic.Uint64
	trades    atomic.Uint64

	mu        sync.RWMutex
	gauges    func() Gauges
	lastJobAt time.Time
	startedAt time.Time
}

var _ worker.ResultSink = (*Metrics)(nil)

func NewMetrics() *Metrics {
	return &Metrics{
		JobLatency: NewLatencyHistogram(1000),
		startedAt:  time.Now(),
	}
}

// Observe registers the gauge source read on every snapshot.
func (m *Metrics) Observe(fn func() Gauges) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges = fn
}

// Handle records one finished job.
func (m *Metrics) Handle(_ context.Context, res db.JobResult) {
	switch res.Status {
	case db.JobSuccess:
		m.succeeded.Add(1)
	case db.JobSkipped:
		m.skipped.Add(1)
	case db.JobFailed:
		m.failed.Add(1)
		if strings.Contains(res.Error, worker.ErrJobTimeout.Error()) {
			m.timedOut.Add(1)
		}
	}
	if res.TradesExecuted > 0 {
		m.trades.Add(uint64(res.TradesExecuted))
	}
	m.JobLatency.Record(float64(res.DurationMs))

	m.mu.Lock()
	if res.ExecutedAt.After(m.lastJobAt) {
		m.lastJobAt = res.ExecutedAt
	}
	m.mu.Unlock()
}

// JobCounts groups job outcomes.
type JobCounts struct {
	Success  uint64 `json:"success"`
	Skipped  uint64 `json:"skipped"`
	Failed   uint64 `json:"failed"`
	TimedOut uint64 `json:"timed_out"`
}

// Snapshot is what GET /api/metrics serves.
type Snapshot struct {
	Jobs           JobCounts    `json:"jobs"`
	TradesExecuted uint64       `json:"trades_executed"`
	JobLatency     LatencyStats `json:"job_latency_ms"`
	Gauges
	LastJobAt      *time.Time `json:"last_job_at,omitempty"`
	UptimeSeconds  int64      `json:"uptime_seconds"`
	GoroutineCount int        `json:"goroutine_count"`
	HeapAlloc      uint64     `json:"heap_alloc_bytes"`
	Timestamp      time.Time  `json:"timestamp"`
}

// GetSnapshot returns a point-in-time snapshot.
func (m *Metrics) GetSnapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.RLock()
	gauges := m.gauges
	last := m.lastJobAt
	m.mu.RUnlock()

	snap := Snapshot{
		Jobs: JobCounts{
			Success:  m.succeeded.Load(),
			Skipped:  m.skipped.Load(),
			Failed:   m.failed.Load(),
			TimedOut: m.timedOut.Load(),
		},
		TradesExecuted: m.trades.Load(),
		JobLatency:     m.JobLatency.Stats(),
		UptimeSeconds:  int64(time.Since(m.startedAt).Seconds()),
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      mem.HeapAlloc,
		Timestamp:      time.Now().UTC(),
	}
	if gauges != nil {
		snap.Gauges = gauges()
	}
	if !last.IsZero() {
		snap.LastJobAt = &last
	}
	return snap
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

// Record adds a sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts d to milliseconds and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg and percentiles over the window.
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

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}
