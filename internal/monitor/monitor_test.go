package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-core/internal/events"
	"strategy-core/internal/worker"
	"strategy-core/pkg/db"
)

func TestMetricsCountsOutcomes(t *testing.T) {
	m := NewMetrics()
	m.Observe(func() Gauges { return Gauges{QueueDepth: 3, WorkersTotal: 4} })
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	m.Handle(ctx, db.JobResult{Status: db.JobSuccess, TradesExecuted: 2, DurationMs: 10, ExecutedAt: at})
	m.Handle(ctx, db.JobResult{Status: db.JobSkipped, DurationMs: 20})
	m.Handle(ctx, db.JobResult{Status: db.JobFailed, Error: worker.ErrJobTimeout.Error(), DurationMs: 30})
	m.Handle(ctx, db.JobResult{Status: db.JobFailed, Error: "boom", DurationMs: 40})

	snap := m.GetSnapshot()
	assert.Equal(t, JobCounts{Success: 1, Skipped: 1, Failed: 2, TimedOut: 1}, snap.Jobs)
	assert.Equal(t, uint64(2), snap.TradesExecuted)
	assert.Equal(t, 4, snap.JobLatency.Count)
	assert.Equal(t, 10.0, snap.JobLatency.Min)
	assert.Equal(t, 40.0, snap.JobLatency.Max)
	assert.Equal(t, 3, snap.QueueDepth)
	require.NotNil(t, snap.LastJobAt)
	assert.Equal(t, at, *snap.LastJobAt)
}

func TestLatencyHistogramWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{100, 1, 2, 3} {
		h.Record(v)
	}
	st := h.Stats()
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, 3.0, st.Max, "oldest sample leaves the window")
	assert.Equal(t, 2.0, st.Avg)
}

func TestConsecutiveFailuresRule(t *testing.T) {
	r := &ConsecutiveFailures{Threshold: 2}
	fail := db.JobResult{StrategyID: "s1", Status: db.JobFailed, Error: "x"}

	fire, _ := r.Check(fail)
	assert.False(t, fire)
	fire, msg := r.Check(fail)
	assert.True(t, fire)
	assert.Contains(t, msg, "2 jobs in a row")

	r.Check(db.JobResult{StrategyID: "s1", Status: db.JobSuccess})
	fire, _ = r.Check(fail)
	assert.False(t, fire, "success resets the streak")
}

type memSink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *memSink) Send(_ context.Context, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func TestMonitorAlertsOnFailedJobs(t *testing.T) {
	bus := events.NewBus()
	sink := &memSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	(&Monitor{Bus: bus, Sink: sink, Rules: []Rule{FailedJob{}}}).Start(ctx)

	bus.Publish(events.EventJobCompleted, db.JobResult{JobID: "j1", StrategyID: "s1", Status: db.JobSuccess})
	bus.Publish(events.EventJobCompleted, db.JobResult{JobID: "j2", StrategyID: "s1", Status: db.JobFailed, Error: "provider down"})

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	assert.Contains(t, sink.msgs[0], "j2")
	assert.Contains(t, sink.msgs[0], "provider down")
	sink.mu.Unlock()
}
