package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-core/internal/scheduler"
	"strategy-core/pkg/db"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func startPool(t *testing.T, cfg PoolConfig, runner JobRunner, sinks ...ResultSink) (*Pool, *scheduler.Queue) {
	t.Helper()
	q := scheduler.NewQueue(scheduler.QueueOptions{RequeueDelay: 5 * time.Millisecond}, nil)
	p := NewPool(cfg, q, runner, nil).WithSinks(sinks...)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	t.Cleanup(func() {
		cancel()
		q.Close()
		p.Wait()
	})
	return p, q
}

func collect(t *testing.T, p *Pool, n int) []db.JobResult {
	t.Helper()
	out := make([]db.JobResult, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case r := <-p.Results():
			out = append(out, r)
		case <-timeout:
			t.Fatalf("got %d of %d results", len(out), n)
		}
	}
	return out
}

func TestPoolNeverOverlapsOneStrategy(t *testing.T) {
	var (
		mu      sync.Mutex
		running = map[string]int{}
		overlap atomic.Bool
		order   = map[string][]time.Time{}
	)
	runner := RunnerFunc(func(ctx context.Context, job scheduler.Job) db.JobResult {
		mu.Lock()
		running[job.StrategyID]++
		if running[job.StrategyID] > 1 {
			overlap.Store(true)
		}
		order[job.StrategyID] = append(order[job.StrategyID], job.TriggerTime)
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		running[job.StrategyID]--
		mu.Unlock()
		return db.JobResult{JobID: job.ID, StrategyID: job.StrategyID, Status: db.JobSuccess}
	})
	p, q := startPool(t, PoolConfig{Size: 4, JobTimeout: time.Second}, runner)

	for i := 0; i < 5; i++ {
		for _, id := range []string{"s1", "s2"} {
			require.NoError(t, q.Enqueue(scheduler.NewJob(id, t0.Add(time.Duration(i)*time.Minute))))
		}
	}
	collect(t, p, 10)

	assert.False(t, overlap.Load(), "a strategy ran on two workers at once")
	for _, id := range []string{"s1", "s2"} {
		got := order[id]
		require.Len(t, got, 5)
		for i := 1; i < len(got); i++ {
			assert.True(t, got[i].After(got[i-1]), "%s ran out of trigger order", id)
		}
	}
	assert.Zero(t, p.Leases().Len())
}

func TestPoolRequeuesWhileLeaseHeld(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, job scheduler.Job) db.JobResult {
		return db.JobResult{JobID: job.ID, StrategyID: job.StrategyID, Status: db.JobSuccess}
	})
	p, q := startPool(t, PoolConfig{Size: 2, JobTimeout: time.Second}, runner)

	// Simulate a run held elsewhere.
	lease, ok := p.Leases().TryAcquire("s1")
	require.True(t, ok)
	require.NoError(t, q.Enqueue(scheduler.NewJob("s1", t0)))

	time.Sleep(40 * time.Millisecond)
	select {
	case r := <-p.Results():
		t.Fatalf("job ran while lease was held: %+v", r)
	default:
	}
	assert.Equal(t, 1, q.Len(), "job must be parked, not dropped")

	require.True(t, p.Leases().Release(lease))
	res := collect(t, p, 1)[0]
	assert.Equal(t, db.JobSuccess, res.Status)
}

func TestPoolTimeoutFailsJobAndReleasesLease(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, job scheduler.Job) db.JobResult {
		<-ctx.Done()
		return db.JobResult{JobID: job.ID, StrategyID: job.StrategyID, Status: db.JobFailed,
			TradesExecuted: 1, Error: "execute ETH-USD: " + ctx.Err().Error()}
	})
	p, q := startPool(t, PoolConfig{Size: 1, JobTimeout: 20 * time.Millisecond, Overrun: time.Second}, runner)

	require.NoError(t, q.Enqueue(scheduler.NewJob("s1", t0)))
	res := collect(t, p, 1)[0]
	assert.Equal(t, db.JobFailed, res.Status)
	assert.Contains(t, res.Error, ErrJobTimeout.Error())
	assert.Contains(t, res.Error, "execute ETH-USD")
	assert.Equal(t, 1, res.TradesExecuted, "committed work stays counted")
	assert.GreaterOrEqual(t, res.DurationMs, int64(20))
	assert.False(t, p.Leases().Held("s1"))
}

func TestPoolFinishedWorkPastDeadlineKeepsStatus(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, job scheduler.Job) db.JobResult {
		time.Sleep(40 * time.Millisecond)
		return db.JobResult{JobID: job.ID, StrategyID: job.StrategyID, Status: db.JobSuccess, TradesExecuted: 2}
	})
	p, q := startPool(t, PoolConfig{Size: 1, JobTimeout: 20 * time.Millisecond, Overrun: time.Second}, runner)

	require.NoError(t, q.Enqueue(scheduler.NewJob("s1", t0)))
	res := collect(t, p, 1)[0]
	assert.Equal(t, db.JobSuccess, res.Status)
	assert.Empty(t, res.Error)
	assert.Equal(t, 2, res.TradesExecuted)
}

func TestPoolOverrunReportsTimeoutAndKeepsStrategyLeased(t *testing.T) {
	release := make(chan struct{})
	var (
		mu      sync.Mutex
		running int
		peak    int
		runs    atomic.Int32
	)
	runner := RunnerFunc(func(ctx context.Context, job scheduler.Job) db.JobResult {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		defer func() {
			mu.Lock()
			running--
			mu.Unlock()
		}()

		if runs.Add(1) == 1 {
			<-release // ignores ctx
		}
		return db.JobResult{JobID: job.ID, StrategyID: job.StrategyID, Status: db.JobSuccess}
	})
	p, q := startPool(t, PoolConfig{
		Size:       2,
		JobTimeout: 20 * time.Millisecond,
		LeaseGrace: 10 * time.Millisecond,
		Overrun:    5 * time.Millisecond,
	}, runner)

	start := time.Now()
	require.NoError(t, q.Enqueue(scheduler.NewJob("s1", t0)))
	require.NoError(t, q.Enqueue(scheduler.NewJob("s1", t0.Add(time.Minute))))

	first := collect(t, p, 1)[0]
	assert.Less(t, time.Since(start), 250*time.Millisecond, "timeout must be reported without waiting for the runner")
	assert.Equal(t, db.JobFailed, first.Status)
	assert.Contains(t, first.Error, ErrJobTimeout.Error())

	// Several lease TTLs later the stuck run still owns s1.
	time.Sleep(120 * time.Millisecond)
	assert.True(t, p.Leases().Held("s1"))
	assert.Equal(t, int32(1), runs.Load(), "second s1 job started while the first was still running")
	select {
	case r := <-p.Results():
		t.Fatalf("unexpected result while s1 was blocked: %+v", r)
	default:
	}

	close(release)
	second := collect(t, p, 1)[0]
	assert.Equal(t, db.JobSuccess, second.Status)
	assert.Equal(t, int32(2), runs.Load())
	mu.Lock()
	assert.Equal(t, 1, peak, "s1 ran on two workers at once")
	mu.Unlock()
	assert.Eventually(t, func() bool { return !p.Leases().Held("s1") }, time.Second, 5*time.Millisecond)
}

func TestPoolSurvivesPanics(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, job scheduler.Job) db.JobResult {
		if job.StrategyID == "boom" {
			panic("evaluator exploded")
		}
		return db.JobResult{JobID: job.ID, StrategyID: job.StrategyID, Status: db.JobSuccess}
	})
	var sunk atomic.Int32
	p, q := startPool(t, PoolConfig{Size: 1, JobTimeout: time.Second}, runner,
		SinkFunc(func(ctx context.Context, res db.JobResult) { sunk.Add(1) }))

	require.NoError(t, q.Enqueue(scheduler.NewJob("boom", t0)))
	require.NoError(t, q.Enqueue(scheduler.NewJob("ok", t0)))

	results := collect(t, p, 2)
	byID := map[string]db.JobResult{}
	for _, r := range results {
		byID[r.StrategyID] = r
	}
	assert.Equal(t, db.JobFailed, byID["boom"].Status)
	assert.Contains(t, byID["boom"].Error, "evaluator exploded")
	assert.Equal(t, db.JobSuccess, byID["ok"].Status)
	assert.False(t, p.Leases().Held("boom"))
	_, processed, _ := p.Stats()
	assert.Equal(t, uint64(2), processed)
	assert.Equal(t, int32(2), sunk.Load())
}
