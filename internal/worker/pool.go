package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"strategy-core/internal/scheduler"
	"strategy-core/pkg/db"
)

// ErrJobTimeout marks a job that ran past its deadline.
var ErrJobTimeout = errors.New("job timed out")

// Source hands out jobs. claim runs while the source holds its lock.
type Source interface {
	Next(ctx context.Context, claim func(scheduler.Job) bool) (scheduler.Job, error)
	Done(job scheduler.Job)
}

// JobRunner executes one job. It must honour ctx.
type JobRunner interface {
	Run(ctx context.Context, job scheduler.Job) db.JobResult
}

// RunnerFunc adapts a function to JobRunner.
type RunnerFunc func(ctx context.Context, job scheduler.Job) db.JobResult

func (f RunnerFunc) Run(ctx context.Context, job scheduler.Job) db.JobResult { return f(ctx, job) }

// PoolConfig sizes a Pool.
type PoolConfig struct {
	Size       int
	JobTimeout time.Duration
	// LeaseGrace is added to JobTimeout to form the lease TTL.
	LeaseGrace time.Duration
	// Overrun is how long past JobTimeout the pool waits for a runner to
	// return before it reports the timeout and frees the worker.
	Overrun    time.Duration
	ResultsBuf int
}

// Pool runs a fixed number of workers. Each worker claims a job under the
// strategy's lease, runs it with a timeout and hands the result to the
// sinks.
type Pool struct {
	cfg     PoolConfig
	source  Source
	runner  JobRunner
	leases  *Leases
	sinks   []ResultSink
	results chan db.JobResult
	log     *zap.Logger

	busy      atomic.Int32
	processed atomic.Uint64
	dropped   atomic.Uint64
	wg        sync.WaitGroup
}

func NewPool(cfg PoolConfig, source Source, runner JobRunner, log *zap.Logger) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 4
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 25 * time.Minute
	}
	if cfg.LeaseGrace <= 0 {
		cfg.LeaseGrace = 30 * time.Second
	}
	if cfg.Overrun <= 0 {
		cfg.Overrun = cfg.JobTimeout / 10
		if cfg.Overrun > 5*time.Second {
			cfg.Overrun = 5 * time.Second
		}
	}
	if cfg.ResultsBuf <= 0 {
		cfg.ResultsBuf = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		cfg:     cfg,
		source:  source,
		runner:  runner,
		leases:  NewLeases(cfg.JobTimeout + cfg.LeaseGrace),
		results: make(chan db.JobResult, cfg.ResultsBuf),
		log:     log.With(zap.String("component", "worker-pool")),
	}
}

// WithSinks appends result sinks, called in order for every result.
func (p *Pool) WithSinks(sinks ...ResultSink) *Pool {
	p.sinks = append(p.sinks, sinks...)
	return p
}

// Leases exposes the lease table.
func (p *Pool) Leases() *Leases { return p.leases }

// Results exposes a buffered copy of every result. Results are dropped when
// nobody drains the channel.
func (p *Pool) Results() <-chan db.JobResult { return p.results }

// Stats reports busy workers, finished jobs and results dropped from the
// Results channel.
func (p *Pool) Stats() (busy int, processed, dropped uint64) {
	return int(p.busy.Load()), p.processed.Load(), p.dropped.Load()
}

// Size is the number of workers.
func (p *Pool) Size() int { return p.cfg.Size }

// Start launches the workers. Cancelling ctx stops them from taking new
// jobs; jobs already running finish within their own timeout.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Size; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	p.wg.Add(1)
	go p.sweep(ctx)
	p.log.Info("worker pool started", zap.Int("size", p.cfg.Size), zap.Duration("job_timeout", p.cfg.JobTimeout))
}

// Wait blocks until every worker has exited. Runners abandoned past their
// timeout are not waited for.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With(zap.Int("worker", id))

	for {
		var lease Lease
		job, err := p.source.Next(ctx, func(j scheduler.Job) bool {
			l, ok := p.leases.TryAcquire(j.StrategyID)
			if ok {
				lease = l
			}
			return ok
		})
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, scheduler.ErrQueueClosed) {
				log.Error("worker stopped", zap.Error(err))
			}
			return
		}

		p.busy.Add(1)
		res := p.execute(ctx, job, lease)
		p.busy.Add(-1)

		p.processed.Add(1)
		p.deliver(ctx, res)
	}
}

// execute runs job under the pool timeout. The runner goroutine owns the
// lease and the queue lane and gives both back only when Run returns, so a
// runner that ignores its deadline keeps the strategy blocked while the
// worker reports the timeout and moves on.
func (p *Pool) execute(ctx context.Context, job scheduler.Job, lease Lease) db.JobResult {
	start := time.Now()
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.JobTimeout)

	done := make(chan db.JobResult, 1)
	finished := make(chan struct{})
	go func() {
		defer cancel()
		res := p.run(jobCtx, job)
		res.DurationMs = time.Since(start).Milliseconds()
		if !p.leases.Release(lease) {
			p.log.Warn("lease expired before release", zap.String("strategy_id", job.StrategyID))
		}
		p.source.Done(job)
		close(finished)
		done <- res
	}()

	var res db.JobResult
	select {
	case res = <-done:
	case <-jobCtx.Done():
		p.leases.Renew(lease)
		overrun := time.NewTimer(p.cfg.Overrun)
		select {
		case res = <-done:
			overrun.Stop()
		case <-overrun.C:
			p.log.Warn("job overran its timeout, strategy stays leased until it returns",
				zap.String("job_id", job.ID),
				zap.String("strategy_id", job.StrategyID),
				zap.Duration("timeout", p.cfg.JobTimeout))
			go p.holdLease(job, lease, finished, done)
			res = failedResult(job, p.timeoutDetail(""))
			res.DurationMs = time.Since(start).Milliseconds()
			return res
		}
	}

	// Only a runner that stopped on its own deadline is a timeout; work
	// that finished and then crossed the deadline keeps its status.
	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) && strings.Contains(res.Error, context.DeadlineExceeded.Error()) {
		res.Status = db.JobFailed
		res.Error = p.timeoutDetail(res.Error)
	}
	return res
}

// run calls the runner, converting a panic into a failed result.
func (p *Pool) run(ctx context.Context, job scheduler.Job) (res db.JobResult) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("job panicked",
				zap.String("job_id", job.ID),
				zap.String("strategy_id", job.StrategyID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			res = failedResult(job, fmt.Sprintf("panic: %v", r))
		}
	}()
	return p.runner.Run(ctx, job)
}

// holdLease renews an overrunning job's lease until its runner returns.
func (p *Pool) holdLease(job scheduler.Job, lease Lease, finished <-chan struct{}, done <-chan db.JobResult) {
	ticker := time.NewTicker(p.leases.TTL() / 3)
	defer ticker.Stop()
	for {
		select {
		case <-finished:
			late := <-done
			p.log.Warn("overrun job returned",
				zap.String("job_id", job.ID),
				zap.String("strategy_id", job.StrategyID),
				zap.String("status", late.Status),
				zap.Int("trades", late.TradesExecuted),
				zap.Int64("duration_ms", late.DurationMs))
			return
		case <-ticker.C:
			p.leases.Renew(lease)
		}
	}
}

func (p *Pool) timeoutDetail(cause string) string {
	detail := ErrJobTimeout.Error() + " after " + p.cfg.JobTimeout.String()
	if cause != "" {
		detail += ": " + cause
	}
	return detail
}

func failedResult(job scheduler.Job, detail string) db.JobResult {
	return db.JobResult{
		JobID:          job.ID,
		StrategyID:     job.StrategyID,
		IdempotencyKey: job.Key,
		TriggerTime:    job.TriggerTime,
		Status:         db.JobFailed,
		Error:          detail,
		ExecutedAt:     time.Now().UTC(),
	}
}

func (p *Pool) deliver(ctx context.Context, res db.JobResult) {
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for _, s := range p.sinks {
		s.Handle(sinkCtx, res)
	}

	select {
	case p.results <- res:
	default:
		p.dropped.Add(1)
	}

	fields := []zap.Field{
		zap.String("job_id", res.JobID),
		zap.String("strategy_id", res.StrategyID),
		zap.String("status", res.Status),
		zap.Int("trades", res.TradesExecuted),
		zap.Int64("duration_ms", res.DurationMs),
	}
	if res.Status == db.JobFailed {
		p.log.Warn("job failed", append(fields, zap.String("error", res.Error))...)
		return
	}
	p.log.Info("job finished", fields...)
}

func (p *Pool) sweep(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.JobTimeout + p.cfg.LeaseGrace)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.leases.Sweep(); n > 0 {
				p.log.Warn("swept expired leases", zap.Int("count", n))
			}
		}
	}
}
