package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"strategy-core/internal/events"
	"strategy-core/internal/monitor"
	"strategy-core/internal/scheduler"
	"strategy-core/internal/strategy"
	"strategy-core/internal/worker"
	"strategy-core/pkg/db"
)

// Config holds what New needs to assemble the engine.
type Config struct {
	DB        *db.Database
	Bus       *events.Bus
	Evaluator *strategy.Evaluator
	Series    worker.SeriesSource
	Executor  worker.TradeExecutor
	Metrics   *monitor.Metrics

	Queue    scheduler.QueueOptions
	Pool     worker.PoolConfig
	Interval time.Duration

	// Sinks run after the built-in store, metrics and bus sinks.
	Sinks []worker.ResultSink
	Meta  SystemStatus
	Log   *zap.Logger
}

// Impl implements Service by composing the scheduler and worker packages.
type Impl struct {
	db         *db.Database
	queue      *scheduler.Queue
	dispatcher *scheduler.Dispatcher
	pool       *worker.Pool
	metrics    *monitor.Metrics
	meta       SystemStatus
	log        *zap.Logger
}

var _ Service = (*Impl)(nil)

// New wires queue, dispatcher, runner and pool. Nothing runs until Start.
func New(cfg Config) *Impl {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = strategy.NewEvaluator(nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = monitor.NewMetrics()
	}

	queue := scheduler.NewQueue(cfg.Queue, log)
	dispatcher := scheduler.NewDispatcher(cfg.DB, queue, cfg.Evaluator, cfg.Interval, log)
	runner := worker.NewRunner(cfg.DB, cfg.Series, cfg.Evaluator, cfg.Executor, log)

	sinks := []worker.ResultSink{worker.StoreSink{DB: cfg.DB, Log: log}, cfg.Metrics}
	if cfg.Bus != nil {
		dispatcher.WithBus(cfg.Bus)
		sinks = append(sinks, worker.BusSink{Bus: cfg.Bus})
	}
	pool := worker.NewPool(cfg.Pool, queue, runner, log).WithSinks(append(sinks, cfg.Sinks...)...)

	e := &Impl{
		db:         cfg.DB,
		queue:      queue,
		dispatcher: dispatcher,
		pool:       pool,
		metrics:    cfg.Metrics,
		meta:       cfg.Meta,
		log:        log.With(zap.String("component", "engine")),
	}
	e.meta.Workers = pool.Size()
	e.meta.StartedAt = time.Now().UTC()
	if e.meta.Interval == "" {
		e.meta.Interval = cfg.Interval.String()
	}
	if len(e.meta.Strategies) == 0 {
		e.meta.Strategies = cfg.Evaluator.Registry().Names()
	}
	cfg.Metrics.Observe(e.gauges)
	return e
}

// Start launches the workers and restores triggers of active strategies.
func (e *Impl) Start(ctx context.Context) error {
	e.pool.Start(ctx)
	return e.dispatcher.Start(ctx)
}

// Stop halts scheduling, drops queued jobs and waits for running jobs.
// Workers exit once the queue is closed.
func (e *Impl) Stop() {
	e.dispatcher.Stop()
	e.queue.Close()
	e.pool.Wait()
	e.log.Info("engine stopped")
}

// Scheduled lists strategies with a live trigger.
func (e *Impl) Scheduled() []string { return e.dispatcher.Scheduled() }

// Results exposes the pool's result stream.
func (e *Impl) Results() <-chan db.JobResult { return e.pool.Results() }

// --- Strategy Commands ---

func (e *Impl) Activate(ctx context.Context, strategyID string) (scheduler.ActivationResult, error) {
	return e.dispatcher.Activate(ctx, strategyID)
}

func (e *Impl) Deactivate(ctx context.Context, strategyID string) (scheduler.DeactivationResult, error) {
	return e.dispatcher.Deactivate(ctx, strategyID)
}

// --- Queries ---

func (e *Impl) GetStrategy(ctx context.Context, strategyID string) (*db.Strategy, error) {
	return e.db.Queries().GetStrategy(ctx, strategyID)
}

func (e *Impl) JobResults(ctx context.Context, strategyID string, limit int) ([]db.JobResult, error) {
	return e.db.Queries().ListJobResults(ctx, strategyID, limit)
}

// --- System ---

func (e *Impl) Metrics(_ context.Context) monitor.Snapshot {
	return e.metrics.GetSnapshot()
}

func (e *Impl) GetSystemStatus(_ context.Context) *SystemStatus {
	st := e.meta
	st.ServerTime = time.Now().UTC()
	return &st
}

func (e *Impl) gauges() monitor.Gauges {
	busy, _, dropped := e.pool.Stats()
	return monitor.Gauges{
		QueueDepth:     e.queue.Len(),
		WorkersBusy:    busy,
		WorkersTotal:   e.pool.Size(),
		ActiveLeases:   e.pool.Leases().Len(),
		Scheduled:      len(e.dispatcher.Scheduled()),
		ResultsDropped: dropped,
	}
}
