package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"strategy-core/internal/events"
	"strategy-core/internal/strategy"
	"strategy-core/pkg/db"
)

// ActivationResult answers Activate.
type ActivationResult struct {
	Accepted bool   `json:"accepted"`
	Active   bool   `json:"active"`
	JobID    string `json:"job_id,omitempty"`
}

// DeactivationResult answers Deactivate.
type DeactivationResult struct {
	Accepted bool `json:"accepted"`
	Active   bool `json:"active"`
}

// StrategyEvent is published on activation changes.
type StrategyEvent struct {
	StrategyID string    `json:"strategy_id"`
	Active     bool      `json:"active"`
	At         time.Time `json:"at"`
}

// Dispatcher turns activation state into jobs: one immediately on
// activation, then one per interval until the strategy is deactivated.
type Dispatcher struct {
	db        *db.Database
	queue     *Queue
	evaluator *strategy.Evaluator
	bus       *events.Bus
	interval  time.Duration
	now       func() time.Time
	log       *zap.Logger

	mu       sync.Mutex
	triggers map[string]context.CancelFunc
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewDispatcher(database *db.Database, queue *Queue, ev *strategy.Evaluator, interval time.Duration, log *zap.Logger) *Dispatcher {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		db:        database,
		queue:     queue,
		evaluator: ev,
		interval:  interval,
		now:       time.Now,
		log:       log.With(zap.String("component", "dispatcher")),
		triggers:  make(map[string]context.CancelFunc),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// WithBus publishes activation changes.
func (d *Dispatcher) WithBus(b *events.Bus) *Dispatcher { d.bus = b; return d }

// Activate validates and activates a strategy, enqueues its first job and
// starts its recurring trigger. Activating an active strategy is a no-op.
func (d *Dispatcher) Activate(ctx context.Context, strategyID string) (ActivationResult, error) {
	q := d.db.Queries()
	s, err := q.GetStrategy(ctx, strategyID)
	if err != nil {
		return ActivationResult{}, err
	}
	if s.Active {
		return ActivationResult{Active: true}, nil
	}
	if _, err := d.evaluator.Resolve(s.Type, s.Parameters, s.Symbols); err != nil {
		d.log.Info("activation rejected", zap.String("strategy_id", strategyID), zap.Error(err))
		return ActivationResult{}, err
	}

	flipped, err := q.SetStrategyActive(ctx, strategyID, true)
	if err != nil {
		return ActivationResult{}, err
	}
	if !flipped {
		// Lost a race with a concurrent Activate.
		return ActivationResult{Active: true}, nil
	}

	res := ActivationResult{Accepted: true, Active: true}
	job := NewJob(strategyID, d.now())
	if err := d.queue.Enqueue(job); err != nil {
		d.log.Warn("enqueue first job failed, waiting for next trigger",
			zap.String("strategy_id", strategyID), zap.Error(err))
	} else {
		res.JobID = job.ID
	}
	d.startTrigger(strategyID)

	d.log.Info("strategy activated", zap.String("strategy_id", strategyID), zap.String("job_id", res.JobID))
	d.publish(events.EventStrategyActivated, strategyID, true)
	return res, nil
}

// Deactivate stops future scheduling. Queued and running jobs are left
// alone; the runner skips jobs of inactive strategies.
func (d *Dispatcher) Deactivate(ctx context.Context, strategyID string) (DeactivationResult, error) {
	q := d.db.Queries()
	if _, err := q.GetStrategy(ctx, strategyID); err != nil {
		return DeactivationResult{}, err
	}
	flipped, err := q.SetStrategyActive(ctx, strategyID, false)
	if err != nil {
		return DeactivationResult{}, err
	}
	d.stopTrigger(strategyID)
	if !flipped {
		return DeactivationResult{}, nil
	}

	d.log.Info("strategy deactivated", zap.String("strategy_id", strategyID))
	d.publish(events.EventStrategyDeactivated, strategyID, false)
	return DeactivationResult{Accepted: true}, nil
}

// Start re-registers triggers for strategies that were active when the
// process last stopped.
func (d *Dispatcher) Start(ctx context.Context) error {
	active, err := d.db.Queries().ListActiveStrategies(ctx)
	if err != nil {
		return err
	}
	for _, s := range active {
		d.startTrigger(s.ID)
	}
	d.log.Info("dispatcher started", zap.Int("active_strategies", len(active)), zap.Duration("interval", d.interval))
	return nil
}

// Stop cancels every trigger and waits for them to exit.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}

// Scheduled lists strategies with a running trigger.
func (d *Dispatcher) Scheduled() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.triggers))
	for id := range d.triggers {
		out = append(out, id)
	}
	return out
}

func (d *Dispatcher) startTrigger(strategyID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, running := d.triggers[strategyID]; running || d.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(d.ctx)
	d.triggers[strategyID] = cancel
	d.wg.Add(1)
	go d.trigger(ctx, strategyID)
}

func (d *Dispatcher) stopTrigger(strategyID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cancel, ok := d.triggers[strategyID]; ok {
		cancel()
		delete(d.triggers, strategyID)
	}
}

// forget drops the trigger owned by ctx. A cancelled ctx means the entry
// was already removed, possibly replaced by a newer activation.
func (d *Dispatcher) forget(ctx context.Context, strategyID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if cancel, ok := d.triggers[strategyID]; ok {
		cancel()
		delete(d.triggers, strategyID)
	}
}

func (d *Dispatcher) trigger(ctx context.Context, strategyID string) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			s, err := d.db.Queries().GetStrategy(ctx, strategyID)
			if errors.Is(err, db.ErrNotFound) {
				d.forget(ctx, strategyID)
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					d.log.Warn("trigger could not load strategy", zap.String("strategy_id", strategyID), zap.Error(err))
				}
				continue
			}
			if !s.Active {
				d.forget(ctx, strategyID)
				return
			}
			if err := d.queue.Enqueue(NewJob(strategyID, t)); err != nil {
				d.log.Warn("enqueue periodic job failed", zap.String("strategy_id", strategyID), zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) publish(e events.Event, strategyID string, active bool) {
	if d.bus != nil {
		d.bus.Publish(e, StrategyEvent{StrategyID: strategyID, Active: active, At: d.now().UTC()})
	}
}
