package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrDuplicateJob = errors.New("duplicate job")
	ErrQueueFull    = errors.New("job queue full")
	ErrQueueClosed  = errors.New("job queue closed")
)

// QueueOptions tunes a Queue. Zero values pick defaults.
type QueueOptions struct {
	Capacity     int
	RequeueDelay time.Duration
	DedupeWindow time.Duration
}

// Queue is the dispatch queue between the scheduler and the worker pool.
//
// Ready jobs are served oldest first. A job whose strategy is busy is parked
// on that strategy's lane (sorted by trigger time) and comes back after the
// requeue delay or as soon as the running job is Done. While a lane holds
// jobs, newer jobs of that strategy wait behind them, so one strategy's jobs
// run in trigger order.
type Queue struct {
	mu       sync.Mutex
	ready    []Job
	lanes    map[string][]Job
	timers   map[string]*time.Timer
	seen     map[string]time.Time
	size     int
	closed   bool
	signal   chan struct{}
	done     chan struct{}
	lastGC   time.Time
	capacity int
	delay    time.Duration
	window   time.Duration
	now      func() time.Time
	log      *zap.Logger
}

func NewQueue(opts QueueOptions, log *zap.Logger) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = 1024
	}
	if opts.RequeueDelay <= 0 {
		opts.RequeueDelay = 500 * time.Millisecond
	}
	if opts.DedupeWindow <= 0 {
		opts.DedupeWindow = time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		lanes:    make(map[string][]Job),
		timers:   make(map[string]*time.Timer),
		seen:     make(map[string]time.Time),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		capacity: opts.Capacity,
		delay:    opts.RequeueDelay,
		window:   opts.DedupeWindow,
		now:      time.Now,
		lastGC:   time.Now(),
		log:      log.With(zap.String("component", "job-queue")),
	}
}

// Enqueue adds job. A key already seen inside the dedupe window is rejected
// with ErrDuplicateJob.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	now := q.now()
	q.gcSeen(now)
	if at, ok := q.seen[job.Key]; ok && now.Sub(at) < q.window {
		return ErrDuplicateJob
	}
	if q.size >= q.capacity {
		return ErrQueueFull
	}

	q.seen[job.Key] = now
	q.size++
	if len(q.lanes[job.StrategyID]) > 0 {
		q.park(job)
		return nil
	}
	q.ready = append(q.ready, job)
	q.notify()
	return nil
}

// Next blocks until a job can be claimed. claim runs under the queue lock,
// so jobs are claimed in the order they are popped; it must not block. A
// job whose claim fails is parked and retried later.
func (q *Queue) Next(ctx context.Context, claim func(Job) bool) (Job, error) {
	for {
		if job, ok, err := q.tryNext(claim); err != nil || ok {
			return job, err
		}
		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-q.done:
			return Job{}, ErrQueueClosed
		case <-q.signal:
		}
	}
}

func (q *Queue) tryNext(claim func(Job) bool) (Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Job{}, false, ErrQueueClosed
	}
	for len(q.ready) > 0 {
		job := q.ready[0]
		q.ready[0] = Job{}
		q.ready = q.ready[1:]

		if len(q.lanes[job.StrategyID]) > 0 || !claim(job) {
			job.Requeues++
			q.park(job)
			continue
		}
		q.size--
		if len(q.ready) > 0 {
			q.notify()
		}
		return job, true, nil
	}
	return Job{}, false, nil
}

// Done reports that the claimed job finished and its lease is released. The
// strategy's parked jobs become ready immediately.
func (q *Queue) Done(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.timers[job.StrategyID]; ok {
		t.Stop()
		delete(q.timers, job.StrategyID)
	}
	q.releaseLocked(job.StrategyID)
}

// Len returns ready plus parked jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Close wakes every waiter with ErrQueueClosed and drops pending jobs.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	if q.size > 0 {
		q.log.Warn("queue closed with pending jobs", zap.Int("pending", q.size))
	}
	close(q.done)
}

// park inserts job into its lane in trigger order and arms the lane timer.
func (q *Queue) park(job Job) {
	lane := q.lanes[job.StrategyID]
	i := sort.Search(len(lane), func(i int) bool { return lane[i].TriggerTime.After(job.TriggerTime) })
	lane = append(lane, Job{})
	copy(lane[i+1:], lane[i:])
	lane[i] = job
	q.lanes[job.StrategyID] = lane

	if _, armed := q.timers[job.StrategyID]; !armed {
		id := job.StrategyID
		q.timers[id] = time.AfterFunc(q.delay, func() { q.release(id) })
	}
}

func (q *Queue) release(strategyID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.timers, strategyID)
	if !q.closed {
		q.releaseLocked(strategyID)
	}
}

// releaseLocked moves a lane to the front of the ready list.
func (q *Queue) releaseLocked(strategyID string) {
	lane := q.lanes[strategyID]
	if len(lane) == 0 {
		return
	}
	delete(q.lanes, strategyID)
	q.ready = append(lane, q.ready...)
	q.notify()
}

func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Queue) gcSeen(now time.Time) {
	if now.Sub(q.lastGC) < q.window {
		return
	}
	for key, at := range q.seen {
		if now.Sub(at) >= q.window {
			delete(q.seen, key)
		}
	}
	q.lastGC = now
}
