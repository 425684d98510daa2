package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"strategy-core/pkg/db"
)

// WriteOp is one buffered statement, written with ? placeholders.
type WriteOp struct {
	Query string
	Args  []any
}

// BatchWriter buffers writes and commits them in one transaction per
// flush. The feed uses it for price bars so ingestion never waits on disk.
type BatchWriter struct {
	db          *db.Database
	buffer      []WriteOp
	mu          sync.Mutex
	flushMu     sync.Mutex
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	log         *zap.Logger

	totalWrites  atomic.Uint64
	totalBatches atomic.Uint64
	totalErrors  atomic.Uint64
	lastMu       sync.Mutex
	lastSize     int
	lastFlush    time.Time
}

// BatchWriterMetrics reports batch statistics.
type BatchWriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewBatchWriter starts a writer that flushes every interval or once
// maxSize operations are buffered.
func NewBatchWriter(database *db.Database, maxSize int, interval time.Duration, log *zap.Logger) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}

	bw := &BatchWriter{
		db:          database,
		buffer:      make([]WriteOp, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
		log:         log.With(zap.String("component", "batch-writer")),
	}

	bw.wg.Add(1)
	go bw.backgroundFlush()
	return bw
}

// Write buffers op.
func (bw *BatchWriter) Write(op WriteOp) {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, op)
	shouldFlush := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if shouldFlush {
		if err := bw.Flush(context.Background()); err != nil {
			bw.log.Warn("size-triggered flush failed", zap.Error(err))
		}
	}
}

// WriteQuery buffers a single statement.
func (bw *BatchWriter) WriteQuery(query string, args ...any) {
	bw.Write(WriteOp{Query: query, Args: args})
}

// Flush commits everything buffered so far. A failed batch is dropped.
func (bw *BatchWriter) Flush(ctx context.Context) error {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	ops := bw.buffer
	bw.buffer = make([]WriteOp, 0, bw.maxSize)
	bw.mu.Unlock()

	return bw.executeBatch(ctx, ops)
}

func (bw *BatchWriter) executeBatch(ctx context.Context, ops []WriteOp) error {
	bw.totalWrites.Add(uint64(len(ops)))
	bw.totalBatches.Add(1)
	bw.lastMu.Lock()
	bw.lastSize = len(ops)
	bw.lastFlush = time.Now()
	bw.lastMu.Unlock()

	tx, err := bw.db.DB.BeginTx(ctx, nil)
	if err != nil {
		bw.totalErrors.Add(1)
		bw.log.Error("begin batch failed", zap.Int("ops", len(ops)), zap.Error(err))
		return err
	}
	for _, op := range ops {
		if _, err := tx.ExecContext(ctx, db.Rebind(bw.db.Driver, op.Query), op.Args...); err != nil {
			_ = tx.Rollback()
			bw.totalErrors.Add(1)
			bw.log.Error("batch statement failed, rolled back", zap.Int("ops", len(ops)), zap.Error(err))
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		bw.totalErrors.Add(1)
		bw.log.Error("batch commit failed", zap.Int("ops", len(ops)), zap.Error(err))
		return err
	}

	bw.log.Debug("batch flushed", zap.Int("ops", len(ops)))
	return nil
}

func (bw *BatchWriter) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := bw.Flush(context.Background()); err != nil {
				bw.log.Warn("background flush failed", zap.Error(err))
			}
		case <-bw.done:
			if err := bw.Flush(context.Background()); err != nil {
				bw.log.Warn("final flush failed", zap.Error(err))
			}
			return
		}
	}
}

// Pending returns the number of buffered operations.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// GetMetrics returns the writer's counters.
func (bw *BatchWriter) GetMetrics() BatchWriterMetrics {
	bw.lastMu.Lock()
	defer bw.lastMu.Unlock()
	return BatchWriterMetrics{
		TotalWrites:   bw.totalWrites.Load(),
		TotalBatches:  bw.totalBatches.Load(),
		TotalErrors:   bw.totalErrors.Load(),
		LastBatchSize: bw.lastSize,
		LastFlushTime: bw.lastFlush,
	}
}

// Close flushes what is left and stops the background loop. Safe to call
// more than once.
func (bw *BatchWriter) Close() error {
	bw.closeOnce.Do(func() { close(bw.done) })
	bw.wg.Wait()
	return nil
}
