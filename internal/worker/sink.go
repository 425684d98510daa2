package worker

import (
	"context"

	"go.uber.org/zap"

	"strategy-core/internal/events"
	"strategy-core/pkg/db"
)

// ResultSink consumes finished job results.
type ResultSink interface {
	Handle(ctx context.Context, res db.JobResult)
}

// SinkFunc adapts a function to ResultSink.
type SinkFunc func(ctx context.Context, res db.JobResult)

func (f SinkFunc) Handle(ctx context.Context, res db.JobResult) { f(ctx, res) }

// StoreSink persists results; duplicates by idempotency key are ignored by
// the store.
type StoreSink struct {
	DB  *db.Database
	Log *zap.Logger
}

func (s StoreSink) Handle(ctx context.Context, res db.JobResult) {
	if err := s.DB.Queries().SaveJobResult(ctx, res); err != nil && s.Log != nil {
		s.Log.Error("save job result failed", zap.String("job_id", res.JobID), zap.Error(err))
	}
}

// BusSink publishes results on events.EventJobCompleted.
type BusSink struct {
	Bus *events.Bus
}

func (s BusSink) Handle(_ context.Context, res db.JobResult) {
	s.Bus.Publish(events.EventJobCompleted, res)
}
