// Package engine is the facade the API layer talks to. It owns the
// dispatcher, the job queue and the worker pool and hides how they are
// wired together.
package engine

import (
	"context"

	"strategy-core/internal/monitor"
	"strategy-core/internal/scheduler"
	"strategy-core/pkg/db"
)

// Service defines the engine operations exposed to the API layer.
type Service interface {
	// Strategy commands
	Activate(ctx context.Context, strategyID string) (scheduler.ActivationResult, error)
	Deactivate(ctx context.Context, strategyID string) (scheduler.DeactivationResult, error)

	// Queries
	GetStrategy(ctx context.Context, strategyID string) (*db.Strategy, error)
	JobResults(ctx context.Context, strategyID string, limit int) ([]db.JobResult, error)

	// System
	Metrics(ctx context.Context) monitor.Snapshot
	GetSystemStatus(ctx context.Context) *SystemStatus
}
