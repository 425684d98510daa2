package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// Job is one evaluation cycle for one strategy.
type Job struct {
	ID          string    `json:"job_id"`
	StrategyID  string    `json:"strategy_id"`
	TriggerTime time.Time `json:"trigger_time"`
	Key         string    `json:"idempotency_key"`
	// Requeues counts how often the job was parked behind a held lease.
	Requeues int `json:"requeues"`
}

// NewJob builds a job for strategyID triggered at t.
func NewJob(strategyID string, t time.Time) Job {
	t = t.UTC()
	return Job{
		ID:          uuid.NewString(),
		StrategyID:  strategyID,
		TriggerTime: t,
		Key:         IdempotencyKey(strategyID, t),
	}
}

// IdempotencyKey identifies the logical job (strategyID, trigger time).
// Re-delivery of the same trigger produces the same key.
func IdempotencyKey(strategyID string, t time.Time) string {
	return strategyID + "@" + t.UTC().Format(time.RFC3339Nano)
}
