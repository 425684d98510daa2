package monitor

import (
	"fmt"
	"sync"

	"strategy-core/pkg/db"
)

// Rule decides whether a job result deserves an alert.
type Rule interface {
	Check(res db.JobResult) (bool, string)
}

// FailedJob alerts on every failed job.
type FailedJob struct{}

func (FailedJob) Check(res db.JobResult) (bool, string) {
	if res.Status != db.JobFailed {
		return false, ""
	}
	return true, fmt.Sprintf("job %s of strategy %s failed: %s", res.JobID, res.StrategyID, res.Error)
}

// ConsecutiveFailures alerts once a strategy has failed Threshold jobs in a
// row, and again every Threshold failures after that. Any non-failed result
// resets the streak.
type ConsecutiveFailures struct {
	Threshold int

	mu     sync.Mutex
	streak map[string]int
}

func (r *ConsecutiveFailures) Check(res db.JobResult) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streak == nil {
		r.streak = make(map[string]int)
	}
	if res.Status != db.JobFailed {
		delete(r.streak, res.StrategyID)
		return false, ""
	}
	r.streak[res.StrategyID]++
	n := r.streak[res.StrategyID]
	if r.Threshold <= 0 || n%r.Threshold != 0 {
		return false, ""
	}
	return true, fmt.Sprintf("strategy %s failed %d jobs in a row, last: %s", res.StrategyID, n, res.Error)
}
