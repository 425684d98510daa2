package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"strategy-core/internal/market"
	"strategy-core/internal/scheduler"
	"strategy-core/internal/strategy"
	"strategy-core/pkg/db"
)

// SeriesSource serves price series, backfilling when needed.
type SeriesSource interface {
	Series(ctx context.Context, symbol string, need int) ([]market.Bar, error)
}

// TradeExecutor books an intent against a portfolio.
type TradeExecutor interface {
	Execute(ctx context.Context, portfolioID, strategyID string, intent strategy.Intent) (*db.Trade, error)
}

// Runner executes one evaluation cycle for one strategy. The caller holds
// the strategy's lease.
type Runner struct {
	DB        *db.Database
	Series    SeriesSource
	Evaluator *strategy.Evaluator
	Executor  TradeExecutor

	now func() time.Time
	log *zap.Logger
}

func NewRunner(database *db.Database, series SeriesSource, ev *strategy.Evaluator, exec TradeExecutor, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		DB:        database,
		Series:    series,
		Evaluator: ev,
		Executor:  exec,
		now:       time.Now,
		log:       log.With(zap.String("component", "job-runner")),
	}
}

// Run loads the strategy, evaluates every symbol in order and executes the
// resulting intents, one transaction each. Symbols without enough data are
// skipped; the first other error fails the job, keeping trades committed
// before it.
func (r *Runner) Run(ctx context.Context, job scheduler.Job) db.JobResult {
	res := db.JobResult{
		JobID:          job.ID,
		StrategyID:     job.StrategyID,
		IdempotencyKey: job.Key,
		TriggerTime:    job.TriggerTime,
	}
	log := r.log.With(zap.String("job_id", job.ID), zap.String("strategy_id", job.StrategyID))

	q := r.DB.Queries()
	s, err := q.GetStrategy(ctx, job.StrategyID)
	if err != nil {
		return r.fail(res, err)
	}
	if _, err := q.GetPortfolio(ctx, s.PortfolioID); err != nil {
		return r.fail(res, err)
	}
	if !s.Active {
		log.Debug("strategy inactive, skipping")
		return r.finish(res, db.JobSkipped, "strategy inactive")
	}

	params, err := r.Evaluator.Resolve(s.Type, s.Parameters, s.Symbols)
	if err != nil {
		return r.fail(res, err)
	}

	var (
		evaluated int
		missing   []string
		runErr    error
	)
	for _, symbol := range s.Symbols {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		bars, err := r.Series.Series(ctx, symbol, params.MinBars())
		if err != nil {
			runErr = fmt.Errorf("series %s: %w", symbol, err)
			break
		}
		intent, err := r.Evaluator.Evaluate(ctx, params, symbol, bars)
		if errors.Is(err, strategy.ErrDataUnavailable) {
			missing = append(missing, symbol)
			continue
		}
		if err != nil {
			runErr = fmt.Errorf("evaluate %s: %w", symbol, err)
			break
		}
		evaluated++
		if intent == nil {
			continue
		}

		log.Info("signal", zap.String("symbol", symbol), zap.String("side", string(intent.Side)),
			zap.String("qty", intent.Quantity.String()), zap.String("price", intent.Price.String()),
			zap.String("note", intent.Note))
		if _, err := r.Executor.Execute(ctx, s.PortfolioID, s.ID, *intent); err != nil {
			runErr = fmt.Errorf("execute %s: %w", symbol, err)
			break
		}
		res.TradesExecuted++
	}

	if err := q.TouchStrategy(ctx, s.ID, r.now()); err != nil && ctx.Err() == nil {
		log.Warn("record last execution failed", zap.Error(err))
	}

	switch {
	case runErr != nil:
		return r.fail(res, runErr)
	case evaluated > 0:
		return r.finish(res, db.JobSuccess, "")
	default:
		return r.finish(res, db.JobSkipped, "data unavailable: "+strings.Join(missing, ","))
	}
}

func (r *Runner) fail(res db.JobResult, err error) db.JobResult {
	res.Status = db.JobFailed
	res.Error = err.Error()
	res.ExecutedAt = r.now().UTC()
	return res
}

func (r *Runner) finish(res db.JobResult, status, detail string) db.JobResult {
	res.Status = status
	res.Error = detail
	res.ExecutedAt = r.now().UTC()
	return res
}
