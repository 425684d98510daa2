package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-core/internal/market"
	"strategy-core/internal/order"
	"strategy-core/internal/scheduler"
	"strategy-core/internal/strategy"
	"strategy-core/pkg/db"
)

// closes builds n bars at px followed by the given tail, one minute apart.
func closes(n int, px int64, tail ...int64) []market.Bar {
	var out []market.Bar
	add := func(v int64) {
		p := decimal.NewFromInt(v)
		out = append(out, market.Bar{Time: t0.Add(time.Duration(len(out)) * time.Minute), Open: p, High: p, Low: p, Close: p, Volume: decimal.NewFromInt(1)})
	}
	for i := 0; i < n; i++ {
		add(px)
	}
	for _, v := range tail {
		add(v)
	}
	return out
}

type fixture struct {
	db     *db.Database
	runner *Runner
	calls  atomic.Int32
}

func newFixture(t *testing.T, symbols []string, params string, series map[string][]market.Bar) *fixture {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	ctx := context.Background()
	q := database.Queries()
	bal := decimal.NewFromInt(10000)
	require.NoError(t, q.CreatePortfolio(ctx, db.Portfolio{ID: "p1", OwnerID: "u1", Name: "paper", InitialBalance: bal, CurrentBalance: bal, PaperTrading: true}))
	require.NoError(t, q.CreateStrategy(ctx, db.Strategy{
		ID: "s1", OwnerID: "u1", PortfolioID: "p1", Name: "mr", Type: "mean_reversion",
		Symbols: symbols, Parameters: json.RawMessage(params),
	}))
	_, err = q.SetStrategyActive(ctx, "s1", true)
	require.NoError(t, err)

	f := &fixture{db: database}
	provider := market.ProviderFunc(func(ctx context.Context, symbol, tf string, limit int) ([]market.Bar, error) {
		f.calls.Add(1)
		bars, ok := series[symbol]
		if !ok {
			return nil, &market.ProviderError{Symbol: symbol, Attempts: 1, Err: errors.New("unknown symbol")}
		}
		return bars, nil
	})
	feed, err := market.NewFeed(market.FeedConfig{Timeframe: "1m"}, provider, market.NewSeriesStore(500), nil)
	require.NoError(t, err)
	feed.WithClock(func() time.Time { return t0.Add(24 * time.Hour) })

	ev := strategy.NewEvaluator(nil)
	f.runner = NewRunner(database, feed, ev, order.NewExecutor(database, nil, nil, nil), nil)
	return f
}

func (f *fixture) balance(t *testing.T) string {
	t.Helper()
	p, err := f.db.Queries().GetPortfolio(context.Background(), "p1")
	require.NoError(t, err)
	return p.CurrentBalance.String()
}

func TestRunnerBuysBelowLowerBand(t *testing.T) {
	f := newFixture(t, []string{"BTC-USD"}, `{}`, map[string][]market.Bar{"BTC-USD": closes(20, 100, 80)})
	ctx := context.Background()
	job := scheduler.NewJob("s1", t0)

	res := f.runner.Run(ctx, job)
	assert.Equal(t, db.JobSuccess, res.Status, res.Error)
	assert.Equal(t, 1, res.TradesExecuted)
	assert.Equal(t, job.Key, res.IdempotencyKey)
	assert.Equal(t, "9200", f.balance(t))

	pos, err := f.db.Queries().GetPosition(ctx, "p1", "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, "10", pos.Quantity.String())
	assert.Equal(t, "80", pos.AverageEntryPrice.String())

	s, err := f.db.Queries().GetStrategy(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, s.LastExecutedAt)

	trades, err := f.db.Queries().ListTrades(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "s1", trades[0].StrategyID)
}

func TestRunnerSkipsInactiveStrategy(t *testing.T) {
	f := newFixture(t, []string{"BTC-USD"}, `{}`, map[string][]market.Bar{"BTC-USD": closes(20, 100, 80)})
	ctx := context.Background()
	_, err := f.db.Queries().SetStrategyActive(ctx, "s1", false)
	require.NoError(t, err)

	res := f.runner.Run(ctx, scheduler.NewJob("s1", t0))
	assert.Equal(t, db.JobSkipped, res.Status)
	assert.Zero(t, f.calls.Load(), "inactive strategies are not evaluated")
	assert.Equal(t, "10000", f.balance(t))
}

func TestRunnerShortSeriesIsSkipped(t *testing.T) {
	f := newFixture(t, []string{"BTC-USD"}, `{}`, map[string][]market.Bar{"BTC-USD": closes(10, 100)})

	res := f.runner.Run(context.Background(), scheduler.NewJob("s1", t0))
	assert.Equal(t, db.JobSkipped, res.Status)
	assert.Contains(t, res.Error, "BTC-USD")
}

func TestRunnerMixedSymbols(t *testing.T) {
	f := newFixture(t, []string{"ETH-USD", "BTC-USD"}, `{"quantity": 2}`, map[string][]market.Bar{
		"ETH-USD": closes(5, 100),
		"BTC-USD": closes(20, 100, 80),
	})

	res := f.runner.Run(context.Background(), scheduler.NewJob("s1", t0))
	assert.Equal(t, db.JobSuccess, res.Status)
	assert.Equal(t, 1, res.TradesExecuted)
	assert.Equal(t, "9840", f.balance(t))
}

func TestRunnerFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("provider error keeps strategy active", func(t *testing.T) {
		f := newFixture(t, []string{"NOPE"}, `{}`, nil)
		res := f.runner.Run(ctx, scheduler.NewJob("s1", t0))
		assert.Equal(t, db.JobFailed, res.Status)
		assert.Contains(t, res.Error, "unknown symbol")

		s, err := f.db.Queries().GetStrategy(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, s.Active)
	})

	t.Run("oversell rolls back", func(t *testing.T) {
		f := newFixture(t, []string{"BTC-USD"}, `{}`, map[string][]market.Bar{"BTC-USD": closes(20, 100, 120)})
		res := f.runner.Run(ctx, scheduler.NewJob("s1", t0))
		assert.Equal(t, db.JobFailed, res.Status)
		assert.Contains(t, res.Error, order.ErrInsufficientPosition.Error())
		assert.Zero(t, res.TradesExecuted)
		assert.Equal(t, "10000", f.balance(t))
	})

	t.Run("missing strategy", func(t *testing.T) {
		f := newFixture(t, []string{"BTC-USD"}, `{}`, nil)
		res := f.runner.Run(ctx, scheduler.NewJob("ghost", t0))
		assert.Equal(t, db.JobFailed, res.Status)
		assert.Contains(t, res.Error, db.ErrNotFound.Error())
	})
}
