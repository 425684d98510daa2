package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, ApplyMigrations(database))
	return database
}

func seedPortfolio(t *testing.T, d *Database, id string, balance string) {
	t.Helper()
	bal := decimal.RequireFromString(balance)
	require.NoError(t, d.Queries().CreatePortfolio(context.Background(), Portfolio{
		ID: id, OwnerID: "u1", Name: "paper", InitialBalance: bal, CurrentBalance: bal, PaperTrading: true,
	}))
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	d := newTestDB(t)
	require.NoError(t, ApplyMigrations(d))

	exists, err := columnExists(d, "trades", "order_id")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStrategyLifecycle(t *testing.T) {
	d := newTestDB(t)
	q := d.Queries()
	ctx := context.Background()
	seedPortfolio(t, d, "p1", "10000")

	require.NoError(t, q.CreateStrategy(ctx, Strategy{
		ID: "s1", OwnerID: "u1", PortfolioID: "p1", Name: "mr", Type: "mean_reversion",
		Symbols: []string{"BTCUSDT", "ETHUSDT"}, Parameters: json.RawMessage(`{"quantity":"2"}`),
	}))

	s, err := q.GetStrategy(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, s.Active)
	assert.Nil(t, s.LastExecutedAt)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, s.Symbols)
	assert.JSONEq(t, `{"quantity":"2"}`, string(s.Parameters))

	t.Run("conditional activation", func(t *testing.T) {
		changed, err := q.SetStrategyActive(ctx, "s1", true)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = q.SetStrategyActive(ctx, "s1", true)
		require.NoError(t, err)
		assert.False(t, changed, "second activation must not report a transition")

		active, err := q.ListActiveStrategies(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "s1", active[0].ID)
	})

	t.Run("touch", func(t *testing.T) {
		at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		require.NoError(t, q.TouchStrategy(ctx, "s1", at))
		s, err := q.GetStrategy(ctx, "s1")
		require.NoError(t, err)
		require.NotNil(t, s.LastExecutedAt)
		assert.True(t, at.Equal(*s.LastExecutedAt))
	})

	t.Run("owner scoping", func(t *testing.T) {
		_, err := q.GetStrategyForOwner(ctx, "", "s1")
		assert.ErrorIs(t, err, ErrOwnerRequired)

		_, err = q.GetStrategyForOwner(ctx, "someone-else", "s1")
		assert.ErrorIs(t, err, ErrNotFound)

		s, err := q.GetStrategyForOwner(ctx, "u1", "s1")
		require.NoError(t, err)
		assert.Equal(t, "s1", s.ID)
	})
}

func TestMissingRowsAreNotFound(t *testing.T) {
	d := newTestDB(t)
	q := d.Queries()
	ctx := context.Background()

	_, err := q.GetStrategy(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	var pe *PersistenceError
	assert.True(t, errors.As(err, &pe))

	_, err = q.GetPortfolio(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = q.GetPosition(ctx, "nope", "BTCUSDT")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, q.TouchStrategy(ctx, "nope", time.Now()), ErrNotFound)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	seedPortfolio(t, d, "p1", "10000")

	boom := errors.New("boom")
	err := d.WithTx(ctx, func(q *Queries) error {
		if err := q.UpdatePortfolioBalance(ctx, "p1", decimal.NewFromInt(1)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, err := d.Queries().GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p.CurrentBalance.Equal(decimal.NewFromInt(10000)))
}

func TestDecimalRoundTripIsExact(t *testing.T) {
	d := newTestDB(t)
	q := d.Queries()
	ctx := context.Background()
	seedPortfolio(t, d, "p1", "0.1")

	require.NoError(t, q.UpsertPosition(ctx, Position{
		PortfolioID:       "p1",
		Symbol:            "ETHUSDT",
		Quantity:          decimal.RequireFromString("0.30000001"),
		AverageEntryPrice: decimal.RequireFromString("1999.99999999"),
		CurrentPrice:      decimal.RequireFromString("2000"),
		UnrealizedPnL:     decimal.RequireFromString("0.000000003"),
	}))

	pos, err := q.GetPosition(ctx, "p1", "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "0.30000001", pos.Quantity.String())
	assert.Equal(t, "1999.99999999", pos.AverageEntryPrice.String())

	p, err := q.GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "0.1", p.CurrentBalance.String())
}

func TestDeletePortfolioCascades(t *testing.T) {
	d := newTestDB(t)
	q := d.Queries()
	ctx := context.Background()
	seedPortfolio(t, d, "p1", "100")

	require.NoError(t, q.CreateStrategy(ctx, Strategy{ID: "s1", OwnerID: "u1", PortfolioID: "p1", Name: "m", Type: "momentum"}))
	require.NoError(t, q.InsertTrade(ctx, Trade{
		ID: "t1", PortfolioID: "p1", StrategyID: "s1", Symbol: "BTCUSDT", Side: SideBuy,
		Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(10), TotalValue: decimal.NewFromInt(10),
		Status: TradeExecuted, ExecutedAt: time.Now(),
	}))

	t.Run("strategy delete keeps trades", func(t *testing.T) {
		require.NoError(t, q.DeleteStrategy(ctx, "s1"))
		trades, err := q.ListTrades(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, trades, 1)
		assert.Empty(t, trades[0].StrategyID)
	})

	t.Run("portfolio delete removes trades", func(t *testing.T) {
		require.NoError(t, q.DeletePortfolio(ctx, "p1"))
		trades, err := q.ListTrades(ctx, "p1")
		require.NoError(t, err)
		assert.Empty(t, trades)
	})
}

func TestJobResultsDeduplicateByKey(t *testing.T) {
	d := newTestDB(t)
	q := d.Queries()
	ctx := context.Background()
	seedPortfolio(t, d, "p1", "100")
	require.NoError(t, q.CreateStrategy(ctx, Strategy{ID: "s1", OwnerID: "u1", PortfolioID: "p1", Name: "m", Type: "momentum"}))

	now := time.Now().UTC()
	r := JobResult{JobID: "j1", StrategyID: "s1", IdempotencyKey: "s1@t0", TriggerTime: now,
		Status: JobSuccess, TradesExecuted: 1, ExecutedAt: now}
	require.NoError(t, q.SaveJobResult(ctx, r))

	r.JobID = "j2"
	r.Status = JobFailed
	require.NoError(t, q.SaveJobResult(ctx, r))

	results, err := q.ListJobResults(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "j1", results[0].JobID)
	assert.Equal(t, JobSuccess, results[0].Status)
}

func TestPriceBarsOldestFirst(t *testing.T) {
	d := newTestDB(t)
	q := d.Queries()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.UpsertPriceBar(ctx, PriceBar{
			Symbol: "BTCUSDT", Timeframe: "1m", OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open: decimal.NewFromInt(int64(100 + i)), High: decimal.NewFromInt(int64(101 + i)),
			Low: decimal.NewFromInt(int64(99 + i)), Close: decimal.NewFromInt(int64(100 + i)),
			Volume: decimal.NewFromInt(1),
		}))
	}

	bars, err := q.ListPriceBars(ctx, "BTCUSDT", "1m", 3)
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, "102", bars[0].Close.String())
	assert.Equal(t, "104", bars[2].Close.String())
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b = ?"
	assert.Equal(t, q, Rebind(DriverSQLite, q))
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", Rebind(DriverPostgres, q))
}
