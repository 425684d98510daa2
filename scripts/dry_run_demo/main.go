package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"strategy-core/internal/engine"
	"strategy-core/internal/market"
	"strategy-core/internal/order"
	"strategy-core/internal/scheduler"
	"strategy-core/internal/worker"
	"strategy-core/pkg/db"
	"strategy-core/pkg/logger"
)

// dry_run_demo runs the whole engine against an in-memory store and a
// synthetic random walk. Nothing touches an exchange or a file.
//
// Usage (from the repository root):
//
//	go run ./scripts/dry_run_demo -for 10s
//
// It will:
//  1. create a paper portfolio with 10000 USD and three strategies
//  2. activate them with a one second scheduler interval
//  3. print job results, positions and the final balance
func main() {
	runFor := flag.Duration("for", 10*time.Second, "how long to let the engine run")
	seed := flag.Int64("seed", 7, "random walk seed")
	flag.Parse()

	lg, err := logger.New("warn", "console")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	ctx := context.Background()

	database, err := db.New(":memory:")
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	q := database.Queries()
	balance := decimal.NewFromInt(10000)
	must(q.CreatePortfolio(ctx, db.Portfolio{ID: "demo", OwnerID: "demo", Name: "demo", InitialBalance: balance, CurrentBalance: balance, PaperTrading: true}))
	strategies := []db.Strategy{
		{ID: "mr", Type: "mean_reversion", Symbols: []string{"BTC-USD"}, Parameters: json.RawMessage(`{"quantity": 1, "std_dev": 1.5}`)},
		{ID: "mom", Type: "momentum", Symbols: []string{"ETH-USD"}, Parameters: json.RawMessage(`{"quantity": 2}`)},
		{ID: "brk", Type: "custom", Symbols: []string{"AAPL"}, Parameters: json.RawMessage(`{"name": "breakout", "options": {"lookback": 10}}`)},
	}
	for _, s := range strategies {
		s.OwnerID, s.PortfolioID, s.Name = "demo", "demo", s.ID
		must(q.CreateStrategy(ctx, s))
	}

	// One-second bars keep the demo short; the feed appends a bar per tick.
	symbols := []string{"BTC-USD", "ETH-USD", "AAPL"}
	feed, err := market.NewFeed(market.FeedConfig{Symbols: symbols, Timeframe: "1s", Interval: time.Second, HistoryLimit: 100},
		market.NewSyntheticProvider(*seed, 100, 2), market.NewSeriesStore(500), lg)
	if err != nil {
		log.Fatalf("feed: %v", err)
	}

	eng := engine.New(engine.Config{
		DB:       database,
		Series:   feed,
		Executor: order.NewExecutor(database, nil, nil, lg),
		Queue:    scheduler.QueueOptions{RequeueDelay: 50 * time.Millisecond},
		Pool:     worker.PoolConfig{Size: 2, JobTimeout: 5 * time.Second},
		Interval: time.Second,
		Log:      lg,
	})
	runCtx, cancel := context.WithCancel(ctx)
	go feed.Run(runCtx)
	must(eng.Start(runCtx))
	for _, s := range strategies {
		res, err := eng.Activate(ctx, s.ID)
		must(err)
		fmt.Printf("activated %-4s job=%s\n", s.ID, res.JobID)
	}

	time.Sleep(*runFor)
	for _, s := range strategies {
		_, _ = eng.Deactivate(ctx, s.ID)
	}
	cancel()
	eng.Stop()

	for _, s := range strategies {
		results, err := eng.JobResults(ctx, s.ID, 100)
		must(err)
		fmt.Printf("\n[%s] %d jobs\n", s.ID, len(results))
		for i := len(results) - 1; i >= 0; i-- {
			r := results[i]
			fmt.Printf("  %s %-7s trades=%d %s\n", r.TriggerTime.Format(time.TimeOnly), r.Status, r.TradesExecuted, r.Error)
		}
	}

	positions, err := q.ListPositions(ctx, "demo")
	must(err)
	fmt.Println("\npositions:")
	for _, p := range positions {
		fmt.Printf("  %-8s qty=%s avg=%s pnl=%s\n", p.Symbol, p.Quantity, p.AverageEntryPrice.StringFixed(2), p.UnrealizedPnL.StringFixed(2))
	}
	pf, err := q.GetPortfolio(ctx, "demo")
	must(err)
	fmt.Printf("\nbalance: %s -> %s\n", pf.InitialBalance, pf.CurrentBalance.StringFixed(2))

	snap := eng.Metrics(ctx)
	fmt.Printf("jobs: success=%d skipped=%d failed=%d trades=%d\n",
		snap.Jobs.Success, snap.Jobs.Skipped, snap.Jobs.Failed, snap.TradesExecuted)
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
