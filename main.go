package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"strategy-core/internal/api"
	"strategy-core/internal/engine"
	"strategy-core/internal/events"
	"strategy-core/internal/market"
	"strategy-core/internal/monitor"
	"strategy-core/internal/notify"
	"strategy-core/internal/order"
	"strategy-core/internal/persistence"
	"strategy-core/internal/scheduler"
	"strategy-core/internal/strategy"
	"strategy-core/internal/worker"
	"strategy-core/pkg/config"
	"strategy-core/pkg/db"
	exspot "strategy-core/pkg/exchanges/binance/spot"
	exchange "strategy-core/pkg/exchanges/common"
	"strategy-core/pkg/logger"
	marketbinance "strategy-core/pkg/market/binance"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(cfg, lg); err != nil {
		lg.Fatal("strategy-core stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lg.Info("starting strategy-core", zap.String("version", version), zap.String("db_driver", cfg.DBDriver))

	// Store
	dsn := cfg.DBPath
	if cfg.DBDriver == db.DriverPostgres {
		dsn = cfg.DBURL
	}
	database, err := db.Open(cfg.DBDriver, dsn)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return err
	}

	evaluator := strategy.NewEvaluator(nil)
	if cfg.StrategySeedFile != "" {
		seed, err := strategy.LoadSeed(cfg.StrategySeedFile)
		if err != nil {
			return err
		}
		if err := strategy.ApplySeed(ctx, database, evaluator, seed); err != nil {
			return err
		}
		lg.Info("seed applied", zap.String("file", cfg.StrategySeedFile),
			zap.Int("portfolios", len(seed.Portfolios)), zap.Int("strategies", len(seed.Strategies)))
	}

	bus := events.NewBus()

	// Market data
	writer := persistence.NewBatchWriter(database, 200, 2*time.Second, lg)
	defer writer.Close()

	feed, err := market.NewFeed(market.FeedConfig{
		Symbols:      cfg.MarketSymbols,
		Timeframe:    cfg.MarketTimeframe,
		Interval:     cfg.MarketFeedInterval,
		HistoryLimit: cfg.MarketHistoryLimit,
	}, newProvider(cfg, database, lg), market.NewSeriesStore(cfg.MarketRetention), lg)
	if err != nil {
		return err
	}
	feed.WithBus(bus).
		WithRecorder(market.BatchRecorder{Writer: writer}).
		WithSymbolSource(activeSymbols(database))
	feed.Warm(ctx, market.StoreProvider{Queries: database.Queries()})

	// Execution
	var gateway exchange.Gateway
	mode := "paper"
	if cfg.BinanceAPIKey != "" && cfg.BinanceAPISecret != "" {
		gateway = exspot.New(exspot.Config{
			APIKey:    cfg.BinanceAPIKey,
			APISecret: cfg.BinanceAPISecret,
			Testnet:   cfg.BinanceTestnet,
		}, lg)
		mode = "live"
		lg.Info("exchange gateway enabled for live portfolios", zap.Bool("testnet", cfg.BinanceTestnet))
	}
	executor := order.NewExecutor(database, bus, gateway, lg)

	metrics := monitor.NewMetrics()
	eng := engine.New(engine.Config{
		DB:        database,
		Bus:       bus,
		Evaluator: evaluator,
		Series:    feed,
		Executor:  executor,
		Metrics:   metrics,
		Queue: scheduler.QueueOptions{
			Capacity:     cfg.QueueCapacity,
			RequeueDelay: cfg.WorkerRequeueDelay,
		},
		Pool: worker.PoolConfig{
			Size:       cfg.WorkerPoolSize,
			JobTimeout: cfg.JobTimeout,
		},
		Interval: cfg.SchedulerInterval,
		Meta: engine.SystemStatus{
			Mode:      mode,
			Provider:  cfg.MarketProvider,
			Symbols:   cfg.MarketSymbols,
			Timeframe: cfg.MarketTimeframe,
			Version:   version,
		},
		Log: lg,
	})

	// Alerts
	var alerts monitor.AlertSink = monitor.LogSink{Log: lg}
	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, lg)
		if err != nil {
			lg.Warn("telegram disabled", zap.Error(err))
		} else {
			alerts = tg
		}
	}
	(&monitor.Monitor{
		Bus:   bus,
		Sink:  alerts,
		Rules: []monitor.Rule{monitor.FailedJob{}, &monitor.ConsecutiveFailures{Threshold: 5}},
		Log:   lg,
	}).Start(ctx)

	go feed.Run(ctx)

	engCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()
	if err := eng.Start(engCtx); err != nil {
		return err
	}

	srv := api.NewServer(eng, bus, cfg.JWTSecret, api.Options{
		RateLimit: cfg.APIRateLimit,
		RateBurst: cfg.APIRateBurst,
	}, lg)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		lg.Info("api listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		lg.Info("shutdown requested")
	case err := <-serveErr:
		lg.Error("api server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("api shutdown", zap.Error(err))
	}

	// Running jobs finish inside their own timeout.
	stopEngine()
	eng.Stop()
	if err := writer.Flush(shutdownCtx); err != nil {
		lg.Warn("final bar flush", zap.Error(err))
	}
	lg.Info("strategy-core stopped")
	return nil
}

// newProvider picks the bar source and wraps it with retries and a rate
// limit.
func newProvider(cfg *config.Config, database *db.Database, lg *zap.Logger) market.Provider {
	var base market.Provider
	switch cfg.MarketProvider {
	case "synthetic":
		lg.Warn("using synthetic market data")
		base = market.NewSyntheticProvider(time.Now().UnixNano(), 100, 0.5)
	case "db":
		base = market.StoreProvider{Queries: database.Queries()}
	default:
		base = market.BinanceProvider{Client: marketbinance.NewClient(cfg.BinanceBaseURL, lg)}
	}
	return market.NewRetryingProvider(base, market.RetryOptions{
		MaxAttempts: cfg.ProviderMaxAttempts,
		Backoff:     cfg.ProviderBackoff,
		RatePerSec:  cfg.ProviderRateLimit,
	}, lg)
}

// activeSymbols lets the feed follow whatever active strategies trade.
func activeSymbols(database *db.Database) market.SymbolSource {
	return func(ctx context.Context) ([]string, error) {
		active, err := database.Queries().ListActiveStrategies(ctx)
		if err != nil {
			return nil, err
		}
		var out []string
		for _, s := range active {
			out = append(out, s.Symbols...)
		}
		return out, nil
	}
}
