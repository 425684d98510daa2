package market

import (
	"context"
	"time"

	"go.uber.org/zap"

	"strategy-core/internal/events"
)

// SymbolSource returns extra symbols to track on each cycle, e.g. the
// symbols of currently active strategies.
type SymbolSource func(ctx context.Context) ([]string, error)

// Recorder persists ingested bars.
type Recorder interface {
	RecordBars(symbol, timeframe string, bars []Bar)
}

// BarEvent is published on events.EventBarIngested.
type BarEvent struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Bar       Bar    `json:"bar"`
}

// FeedConfig configures a Feed.
type FeedConfig struct {
	Symbols      []string
	Timeframe    string
	Interval     time.Duration
	HistoryLimit int
}

// FeedReport summarizes one ingestion cycle.
type FeedReport struct {
	Symbols  int
	Appended int
	Failed   map[string]error
}

// Feed ingests bars on its own interval and serves series on demand.
type Feed struct {
	provider     Provider
	store        *SeriesStore
	symbols      []string
	extra        SymbolSource
	timeframe    string
	step         time.Duration
	interval     time.Duration
	historyLimit int
	recorder     Recorder
	bus          *events.Bus
	now          func() time.Time
	log          *zap.Logger
}

// NewFeed wires a feed around provider and store.
func NewFeed(cfg FeedConfig, provider Provider, store *SeriesStore, log *zap.Logger) (*Feed, error) {
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1m"
	}
	step, err := TimeframeDuration(cfg.Timeframe)
	if err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{
		provider:     provider,
		store:        store,
		symbols:      cfg.Symbols,
		timeframe:    cfg.Timeframe,
		step:         step,
		interval:     cfg.Interval,
		historyLimit: cfg.HistoryLimit,
		now:          time.Now,
		log:          log.With(zap.String("component", "market-feed")),
	}, nil
}

// WithSymbolSource adds dynamically tracked symbols.
func (f *Feed) WithSymbolSource(src SymbolSource) *Feed { f.extra = src; return f }

// WithRecorder persists every appended bar.
func (f *Feed) WithRecorder(r Recorder) *Feed { f.recorder = r; return f }

// WithBus publishes every appended bar.
func (f *Feed) WithBus(b *events.Bus) *Feed { f.bus = b; return f }

// WithClock overrides time.Now, used to decide which bar is still forming.
func (f *Feed) WithClock(now func() time.Time) *Feed { f.now = now; return f }

// Timeframe returns the bar interval the feed ingests.
func (f *Feed) Timeframe() string { return f.timeframe }

// Run ingests once immediately and then on every tick until ctx ends.
func (f *Feed) Run(ctx context.Context) {
	f.RunOnce(ctx)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.RunOnce(ctx)
		}
	}
}

// RunOnce fetches the bars closed since the stored tail of every tracked
// symbol, so a missed cycle is filled on the next one. One symbol failing
// never stops the others.
func (f *Feed) RunOnce(ctx context.Context) FeedReport {
	symbols := f.trackedSymbols(ctx)
	report := FeedReport{Symbols: len(symbols), Failed: map[string]error{}}

	for _, sym := range symbols {
		if ctx.Err() != nil {
			break
		}
		bars, err := f.provider.GetBars(ctx, sym, f.timeframe, f.fetchLimit(sym))
		if err != nil {
			f.log.Warn("fetch latest bar failed", zap.String("symbol", sym), zap.Error(err))
			report.Failed[sym] = err
			continue
		}
		bars = f.closedOnly(bars)
		n := f.store.Append(sym, bars...)
		if n == 0 {
			continue
		}
		report.Appended += n
		f.publish(sym, bars[len(bars)-n:])
	}

	if len(report.Failed) > 0 {
		f.log.Info("feed cycle finished with failures",
			zap.Int("symbols", report.Symbols),
			zap.Int("appended", report.Appended),
			zap.Int("failed", len(report.Failed)))
	} else {
		f.log.Debug("feed cycle finished", zap.Int("symbols", report.Symbols), zap.Int("appended", report.Appended))
	}
	return report
}

// Series returns up to max(need, history limit) bars for symbol, backfilling
// from the provider when the store holds fewer. If the provider fails but
// the store already holds need bars, the stored bars are served.
func (f *Feed) Series(ctx context.Context, symbol string, need int) ([]Bar, error) {
	limit := f.historyLimit
	if need > limit {
		limit = need
	}
	if f.store.Len(symbol) >= limit {
		return f.store.Series(symbol, limit), nil
	}

	bars, err := f.provider.GetBars(ctx, symbol, f.timeframe, limit+1)
	if err != nil {
		if f.store.Len(symbol) >= need {
			f.log.Warn("backfill failed, serving cached series", zap.String("symbol", symbol), zap.Error(err))
			return f.store.Series(symbol, limit), nil
		}
		return nil, err
	}
	bars = f.closedOnly(bars)
	if n := f.store.Backfill(symbol, bars); n > 0 && f.recorder != nil {
		f.recorder.RecordBars(symbol, f.timeframe, bars)
	}
	return f.store.Series(symbol, limit), nil
}

// Warm preloads the store, typically from bars persisted by earlier runs.
func (f *Feed) Warm(ctx context.Context, src Provider) {
	for _, sym := range f.trackedSymbols(ctx) {
		bars, err := src.GetBars(ctx, sym, f.timeframe, f.historyLimit)
		if err != nil {
			f.log.Warn("warm series failed", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		f.store.Backfill(sym, bars)
	}
}

// fetchLimit covers every bar opened since the stored tail plus the tail
// itself, bounded by the history limit.
func (f *Feed) fetchLimit(symbol string) int {
	latest, ok := f.store.Latest(symbol)
	if !ok {
		return 2
	}
	limit := int(f.now().Sub(latest.Time)/f.step) + 1
	if limit < 2 {
		limit = 2
	}
	if limit > f.historyLimit {
		limit = f.historyLimit
	}
	return limit
}

// closedOnly drops a trailing bar whose interval has not finished yet.
func (f *Feed) closedOnly(bars []Bar) []Bar {
	if n := len(bars); n > 0 && bars[n-1].Time.Add(f.step).After(f.now()) {
		return bars[:n-1]
	}
	return bars
}

func (f *Feed) trackedSymbols(ctx context.Context) []string {
	seen := make(map[string]bool, len(f.symbols))
	out := make([]string, 0, len(f.symbols))
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range f.symbols {
		add(s)
	}
	if f.extra != nil {
		extra, err := f.extra(ctx)
		if err != nil {
			f.log.Warn("list strategy symbols failed", zap.Error(err))
		}
		for _, s := range extra {
			add(s)
		}
	}
	return out
}

func (f *Feed) publish(symbol string, bars []Bar) {
	if f.recorder != nil {
		f.recorder.RecordBars(symbol, f.timeframe, bars)
	}
	if f.bus == nil {
		return
	}
	for _, b := range bars {
		f.bus.Publish(events.EventBarIngested, BarEvent{Symbol: symbol, Timeframe: f.timeframe, Bar: b})
	}
}
