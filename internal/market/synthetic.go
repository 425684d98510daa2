package market

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// SyntheticProvider produces a seeded random walk. It exists for local
// development and tests; production deployments configure a real provider.
type SyntheticProvider struct {
	mu         sync.Mutex
	rng        *rand.Rand
	history    map[string][]Bar
	startPrice float64
	step       float64
	now        func() time.Time
}

// NewSyntheticProvider creates a walk starting at startPrice moving at most
// step per bar. The same seed always yields the same walk.
func NewSyntheticProvider(seed int64, startPrice, step float64) *SyntheticProvider {
	if startPrice <= 0 {
		startPrice = 100
	}
	if step <= 0 {
		step = 0.5
	}
	return &SyntheticProvider{
		rng:        rand.New(rand.NewSource(seed)),
		history:    make(map[string][]Bar),
		startPrice: startPrice,
		step:       step,
		now:        time.Now,
	}
}

// WithClock pins the provider's notion of now.
func (p *SyntheticProvider) WithClock(now func() time.Time) *SyntheticProvider {
	p.now = now
	return p
}

// GetBars implements Provider. Bars are generated once per timeframe slot
// and remembered, so repeated calls agree with each other.
func (p *SyntheticProvider) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	step, err := TimeframeDuration(timeframe)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := symbol + "|" + timeframe
	hist := p.history[key]
	slot := p.now().UTC().Truncate(step)

	if len(hist) == 0 {
		start := slot.Add(-time.Duration(limit-1) * step)
		price := p.startPrice
		for t := start; !t.After(slot); t = t.Add(step) {
			var b Bar
			b, price = p.nextBar(t, price)
			hist = append(hist, b)
		}
	} else {
		price := hist[len(hist)-1].Close.InexactFloat64()
		for t := hist[len(hist)-1].Time.Add(step); !t.After(slot); t = t.Add(step) {
			var b Bar
			b, price = p.nextBar(t, price)
			hist = append(hist, b)
		}
	}
	if len(hist) > 5000 {
		hist = hist[len(hist)-5000:]
	}
	p.history[key] = hist

	if len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	out := make([]Bar, len(hist))
	copy(out, hist)
	return out, nil
}

func (p *SyntheticProvider) nextBar(t time.Time, open float64) (Bar, float64) {
	closePx := open + (p.rng.Float64()*2-1)*p.step
	if closePx <= 0 {
		closePx = p.step
	}
	high := open
	if closePx > high {
		high = closePx
	}
	low := open
	if closePx < low {
		low = closePx
	}
	high += p.rng.Float64() * p.step / 2
	low -= p.rng.Float64() * p.step / 2
	if low <= 0 {
		low = closePx / 2
	}

	return Bar{
		Time:   t,
		Open:   decimal.NewFromFloat(open).Round(8),
		High:   decimal.NewFromFloat(high).Round(8),
		Low:    decimal.NewFromFloat(low).Round(8),
		Close:  decimal.NewFromFloat(closePx).Round(8),
		Volume: decimal.NewFromFloat(100 + p.rng.Float64()*900).Round(4),
	}, closePx
}
