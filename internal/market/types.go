package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV candle. Prices stay exact so trades can use them as is.
type Bar struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Provider supplies bars for a symbol, oldest first.
type Provider interface {
	GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error)

func (f ProviderFunc) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error) {
	return f(ctx, symbol, timeframe, limit)
}

// ErrProvider marks every ProviderError for errors.Is checks.
var ErrProvider = errors.New("market data provider failed")

// ProviderError reports a provider call that failed after all retries.
type ProviderError struct {
	Symbol   string
	Attempts int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error for %s after %d attempt(s): %v", e.Symbol, e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() []error { return []error{ErrProvider, e.Err} }

// Closes extracts closing prices as floats for indicator math.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close.InexactFloat64()
	}
	return out
}

// TimeframeDuration parses exchange-style intervals such as 1m, 4h, 1d, 1w.
func TimeframeDuration(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	var n int
	if _, err := fmt.Sscanf(tf[:len(tf)-1], "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	unit := map[byte]time.Duration{
		's': time.Second,
		'm': time.Minute,
		'h': time.Hour,
		'd': 24 * time.Hour, 'D': 24 * time.Hour,
		'w': 7 * 24 * time.Hour, 'W': 7 * 24 * time.Hour,
	}[tf[len(tf)-1]]
	if unit == 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	return time.Duration(n) * unit, nil
}
