package strategy

import (
	"context"
	"fmt"

	"strategy-core/internal/market"
)

const defaultBreakoutLookback = 20

// PrepareBreakout rejects a lookback below 1. The series must hold the
// lookback window plus the bar being tested.
func PrepareBreakout(p CustomParams) (int, error) {
	lookback := p.OptionInt("lookback", defaultBreakoutLookback)
	if lookback < 1 {
		return 0, invalid("options.lookback", "must be >= 1")
	}
	return lookback + 1, nil
}

// Breakout is a built-in custom evaluator: it buys when the latest close
// exceeds the highest high of the previous lookback bars and sells when it
// falls under the lowest low. Option "lookback" defaults to 20.
func Breakout(_ context.Context, p CustomParams, symbol string, bars []market.Bar) (*Intent, error) {
	lookback := p.OptionInt("lookback", defaultBreakoutLookback)
	if lookback < 1 {
		return nil, invalid("options.lookback", "must be >= 1")
	}
	if len(bars) < lookback+1 {
		return nil, fmt.Errorf("%w: %s has %d bars, breakout needs %d", ErrDataUnavailable, symbol, len(bars), lookback+1)
	}

	last := bars[len(bars)-1]
	window := bars[len(bars)-1-lookback : len(bars)-1]
	high, low := window[0].High, window[0].Low
	for _, b := range window[1:] {
		if b.High.GreaterThan(high) {
			high = b.High
		}
		if b.Low.LessThan(low) {
			low = b.Low
		}
	}

	switch {
	case last.Close.GreaterThan(high):
		return newIntent(SideBuy, symbol, p, last, fmt.Sprintf("close %s > %d-bar high %s", last.Close, lookback, high)), nil
	case last.Close.LessThan(low):
		return newIntent(SideSell, symbol, p, last, fmt.Sprintf("close %s < %d-bar low %s", last.Close, lookback, low)), nil
	}
	return nil, nil
}
