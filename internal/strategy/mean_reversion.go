package strategy

import (
	"fmt"

	"strategy-core/internal/indicators"
	"strategy-core/internal/market"
)

// evalMeanReversion buys a close below the lower Bollinger band and sells a
// close above the upper one. The bands include the latest bar.
func evalMeanReversion(p MeanReversionParams, symbol string, bars []market.Bar) *Intent {
	closes := market.Closes(bars)
	bands, ok := indicators.Bollinger(closes, p.Period, p.StdDev)
	if !ok {
		return nil
	}

	last := bars[len(bars)-1]
	price := closes[len(closes)-1]
	switch {
	case price < bands.Lower:
		return newIntent(SideBuy, symbol, p, last,
			fmt.Sprintf("close %.4f < lower %.4f (mid %.4f)", price, bands.Lower, bands.Middle))
	case price > bands.Upper:
		return newIntent(SideSell, symbol, p, last,
			fmt.Sprintf("close %.4f > upper %.4f (mid %.4f)", price, bands.Upper, bands.Middle))
	}
	return nil
}
