package strategy

import (
	"fmt"

	"strategy-core/internal/indicators"
	"strategy-core/internal/market"
)

// evalMomentum buys oversold markets whose MACD line is above its signal
// and sells overbought markets whose MACD line is below it.
func evalMomentum(p MomentumParams, symbol string, bars []market.Bar) *Intent {
	closes := market.Closes(bars)
	rsi := indicators.RSI(closes, p.RSIPeriod)
	macd, ok := indicators.MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	if !ok {
		return nil
	}

	last := bars[len(bars)-1]
	switch {
	case rsi < p.Oversold && macd.Line > macd.Signal:
		return newIntent(SideBuy, symbol, p, last,
			fmt.Sprintf("RSI %.2f < %.0f, MACD %.4f > signal %.4f", rsi, p.Oversold, macd.Line, macd.Signal))
	case rsi > p.Overbought && macd.Line < macd.Signal:
		return newIntent(SideSell, symbol, p, last,
			fmt.Sprintf("RSI %.2f > %.0f, MACD %.4f < signal %.4f", rsi, p.Overbought, macd.Line, macd.Signal))
	}
	return nil
}
