package market

import (
	"context"
	"time"

	"strategy-core/pkg/exchanges/common"
	"strategy-core/pkg/market/binance"
)

// BinanceProvider serves bars from the public Binance klines endpoint.
type BinanceProvider struct {
	Client *binance.Client
}

// GetBars implements Provider.
func (p BinanceProvider) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error) {
	klines, err := p.Client.GetKlines(ctx, common.VenueSymbol(symbol), timeframe, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Bar, 0, len(klines))
	for _, k := range klines {
		out = append(out, Bar{
			Time:   time.UnixMilli(k.OpenTime).UTC(),
			Open:   k.Open,
			High:   k.High,
			Low:    k.Low,
			Close:  k.Close,
			Volume: k.Volume,
		})
	}
	return out, nil
}
