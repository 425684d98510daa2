package binance

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kline represents a single candlestick with the Binance fields the engine
// consumes.
type Kline struct {
	Symbol         string
	OpenTime       int64 // 0: Open time (ms)
	Open           decimal.Decimal
	High           decimal.Decimal
	Low            decimal.Decimal
	Close          decimal.Decimal
	Volume         decimal.Decimal // 5: Base asset volume
	CloseTime      int64           // 6: Close time (ms)
	QuoteVolume    decimal.Decimal
	NumberOfTrades int
}

// OpenAt returns the candle's open time in UTC.
func (k Kline) OpenAt() time.Time { return time.UnixMilli(k.OpenTime).UTC() }
