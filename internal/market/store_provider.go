package market

import (
	"context"

	"strategy-core/pkg/db"
)

// StoreProvider serves bars previously persisted in price_bars.
type StoreProvider struct {
	Queries *db.Queries
}

// GetBars implements Provider.
func (p StoreProvider) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error) {
	rows, err := p.Queries.ListPriceBars(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Bar, len(rows))
	for i, r := range rows {
		out[i] = Bar{Time: r.OpenTime, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume}
	}
	return out, nil
}

// BarWriter is the subset of the batch writer the recorder needs.
type BarWriter interface {
	WriteQuery(query string, args ...any)
}

// BatchRecorder queues ingested bars for batched persistence.
type BatchRecorder struct {
	Writer BarWriter
}

// RecordBars implements Recorder.
func (r BatchRecorder) RecordBars(symbol, timeframe string, bars []Bar) {
	for _, b := range bars {
		r.Writer.WriteQuery(db.UpsertPriceBarSQL, db.PriceBarArgs(db.PriceBar{
			Symbol:    symbol,
			Timeframe: timeframe,
			OpenTime:  b.Time,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})...)
	}
}
