package common

import (
	"context"
	"strings"
)

// Gateway abstracts a trading venue.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
}

// VenueSymbol maps engine symbols such as "BTC-USD" or "eth/usd" to the
// concatenated exchange form ("BTCUSDT"). Dollar-quoted pairs settle in USDT.
func VenueSymbol(symbol string) string {
	s := strings.ToUpper(strings.NewReplacer("-", "", "/", "", "_", "").Replace(symbol))
	if strings.HasSuffix(s, "USD") {
		s += "T"
	}
	return s
}
