package common

import "github.com/shopspring/decimal"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// OrderRequest captures an order intent to be sent to an exchange.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Type     OrderType
	Qty      decimal.Decimal
	Price    decimal.Decimal // required for LIMIT
	ClientID string          // optional client order id
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	ExchangeOrderID string
	Status          OrderStatus
	ClientID        string
	FilledQty       decimal.Decimal
	// AvgPrice is zero when the venue did not report a fill.
	AvgPrice decimal.Decimal
}
