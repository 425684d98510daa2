package db

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides and statuses as stored.
const (
	SideBuy  = "buy"
	SideSell = "sell"

	TradePending   = "pending"
	TradeExecuted  = "executed"
	TradeFailed    = "failed"
	TradeCancelled = "cancelled"
)

// Job result statuses.
const (
	JobSuccess = "success"
	JobSkipped = "skipped"
	JobFailed  = "failed"
)

// Portfolio is a cash ledger that strategies trade against.
type Portfolio struct {
	ID             string
	OwnerID        string
	Name           string
	InitialBalance decimal.Decimal
	CurrentBalance decimal.Decimal
	Currency       string
	PaperTrading   bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Strategy is a stored strategy definition. Parameters stay raw here; the
// strategy package decodes them into a typed variant by Type.
type Strategy struct {
	ID             string
	OwnerID        string
	PortfolioID    string
	Name           string
	Description    string
	Type           string
	AssetClass     string
	Symbols        []string
	Parameters     json.RawMessage
	Active         bool
	LastExecutedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Position is the net holding of one symbol inside a portfolio.
type Position struct {
	PortfolioID       string
	Symbol            string
	Quantity          decimal.Decimal
	AverageEntryPrice decimal.Decimal
	CurrentPrice      decimal.Decimal
	UnrealizedPnL     decimal.Decimal
	UpdatedAt         time.Time
}

// Trade is an append-only ledger entry.
type Trade struct {
	ID          string
	PortfolioID string
	StrategyID  string // empty for manual trades
	Symbol      string
	Side        string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	TotalValue  decimal.Decimal
	Status      string
	OrderID     string // exchange order id, live portfolios only
	ExecutedAt  time.Time
	CreatedAt   time.Time
}

// JobResult records the outcome of one execution job.
type JobResult struct {
	JobID          string    `json:"job_id"`
	StrategyID     string    `json:"strategy_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	TriggerTime    time.Time `json:"trigger_time"`
	Status         string    `json:"status"`
	TradesExecuted int       `json:"trades_executed"`
	ExecutedAt     time.Time `json:"executed_at"`
	DurationMs     int64     `json:"duration_ms"`
	Error          string    `json:"error,omitempty"`
}

// PriceBar is a persisted OHLCV bar.
type PriceBar struct {
	Symbol    string
	Timeframe string
	OpenTime  time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}
