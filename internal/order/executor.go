package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"strategy-core/internal/events"
	"strategy-core/internal/strategy"
	"strategy-core/pkg/db"
	exchange "strategy-core/pkg/exchanges/common"
)

// TradeEvent is published on events.EventTradeExecuted after commit.
type TradeEvent struct {
	Trade    db.Trade    `json:"trade"`
	Position db.Position `json:"position"`
	Balance  string      `json:"balance"`
}

// Executor applies trade intents to the ledger. Each Execute is one
// transaction: the trade row, the position and the portfolio balance are
// committed together or not at all.
type Executor struct {
	DB      *db.Database
	Bus     *events.Bus
	Gateway exchange.Gateway // live portfolios only; nil keeps the engine paper-only

	now func() time.Time
	log *zap.Logger
}

func NewExecutor(database *db.Database, bus *events.Bus, gw exchange.Gateway, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		DB:      database,
		Bus:     bus,
		Gateway: gw,
		now:     time.Now,
		log:     log.With(zap.String("component", "trade-executor")),
	}
}

// Execute books intent against portfolioID. strategyID may be empty for
// manual trades.
func (e *Executor) Execute(ctx context.Context, portfolioID, strategyID string, intent strategy.Intent) (*db.Trade, error) {
	if err := validate(intent); err != nil {
		return nil, err
	}

	var (
		trade    db.Trade
		position db.Position
		balance  decimal.Decimal
		placed   *exchange.OrderResult
	)
	err := e.DB.WithTx(ctx, func(q *db.Queries) error {
		pf, err := q.GetPortfolioForUpdate(ctx, portfolioID)
		if err != nil {
			return err
		}

		total := intent.Quantity.Mul(intent.Price)
		position, err = e.nextPosition(ctx, q, portfolioID, intent)
		if err != nil {
			return err
		}

		// The ledger has no cash check; a paper balance may go negative.
		balance = pf.CurrentBalance
		if intent.Side == strategy.SideBuy {
			balance = balance.Sub(total)
		} else {
			balance = balance.Add(total)
		}

		trade = db.Trade{
			ID:          uuid.NewString(),
			PortfolioID: portfolioID,
			StrategyID:  strategyID,
			Symbol:      intent.Symbol,
			Side:        string(intent.Side),
			Quantity:    intent.Quantity,
			Price:       intent.Price,
			TotalValue:  total,
			Status:      db.TradeExecuted,
			ExecutedAt:  e.now().UTC(),
		}

		if !pf.PaperTrading {
			res, err := e.place(ctx, trade)
			if err != nil {
				return err
			}
			placed = &res
			trade.OrderID = res.ExchangeOrderID
		}

		if err := q.InsertTrade(ctx, trade); err != nil {
			return err
		}
		if err := q.UpsertPosition(ctx, position); err != nil {
			return err
		}
		return q.UpdatePortfolioBalance(ctx, portfolioID, balance)
	})
	if err != nil {
		if placed != nil {
			e.cancel(trade.Symbol, placed.ExchangeOrderID)
		}
		return nil, err
	}

	e.log.Info("trade executed",
		zap.String("trade_id", trade.ID),
		zap.String("portfolio_id", portfolioID),
		zap.String("strategy_id", strategyID),
		zap.String("symbol", trade.Symbol),
		zap.String("side", trade.Side),
		zap.String("qty", trade.Quantity.String()),
		zap.String("price", trade.Price.String()),
		zap.String("balance", balance.String()))
	if e.Bus != nil {
		e.Bus.Publish(events.EventTradeExecuted, TradeEvent{Trade: trade, Position: position, Balance: balance.String()})
	}
	return &trade, nil
}

// nextPosition computes the position after intent fills.
func (e *Executor) nextPosition(ctx context.Context, q *db.Queries, portfolioID string, intent strategy.Intent) (db.Position, error) {
	pos := db.Position{PortfolioID: portfolioID, Symbol: intent.Symbol}
	cur, err := q.GetPosition(ctx, portfolioID, intent.Symbol)
	switch {
	case err == nil:
		pos = *cur
	case !errors.Is(err, db.ErrNotFound):
		return pos, err
	}

	switch intent.Side {
	case strategy.SideBuy:
		qty := pos.Quantity.Add(intent.Quantity)
		cost := pos.Quantity.Mul(pos.AverageEntryPrice).Add(intent.Quantity.Mul(intent.Price))
		pos.AverageEntryPrice = cost.Div(qty)
		pos.Quantity = qty
	case strategy.SideSell:
		if pos.Quantity.LessThan(intent.Quantity) {
			return pos, fmt.Errorf("%w: sell %s %s, holding %s",
				ErrInsufficientPosition, intent.Quantity, intent.Symbol, pos.Quantity)
		}
		pos.Quantity = pos.Quantity.Sub(intent.Quantity)
	}
	pos.CurrentPrice = intent.Price
	pos.UnrealizedPnL = intent.Price.Sub(pos.AverageEntryPrice).Mul(pos.Quantity)
	return pos, nil
}

func (e *Executor) place(ctx context.Context, t db.Trade) (exchange.OrderResult, error) {
	if e.Gateway == nil {
		return exchange.OrderResult{}, fmt.Errorf("%w: portfolio %s is not paper trading", ErrGatewayUnavailable, t.PortfolioID)
	}
	side := exchange.SideBuy
	if t.Side == db.SideSell {
		side = exchange.SideSell
	}
	res, err := e.Gateway.SubmitOrder(ctx, exchange.OrderRequest{
		Symbol:   t.Symbol,
		Side:     side,
		Type:     exchange.OrderTypeMarket,
		Qty:      t.Quantity,
		ClientID: t.ID,
	})
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}
	switch res.Status {
	case exchange.StatusRejected, exchange.StatusExpired, exchange.StatusCanceled:
		return res, fmt.Errorf("%w: order %s is %s", ErrOrderRejected, res.ExchangeOrderID, res.Status)
	}
	return res, nil
}

// cancel is best effort; the ledger has already been rolled back.
func (e *Executor) cancel(symbol, orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Gateway.CancelOrder(ctx, symbol, orderID); err != nil {
		e.log.Error("cancel order after rollback failed",
			zap.String("symbol", symbol), zap.String("order_id", orderID), zap.Error(err))
		return
	}
	e.log.Warn("order cancelled after rollback", zap.String("symbol", symbol), zap.String("order_id", orderID))
}

func validate(in strategy.Intent) error {
	switch {
	case in.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidIntent)
	case in.Side != strategy.SideBuy && in.Side != strategy.SideSell:
		return fmt.Errorf("%w: side %q", ErrInvalidIntent, in.Side)
	case !in.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity %s must be > 0", ErrInvalidIntent, in.Quantity)
	case !in.Price.IsPositive():
		return fmt.Errorf("%w: price %s must be > 0", ErrInvalidIntent, in.Price)
	}
	return nil
}
