package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrOwnerRequired guards owner-scoped lookups.
var ErrOwnerRequired = errors.New("owner_id is required for data isolation")

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries is the typed query set used by every engine component. Obtain one
// from Database.Queries for pooled access or from Database.WithTx for a
// transaction-scoped set.
type Queries struct {
	db     DBTX
	driver string
	inTx   bool
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, Rebind(q.driver, query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, Rebind(q.driver, query), args...)
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, Rebind(q.driver, query), args...)
}

// ----------------------------------------
// Portfolio Queries
// ----------------------------------------

// CreatePortfolio inserts a new portfolio row.
func (q *Queries) CreatePortfolio(ctx context.Context, p Portfolio) error {
	now := time.Now().UTC()
	if p.Currency == "" {
		p.Currency = "USD"
	}
	_, err := q.exec(ctx, `
		INSERT INTO portfolios (
			id, owner_id, name, initial_balance, current_balance,
			currency, paper_trading, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.OwnerID, p.Name, p.InitialBalance.String(), p.CurrentBalance.String(),
		p.Currency, p.PaperTrading, now, now)
	return wrap("create portfolio", err)
}

// UpsertPortfolio creates or renames a portfolio without touching balances
// of an existing row.
func (q *Queries) UpsertPortfolio(ctx context.Context, p Portfolio) error {
	now := time.Now().UTC()
	if p.Currency == "" {
		p.Currency = "USD"
	}
	_, err := q.exec(ctx, `
		INSERT INTO portfolios (
			id, owner_id, name, initial_balance, current_balance,
			currency, paper_trading, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at
	`, p.ID, p.OwnerID, p.Name, p.InitialBalance.String(), p.CurrentBalance.String(),
		p.Currency, p.PaperTrading, now, now)
	return wrap("upsert portfolio", err)
}

const portfolioColumns = `
	id, owner_id, name, initial_balance, current_balance,
	currency, paper_trading, created_at, updated_at`

func scanPortfolio(row interface{ Scan(...any) error }) (*Portfolio, error) {
	var p Portfolio
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.InitialBalance, &p.CurrentBalance,
		&p.Currency, &p.PaperTrading, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPortfolio loads one portfolio.
func (q *Queries) GetPortfolio(ctx context.Context, id string) (*Portfolio, error) {
	p, err := scanPortfolio(q.queryRow(ctx, `SELECT`+portfolioColumns+` FROM portfolios WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &PersistenceError{Op: "get portfolio " + id, Err: ErrNotFound}
	}
	return p, wrap("get portfolio", err)
}

// GetPortfolioForUpdate loads a portfolio and, on postgres inside a
// transaction, locks the row until commit. SQLite already serializes
// writers on its single connection.
func (q *Queries) GetPortfolioForUpdate(ctx context.Context, id string) (*Portfolio, error) {
	query := `SELECT` + portfolioColumns + ` FROM portfolios WHERE id = ?`
	if q.inTx && q.driver == DriverPostgres {
		query += ` FOR UPDATE`
	}
	p, err := scanPortfolio(q.queryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &PersistenceError{Op: "get portfolio " + id, Err: ErrNotFound}
	}
	return p, wrap("get portfolio for update", err)
}

// UpdatePortfolioBalance overwrites current_balance.
func (q *Queries) UpdatePortfolioBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	res, err := q.exec(ctx, `
		UPDATE portfolios SET current_balance = ?, updated_at = ? WHERE id = ?
	`, balance.String(), time.Now().UTC(), id)
	if err != nil {
		return wrap("update portfolio balance", err)
	}
	return expectRow(res, "update portfolio balance "+id)
}

// DeletePortfolio removes a portfolio together with its strategies,
// positions and trades.
func (q *Queries) DeletePortfolio(ctx context.Context, id string) error {
	res, err := q.exec(ctx, `DELETE FROM portfolios WHERE id = ?`, id)
	if err != nil {
		return wrap("delete portfolio", err)
	}
	return expectRow(res, "delete portfolio "+id)
}

// ----------------------------------------
// Strategy Queries
// ----------------------------------------

// CreateStrategy inserts a strategy row. New strategies always start inactive.
func (q *Queries) CreateStrategy(ctx context.Context, s Strategy) error {
	symbols, params, err := encodeStrategy(s)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = q.exec(ctx, `
		INSERT INTO strategies (
			id, owner_id, portfolio_id, name, description, strategy_type,
			asset_class, symbols, parameters, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.OwnerID, s.PortfolioID, s.Name, s.Description, s.Type,
		assetClassOrDefault(s.AssetClass), symbols, params, false, now, now)
	return wrap("create strategy", err)
}

// UpsertStrategy creates or redefines a strategy. The active flag is left
// alone on existing rows; only Activate/Deactivate change it.
func (q *Queries) UpsertStrategy(ctx context.Context, s Strategy) error {
	symbols, params, err := encodeStrategy(s)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = q.exec(ctx, `
		INSERT INTO strategies (
			id, owner_id, portfolio_id, name, description, strategy_type,
			asset_class, symbols, parameters, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			strategy_type = excluded.strategy_type,
			asset_class = excluded.asset_class,
			symbols = excluded.symbols,
			parameters = excluded.parameters,
			updated_at = excluded.updated_at
	`, s.ID, s.OwnerID, s.PortfolioID, s.Name, s.Description, s.Type,
		assetClassOrDefault(s.AssetClass), symbols, params, false, now, now)
	return wrap("upsert strategy", err)
}

func encodeStrategy(s Strategy) (string, string, error) {
	if s.Symbols == nil {
		s.Symbols = []string{}
	}
	symbols, err := json.Marshal(s.Symbols)
	if err != nil {
		return "", "", fmt.Errorf("marshal symbols: %w", err)
	}
	params := string(s.Parameters)
	if params == "" {
		params = "{}"
	}
	return string(symbols), params, nil
}

func assetClassOrDefault(v string) string {
	if v == "" {
		return "crypto"
	}
	return v
}

const strategyColumns = `
	id, owner_id, portfolio_id, name, description, strategy_type, asset_class,
	symbols, parameters, is_active, last_executed_at, created_at, updated_at`

func scanStrategy(row interface{ Scan(...any) error }) (*Strategy, error) {
	var (
		s            Strategy
		symbols      string
		params       string
		lastExecuted sql.NullTime
	)
	err := row.Scan(&s.ID, &s.OwnerID, &s.PortfolioID, &s.Name, &s.Description, &s.Type,
		&s.AssetClass, &symbols, &params, &s.Active, &lastExecuted, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(symbols), &s.Symbols); err != nil {
		return nil, fmt.Errorf("decode symbols of %s: %w", s.ID, err)
	}
	s.Parameters = json.RawMessage(params)
	if lastExecuted.Valid {
		t := lastExecuted.Time
		s.LastExecutedAt = &t
	}
	return &s, nil
}

// GetStrategy loads one strategy.
func (q *Queries) GetStrategy(ctx context.Context, id string) (*Strategy, error) {
	s, err := scanStrategy(q.queryRow(ctx, `SELECT`+strategyColumns+` FROM strategies WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &PersistenceError{Op: "get strategy " + id, Err: ErrNotFound}
	}
	return s, wrap("get strategy", err)
}

// GetStrategyForOwner loads a strategy only if ownerID owns it.
func (q *Queries) GetStrategyForOwner(ctx context.Context, ownerID, id string) (*Strategy, error) {
	if ownerID == "" {
		return nil, ErrOwnerRequired
	}
	s, err := scanStrategy(q.queryRow(ctx,
		`SELECT`+strategyColumns+` FROM strategies WHERE id = ? AND owner_id = ?`, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &PersistenceError{Op: "get strategy " + id, Err: ErrNotFound}
	}
	return s, wrap("get strategy for owner", err)
}

// ListActiveStrategies returns every strategy with is_active set.
func (q *Queries) ListActiveStrategies(ctx context.Context) ([]Strategy, error) {
	rows, err := q.query(ctx, `SELECT`+strategyColumns+` FROM strategies WHERE is_active = ? ORDER BY created_at`, true)
	if err != nil {
		return nil, wrap("list active strategies", err)
	}
	defer rows.Close()

	var out []Strategy
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, wrap("scan strategy", err)
		}
		out = append(out, *s)
	}
	return out, wrap("list active strategies", rows.Err())
}

// SetStrategyActive flips is_active only when the row is in the opposite
// state. It reports whether this call performed the transition.
func (q *Queries) SetStrategyActive(ctx context.Context, id string, active bool) (bool, error) {
	res, err := q.exec(ctx, `
		UPDATE strategies SET is_active = ?, updated_at = ?
		WHERE id = ? AND is_active = ?
	`, active, time.Now().UTC(), id, !active)
	if err != nil {
		return false, wrap("set strategy active", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("set strategy active", err)
	}
	return n == 1, nil
}

// TouchStrategy records the time of the latest completed run.
func (q *Queries) TouchStrategy(ctx context.Context, id string, at time.Time) error {
	res, err := q.exec(ctx, `
		UPDATE strategies SET last_executed_at = ?, updated_at = ? WHERE id = ?
	`, at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return wrap("touch strategy", err)
	}
	return expectRow(res, "touch strategy "+id)
}

// DeleteStrategy removes a strategy; its trades keep a NULL strategy_id.
func (q *Queries) DeleteStrategy(ctx context.Context, id string) error {
	res, err := q.exec(ctx, `DELETE FROM strategies WHERE id = ?`, id)
	if err != nil {
		return wrap("delete strategy", err)
	}
	return expectRow(res, "delete strategy "+id)
}

// ----------------------------------------
// Position Queries
// ----------------------------------------

// GetPosition loads the position for (portfolio, symbol).
func (q *Queries) GetPosition(ctx context.Context, portfolioID, symbol string) (*Position, error) {
	var p Position
	err := q.queryRow(ctx, `
		SELECT portfolio_id, symbol, quantity, average_entry_price, current_price, unrealized_pnl, updated_at
		FROM positions WHERE portfolio_id = ? AND symbol = ?
	`, portfolioID, symbol).Scan(&p.PortfolioID, &p.Symbol, &p.Quantity, &p.AverageEntryPrice,
		&p.CurrentPrice, &p.UnrealizedPnL, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &PersistenceError{Op: "get position " + portfolioID + "/" + symbol, Err: ErrNotFound}
	}
	if err != nil {
		return nil, wrap("get position", err)
	}
	return &p, nil
}

// UpsertPosition writes the full position state for (portfolio, symbol).
func (q *Queries) UpsertPosition(ctx context.Context, p Position) error {
	_, err := q.exec(ctx, `
		INSERT INTO positions (
			portfolio_id, symbol, quantity, average_entry_price,
			current_price, unrealized_pnl, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(portfolio_id, symbol) DO UPDATE SET
			quantity = excluded.quantity,
			average_entry_price = excluded.average_entry_price,
			current_price = excluded.current_price,
			unrealized_pnl = excluded.unrealized_pnl,
			updated_at = excluded.updated_at
	`, p.PortfolioID, p.Symbol, p.Quantity.String(), p.AverageEntryPrice.String(),
		p.CurrentPrice.String(), p.UnrealizedPnL.String(), time.Now().UTC())
	return wrap("upsert position", err)
}

// ListPositions returns all positions of a portfolio ordered by symbol.
func (q *Queries) ListPositions(ctx context.Context, portfolioID string) ([]Position, error) {
	rows, err := q.query(ctx, `
		SELECT portfolio_id, symbol, quantity, average_entry_price, current_price, unrealized_pnl, updated_at
		FROM positions WHERE portfolio_id = ? ORDER BY symbol
	`, portfolioID)
	if err != nil {
		return nil, wrap("list positions", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.PortfolioID, &p.Symbol, &p.Quantity, &p.AverageEntryPrice,
			&p.CurrentPrice, &p.UnrealizedPnL, &p.UpdatedAt); err != nil {
			return nil, wrap("scan position", err)
		}
		out = append(out, p)
	}
	return out, wrap("list positions", rows.Err())
}

// ----------------------------------------
// Trade Queries
// ----------------------------------------

// InsertTrade appends a ledger entry. There is deliberately no update path.
func (q *Queries) InsertTrade(ctx context.Context, t Trade) error {
	var strategyID any
	if t.StrategyID != "" {
		strategyID = t.StrategyID
	}
	_, err := q.exec(ctx, `
		INSERT INTO trades (
			id, portfolio_id, strategy_id, symbol, side, quantity, price,
			total_value, status, order_id, executed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.PortfolioID, strategyID, t.Symbol, t.Side, t.Quantity.String(), t.Price.String(),
		t.TotalValue.String(), t.Status, t.OrderID, t.ExecutedAt.UTC(), time.Now().UTC())
	return wrap("insert trade", err)
}

// ListTrades returns a portfolio's trades oldest first.
func (q *Queries) ListTrades(ctx context.Context, portfolioID string) ([]Trade, error) {
	rows, err := q.query(ctx, `
		SELECT id, portfolio_id, COALESCE(strategy_id, ''), symbol, side, quantity, price,
			total_value, status, order_id, executed_at, created_at
		FROM trades WHERE portfolio_id = ? ORDER BY executed_at, created_at
	`, portfolioID)
	if err != nil {
		return nil, wrap("list trades", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.PortfolioID, &t.StrategyID, &t.Symbol, &t.Side, &t.Quantity,
			&t.Price, &t.TotalValue, &t.Status, &t.OrderID, &t.ExecutedAt, &t.CreatedAt); err != nil {
			return nil, wrap("scan trade", err)
		}
		out = append(out, t)
	}
	return out, wrap("list trades", rows.Err())
}

// ----------------------------------------
// Job Result Queries
// ----------------------------------------

// SaveJobResult stores a result; a second result for the same idempotency
// key is ignored.
func (q *Queries) SaveJobResult(ctx context.Context, r JobResult) error {
	var errText any
	if r.Error != "" {
		errText = r.Error
	}
	_, err := q.exec(ctx, `
		INSERT INTO job_results (
			job_id, strategy_id, idempotency_key, trigger_time, status,
			trades_executed, executed_at, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING
	`, r.JobID, r.StrategyID, r.IdempotencyKey, r.TriggerTime.UTC(), r.Status,
		r.TradesExecuted, r.ExecutedAt.UTC(), r.DurationMs, errText)
	return wrap("save job result", err)
}

// ListJobResults returns the newest results of a strategy first.
func (q *Queries) ListJobResults(ctx context.Context, strategyID string, limit int) ([]JobResult, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := q.query(ctx, `
		SELECT job_id, strategy_id, idempotency_key, trigger_time, status,
			trades_executed, executed_at, duration_ms, COALESCE(error, '')
		FROM job_results WHERE strategy_id = ?
		ORDER BY executed_at DESC
		LIMIT ?
	`, strategyID, limit)
	if err != nil {
		return nil, wrap("list job results", err)
	}
	defer rows.Close()

	var out []JobResult
	for rows.Next() {
		var r JobResult
		if err := rows.Scan(&r.JobID, &r.StrategyID, &r.IdempotencyKey, &r.TriggerTime, &r.Status,
			&r.TradesExecuted, &r.ExecutedAt, &r.DurationMs, &r.Error); err != nil {
			return nil, wrap("scan job result", err)
		}
		out = append(out, r)
	}
	return out, wrap("list job results", rows.Err())
}

// ----------------------------------------
// Price Bar Queries
// ----------------------------------------

// UpsertPriceBarSQL is exported for batched writers.
const UpsertPriceBarSQL = `
	INSERT INTO price_bars (symbol, timeframe, open_time, open, high, low, close, volume)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(symbol, timeframe, open_time) DO UPDATE SET
		open = excluded.open,
		high = excluded.high,
		low = excluded.low,
		close = excluded.close,
		volume = excluded.volume
`

// PriceBarArgs returns the arguments matching UpsertPriceBarSQL.
func PriceBarArgs(b PriceBar) []any {
	return []any{b.Symbol, b.Timeframe, b.OpenTime.UTC(), b.Open.String(), b.High.String(),
		b.Low.String(), b.Close.String(), b.Volume.String()}
}

// UpsertPriceBar writes a single bar immediately.
func (q *Queries) UpsertPriceBar(ctx context.Context, b PriceBar) error {
	_, err := q.exec(ctx, UpsertPriceBarSQL, PriceBarArgs(b)...)
	return wrap("upsert price bar", err)
}

// ListPriceBars returns the newest limit bars of a symbol, oldest first.
func (q *Queries) ListPriceBars(ctx context.Context, symbol, timeframe string, limit int) ([]PriceBar, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.query(ctx, `
		SELECT symbol, timeframe, open_time, open, high, low, close, volume
		FROM price_bars WHERE symbol = ? AND timeframe = ?
		ORDER BY open_time DESC
		LIMIT ?
	`, symbol, timeframe, limit)
	if err != nil {
		return nil, wrap("list price bars", err)
	}
	defer rows.Close()

	var out []PriceBar
	for rows.Next() {
		var b PriceBar
		if err := rows.Scan(&b.Symbol, &b.Timeframe, &b.OpenTime, &b.Open, &b.High,
			&b.Low, &b.Close, &b.Volume); err != nil {
			return nil, wrap("scan price bar", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list price bars", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func expectRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, err)
	}
	if n == 0 {
		return &PersistenceError{Op: op, Err: ErrNotFound}
	}
	return nil
}
