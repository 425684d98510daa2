package db

import (
	"database/sql"
	"fmt"
)

// Decimal columns are TEXT so exact values survive both drivers.
const schema = `
CREATE TABLE IF NOT EXISTS portfolios (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    name TEXT NOT NULL,
    initial_balance TEXT NOT NULL,
    current_balance TEXT NOT NULL,
    currency TEXT NOT NULL DEFAULT 'USD',
    paper_trading BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS strategies (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    portfolio_id TEXT NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    strategy_type TEXT NOT NULL,
    asset_class TEXT NOT NULL DEFAULT 'crypto',
    symbols TEXT NOT NULL DEFAULT '[]',
    parameters TEXT NOT NULL DEFAULT '{}',
    is_active BOOLEAN NOT NULL DEFAULT FALSE,
    last_executed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_strategies_active ON strategies(is_active);

CREATE TABLE IF NOT EXISTS positions (
    portfolio_id TEXT NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
    symbol TEXT NOT NULL,
    quantity TEXT NOT NULL,
    average_entry_price TEXT NOT NULL,
    current_price TEXT NOT NULL,
    unrealized_pnl TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (portfolio_id, symbol)
);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    portfolio_id TEXT NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
    strategy_id TEXT REFERENCES strategies(id) ON DELETE SET NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    quantity TEXT NOT NULL,
    price TEXT NOT NULL,
    total_value TEXT NOT NULL,
    status TEXT NOT NULL,
    executed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trades_portfolio ON trades(portfolio_id, symbol);

CREATE TABLE IF NOT EXISTS job_results (
    job_id TEXT PRIMARY KEY,
    strategy_id TEXT NOT NULL REFERENCES strategies(id) ON DELETE CASCADE,
    idempotency_key TEXT NOT NULL UNIQUE,
    trigger_time TIMESTAMP NOT NULL,
    status TEXT NOT NULL,
    trades_executed INTEGER NOT NULL DEFAULT 0,
    executed_at TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_job_results_strategy ON job_results(strategy_id, executed_at);

CREATE TABLE IF NOT EXISTS price_bars (
    symbol TEXT NOT NULL,
    timeframe TEXT NOT NULL,
    open_time TIMESTAMP NOT NULL,
    open TEXT NOT NULL,
    high TEXT NOT NULL,
    low TEXT NOT NULL,
    close TEXT NOT NULL,
    volume TEXT NOT NULL,
    PRIMARY KEY (symbol, timeframe, open_time)
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if d.Driver == DriverSQLite {
		if _, err := d.DB.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
			return fmt.Errorf("enable wal: %w", err)
		}
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(d, "trades", "order_id", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(d *Database, table, column, definition string) error {
	exists, err := columnExists(d, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := d.DB.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(d *Database, table, column string) (bool, error) {
	if d.Driver == DriverPostgres {
		var n int
		err := d.DB.QueryRow(`
			SELECT COUNT(*) FROM information_schema.columns
			WHERE table_name = $1 AND column_name = $2
		`, table, column).Scan(&n)
		if err != nil {
			return false, fmt.Errorf("inspect %s.%s: %w", table, column, err)
		}
		return n > 0, nil
	}

	rows, err := d.DB.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
