package db

import (
	"database/sql"
	"fmt"
)

// Every money-bearing table pins is_paper_trade to 1 so a row can never claim
// to describe a live fill.
const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS audit_events (
    id TEXT PRIMARY KEY,
    ts_ms INTEGER NOT NULL,
    name TEXT NOT NULL,
    user_id TEXT DEFAULT '',
    risk_level TEXT NOT NULL,
    details TEXT DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_audit_events_ts ON audit_events(ts_ms);

CREATE TABLE IF NOT EXISTS paper_orders (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    exchange TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    type TEXT NOT NULL,
    qty REAL NOT NULL,
    price REAL DEFAULT 0,
    reference_price REAL DEFAULT 0,
    executed_price REAL DEFAULT 0,
    slippage_pct REAL DEFAULT 0,
    fee REAL DEFAULT 0,
    fee_pct REAL DEFAULT 0,
    status TEXT NOT NULL,
    reject_reason TEXT DEFAULT '',
    created_ms INTEGER NOT NULL,
    updated_ms INTEGER NOT NULL,
    is_paper_trade INTEGER NOT NULL DEFAULT 1 CHECK (is_paper_trade = 1)
);
CREATE INDEX IF NOT EXISTS idx_paper_orders_user ON paper_orders(user_id, created_ms);

CREATE TABLE IF NOT EXISTS paper_trades (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    order_id TEXT NOT NULL,
    exchange TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    qty REAL NOT NULL,
    price REAL NOT NULL,
    fee REAL DEFAULT 0,
    realized_pnl REAL DEFAULT 0,
    executed_ms INTEGER NOT NULL,
    is_paper_trade INTEGER NOT NULL DEFAULT 1 CHECK (is_paper_trade = 1)
);
CREATE INDEX IF NOT EXISTS idx_paper_trades_user ON paper_trades(user_id, executed_ms);

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS exchange_credentials (
    user_id TEXT NOT NULL,
    exchange TEXT NOT NULL,
    api_key_sealed TEXT NOT NULL,
    api_secret_sealed TEXT DEFAULT '',
    key_version INTEGER NOT NULL,
    risk_level TEXT NOT NULL,
    read_only INTEGER NOT NULL DEFAULT 1,
    validated_ms INTEGER NOT NULL,
    PRIMARY KEY (user_id, exchange)
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Columns added after the first release.
	if err := ensureColumn(d.DB, "paper_orders", "client_order_id", "TEXT DEFAULT ''"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "paper_orders", "delay_ms", "INTEGER DEFAULT 0"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
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
