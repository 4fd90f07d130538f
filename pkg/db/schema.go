package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS strategies (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    strategy_type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'STOPPED',
    symbols TEXT NOT NULL,
    timeframe TEXT NOT NULL,
    parameters TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    strategy_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    shares REAL NOT NULL,
    entry_price REAL NOT NULL,
    entry_time INTEGER NOT NULL,
    stop_loss REAL,
    PRIMARY KEY (strategy_id, symbol)
);

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    exchange_order_id TEXT,
    strategy_id TEXT,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    type TEXT NOT NULL,
    qty REAL NOT NULL,
    price REAL DEFAULT 0,
    status TEXT NOT NULL,
    error TEXT,
    venue TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    ts INTEGER NOT NULL,
    strategy_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    shares REAL NOT NULL,
    price REAL NOT NULL,
    realized_pnl REAL,
    reason TEXT NOT NULL,
    order_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_trades_strategy_ts ON trades(strategy_id, ts);
CREATE INDEX IF NOT EXISTS idx_trades_symbol_ts ON trades(symbol, ts);

CREATE TRIGGER IF NOT EXISTS trades_append_only_update
BEFORE UPDATE ON trades
BEGIN
    SELECT RAISE(ABORT, 'trades are append-only');
END;

CREATE TRIGGER IF NOT EXISTS trades_append_only_delete
BEFORE DELETE ON trades
BEGIN
    SELECT RAISE(ABORT, 'trades are append-only');
END;

CREATE TABLE IF NOT EXISTS daily_risk_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    trading_day TEXT NOT NULL,
    starting_equity REAL NOT NULL,
    current_equity REAL NOT NULL,
    halted INTEGER NOT NULL DEFAULT 0,
    halt_reason TEXT,
    halted_at INTEGER,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    level TEXT NOT NULL,
    title TEXT NOT NULL,
    message TEXT,
    created_at INTEGER NOT NULL
);
`

// ApplyMigrations creates the schema and runs idempotent column migrations.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Columns added after the first release.
	if err := ensureColumn(d.DB, "positions", "take_profit", "REAL"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "positions", "entry_order_id", "TEXT"); err != nil {
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
