package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS accounts (
    user_id TEXT PRIMARY KEY,
    cash_balance TEXT NOT NULL DEFAULT '0',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS holdings (
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    shares TEXT NOT NULL,
    PRIMARY KEY (user_id, symbol),
    FOREIGN KEY (user_id) REFERENCES accounts(user_id)
);

CREATE TABLE IF NOT EXISTS reserve_buy (
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    amount TEXT NOT NULL,
    PRIMARY KEY (user_id, symbol),
    FOREIGN KEY (user_id) REFERENCES accounts(user_id)
);

CREATE TABLE IF NOT EXISTS buy_triggers (
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    armed_price TEXT NOT NULL,
    PRIMARY KEY (user_id, symbol),
    FOREIGN KEY (user_id) REFERENCES accounts(user_id)
);

CREATE TABLE IF NOT EXISTS reserve_sell (
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    shares TEXT NOT NULL,
    PRIMARY KEY (user_id, symbol),
    FOREIGN KEY (user_id) REFERENCES accounts(user_id)
);

CREATE TABLE IF NOT EXISTS sell_triggers (
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    armed_price TEXT,       -- NULL while half-armed (reserved, no price yet)
    armed INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, symbol),
    FOREIGN KEY (user_id) REFERENCES accounts(user_id)
);

CREATE TABLE IF NOT EXISTS pending_intents (
    user_id TEXT NOT NULL,
    side TEXT NOT NULL, -- BUY or SELL
    symbol TEXT NOT NULL,
    amount TEXT NOT NULL, -- dollars reserved for BUY, shares reserved for SELL
    price TEXT NOT NULL, -- price quoted when the intent was staged; frozen for COMMIT
    shares TEXT NOT NULL DEFAULT '0', -- shares to credit on COMMIT_BUY, floor(amount/price)
    created_at DATETIME NOT NULL,
    PRIMARY KEY (user_id, side)
);

CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    side TEXT NOT NULL, -- BUY or SELL (committed trade)
    symbol TEXT NOT NULL,
    shares TEXT NOT NULL,
    cash_delta TEXT NOT NULL, -- negative for BUY, positive for SELL
    source TEXT NOT NULL DEFAULT 'COMMIT', -- COMMIT or TRIGGER
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES accounts(user_id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, created_at);

CREATE TABLE IF NOT EXISTS audit_logs (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    log_type TEXT NOT NULL,
    server TEXT NOT NULL,
    timestamp_ms INTEGER NOT NULL,
    transaction_num INTEGER NOT NULL,
    username TEXT,
    command TEXT,
    funds TEXT,
    price TEXT,
    stock_symbol TEXT,
    quote_server_time INTEGER,
    cryptokey TEXT,
    action TEXT,
    filename TEXT,
    error_message TEXT,
    debug_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_user ON audit_logs(username, timestamp_ms);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migration for DB files created before the
	// trigger source (COMMIT vs TRIGGER fire) was tracked on transactions.
	if err := ensureColumn(d.DB, "transactions", "source", "TEXT NOT NULL DEFAULT 'COMMIT'"); err != nil {
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
