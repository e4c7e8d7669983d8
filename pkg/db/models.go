package db

import (
	"context"
	"database/sql"
	"time"

	"trading-core/pkg/money"
)

// Account is the persisted row backing a user's cash balance.
type Account struct {
	UserID      string
	CashBalance money.Scalar
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Holding is a user's share count in one symbol.
type Holding struct {
	UserID string
	Symbol string
	Shares money.Scalar
}

// ReserveBuy is cash set aside by SET_BUY_AMOUNT, pending a trigger price.
type ReserveBuy struct {
	UserID string
	Symbol string
	Amount money.Scalar
}

// BuyTrigger is the armed price for a reserved BUY.
type BuyTrigger struct {
	UserID     string
	Symbol     string
	ArmedPrice money.Scalar
}

// ReserveSell is shares set aside by SET_SELL_AMOUNT; they leave Holdings
// when SET_SELL_TRIGGER first arms the price.
type ReserveSell struct {
	UserID string
	Symbol string
	Shares money.Scalar
}

// SellTrigger is the armed (or half-armed) state for a reserved SELL.
// ArmedPrice is NULL and Armed is false while only SET_SELL_AMOUNT has run.
type SellTrigger struct {
	UserID     string
	Symbol     string
	ArmedPrice sql.NullString
	Armed      bool
}

// PendingIntent is a two-phase BUY/SELL staged for COMMIT/CANCEL within its TTL.
type PendingIntent struct {
	UserID    string
	Side      string // BUY or SELL
	Symbol    string
	Amount    money.Scalar // dollars reserved for BUY, shares reserved for SELL
	Price     money.Scalar // price quoted when staged, frozen for COMMIT
	Shares    money.Scalar // shares to credit on COMMIT_BUY, floor(amount/price)
	CreatedAt time.Time
}

// Transaction is a committed trade, from either COMMIT_BUY/COMMIT_SELL or a fired trigger.
type Transaction struct {
	ID        string
	UserID    string
	Side      string // BUY or SELL
	Symbol    string
	Shares    money.Scalar
	CashDelta money.Scalar
	Source    string // COMMIT or TRIGGER
	CreatedAt time.Time
}

// AuditLogRow is the flattened, persisted form of an audit.Event.
type AuditLogRow struct {
	Seq             int64
	LogType         string
	Server          string
	TimestampMs     int64
	TransactionNum  int64
	Username        sql.NullString
	Command         sql.NullString
	Funds           sql.NullString
	Price           sql.NullString
	StockSymbol     sql.NullString
	QuoteServerTime sql.NullInt64
	Cryptokey       sql.NullString
	Action          sql.NullString
	Filename        sql.NullString
	ErrorMessage    sql.NullString
	DebugMessage    sql.NullString
}

// GetAccount fetches a single account row, or nil if it does not exist.
func (d *Database) GetAccount(ctx context.Context, userID string) (*Account, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT user_id, cash_balance, created_at, updated_at
		FROM accounts WHERE user_id = ?
	`, userID)
	var a Account
	if err := row.Scan(&a.UserID, &a.CashBalance, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// UpsertAccount creates the account row if absent, otherwise overwrites the cash balance.
func (d *Database) UpsertAccount(ctx context.Context, a Account) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO accounts (user_id, cash_balance, created_at, updated_at)
		VALUES (?, ?, COALESCE(?, CURRENT_TIMESTAMP), CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			cash_balance = excluded.cash_balance,
			updated_at = CURRENT_TIMESTAMP
	`, a.UserID, a.CashBalance, a.CreatedAt)
	return err
}

// ListHoldings returns every symbol/shares row for a user.
func (d *Database) ListHoldings(ctx context.Context, userID string) ([]Holding, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT user_id, symbol, shares FROM holdings WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Holding
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.UserID, &h.Symbol, &h.Shares); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// UpsertHolding sets the share count for a user/symbol, deleting the row when zero.
func (d *Database) UpsertHolding(ctx context.Context, h Holding) error {
	if h.Shares.IsZero() {
		_, err := d.DB.ExecContext(ctx, `DELETE FROM holdings WHERE user_id = ? AND symbol = ?`, h.UserID, h.Symbol)
		return err
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO holdings (user_id, symbol, shares)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, symbol) DO UPDATE SET shares = excluded.shares
	`, h.UserID, h.Symbol, h.Shares)
	return err
}

// UpsertReserveBuy sets the reserved cash for a pending/armed BUY trigger.
func (d *Database) UpsertReserveBuy(ctx context.Context, r ReserveBuy) error {
	if r.Amount.IsZero() {
		_, err := d.DB.ExecContext(ctx, `DELETE FROM reserve_buy WHERE user_id = ? AND symbol = ?`, r.UserID, r.Symbol)
		return err
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO reserve_buy (user_id, symbol, amount)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, symbol) DO UPDATE SET amount = excluded.amount
	`, r.UserID, r.Symbol, r.Amount)
	return err
}

// GetReserveBuy returns the reserved cash row, or nil if none is set.
func (d *Database) GetReserveBuy(ctx context.Context, userID, symbol string) (*ReserveBuy, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT user_id, symbol, amount FROM reserve_buy WHERE user_id = ? AND symbol = ?
	`, userID, symbol)
	var r ReserveBuy
	if err := row.Scan(&r.UserID, &r.Symbol, &r.Amount); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// UpsertBuyTrigger arms (or re-arms) the price for a reserved BUY.
func (d *Database) UpsertBuyTrigger(ctx context.Context, t BuyTrigger) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO buy_triggers (user_id, symbol, armed_price)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, symbol) DO UPDATE SET armed_price = excluded.armed_price
	`, t.UserID, t.Symbol, t.ArmedPrice)
	return err
}

// DeleteBuyTrigger clears an armed BUY trigger (does not touch the reserve).
func (d *Database) DeleteBuyTrigger(ctx context.Context, userID, symbol string) error {
	_, err := d.DB.ExecContext(ctx, `DELETE FROM buy_triggers WHERE user_id = ? AND symbol = ?`, userID, symbol)
	return err
}

// GetBuyTrigger returns the armed BUY trigger row, or nil if not armed.
func (d *Database) GetBuyTrigger(ctx context.Context, userID, symbol string) (*BuyTrigger, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT user_id, symbol, armed_price FROM buy_triggers WHERE user_id = ? AND symbol = ?
	`, userID, symbol)
	var t BuyTrigger
	if err := row.Scan(&t.UserID, &t.Symbol, &t.ArmedPrice); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// ListArmedBuyTriggers returns every armed BUY trigger, for the trigger loop's poll cycle.
func (d *Database) ListArmedBuyTriggers(ctx context.Context) ([]BuyTrigger, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT user_id, symbol, armed_price FROM buy_triggers ORDER BY user_id, symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []BuyTrigger
	for rows.Next() {
		var t BuyTrigger
		if err := rows.Scan(&t.UserID, &t.Symbol, &t.ArmedPrice); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// UpsertReserveSell sets the shares reserved for a half-armed or armed SELL trigger.
func (d *Database) UpsertReserveSell(ctx context.Context, r ReserveSell) error {
	if r.Shares.IsZero() {
		_, err := d.DB.ExecContext(ctx, `DELETE FROM reserve_sell WHERE user_id = ? AND symbol = ?`, r.UserID, r.Symbol)
		return err
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO reserve_sell (user_id, symbol, shares)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, symbol) DO UPDATE SET shares = excluded.shares
	`, r.UserID, r.Symbol, r.Shares)
	return err
}

// GetReserveSell returns the reserved shares row, or nil if none is set.
func (d *Database) GetReserveSell(ctx context.Context, userID, symbol string) (*ReserveSell, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT user_id, symbol, shares FROM reserve_sell WHERE user_id = ? AND symbol = ?
	`, userID, symbol)
	var r ReserveSell
	if err := row.Scan(&r.UserID, &r.Symbol, &r.Shares); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// UpsertSellTrigger sets the half-armed/armed state for a reserved SELL.
func (d *Database) UpsertSellTrigger(ctx context.Context, t SellTrigger) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO sell_triggers (user_id, symbol, armed_price, armed)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, symbol) DO UPDATE SET
			armed_price = excluded.armed_price,
			armed = excluded.armed
	`, t.UserID, t.Symbol, t.ArmedPrice, t.Armed)
	return err
}

// DeleteSellTrigger clears a SELL trigger row entirely (does not touch the reserve).
func (d *Database) DeleteSellTrigger(ctx context.Context, userID, symbol string) error {
	_, err := d.DB.ExecContext(ctx, `DELETE FROM sell_triggers WHERE user_id = ? AND symbol = ?`, userID, symbol)
	return err
}

// GetSellTrigger returns the SELL trigger row (armed or half-armed), or nil if none exists.
func (d *Database) GetSellTrigger(ctx context.Context, userID, symbol string) (*SellTrigger, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT user_id, symbol, armed_price, armed FROM sell_triggers WHERE user_id = ? AND symbol = ?
	`, userID, symbol)
	var t SellTrigger
	if err := row.Scan(&t.UserID, &t.Symbol, &t.ArmedPrice, &t.Armed); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// ListArmedSellTriggers returns every fully-armed (not half-armed) SELL trigger.
func (d *Database) ListArmedSellTriggers(ctx context.Context) ([]SellTrigger, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT user_id, symbol, armed_price, armed FROM sell_triggers
		WHERE armed = 1 ORDER BY user_id, symbol
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SellTrigger
	for rows.Next() {
		var t SellTrigger
		if err := rows.Scan(&t.UserID, &t.Symbol, &t.ArmedPrice, &t.Armed); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// PutPendingIntent stages a two-phase BUY/SELL, replacing any existing intent for the same (user, side).
func (d *Database) PutPendingIntent(ctx context.Context, p PendingIntent) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO pending_intents (user_id, side, symbol, amount, price, shares, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, side) DO UPDATE SET
			symbol = excluded.symbol,
			amount = excluded.amount,
			price = excluded.price,
			shares = excluded.shares,
			created_at = excluded.created_at
	`, p.UserID, p.Side, p.Symbol, p.Amount, p.Price, p.Shares, p.CreatedAt)
	return err
}

// GetPendingIntent returns the staged intent for a user/side, or nil if none is staged.
func (d *Database) GetPendingIntent(ctx context.Context, userID, side string) (*PendingIntent, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT user_id, side, symbol, amount, price, shares, created_at
		FROM pending_intents WHERE user_id = ? AND side = ?
	`, userID, side)
	var p PendingIntent
	if err := row.Scan(&p.UserID, &p.Side, &p.Symbol, &p.Amount, &p.Price, &p.Shares, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// DeletePendingIntent removes a staged intent (on COMMIT, CANCEL, or TTL expiry).
func (d *Database) DeletePendingIntent(ctx context.Context, userID, side string) error {
	_, err := d.DB.ExecContext(ctx, `DELETE FROM pending_intents WHERE user_id = ? AND side = ?`, userID, side)
	return err
}

// ListExpiredPendingIntents returns intents older than cutoff, for the sweeper.
func (d *Database) ListExpiredPendingIntents(ctx context.Context, cutoff time.Time) ([]PendingIntent, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT user_id, side, symbol, amount, price, shares, created_at
		FROM pending_intents WHERE created_at < ?
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []PendingIntent
	for rows.Next() {
		var p PendingIntent
		if err := rows.Scan(&p.UserID, &p.Side, &p.Symbol, &p.Amount, &p.Price, &p.Shares, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// CreateTransaction inserts a committed trade row (from a COMMIT or a fired trigger).
func (d *Database) CreateTransaction(ctx context.Context, t Transaction) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, side, symbol, shares, cash_delta, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, t.ID, t.UserID, t.Side, t.Symbol, t.Shares, t.CashDelta, t.Source, t.CreatedAt)
	return err
}

// ListTransactions returns a user's committed trades, most recent first.
func (d *Database) ListTransactions(ctx context.Context, userID string) ([]Transaction, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, user_id, side, symbol, shares, cash_delta, source, created_at
		FROM transactions WHERE user_id = ? ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Side, &t.Symbol, &t.Shares, &t.CashDelta, &t.Source, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// AppendAuditLog persists one flattened audit event row. Audit rows are append-only: no update/delete method exists.
func (d *Database) AppendAuditLog(ctx context.Context, r AuditLogRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO audit_logs (
			log_type, server, timestamp_ms, transaction_num, username, command,
			funds, price, stock_symbol, quote_server_time, cryptokey, action,
			filename, error_message, debug_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.LogType, r.Server, r.TimestampMs, r.TransactionNum, r.Username, r.Command,
		r.Funds, r.Price, r.StockSymbol, r.QuoteServerTime, r.Cryptokey, r.Action,
		r.Filename, r.ErrorMessage, r.DebugMessage,
	)
	return err
}

// ListAuditLogs returns every audit row for a user in emission order (for DUMPLOG(userId)).
func (d *Database) ListAuditLogs(ctx context.Context, username string) ([]AuditLogRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT seq, log_type, server, timestamp_ms, transaction_num, username, command,
			funds, price, stock_symbol, quote_server_time, cryptokey, action,
			filename, error_message, debug_message
		FROM audit_logs WHERE username = ? ORDER BY seq ASC
	`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

// ListAllAuditLogs returns every audit row in emission order (for the system-wide DUMPLOG).
func (d *Database) ListAllAuditLogs(ctx context.Context) ([]AuditLogRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT seq, log_type, server, timestamp_ms, transaction_num, username, command,
			funds, price, stock_symbol, quote_server_time, cryptokey, action,
			filename, error_message, debug_message
		FROM audit_logs ORDER BY seq ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

func scanAuditRows(rows *sql.Rows) ([]AuditLogRow, error) {
	var res []AuditLogRow
	for rows.Next() {
		var r AuditLogRow
		if err := rows.Scan(
			&r.Seq, &r.LogType, &r.Server, &r.TimestampMs, &r.TransactionNum, &r.Username, &r.Command,
			&r.Funds, &r.Price, &r.StockSymbol, &r.QuoteServerTime, &r.Cryptokey, &r.Action,
			&r.Filename, &r.ErrorMessage, &r.DebugMessage,
		); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}
