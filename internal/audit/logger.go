package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"trading-core/internal/events"
	"trading-core/pkg/db"
)

// Config bounds the plausibility window a log timestamp must fall within.
// The window is configurable and centered on "now" at startup rather than
// a fixed calendar range, so tests aren't tied to a specific date.
type Config struct {
	Server         string
	MinTimestampMs int64
	MaxTimestampMs int64
}

// DefaultConfig returns a plausibility window of [now-1y, now+1y).
func DefaultConfig(server string, now time.Time) Config {
	return Config{
		Server:         server,
		MinTimestampMs: now.Add(-365 * 24 * time.Hour).UnixMilli(),
		MaxTimestampMs: now.Add(365 * 24 * time.Hour).UnixMilli(),
	}
}

// Logger is the append-only audit trail. It validates each event at emit
// time (never at construction), persists it, and publishes it on the bus
// for the live websocket feed.
type Logger struct {
	cfg      Config
	database *db.Database
	bus      *events.Bus

	mu     sync.Mutex
	events []Event
}

// New creates a Logger. database and bus may be nil for tests that only
// care about in-memory snapshot/XML behavior.
func New(cfg Config, database *db.Database, bus *events.Bus) *Logger {
	return &Logger{cfg: cfg, database: database, bus: bus}
}

func (l *Logger) withinWindow(ts int64) bool {
	return ts >= l.cfg.MinTimestampMs && ts < l.cfg.MaxTimestampMs
}

// emit validates, appends, persists, and publishes an event. It is the
// single choke point every LogXxx method funnels through.
func (l *Logger) emit(ctx context.Context, e Event) error {
	if e.TransactionNum <= 0 {
		return &validationError{"transactionNum", "must be > 0"}
	}
	if !l.withinWindow(e.TimestampMs) {
		return &validationError{"timestamp", "outside plausibility window"}
	}
	if e.StockSymbol != "" && !isStockSymbol(e.StockSymbol) {
		return &validationError{"stockSymbol", fmt.Sprintf("%q exceeds 3 characters", e.StockSymbol)}
	}
	if e.Command != "" && !e.Command.valid() {
		return &validationError{"command", fmt.Sprintf("%q is not a known CommandType", e.Command)}
	}
	e.Server = l.cfg.Server

	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()

	if l.database != nil {
		if err := l.database.AppendAuditLog(ctx, toRow(e)); err != nil {
			return fmt.Errorf("audit: persist: %w", err)
		}
	}
	if l.bus != nil {
		l.bus.Publish(events.EventAuditLogged, e)
	}
	return nil
}

// LogUserCommand records a successfully-accepted user command.
func (l *Logger) LogUserCommand(ctx context.Context, txNum int64, now time.Time, username string, cmd CommandType) error {
	return l.emit(ctx, Event{
		Type: UserCommand, TimestampMs: now.UnixMilli(), TransactionNum: txNum,
		Username: username, Command: cmd,
	})
}

// LogQuoteServerHit records a cache-miss round trip to the quote oracle.
func (l *Logger) LogQuoteServerHit(ctx context.Context, txNum int64, now time.Time, username, symbol, price string, quoteServerTimeMs int64, cryptokey string) error {
	return l.emit(ctx, Event{
		Type: QuoteServer, TimestampMs: now.UnixMilli(), TransactionNum: txNum,
		Username: username, StockSymbol: symbol, Price: price,
		QuoteServerTime: quoteServerTimeMs, Cryptokey: cryptokey,
	})
}

// LogAccountTransaction records a cash-balance mutation (add, buy, sell, refund).
func (l *Logger) LogAccountTransaction(ctx context.Context, txNum int64, now time.Time, username, action, funds string) error {
	return l.emit(ctx, Event{
		Type: AccountTransaction, TimestampMs: now.UnixMilli(), TransactionNum: txNum,
		Username: username, Action: action, Funds: funds,
	})
}

// LogSystemEvent records an engine-internal lifecycle event (e.g. a trigger firing).
func (l *Logger) LogSystemEvent(ctx context.Context, txNum int64, now time.Time, username string, cmd CommandType) error {
	return l.emit(ctx, Event{
		Type: SystemEvent, TimestampMs: now.UnixMilli(), TransactionNum: txNum,
		Username: username, Command: cmd,
	})
}

// LogErrorEvent records a rejected command along with its error message.
func (l *Logger) LogErrorEvent(ctx context.Context, txNum int64, now time.Time, username string, cmd CommandType, errMsg string) error {
	return l.emit(ctx, Event{
		Type: ErrorEvent, TimestampMs: now.UnixMilli(), TransactionNum: txNum,
		Username: username, Command: cmd, ErrorMessage: errMsg,
	})
}

// LogDebugEvent records a free-form debug note attached to a command.
func (l *Logger) LogDebugEvent(ctx context.Context, txNum int64, now time.Time, username string, cmd CommandType, debugMsg string) error {
	return l.emit(ctx, Event{
		Type: DebugEvent, TimestampMs: now.UnixMilli(), TransactionNum: txNum,
		Username: username, Command: cmd, DebugMessage: debugMsg,
	})
}

// Snapshot returns every event logged so far for username, in emission order.
func (l *Logger) Snapshot(username string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Event
	for _, e := range l.events {
		if username == "" || e.Username == username {
			out = append(out, e)
		}
	}
	return out
}

// WriteDumplog snapshots username's events (or all events, if username is
// empty) as XML to a file named "<prefix>-YYYYMMDD-HHMMSS.xml".
func (l *Logger) WriteDumplog(ctx context.Context, dir, prefix, username string, now time.Time) (string, error) {
	var evs []Event
	var err error
	if l.database != nil {
		evs, err = l.loadFromDB(ctx, username)
		if err != nil {
			return "", err
		}
	} else {
		evs = l.Snapshot(username)
	}

	path := fmt.Sprintf("%s/%s-%s.xml", dir, prefix, now.Format("20060102-150405"))
	data, err := MarshalXML(evs)
	if err != nil {
		return "", fmt.Errorf("audit: marshal dumplog: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("audit: write dumplog: %w", err)
	}
	return path, nil
}

func (l *Logger) loadFromDB(ctx context.Context, username string) ([]Event, error) {
	var rows []db.AuditLogRow
	var err error
	if username == "" {
		rows, err = l.database.ListAllAuditLogs(ctx)
	} else {
		rows, err = l.database.ListAuditLogs(ctx, username)
	}
	if err != nil {
		return nil, fmt.Errorf("audit: load dumplog rows: %w", err)
	}
	out := make([]Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func toRow(e Event) db.AuditLogRow {
	return db.AuditLogRow{
		LogType:         string(e.Type),
		Server:          e.Server,
		TimestampMs:     e.TimestampMs,
		TransactionNum:  e.TransactionNum,
		Username:        nullStr(e.Username),
		Command:         nullStr(string(e.Command)),
		Funds:           nullStr(e.Funds),
		Price:           nullStr(e.Price),
		StockSymbol:     nullStr(e.StockSymbol),
		QuoteServerTime: nullInt(e.QuoteServerTime),
		Cryptokey:       nullStr(e.Cryptokey),
		Action:          nullStr(e.Action),
		Filename:        nullStr(e.Filename),
		ErrorMessage:    nullStr(e.ErrorMessage),
		DebugMessage:    nullStr(e.DebugMessage),
	}
}

func fromRow(r db.AuditLogRow) Event {
	return Event{
		Type:            LogType(r.LogType),
		Server:          r.Server,
		TimestampMs:     r.TimestampMs,
		TransactionNum:  r.TransactionNum,
		Username:        r.Username.String,
		Command:         CommandType(r.Command.String),
		Funds:           r.Funds.String,
		Price:           r.Price.String,
		StockSymbol:     r.StockSymbol.String,
		QuoteServerTime: r.QuoteServerTime.Int64,
		Cryptokey:       r.Cryptokey.String,
		Action:          r.Action.String,
		Filename:        r.Filename.String,
		ErrorMessage:    r.ErrorMessage.String,
		DebugMessage:    r.DebugMessage.String,
	}
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(i int64) sql.NullInt64 {
	if i == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: i, Valid: true}
}
