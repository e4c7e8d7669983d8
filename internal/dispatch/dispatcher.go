// Package dispatch is the Command Dispatcher: one handler per command type,
// run through a per-user Serializer so concurrent commands from the same
// user never interleave, while independent users proceed fully in
// parallel. Every handler emits a debugEvent on entry, an errorEvent on
// validation/precondition failure, and a userCommand event on success.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"trading-core/internal/account"
	"trading-core/internal/audit"
	"trading-core/internal/pending"
	"trading-core/internal/quote"
	"trading-core/internal/seq"
	"trading-core/pkg/db"
	"trading-core/pkg/money"

	"github.com/google/uuid"
)

// Dispatcher wires the Account Store, Pending Intents, Quote Client, and
// Audit Logger together behind the per-command handler surface.
type Dispatcher struct {
	accounts *account.Store
	pendings *pending.Registry
	quotes   *quote.Client
	logger   *audit.Logger
	counter  *seq.Counter

	now func() time.Time

	serializer *Serializer
}

// Config bounds the Dispatcher's runtime behavior.
type Config struct {
	QueueDepth int
}

// New wires a Dispatcher and starts its Serializer. ctx is the process's
// long-lived background context: it governs the per-user drain
// goroutines' lifetime, independent of any individual Submit call's
// request-scoped context.
func New(ctx context.Context, accounts *account.Store, pendings *pending.Registry, quotes *quote.Client, logger *audit.Logger, counter *seq.Counter, cfg Config) *Dispatcher {
	d := &Dispatcher{
		accounts: accounts, pendings: pendings, quotes: quotes,
		logger: logger, counter: counter, now: time.Now,
	}
	d.serializer = NewSerializer(ctx, cfg.QueueDepth, d.handle)
	return d
}

// Submit enqueues cmd onto its user's serializer and waits for the result.
func (d *Dispatcher) Submit(ctx context.Context, cmd Command) (Result, error) {
	return d.serializer.Submit(ctx, cmd)
}

// handle runs on the user's single-consumer goroutine: no two commands for
// the same userId ever execute concurrently.
func (d *Dispatcher) handle(ctx context.Context, cmd Command) Result {
	now := d.now()
	txNum := d.counter.Next()

	if d.logger != nil {
		_ = d.logger.LogDebugEvent(ctx, txNum, now, cmd.UserID, cmd.Type, fmt.Sprintf("dispatching %s for %s", cmd.Type, cmd.UserID))
	}

	res, err := d.route(ctx, cmd, txNum, now)
	if err != nil {
		if d.logger != nil {
			_ = d.logger.LogErrorEvent(ctx, txNum, now, cmd.UserID, cmd.Type, err.Error())
		}
		return fail(err)
	}

	if d.logger != nil {
		_ = d.logger.LogUserCommand(ctx, txNum, now, cmd.UserID, cmd.Type)
	}
	return res
}

func (d *Dispatcher) route(ctx context.Context, cmd Command, txNum int64, now time.Time) (Result, error) {
	switch cmd.Type {
	case audit.CmdAdd:
		return d.handleAdd(ctx, cmd, txNum, now)
	case audit.CmdQuote:
		return d.handleQuote(ctx, cmd, txNum, now)
	case audit.CmdBuy:
		return d.handleBuy(ctx, cmd, txNum, now)
	case audit.CmdCommitBuy:
		return d.handleCommitBuy(ctx, cmd, txNum, now)
	case audit.CmdCancelBuy:
		return d.handleCancelBuy(ctx, cmd, txNum, now)
	case audit.CmdSell:
		return d.handleSell(ctx, cmd, txNum, now)
	case audit.CmdCommitSell:
		return d.handleCommitSell(ctx, cmd, txNum, now)
	case audit.CmdCancelSell:
		return d.handleCancelSell(ctx, cmd, txNum, now)
	case audit.CmdSetBuyAmount:
		return d.handleSetBuyAmount(ctx, cmd, txNum, now)
	case audit.CmdSetBuyTrigger:
		return d.handleSetBuyTrigger(ctx, cmd, txNum, now)
	case audit.CmdCancelSetBuy:
		return d.handleCancelSetBuy(ctx, cmd, txNum, now)
	case audit.CmdSetSellAmount:
		return d.handleSetSellAmount(ctx, cmd, txNum, now)
	case audit.CmdSetSellTrigger:
		return d.handleSetSellTrigger(ctx, cmd, txNum, now)
	case audit.CmdCancelSetSell:
		return d.handleCancelSetSell(ctx, cmd, txNum, now)
	case audit.CmdDumplog:
		return d.handleDumplog(ctx, cmd, txNum, now)
	case audit.CmdDisplaySummary:
		return d.handleDisplaySummary(ctx, cmd, txNum, now)
	default:
		return Result{}, &ValidationError{fmt.Sprintf("unknown command %q", cmd.Type)}
	}
}

func parseSymbol(symbol string) (string, error) {
	if symbol == "" || len(symbol) > 3 {
		return "", &ValidationError{fmt.Sprintf("stock symbol %q must be 1-3 characters", symbol)}
	}
	return symbol, nil
}

func parsePositiveAmount(raw string, places int32) (money.Scalar, error) {
	amount, err := money.Parse(raw, places)
	if err != nil {
		return money.Zero, &ValidationError{fmt.Sprintf("amount %q is not a valid number", raw)}
	}
	if !amount.IsPositive() {
		return money.Zero, &ValidationError{"amount must be positive"}
	}
	return amount, nil
}

func newTxID() string { return uuid.NewString() }

func txRow(id, userID, side, symbol string, shares, cashDelta money.Scalar, now time.Time) db.Transaction {
	return db.Transaction{
		ID: id, UserID: userID, Side: side, Symbol: symbol,
		Shares: shares, CashDelta: cashDelta, Source: "COMMIT", CreatedAt: now,
	}
}
