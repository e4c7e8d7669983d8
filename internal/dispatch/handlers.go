package dispatch

import (
	"context"
	"fmt"
	"time"

	"trading-core/internal/pending"
	"trading-core/pkg/money"
)

// handleAdd credits cash to the user's account. ADD always succeeds for a
// positive amount; there is no upper bound.
func (d *Dispatcher) handleAdd(ctx context.Context, cmd Command, txNum int64, now time.Time) (Result, error) {
	amount, err := parsePositiveAmount(cmd.Amount, money.CashPlaces)
	if err != nil {
		return Result{}, err
	}

	if _, err := d.accounts.AddCash(ctx, cmd.UserID, amount); err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	if d.logger != nil {
		_ = d.logger.LogAccountTransaction(ctx, txNum, now, cmd.UserID, "ADD", amount.String())
	}
	return ok(fmt.Sprintf("added %s", amount), nil), nil
}

// handleQuote resolves the current price for symbol, logging a
// quoteServer event only when the quote did not come from cache.
func (d *Dispatcher) handleQuote(ctx context.Context, cmd Command, txNum int64, now time.Time) (Result, error) {
	symbol, err := parseSymbol(cmd.Symbol)
	if err != nil {
		return Result{}, err
	}

	q, err := d.quotes.Get(ctx, symbol, cmd.UserID, now)
	if err != nil {
		return Result{}, &UpstreamError{err.Error()}
	}
	if !q.FromCache && d.logger != nil {
		if err := d.logger.LogQuoteServerHit(ctx, txNum, now, q.Username, q.Symbol, q.Price.String(), q.OracleTimeMs, q.Cryptokey); err != nil {
			return Result{}, &InternalError{err.Error()}
		}
	}
	return ok(q.Price.String(), map[string]string{"price": q.Price.String(), "symbol": q.Symbol}), nil
}

// handleBuy quotes symbol, verifies the user has enough cash, and stages a
// BUY intent for 60s. The share count is computed and frozen now:
// COMMIT_BUY later credits exactly these shares and debits the full staged
// dollar amount (the floor remainder is not refunded), regardless of what
// the market does in between.
func (d *Dispatcher) handleBuy(ctx context.Context, cmd Command, txNum int64, now time.Time) (Result, error) {
	symbol, err := parseSymbol(cmd.Symbol)
	if err != nil {
		return Result{}, err
	}
	dollars, err := parsePositiveAmount(cmd.Amount, money.CashPlaces)
	if err != nil {
		return Result{}, err
	}

	acct, err := d.accounts.GetAccount(ctx, cmd.UserID)
	if err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	if acct.CashBalance.LessThan(dollars) {
		return Result{}, &PreconditionError{fmt.Sprintf("insufficient cash: have %s, need %s", acct.CashBalance, dollars)}
	}

	q, err := d.quotes.Get(ctx, symbol, cmd.UserID, now)
	if err != nil {
		return Result{}, &UpstreamError{err.Error()}
	}
	if !q.FromCache && d.logger != nil {
		_ = d.logger.LogQuoteServerHit(ctx, txNum, now, q.Username, q.Symbol, q.Price.String(), q.OracleTimeMs, q.Cryptokey)
	}

	shares := dollars.DivFloor(q.Price, money.SharePlaces)
	if !shares.IsPositive() {
		return Result{}, &PreconditionError{fmt.Sprintf("amount %s buys zero shares at price %s", dollars, q.Price)}
	}

	if err := d.pendings.Put(ctx, cmd.UserID, pending.Buy, symbol, dollars, q.Price, shares, now); err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	return ok(fmt.Sprintf("BUY staged: %s shares of %s at %s", shares, symbol, q.Price), map[string]string{
		"symbol": symbol, "shares": shares.String(), "price": q.Price.String(),
	}), nil
}

// handleCommitBuy finalizes a staged BUY within its TTL: deducts cash,
// credits holdings with the shares frozen at BUY time.
func (d *Dispatcher) handleCommitBuy(ctx context.Context, cmd Command, txNum int64, now time.Time) (Result, error) {
	intent, found := d.pendings.Get(cmd.UserID, pending.Buy, now)
	if !found {
		return Result{}, &PreconditionError{"no BUY staged (or it has expired)"}
	}

	res, err := d.accounts.AddCash(ctx, cmd.UserID, intent.Amount.Neg())
	if err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	if !res.Modified {
		return Result{}, &PreconditionError{"insufficient cash to commit BUY"}
	}
	if _, err := d.accounts.IncHolding(ctx, cmd.UserID, intent.Symbol, intent.Shares); err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	if err := d.pendings.Delete(ctx, cmd.UserID, pending.Buy); err != nil {
		return Result{}, &InternalError{err.Error()}
	}

	id := newTxID()
	if err := d.accounts.AppendTransaction(ctx, txRow(id, cmd.UserID, "BUY", intent.Symbol, intent.Shares, intent.Amount.Neg(), now)); err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	if d.logger != nil {
		_ = d.logger.LogAccountTransaction(ctx, txNum, now, cmd.UserID, "BUY", intent.Amount.Neg().String())
	}
	return ok(fmt.Sprintf("committed BUY: %s shares of %s", intent.Shares, intent.Symbol), nil), nil
}

// handleCancelBuy discards a staged BUY without touching cash or holdings
// — nothing was reserved at BUY time, so there is nothing to refund.
func (d *Dispatcher) handleCancelBuy(ctx context.Context, cmd Command, txNum int64, now time.Time) (Result, error) {
	if _, found := d.pendings.Get(cmd.UserID, pending.Buy, now); !found {
		return Result{}, &PreconditionError{"no BUY staged (or it has expired)"}
	}
	if err := d.pendings.Delete(ctx, cmd.UserID, pending.Buy); err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	return ok("BUY canceled", nil), nil
}

// handleSell quotes symbol, verifies the user holds enough shares, and
// stages a SELL intent for 60s at the price frozen now.
func (d *Dispatcher) handleSell(ctx context.Context, cmd Command, txNum int64, now time.Time) (Result, error) {
	symbol, err := parseSymbol(cmd.Symbol)
	if err != nil {
		return Result{}, err
	}
	shares, err := parsePositiveAmount(cmd.Amount, money.SharePlaces)
	if err != nil {
		return Result{}, err
	}

	acct, err := d.accounts.GetAccount(ctx, cmd.UserID)
	if err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	if acct.Holdings[symbol].LessThan(shares) {
		return Result{}, &PreconditionError{fmt.Sprintf("insufficient shares of %s: have %s, need %s", symbol, acct.Holdings[symbol], shares)}
	}

	q, err := d.quotes.Get(ctx, symbol, cmd.UserID, now)
	if err != nil {
		return Result{}, &UpstreamError{err.Error()}
	}
	if !q.FromCache && d.logger != nil {
		_ = d.logger.LogQuoteServerHit(ctx, txNum, now, q.Username, q.Symbol, q.Price.String(), q.OracleTimeMs, q.Cryptokey)
	}

	proceeds := shares.Mul(q.Price, money.CashPlaces)
	if err := d.pendings.Put(ctx, cmd.UserID, pending.Sell, symbol, shares, q.Price, proceeds, now); err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	return ok(fmt.Sprintf("SELL staged: %s shares of %s at %s", shares, symbol, q.Price), map[string]string{
		"symbol": symbol, "shares": shares.String(), "price": q.Price.String(),
	}), nil
}

// handleCommitSell finalizes a staged SELL within its TTL: removes shares
// from holdings, credits cash with the proceeds frozen at SELL time
// (Intent.Shares here holds the frozen dollar proceeds; see handleSell).
func (d *Dispatcher) handleCommitSell(ctx context.Context, cmd Command, txNum int64, now time.Time) (Result, error) {
	intent, found := d.pendings.Get(cmd.UserID, pending.Sell, now)
	if !found {
		return Result{}, &PreconditionError{"no SELL staged (or it has expired)"}
	}

	res, err := d.accounts.IncHolding(ctx, cmd.UserID, intent.Symbol, intent.Amount.Neg())
	if err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	if !res.Modified {
		return Result{}, &PreconditionError{"insufficient shares to commit SELL"}
	}
	proceeds := intent.Shares // frozen dollar proceeds, see handleSell
	if _, err := d.accounts.AddCash(ctx, cmd.UserID, proceeds); err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	if err := d.pendings.Delete(ctx, cmd.UserID, pending.Sell); err != nil {
		return Result{}, &InternalError{err.Error()}
	}

	id := newTxID()
	if err := d.accounts.AppendTransaction(ctx, txRow(id, cmd.UserID, "SELL", intent.Symbol, intent.Amount, proceeds, now)); err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	if d.logger != nil {
		_ = d.logger.LogAccountTransaction(ctx, txNum, now, cmd.UserID, "SELL", proceeds.String())
	}
	return ok(fmt.Sprintf("committed SELL: %s shares of %s for %s", intent.Amount, intent.Symbol, proceeds), nil), nil
}

// handleCancelSell discards a staged SELL. Nothing was reserved at SELL
// time, so there is nothing to credit back.
func (d *Dispatcher) handleCancelSell(ctx context.Context, cmd Command, txNum int64, now time.Time) (Result, error) {
	if _, found := d.pendings.Get(cmd.UserID, pending.Sell, now); !found {
		return Result{}, &PreconditionError{"no SELL staged (or it has expired)"}
	}
	if err := d.pendings.Delete(ctx, cmd.UserID, pending.Sell); err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	return ok("SELL canceled", nil), nil
}

// handleSetBuyAmount reserves cash for a future conditional BUY. The
// reservation is immediate and holds even before a trigger price is set.
func (d *Dispatcher) handleSetBuyAmount(ctx context.Context, cmd Command, txNum int64, now time.Time) (Result, error) {
	symbol, err := parseSymbol(cmd.Symbol)
	if err != nil {
		return Result{}, err
	}
	amount, err := parsePositiveAmount(cmd.Amount, money.CashPlaces)
	if err != nil {
		return Result{}, err
	}

	cashRes, err := d.accounts.AddCash(ctx, cmd.UserID, amount.Neg())
	if err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	if !cashRes.Modified {
		return Result{}, &PreconditionError{"insufficient cash to reserve"}
	}
	if _, err := d.accounts.IncReserveBuy(ctx, cmd.UserID, symbol, amount); err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	return ok(fmt.Sprintf("reserved %s for BUY of %s", amount, symbol), nil), nil
}

// handleSetBuyTrigger arms the BUY reserved by SET_BUY_AMOUNT at a price.
func (d *Dispatcher) handleSetBuyTrigger(ctx context.Context, cmd Command, txNum int64, now time.Time) (Result, error) {
	symbol, err := parseSymbol(cmd.Symbol)
	if err != nil {
		return Result{}, err
	}
	price, err := parsePositiveAmount(cmd.Amount, money.CashPlaces)
	if err != nil {
		return Result{}, err
	}

	res, err := d.accounts.SetBuyTrigger(ctx, cmd.UserID, symbol, price)
	if err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	if !res.Matched {
		return Result{}, &PreconditionError{fmt.Sprintf("no BUY amount reserved for %s; run SET_BUY_AMOUNT first", symbol)}
	}
	return ok(fmt.Sprintf("armed BUY trigger for %s at %s", symbol, price), nil), nil
}

// handleCancelSetBuy clears a reserved/armed BUY trigger and refunds the
// reserved cash.
func (d *Dispatcher) handleCancelSetBuy(ctx context.Context, cmd Command, txNum int64, now time.Time) (Result, error) {
	symbol, err := parseSymbol(cmd.Symbol)
	if err != nil {
		return Result{}, err
	}

	reserved, res, err := d.accounts.UnsetReserveBuy(ctx, cmd.UserID, symbol)
	if err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	if !res.Matched {
		return Result{}, &PreconditionError{fmt.Sprintf("no BUY reserved for %s", symbol)}
	}
	if _, err := d.accounts.AddCash(ctx, cmd.UserID, reserved); err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	return ok(fmt.Sprintf("canceled BUY trigger for %s, refunded %s", symbol, reserved), nil), nil
}

// handleSetSellAmount validates the holding and records a half-armed SELL
// reserve (armedPrice absent). Shares stay in holdings until
// SET_SELL_TRIGGER actually moves them into reserve.
func (d *Dispatcher) handleSetSellAmount(ctx context.Context, cmd Command, txNum int64, now time.Time) (Result, error) {
	symbol, err := parseSymbol(cmd.Symbol)
	if err != nil {
		return Result{}, err
	}
	shares, err := parsePositiveAmount(cmd.Amount, money.SharePlaces)
	if err != nil {
		return Result{}, err
	}

	acct, err := d.accounts.GetAccount(ctx, cmd.UserID)
	if err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	if acct.Holdings[symbol].LessThan(shares) {
		return Result{}, &PreconditionError{fmt.Sprintf("insufficient shares of %s to reserve: have %s, need %s", symbol, acct.Holdings[symbol], shares)}
	}

	if _, err := d.accounts.IncReserveSell(ctx, cmd.UserID, symbol, shares); err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	if _, err := d.accounts.SetSellHalfArmed(ctx, cmd.UserID, symbol); err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	return ok(fmt.Sprintf("reserved %s shares of %s for SELL", shares, symbol), nil), nil
}

// handleSetSellTrigger arms (or re-arms) the price for a SELL already
// half-armed by SET_SELL_AMOUNT, and is the point at which the reserved
// shares actually leave holdings.
func (d *Dispatcher) handleSetSellTrigger(ctx context.Context, cmd Command, txNum int64, now time.Time) (Result, error) {
	symbol, err := parseSymbol(cmd.Symbol)
	if err != nil {
		return Result{}, err
	}
	price, err := parsePositiveAmount(cmd.Amount, money.CashPlaces)
	if err != nil {
		return Result{}, err
	}

	acct, err := d.accounts.GetAccount(ctx, cmd.UserID)
	if err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	reserved, alreadyArmed := acct.ReserveSell[symbol], acct.SellTriggers[symbol].Armed

	res, err := d.accounts.ArmSellTrigger(ctx, cmd.UserID, symbol, price)
	if err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	if !res.Matched {
		return Result{}, &PreconditionError{fmt.Sprintf("no SELL amount reserved for %s; run SET_SELL_AMOUNT first", symbol)}
	}

	// Re-arming an already-armed trigger only changes the price; the
	// shares left holdings the first time it armed.
	if !alreadyArmed {
		if _, err := d.accounts.IncHolding(ctx, cmd.UserID, symbol, reserved.Neg()); err != nil {
			return Result{}, &InternalError{err.Error()}
		}
	}
	return ok(fmt.Sprintf("armed SELL trigger for %s at %s", symbol, price), nil), nil
}

// handleCancelSetSell clears a reserved/armed SELL trigger. If the trigger
// had only been half-armed (SET_SELL_AMOUNT ran, SET_SELL_TRIGGER did
// not), the shares were never removed from holdings and must not be
// credited back a second time.
func (d *Dispatcher) handleCancelSetSell(ctx context.Context, cmd Command, txNum int64, now time.Time) (Result, error) {
	symbol, err := parseSymbol(cmd.Symbol)
	if err != nil {
		return Result{}, err
	}

	shares, wasArmed, res, err := d.accounts.UnsetSellTrigger(ctx, cmd.UserID, symbol)
	if err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	if !res.Matched {
		return Result{}, &PreconditionError{fmt.Sprintf("no SELL reserved for %s", symbol)}
	}
	if wasArmed {
		if _, err := d.accounts.IncHolding(ctx, cmd.UserID, symbol, shares); err != nil {
			return Result{}, &InternalError{err.Error()}
		}
	}
	return ok(fmt.Sprintf("canceled SELL trigger for %s, returned %s shares", symbol, shares), nil), nil
}

// handleDumplog writes the audit trail (scoped to the user, or system-wide
// if cmd.UserID is empty — the CLI-facing variant DUMPLOG(filename) with no
// user) as XML to "<cmd.Filename>-YYYYMMDD-HHMMSS.xml" in the current
// directory ("dumplog" when no filename is given).
func (d *Dispatcher) handleDumplog(ctx context.Context, cmd Command, txNum int64, now time.Time) (Result, error) {
	filename := cmd.Filename
	if filename == "" {
		filename = "dumplog"
	}
	path, err := d.logger.WriteDumplog(ctx, ".", filename, cmd.UserID, now)
	if err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	return ok(fmt.Sprintf("wrote %s", path), map[string]string{"path": path}), nil
}

// handleDisplaySummary returns a snapshot of the user's account for
// presentation; it has no side effects.
func (d *Dispatcher) handleDisplaySummary(ctx context.Context, cmd Command, txNum int64, now time.Time) (Result, error) {
	acct, err := d.accounts.GetAccount(ctx, cmd.UserID)
	if err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	txs, err := d.accounts.ListTransactions(ctx, cmd.UserID)
	if err != nil {
		return Result{}, &InternalError{err.Error()}
	}
	return ok(summaryText(acct.UserID, acct.CashBalance), map[string]string{
		"cash":             acct.CashBalance.String(),
		"transactionCount": fmt.Sprintf("%d", len(txs)),
	}), nil
}

func summaryText(userID string, cash money.Scalar) string {
	return fmt.Sprintf("%s: cash=%s", userID, cash)
}
