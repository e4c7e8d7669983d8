// Package trigger runs the background loop that polls the quote oracle for
// every armed BUY/SELL trigger and fires the ones the current price has
// crossed: a BUY trigger fires once price drops to or below its armed cap,
// a SELL trigger fires once price rises to or above its armed floor.
package trigger

import (
	"context"
	"log"
	"time"

	"trading-core/internal/account"
	"trading-core/internal/audit"
	"trading-core/internal/events"
	"trading-core/internal/quote"
	"trading-core/internal/seq"
	"trading-core/pkg/db"
	"trading-core/pkg/money"

	"github.com/google/uuid"
)

// DefaultPollInterval is how often the loop re-checks every armed trigger.
const DefaultPollInterval = 5 * time.Second

// FireResult describes one trigger that fired, published on events.EventTriggerFired.
type FireResult struct {
	UserID    string
	Side      string // BUY or SELL
	Symbol    string
	Shares    money.Scalar
	Price     money.Scalar
	CashDelta money.Scalar
}

// Loop is the polling engine that arms/fires triggers against live quotes.
type Loop struct {
	database     *db.Database
	accounts     *account.Store
	quotes       *quote.Client
	logger       *audit.Logger
	bus          *events.Bus
	counter      *seq.Counter
	pollInterval time.Duration
}

// New creates a Loop. pollInterval defaults to DefaultPollInterval if <= 0.
func New(database *db.Database, accounts *account.Store, quotes *quote.Client, logger *audit.Logger, bus *events.Bus, counter *seq.Counter, pollInterval time.Duration) *Loop {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Loop{
		database: database, accounts: accounts, quotes: quotes,
		logger: logger, bus: bus, counter: counter, pollInterval: pollInterval,
	}
}

// Start runs the poll loop until ctx is canceled.
func (l *Loop) Start(ctx context.Context) {
	ticker := time.NewTicker(l.pollInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.pollOnce(ctx, now)
			}
		}
	}()
}

// pollOnce checks every armed trigger exactly once, BUY triggers first
// (ordered by user, symbol) then SELL triggers (same ordering) — a fixed,
// deterministic pass order per poll cycle.
func (l *Loop) pollOnce(ctx context.Context, now time.Time) {
	buys, err := l.database.ListArmedBuyTriggers(ctx)
	if err != nil {
		log.Printf("⚠️  trigger loop: list buy triggers: %v", err)
	}
	for _, t := range buys {
		l.checkBuy(ctx, t, now)
	}

	sells, err := l.database.ListArmedSellTriggers(ctx)
	if err != nil {
		log.Printf("⚠️  trigger loop: list sell triggers: %v", err)
	}
	for _, t := range sells {
		l.checkSell(ctx, t, now)
	}
}

func (l *Loop) checkBuy(ctx context.Context, t db.BuyTrigger, now time.Time) {
	armedPrice := t.ArmedPrice

	q, err := l.quotes.Get(ctx, t.Symbol, t.UserID, now)
	if err != nil {
		log.Printf("⚠️  trigger loop: quote %s for %s: %v", t.Symbol, t.UserID, err)
		return
	}
	if q.Price.GreaterThan(armedPrice) {
		return
	}

	l.fireBuy(ctx, t.UserID, t.Symbol, q.Price, now)
}

func (l *Loop) checkSell(ctx context.Context, t db.SellTrigger, now time.Time) {
	if !t.ArmedPrice.Valid {
		return
	}
	armedPrice, err := money.Parse(t.ArmedPrice.String, money.CashPlaces)
	if err != nil {
		log.Printf("⚠️  trigger loop: parse armed sell price %s/%s: %v", t.UserID, t.Symbol, err)
		return
	}

	q, err := l.quotes.Get(ctx, t.Symbol, t.UserID, now)
	if err != nil {
		log.Printf("⚠️  trigger loop: quote %s for %s: %v", t.Symbol, t.UserID, err)
		return
	}
	if q.Price.LessThan(armedPrice) {
		return
	}

	l.fireSell(ctx, t.UserID, t.Symbol, q.Price, now)
}

// fireBuy converts the full reserved cash into shares at price, refunding
// any residual that doesn't divide evenly.
func (l *Loop) fireBuy(ctx context.Context, userID, symbol string, price money.Scalar, now time.Time) {
	reserved, res, err := l.accounts.UnsetReserveBuy(ctx, userID, symbol)
	if err != nil {
		log.Printf("⚠️  trigger loop: fire buy %s/%s: %v", userID, symbol, err)
		return
	}
	if !res.Matched {
		return // already canceled/committed concurrently
	}

	shares := reserved.DivFloor(price, money.SharePlaces)
	cost := shares.Mul(price, money.CashPlaces)
	residual := reserved.Sub(cost)

	if _, err := l.accounts.IncHolding(ctx, userID, symbol, shares); err != nil {
		log.Printf("⚠️  trigger loop: credit holding %s/%s: %v", userID, symbol, err)
	}
	if !residual.IsZero() {
		if _, err := l.accounts.AddCash(ctx, userID, residual); err != nil {
			log.Printf("⚠️  trigger loop: refund residual %s/%s: %v", userID, symbol, err)
		}
	}

	l.record(ctx, userID, "BUY", symbol, shares, cost.Neg(), price, now)
}

// fireSell converts the reserved shares into cash at price. The shares were
// already moved out of holdings when SET_SELL_TRIGGER armed the price, so
// firing never touches holdings.
func (l *Loop) fireSell(ctx context.Context, userID, symbol string, price money.Scalar, now time.Time) {
	shares, wasArmed, res, err := l.accounts.UnsetSellTrigger(ctx, userID, symbol)
	if err != nil {
		log.Printf("⚠️  trigger loop: fire sell %s/%s: %v", userID, symbol, err)
		return
	}
	if !res.Matched || !wasArmed {
		return
	}

	proceeds := shares.Mul(price, money.CashPlaces)
	if _, err := l.accounts.AddCash(ctx, userID, proceeds); err != nil {
		log.Printf("⚠️  trigger loop: credit proceeds %s/%s: %v", userID, symbol, err)
	}

	l.record(ctx, userID, "SELL", symbol, shares, proceeds, price, now)
}

func (l *Loop) record(ctx context.Context, userID, side, symbol string, shares, cashDelta, price money.Scalar, now time.Time) {
	txID := l.counter.Next()

	if err := l.accounts.AppendTransaction(ctx, db.Transaction{
		ID: uuid.NewString(), UserID: userID, Side: side, Symbol: symbol,
		Shares: shares, CashDelta: cashDelta, Source: "TRIGGER", CreatedAt: now,
	}); err != nil {
		log.Printf("⚠️  trigger loop: record transaction %s/%s: %v", userID, symbol, err)
	}

	if l.logger != nil {
		cmd := audit.CmdSetBuyTrigger
		if side == "SELL" {
			cmd = audit.CmdSetSellTrigger
		}
		if err := l.logger.LogSystemEvent(ctx, txID, now, userID, cmd); err != nil {
			log.Printf("⚠️  trigger loop: audit system event: %v", err)
		}
		if err := l.logger.LogAccountTransaction(ctx, txID, now, userID, side+"_TRIGGER_FIRED", cashDelta.String()); err != nil {
			log.Printf("⚠️  trigger loop: audit account transaction: %v", err)
		}
	}

	if l.bus != nil {
		l.bus.Publish(events.EventTriggerFired, FireResult{
			UserID: userID, Side: side, Symbol: symbol,
			Shares: shares, Price: price, CashDelta: cashDelta,
		})
	}
}
