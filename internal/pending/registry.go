// Package pending implements the two-phase BUY/SELL staging area: a
// command like BUY or SELL stages an Intent here, and a later COMMIT_BUY,
// COMMIT_SELL, CANCEL_BUY, or CANCEL_SELL within the TTL window resolves
// it. Intents older than the TTL expire on their own via the sweeper.
package pending

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"trading-core/pkg/db"
	"trading-core/pkg/money"
)

// TTL is how long a staged intent survives before the sweeper drops it.
const TTL = 60 * time.Second

// Side identifies which half of a two-phase trade an Intent belongs to.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Intent is one staged (not yet committed) BUY or SELL.
type Intent struct {
	UserID    string
	Side      Side
	Symbol    string
	Amount    money.Scalar // dollars reserved for BUY, shares reserved for SELL
	Price     money.Scalar // price quoted when the intent was staged, frozen for COMMIT
	Shares    money.Scalar // shares to credit on COMMIT_BUY, floor(amount/price)
	CreatedAt time.Time
}

func (i Intent) expired(now time.Time) bool {
	return now.Sub(i.CreatedAt) >= TTL
}

// Registry is the process-wide pending-intent table, keyed by (userId, side)
// — a user may have at most one staged BUY and one staged SELL at a time.
type Registry struct {
	database *db.Database

	mu      sync.Mutex
	intents map[string]map[Side]*Intent
}

// New creates a Registry backed by database. database may be nil in tests.
func New(database *db.Database) *Registry {
	return &Registry{
		database: database,
		intents:  make(map[string]map[Side]*Intent),
	}
}

// Put stages an intent, overwriting any existing intent for the same
// (userId, side) — a second BUY before the first commits/cancels replaces it.
func (r *Registry) Put(ctx context.Context, userID string, side Side, symbol string, amount, price, shares money.Scalar, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	intent := &Intent{UserID: userID, Side: side, Symbol: symbol, Amount: amount, Price: price, Shares: shares, CreatedAt: now}
	if r.intents[userID] == nil {
		r.intents[userID] = make(map[Side]*Intent)
	}
	r.intents[userID][side] = intent

	if r.database != nil {
		if err := r.database.PutPendingIntent(ctx, db.PendingIntent{
			UserID: userID, Side: string(side), Symbol: symbol, Amount: amount, Price: price, Shares: shares, CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("pending: put: %w", err)
		}
	}
	return nil
}

// Get returns the staged intent for (userId, side), or ok=false if none is
// staged or it has already expired past TTL as of now.
func (r *Registry) Get(userID string, side Side, now time.Time) (Intent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bySide, ok := r.intents[userID]
	if !ok {
		return Intent{}, false
	}
	intent, ok := bySide[side]
	if !ok || intent.expired(now) {
		return Intent{}, false
	}
	return *intent, true
}

// Delete removes the staged intent for (userId, side), e.g. on COMMIT or
// CANCEL. It is a no-op if nothing was staged.
func (r *Registry) Delete(ctx context.Context, userID string, side Side) error {
	r.mu.Lock()
	if bySide, ok := r.intents[userID]; ok {
		delete(bySide, side)
	}
	r.mu.Unlock()

	if r.database != nil {
		if err := r.database.DeletePendingIntent(ctx, userID, string(side)); err != nil {
			return fmt.Errorf("pending: delete: %w", err)
		}
	}
	return nil
}

// sweep drops every intent that has expired as of now and returns them.
func (r *Registry) sweep(ctx context.Context, now time.Time) []Intent {
	r.mu.Lock()
	var expired []Intent
	for userID, bySide := range r.intents {
		for side, intent := range bySide {
			if intent.expired(now) {
				expired = append(expired, *intent)
				delete(bySide, side)
			}
		}
		if len(bySide) == 0 {
			delete(r.intents, userID)
		}
	}
	r.mu.Unlock()

	for _, intent := range expired {
		if r.database != nil {
			if err := r.database.DeletePendingIntent(ctx, intent.UserID, string(intent.Side)); err != nil {
				log.Printf("⚠️  pending: sweep delete failed for %s/%s: %v", intent.UserID, intent.Side, err)
			}
		}
	}
	return expired
}

// ExpireFunc is called once per swept (expired) intent. Staging a BUY or
// SELL reserves no cash or shares, so an expired intent has nothing to
// release.
type ExpireFunc func(ctx context.Context, intent Intent)

// StartSweeper runs a background loop that expires stale intents at the
// given cadence (one second by default in production). onExpire is invoked for every
// intent the sweep drops; it must not block long.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration, onExpire ExpireFunc) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				for _, intent := range r.sweep(ctx, now) {
					if onExpire != nil {
						onExpire(ctx, intent)
					}
				}
			}
		}
	}()
}
