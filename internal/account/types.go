// Package account is the shared ledger of cash, holdings, and trigger
// reservations for every user. It is the single source of truth the
// Dispatcher and the Trigger Loop both mutate; every mutation method takes
// its own per-user lock so the two callers never tear each other's writes.
package account

import "trading-core/pkg/money"

// SellTriggerState is the armed/half-armed state of a SELL trigger.
// Armed=false means SET_SELL_AMOUNT has reserved shares but no price has
// been set yet (SET_SELL_TRIGGER has not run); Armed=true means the trigger
// is live and the Trigger Loop will fire it against ArmedPrice.
type SellTriggerState struct {
	ArmedPrice money.Scalar
	Armed      bool
}

// Account is the in-memory view of one user's ledger row.
type Account struct {
	UserID       string
	CashBalance  money.Scalar
	Holdings     map[string]money.Scalar
	ReserveBuy   map[string]money.Scalar
	BuyTriggers  map[string]money.Scalar
	ReserveSell  map[string]money.Scalar
	SellTriggers map[string]SellTriggerState
}

func newAccount(userID string) *Account {
	return &Account{
		UserID:       userID,
		CashBalance:  money.Zero,
		Holdings:     make(map[string]money.Scalar),
		ReserveBuy:   make(map[string]money.Scalar),
		BuyTriggers:  make(map[string]money.Scalar),
		ReserveSell:  make(map[string]money.Scalar),
		SellTriggers: make(map[string]SellTriggerState),
	}
}

// snapshot returns a value copy safe to hand to a caller outside the lock.
func (a *Account) snapshot() Account {
	out := Account{
		UserID:       a.UserID,
		CashBalance:  a.CashBalance,
		Holdings:     make(map[string]money.Scalar, len(a.Holdings)),
		ReserveBuy:   make(map[string]money.Scalar, len(a.ReserveBuy)),
		BuyTriggers:  make(map[string]money.Scalar, len(a.BuyTriggers)),
		ReserveSell:  make(map[string]money.Scalar, len(a.ReserveSell)),
		SellTriggers: make(map[string]SellTriggerState, len(a.SellTriggers)),
	}
	for k, v := range a.Holdings {
		out.Holdings[k] = v
	}
	for k, v := range a.ReserveBuy {
		out.ReserveBuy[k] = v
	}
	for k, v := range a.BuyTriggers {
		out.BuyTriggers[k] = v
	}
	for k, v := range a.ReserveSell {
		out.ReserveSell[k] = v
	}
	for k, v := range a.SellTriggers {
		out.SellTriggers[k] = v
	}
	return out
}

// Result mirrors a (matched, modified) update outcome: Matched reports
// whether the account/field existed, Modified whether the value actually
// changed (a rejected write, e.g. one that would drive cash or shares
// negative, matches without modifying).
type Result struct {
	Matched  bool
	Modified bool
}
