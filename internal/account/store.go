package account

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"trading-core/pkg/db"
	"trading-core/pkg/money"
)

// Store is the process-wide ledger. Every field mutation locks only the
// one account it touches, so independent users never contend and the
// Trigger Loop can run concurrently with the Dispatcher.
type Store struct {
	database *db.Database

	mu       sync.RWMutex
	accounts map[string]*Account
	locks    map[string]*sync.Mutex
}

// New creates a Store backed by database. database may be nil for tests
// that only need the in-memory behavior.
func New(database *db.Database) *Store {
	return &Store{
		database: database,
		accounts: make(map[string]*Account),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(userID string) *sync.Mutex {
	s.mu.RLock()
	l, ok := s.locks[userID]
	s.mu.RUnlock()
	if ok {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[userID]; ok {
		return l
	}
	l = &sync.Mutex{}
	s.locks[userID] = l
	return l
}

// load fetches (or lazily creates) the cached Account for userID. Caller
// must hold lockFor(userID).
func (s *Store) load(ctx context.Context, userID string) (*Account, error) {
	s.mu.RLock()
	a, ok := s.accounts[userID]
	s.mu.RUnlock()
	if ok {
		return a, nil
	}

	a = newAccount(userID)
	if s.database != nil {
		row, err := s.database.GetAccount(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("account: load %s: %w", userID, err)
		}
		if row != nil {
			a.CashBalance = row.CashBalance
		}
		if err := s.hydrate(ctx, a); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.accounts[userID] = a
	s.mu.Unlock()
	return a, nil
}

func (s *Store) hydrate(ctx context.Context, a *Account) error {
	holdings, err := s.database.ListHoldings(ctx, a.UserID)
	if err != nil {
		return fmt.Errorf("account: hydrate holdings: %w", err)
	}
	for _, h := range holdings {
		a.Holdings[h.Symbol] = h.Shares
	}
	return nil
}

// GetAccount returns a value-copy snapshot, safe for the caller to read
// without further locking (e.g. DISPLAY_SUMMARY).
func (s *Store) GetAccount(ctx context.Context, userID string) (Account, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	a, err := s.load(ctx, userID)
	if err != nil {
		return Account{}, err
	}
	return a.snapshot(), nil
}

// AddCash applies delta (positive or negative) to cashBalance. Returns
// Modified=false without error when delta is negative and would drive the
// balance below zero — callers treat that as insufficient funds.
func (s *Store) AddCash(ctx context.Context, userID string, delta money.Scalar) (Result, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	a, err := s.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	next := a.CashBalance.Add(delta)
	if next.IsNegative() {
		return Result{Matched: true, Modified: false}, nil
	}
	a.CashBalance = next
	if err := s.persistAccount(ctx, a); err != nil {
		return Result{}, err
	}
	return Result{Matched: true, Modified: true}, nil
}

// IncHolding adjusts shares held in symbol by delta (signed). Shares never
// go negative; an attempt that would is rejected with Modified=false.
func (s *Store) IncHolding(ctx context.Context, userID, symbol string, delta money.Scalar) (Result, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	a, err := s.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	next := a.Holdings[symbol].Add(delta)
	if next.IsNegative() {
		return Result{Matched: true, Modified: false}, nil
	}
	if next.IsZero() {
		delete(a.Holdings, symbol)
	} else {
		a.Holdings[symbol] = next
	}
	if s.database != nil {
		if err := s.database.UpsertHolding(ctx, db.Holding{UserID: userID, Symbol: symbol, Shares: next}); err != nil {
			return Result{}, fmt.Errorf("account: persist holding: %w", err)
		}
	}
	return Result{Matched: true, Modified: true}, nil
}

// IncReserveBuy adjusts cash reserved by SET_BUY_AMOUNT for symbol.
func (s *Store) IncReserveBuy(ctx context.Context, userID, symbol string, delta money.Scalar) (Result, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	a, err := s.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	next := a.ReserveBuy[symbol].Add(delta)
	if next.IsNegative() {
		return Result{Matched: true, Modified: false}, nil
	}
	if next.IsZero() {
		delete(a.ReserveBuy, symbol)
	} else {
		a.ReserveBuy[symbol] = next
	}
	if s.database != nil {
		if err := s.database.UpsertReserveBuy(ctx, db.ReserveBuy{UserID: userID, Symbol: symbol, Amount: next}); err != nil {
			return Result{}, fmt.Errorf("account: persist reserve_buy: %w", err)
		}
	}
	return Result{Matched: true, Modified: true}, nil
}

// UnsetReserveBuy clears symbol's reserved cash entirely, returning the
// amount that had been reserved so the caller can refund it to cashBalance.
func (s *Store) UnsetReserveBuy(ctx context.Context, userID, symbol string) (money.Scalar, Result, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	a, err := s.load(ctx, userID)
	if err != nil {
		return money.Zero, Result{}, err
	}
	amount, ok := a.ReserveBuy[symbol]
	if !ok {
		return money.Zero, Result{Matched: false}, nil
	}
	delete(a.ReserveBuy, symbol)
	delete(a.BuyTriggers, symbol)
	if s.database != nil {
		if err := s.database.UpsertReserveBuy(ctx, db.ReserveBuy{UserID: userID, Symbol: symbol, Amount: money.Zero}); err != nil {
			return money.Zero, Result{}, fmt.Errorf("account: clear reserve_buy: %w", err)
		}
		if err := s.database.DeleteBuyTrigger(ctx, userID, symbol); err != nil {
			return money.Zero, Result{}, fmt.Errorf("account: clear buy_trigger: %w", err)
		}
	}
	return amount, Result{Matched: true, Modified: true}, nil
}

// SetBuyTrigger arms (or re-arms) the BUY trigger price for symbol. The
// reserve must already exist (SET_BUY_AMOUNT runs first); callers validate
// that before calling this.
func (s *Store) SetBuyTrigger(ctx context.Context, userID, symbol string, price money.Scalar) (Result, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	a, err := s.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if _, ok := a.ReserveBuy[symbol]; !ok {
		return Result{Matched: false}, nil
	}
	a.BuyTriggers[symbol] = price
	if s.database != nil {
		if err := s.database.UpsertBuyTrigger(ctx, db.BuyTrigger{UserID: userID, Symbol: symbol, ArmedPrice: price}); err != nil {
			return Result{}, fmt.Errorf("account: persist buy_trigger: %w", err)
		}
	}
	return Result{Matched: true, Modified: true}, nil
}

// IncReserveSell adjusts shares reserved by SET_SELL_AMOUNT. It does not
// touch holdings; the shares leave holdings when SET_SELL_TRIGGER first arms.
func (s *Store) IncReserveSell(ctx context.Context, userID, symbol string, delta money.Scalar) (Result, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	a, err := s.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	next := a.ReserveSell[symbol].Add(delta)
	if next.IsNegative() {
		return Result{Matched: true, Modified: false}, nil
	}
	if next.IsZero() {
		delete(a.ReserveSell, symbol)
	} else {
		a.ReserveSell[symbol] = next
	}
	if s.database != nil {
		if err := s.database.UpsertReserveSell(ctx, db.ReserveSell{UserID: userID, Symbol: symbol, Shares: next}); err != nil {
			return Result{}, fmt.Errorf("account: persist reserve_sell: %w", err)
		}
	}
	return Result{Matched: true, Modified: true}, nil
}

// SetSellHalfArmed records that SET_SELL_AMOUNT has reserved shares for
// symbol without a price yet (Armed=false). SET_SELL_TRIGGER later moves
// this to Armed=true via ArmSellTrigger.
func (s *Store) SetSellHalfArmed(ctx context.Context, userID, symbol string) (Result, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	a, err := s.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	a.SellTriggers[symbol] = SellTriggerState{Armed: false}
	if s.database != nil {
		if err := s.database.UpsertSellTrigger(ctx, db.SellTrigger{UserID: userID, Symbol: symbol, Armed: false}); err != nil {
			return Result{}, fmt.Errorf("account: persist sell_trigger: %w", err)
		}
	}
	return Result{Matched: true, Modified: true}, nil
}

// ArmSellTrigger sets (or replaces) the armed price for an existing SELL
// reservation. The reserve must already exist.
func (s *Store) ArmSellTrigger(ctx context.Context, userID, symbol string, price money.Scalar) (Result, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	a, err := s.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if _, ok := a.ReserveSell[symbol]; !ok {
		return Result{Matched: false}, nil
	}
	a.SellTriggers[symbol] = SellTriggerState{ArmedPrice: price, Armed: true}
	if s.database != nil {
		if err := s.database.UpsertSellTrigger(ctx, db.SellTrigger{
			UserID: userID, Symbol: symbol,
			ArmedPrice: nullableScalar(price), Armed: true,
		}); err != nil {
			return Result{}, fmt.Errorf("account: persist sell_trigger: %w", err)
		}
	}
	return Result{Matched: true, Modified: true}, nil
}

// UnsetSellTrigger clears symbol's SELL reservation entirely. It reports
// whether the trigger had reached Armed (fully armed) state, since a
// half-armed cancel must not credit shares back to holdings (none were
// ever removed from holdings at half-arm time).
func (s *Store) UnsetSellTrigger(ctx context.Context, userID, symbol string) (shares money.Scalar, wasArmed bool, res Result, err error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	a, loadErr := s.load(ctx, userID)
	if loadErr != nil {
		return money.Zero, false, Result{}, loadErr
	}
	reserved, ok := a.ReserveSell[symbol]
	if !ok {
		return money.Zero, false, Result{Matched: false}, nil
	}
	state := a.SellTriggers[symbol]
	delete(a.ReserveSell, symbol)
	delete(a.SellTriggers, symbol)
	if s.database != nil {
		if dbErr := s.database.UpsertReserveSell(ctx, db.ReserveSell{UserID: userID, Symbol: symbol, Shares: money.Zero}); dbErr != nil {
			return money.Zero, false, Result{}, fmt.Errorf("account: clear reserve_sell: %w", dbErr)
		}
		if dbErr := s.database.DeleteSellTrigger(ctx, userID, symbol); dbErr != nil {
			return money.Zero, false, Result{}, fmt.Errorf("account: clear sell_trigger: %w", dbErr)
		}
	}
	return reserved, state.Armed, Result{Matched: true, Modified: true}, nil
}

// AppendTransaction records a committed trade and persists it.
func (s *Store) AppendTransaction(ctx context.Context, tx db.Transaction) error {
	if s.database == nil {
		return nil
	}
	if err := s.database.CreateTransaction(ctx, tx); err != nil {
		return fmt.Errorf("account: append transaction: %w", err)
	}
	return nil
}

// ListTransactions returns a user's committed trades, most recent first.
func (s *Store) ListTransactions(ctx context.Context, userID string) ([]db.Transaction, error) {
	if s.database == nil {
		return nil, nil
	}
	txs, err := s.database.ListTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("account: list transactions: %w", err)
	}
	return txs, nil
}

func (s *Store) persistAccount(ctx context.Context, a *Account) error {
	if s.database == nil {
		return nil
	}
	if err := s.database.UpsertAccount(ctx, db.Account{UserID: a.UserID, CashBalance: a.CashBalance}); err != nil {
		return fmt.Errorf("account: persist: %w", err)
	}
	return nil
}

func nullableScalar(s money.Scalar) sql.NullString {
	return sql.NullString{String: s.String(), Valid: true}
}
