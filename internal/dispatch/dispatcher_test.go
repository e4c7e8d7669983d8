package dispatch

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"trading-core/internal/account"
	"trading-core/internal/audit"
	"trading-core/internal/pending"
	"trading-core/internal/quote"
	"trading-core/internal/seq"
)

// startFakeOracle serves a fixed price for every quote request.
func startFakeOracle(t *testing.T, price string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				line, err := bufio.NewReader(conn).ReadString('\n')
				if err != nil {
					return
				}
				var symbol, username string
				fmt.Sscanf(line, "%s %s", &symbol, &username)
				fmt.Fprintf(conn, "%s,%s,%s,%d,key\n", price, symbol, username, time.Now().UnixMilli())
			}()
		}
	}()
	return ln.Addr().String()
}

func newTestDispatcher(t *testing.T, price string) *Dispatcher {
	t.Helper()
	d, _ := newTestDispatcherWithStore(t, price)
	return d
}

// newTestDispatcherWithStore also returns the backing account.Store, for
// tests that need to inspect holdings/reserves the dispatcher's Result
// fields don't expose.
func newTestDispatcherWithStore(t *testing.T, price string) (*Dispatcher, *account.Store) {
	t.Helper()
	addr := startFakeOracle(t, price)
	cfg := audit.DefaultConfig("test", time.Now())
	logger := audit.New(cfg, nil, nil)
	accounts := account.New(nil)
	// Deep enough that TestConcurrentCommandsForSameUserSerialize's 20
	// concurrent submits never hit the queue-full rejection.
	d := New(context.Background(), accounts, pending.New(nil), quote.NewClient(addr), logger, &seq.Counter{}, Config{QueueDepth: 32})
	return d, accounts
}

func TestAddCreditsCash(t *testing.T) {
	d := newTestDispatcher(t, "10.00")
	ctx := context.Background()

	res, err := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdAdd, Amount: "100"})
	if err != nil || !res.OK {
		t.Fatalf("add failed: res=%+v err=%v", res, err)
	}

	sum, err := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdDisplaySummary})
	if err != nil || !sum.OK {
		t.Fatalf("summary failed: res=%+v err=%v", sum, err)
	}
	if sum.Fields["cash"] != "100.00" {
		t.Fatalf("cash = %s, want 100.00", sum.Fields["cash"])
	}
}

func TestBuyCommitCreditsHoldingsAndDebitsCash(t *testing.T) {
	d, accounts := newTestDispatcherWithStore(t, "10.00")
	ctx := context.Background()

	if _, err := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdAdd, Amount: "100"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	buyRes, err := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdBuy, Symbol: "ABC", Amount: "55"})
	if err != nil || !buyRes.OK {
		t.Fatalf("buy failed: res=%+v err=%v", buyRes, err)
	}
	if buyRes.Fields["shares"] != "5.00" {
		t.Fatalf("shares = %s, want 5.00 (floor(55/10))", buyRes.Fields["shares"])
	}

	commitRes, err := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdCommitBuy})
	if err != nil || !commitRes.OK {
		t.Fatalf("commit buy failed: res=%+v err=%v", commitRes, err)
	}

	sum, _ := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdDisplaySummary})
	if sum.Fields["cash"] != "45.00" {
		t.Fatalf("cash after commit = %s, want 45.00", sum.Fields["cash"])
	}

	acct, _ := accounts.GetAccount(ctx, "u1")
	if acct.Holdings["ABC"].String() != "5.00" {
		t.Fatalf("holdings after commit = %s, want 5.00", acct.Holdings["ABC"])
	}
}

// TestBuyFloorsToWholeSharesOnUnevenPrice staffs $500 against a $99 price —
// 500/99 does not divide evenly, so this only passes if BUY floors to a
// whole share count (5) instead of a fractional one.
func TestBuyFloorsToWholeSharesOnUnevenPrice(t *testing.T) {
	d := newTestDispatcher(t, "99.00")
	ctx := context.Background()

	_, _ = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdAdd, Amount: "500"})

	buyRes, err := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdBuy, Symbol: "ABC", Amount: "500"})
	if err != nil || !buyRes.OK {
		t.Fatalf("buy failed: res=%+v err=%v", buyRes, err)
	}
	if buyRes.Fields["shares"] != "5.00" {
		t.Fatalf("shares = %s, want 5.00 (floor(500/99), not 5.05...)", buyRes.Fields["shares"])
	}

	if _, err := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdCommitBuy}); err != nil {
		t.Fatalf("commit buy: %v", err)
	}

	sum, _ := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdDisplaySummary})
	if sum.Fields["cash"] != "0.00" {
		t.Fatalf("cash after commit = %s, want 0.00 (full $500 debited, no residual refund at BUY time)", sum.Fields["cash"])
	}
}

func TestBuyRejectsInsufficientCash(t *testing.T) {
	d := newTestDispatcher(t, "10.00")
	ctx := context.Background()

	res, err := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdBuy, Symbol: "ABC", Amount: "55"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.OK {
		t.Fatal("expected precondition failure for a user with no cash")
	}
}

func TestCommitBuyWithoutStagedIntentFails(t *testing.T) {
	d := newTestDispatcher(t, "10.00")
	ctx := context.Background()

	res, err := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdCommitBuy})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.OK {
		t.Fatal("expected precondition failure committing with nothing staged")
	}
}

func TestSellRoundTrip(t *testing.T) {
	d := newTestDispatcher(t, "10.00")
	ctx := context.Background()

	_, _ = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdAdd, Amount: "100"})
	_, _ = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdBuy, Symbol: "ABC", Amount: "100"})
	_, _ = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdCommitBuy})

	sellRes, err := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdSell, Symbol: "ABC", Amount: "10"})
	if err != nil || !sellRes.OK {
		t.Fatalf("sell failed: res=%+v err=%v", sellRes, err)
	}

	commitRes, err := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdCommitSell})
	if err != nil || !commitRes.OK {
		t.Fatalf("commit sell failed: res=%+v err=%v", commitRes, err)
	}

	sum, _ := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdDisplaySummary})
	if sum.Fields["cash"] != "100.00" {
		t.Fatalf("cash after round trip = %s, want 100.00", sum.Fields["cash"])
	}
}

func TestSetBuyAmountAndTriggerThenCancelRefunds(t *testing.T) {
	d := newTestDispatcher(t, "10.00")
	ctx := context.Background()

	_, _ = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdAdd, Amount: "100"})

	res, err := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdSetBuyAmount, Symbol: "ABC", Amount: "40"})
	if err != nil || !res.OK {
		t.Fatalf("set buy amount failed: res=%+v err=%v", res, err)
	}

	sum, _ := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdDisplaySummary})
	if sum.Fields["cash"] != "60.00" {
		t.Fatalf("cash after reserve = %s, want 60.00", sum.Fields["cash"])
	}

	res, err = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdSetBuyTrigger, Symbol: "ABC", Amount: "8"})
	if err != nil || !res.OK {
		t.Fatalf("set buy trigger failed: res=%+v err=%v", res, err)
	}

	res, err = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdCancelSetBuy, Symbol: "ABC"})
	if err != nil || !res.OK {
		t.Fatalf("cancel set buy failed: res=%+v err=%v", res, err)
	}

	sum, _ = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdDisplaySummary})
	if sum.Fields["cash"] != "100.00" {
		t.Fatalf("cash after cancel = %s, want 100.00 (fully refunded)", sum.Fields["cash"])
	}
}

func TestSetSellTriggerRequiresSetSellAmountFirst(t *testing.T) {
	d := newTestDispatcher(t, "10.00")
	ctx := context.Background()

	res, err := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdSetSellTrigger, Symbol: "ABC", Amount: "12"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.OK {
		t.Fatal("expected precondition failure without a prior SET_SELL_AMOUNT")
	}
}

// TestSetSellAmountDoesNotMoveSharesUntilTrigger verifies shares stay in
// holdings across SET_SELL_AMOUNT (half-armed) and only leave holdings
// once SET_SELL_TRIGGER arms a price.
func TestSetSellAmountDoesNotMoveSharesUntilTrigger(t *testing.T) {
	d, accounts := newTestDispatcherWithStore(t, "10.00")
	ctx := context.Background()

	_, _ = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdAdd, Amount: "100"})
	_, _ = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdBuy, Symbol: "ABC", Amount: "100"})
	_, _ = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdCommitBuy})

	res, err := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdSetSellAmount, Symbol: "ABC", Amount: "10"})
	if err != nil || !res.OK {
		t.Fatalf("set sell amount failed: res=%+v err=%v", res, err)
	}

	acct, _ := accounts.GetAccount(ctx, "u1")
	if acct.Holdings["ABC"].String() != "10.00" {
		t.Fatalf("holdings after SET_SELL_AMOUNT = %s, want 10.00 (shares stay in holdings while half-armed)", acct.Holdings["ABC"])
	}

	res, err = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdSetSellTrigger, Symbol: "ABC", Amount: "12"})
	if err != nil || !res.OK {
		t.Fatalf("set sell trigger failed: res=%+v err=%v", res, err)
	}

	acct, _ = accounts.GetAccount(ctx, "u1")
	if acct.Holdings["ABC"].String() != "0.00" {
		t.Fatalf("holdings after SET_SELL_TRIGGER = %s, want 0.00 (shares moved into reserve)", acct.Holdings["ABC"])
	}
}

// TestCancelSetSellAfterHalfArmedDoesNotDoubleCreditHoldings verifies
// CANCEL_SET_SELL right after SET_SELL_AMOUNT (before SET_SELL_TRIGGER
// ever ran) leaves holdings unchanged, since nothing was ever removed.
func TestCancelSetSellAfterHalfArmedDoesNotDoubleCreditHoldings(t *testing.T) {
	d, accounts := newTestDispatcherWithStore(t, "10.00")
	ctx := context.Background()

	_, _ = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdAdd, Amount: "100"})
	_, _ = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdBuy, Symbol: "ABC", Amount: "100"})
	_, _ = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdCommitBuy})

	_, _ = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdSetSellAmount, Symbol: "ABC", Amount: "10"})

	res, err := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdCancelSetSell, Symbol: "ABC"})
	if err != nil || !res.OK {
		t.Fatalf("cancel set sell failed: res=%+v err=%v", res, err)
	}

	acct, _ := accounts.GetAccount(ctx, "u1")
	if acct.Holdings["ABC"].String() != "10.00" {
		t.Fatalf("holdings after cancel = %s, want 10.00 (no double credit)", acct.Holdings["ABC"])
	}
}

// TestCancelSetSellAfterFullyArmedReturnsSharesToHoldings verifies
// CANCEL_SET_SELL after SET_SELL_TRIGGER (shares already moved out of
// holdings) credits them back exactly once.
func TestCancelSetSellAfterFullyArmedReturnsSharesToHoldings(t *testing.T) {
	d, accounts := newTestDispatcherWithStore(t, "10.00")
	ctx := context.Background()

	_, _ = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdAdd, Amount: "100"})
	_, _ = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdBuy, Symbol: "ABC", Amount: "100"})
	_, _ = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdCommitBuy})

	_, _ = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdSetSellAmount, Symbol: "ABC", Amount: "10"})
	_, _ = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdSetSellTrigger, Symbol: "ABC", Amount: "12"})

	res, err := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdCancelSetSell, Symbol: "ABC"})
	if err != nil || !res.OK {
		t.Fatalf("cancel set sell failed: res=%+v err=%v", res, err)
	}

	acct, _ := accounts.GetAccount(ctx, "u1")
	if acct.Holdings["ABC"].String() != "10.00" {
		t.Fatalf("holdings after cancel = %s, want 10.00 (shares returned exactly once)", acct.Holdings["ABC"])
	}
}

func TestConcurrentCommandsForSameUserSerialize(t *testing.T) {
	d := newTestDispatcher(t, "10.00")
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func() {
			_, _ = d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdAdd, Amount: "1"})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}

	sum, _ := d.Submit(ctx, Command{UserID: "u1", Type: audit.CmdDisplaySummary})
	if sum.Fields["cash"] != "20.00" {
		t.Fatalf("cash after 20 concurrent adds = %s, want 20.00 (no lost updates)", sum.Fields["cash"])
	}
}
