package trigger

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"net"
	"testing"
	"time"

	"trading-core/internal/account"
	"trading-core/internal/audit"
	"trading-core/internal/events"
	"trading-core/internal/quote"
	"trading-core/internal/seq"
	"trading-core/pkg/db"
	"trading-core/pkg/money"
)

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

func newTestLoop(t *testing.T, oraclePrice string, accounts *account.Store) *Loop {
	t.Helper()
	addr := startFakeOracle(t, oraclePrice)
	cfg := audit.DefaultConfig("test", time.Now())
	logger := audit.New(cfg, nil, nil)
	bus := events.NewBus()
	return New(nil, accounts, quote.NewClient(addr), logger, bus, &seq.Counter{}, time.Second)
}

func TestCheckBuyFiresWhenPriceAtOrBelowArmedCap(t *testing.T) {
	accounts := account.New(nil)
	ctx := context.Background()

	if _, err := accounts.IncReserveBuy(ctx, "u1", "ABC", mustParse(t, "50")); err != nil {
		t.Fatalf("reserve buy: %v", err)
	}

	l := newTestLoop(t, "10.00", accounts)
	trig := db.BuyTrigger{UserID: "u1", Symbol: "ABC", ArmedPrice: mustParse(t, "12.00")}
	l.checkBuy(ctx, trig, time.Now())

	acct, _ := accounts.GetAccount(ctx, "u1")
	if acct.Holdings["ABC"].String() != "5.00" {
		t.Fatalf("holdings = %s, want 5.00 (floor(50/10))", acct.Holdings["ABC"])
	}
	if acct.CashBalance.String() != "0.00" {
		t.Fatalf("residual not refunded: cash = %s", acct.CashBalance)
	}
}

// TestCheckBuyFiresWithResidualOnUnevenPrice reproduces a staged $500 BUY
// whose armed cap is 100.00 but the oracle returns 99.00 on fire: 500/99
// floors to 5 whole shares costing 495.00, leaving a 5.00 residual that
// must be refunded to cash rather than silently absorbed into a
// fractional share count.
func TestCheckBuyFiresWithResidualOnUnevenPrice(t *testing.T) {
	accounts := account.New(nil)
	ctx := context.Background()
	_, _ = accounts.IncReserveBuy(ctx, "u1", "ABC", mustParse(t, "500"))

	l := newTestLoop(t, "99.00", accounts)
	trig := db.BuyTrigger{UserID: "u1", Symbol: "ABC", ArmedPrice: mustParse(t, "100.00")}
	l.checkBuy(ctx, trig, time.Now())

	acct, _ := accounts.GetAccount(ctx, "u1")
	if acct.Holdings["ABC"].String() != "5.00" {
		t.Fatalf("holdings = %s, want 5.00 (floor(500/99), not a fractional share count)", acct.Holdings["ABC"])
	}
	if acct.CashBalance.String() != "5.00" {
		t.Fatalf("cash = %s, want 5.00 residual (500 - 5*99)", acct.CashBalance)
	}
}

func TestCheckBuyDoesNotFireWhenPriceAboveArmedCap(t *testing.T) {
	accounts := account.New(nil)
	ctx := context.Background()
	_, _ = accounts.IncReserveBuy(ctx, "u1", "ABC", mustParse(t, "50"))

	l := newTestLoop(t, "20.00", accounts)
	trig := db.BuyTrigger{UserID: "u1", Symbol: "ABC", ArmedPrice: mustParse(t, "12.00")}
	l.checkBuy(ctx, trig, time.Now())

	acct, _ := accounts.GetAccount(ctx, "u1")
	if _, ok := acct.Holdings["ABC"]; ok {
		t.Fatal("expected no fire: price above armed cap")
	}
}

func TestCheckSellFiresWhenPriceAtOrAboveArmedFloor(t *testing.T) {
	accounts := account.New(nil)
	ctx := context.Background()

	if _, err := accounts.IncReserveSell(ctx, "u1", "XYZ", mustParse(t, "5")); err != nil {
		t.Fatalf("reserve sell: %v", err)
	}
	if _, err := accounts.SetSellHalfArmed(ctx, "u1", "XYZ"); err != nil {
		t.Fatalf("half arm: %v", err)
	}
	if _, err := accounts.ArmSellTrigger(ctx, "u1", "XYZ", mustParse(t, "8.00")); err != nil {
		t.Fatalf("arm sell trigger: %v", err)
	}

	l := newTestLoop(t, "10.00", accounts)
	trig := db.SellTrigger{UserID: "u1", Symbol: "XYZ", ArmedPrice: sql.NullString{String: "8.00", Valid: true}, Armed: true}
	l.checkSell(ctx, trig, time.Now())

	acct, _ := accounts.GetAccount(ctx, "u1")
	if acct.CashBalance.String() != "50.00" {
		t.Fatalf("cash = %s, want 50.00 (5 shares * 10.00)", acct.CashBalance)
	}
}

func TestCheckSellIgnoresHalfArmedTriggers(t *testing.T) {
	accounts := account.New(nil)
	ctx := context.Background()
	_, _ = accounts.IncReserveSell(ctx, "u1", "XYZ", mustParse(t, "5"))
	_, _ = accounts.SetSellHalfArmed(ctx, "u1", "XYZ")

	l := newTestLoop(t, "10.00", accounts)
	trig := db.SellTrigger{UserID: "u1", Symbol: "XYZ", Armed: false}
	l.checkSell(ctx, trig, time.Now())

	acct, _ := accounts.GetAccount(ctx, "u1")
	if !acct.CashBalance.IsZero() {
		t.Fatalf("half-armed trigger should never fire, cash = %s", acct.CashBalance)
	}
}

func mustParse(t *testing.T, s string) money.Scalar {
	t.Helper()
	v, err := money.Parse(s, money.CashPlaces)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}
