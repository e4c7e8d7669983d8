package account

import (
	"context"
	"testing"

	"trading-core/pkg/money"
)

func mustParse(t *testing.T, s string) money.Scalar {
	t.Helper()
	v, err := money.Parse(s, money.CashPlaces)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func TestAddCashRejectsOverdraft(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	if _, err := s.AddCash(ctx, "u1", mustParse(t, "100")); err != nil {
		t.Fatalf("add cash: %v", err)
	}

	res, err := s.AddCash(ctx, "u1", mustParse(t, "-200"))
	if err != nil {
		t.Fatalf("add cash: %v", err)
	}
	if res.Modified {
		t.Fatal("expected overdraft to be rejected")
	}

	acct, err := s.GetAccount(ctx, "u1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.CashBalance.String() != "100.00" {
		t.Fatalf("balance changed despite rejected overdraft: %s", acct.CashBalance)
	}
}

func TestIncHoldingRemovesZeroedSymbol(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	shares := mustParse(t, "10")
	if _, err := s.IncHolding(ctx, "u1", "ABC", shares); err != nil {
		t.Fatalf("inc holding: %v", err)
	}
	if _, err := s.IncHolding(ctx, "u1", "ABC", shares.Neg()); err != nil {
		t.Fatalf("dec holding: %v", err)
	}

	acct, _ := s.GetAccount(ctx, "u1")
	if _, ok := acct.Holdings["ABC"]; ok {
		t.Fatal("expected zeroed holding to be removed from the map")
	}
}

func TestSetBuyTriggerRequiresReserve(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	res, err := s.SetBuyTrigger(ctx, "u1", "ABC", mustParse(t, "10"))
	if err != nil {
		t.Fatalf("set buy trigger: %v", err)
	}
	if res.Matched {
		t.Fatal("expected no match without a prior SET_BUY_AMOUNT reserve")
	}

	if _, err := s.IncReserveBuy(ctx, "u1", "ABC", mustParse(t, "50")); err != nil {
		t.Fatalf("reserve buy: %v", err)
	}
	res, err = s.SetBuyTrigger(ctx, "u1", "ABC", mustParse(t, "10"))
	if err != nil {
		t.Fatalf("set buy trigger: %v", err)
	}
	if !res.Matched || !res.Modified {
		t.Fatal("expected trigger to arm once the reserve exists")
	}
}

func TestUnsetSellTriggerReportsArmedState(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	if _, err := s.IncReserveSell(ctx, "u1", "XYZ", mustParse(t, "5")); err != nil {
		t.Fatalf("reserve sell: %v", err)
	}
	if _, err := s.SetSellHalfArmed(ctx, "u1", "XYZ"); err != nil {
		t.Fatalf("half arm: %v", err)
	}

	shares, wasArmed, res, err := s.UnsetSellTrigger(ctx, "u1", "XYZ")
	if err != nil {
		t.Fatalf("unset sell trigger: %v", err)
	}
	if !res.Matched {
		t.Fatal("expected the reservation to match")
	}
	if wasArmed {
		t.Fatal("half-armed reservation should report wasArmed=false")
	}
	if shares.String() != "5.00" {
		t.Fatalf("shares = %s, want 5.00", shares)
	}
}
