package money

import "testing"

func TestParseAndString(t *testing.T) {
	s, err := Parse("12.3456", CashPlaces)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got, want := s.String(), "12.35"; got != want {
		t.Fatalf("String() = %s, want %s", got, want)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("not-a-number", CashPlaces); err == nil {
		t.Fatal("expected error for malformed input")
	}
}

func TestDivFloorComputesShares(t *testing.T) {
	dollars, _ := Parse("100", CashPlaces)
	price, _ := Parse("33.33", CashPlaces)

	shares := dollars.DivFloor(price, SharePlaces)
	cost := shares.Mul(price, CashPlaces)

	if !cost.LessOrEqual(dollars) {
		t.Fatalf("cost %s exceeds dollars %s", cost, dollars)
	}
	residual := dollars.Sub(cost)
	if residual.IsNegative() {
		t.Fatalf("residual went negative: %s", residual)
	}
}

func TestDivFloorByZero(t *testing.T) {
	ten, _ := Parse("10", CashPlaces)
	if got := ten.DivFloor(Zero, SharePlaces); !got.IsZero() {
		t.Fatalf("expected zero result dividing by zero, got %s", got)
	}
}

func TestNonNegativityComparisons(t *testing.T) {
	a := NewFromCents(500)
	b := NewFromCents(700)

	if !a.LessThan(b) {
		t.Fatal("500 should be less than 700")
	}
	if a.Sub(b).IsNegative() == false {
		t.Fatal("500-700 should be negative")
	}
	if !Zero.IsZero() {
		t.Fatal("Zero should report IsZero")
	}
}

func TestScanAndValueRoundTrip(t *testing.T) {
	var s Scalar
	if err := s.Scan("42.10"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	v, err := s.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v != "42.1" {
		t.Fatalf("Value() = %v, want 42.1", v)
	}
}
