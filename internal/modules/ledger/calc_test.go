// README: Ledger calculator tests (balance invariants + worked scenarios).
package ledger

import (
	"errors"
	"math"
	"testing"
)

func TestComputeWorkedScenario(t *testing.T) {
	b, warns := Compute(Inputs{
		Subtotal:       100,
		DeliveryFee:    25,
		ServiceFee:     5,
		Discount:       0,
		CommissionRate: 20,
		DriverPayout:   20,
	})
	if len(warns) != 0 {
		t.Fatalf("unexpected warnings: %v", warns)
	}
	if math.Abs(b.Total-130) >= Epsilon {
		t.Errorf("total = %.2f, want 130", b.Total)
	}
	if math.Abs(b.Commission-20) >= Epsilon {
		t.Errorf("commission = %.2f, want 20", b.Commission)
	}
	if math.Abs(b.RestaurantPayout-80) >= Epsilon {
		t.Errorf("restaurant payout = %.2f, want 80", b.RestaurantPayout)
	}
	if math.Abs(b.PlatformProfit-30) >= Epsilon {
		t.Errorf("platform profit = %.2f, want 30", b.PlatformProfit)
	}
	if !b.Balanced() {
		t.Error("breakdown not balanced")
	}
}

func TestComputeBalancedAcrossInputs(t *testing.T) {
	cases := []Inputs{
		{Subtotal: 100, DeliveryFee: 25, ServiceFee: 5, CommissionRate: 20, DriverPayout: 20},
		{Subtotal: 42.50, DeliveryFee: 10, ServiceFee: 2.5, Discount: 5, TaxRate: 8.25, CommissionRate: 15, DriverPayout: 8},
		{Subtotal: 9.99, DeliveryFee: 0, ServiceFee: 0, CommissionRate: 30, DriverPayout: 0},
		{Subtotal: 250, DeliveryFee: 12, ServiceFee: 3, Discount: 25, TaxRate: 10, CommissionRate: 18, DriverPayout: 11},
		{Subtotal: 60, DeliveryFee: 5, ServiceFee: 1, Discount: 60, TaxRate: 7, CommissionRate: 20, DriverPayout: 9},
	}
	for _, in := range cases {
		b, _ := Compute(in)
		if !b.Balanced() {
			t.Errorf("Compute(%+v) not balanced: total=%.2f payouts=%.2f",
				in, b.Total, b.RestaurantPayout+b.DriverPayout+b.PlatformProfit)
		}
	}
}

func TestComputeIdempotent(t *testing.T) {
	in := Inputs{Subtotal: 42.50, DeliveryFee: 10, ServiceFee: 2.5, Discount: 5, TaxRate: 8.25, CommissionRate: 15, DriverPayout: 8}
	a, _ := Compute(in)
	b, _ := Compute(in)
	if a != b {
		t.Fatalf("repeated compute differs:\n%+v\n%+v", a, b)
	}
}

func TestComputeNegativeProfitWarned(t *testing.T) {
	// Driver payout far above the delivery fee: the platform loses money,
	// which must be reported, not clamped.
	b, warns := Compute(Inputs{
		Subtotal:       20,
		DeliveryFee:    3,
		ServiceFee:     0,
		CommissionRate: 5,
		DriverPayout:   15,
	})
	if b.PlatformProfit >= 0 {
		t.Fatalf("expected negative profit, got %.2f", b.PlatformProfit)
	}
	if !hasWarning(warns, WarnNegativeProfit) {
		t.Fatalf("expected %s warning, got %v", WarnNegativeProfit, warns)
	}
	if !b.Balanced() {
		t.Error("negative-profit breakdown must still balance")
	}
}

func TestComputeTaxAfterDiscount(t *testing.T) {
	// 100 + 10 - 20 = 90 taxable, 10% tax = 9, total 99.
	b, _ := Compute(Inputs{
		Subtotal:       100,
		DeliveryFee:    10,
		Discount:       20,
		TaxRate:        10,
		CommissionRate: 20,
		DriverPayout:   10,
	})
	if math.Abs(b.Tax-9) >= Epsilon {
		t.Errorf("tax = %.2f, want 9 (discount before tax)", b.Tax)
	}
	if math.Abs(b.Total-99) >= Epsilon {
		t.Errorf("total = %.2f, want 99", b.Total)
	}
}

func TestValidateItems(t *testing.T) {
	items := []Item{
		{Name: "pad thai", UnitPrice: 12.50, Quantity: 2},
		{Name: "spring rolls", UnitPrice: 5, Quantity: 1},
	}
	if err := ValidateItems(items, 30); err != nil {
		t.Fatalf("valid items rejected: %v", err)
	}
	if err := ValidateItems(items, 31); !errors.Is(err, ErrItemMismatch) {
		t.Fatalf("expected ErrItemMismatch, got %v", err)
	}
	if err := ValidateItems(nil, 0); !errors.Is(err, ErrItemMismatch) {
		t.Fatalf("expected ErrItemMismatch for empty items, got %v", err)
	}
	bad := []Item{{Name: "soup", UnitPrice: 4, Quantity: 0}}
	if err := ValidateItems(bad, 0); !errors.Is(err, ErrItemMismatch) {
		t.Fatalf("expected ErrItemMismatch for zero quantity, got %v", err)
	}
}

func hasWarning(warns []Warning, w Warning) bool {
	for _, have := range warns {
		if have == w {
			return true
		}
	}
	return false
}
