// README: Ledger calculator; pure function from fee inputs to a balanced breakdown.
package ledger

import (
	"errors"
	"fmt"
	"math"
)

var ErrItemMismatch = errors.New("item totals do not match order subtotal")

// Compute turns fee inputs into a settlement breakdown. It is pure and
// idempotent: the same inputs always produce the same breakdown, and callers
// must re-invoke it (never patch fields by hand) whenever an input changes.
//
// The tax rule is fixed: discount applies before tax.
//
// Warnings report fee misconfiguration (negative platform profit) without
// clamping the result; the caller decides how to surface them.
func Compute(in Inputs) (Breakdown, []Warning) {
	b := Breakdown{
		Subtotal:       in.Subtotal,
		DeliveryFee:    in.DeliveryFee,
		ServiceFee:     in.ServiceFee,
		Discount:       in.Discount,
		TaxRate:        in.TaxRate,
		CommissionRate: in.CommissionRate,
		DriverPayout:   in.DriverPayout,
	}

	b.Total = in.Subtotal + in.DeliveryFee + in.ServiceFee - in.Discount
	if in.TaxRate > 0 {
		b.Tax = b.Total * in.TaxRate / 100
		b.Total += b.Tax
	}

	b.Commission = in.Subtotal * in.CommissionRate / 100
	b.RestaurantPayout = in.Subtotal - b.Commission
	b.PlatformProfit = b.Commission + in.ServiceFee + (in.DeliveryFee - in.DriverPayout)

	// Tax and discount land on the platform side of the split so that the
	// settlement sum always equals the customer total.
	b.PlatformProfit += b.Tax - in.Discount

	var warns []Warning
	if b.PlatformProfit < 0 {
		warns = append(warns, WarnNegativeProfit)
	}
	if !b.Balanced() {
		warns = append(warns, WarnImbalance)
	}
	return b, warns
}

// Balanced reports whether both settlement invariants hold within Epsilon:
// the customer total decomposes into its fee parts, and the same total is
// fully distributed between restaurant, driver and platform.
func (b Breakdown) Balanced() bool {
	customer := b.Subtotal + b.DeliveryFee + b.ServiceFee - b.Discount + b.Tax
	settlement := b.RestaurantPayout + b.DriverPayout + b.PlatformProfit
	return math.Abs(b.Total-customer) < Epsilon && math.Abs(b.Total-settlement) < Epsilon
}

// ValidateItems checks that the per-item line totals sum to the declared
// subtotal. A mismatch is a validation error on the request, not something
// to silently correct.
func ValidateItems(items []Item, subtotal float64) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: no items", ErrItemMismatch)
	}
	var sum float64
	for _, it := range items {
		if it.Quantity <= 0 || it.UnitPrice < 0 {
			return fmt.Errorf("%w: bad line %q", ErrItemMismatch, it.Name)
		}
		sum += it.Subtotal()
	}
	if math.Abs(sum-subtotal) >= Epsilon {
		return fmt.Errorf("%w: items sum %.2f, subtotal %.2f", ErrItemMismatch, sum, subtotal)
	}
	return nil
}
