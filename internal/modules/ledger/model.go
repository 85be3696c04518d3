// README: Financial breakdown value objects for order settlement.
package ledger

// Epsilon is the tolerance used when comparing monetary amounts.
const Epsilon = 0.01

// Inputs are the fee-configuration parameters a breakdown is computed from.
type Inputs struct {
	Subtotal       float64
	DeliveryFee    float64
	ServiceFee     float64
	Discount       float64
	TaxRate        float64 // percent, applied after discount
	CommissionRate float64 // percent of subtotal
	DriverPayout   float64
}

// Breakdown is the balanced monetary split attached to an order.
// Total is what the customer pays; RestaurantPayout, DriverPayout and
// PlatformProfit are how that amount is settled.
type Breakdown struct {
	Subtotal         float64 `json:"subtotal"`
	DeliveryFee      float64 `json:"delivery_fee"`
	ServiceFee       float64 `json:"service_fee"`
	Discount         float64 `json:"discount"`
	TaxRate          float64 `json:"tax_rate"`
	Tax              float64 `json:"tax"`
	Total            float64 `json:"total"`
	CommissionRate   float64 `json:"commission_rate"`
	Commission       float64 `json:"platform_commission"`
	RestaurantPayout float64 `json:"restaurant_payout"`
	DriverPayout     float64 `json:"driver_payout"`
	PlatformProfit   float64 `json:"platform_profit"`
}

// Item is a priced order line as seen by the calculator.
type Item struct {
	Name      string
	UnitPrice float64
	Quantity  int
}

// Subtotal returns the line total for the item.
func (i Item) Subtotal() float64 {
	return i.UnitPrice * float64(i.Quantity)
}

// Warning flags a fee-configuration problem that does not invalidate the
// breakdown but must be surfaced to the caller, never swallowed.
type Warning string

const (
	WarnNegativeProfit Warning = "negative_platform_profit"
	WarnImbalance      Warning = "breakdown_imbalance"
)
