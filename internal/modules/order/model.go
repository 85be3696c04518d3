// README: Order aggregate, status definitions and the transition/authorization tables.
package order

import (
	"time"

	"dishpatch/internal/modules/ledger"
	"dishpatch/internal/types"
)

type Status string

const (
	StatusNone           Status = "none"
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPreparing      Status = "preparing"
	StatusReady          Status = "ready"
	StatusDriverAssigned Status = "driver_assigned"
	StatusPickedUp       Status = "picked_up"
	StatusOnTheWay       Status = "on_the_way"
	StatusDelivered      Status = "delivered"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusRefunded       Status = "refunded"
)

// Substatus is the finer-grained driver progress shown to the customer
// while the order is out with a driver.
type Substatus string

const (
	SubstatusNone              Substatus = ""
	SubstatusHeadingToPickup   Substatus = "heading_to_restaurant"
	SubstatusHeadingToCustomer Substatus = "heading_to_customer"
	SubstatusArrived           Substatus = "arrived"
)

type PaymentMethod string

const (
	PaymentCard PaymentMethod = "card"
	PaymentCash PaymentMethod = "cash"
)

type PaymentStatus string

const (
	PaymentUnpaid        PaymentStatus = "unpaid"
	PaymentPaid          PaymentStatus = "paid"
	PaymentRefundPending PaymentStatus = "refund_pending"
	PaymentRefunded      PaymentStatus = "refunded"
)

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleRestaurant Role = "restaurant"
	RoleDriver     Role = "driver"
	RoleAdmin      Role = "admin"
	RoleSystem     Role = "system"
)

// Actor identifies who is attempting a transition. Identity is established
// by the platform gateway; this core only checks it against the order.
type Actor struct {
	ID   types.ID
	Role Role
}

type Item struct {
	ID         int64    `json:"id"`
	MenuItemID types.ID `json:"menu_item_id"`
	Name       string   `json:"name"`
	UnitPrice  float64  `json:"unit_price"`
	Quantity   int      `json:"quantity"`
	Subtotal   float64  `json:"subtotal"`
}

// Breadcrumb is one point of the driver's trail while delivering the order.
// The trail is bounded; older points are pruned.
type Breadcrumb struct {
	Point      types.Point `json:"point"`
	RecordedAt time.Time   `json:"recorded_at"`
}

type Order struct {
	ID            types.ID
	Number        string
	CustomerID    types.ID
	RestaurantID  types.ID
	DriverID      *types.ID
	Status        Status
	StatusVersion int
	Substatus     Substatus

	Items           []Item
	DeliveryAddress string
	Dropoff         types.Point

	Pricing          ledger.Breakdown
	PricingFinalized bool

	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus

	Rating       *int
	CancelledBy  *Role
	CancelReason *string

	CreatedAt   time.Time
	ConfirmedAt *time.Time
	PreparingAt *time.Time
	ReadyAt     *time.Time
	AssignedAt  *time.Time
	PickedUpAt  *time.Time
	DeliveredAt *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
}

// Event is one entry of the order's status audit trail.
type Event struct {
	ID         int64
	OrderID    types.ID
	FromStatus Status
	ToStatus   Status
	ActorRole  Role
	ActorID    *types.ID
	CreatedAt  time.Time
}

// AllowedTransitions represents the order state flow as code. Cancellation
// and refund are reachable from every pre-delivery state; preparation steps
// cannot be skipped.
var AllowedTransitions = map[Status][]Status{
	StatusPending:        {StatusConfirmed, StatusCancelled, StatusRefunded},
	StatusConfirmed:      {StatusPreparing, StatusCancelled, StatusRefunded},
	StatusPreparing:      {StatusReady, StatusCancelled, StatusRefunded},
	StatusReady:          {StatusDriverAssigned, StatusCancelled, StatusRefunded},
	StatusDriverAssigned: {StatusPickedUp, StatusCancelled, StatusRefunded},
	StatusPickedUp:       {StatusOnTheWay, StatusCancelled, StatusRefunded},
	StatusOnTheWay:       {StatusDelivered, StatusCancelled, StatusRefunded},
	StatusDelivered:      {StatusCompleted},
	StatusCancelled:      {StatusRefunded},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func IsTerminal(s Status) bool {
	return len(AllowedTransitions[s]) == 0
}

// Authorize checks that the actor may move the order into the target
// status: the owning restaurant works the kitchen states, the assigned
// driver works the delivery states, and either side (or an admin) may
// cancel pre-delivery.
func (o *Order) Authorize(to Status, actor Actor) bool {
	if actor.Role == RoleAdmin {
		return true
	}
	switch to {
	case StatusConfirmed, StatusPreparing, StatusReady:
		return actor.Role == RoleRestaurant && actor.ID == o.RestaurantID
	case StatusDriverAssigned:
		// Assignment always goes through the dispatcher's conditional path,
		// whether matcher-pushed or driver-accepted.
		return actor.Role == RoleSystem || actor.Role == RoleDriver
	case StatusPickedUp, StatusOnTheWay, StatusDelivered:
		return actor.Role == RoleDriver && o.DriverID != nil && actor.ID == *o.DriverID
	case StatusCompleted:
		return actor.Role == RoleSystem || (actor.Role == RoleCustomer && actor.ID == o.CustomerID)
	case StatusCancelled:
		return (actor.Role == RoleCustomer && actor.ID == o.CustomerID) ||
			(actor.Role == RoleRestaurant && actor.ID == o.RestaurantID)
	case StatusRefunded:
		return actor.Role == RoleSystem
	}
	return false
}

// substatusFor maps delivery-phase statuses to the customer-facing substatus.
func substatusFor(s Status) Substatus {
	switch s {
	case StatusDriverAssigned:
		return SubstatusHeadingToPickup
	case StatusPickedUp, StatusOnTheWay:
		return SubstatusHeadingToCustomer
	case StatusDelivered:
		return SubstatusArrived
	}
	return SubstatusNone
}
