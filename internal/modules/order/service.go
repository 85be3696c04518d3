// README: Order service; validates and applies state transitions with conditional writes.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dishpatch/internal/modules/ledger"
	"dishpatch/internal/modules/notify"
	"dishpatch/internal/types"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrValidation        = errors.New("invalid order request")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnauthorized      = errors.New("actor not allowed to perform transition")
	ErrConflict          = errors.New("order state conflict")
)

// breadcrumbLimit bounds the driver trail kept per order.
const breadcrumbLimit = 50

// conflictRetries bounds the internal re-read/retry loop for operations
// whose intent is unambiguous regardless of the concurrent change.
const conflictRetries = 3

// Payments is the external payment collaborator. Charge gates the confirmed
// transition; Refund is requested on cancellation of a paid order.
type Payments interface {
	Charge(ctx context.Context, orderID types.ID, amount float64) error
	Refund(ctx context.Context, orderID types.ID, amount float64, reason string) error
}

// Notifier delivers events to driver/customer clients. Delivery is
// best-effort and must never block or fail a state transition.
type Notifier interface {
	Fire(ctx context.Context, recipientID types.ID, eventType string, payload map[string]any)
}

// Registry is the driver-side bookkeeping the order lifecycle drives.
type Registry interface {
	StartDelivery(ctx context.Context, driverID types.ID) error
	Release(ctx context.Context, driverID types.ID) error
	CompleteDelivery(ctx context.Context, driverID, orderID types.ID, payout float64) error
	AddRating(ctx context.Context, driverID types.ID, rating int) error
}

// Dispatcher receives dispatch requests when an order becomes ready with no
// driver. Requests are fire-and-forget.
type Dispatcher interface {
	Request(orderID types.ID)
}

// Fees is the platform fee configuration applied at checkout.
type Fees struct {
	DeliveryFee    float64
	ServiceFee     float64
	TaxRate        float64
	CommissionRate float64
	DriverPayout   float64
}

type Service struct {
	store    *Store
	payments Payments
	fees     Fees

	notify   Notifier
	registry Registry
	dispatch Dispatcher
}

func NewService(store *Store, payments Payments, fees Fees) *Service {
	return &Service{store: store, payments: payments, fees: fees}
}

// SetNotifier, SetRegistry and SetDispatcher wire the cross-module
// collaborators after construction (they depend on this service in turn).
func (s *Service) SetNotifier(n Notifier)   { s.notify = n }
func (s *Service) SetRegistry(r Registry)   { s.registry = r }
func (s *Service) SetDispatcher(d Dispatcher) { s.dispatch = d }

type ItemInput struct {
	MenuItemID types.ID
	Name       string
	UnitPrice  float64
	Quantity   int
}

type CreateCommand struct {
	CustomerID      types.ID
	RestaurantID    types.ID
	Items           []ItemInput
	DeliveryAddress string
	Dropoff         types.Point
	PaymentMethod   PaymentMethod
	Discount        float64
}

// Create validates the checkout request, computes the settlement breakdown
// and persists the pending order.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if cmd.CustomerID == "" || cmd.RestaurantID == "" || len(cmd.Items) == 0 {
		return nil, fmt.Errorf("%w: missing customer, restaurant or items", ErrValidation)
	}
	if cmd.PaymentMethod != PaymentCard && cmd.PaymentMethod != PaymentCash {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrValidation, cmd.PaymentMethod)
	}

	items := make([]Item, len(cmd.Items))
	lines := make([]ledger.Item, len(cmd.Items))
	var subtotal float64
	for i, in := range cmd.Items {
		line := ledger.Item{Name: in.Name, UnitPrice: in.UnitPrice, Quantity: in.Quantity}
		lines[i] = line
		items[i] = Item{
			MenuItemID: in.MenuItemID,
			Name:       in.Name,
			UnitPrice:  in.UnitPrice,
			Quantity:   in.Quantity,
			Subtotal:   line.Subtotal(),
		}
		subtotal += line.Subtotal()
	}
	if err := ledger.ValidateItems(lines, subtotal); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	pricing, warns := ledger.Compute(ledger.Inputs{
		Subtotal:       subtotal,
		DeliveryFee:    s.fees.DeliveryFee,
		ServiceFee:     s.fees.ServiceFee,
		Discount:       cmd.Discount,
		TaxRate:        s.fees.TaxRate,
		CommissionRate: s.fees.CommissionRate,
		DriverPayout:   s.fees.DriverPayout,
	})
	for _, w := range warns {
		slog.Warn("ledger warning on checkout", "warning", string(w), "restaurant_id", cmd.RestaurantID)
	}

	now := time.Now()
	o := &Order{
		ID:              types.NewID(),
		Number:          newOrderNumber(now),
		CustomerID:      cmd.CustomerID,
		RestaurantID:    cmd.RestaurantID,
		Status:          StatusPending,
		Items:           items,
		DeliveryAddress: cmd.DeliveryAddress,
		Dropoff:         cmd.Dropoff,
		Pricing:         pricing,
		PaymentMethod:   cmd.PaymentMethod,
		PaymentStatus:   PaymentUnpaid,
		CreatedAt:       now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}
	s.appendEvent(ctx, o.ID, StatusNone, StatusPending, Actor{ID: cmd.CustomerID, Role: RoleCustomer})
	return o, nil
}

// Confirm charges the customer (card orders) and moves pending → confirmed.
// The charge gates the transition: a failed charge leaves the order pending.
func (s *Service) Confirm(ctx context.Context, orderID types.ID, actor Actor) error {
	o, err := s.checkTransition(ctx, orderID, StatusConfirmed, actor)
	if err != nil {
		return err
	}

	paymentStatus := PaymentStatus("")
	if o.PaymentMethod == PaymentCard {
		if err := s.payments.Charge(ctx, o.ID, o.Pricing.Total); err != nil {
			return fmt.Errorf("charge failed: %w", err)
		}
		paymentStatus = PaymentPaid
	}

	ok, err := s.store.UpdateStatus(ctx, o.ID, StatusUpdate{
		From:          o.Status,
		To:            StatusConfirmed,
		Version:       o.StatusVersion,
		PaymentStatus: paymentStatus,
	})
	if err != nil {
		return err
	}
	if !ok {
		// Lost the race after a successful charge (e.g. concurrent cancel):
		// hand the money back rather than leaving it stranded.
		if paymentStatus == PaymentPaid {
			if rerr := s.payments.Refund(ctx, o.ID, o.Pricing.Total, "confirm_conflict"); rerr != nil {
				slog.Error("refund after lost confirm failed", "order_id", o.ID, "error", rerr)
			}
		}
		return ErrConflict
	}
	s.appendEvent(ctx, o.ID, o.Status, StatusConfirmed, actor)
	s.fire(ctx, o.CustomerID, notify.EventStatusChanged, statusPayload(o, StatusConfirmed))
	return nil
}

// StartPreparing moves confirmed → preparing.
func (s *Service) StartPreparing(ctx context.Context, orderID types.ID, actor Actor) error {
	return s.apply(ctx, orderID, StatusPreparing, actor, StatusUpdate{})
}

// MarkReady moves preparing → ready and requests dispatch when no driver is
// assigned yet.
func (s *Service) MarkReady(ctx context.Context, orderID types.ID, actor Actor) error {
	o, err := s.checkTransition(ctx, orderID, StatusReady, actor)
	if err != nil {
		return err
	}
	ok, err := s.store.UpdateStatus(ctx, o.ID, StatusUpdate{
		From:    o.Status,
		To:      StatusReady,
		Version: o.StatusVersion,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.appendEvent(ctx, o.ID, o.Status, StatusReady, actor)
	s.fire(ctx, o.CustomerID, notify.EventStatusChanged, statusPayload(o, StatusReady))
	if o.DriverID == nil && s.dispatch != nil {
		s.dispatch.Request(o.ID)
	}
	return nil
}

type AssignCommand struct {
	OrderID  types.ID
	DriverID types.ID
	Actor    Actor
}

// Assign conditionally attaches a driver to a ready order. The store
// predicate re-checks both status and the absence of a driver, so a
// concurrently cancelled or already-assigned order can never be taken.
func (s *Service) Assign(ctx context.Context, cmd AssignCommand) error {
	o, err := s.checkTransition(ctx, cmd.OrderID, StatusDriverAssigned, cmd.Actor)
	if err != nil {
		return err
	}
	if o.DriverID != nil {
		return ErrConflict
	}
	ok, err := s.store.UpdateStatus(ctx, o.ID, StatusUpdate{
		From:            o.Status,
		To:              StatusDriverAssigned,
		Version:         o.StatusVersion,
		DriverID:        &cmd.DriverID,
		RequireNoDriver: true,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.appendEvent(ctx, o.ID, o.Status, StatusDriverAssigned, cmd.Actor)
	return nil
}

// PickUp moves driver_assigned → picked_up and flips the driver to
// on-delivery.
func (s *Service) PickUp(ctx context.Context, orderID types.ID, actor Actor) error {
	o, err := s.checkTransition(ctx, orderID, StatusPickedUp, actor)
	if err != nil {
		return err
	}
	ok, err := s.store.UpdateStatus(ctx, o.ID, StatusUpdate{
		From:    o.Status,
		To:      StatusPickedUp,
		Version: o.StatusVersion,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.appendEvent(ctx, o.ID, o.Status, StatusPickedUp, actor)
	if s.registry != nil && o.DriverID != nil {
		if err := s.registry.StartDelivery(ctx, *o.DriverID); err != nil {
			slog.Warn("driver start-delivery bookkeeping failed", "driver_id", *o.DriverID, "error", err)
		}
	}
	s.fire(ctx, o.CustomerID, notify.EventStatusChanged, statusPayload(o, StatusPickedUp))
	return nil
}

// StartDelivery moves picked_up → on_the_way.
func (s *Service) StartDelivery(ctx context.Context, orderID types.ID, actor Actor) error {
	return s.apply(ctx, orderID, StatusOnTheWay, actor, StatusUpdate{})
}

// Deliver moves on_the_way → delivered, finalizes the pricing (no further
// recompute) and releases the driver with their payout.
func (s *Service) Deliver(ctx context.Context, orderID types.ID, actor Actor) error {
	o, err := s.checkTransition(ctx, orderID, StatusDelivered, actor)
	if err != nil {
		return err
	}
	ok, err := s.store.UpdateStatus(ctx, o.ID, StatusUpdate{
		From:            o.Status,
		To:              StatusDelivered,
		Version:         o.StatusVersion,
		FinalizePricing: true,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.appendEvent(ctx, o.ID, o.Status, StatusDelivered, actor)
	if s.registry != nil && o.DriverID != nil {
		if err := s.registry.CompleteDelivery(ctx, *o.DriverID, o.ID, o.Pricing.DriverPayout); err != nil {
			slog.Error("driver release after delivery failed", "driver_id", *o.DriverID, "order_id", o.ID, "error", err)
		}
	}
	s.fire(ctx, o.CustomerID, notify.EventStatusChanged, statusPayload(o, StatusDelivered))
	return nil
}

// Complete moves delivered → completed.
func (s *Service) Complete(ctx context.Context, orderID types.ID, actor Actor) error {
	return s.apply(ctx, orderID, StatusCompleted, actor, StatusUpdate{})
}

type CancelCommand struct {
	OrderID types.ID
	Actor   Actor
	Reason  string
}

// Cancel soft-cancels the order, releasing the driver if one was assigned
// and requesting a refund when payment had succeeded. Because cancellation
// is legal from every pre-delivery state, a lost conditional write is
// retried against the fresh state up to a small bound.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) error {
	var o *Order
	for attempt := 0; attempt < conflictRetries; attempt++ {
		var err error
		o, err = s.checkTransition(ctx, cmd.OrderID, StatusCancelled, cmd.Actor)
		if err != nil {
			return err
		}

		role := cmd.Actor.Role
		paymentStatus := PaymentStatus("")
		if o.PaymentStatus == PaymentPaid {
			paymentStatus = PaymentRefundPending
		}
		ok, err := s.store.UpdateStatus(ctx, o.ID, StatusUpdate{
			From:          o.Status,
			To:            StatusCancelled,
			Version:       o.StatusVersion,
			PaymentStatus: paymentStatus,
			CancelledBy:   &role,
			CancelReason:  &cmd.Reason,
		})
		if err != nil {
			return err
		}
		if ok {
			break
		}
		if attempt == conflictRetries-1 {
			return ErrConflict
		}
	}

	s.appendEvent(ctx, o.ID, o.Status, StatusCancelled, cmd.Actor)
	if s.registry != nil && o.DriverID != nil {
		if err := s.registry.Release(ctx, *o.DriverID); err != nil {
			slog.Error("driver release after cancel failed", "driver_id", *o.DriverID, "order_id", o.ID, "error", err)
		}
		s.fire(ctx, *o.DriverID, notify.EventOrderCancelled, map[string]any{"order_id": o.ID, "reason": cmd.Reason})
	}
	s.fire(ctx, o.CustomerID, notify.EventOrderCancelled, map[string]any{"order_id": o.ID, "reason": cmd.Reason})

	if o.PaymentStatus == PaymentPaid {
		s.fire(ctx, o.CustomerID, notify.EventRefundRequested, map[string]any{
			"order_id": o.ID, "amount": o.Pricing.Total, "reason": cmd.Reason,
		})
		if err := s.payments.Refund(ctx, o.ID, o.Pricing.Total, cmd.Reason); err != nil {
			// Stays refund_pending; an operator retries via Refund.
			slog.Error("refund request failed", "order_id", o.ID, "error", err)
			return nil
		}
		if err := s.Refund(ctx, o.ID, Actor{Role: RoleSystem}); err != nil {
			slog.Warn("refunded transition not applied", "order_id", o.ID, "error", err)
		}
	}
	return nil
}

// Refund marks the order refunded after the payment collaborator reports a
// successful refund.
func (s *Service) Refund(ctx context.Context, orderID types.ID, actor Actor) error {
	return s.apply(ctx, orderID, StatusRefunded, actor, StatusUpdate{
		PaymentStatus: PaymentRefunded,
	})
}

type RateCommand struct {
	OrderID types.ID
	Actor   Actor
	Rating  int
}

// Rate records the customer rating on a delivered order, once, and feeds
// the driver's aggregate.
func (s *Service) Rate(ctx context.Context, cmd RateCommand) error {
	if cmd.Rating < 1 || cmd.Rating > 5 {
		return fmt.Errorf("%w: rating out of range", ErrValidation)
	}
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return err
	}
	if cmd.Actor.Role != RoleAdmin && (cmd.Actor.Role != RoleCustomer || cmd.Actor.ID != o.CustomerID) {
		return ErrUnauthorized
	}
	ok, err := s.store.SetRating(ctx, o.ID, cmd.Rating)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: order not rateable", ErrValidation)
	}
	if s.registry != nil && o.DriverID != nil {
		if err := s.registry.AddRating(ctx, *o.DriverID, cmd.Rating); err != nil {
			slog.Warn("driver rating aggregate not updated", "driver_id", *o.DriverID, "error", err)
		}
	}
	return nil
}

// AppendBreadcrumb records one driver trail point for an in-delivery order.
func (s *Service) AppendBreadcrumb(ctx context.Context, orderID types.ID, p types.Point, recordedAt time.Time) error {
	return s.store.AppendBreadcrumb(ctx, orderID, p, recordedAt, breadcrumbLimit)
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Trail(ctx context.Context, id types.ID) ([]Breadcrumb, error) {
	return s.store.Breadcrumbs(ctx, id)
}

func (s *Service) List(ctx context.Context, q Query) ([]*Order, error) {
	return s.store.List(ctx, q)
}

func (s *Service) ListReadyUnassigned(ctx context.Context, limit int) ([]types.ID, error) {
	return s.store.ListReadyUnassigned(ctx, limit)
}

// checkTransition loads the order and validates both the transition table
// and the actor before any write is attempted.
func (s *Service) checkTransition(ctx context.Context, orderID types.ID, to Status, actor Actor) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, to) {
		return nil, ErrInvalidTransition
	}
	if !o.Authorize(to, actor) {
		return nil, ErrUnauthorized
	}
	return o, nil
}

// apply is the plain transition path: validate, conditional write, audit,
// notify. Operations with extra side effects inline this themselves.
func (s *Service) apply(ctx context.Context, orderID types.ID, to Status, actor Actor, u StatusUpdate) error {
	o, err := s.checkTransition(ctx, orderID, to, actor)
	if err != nil {
		return err
	}
	u.From = o.Status
	u.To = to
	u.Version = o.StatusVersion
	ok, err := s.store.UpdateStatus(ctx, o.ID, u)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.appendEvent(ctx, o.ID, o.Status, to, actor)
	s.fire(ctx, o.CustomerID, notify.EventStatusChanged, statusPayload(o, to))
	return nil
}

func (s *Service) appendEvent(ctx context.Context, orderID types.ID, from, to Status, actor Actor) {
	var actorID *types.ID
	if actor.ID != "" {
		actorID = &actor.ID
	}
	err := s.store.AppendEvent(ctx, &Event{
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		ActorRole:  actor.Role,
		ActorID:    actorID,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		slog.Warn("order event not recorded", "order_id", orderID, "to", to, "error", err)
	}
}

func (s *Service) fire(ctx context.Context, recipient types.ID, eventType string, payload map[string]any) {
	if s.notify == nil {
		return
	}
	s.notify.Fire(ctx, recipient, eventType, payload)
}

func statusPayload(o *Order, to Status) map[string]any {
	return map[string]any{"order_id": o.ID, "number": o.Number, "status": to}
}

func newOrderNumber(now time.Time) string {
	return fmt.Sprintf("DSH_%s_%s", now.UTC().Format("20060102"), string(types.NewID())[:6])
}
