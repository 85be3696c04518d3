// README: Order service tests (lifecycle flows + invalid requests), DB-backed.
package order

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dishpatch/internal/config"
	"dishpatch/internal/infra"
	"dishpatch/internal/modules/payment"
	"dishpatch/internal/types"
)

var testFees = Fees{
	DeliveryFee:    5,
	ServiceFee:     2,
	TaxRate:        10,
	CommissionRate: 20,
	DriverPayout:   6,
}

func TestOrderFlowHappyPath(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	o := mustCreateOrder(t, svc, "c_happy", PaymentCash)
	assertStatus(t, svc, o.ID, StatusPending)

	restaurant := Actor{ID: "r1", Role: RoleRestaurant}
	if err := svc.Confirm(ctx, o.ID, restaurant); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	assertStatus(t, svc, o.ID, StatusConfirmed)

	if err := svc.StartPreparing(ctx, o.ID, restaurant); err != nil {
		t.Fatalf("preparing: %v", err)
	}
	if err := svc.MarkReady(ctx, o.ID, restaurant); err != nil {
		t.Fatalf("ready: %v", err)
	}
	assertStatus(t, svc, o.ID, StatusReady)

	if err := svc.Assign(ctx, AssignCommand{OrderID: o.ID, DriverID: "d1", Actor: Actor{Role: RoleSystem}}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	assertStatus(t, svc, o.ID, StatusDriverAssigned)

	courier := Actor{ID: "d1", Role: RoleDriver}
	if err := svc.PickUp(ctx, o.ID, courier); err != nil {
		t.Fatalf("pickup: %v", err)
	}
	if err := svc.StartDelivery(ctx, o.ID, courier); err != nil {
		t.Fatalf("depart: %v", err)
	}
	assertStatus(t, svc, o.ID, StatusOnTheWay)

	if err := svc.Deliver(ctx, o.ID, courier); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := svc.Complete(ctx, o.ID, Actor{ID: "c_happy", Role: RoleCustomer}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if !got.PricingFinalized {
		t.Fatal("expected pricing finalized after delivery")
	}
	for name, ts := range map[string]*time.Time{
		"confirmed_at": got.ConfirmedAt,
		"ready_at":     got.ReadyAt,
		"assigned_at":  got.AssignedAt,
		"picked_up_at": got.PickedUpAt,
		"delivered_at": got.DeliveredAt,
		"completed_at": got.CompletedAt,
	} {
		if ts == nil {
			t.Errorf("expected %s to be stamped", name)
		}
	}
	if got.DriverID == nil || *got.DriverID != "d1" {
		t.Fatal("expected driver d1 on completed order")
	}
}

func TestCardOrderChargedOnConfirm(t *testing.T) {
	svc, gateway, _ := setupTestService(t)
	ctx := context.Background()

	o := mustCreateOrder(t, svc, "c_card", PaymentCard)
	if err := svc.Confirm(ctx, o.ID, Actor{ID: "r1", Role: RoleRestaurant}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	amount, ok := gateway.Charged(o.ID)
	if !ok {
		t.Fatal("expected a charge on confirm")
	}
	if amount != o.Pricing.Total {
		t.Fatalf("charged %v, want total %v", amount, o.Pricing.Total)
	}
	got, _ := svc.Get(ctx, o.ID)
	if got.PaymentStatus != PaymentPaid {
		t.Fatalf("expected paid, got %s", got.PaymentStatus)
	}
}

func TestCancelPaidOrderRefunds(t *testing.T) {
	svc, gateway, _ := setupTestService(t)
	ctx := context.Background()

	o := mustCreateOrder(t, svc, "c_refund", PaymentCard)
	restaurant := Actor{ID: "r1", Role: RoleRestaurant}
	if err := svc.Confirm(ctx, o.ID, restaurant); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := svc.Cancel(ctx, CancelCommand{
		OrderID: o.ID,
		Actor:   Actor{ID: "c_refund", Role: RoleCustomer},
		Reason:  "changed my mind",
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, err := svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusRefunded {
		t.Fatalf("expected refunded after paid cancel, got %s", got.Status)
	}
	if got.PaymentStatus != PaymentRefunded {
		t.Fatalf("expected payment refunded, got %s", got.PaymentStatus)
	}
	if got.CancelledBy == nil || *got.CancelledBy != RoleCustomer {
		t.Fatal("expected cancelled_by customer")
	}
	if _, ok := gateway.Refunded(o.ID); !ok {
		t.Fatal("expected a refund request")
	}
}

func TestCancelUnpaidOrderStaysCancelled(t *testing.T) {
	svc, gateway, _ := setupTestService(t)
	ctx := context.Background()

	o := mustCreateOrder(t, svc, "c_cash_cancel", PaymentCash)
	if err := svc.Cancel(ctx, CancelCommand{
		OrderID: o.ID,
		Actor:   Actor{ID: "c_cash_cancel", Role: RoleCustomer},
		Reason:  "user_cancel",
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	assertStatus(t, svc, o.ID, StatusCancelled)
	if _, ok := gateway.Refunded(o.ID); ok {
		t.Fatal("unpaid order must not be refunded")
	}
}

func TestOrderInvalidTransitions(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	o := mustCreateOrder(t, svc, "c_invalid", PaymentCash)
	restaurant := Actor{ID: "r1", Role: RoleRestaurant}

	if err := svc.MarkReady(ctx, o.ID, restaurant); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ready before preparing: expected ErrInvalidTransition, got %v", err)
	}
	if err := svc.Deliver(ctx, o.ID, Actor{ID: "d1", Role: RoleDriver}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("deliver from pending: expected ErrInvalidTransition, got %v", err)
	}
	if err := svc.Assign(ctx, AssignCommand{OrderID: o.ID, DriverID: "d1", Actor: Actor{Role: RoleSystem}}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("assign from pending: expected ErrInvalidTransition, got %v", err)
	}
}

func TestOrderUnauthorizedActors(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	o := mustCreateOrder(t, svc, "c_auth", PaymentCash)

	if err := svc.Confirm(ctx, o.ID, Actor{ID: "c_auth", Role: RoleCustomer}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("customer confirm: expected ErrUnauthorized, got %v", err)
	}
	if err := svc.Confirm(ctx, o.ID, Actor{ID: "r_other", Role: RoleRestaurant}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("foreign restaurant confirm: expected ErrUnauthorized, got %v", err)
	}
	if err := svc.Cancel(ctx, CancelCommand{OrderID: o.ID, Actor: Actor{ID: "c_other", Role: RoleCustomer}, Reason: "x"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("foreign customer cancel: expected ErrUnauthorized, got %v", err)
	}
}

func TestRateDeliveredOrderOnce(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	o := mustDeliverOrder(t, svc, "c_rate")
	customer := Actor{ID: "c_rate", Role: RoleCustomer}

	if err := svc.Rate(ctx, RateCommand{OrderID: o.ID, Actor: customer, Rating: 5}); err != nil {
		t.Fatalf("rate: %v", err)
	}
	if err := svc.Rate(ctx, RateCommand{OrderID: o.ID, Actor: customer, Rating: 1}); !errors.Is(err, ErrValidation) {
		t.Fatalf("second rate: expected ErrValidation, got %v", err)
	}

	got, _ := svc.Get(ctx, o.ID)
	if got.Rating == nil || *got.Rating != 5 {
		t.Fatal("expected first rating to stick")
	}
}

func TestRateRejectsOutOfRange(t *testing.T) {
	svc, _, _ := setupTestService(t)
	o := mustDeliverOrder(t, svc, "c_rate_range")
	err := svc.Rate(context.Background(), RateCommand{
		OrderID: o.ID,
		Actor:   Actor{ID: "c_rate_range", Role: RoleCustomer},
		Rating:  6,
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestBreadcrumbTrailBounded(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	o := mustCreateOrder(t, svc, "c_trail", PaymentCash)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < breadcrumbLimit+10; i++ {
		p := types.Point{Lat: 25.0 + float64(i)*0.001, Lng: 121.5}
		if err := svc.AppendBreadcrumb(ctx, o.ID, p, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("append breadcrumb %d: %v", i, err)
		}
	}

	trail, err := svc.Trail(ctx, o.ID)
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	if len(trail) != breadcrumbLimit {
		t.Fatalf("expected trail bounded at %d, got %d", breadcrumbLimit, len(trail))
	}
	// oldest surviving point is the 11th sample
	wantLat := 25.0 + 10*0.001
	if trail[0].Point.Lat != wantLat {
		t.Fatalf("expected oldest points pruned, first lat %v, want %v", trail[0].Point.Lat, wantLat)
	}
}

func TestListByCustomerAndStatus(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	a := mustCreateOrder(t, svc, "c_list", PaymentCash)
	mustCreateOrder(t, svc, "c_list", PaymentCash)
	mustCreateOrder(t, svc, "c_other_list", PaymentCash)

	if err := svc.Confirm(ctx, a.ID, Actor{ID: "r1", Role: RoleRestaurant}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	orders, err := svc.List(ctx, Query{CustomerID: "c_list"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders for customer, got %d", len(orders))
	}

	confirmed, err := svc.List(ctx, Query{CustomerID: "c_list", Statuses: []Status{StatusConfirmed}})
	if err != nil {
		t.Fatalf("list confirmed: %v", err)
	}
	if len(confirmed) != 1 || confirmed[0].ID != a.ID {
		t.Fatalf("expected only the confirmed order, got %d", len(confirmed))
	}
}

func TestCheckoutPricingBalances(t *testing.T) {
	svc, _, _ := setupTestService(t)

	o := mustCreateOrder(t, svc, "c_pricing", PaymentCash)
	b := o.Pricing
	if !b.Balanced() {
		t.Fatalf("checkout breakdown not balanced: %+v", b)
	}
	if o.Number == "" {
		t.Fatal("expected an order number")
	}
}

// --- helpers ---------------------------------------------------------------

func mustCreateOrder(t *testing.T, svc *Service, customerID types.ID, method PaymentMethod) *Order {
	t.Helper()
	o, err := svc.Create(context.Background(), CreateCommand{
		CustomerID:   customerID,
		RestaurantID: "r1",
		Items: []ItemInput{
			{MenuItemID: "m1", Name: "Beef Noodles", UnitPrice: 12.5, Quantity: 2},
			{MenuItemID: "m2", Name: "Iced Tea", UnitPrice: 2.5, Quantity: 1},
		},
		DeliveryAddress: "100 Main St",
		Dropoff:         types.Point{Lat: 25.0478, Lng: 121.5318},
		PaymentMethod:   method,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func mustDeliverOrder(t *testing.T, svc *Service, customerID types.ID) *Order {
	t.Helper()
	ctx := context.Background()
	o := mustCreateOrder(t, svc, customerID, PaymentCash)
	restaurant := Actor{ID: "r1", Role: RoleRestaurant}
	courier := Actor{ID: "d1", Role: RoleDriver}

	steps := []func() error{
		func() error { return svc.Confirm(ctx, o.ID, restaurant) },
		func() error { return svc.StartPreparing(ctx, o.ID, restaurant) },
		func() error { return svc.MarkReady(ctx, o.ID, restaurant) },
		func() error {
			return svc.Assign(ctx, AssignCommand{OrderID: o.ID, DriverID: "d1", Actor: Actor{Role: RoleSystem}})
		},
		func() error { return svc.PickUp(ctx, o.ID, courier) },
		func() error { return svc.StartDelivery(ctx, o.ID, courier) },
		func() error { return svc.Deliver(ctx, o.ID, courier) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("delivery step %d: %v", i, err)
		}
	}
	return o
}

func assertStatus(t *testing.T, svc *Service, orderID types.ID, want Status) {
	t.Helper()
	o, err := svc.Get(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != want {
		t.Fatalf("expected status %s, got %s", want, o.Status)
	}
}

func setupTestService(t *testing.T) (*Service, *payment.LocalGateway, *pgxpool.Pool) {
	t.Helper()
	db := setupTestDB(t)
	gateway := payment.NewLocalGateway()
	return NewService(NewStore(db), gateway, testFees), gateway, db
}

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("DISHPATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("DISHPATCH_TEST_DSN not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	db, err := infra.NewPool(ctx, config.DBConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)

	_, err = db.Exec(ctx, `TRUNCATE order_breadcrumbs, order_status_events, order_items, orders, drivers, restaurants`)
	if err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO restaurants (id, name, address, lat, lng, is_open)
		VALUES ('r1', 'Test Kitchen', '1 Kitchen Rd', 25.033, 121.565, true)`)
	if err != nil {
		t.Fatalf("seed restaurant: %v", err)
	}
	for _, id := range []string{"d1", "d2", "d3", "d4", "d5", "d6", "d7", "d8"} {
		_, err = db.Exec(ctx, `
			INSERT INTO drivers (id, status, active, created_at)
			VALUES ($1, 'online', true, NOW())`, id)
		if err != nil {
			t.Fatalf("seed driver %s: %v", id, err)
		}
	}
	return db
}
