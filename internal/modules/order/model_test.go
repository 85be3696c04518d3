// README: State machine and authorization table tests (no database).
package order

import (
	"testing"

	"dishpatch/internal/types"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		// happy-path forward transitions
		{StatusPending, StatusConfirmed, true},
		{StatusConfirmed, StatusPreparing, true},
		{StatusPreparing, StatusReady, true},
		{StatusReady, StatusDriverAssigned, true},
		{StatusDriverAssigned, StatusPickedUp, true},
		{StatusPickedUp, StatusOnTheWay, true},
		{StatusOnTheWay, StatusDelivered, true},
		{StatusDelivered, StatusCompleted, true},
		// cancel from every pre-delivery state
		{StatusPending, StatusCancelled, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusPreparing, StatusCancelled, true},
		{StatusReady, StatusCancelled, true},
		{StatusDriverAssigned, StatusCancelled, true},
		{StatusPickedUp, StatusCancelled, true},
		{StatusOnTheWay, StatusCancelled, true},
		// refund paths
		{StatusCancelled, StatusRefunded, true},
		{StatusPending, StatusRefunded, true},
		{StatusOnTheWay, StatusRefunded, true},
		// invalid: delivered and later cannot cancel
		{StatusDelivered, StatusCancelled, false},
		{StatusCompleted, StatusCancelled, false},
		// invalid: terminal states have no outgoing transitions
		{StatusCompleted, StatusPending, false},
		{StatusRefunded, StatusPending, false},
		{StatusRefunded, StatusCancelled, false},
		// invalid: skipping states
		{StatusPending, StatusPreparing, false},
		{StatusConfirmed, StatusReady, false},
		{StatusReady, StatusPickedUp, false},
		{StatusDriverAssigned, StatusDelivered, false},
		// invalid: moving backwards
		{StatusPreparing, StatusConfirmed, false},
		{StatusDelivered, StatusOnTheWay, false},
	}
	for _, tc := range cases {
		got := CanTransition(tc.from, tc.to)
		if got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusRefunded}
	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
	}
	nonTerminal := []Status{StatusPending, StatusOnTheWay, StatusDelivered, StatusCancelled}
	for _, s := range nonTerminal {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = true, want false", s)
		}
	}
}

func TestAuthorize(t *testing.T) {
	driverID := types.ID("d1")
	o := &Order{
		CustomerID:   "c1",
		RestaurantID: "r1",
		DriverID:     &driverID,
	}

	cases := []struct {
		name  string
		to    Status
		actor Actor
		want  bool
	}{
		{"restaurant confirms own order", StatusConfirmed, Actor{ID: "r1", Role: RoleRestaurant}, true},
		{"other restaurant cannot confirm", StatusConfirmed, Actor{ID: "r2", Role: RoleRestaurant}, false},
		{"customer cannot confirm", StatusConfirmed, Actor{ID: "c1", Role: RoleCustomer}, false},
		{"restaurant marks ready", StatusReady, Actor{ID: "r1", Role: RoleRestaurant}, true},
		{"system assigns driver", StatusDriverAssigned, Actor{Role: RoleSystem}, true},
		{"driver accepts assignment", StatusDriverAssigned, Actor{ID: "d1", Role: RoleDriver}, true},
		{"assigned driver picks up", StatusPickedUp, Actor{ID: "d1", Role: RoleDriver}, true},
		{"other driver cannot pick up", StatusPickedUp, Actor{ID: "d2", Role: RoleDriver}, false},
		{"assigned driver delivers", StatusDelivered, Actor{ID: "d1", Role: RoleDriver}, true},
		{"customer completes own order", StatusCompleted, Actor{ID: "c1", Role: RoleCustomer}, true},
		{"other customer cannot complete", StatusCompleted, Actor{ID: "c2", Role: RoleCustomer}, false},
		{"customer cancels own order", StatusCancelled, Actor{ID: "c1", Role: RoleCustomer}, true},
		{"restaurant cancels own order", StatusCancelled, Actor{ID: "r1", Role: RoleRestaurant}, true},
		{"driver cannot cancel", StatusCancelled, Actor{ID: "d1", Role: RoleDriver}, false},
		{"system refunds", StatusRefunded, Actor{Role: RoleSystem}, true},
		{"customer cannot refund", StatusRefunded, Actor{ID: "c1", Role: RoleCustomer}, false},
		{"admin does anything", StatusRefunded, Actor{ID: "a1", Role: RoleAdmin}, true},
	}
	for _, tc := range cases {
		if got := o.Authorize(tc.to, tc.actor); got != tc.want {
			t.Errorf("%s: Authorize(%s, %s/%s) = %v, want %v", tc.name, tc.to, tc.actor.Role, tc.actor.ID, got, tc.want)
		}
	}
}

func TestAuthorizeUnassignedDelivery(t *testing.T) {
	o := &Order{CustomerID: "c1", RestaurantID: "r1"}
	if o.Authorize(StatusPickedUp, Actor{ID: "d1", Role: RoleDriver}) {
		t.Fatal("driver must not work an order with no assignment")
	}
}

func TestSubstatusFor(t *testing.T) {
	cases := []struct {
		status Status
		want   Substatus
	}{
		{StatusDriverAssigned, SubstatusHeadingToPickup},
		{StatusPickedUp, SubstatusHeadingToCustomer},
		{StatusOnTheWay, SubstatusHeadingToCustomer},
		{StatusDelivered, SubstatusArrived},
		{StatusPending, SubstatusNone},
		{StatusCancelled, SubstatusNone},
	}
	for _, tc := range cases {
		if got := substatusFor(tc.status); got != tc.want {
			t.Errorf("substatusFor(%s) = %q, want %q", tc.status, got, tc.want)
		}
	}
}
