// README: Driver registry model; availability states and the reservation invariant.
package driver

import (
	"time"

	"dishpatch/internal/types"
)

type Availability string

const (
	StatusOffline    Availability = "offline"
	StatusOnline     Availability = "online"
	StatusBusy       Availability = "busy"
	StatusOnDelivery Availability = "on_delivery"
	StatusBreak      Availability = "break"
)

// ValidAvailability reports whether s is one of the driver-settable states.
// busy/on_delivery are owned by the dispatch flow, not by the driver.
func ValidAvailability(s Availability) bool {
	switch s {
	case StatusOffline, StatusOnline, StatusBreak:
		return true
	}
	return false
}

// Driver holds a courier's availability and position. CurrentDelivery is
// non-nil exactly while the status is busy or on_delivery.
type Driver struct {
	ID                types.ID
	Status            Availability
	Position          *types.Point
	PositionUpdatedAt *time.Time
	CurrentDelivery   *types.ID

	CompletedDeliveries int
	TotalEarnings       float64
	RatingSum           int
	RatingCount         int
	Active              bool
	CreatedAt           time.Time
}

// Rating returns the driver's average rating, 0 when unrated.
func (d *Driver) Rating() float64 {
	if d.RatingCount == 0 {
		return 0
	}
	return float64(d.RatingSum) / float64(d.RatingCount)
}
