// README: Dispatch matcher; finds nearby drivers and performs at-most-once assignment.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dishpatch/internal/config"
	"dishpatch/internal/modules/driver"
	"dishpatch/internal/modules/notify"
	"dishpatch/internal/modules/order"
	"dishpatch/internal/modules/restaurant"
	"dishpatch/internal/types"
)

// Orders is the slice of the order lifecycle the matcher drives.
type Orders interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	Assign(ctx context.Context, cmd order.AssignCommand) error
	ListReadyUnassigned(ctx context.Context, limit int) ([]types.ID, error)
}

// Drivers is the registry surface the matcher reserves against.
type Drivers interface {
	Nearby(ctx context.Context, center types.Point, radiusKm float64, limit int) ([]driver.Candidate, error)
	Reserve(ctx context.Context, id, orderID types.ID) error
	Release(ctx context.Context, id types.ID) error
}

// Restaurants locates the pickup point and gates on the open flag.
type Restaurants interface {
	Get(ctx context.Context, id types.ID) (restaurant.Info, error)
}

// ETA estimates travel time between two points; optional, best-effort.
type ETA interface {
	Estimate(ctx context.Context, from, to types.Point) (time.Duration, error)
}

// Notifier delivers assignment events; best-effort.
type Notifier interface {
	Fire(ctx context.Context, recipientID types.ID, eventType string, payload map[string]any)
}

type Service struct {
	orders      Orders
	drivers     Drivers
	restaurants Restaurants
	eta         ETA
	notify      Notifier
	cfg         config.DispatchConfig

	requests chan types.ID
}

func NewService(orders Orders, drivers Drivers, restaurants Restaurants, cfg config.DispatchConfig) *Service {
	return &Service{
		orders:      orders,
		drivers:     drivers,
		restaurants: restaurants,
		cfg:         cfg,
		requests:    make(chan types.ID, cfg.QueueSize),
	}
}

func (s *Service) SetETA(e ETA)           { s.eta = e }
func (s *Service) SetNotifier(n Notifier) { s.notify = n }

// Request enqueues an order for dispatch without blocking the caller. A
// full queue is not an error: the re-scan loop will pick the order up.
func (s *Service) Request(orderID types.ID) {
	select {
	case s.requests <- orderID:
	default:
		slog.Warn("dispatch queue full, deferring to re-scan", "order_id", orderID)
	}
}

// FindAndAssign matches a ready order to the nearest eligible driver.
//
// Assignment is at-most-once by construction: the candidate is first
// reserved with a conditional write on the driver row, then attached with a
// conditional write on the order row that re-checks status and the absence
// of a driver. Losing the driver race moves on to the next candidate;
// losing the order race rolls the reservation back and stops, because the
// order went to another matcher or was cancelled.
func (s *Service) FindAndAssign(ctx context.Context, orderID types.ID) (types.ID, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	if o.Status != order.StatusReady || o.DriverID != nil {
		return "", ErrOrderTaken
	}

	r, err := s.restaurants.Get(ctx, o.RestaurantID)
	if err != nil {
		return "", err
	}
	if !r.IsOpen {
		return "", ErrRestaurantClosed
	}

	cands, err := s.drivers.Nearby(ctx, r.Point, s.cfg.RadiusKm, s.cfg.CandidateLimit)
	if err != nil {
		return "", err
	}
	rank(cands)

	for _, c := range cands {
		if err := s.drivers.Reserve(ctx, c.ID, o.ID); err != nil {
			if errors.Is(err, driver.ErrNotReservable) {
				continue // lost this driver to another order
			}
			return "", err
		}

		err := s.orders.Assign(ctx, order.AssignCommand{
			OrderID:  o.ID,
			DriverID: c.ID,
			Actor:    order.Actor{Role: order.RoleSystem},
		})
		if err != nil {
			if rerr := s.drivers.Release(ctx, c.ID); rerr != nil {
				slog.Error("reservation rollback failed", "driver_id", c.ID, "order_id", o.ID, "error", rerr)
			}
			if errors.Is(err, order.ErrConflict) || errors.Is(err, order.ErrInvalidTransition) {
				// Order assigned elsewhere or cancelled mid-flight.
				return "", ErrOrderTaken
			}
			return "", err
		}

		slog.Info("order assigned", "order_id", o.ID, "driver_id", c.ID, "distance_km", c.DistanceKm)
		s.notifyAssigned(ctx, o, r, c)
		return c.ID, nil
	}

	return "", ErrNoDriverAvailable
}

// Accept is the driver-initiated path ("driver taps accept"). It shares the
// reserve-then-assign sequence with matcher-initiated dispatch, so both
// flows carry the same at-most-once guarantee.
func (s *Service) Accept(ctx context.Context, orderID, driverID types.ID) error {
	if err := s.drivers.Reserve(ctx, driverID, orderID); err != nil {
		return err
	}
	err := s.orders.Assign(ctx, order.AssignCommand{
		OrderID:  orderID,
		DriverID: driverID,
		Actor:    order.Actor{ID: driverID, Role: order.RoleDriver},
	})
	if err != nil {
		if rerr := s.drivers.Release(ctx, driverID); rerr != nil {
			slog.Error("reservation rollback failed", "driver_id", driverID, "order_id", orderID, "error", rerr)
		}
		return err
	}
	if o, gerr := s.orders.Get(ctx, orderID); gerr == nil {
		if r, rerr := s.restaurants.Get(ctx, o.RestaurantID); rerr == nil {
			s.notifyAssigned(ctx, o, r, driver.Candidate{ID: driverID})
		}
	}
	return nil
}

// RunWorker consumes dispatch requests emitted when orders become ready.
func (s *Service) RunWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case orderID := <-s.requests:
			s.dispatchOne(ctx, orderID)
		}
	}
}

// RunRescanner periodically sweeps ready unassigned orders, covering
// requests that were dropped and orders whose first dispatch found nobody.
func (s *Service) RunRescanner(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := s.orders.ListReadyUnassigned(ctx, s.cfg.RescanBatch)
			if err != nil {
				slog.Error("dispatch re-scan query failed", "error", err)
				continue
			}
			for _, id := range ids {
				s.dispatchOne(ctx, id)
			}
		}
	}
}

func (s *Service) dispatchOne(ctx context.Context, orderID types.ID) {
	_, err := s.FindAndAssign(ctx, orderID)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoDriverAvailable):
		slog.Info("no driver available, order stays ready", "order_id", orderID)
	case errors.Is(err, ErrOrderTaken), errors.Is(err, ErrRestaurantClosed):
		slog.Info("dispatch skipped", "order_id", orderID, "reason", err)
	default:
		slog.Error("dispatch attempt failed", "order_id", orderID, "error", err)
	}
}

func (s *Service) notifyAssigned(ctx context.Context, o *order.Order, r restaurant.Info, c driver.Candidate) {
	if s.notify == nil {
		return
	}
	driverPayload := map[string]any{
		"order_id":           o.ID,
		"number":             o.Number,
		"restaurant_name":    r.Name,
		"restaurant_address": r.Address,
		"pickup":             r.Point,
		"dropoff":            o.Dropoff,
	}
	if s.eta != nil {
		// Travel estimate is decoration on the notification, never a gate.
		etaCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if d, err := s.eta.Estimate(etaCtx, r.Point, o.Dropoff); err == nil {
			driverPayload["delivery_eta_seconds"] = int(d.Seconds())
		}
		cancel()
	}
	s.notify.Fire(ctx, c.ID, notify.EventDeliveryRequested, driverPayload)
	s.notify.Fire(ctx, o.CustomerID, notify.EventDriverAssigned, map[string]any{
		"order_id":  o.ID,
		"number":    o.Number,
		"driver_id": c.ID,
	})
}
