// README: Driver registry service; availability, position feed and reservations.
package driver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dishpatch/internal/types"
)

var (
	ErrNotFound       = errors.New("driver not found")
	ErrBadStatus      = errors.New("invalid availability status")
	ErrActiveDelivery = errors.New("driver holds an active delivery")
	ErrNotReservable  = errors.New("driver not online or already reserved")
	ErrUnavailable    = errors.New("driver inactive or unavailable")
)

// Trail receives breadcrumb points for the order a driver is delivering.
type Trail interface {
	AppendBreadcrumb(ctx context.Context, orderID types.ID, p types.Point, recordedAt time.Time) error
}

type Service struct {
	store *Store
	trail Trail
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

// SetTrail wires the order-side breadcrumb sink (it depends on this service
// in turn, so it is attached after construction).
func (s *Service) SetTrail(t Trail) { s.trail = t }

// Register onboards a driver in the offline state.
func (s *Service) Register(ctx context.Context, id types.ID) error {
	if id == "" {
		return ErrBadStatus
	}
	return s.store.Register(ctx, id)
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Driver, error) {
	return s.store.Get(ctx, id)
}

// SetAvailability applies a driver-chosen state and keeps the geo index in
// step: online drivers with a known position are searchable, everyone else
// is not.
func (s *Service) SetAvailability(ctx context.Context, id types.ID, status Availability) error {
	if !ValidAvailability(status) {
		return ErrBadStatus
	}
	ok, err := s.store.SetAvailability(ctx, id, status)
	if err != nil {
		return err
	}
	if !ok {
		d, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if d.CurrentDelivery != nil {
			return ErrActiveDelivery
		}
		return ErrUnavailable
	}

	if status == StatusOnline {
		d, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if d.Position != nil {
			if err := s.store.GeoAdd(ctx, id, *d.Position); err != nil {
				slog.Warn("driver geo index not updated", "driver_id", id, "error", err)
			}
		}
		return nil
	}
	if err := s.store.GeoRemove(ctx, id); err != nil {
		slog.Warn("driver geo index not cleared", "driver_id", id, "error", err)
	}
	return nil
}

// UpdatePosition ingests one position sample. Samples older than the stored
// one are dropped (accepted=false) without error. While a delivery is held,
// the sample also extends the order's breadcrumb trail.
func (s *Service) UpdatePosition(ctx context.Context, id types.ID, p types.Point, ts time.Time) (bool, error) {
	accepted, err := s.store.UpdatePosition(ctx, id, p, ts)
	if err != nil {
		return false, err
	}
	if !accepted {
		return false, nil
	}

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return true, err
	}
	if d.Status == StatusOnline {
		if err := s.store.GeoAdd(ctx, id, p); err != nil {
			slog.Warn("driver geo index not updated", "driver_id", id, "error", err)
		}
	}
	if d.CurrentDelivery != nil && s.trail != nil {
		if err := s.trail.AppendBreadcrumb(ctx, *d.CurrentDelivery, p, ts); err != nil {
			slog.Warn("breadcrumb not recorded", "driver_id", id, "order_id", *d.CurrentDelivery, "error", err)
		}
	}
	return true, nil
}

// Reserve takes the driver for an order. It fails unless the driver is
// online with no delivery held; success removes them from the candidate
// pool.
func (s *Service) Reserve(ctx context.Context, id, orderID types.ID) error {
	ok, err := s.store.Reserve(ctx, id, orderID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotReservable
	}
	if err := s.store.GeoRemove(ctx, id); err != nil {
		slog.Warn("reserved driver not removed from geo index", "driver_id", id, "error", err)
	}
	return nil
}

// Release returns a reserved driver to the pool. With no delivery held it
// is a no-op.
func (s *Service) Release(ctx context.Context, id types.ID) error {
	ok, err := s.store.Release(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.Position != nil {
		if err := s.store.GeoAdd(ctx, id, *d.Position); err != nil {
			slog.Warn("released driver not re-indexed", "driver_id", id, "error", err)
		}
	}
	return nil
}

// StartDelivery marks the reserved driver as out delivering.
func (s *Service) StartDelivery(ctx context.Context, id types.ID) error {
	ok, err := s.store.StartDelivery(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotReservable
	}
	return nil
}

// CompleteDelivery settles the delivery: payout credited, counters bumped,
// driver back online and searchable.
func (s *Service) CompleteDelivery(ctx context.Context, id, orderID types.ID, payout float64) error {
	ok, err := s.store.CompleteDelivery(ctx, id, orderID, payout)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotReservable
	}
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.Position != nil {
		if err := s.store.GeoAdd(ctx, id, *d.Position); err != nil {
			slog.Warn("driver not re-indexed after delivery", "driver_id", id, "error", err)
		}
	}
	return nil
}

func (s *Service) AddRating(ctx context.Context, id types.ID, rating int) error {
	return s.store.AddRating(ctx, id, rating)
}

// Deactivate retires a driver; refused while a delivery is held.
func (s *Service) Deactivate(ctx context.Context, id types.ID) error {
	ok, err := s.store.Deactivate(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrActiveDelivery
	}
	if err := s.store.GeoRemove(ctx, id); err != nil {
		slog.Warn("deactivated driver not removed from geo index", "driver_id", id, "error", err)
	}
	return nil
}

// Nearby lists online candidates around a point, closest first, enriched
// with their registry rows for ranking and filtering.
type Candidate struct {
	ID         types.ID
	DistanceKm float64
	UpdatedAt  time.Time
}

func (s *Service) Nearby(ctx context.Context, center types.Point, radiusKm float64, limit int) ([]Candidate, error) {
	hits, err := s.store.Nearby(ctx, center, radiusKm, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	rows, err := s.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		d, ok := rows[h.ID]
		// The geo index can trail the registry; only online drivers with a
		// known position are real candidates.
		if !ok || !d.Active || d.Status != StatusOnline || d.PositionUpdatedAt == nil {
			continue
		}
		out = append(out, Candidate{ID: h.ID, DistanceKm: h.DistanceKm, UpdatedAt: *d.PositionUpdatedAt})
	}
	return out, nil
}
