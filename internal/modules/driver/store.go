// README: Driver store; PostgreSQL rows as source of truth, Redis GEO as the online index.
package driver

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"dishpatch/internal/types"
)

// onlineGeoKey indexes the positions of drivers currently accepting work.
// Entries may be momentarily stale; the reservation predicate in Postgres
// is what actually guards assignment.
const onlineGeoKey = "dispatch:drivers:online"

type Store struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewStore(db *pgxpool.Pool, redis *redis.Client) *Store {
	return &Store{db: db, redis: redis}
}

func (s *Store) Register(ctx context.Context, id types.ID) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO drivers (id, status, active, created_at)
		VALUES ($1, 'offline', true, NOW())
		ON CONFLICT (id) DO NOTHING`,
		string(id),
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, status, lat, lng, position_updated_at, current_delivery,
		       completed_deliveries, total_earnings, rating_sum, rating_count, active, created_at
		FROM drivers
		WHERE id = $1`,
		string(id),
	)
	return scanDriver(row)
}

func (s *Store) GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*Driver, error) {
	if len(ids) == 0 {
		return map[types.ID]*Driver{}, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, status, lat, lng, position_updated_at, current_delivery,
		       completed_deliveries, total_earnings, rating_sum, rating_count, active, created_at
		FROM drivers
		WHERE id = ANY($1)`,
		raw,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.ID]*Driver, len(ids))
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out[d.ID] = d
	}
	return out, rows.Err()
}

// SetAvailability applies a driver-chosen state. Leaving duty is refused
// while a delivery is held.
func (s *Store) SetAvailability(ctx context.Context, id types.ID, status Availability) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET status = $1
		WHERE id = $2
		  AND active
		  AND current_delivery IS NULL`,
		string(status), string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdatePosition applies a position sample only when it is newer than the
// stored one; out-of-order samples are dropped, not applied.
func (s *Store) UpdatePosition(ctx context.Context, id types.ID, p types.Point, ts time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET lat = $2, lng = $3, position_updated_at = $4
		WHERE id = $1
		  AND status <> 'offline'
		  AND (position_updated_at IS NULL OR position_updated_at < $4)`,
		string(id), p.Lat, p.Lng, ts,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Reserve atomically takes an online, unreserved driver for an order.
func (s *Store) Reserve(ctx context.Context, id, orderID types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET status = 'busy', current_delivery = $2
		WHERE id = $1
		  AND active
		  AND status = 'online'
		  AND current_delivery IS NULL`,
		string(id), string(orderID),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Release returns a reserved driver to the online pool. A driver with no
// current delivery is left untouched.
func (s *Store) Release(ctx context.Context, id types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET status = 'online', current_delivery = NULL
		WHERE id = $1
		  AND current_delivery IS NOT NULL`,
		string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// StartDelivery flips a reserved driver to on_delivery at pickup.
func (s *Store) StartDelivery(ctx context.Context, id types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET status = 'on_delivery'
		WHERE id = $1
		  AND status = 'busy'
		  AND current_delivery IS NOT NULL`,
		string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteDelivery settles the held delivery: clears it, credits the payout
// and returns the driver to the online pool.
func (s *Store) CompleteDelivery(ctx context.Context, id, orderID types.ID, payout float64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET status = 'online',
		    current_delivery = NULL,
		    completed_deliveries = completed_deliveries + 1,
		    total_earnings = total_earnings + $3
		WHERE id = $1
		  AND current_delivery = $2`,
		string(id), string(orderID), payout,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AddRating(ctx context.Context, id types.ID, rating int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET rating_sum = rating_sum + $2, rating_count = rating_count + 1
		WHERE id = $1`,
		string(id), rating,
	)
	return err
}

// Deactivate retires a driver. Rows are never deleted.
func (s *Store) Deactivate(ctx context.Context, id types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET active = false, status = 'offline'
		WHERE id = $1
		  AND current_delivery IS NULL`,
		string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// --- Redis GEO index -------------------------------------------------------

func (s *Store) GeoAdd(ctx context.Context, id types.ID, p types.Point) error {
	return s.redis.GeoAdd(ctx, onlineGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (s *Store) GeoRemove(ctx context.Context, id types.ID) error {
	return s.redis.ZRem(ctx, onlineGeoKey, string(id)).Err()
}

// GeoHit is one nearby-driver result, closest first.
type GeoHit struct {
	ID         types.ID
	DistanceKm float64
}

func (s *Store) Nearby(ctx context.Context, center types.Point, radiusKm float64, limit int) ([]GeoHit, error) {
	results, err := s.redis.GeoSearchLocation(ctx, onlineGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	hits := make([]GeoHit, len(results))
	for i, r := range results {
		hits[i] = GeoHit{ID: types.ID(r.Name), DistanceKm: r.Dist}
	}
	return hits, nil
}

func scanDriver(row pgx.Row) (*Driver, error) {
	var d Driver
	var lat, lng sql.NullFloat64
	var posAt sql.NullTime
	var delivery sql.NullString

	err := row.Scan(
		&d.ID, &d.Status, &lat, &lng, &posAt, &delivery,
		&d.CompletedDeliveries, &d.TotalEarnings, &d.RatingSum, &d.RatingCount, &d.Active, &d.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		d.Position = &types.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	if posAt.Valid {
		t := posAt.Time
		d.PositionUpdatedAt = &t
	}
	if delivery.Valid {
		id := types.ID(delivery.String)
		d.CurrentDelivery = &id
	}
	return &d, nil
}
