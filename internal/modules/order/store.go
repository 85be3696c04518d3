// README: Order store backed by PostgreSQL; every mutation is a conditional update.
package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dishpatch/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const orderColumns = `
	id, number, customer_id, restaurant_id, driver_id, status, status_version, substatus,
	delivery_address, dropoff_lat, dropoff_lng,
	subtotal, delivery_fee, service_fee, discount, tax_rate, tax, total,
	commission_rate, commission, restaurant_payout, driver_payout, platform_profit, pricing_finalized,
	payment_method, payment_status, rating, cancelled_by, cancel_reason,
	created_at, confirmed_at, preparing_at, ready_at, assigned_at,
	picked_up_at, delivered_at, completed_at, cancelled_at`

func (s *Store) Create(ctx context.Context, o *Order) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, number, customer_id, restaurant_id, status, status_version, substatus,
			delivery_address, dropoff_lat, dropoff_lng,
			subtotal, delivery_fee, service_fee, discount, tax_rate, tax, total,
			commission_rate, commission, restaurant_payout, driver_payout, platform_profit,
			payment_method, payment_status, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22,
			$23, $24, $25
		)`,
		string(o.ID), o.Number, string(o.CustomerID), string(o.RestaurantID),
		string(o.Status), o.StatusVersion, string(o.Substatus),
		o.DeliveryAddress, o.Dropoff.Lat, o.Dropoff.Lng,
		o.Pricing.Subtotal, o.Pricing.DeliveryFee, o.Pricing.ServiceFee, o.Pricing.Discount,
		o.Pricing.TaxRate, o.Pricing.Tax, o.Pricing.Total,
		o.Pricing.CommissionRate, o.Pricing.Commission, o.Pricing.RestaurantPayout,
		o.Pricing.DriverPayout, o.Pricing.PlatformProfit,
		string(o.PaymentMethod), string(o.PaymentStatus), o.CreatedAt,
	)
	if err != nil {
		return err
	}

	for i := range o.Items {
		it := &o.Items[i]
		err = tx.QueryRow(ctx, `
			INSERT INTO order_items (order_id, menu_item_id, name, unit_price, quantity, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			string(o.ID), string(it.MenuItemID), it.Name, it.UnitPrice, it.Quantity, it.Subtotal,
		).Scan(&it.ID)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = $1`, string(id))
	o, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// StatusUpdate describes one conditional status transition. The WHERE clause
// restates every precondition so a concurrent writer can never be
// overwritten blindly; RowsAffected tells the caller whether it won.
type StatusUpdate struct {
	From    Status
	To      Status
	Version int

	DriverID        *types.ID // set on assignment
	RequireNoDriver bool      // assignment guard: driver_id must still be NULL

	PaymentStatus   PaymentStatus // "" leaves it unchanged
	FinalizePricing bool
	CancelledBy     *Role
	CancelReason    *string
}

func (s *Store) UpdateStatus(ctx context.Context, id types.ID, u StatusUpdate) (bool, error) {
	var driverID *string
	if u.DriverID != nil {
		v := string(*u.DriverID)
		driverID = &v
	}
	var cancelledBy *string
	if u.CancelledBy != nil {
		v := string(*u.CancelledBy)
		cancelledBy = &v
	}

	// Each timestamp is stamped exactly once: a re-entered state never
	// overwrites the first stamp.
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    status_version = status_version + 1,
		    substatus = $2,
		    driver_id = COALESCE($3, driver_id),
		    payment_status = COALESCE(NULLIF($4, ''), payment_status),
		    pricing_finalized = pricing_finalized OR $5,
		    cancelled_by = COALESCE($6, cancelled_by),
		    cancel_reason = COALESCE($7, cancel_reason),
		    confirmed_at = CASE WHEN $1 = 'confirmed' AND confirmed_at IS NULL THEN NOW() ELSE confirmed_at END,
		    preparing_at = CASE WHEN $1 = 'preparing' AND preparing_at IS NULL THEN NOW() ELSE preparing_at END,
		    ready_at     = CASE WHEN $1 = 'ready' AND ready_at IS NULL THEN NOW() ELSE ready_at END,
		    assigned_at  = CASE WHEN $1 = 'driver_assigned' AND assigned_at IS NULL THEN NOW() ELSE assigned_at END,
		    picked_up_at = CASE WHEN $1 = 'picked_up' AND picked_up_at IS NULL THEN NOW() ELSE picked_up_at END,
		    delivered_at = CASE WHEN $1 = 'delivered' AND delivered_at IS NULL THEN NOW() ELSE delivered_at END,
		    completed_at = CASE WHEN $1 = 'completed' AND completed_at IS NULL THEN NOW() ELSE completed_at END,
		    cancelled_at = CASE WHEN $1 = 'cancelled' AND cancelled_at IS NULL THEN NOW() ELSE cancelled_at END
		WHERE id = $8
		  AND status = $9
		  AND status_version = $10
		  AND ($11 = false OR driver_id IS NULL)`,
		string(u.To),
		string(substatusFor(u.To)),
		driverID,
		string(u.PaymentStatus),
		u.FinalizePricing,
		cancelledBy,
		u.CancelReason,
		string(id),
		string(u.From),
		u.Version,
		u.RequireNoDriver,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetRating records the customer rating once, only on a delivered or
// completed order.
func (s *Store) SetRating(ctx context.Context, id types.ID, rating int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET rating = $1
		WHERE id = $2
		  AND rating IS NULL
		  AND status IN ('delivered', 'completed')`,
		rating, string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO order_status_events (order_id, from_status, to_status, actor_role, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.OrderID), string(e.FromStatus), string(e.ToStatus),
		string(e.ActorRole), idPtr(e.ActorID), e.CreatedAt,
	)
	return err
}

// AppendBreadcrumb appends one trail point and prunes the trail down to the
// most recent keep points.
func (s *Store) AppendBreadcrumb(ctx context.Context, orderID types.ID, p types.Point, recordedAt time.Time, keep int) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO order_breadcrumbs (order_id, lat, lng, recorded_at)
		VALUES ($1, $2, $3, $4)`,
		string(orderID), p.Lat, p.Lng, recordedAt,
	)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		DELETE FROM order_breadcrumbs
		WHERE order_id = $1
		  AND id NOT IN (
			SELECT id FROM order_breadcrumbs
			WHERE order_id = $1
			ORDER BY id DESC
			LIMIT $2
		  )`,
		string(orderID), keep,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Breadcrumbs(ctx context.Context, orderID types.ID) ([]Breadcrumb, error) {
	rows, err := s.db.Query(ctx, `
		SELECT lat, lng, recorded_at
		FROM order_breadcrumbs
		WHERE order_id = $1
		ORDER BY id ASC`,
		string(orderID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trail []Breadcrumb
	for rows.Next() {
		var b Breadcrumb
		if err := rows.Scan(&b.Point.Lat, &b.Point.Lng, &b.RecordedAt); err != nil {
			return nil, err
		}
		trail = append(trail, b)
	}
	return trail, rows.Err()
}

// Query filters for listing orders.
type Query struct {
	CustomerID   types.ID
	RestaurantID types.ID
	DriverID     types.ID
	Statuses     []Status
	Limit        uint64
	Offset       uint64
}

func (s *Store) List(ctx context.Context, q Query) ([]*Order, error) {
	b := sq.Select(
		"id", "number", "customer_id", "restaurant_id", "driver_id", "status", "status_version", "substatus",
		"delivery_address", "dropoff_lat", "dropoff_lng",
		"subtotal", "delivery_fee", "service_fee", "discount", "tax_rate", "tax", "total",
		"commission_rate", "commission", "restaurant_payout", "driver_payout", "platform_profit", "pricing_finalized",
		"payment_method", "payment_status", "rating", "cancelled_by", "cancel_reason",
		"created_at", "confirmed_at", "preparing_at", "ready_at", "assigned_at",
		"picked_up_at", "delivered_at", "completed_at", "cancelled_at",
	).
		From("orders").
		OrderBy("created_at DESC").
		PlaceholderFormat(sq.Dollar)

	if q.CustomerID != "" {
		b = b.Where(sq.Eq{"customer_id": string(q.CustomerID)})
	}
	if q.RestaurantID != "" {
		b = b.Where(sq.Eq{"restaurant_id": string(q.RestaurantID)})
	}
	if q.DriverID != "" {
		b = b.Where(sq.Eq{"driver_id": string(q.DriverID)})
	}
	if len(q.Statuses) > 0 {
		vals := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			vals[i] = string(st)
		}
		b = b.Where(sq.Eq{"status": vals})
	}
	if q.Limit > 0 {
		b = b.Limit(q.Limit)
	}
	if q.Offset > 0 {
		b = b.Offset(q.Offset)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, o := range orders {
		if err := s.loadItems(ctx, o); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// ListReadyUnassigned returns ready orders without a driver for the
// dispatch re-scan loop.
func (s *Store) ListReadyUnassigned(ctx context.Context, limit int) ([]types.ID, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM orders
		WHERE status = 'ready' AND driver_id IS NULL
		ORDER BY ready_at ASC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []types.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, types.ID(id))
	}
	return ids, rows.Err()
}

func (s *Store) loadItems(ctx context.Context, o *Order) error {
	rows, err := s.db.Query(ctx, `
		SELECT id, menu_item_id, name, unit_price, quantity, subtotal
		FROM order_items
		WHERE order_id = $1
		ORDER BY id ASC`,
		string(o.ID),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.MenuItemID, &it.Name, &it.UnitPrice, &it.Quantity, &it.Subtotal); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	var driverID, cancelledBy, cancelReason sql.NullString
	var rating sql.NullInt32
	var confirmedAt, preparingAt, readyAt, assignedAt sql.NullTime
	var pickedUpAt, deliveredAt, completedAt, cancelledAt sql.NullTime

	err := row.Scan(
		&o.ID, &o.Number, &o.CustomerID, &o.RestaurantID, &driverID, &o.Status, &o.StatusVersion, &o.Substatus,
		&o.DeliveryAddress, &o.Dropoff.Lat, &o.Dropoff.Lng,
		&o.Pricing.Subtotal, &o.Pricing.DeliveryFee, &o.Pricing.ServiceFee, &o.Pricing.Discount,
		&o.Pricing.TaxRate, &o.Pricing.Tax, &o.Pricing.Total,
		&o.Pricing.CommissionRate, &o.Pricing.Commission, &o.Pricing.RestaurantPayout,
		&o.Pricing.DriverPayout, &o.Pricing.PlatformProfit, &o.PricingFinalized,
		&o.PaymentMethod, &o.PaymentStatus, &rating, &cancelledBy, &cancelReason,
		&o.CreatedAt, &confirmedAt, &preparingAt, &readyAt, &assignedAt,
		&pickedUpAt, &deliveredAt, &completedAt, &cancelledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if driverID.Valid {
		d := types.ID(driverID.String)
		o.DriverID = &d
	}
	if rating.Valid {
		r := int(rating.Int32)
		o.Rating = &r
	}
	if cancelledBy.Valid {
		r := Role(cancelledBy.String)
		o.CancelledBy = &r
	}
	if cancelReason.Valid {
		o.CancelReason = &cancelReason.String
	}
	o.ConfirmedAt = timePtr(confirmedAt)
	o.PreparingAt = timePtr(preparingAt)
	o.ReadyAt = timePtr(readyAt)
	o.AssignedAt = timePtr(assignedAt)
	o.PickedUpAt = timePtr(pickedUpAt)
	o.DeliveredAt = timePtr(deliveredAt)
	o.CompletedAt = timePtr(completedAt)
	o.CancelledAt = timePtr(cancelledAt)
	return &o, nil
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
