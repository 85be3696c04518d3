// README: Read-only restaurant lookup consumed by the dispatcher.
package restaurant

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dishpatch/internal/types"
)

var ErrNotFound = errors.New("restaurant not found")

// Info is the slice of a restaurant this core consumes: where to pick up
// and whether orders are being accepted. The rest of the restaurant record
// belongs to the wider platform.
type Info struct {
	ID      types.ID
	Name    string
	Address string
	Point   types.Point
	IsOpen  bool
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, id types.ID) (Info, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, address, lat, lng, is_open
		FROM restaurants
		WHERE id = $1`,
		string(id),
	)
	var r Info
	err := row.Scan(&r.ID, &r.Name, &r.Address, &r.Point.Lat, &r.Point.Lng, &r.IsOpen)
	if errors.Is(err, pgx.ErrNoRows) {
		return Info{}, ErrNotFound
	}
	if err != nil {
		return Info{}, err
	}
	return r, nil
}
