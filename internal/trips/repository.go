package trips

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ledger supplies completed trips exchanged between two parties. Trips already
// claimed by an existing settlement are excluded so the netting calculator
// never double-counts.
type Ledger interface {
	ListCompletedBetween(ctx context.Context, partyA, partyB int64, from, to time.Time) ([]Trip, error)
	// ClaimedCompletedBetween returns the ids of completed trips in the same
	// window that an existing settlement has already claimed.
	ClaimedCompletedBetween(ctx context.Context, partyA, partyB int64, from, to time.Time) ([]int64, error)
}

// Repository provides PostgreSQL backed read access to the trip ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Ledger = (*Repository)(nil)

// ListCompletedBetween returns completed, unclaimed trips between the two
// parties whose occurred_on falls within the inclusive range, ordered by date
// then id so previews are stable.
func (r *Repository) ListCompletedBetween(ctx context.Context, partyA, partyB int64, from, to time.Time) ([]Trip, error) {
	query := `
		SELECT id, owner_id, counterparty_id, direction, amount, occurred_on,
			material, origin, destination, status
		FROM trips
		WHERE status = $1
		  AND ((owner_id = $2 AND counterparty_id = $3) OR (owner_id = $3 AND counterparty_id = $2))
		  AND occurred_on >= $4 AND occurred_on <= $5
		  AND NOT EXISTS (SELECT 1 FROM settlement_trips st WHERE st.trip_id = trips.id)
		ORDER BY occurred_on, id`

	rows, err := r.pool.Query(ctx, query, StatusCompleted, partyA, partyB, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trip
	for rows.Next() {
		var t Trip
		if err := rows.Scan(
			&t.ID, &t.OwnerID, &t.CounterpartyID, &t.Direction, &t.Amount,
			&t.OccurredOn, &t.Material, &t.Origin, &t.Destination, &t.Status,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ClaimedCompletedBetween is the inverse of ListCompletedBetween's exclusion:
// completed trips in the window that already carry a settlement claim.
func (r *Repository) ClaimedCompletedBetween(ctx context.Context, partyA, partyB int64, from, to time.Time) ([]int64, error) {
	query := `
		SELECT id FROM trips
		WHERE status = $1
		  AND ((owner_id = $2 AND counterparty_id = $3) OR (owner_id = $3 AND counterparty_id = $2))
		  AND occurred_on >= $4 AND occurred_on <= $5
		  AND EXISTS (SELECT 1 FROM settlement_trips st WHERE st.trip_id = trips.id)
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, StatusCompleted, partyA, partyB, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetTrip fetches a single trip by id.
func (r *Repository) GetTrip(ctx context.Context, id int64) (Trip, error) {
	query := `
		SELECT id, owner_id, counterparty_id, direction, amount, occurred_on,
			material, origin, destination, status
		FROM trips WHERE id = $1`

	var t Trip
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.OwnerID, &t.CounterpartyID, &t.Direction, &t.Amount,
		&t.OccurredOn, &t.Material, &t.Origin, &t.Destination, &t.Status,
	)
	if err == pgx.ErrNoRows {
		return Trip{}, ErrNotFound
	}
	return t, err
}
