package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines settlement data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetSettlement(ctx context.Context, id int64) (*Settlement, error)
	ListSettlements(ctx context.Context, req ListRequest) ([]Settlement, error)
	ListByPartyWithPayments(ctx context.Context, party int64) ([]Settlement, error)
	GetPayment(ctx context.Context, id int64) (*Payment, error)
	PartyIDs(ctx context.Context) ([]int64, error)
}

// TxRepository defines operations executed inside a single transaction. Every
// state-changing service operation runs as one read-validate-write round trip
// through this interface.
type TxRepository interface {
	ClaimedTripIDs(ctx context.Context, tripIDs []int64) ([]int64, error)
	CreateSettlement(ctx context.Context, rec CreateSettlementRecord) (int64, error)
	InsertTripRefs(ctx context.Context, settlementID int64, refs []TripRef) error

	// GetSettlementForUpdate locks the settlement row for the duration of
	// the transaction and returns it with payments loaded. All payment
	// transitions serialize on this lock.
	GetSettlementForUpdate(ctx context.Context, id int64) (*Settlement, error)
	GetPayment(ctx context.Context, id int64) (*Payment, error)
	CreatePayment(ctx context.Context, rec CreatePaymentRecord) (int64, error)
	UpdatePaymentStatus(ctx context.Context, id int64, status PaymentStatus, reason string, decidedAt time.Time) error

	CancelSettlement(ctx context.Context, id, cancelledBy int64, at time.Time) error
	DeleteSettlement(ctx context.Context, id int64) error
}

// CreateSettlementRecord is the persistence shape of a frozen netting result.
type CreateSettlementRecord struct {
	PartyA      int64
	PartyB      int64
	PeriodStart time.Time
	PeriodEnd   time.Time
	AToBTotal   float64
	BToATotal   float64
	NetAmount   float64
	PayableBy   int64
	Notes       string
	CreatedBy   int64
}

// CreatePaymentRecord is the persistence shape of a new pending payment.
type CreatePaymentRecord struct {
	SettlementID int64
	Reference    string
	Amount       float64
	PaidBy       int64
	PaidTo       int64
	Method       PaymentMethod
	SubmittedOn  time.Time
	Notes        string
}

var _ Repository = (*pgRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	txRepo := &pgTxRepository{tx: tx}
	if err := fn(ctx, txRepo); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const settlementColumns = `id, party_a, party_b, period_start, period_end,
	a_to_b_total, b_to_a_total, net_amount, payable_by, notes,
	cancelled_at, cancelled_by, created_by, created_at, updated_at`

const paymentColumns = `id, settlement_id, reference, amount, paid_by, paid_to,
	method, submitted_on, notes, status, rejection_reason, decided_at,
	created_at, updated_at`

func (r *pgRepository) GetSettlement(ctx context.Context, id int64) (*Settlement, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = $1`, id)
	s, err := scanSettlement(row)
	if err != nil {
		return nil, err
	}
	if s.TripRefs, err = loadTripRefs(ctx, r.pool, id); err != nil {
		return nil, err
	}
	if s.Payments, err = loadPayments(ctx, r.pool, id); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *pgRepository) ListSettlements(ctx context.Context, req ListRequest) ([]Settlement, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	var query string
	var args []any
	if req.Party != 0 {
		query = `SELECT ` + settlementColumns + ` FROM settlements
			WHERE party_a = $1 OR party_b = $1
			ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
		args = []any{req.Party, limit, req.Offset}
	} else {
		query = `SELECT ` + settlementColumns + ` FROM settlements
			ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`
		args = []any{limit, req.Offset}
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Status derivation needs the payment ledger, so listings carry it too.
	for i := range out {
		if out[i].Payments, err = loadPayments(ctx, r.pool, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *pgRepository) ListByPartyWithPayments(ctx context.Context, party int64) ([]Settlement, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE party_a = $1 OR party_b = $1 ORDER BY id`, party)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Payments, err = loadPayments(ctx, r.pool, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *pgRepository) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM settlement_payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (r *pgRepository) PartyIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT party FROM (SELECT party_a AS party FROM settlements UNION SELECT party_b FROM settlements) p ORDER BY party`)
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

// --- Transaction repository ---

type pgTxRepository struct {
	tx pgx.Tx
}

func (t *pgTxRepository) ClaimedTripIDs(ctx context.Context, tripIDs []int64) ([]int64, error) {
	if len(tripIDs) == 0 {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx, `SELECT trip_id FROM settlement_trips WHERE trip_id = ANY($1)`, tripIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claimed []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		claimed = append(claimed, id)
	}
	return claimed, rows.Err()
}

func (t *pgTxRepository) CreateSettlement(ctx context.Context, rec CreateSettlementRecord) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO settlements (
			party_a, party_b, period_start, period_end,
			a_to_b_total, b_to_a_total, net_amount, payable_by, notes,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING id`,
		rec.PartyA, rec.PartyB, rec.PeriodStart, rec.PeriodEnd,
		rec.AToBTotal, rec.BToATotal, rec.NetAmount, toNullInt64(rec.PayableBy), rec.Notes,
		rec.CreatedBy,
	).Scan(&id)
	return id, err
}

func (t *pgTxRepository) InsertTripRefs(ctx context.Context, settlementID int64, refs []TripRef) error {
	for _, ref := range refs {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO settlement_trips (
				settlement_id, trip_id, direction, amount, occurred_on,
				material, origin, destination
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			settlementID, ref.TripID, ref.Direction, ref.Amount, ref.OccurredOn,
			ref.Material, ref.Origin, ref.Destination,
		)
		if err != nil {
			// The unique index on trip_id is the last line of defense
			// against a concurrent claim that slipped past the
			// in-transaction check.
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return &TripsAlreadySettledError{TripIDs: []int64{ref.TripID}}
			}
			return err
		}
	}
	return nil
}

func (t *pgTxRepository) GetSettlementForUpdate(ctx context.Context, id int64) (*Settlement, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = $1 FOR UPDATE`, id)
	s, err := scanSettlement(row)
	if err != nil {
		return nil, err
	}
	if s.Payments, err = loadPayments(ctx, t.tx, id); err != nil {
		return nil, err
	}
	return s, nil
}

func (t *pgTxRepository) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM settlement_payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (t *pgTxRepository) CreatePayment(ctx context.Context, rec CreatePaymentRecord) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO settlement_payments (
			settlement_id, reference, amount, paid_by, paid_to, method,
			submitted_on, notes, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id`,
		rec.SettlementID, rec.Reference, rec.Amount, rec.PaidBy, rec.PaidTo,
		rec.Method, rec.SubmittedOn, rec.Notes, PaymentPending,
	).Scan(&id)
	return id, err
}

func (t *pgTxRepository) UpdatePaymentStatus(ctx context.Context, id int64, status PaymentStatus, reason string, decidedAt time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE settlement_payments
		SET status = $2, rejection_reason = $3, decided_at = $4, updated_at = NOW()
		WHERE id = $1`,
		id, status, toNullText(reason), decidedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (t *pgTxRepository) CancelSettlement(ctx context.Context, id, cancelledBy int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE settlements SET cancelled_at = $2, cancelled_by = $3, updated_at = NOW()
		WHERE id = $1 AND cancelled_at IS NULL`,
		id, at, cancelledBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyCancelled
	}
	return nil
}

func (t *pgTxRepository) DeleteSettlement(ctx context.Context, id int64) error {
	// Trip claim rows go first so the trips become eligible again.
	if _, err := t.tx.Exec(ctx, `DELETE FROM settlement_trips WHERE settlement_id = $1`, id); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM settlement_payments WHERE settlement_id = $1`, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM settlements WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSettlementNotFound
	}
	return nil
}

// --- Scan helpers ---

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanSettlement(row pgx.Row) (*Settlement, error) {
	var s Settlement
	var payableBy pgtype.Int8
	var cancelledAt pgtype.Timestamptz
	var cancelledBy pgtype.Int8
	var notes pgtype.Text
	err := row.Scan(
		&s.ID, &s.PartyA, &s.PartyB, &s.PeriodStart, &s.PeriodEnd,
		&s.AToBTotal, &s.BToATotal, &s.NetAmount, &payableBy, &notes,
		&cancelledAt, &cancelledBy, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSettlementNotFound
	}
	if err != nil {
		return nil, err
	}
	if payableBy.Valid {
		s.PayableBy = payableBy.Int64
	}
	s.Notes = notes.String
	if cancelledAt.Valid {
		s.Cancelled = true
		at := cancelledAt.Time
		s.CancelledAt = &at
	}
	if cancelledBy.Valid {
		by := cancelledBy.Int64
		s.CancelledBy = &by
	}
	return &s, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var reason pgtype.Text
	var decidedAt pgtype.Timestamptz
	err := row.Scan(
		&p.ID, &p.SettlementID, &p.Reference, &p.Amount, &p.PaidBy, &p.PaidTo,
		&p.Method, &p.SubmittedOn, &p.Notes, &p.Status, &reason, &decidedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	p.RejectionReason = reason.String
	if decidedAt.Valid {
		at := decidedAt.Time
		p.DecidedAt = &at
	}
	return &p, nil
}

func loadTripRefs(ctx context.Context, q querier, settlementID int64) ([]TripRef, error) {
	rows, err := q.Query(ctx, `
		SELECT trip_id, direction, amount, occurred_on, material, origin, destination
		FROM settlement_trips WHERE settlement_id = $1 ORDER BY occurred_on, trip_id`, settlementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []TripRef
	for rows.Next() {
		var ref TripRef
		if err := rows.Scan(&ref.TripID, &ref.Direction, &ref.Amount, &ref.OccurredOn,
			&ref.Material, &ref.Origin, &ref.Destination); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func loadPayments(ctx context.Context, q querier, settlementID int64) ([]Payment, error) {
	rows, err := q.Query(ctx,
		`SELECT `+paymentColumns+` FROM settlement_payments WHERE settlement_id = $1 ORDER BY id`, settlementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func toNullInt64(v int64) pgtype.Int8 {
	if v == 0 {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: v, Valid: true}
}

func toNullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
