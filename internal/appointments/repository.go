package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/clinic-booking/internal/payments"
)

var (
	// ErrOverlap means the branch already has an appointment in the interval.
	ErrOverlap = errors.New("appointments: interval overlaps an existing appointment")
	// ErrNotFound is returned when no appointment matches.
	ErrNotFound = errors.New("appointments: not found")
	// ErrKeyReused means an idempotency key was replayed with a different
	// branch, treatment, subject or time than the appointment it created.
	ErrKeyReused = errors.New("appointments: idempotency key reused for a different appointment")
)

// Querier is the subset of pgx used inside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is satisfied by *pgxpool.Pool and pgxmock pools.
type PgxPool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Record is one stored appointment. Times are minutes after branch-local
// midnight; EndMinute may exceed a day for treatments running past midnight.
type Record struct {
	ID             uuid.UUID
	IdempotencyKey string
	BranchID       string
	TreatmentID    string
	SubjectID      string
	Date           string
	StartMinute    int
	EndMinute      int
	Payment        *payments.Block
	Status         string
	CreatedAt      time.Time
}

// SameBooking reports whether other books the same subject, treatment,
// branch and interval as r.
func (r Record) SameBooking(other Record) bool {
	return r.BranchID == other.BranchID &&
		r.TreatmentID == other.TreatmentID &&
		r.SubjectID == other.SubjectID &&
		r.Date == other.Date &&
		r.StartMinute == other.StartMinute &&
		r.EndMinute == other.EndMinute
}

// Repository persists appointments in Postgres.
type Repository struct {
	pool PgxPool
}

// NewRepository wraps a pgx pool.
func NewRepository(pool PgxPool) *Repository {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &Repository{pool: pool}
}

// Create stores rec unless an appointment with the same idempotency key
// exists, in which case that one is returned with created=false. A key
// replayed for a different appointment yields ErrKeyReused. Overlapping
// confirmed appointments at the same branch and date yield ErrOverlap.
func (r *Repository) Create(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = StatusConfirmed
	}
	var paymentJSON []byte
	if rec.Payment != nil {
		raw, err := json.Marshal(rec.Payment)
		if err != nil {
			return Record{}, false, fmt.Errorf("appointments: marshal payment: %w", err)
		}
		paymentJSON = raw
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Record{}, false, fmt.Errorf("appointments: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialise writers per branch and day.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rec.BranchID+"|"+rec.Date); err != nil {
		return Record{}, false, fmt.Errorf("appointments: lock branch day: %w", err)
	}

	existing, err := r.findByKey(ctx, tx, rec.IdempotencyKey)
	if err == nil {
		if !existing.SameBooking(rec) {
			return Record{}, false, ErrKeyReused
		}
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Record{}, false, err
	}

	var clash int
	err = tx.QueryRow(ctx, `
		SELECT 1 FROM appointments
		WHERE branch_id = $1 AND appointment_date = $2 AND status = 'confirmed'
		  AND start_minute < $4 AND end_minute > $3
		LIMIT 1
	`, rec.BranchID, rec.Date, rec.StartMinute, rec.EndMinute).Scan(&clash)
	switch {
	case err == nil:
		return Record{}, false, ErrOverlap
	case !errors.Is(err, pgx.ErrNoRows):
		return Record{}, false, fmt.Errorf("appointments: overlap check: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO appointments (id, idempotency_key, branch_id, treatment_id, subject_id, appointment_date, start_minute, end_minute, payment, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, rec.ID, rec.IdempotencyKey, rec.BranchID, rec.TreatmentID, rec.SubjectID, rec.Date, rec.StartMinute, rec.EndMinute, paymentJSON, rec.Status).Scan(&rec.CreatedAt)
	if err != nil {
		return Record{}, false, fmt.Errorf("appointments: insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, false, fmt.Errorf("appointments: commit: %w", err)
	}
	return rec, true, nil
}

// FindByKey loads the appointment created under an idempotency key.
func (r *Repository) FindByKey(ctx context.Context, key string) (Record, error) {
	return r.findByKey(ctx, r.pool, key)
}

func (r *Repository) findByKey(ctx context.Context, q Querier, key string) (Record, error) {
	var (
		rec     Record
		payment []byte
	)
	err := q.QueryRow(ctx, `
		SELECT id, idempotency_key, branch_id, treatment_id, subject_id, to_char(appointment_date, 'YYYY-MM-DD'), start_minute, end_minute, payment, status, created_at
		FROM appointments
		WHERE idempotency_key = $1
	`, key).Scan(&rec.ID, &rec.IdempotencyKey, &rec.BranchID, &rec.TreatmentID, &rec.SubjectID, &rec.Date, &rec.StartMinute, &rec.EndMinute, &payment, &rec.Status, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("appointments: find by key: %w", err)
	}
	if len(payment) > 0 {
		var block payments.Block
		if err := json.Unmarshal(payment, &block); err != nil {
			return Record{}, fmt.Errorf("appointments: decode payment: %w", err)
		}
		rec.Payment = &block
	}
	return rec, nil
}

// Interval is a booked span in minutes after midnight.
type Interval struct {
	StartMinute int
	EndMinute   int
}

// BookedIntervals lists confirmed appointments at a branch on a date.
func (r *Repository) BookedIntervals(ctx context.Context, branchID, date string) ([]Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_minute, end_minute
		FROM appointments
		WHERE branch_id = $1 AND appointment_date = $2 AND status = 'confirmed'
		ORDER BY start_minute
	`, branchID, date)
	if err != nil {
		return nil, fmt.Errorf("appointments: list booked: %w", err)
	}
	defer rows.Close()

	var out []Interval
	for rows.Next() {
		var iv Interval
		if err := rows.Scan(&iv.StartMinute, &iv.EndMinute); err != nil {
			return nil, fmt.Errorf("appointments: scan booked: %w", err)
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// Cancel marks an appointment cancelled, freeing its interval.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE appointments SET status = 'cancelled' WHERE id = $1 AND status = 'confirmed'`, id)
	if err != nil {
		return fmt.Errorf("appointments: cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
