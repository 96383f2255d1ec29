package appointments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking/internal/payments"
)

var findColumns = []string{"id", "idempotency_key", "branch_id", "treatment_id", "subject_id", "appointment_date", "start_minute", "end_minute", "payment", "status", "created_at"}

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRepository(mock), mock
}

func sampleRecord() Record {
	return Record{
		IdempotencyKey: "idem-1",
		BranchID:       "downtown",
		TreatmentID:    "hydrafacial",
		SubjectID:      "subj-1",
		Date:           "2026-03-02",
		StartMinute:    540,
		EndMinute:      555,
		Payment:        &payments.Block{Last4: "4242", AmountCents: 12000, Currency: "USD"},
	}
}

func TestCreateInsertsNewAppointment(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("downtown|2026-03-02").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("FROM appointments\\s+WHERE idempotency_key").
		WithArgs("idem-1").
		WillReturnRows(pgxmock.NewRows(findColumns))
	mock.ExpectQuery("SELECT 1 FROM appointments").
		WithArgs("downtown", "2026-03-02", 540, 555).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), "idem-1", "downtown", "hydrafacial", "subj-1", "2026-03-02", 540, 555, pgxmock.AnyArg(), StatusConfirmed).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))
	mock.ExpectCommit()

	rec, isNew, err := repo.Create(context.Background(), sampleRecord())
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, created, rec.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateReturnsExistingForSameKey(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("downtown|2026-03-02").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("FROM appointments\\s+WHERE idempotency_key").
		WithArgs("idem-1").
		WillReturnRows(pgxmock.NewRows(findColumns).
			AddRow(id, "idem-1", "downtown", "hydrafacial", "subj-1", "2026-03-02", 540, 555, []byte(`{"last4":"4242"}`), StatusConfirmed, time.Now()))
	mock.ExpectRollback()

	rec, isNew, err := repo.Create(context.Background(), sampleRecord())
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "2026-03-02", rec.Date)
	require.NotNil(t, rec.Payment)
	assert.Equal(t, "4242", rec.Payment.Last4)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRejectsKeyReusedForAnotherTime(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("downtown|2026-03-02").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("FROM appointments\\s+WHERE idempotency_key").
		WithArgs("idem-1").
		WillReturnRows(pgxmock.NewRows(findColumns).
			AddRow(uuid.New(), "idem-1", "downtown", "hydrafacial", "subj-1", "2026-03-02", 540, 555, nil, StatusConfirmed, time.Now()))
	mock.ExpectRollback()

	rec := sampleRecord()
	rec.StartMinute, rec.EndMinute = 600, 615
	_, _, err := repo.Create(context.Background(), rec)
	assert.ErrorIs(t, err, ErrKeyReused)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRejectsOverlap(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("downtown|2026-03-02").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("FROM appointments\\s+WHERE idempotency_key").
		WithArgs("idem-1").
		WillReturnRows(pgxmock.NewRows(findColumns))
	mock.ExpectQuery("SELECT 1 FROM appointments").
		WithArgs("downtown", "2026-03-02", 540, 555).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	mock.ExpectRollback()

	_, _, err := repo.Create(context.Background(), sampleRecord())
	assert.ErrorIs(t, err, ErrOverlap)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBeginFailure(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))
	_, _, err := repo.Create(context.Background(), sampleRecord())
	assert.ErrorContains(t, err, "pool exhausted")
}

func TestBookedIntervals(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT start_minute, end_minute").
		WithArgs("downtown", "2026-03-02").
		WillReturnRows(pgxmock.NewRows([]string{"start_minute", "end_minute"}).
			AddRow(540, 555).
			AddRow(600, 660))

	got, err := repo.BookedIntervals(context.Background(), "downtown", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, []Interval{{540, 555}, {600, 660}}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancel(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	mock.ExpectExec("UPDATE appointments SET status").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.Cancel(context.Background(), id))

	mock.ExpectExec("UPDATE appointments SET status").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.Cancel(context.Background(), id), ErrNotFound)
}
