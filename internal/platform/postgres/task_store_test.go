package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/phrazzld/verifyd/internal/domain"
	"github.com/phrazzld/verifyd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taskRowColumns = []string{
	"id", "tenant_id", "payload", "status", "claim_owner", "claimed_at",
	"result", "verified_at", "created_at", "updated_at",
}

func newMockTaskStore(t *testing.T) (*PostgresTaskStore, sqlmock.Sqlmock, time.Time) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewPostgresTaskStore(db, nil)
	s.now = func() time.Time { return now }
	return s, mock, now
}

func TestPostgresTaskStore_ClaimBatch(t *testing.T) {
	t.Parallel()

	s, mock, now := newMockTaskStore(t)
	first, second := uuid.New(), uuid.New()
	tenant := uuid.New()

	rows := sqlmock.NewRows(taskRowColumns).
		AddRow(first.String(), tenant.String(), "a@example.com", "processing", "worker-1", now, nil, nil, now, now).
		AddRow(second.String(), tenant.String(), "b@example.com", "processing", "worker-1", now, nil, nil, now, now)
	mock.ExpectQuery(`UPDATE tasks\s+SET status = 'processing'.*FOR UPDATE SKIP LOCKED`).
		WithArgs("worker-1", now, 5).
		WillReturnRows(rows)

	claimed, err := s.ClaimBatch(context.Background(), "worker-1", 5)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, first, claimed[0].ID)
	assert.Equal(t, domain.TaskStatusProcessing, claimed[0].Status)
	assert.Equal(t, "worker-1", claimed[0].ClaimOwner)
	require.NotNil(t, claimed[0].ClaimedAt)
	assert.NoError(t, claimed[1].Validate())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTaskStore_ClaimBatchEmptyIsNotAnError(t *testing.T) {
	t.Parallel()

	s, mock, now := newMockTaskStore(t)
	mock.ExpectQuery(`UPDATE tasks`).
		WithArgs("worker-1", now, 10).
		WillReturnRows(sqlmock.NewRows(taskRowColumns))

	claimed, err := s.ClaimBatch(context.Background(), "worker-1", 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	claimed, err = s.ClaimBatch(context.Background(), "worker-1", 0)
	require.NoError(t, err)
	assert.Empty(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTaskStore_ClaimBatchUnavailable(t *testing.T) {
	t.Parallel()

	s, mock, _ := newMockTaskStore(t)
	mock.ExpectQuery(`UPDATE tasks`).WillReturnError(newTestPgError("08006"))

	_, err := s.ClaimBatch(context.Background(), "worker-1", 3)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestPostgresTaskStore_Settle(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	outcome := domain.VerdictOutcome(domain.Result{Valid: true, RegexValid: true, MXValid: true})

	t.Run("claim held", func(t *testing.T) {
		t.Parallel()
		s, mock, now := newMockTaskStore(t)
		mock.ExpectExec(`UPDATE tasks\s+SET status = \$1.*claim_owner = \$5`).
			WithArgs(domain.TaskStatusVerified, sqlmock.AnyArg(), now, id, "worker-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := s.Settle(context.Background(), id, "worker-1", outcome)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("claim lost", func(t *testing.T) {
		t.Parallel()
		s, mock, _ := newMockTaskStore(t)
		mock.ExpectExec(`UPDATE tasks`).WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := s.Settle(context.Background(), id, "worker-1", outcome)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("non terminal outcome", func(t *testing.T) {
		t.Parallel()
		s, _, _ := newMockTaskStore(t)
		_, err := s.Settle(context.Background(), id, "worker-1", domain.Outcome{Status: domain.TaskStatusPending})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

// arrayConverter lets uuid[] parameters through to sqlmock the way pgx
// accepts them.
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v interface{}) (driver.Value, error) {
	if ids, ok := v.([]string); ok {
		return ids, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func TestPostgresTaskStore_RenewClaims(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewPostgresTaskStore(db, nil)
	s.now = func() time.Time { return now }

	held, lost := uuid.New(), uuid.New()
	mock.ExpectQuery(`UPDATE tasks\s+SET claimed_at = \$3.*WHERE status = 'processing' AND claim_owner = \$1 AND id = ANY\(\$2::uuid\[\]\)\s+RETURNING id`).
		WithArgs("worker-1", sqlmock.AnyArg(), now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(held.String()))

	renewed, err := s.RenewClaims(context.Background(), "worker-1", held, lost)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{held}, renewed)

	renewed, err = s.RenewClaims(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Empty(t, renewed, "nothing to renew issues no query")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTaskStore_RenewClaimsUnavailable(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := NewPostgresTaskStore(db, nil)

	mock.ExpectQuery(`UPDATE tasks`).WillReturnError(newTestPgError("08006"))

	_, err = s.RenewClaims(context.Background(), "worker-1", uuid.New())
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestPostgresTaskStore_ReleaseAllClaims(t *testing.T) {
	t.Parallel()

	s, mock, now := newMockTaskStore(t)
	mock.ExpectExec(`SET status = 'pending'.*WHERE status = 'processing' AND claim_owner = \$1`).
		WithArgs("worker-7", now).
		WillReturnResult(sqlmock.NewResult(0, 4))

	released, err := s.ReleaseClaims(context.Background(), "worker-7")
	require.NoError(t, err)
	assert.Equal(t, int64(4), released)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTaskStore_ReclaimStale(t *testing.T) {
	t.Parallel()

	s, mock, now := newMockTaskStore(t)
	mock.ExpectExec(`WHERE status = 'processing' AND claimed_at < \$1`).
		WithArgs(now.Add(-5*time.Minute), now).
		WillReturnResult(sqlmock.NewResult(0, 2))

	reclaimed, err := s.ReclaimStale(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reclaimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTaskStore_RejectOrphans(t *testing.T) {
	t.Parallel()

	s, mock, now := newMockTaskStore(t)
	mock.ExpectExec(`SET status = 'invalid'.*NOT EXISTS`).
		WithArgs(sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	rejected, err := s.RejectOrphans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), rejected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTaskStore_Backlog(t *testing.T) {
	t.Parallel()

	s, mock, _ := newMockTaskStore(t)
	mock.ExpectQuery(`count\(\*\) FILTER`).
		WillReturnRows(sqlmock.NewRows([]string{"pending", "processing"}).AddRow(237, 10))

	b, err := s.Backlog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.Backlog{Pending: 237, Processing: 10}, b)
}

func TestPostgresTaskStore_Get(t *testing.T) {
	t.Parallel()

	s, mock, now := newMockTaskStore(t)
	id, tenant := uuid.New(), uuid.New()
	stored := []byte(`{"valid":false,"failure":"timeout","timeout":true}`)

	mock.ExpectQuery(`SELECT .* FROM tasks WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(taskRowColumns).
			AddRow(id.String(), tenant.String(), "x@example.com", "invalid", nil, nil, stored, now, now, now))

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusInvalid, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, domain.FailureTimeout, got.Result.Failure)
	assert.True(t, got.Result.Timeout)

	mock.ExpectQuery(`SELECT .* FROM tasks`).WillReturnRows(sqlmock.NewRows(taskRowColumns))
	_, err = s.Get(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, store.ErrTaskNotFound))
}

func TestPostgresTaskStore_EnqueueRejectsNonPending(t *testing.T) {
	t.Parallel()

	s, _, now := newMockTaskStore(t)
	task, err := domain.NewTask(uuid.New(), "someone@example.com")
	require.NoError(t, err)
	require.NoError(t, task.Claim("worker-1", now))

	err = s.Enqueue(context.Background(), task)
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}
