package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/verifyd/internal/domain"
	"github.com/phrazzld/verifyd/internal/platform/logger"
	"github.com/phrazzld/verifyd/internal/redact"
	"github.com/phrazzld/verifyd/internal/store"
)

const taskColumns = `id, tenant_id, payload, status, claim_owner, claimed_at, result, verified_at, created_at, updated_at`

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the shared queue.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
	now    func() time.Time
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue implements store.TaskStore.Enqueue.
func (s *PostgresTaskStore) Enqueue(ctx context.Context, tasks ...*domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		INSERT INTO tasks (id, tenant_id, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
		if t.Status != domain.TaskStatusPending {
			return fmt.Errorf("%w: only pending tasks can be enqueued", store.ErrInvalidEntity)
		}
		_, err := s.db.ExecContext(ctx, query,
			t.ID, t.TenantID, t.Payload, t.Status, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			log.Error("failed to enqueue task",
				slog.String("task_id", t.ID.String()),
				slog.String("error", redact.Error(err)))
			return MapError(err)
		}
	}

	log.Debug("tasks enqueued", slog.Int("count", len(tasks)))
	return nil
}

// Get implements store.TaskStore.Get.
func (s *PostgresTaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	t, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, MapError(err)
	}
	return t, nil
}

// ClaimBatch implements store.TaskStore.ClaimBatch.
// Rows locked by a concurrent claimer are skipped rather than waited on, and
// the outer status predicate makes the update a no-op for any row that left
// pending between selection and update.
func (s *PostgresTaskStore) ClaimBatch(ctx context.Context, workerID string, n int) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if workerID == "" {
		return nil, fmt.Errorf("%w: worker ID cannot be empty", store.ErrInvalidEntity)
	}
	if n <= 0 {
		return nil, nil
	}

	query := `
		UPDATE tasks
		SET status = 'processing', claim_owner = $1, claimed_at = $2, updated_at = $2
		WHERE id IN (
			SELECT id FROM tasks
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		AND status = 'pending'
		RETURNING ` + taskColumns

	rows, err := s.db.QueryContext(ctx, query, workerID, s.now(), n)
	if err != nil {
		log.Error("failed to claim batch",
			slog.String("worker_id", workerID),
			slog.String("error", redact.Error(err)))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var claimed []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, MapError(err)
		}
		claimed = append(claimed, t)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	log.Debug("claimed batch",
		slog.String("worker_id", workerID),
		slog.Int("requested", n),
		slog.Int("claimed", len(claimed)))
	return claimed, nil
}

// Settle implements store.TaskStore.Settle.
func (s *PostgresTaskStore) Settle(
	ctx context.Context,
	taskID uuid.UUID,
	workerID string,
	outcome domain.Outcome,
) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if !outcome.Status.IsTerminal() {
		return false, fmt.Errorf("%w: %s", domain.ErrInvalidTransition, outcome.Status)
	}

	result, err := marshalResult(outcome.Result)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE tasks
		SET status = $1, result = $2, verified_at = $3, updated_at = $3,
			claim_owner = NULL, claimed_at = NULL
		WHERE id = $4 AND status = 'processing' AND claim_owner = $5
	`
	res, err := s.db.ExecContext(ctx, query, outcome.Status, result, s.now(), taskID, workerID)
	if err != nil {
		log.Error("failed to settle task",
			slog.String("task_id", taskID.String()),
			slog.String("worker_id", workerID),
			slog.String("error", redact.Error(err)))
		return false, MapError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, MapError(err)
	}
	if affected == 0 {
		log.Warn("settle skipped: claim no longer held",
			slog.String("task_id", taskID.String()),
			slog.String("worker_id", workerID))
		return false, nil
	}
	return true, nil
}

// RenewClaims implements store.TaskStore.RenewClaims.
// The owner and status predicates make renewal of a reclaimed row a no-op.
func (s *PostgresTaskStore) RenewClaims(ctx context.Context, workerID string, taskIDs ...uuid.UUID) ([]uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if len(taskIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(taskIDs))
	for i, id := range taskIDs {
		ids[i] = id.String()
	}

	rows, err := s.db.QueryContext(ctx, `
		UPDATE tasks
		SET claimed_at = $3, updated_at = $3
		WHERE status = 'processing' AND claim_owner = $1 AND id = ANY($2::uuid[])
		RETURNING id
	`, workerID, ids, s.now())
	if err != nil {
		log.Error("failed to renew claims",
			slog.String("worker_id", workerID),
			slog.String("error", redact.Error(err)))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	renewed := make([]uuid.UUID, 0, len(taskIDs))
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, MapError(err)
		}
		renewed = append(renewed, id)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	if len(renewed) < len(taskIDs) {
		log.Warn("some claims were no longer held",
			slog.String("worker_id", workerID),
			slog.Int("requested", len(taskIDs)),
			slog.Int("renewed", len(renewed)))
	}
	return renewed, nil
}

// ReleaseClaims implements store.TaskStore.ReleaseClaims.
func (s *PostgresTaskStore) ReleaseClaims(ctx context.Context, workerID string, taskIDs ...uuid.UUID) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var (
		res sql.Result
		err error
	)
	if len(taskIDs) == 0 {
		res, err = s.db.ExecContext(ctx, `
			UPDATE tasks
			SET status = 'pending', claim_owner = NULL, claimed_at = NULL, updated_at = $2
			WHERE status = 'processing' AND claim_owner = $1
		`, workerID, s.now())
	} else {
		ids := make([]string, len(taskIDs))
		for i, id := range taskIDs {
			ids[i] = id.String()
		}
		res, err = s.db.ExecContext(ctx, `
			UPDATE tasks
			SET status = 'pending', claim_owner = NULL, claimed_at = NULL, updated_at = $3
			WHERE status = 'processing' AND claim_owner = $1 AND id = ANY($2::uuid[])
		`, workerID, ids, s.now())
	}
	if err != nil {
		log.Error("failed to release claims",
			slog.String("worker_id", workerID),
			slog.String("error", redact.Error(err)))
		return 0, MapError(err)
	}

	released, err := res.RowsAffected()
	if err != nil {
		return 0, MapError(err)
	}
	log.Debug("released claims",
		slog.String("worker_id", workerID),
		slog.Int64("released", released))
	return released, nil
}

// ReclaimStale implements store.TaskStore.ReclaimStale.
func (s *PostgresTaskStore) ReclaimStale(ctx context.Context, threshold time.Duration) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'pending', claim_owner = NULL, claimed_at = NULL, updated_at = $2
		WHERE status = 'processing' AND claimed_at < $1
	`, now.Add(-threshold), now)
	if err != nil {
		log.Error("failed to reclaim stale tasks",
			slog.Duration("threshold", threshold),
			slog.String("error", redact.Error(err)))
		return 0, MapError(err)
	}

	reclaimed, err := res.RowsAffected()
	if err != nil {
		return 0, MapError(err)
	}
	if reclaimed > 0 {
		log.Info("reclaimed stale tasks",
			slog.Int64("count", reclaimed),
			slog.Duration("threshold", threshold))
	}
	return reclaimed, nil
}

// RejectOrphans implements store.TaskStore.RejectOrphans.
func (s *PostgresTaskStore) RejectOrphans(ctx context.Context) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := marshalResult(domain.FailedOutcome(domain.FailureOrphanTask, "tenant not found").Result)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks t
		SET status = 'invalid', result = $1, verified_at = $2, updated_at = $2
		WHERE t.status = 'pending'
		AND NOT EXISTS (
			SELECT 1 FROM tenants n WHERE n.id = t.tenant_id AND n.deleted_at IS NULL
		)
	`, result, s.now())
	if err != nil {
		log.Error("failed to reject orphan tasks", slog.String("error", redact.Error(err)))
		return 0, MapError(err)
	}

	rejected, err := res.RowsAffected()
	if err != nil {
		return 0, MapError(err)
	}
	if rejected > 0 {
		log.Info("rejected orphan tasks", slog.Int64("count", rejected))
	}
	return rejected, nil
}

// Backlog implements store.TaskStore.Backlog.
func (s *PostgresTaskStore) Backlog(ctx context.Context) (store.Backlog, error) {
	var b store.Backlog
	err := s.db.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'pending'),
			count(*) FILTER (WHERE status = 'processing')
		FROM tasks
		WHERE status IN ('pending', 'processing')
	`).Scan(&b.Pending, &b.Processing)
	if err != nil {
		return store.Backlog{}, MapError(err)
	}
	return b, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t          domain.Task
		status     string
		claimOwner sql.NullString
		claimedAt  sql.NullTime
		result     []byte
		verifiedAt sql.NullTime
	)
	if err := row.Scan(
		&t.ID,
		&t.TenantID,
		&t.Payload,
		&status,
		&claimOwner,
		&claimedAt,
		&result,
		&verifiedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	t.Status = domain.TaskStatus(status)
	t.ClaimOwner = claimOwner.String
	if claimedAt.Valid {
		at := claimedAt.Time
		t.ClaimedAt = &at
	}
	if verifiedAt.Valid {
		at := verifiedAt.Time
		t.VerifiedAt = &at
	}
	if len(result) > 0 {
		var r domain.Result
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, fmt.Errorf("failed to decode task result: %w", err)
		}
		t.Result = &r
	}
	return &t, nil
}

func marshalResult(r *domain.Result) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task result: %w", err)
	}
	return b, nil
}
