package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/verifyd/internal/domain"
)

// Backlog is the number of tasks waiting and in flight.
type Backlog struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
}

// TaskStore defines the persistent, shared task table and the atomic
// primitives of the claim protocol. Every mutation is a conditional write
// keyed on the current status (and claim owner), so implementations must be
// safe for concurrent use by many processes without any application lock.
type TaskStore interface {
	// Enqueue inserts new pending tasks. Producers outside this module use it
	// (or write rows directly) to create work.
	Enqueue(ctx context.Context, tasks ...*domain.Task) error

	// Get returns a task by ID.
	// Returns ErrTaskNotFound if the task does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// ClaimBatch transitions up to n pending tasks to processing on behalf of
	// workerID and returns only the tasks whose conditional update succeeded.
	// A short (or empty) result is not an error. Selection order is unspecified.
	ClaimBatch(ctx context.Context, workerID string, n int) ([]*domain.Task, error)

	// Settle writes a terminal outcome for a task still claimed by workerID,
	// clearing the claim. It reports false, with no error, when the claim was
	// lost (the task was reclaimed or settled by someone else).
	Settle(ctx context.Context, taskID uuid.UUID, workerID string, outcome domain.Outcome) (bool, error)

	// RenewClaims refreshes claimed_at on the given tasks that workerID still
	// holds and returns the IDs it renewed, in no particular order. A task
	// missing from the result has been reclaimed or settled by someone else
	// and must not be worked on.
	RenewClaims(ctx context.Context, workerID string, taskIDs ...uuid.UUID) ([]uuid.UUID, error)

	// ReleaseClaims returns tasks claimed by workerID to pending. With no IDs
	// it releases every task the worker holds.
	ReleaseClaims(ctx context.Context, workerID string, taskIDs ...uuid.UUID) (int64, error)

	// ReclaimStale returns every processing task claimed longer ago than
	// threshold to pending. It is idempotent: concurrent calls revert each
	// stale task exactly once between them.
	ReclaimStale(ctx context.Context, threshold time.Duration) (int64, error)

	// RejectOrphans settles pending tasks whose tenant is unknown or deleted
	// as invalid without claiming them.
	RejectOrphans(ctx context.Context) (int64, error)

	// Backlog counts pending and processing tasks.
	Backlog(ctx context.Context) (Backlog, error)
}
