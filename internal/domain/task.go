package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a verification task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusVerified   TaskStatus = "verified"
	TaskStatusInvalid    TaskStatus = "invalid"
)

// IsTerminal reports whether the status is a settled outcome.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusVerified || s == TaskStatusInvalid
}

// Common validation errors for Task
var (
	ErrEmptyTaskID       = errors.New("task ID cannot be empty")
	ErrEmptyTaskTenantID = errors.New("task tenant ID cannot be empty")
	ErrEmptyTaskPayload  = errors.New("task payload cannot be empty")
	ErrInvalidTaskStatus = errors.New("invalid task status")
	ErrInvalidClaimState = errors.New("claim fields must be set exactly when a task is processing")
)

// Task is one unit of verification work. A producer creates it pending;
// a worker claims it (processing) and settles it verified or invalid.
//
// Invariant: Status == processing exactly when ClaimOwner and ClaimedAt are set.
type Task struct {
	ID         uuid.UUID  `json:"id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	Payload    string     `json:"payload"`
	Status     TaskStatus `json:"status"`
	ClaimOwner string     `json:"claim_owner,omitempty"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
	Result     *Result    `json:"result,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewTask creates a pending Task owned by the given tenant.
// Payloads are trimmed and lower-cased, matching how addresses are stored.
func NewTask(tenantID uuid.UUID, payload string) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Payload:   strings.ToLower(strings.TrimSpace(payload)),
		Status:    TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data, including the claim invariant.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.TenantID == uuid.Nil {
		return ErrEmptyTaskTenantID
	}

	if t.Payload == "" {
		return ErrEmptyTaskPayload
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	claimed := t.ClaimOwner != "" && t.ClaimedAt != nil
	unclaimed := t.ClaimOwner == "" && t.ClaimedAt == nil
	if t.Status == TaskStatusProcessing && !claimed {
		return ErrInvalidClaimState
	}
	if t.Status != TaskStatusProcessing && !unclaimed {
		return ErrInvalidClaimState
	}

	return nil
}

// Claim moves a pending task to processing on behalf of owner.
func (t *Task) Claim(owner string, at time.Time) error {
	if t.Status != TaskStatusPending || owner == "" {
		return ErrInvalidTransition
	}
	t.Status = TaskStatusProcessing
	t.ClaimOwner = owner
	t.ClaimedAt = &at
	t.UpdatedAt = at
	return nil
}

// Renew refreshes ClaimedAt on a task still processing under owner.
func (t *Task) Renew(owner string, at time.Time) error {
	if t.Status != TaskStatusProcessing || t.ClaimOwner != owner || owner == "" {
		return ErrInvalidTransition
	}
	t.ClaimedAt = &at
	t.UpdatedAt = at
	return nil
}

// Settle writes a terminal outcome and clears the claim.
// Pending tasks may be settled directly (orphan sweep); terminal tasks may not.
func (t *Task) Settle(outcome Outcome, at time.Time) error {
	if t.Status.IsTerminal() || !outcome.Status.IsTerminal() {
		return ErrInvalidTransition
	}
	t.Status = outcome.Status
	t.Result = outcome.Result
	t.VerifiedAt = &at
	t.release(at)
	return nil
}

// Release returns a processing task to pending.
func (t *Task) Release(at time.Time) error {
	if t.Status != TaskStatusProcessing {
		return ErrInvalidTransition
	}
	t.Status = TaskStatusPending
	t.release(at)
	return nil
}

func (t *Task) release(at time.Time) {
	t.ClaimOwner = ""
	t.ClaimedAt = nil
	t.UpdatedAt = at
}

// Clone returns a deep copy safe to hand across goroutines.
func (t *Task) Clone() *Task {
	cp := *t
	if t.ClaimedAt != nil {
		at := *t.ClaimedAt
		cp.ClaimedAt = &at
	}
	if t.VerifiedAt != nil {
		at := *t.VerifiedAt
		cp.VerifiedAt = &at
	}
	if t.Result != nil {
		r := *t.Result
		cp.Result = &r
	}
	return &cp
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusVerified, TaskStatusInvalid:
		return true
	default:
		return false
	}
}
