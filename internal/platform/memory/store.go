package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/verifyd/internal/domain"
	"github.com/phrazzld/verifyd/internal/store"
)

// Store keeps tasks, tenants and accounts in memory.
type Store struct {
	mu       sync.Mutex
	tasks    map[uuid.UUID]*domain.Task
	tenants  map[uuid.UUID]*domain.Tenant
	accounts map[uuid.UUID]*domain.Account

	// Now is the clock used for claim and settle timestamps.
	Now func() time.Time
}

var (
	_ store.TaskStore    = (*Store)(nil)
	_ store.TenantStore  = (*Store)(nil)
	_ store.CreditLedger = (*Store)(nil)
)

// NewStore returns an empty Store using the wall clock.
func NewStore() *Store {
	return &Store{
		tasks:    make(map[uuid.UUID]*domain.Task),
		tenants:  make(map[uuid.UUID]*domain.Tenant),
		accounts: make(map[uuid.UUID]*domain.Account),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue implements store.TaskStore.Enqueue.
func (s *Store) Enqueue(_ context.Context, tasks ...*domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
		if t.Status != domain.TaskStatusPending {
			return fmt.Errorf("%w: only pending tasks can be enqueued", store.ErrInvalidEntity)
		}
		if _, exists := s.tasks[t.ID]; exists {
			return fmt.Errorf("%w: task %s", store.ErrDuplicate, t.ID)
		}
	}
	for _, t := range tasks {
		s.tasks[t.ID] = t.Clone()
	}
	return nil
}

// Get implements store.TaskStore.Get.
func (s *Store) Get(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// ClaimBatch implements store.TaskStore.ClaimBatch, oldest tasks first.
func (s *Store) ClaimBatch(ctx context.Context, workerID string, n int) ([]*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if workerID == "" {
		return nil, fmt.Errorf("%w: worker ID cannot be empty", store.ErrInvalidEntity)
	}
	if n <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]*domain.Task, 0)
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusPending {
			pending = append(pending, t)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if len(pending) > n {
		pending = pending[:n]
	}

	now := s.Now()
	claimed := make([]*domain.Task, 0, len(pending))
	for _, t := range pending {
		if err := t.Claim(workerID, now); err != nil {
			continue
		}
		claimed = append(claimed, t.Clone())
	}
	return claimed, nil
}

// Settle implements store.TaskStore.Settle.
func (s *Store) Settle(ctx context.Context, taskID uuid.UUID, workerID string, outcome domain.Outcome) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !outcome.Status.IsTerminal() {
		return false, fmt.Errorf("%w: %s", domain.ErrInvalidTransition, outcome.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok || t.Status != domain.TaskStatusProcessing || t.ClaimOwner != workerID {
		return false, nil
	}
	if outcome.Result != nil {
		r := *outcome.Result
		outcome.Result = &r
	}
	if err := t.Settle(outcome, s.Now()); err != nil {
		return false, err
	}
	return true, nil
}

// RenewClaims implements store.TaskStore.RenewClaims.
func (s *Store) RenewClaims(ctx context.Context, workerID string, taskIDs ...uuid.UUID) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	renewed := make([]uuid.UUID, 0, len(taskIDs))
	for _, id := range taskIDs {
		t, ok := s.tasks[id]
		if !ok {
			continue
		}
		if err := t.Renew(workerID, now); err == nil {
			renewed = append(renewed, id)
		}
	}
	return renewed, nil
}

// ReleaseClaims implements store.TaskStore.ReleaseClaims.
func (s *Store) ReleaseClaims(_ context.Context, workerID string, taskIDs ...uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	release := func(t *domain.Task) int64 {
		if t.Status != domain.TaskStatusProcessing || t.ClaimOwner != workerID {
			return 0
		}
		if err := t.Release(now); err != nil {
			return 0
		}
		return 1
	}

	var released int64
	if len(taskIDs) == 0 {
		for _, t := range s.tasks {
			released += release(t)
		}
		return released, nil
	}
	for _, id := range taskIDs {
		if t, ok := s.tasks[id]; ok {
			released += release(t)
		}
	}
	return released, nil
}

// ReclaimStale implements store.TaskStore.ReclaimStale.
func (s *Store) ReclaimStale(_ context.Context, threshold time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	cutoff := now.Add(-threshold)
	var reclaimed int64
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusProcessing || !t.ClaimedAt.Before(cutoff) {
			continue
		}
		if err := t.Release(now); err == nil {
			reclaimed++
		}
	}
	return reclaimed, nil
}

// RejectOrphans implements store.TaskStore.RejectOrphans.
func (s *Store) RejectOrphans(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	var rejected int64
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusPending {
			continue
		}
		if tenant, ok := s.tenants[t.TenantID]; ok && !tenant.IsDeleted() {
			continue
		}
		if err := t.Settle(domain.FailedOutcome(domain.FailureOrphanTask, "tenant not found"), now); err == nil {
			rejected++
		}
	}
	return rejected, nil
}

// Backlog implements store.TaskStore.Backlog.
func (s *Store) Backlog(ctx context.Context) (store.Backlog, error) {
	if err := ctx.Err(); err != nil {
		return store.Backlog{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var b store.Backlog
	for _, t := range s.tasks {
		switch t.Status {
		case domain.TaskStatusPending:
			b.Pending++
		case domain.TaskStatusProcessing:
			b.Processing++
		}
	}
	return b, nil
}

// GetTenant implements store.TenantStore.GetTenant.
func (s *Store) GetTenant(_ context.Context, id uuid.UUID) (*domain.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[id]
	if !ok || t.IsDeleted() {
		return nil, store.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

// SaveTenant implements store.TenantStore.SaveTenant.
func (s *Store) SaveTenant(_ context.Context, tenant *domain.Tenant) error {
	if tenant.ID == uuid.Nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, domain.ErrEmptyTenantID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	cp := *tenant
	if existing, ok := s.tenants[tenant.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.tenants[tenant.ID] = &cp
	if _, ok := s.accounts[tenant.ID]; !ok {
		s.accounts[tenant.ID] = &domain.Account{TenantID: tenant.ID}
	}
	return nil
}

// TryDebit implements store.CreditLedger.TryDebit.
func (s *Store) TryDebit(ctx context.Context, tenantID uuid.UUID, amount int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: debit amount must be positive", store.ErrInvalidEntity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.accountLocked(tenantID)
	if err != nil {
		return 0, err
	}
	if account.Unlimited {
		return account.Balance, nil
	}
	if account.Balance < amount {
		return account.Balance, store.ErrDebitFailed
	}
	account.Balance -= amount
	return account.Balance, nil
}

// Account implements store.CreditLedger.Account.
func (s *Store) Account(_ context.Context, tenantID uuid.UUID) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.accountLocked(tenantID)
	if err != nil {
		return nil, err
	}
	cp := *account
	return &cp, nil
}

// SetAccount implements store.CreditLedger.SetAccount.
func (s *Store) SetAccount(_ context.Context, account *domain.Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tenants[account.TenantID]; !ok || t.IsDeleted() {
		return store.ErrTenantNotFound
	}
	cp := *account
	s.accounts[account.TenantID] = &cp
	return nil
}

func (s *Store) accountLocked(tenantID uuid.UUID) (*domain.Account, error) {
	t, ok := s.tenants[tenantID]
	if !ok || t.IsDeleted() {
		return nil, store.ErrTenantNotFound
	}
	account, ok := s.accounts[tenantID]
	if !ok {
		return nil, store.ErrTenantNotFound
	}
	return account, nil
}
