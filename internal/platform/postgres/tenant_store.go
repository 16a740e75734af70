package postgres

import (
	"context"
	"database/sql"
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

// PostgresTenantStore implements store.TenantStore and store.CreditLedger.
// Balances live on the tenants row, so a debit is a single conditional UPDATE.
type PostgresTenantStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var (
	_ store.TenantStore  = (*PostgresTenantStore)(nil)
	_ store.CreditLedger = (*PostgresTenantStore)(nil)
)

// NewPostgresTenantStore creates a new PostgreSQL implementation of the tenant
// and ledger interfaces. If logger is nil, a default logger will be used.
func NewPostgresTenantStore(db store.DBTX, logger *slog.Logger) *PostgresTenantStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTenantStore{
		db:     db,
		logger: logger.With(slog.String("component", "tenant_store")),
	}
}

// GetTenant implements store.TenantStore.GetTenant.
// Soft-deleted tenants are reported as not found.
func (s *PostgresTenantStore) GetTenant(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	var (
		t         domain.Tenant
		deletedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, deleted_at, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &deletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTenantNotFound
		}
		return nil, MapError(err)
	}
	if deletedAt.Valid {
		return nil, store.ErrTenantNotFound
	}
	return &t, nil
}

// SaveTenant implements store.TenantStore.SaveTenant.
// New tenants start with a zero balance; existing balances are untouched.
func (s *PostgresTenantStore) SaveTenant(ctx context.Context, tenant *domain.Tenant) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if tenant.ID == uuid.Nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, domain.ErrEmptyTenantID)
	}
	now := time.Now().UTC()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	tenant.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, deleted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, deleted_at = EXCLUDED.deleted_at, updated_at = EXCLUDED.updated_at
	`, tenant.ID, tenant.Name, tenant.DeletedAt, tenant.CreatedAt, tenant.UpdatedAt)
	if err != nil {
		log.Error("failed to save tenant",
			slog.String("tenant_id", tenant.ID.String()),
			slog.String("error", redact.Error(err)))
		return MapError(err)
	}
	return nil
}

// TryDebit implements store.CreditLedger.TryDebit.
// The balance predicate and the decrement happen in one statement, so
// concurrent debits can never overdraw the account.
func (s *PostgresTenantStore) TryDebit(ctx context.Context, tenantID uuid.UUID, amount int64) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if amount <= 0 {
		return 0, fmt.Errorf("%w: debit amount must be positive", store.ErrInvalidEntity)
	}

	var balance int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE tenants
		SET balance = CASE WHEN unlimited THEN balance ELSE balance - $2 END,
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL AND (unlimited OR balance >= $2)
		RETURNING balance
	`, tenantID, amount).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		log.Error("failed to debit tenant",
			slog.String("tenant_id", tenantID.String()),
			slog.String("error", redact.Error(err)))
		return 0, MapError(err)
	}

	// No row matched: tell an empty account apart from a missing one.
	account, err := s.Account(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return account.Balance, store.ErrDebitFailed
}

// Account implements store.CreditLedger.Account.
func (s *PostgresTenantStore) Account(ctx context.Context, tenantID uuid.UUID) (*domain.Account, error) {
	account := domain.Account{TenantID: tenantID}
	err := s.db.QueryRowContext(ctx, `
		SELECT balance, unlimited
		FROM tenants
		WHERE id = $1 AND deleted_at IS NULL
	`, tenantID).Scan(&account.Balance, &account.Unlimited)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTenantNotFound
		}
		return nil, MapError(err)
	}
	return &account, nil
}

// SetAccount implements store.CreditLedger.SetAccount.
// The tenant row must already exist.
func (s *PostgresTenantStore) SetAccount(ctx context.Context, account *domain.Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tenants
		SET balance = $2, unlimited = $3, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, account.TenantID, account.Balance, account.Unlimited)
	if err != nil {
		return MapError(err)
	}
	if err := CheckRowsAffected(res, "tenant"); err != nil {
		if store.IsNotFoundError(err) {
			return store.ErrTenantNotFound
		}
		return err
	}
	return nil
}
