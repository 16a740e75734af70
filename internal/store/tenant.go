package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/verifyd/internal/domain"
)

// TenantStore resolves the tenant that owns a task.
type TenantStore interface {
	// GetTenant returns the tenant with the given ID.
	// Returns ErrTenantNotFound if it does not exist or has been deleted.
	GetTenant(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)

	// SaveTenant creates or updates a tenant.
	SaveTenant(ctx context.Context, tenant *domain.Tenant) error
}

// CreditLedger holds per-tenant balances and performs the atomic,
// conditional debit that gates processing.
type CreditLedger interface {
	// TryDebit decrements the tenant's balance by amount if and only if the
	// balance covers it; unlimited accounts succeed without a decrement.
	// Returns the balance after the operation.
	// Returns ErrDebitFailed when the balance is insufficient and
	// ErrTenantNotFound when the tenant has no account.
	TryDebit(ctx context.Context, tenantID uuid.UUID, amount int64) (int64, error)

	// Account returns a read-only snapshot of the tenant's account.
	// Returns ErrTenantNotFound when the tenant has no account.
	Account(ctx context.Context, tenantID uuid.UUID) (*domain.Account, error)

	// SetAccount stores balance and unlimited flag for a tenant, as the
	// billing system would.
	SetAccount(ctx context.Context, account *domain.Account) error
}
