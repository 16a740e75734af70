package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for tenants and accounts
var (
	ErrEmptyTenantID   = errors.New("tenant ID cannot be empty")
	ErrNegativeBalance = errors.New("balance cannot be negative")
)

// Tenant is the credit-owning entity on whose behalf tasks are processed.
// A tenant with DeletedAt set is treated as unknown.
type Tenant struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsDeleted reports whether the tenant has been soft-deleted.
func (t *Tenant) IsDeleted() bool {
	return t.DeletedAt != nil
}

// Account is a tenant's credit position. Balance never goes negative;
// unlimited accounts are never decremented.
type Account struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	Balance   int64     `json:"balance"`
	Unlimited bool      `json:"unlimited"`
}

// Validate checks the account invariants.
func (a *Account) Validate() error {
	if a.TenantID == uuid.Nil {
		return ErrEmptyTenantID
	}
	if a.Balance < 0 {
		return ErrNegativeBalance
	}
	return nil
}

// CanAfford reports whether a debit of amount would currently succeed.
func (a *Account) CanAfford(amount int64) bool {
	return a.Unlimited || a.Balance >= amount
}
