// Package redis provides a credit ledger backed by Redis hashes. Debits run
// as a Lua script so the balance check and the decrement are one atomic step
// on the server, shared by every worker process.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/phrazzld/verifyd/internal/domain"
	"github.com/phrazzld/verifyd/internal/platform/logger"
	"github.com/phrazzld/verifyd/internal/store"
)

// KeyPrefix namespaces tenant account hashes.
const KeyPrefix = "tenant:"

const (
	fieldBalance   = "balance"
	fieldUnlimited = "unlimited"
)

// Script results: {status, balance}.
const (
	debitOK           = 1
	debitInsufficient = 0
	debitNoAccount    = -1
)

var debitScript = redis.NewScript(`
local balance = redis.call('HGET', KEYS[1], 'balance')
if not balance then
	return {-1, 0}
end
balance = tonumber(balance)
if redis.call('HGET', KEYS[1], 'unlimited') == '1' then
	return {1, balance}
end
local amount = tonumber(ARGV[1])
if balance < amount then
	return {0, balance}
end
return {1, redis.call('HINCRBY', KEYS[1], 'balance', -amount)}
`)

// Ledger implements store.CreditLedger on Redis.
type Ledger struct {
	client *redis.Client
	logger *slog.Logger
}

var _ store.CreditLedger = (*Ledger)(nil)

// NewClient builds a go-redis client for addr.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewLedger wraps client. If logger is nil, a default logger will be used.
func NewLedger(client *redis.Client, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		client: client,
		logger: logger.With(slog.String("component", "redis_ledger")),
	}
}

func accountKey(tenantID uuid.UUID) string {
	return KeyPrefix + tenantID.String()
}

// Ping checks connectivity.
func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return mapError(err)
	}
	return nil
}

// TryDebit implements store.CreditLedger.TryDebit.
func (l *Ledger) TryDebit(ctx context.Context, tenantID uuid.UUID, amount int64) (int64, error) {
	log := logger.FromContextOrDefault(ctx, l.logger)

	if amount <= 0 {
		return 0, fmt.Errorf("%w: debit amount must be positive", store.ErrInvalidEntity)
	}

	reply, err := debitScript.Run(ctx, l.client, []string{accountKey(tenantID)}, amount).Slice()
	if err != nil {
		log.Error("debit script failed",
			slog.String("tenant_id", tenantID.String()),
			slog.String("error", err.Error()))
		return 0, mapError(err)
	}
	if len(reply) != 2 {
		return 0, fmt.Errorf("unexpected debit reply: %v", reply)
	}
	status, _ := reply[0].(int64)
	balance, _ := reply[1].(int64)

	switch status {
	case debitOK:
		return balance, nil
	case debitInsufficient:
		return balance, store.ErrDebitFailed
	case debitNoAccount:
		return 0, store.ErrTenantNotFound
	default:
		return 0, fmt.Errorf("unexpected debit status %d", status)
	}
}

// Account implements store.CreditLedger.Account.
func (l *Ledger) Account(ctx context.Context, tenantID uuid.UUID) (*domain.Account, error) {
	values, err := l.client.HMGet(ctx, accountKey(tenantID), fieldBalance, fieldUnlimited).Result()
	if err != nil {
		return nil, mapError(err)
	}
	raw, ok := values[0].(string)
	if !ok {
		return nil, store.ErrTenantNotFound
	}
	balance, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt balance for tenant %s: %w", tenantID, err)
	}
	unlimited, _ := values[1].(string)
	return &domain.Account{
		TenantID:  tenantID,
		Balance:   balance,
		Unlimited: unlimited == "1",
	}, nil
}

// SetAccount implements store.CreditLedger.SetAccount.
func (l *Ledger) SetAccount(ctx context.Context, account *domain.Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	unlimited := "0"
	if account.Unlimited {
		unlimited = "1"
	}
	err := l.client.HSet(ctx, accountKey(account.TenantID),
		fieldBalance, account.Balance,
		fieldUnlimited, unlimited,
	).Err()
	return mapError(err)
}

// RemoveAccount deletes a tenant's account; later debits report the tenant as unknown.
func (l *Ledger) RemoveAccount(ctx context.Context, tenantID uuid.UUID) error {
	return mapError(l.client.Del(ctx, accountKey(tenantID)).Err())
}

// mapError keeps server replies as-is and classifies everything else
// (dial failures, timeouts, closed pools) as the store being unavailable.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return store.ErrTenantNotFound
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return err
	}
	return fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
}
