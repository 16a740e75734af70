package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/phrazzld/verifyd/internal/config"
	"github.com/phrazzld/verifyd/internal/platform/memory"
	"github.com/phrazzld/verifyd/internal/platform/postgres"
	redisledger "github.com/phrazzld/verifyd/internal/platform/redis"
	"github.com/phrazzld/verifyd/internal/store"
)

const connectTimeout = 5 * time.Second

// backends bundles the stores selected by configuration.
type backends struct {
	Tasks   store.TaskStore
	Tenants store.TenantStore
	Ledger  store.CreditLedger

	// DB is nil for the memory backend.
	DB *sql.DB

	closers []func() error
	pingers []func(context.Context) error
}

// Ping checks every backing service.
func (b *backends) Ping(ctx context.Context) error {
	for _, ping := range b.pingers {
		if err := ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases connections in reverse order of opening.
func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// openDatabase opens the Postgres pool and checks the connection.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", postgres.MapError(err))
	}

	logger.Info("database connection established")
	return db, nil
}

// openBackends wires the task store, tenant store and ledger for cfg.
func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	if cfg.Store.Backend == "memory" {
		s := memory.NewStore()
		b.Tasks, b.Tenants, b.Ledger = s, s, s
		logger.Info("using in-memory store; state is lost on exit")
		return b, nil
	}

	db, err := openDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	b.DB = db
	b.closers = append(b.closers, db.Close)
	b.pingers = append(b.pingers, db.PingContext)

	tenants := postgres.NewPostgresTenantStore(db, logger)
	b.Tasks = postgres.NewPostgresTaskStore(db, logger)
	b.Tenants = tenants
	b.Ledger = tenants

	if cfg.Ledger.Backend == "redis" {
		client := redisledger.NewClient(cfg.Ledger.RedisAddr, cfg.Ledger.RedisPassword, cfg.Ledger.RedisDB)
		ledger := redisledger.NewLedger(client, logger)
		b.closers = append(b.closers, client.Close)

		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := ledger.Ping(pingCtx); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to reach redis ledger: %w", err)
		}
		b.Ledger = ledger
		b.pingers = append(b.pingers, ledger.Ping)
		logger.Info("using redis credit ledger")
	}

	return b, nil
}

// requireDatabase rejects commands that need durable shared state.
func requireDatabase(b *backends, command string) error {
	if b.DB == nil {
		return fmt.Errorf("%s requires the postgres store backend", command)
	}
	return nil
}
