package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Store    StoreConfig    `mapstructure:"store" validate:"required"`
	Ledger   LedgerConfig   `mapstructure:"ledger" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker" validate:"required"`
	Oracle   OracleConfig   `mapstructure:"oracle" validate:"required"`
	Pool     PoolConfig     `mapstructure:"pool" validate:"required"`
	Reclaim  ReclaimConfig  `mapstructure:"reclaim" validate:"required"`
}

// ServerConfig contains process-level settings shared by every command.
type ServerConfig struct {
	LogLevel  string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"omitempty,oneof=json text"`
	// StatusPort is where the manager serves /healthz and /status. Zero disables it.
	StatusPort int `mapstructure:"status_port" validate:"gte=0,lt=65536"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"omitempty,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// StoreConfig selects the TaskStore backend.
type StoreConfig struct {
	// Backend is "postgres" for multi-process deployments or "memory" for a
	// single process running the local substrate.
	Backend string `mapstructure:"backend" validate:"required,oneof=postgres memory"`
}

// LedgerConfig selects where tenant balances live.
type LedgerConfig struct {
	Backend       string `mapstructure:"backend" validate:"required,oneof=postgres redis memory"`
	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`
}

// WorkerConfig tunes a single worker's claim loop.
type WorkerConfig struct {
	BatchSize    int           `mapstructure:"batch_size" validate:"gte=1,lte=1000"`
	IdleBackoff  time.Duration `mapstructure:"idle_backoff" validate:"gt=0"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff" validate:"gtefield=IdleBackoff"`
	ItemInterval time.Duration `mapstructure:"item_interval" validate:"gte=0"`
}

// OracleConfig configures the verification oracle call.
type OracleConfig struct {
	Deadline          time.Duration `mapstructure:"deadline" validate:"gt=0"`
	Sender            string        `mapstructure:"sender" validate:"omitempty,email"`
	SMTPProbe         bool          `mapstructure:"smtp_probe"`
	DisposableDomains []string      `mapstructure:"disposable_domains"`
}

// PoolConfig configures the autoscaling pool manager.
type PoolConfig struct {
	MinWorkers        int           `mapstructure:"min_workers" validate:"gte=0"`
	MaxWorkers        int           `mapstructure:"max_workers" validate:"gte=1,gtefield=MinWorkers"`
	TasksPerWorker    int           `mapstructure:"tasks_per_worker" validate:"gte=1"`
	ControlPeriod     time.Duration `mapstructure:"control_period" validate:"gt=0"`
	SpawnStagger      time.Duration `mapstructure:"spawn_stagger" validate:"gte=0"`
	StopGrace         time.Duration `mapstructure:"stop_grace" validate:"gt=0"`
	Substrate         string        `mapstructure:"substrate" validate:"required,oneof=local process"`
	ScaleDownOrder    string        `mapstructure:"scale_down_order" validate:"required,oneof=lifo fifo"`
	BatchCoordination bool          `mapstructure:"batch_coordination"`
}

// ReclaimConfig configures the stale-claim sweep.
type ReclaimConfig struct {
	// StaleThreshold must be at least Config.MinStaleThreshold.
	StaleThreshold time.Duration `mapstructure:"stale_threshold" validate:"gt=0"`
	Interval       time.Duration `mapstructure:"interval" validate:"gt=0"`
	RejectOrphans  bool          `mapstructure:"reject_orphans"`
}
