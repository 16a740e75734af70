package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. VERIFYD_POOL_MAX_WORKERS.
const EnvPrefix = "VERIFYD"

// ErrInvalidConfig wraps every validation failure returned by Load.
var ErrInvalidConfig = errors.New("validation failed")

// SetDefaults registers the default value of every key on v. Registering a
// default for each key also makes it visible to environment overrides.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.status_port", 8080)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("store.backend", "postgres")

	v.SetDefault("ledger.backend", "postgres")
	v.SetDefault("ledger.redis_addr", "")
	v.SetDefault("ledger.redis_password", "")
	v.SetDefault("ledger.redis_db", 0)

	v.SetDefault("worker.batch_size", 50)
	v.SetDefault("worker.idle_backoff", 5*time.Second)
	v.SetDefault("worker.max_backoff", 30*time.Second)
	v.SetDefault("worker.item_interval", 100*time.Millisecond)

	v.SetDefault("oracle.deadline", 10*time.Second)
	v.SetDefault("oracle.sender", "name@example.org")
	v.SetDefault("oracle.smtp_probe", false)
	v.SetDefault("oracle.disposable_domains", []string{})

	v.SetDefault("pool.min_workers", 0)
	v.SetDefault("pool.max_workers", 50)
	v.SetDefault("pool.tasks_per_worker", 50)
	v.SetDefault("pool.control_period", 30*time.Second)
	v.SetDefault("pool.spawn_stagger", time.Second)
	v.SetDefault("pool.stop_grace", 10*time.Second)
	v.SetDefault("pool.substrate", "process")
	v.SetDefault("pool.scale_down_order", "lifo")
	v.SetDefault("pool.batch_coordination", false)

	v.SetDefault("reclaim.stale_threshold", 5*time.Minute)
	v.SetDefault("reclaim.interval", time.Minute)
	v.SetDefault("reclaim.reject_orphans", true)
}

// NewViper returns a viper instance with defaults and environment overrides
// configured. Environment variables take precedence over config file values.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load configuration from environment variables only.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return FromViper(NewViper())
}

// LoadFile loads configuration from the YAML file at path, with environment
// variables taking precedence. An empty path behaves like Load.
func LoadFile(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper unmarshals and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate runs the struct tag rules and the checks spanning several sections.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.Store.Backend == "postgres" || c.Ledger.Backend == "postgres" {
		if c.Database.URL == "" {
			return fmt.Errorf("%w: database.url is required for the postgres backend", ErrInvalidConfig)
		}
	}

	if c.Store.Backend == "memory" && c.Pool.Substrate != "local" {
		return fmt.Errorf("%w: the memory store can only be shared by local workers", ErrInvalidConfig)
	}

	if (c.Store.Backend == "memory") != (c.Ledger.Backend == "memory") {
		return fmt.Errorf("%w: the memory ledger must be paired with the memory store", ErrInvalidConfig)
	}

	if floor := c.MinStaleThreshold(); c.Reclaim.StaleThreshold < floor {
		return fmt.Errorf(
			"%w: reclaim.stale_threshold (%s) must be at least %s, twice oracle.deadline (%s) + worker.item_interval (%s)",
			ErrInvalidConfig,
			c.Reclaim.StaleThreshold,
			floor,
			c.Oracle.Deadline,
			c.Worker.ItemInterval,
		)
	}

	return nil
}

// MinStaleThreshold is the shortest stale threshold that never reclaims from a
// live worker. Workers renew every claim they hold before each item, so the
// longest gap between renewals is one pacing wait plus one oracle call; the
// factor of two absorbs store latency around them.
func (c *Config) MinStaleThreshold() time.Duration {
	return 2 * (c.Oracle.Deadline + c.Worker.ItemInterval)
}
