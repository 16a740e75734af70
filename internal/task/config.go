package task

import (
	"time"

	"github.com/phrazzld/verifyd/internal/config"
)

// WorkerConfig tunes a Worker.
type WorkerConfig struct {
	// BatchSize is the most tasks claimed per attempt.
	BatchSize int

	// IdleBackoff is the first sleep after an empty or failed claim; it grows
	// exponentially up to MaxBackoff while claims keep coming back empty.
	IdleBackoff time.Duration
	MaxBackoff  time.Duration

	// ItemInterval is the minimum spacing between oracle calls. Zero disables pacing.
	ItemInterval time.Duration

	// OracleDeadline bounds every oracle call.
	OracleDeadline time.Duration

	// StaleThreshold is used for the sweep a worker runs when it starts.
	// Zero skips the sweep.
	StaleThreshold time.Duration
}

// NewWorkerConfig derives worker settings from application configuration.
func NewWorkerConfig(cfg *config.Config) WorkerConfig {
	return WorkerConfig{
		BatchSize:      cfg.Worker.BatchSize,
		IdleBackoff:    cfg.Worker.IdleBackoff,
		MaxBackoff:     cfg.Worker.MaxBackoff,
		ItemInterval:   cfg.Worker.ItemInterval,
		OracleDeadline: cfg.Oracle.Deadline,
		StaleThreshold: cfg.Reclaim.StaleThreshold,
	}
}

// withDefaults fills zero values so a partially populated config still runs.
func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.IdleBackoff <= 0 {
		c.IdleBackoff = 5 * time.Second
	}
	if c.MaxBackoff < c.IdleBackoff {
		c.MaxBackoff = c.IdleBackoff
	}
	if c.OracleDeadline <= 0 {
		c.OracleDeadline = 10 * time.Second
	}
	return c
}

// ReclaimerConfig tunes a Reclaimer.
type ReclaimerConfig struct {
	StaleThreshold time.Duration
	Interval       time.Duration
	RejectOrphans  bool
}

// NewReclaimerConfig derives reclaimer settings from application configuration.
func NewReclaimerConfig(cfg *config.Config) ReclaimerConfig {
	return ReclaimerConfig{
		StaleThreshold: cfg.Reclaim.StaleThreshold,
		Interval:       cfg.Reclaim.Interval,
		RejectOrphans:  cfg.Reclaim.RejectOrphans,
	}
}
