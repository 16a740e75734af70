package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/phrazzld/verifyd/internal/redact"
	"github.com/phrazzld/verifyd/internal/store"
)

// SweepResult counts what one reclaimer pass changed.
type SweepResult struct {
	Reclaimed int64 `json:"reclaimed"`
	Rejected  int64 `json:"rejected"`
}

// Reclaimer returns tasks whose claim has outlived the stale threshold to
// pending, so work held by a crashed worker is picked up again.
type Reclaimer struct {
	tasks  store.TaskStore
	cfg    ReclaimerConfig
	logger *slog.Logger
}

// NewReclaimer creates a reclaimer over tasks.
func NewReclaimer(tasks store.TaskStore, cfg ReclaimerConfig, logger *slog.Logger) *Reclaimer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 10 * time.Minute
	}
	return &Reclaimer{
		tasks:  tasks,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "reclaimer")),
	}
}

// Sweep runs one pass. Orphan rejection runs only when enabled and only after
// the stale reclaim succeeded.
func (r *Reclaimer) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	n, err := r.tasks.ReclaimStale(ctx, r.cfg.StaleThreshold)
	if err != nil {
		return res, err
	}
	res.Reclaimed = n

	if r.cfg.RejectOrphans {
		n, err = r.tasks.RejectOrphans(ctx)
		if err != nil {
			return res, err
		}
		res.Rejected = n
	}

	if res.Reclaimed > 0 || res.Rejected > 0 {
		r.logger.Info("sweep completed",
			slog.Int64("reclaimed", res.Reclaimed),
			slog.Int64("rejected", res.Rejected))
	}
	return res, nil
}

// Run sweeps immediately and then every interval until ctx is cancelled.
func (r *Reclaimer) Run(ctx context.Context) {
	r.sweepLogged(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepLogged(ctx)
		}
	}
}

func (r *Reclaimer) sweepLogged(ctx context.Context) {
	if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("sweep failed", slog.String("error", redact.Error(err)))
	}
}
