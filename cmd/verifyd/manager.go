package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phrazzld/verifyd/internal/api"
	"github.com/phrazzld/verifyd/internal/config"
	"github.com/phrazzld/verifyd/internal/events"
	"github.com/phrazzld/verifyd/internal/oracle"
	"github.com/phrazzld/verifyd/internal/pool"
	"github.com/phrazzld/verifyd/internal/task"
	"github.com/spf13/cobra"
)

const statusShutdownTimeout = 10 * time.Second

func newManagerCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manager",
		Short: "Run the autoscaling pool manager",
		Long: `Run the control loop that sizes the worker fleet to the backlog, reclaims
stale claims and serves /healthz and /status.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runManager(cmd.Context(), c)
		},
	}

	flags := cmd.Flags()
	flags.Int("min-workers", 0, "minimum fleet size while work exists")
	flags.Int("max-workers", 0, "maximum fleet size")
	flags.Int("tasks-per-worker", 0, "backlog served by one worker")
	flags.Duration("control-period", 0, "time between control ticks")
	flags.Duration("stale-threshold", 0, "claim age after which a task is reclaimed")
	flags.String("substrate", "", "where workers run: local or process")
	c.bindFlag(cmd, "pool.min_workers", "min-workers")
	c.bindFlag(cmd, "pool.max_workers", "max-workers")
	c.bindFlag(cmd, "pool.tasks_per_worker", "tasks-per-worker")
	c.bindFlag(cmd, "pool.control_period", "control-period")
	c.bindFlag(cmd, "reclaim.stale_threshold", "stale-threshold")
	c.bindFlag(cmd, "pool.substrate", "substrate")

	return cmd
}

func runManager(parent context.Context, c *cli) error {
	cfg, log, err := c.setup(os.Stdout)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Warn("failed to close backends", slog.String("error", err.Error()))
		}
	}()

	emitter := events.NewInMemoryEventEmitter(log)
	sup, err := newSupervisor(cfg, c.configFile, b, emitter, log)
	if err != nil {
		return err
	}

	reclaimer := task.NewReclaimer(b.Tasks, task.NewReclaimerConfig(cfg), log)
	manager := pool.NewManager(b.Tasks, sup, pool.NewManagerConfig(cfg), log, pool.WithReclaimer(reclaimer))
	emitter.RegisterHandler(manager)

	var server *http.Server
	if cfg.Server.StatusPort > 0 {
		server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.StatusPort),
			Handler:           api.NewRouter(api.NewHandler(manager, b.Ping, log)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("starting status server", slog.Int("port", cfg.Server.StatusPort))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("status server failed", slog.String("error", err.Error()))
			}
		}()
	}

	runErr := manager.Run(ctx)
	log.Info("pool manager stopped")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("status server shutdown failed", slog.String("error", err.Error()))
		}
	}

	if errors.Is(runErr, pool.ErrForcedStop) {
		log.Warn("some workers had to be terminated; their claims are left to the reclaimer")
		return nil
	}
	return runErr
}

// newSupervisor builds the worker substrate selected by pool.substrate.
func newSupervisor(
	cfg *config.Config,
	configFile string,
	b *backends,
	emitter events.EventEmitter,
	log *slog.Logger,
) (pool.Supervisor, error) {
	if cfg.Pool.Substrate == "local" {
		workerCfg := task.NewWorkerConfig(cfg)
		verifier := oracle.NewDNSOracle(cfg.Oracle, oracle.WithLogger(log))
		return pool.NewLocalSupervisor(func(id string) pool.Runner {
			return task.NewWorker(id, task.Deps{
				Tasks:   b.Tasks,
				Tenants: b.Tenants,
				Ledger:  b.Ledger,
				Oracle:  verifier,
				Events:  emitter,
			}, workerCfg, log)
		}, log), nil
	}

	var args []string
	if configFile != "" {
		args = append(args, "--config", configFile)
	}
	return pool.NewProcessSupervisor(pool.ProcessConfig{
		Args:      args,
		BatchSize: cfg.Worker.BatchSize,
	}, emitter, log)
}
