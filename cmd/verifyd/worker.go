package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/phrazzld/verifyd/internal/events"
	"github.com/phrazzld/verifyd/internal/oracle"
	"github.com/phrazzld/verifyd/internal/task"
	"github.com/spf13/cobra"
)

func newWorkerCmd(c *cli) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a single worker",
		Long: `Run one worker until it is signalled. The first SIGINT or SIGTERM finishes
the current item and releases the rest of the batch; a second one exits
immediately. Lifecycle events are written to stdout as JSON lines and logs
go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id == "" {
				id = "worker-" + uuid.NewString()[:8]
			}
			return runWorker(cmd.Context(), c, id)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "instance ID used as claim owner (generated when empty)")
	cmd.Flags().Int("batch-size", 0, "tasks claimed per attempt")
	c.bindFlag(cmd, "worker.batch_size", "batch-size")

	return cmd
}

func runWorker(parent context.Context, c *cli, id string) error {
	cfg, log, err := c.setup(os.Stderr)
	if err != nil {
		return err
	}
	log = log.With(slog.String("worker_id", id))

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	w := task.NewWorker(id, task.Deps{
		Tasks:   b.Tasks,
		Tenants: b.Tenants,
		Ledger:  b.Ledger,
		Oracle:  oracle.NewDNSOracle(cfg.Oracle, oracle.WithLogger(log)),
		Events:  events.NewEncoder(os.Stdout),
	}, task.NewWorkerConfig(cfg), log)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
		case <-ctx.Done():
			return
		}
		log.Info("stop requested; finishing current item")
		w.Stop()

		select {
		case <-sigs:
			log.Warn("second signal; abandoning current item")
			cancel()
		case <-ctx.Done():
		}
	}()

	err = w.Run(ctx)
	if err != nil && ctx.Err() != nil && parent.Err() == nil {
		// Forced stop requested by the operator.
		return nil
	}
	return err
}
