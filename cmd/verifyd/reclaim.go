package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/verifyd/internal/task"
	"github.com/spf13/cobra"
)

func newReclaimCmd(c *cli) *cobra.Command {
	var loop bool

	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Return stale claims to pending",
		Long: `Run one reclaim sweep and print what changed, or keep sweeping on the
reclaim interval with --loop. Safe to run alongside the manager.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReclaim(cmd.Context(), cmd, c, loop)
		},
	}

	cmd.Flags().BoolVar(&loop, "loop", false, "sweep every reclaim interval until interrupted")
	cmd.Flags().Duration("stale-threshold", 0, "claim age after which a task is reclaimed")
	c.bindFlag(cmd, "reclaim.stale_threshold", "stale-threshold")

	return cmd
}

func runReclaim(parent context.Context, cmd *cobra.Command, c *cli, loop bool) error {
	cfg, log, err := c.setup(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	r := task.NewReclaimer(b.Tasks, task.NewReclaimerConfig(cfg), log)
	if loop {
		r.Run(ctx)
		return nil
	}

	res, err := r.Sweep(ctx)
	if err != nil {
		return err
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
}
