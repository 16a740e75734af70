package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/verifyd/internal/domain"
	"github.com/phrazzld/verifyd/internal/platform/logger"
	"github.com/phrazzld/verifyd/internal/platform/postgres"
	"github.com/phrazzld/verifyd/internal/store"
	"github.com/spf13/cobra"
)

func newEnqueueCmd(c *cli) *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "enqueue --tenant ID [address...]",
		Short: "Insert pending verification tasks",
		Long: `Insert one pending task per address for a tenant. Addresses are read from
the arguments, or one per line from stdin when none are given. All tasks are
inserted in a single transaction.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := uuid.Parse(tenant)
			if err != nil {
				return fmt.Errorf("invalid --tenant: %w", err)
			}
			if len(args) == 0 {
				args, err = readLines(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}
			return runEnqueue(cmd, c, tenantID, args)
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant that owns the tasks")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read addresses: %w", err)
	}
	return lines, nil
}

func runEnqueue(cmd *cobra.Command, c *cli, tenantID uuid.UUID, payloads []string) error {
	if len(payloads) == 0 {
		return fmt.Errorf("no addresses to enqueue")
	}

	cfg, log, err := c.setup(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := logger.WithLogger(cmd.Context(), log)

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	if err := requireDatabase(b, "enqueue"); err != nil {
		return err
	}

	tasks := make([]*domain.Task, 0, len(payloads))
	for _, p := range payloads {
		t, err := domain.NewTask(tenantID, p)
		if err != nil {
			return fmt.Errorf("address %q: %w", p, err)
		}
		tasks = append(tasks, t)
	}

	err = store.RunInTransaction(ctx, b.DB, func(ctx context.Context, tx *sql.Tx) error {
		return postgres.NewPostgresTaskStore(tx, log).Enqueue(ctx, tasks...)
	})
	if err != nil {
		return err
	}

	for _, t := range tasks {
		fmt.Fprintln(cmd.OutOrStdout(), t.ID)
	}
	log.Info("enqueued tasks", "tenant_id", tenantID.String(), "count", len(tasks))
	return nil
}
