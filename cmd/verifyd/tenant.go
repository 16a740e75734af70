package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/verifyd/internal/domain"
	"github.com/phrazzld/verifyd/internal/store"
	"github.com/spf13/cobra"
)

func newTenantCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants and their credit",
	}
	cmd.AddCommand(newTenantSetCmd(c), newTenantDeleteCmd(c))
	return cmd
}

func newTenantSetCmd(c *cli) *cobra.Command {
	var (
		id        string
		name      string
		balance   int64
		unlimited bool
	)

	cmd := &cobra.Command{
		Use:   "set --id ID --balance N",
		Short: "Create or update a tenant and set its balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := uuid.Parse(id)
			if err != nil {
				return fmt.Errorf("invalid --id: %w", err)
			}
			account := &domain.Account{TenantID: tenantID, Balance: balance, Unlimited: unlimited}
			if err := account.Validate(); err != nil {
				return err
			}

			cfg, log, err := c.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			b, err := openBackends(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()
			if err := requireDatabase(b, "tenant set"); err != nil {
				return err
			}

			if err := b.Tenants.SaveTenant(cmd.Context(), &domain.Tenant{ID: tenantID, Name: name}); err != nil {
				return err
			}
			if err := b.Ledger.SetAccount(cmd.Context(), account); err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(account)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "tenant ID")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().Int64Var(&balance, "balance", 0, "credit balance")
	cmd.Flags().BoolVar(&unlimited, "unlimited", false, "exempt the tenant from debits")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func newTenantDeleteCmd(c *cli) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "delete --id ID",
		Short: "Soft-delete a tenant; its pending tasks become orphans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := uuid.Parse(id)
			if err != nil {
				return fmt.Errorf("invalid --id: %w", err)
			}

			cfg, log, err := c.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			b, err := openBackends(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()
			if err := requireDatabase(b, "tenant delete"); err != nil {
				return err
			}

			tenant, err := b.Tenants.GetTenant(cmd.Context(), tenantID)
			if errors.Is(err, store.ErrTenantNotFound) {
				return fmt.Errorf("tenant %s not found", tenantID)
			}
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			tenant.DeletedAt = &now
			return b.Tenants.SaveTenant(cmd.Context(), tenant)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "tenant ID")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}
