package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/phrazzld/verifyd/internal/config"
	"github.com/phrazzld/verifyd/internal/platform/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli carries state shared by every subcommand.
type cli struct {
	v          *viper.Viper
	configFile string
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "verifyd",
		Short: "Credit-gated email verification pipeline",
		Long: `verifyd drains a shared queue of verification tasks with an autoscaling
fleet of workers. Workers claim tasks from the store, check the tenant's
credit, ask the oracle for a verdict and settle each task exactly once.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configFile, "config", "c", "", "config file (YAML); environment variables VERIFYD_* take precedence")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	_ = c.v.BindPFlag("server.log_level", flags.Lookup("log-level"))

	root.AddCommand(
		newManagerCmd(c),
		newWorkerCmd(c),
		newReclaimCmd(c),
		newMigrateCmd(c),
		newEnqueueCmd(c),
		newTenantCmd(c),
	)
	return root
}

// load reads the config file, if any, and validates the result.
func (c *cli) load() (*config.Config, error) {
	if c.configFile != "" {
		c.v.SetConfigFile(c.configFile)
		if err := c.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return config.FromViper(c.v)
}

// setup loads configuration and builds the logger writing to out.
func (c *cli) setup(out io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := c.load()
	if err != nil {
		return nil, nil, err
	}
	if out == nil {
		out = os.Stdout
	}
	log, err := logger.SetupWithWriter(cfg.Server, out)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return cfg, log, nil
}

// bindFlag binds a flag of cmd to a config key.
func (c *cli) bindFlag(cmd *cobra.Command, key, flag string) {
	_ = c.v.BindPFlag(key, cmd.Flags().Lookup(flag))
}
