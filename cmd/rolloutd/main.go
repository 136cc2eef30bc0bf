// rolloutd runs progressive bundle rollouts across edge device fleets.
package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/config"
	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/infrastructure/sqlite"
	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/observability"
)

// cli holds what every subcommand shares once the root command has
// loaded the configuration.
type cli struct {
	configPath string
	cfg        config.Config
	logger     zerolog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	cmd := &cobra.Command{
		Use:          "rolloutd [cmd]",
		Short:        "Progressive bundle rollouts for edge device fleets",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
	}
	cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to a TOML or YAML config file")

	cmd.AddCommand(newServeCmd(c))
	cmd.AddCommand(newMigrateCmd(c))
	return cmd
}

func (c *cli) load() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	level, err := observability.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = observability.NewLogger(os.Stderr, "rolloutd", level, cfg.LogFormat)
	return nil
}

func (c *cli) openDB() (*sql.DB, error) {
	db, err := sqlite.Open(c.cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", c.cfg.DatabasePath, err)
	}
	return db, nil
}
