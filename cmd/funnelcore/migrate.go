package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"funnelcore/internal/core"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema for the configured storage driver",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Storage.SkipMigrate = false
			adapter, err := core.OpenAdapter(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer func() { _ = adapter.Close() }()
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", adapter.Dialect().Name())
			return err
		},
	}
}
