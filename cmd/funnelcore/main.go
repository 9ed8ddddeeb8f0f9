// Command funnelcore runs the prospect funnel service and its maintenance
// tasks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"funnelcore/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "funnelcore",
		Short:         "Prospect funnel service",
		Long:          `funnelcore tracks prospects through the sales funnel and hands them off from prospectors to closers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to a YAML config file; FUNNEL_* variables override it")
	root.AddCommand(newServeCmd(), newMigrateCmd(), newAgentCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(path)
}
