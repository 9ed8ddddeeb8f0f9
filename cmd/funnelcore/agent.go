package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"funnelcore/internal/core"
	"funnelcore/pkg/domain"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage funnel agents",
	}
	cmd.AddCommand(newAgentAddCmd(), newAgentListCmd())
	return cmd
}

func openService(cmd *cobra.Command) (*core.Service, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := core.OpenAdapter(cmd.Context(), cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	return core.NewService(adapter), func() { _ = adapter.Close() }, nil
}

func newAgentAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			id, _ := flags.GetString("id")
			name, _ := flags.GetString("name")
			role, _ := flags.GetString("role")
			inactive, _ := flags.GetBool("inactive")

			svc, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			agent, err := svc.RegisterAgent(cmd.Context(), domain.Agent{
				ID:     id,
				Name:   name,
				Role:   domain.Role(role),
				Active: !inactive,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(agent)
		},
	}
	cmd.Flags().String("id", "", "agent id (generated when empty)")
	cmd.Flags().String("name", "", "display name")
	cmd.Flags().String("role", "", "prospector, closer or admin")
	cmd.Flags().Bool("inactive", false, "register the agent as inactive")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func newAgentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			agents, err := svc.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tROLE\tACTIVE")
			for _, a := range agents {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", a.ID, a.Name, a.Role, a.Active)
			}
			return w.Flush()
		},
	}
}
