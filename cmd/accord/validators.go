package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/metalagman/accord/internal/report"
	"github.com/spf13/cobra"
)

func validatorsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "validators",
		Short: "List registered validators",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				entries := a.Registry.Entries()
				if asJSON {
					return report.JSON(cmd.OutOrStdout(), entries)
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					m := e.Metadata
					version := m.Version
					if version == "" {
						version = "-"
					}
					rows = append(rows, []string{
						e.Name,
						a.Config.Validators[e.Name].Type,
						version,
						fmt.Sprintf("%gs", m.TimeoutSeconds()),
						yesNo(m.RequiresNetwork),
						yesNo(m.RequiresSandboxing),
						strings.Join(m.RuntimeRequirements, " "),
					})
				}
				return printTable(cmd.OutOrStdout(), []string{"NAME", "TYPE", "VERSION", "TIMEOUT", "NETWORK", "SANDBOX", "REQUIRES"}, rows)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
