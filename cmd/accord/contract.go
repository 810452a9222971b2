package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/metalagman/accord/internal/contract"
	"github.com/metalagman/accord/internal/lock"
	"github.com/metalagman/accord/internal/report"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func contractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contract",
		Short: "Manage contracts",
	}
	cmd.AddCommand(contractAddCmd())
	cmd.AddCommand(contractListCmd())
	cmd.AddCommand(contractShowCmd())
	cmd.AddCommand(contractFulfillCmd())
	return cmd
}

func contractAddCmd() *cobra.Command {
	var fulfill bool
	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Add a contract from a YAML or JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := contract.Load(args[0])
			if err != nil {
				return err
			}
			if fulfill {
				if err := c.MarkFulfilled(); err != nil {
					return err
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				if err := a.Contracts.Add(ctx, c); err != nil {
					return err
				}
				log.Info().Str("contract_id", c.ID).Str("state", string(c.State())).Int("criteria", len(c.Criteria)).Msg("contract added")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fulfill, "fulfill", false, "mark the contract FULFILLED right away")
	return cmd
}

func contractListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				items, err := a.Contracts.List(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					if items == nil {
						items = []*contract.Contract{}
					}
					return report.JSON(cmd.OutOrStdout(), items)
				}
				if len(items) == 0 {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), "no contracts")
					return err
				}
				rows := make([][]string, 0, len(items))
				for _, c := range items {
					rows = append(rows, []string{c.ID, string(c.State()), strconv.Itoa(len(c.Criteria))})
				}
				return printTable(cmd.OutOrStdout(), []string{"ID", "STATE", "CRITERIA"}, rows)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func contractShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a contract as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				c, err := a.Contracts.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return report.JSON(cmd.OutOrStdout(), c)
			})
		},
	}
}

func contractFulfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fulfill <id>",
		Short: "Mark a contract FULFILLED so it can be verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				l, err := lock.Acquire(locksDir(string(a.Root)), args[0])
				if err != nil {
					return err
				}
				defer func() { _ = l.Release() }()

				c, err := a.Contracts.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if err := c.MarkFulfilled(); err != nil {
					return err
				}
				if err := a.Contracts.SaveState(ctx, c); err != nil {
					return err
				}
				log.Info().Str("contract_id", c.ID).Msg("contract fulfilled")
				return nil
			})
		},
	}
}
