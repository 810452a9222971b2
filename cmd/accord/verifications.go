package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/metalagman/accord/internal/db"
	"github.com/metalagman/accord/internal/model"
	"github.com/metalagman/accord/internal/report"
	"github.com/metalagman/accord/internal/retention"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func verificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "verifications",
		Aliases: []string{"history"},
		Short:   "Inspect and prune verification history",
	}
	cmd.AddCommand(verificationsListCmd())
	cmd.AddCommand(verificationsShowCmd())
	cmd.AddCommand(verificationsPruneCmd())
	return cmd
}

func verificationsListCmd() *cobra.Command {
	var (
		contractID string
		limit      int
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List verifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				items, err := a.History.ListVerifications(ctx, contractID, limit)
				if err != nil {
					return err
				}
				if asJSON {
					if items == nil {
						items = []db.Verification{}
					}
					return report.JSON(cmd.OutOrStdout(), items)
				}
				if len(items) == 0 {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), "no verifications")
					return err
				}
				rows := make([][]string, 0, len(items))
				for _, v := range items {
					passed := "-"
					if v.OverallPassed != nil {
						passed = strconv.FormatBool(*v.OverallPassed)
					}
					rows = append(rows, []string{
						v.ID, v.ContractID, v.Status, passed, v.NewState,
						v.StartedAt.Local().Format(time.DateTime),
					})
				}
				return printTable(cmd.OutOrStdout(), []string{"ID", "CONTRACT", "STATUS", "PASSED", "STATE", "STARTED"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&contractID, "contract", "", "only this contract")
	cmd.Flags().IntVar(&limit, "limit", 20, "show at most N verifications (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func verificationsShowCmd() *cobra.Command {
	var (
		format  string
		noColor bool
	)
	cmd := &cobra.Command{
		Use:   "show <verification-id>",
		Short: "Show one verification with its criterion results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				v, results, err := a.History.GetVerification(ctx, args[0])
				if err != nil {
					return err
				}
				if format == report.FormatJSON {
					events, err := a.History.Events(ctx, args[0])
					if err != nil {
						return err
					}
					return report.JSON(cmd.OutOrStdout(), struct {
						db.Verification
						Results []model.CriterionResult `json:"criterion_results"`
						Events  []db.Event              `json:"events"`
					}{v, results, events})
				}
				if v.Status != db.StatusFinished {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "verification %s of %s is %s\n", v.ID, v.ContractID, v.Status)
					return err
				}
				return report.Write(cmd.OutOrStdout(), format, asResult(v, results), report.Options{Color: !noColor})
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", report.FormatText, "output format: text, markdown or json")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable terminal styling")
	return cmd
}

func asResult(v db.Verification, results []model.CriterionResult) *model.VerificationResult {
	res := &model.VerificationResult{
		ID:         v.ID,
		ContractID: v.ContractID,
		Results:    results,
		NewState:   model.ContractState(v.NewState),
		Advisories: v.Advisories,
		StartedAt:  v.StartedAt,
		FinishedAt: v.FinishedAt,
	}
	if v.OverallPassed != nil {
		res.OverallPassed = *v.OverallPassed
	}
	return res
}

func verificationsPruneCmd() *cobra.Command {
	var (
		keepLast int
		keepDays int
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune old verifications from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				policy := retention.Policy{KeepLast: keepLast, KeepDays: keepDays}
				if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
					policy = retention.Policy{
						KeepLast: a.Config.Retention.KeepLast,
						KeepDays: a.Config.Retention.KeepDays,
					}
				}
				if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
					return fmt.Errorf("set --keep-last or --keep-days (or configure retention in .accord/config.yaml)")
				}
				res, err := retention.Prune(ctx, a.DB, policy, time.Now(), dryRun)
				if err != nil {
					return err
				}
				mode := "deleted"
				if dryRun {
					mode = "would delete"
				}
				log.Info().Msgf("%s %d verifications (kept %d of %d)", mode, res.Deleted, res.Kept, res.Considered)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "keep the newest N verifications")
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "keep verifications newer than N days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be pruned without deleting")
	return cmd
}
