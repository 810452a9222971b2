package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/metalagman/accord/internal/lock"
	"github.com/metalagman/accord/internal/model"
	"github.com/metalagman/accord/internal/report"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// errBreached makes the process exit non-zero when a contract is breached.
var errBreached = errors.New("contract breached")

func verifyCmd() *cobra.Command {
	var (
		artifactsPath string
		rootDir       string
		format        string
		noColor       bool
		fulfill       bool
	)
	cmd := &cobra.Command{
		Use:   "verify <contract-id>",
		Short: "Verify a fulfilled contract against delivered artifacts",
		Long: "Run every acceptance criterion of the contract through its validator and move the contract to VERIFIED or BREACHED.\n" +
			"Artifacts are read from a YAML or JSON document (\"-\" for stdin); artifacts.root defaults to --root, then the working directory.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case report.FormatText, report.FormatMarkdown, report.FormatJSON:
			default:
				return fmt.Errorf("unknown format %q (want one of %s)", format, strings.Join(report.Formats, ", "))
			}
			artifacts, err := loadArtifacts(artifactsPath, cmd.InOrStdin())
			if err != nil {
				return err
			}

			var res *model.VerificationResult
			err = withApp(cmd.Context(), func(ctx context.Context, a app) error {
				if err := setRoot(artifacts, rootDir, string(a.Root)); err != nil {
					return err
				}
				id := args[0]
				l, err := lock.Acquire(locksDir(string(a.Root)), id)
				if err != nil {
					return err
				}
				defer func() { _ = l.Release() }()

				c, err := a.Contracts.Get(ctx, id)
				if err != nil {
					return err
				}
				if fulfill && c.State() != model.StateFulfilled {
					if err := c.MarkFulfilled(); err != nil {
						return err
					}
					if err := a.Contracts.SaveState(ctx, c); err != nil {
						return err
					}
				}
				res, err = a.Orchestrator.Verify(ctx, c, artifacts)
				if err != nil {
					return err
				}
				if err := a.Contracts.SaveState(context.WithoutCancel(ctx), c); err != nil {
					return err
				}
				log.Debug().Str("contract_id", c.ID).Str("verification_id", res.ID).Str("state", string(res.NewState)).Msg("contract state saved")
				return nil
			})
			if err != nil {
				return err
			}
			if err := report.Write(cmd.OutOrStdout(), format, res, report.Options{Color: !noColor}); err != nil {
				return err
			}
			if !res.OverallPassed {
				return errBreached
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&artifactsPath, "artifacts", "a", "", "artifacts document (YAML or JSON, - for stdin)")
	cmd.Flags().StringVar(&rootDir, "root", "", "delivered work tree exposed as artifacts.root")
	cmd.Flags().StringVarP(&format, "format", "f", report.FormatText, "output format: text, markdown or json")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable terminal styling")
	cmd.Flags().BoolVar(&fulfill, "fulfill", false, "mark the contract FULFILLED first if it is not")
	return cmd
}

// setRoot fills artifacts["root"] from the flag, or the project root when the artifacts
// do not carry one. Relative roots are resolved against the project root.
func setRoot(artifacts map[string]any, flag, projectRoot string) error {
	root := flag
	if root == "" {
		if existing, ok := artifacts["root"]; ok {
			s, ok := existing.(string)
			if !ok {
				return fmt.Errorf("artifacts root must be a path, got %T", existing)
			}
			root = s
		}
	}
	if root == "" {
		root = projectRoot
	}
	if !filepath.IsAbs(root) {
		root = filepath.Join(projectRoot, root)
	}
	artifacts["root"] = root
	return nil
}
