package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/metalagman/accord/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const defaultConfig = `# accord configuration
orchestrator:
  # 0 means one validator per CPU.
  concurrency: 0
  # 0 disables the overall verification deadline.
  deadline: 0s
database:
  path: .accord/accord.db
retention:
  keep_last: 100
server:
  addr: 127.0.0.1:8474
validators:
  schema:
    type: schema
  expr:
    type: expr
  files:
    type: files
  metric:
    type: metric
  # tests:
  #   type: command
  #   cmd: ["go", "test", "./..."]
  #   timeout: 10m
  #   expect: exit 0
  # review:
  #   type: agentreview
  #   cmd: ["codex", "exec", "--full-auto"]
  #   timeout: 15m
`

const exampleContract = `id: example
specification:
  title: Example deliverable
criteria:
  - id: readme
    validator: files
    description: The project has a README
    parameters:
      must_exist: ["README.md"]
  - id: coverage
    validator: metric
    description: Test coverage is at least 80%
    critical: false
    threshold: 0.8
    parameters:
      path: tests.coverage
`

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize an accord project",
		Long:  "Initialize an accord project by creating the .accord directory, a default config and an example contract.",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := workDir()
			if err != nil {
				return err
			}
			dir := filepath.Join(root, config.Dir)
			log.Info().Str("dir", dir).Msg("creating accord directory")
			if err := os.MkdirAll(locksDir(root), 0o755); err != nil {
				return fmt.Errorf("create locks dir: %w", err)
			}
			if err := writeIfMissing(config.DefaultPath(root), defaultConfig); err != nil {
				return err
			}
			if err := writeIfMissing(filepath.Join(dir, "example-contract.yaml"), exampleContract); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "accord initialized successfully")
			return err
		},
	}
}

func writeIfMissing(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		log.Info().Str("path", path).Msg("already exists, skipping")
		return nil
	}
	log.Info().Str("path", path).Msg("writing")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
