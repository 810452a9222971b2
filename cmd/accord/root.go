package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/metalagman/accord/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
)

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "accord",
		Short:         "accord verifies delivered work against a contract's acceptance criteria",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default .accord/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logging.Init(debug)
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(contractCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(verificationsCmd())
	rootCmd.AddCommand(validatorsCmd())
	rootCmd.AddCommand(serveCmd())
	return rootCmd
}
