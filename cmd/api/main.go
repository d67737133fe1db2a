package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/helanludovic-commits/middleware-journea/internal/config"
	"github.com/helanludovic-commits/middleware-journea/internal/logging"
)

// cliState is filled in by the root command before any subcommand runs.
type cliState struct {
	cfg    config.Config
	logger *zap.Logger
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	state := &cliState{}

	cmd := &cobra.Command{
		Use:           "journea",
		Short:         "Journea middleware: CRM identity sync and itinerary save-state",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
			if err != nil {
				return err
			}
			state.cfg = cfg
			state.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if state.logger != nil {
				_ = state.logger.Sync()
			}
		},
	}

	cmd.AddCommand(newServeCommand(state))
	cmd.AddCommand(newMigrateCommand(state))
	cmd.AddCommand(newReplayCommand(state))
	cmd.AddCommand(newBacksyncCommand(state))
	cmd.AddCommand(newReindexCommand(state))
	return cmd
}
