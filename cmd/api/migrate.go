package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helanludovic-commits/middleware-journea/internal/store"
)

func newMigrateCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := state.cfg
			if cfg.UsesMemoryStore() {
				return errors.New("DATABASE_URL selects the in-memory store; nothing to migrate")
			}
			db, err := store.Open(cmd.Context(), cfg.DatabaseURL, store.PoolOptions{MaxOpenConns: 1})
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(out, "database is up to date")
				return nil
			}
			for _, version := range applied {
				fmt.Fprintln(out, "applied", version)
			}
			return nil
		},
	}
}
