package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newReindexCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the Meilisearch client directory from the identity store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context(), state.cfg, state.logger, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.meili == nil || !rt.meili.Healthy() {
				return errors.New("meilisearch is not configured or unreachable")
			}
			n, err := rt.search.Reindex(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d clients\n", n)
			return nil
		},
	}
}
