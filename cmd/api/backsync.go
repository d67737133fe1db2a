package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBacksyncCommand(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backsync",
		Short: "Inspect and drain the back-sync retry queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Make one pass over the retry queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context(), state.cfg, state.logger, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			handle, err := rt.retryHandler()
			if err != nil {
				return fmt.Errorf("back-sync retry queue unavailable: %w", err)
			}
			result, err := rt.queue.Drain(cmd.Context(), handle)
			if err != nil {
				return err
			}
			remaining, err := rt.queue.Len(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "succeeded=%d requeued=%d dropped=%d remaining=%d\n",
				result.Succeeded, result.Requeued, result.Dropped, remaining)
			return nil
		},
	})
	return cmd
}
