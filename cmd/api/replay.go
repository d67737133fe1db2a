package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/helanludovic-commits/middleware-journea/internal/identity"
)

func newReplayCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "replay FILE",
		Short: "Push a recorded webhook payload through the reconciliation engine",
		Long: `Replay reads a webhook body from FILE ("-" for stdin) and runs it through
the same engine as POST /api/webhooks/crm. Back-sync runs before the command
exits.

Examples:
  journea replay ./testdata/contact-update.json
  cat payload.json | journea replay -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readPayload(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			rt, err := buildRuntime(cmd.Context(), state.cfg, state.logger, runtimeOptions{
				Dispatch: func(fn func()) { fn() },
			})
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.engine.Handle(cmd.Context(), raw)
			out := cmd.OutOrStdout()
			switch {
			case errors.Is(err, identity.ErrMalformedEvent), errors.Is(err, identity.ErrNoIdentity):
				fmt.Fprintf(out, "ignored: %v\n", err)
				return nil
			case err != nil:
				return err
			}

			tenantID := ""
			if result.Tenant != nil {
				tenantID = result.Tenant.ID
			}
			fmt.Fprintf(out, "outcome=%s person=%s email=%s tenant=%s name_source=%s\n",
				result.Outcome,
				result.Person.ID,
				result.Person.Email,
				tenantID,
				result.Event.NameSource,
			)
			return nil
		},
	}
}

func readPayload(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return raw, nil
}
