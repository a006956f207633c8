package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// sweepResult is the JSON payload for the sweep command.
type sweepResult struct {
	ExpiredActions    int `json:"expired_actions"`
	RecoveredActions  int `json:"recovered_actions"`
	RecoveredRequests int `json:"recovered_requests"`
}

// NewSweepCommand creates the sweep command: all time-driven housekeeping
// in one idempotent pass.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue staged actions and recover stuck executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			var res sweepResult
			if res.ExpiredActions, err = a.actions.SweepExpired(ctx); err != nil {
				return err
			}
			if res.RecoveredActions, err = a.actions.RecoverStuck(ctx); err != nil {
				return err
			}
			if res.RecoveredRequests, err = a.queue.RecoverStuck(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(out, res)
			}
			fmt.Fprintf(out, "expired actions: %d\nrecovered actions: %d\nrecovered billed requests: %d\n",
				res.ExpiredActions, res.RecoveredActions, res.RecoveredRequests)
			return nil
		},
	}
}
