package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tollgate/tollgate/internal/model"
)

// pendingResult is the JSON payload for the pending command.
type pendingResult struct {
	BilledRequests []model.BilledQueryRequest `json:"billed_requests"`
	StagedActions  []stagedActionView         `json:"staged_actions"`
}

// stagedActionView is the JSON shape of a staged action; arguments are
// embedded as a string since they are already canonical JSON.
type stagedActionView struct {
	ID            string `json:"id"`
	SessionID     string `json:"session_id"`
	ActionType    string `json:"action_type"`
	OperationName string `json:"operation_name"`
	Arguments     string `json:"arguments"`
	Preview       string `json:"preview"`
	Status        string `json:"status"`
	ExpiresAt     string `json:"expires_at"`
}

// NewPendingCommand creates the pending command: everything awaiting a
// decision or confirmation.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List billed requests and staged actions awaiting a decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			reqs, err := a.queue.List(ctx, model.BilledPending, model.BilledApproved)
			if err != nil {
				return err
			}
			actions, err := a.actions.List(ctx, model.ActionPending)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				views := make([]stagedActionView, len(actions))
				for i, act := range actions {
					views[i] = stagedActionView{
						ID:            act.ID,
						SessionID:     act.SessionID,
						ActionType:    act.ActionType,
						OperationName: act.OperationName,
						Arguments:     string(act.Arguments),
						Preview:       act.Preview,
						Status:        string(act.Status),
						ExpiresAt:     fmtWhen(act.ExpiresAt),
					}
				}
				return writeJSON(out, pendingResult{BilledRequests: reqs, StagedActions: views})
			}

			fmt.Fprintf(out, "billed requests (%d):\n", len(reqs))
			if err := writeRequestsTable(out, reqs); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nstaged actions (%d):\n", len(actions))
			return writeActionsTable(out, actions)
		},
	}
}
