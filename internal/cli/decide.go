package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// DecideOptions holds flags for the decide command.
type DecideOptions struct {
	*RootOptions
	Approve bool
	Reject  bool
	By      string
}

// NewDecideCommand creates the decide command for billed requests.
func NewDecideCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DecideOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "decide <request-id>",
		Short: "Approve or reject a pending billed query request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Approve == opts.Reject {
				return fmt.Errorf("exactly one of --approve or --reject is required")
			}
			if opts.By == "" {
				return fmt.Errorf("--by is required: decisions are attributed")
			}

			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := a.queue.Decide(cmd.Context(), args[0], opts.Approve, opts.By)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(out, req)
			}
			fmt.Fprintf(out, "request %s is now %s (by %s)\n", req.ID, req.Status, req.ApprovedBy)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Approve, "approve", false, "approve the request")
	cmd.Flags().BoolVar(&opts.Reject, "reject", false, "reject the request")
	cmd.Flags().StringVar(&opts.By, "by", "", "who is making the decision")

	return cmd
}
