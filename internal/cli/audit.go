package cli

import (
	"github.com/spf13/cobra"
)

// NewAuditCommand creates the audit command: the billed-call cost report.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Report billed calls per document type and endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.queue.Report(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(out, rows)
			}
			return writeAuditReport(out, rows)
		},
	}
}
