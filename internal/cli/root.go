// Package cli implements the tollgate operations CLI.
//
// The commands are thin adapters over the component APIs: listing what
// awaits approval or confirmation, deciding billed requests, running the
// housekeeping sweeps, and rendering the billed-call cost report. They
// never touch the tables directly.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Database string
	Config   string
	Verbose  bool
	Format   string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tollgate CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tollgate",
		Short: "tollgate - staged actions and cost-gated document queries",
		Long: `Operations CLI for the staged-action and cost-gated query engine.

Inspect and decide billed query requests, review staged actions awaiting
confirmation, run housekeeping sweeps, and report paid-call spending.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "tollgate.db", "path to the SQLite database")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "path to the YAML config (defaults used when empty)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewDecideCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
