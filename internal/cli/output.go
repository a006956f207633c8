package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/tollgate/tollgate/internal/model"
	"github.com/tollgate/tollgate/internal/store"
)

// writeJSON encodes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// fmtWhen renders a timestamp for text output; zero times show as "-".
func fmtWhen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// writeRequestsTable renders billed requests in columns.
func writeRequestsTable(w io.Writer, reqs []model.BilledQueryRequest) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tKEY\tSTATUS\tCREATED\tREASON")
	for _, r := range reqs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.DocumentType, r.DocumentKey, r.Status, fmtWhen(r.CreatedAt), r.Reason)
	}
	return tw.Flush()
}

// writeActionsTable renders staged actions in columns.
func writeActionsTable(w io.Writer, actions []model.StagedAction) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSESSION\tOPERATION\tSTATUS\tEXPIRES\tPREVIEW")
	for _, a := range actions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.SessionID, a.OperationName, a.Status, fmtWhen(a.ExpiresAt), a.Preview)
	}
	return tw.Flush()
}

// writeAuditReport renders the cost report.
func writeAuditReport(w io.Writer, rows []store.AuditReportRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tENDPOINT\tCALLS\tFAILURES")
	total := 0
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", r.DocumentType, r.Endpoint, r.Calls, r.Failures)
		total += r.Calls
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\ntotal billed calls: %d\n", total)
	return err
}
