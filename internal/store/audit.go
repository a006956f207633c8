package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tollgate/tollgate/internal/model"
)

// AppendAudit adds one immutable record to the billed-call trail. Audit
// rows are never updated or deleted by the engine.
func (s *Store) AppendAudit(ctx context.Context, rec model.AuditRecord) error {
	return s.write(ctx, func() error {
		return appendAudit(ctx, s.db, rec)
	})
}

// appendAudit inserts the record through run, which is either the db or an
// open transaction. Shared between AppendAudit and FinalizeBilledSuccess.
func appendAudit(ctx context.Context, run execer, rec model.AuditRecord) error {
	_, err := run.ExecContext(ctx, `
		INSERT INTO billed_call_audit
		(request_id, document_type, document_key, endpoint, status_code, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RequestID,
		string(rec.DocumentType),
		rec.DocumentKey,
		rec.Endpoint,
		rec.StatusCode,
		boolToInt(rec.Success),
		fmtTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ListAudit returns all audit records, oldest first.
func (s *Store) ListAudit(ctx context.Context) ([]model.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, document_type, document_key, endpoint, status_code, success, created_at
		FROM billed_call_audit
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	recs := []model.AuditRecord{}
	for rows.Next() {
		var (
			rec       model.AuditRecord
			dt        string
			success   int
			createdAt sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.RequestID, &dt, &rec.DocumentKey, &rec.Endpoint, &rec.StatusCode, &success, &createdAt); err != nil {
			return nil, fmt.Errorf("list audit: %w", err)
		}
		rec.DocumentType = model.DocumentType(dt)
		rec.Success = success != 0
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("list audit: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return recs, nil
}

// AuditReportRow aggregates billed calls for cost reporting.
type AuditReportRow struct {
	DocumentType model.DocumentType `json:"document_type"`
	Endpoint     string             `json:"endpoint"`
	Calls        int                `json:"calls"`
	Failures     int                `json:"failures"`
}

// AuditReport aggregates the trail per (document_type, endpoint) in a
// stable order for the cost report.
func (s *Store) AuditReport(ctx context.Context) ([]AuditReportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_type, endpoint, COUNT(*), SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END)
		FROM billed_call_audit
		GROUP BY document_type, endpoint
		ORDER BY document_type ASC, endpoint ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("audit report: %w", err)
	}
	defer rows.Close()

	report := []AuditReportRow{}
	for rows.Next() {
		var (
			r  AuditReportRow
			dt string
		)
		if err := rows.Scan(&dt, &r.Endpoint, &r.Calls, &r.Failures); err != nil {
			return nil, fmt.Errorf("audit report: %w", err)
		}
		r.DocumentType = model.DocumentType(dt)
		report = append(report, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit report: %w", err)
	}
	return report, nil
}

// CountAudit returns the total number of audit rows. Used by tests and
// the staleness short-circuit property check.
func (s *Store) CountAudit(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM billed_call_audit`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit: %w", err)
	}
	return count, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
