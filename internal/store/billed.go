package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tollgate/tollgate/internal/model"
)

// InsertBilledRequest tries to create a new proposal row. The partial
// unique index on active requests makes this the coalescing point: if a
// non-terminal request already exists for the same key, the insert is a
// no-op and inserted=false tells the caller to fetch the surviving row.
//
// This mirrors the claim-by-insert pattern: the unique constraint, not the
// application, arbitrates which proposal wins.
func (s *Store) InsertBilledRequest(ctx context.Context, req model.BilledQueryRequest) (inserted bool, err error) {
	err = s.write(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, `
			INSERT INTO billed_requests
			(id, document_type, document_key, endpoint, http_method, linked_process_id,
			 reason, public_check_at, cache_last_updated_at, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(document_type, document_key)
			WHERE status IN ('pending', 'approved', 'executing')
			DO NOTHING
		`,
			req.ID,
			string(req.DocumentType),
			req.DocumentKey,
			req.Endpoint,
			req.HTTPMethod,
			req.LinkedProcessID,
			req.Reason,
			fmtTime(req.PublicCheckAt),
			fmtTime(req.CacheLastUpdatedAt),
			string(model.BilledPending),
			fmtTime(req.CreatedAt),
		)
		if execErr != nil {
			return fmt.Errorf("insert billed request: %w", execErr)
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			return fmt.Errorf("insert billed request: %w", raErr)
		}
		inserted = n > 0
		return nil
	})
	return inserted, err
}

// FindActiveBilledRequest returns the single non-terminal request for
// (dt, key), or model.ErrNotFound.
func (s *Store) FindActiveBilledRequest(ctx context.Context, dt model.DocumentType, key string) (model.BilledQueryRequest, error) {
	row := s.db.QueryRowContext(ctx, billedSelect+`
		WHERE document_type = ? AND document_key = ?
		  AND status IN ('pending', 'approved', 'executing')
	`, string(dt), key)
	req, err := scanBilledRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.BilledQueryRequest{}, fmt.Errorf("active billed request %s/%s: %w", dt, key, model.ErrNotFound)
	}
	if err != nil {
		return model.BilledQueryRequest{}, fmt.Errorf("find active billed request: %w", err)
	}
	return req, nil
}

// GetBilledRequest returns the request with the given id, or model.ErrNotFound.
func (s *Store) GetBilledRequest(ctx context.Context, id string) (model.BilledQueryRequest, error) {
	row := s.db.QueryRowContext(ctx, billedSelect+` WHERE id = ?`, id)
	req, err := scanBilledRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.BilledQueryRequest{}, fmt.Errorf("billed request %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.BilledQueryRequest{}, fmt.Errorf("get billed request: %w", err)
	}
	return req, nil
}

// ListBilledRequests returns requests in the given statuses, oldest first.
// With no statuses, all requests are returned.
func (s *Store) ListBilledRequests(ctx context.Context, statuses ...model.BilledQueryStatus) ([]model.BilledQueryRequest, error) {
	query := billedSelect
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list billed requests: %w", err)
	}
	defer rows.Close()

	reqs := []model.BilledQueryRequest{}
	for rows.Next() {
		req, err := scanBilledRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("list billed requests: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list billed requests: %w", err)
	}
	return reqs, nil
}

// DecideBilledRequest moves pending → approved or pending → rejected. The
// conditional UPDATE is the claim: claimed=false means the request was not
// pending and the caller must report an invalid transition.
func (s *Store) DecideBilledRequest(ctx context.Context, id string, approved bool, by string, at time.Time) (claimed bool, err error) {
	to := model.BilledRejected
	if approved {
		to = model.BilledApproved
	}
	err = s.write(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, `
			UPDATE billed_requests
			SET status = ?, approved_at = ?, approved_by = ?
			WHERE id = ? AND status = 'pending'
		`, string(to), fmtTime(at), by, id)
		if execErr != nil {
			return fmt.Errorf("decide billed request: %w", execErr)
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			return fmt.Errorf("decide billed request: %w", raErr)
		}
		claimed = n > 0
		return nil
	})
	return claimed, err
}

// ClaimBilledExecution moves approved → executing, recording
// executing_since. At most one caller wins the claim.
func (s *Store) ClaimBilledExecution(ctx context.Context, id string, at time.Time) (claimed bool, err error) {
	err = s.write(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, `
			UPDATE billed_requests
			SET status = 'executing', executing_since = ?
			WHERE id = ? AND status = 'approved'
		`, fmtTime(at), id)
		if execErr != nil {
			return fmt.Errorf("claim billed execution: %w", execErr)
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			return fmt.Errorf("claim billed execution: %w", raErr)
		}
		claimed = n > 0
		return nil
	})
	return claimed, err
}

// FinalizeBilledSuccess completes an executing request in one transaction:
// upsert the refreshed cache entry, append the audit record, and move the
// request to executed. Crash atomicity matters here - either the paid
// result is fully recorded or the recovery sweep will find the request
// still executing.
func (s *Store) FinalizeBilledSuccess(ctx context.Context, id string, entry model.CacheEntry, audit model.AuditRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE billed_requests
			SET status = 'executed', executing_since = NULL, failure_reason = ''
			WHERE id = ? AND status = 'executing'
		`, id)
		if err != nil {
			return fmt.Errorf("finalize billed request: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("finalize billed request: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("finalize billed request %s: not executing: %w", id, model.ErrNotFound)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO cache_entries
			(document_type, document_key, payload, fetched_at, last_updated_at, linked_process_id, last_staleness_check_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(document_type, document_key) DO UPDATE SET
				payload                 = excluded.payload,
				fetched_at              = excluded.fetched_at,
				last_updated_at         = excluded.last_updated_at,
				linked_process_id       = CASE WHEN excluded.linked_process_id != ''
				                               THEN excluded.linked_process_id
				                               ELSE cache_entries.linked_process_id END,
				last_staleness_check_at = excluded.last_staleness_check_at
		`,
			string(entry.DocumentType),
			entry.DocumentKey,
			entry.Payload,
			fmtTime(entry.FetchedAt),
			fmtTime(entry.LastUpdatedAt),
			entry.LinkedProcessID,
			fmtTime(entry.LastStalenessCheckAt),
		)
		if err != nil {
			return fmt.Errorf("finalize billed request: upsert entry: %w", err)
		}

		return appendAudit(ctx, tx, audit)
	})
}

// RevertBilledExecution moves executing → approved after a failed paid
// call, recording why. The request stays eligible for a later, explicit
// retry; nothing here retries the billable call automatically.
func (s *Store) RevertBilledExecution(ctx context.Context, id, failureReason string) error {
	return s.write(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE billed_requests
			SET status = 'approved', executing_since = NULL, failure_reason = ?
			WHERE id = ? AND status = 'executing'
		`, failureReason, id)
		if err != nil {
			return fmt.Errorf("revert billed execution: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("revert billed execution: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("revert billed execution %s: not executing: %w", id, model.ErrNotFound)
		}
		return nil
	})
}

// RecoverStuckBilled reverts requests executing since before the cutoff
// back to approved, bumping recovery_count. Requests already recovered
// maxRecoveries times are marked failed instead. Returns both counts.
//
// Safe to re-run: a recovered request is no longer executing, so a second
// sweep with the same cutoff finds nothing.
func (s *Store) RecoverStuckBilled(ctx context.Context, cutoff time.Time, maxRecoveries int) (recovered, failed int, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, txErr := tx.ExecContext(ctx, `
			UPDATE billed_requests
			SET status = 'failed', executing_since = NULL,
			    failure_reason = 'recovery limit reached'
			WHERE status = 'executing' AND executing_since < ? AND recovery_count >= ?
		`, fmtTime(cutoff), maxRecoveries)
		if txErr != nil {
			return fmt.Errorf("fail stuck billed requests: %w", txErr)
		}
		n, txErr := res.RowsAffected()
		if txErr != nil {
			return fmt.Errorf("fail stuck billed requests: %w", txErr)
		}
		failed = int(n)

		res, txErr = tx.ExecContext(ctx, `
			UPDATE billed_requests
			SET status = 'approved', executing_since = NULL,
			    recovery_count = recovery_count + 1
			WHERE status = 'executing' AND executing_since < ?
		`, fmtTime(cutoff))
		if txErr != nil {
			return fmt.Errorf("recover stuck billed requests: %w", txErr)
		}
		n, txErr = res.RowsAffected()
		if txErr != nil {
			return fmt.Errorf("recover stuck billed requests: %w", txErr)
		}
		recovered = int(n)
		return nil
	})
	return recovered, failed, err
}

const billedSelect = `
	SELECT id, document_type, document_key, endpoint, http_method, linked_process_id,
	       reason, public_check_at, cache_last_updated_at, status, failure_reason,
	       recovery_count, created_at, approved_at, approved_by, executing_since
	FROM billed_requests
`

func scanBilledRequest(row rowScanner) (model.BilledQueryRequest, error) {
	var (
		req                           model.BilledQueryRequest
		dt, status                    string
		publicCheckAt, cacheUpdatedAt sql.NullString
		createdAt, approvedAt, execAt sql.NullString
	)
	err := row.Scan(
		&req.ID, &dt, &req.DocumentKey, &req.Endpoint, &req.HTTPMethod, &req.LinkedProcessID,
		&req.Reason, &publicCheckAt, &cacheUpdatedAt, &status, &req.FailureReason,
		&req.RecoveryCount, &createdAt, &approvedAt, &req.ApprovedBy, &execAt,
	)
	if err != nil {
		return model.BilledQueryRequest{}, err
	}
	req.DocumentType = model.DocumentType(dt)
	req.Status = model.BilledQueryStatus(status)
	if req.PublicCheckAt, err = parseTime(publicCheckAt); err != nil {
		return model.BilledQueryRequest{}, err
	}
	if req.CacheLastUpdatedAt, err = parseTime(cacheUpdatedAt); err != nil {
		return model.BilledQueryRequest{}, err
	}
	if req.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.BilledQueryRequest{}, err
	}
	if req.ApprovedAt, err = parseTime(approvedAt); err != nil {
		return model.BilledQueryRequest{}, err
	}
	if req.ExecutingSince, err = parseTime(execAt); err != nil {
		return model.BilledQueryRequest{}, err
	}
	return req, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ", ?"
	}
	return out
}
