package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tollgate/tollgate/internal/model"
)

// InsertStagedAction tries to create a new pending action. The partial
// unique index on (session_id, fingerprint) for active statuses makes the
// constraint the arbiter: inserted=false means an equivalent action is
// already outstanding for this session and the caller must coalesce.
func (s *Store) InsertStagedAction(ctx context.Context, a model.StagedAction) (inserted bool, err error) {
	err = s.write(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, `
			INSERT INTO staged_actions
			(id, session_id, action_type, operation_name, arguments, fingerprint,
			 preview, status, notes, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id, fingerprint)
			WHERE status IN ('pending', 'executing')
			DO NOTHING
		`,
			a.ID,
			a.SessionID,
			a.ActionType,
			a.OperationName,
			string(a.Arguments),
			a.Fingerprint,
			a.Preview,
			string(model.ActionPending),
			a.Notes,
			fmtTime(a.CreatedAt),
			fmtTime(a.ExpiresAt),
		)
		if execErr != nil {
			return fmt.Errorf("insert staged action: %w", execErr)
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			return fmt.Errorf("insert staged action: %w", raErr)
		}
		inserted = n > 0
		return nil
	})
	return inserted, err
}

// RecordSupersededAction persists the losing duplicate of a coalesced
// staging attempt so the audit trail shows it was received. The row is
// terminal from birth.
func (s *Store) RecordSupersededAction(ctx context.Context, a model.StagedAction, winnerID string) error {
	return s.write(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO staged_actions
			(id, session_id, action_type, operation_name, arguments, fingerprint,
			 preview, status, notes, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			a.ID,
			a.SessionID,
			a.ActionType,
			a.OperationName,
			string(a.Arguments),
			a.Fingerprint,
			a.Preview,
			string(model.ActionSuperseded),
			fmt.Sprintf("superseded by %s", winnerID),
			fmtTime(a.CreatedAt),
			fmtTime(a.ExpiresAt),
		)
		if err != nil {
			return fmt.Errorf("record superseded action: %w", err)
		}
		return nil
	})
}

// FindActiveAction returns the non-terminal action matching (session,
// fingerprint), or model.ErrNotFound.
func (s *Store) FindActiveAction(ctx context.Context, sessionID, fingerprint string) (model.StagedAction, error) {
	row := s.db.QueryRowContext(ctx, actionSelect+`
		WHERE session_id = ? AND fingerprint = ?
		  AND status IN ('pending', 'executing')
	`, sessionID, fingerprint)
	a, err := scanStagedAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StagedAction{}, fmt.Errorf("active action for session %s: %w", sessionID, model.ErrNotFound)
	}
	if err != nil {
		return model.StagedAction{}, fmt.Errorf("find active action: %w", err)
	}
	return a, nil
}

// GetStagedAction returns the action with the given id, or model.ErrNotFound.
func (s *Store) GetStagedAction(ctx context.Context, id string) (model.StagedAction, error) {
	row := s.db.QueryRowContext(ctx, actionSelect+` WHERE id = ?`, id)
	a, err := scanStagedAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StagedAction{}, fmt.Errorf("staged action %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.StagedAction{}, fmt.Errorf("get staged action: %w", err)
	}
	return a, nil
}

// ListStagedActions returns actions in the given statuses, oldest first.
// With no statuses, all actions are returned.
func (s *Store) ListStagedActions(ctx context.Context, statuses ...model.ActionStatus) ([]model.StagedAction, error) {
	query := actionSelect
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
		return nil, fmt.Errorf("list staged actions: %w", err)
	}
	defer rows.Close()

	actions := []model.StagedAction{}
	for rows.Next() {
		a, err := scanStagedAction(rows)
		if err != nil {
			return nil, fmt.Errorf("list staged actions: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list staged actions: %w", err)
	}
	return actions, nil
}

// ClaimActionExecution moves pending → executing. At most one caller wins.
func (s *Store) ClaimActionExecution(ctx context.Context, id string, at time.Time) (claimed bool, err error) {
	err = s.write(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, `
			UPDATE staged_actions
			SET status = 'executing', executing_since = ?
			WHERE id = ? AND status = 'pending'
		`, fmtTime(at), id)
		if execErr != nil {
			return fmt.Errorf("claim action execution: %w", execErr)
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			return fmt.Errorf("claim action execution: %w", raErr)
		}
		claimed = n > 0
		return nil
	})
	return claimed, err
}

// FinishActionExecution moves executing → executed, recording executed_at.
// Only reached after the side-effect callback returned success.
func (s *Store) FinishActionExecution(ctx context.Context, id string, at time.Time) error {
	return s.write(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE staged_actions
			SET status = 'executed', executing_since = NULL, executed_at = ?
			WHERE id = ? AND status = 'executing'
		`, fmtTime(at), id)
		if err != nil {
			return fmt.Errorf("finish action execution: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("finish action execution: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("finish action execution %s: not executing: %w", id, model.ErrNotFound)
		}
		return nil
	})
}

// RevertActionExecution moves executing → pending after a failed callback,
// appending the failure to notes so the user sees why the retry is needed.
func (s *Store) RevertActionExecution(ctx context.Context, id, note string) error {
	return s.write(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE staged_actions
			SET status = 'pending', executing_since = NULL,
			    notes = CASE WHEN notes = '' THEN ? ELSE notes || char(10) || ? END
			WHERE id = ? AND status = 'executing'
		`, note, note, id)
		if err != nil {
			return fmt.Errorf("revert action execution: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("revert action execution: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("revert action execution %s: not executing: %w", id, model.ErrNotFound)
		}
		return nil
	})
}

// CancelStagedAction moves pending → cancelled.
func (s *Store) CancelStagedAction(ctx context.Context, id string) (claimed bool, err error) {
	err = s.write(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, `
			UPDATE staged_actions
			SET status = 'cancelled'
			WHERE id = ? AND status = 'pending'
		`, id)
		if execErr != nil {
			return fmt.Errorf("cancel staged action: %w", execErr)
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			return fmt.Errorf("cancel staged action: %w", raErr)
		}
		claimed = n > 0
		return nil
	})
	return claimed, err
}

// SweepExpiredActions marks pending actions past their TTL as expired.
// Idempotent: expired actions are terminal and never match again.
func (s *Store) SweepExpiredActions(ctx context.Context, now time.Time) (int, error) {
	var swept int
	err := s.write(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, `
			UPDATE staged_actions
			SET status = 'expired'
			WHERE status = 'pending' AND expires_at < ?
		`, fmtTime(now))
		if execErr != nil {
			return fmt.Errorf("sweep expired actions: %w", execErr)
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			return fmt.Errorf("sweep expired actions: %w", raErr)
		}
		swept = int(n)
		return nil
	})
	return swept, err
}

// RecoverStuckActions reverts actions executing since before the cutoff
// back to pending so a later confirm can complete the side effect.
// The executor callback must tolerate bounded re-delivery; local ownership
// of execution is guaranteed, global idempotency of the external call is
// the caller's contract.
func (s *Store) RecoverStuckActions(ctx context.Context, cutoff time.Time) (int, error) {
	var recovered int
	err := s.write(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, `
			UPDATE staged_actions
			SET status = 'pending', executing_since = NULL,
			    notes = CASE WHEN notes = '' THEN 'recovered from interrupted execution'
			            ELSE notes || char(10) || 'recovered from interrupted execution' END
			WHERE status = 'executing' AND executing_since < ?
		`, fmtTime(cutoff))
		if execErr != nil {
			return fmt.Errorf("recover stuck actions: %w", execErr)
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			return fmt.Errorf("recover stuck actions: %w", raErr)
		}
		recovered = int(n)
		return nil
	})
	return recovered, err
}

const actionSelect = `
	SELECT id, session_id, action_type, operation_name, arguments, fingerprint,
	       preview, status, notes, created_at, expires_at, executing_since, executed_at
	FROM staged_actions
`

func scanStagedAction(row rowScanner) (model.StagedAction, error) {
	var (
		a                     model.StagedAction
		args, status          string
		createdAt, expiresAt  sql.NullString
		execSince, executedAt sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.SessionID, &a.ActionType, &a.OperationName, &args, &a.Fingerprint,
		&a.Preview, &status, &a.Notes, &createdAt, &expiresAt, &execSince, &executedAt,
	)
	if err != nil {
		return model.StagedAction{}, err
	}
	a.Arguments = []byte(args)
	a.Status = model.ActionStatus(status)
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.StagedAction{}, err
	}
	if a.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return model.StagedAction{}, err
	}
	if a.ExecutingSince, err = parseTime(execSince); err != nil {
		return model.StagedAction{}, err
	}
	if a.ExecutedAt, err = parseTime(executedAt); err != nil {
		return model.StagedAction{}, err
	}
	return a, nil
}
