package staging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tollgate/tollgate/internal/canon"
	"github.com/tollgate/tollgate/internal/model"
	"github.com/tollgate/tollgate/internal/store"
)

// Executor performs the real side effect of a confirmed action. It must
// tolerate a small bounded number of re-deliveries after crash recovery.
type Executor func(ctx context.Context, operationName string, arguments []byte) error

// Store is the staged-action store.
type Store struct {
	store            *store.Store
	clock            model.Clock
	reversibleTTL    time.Duration
	irreversibleTTL  time.Duration
	executionTimeout time.Duration
	log              *slog.Logger
}

// Options configures a staging Store.
type Options struct {
	Clock            model.Clock
	ReversibleTTL    time.Duration
	IrreversibleTTL  time.Duration
	ExecutionTimeout time.Duration
	Logger           *slog.Logger
}

// New creates a staged-action store.
func New(st *store.Store, opts Options) *Store {
	clock := opts.Clock
	if clock == nil {
		clock = model.SystemClock{}
	}
	revTTL := opts.ReversibleTTL
	if revTTL <= 0 {
		revTTL = 30 * time.Minute
	}
	irrTTL := opts.IrreversibleTTL
	if irrTTL <= 0 {
		irrTTL = 2 * time.Hour
	}
	timeout := opts.ExecutionTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		store:            st,
		clock:            clock,
		reversibleTTL:    revTTL,
		irreversibleTTL:  irrTTL,
		executionTimeout: timeout,
		log:              log,
	}
}

// StageParams carries the inputs for a new staged action.
type StageParams struct {
	SessionID     string
	ActionType    string
	OperationName string

	// Arguments in caller form; normalized and fingerprinted here.
	Arguments map[string]any

	// Preview is the human-readable summary shown before confirmation.
	Preview string

	// Reversible selects the short confirmation window. Irreversible and
	// expensive actions get the longer one.
	Reversible bool

	// TTL overrides the window entirely when positive.
	TTL time.Duration
}

// Stage records a proposed action and returns it for preview. If an
// equivalent action (same session, same argument fingerprint) is already
// outstanding, the new attempt is persisted as superseded and the caller
// receives the existing action together with model.ErrSuperseded - a
// distinct result to handle, not a failure.
func (s *Store) Stage(ctx context.Context, p StageParams) (model.StagedAction, error) {
	if p.SessionID == "" {
		return model.StagedAction{}, fmt.Errorf("stage: session id must not be empty")
	}
	if p.OperationName == "" {
		return model.StagedAction{}, fmt.Errorf("stage: operation name must not be empty")
	}

	canonical, fingerprint, err := canon.ActionFingerprint(p.Arguments)
	if err != nil {
		return model.StagedAction{}, fmt.Errorf("stage: %w", err)
	}

	ttl := p.TTL
	if ttl <= 0 {
		if p.Reversible {
			ttl = s.reversibleTTL
		} else {
			ttl = s.irreversibleTTL
		}
	}

	now := s.clock.Now()
	action := model.StagedAction{
		ID:            uuid.Must(uuid.NewV7()).String(),
		SessionID:     p.SessionID,
		ActionType:    p.ActionType,
		OperationName: p.OperationName,
		Arguments:     canonical,
		Fingerprint:   fingerprint,
		Preview:       p.Preview,
		Status:        model.ActionPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}

	inserted, err := s.store.InsertStagedAction(ctx, action)
	if err != nil {
		return model.StagedAction{}, err
	}
	if inserted {
		s.log.Info("action staged",
			"action_id", action.ID,
			"session_id", action.SessionID,
			"operation", action.OperationName,
			"expires_at", action.ExpiresAt)
		return action, nil
	}

	existing, err := s.store.FindActiveAction(ctx, p.SessionID, fingerprint)
	if err != nil {
		return model.StagedAction{}, fmt.Errorf("stage: coalesce lookup: %w", err)
	}
	if err := s.store.RecordSupersededAction(ctx, action, existing.ID); err != nil {
		s.log.Warn("failed to record superseded attempt",
			"action_id", action.ID, "winner_id", existing.ID, "error", err)
	}
	s.log.Info("duplicate staging attempt coalesced",
		"action_id", existing.ID,
		"session_id", p.SessionID,
		"operation", p.OperationName)
	return existing, model.ErrSuperseded
}

// Confirm transitions a pending action to executing, runs the executor,
// and records the outcome. The executing claim is a single conditional
// UPDATE, so concurrent confirms of the same action invoke the executor
// at most once.
//
// An expired action fails with model.ErrExpired (and is marked expired).
// A non-pending action fails with a TransitionError. Executor failure
// reverts the action to pending with the failure appended to its notes,
// so the user may retry.
func (s *Store) Confirm(ctx context.Context, actionID string, exec Executor) (model.StagedAction, error) {
	action, err := s.store.GetStagedAction(ctx, actionID)
	if err != nil {
		return model.StagedAction{}, err
	}

	now := s.clock.Now()
	if action.Status == model.ActionPending && now.After(action.ExpiresAt) {
		// Mark it on the way out so a later sweep has nothing to do and
		// subsequent confirms keep failing with Expired, not InvalidState.
		if _, sweepErr := s.store.SweepExpiredActions(ctx, now); sweepErr != nil {
			s.log.Warn("failed to expire action during confirm", "action_id", actionID, "error", sweepErr)
		}
		return model.StagedAction{}, fmt.Errorf("action %s: %w", actionID, model.ErrExpired)
	}
	if action.Status == model.ActionExpired {
		return model.StagedAction{}, fmt.Errorf("action %s: %w", actionID, model.ErrExpired)
	}

	claimed, err := s.store.ClaimActionExecution(ctx, actionID, now)
	if err != nil {
		return model.StagedAction{}, err
	}
	if !claimed {
		current, getErr := s.store.GetStagedAction(ctx, actionID)
		if getErr != nil {
			return model.StagedAction{}, getErr
		}
		return model.StagedAction{}, &model.TransitionError{
			Entity:    "staged_action",
			ID:        actionID,
			From:      string(current.Status),
			Attempted: "confirm",
		}
	}

	execErr := exec(ctx, action.OperationName, action.Arguments)
	finishedAt := s.clock.Now()

	if execErr != nil {
		s.log.Warn("action execution failed, reverting to pending",
			"action_id", actionID,
			"operation", action.OperationName,
			"error", execErr)
		note := fmt.Sprintf("execution failed at %s: %v", finishedAt.Format(time.RFC3339), execErr)
		if revertErr := s.store.RevertActionExecution(ctx, actionID, note); revertErr != nil {
			return model.StagedAction{}, fmt.Errorf("revert after failed execution: %w", revertErr)
		}
		return model.StagedAction{}, &model.ExternalError{Op: action.OperationName, Err: execErr}
	}

	if err := s.store.FinishActionExecution(ctx, actionID, finishedAt); err != nil {
		return model.StagedAction{}, err
	}

	s.log.Info("action executed",
		"action_id", actionID,
		"operation", action.OperationName)
	return s.store.GetStagedAction(ctx, actionID)
}

// Cancel transitions pending → cancelled. Any other status yields a
// TransitionError.
func (s *Store) Cancel(ctx context.Context, actionID string) error {
	claimed, err := s.store.CancelStagedAction(ctx, actionID)
	if err != nil {
		return err
	}
	if !claimed {
		current, getErr := s.store.GetStagedAction(ctx, actionID)
		if getErr != nil {
			return getErr
		}
		return &model.TransitionError{
			Entity:    "staged_action",
			ID:        actionID,
			From:      string(current.Status),
			Attempted: "cancel",
		}
	}
	s.log.Info("action cancelled", "action_id", actionID)
	return nil
}

// SweepExpired converts pending actions past their TTL to expired.
// Returns the count converted. Idempotent.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	swept, err := s.store.SweepExpiredActions(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		s.log.Info("expired staged actions", "count", swept)
	}
	return swept, nil
}

// RecoverStuck reverts actions stuck in executing past the execution
// timeout back to pending, so a later confirm can complete the side
// effect. Returns the count recovered. Idempotent.
func (s *Store) RecoverStuck(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.executionTimeout)
	recovered, err := s.store.RecoverStuckActions(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if recovered > 0 {
		s.log.Warn("recovered stuck staged actions", "count", recovered)
	}
	return recovered, nil
}

// Get returns an action by id.
func (s *Store) Get(ctx context.Context, actionID string) (model.StagedAction, error) {
	return s.store.GetStagedAction(ctx, actionID)
}

// List returns actions in the given statuses, oldest first.
func (s *Store) List(ctx context.Context, statuses ...model.ActionStatus) ([]model.StagedAction, error) {
	return s.store.ListStagedActions(ctx, statuses...)
}
