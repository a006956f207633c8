package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tollgate/tollgate/internal/model"
	"github.com/tollgate/tollgate/internal/store"
)

// PaidResult is what a paid lookup callback returns on success.
type PaidResult struct {
	StatusCode int
	Payload    []byte
}

// PaidCall performs the actual billed external lookup. Invoked only from
// an approved request, at most once per successful transition to
// executed. The callback must respect ctx's deadline; the queue never
// imposes one itself.
type PaidCall func(ctx context.Context, req model.BilledQueryRequest) (PaidResult, error)

// Queue is the billed-query approval queue.
type Queue struct {
	store            *store.Store
	clock            model.Clock
	executionTimeout time.Duration
	maxRecoveries    int
	log              *slog.Logger
}

// Options configures a Queue.
type Options struct {
	Clock            model.Clock
	ExecutionTimeout time.Duration
	MaxRecoveries    int
	Logger           *slog.Logger
}

// NewQueue creates an approval queue over the given store.
func NewQueue(st *store.Store, opts Options) *Queue {
	clock := opts.Clock
	if clock == nil {
		clock = model.SystemClock{}
	}
	timeout := opts.ExecutionTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	maxRec := opts.MaxRecoveries
	if maxRec < 1 {
		maxRec = 3
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		store:            st,
		clock:            clock,
		executionTimeout: timeout,
		maxRecoveries:    maxRec,
		log:              log,
	}
}

// Proposal carries the inputs for a new billed query.
type Proposal struct {
	DocumentType    model.DocumentType
	DocumentKey     string
	Endpoint        string
	HTTPMethod      string
	Reason          string
	LinkedProcessID string

	// PublicCheckAt is the free staleness endpoint's answer at proposal
	// time, zero if no check ran.
	PublicCheckAt time.Time

	// CacheLastUpdatedAt snapshots the existing entry, zero if none.
	CacheLastUpdatedAt time.Time
}

// Propose creates a pending request, or coalesces onto the existing
// non-terminal request for the same key. coalesced=true means the caller
// got the earlier request and its own metadata was dropped: the first
// proposal is authoritative.
func (q *Queue) Propose(ctx context.Context, p Proposal) (req model.BilledQueryRequest, coalesced bool, err error) {
	if !p.DocumentType.Valid() {
		return model.BilledQueryRequest{}, false, fmt.Errorf("propose: unknown document type %q", p.DocumentType)
	}
	if p.DocumentKey == "" {
		return model.BilledQueryRequest{}, false, fmt.Errorf("propose: document key must not be empty")
	}

	method := p.HTTPMethod
	if method == "" {
		method = "GET"
	}

	candidate := model.BilledQueryRequest{
		ID:                 uuid.Must(uuid.NewV7()).String(),
		DocumentType:       p.DocumentType,
		DocumentKey:        p.DocumentKey,
		Endpoint:           p.Endpoint,
		HTTPMethod:         method,
		LinkedProcessID:    p.LinkedProcessID,
		Reason:             p.Reason,
		PublicCheckAt:      p.PublicCheckAt,
		CacheLastUpdatedAt: p.CacheLastUpdatedAt,
		Status:             model.BilledPending,
		CreatedAt:          q.clock.Now(),
	}

	inserted, err := q.store.InsertBilledRequest(ctx, candidate)
	if err != nil {
		return model.BilledQueryRequest{}, false, err
	}
	if inserted {
		q.log.Info("billed query proposed",
			"request_id", candidate.ID,
			"document_type", candidate.DocumentType,
			"document_key", candidate.DocumentKey,
			"reason", candidate.Reason)
		return candidate, false, nil
	}

	// Lost the insert race or a request was already outstanding: hand the
	// caller the surviving one.
	existing, err := q.store.FindActiveBilledRequest(ctx, p.DocumentType, p.DocumentKey)
	if err != nil {
		return model.BilledQueryRequest{}, false, fmt.Errorf("propose: coalesce lookup: %w", err)
	}
	q.log.Debug("billed query coalesced",
		"request_id", existing.ID,
		"document_type", p.DocumentType,
		"document_key", p.DocumentKey)
	return existing, true, nil
}

// Decide transitions pending → approved or pending → rejected.
// Any other current status yields a TransitionError.
func (q *Queue) Decide(ctx context.Context, requestID string, approved bool, approvedBy string) (model.BilledQueryRequest, error) {
	claimed, err := q.store.DecideBilledRequest(ctx, requestID, approved, approvedBy, q.clock.Now())
	if err != nil {
		return model.BilledQueryRequest{}, err
	}
	if !claimed {
		current, getErr := q.store.GetBilledRequest(ctx, requestID)
		if getErr != nil {
			return model.BilledQueryRequest{}, getErr
		}
		return model.BilledQueryRequest{}, &model.TransitionError{
			Entity:    "billed_request",
			ID:        requestID,
			From:      string(current.Status),
			Attempted: "decide",
		}
	}

	req, err := q.store.GetBilledRequest(ctx, requestID)
	if err != nil {
		return model.BilledQueryRequest{}, err
	}
	q.log.Info("billed query decided",
		"request_id", requestID,
		"approved", approved,
		"approved_by", approvedBy)
	return req, nil
}

// Execute runs an approved request through the paid call. The transition
// to executing is claimed atomically before the callback runs, so two
// concurrent Execute calls cannot both spend money on the same request.
//
// On success the refreshed cache entry, the audit record and the executed
// status are committed in one transaction. On failure the request reverts
// to approved with the failure recorded, an audit row is still appended
// (a failed call may have been billed), and the error is returned wrapped
// as an ExternalError.
func (q *Queue) Execute(ctx context.Context, requestID string, perform PaidCall) (model.CacheEntry, error) {
	now := q.clock.Now()
	claimed, err := q.store.ClaimBilledExecution(ctx, requestID, now)
	if err != nil {
		return model.CacheEntry{}, err
	}
	if !claimed {
		current, getErr := q.store.GetBilledRequest(ctx, requestID)
		if getErr != nil {
			return model.CacheEntry{}, getErr
		}
		return model.CacheEntry{}, &model.TransitionError{
			Entity:    "billed_request",
			ID:        requestID,
			From:      string(current.Status),
			Attempted: "execute",
		}
	}

	req, err := q.store.GetBilledRequest(ctx, requestID)
	if err != nil {
		return model.CacheEntry{}, err
	}

	result, callErr := perform(ctx, req)
	finishedAt := q.clock.Now()

	if callErr != nil {
		q.log.Warn("paid call failed",
			"request_id", requestID,
			"document_type", req.DocumentType,
			"document_key", req.DocumentKey,
			"error", callErr)

		if revertErr := q.store.RevertBilledExecution(ctx, requestID, callErr.Error()); revertErr != nil {
			return model.CacheEntry{}, fmt.Errorf("revert after failed paid call: %w", revertErr)
		}
		audit := model.AuditRecord{
			RequestID:    requestID,
			DocumentType: req.DocumentType,
			DocumentKey:  req.DocumentKey,
			Endpoint:     req.Endpoint,
			StatusCode:   result.StatusCode,
			Success:      false,
			CreatedAt:    finishedAt,
		}
		if auditErr := q.store.AppendAudit(ctx, audit); auditErr != nil {
			q.log.Error("audit append failed after paid call failure",
				"request_id", requestID, "error", auditErr)
		}
		return model.CacheEntry{}, &model.ExternalError{Op: req.Endpoint, Err: callErr}
	}

	entry := model.CacheEntry{
		DocumentType:    req.DocumentType,
		DocumentKey:     req.DocumentKey,
		Payload:         result.Payload,
		FetchedAt:       finishedAt,
		LastUpdatedAt:   finishedAt,
		LinkedProcessID: req.LinkedProcessID,
	}
	audit := model.AuditRecord{
		RequestID:    requestID,
		DocumentType: req.DocumentType,
		DocumentKey:  req.DocumentKey,
		Endpoint:     req.Endpoint,
		StatusCode:   result.StatusCode,
		Success:      true,
		CreatedAt:    finishedAt,
	}

	if err := q.store.FinalizeBilledSuccess(ctx, requestID, entry, audit); err != nil {
		return model.CacheEntry{}, fmt.Errorf("finalize paid call: %w", err)
	}

	q.log.Info("billed query executed",
		"request_id", requestID,
		"document_type", req.DocumentType,
		"document_key", req.DocumentKey,
		"status_code", result.StatusCode)
	return entry, nil
}

// RecoverStuck reverts requests stuck in executing past the execution
// timeout, on the assumption the process crashed before recording a
// result. Requests past the recovery bound are marked failed instead and
// flagged for the operator. Returns the number recovered.
//
// Idempotent: an immediate second sweep finds nothing to do.
func (q *Queue) RecoverStuck(ctx context.Context) (int, error) {
	cutoff := q.clock.Now().Add(-q.executionTimeout)
	recovered, failed, err := q.store.RecoverStuckBilled(ctx, cutoff, q.maxRecoveries)
	if err != nil {
		return 0, err
	}
	if recovered > 0 {
		q.log.Warn("recovered stuck billed queries", "count", recovered)
	}
	if failed > 0 {
		q.log.Error("billed queries exceeded recovery limit, operator attention required",
			"count", failed)
	}
	return recovered, nil
}

// Get returns a request by id.
func (q *Queue) Get(ctx context.Context, requestID string) (model.BilledQueryRequest, error) {
	return q.store.GetBilledRequest(ctx, requestID)
}

// List returns requests in the given statuses, oldest first.
func (q *Queue) List(ctx context.Context, statuses ...model.BilledQueryStatus) ([]model.BilledQueryRequest, error) {
	return q.store.ListBilledRequests(ctx, statuses...)
}

// Report aggregates the audit trail for cost reporting.
func (q *Queue) Report(ctx context.Context) ([]store.AuditReportRow, error) {
	return q.store.AuditReport(ctx)
}
