package billing

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate/tollgate/internal/model"
	"github.com/tollgate/tollgate/internal/store"
	"github.com/tollgate/tollgate/internal/testutil"
)

func newTestQueue(t *testing.T) (*Queue, *store.Store, *testutil.Clock) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	q := NewQueue(st, Options{
		Clock:            clock,
		ExecutionTimeout: 2 * time.Minute,
		MaxRecoveries:    3,
	})
	return q, st, clock
}

func proposalFor(key string) Proposal {
	return Proposal{
		DocumentType: model.DocCustomsDeclaration,
		DocumentKey:  key,
		Endpoint:     "/registry/declarations",
		Reason:       "cached entry past freshness TTL",
	}
}

func TestPropose_CoalescesDuplicates(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	first, coalesced, err := q.Propose(ctx, proposalFor("CE-123456789012345"))
	require.NoError(t, err)
	assert.False(t, coalesced)
	assert.Equal(t, model.BilledPending, first.Status)

	second, coalesced, err := q.Propose(ctx, Proposal{
		DocumentType: model.DocCustomsDeclaration,
		DocumentKey:  "CE-123456789012345",
		Endpoint:     "/somewhere/else",
		Reason:       "a different reason entirely",
	})
	require.NoError(t, err)
	assert.True(t, coalesced)
	assert.Equal(t, first.ID, second.ID, "all callers share the outstanding request")
	// First proposal is authoritative; the second's metadata is dropped.
	assert.Equal(t, "/registry/declarations", second.Endpoint)
}

func TestDecide_InvalidFromNonPending(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	req, _, err := q.Propose(ctx, proposalFor("K-1"))
	require.NoError(t, err)

	_, err = q.Decide(ctx, req.ID, false, "ops")
	require.NoError(t, err)

	// Rejected is terminal: a second decision is a usage error.
	_, err = q.Decide(ctx, req.ID, true, "ops")
	require.Error(t, err)
	assert.True(t, model.IsInvalidTransition(err))
}

func TestExecute_EndToEnd(t *testing.T) {
	q, st, _ := newTestQueue(t)
	ctx := context.Background()

	// Propose a lookup with no existing cache entry.
	req, _, err := q.Propose(ctx, proposalFor("CE-123456789012345"))
	require.NoError(t, err)
	assert.Equal(t, model.BilledPending, req.Status)

	req, err = q.Decide(ctx, req.ID, true, "broker@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.BilledApproved, req.Status)
	assert.Equal(t, "broker@example.com", req.ApprovedBy)

	entry, err := q.Execute(ctx, req.ID, func(ctx context.Context, r model.BilledQueryRequest) (PaidResult, error) {
		return PaidResult{StatusCode: 200, Payload: []byte(`{"status":"OK"}`)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"status":"OK"}`), entry.Payload)

	final, err := q.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BilledExecuted, final.Status)

	cached, err := st.GetCacheEntry(ctx, model.DocCustomsDeclaration, "CE-123456789012345")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"status":"OK"}`), cached.Payload)

	audit, err := st.ListAudit(ctx)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.True(t, audit[0].Success)
	assert.Equal(t, 200, audit[0].StatusCode)
	assert.Equal(t, req.ID, audit[0].RequestID)
}

func TestExecute_RequiresApproval(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	req, _, err := q.Propose(ctx, proposalFor("K-1"))
	require.NoError(t, err)

	called := false
	_, err = q.Execute(ctx, req.ID, func(ctx context.Context, r model.BilledQueryRequest) (PaidResult, error) {
		called = true
		return PaidResult{}, nil
	})
	require.Error(t, err)
	assert.True(t, model.IsInvalidTransition(err))
	assert.False(t, called, "the paid call must never run without approval")
}

func TestExecute_FailureRevertsToApproved(t *testing.T) {
	q, st, _ := newTestQueue(t)
	ctx := context.Background()

	req, _, err := q.Propose(ctx, proposalFor("K-1"))
	require.NoError(t, err)
	_, err = q.Decide(ctx, req.ID, true, "ops")
	require.NoError(t, err)

	_, err = q.Execute(ctx, req.ID, func(ctx context.Context, r model.BilledQueryRequest) (PaidResult, error) {
		return PaidResult{StatusCode: 503}, fmt.Errorf("registry unavailable")
	})
	require.Error(t, err)
	assert.True(t, model.IsExternal(err))

	// Reverted to approved, eligible for a controlled retry later.
	after, err := q.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BilledApproved, after.Status)
	assert.Contains(t, after.FailureReason, "registry unavailable")

	// A failed call may still have been billed: audit records it.
	audit, err := st.ListAudit(ctx)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.False(t, audit[0].Success)

	// No cache entry was written.
	_, err = st.GetCacheEntry(ctx, model.DocCustomsDeclaration, "K-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRecoverStuck_RevertsOnceThenNoop(t *testing.T) {
	q, st, clock := newTestQueue(t)
	ctx := context.Background()

	req, _, err := q.Propose(ctx, proposalFor("K-1"))
	require.NoError(t, err)
	_, err = q.Decide(ctx, req.ID, true, "ops")
	require.NoError(t, err)

	// Simulate a crash mid-execution: claim and never finish.
	claimed, err := st.ClaimBilledExecution(ctx, req.ID, clock.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	// Before the timeout the sweep leaves it alone.
	recovered, err := q.RecoverStuck(ctx)
	require.NoError(t, err)
	assert.Zero(t, recovered)

	clock.Advance(5 * time.Minute)

	recovered, err = q.RecoverStuck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	after, err := q.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BilledApproved, after.Status)
	assert.True(t, after.ExecutingSince.IsZero())

	// Running the sweep again is a no-op.
	recovered, err = q.RecoverStuck(ctx)
	require.NoError(t, err)
	assert.Zero(t, recovered)
}
