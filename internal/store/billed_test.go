package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate/tollgate/internal/model"
)

func testRequest(id, key string) model.BilledQueryRequest {
	return model.BilledQueryRequest{
		ID:           id,
		DocumentType: model.DocCustomsDeclaration,
		DocumentKey:  key,
		Endpoint:     "/registry/declarations",
		HTTPMethod:   "GET",
		Reason:       "test",
		Status:       model.BilledPending,
		CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestInsertBilledRequest_CoalescesOnActiveKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.InsertBilledRequest(ctx, testRequest("req-1", "K-1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	// Second proposal for the same key loses the unique-index race.
	inserted, err = s.InsertBilledRequest(ctx, testRequest("req-2", "K-1"))
	require.NoError(t, err)
	assert.False(t, inserted)

	active, err := s.FindActiveBilledRequest(ctx, model.DocCustomsDeclaration, "K-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", active.ID)

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM billed_requests").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestInsertBilledRequest_TerminalRowFreesTheKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBilledRequest(ctx, testRequest("req-1", "K-1"))
	require.NoError(t, err)

	claimed, err := s.DecideBilledRequest(ctx, "req-1", false, "ops", time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	// Rejected is terminal, so a fresh proposal may open a new request.
	inserted, err := s.InsertBilledRequest(ctx, testRequest("req-2", "K-1"))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestClaimBilledExecution_OnlyFromApproved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.InsertBilledRequest(ctx, testRequest("req-1", "K-1"))
	require.NoError(t, err)

	claimed, err := s.ClaimBilledExecution(ctx, "req-1", now)
	require.NoError(t, err)
	assert.False(t, claimed, "pending request must not be executable")

	_, err = s.DecideBilledRequest(ctx, "req-1", true, "ops", now)
	require.NoError(t, err)

	claimed, err = s.ClaimBilledExecution(ctx, "req-1", now)
	require.NoError(t, err)
	assert.True(t, claimed)

	// The claim is exclusive.
	claimed, err = s.ClaimBilledExecution(ctx, "req-1", now)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestRecoverStuckBilled_BoundedRecovery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.InsertBilledRequest(ctx, testRequest("req-1", "K-1"))
	require.NoError(t, err)
	_, err = s.DecideBilledRequest(ctx, "req-1", true, "ops", now)
	require.NoError(t, err)

	// Exhaust the allowed recoveries.
	for i := 0; i < 3; i++ {
		claimed, err := s.ClaimBilledExecution(ctx, "req-1", now)
		require.NoError(t, err)
		require.True(t, claimed)

		recovered, failed, err := s.RecoverStuckBilled(ctx, now.Add(time.Hour), 3)
		require.NoError(t, err)
		assert.Equal(t, 1, recovered, "recovery %d", i+1)
		assert.Equal(t, 0, failed)
	}

	// The fourth stuck execution exceeds the bound.
	claimed, err := s.ClaimBilledExecution(ctx, "req-1", now)
	require.NoError(t, err)
	require.True(t, claimed)

	recovered, failed, err := s.RecoverStuckBilled(ctx, now.Add(time.Hour), 3)
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)
	assert.Equal(t, 1, failed)

	req, err := s.GetBilledRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.BilledFailed, req.Status)

	// Idempotent: nothing left to recover.
	recovered, failed, err = s.RecoverStuckBilled(ctx, now.Add(time.Hour), 3)
	require.NoError(t, err)
	assert.Zero(t, recovered)
	assert.Zero(t, failed)
}
