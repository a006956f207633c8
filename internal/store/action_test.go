package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate/tollgate/internal/model"
)

func testAction(id, session, fingerprint string) model.StagedAction {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return model.StagedAction{
		ID:            id,
		SessionID:     session,
		ActionType:    "payment",
		OperationName: "send_payment",
		Arguments:     []byte(`{"amount":100,"doc":"X"}`),
		Fingerprint:   fingerprint,
		Preview:       "Pay 100.00 for document X",
		Status:        model.ActionPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(30 * time.Minute),
	}
}

func TestInsertStagedAction_ActiveIndexCoalesces(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	inserted, err := st.InsertStagedAction(ctx, testAction("a-1", "s-1", "fp-1"))
	require.NoError(t, err)
	require.True(t, inserted)

	// Same session and fingerprint: the partial index rejects the insert.
	inserted, err = st.InsertStagedAction(ctx, testAction("a-2", "s-1", "fp-1"))
	require.NoError(t, err)
	assert.False(t, inserted)

	// Different fingerprint or different session both pass.
	inserted, err = st.InsertStagedAction(ctx, testAction("a-3", "s-1", "fp-2"))
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = st.InsertStagedAction(ctx, testAction("a-4", "s-2", "fp-1"))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestInsertStagedAction_TerminalRowFreesKey(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.InsertStagedAction(ctx, testAction("a-1", "s-1", "fp-1"))
	require.NoError(t, err)

	claimed, err := st.CancelStagedAction(ctx, "a-1")
	require.NoError(t, err)
	require.True(t, claimed)

	// Cancelled rows no longer occupy the active index.
	inserted, err := st.InsertStagedAction(ctx, testAction("a-2", "s-1", "fp-1"))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestRecordSupersededAction_DoesNotBlockTheIndex(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.InsertStagedAction(ctx, testAction("a-1", "s-1", "fp-1"))
	require.NoError(t, err)

	// Superseded rows are terminal from birth, so recording one under the
	// same key must not trip the active-only unique index.
	require.NoError(t, st.RecordSupersededAction(ctx, testAction("a-2", "s-1", "fp-1"), "a-1"))

	a, err := st.GetStagedAction(ctx, "a-2")
	require.NoError(t, err)
	assert.Equal(t, model.ActionSuperseded, a.Status)
	assert.Equal(t, "superseded by a-1", a.Notes)

	active, err := st.FindActiveAction(ctx, "s-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, "a-1", active.ID)
}

func TestRevertActionExecution_AppendsNotes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := st.InsertStagedAction(ctx, testAction("a-1", "s-1", "fp-1"))
	require.NoError(t, err)

	for _, note := range []string{"first failure", "second failure"} {
		claimed, claimErr := st.ClaimActionExecution(ctx, "a-1", now)
		require.NoError(t, claimErr)
		require.True(t, claimed)
		require.NoError(t, st.RevertActionExecution(ctx, "a-1", note))
	}

	a, err := st.GetStagedAction(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "first failure\nsecond failure", a.Notes)
	assert.Equal(t, model.ActionPending, a.Status)
}

func TestClaimActionExecution_Exclusive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := st.InsertStagedAction(ctx, testAction("a-1", "s-1", "fp-1"))
	require.NoError(t, err)

	claimed, err := st.ClaimActionExecution(ctx, "a-1", now)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = st.ClaimActionExecution(ctx, "a-1", now)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, st.FinishActionExecution(ctx, "a-1", now.Add(time.Second)))

	a, err := st.GetStagedAction(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionExecuted, a.Status)
	assert.True(t, a.ExecutingSince.IsZero())
	assert.True(t, a.ExecutedAt.Equal(now.Add(time.Second)))
}
