package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate/tollgate/internal/model"
	"github.com/tollgate/tollgate/internal/testutil"
)

func busyErr() error {
	return sqlite3.Error{Code: sqlite3.ErrBusy}
}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	rec := &testutil.SleepRecorder{}
	rc := NewRetryCoordinatorWith(3, 100*time.Millisecond, rec.Sleep, slog.Default())

	calls := 0
	err := rc.Write(context.Background(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.Delays(), "no backoff when the first attempt succeeds")
}

func TestRetry_BusyThenSuccess(t *testing.T) {
	rec := &testutil.SleepRecorder{}
	rc := NewRetryCoordinatorWith(3, 100*time.Millisecond, rec.Sleep, slog.Default())

	calls := 0
	err := rc.Write(context.Background(), func() error {
		calls++
		if calls < 3 {
			return busyErr()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// Linear ramp: base×1 then base×2.
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, rec.Delays())
}

func TestRetry_ExhaustionReturnsLocked(t *testing.T) {
	rec := &testutil.SleepRecorder{}
	rc := NewRetryCoordinatorWith(3, 100*time.Millisecond, rec.Sleep, slog.Default())

	calls := 0
	err := rc.Write(context.Background(), func() error {
		calls++
		return busyErr()
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrLocked)
	assert.Equal(t, 3, calls)
	assert.Len(t, rec.Delays(), 2, "no sleep after the final attempt")
}

func TestRetry_NonBusyNotRetried(t *testing.T) {
	rec := &testutil.SleepRecorder{}
	rc := NewRetryCoordinatorWith(3, 100*time.Millisecond, rec.Sleep, slog.Default())

	boom := fmt.Errorf("constraint violation")
	calls := 0
	err := rc.Write(context.Background(), func() error {
		calls++
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, model.ErrLocked)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.Delays())
}

func TestRetry_WrappedBusyIsRetried(t *testing.T) {
	rec := &testutil.SleepRecorder{}
	rc := NewRetryCoordinatorWith(2, 50*time.Millisecond, rec.Sleep, slog.Default())

	calls := 0
	err := rc.Write(context.Background(), func() error {
		calls++
		if calls == 1 {
			return fmt.Errorf("upsert cache entry: %w", sqlite3.Error{Code: sqlite3.ErrLocked})
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc := NewRetryCoordinatorWith(3, 100*time.Millisecond, nil, slog.Default())

	err := rc.Write(ctx, func() error { return busyErr() })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, model.ErrLocked))
}
