package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/tollgate/tollgate/internal/model"
)

// Retry defaults. The linear ramp (base × attempt) keeps total wait short:
// 100ms + 200ms before the final attempt.
const (
	DefaultRetryAttempts  = 3
	DefaultRetryBaseDelay = 100 * time.Millisecond
)

// SleepFunc waits for d or until ctx is done. Injected for deterministic
// tests; the default uses a timer.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryCoordinator wraps every write to the embedded store with bounded
// backoff on lock contention. SQLite serializes writers, so under
// concurrent logical tasks a write can observe SQLITE_BUSY or
// SQLITE_LOCKED even with the driver's busy timeout; the coordinator
// retries those and only those.
//
// Any other failure class propagates immediately on the first attempt.
type RetryCoordinator struct {
	attempts  int
	baseDelay time.Duration
	sleep     SleepFunc
	log       *slog.Logger
}

// NewRetryCoordinator returns a coordinator with default attempts and delay.
func NewRetryCoordinator(log *slog.Logger) *RetryCoordinator {
	return &RetryCoordinator{
		attempts:  DefaultRetryAttempts,
		baseDelay: DefaultRetryBaseDelay,
		sleep:     defaultSleep,
		log:       log,
	}
}

// NewRetryCoordinatorWith returns a coordinator with explicit tuning.
// attempts < 1 and baseDelay < 0 fall back to defaults; a nil sleep uses
// the timer-based default.
func NewRetryCoordinatorWith(attempts int, baseDelay time.Duration, sleep SleepFunc, log *slog.Logger) *RetryCoordinator {
	if attempts < 1 {
		attempts = DefaultRetryAttempts
	}
	if baseDelay < 0 {
		baseDelay = DefaultRetryBaseDelay
	}
	if sleep == nil {
		sleep = defaultSleep
	}
	if log == nil {
		log = slog.Default()
	}
	return &RetryCoordinator{attempts: attempts, baseDelay: baseDelay, sleep: sleep, log: log}
}

// Attempts returns the configured attempt bound.
func (r *RetryCoordinator) Attempts() int { return r.attempts }

// BaseDelay returns the configured backoff base.
func (r *RetryCoordinator) BaseDelay() time.Duration { return r.baseDelay }

// Write runs op, retrying on the busy/locked failure class with delay
// baseDelay × attempt number between attempts. Returns op's result on the
// first attempt that is not busy; returns model.ErrLocked (wrapping the
// driver error) after exhausting attempts.
func (r *RetryCoordinator) Write(ctx context.Context, op func() error) error {
	var last error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err := op()
		if err == nil || !isBusy(err) {
			return err
		}
		last = err

		if attempt == r.attempts {
			break
		}

		r.log.Warn("store busy, retrying write",
			"attempt", attempt,
			"max_attempts", r.attempts,
			"error", err)

		if serr := r.sleep(ctx, r.baseDelay*time.Duration(attempt)); serr != nil {
			return fmt.Errorf("retry wait aborted: %w", serr)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", model.ErrLocked, r.attempts, last)
}

// isBusy reports whether err belongs to the transient contention class.
func isBusy(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
}
