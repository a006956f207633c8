package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes callers dispatch on.
// Wrapped errors carry context; match with errors.Is.
var (
	// ErrLocked is returned after the retry coordinator exhausts its
	// attempts against a busy embedded store.
	ErrLocked = errors.New("store locked")

	// ErrCacheMiss is returned when no cache entry exists and a paid
	// refetch was not allowed.
	ErrCacheMiss = errors.New("cache miss")

	// ErrExpired is returned when an action is confirmed after its TTL.
	ErrExpired = errors.New("action expired")

	// ErrSuperseded signals that a duplicate proposal was coalesced into
	// an existing non-terminal request or action. It is a distinct
	// result, not a failure: the caller receives the existing record and
	// must continue with it.
	ErrSuperseded = errors.New("superseded by existing request")

	// ErrApprovalPending is returned when a refresh cannot proceed until
	// a human approves the billed request. Carries the request id via
	// ApprovalPendingError.
	ErrApprovalPending = errors.New("billed query awaiting approval")

	// ErrNotFound is returned by lookups for ids or keys with no row.
	ErrNotFound = errors.New("not found")
)

// TransitionError reports an attempt to move a request or action out of a
// state that does not permit the transition. These are usage errors and
// are never retried.
type TransitionError struct {
	Entity    string // "billed_request" or "staged_action"
	ID        string
	From      string // current status
	Attempted string // transition that was attempted
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s %s is %s, cannot %s", e.Entity, e.ID, e.From, e.Attempted)
}

// IsInvalidTransition reports whether err is a TransitionError, unwrapping
// as needed.
func IsInvalidTransition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// ApprovalPendingError wraps ErrApprovalPending with the id of the
// outstanding billed request so callers can surface or track it.
type ApprovalPendingError struct {
	RequestID string
}

func (e *ApprovalPendingError) Error() string {
	return fmt.Sprintf("billed query awaiting approval (request %s)", e.RequestID)
}

func (e *ApprovalPendingError) Unwrap() error { return ErrApprovalPending }

// ExternalError wraps a failure of the paid or free external call itself.
// For paid calls the owning request reverts to approved; for free calls
// the caller degrades to "unknown staleness".
type ExternalError struct {
	Op  string
	Err error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("external call %s failed: %v", e.Op, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// IsExternal reports whether err originated in an external call.
func IsExternal(err error) bool {
	var ee *ExternalError
	return errors.As(err, &ee)
}
