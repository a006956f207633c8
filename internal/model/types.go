package model

import (
	"fmt"
	"time"
)

// DocumentType identifies one of the external document registries the
// cache fronts. The set is closed: adding a registry means adding a
// constant here plus a per-type section in the configuration file.
type DocumentType string

const (
	// DocConsignmentNote is the carrier consignment note registry.
	DocConsignmentNote DocumentType = "consignment_note"

	// DocCarrierManifest is the carrier manifest registry.
	DocCarrierManifest DocumentType = "carrier_manifest"

	// DocCustomsDeclaration is the customs declaration registry.
	// This is the versioned type: keys carry a revision suffix.
	DocCustomsDeclaration DocumentType = "customs_declaration"

	// DocFinalDeclaration is the final declaration registry. It has no
	// free staleness endpoint, so entries past TTL always go through
	// the paid refresh path.
	DocFinalDeclaration DocumentType = "final_declaration"
)

// DocumentTypes lists all known types in a stable order.
var DocumentTypes = []DocumentType{
	DocConsignmentNote,
	DocCarrierManifest,
	DocCustomsDeclaration,
	DocFinalDeclaration,
}

// Valid reports whether dt is one of the known document types.
func (dt DocumentType) Valid() bool {
	for _, known := range DocumentTypes {
		if dt == known {
			return true
		}
	}
	return false
}

// Versioned reports whether keys of this type carry a revision component.
func (dt DocumentType) Versioned() bool {
	return dt == DocCustomsDeclaration
}

// VersionedKey combines a document number and revision into the cache key
// used for versioned document types, e.g. "10702070/120523/3087654@2".
func VersionedKey(number string, version int) string {
	return fmt.Sprintf("%s@%d", number, version)
}

// CacheEntry is the last known state of one external document.
// At most one entry exists per (DocumentType, DocumentKey); writes are
// replace-on-conflict upserts and entries are never hard-deleted by the
// normal flow.
type CacheEntry struct {
	DocumentType DocumentType
	DocumentKey  string

	// Payload is the raw structured blob as returned by the registry.
	// The engine never interprets it.
	Payload []byte

	FetchedAt     time.Time
	LastUpdatedAt time.Time

	// LinkedProcessID is a weak back-reference to the business process
	// that owns the document. It is used for lookup and audit only.
	LinkedProcessID string

	// LastStalenessCheckAt records the most recent free staleness probe,
	// including probes that avoided a paid call. Zero if never probed.
	LastStalenessCheckAt time.Time
}

// BilledQueryStatus is the lifecycle state of a BilledQueryRequest.
type BilledQueryStatus string

const (
	BilledPending   BilledQueryStatus = "pending"
	BilledApproved  BilledQueryStatus = "approved"
	BilledRejected  BilledQueryStatus = "rejected"
	BilledExecuting BilledQueryStatus = "executing"
	BilledExecuted  BilledQueryStatus = "executed"

	// BilledFailed is reached only by the recovery sweep after a request
	// has been recovered too many times. An operator must intervene.
	BilledFailed BilledQueryStatus = "failed"
)

// Terminal reports whether no further transition is permitted.
func (s BilledQueryStatus) Terminal() bool {
	switch s {
	case BilledRejected, BilledExecuted, BilledFailed:
		return true
	}
	return false
}

// BilledQueryRequest is a proposal to spend money on one external lookup.
// At most one non-terminal request exists per (DocumentType, DocumentKey);
// duplicate proposals coalesce into the outstanding one.
type BilledQueryRequest struct {
	ID           string
	DocumentType DocumentType
	DocumentKey  string
	Endpoint     string
	HTTPMethod   string

	LinkedProcessID string

	// Reason records why a refetch was believed necessary at proposal time.
	Reason string

	// PublicCheckAt is the timestamp reported by the free staleness
	// endpoint when the proposal was made. Zero if no check ran.
	PublicCheckAt time.Time

	// CacheLastUpdatedAt snapshots the cache entry's LastUpdatedAt at
	// proposal time. Zero if no entry existed.
	CacheLastUpdatedAt time.Time

	Status        BilledQueryStatus
	FailureReason string

	// RecoveryCount is how many times the crash-recovery sweep has
	// reverted this request from executing back to approved.
	RecoveryCount int

	CreatedAt      time.Time
	ApprovedAt     time.Time
	ApprovedBy     string
	ExecutingSince time.Time
}

// ActionStatus is the lifecycle state of a StagedAction.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionExecuting ActionStatus = "executing"
	ActionExecuted  ActionStatus = "executed"
	ActionCancelled ActionStatus = "cancelled"
	ActionExpired   ActionStatus = "expired"

	// ActionSuperseded marks a duplicate staging attempt that was
	// coalesced into an earlier action. The row is kept for audit.
	ActionSuperseded ActionStatus = "superseded"
)

// Terminal reports whether no further transition is permitted.
func (s ActionStatus) Terminal() bool {
	switch s {
	case ActionExecuted, ActionCancelled, ActionExpired, ActionSuperseded:
		return true
	}
	return false
}

// StagedAction is a side-effecting operation awaiting confirmation.
type StagedAction struct {
	ID         string
	SessionID  string
	ActionType string

	// OperationName is the tool or endpoint the executor will invoke.
	OperationName string

	// Arguments is the canonical JSON form of the operation arguments.
	// Equivalent argument maps serialize to identical bytes, so the
	// fingerprint below detects duplicates regardless of key order or
	// formatting in the caller's input.
	Arguments []byte

	// Fingerprint is the domain-separated SHA-256 of Arguments.
	Fingerprint string

	// Preview is the human-readable summary shown before confirmation.
	Preview string

	Status ActionStatus

	// Notes accumulates failure reasons and supersession references,
	// one line per event.
	Notes string

	CreatedAt      time.Time
	ExpiresAt      time.Time
	ExecutingSince time.Time
	ExecutedAt     time.Time
}

// AuditRecord is one immutable row in the billed-call audit trail.
// Every paid call actually made appends exactly one record, including
// failed calls (a failed call may still have been billed).
type AuditRecord struct {
	ID           int64
	RequestID    string
	DocumentType DocumentType
	DocumentKey  string
	Endpoint     string
	StatusCode   int
	Success      bool
	CreatedAt    time.Time
}

// Clock supplies wall-clock time to the components. Production code uses
// SystemClock; tests inject a settable clock for deterministic TTL and
// recovery behavior.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
