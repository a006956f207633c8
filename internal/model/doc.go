// Package model defines the shared record types and error taxonomy for the
// staged-action and cost-gated query engine.
//
// Three record kinds flow through the system:
//   - CacheEntry: the last known state of one external document
//   - BilledQueryRequest: a proposal to spend money on one external lookup
//   - StagedAction: a side-effecting operation awaiting confirmation
//
// Both BilledQueryRequest and StagedAction are enum-driven state machines.
// Status values are stored as strings in SQLite but every transition is
// validated in the owning component before the row is touched.
package model
