// Package staging implements the confirm-before-execute queue for
// side-effecting operations: declaration submissions, payments, and any
// other tool invocation the orchestrator wants a human to see first.
//
// Lifecycle:
//
//	pending → executing → executed
//	pending → cancelled | expired
//
// plus executing → pending, taken only by the crash-recovery sweep.
//
// Duplicate detection works on content, not ids: arguments are canonical-
// JSON normalized and fingerprinted, and a partial unique index keeps at
// most one non-terminal action per (session, fingerprint). The losing
// duplicate is persisted as superseded so the trail shows it arrived.
//
// The store guarantees single local ownership of execution: the callback
// inside Confirm runs at most once per successful transition to executed.
// It does not guarantee global idempotency of the external call - after a
// crash-recovery re-delivery, truly irreversible effects must be checked
// against the external system's own idempotency before retrying.
package staging
