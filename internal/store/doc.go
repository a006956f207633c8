// Package store provides SQLite-backed durable storage for the staged-action
// and cost-gated query engine.
//
// Four tables:
//   - cache_entries: last known state per external document, upsert-only
//   - billed_requests: paid-lookup proposals with their approval lifecycle
//   - staged_actions: confirm-before-execute queue for side effects
//   - billed_call_audit: append-only record of every paid call made
//
// # Invariants enforced here
//
// One entry per key:
//   - cache_entries PRIMARY KEY (document_type, document_key); writes are
//     ON CONFLICT DO UPDATE upserts and never accumulate duplicates.
//
// One active request per key:
//   - billed_requests has a partial UNIQUE index over (document_type,
//     document_key) restricted to non-terminal statuses. Duplicate
//     proposals lose the insert race and coalesce onto the existing row.
//
// One active action per fingerprint:
//   - staged_actions has the same partial UNIQUE construction over
//     (session_id, fingerprint).
//
// Claimed transitions:
//   - Status moves such as approved→executing are single conditional
//     UPDATEs; RowsAffected tells the caller whether it won the claim.
//     This is what makes confirmation at-most-once under concurrency.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Every mutation goes through the RetryCoordinator, which adds bounded
// backoff on top of the driver's busy timeout.
package store
