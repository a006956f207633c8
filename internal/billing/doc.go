// Package billing implements the approval queue for paid external lookups.
//
// Every lookup that costs money passes through a BilledQueryRequest with
// the lifecycle
//
//	pending → approved → executing → executed
//
// plus pending → rejected (terminal) and the recovery edge
// executing → approved, taken only by the crash-recovery sweep and only a
// bounded number of times before the request is marked failed.
//
// The queue never retries a billable call on its own. A failed paid call
// reverts the request to approved and records the reason; someone (or some
// policy) has to call Execute again. This is deliberate: uncontrolled
// retries of billed endpoints are uncontrolled spending.
//
// Each executed call, successful or not, appends one immutable record to
// the billed-call audit trail used for cost reporting.
package billing
