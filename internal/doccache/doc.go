// Package doccache fronts the paid document registries with a cache and a
// cost-avoidance policy.
//
// A lookup resolves in one of three ways, reported in Result.Source:
//
//	cache_fresh        - entry within TTL, or past TTL but the free
//	                     staleness endpoint says the source is unchanged
//	paid_refresh       - an approved billed query refreshed the entry
//	cache_stale_served - a stale entry was served because a refresh was
//	                     unavailable (failed, disallowed, or awaiting
//	                     approval); Result.Warning says why
//
// The staleness oracle is the key cost-avoidance mechanism: past-TTL
// entries are confirmed against the free endpoint first, and only entries
// the source actually changed (or might have) cost money to refresh. The
// oracle is best-effort - when it fails, the entry is treated as possibly
// stale and the paid path is consulted.
//
// All paid refreshes go through the billing approval queue; the cache
// never spends money directly.
package doccache
