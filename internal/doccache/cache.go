package doccache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tollgate/tollgate/internal/billing"
	"github.com/tollgate/tollgate/internal/config"
	"github.com/tollgate/tollgate/internal/model"
	"github.com/tollgate/tollgate/internal/store"
)

// StalenessOracle is the free companion endpoint contract. LastModified
// reports when the paid source last changed the document; known=false
// means the endpoint could not tell. Never required to succeed.
type StalenessOracle interface {
	LastModified(ctx context.Context, dt model.DocumentType, key string) (ts time.Time, known bool, err error)
}

// PaidFetcher is the paid lookup client contract, invoked only through an
// approved billed request.
type PaidFetcher interface {
	Fetch(ctx context.Context, endpoint, method, key string) (statusCode int, payload []byte, err error)
}

// Source says how a lookup was satisfied.
type Source string

const (
	SourceFresh       Source = "cache_fresh"
	SourcePaidRefresh Source = "paid_refresh"
	SourceStaleServed Source = "cache_stale_served"
)

// Result is a resolved lookup. Warning is set only for
// cache_stale_served and must be surfaced to the end user.
type Result struct {
	Entry   model.CacheEntry
	Source  Source
	Warning string
}

// DocumentCache is the per-document-type cache over the embedded store.
type DocumentCache struct {
	store   *store.Store
	queue   *billing.Queue
	oracle  StalenessOracle
	fetcher PaidFetcher
	cfg     config.Config
	clock   model.Clock
	log     *slog.Logger
}

// Options configures a DocumentCache. Oracle may be nil when no free
// endpoint exists at all; per-type availability is governed by config.
type Options struct {
	Oracle  StalenessOracle
	Fetcher PaidFetcher
	Clock   model.Clock
	Logger  *slog.Logger
}

// New creates a DocumentCache.
func New(st *store.Store, queue *billing.Queue, cfg config.Config, opts Options) *DocumentCache {
	clock := opts.Clock
	if clock == nil {
		clock = model.SystemClock{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &DocumentCache{
		store:   st,
		queue:   queue,
		oracle:  opts.Oracle,
		fetcher: opts.Fetcher,
		cfg:     cfg,
		clock:   clock,
		log:     log,
	}
}

// Get is a pure read: no network, no staleness logic.
func (c *DocumentCache) Get(ctx context.Context, dt model.DocumentType, key string) (model.CacheEntry, error) {
	return c.store.GetCacheEntry(ctx, dt, key)
}

// Upsert writes an entry with replace-on-conflict semantics. Exposed for
// callers that obtained document state out of band (e.g. a push feed).
func (c *DocumentCache) Upsert(ctx context.Context, entry model.CacheEntry) error {
	return c.store.UpsertCacheEntry(ctx, entry)
}

// GetOrRefresh resolves a document, spending money only when the cache
// cannot answer and policy allows.
//
// With allowPaidRefetch=false and no entry, fails with ErrCacheMiss. A
// fresh entry is returned as-is. A past-TTL entry is checked against the
// free staleness oracle first; only a possibly-changed document goes to
// the billing queue. When the paid refresh cannot complete (external
// failure, or approval still pending) an existing stale entry is served
// with a warning rather than failing the lookup.
func (c *DocumentCache) GetOrRefresh(ctx context.Context, dt model.DocumentType, key string, allowPaidRefetch bool) (Result, error) {
	tc, err := c.cfg.TypeConfig(dt)
	if err != nil {
		return Result{}, err
	}

	entry, err := c.store.GetCacheEntry(ctx, dt, key)
	if errors.Is(err, model.ErrNotFound) {
		if !allowPaidRefetch {
			return Result{}, fmt.Errorf("%s/%s: %w", dt, key, model.ErrCacheMiss)
		}
		// Nothing to judge staleness against: the paid path is mandatory.
		return c.refresh(ctx, dt, key, tc, nil, time.Time{}, "initial fetch, no cached entry")
	}
	if err != nil {
		return Result{}, err
	}

	now := c.clock.Now()
	if now.Sub(entry.LastUpdatedAt) <= tc.FreshnessTTL.D() {
		return Result{Entry: entry, Source: SourceFresh}, nil
	}

	// Past TTL. Ask the free endpoint before spending anything.
	var publicCheckAt time.Time
	if tc.HasStalenessEndpoint && c.oracle != nil {
		ts, known, oracleErr := c.oracle.LastModified(ctx, dt, key)
		if oracleErr != nil {
			// Best-effort: degrade to "possibly stale".
			c.log.Debug("staleness check failed, assuming possibly stale",
				"document_type", dt, "document_key", key, "error", oracleErr)
		} else if known {
			publicCheckAt = ts
			if !ts.After(entry.LastUpdatedAt) {
				// Source unchanged: serve the cached entry and record the
				// check. This is the path that avoids the billed call.
				if touchErr := c.store.TouchStalenessCheck(ctx, dt, key, now); touchErr != nil {
					c.log.Warn("failed to record staleness check",
						"document_type", dt, "document_key", key, "error", touchErr)
				}
				entry.LastStalenessCheckAt = now
				return Result{Entry: entry, Source: SourceFresh}, nil
			}
		}
	}

	if !allowPaidRefetch {
		return Result{
			Entry:   entry,
			Source:  SourceStaleServed,
			Warning: "cached copy is past its freshness window and paid refresh was not allowed",
		}, nil
	}

	return c.refresh(ctx, dt, key, tc, &entry, publicCheckAt, "cached entry past freshness TTL")
}

// refresh submits a billed query and, when policy allows, drives it to
// execution inline. prior is nil on the initial-fetch path.
func (c *DocumentCache) refresh(ctx context.Context, dt model.DocumentType, key string, tc config.DocumentTypeConfig, prior *model.CacheEntry, publicCheckAt time.Time, reason string) (Result, error) {
	proposal := billing.Proposal{
		DocumentType:  dt,
		DocumentKey:   key,
		Endpoint:      tc.Endpoint,
		HTTPMethod:    tc.HTTPMethod,
		Reason:        reason,
		PublicCheckAt: publicCheckAt,
	}
	if prior != nil {
		proposal.CacheLastUpdatedAt = prior.LastUpdatedAt
		proposal.LinkedProcessID = prior.LinkedProcessID
	}

	req, coalesced, err := c.queue.Propose(ctx, proposal)
	if err != nil {
		return Result{}, err
	}
	if coalesced {
		c.log.Debug("refresh coalesced onto outstanding request",
			"document_type", dt, "document_key", key, "request_id", req.ID)
	}

	// Decide whether this call may drive execution. A coalesced request
	// that a human already approved is executed here regardless of the
	// auto-approve policy; a pending one on a non-auto type is not ours
	// to approve.
	switch req.Status {
	case model.BilledPending:
		if !tc.AutoApprove {
			return c.pendingResult(prior, req.ID)
		}
		req, err = c.queue.Decide(ctx, req.ID, true, "policy:auto-approve")
		if err != nil {
			// A concurrent decision beat us; re-read and fall through if
			// it approved, otherwise report what happened.
			if !model.IsInvalidTransition(err) {
				return Result{}, err
			}
			req, err = c.queue.Get(ctx, req.ID)
			if err != nil {
				return Result{}, err
			}
			if req.Status != model.BilledApproved {
				return c.pendingResult(prior, req.ID)
			}
		}
	case model.BilledApproved:
		// Execute below.
	case model.BilledExecuting:
		// Another task is mid-flight on the same key. Treat like pending:
		// the caller either gets the stale entry or waits for approval.
		return c.pendingResult(prior, req.ID)
	default:
		return Result{}, fmt.Errorf("billed request %s in unexpected status %s", req.ID, req.Status)
	}

	entry, err := c.queue.Execute(ctx, req.ID, c.paidCall)
	if err != nil {
		if model.IsExternal(err) && prior != nil {
			// Paid refresh failed but we still hold an older copy.
			c.log.Warn("paid refresh failed, serving stale entry",
				"document_type", dt, "document_key", key, "error", err)
			return Result{
				Entry:   *prior,
				Source:  SourceStaleServed,
				Warning: "paid refresh failed; serving cached copy from " + prior.LastUpdatedAt.Format(time.RFC3339),
			}, nil
		}
		return Result{}, err
	}

	return Result{Entry: entry, Source: SourcePaidRefresh}, nil
}

// pendingResult answers a lookup whose refresh awaits human approval.
func (c *DocumentCache) pendingResult(prior *model.CacheEntry, requestID string) (Result, error) {
	if prior != nil {
		return Result{
			Entry:   *prior,
			Source:  SourceStaleServed,
			Warning: "refresh awaiting approval (request " + requestID + ")",
		}, nil
	}
	return Result{}, &model.ApprovalPendingError{RequestID: requestID}
}

// paidCall adapts the PaidFetcher boundary contract to the queue's
// callback shape.
func (c *DocumentCache) paidCall(ctx context.Context, req model.BilledQueryRequest) (billing.PaidResult, error) {
	if c.fetcher == nil {
		return billing.PaidResult{}, fmt.Errorf("no paid fetcher configured")
	}
	status, payload, err := c.fetcher.Fetch(ctx, req.Endpoint, req.HTTPMethod, req.DocumentKey)
	if err != nil {
		return billing.PaidResult{StatusCode: status}, err
	}
	return billing.PaidResult{StatusCode: status, Payload: payload}, nil
}

// Prune deletes cache entries not updated within the retention window.
func (c *DocumentCache) Prune(ctx context.Context, retention time.Duration) (int, error) {
	return c.store.PruneCacheEntries(ctx, c.clock.Now().Add(-retention))
}
