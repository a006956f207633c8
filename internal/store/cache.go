package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tollgate/tollgate/internal/model"
)

// UpsertCacheEntry writes entry with replace-on-conflict semantics.
// The (document_type, document_key) primary key guarantees exactly one row
// per key no matter how many times the same entry is written.
//
// A later write never clears the linked process id: an empty
// LinkedProcessID on the incoming entry keeps the stored one.
func (s *Store) UpsertCacheEntry(ctx context.Context, entry model.CacheEntry) error {
	return s.write(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO cache_entries
			(document_type, document_key, payload, fetched_at, last_updated_at, linked_process_id, last_staleness_check_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(document_type, document_key) DO UPDATE SET
				payload                 = excluded.payload,
				fetched_at              = excluded.fetched_at,
				last_updated_at         = excluded.last_updated_at,
				linked_process_id       = CASE WHEN excluded.linked_process_id != ''
				                               THEN excluded.linked_process_id
				                               ELSE cache_entries.linked_process_id END,
				last_staleness_check_at = excluded.last_staleness_check_at
		`,
			string(entry.DocumentType),
			entry.DocumentKey,
			entry.Payload,
			fmtTime(entry.FetchedAt),
			fmtTime(entry.LastUpdatedAt),
			entry.LinkedProcessID,
			fmtTime(entry.LastStalenessCheckAt),
		)
		if err != nil {
			return fmt.Errorf("upsert cache entry: %w", err)
		}
		return nil
	})
}

// GetCacheEntry returns the entry for (dt, key), or model.ErrNotFound.
func (s *Store) GetCacheEntry(ctx context.Context, dt model.DocumentType, key string) (model.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT document_type, document_key, payload, fetched_at, last_updated_at, linked_process_id, last_staleness_check_at
		FROM cache_entries
		WHERE document_type = ? AND document_key = ?
	`, string(dt), key)

	entry, err := scanCacheEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CacheEntry{}, fmt.Errorf("cache entry %s/%s: %w", dt, key, model.ErrNotFound)
	}
	if err != nil {
		return model.CacheEntry{}, fmt.Errorf("get cache entry: %w", err)
	}
	return entry, nil
}

// TouchStalenessCheck records that the free staleness endpoint confirmed
// the cached entry at checkedAt, without touching payload or timestamps.
// This is the cost-avoidance write: no paid call happened.
func (s *Store) TouchStalenessCheck(ctx context.Context, dt model.DocumentType, key string, checkedAt time.Time) error {
	return s.write(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE cache_entries
			SET last_staleness_check_at = ?
			WHERE document_type = ? AND document_key = ?
		`, fmtTime(checkedAt), string(dt), key)
		if err != nil {
			return fmt.Errorf("touch staleness check: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("touch staleness check: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("touch staleness check %s/%s: %w", dt, key, model.ErrNotFound)
		}
		return nil
	})
}

// PruneCacheEntries deletes entries not updated since the cutoff. Entries
// are otherwise retained indefinitely; this is the one housekeeping path
// that removes them. Returns the number deleted.
func (s *Store) PruneCacheEntries(ctx context.Context, cutoff time.Time) (int, error) {
	var pruned int
	err := s.write(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM cache_entries WHERE last_updated_at < ?
		`, fmtTime(cutoff))
		if err != nil {
			return fmt.Errorf("prune cache entries: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("prune cache entries: %w", err)
		}
		pruned = int(n)
		return nil
	})
	return pruned, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCacheEntry(row rowScanner) (model.CacheEntry, error) {
	var (
		entry                           model.CacheEntry
		dt                              string
		fetchedAt, updatedAt, checkedAt sql.NullString
	)
	err := row.Scan(&dt, &entry.DocumentKey, &entry.Payload, &fetchedAt, &updatedAt, &entry.LinkedProcessID, &checkedAt)
	if err != nil {
		return model.CacheEntry{}, err
	}
	entry.DocumentType = model.DocumentType(dt)
	if entry.FetchedAt, err = parseTime(fetchedAt); err != nil {
		return model.CacheEntry{}, err
	}
	if entry.LastUpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.CacheEntry{}, err
	}
	if entry.LastStalenessCheckAt, err = parseTime(checkedAt); err != nil {
		return model.CacheEntry{}, err
	}
	return entry, nil
}
