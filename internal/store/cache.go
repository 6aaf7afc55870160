package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CacheEntry is a validated generation result keyed by the hash of its
// normalized input.
type CacheEntry struct {
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
	TokenUsage json.RawMessage `json:"token_usage,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// GetCacheEntry returns the entry for key, or ErrNotFound if absent or past
// expiry. Expired rows are treated as missing, never returned.
func (s *Store) GetCacheEntry(ctx context.Context, key string) (*CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT key, payload, token_usage, created_at, expires_at
        FROM cache_entries WHERE key = ? AND expires_at > ?`,
		key, time.Now().UTC())

	var e CacheEntry
	var payload, usage string
	err := row.Scan(&e.Key, &payload, &usage, &e.CreatedAt, &e.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan cache entry: %w", err)
	}
	e.Payload = json.RawMessage(payload)
	if usage != "" {
		e.TokenUsage = json.RawMessage(usage)
	}
	return &e, nil
}

// PutCacheEntry upserts an entry. The key is content-derived, so concurrent
// writers always agree on the value and last-writer-wins is harmless.
func (s *Store) PutCacheEntry(ctx context.Context, e *CacheEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO cache_entries (key, payload, token_usage, created_at, expires_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET
            payload = excluded.payload,
            token_usage = excluded.token_usage,
            created_at = excluded.created_at,
            expires_at = excluded.expires_at`,
		e.Key, string(e.Payload), string(e.TokenUsage), e.CreatedAt, e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// DeleteExpiredCacheEntries sweeps rows past expiry and returns the count.
func (s *Store) DeleteExpiredCacheEntries(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PurgeCache removes all cache entries. Used on schema-version bumps.
func (s *Store) PurgeCache(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("purge cache: %w", err)
	}
	return nil
}
