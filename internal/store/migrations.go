package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one numbered schema change. Migrations are applied in order
// and recorded in schema_migrations.
type migration struct {
	version int
	up      string
}

var migrations = []migration{
	{version: 1, up: migrationV1},
}

const migrationV1 = `
CREATE TABLE IF NOT EXISTS batch_jobs (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    total INTEGER NOT NULL DEFAULT 0,
    processed INTEGER NOT NULL DEFAULT 0,
    succeeded INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    cancelled INTEGER NOT NULL DEFAULT 0,
    review INTEGER NOT NULL DEFAULT 0,
    conf_high INTEGER NOT NULL DEFAULT 0,
    conf_medium INTEGER NOT NULL DEFAULT 0,
    conf_low INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMP,
    completed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_items (
    id TEXT PRIMARY KEY,
    batch_id TEXT NOT NULL,
    object_schema TEXT NOT NULL DEFAULT '',
    object_name TEXT NOT NULL,
    object_kind TEXT NOT NULL,
    qa INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    metadata TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL DEFAULT 0,
    extraction_method TEXT NOT NULL DEFAULT '',
    tier INTEGER NOT NULL DEFAULT 0,
    content TEXT NOT NULL DEFAULT '',
    doc_number TEXT NOT NULL DEFAULT '',
    low_confidence INTEGER NOT NULL DEFAULT 0,
    reviewer TEXT NOT NULL DEFAULT '',
    reviewed_at TIMESTAMP,
    review_notes TEXT NOT NULL DEFAULT '',
    retry_count INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    FOREIGN KEY (batch_id) REFERENCES batch_jobs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_batch_items_batch ON batch_items(batch_id);
CREATE INDEX IF NOT EXISTS idx_batch_items_status ON batch_items(status);

CREATE TABLE IF NOT EXISTS cache_entries (
    key TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    token_usage TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);

CREATE TABLE IF NOT EXISTS sequence_counters (
    category TEXT PRIMARY KEY,
    current_value INTEGER NOT NULL DEFAULT 0,
    max_value INTEGER NOT NULL,
    updated_by TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMP NOT NULL,
    reset_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sequence_audits (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    category TEXT NOT NULL,
    action TEXT NOT NULL,
    actor TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    value_before INTEGER NOT NULL,
    value_after INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

// applyMigrations brings the schema up to the latest version.
func applyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS schema_migrations (
            version INTEGER PRIMARY KEY,
            applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := db.ExecContext(ctx, m.up); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}
