package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrCounterExhausted is returned once a counter reaches its maximum value.
var ErrCounterExhausted = errors.New("sequence counter exhausted")

// SequenceCounter is one per-category counter row.
type SequenceCounter struct {
	Category     string    `json:"category"`
	CurrentValue int64     `json:"current_value"`
	MaxValue     int64     `json:"max_value"`
	UpdatedBy    string    `json:"updated_by,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
	ResetCount   int       `json:"reset_count"`
}

// SequenceAudit records an explicit counter reset.
type SequenceAudit struct {
	ID          int64     `json:"id"`
	Category    string    `json:"category"`
	Action      string    `json:"action"`
	Actor       string    `json:"actor"`
	Reason      string    `json:"reason,omitempty"`
	ValueBefore int64     `json:"value_before"`
	ValueAfter  int64     `json:"value_after"`
	CreatedAt   time.Time `json:"created_at"`
}

// EnsureCounter creates the counter row for a category if it doesn't exist.
func (s *Store) EnsureCounter(ctx context.Context, category string, maxValue int64) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO sequence_counters (category, current_value, max_value, updated_at)
        VALUES (?, 0, ?, ?)
        ON CONFLICT(category) DO NOTHING`,
		category, maxValue, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ensure counter %s: %w", category, err)
	}
	return nil
}

// IncrementCounter atomically advances a counter and returns the new value.
// The single UPDATE is the mutual-exclusion boundary: concurrent callers are
// serialized by the database and can never observe the same value.
func (s *Store) IncrementCounter(ctx context.Context, category, actor string) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
        UPDATE sequence_counters
        SET current_value = current_value + 1, updated_by = ?, updated_at = ?
        WHERE category = ? AND current_value < max_value
        RETURNING current_value`,
		actor, time.Now().UTC(), category)

	var value int64
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		// Either no such category or the counter is at its cap.
		if _, gerr := s.GetCounter(ctx, category); gerr != nil {
			return 0, gerr
		}
		return 0, fmt.Errorf("category %s: %w", category, ErrCounterExhausted)
	}
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", category, err)
	}
	return value, nil
}

// GetCounter returns the counter row for a category.
func (s *Store) GetCounter(ctx context.Context, category string) (*SequenceCounter, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT category, current_value, max_value, updated_by, updated_at, reset_count
        FROM sequence_counters WHERE category = ?`, category)

	var c SequenceCounter
	err := row.Scan(&c.Category, &c.CurrentValue, &c.MaxValue,
		&c.UpdatedBy, &c.UpdatedAt, &c.ResetCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("counter %s: %w", category, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan counter: %w", err)
	}
	return &c, nil
}

// ResetCounter zeroes a counter and appends exactly one audit row, in one
// transaction. Never called implicitly.
func (s *Store) ResetCounter(ctx context.Context, category, actor, reason string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		var before int64
		err := tx.QueryRowContext(ctx,
			`SELECT current_value FROM sequence_counters WHERE category = ?`,
			category).Scan(&before)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("counter %s: %w", category, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read counter %s: %w", category, err)
		}

		if _, err := tx.ExecContext(ctx, `
            UPDATE sequence_counters
            SET current_value = 0, updated_by = ?, updated_at = ?,
                reset_count = reset_count + 1
            WHERE category = ?`,
			actor, now, category); err != nil {
			return fmt.Errorf("reset counter %s: %w", category, err)
		}

		if _, err := tx.ExecContext(ctx, `
            INSERT INTO sequence_audits
                (category, action, actor, reason, value_before, value_after, created_at)
            VALUES (?, 'reset', ?, ?, ?, 0, ?)`,
			category, actor, reason, before, now); err != nil {
			return fmt.Errorf("audit counter reset %s: %w", category, err)
		}
		return nil
	})
}

// ListAudits returns the audit history for a category, newest first.
func (s *Store) ListAudits(ctx context.Context, category string) ([]*SequenceAudit, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, category, action, actor, reason, value_before, value_after, created_at
        FROM sequence_audits WHERE category = ? ORDER BY id DESC`, category)
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	defer rows.Close()

	var out []*SequenceAudit
	for rows.Next() {
		var a SequenceAudit
		if err := rows.Scan(&a.ID, &a.Category, &a.Action, &a.Actor,
			&a.Reason, &a.ValueBefore, &a.ValueAfter, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
