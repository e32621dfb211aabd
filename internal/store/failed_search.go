package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// NextAttempt returns when the item may be searched again.
func (f FailedSearch) NextAttempt() time.Time {
	if f.LastAttempt.IsZero() {
		return time.Time{}
	}
	return f.LastAttempt.Add(time.Duration(f.IntervalMinutes) * time.Minute)
}

// Due reports whether the delay has elapsed at now.
func (f FailedSearch) Due(now time.Time) bool {
	return !now.Before(f.NextAttempt())
}

// BackoffInterval returns base doubled for every failure after the first,
// capped at limit.
func BackoffInterval(count int, base, limit time.Duration) time.Duration {
	if count <= 0 || base <= 0 {
		return 0
	}
	interval := base
	for i := 1; i < count; i++ {
		interval *= 2
		if limit > 0 && interval >= limit {
			return limit
		}
	}
	if limit > 0 && interval > limit {
		return limit
	}
	return interval
}

// GetFailedSearch returns the backoff record for an item, or (nil, nil).
func (s *Store) GetFailedSearch(ctx context.Context, itemID string, kind Kind) (*FailedSearch, error) {
	var (
		record  = FailedSearch{ItemID: itemID, Kind: kind}
		lastRaw sql.NullString
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT count, interval_minutes, last_attempt FROM failed_searches WHERE item_id = ? AND kind = ?`,
		itemID, string(kind),
	).Scan(&record.Count, &record.IntervalMinutes, &lastRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get failed search: %w", err)
	}
	record.LastAttempt = parseTimeOrZero(lastRaw.String)
	return &record, nil
}

// RecordFailedSearch increments the failure count for an item and recomputes
// its retry interval.
func (s *Store) RecordFailedSearch(ctx context.Context, itemID string, kind Kind, base, limit time.Duration) (*FailedSearch, error) {
	ctx = ensureContext(ctx)
	now := s.now()
	record := &FailedSearch{ItemID: itemID, Kind: kind, LastAttempt: now}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		err := tx.QueryRowContext(ctx,
			`SELECT count FROM failed_searches WHERE item_id = ? AND kind = ?`, itemID, string(kind),
		).Scan(&count)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		record.Count = count + 1
		record.IntervalMinutes = int(BackoffInterval(record.Count, base, limit) / time.Minute)
		_, err = tx.ExecContext(ctx,
			`INSERT INTO failed_searches (item_id, kind, count, interval_minutes, last_attempt)
             VALUES (?, ?, ?, ?, ?)
             ON CONFLICT(item_id, kind) DO UPDATE SET
                 count = excluded.count, interval_minutes = excluded.interval_minutes,
                 last_attempt = excluded.last_attempt`,
			itemID, string(kind), record.Count, record.IntervalMinutes, formatTime(now),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("record failed search: %w", err)
	}
	return record, nil
}

// ResetFailedSearch clears the backoff record for an item.
func (s *Store) ResetFailedSearch(ctx context.Context, itemID string, kind Kind) error {
	if _, err := s.exec(ctx, `DELETE FROM failed_searches WHERE item_id = ? AND kind = ?`, itemID, string(kind)); err != nil {
		return fmt.Errorf("reset failed search: %w", err)
	}
	return nil
}
