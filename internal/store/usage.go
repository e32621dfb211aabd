package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UsageDay formats the local calendar day used to bucket API calls.
func UsageDay(t time.Time) string {
	return t.Local().Format("2006-01-02")
}

// IncrementUsage adds one call to a provider's count for day and returns the new total.
func (s *Store) IncrementUsage(ctx context.Context, name, day string) (int, error) {
	ctx = ensureContext(ctx)
	var count int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO provider_usage (name, day, count) VALUES (?, ?, 1)
             ON CONFLICT(name, day) DO UPDATE SET count = provider_usage.count + 1`,
			name, day,
		); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			`SELECT count FROM provider_usage WHERE name = ? AND day = ?`, name, day,
		).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	return count, nil
}

// Usage returns a provider's call count for day.
func (s *Store) Usage(ctx context.Context, name, day string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COALESCE(SUM(count), 0) FROM provider_usage WHERE name = ? AND day = ?`, name, day,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("usage: %w", err)
	}
	return count, nil
}

// ListUsage returns every provider's count for day.
func (s *Store) ListUsage(ctx context.Context, day string) ([]ProviderUsage, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT name, day, count FROM provider_usage WHERE day = ? ORDER BY name`, day)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var usage []ProviderUsage
	for rows.Next() {
		var u ProviderUsage
		if err := rows.Scan(&u.Name, &u.Day, &u.Count); err != nil {
			return nil, err
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

// PruneUsage deletes counters for days before day.
func (s *Store) PruneUsage(ctx context.Context, day string) error {
	if _, err := s.exec(ctx, `DELETE FROM provider_usage WHERE day < ?`, day); err != nil {
		return fmt.Errorf("prune usage: %w", err)
	}
	return nil
}
