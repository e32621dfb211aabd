package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const wantedColumns = "url, provider, title, size, submitted_at, item_id, kind, client_name, download_id, phase, message, mode, updated_at"

func scanWanted(row scanner) (*WantedEntry, error) {
	var (
		entry                       WantedEntry
		kind, phase                 string
		client, downloadID, message sql.NullString
		submittedRaw, updatedRaw    string
	)
	if err := row.Scan(
		&entry.URL, &entry.Provider, &entry.Title, &entry.Size, &submittedRaw,
		&entry.ItemID, &kind, &client, &downloadID, &phase, &message, &entry.Mode, &updatedRaw,
	); err != nil {
		return nil, err
	}
	entry.Kind = Kind(kind)
	entry.Phase = Status(phase)
	entry.ClientName = client.String
	entry.DownloadID = downloadID.String
	entry.Message = message.String
	entry.SubmittedAt = parseTimeOrZero(submittedRaw)
	entry.UpdatedAt = parseTimeOrZero(updatedRaw)
	return &entry, nil
}

// UpsertWanted inserts or replaces the wanted entry keyed by its URL. A URL is
// present at most once; resubmitting it overwrites the previous attempt.
func (s *Store) UpsertWanted(ctx context.Context, entry *WantedEntry) error {
	if entry == nil {
		return errors.New("wanted entry is nil")
	}
	if strings.TrimSpace(entry.URL) == "" {
		return errors.New("wanted entry url is required")
	}
	now := s.now()
	if entry.SubmittedAt.IsZero() {
		entry.SubmittedAt = now
	}
	if entry.Phase == "" {
		entry.Phase = StatusSnatched
	}
	entry.UpdatedAt = now
	_, err := s.exec(ctx,
		`INSERT INTO wanted (`+wantedColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(url) DO UPDATE SET
             provider = excluded.provider, title = excluded.title, size = excluded.size,
             submitted_at = excluded.submitted_at, item_id = excluded.item_id,
             kind = excluded.kind, client_name = excluded.client_name,
             download_id = excluded.download_id, phase = excluded.phase,
             message = excluded.message, mode = excluded.mode,
             updated_at = excluded.updated_at`,
		entry.URL, entry.Provider, entry.Title, entry.Size, formatTime(entry.SubmittedAt),
		entry.ItemID, string(entry.Kind), nullableString(entry.ClientName),
		nullableString(entry.DownloadID), string(entry.Phase), nullableString(entry.Message),
		entry.Mode, formatTime(entry.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert wanted: %w", err)
	}
	return nil
}

// GetWanted fetches the entry for url. A missing entry yields (nil, nil).
func (s *Store) GetWanted(ctx context.Context, url string) (*WantedEntry, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+wantedColumns+` FROM wanted WHERE url = ?`, url)
	entry, err := scanWanted(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get wanted: %w", err)
	}
	return entry, nil
}

// ListWanted returns entries in any of phases, or all entries when none are given.
func (s *Store) ListWanted(ctx context.Context, phases ...Status) ([]*WantedEntry, error) {
	query := `SELECT ` + wantedColumns + ` FROM wanted`
	var args []any
	if len(phases) > 0 {
		query += ` WHERE phase IN (` + makePlaceholders(len(phases)) + `)`
		args = statusArgs(phases)
	}
	query += ` ORDER BY submitted_at`
	return s.queryWanted(ctx, query, args...)
}

// WantedForItem returns every entry recorded for an item and kind.
func (s *Store) WantedForItem(ctx context.Context, itemID string, kind Kind) ([]*WantedEntry, error) {
	return s.queryWanted(ctx,
		`SELECT `+wantedColumns+` FROM wanted WHERE item_id = ? AND kind = ? ORDER BY submitted_at`,
		itemID, string(kind),
	)
}

func (s *Store) queryWanted(ctx context.Context, query string, args ...any) ([]*WantedEntry, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query wanted: %w", err)
	}
	defer rows.Close()

	var entries []*WantedEntry
	for rows.Next() {
		entry, err := scanWanted(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SetWantedPhase moves an entry to phase and records message.
func (s *Store) SetWantedPhase(ctx context.Context, url string, phase Status, message string) error {
	res, err := s.exec(ctx,
		`UPDATE wanted SET phase = ?, message = ?, updated_at = ? WHERE url = ?`,
		string(phase), nullableString(message), formatTime(s.now()), url,
	)
	if err != nil {
		return fmt.Errorf("set wanted phase: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("wanted entry not found: %s", url)
	}
	return nil
}

// SetDownloadID records the identifier a download client assigned to url.
func (s *Store) SetDownloadID(ctx context.Context, url, clientName, downloadID string) error {
	_, err := s.exec(ctx,
		`UPDATE wanted SET client_name = ?, download_id = ?, updated_at = ? WHERE url = ?`,
		nullableString(clientName), nullableString(downloadID), formatTime(s.now()), url,
	)
	if err != nil {
		return fmt.Errorf("set download id: %w", err)
	}
	return nil
}

// DeleteWanted removes the entry for url.
func (s *Store) DeleteWanted(ctx context.Context, url string) error {
	if _, err := s.exec(ctx, `DELETE FROM wanted WHERE url = ?`, url); err != nil {
		return fmt.Errorf("delete wanted: %w", err)
	}
	return nil
}

// PurgeHistory deletes terminal entries (Processed, Failed) not updated since
// the cutoff and returns how many were removed.
func (s *Store) PurgeHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan)
	res, err := s.exec(ctx,
		`DELETE FROM wanted WHERE phase IN (?, ?) AND updated_at < ?`,
		string(StatusProcessed), string(StatusFailed), formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("purge history: %w", err)
	}
	return res.RowsAffected()
}
