package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const blacklistColumns = "id, url, provider, title, reason, item_id, kind, aux_info, created_at"

// BlacklistQuery describes a candidate result to check against the blacklist.
type BlacklistQuery struct {
	URL      string
	Provider string
	Title    string
	ItemID   string
	Kind     Kind
	// ByTitle also matches rows with the same provider and title, for sources
	// whose URLs change between fetches.
	ByTitle bool
}

func scanBlacklist(row scanner) (*BlacklistEntry, error) {
	var (
		entry        BlacklistEntry
		reason, kind string
		aux          sql.NullString
		createdRaw   string
	)
	if err := row.Scan(&entry.ID, &entry.URL, &entry.Provider, &entry.Title, &reason,
		&entry.ItemID, &kind, &aux, &createdRaw); err != nil {
		return nil, err
	}
	entry.Reason = Reason(reason)
	entry.Kind = Kind(kind)
	entry.AuxInfo = aux.String
	entry.CreatedAt = parseTimeOrZero(createdRaw)
	return &entry, nil
}

// AddBlacklist records entry. A row with the same URL and scope is updated in place.
func (s *Store) AddBlacklist(ctx context.Context, entry *BlacklistEntry) error {
	if entry == nil {
		return errors.New("blacklist entry is nil")
	}
	if strings.TrimSpace(entry.URL) == "" {
		return errors.New("blacklist url is required")
	}
	if entry.Reason == "" {
		entry.Reason = ReasonUserBlacklisted
	}
	if entry.ItemID == "" {
		entry.Kind = ""
	}
	entry.CreatedAt = s.now()
	_, err := s.exec(ctx,
		`INSERT INTO blacklist (url, provider, title, reason, item_id, kind, aux_info, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(url, item_id, kind) DO UPDATE SET
             provider = excluded.provider, title = excluded.title,
             reason = excluded.reason, aux_info = excluded.aux_info,
             created_at = excluded.created_at`,
		entry.URL, entry.Provider, entry.Title, string(entry.Reason),
		entry.ItemID, string(entry.Kind), nullableString(entry.AuxInfo), formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("add blacklist: %w", err)
	}
	return nil
}

// IsBlacklisted reports whether q is suppressed. Unscoped rows apply to every
// item; scoped rows only to their own item and kind.
func (s *Store) IsBlacklisted(ctx context.Context, q BlacklistQuery) (bool, error) {
	match := `url = ?`
	args := []any{q.URL}
	if q.ByTitle && q.Provider != "" && q.Title != "" {
		match = `(url = ? OR (provider = ? AND title = ?))`
		args = append(args, q.Provider, q.Title)
	}
	args = append(args, q.ItemID, string(q.Kind))
	query := `SELECT COUNT(1) FROM blacklist WHERE ` + match +
		` AND (item_id = '' OR (item_id = ? AND kind = ?))`

	var count int
	if err := s.db.QueryRowContext(ensureContext(ctx), query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return count > 0, nil
}

// ListBlacklist returns every entry, newest first.
func (s *Store) ListBlacklist(ctx context.Context) ([]*BlacklistEntry, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+blacklistColumns+` FROM blacklist ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	defer rows.Close()

	var entries []*BlacklistEntry
	for rows.Next() {
		entry, err := scanBlacklist(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// RemoveBlacklist deletes the entry with id and reports whether it existed.
func (s *Store) RemoveBlacklist(ctx context.Context, id int64) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM blacklist WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove blacklist: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
