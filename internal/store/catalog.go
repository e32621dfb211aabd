package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrItemNotFound is returned when a catalog item id does not exist.
var ErrItemNotFound = errors.New("catalog item not found")

const catalogColumns = "id, title, subtitle, author_name, language, isbn, ebook_status, audio_status, ebook_path, audio_path, created_at, updated_at"

func statusColumn(kind Kind) string {
	if kind == KindAudio {
		return "audio_status"
	}
	return "ebook_status"
}

func pathColumn(kind Kind) string {
	if kind == KindAudio {
		return "audio_path"
	}
	return "ebook_path"
}

func scanCatalogItem(row scanner) (*CatalogItem, error) {
	var (
		item                         CatalogItem
		subtitle, author, lang, isbn sql.NullString
		ebookStatus, audioStatus     string
		ebookPath, audioPath         sql.NullString
		createdRaw, updatedRaw       string
	)
	if err := row.Scan(
		&item.ID, &item.Title, &subtitle, &author, &lang, &isbn,
		&ebookStatus, &audioStatus, &ebookPath, &audioPath, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	item.Subtitle = subtitle.String
	item.AuthorName = author.String
	item.Language = lang.String
	item.ISBN = isbn.String
	item.EbookStatus = Status(ebookStatus)
	item.AudioStatus = Status(audioStatus)
	item.EbookPath = ebookPath.String
	item.AudioPath = audioPath.String
	item.CreatedAt = parseTimeOrZero(createdRaw)
	item.UpdatedAt = parseTimeOrZero(updatedRaw)
	return &item, nil
}

// UpsertItem inserts a catalog item or replaces its metadata and statuses.
// An empty ID is assigned a new UUID.
func (s *Store) UpsertItem(ctx context.Context, item *CatalogItem) error {
	if item == nil {
		return errors.New("item is nil")
	}
	if strings.TrimSpace(item.Title) == "" {
		return errors.New("catalog item title is required")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.EbookStatus == "" {
		item.EbookStatus = StatusSkipped
	}
	if item.AudioStatus == "" {
		item.AudioStatus = StatusSkipped
	}
	now := s.now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := s.exec(ctx,
		`INSERT INTO catalog_items (`+catalogColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             title = excluded.title, subtitle = excluded.subtitle,
             author_name = excluded.author_name, language = excluded.language,
             isbn = excluded.isbn, ebook_status = excluded.ebook_status,
             audio_status = excluded.audio_status, ebook_path = excluded.ebook_path,
             audio_path = excluded.audio_path, updated_at = excluded.updated_at`,
		item.ID, item.Title, nullableString(item.Subtitle), nullableString(item.AuthorName),
		nullableString(item.Language), nullableString(NormalizeISBN(item.ISBN)),
		string(item.EbookStatus), string(item.AudioStatus),
		nullableString(item.EbookPath), nullableString(item.AudioPath),
		formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert catalog item: %w", err)
	}
	return nil
}

// GetItem fetches a catalog item. A missing item yields (nil, nil).
func (s *Store) GetItem(ctx context.Context, id string) (*CatalogItem, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+catalogColumns+` FROM catalog_items WHERE id = ?`, id)
	item, err := scanCatalogItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get catalog item: %w", err)
	}
	return item, nil
}

// ListItems returns items whose status for kind is one of statuses, or every
// item when no status is given.
func (s *Store) ListItems(ctx context.Context, kind Kind, statuses ...Status) ([]*CatalogItem, error) {
	query := `SELECT ` + catalogColumns + ` FROM catalog_items`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE ` + statusColumn(kind) + ` IN (` + makePlaceholders(len(statuses)) + `)`
		args = statusArgs(statuses)
	}
	query += ` ORDER BY author_name, title`
	return s.queryItems(ctx, query, args...)
}

// FindByISBN returns items whose stored ISBN matches isbn after normalization.
func (s *Store) FindByISBN(ctx context.Context, isbn string) ([]*CatalogItem, error) {
	isbn = NormalizeISBN(isbn)
	if isbn == "" {
		return nil, nil
	}
	return s.queryItems(ctx, `SELECT `+catalogColumns+` FROM catalog_items WHERE isbn = ?`, isbn)
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]*CatalogItem, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	var items []*CatalogItem
	for rows.Next() {
		item, err := scanCatalogItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SetItemStatus updates the status of one media kind of an item.
func (s *Store) SetItemStatus(ctx context.Context, id string, kind Kind, status Status) error {
	res, err := s.exec(ctx,
		`UPDATE catalog_items SET `+statusColumn(kind)+` = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("set item status: %w", err)
	}
	return requireAffected(res, id)
}

// SetItemPath records where the organized file for kind lives and marks the
// kind with status.
func (s *Store) SetItemPath(ctx context.Context, id string, kind Kind, path string, status Status) error {
	res, err := s.exec(ctx,
		`UPDATE catalog_items SET `+pathColumn(kind)+` = ?, `+statusColumn(kind)+` = ?, updated_at = ? WHERE id = ?`,
		nullableString(path), string(status), formatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("set item path: %w", err)
	}
	return requireAffected(res, id)
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return nil
}

// NormalizeISBN strips hyphens and spaces and uppercases a trailing X.
func NormalizeISBN(value string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(value) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'x' || r == 'X':
			b.WriteRune('X')
		case r == '-' || r == ' ':
		default:
			return strings.TrimSpace(value)
		}
	}
	return b.String()
}
