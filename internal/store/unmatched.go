package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const unmatchedColumns = "file_id, path, file_name, extension, size, library_kind, author_guess, title_guess, isbn_guess, language_guess, scan_count, status, matched_item_id, notes, first_seen, last_seen"

func scanUnmatched(row scanner) (*UnmatchedFile, error) {
	var (
		file                      UnmatchedFile
		kind, status              string
		author, title, isbn, lang sql.NullString
		matched, notes            sql.NullString
		firstRaw, lastRaw         string
	)
	if err := row.Scan(&file.FileID, &file.Path, &file.FileName, &file.Extension, &file.Size,
		&kind, &author, &title, &isbn, &lang, &file.ScanCount, &status, &matched, &notes,
		&firstRaw, &lastRaw); err != nil {
		return nil, err
	}
	file.LibraryKind = Kind(kind)
	file.Status = UnmatchedStatus(status)
	file.AuthorGuess = author.String
	file.TitleGuess = title.String
	file.ISBNGuess = isbn.String
	file.LanguageGuess = lang.String
	file.MatchedItemID = matched.String
	file.Notes = notes.String
	file.FirstSeen = parseTimeOrZero(firstRaw)
	file.LastSeen = parseTimeOrZero(lastRaw)
	return &file, nil
}

// RecordUnmatched inserts a newly seen file or, for a known file id, bumps its
// scan count and refreshes the location and guesses. Review status is kept.
func (s *Store) RecordUnmatched(ctx context.Context, file *UnmatchedFile) (*UnmatchedFile, error) {
	if file == nil || strings.TrimSpace(file.FileID) == "" {
		return nil, errors.New("unmatched file id is required")
	}
	now := formatTime(s.now())
	_, err := s.exec(ctx,
		`INSERT INTO unmatched_files (`+unmatchedColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, NULL, NULL, ?, ?)
         ON CONFLICT(file_id) DO UPDATE SET
             path = excluded.path, file_name = excluded.file_name,
             extension = excluded.extension, size = excluded.size,
             author_guess = excluded.author_guess, title_guess = excluded.title_guess,
             isbn_guess = excluded.isbn_guess, language_guess = excluded.language_guess,
             scan_count = unmatched_files.scan_count + 1,
             last_seen = excluded.last_seen`,
		file.FileID, file.Path, file.FileName, strings.ToLower(file.Extension), file.Size,
		string(file.LibraryKind), nullableString(file.AuthorGuess), nullableString(file.TitleGuess),
		nullableString(file.ISBNGuess), nullableString(file.LanguageGuess),
		string(UnmatchedPending), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("record unmatched: %w", err)
	}
	return s.GetUnmatched(ctx, file.FileID)
}

// GetUnmatched fetches a file by id, or (nil, nil).
func (s *Store) GetUnmatched(ctx context.Context, fileID string) (*UnmatchedFile, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+unmatchedColumns+` FROM unmatched_files WHERE file_id = ?`, fileID)
	file, err := scanUnmatched(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get unmatched: %w", err)
	}
	return file, nil
}

// ListUnmatched returns files with one of statuses, or all files.
func (s *Store) ListUnmatched(ctx context.Context, statuses ...UnmatchedStatus) ([]*UnmatchedFile, error) {
	query := `SELECT ` + unmatchedColumns + ` FROM unmatched_files`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY path`
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list unmatched: %w", err)
	}
	defer rows.Close()

	var files []*UnmatchedFile
	for rows.Next() {
		file, err := scanUnmatched(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// SetUnmatchedStatus records an operator decision for a file.
func (s *Store) SetUnmatchedStatus(ctx context.Context, fileID string, status UnmatchedStatus, matchedItemID, notes string) error {
	res, err := s.exec(ctx,
		`UPDATE unmatched_files SET status = ?, matched_item_id = ?, notes = COALESCE(?, notes) WHERE file_id = ?`,
		string(status), nullableString(matchedItemID), nullableString(notes), fileID,
	)
	if err != nil {
		return fmt.Errorf("set unmatched status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("unmatched file not found: %s", fileID)
	}
	return nil
}

// DeleteUnmatched removes a file record.
func (s *Store) DeleteUnmatched(ctx context.Context, fileID string) error {
	if _, err := s.exec(ctx, `DELETE FROM unmatched_files WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("delete unmatched: %w", err)
	}
	return nil
}

// PruneUnmatched deletes records whose path no longer satisfies exists and
// returns how many were removed.
func (s *Store) PruneUnmatched(ctx context.Context, exists func(path string) bool) (int, error) {
	files, err := s.ListUnmatched(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, file := range files {
		if exists(file.Path) {
			continue
		}
		if err := s.DeleteUnmatched(ctx, file.FileID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
