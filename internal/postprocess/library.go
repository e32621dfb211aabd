package postprocess

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"bookbag/internal/fileutil"
	"bookbag/internal/logging"
	"bookbag/internal/metrics"
	"bookbag/internal/services"
	"bookbag/internal/store"
)

// ScanSummary totals one library scan.
type ScanSummary struct {
	Books     int
	Known     int
	Linked    int
	Unmatched int
	Pruned    int
}

// ScanLibrary walks the library roots. Each folder holding book files is one
// book: folders already recorded on a catalog item are skipped, matches are
// linked to their item, and the rest are recorded as unmatched files. Rows
// for files that no longer exist are removed.
func (e *Engine) ScanLibrary(ctx context.Context) (ScanSummary, error) {
	var summary ScanSummary
	known, err := e.knownPaths(ctx)
	if err != nil {
		return summary, err
	}
	for _, root := range e.libraryRoots() {
		if err := e.scanRoot(ctx, root.kind, root.dir, known, &summary); err != nil {
			return summary, err
		}
	}
	pruned, err := e.store.PruneUnmatched(ctx, func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	})
	if err != nil {
		return summary, err
	}
	summary.Pruned = pruned
	if pending, err := e.store.ListUnmatched(ctx, store.UnmatchedPending); err == nil {
		metrics.UnmatchedFiles.Set(float64(len(pending)))
	}
	e.logger.Info("library scan complete",
		logging.Int("books", summary.Books),
		logging.Int("known", summary.Known),
		logging.Int("linked", summary.Linked),
		logging.Int("unmatched", summary.Unmatched),
		logging.Int("pruned", summary.Pruned),
		logging.String(logging.FieldEventType, "library_scan_complete"),
	)
	return summary, nil
}

type libraryRoot struct {
	kind store.Kind
	dir  string
}

func (e *Engine) libraryRoots() []libraryRoot {
	roots := []libraryRoot{{kind: store.KindEbook, dir: e.cfg.Paths.EbookDir}}
	audio := e.cfg.Paths.AudioDir
	if audio != "" && filepath.Clean(audio) != filepath.Clean(e.cfg.Paths.EbookDir) {
		roots = append(roots, libraryRoot{kind: store.KindAudio, dir: audio})
	}
	return roots
}

// knownPaths returns every file or folder already recorded on an item.
func (e *Engine) knownPaths(ctx context.Context) (map[string]bool, error) {
	items, err := e.store.ListItems(ctx, store.KindEbook)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(items)*2)
	for _, item := range items {
		for _, path := range []string{item.EbookPath, item.AudioPath} {
			if path != "" {
				known[filepath.Clean(path)] = true
			}
		}
	}
	return known, nil
}

func (e *Engine) scanRoot(ctx context.Context, kind store.Kind, root string, known map[string]bool, summary *ScanSummary) error {
	if strings.TrimSpace(root) == "" {
		return nil
	}
	payload, err := e.detector.Scan(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, "postprocess", "scan library", root, err)
	}

	byDir := map[string][]File{}
	var order []string
	for _, f := range payload.Files {
		dir := filepath.Dir(f.Path)
		if _, ok := byDir[dir]; !ok {
			order = append(order, dir)
		}
		byDir[dir] = append(byDir[dir], f)
	}
	for _, dir := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		files := byDir[dir]
		var books []File
		for _, f := range files {
			if e.detector.Wanted(f, kind) {
				books = append(books, f)
			}
		}
		if len(books) == 0 {
			continue
		}
		summary.Books++
		if known[filepath.Clean(dir)] || anyKnown(books, known) {
			summary.Known++
			continue
		}
		if err := e.catalogFolder(ctx, kind, dir, files, books, summary); err != nil {
			return err
		}
	}
	return nil
}

func anyKnown(files []File, known map[string]bool) bool {
	for _, f := range files {
		if known[filepath.Clean(f.Path)] {
			return true
		}
	}
	return false
}

func (e *Engine) catalogFolder(ctx context.Context, kind store.Kind, dir string, files, books []File, summary *ScanSummary) error {
	primary := books[preferredIndex(e.cfg.FileTypes.EbookTypes, books)]
	meta := Extract(files, primary)
	match, err := e.matcher.Match(ctx, meta, kind)
	if err != nil {
		return err
	}
	path := primary.Path
	if kind == store.KindAudio {
		path = dir
	}
	if match != nil && match.Item.PathFor(kind) == "" {
		unlock := e.locks.Lock(match.Item.ID)
		err := e.store.SetItemPath(ctx, match.Item.ID, kind, path, store.StatusOpen)
		unlock()
		if err != nil {
			return err
		}
		if existing, _ := e.store.GetUnmatched(ctx, fileutil.PathID(primary.Path)); existing != nil {
			if err := e.store.SetUnmatchedStatus(ctx, existing.FileID, store.UnmatchedMatched, match.Item.ID, "matched by library scan"); err != nil {
				return err
			}
		}
		summary.Linked++
		e.logger.Info("library file linked",
			logging.String(logging.FieldItemID, match.Item.ID),
			logging.String("path", path),
			logging.String("method", match.Method),
			logging.Int("score", match.Score),
		)
		return nil
	}
	record := unmatchedRecord(primary, kind, meta)
	if match != nil {
		record.Notes = "duplicate of " + match.Item.ID
	}
	if _, err := e.store.RecordUnmatched(ctx, record); err != nil {
		return err
	}
	summary.Unmatched++
	return nil
}

func unmatchedRecord(f File, kind store.Kind, meta Metadata) *store.UnmatchedFile {
	return &store.UnmatchedFile{
		FileID:        fileutil.PathID(f.Path),
		Path:          f.Path,
		FileName:      f.Name,
		Extension:     f.Ext,
		Size:          f.Size,
		LibraryKind:   kind,
		AuthorGuess:   meta.Author,
		TitleGuess:    meta.Title,
		ISBNGuess:     meta.ISBN,
		LanguageGuess: meta.Language,
	}
}

// Candidates lists catalog items that might be the unmatched file fileID.
func (e *Engine) Candidates(ctx context.Context, fileID string) ([]Candidate, error) {
	file, err := e.loadUnmatched(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return e.matcher.Candidates(ctx, Metadata{Title: file.TitleGuess, Author: file.AuthorGuess}, file.LibraryKind)
}

// MatchUnmatched links an unmatched file to a catalog item chosen by the
// operator. Audiobooks are recorded by folder.
func (e *Engine) MatchUnmatched(ctx context.Context, fileID, itemID string) error {
	file, err := e.loadUnmatched(ctx, fileID)
	if err != nil {
		return err
	}
	item, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return services.Wrap(services.ErrNotFound, "postprocess", "match file", "no catalog item "+itemID, store.ErrItemNotFound)
	}
	path := file.Path
	if file.LibraryKind == store.KindAudio {
		path = filepath.Dir(path)
	}
	unlock := e.locks.Lock(item.ID)
	err = e.store.SetItemPath(ctx, item.ID, file.LibraryKind, path, store.StatusOpen)
	unlock()
	if err != nil {
		return err
	}
	return e.store.SetUnmatchedStatus(ctx, file.FileID, store.UnmatchedMatched, item.ID, "matched manually")
}

func (e *Engine) loadUnmatched(ctx context.Context, fileID string) (*store.UnmatchedFile, error) {
	file, err := e.store.GetUnmatched(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, services.Wrap(services.ErrNotFound, "postprocess", "load unmatched", "no unmatched file "+fileID, nil)
	}
	return file, nil
}
