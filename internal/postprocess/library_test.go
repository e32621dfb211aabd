package postprocess

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"bookbag/internal/fileutil"
	"bookbag/internal/store"
	"bookbag/internal/testsupport"
)

func TestScanLibraryRecordsUnmatchedFilesOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	path := filepath.Join(h.cfg.Paths.EbookDir, "Jane Doe", "Mystery Book", "Jane Doe - Mystery Book.epub")
	testsupport.WriteFile(t, path, 512)

	for i := 0; i < 2; i++ {
		summary, err := h.engine.ScanLibrary(ctx)
		if err != nil {
			t.Fatalf("ScanLibrary: %v", err)
		}
		if summary.Books != 1 || summary.Unmatched != 1 {
			t.Fatalf("scan %d: unexpected summary %+v", i+1, summary)
		}
	}
	files, err := h.store.ListUnmatched(ctx)
	if err != nil {
		t.Fatalf("ListUnmatched: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected one row, got %d", len(files))
	}
	if files[0].ScanCount != 2 || files[0].FileID != fileutil.PathID(path) {
		t.Fatalf("unexpected row %+v", files[0])
	}
	if files[0].TitleGuess != "Mystery Book" || files[0].LibraryKind != store.KindEbook {
		t.Fatalf("unexpected guesses %+v", files[0])
	}
}

func TestScanLibraryLinksMatchingFiles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	item := testsupport.NewItem(t, h.store, "Project Hail Mary", "Andy Weir", store.KindEbook)
	path := filepath.Join(h.cfg.Paths.EbookDir, "Andy Weir", "Project Hail Mary", "Andy Weir - Project Hail Mary.epub")
	testsupport.WriteFile(t, path, 512)
	audio := filepath.Join(h.cfg.Paths.AudioDir, "Andy Weir", "Project Hail Mary")
	testsupport.WriteFile(t, filepath.Join(audio, "Part 1.mp3"), 512)

	summary, err := h.engine.ScanLibrary(ctx)
	if err != nil {
		t.Fatalf("ScanLibrary: %v", err)
	}
	if summary.Linked != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	stored := h.item(t, item.ID)
	if stored.EbookPath != path || stored.EbookStatus != store.StatusOpen {
		t.Fatalf("ebook not linked: %+v", stored)
	}

	summary, err = h.engine.ScanLibrary(ctx)
	if err != nil {
		t.Fatalf("ScanLibrary: %v", err)
	}
	if summary.Known != 1 || summary.Linked != 0 {
		t.Fatalf("second scan should skip the linked file: %+v", summary)
	}
}

func TestScanLibraryPrunesMissingFiles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	path := filepath.Join(h.cfg.Paths.EbookDir, "Jane Doe - Mystery Book.epub")
	testsupport.WriteFile(t, path, 64)
	if _, err := h.engine.ScanLibrary(ctx); err != nil {
		t.Fatalf("ScanLibrary: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	summary, err := h.engine.ScanLibrary(ctx)
	if err != nil {
		t.Fatalf("ScanLibrary: %v", err)
	}
	if summary.Pruned != 1 {
		t.Fatalf("expected one pruned row, got %+v", summary)
	}
}

func TestMatchUnmatchedLinksItem(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	path := filepath.Join(h.cfg.Paths.EbookDir, "Jane Doe", "Mystery Book", "jd-mb.epub")
	testsupport.WriteFile(t, path, 64)
	if _, err := h.engine.ScanLibrary(ctx); err != nil {
		t.Fatalf("ScanLibrary: %v", err)
	}
	item := testsupport.NewItem(t, h.store, "The Mystery Book", "Jane Doe", store.KindEbook)
	fileID := fileutil.PathID(path)

	if err := h.engine.MatchUnmatched(ctx, fileID, item.ID); err != nil {
		t.Fatalf("MatchUnmatched: %v", err)
	}
	stored := h.item(t, item.ID)
	if stored.EbookPath != path || stored.EbookStatus != store.StatusOpen {
		t.Fatalf("item not linked: %+v", stored)
	}
	file, err := h.store.GetUnmatched(ctx, fileID)
	if err != nil || file == nil {
		t.Fatalf("GetUnmatched: %v", err)
	}
	if file.Status != store.UnmatchedMatched || file.MatchedItemID != item.ID {
		t.Fatalf("unmatched row not updated: %+v", file)
	}
	if err := h.engine.MatchUnmatched(ctx, "missing", item.ID); err == nil {
		t.Fatal("expected error for unknown file id")
	}
}
