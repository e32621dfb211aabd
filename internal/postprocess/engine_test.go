package postprocess

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"bookbag/internal/config"
	"bookbag/internal/downloader"
	"bookbag/internal/logging"
	"bookbag/internal/store"
	"bookbag/internal/testsupport"
)

type fakeResearcher struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeResearcher) Research(_ context.Context, itemID string, kind store.Kind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, itemID+"/"+string(kind))
	return nil
}

func (f *fakeResearcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type harness struct {
	cfg        *config.Config
	store      *store.Store
	client     *testsupport.FakeClient
	researcher *fakeResearcher
	engine     *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	client := testsupport.NewFakeClient("SABnzbd", downloader.ProtocolUsenet)
	h := &harness{
		cfg:        cfg,
		store:      st,
		client:     client,
		researcher: &fakeResearcher{},
		engine:     New(cfg, st, downloader.NewRegistry(client), logging.NewNop()),
	}
	h.engine.SetResearcher(h.researcher)
	return h
}

func (h *harness) downloadDir(t *testing.T, name string, files ...string) string {
	t.Helper()
	return testsupport.WriteDownload(t, h.cfg.Paths.DownloadDir, name, files...)
}

func (h *harness) item(t *testing.T, id string) *store.CatalogItem {
	t.Helper()
	item, err := h.store.GetItem(context.Background(), id)
	if err != nil || item == nil {
		t.Fatalf("GetItem(%s): %v", id, err)
	}
	return item
}

func (h *harness) wanted(t *testing.T, url string) *store.WantedEntry {
	t.Helper()
	entry, err := h.store.GetWanted(context.Background(), url)
	if err != nil || entry == nil {
		t.Fatalf("GetWanted(%s): %v", url, err)
	}
	return entry
}

func TestProcessDownloadOrganizesEbook(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	item := testsupport.NewItem(t, h.store, "Project Hail Mary", "Andy Weir", store.KindEbook)
	entry := testsupport.SnatchedEntry(t, h.store, item, store.KindEbook, "https://indexer.test/get/1", "SABnzbd")
	dir := h.downloadDir(t, "Andy Weir - Project Hail Mary", "Andy Weir - Project Hail Mary.epub", "cover.jpg")

	outcome, err := h.engine.ProcessDownload(ctx, entry, dir)
	if err != nil {
		t.Fatalf("ProcessDownload: %v", err)
	}
	want := filepath.Join(h.cfg.Paths.EbookDir, "Andy Weir", "Project Hail Mary", "Project Hail Mary - Andy Weir.epub")
	if outcome.Status != StatusProcessed || outcome.Destination != want {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("organized file missing: %v", err)
	}
	if _, err := os.Stat(strings.TrimSuffix(want, ".epub") + ".opf"); err != nil {
		t.Fatalf("opf sidecar missing: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("moved download folder should be removed, stat err %v", err)
	}

	stored := h.item(t, item.ID)
	if stored.EbookStatus != store.StatusProcessed || stored.EbookPath != want {
		t.Fatalf("item not updated: %+v", stored)
	}
	current := h.wanted(t, entry.URL)
	if current.Phase != store.StatusProcessed || current.Message != "Processed to "+want {
		t.Fatalf("wanted entry not updated: %+v", current)
	}
	if calls := h.researcher.Calls(); len(calls) != 0 {
		t.Fatalf("unexpected research calls %v", calls)
	}
}

func TestProcessDownloadAcceptsCompanionText(t *testing.T) {
	h := newHarness(t)
	item := testsupport.NewItem(t, h.store, "Book Title", "Some Author", store.KindEbook)
	entry := testsupport.SnatchedEntry(t, h.store, item, store.KindEbook, "https://indexer.test/get/2", "SABnzbd")
	dir := h.downloadDir(t, "Book Title", "Book Title.epub", "free audiobook version.txt")

	outcome, err := h.engine.ProcessDownload(context.Background(), entry, dir)
	if err != nil {
		t.Fatalf("ProcessDownload: %v", err)
	}
	if outcome.Status != StatusProcessed {
		t.Fatalf("expected processed, got %+v", outcome)
	}
}

func TestProcessDownloadRejectsUnsupportedPayload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	item := testsupport.NewItem(t, h.store, "Project Hail Mary", "Andy Weir", store.KindEbook)
	entry := testsupport.SnatchedEntry(t, h.store, item, store.KindEbook, "https://indexer.test/get/3", "SABnzbd")
	dir := h.downloadDir(t, "Project Hail Mary", "readme.txt", "sample.doc", "cover.jpg")

	outcome, err := h.engine.ProcessDownload(ctx, entry, dir)
	if err != nil {
		t.Fatalf("ProcessDownload: %v", err)
	}
	if outcome.Status != StatusUnsupported {
		t.Fatalf("expected unsupported, got %+v", outcome)
	}
	wantMessage := "No valid ebook files found in " + dir + ". Found unsupported types: .doc, .jpg, .txt"
	current := h.wanted(t, entry.URL)
	if current.Phase != store.StatusFailed || current.Message != wantMessage {
		t.Fatalf("unexpected wanted entry %+v", current)
	}
	if got := h.item(t, item.ID).EbookStatus; got != store.StatusWanted {
		t.Fatalf("item should revert to Wanted, got %s", got)
	}
	if removed := h.client.RemovedIDs(); len(removed) != 1 || removed[0] != "job-1" {
		t.Fatalf("client job not removed: %v", removed)
	}
	blacklisted, err := h.store.IsBlacklisted(ctx, store.BlacklistQuery{URL: entry.URL, ItemID: item.ID, Kind: store.KindEbook})
	if err != nil || !blacklisted {
		t.Fatalf("expected url blacklisted: %v", err)
	}
	if calls := h.researcher.Calls(); len(calls) != 1 || calls[0] != item.ID+"/E" {
		t.Fatalf("expected one replacement search, got %v", calls)
	}
}

func TestProcessDownloadTypeMismatchAlwaysBlacklists(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.cfg.Acquisition.BlacklistFailed = false
	item := testsupport.NewItem(t, h.store, "Dune", "Frank Herbert", store.KindEbook)
	entry := testsupport.SnatchedEntry(t, h.store, item, store.KindEbook, "https://indexer.test/get/4", "SABnzbd")
	dir := h.downloadDir(t, "Dune", "Dune 01.mp3", "Dune 02.mp3")

	outcome, err := h.engine.ProcessDownload(ctx, entry, dir)
	if err != nil {
		t.Fatalf("ProcessDownload: %v", err)
	}
	if outcome.Status != StatusTypeMismatch {
		t.Fatalf("expected type mismatch, got %+v", outcome)
	}
	entries, err := h.store.ListBlacklist(ctx)
	if err != nil || len(entries) != 1 || entries[0].Reason != store.ReasonTypeMismatch {
		t.Fatalf("unexpected blacklist %+v (%v)", entries, err)
	}
}

func TestProcessDownloadWaitsForPartialFiles(t *testing.T) {
	h := newHarness(t)
	item := testsupport.NewItem(t, h.store, "Dune", "Frank Herbert", store.KindEbook)
	entry := testsupport.SnatchedEntry(t, h.store, item, store.KindEbook, "https://indexer.test/get/5", "SABnzbd")
	dir := h.downloadDir(t, "Dune", "Dune.epub.part")

	outcome, err := h.engine.ProcessDownload(context.Background(), entry, dir)
	if err != nil {
		t.Fatalf("ProcessDownload: %v", err)
	}
	if outcome.Status != StatusPending {
		t.Fatalf("expected pending, got %+v", outcome)
	}
	if got := h.wanted(t, entry.URL).Phase; got != store.StatusSnatched {
		t.Fatalf("entry should stay Snatched, got %s", got)
	}
}

func TestProcessDownloadCopiesSeedingTorrent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.cfg.Torrent.KeepSeeding = false
	h.cfg.Torrent.SeedWait = true
	item := testsupport.NewItem(t, h.store, "Dune", "Frank Herbert", store.KindEbook)
	entry := testsupport.SnatchedEntry(t, h.store, item, store.KindEbook, "magnet:?xt=urn:btih:abc", "SABnzbd")
	entry.Mode = store.ModeTorrent
	if err := h.store.UpsertWanted(ctx, entry); err != nil {
		t.Fatalf("UpsertWanted: %v", err)
	}
	dir := h.downloadDir(t, "Dune", "Dune.epub")

	outcome, err := h.engine.ProcessDownload(ctx, entry, dir)
	if err != nil || outcome.Status != StatusProcessed {
		t.Fatalf("ProcessDownload: %+v %v", outcome, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Dune.epub")); err != nil {
		t.Fatalf("seeding payload should stay in place: %v", err)
	}
}

func TestProcessDownloadRecordsUnmatchedPayload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	entry := &store.WantedEntry{
		URL:   "https://indexer.test/get/6",
		Title: "Jane Doe - Mystery Book",
		Kind:  store.KindEbook,
		Phase: store.StatusSnatched,
		Mode:  store.ModeNZB,
	}
	if err := h.store.UpsertWanted(ctx, entry); err != nil {
		t.Fatalf("UpsertWanted: %v", err)
	}
	dir := h.downloadDir(t, "Mystery Book", "Jane Doe - Mystery Book.epub")

	outcome, err := h.engine.ProcessDownload(ctx, entry, dir)
	if err != nil {
		t.Fatalf("ProcessDownload: %v", err)
	}
	if outcome.Status != StatusUnmatched {
		t.Fatalf("expected unmatched, got %+v", outcome)
	}
	files, err := h.store.ListUnmatched(ctx, store.UnmatchedPending)
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one unmatched row: %+v %v", files, err)
	}
	if files[0].TitleGuess != "Mystery Book" || files[0].AuthorGuess != "Jane Doe" {
		t.Fatalf("unexpected guesses %+v", files[0])
	}
	if got := h.wanted(t, entry.URL).Phase; got != store.StatusFailed {
		t.Fatalf("entry should fail, got %s", got)
	}
}

func TestProcessAllLocatesDownloadFolders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	item := testsupport.NewItem(t, h.store, "Project Hail Mary", "Andy Weir", store.KindEbook)
	testsupport.SnatchedEntry(t, h.store, item, store.KindEbook, "https://indexer.test/get/7", "SABnzbd")
	other := testsupport.NewItem(t, h.store, "Dune", "Frank Herbert", store.KindEbook)
	testsupport.SnatchedEntry(t, h.store, other, store.KindEbook, "https://indexer.test/get/8", "SABnzbd")
	h.downloadDir(t, "Andy.Weir.Project.Hail.Mary.EPUB", "phm.epub")
	h.client.Percent = 100
	h.client.State = downloader.StateCompleted

	summary, err := h.engine.ProcessAll(ctx)
	if err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}
	if summary.Checked != 2 || summary.Processed != 1 || summary.Pending != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if got := h.item(t, item.ID).EbookStatus; got != store.StatusProcessed {
		t.Fatalf("item status = %s", got)
	}
}

func TestProcessAllSkipsDownloadsStillInProgress(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	item := testsupport.NewItem(t, h.store, "Project Hail Mary", "Andy Weir", store.KindEbook)
	entry := testsupport.SnatchedEntry(t, h.store, item, store.KindEbook, "https://indexer.test/get/9", "SABnzbd")
	h.downloadDir(t, "Andy Weir - Project Hail Mary", "Andy Weir - Project Hail Mary.epub")
	h.client.Percent = 40
	h.client.State = "downloading"

	summary, err := h.engine.ProcessAll(ctx)
	if err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}
	if summary.Checked != 1 || summary.Pending != 1 || summary.Processed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if got := h.item(t, item.ID).EbookStatus; got != store.StatusSnatched {
		t.Fatalf("item status = %s, want Snatched", got)
	}
	stored, err := h.store.GetWanted(ctx, entry.URL)
	if err != nil || stored == nil || stored.Phase != store.StatusSnatched {
		t.Fatalf("wanted entry = %+v, err=%v", stored, err)
	}

	h.client.Percent = -1
	h.client.State = ""
	summary, err = h.engine.ProcessAll(ctx)
	if err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}
	if summary.Processed != 1 {
		t.Fatalf("client without progress should fall back to the folder sweep, got %+v", summary)
	}
}
