package ipc_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"bookbag/internal/acquisition"
	"bookbag/internal/daemon"
	"bookbag/internal/downloader"
	"bookbag/internal/ipc"
	"bookbag/internal/logging"
	"bookbag/internal/postprocess"
	"bookbag/internal/provider"
	"bookbag/internal/scheduler"
	"bookbag/internal/store"
	"bookbag/internal/testsupport"
)

// stubSearcher returns one result that never reaches the download ratio.
type stubSearcher struct{}

func (stubSearcher) Search(_ context.Context, q provider.Query) ([]provider.SearchResult, []provider.ProviderError) {
	return []provider.SearchResult{{
		Kind:     q.Kind,
		Title:    "Unrelated Cookbook",
		Provider: "Indexer",
		Size:     2 << 20,
		Date:     provider.DefaultDate,
		URL:      "https://indexer/cookbook.nzb",
		Mode:     store.ModeNZB,
	}}, nil
}

func startServer(t *testing.T) (*ipc.Client, *store.Store, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	registry := downloader.NewRegistry(testsupport.NewFakeClient("SABnzbd", downloader.ProtocolUsenet))
	engine := postprocess.New(cfg, st, registry, logger)
	machine := acquisition.New(cfg, st, stubSearcher{}, registry, engine, logger)
	engine.SetResearcher(machine)
	sched := scheduler.New(logger, scheduler.Job{Name: "noop", Run: func(context.Context) error { return nil }})
	d, err := daemon.New(cfg, st, logger, daemon.Components{
		Machine:   machine,
		Engine:    engine,
		Clients:   registry,
		Scheduler: sched,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}

	socket := cfg.SocketPath()
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, st, cfg.Paths.EbookDir
}

func TestStatusOverSocket(t *testing.T) {
	client, st, _ := startServer(t)
	item := testsupport.NewItem(t, st, "Dune", "Frank Herbert", store.KindEbook)
	testsupport.SnatchedEntry(t, st, item, store.KindEbook, "https://indexer/1", "SABnzbd")

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running {
		t.Fatal("expected daemon to be running")
	}
	if status.PID == 0 {
		t.Fatal("expected pid to be reported")
	}
	if status.Wanted[string(store.StatusSnatched)] != 1 {
		t.Fatalf("unexpected wanted counts %v", status.Wanted)
	}
	if len(status.Jobs) != 1 || status.Jobs[0].Name != "noop" {
		t.Fatalf("unexpected jobs %+v", status.Jobs)
	}
	if len(status.Clients) != 1 || status.Clients[0].Protocol != "usenet" {
		t.Fatalf("unexpected clients %+v", status.Clients)
	}
}

func TestItemAndSearchOverSocket(t *testing.T) {
	client, _, _ := startServer(t)

	added, err := client.ItemAdd(ipc.ItemAddRequest{Title: "Dune", Author: "Frank Herbert", Kinds: []string{"audiobook"}})
	if err != nil {
		t.Fatalf("ItemAdd: %v", err)
	}
	if added.Item.AudioStatus != string(store.StatusWanted) {
		t.Fatalf("expected audio wanted, got %+v", added.Item)
	}

	listed, err := client.ItemList(ipc.ItemListRequest{Kind: "A", Statuses: []string{"wanted"}})
	if err != nil {
		t.Fatalf("ItemList: %v", err)
	}
	if len(listed.Items) != 1 || listed.Items[0].ID != added.Item.ID {
		t.Fatalf("unexpected items %+v", listed.Items)
	}

	result, err := client.Search(ipc.SearchRequest{ItemID: added.Item.ID, Kind: "audio"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Snatched {
		t.Fatalf("expected the unrelated result to be skipped, got %+v", result)
	}

	if _, err := client.ItemList(ipc.ItemListRequest{Statuses: []string{"done"}}); err == nil {
		t.Fatal("expected unknown status to be rejected")
	}
}

func TestBlacklistAndJobsOverSocket(t *testing.T) {
	client, _, _ := startServer(t)

	if _, err := client.BlacklistAdd(ipc.BlacklistAddRequest{URL: "https://indexer/bad"}); err != nil {
		t.Fatalf("BlacklistAdd: %v", err)
	}
	list, err := client.BlacklistList()
	if err != nil {
		t.Fatalf("BlacklistList: %v", err)
	}
	if len(list.Entries) != 1 || list.Entries[0].Reason != string(store.ReasonUserBlacklisted) {
		t.Fatalf("unexpected blacklist %+v", list.Entries)
	}
	removed, err := client.BlacklistRemove(ipc.BlacklistRemoveRequest{ID: list.Entries[0].ID})
	if err != nil || !removed.Removed {
		t.Fatalf("BlacklistRemove: %+v %v", removed, err)
	}

	if _, err := client.JobTrigger(ipc.JobTriggerRequest{Name: "noop"}); err != nil {
		t.Fatalf("JobTrigger: %v", err)
	}
	if _, err := client.JobTrigger(ipc.JobTriggerRequest{Name: "missing"}); err == nil {
		t.Fatal("expected unknown job error")
	}
}

func TestLibraryScanOverSocket(t *testing.T) {
	client, _, ebookDir := startServer(t)
	testsupport.WriteFile(t, filepath.Join(ebookDir, "Unknown Author", "Mystery Book", "Mystery Book - Unknown Author.epub"), 2048)

	scan, err := client.LibraryScan()
	if err != nil {
		t.Fatalf("LibraryScan: %v", err)
	}
	if scan.Books != 1 || scan.Unmatched != 1 {
		t.Fatalf("unexpected scan summary %+v", scan)
	}

	files, err := client.UnmatchedList(ipc.UnmatchedListRequest{Statuses: []string{"pending"}})
	if err != nil {
		t.Fatalf("UnmatchedList: %v", err)
	}
	if len(files.Files) != 1 {
		t.Fatalf("expected one unmatched file, got %d", len(files.Files))
	}
	if _, err := client.UnmatchedIgnore(ipc.UnmatchedIgnoreRequest{FileID: files.Files[0].FileID}); err != nil {
		t.Fatalf("UnmatchedIgnore: %v", err)
	}
	left, err := client.UnmatchedList(ipc.UnmatchedListRequest{Statuses: []string{"unmatched"}})
	if err != nil {
		t.Fatalf("UnmatchedList: %v", err)
	}
	if len(left.Files) != 0 {
		t.Fatalf("expected ignored file to be hidden, got %+v", left.Files)
	}
}

func TestManualSearchAndSnatchOverSocket(t *testing.T) {
	client, st, _ := startServer(t)
	item := testsupport.NewItem(t, st, "Dune", "Frank Herbert", store.KindEbook)

	listed, err := client.ManualSearch(ipc.ManualSearchRequest{ItemID: item.ID, Kind: "ebook"})
	if err != nil {
		t.Fatalf("ManualSearch: %v", err)
	}
	if len(listed.Results) != 1 || listed.Results[0].URL != "https://indexer/cookbook.nzb" {
		t.Fatalf("unexpected results %+v", listed.Results)
	}

	snatched, err := client.Snatch(ipc.SnatchRequest{ItemID: item.ID, Kind: "ebook", URL: listed.Results[0].URL})
	if err != nil {
		t.Fatalf("Snatch: %v", err)
	}
	if snatched.Result.Title != "Unrelated Cookbook" {
		t.Fatalf("unexpected snatch %+v", snatched.Result)
	}
	entry, err := st.GetWanted(context.Background(), "https://indexer/cookbook.nzb")
	if err != nil || entry == nil || entry.Phase != store.StatusSnatched {
		t.Fatalf("wanted entry = %+v, err=%v", entry, err)
	}
}
