package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"bookbag/internal/ipc"
	"bookbag/internal/store"
	"bookbag/internal/testsupport"
)

func TestStatusReportsRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "running (pid")
	requireContains(t, out, "noop")
	requireContains(t, out, "SABnzbd")

	out, _, err = runCLI(t, []string{"status", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var status ipc.StatusResponse
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || len(status.Jobs) != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestStatusWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	missing := filepath.Join(testsupport.BaseDir(env.cfg), "missing.sock")

	out, _, err := runCLI(t, []string{"status"}, missing, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "not running")
	requireContains(t, out, "Download directory")

	_, _, err = runCLI(t, []string{"item", "list"}, missing, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "bookbag start") {
		t.Fatalf("expected dial hint, got %v", err)
	}
}

func TestItemCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"item", "add", "The", "Left", "Hand", "of", "Darkness", "--author", "Ursula K. Le Guin"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("item add: %v", err)
	}
	requireContains(t, out, "The Left Hand of Darkness by Ursula K. Le Guin")

	out, _, err = runCLI(t, []string{"item", "list", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("item list: %v", err)
	}
	var items []ipc.Item
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode items: %v", err)
	}
	if len(items) != 1 || items[0].EbookStatus != string(store.StatusWanted) {
		t.Fatalf("unexpected items %+v", items)
	}

	out, _, err = runCLI(t, []string{"search", items[0].ID}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	requireContains(t, out, "No result snatched")

	out, _, err = runCLI(t, []string{"search", items[0].ID, "--list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("search --list: %v", err)
	}
	requireContains(t, out, "Unrelated Cookbook")
	requireContains(t, out, cookbookURL)

	out, _, err = runCLI(t, []string{"search", items[0].ID, "--snatch", cookbookURL}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("search --snatch: %v", err)
	}
	requireContains(t, out, `Snatched "Unrelated Cookbook" from Indexer`)

	out, _, err = runCLI(t, []string{"item", "clear-delay", items[0].ID}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("item clear-delay: %v", err)
	}
	requireContains(t, out, "Search delay cleared")
}

func TestWantedAndBlacklistCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	item := testsupport.NewItem(t, env.store, "Dune", "Frank Herbert", store.KindEbook)
	testsupport.SnatchedEntry(t, env.store, item, store.KindEbook, "https://indexer/dune", "SABnzbd")

	out, _, err := runCLI(t, []string{"wanted", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("wanted list: %v", err)
	}
	requireContains(t, out, string(store.StatusSnatched))

	out, _, err = runCLI(t, []string{"wanted", "clear"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("wanted clear: %v", err)
	}
	requireContains(t, out, "Removed 0 entries")

	if _, _, err := runCLI(t, []string{"blacklist", "add", "https://indexer/bad"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("blacklist add: %v", err)
	}
	out, _, err = runCLI(t, []string{"blacklist", "list", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("blacklist list: %v", err)
	}
	var entries []ipc.BlacklistEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode blacklist: %v", err)
	}
	if len(entries) != 1 || entries[0].Reason != string(store.ReasonUserBlacklisted) {
		t.Fatalf("unexpected blacklist %+v", entries)
	}

	id := strconv.FormatInt(entries[0].ID, 10)
	out, _, err = runCLI(t, []string{"blacklist", "remove", id}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("blacklist remove: %v", err)
	}
	requireContains(t, out, "Removed blacklist entry "+id)
}

func TestJobAndMaintenanceCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"job", "trigger", "noop"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("job trigger: %v", err)
	}
	requireContains(t, out, "Triggered noop")

	if _, _, err := runCLI(t, []string{"job", "trigger", "missing"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected unknown job to fail")
	}

	testsupport.WriteFile(t, filepath.Join(env.cfg.Paths.EbookDir, "Unknown Author", "Mystery Book", "Mystery Book - Unknown Author.epub"), 2048)
	out, _, err = runCLI(t, []string{"library", "scan"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("library scan: %v", err)
	}
	requireContains(t, out, "Scanned 1 book(s)")

	out, _, err = runCLI(t, []string{"unmatched", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("unmatched list: %v", err)
	}
	requireContains(t, out, "Mystery Book")

	out, _, err = runCLI(t, []string{"postprocess", "run"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("postprocess run: %v", err)
	}
	requireContains(t, out, "Checked 0")
}

func TestLogsPrintsTrailingLines(t *testing.T) {
	env := setupCLITestEnv(t)
	path := filepath.Join(env.cfg.Paths.LogDir, "bookbag.log")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "-n", "2"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "two\nthree\n" {
		t.Fatalf("unexpected logs output %q", out)
	}
}
