package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bookbag/internal/acquisition"
	"bookbag/internal/config"
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

const cookbookURL = "https://indexer.test/cookbook.nzb"

// stubSearcher returns one result that never reaches the download ratio.
type stubSearcher struct{}

func (stubSearcher) Search(_ context.Context, q provider.Query) ([]provider.SearchResult, []provider.ProviderError) {
	return []provider.SearchResult{{
		Kind:     q.Kind,
		Title:    "Unrelated Cookbook",
		Provider: "Indexer",
		Size:     2 << 20,
		Date:     provider.DefaultDate,
		URL:      cookbookURL,
		Mode:     store.ModeNZB,
	}}, nil
}

type cliTestEnv struct {
	cfg        *config.Config
	store      *store.Store
	daemon     *daemon.Daemon
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	homeDir := filepath.Join(testsupport.BaseDir(cfg), "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	configPath := filepath.Join(homeDir, ".config", "bookbag", "config.toml")
	writeTestConfig(t, configPath, cfg, "")

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

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}
	socketPath := cfg.SocketPath()
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		d.Stop()
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Stop()
	})

	return &cliTestEnv{
		cfg:        cfg,
		store:      st,
		daemon:     d,
		socketPath: socketPath,
		configPath: configPath,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config, extra string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nlog_dir = %q\ndownload_dir = %q\nebook_dir = %q\naudio_dir = %q\n%s",
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.Paths.DownloadDir,
		cfg.Paths.EbookDir,
		cfg.Paths.AudioDir,
		extra,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
