package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"bookbag/internal/downloader"
	"bookbag/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckClientsReportsEmptyRegistry(t *testing.T) {
	results := CheckClients(downloader.NewRegistry())
	if len(results) != 1 || results[0].Passed {
		t.Fatalf("expected one failing result, got %+v", results)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, nil); results != nil {
		t.Fatalf("expected nil results, got %+v", results)
	}
}

func TestRunAllFlagsMissingDirectories(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	registry := downloader.NewRegistry(testsupport.NewFakeClient("fake", downloader.ProtocolUsenet))

	results := RunAll(context.Background(), cfg, registry)
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("expected all checks to pass, got %+v", failed)
	}

	if err := os.RemoveAll(cfg.Paths.DownloadDir); err != nil {
		t.Fatalf("remove download dir: %v", err)
	}
	failed := Failed(RunAll(context.Background(), cfg, registry))
	if len(failed) != 1 || failed[0].Name != "Download directory" {
		t.Fatalf("expected download directory failure, got %+v", failed)
	}
}
