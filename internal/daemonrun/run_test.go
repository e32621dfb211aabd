package daemonrun

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"bookbag/internal/config"
	"bookbag/internal/ipc"
	"bookbag/internal/logging"
	"bookbag/internal/scheduler"
	"bookbag/internal/testsupport"
)

func TestWireRegistersStandardJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	components, err := Wire(cfg, st, logging.NewNop())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	want := []string{scheduler.JobReconcile, scheduler.JobPostprocess, scheduler.JobSearch, scheduler.JobLibraryScan}
	if got := components.Scheduler.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("jobs = %v, want %v", got, want)
	}
	if components.Machine == nil || components.Engine == nil || components.Searcher == nil {
		t.Fatalf("incomplete components %+v", components)
	}
}

func TestWireAddsRSSJobWithFeeds(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithProvider(config.FamilyRSS, "Feed", "http://127.0.0.1:1/rss"))
	st := testsupport.MustOpenStore(t, cfg)

	components, err := Wire(cfg, st, logging.NewNop())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	names := components.Scheduler.Names()
	if names[len(names)-1] != scheduler.JobRSS {
		t.Fatalf("expected rss job last, got %v", names)
	}
}

func TestRunServesSocketUntilCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, Options{LogLevel: "error"}) }()

	var client *ipc.Client
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c, err := ipc.Dial(cfg.SocketPath())
		if err == nil {
			status, err := c.Status()
			if err == nil && status.Running {
				client = c
				break
			}
			c.Close()
		}
		time.Sleep(20 * time.Millisecond)
	}
	if client == nil {
		cancel()
		t.Fatal("daemon did not come up")
	}
	client.Close()

	if _, err := os.Stat(filepath.Join(cfg.Paths.DataDir, "bookbagd.pid")); err != nil {
		t.Fatalf("expected pid file: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, err := os.Stat(cfg.SocketPath()); !os.IsNotExist(err) {
		t.Fatalf("expected socket removed, got %v", err)
	}
}
