package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"bookbag/internal/acquisition"
	"bookbag/internal/logging"
	"bookbag/internal/postprocess"
	"bookbag/internal/provider"
	"bookbag/internal/testsupport"
)

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestTriggerRunsManualJob(t *testing.T) {
	done := make(chan struct{}, 1)
	s := New(logging.NewNop(), Job{Name: "manual", Run: func(context.Context) error {
		done <- struct{}{}
		return nil
	}})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	select {
	case <-done:
		t.Fatal("manual job ran without a trigger")
	case <-time.After(20 * time.Millisecond):
	}
	if err := s.Trigger("manual"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitFor(t, done, "triggered run")
}

func TestTriggerUnknownJob(t *testing.T) {
	s := New(logging.NewNop(), Job{Name: "known", Run: func(context.Context) error { return nil }})
	if err := s.Trigger("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}

func TestTriggersCoalesceWhileRunning(t *testing.T) {
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	var runs atomic.Int32
	s := New(logging.NewNop(), Job{Name: "slow", Run: func(ctx context.Context) error {
		runs.Add(1)
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	_ = s.Trigger("slow")
	waitFor(t, started, "first run")
	for i := 0; i < 5; i++ {
		_ = s.Trigger("slow")
	}
	status := s.Status()[0]
	if !status.Running || !status.Pending {
		t.Fatalf("expected running job with a pending trigger, got %+v", status)
	}
	close(release)
	waitFor(t, started, "follow-up run")
	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != 2 {
		t.Fatalf("expected 2 runs, got %d", got)
	}
}

func TestIntervalJobRepeats(t *testing.T) {
	ticks := make(chan struct{}, 10)
	s := New(logging.NewNop(), Job{Name: "tick", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		select {
		case ticks <- struct{}{}:
		default:
		}
		return nil
	}})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	waitFor(t, ticks, "first tick")
	waitFor(t, ticks, "second tick")
}

func TestStatusRecordsFailure(t *testing.T) {
	done := make(chan struct{}, 1)
	s := New(logging.NewNop(), Job{Name: "broken", Run: func(context.Context) error {
		defer func() { done <- struct{}{} }()
		return errors.New("provider offline")
	}})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = s.Trigger("broken")
	waitFor(t, done, "failing run")
	s.Stop()

	status := s.Status()[0]
	if status.Runs != 1 || status.LastError != "provider offline" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestStartTwiceFails(t *testing.T) {
	s := New(logging.NewNop(), Job{Name: "noop", Run: func(context.Context) error { return nil }})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
	if err := New(logging.NewNop()).Start(context.Background()); err == nil {
		t.Fatal("expected Start without jobs to fail")
	}
}

type fakeAcquirer struct{}

func (fakeAcquirer) SearchWanted(context.Context) (acquisition.SearchSummary, error) {
	return acquisition.SearchSummary{}, nil
}

func (fakeAcquirer) ProcessFeeds(context.Context, acquisition.FeedPoller) (acquisition.FeedSummary, error) {
	return acquisition.FeedSummary{}, nil
}

func (fakeAcquirer) Reconcile(context.Context) (acquisition.ReconcileSummary, error) {
	return acquisition.ReconcileSummary{}, nil
}

type fakePostprocessor struct{}

func (fakePostprocessor) ProcessAll(context.Context) (postprocess.ProcessSummary, error) {
	return postprocess.ProcessSummary{}, nil
}

func (fakePostprocessor) ScanLibrary(context.Context) (postprocess.ScanSummary, error) {
	return postprocess.ScanSummary{}, nil
}

type fakePoller struct{}

func (fakePoller) Poll(context.Context) (*provider.FeedContents, []provider.ProviderError) {
	return &provider.FeedContents{}, nil
}

func TestStandardJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	jobs := StandardJobs(cfg, fakeAcquirer{}, fakePostprocessor{}, nil, logging.NewNop())
	names := map[string]time.Duration{}
	for _, job := range jobs {
		names[job.Name] = job.Interval
	}
	if _, ok := names[JobRSS]; ok {
		t.Fatal("rss job registered without a poller")
	}
	if names[JobSearch] != 360*time.Minute || names[JobLibraryScan] != 24*time.Hour {
		t.Fatalf("unexpected intervals %v", names)
	}
	if jobs[0].Name != JobReconcile {
		t.Fatalf("reconcile should be registered first, got %s", jobs[0].Name)
	}

	jobs = StandardJobs(cfg, fakeAcquirer{}, fakePostprocessor{}, fakePoller{}, logging.NewNop())
	if len(jobs) != 5 || jobs[4].Name != JobRSS {
		t.Fatalf("expected rss job last, got %d jobs", len(jobs))
	}
	for _, job := range jobs {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("%s: %v", job.Name, err)
		}
	}
}
