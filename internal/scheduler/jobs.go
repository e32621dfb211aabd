package scheduler

import (
	"context"
	"log/slog"
	"time"

	"bookbag/internal/acquisition"
	"bookbag/internal/config"
	"bookbag/internal/logging"
	"bookbag/internal/postprocess"
)

// Job family names.
const (
	JobSearch      = "search"
	JobRSS         = "rss"
	JobPostprocess = "postprocess"
	JobLibraryScan = "library_scan"
	JobReconcile   = "reconcile"
)

// Acquirer is the part of the acquisition machine the jobs drive.
type Acquirer interface {
	SearchWanted(ctx context.Context) (acquisition.SearchSummary, error)
	ProcessFeeds(ctx context.Context, poller acquisition.FeedPoller) (acquisition.FeedSummary, error)
	Reconcile(ctx context.Context) (acquisition.ReconcileSummary, error)
}

// Postprocessor is the part of the postprocess engine the jobs drive.
type Postprocessor interface {
	ProcessAll(ctx context.Context) (postprocess.ProcessSummary, error)
	ScanLibrary(ctx context.Context) (postprocess.ScanSummary, error)
}

// StandardJobs returns the daemon's job families with intervals from cfg.
// Reconcile starts first so downloads that finished while the daemon was down
// are picked up before new searches are submitted. A nil poller leaves out
// the rss job.
func StandardJobs(cfg *config.Config, acq Acquirer, post Postprocessor, poller acquisition.FeedPoller, logger *slog.Logger) []Job {
	logger = logging.NewComponentLogger(logger, "scheduler")
	sc := cfg.Scheduler
	jobs := []Job{
		{
			Name:     JobReconcile,
			Interval: time.Duration(sc.ReconcileIntervalMinutes) * time.Minute,
			Run: func(ctx context.Context) error {
				summary, err := acq.Reconcile(ctx)
				if err == nil && summary.Checked > 0 {
					logging.WithContext(ctx, logger).Info("reconcile finished",
						logging.Int("checked", summary.Checked),
						logging.Int("completed", summary.Completed),
						logging.Int("failed", summary.Failed),
						logging.Int("expired", summary.Expired),
					)
				}
				return err
			},
		},
		{
			Name:     JobPostprocess,
			Interval: time.Duration(sc.PostprocessIntervalMinutes) * time.Minute,
			Delay:    time.Minute,
			Run: func(ctx context.Context) error {
				_, err := post.ProcessAll(ctx)
				return err
			},
		},
		{
			Name:     JobSearch,
			Interval: time.Duration(sc.SearchIntervalMinutes) * time.Minute,
			Delay:    2 * time.Minute,
			Run: func(ctx context.Context) error {
				summary, err := acq.SearchWanted(ctx)
				if err == nil {
					logging.WithContext(ctx, logger).Info("search sweep finished",
						logging.Int("searched", summary.Searched),
						logging.Int("snatched", summary.Snatched),
						logging.Int("deferred", summary.Deferred),
						logging.Int("failed", summary.Failed),
					)
				}
				return err
			},
		},
		{
			Name:     JobLibraryScan,
			Interval: time.Duration(sc.LibraryScanIntervalHours) * time.Hour,
			Delay:    5 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := post.ScanLibrary(ctx)
				return err
			},
		},
	}
	if poller != nil {
		jobs = append(jobs, Job{
			Name:     JobRSS,
			Interval: time.Duration(sc.RSSIntervalMinutes) * time.Minute,
			Delay:    3 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := acq.ProcessFeeds(ctx, poller)
				return err
			},
		})
	}
	return jobs
}
