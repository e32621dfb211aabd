package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"bookbag/internal/acquisition"
	"bookbag/internal/config"
	"bookbag/internal/downloader"
	"bookbag/internal/language"
	"bookbag/internal/logging"
	"bookbag/internal/postprocess"
	"bookbag/internal/provider"
	"bookbag/internal/scheduler"
	"bookbag/internal/scorer"
	"bookbag/internal/services"
	"bookbag/internal/store"
)

// Components are the wired pipeline parts the daemon coordinates.
type Components struct {
	Machine   *acquisition.Machine
	Engine    *postprocess.Engine
	Searcher  *provider.Searcher
	Clients   *downloader.Registry
	Scheduler *scheduler.Scheduler
}

// Daemon coordinates the background jobs and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	machine   *acquisition.Machine
	engine    *postprocess.Engine
	searcher  *provider.Searcher
	clients   *downloader.Registry
	scheduler *scheduler.Scheduler

	metrics *metricsServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// ClientStatus describes one enabled download client.
type ClientStatus struct {
	Name     string
	Protocol downloader.Protocol
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Jobs         []scheduler.JobStatus
	Providers    []provider.ProviderStatus
	Clients      []ClientStatus
	Wanted       map[store.Status]int
	Unmatched    int
	DatabasePath string
	LockFilePath string
}

// New constructs a daemon around already wired components.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, c Components) (*Daemon, error) {
	if cfg == nil || st == nil || c.Machine == nil || c.Engine == nil || c.Scheduler == nil {
		return nil, errors.New("daemon requires config, store, acquisition machine, postprocess engine, and scheduler")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	clients := c.Clients
	if clients == nil {
		clients = downloader.NewRegistry()
	}
	lockPath := cfg.LockPath()
	logger = logging.NewComponentLogger(logger, "daemon")
	return &Daemon{
		cfg:       cfg,
		logger:    logger,
		metrics:   newMetricsServer(cfg, logger),
		store:     st,
		machine:   c.Machine,
		engine:    c.Engine,
		searcher:  c.Searcher,
		clients:   clients,
		scheduler: c.Scheduler,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the scheduled jobs.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another bookbag daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.scheduler.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := d.metrics.start(); err != nil {
		logging.WarnWithContext(d.logger, "metrics server unavailable", "metrics_listen_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "change metrics.bind or free the port"),
			logging.String(logging.FieldImpact, "metrics are not exported"),
		)
	}
	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("bookbag daemon started",
		logging.String("lock", d.lockPath),
		logging.String("jobs", strings.Join(d.scheduler.Names(), ",")),
	)
	return nil
}

// Stop stops the scheduled jobs and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.scheduler.Stop()
	d.metrics.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_unlock_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file manually if the next start fails"),
		)
	}
	d.running.Store(false)
	d.logger.Info("bookbag daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// MetricsAddr returns the metrics listener address, or "" when disabled.
func (d *Daemon) MetricsAddr() string {
	return d.metrics.addr()
}

// Status reports scheduler, provider, client and wanted-list state.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	status := Status{
		Running:      d.running.Load(),
		Jobs:         d.scheduler.Status(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		Wanted:       make(map[store.Status]int),
	}
	if d.searcher != nil {
		status.Providers = d.searcher.Status(ctx)
	}
	for _, client := range d.clients.Clients() {
		status.Clients = append(status.Clients, ClientStatus{Name: client.Name(), Protocol: client.Protocol()})
	}
	entries, err := d.store.ListWanted(ctx)
	if err != nil {
		return status, err
	}
	for _, entry := range entries {
		status.Wanted[entry.Phase]++
	}
	unmatched, err := d.store.ListUnmatched(ctx, store.UnmatchedPending)
	if err != nil {
		return status, err
	}
	status.Unmatched = len(unmatched)
	return status, nil
}

// Search runs an operator-initiated search for one item.
func (d *Daemon) Search(ctx context.Context, itemID string, kind store.Kind) (*acquisition.SearchOutcome, error) {
	return d.machine.SearchItem(ctx, itemID, kind, acquisition.Interactive())
}

// ManualSearch lists every scored result for one item without snatching.
func (d *Daemon) ManualSearch(ctx context.Context, itemID string, kind store.Kind) (*acquisition.ManualResults, error) {
	return d.machine.ManualSearch(ctx, itemID, kind)
}

// SnatchURL submits a result the operator picked from ManualSearch.
func (d *Daemon) SnatchURL(ctx context.Context, itemID string, kind store.Kind, url string) (*scorer.Scored, error) {
	return d.machine.SnatchURL(ctx, itemID, kind, url)
}

// AddItem records a catalog item and marks the requested kinds Wanted.
func (d *Daemon) AddItem(ctx context.Context, item *store.CatalogItem, kinds ...store.Kind) (*store.CatalogItem, error) {
	if item == nil || strings.TrimSpace(item.Title) == "" {
		return nil, services.Wrap(services.ErrValidation, "daemon", "add item", "title is required", nil)
	}
	item.Language = language.Normalize(item.Language)
	for _, kind := range kinds {
		if kind == store.KindAudio {
			item.AudioStatus = store.StatusWanted
		} else {
			item.EbookStatus = store.StatusWanted
		}
	}
	if err := d.store.UpsertItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// ListItems returns catalog items with the given kind and statuses.
func (d *Daemon) ListItems(ctx context.Context, kind store.Kind, statuses ...store.Status) ([]*store.CatalogItem, error) {
	return d.store.ListItems(ctx, kind, statuses...)
}

// ListWanted returns wanted entries, optionally filtered by phase.
func (d *Daemon) ListWanted(ctx context.Context, phases ...store.Status) ([]*store.WantedEntry, error) {
	return d.store.ListWanted(ctx, phases...)
}

// ClearWanted purges Processed and Failed entries older than age.
func (d *Daemon) ClearWanted(ctx context.Context, age time.Duration) (int64, error) {
	if age < 0 {
		age = 0
	}
	removed, err := d.store.PurgeHistory(ctx, age)
	if err != nil {
		return 0, err
	}
	d.logger.Info("wanted history cleared", logging.Int("removed", int(removed)))
	return removed, nil
}

// ListBlacklist returns every blacklist entry.
func (d *Daemon) ListBlacklist(ctx context.Context) ([]*store.BlacklistEntry, error) {
	return d.store.ListBlacklist(ctx)
}

// AddBlacklist blacklists url for every item.
func (d *Daemon) AddBlacklist(ctx context.Context, url string, reason store.Reason) error {
	return d.machine.Blacklist(ctx, url, reason)
}

// RemoveBlacklist deletes one blacklist entry.
func (d *Daemon) RemoveBlacklist(ctx context.Context, id int64) (bool, error) {
	return d.store.RemoveBlacklist(ctx, id)
}

// ListUnmatched returns unmatched library files with the given statuses.
func (d *Daemon) ListUnmatched(ctx context.Context, statuses ...store.UnmatchedStatus) ([]*store.UnmatchedFile, error) {
	return d.store.ListUnmatched(ctx, statuses...)
}

// IgnoreUnmatched hides an unmatched file from future listings.
func (d *Daemon) IgnoreUnmatched(ctx context.Context, fileID string) error {
	file, err := d.store.GetUnmatched(ctx, fileID)
	if err != nil {
		return err
	}
	if file == nil {
		return services.Wrap(services.ErrNotFound, "daemon", "ignore unmatched", fmt.Sprintf("no unmatched file %q", fileID), nil)
	}
	return d.store.SetUnmatchedStatus(ctx, fileID, store.UnmatchedIgnored, "", "ignored by user")
}

// UnmatchedCandidates lists catalog items that may match an unmatched file.
func (d *Daemon) UnmatchedCandidates(ctx context.Context, fileID string) ([]postprocess.Candidate, error) {
	return d.engine.Candidates(ctx, fileID)
}

// MatchUnmatched links an unmatched file to a catalog item.
func (d *Daemon) MatchUnmatched(ctx context.Context, fileID, itemID string) error {
	return d.engine.MatchUnmatched(ctx, fileID, itemID)
}

// ClearDelay resets the failed-search backoff of an item.
func (d *Daemon) ClearDelay(ctx context.Context, itemID string, kind store.Kind) error {
	return d.machine.ClearDelay(ctx, itemID, kind)
}

// Cancel aborts a snatched download.
func (d *Daemon) Cancel(ctx context.Context, url string) error {
	return d.machine.Cancel(ctx, url)
}

// TriggerJob queues an immediate run of a scheduled job.
func (d *Daemon) TriggerJob(name string) error {
	if !d.running.Load() {
		return errors.New("daemon is not running")
	}
	return d.scheduler.Trigger(name)
}

// RunPostprocess processes every completed download found in the download directory.
func (d *Daemon) RunPostprocess(ctx context.Context) (postprocess.ProcessSummary, error) {
	return d.engine.ProcessAll(ctx)
}

// ScanLibrary walks the library roots and records unmatched files.
func (d *Daemon) ScanLibrary(ctx context.Context) (postprocess.ScanSummary, error) {
	return d.engine.ScanLibrary(ctx)
}

// ProviderUsage returns today's API call counts.
func (d *Daemon) ProviderUsage(ctx context.Context) ([]store.ProviderUsage, error) {
	return d.store.ListUsage(ctx, store.UsageDay(time.Now()))
}
