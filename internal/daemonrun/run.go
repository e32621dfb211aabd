package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"bookbag/internal/acquisition"
	"bookbag/internal/config"
	"bookbag/internal/daemon"
	"bookbag/internal/downloader"
	"bookbag/internal/httpx"
	"bookbag/internal/ipc"
	"bookbag/internal/itemlock"
	"bookbag/internal/logging"
	"bookbag/internal/logs"
	"bookbag/internal/notifications"
	"bookbag/internal/postprocess"
	"bookbag/internal/preflight"
	"bookbag/internal/provider"
	"bookbag/internal/scheduler"
	"bookbag/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the bookbag daemon and blocks until the context is cancelled or
// the process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("bookbag-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update bookbag.log link: %v\n", err)
	}
	if pruned := logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "bookbag-*.log", Exclude: []string{logPath}},
	); pruned > 0 {
		logger.Info("old logs pruned", logging.Int("count", pruned), logging.String(logging.FieldEventType, "log_retention"))
	}
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logging.ErrorWithContext(logger, "open state store", "store_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.data_dir permissions"),
			logging.String(logging.FieldImpact, "daemon cannot start"),
		)
		return err
	}

	components, err := Wire(cfg, st, logger)
	if err != nil {
		st.Close()
		return err
	}
	logConfigSnapshot(signalCtx, logger, cfg, components)

	d, err := daemon.New(cfg, st, logger, components)
	if err != nil {
		st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-signalCtx.Done()
	logger.Info("bookbag daemon shutting down")
	return nil
}

// Wire builds the pipeline components around an open store. The postprocess
// engine and acquisition machine share one item locker, and the engine
// searches again through the machine after rejecting a download.
func Wire(cfg *config.Config, st *store.Store, logger *slog.Logger) (daemon.Components, error) {
	hc, err := httpx.NewFromConfig(cfg, logger)
	if err != nil {
		return daemon.Components{}, fmt.Errorf("http client: %w", err)
	}
	registry := downloader.FromConfig(cfg, hc, logger)
	searcher := provider.NewSearcher(cfg, hc, st, logger)
	notifier := notifications.NewService(cfg)
	locks := itemlock.New()

	engine := postprocess.New(cfg, st, registry, logger,
		postprocess.WithLocker(locks),
		postprocess.WithNotifier(notifier),
	)
	machine := acquisition.New(cfg, st, searcher, registry, engine, logger,
		acquisition.WithLocker(locks),
		acquisition.WithNotifier(notifier),
	)
	engine.SetResearcher(machine)

	var poller acquisition.FeedPoller
	if len(cfg.Providers.Enabled(config.FamilyRSS)) > 0 {
		poller = searcher
	}
	sched := scheduler.New(logger, scheduler.StandardJobs(cfg, machine, engine, poller, logger)...)

	return daemon.Components{
		Machine:   machine,
		Engine:    engine,
		Searcher:  searcher,
		Clients:   registry,
		Scheduler: sched,
	}, nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := logs.CurrentPath(logDir)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config, c daemon.Components) {
	providers := 0
	for _, family := range config.Families {
		providers += len(cfg.Providers.Enabled(family))
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.Int("providers_enabled", providers),
		logging.Int("download_clients", len(c.Clients.Clients())),
		logging.String("download_dir", cfg.Paths.DownloadDir),
		logging.String("ebook_dir", cfg.Paths.EbookDir),
		logging.String("audio_dir", cfg.Paths.AudioDir),
		logging.Bool("notifications", cfg.Notifications.NtfyTopic != ""),
		logging.Bool("metrics", cfg.Metrics.Enabled),
	)
	for _, check := range preflight.Failed(preflight.RunAll(ctx, cfg, c.Clients)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.String(logging.FieldErrorHint, "fix the path or client settings in the config file"),
			logging.String(logging.FieldImpact, "downloads or imports may fail"),
		)
	}
}
