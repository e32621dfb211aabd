package postprocess

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bookbag/internal/config"
	"bookbag/internal/downloader"
	"bookbag/internal/itemlock"
	"bookbag/internal/logging"
	"bookbag/internal/metrics"
	"bookbag/internal/notifications"
	"bookbag/internal/services"
	"bookbag/internal/store"
	"bookbag/internal/textutil"
)

// Researcher starts a replacement search after a download was rejected.
type Researcher interface {
	Research(ctx context.Context, itemID string, kind store.Kind) error
}

// Clients looks up the download client that owns a wanted entry.
type Clients interface {
	Get(name string) (downloader.Client, bool)
}

// Engine turns completed downloads into organized library files.
type Engine struct {
	cfg        *config.Config
	store      *store.Store
	clients    Clients
	notifier   notifications.Service
	logger     *slog.Logger
	locks      *itemlock.Locker
	researcher Researcher
	detector   *Detector
	matcher    *Matcher
}

// Option configures optional Engine dependencies.
type Option func(*Engine)

// WithNotifier sets the notification service.
func WithNotifier(notifier notifications.Service) Option {
	return func(e *Engine) {
		if notifier != nil {
			e.notifier = notifier
		}
	}
}

// WithLocker shares the acquisition item locker.
func WithLocker(locks *itemlock.Locker) Option {
	return func(e *Engine) {
		if locks != nil {
			e.locks = locks
		}
	}
}

// New constructs an Engine.
func New(cfg *config.Config, st *store.Store, clients Clients, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		store:    st,
		clients:  clients,
		notifier: notifications.NewNoop(),
		logger:   logging.NewComponentLogger(logger, "postprocess"),
		locks:    itemlock.New(),
		detector: NewDetector(cfg),
		matcher:  NewMatcher(st, cfg.Match.LibraryRatio),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetResearcher wires the search that runs after a rejected download. The
// acquisition machine is built after the engine, so this is not an Option.
func (e *Engine) SetResearcher(r Researcher) { e.researcher = r }

// Detector exposes the file classifier.
func (e *Engine) Detector() *Detector { return e.detector }

// ProcessDownload runs one completed download through classification,
// validation, metadata extraction, matching and organization. dir may be
// empty, in which case the download directory is searched for a folder
// named like the entry.
func (e *Engine) ProcessDownload(ctx context.Context, entry *store.WantedEntry, dir string) (Outcome, error) {
	logger := e.logger.With(
		logging.String(logging.FieldItemID, entry.ItemID),
		logging.String(logging.FieldKind, string(entry.Kind)),
		logging.String(logging.FieldProvider, entry.Provider),
	)
	if strings.TrimSpace(dir) == "" {
		dir = e.locate(entry)
	}
	if dir == "" {
		return Outcome{Status: StatusPending, Message: "download folder not found"}, nil
	}
	payload, err := e.detector.Scan(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return Outcome{Status: StatusPending, Message: fmt.Sprintf("download folder %s does not exist yet", dir)}, nil
	}
	if err != nil {
		return Outcome{}, services.Wrap(services.ErrTransient, "postprocess", "scan download", dir, err)
	}
	if len(payload.Files) == 0 && payload.InProgress > 0 {
		return Outcome{Status: StatusPending, Message: "download still in progress"}, nil
	}

	unlock := e.locks.Lock(entry.ItemID)
	outcome, research, err := e.processLocked(ctx, logger, entry, payload)
	unlock()

	if err == nil {
		metrics.Postprocessed.WithLabelValues(string(entry.Kind), string(outcome.Status)).Inc()
	}
	if research && e.researcher != nil {
		if rerr := e.researcher.Research(ctx, entry.ItemID, entry.Kind); rerr != nil {
			logging.WarnWithContext(logger, "replacement search failed", "research_failed",
				logging.Error(rerr),
				logging.String(logging.FieldErrorHint, "the item stays Wanted and is searched on the next sweep"),
			)
		}
	}
	return outcome, err
}

func (e *Engine) processLocked(ctx context.Context, logger *slog.Logger, entry *store.WantedEntry, payload *Payload) (Outcome, bool, error) {
	current, err := e.store.GetWanted(ctx, entry.URL)
	if err != nil {
		return Outcome{}, false, err
	}
	if current != nil && current.Phase != store.StatusSnatched {
		return Outcome{Status: StatusPending, Message: fmt.Sprintf("wanted entry is %s", current.Phase)}, false, nil
	}
	item, err := e.store.GetItem(ctx, entry.ItemID)
	if err != nil {
		return Outcome{}, false, err
	}

	term := entry.Title
	if item != nil {
		term = item.AuthorName + " " + item.Title
	}
	v := validate(e.cfg, e.detector, payload, entry.Kind, term)
	switch v.status {
	case StatusRejected, StatusUnsupported:
		e.failDownload(ctx, logger, entry, item, v.message, store.ReasonUnsupportedFileType, e.cfg.Acquisition.BlacklistFailed)
		return Outcome{Status: v.status, Message: v.message}, item != nil, nil
	case StatusTypeMismatch:
		e.failDownload(ctx, logger, entry, item, v.message, store.ReasonTypeMismatch, true)
		return Outcome{Status: v.status, Message: v.message}, item != nil, nil
	}

	primary := v.files[preferredIndex(e.cfg.FileTypes.EbookTypes, v.files)]
	meta := Extract(payload.Files, primary)
	if item == nil {
		match, err := e.matcher.Match(ctx, meta, entry.Kind)
		if err != nil {
			return Outcome{}, false, err
		}
		if match == nil {
			return e.recordUnmatchedDownload(ctx, logger, entry, v.files, meta)
		}
		item = match.Item
	}

	// Torrents may still be seeding; their client releases the payload later.
	seeds := e.cfg.Torrent.KeepSeeding || e.cfg.Torrent.SeedWait
	mode := transferMove
	if e.cfg.Postprocess.DestinationCopy || (seeds && downloader.ProtocolFor(entry.Mode) == downloader.ProtocolTorrent) {
		mode = transferCopy
	}
	placed, err := place(e.cfg, planLayout(e.cfg, item, entry.Kind, meta, v.files), mode)
	if err != nil {
		return Outcome{}, false, services.Wrap(services.ErrTransient, "postprocess", "organize", "failed to place files in library", err)
	}
	if e.cfg.Postprocess.WriteOPF && entry.Kind != store.KindAudio {
		if _, err := writeOPF(e.cfg, placed.primary, item, meta); err != nil {
			logger.Warn("opf sidecar not written", logging.Error(err))
		}
	}
	if mode == transferMove && cleanupSource(e.cfg.Paths.DownloadDir, payload.Dir) {
		logger.Debug("removed download folder", logging.String("dir", payload.Dir))
	}

	if err := e.store.SetItemPath(ctx, item.ID, entry.Kind, placed.primary, store.StatusProcessed); err != nil {
		return Outcome{}, false, err
	}
	message := "Processed to " + placed.primary
	if err := e.store.SetWantedPhase(ctx, entry.URL, store.StatusProcessed, message); err != nil {
		return Outcome{}, false, err
	}
	if e.cfg.Acquisition.BlacklistProcessed {
		if err := e.blacklist(ctx, entry, store.ReasonProcessed); err != nil {
			logger.Warn("failed to blacklist processed download", logging.Error(err))
		}
	}
	logger.Info("download processed",
		logging.String("destination", placed.primary),
		logging.Int("files", len(placed.placements)),
		logging.Bool("copied", mode == transferCopy),
		logging.String(logging.FieldEventType, "download_processed"),
	)
	e.publish(ctx, notifications.EventProcessed, item, entry.Kind, notifications.Payload{"path": placed.primary})
	return Outcome{Status: StatusProcessed, Destination: placed.primary, Message: message}, false, nil
}

// failDownload records a rejected payload: the entry fails, the client job
// and its data are removed, the URL is optionally blacklisted for the item
// and the item goes back to Wanted. Callers hold the item lock.
func (e *Engine) failDownload(ctx context.Context, logger *slog.Logger, entry *store.WantedEntry, item *store.CatalogItem, message string, reason store.Reason, blacklist bool) {
	if err := e.store.SetWantedPhase(ctx, entry.URL, store.StatusFailed, message); err != nil {
		logger.Error("failed to update wanted entry", logging.Error(err))
	}
	e.removeFromClient(ctx, logger, entry)
	if blacklist {
		if err := e.blacklist(ctx, entry, reason); err != nil {
			logger.Error("failed to blacklist download", logging.Error(err))
		}
	}
	if item != nil {
		switch item.StatusFor(entry.Kind) {
		case store.StatusSnatched, store.StatusFailed:
			if err := e.store.SetItemStatus(ctx, item.ID, entry.Kind, store.StatusWanted); err != nil {
				logger.Error("failed to revert item", logging.Error(err))
			}
		}
	}
	logging.WarnWithContext(logger, "download rejected", "download_rejected",
		logging.String("reason", string(reason)),
		logging.String("message", message),
		logging.String(logging.FieldErrorHint, "a replacement is searched for automatically"),
		logging.String(logging.FieldImpact, "item reverted to Wanted"),
	)
	e.publish(ctx, notifications.EventFailed, item, entry.Kind, notifications.Payload{"error": message})
}

func (e *Engine) recordUnmatchedDownload(ctx context.Context, logger *slog.Logger, entry *store.WantedEntry, files []File, meta Metadata) (Outcome, bool, error) {
	for _, f := range files {
		if _, err := e.store.RecordUnmatched(ctx, unmatchedRecord(f, entry.Kind, meta)); err != nil {
			return Outcome{}, false, err
		}
	}
	message := fmt.Sprintf("No catalog match for %q; recorded for manual matching", firstNonEmpty(meta.Title, entry.Title))
	if err := e.store.SetWantedPhase(ctx, entry.URL, store.StatusFailed, message); err != nil {
		return Outcome{}, false, err
	}
	logger.Info("download not matched to catalog",
		logging.String("title_guess", meta.Title),
		logging.String("author_guess", meta.Author),
		logging.Int("files", len(files)),
		logging.String(logging.FieldEventType, "download_unmatched"),
	)
	return Outcome{Status: StatusUnmatched, Message: message}, false, nil
}

func (e *Engine) blacklist(ctx context.Context, entry *store.WantedEntry, reason store.Reason) error {
	return e.store.AddBlacklist(ctx, &store.BlacklistEntry{
		URL:      entry.URL,
		Provider: entry.Provider,
		Title:    entry.Title,
		Reason:   reason,
		ItemID:   entry.ItemID,
		Kind:     entry.Kind,
	})
}

func (e *Engine) removeFromClient(ctx context.Context, logger *slog.Logger, entry *store.WantedEntry) {
	if e.clients == nil || entry.ClientName == "" || entry.DownloadID == "" {
		return
	}
	client, ok := e.clients.Get(entry.ClientName)
	if !ok {
		return
	}
	if _, err := client.Remove(ctx, entry.DownloadID, true); err != nil {
		logging.WarnWithContext(logger, "failed to remove rejected download", "download_remove_failed",
			logging.String("client", entry.ClientName),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the job from the download client manually"),
		)
	}
}

// locate finds the entry or folder in the download directory whose name best
// matches the entry title.
func (e *Engine) locate(entry *store.WantedEntry) string {
	root := e.cfg.Paths.DownloadDir
	if root == "" || entry.Title == "" {
		return ""
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return ""
	}
	best, bestScore := "", 0
	for _, de := range entries {
		name := de.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		stem := name
		if !de.IsDir() {
			stem = strings.TrimSuffix(name, filepath.Ext(name))
		}
		stem = strings.NewReplacer("_", " ", ".", " ").Replace(stem)
		score := textutil.TokenSetRatio(entry.Title, stem)
		if score >= e.cfg.Match.LibraryRatio && score > bestScore {
			best, bestScore = filepath.Join(root, name), score
		}
	}
	return best
}

// ProcessSummary totals one ProcessAll sweep.
type ProcessSummary struct {
	Checked   int
	Processed int
	Failed    int
	Unmatched int
	Pending   int
}

// ProcessAll looks in the download directory for every Snatched entry and
// processes the ones whose folder is present. It covers clients that cannot
// report completion, such as watch folders. Entries whose client still
// reports them as downloading are left for a later pass.
func (e *Engine) ProcessAll(ctx context.Context) (ProcessSummary, error) {
	var summary ProcessSummary
	start := time.Now()
	entries, err := e.store.ListWanted(ctx, store.StatusSnatched)
	if err != nil {
		return summary, err
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++
		if e.downloading(ctx, entry) {
			summary.Pending++
			continue
		}
		dir := e.locate(entry)
		if dir == "" {
			summary.Pending++
			continue
		}
		outcome, err := e.ProcessDownload(ctx, entry, dir)
		if err != nil {
			summary.Failed++
			logging.WarnWithContext(e.logger, "postprocessing failed", "postprocess_failed",
				logging.String(logging.FieldItemID, entry.ItemID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check library and download directory permissions"),
			)
			continue
		}
		switch outcome.Status {
		case StatusProcessed:
			summary.Processed++
		case StatusUnmatched:
			summary.Unmatched++
		case StatusPending:
			summary.Pending++
		default:
			summary.Failed++
		}
	}
	e.logger.Info("postprocess sweep complete",
		logging.Int("checked", summary.Checked),
		logging.Int("processed", summary.Processed),
		logging.Int("failed", summary.Failed),
		logging.Int("unmatched", summary.Unmatched),
		logging.Int("pending", summary.Pending),
		logging.Duration("elapsed", time.Since(start)),
	)
	return summary, nil
}

// downloading reports whether the entry's client says its job is still
// transferring. Clients without progress (percent -1) and failed jobs are
// not in progress; an unreachable client counts as in progress.
func (e *Engine) downloading(ctx context.Context, entry *store.WantedEntry) bool {
	if e.clients == nil || entry.ClientName == "" || entry.DownloadID == "" {
		return false
	}
	client, ok := e.clients.Get(entry.ClientName)
	if !ok {
		return false
	}
	percent, state, err := client.Progress(ctx, entry.DownloadID)
	if err != nil {
		e.logger.Debug("progress check failed",
			logging.String(logging.FieldItemID, entry.ItemID),
			logging.Error(err),
		)
		return true
	}
	if percent < 0 || state == downloader.StateFailed || state == downloader.StateCompleted {
		return false
	}
	return percent < 100 && !client.IsSeedingState(state)
}

func (e *Engine) publish(ctx context.Context, event notifications.Event, item *store.CatalogItem, kind store.Kind, payload notifications.Payload) {
	if item != nil {
		payload["title"] = item.Title
		payload["author"] = item.AuthorName
	}
	payload["kind"] = string(kind)
	if err := e.notifier.Publish(ctx, event, payload); err != nil {
		e.logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
