package acquisition

import (
	"context"
	"fmt"
	"time"

	"bookbag/internal/downloader"
	"bookbag/internal/logging"
	"bookbag/internal/notifications"
	"bookbag/internal/postprocess"
	"bookbag/internal/store"
)

// usageRetentionDays bounds how long daily provider counters are kept.
const usageRetentionDays = 30

// ReconcileSummary totals one reconcile pass.
type ReconcileSummary struct {
	Checked    int
	Completed  int
	Processed  int
	Failed     int
	Expired    int
	Seeding    int
	InProgress int
}

type progressState int

const (
	progressRunning progressState = iota
	progressUnknown
	progressSeeding
	progressComplete
	progressFailed
)

// Reconcile polls download clients for every Snatched entry. Completed
// downloads go to postprocessing; failed ones and those older than the
// retention window are failed and their item reverted to Wanted. Torrents
// still seeding are imported by copy and removed from the client once
// seeding ends.
func (m *Machine) Reconcile(ctx context.Context) (ReconcileSummary, error) {
	var summary ReconcileSummary
	entries, err := m.store.ListWanted(ctx, store.StatusSnatched)
	if err != nil {
		return summary, err
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++
		m.reconcileEntry(ctx, entry, &summary)
	}
	m.releaseSeeded(ctx, &summary)
	m.housekeeping(ctx)
	m.logger.Info("reconcile complete",
		logging.Int("checked", summary.Checked),
		logging.Int("processed", summary.Processed),
		logging.Int("failed", summary.Failed),
		logging.Int("expired", summary.Expired),
		logging.Int("seeding", summary.Seeding),
		logging.Int("in_progress", summary.InProgress),
	)
	return summary, nil
}

func (m *Machine) reconcileEntry(ctx context.Context, entry *store.WantedEntry, summary *ReconcileSummary) {
	unlock := m.locks.Lock(entry.ItemID)
	state, detail, dir := m.inspect(ctx, entry)
	switch state {
	case progressFailed:
		m.failEntry(ctx, entry, fmt.Sprintf("Download failed in %s: %s", entry.ClientName, detail), store.ReasonFailed, true)
		summary.Failed++
		unlock()
		return
	case progressComplete, progressSeeding:
		unlock()
	default:
		if m.expired(entry) {
			hours := m.cfg.Acquisition.RetentionHours
			m.failEntry(ctx, entry, fmt.Sprintf("Download not completed within %d hours", hours), store.ReasonCancelled, true)
			summary.Expired++
		} else {
			summary.InProgress++
		}
		unlock()
		return
	}

	summary.Completed++
	if m.processor == nil {
		return
	}
	// The processor takes the item lock itself and may trigger a re-search.
	outcome, err := m.processor.ProcessDownload(ctx, entry, dir)
	if err != nil {
		logging.WarnWithContext(m.logger, "postprocessing failed", "postprocess_failed",
			logging.String(logging.FieldItemID, entry.ItemID),
			logging.String(logging.FieldURL, redact(entry.URL)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check library and download directory permissions"),
			logging.String(logging.FieldImpact, "the download is retried on the next reconcile"),
		)
		return
	}
	if outcome.Status != postprocess.StatusProcessed {
		return
	}
	summary.Processed++
	if state == progressSeeding {
		summary.Seeding++
		return
	}
	m.releaseTorrent(ctx, entry)
}

// inspect asks the entry's client for progress and returns the classified
// state, a detail string and, for completed downloads, the payload folder
// when the client reports one.
func (m *Machine) inspect(ctx context.Context, entry *store.WantedEntry) (progressState, string, string) {
	if m.clients == nil || entry.ClientName == "" {
		return progressUnknown, "", ""
	}
	client, ok := m.clients.Get(entry.ClientName)
	if !ok || entry.DownloadID == "" {
		return progressUnknown, "", ""
	}
	percent, state, err := client.Progress(ctx, entry.DownloadID)
	if err != nil {
		m.logger.Debug("progress check failed",
			logging.String(logging.FieldItemID, entry.ItemID),
			logging.String(logging.FieldProvider, entry.ClientName),
			logging.Error(err),
		)
		return progressUnknown, err.Error(), ""
	}
	switch {
	case state == downloader.StateFailed:
		return progressFailed, state, ""
	case percent < 0:
		return progressUnknown, state, ""
	case percent >= 100 || state == downloader.StateCompleted || client.IsSeedingState(state):
		dir := ""
		if locator, ok := client.(downloader.FolderLocator); ok {
			if folder, err := locator.Folder(ctx, entry.DownloadID); err == nil {
				dir = folder
			}
		}
		if client.IsSeedingState(state) && m.deferRelease() {
			return progressSeeding, state, dir
		}
		return progressComplete, state, dir
	}
	return progressRunning, state, ""
}

// deferRelease reports whether processed torrents stay in their client until
// seeding ends.
func (m *Machine) deferRelease() bool {
	return m.cfg.Torrent.SeedWait && !m.cfg.Torrent.KeepSeeding
}

// releaseSeeded removes processed torrents that have stopped seeding. A
// torrent the client no longer knows is forgotten without a removal call.
func (m *Machine) releaseSeeded(ctx context.Context, summary *ReconcileSummary) {
	if !m.deferRelease() || m.clients == nil {
		return
	}
	entries, err := m.store.ListWanted(ctx, store.StatusProcessed)
	if err != nil {
		m.logger.Warn("seeding check failed", logging.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.DownloadID == "" || downloader.ProtocolFor(entry.Mode) != downloader.ProtocolTorrent {
			continue
		}
		client, ok := m.clients.Get(entry.ClientName)
		if !ok {
			continue
		}
		percent, state, err := client.Progress(ctx, entry.DownloadID)
		switch {
		case err != nil:
			m.logger.Debug("seeding progress check failed",
				logging.String(logging.FieldItemID, entry.ItemID),
				logging.String(logging.FieldProvider, entry.ClientName),
				logging.Error(err),
			)
		case client.IsSeedingState(state):
			summary.Seeding++
		case percent < 0:
			m.forgetDownload(ctx, entry)
		default:
			m.releaseTorrent(ctx, entry)
		}
	}
}

func (m *Machine) expired(entry *store.WantedEntry) bool {
	hours := m.cfg.Acquisition.RetentionHours
	if hours <= 0 || entry.SubmittedAt.IsZero() {
		return false
	}
	return m.now().Sub(entry.SubmittedAt) > time.Duration(hours)*time.Hour
}

// failEntry marks entry Failed, optionally removes the client job, blacklists
// the URL for the item and reverts the item to Wanted. Callers hold the item lock.
func (m *Machine) failEntry(ctx context.Context, entry *store.WantedEntry, message string, reason store.Reason, remove bool) {
	if remove {
		m.removeFromClient(ctx, entry, true)
	}
	logger := m.logger.With(
		logging.String(logging.FieldItemID, entry.ItemID),
		logging.String(logging.FieldKind, string(entry.Kind)),
	)
	if err := m.store.SetWantedPhase(ctx, entry.URL, store.StatusFailed, message); err != nil {
		logger.Error("failed to update wanted entry", logging.Error(err))
		return
	}
	if reason != store.ReasonFailed || m.cfg.Acquisition.BlacklistFailed {
		if err := m.blacklistEntry(ctx, entry, reason); err != nil {
			logger.Error("failed to blacklist download", logging.Error(err))
		}
	}
	if err := m.revertItem(ctx, entry.ItemID, entry.Kind); err != nil {
		logger.Error("failed to revert item", logging.Error(err))
	}
	logging.WarnWithContext(logger, "download failed", "download_failed",
		logging.String(logging.FieldURL, redact(entry.URL)),
		logging.String("reason", message),
		logging.String(logging.FieldErrorHint, "the item will be searched again"),
		logging.String(logging.FieldImpact, "item reverted to Wanted"),
	)
	item, _ := m.store.GetItem(ctx, entry.ItemID)
	m.publish(ctx, notifications.EventFailed, item, entry.Kind, notifications.Payload{"error": message})
}

// releaseTorrent removes a processed torrent from its client unless the
// operator wants it kept seeding. The payload is deleted with it only when
// postprocessing copied it out for seeding and copies were not requested.
func (m *Machine) releaseTorrent(ctx context.Context, entry *store.WantedEntry) {
	if m.cfg.Torrent.KeepSeeding {
		return
	}
	if downloader.ProtocolFor(entry.Mode) != downloader.ProtocolTorrent {
		return
	}
	deleteData := m.cfg.Torrent.SeedWait && !m.cfg.Postprocess.DestinationCopy
	if m.removeFromClient(ctx, entry, deleteData) {
		m.forgetDownload(ctx, entry)
	}
}

// forgetDownload clears the client job id of a finished entry.
func (m *Machine) forgetDownload(ctx context.Context, entry *store.WantedEntry) {
	if err := m.store.SetDownloadID(ctx, entry.URL, entry.ClientName, ""); err != nil {
		m.logger.Debug("failed to clear download id", logging.Error(err))
	}
}

// housekeeping purges old history and usage counters.
func (m *Machine) housekeeping(ctx context.Context) {
	if days := m.cfg.Acquisition.HistoryDays; days > 0 {
		purged, err := m.store.PurgeHistory(ctx, time.Duration(days)*24*time.Hour)
		if err != nil {
			m.logger.Warn("history purge failed", logging.Error(err))
		} else if purged > 0 {
			m.logger.Info("purged download history", logging.Int64("entries", purged))
		}
	}
	cutoff := store.UsageDay(m.now().AddDate(0, 0, -usageRetentionDays))
	if err := m.store.PruneUsage(ctx, cutoff); err != nil {
		m.logger.Debug("usage prune failed", logging.Error(err))
	}
}
