package acquisition

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"bookbag/internal/config"
	"bookbag/internal/downloader"
	"bookbag/internal/httpx"
	"bookbag/internal/itemlock"
	"bookbag/internal/logging"
	"bookbag/internal/notifications"
	"bookbag/internal/postprocess"
	"bookbag/internal/provider"
	"bookbag/internal/services"
	"bookbag/internal/store"
)

// Searcher runs a provider fan-out.
type Searcher interface {
	Search(ctx context.Context, q provider.Query) ([]provider.SearchResult, []provider.ProviderError)
}

// FeedPoller fetches RSS feeds.
type FeedPoller interface {
	Poll(ctx context.Context) (*provider.FeedContents, []provider.ProviderError)
}

// Clients resolves download clients.
type Clients interface {
	ForMode(mode string) (downloader.Client, error)
	Get(name string) (downloader.Client, bool)
}

// Processor handles a completed download.
type Processor interface {
	ProcessDownload(ctx context.Context, entry *store.WantedEntry, dir string) (postprocess.Outcome, error)
}

// Machine owns the wanted-list state machine.
type Machine struct {
	cfg       *config.Config
	store     *store.Store
	searcher  Searcher
	clients   Clients
	processor Processor
	notifier  notifications.Service
	logger    *slog.Logger
	locks     *itemlock.Locker
	manual    *cache.Cache
	now       func() time.Time
}

// Option configures optional Machine dependencies.
type Option func(*Machine)

// WithNotifier sets the notification service.
func WithNotifier(notifier notifications.Service) Option {
	return func(m *Machine) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

// WithLocker shares an item locker with other components.
func WithLocker(locks *itemlock.Locker) Option {
	return func(m *Machine) {
		if locks != nil {
			m.locks = locks
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// New constructs a Machine.
func New(cfg *config.Config, st *store.Store, searcher Searcher, clients Clients, processor Processor, logger *slog.Logger, opts ...Option) *Machine {
	m := &Machine{
		cfg:       cfg,
		store:     st,
		searcher:  searcher,
		clients:   clients,
		processor: processor,
		notifier:  notifications.NewNoop(),
		logger:    logging.NewComponentLogger(logger, "acquisition"),
		locks:     itemlock.New(),
		manual:    newManualCache(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Locker returns the item locker so postprocessing can share it.
func (m *Machine) Locker() *itemlock.Locker { return m.locks }

func (m *Machine) itemLogger(item *store.CatalogItem, kind store.Kind) *slog.Logger {
	return m.logger.With(
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldKind, string(kind)),
	)
}

func (m *Machine) loadItem(ctx context.Context, itemID string) (*store.CatalogItem, error) {
	item, err := m.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, services.Wrap(services.ErrNotFound, "acquisition", "load item", fmt.Sprintf("no catalog item %q", itemID), store.ErrItemNotFound)
	}
	return item, nil
}

// Cancel removes a snatched download from its client, fails the entry, reverts
// the item to Wanted and blacklists the URL for that item.
func (m *Machine) Cancel(ctx context.Context, url string) error {
	entry, err := m.store.GetWanted(ctx, url)
	if err != nil {
		return err
	}
	if entry == nil {
		return services.Wrap(services.ErrNotFound, "acquisition", "cancel", "no wanted entry for url", nil)
	}
	unlock := m.locks.Lock(entry.ItemID)
	defer unlock()

	m.removeFromClient(ctx, entry, true)
	if err := m.store.SetWantedPhase(ctx, url, store.StatusFailed, "Cancelled by user"); err != nil {
		return err
	}
	if err := m.blacklistEntry(ctx, entry, store.ReasonCancelled); err != nil {
		return err
	}
	if err := m.revertItem(ctx, entry.ItemID, entry.Kind); err != nil {
		return err
	}
	m.logger.Info("download cancelled",
		logging.String(logging.FieldItemID, entry.ItemID),
		logging.String(logging.FieldURL, redact(url)),
		logging.String(logging.FieldEventType, "download_cancelled"),
	)
	return nil
}

// ClearDelay resets the failed-search backoff for an item so the next sweep
// searches it.
func (m *Machine) ClearDelay(ctx context.Context, itemID string, kind store.Kind) error {
	unlock := m.locks.Lock(itemID)
	defer unlock()
	return m.store.ResetFailedSearch(ctx, itemID, kind)
}

// Blacklist records url as unwanted for every item. An empty reason means
// UserBlacklisted.
func (m *Machine) Blacklist(ctx context.Context, url string, reason store.Reason) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return services.Wrap(services.ErrValidation, "acquisition", "blacklist", "url is required", nil)
	}
	if reason == "" {
		reason = store.ReasonUserBlacklisted
	}
	entry := &store.BlacklistEntry{URL: url, Reason: reason}
	if wanted, err := m.store.GetWanted(ctx, url); err == nil && wanted != nil {
		entry.Provider = wanted.Provider
		entry.Title = wanted.Title
	}
	return m.store.AddBlacklist(ctx, entry)
}

// Research searches for a replacement after a rejected download. It
// satisfies postprocess.Researcher.
func (m *Machine) Research(ctx context.Context, itemID string, kind store.Kind) error {
	_, err := m.SearchItem(ctx, itemID, kind)
	return err
}

func (m *Machine) blacklistEntry(ctx context.Context, entry *store.WantedEntry, reason store.Reason) error {
	return m.store.AddBlacklist(ctx, &store.BlacklistEntry{
		URL:      entry.URL,
		Provider: entry.Provider,
		Title:    entry.Title,
		Reason:   reason,
		ItemID:   entry.ItemID,
		Kind:     entry.Kind,
	})
}

// revertItem puts the item's kind back to Wanted unless it already left the
// active pipeline.
func (m *Machine) revertItem(ctx context.Context, itemID string, kind store.Kind) error {
	item, err := m.store.GetItem(ctx, itemID)
	if err != nil || item == nil {
		return err
	}
	switch item.StatusFor(kind) {
	case store.StatusSnatched, store.StatusFailed:
		return m.store.SetItemStatus(ctx, itemID, kind, store.StatusWanted)
	}
	return nil
}

func (m *Machine) removeFromClient(ctx context.Context, entry *store.WantedEntry, deleteData bool) bool {
	if entry.ClientName == "" || entry.DownloadID == "" || m.clients == nil {
		return false
	}
	client, ok := m.clients.Get(entry.ClientName)
	if !ok {
		return false
	}
	if _, err := client.Remove(ctx, entry.DownloadID, deleteData); err != nil {
		logging.WarnWithContext(m.logger, "failed to remove download from client", "download_remove_failed",
			logging.String(logging.FieldProvider, entry.ClientName),
			logging.String(logging.FieldURL, redact(entry.URL)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the job from the download client manually"),
			logging.String(logging.FieldImpact, "the client keeps the job and its data"),
		)
		return false
	}
	return true
}

func redact(url string) string {
	if strings.HasPrefix(strings.ToLower(url), "magnet:") {
		return url
	}
	return httpx.Redact(url)
}
