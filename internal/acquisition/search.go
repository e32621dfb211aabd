package acquisition

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bookbag/internal/downloader"
	"bookbag/internal/logging"
	"bookbag/internal/metrics"
	"bookbag/internal/notifications"
	"bookbag/internal/provider"
	"bookbag/internal/scorer"
	"bookbag/internal/store"
)

// SearchOption adjusts a single SearchItem call.
type SearchOption func(*searchOptions)

type searchOptions struct {
	interactive bool
}

// Interactive marks an operator-initiated search: the backoff window is
// ignored, manual-only providers are included, and an item outside the
// active pipeline is marked Wanted first.
func Interactive() SearchOption {
	return func(o *searchOptions) { o.interactive = true }
}

// SearchOutcome reports what SearchItem did.
type SearchOutcome struct {
	ItemID     string
	Kind       store.Kind
	Snatched   *scorer.Scored
	Candidates int
	Deferred   bool
	NextSearch time.Time
	Reason     string
	Errors     []provider.ProviderError
}

// SearchSummary totals one sweep.
type SearchSummary struct {
	Searched int
	Snatched int
	Deferred int
	Failed   int
}

// SearchItem searches providers for one item and kind and snatches the best
// acceptable result.
func (m *Machine) SearchItem(ctx context.Context, itemID string, kind store.Kind, opts ...SearchOption) (*SearchOutcome, error) {
	options := searchOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	unlock := m.locks.Lock(itemID)
	defer unlock()

	item, err := m.loadItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	outcome := &SearchOutcome{ItemID: item.ID, Kind: kind}
	logger := m.itemLogger(item, kind)

	status := item.StatusFor(kind)
	if status != store.StatusWanted {
		if !options.interactive || status == store.StatusSnatched {
			outcome.Reason = fmt.Sprintf("item is %s", status)
			return outcome, nil
		}
		if err := m.store.SetItemStatus(ctx, item.ID, kind, store.StatusWanted); err != nil {
			return nil, err
		}
	}

	if !options.interactive {
		failed, err := m.store.GetFailedSearch(ctx, item.ID, kind)
		if err != nil {
			return nil, err
		}
		if failed != nil && !failed.Due(m.now()) {
			outcome.Deferred = true
			outcome.NextSearch = failed.NextAttempt()
			outcome.Reason = "waiting for backoff"
			logger.Debug("search deferred", logging.Time("next_search", outcome.NextSearch))
			return outcome, nil
		}
	}

	term := searchTerm(item)
	results, errs := m.searcher.Search(ctx, provider.Query{
		Term:        term,
		Author:      item.AuthorName,
		Title:       item.Title,
		ItemID:      item.ID,
		Kind:        kind,
		Interactive: options.interactive,
	})
	outcome.Errors = errs

	snatched, candidates, err := m.snatchBest(ctx, item, kind, term, results)
	outcome.Candidates = candidates
	if err != nil {
		return outcome, err
	}
	if snatched != nil {
		outcome.Snatched = snatched
		return outcome, nil
	}

	record, err := m.store.RecordFailedSearch(ctx, item.ID, kind, m.backoffBase(), m.backoffLimit())
	if err != nil {
		return outcome, err
	}
	outcome.Reason = "no acceptable result"
	outcome.NextSearch = record.NextAttempt()
	logger.Info("no acceptable result",
		logging.String("term", term),
		logging.Int("results", len(results)),
		logging.Int("candidates", candidates),
		logging.Int("failed_searches", record.Count),
		logging.Time("next_search", outcome.NextSearch),
	)
	return outcome, nil
}

// SearchWanted searches every Wanted ebook and audiobook item.
func (m *Machine) SearchWanted(ctx context.Context) (SearchSummary, error) {
	var summary SearchSummary
	for _, kind := range []store.Kind{store.KindEbook, store.KindAudio} {
		items, err := m.store.ListItems(ctx, kind, store.StatusWanted)
		if err != nil {
			return summary, err
		}
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			outcome, err := m.SearchItem(ctx, item.ID, kind)
			if err != nil {
				summary.Failed++
				logging.WarnWithContext(m.logger, "item search failed", "search_failed",
					logging.String(logging.FieldItemID, item.ID),
					logging.String(logging.FieldKind, string(kind)),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "the item is retried on the next sweep"),
				)
				continue
			}
			switch {
			case outcome.Deferred:
				summary.Deferred++
			case outcome.Snatched != nil:
				summary.Searched++
				summary.Snatched++
			default:
				summary.Searched++
			}
		}
	}
	m.logger.Info("wanted sweep complete",
		logging.Int("searched", summary.Searched),
		logging.Int("snatched", summary.Snatched),
		logging.Int("deferred", summary.Deferred),
		logging.Int("failed", summary.Failed),
	)
	return summary, nil
}

// snatchBest scores results and submits the best acceptable one that is not
// blacklisted or already snatched. A submit failure blacklists that result
// and the next candidate is tried. Callers hold the item lock.
func (m *Machine) snatchBest(ctx context.Context, item *store.CatalogItem, kind store.Kind, term string, results []provider.SearchResult) (*scorer.Scored, int, error) {
	scored := scorer.Score(term, results, scorer.PolicyFor(m.cfg, kind, m.cfg.Match.SearchRatio))
	scorer.SortByScore(scored)
	accept := m.acceptRatio()

	candidates := 0
	for i := range scored {
		candidate := scored[i]
		if candidate.Score < accept {
			break
		}
		usable, err := m.usable(ctx, item, kind, candidate)
		if err != nil {
			return nil, candidates, err
		}
		if !usable {
			continue
		}
		candidates++
		if err := m.snatch(ctx, item, kind, candidate); err != nil {
			continue
		}
		return &candidate, candidates, nil
	}
	return nil, candidates, nil
}

func (m *Machine) usable(ctx context.Context, item *store.CatalogItem, kind store.Kind, candidate scorer.Scored) (bool, error) {
	blocked, err := m.store.IsBlacklisted(ctx, store.BlacklistQuery{
		URL:      candidate.URL,
		Provider: candidate.Provider,
		Title:    candidate.Title,
		ItemID:   item.ID,
		Kind:     kind,
	})
	if err != nil || blocked {
		return false, err
	}
	existing, err := m.store.GetWanted(ctx, candidate.URL)
	if err != nil {
		return false, err
	}
	if existing != nil {
		switch existing.Phase {
		case store.StatusSnatched, store.StatusProcessed:
			return false, nil
		}
	}
	return true, nil
}

// snatch submits one result and records the transition.
func (m *Machine) snatch(ctx context.Context, item *store.CatalogItem, kind store.Kind, candidate scorer.Scored) error {
	logger := m.itemLogger(item, kind)
	client, err := m.clients.ForMode(candidate.Mode)
	if err != nil {
		logging.WarnWithContext(logger, "no download client for result", "snatch_no_client",
			logging.String("mode", candidate.Mode),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "enable a download client for this protocol"),
			logging.String(logging.FieldImpact, "result skipped"),
		)
		return err
	}

	entry := &store.WantedEntry{
		URL:         candidate.URL,
		Provider:    candidate.Provider,
		Title:       candidate.Title,
		Size:        candidate.Size,
		SubmittedAt: m.now(),
		ItemID:      item.ID,
		Kind:        kind,
		ClientName:  client.Name(),
		Phase:       store.StatusSnatched,
		Mode:        candidate.Mode,
	}
	downloadID, submitErr := client.Submit(ctx, downloader.Job{
		Title: candidate.Title,
		URL:   candidate.URL,
		Mode:  candidate.Mode,
		Hash:  downloader.MagnetHash(candidate.URL),
	})
	if submitErr != nil {
		return m.recordSubmitFailure(ctx, item, entry, submitErr)
	}

	entry.DownloadID = downloadID
	if err := m.store.UpsertWanted(ctx, entry); err != nil {
		return err
	}
	if err := m.store.SetItemStatus(ctx, item.ID, kind, store.StatusSnatched); err != nil {
		return err
	}
	if err := m.store.ResetFailedSearch(ctx, item.ID, kind); err != nil {
		return err
	}
	metrics.Snatches.WithLabelValues(string(kind), candidate.Mode, "ok").Inc()
	logger.Info("download snatched",
		logging.String(logging.FieldProvider, candidate.Provider),
		logging.String("client", client.Name()),
		logging.String("title", candidate.Title),
		logging.Int("score", candidate.Score),
		logging.String(logging.FieldURL, redact(candidate.URL)),
		logging.String(logging.FieldEventType, "download_snatched"),
	)
	m.publish(ctx, notifications.EventSnatched, item, kind, notifications.Payload{
		"provider": candidate.Provider,
		"client":   client.Name(),
	})
	return nil
}

func (m *Machine) recordSubmitFailure(ctx context.Context, item *store.CatalogItem, entry *store.WantedEntry, submitErr error) error {
	entry.Phase = store.StatusFailed
	entry.Message = submitErr.Error()
	metrics.Snatches.WithLabelValues(string(entry.Kind), entry.Mode, "error").Inc()
	if err := m.store.UpsertWanted(ctx, entry); err != nil {
		return err
	}
	if m.cfg.Acquisition.BlacklistFailed {
		if err := m.blacklistEntry(ctx, entry, store.ReasonFailed); err != nil {
			return err
		}
	}
	logging.WarnWithContext(m.itemLogger(item, entry.Kind), "download submission failed", "snatch_failed",
		logging.String("client", entry.ClientName),
		logging.String(logging.FieldURL, redact(entry.URL)),
		logging.Error(submitErr),
		logging.String(logging.FieldErrorHint, "check the download client is reachable and accepts the payload"),
		logging.String(logging.FieldImpact, "the next candidate is tried"),
	)
	m.publish(ctx, notifications.EventFailed, item, entry.Kind, notifications.Payload{"error": submitErr.Error()})
	return submitErr
}

func (m *Machine) acceptRatio() int {
	if m.cfg.Match.DownloadRatio > 0 {
		return m.cfg.Match.DownloadRatio
	}
	return m.cfg.Match.SearchRatio
}

func (m *Machine) backoffBase() time.Duration {
	return time.Duration(m.cfg.Acquisition.BackoffBaseMinutes) * time.Minute
}

func (m *Machine) backoffLimit() time.Duration {
	return time.Duration(m.cfg.Acquisition.BackoffMaxHours) * time.Hour
}

func searchTerm(item *store.CatalogItem) string {
	return strings.Join(strings.Fields(item.AuthorName+" "+item.Title), " ")
}
