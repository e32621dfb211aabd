package acquisition

import (
	"context"
	"strings"

	"bookbag/internal/logging"
	"bookbag/internal/provider"
	"bookbag/internal/store"
	"bookbag/internal/textutil"
)

// FeedSummary totals one RSS pass.
type FeedSummary struct {
	Items          int
	Snatched       int
	WishlistSeen   int
	MarkedWanted   int
	AddedToCatalog int
}

// ProcessFeeds polls RSS providers. Download items are matched against
// Wanted items and snatched like search results; wishlist entries mark the
// matching catalog item Wanted, adding it when the catalog has no match.
func (m *Machine) ProcessFeeds(ctx context.Context, poller FeedPoller) (FeedSummary, error) {
	var summary FeedSummary
	if poller == nil {
		return summary, nil
	}
	contents, errs := poller.Poll(ctx)
	for _, perr := range errs {
		m.logger.Debug("feed poll failed", logging.String(logging.FieldProvider, perr.Provider), logging.Error(perr.Err))
	}
	if contents == nil {
		return summary, nil
	}
	summary.Items = len(contents.Results)

	if err := m.applyWishlist(ctx, contents.Wishlist, &summary); err != nil {
		return summary, err
	}
	if len(contents.Results) == 0 {
		return summary, nil
	}
	for _, kind := range []store.Kind{store.KindEbook, store.KindAudio} {
		items, err := m.store.ListItems(ctx, kind, store.StatusWanted)
		if err != nil {
			return summary, err
		}
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			snatched, err := m.snatchFromFeed(ctx, item.ID, kind, contents.Results)
			if err != nil {
				logging.WarnWithContext(m.logger, "feed match failed", "feed_match_failed",
					logging.String(logging.FieldItemID, item.ID),
					logging.Error(err),
				)
				continue
			}
			if snatched {
				summary.Snatched++
			}
		}
	}
	m.logger.Info("feeds processed",
		logging.Int("items", summary.Items),
		logging.Int("snatched", summary.Snatched),
		logging.Int("wishlist", summary.WishlistSeen),
		logging.Int("marked_wanted", summary.MarkedWanted),
		logging.Int("added", summary.AddedToCatalog),
	)
	return summary, nil
}

func (m *Machine) snatchFromFeed(ctx context.Context, itemID string, kind store.Kind, results []provider.SearchResult) (bool, error) {
	unlock := m.locks.Lock(itemID)
	defer unlock()
	item, err := m.loadItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	if item.StatusFor(kind) != store.StatusWanted {
		return false, nil
	}
	tagged := make([]provider.SearchResult, len(results))
	for i, result := range results {
		result.Kind = kind
		tagged[i] = result
	}
	snatched, _, err := m.snatchBest(ctx, item, kind, searchTerm(item), tagged)
	return snatched != nil, err
}

func (m *Machine) applyWishlist(ctx context.Context, entries []provider.WishlistEntry, summary *FeedSummary) error {
	if len(entries) == 0 {
		return nil
	}
	catalog, err := m.store.ListItems(ctx, store.KindEbook)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if strings.TrimSpace(entry.Title) == "" {
			continue
		}
		summary.WishlistSeen++
		blocked, err := m.store.IsBlacklisted(ctx, store.BlacklistQuery{
			URL:      entry.Source + ":" + entry.Title,
			Provider: entry.Source,
			Title:    entry.Title,
			ByTitle:  true,
		})
		if err != nil {
			return err
		}
		if blocked {
			continue
		}
		if match := m.matchCatalog(catalog, entry); match != nil {
			if match.EbookStatus == store.StatusSkipped {
				if err := m.store.SetItemStatus(ctx, match.ID, store.KindEbook, store.StatusWanted); err != nil {
					return err
				}
				match.EbookStatus = store.StatusWanted
				summary.MarkedWanted++
			}
			continue
		}
		item := &store.CatalogItem{
			Title:       textutil.TitleCase(strings.ToLower(entry.Title)),
			AuthorName:  entry.Author,
			EbookStatus: store.StatusWanted,
		}
		if err := m.store.UpsertItem(ctx, item); err != nil {
			return err
		}
		catalog = append(catalog, item)
		summary.AddedToCatalog++
		m.logger.Info("wishlist title added",
			logging.String(logging.FieldItemID, item.ID),
			logging.String("source", entry.Source),
			logging.String("title", item.Title),
			logging.String("author", item.AuthorName),
		)
	}
	return nil
}

// matchCatalog finds the catalog item a wishlist entry refers to. Titles must
// reach the library ratio; authors are compared only when both sides have one.
func (m *Machine) matchCatalog(catalog []*store.CatalogItem, entry provider.WishlistEntry) *store.CatalogItem {
	ratio := m.cfg.Match.LibraryRatio
	var best *store.CatalogItem
	bestScore := 0
	for _, item := range catalog {
		score := textutil.TokenSortRatio(entry.Title, item.Title)
		if score < ratio {
			continue
		}
		if entry.Author != "" && item.AuthorName != "" && textutil.TokenSetRatio(entry.Author, item.AuthorName) < ratio {
			continue
		}
		if score > bestScore {
			best, bestScore = item, score
		}
	}
	return best
}
