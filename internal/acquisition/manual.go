package acquisition

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"bookbag/internal/logging"
	"bookbag/internal/provider"
	"bookbag/internal/scorer"
	"bookbag/internal/services"
	"bookbag/internal/store"
)

// manualResultTTL is how long a manual search result stays pickable by URL.
const manualResultTTL = 30 * time.Minute

// ManualResults is the unfiltered, ranked result list an operator picks from.
type ManualResults struct {
	ItemID  string
	Kind    store.Kind
	Term    string
	Results []scorer.Scored
	Errors  []provider.ProviderError
}

func newManualCache() *cache.Cache {
	return cache.New(manualResultTTL, 2*manualResultTTL)
}

func manualKey(itemID string, kind store.Kind, url string) string {
	return itemID + "|" + string(kind) + "|" + url
}

// ManualSearch runs the provider fan-out for one item and returns every
// well-formed result, best first, without applying a score threshold or
// snatching anything. Backoff windows are ignored.
func (m *Machine) ManualSearch(ctx context.Context, itemID string, kind store.Kind) (*ManualResults, error) {
	item, err := m.loadItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	term := searchTerm(item)
	results, errs := m.searcher.Search(ctx, provider.Query{
		Term:        term,
		Author:      item.AuthorName,
		Title:       item.Title,
		ItemID:      item.ID,
		Kind:        kind,
		Interactive: true,
	})
	scored := scorer.Score(term, results, scorer.PolicyFor(m.cfg, kind, 0))
	scorer.SortByScore(scored)
	for _, result := range scored {
		m.manual.SetDefault(manualKey(item.ID, kind, result.URL), result)
	}
	m.itemLogger(item, kind).Info("manual search complete",
		logging.String("term", term),
		logging.Int("results", len(scored)),
		logging.Int("provider_errors", len(errs)),
		logging.String(logging.FieldEventType, "manual_search"),
	)
	return &ManualResults{ItemID: item.ID, Kind: kind, Term: term, Results: scored, Errors: errs}, nil
}

// SnatchResult submits an operator-chosen result for the item regardless of
// its score. A result already Snatched or Processed is refused, as is an
// item whose kind is already Snatched.
func (m *Machine) SnatchResult(ctx context.Context, itemID string, kind store.Kind, result scorer.Scored) error {
	if !result.Valid() {
		return services.Wrap(services.ErrValidation, "acquisition", "snatch result", "result is missing title, provider, mode or url", nil)
	}
	unlock := m.locks.Lock(itemID)
	defer unlock()

	item, err := m.loadItem(ctx, itemID)
	if err != nil {
		return err
	}
	if status := item.StatusFor(kind); status == store.StatusSnatched {
		return services.Wrap(services.ErrValidation, "acquisition", "snatch result",
			fmt.Sprintf("%s is already Snatched; cancel the current download first", kind), nil)
	}
	existing, err := m.store.GetWanted(ctx, result.URL)
	if err != nil {
		return err
	}
	if existing != nil && (existing.Phase == store.StatusSnatched || existing.Phase == store.StatusProcessed) {
		return services.Wrap(services.ErrValidation, "acquisition", "snatch result",
			fmt.Sprintf("result is already %s", existing.Phase), nil)
	}
	if result.Kind == "" {
		result.Kind = kind
	}
	return m.snatch(ctx, item, kind, result)
}

// SnatchURL submits the result with url from the item's most recent
// ManualSearch.
func (m *Machine) SnatchURL(ctx context.Context, itemID string, kind store.Kind, url string) (*scorer.Scored, error) {
	url = strings.TrimSpace(url)
	key := manualKey(itemID, kind, url)
	cached, ok := m.manual.Get(key)
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "acquisition", "snatch url",
			"url not found in a recent manual search; list results first", nil)
	}
	result := cached.(scorer.Scored)
	if err := m.SnatchResult(ctx, itemID, kind, result); err != nil {
		return nil, err
	}
	m.manual.Delete(key)
	return &result, nil
}
