package provider

import (
	"context"
	"net/url"
	"strings"

	"bookbag/internal/config"
	"bookbag/internal/httpx"
	"bookbag/internal/store"
)

// newznab speaks the newznab API and, with torznab set, its torrent variant.
type newznab struct {
	http         *httpx.Client
	torznab      bool
	preferMagnet bool
}

func (n *newznab) search(ctx context.Context, p config.Provider, q Query) ([]SearchResult, error) {
	resp, err := n.http.Do(ctx, httpx.Request{URL: apiEndpoint(p.Host), Params: newznabParams(p, q)})
	if err != nil {
		return nil, err
	}
	feed, err := parseFeed(resp)
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		attrs := itemAttrs(item)
		link := itemLink(item)
		mode := store.ModeNZB
		if n.torznab {
			mode = store.ModeTorrent
			if magnet := attrs["magneturl"]; magnet != "" && (n.preferMagnet || link == "") {
				link = magnet
			}
		}
		result := SearchResult{
			Kind:     q.Kind,
			Title:    strings.TrimSpace(item.Title),
			Provider: p.Label(),
			Size:     itemSize(item, attrs),
			Date:     strings.TrimSpace(item.Published),
			URL:      link,
			Mode:     mode,
			Priority: p.Priority,
		}
		applyDefaults(&result)
		results = append(results, result)
	}
	return results, nil
}

// apiEndpoint adds a scheme when missing and appends /api unless present.
func apiEndpoint(host string) string {
	base := normalizeHost(host)
	if strings.HasSuffix(strings.ToLower(base), "/api") {
		return base
	}
	return base + "/api"
}

func normalizeHost(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return host
}

// newznabParams chooses the search function. Ebooks use the structured book
// search when the provider offers one and both author and title are known;
// audiobooks use the audio function when configured. Everything else falls
// back to the general free-text search.
func newznabParams(p config.Provider, q Query) url.Values {
	params := url.Values{}
	params.Set("apikey", p.APIKey)
	if extended := strings.TrimSpace(p.Extended); extended != "" {
		params.Set("extended", extended)
	}
	general := strings.TrimSpace(p.GeneralSearch)
	if general == "" {
		general = "search"
	}

	switch q.Kind {
	case store.KindAudio:
		if fn := strings.TrimSpace(p.AudioSearch); fn != "" {
			params.Set("t", fn)
		} else {
			params.Set("t", general)
		}
		params.Set("q", q.Term)
		setCategories(params, p.AudioCategories)
	case store.KindMagazine:
		params.Set("t", general)
		params.Set("q", q.Term)
	default:
		if fn := strings.TrimSpace(p.BookSearch); fn != "" && strings.TrimSpace(q.Author) != "" && strings.TrimSpace(q.Title) != "" {
			params.Set("t", fn)
			params.Set("author", q.Author)
			params.Set("title", q.Title)
		} else {
			params.Set("t", general)
			params.Set("q", q.Term)
		}
		setCategories(params, p.BookCategories)
	}
	return params
}

func setCategories(params url.Values, categories string) {
	if categories = strings.TrimSpace(categories); categories != "" {
		params.Set("cat", categories)
	}
}
