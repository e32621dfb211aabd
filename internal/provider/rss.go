package provider

import (
	"context"
	"path"
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"

	"bookbag/internal/config"
	"bookbag/internal/httpx"
	"bookbag/internal/store"
)

// Wishlist sources recognised from the feed host.
const (
	SourceNYTimes   = "NYTIMES"
	SourceGoodreads = "GOODREADS"
	SourceAmazon    = "AMAZON"
)

// WishlistSource returns the wishlist source for a feed URL, or "" when the
// feed lists downloads.
func WishlistSource(host string) string {
	lower := strings.ToLower(host)
	switch {
	case strings.Contains(lower, "nytimes") && strings.Contains(lower, "best-sellers"):
		return SourceNYTimes
	case strings.Contains(lower, "goodreads") && strings.Contains(lower, "list_rss"):
		return SourceGoodreads
	case strings.Contains(lower, "amazon") && strings.Contains(lower, "wishlist"):
		return SourceAmazon
	}
	return ""
}

// FeedContents is one fetched RSS feed split by item type.
type FeedContents struct {
	Results  []SearchResult
	Wishlist []WishlistEntry
}

type rssFeed struct {
	http *httpx.Client
}

func (r *rssFeed) fetch(ctx context.Context, p config.Provider) (*FeedContents, error) {
	resp, err := r.http.Do(ctx, httpx.Request{URL: normalizeHost(p.Host)})
	if err != nil {
		return nil, err
	}
	feed, err := parseFeed(resp)
	if err != nil {
		return nil, err
	}
	contents := &FeedContents{}
	source := WishlistSource(p.Host)
	for _, item := range feed.Items {
		if item == nil || strings.TrimSpace(item.Title) == "" {
			continue
		}
		if source != "" {
			title, author := splitWishlistTitle(item)
			contents.Wishlist = append(contents.Wishlist, WishlistEntry{Source: source, Title: title, Author: author})
			continue
		}
		link := itemLink(item)
		if link == "" {
			continue
		}
		result := SearchResult{
			Title:    strings.TrimSpace(item.Title),
			Provider: p.Label(),
			Size:     itemSize(item, itemAttrs(item)),
			Date:     strings.TrimSpace(item.Published),
			URL:      link,
			Mode:     feedItemMode(item, link),
			Priority: p.Priority,
		}
		applyDefaults(&result)
		contents.Results = append(contents.Results, result)
	}
	return contents, nil
}

func feedItemMode(item *gofeed.Item, link string) string {
	lower := strings.ToLower(link)
	if strings.HasPrefix(lower, "magnet") {
		return store.ModeMagnet
	}
	if enclosure := itemEnclosure(item); enclosure != nil {
		switch strings.ToLower(strings.TrimSpace(enclosure.Type)) {
		case "application/x-bittorrent":
			return store.ModeTorrent
		case "application/x-nzb":
			return store.ModeNZB
		}
	}
	if parsed := strings.SplitN(lower, "?", 2)[0]; parsed != "" {
		switch path.Ext(parsed) {
		case ".torrent":
			return store.ModeTorrent
		case ".nzb":
			return store.ModeNZB
		}
	}
	return store.ModeDirect
}

var descriptionAuthor = regexp.MustCompile(`(?i)(?:^|\b)(?:author:|by)\s+([^<\n,]+)`)

// splitWishlistTitle extracts title and author from a wishlist item. Feeds
// disagree on where the author goes, so the item author, a "Title by Author"
// title, and the description are tried in turn.
func splitWishlistTitle(item *gofeed.Item) (string, string) {
	title := strings.TrimSpace(item.Title)
	author := ""
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		author = strings.TrimSpace(item.Authors[0].Name)
	}
	if idx := strings.LastIndex(strings.ToLower(title), " by "); idx > 0 {
		if author == "" {
			author = strings.TrimSpace(title[idx+4:])
		}
		title = strings.TrimSpace(title[:idx])
	}
	if author == "" {
		if match := descriptionAuthor.FindStringSubmatch(item.Description); match != nil {
			author = strings.TrimSpace(match[1])
		}
	}
	return title, author
}
