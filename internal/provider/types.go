package provider

import (
	"fmt"
	"strings"

	"bookbag/internal/store"
)

// Result defaults applied when a provider omits the field.
const (
	DefaultDate = "Fri, 01 Jan 1970 00:00:00 +0100"
	DefaultSize = int64(1000)
)

// SearchResult is one candidate download.
type SearchResult struct {
	Kind     store.Kind
	Title    string
	Provider string
	Size     int64
	Date     string
	URL      string
	Mode     string
	Priority int
}

// Valid reports whether the result carries everything needed to submit it.
func (r SearchResult) Valid() bool {
	return strings.TrimSpace(r.Title) != "" &&
		strings.TrimSpace(r.Provider) != "" &&
		strings.TrimSpace(r.Mode) != "" &&
		strings.TrimSpace(r.URL) != ""
}

// Query describes what to look for. Term is the free-text search; Author and
// Title feed structured book searches where the provider supports them.
type Query struct {
	Term        string
	Author      string
	Title       string
	ItemID      string
	Kind        store.Kind
	Interactive bool
}

// ProviderError records one provider's failure during a fan-out.
type ProviderError struct {
	Provider string
	Err      error
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e ProviderError) Unwrap() error { return e.Err }

// WishlistEntry is a title listed on a wishlist feed rather than a download.
type WishlistEntry struct {
	Source string
	Title  string
	Author string
}

func applyDefaults(r *SearchResult) {
	if strings.TrimSpace(r.Date) == "" {
		r.Date = DefaultDate
	}
	if r.Size <= 0 {
		r.Size = DefaultSize
	}
	if strings.HasPrefix(strings.ToLower(r.URL), "magnet") {
		r.Mode = store.ModeMagnet
	}
}
