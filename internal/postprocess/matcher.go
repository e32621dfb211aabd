package postprocess

import (
	"context"
	"sort"
	"strings"

	"bookbag/internal/store"
	"bookbag/internal/textutil"
)

const (
	candidateThreshold = 50
	candidateLimit     = 10
	titleWeight        = 0.7
	authorWeight       = 0.3
)

// Match ties metadata to a catalog item.
type Match struct {
	Item   *store.CatalogItem
	Score  int
	Method string
}

// Candidate is a possible manual match.
type Candidate struct {
	Item  *store.CatalogItem
	Score int
}

// Matcher resolves extracted metadata against the catalog.
type Matcher struct {
	store *store.Store
	ratio int
}

// NewMatcher returns a matcher accepting fuzzy scores of at least ratio.
func NewMatcher(st *store.Store, ratio int) *Matcher {
	return &Matcher{store: st, ratio: ratio}
}

// Match tries ISBN, then an exact normalized name match, then the weighted
// fuzzy score. It returns (nil, nil) when nothing reaches the ratio.
func (m *Matcher) Match(ctx context.Context, meta Metadata, kind store.Kind) (*Match, error) {
	if meta.ISBN != "" {
		for _, isbn := range isbnVariants(meta.ISBN) {
			items, err := m.store.FindByISBN(ctx, isbn)
			if err != nil {
				return nil, err
			}
			if len(items) > 0 {
				return &Match{Item: items[0], Score: 100, Method: "isbn"}, nil
			}
		}
	}
	if strings.TrimSpace(meta.Title) == "" {
		return nil, nil
	}
	items, err := m.store.ListItems(ctx, kind)
	if err != nil {
		return nil, err
	}

	title, author := matchKey(meta.Title), matchKey(meta.Author)
	for _, item := range items {
		if titleKeys(item)[title] && (author == "" || matchKey(item.AuthorName) == author) {
			return &Match{Item: item, Score: 100, Method: "exact"}, nil
		}
	}

	var best *Match
	for _, item := range items {
		score := weightedScore(title, author, item)
		if score < m.ratio {
			continue
		}
		if best == nil || score > best.Score {
			best = &Match{Item: item, Score: score, Method: "fuzzy"}
		}
	}
	return best, nil
}

// Candidates lists catalog items scoring at least 50, best first.
func (m *Matcher) Candidates(ctx context.Context, meta Metadata, kind store.Kind) ([]Candidate, error) {
	if strings.TrimSpace(meta.Title) == "" {
		return nil, nil
	}
	items, err := m.store.ListItems(ctx, kind)
	if err != nil {
		return nil, err
	}
	title, author := matchKey(meta.Title), matchKey(meta.Author)
	var out []Candidate
	for _, item := range items {
		if score := weightedScore(title, author, item); score >= candidateThreshold {
			out = append(out, Candidate{Item: item, Score: score})
		}
	}
	// Equal scores fall back to word overlap with title and author together.
	target := textutil.NewFingerprint(meta.Title + " " + meta.Author)
	overlap := make(map[string]float64, len(out))
	for _, c := range out {
		overlap[c.Item.ID] = textutil.CosineSimilarity(target, textutil.NewFingerprint(c.Item.Title+" "+c.Item.AuthorName))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return overlap[out[i].Item.ID] > overlap[out[j].Item.ID]
	})
	if len(out) > candidateLimit {
		out = out[:candidateLimit]
	}
	return out, nil
}

func weightedScore(title, author string, item *store.CatalogItem) int {
	titleRatio := 0
	for key := range titleKeys(item) {
		titleRatio = max(titleRatio, textutil.Ratio(title, key))
	}
	itemAuthor := matchKey(item.AuthorName)
	if author == "" || itemAuthor == "" {
		return titleRatio
	}
	authorRatio := textutil.Ratio(author, itemAuthor)
	return int(float64(titleRatio)*titleWeight + float64(authorRatio)*authorWeight)
}

// titleKeys returns the comparison keys of an item's title with and without
// its subtitle.
func titleKeys(item *store.CatalogItem) map[string]bool {
	keys := map[string]bool{matchKey(item.Title): true}
	if sub := strings.TrimSpace(item.Subtitle); sub != "" {
		keys[matchKey(item.Title+" "+sub)] = true
	}
	return keys
}

// matchKey lowercases, folds accents, drops punctuation and a leading
// article.
func matchKey(text string) string {
	key := textutil.Normalize(text)
	for _, article := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(key, article) {
			return strings.TrimPrefix(key, article)
		}
	}
	return key
}

// isbnVariants returns isbn and, for an ISBN-10, its ISBN-13 form.
func isbnVariants(isbn string) []string {
	isbn = store.NormalizeISBN(isbn)
	if len(isbn) != 10 {
		return []string{isbn}
	}
	return []string{isbn, isbn13(isbn)}
}

func isbn13(isbn10 string) string {
	base := "978" + isbn10[:9]
	sum := 0
	for i, c := range base {
		d := int(c - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return base + string(rune('0'+(10-sum%10)%10))
}
