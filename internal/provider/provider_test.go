package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bookbag/internal/config"
	"bookbag/internal/httpx"
	"bookbag/internal/logging"
	"bookbag/internal/services"
	"bookbag/internal/store"
	"bookbag/internal/testsupport"
)

const newznabFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:newznab="http://www.newznab.com/DTD/2010/feeds/attributes/">
<channel>
<title>indexer</title>
<item>
<title>Marie Kondo - The Life-Changing Magic of Tidying Up</title>
<link>http://indexer.example/getnzb/abc.nzb</link>
<pubDate>Sat, 02 Mar 2024 10:00:00 +0000</pubDate>
<enclosure url="http://indexer.example/getnzb/abc.nzb" length="2048" type="application/x-nzb"/>
<newznab:attr name="size" value="123456"/>
</item>
<item>
<title>Bare Item</title>
<link>http://indexer.example/getnzb/def.nzb</link>
</item>
</channel>
</rss>`

const torznabFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed">
<channel>
<title>tracker</title>
<item>
<title>Tidying Up Audiobook</title>
<link>http://tracker.example/dl/1.torrent</link>
<enclosure url="http://tracker.example/dl/1.torrent" length="5000" type="application/x-bittorrent"/>
<torznab:attr name="magneturl" value="magnet:?xt=urn:btih:0123456789ABCDEF0123456789ABCDEF01234567"/>
</item>
</channel>
</rss>`

type fakeUsage struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeUsage() *fakeUsage { return &fakeUsage{counts: map[string]int{}} }

func (f *fakeUsage) IncrementUsage(_ context.Context, name, day string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[name+"/"+day]++
	return f.counts[name+"/"+day], nil
}

func (f *fakeUsage) Usage(_ context.Context, name, day string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[name+"/"+day], nil
}

func newSearcher(t *testing.T, cfg *config.Config, usage UsageCounter) *Searcher {
	t.Helper()
	hc, err := httpx.NewFromConfig(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("http client: %v", err)
	}
	return NewSearcher(cfg, hc, usage, logging.NewNop())
}

func serveBody(t *testing.T, body string, hits *atomic.Int32, seen *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if seen != nil {
			seen.Store(r.URL.Query())
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewznabSearchParsesAttributes(t *testing.T) {
	var seen atomic.Value
	srv := serveBody(t, newznabFeed, nil, &seen)
	cfg := testsupport.NewConfig(t, testsupport.WithProvider(config.FamilyNewznab, "Indexer", srv.URL))
	searcher := newSearcher(t, cfg, nil)

	results, errs := searcher.Search(context.Background(), Query{
		Term:   "Marie Kondo Tidying",
		Author: "Marie Kondo",
		Title:  "The Life-Changing Magic of Tidying Up",
		Kind:   store.KindEbook,
	})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	first := results[0]
	if first.Size != 123456 || first.Mode != store.ModeNZB || first.Provider != "Indexer" || first.Kind != store.KindEbook {
		t.Fatalf("unexpected first result: %+v", first)
	}
	if first.Date != "Sat, 02 Mar 2024 10:00:00 +0000" {
		t.Fatalf("unexpected date %q", first.Date)
	}
	if first.URL != "http://indexer.example/getnzb/abc.nzb" {
		t.Fatalf("unexpected url %q", first.URL)
	}
	bare := results[1]
	if bare.Size != DefaultSize || bare.Date != DefaultDate {
		t.Fatalf("expected defaults on bare item, got %+v", bare)
	}

	params, _ := seen.Load().(url.Values)
	if got := params["t"]; len(got) != 1 || got[0] != "book" {
		t.Fatalf("expected book search, got %v", params)
	}
	if got := params["author"]; len(got) != 1 || got[0] != "Marie Kondo" {
		t.Fatalf("expected author param, got %v", params)
	}
	if got := params["apikey"]; len(got) != 1 || got[0] != "test" {
		t.Fatalf("expected apikey param, got %v", params)
	}
}

func TestNewznabParamsByKind(t *testing.T) {
	p := config.EmptySlot(config.FamilyNewznab, 0)
	p.APIKey = "key"

	ebook := newznabParams(p, Query{Term: "dune", Kind: store.KindEbook})
	if ebook.Get("t") != "search" || ebook.Get("q") != "dune" || ebook.Get("cat") != "7000,7020" {
		t.Fatalf("unexpected ebook params: %v", ebook)
	}
	audio := newznabParams(p, Query{Term: "dune", Kind: store.KindAudio})
	if audio.Get("t") != "search" || audio.Get("cat") != "3030" {
		t.Fatalf("unexpected audio params: %v", audio)
	}
	p.AudioSearch = "audio"
	if got := newznabParams(p, Query{Term: "dune", Kind: store.KindAudio}).Get("t"); got != "audio" {
		t.Fatalf("expected audio function, got %q", got)
	}
	magazine := newznabParams(p, Query{Term: "wired", Kind: store.KindMagazine})
	if magazine.Get("cat") != "" || magazine.Get("t") != "search" {
		t.Fatalf("unexpected magazine params: %v", magazine)
	}
	if got := apiEndpoint("indexer.example/api/"); got != "http://indexer.example/api" {
		t.Fatalf("unexpected endpoint %q", got)
	}
}

func TestTorznabPrefersMagnet(t *testing.T) {
	srv := serveBody(t, torznabFeed, nil, nil)
	cfg := testsupport.NewConfig(t, testsupport.WithProvider(config.FamilyTorznab, "Tracker", srv.URL))
	searcher := newSearcher(t, cfg, nil)

	results, errs := searcher.Search(context.Background(), Query{Term: "tidying", Kind: store.KindAudio})
	if len(errs) != 0 || len(results) != 1 {
		t.Fatalf("unexpected outcome: %v %v", results, errs)
	}
	if results[0].Mode != store.ModeMagnet || !strings.HasPrefix(results[0].URL, "magnet:") {
		t.Fatalf("expected magnet result, got %+v", results[0])
	}

	cfg.Torrent.PreferMagnet = false
	searcher = newSearcher(t, cfg, nil)
	results, _ = searcher.Search(context.Background(), Query{Term: "tidying", Kind: store.KindAudio})
	if len(results) != 1 || results[0].Mode != store.ModeTorrent {
		t.Fatalf("expected torrent result, got %+v", results)
	}
}

func TestRateLimitedProviderCoolsDownWithoutAffectingOthers(t *testing.T) {
	var limitedHits, healthyHits atomic.Int32
	limited := serveBody(t, `<?xml version="1.0"?><error code="500" description="Request limit reached"/>`, &limitedHits, nil)
	healthy := serveBody(t, newznabFeed, &healthyHits, nil)
	cfg := testsupport.NewConfig(t,
		testsupport.WithProvider(config.FamilyNewznab, "Limited", limited.URL),
		testsupport.WithProvider(config.FamilyNewznab, "Healthy", healthy.URL),
	)
	searcher := newSearcher(t, cfg, nil)

	results, errs := searcher.Search(context.Background(), Query{Term: "kondo", Kind: store.KindEbook})
	if len(results) != 2 {
		t.Fatalf("expected healthy provider results, got %d", len(results))
	}
	if len(errs) != 1 || errs[0].Provider != "Limited" {
		t.Fatalf("expected one error from Limited, got %v", errs)
	}
	var apiErr *APIError
	if !errors.As(errs[0].Err, &apiErr) || !apiErr.RateLimited() {
		t.Fatalf("expected rate limit api error, got %v", errs[0].Err)
	}
	if _, _, cooling := searcher.Cooldowns().Active("Limited"); !cooling {
		t.Fatal("expected Limited to be cooling down")
	}

	_, errs = searcher.Search(context.Background(), Query{Term: "kondo", Kind: store.KindEbook})
	if len(errs) != 0 {
		t.Fatalf("cooling provider should be skipped, got %v", errs)
	}
	if limitedHits.Load() != 1 || healthyHits.Load() != 2 {
		t.Fatalf("unexpected hit counts limited=%d healthy=%d", limitedHits.Load(), healthyHits.Load())
	}
}

func TestDailyAPILimitSkipsProvider(t *testing.T) {
	var hits atomic.Int32
	srv := serveBody(t, newznabFeed, &hits, nil)
	cfg := testsupport.NewConfig(t, testsupport.WithProvider(config.FamilyNewznab, "Indexer", srv.URL))
	cfg.Providers.Newznab[0].APILimit = 2
	usage := newFakeUsage()
	searcher := newSearcher(t, cfg, usage)

	for i := 0; i < 3; i++ {
		searcher.Search(context.Background(), Query{Term: "kondo", Kind: store.KindEbook})
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 calls before the limit, got %d", hits.Load())
	}
	used, _ := usage.Usage(context.Background(), "Indexer", store.UsageDay(time.Now()))
	if used != 2 {
		t.Fatalf("expected usage 2, got %d", used)
	}
}

func TestDailyAPILimitResetsAtLocalMidnight(t *testing.T) {
	var hits atomic.Int32
	srv := serveBody(t, newznabFeed, &hits, nil)
	cfg := testsupport.NewConfig(t, testsupport.WithProvider(config.FamilyNewznab, "Indexer", srv.URL))
	cfg.Providers.Newznab[0].APILimit = 1
	usage := newFakeUsage()
	searcher := newSearcher(t, cfg, usage)

	now := time.Date(2024, time.March, 9, 23, 50, 0, 0, time.Local)
	searcher.now = func() time.Time { return now }

	searcher.Search(context.Background(), Query{Term: "kondo", Kind: store.KindEbook})
	searcher.Search(context.Background(), Query{Term: "kondo", Kind: store.KindEbook})
	if hits.Load() != 1 {
		t.Fatalf("expected the limit to stop the second call, got %d calls", hits.Load())
	}

	now = time.Date(2024, time.March, 10, 0, 5, 0, 0, time.Local)
	searcher.Search(context.Background(), Query{Term: "kondo", Kind: store.KindEbook})
	if hits.Load() != 2 {
		t.Fatalf("expected a fresh allowance after midnight, got %d calls", hits.Load())
	}
	if used, _ := usage.Usage(context.Background(), "Indexer", "2024-03-10"); used != 1 {
		t.Fatalf("usage for the new day = %d, want 1", used)
	}
	if used, _ := usage.Usage(context.Background(), "Indexer", "2024-03-09"); used != 1 {
		t.Fatalf("usage for the previous day = %d, want 1", used)
	}
}

func TestProviderFiltering(t *testing.T) {
	var hits atomic.Int32
	srv := serveBody(t, newznabFeed, &hits, nil)
	cfg := testsupport.NewConfig(t, testsupport.WithProvider(config.FamilyNewznab, "Manual", srv.URL))
	cfg.Providers.Newznab[0].Manual = true
	searcher := newSearcher(t, cfg, nil)

	searcher.Search(context.Background(), Query{Term: "kondo", Kind: store.KindEbook})
	if hits.Load() != 0 {
		t.Fatal("manual provider queried by automatic search")
	}
	searcher.Search(context.Background(), Query{Term: "kondo", Kind: store.KindEbook, Interactive: true})
	if hits.Load() != 1 {
		t.Fatalf("manual provider skipped by interactive search, hits=%d", hits.Load())
	}

	cfg.Providers.Newznab[0].Manual = false
	cfg.Providers.Newznab[0].DLTypes = "E"
	searcher.Search(context.Background(), Query{Term: "kondo", Kind: store.KindAudio})
	if hits.Load() != 1 {
		t.Fatal("ebook-only provider queried for audio")
	}
}

func TestProviderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	cfg := testsupport.NewConfig(t, testsupport.WithProvider(config.FamilyNewznab, "Slow", srv.URL))
	cfg.Search.ProviderTimeoutSeconds = 1
	searcher := newSearcher(t, cfg, nil)

	_, errs := searcher.Search(context.Background(), Query{Term: "kondo", Kind: store.KindEbook})
	if len(errs) != 1 || !errors.Is(errs[0].Err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", errs)
	}
}

func TestDirectScrape(t *testing.T) {
	page := `<html><body><table>
<tr><th>Author</th><th>Title</th><th>Size</th></tr>
<tr><td>Marie Kondo</td><td><a href="book/index.php?md5=ABC" title="The Life-Changing Magic of Tidying Up">[1]</a></td><td>1.5 MB</td></tr>
<tr><td>Someone</td><td><a href="/files/other.epub">Other   Book</a></td><td>300 KB</td></tr>
<tr><td><a href="/about">About</a></td></tr>
</table></body></html>`
	var seen atomic.Value
	srv := serveBody(t, page, nil, &seen)
	cfg := testsupport.NewConfig(t, testsupport.WithProvider(config.FamilyDirect, "Library", srv.URL))
	searcher := newSearcher(t, cfg, nil)

	results, errs := searcher.Search(context.Background(), Query{Term: "tidying up", Kind: store.KindEbook})
	if len(errs) != 0 || len(results) != 2 {
		t.Fatalf("unexpected outcome: %+v %v", results, errs)
	}
	if results[0].URL != srv.URL+"/book/index.php?md5=ABC" || results[0].Size != 1572864 {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
	if results[0].Title != "The Life-Changing Magic of Tidying Up" || results[0].Mode != store.ModeDirect {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
	if results[1].Title != "Other Book" || results[1].Size != 307200 {
		t.Fatalf("unexpected second result: %+v", results[1])
	}
	params, _ := seen.Load().(url.Values)
	if got := params["req"]; len(got) != 1 || got[0] != "tidying up" {
		t.Fatalf("unexpected query params %v", params)
	}
}

func TestPollSplitsWishlistAndDownloads(t *testing.T) {
	wishlist := `<?xml version="1.0"?><rss version="2.0"><channel><title>best sellers</title>
<item><title>THE WOMEN by Kristin Hannah</title></item>
<item><title>FOURTH WING</title><description>by Rebecca Yarros</description></item>
</channel></rss>`
	downloads := `<?xml version="1.0"?><rss version="2.0"><channel><title>books</title>
<item><title>Some Book epub</title><link>http://feed.example/some.torrent</link></item>
<item><title>Other Book</title><enclosure url="http://feed.example/get?id=2" length="4096" type="application/x-nzb"/></item>
</channel></rss>`
	mux := http.NewServeMux()
	mux.HandleFunc("/svc/nytimes/best-sellers.rss", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(wishlist)) })
	mux.HandleFunc("/books.rss", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(downloads)) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := testsupport.NewConfig(t,
		testsupport.WithProvider(config.FamilyRSS, "NYT", srv.URL+"/svc/nytimes/best-sellers.rss"),
		testsupport.WithProvider(config.FamilyRSS, "Books", srv.URL+"/books.rss"),
	)
	searcher := newSearcher(t, cfg, nil)

	contents, errs := searcher.Poll(context.Background())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(contents.Wishlist) != 2 {
		t.Fatalf("expected 2 wishlist entries, got %+v", contents.Wishlist)
	}
	if got := contents.Wishlist[0]; got.Source != SourceNYTimes || got.Title != "THE WOMEN" || got.Author != "Kristin Hannah" {
		t.Fatalf("unexpected wishlist entry %+v", got)
	}
	if got := contents.Wishlist[1]; got.Title != "FOURTH WING" || got.Author != "Rebecca Yarros" {
		t.Fatalf("unexpected wishlist entry %+v", got)
	}
	if len(contents.Results) != 2 {
		t.Fatalf("expected 2 download items, got %+v", contents.Results)
	}
	if contents.Results[0].Mode != store.ModeTorrent || contents.Results[1].Mode != store.ModeNZB || contents.Results[1].Size != 4096 {
		t.Fatalf("unexpected download items %+v", contents.Results)
	}
}

func TestWishlistSource(t *testing.T) {
	cases := map[string]string{
		"https://www.nytimes.com/books/best-sellers/rss":            SourceNYTimes,
		"https://www.goodreads.com/review/list_rss/1?shelf=to-read": SourceGoodreads,
		"https://www.amazon.com/hz/wishlist/ls/ABC":                 SourceAmazon,
		"https://indexer.example/rss":                               "",
	}
	for host, want := range cases {
		if got := WishlistSource(host); got != want {
			t.Fatalf("WishlistSource(%q) = %q, want %q", host, got, want)
		}
	}
}

func TestCooldownsExpire(t *testing.T) {
	cooldowns := NewCooldowns(50 * time.Millisecond)
	cooldowns.Block("a", "boom")
	if reason, _, ok := cooldowns.Active("a"); !ok || reason != "boom" {
		t.Fatalf("expected active cooldown, got %q %v", reason, ok)
	}
	if len(cooldowns.Snapshot()) != 1 {
		t.Fatal("expected snapshot entry")
	}
	time.Sleep(80 * time.Millisecond)
	if _, _, ok := cooldowns.Active("a"); ok {
		t.Fatal("cooldown should have expired")
	}
	NewCooldowns(0).Block("b", "x")
}
