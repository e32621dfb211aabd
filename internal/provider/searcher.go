package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"bookbag/internal/config"
	"bookbag/internal/httpx"
	"bookbag/internal/logging"
	"bookbag/internal/metrics"
	"bookbag/internal/services"
	"bookbag/internal/store"
)

// UsageCounter persists per-provider daily API call counts.
type UsageCounter interface {
	IncrementUsage(ctx context.Context, name, day string) (int, error)
	Usage(ctx context.Context, name, day string) (int, error)
}

type backend interface {
	search(ctx context.Context, p config.Provider, q Query) ([]SearchResult, error)
}

// Searcher fans queries out to the configured providers.
type Searcher struct {
	cfg       *config.Config
	usage     UsageCounter
	logger    *slog.Logger
	cooldowns *Cooldowns
	feeds     *cache.Cache
	rss       *rssFeed
	backends  map[config.ProviderFamily]backend
	now       func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewSearcher builds a Searcher. usage may be nil, in which case API limits
// are not enforced.
func NewSearcher(cfg *config.Config, hc *httpx.Client, usage UsageCounter, logger *slog.Logger) *Searcher {
	cooldown := time.Duration(cfg.Search.ProviderCooldownSeconds) * time.Second
	feedTTL := time.Duration(cfg.Scheduler.RSSIntervalMinutes) * time.Minute
	if feedTTL <= 0 {
		feedTTL = 20 * time.Minute
	}
	extensions := append(append([]string{}, cfg.FileTypes.EbookTypes...), cfg.FileTypes.AudioTypes...)
	rss := &rssFeed{http: hc}
	feeds := cache.New(feedTTL, 10*time.Minute)
	return &Searcher{
		cfg:       cfg,
		usage:     usage,
		logger:    logging.NewComponentLogger(logger, "search"),
		cooldowns: NewCooldowns(cooldown),
		feeds:     feeds,
		rss:       rss,
		backends: map[config.ProviderFamily]backend{
			config.FamilyNewznab: &newznab{http: hc},
			config.FamilyTorznab: &newznab{http: hc, torznab: true, preferMagnet: cfg.Torrent.PreferMagnet},
			config.FamilyRSS:     &cachedFeed{feed: rss, cache: feeds},
			config.FamilyDirect:  &direct{http: hc, extensions: extensions},
		},
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Cooldowns exposes the cool-down tracker for status reporting.
func (s *Searcher) Cooldowns() *Cooldowns { return s.cooldowns }

type target struct {
	family   config.ProviderFamily
	provider config.Provider
}

// Search queries every eligible provider concurrently and returns the
// combined results in provider order. A provider that fails is reported in
// the error slice and put on cool-down; the others are unaffected.
func (s *Searcher) Search(ctx context.Context, q Query) ([]SearchResult, []ProviderError) {
	if ctx == nil {
		ctx = context.Background()
	}
	q.Term = strings.TrimSpace(q.Term)
	if q.Term == "" {
		q.Term = strings.TrimSpace(q.Author + " " + q.Title)
	}
	targets := s.eligible(ctx, q)
	if len(targets) == 0 {
		return nil, nil
	}

	perProvider := make([][]SearchResult, len(targets))
	var (
		errMu sync.Mutex
		errs  []ProviderError
		group errgroup.Group
	)
	group.SetLimit(len(targets))
	for i, t := range targets {
		group.Go(func() error {
			results, err := s.query(ctx, t, s.backends[t.family], q)
			if err != nil {
				errMu.Lock()
				errs = append(errs, ProviderError{Provider: t.provider.Label(), Err: err})
				errMu.Unlock()
				return nil
			}
			for j := range results {
				results[j].Kind = q.Kind
			}
			perProvider[i] = results
			return nil
		})
	}
	_ = group.Wait()

	var combined []SearchResult
	for _, results := range perProvider {
		combined = append(combined, results...)
	}
	s.logger.Info("search complete",
		logging.String("term", q.Term),
		logging.String("kind", string(q.Kind)),
		logging.Int("providers", len(targets)),
		logging.Int("results", len(combined)),
		logging.Int("failed", len(errs)),
	)
	return combined, errs
}

// eligible filters configured providers down to those that may be queried now.
func (s *Searcher) eligible(ctx context.Context, q Query) []target {
	var out []target
	seenHosts := map[string]string{}
	for _, family := range config.Families {
		for _, p := range s.cfg.Providers.Enabled(family) {
			if !p.Allows(string(q.Kind)) {
				continue
			}
			if p.Manual && !q.Interactive {
				continue
			}
			key := config.HostKey(p.Host)
			if first, dup := seenHosts[key]; dup {
				s.logger.Debug("duplicate provider host skipped",
					logging.String("provider", p.Label()),
					logging.String("duplicate_of", first),
				)
				continue
			}
			seenHosts[key] = p.Label()
			if reason, until, cooling := s.cooldowns.Active(p.Name); cooling {
				s.logger.Debug("provider cooling down",
					logging.String("provider", p.Label()),
					logging.String("reason", reason),
					logging.Time("until", until),
				)
				metrics.ProviderRequests.WithLabelValues(p.Label(), "skipped").Inc()
				continue
			}
			if s.overLimit(ctx, p) {
				metrics.ProviderRequests.WithLabelValues(p.Label(), "skipped").Inc()
				continue
			}
			out = append(out, target{family: family, provider: p})
		}
	}
	return out
}

func (s *Searcher) overLimit(ctx context.Context, p config.Provider) bool {
	if s.usage == nil || p.APILimit <= 0 {
		return false
	}
	used, err := s.usage.Usage(ctx, p.Name, store.UsageDay(s.now()))
	if err != nil {
		s.logger.Debug("provider usage lookup failed", logging.String("provider", p.Label()), logging.Error(err))
		return false
	}
	if used >= p.APILimit {
		s.logger.Info("provider daily limit reached",
			logging.String("provider", p.Label()),
			logging.Int("used", used),
			logging.Int("limit", p.APILimit),
		)
		return true
	}
	return false
}

func (s *Searcher) limiter(name string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[name]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.Search.RequestsPerSecond), 1)
		s.limiters[name] = limiter
	}
	return limiter
}

func (s *Searcher) timeout() time.Duration {
	seconds := s.cfg.Search.ProviderTimeoutSeconds
	if seconds <= 0 {
		seconds = s.cfg.HTTP.TimeoutSeconds
	}
	return time.Duration(seconds) * time.Second
}

// query runs one provider under its own deadline and records the outcome.
func (s *Searcher) query(ctx context.Context, t target, be backend, q Query) ([]SearchResult, error) {
	p := t.provider
	ctx = services.WithProvider(ctx, p.Label())
	pctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	if err := s.limiter(p.Name).Wait(pctx); err != nil {
		return nil, services.Wrap(services.ErrTimeout, "search", p.Label(), "rate limiter wait", err)
	}
	s.countCall(pctx, t)

	start := time.Now()
	results, err := be.search(pctx, p, q)
	duration := time.Since(start)
	if err == nil {
		metrics.RecordProviderRequest(p.Label(), "ok", duration)
		s.logger.Debug("provider returned results",
			logging.String("provider", p.Label()),
			logging.Int("results", len(results)),
			logging.Duration("duration", duration),
		)
		return results, nil
	}

	if errors.Is(pctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && !errors.Is(err, services.ErrTimeout) {
		err = &httpx.TimeoutError{URL: p.Label(), Err: err}
	}
	result := "error"
	reason := err.Error()
	if isRateLimited(err) {
		result = "rate_limited"
		reason = "rate limited"
	}
	metrics.RecordProviderRequest(p.Label(), result, duration)
	if ctx.Err() == nil {
		s.cooldowns.Block(p.Name, reason)
	}
	logging.WarnWithContext(s.logger, "provider search failed", "provider_failed",
		logging.String("provider", p.Label()),
		logging.String("family", string(t.family)),
		logging.String("result", result),
		logging.Error(err),
		logging.String("error_hint", "provider paused for the cool-down period; check host and api key"),
	)
	return nil, err
}

func (s *Searcher) countCall(ctx context.Context, t target) {
	if s.usage == nil || (t.family != config.FamilyNewznab && t.family != config.FamilyTorznab) {
		return
	}
	if _, err := s.usage.IncrementUsage(ctx, t.provider.Name, store.UsageDay(s.now())); err != nil {
		s.logger.Debug("provider usage update failed", logging.String("provider", t.provider.Label()), logging.Error(err))
	}
}

func isRateLimited(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RateLimited()
	}
	return httpx.IsRateLimited(err)
}

// Poll fetches every enabled RSS feed, bypassing the feed cache, and returns
// download items and wishlist entries. Failing feeds are cooled down like
// search providers.
func (s *Searcher) Poll(ctx context.Context) (*FeedContents, []ProviderError) {
	if ctx == nil {
		ctx = context.Background()
	}
	contents := &FeedContents{}
	var errs []ProviderError
	for _, p := range s.cfg.Providers.Enabled(config.FamilyRSS) {
		if _, _, cooling := s.cooldowns.Active(p.Name); cooling {
			continue
		}
		fetched := &fetchOnly{feed: s.rss, cache: s.feeds}
		if _, err := s.query(ctx, target{family: config.FamilyRSS, provider: p}, fetched, Query{}); err != nil {
			errs = append(errs, ProviderError{Provider: p.Label(), Err: err})
			continue
		}
		contents.Results = append(contents.Results, fetched.contents.Results...)
		contents.Wishlist = append(contents.Wishlist, fetched.contents.Wishlist...)
	}
	return contents, errs
}

// ProviderStatus summarises one configured provider.
type ProviderStatus struct {
	Name           string
	Label          string
	Family         config.ProviderFamily
	Host           string
	CooldownUntil  time.Time
	CooldownReason string
	UsedToday      int
	APILimit       int
}

// Status lists enabled providers with their cool-down and usage state.
func (s *Searcher) Status(ctx context.Context) []ProviderStatus {
	var out []ProviderStatus
	day := store.UsageDay(s.now())
	for _, family := range config.Families {
		for _, p := range s.cfg.Providers.Enabled(family) {
			status := ProviderStatus{
				Name:     p.Name,
				Label:    p.Label(),
				Family:   family,
				Host:     httpx.Redact(p.Host),
				APILimit: p.APILimit,
			}
			if reason, until, ok := s.cooldowns.Active(p.Name); ok {
				status.CooldownReason = reason
				status.CooldownUntil = until
			}
			if s.usage != nil {
				if used, err := s.usage.Usage(ctx, p.Name, day); err == nil {
					status.UsedToday = used
				}
			}
			out = append(out, status)
		}
	}
	return out
}

// cachedFeed serves RSS providers during searches from a short-lived cache
// so a search pass does not refetch the same feed for every item.
type cachedFeed struct {
	feed  *rssFeed
	cache *cache.Cache
}

func (c *cachedFeed) search(ctx context.Context, p config.Provider, _ Query) ([]SearchResult, error) {
	key := feedCacheKey(p)
	if cached, ok := c.cache.Get(key); ok {
		if contents, ok := cached.(*FeedContents); ok {
			return cloneResults(contents.Results), nil
		}
	}
	contents, err := c.feed.fetch(ctx, p)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, contents, cache.DefaultExpiration)
	return cloneResults(contents.Results), nil
}

// fetchOnly always refetches and refreshes the cache entry.
type fetchOnly struct {
	feed     *rssFeed
	cache    *cache.Cache
	contents *FeedContents
}

func (f *fetchOnly) search(ctx context.Context, p config.Provider, _ Query) ([]SearchResult, error) {
	contents, err := f.feed.fetch(ctx, p)
	if err != nil {
		return nil, err
	}
	f.contents = contents
	f.cache.Set(feedCacheKey(p), contents, cache.DefaultExpiration)
	return contents.Results, nil
}

func feedCacheKey(p config.Provider) string {
	return fmt.Sprintf("feed:%s", config.HostKey(p.Host))
}

func cloneResults(in []SearchResult) []SearchResult {
	out := make([]SearchResult, len(in))
	copy(out, in)
	return out
}
