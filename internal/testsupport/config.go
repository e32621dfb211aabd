package testsupport

import (
	"path/filepath"
	"testing"

	"bookbag/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.DownloadDir = filepath.Join(base, "downloads")
	cfgVal.Paths.EbookDir = filepath.Join(base, "library", "ebooks")
	cfgVal.Paths.AudioDir = filepath.Join(base, "library", "audio")
	cfgVal.Metrics.Bind = "127.0.0.1:0"
	cfgVal.Search.RequestsPerSecond = 1000

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithProvider appends an enabled provider to family, pointed at host.
func WithProvider(family config.ProviderFamily, name, host string) ConfigOption {
	return func(b *configBuilder) {
		list := b.cfg.Providers.List(family)
		if list == nil {
			b.t.Fatalf("unknown provider family %q", family)
		}
		slot := config.EmptySlot(family, len(*list))
		slot.Name = name
		slot.DisplayName = name
		slot.Host = host
		slot.APIKey = "test"
		slot.Enabled = true
		slot.DLTypes = "A,E,M"
		*list = append(*list, slot)
	}
}

// WithMatchRatios overrides the search and download thresholds.
func WithMatchRatios(search, download int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Match.SearchRatio = search
		b.cfg.Match.DownloadRatio = download
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
