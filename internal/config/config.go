package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	LogDir      string `toml:"log_dir"`
	DownloadDir string `toml:"download_dir"`
	EbookDir    string `toml:"ebook_dir"`
	AudioDir    string `toml:"audio_dir"`
}

// HTTP contains transport settings shared by adapters and providers.
type HTTP struct {
	TimeoutSeconds         int    `toml:"timeout_seconds"`
	ExtendedTimeoutSeconds int    `toml:"extended_timeout_seconds"`
	Proxy                  string `toml:"proxy"`
	VerifyTLS              bool   `toml:"verify_tls"`
	UserAgent              string `toml:"user_agent"`

	// verifyOverride holds the process environment override. It is never saved.
	verifyOverride *bool
}

// VerifiesTLS reports whether outbound requests verify certificates, honoring
// the environment override over the file value.
func (h HTTP) VerifiesTLS() bool {
	if h.verifyOverride != nil {
		return *h.verifyOverride
	}
	return h.VerifyTLS
}

// Search contains provider fan-out settings.
type Search struct {
	ProviderCooldownSeconds int     `toml:"provider_cooldown_seconds"`
	ProviderTimeoutSeconds  int     `toml:"provider_timeout_seconds"`
	RequestsPerSecond       float64 `toml:"requests_per_second"`
}

// Match contains fuzzy-match thresholds (0-100).
type Match struct {
	SearchRatio   int `toml:"search_ratio"`
	DownloadRatio int `toml:"download_ratio"`
	LibraryRatio  int `toml:"library_ratio"`
}

// FileTypes contains extension lists and reject policies per media kind.
type FileTypes struct {
	EbookTypes        []string `toml:"ebook_types"`
	AudioTypes        []string `toml:"audio_types"`
	MagazineTypes     []string `toml:"magazine_types"`
	RejectWords       []string `toml:"reject_words"`
	RejectAudioWords  []string `toml:"reject_audio_words"`
	BannedExtensions  []string `toml:"banned_extensions"`
	SkippedExtensions []string `toml:"skipped_extensions"`
	RejectMinSizeMB   int      `toml:"reject_min_size_mb"`
	RejectMaxSizeMB   int      `toml:"reject_max_size_mb"`
	RejectMinAudioMB  int      `toml:"reject_min_audio_mb"`
	RejectMaxAudioMB  int      `toml:"reject_max_audio_mb"`
}

// Postprocess contains library organization settings.
type Postprocess struct {
	EbookDestFolder string `toml:"ebook_dest_folder"`
	EbookDestFile   string `toml:"ebook_dest_file"`
	AudioDestFolder string `toml:"audio_dest_folder"`
	AudioDestFile   string `toml:"audio_dest_file"`
	DestinationCopy bool   `toml:"destination_copy"`
	FilePerm        string `toml:"file_perm"`
	DirPerm         string `toml:"dir_perm"`
	WriteOPF        bool   `toml:"write_opf"`
}

// Acquisition contains wanted-list state machine settings.
type Acquisition struct {
	BlacklistFailed    bool `toml:"blacklist_failed"`
	BlacklistProcessed bool `toml:"blacklist_processed"`
	RetentionHours     int  `toml:"retention_hours"`
	HistoryDays        int  `toml:"history_days"`
	BackoffBaseMinutes int  `toml:"backoff_base_minutes"`
	BackoffMaxHours    int  `toml:"backoff_max_hours"`
}

// Torrent contains peer-to-peer specific behaviour.
type Torrent struct {
	SeedWait     bool `toml:"seed_wait"`
	KeepSeeding  bool `toml:"keep_seeding"`
	PreferMagnet bool `toml:"prefer_magnet"`
}

// Scheduler contains background job intervals.
type Scheduler struct {
	SearchIntervalMinutes      int `toml:"search_interval_minutes"`
	RSSIntervalMinutes         int `toml:"rss_interval_minutes"`
	PostprocessIntervalMinutes int `toml:"postprocess_interval_minutes"`
	ReconcileIntervalMinutes   int `toml:"reconcile_interval_minutes"`
	LibraryScanIntervalHours   int `toml:"library_scan_interval_hours"`
}

// Downloader is the shared shape of a download back-end section.
type Downloader struct {
	Enabled   bool   `toml:"enabled"`
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	BasePath  string `toml:"base_path"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	APIKey    string `toml:"api_key"`
	Category  string `toml:"category"`
	Directory string `toml:"directory"`
	Priority  int    `toml:"priority"`
}

// Blackhole writes payloads into watch directories instead of calling a client.
type Blackhole struct {
	Enabled    bool   `toml:"enabled"`
	NZBDir     string `toml:"nzb_dir"`
	TorrentDir string `toml:"torrent_dir"`
}

// Downloaders lists the configured download back-ends.
type Downloaders struct {
	SABnzbd      Downloader `toml:"sabnzbd"`
	NZBGet       Downloader `toml:"nzbget"`
	QBittorrent  Downloader `toml:"qbittorrent"`
	Transmission Downloader `toml:"transmission"`
	Deluge       Downloader `toml:"deluge"`
	Blackhole    Blackhole  `toml:"blackhole"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Snatched       bool   `toml:"snatched"`
	Processed      bool   `toml:"processed"`
	Failed         bool   `toml:"failed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Metrics controls the Prometheus listener.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
}

// Config encapsulates all configuration values for bookbag.
//
// Configuration sections by subsystem:
//   - Paths: data, log, download and library directories
//   - HTTP: shared transport timeout, proxy and TLS policy
//   - Search / Match / FileTypes: provider fan-out and scoring policy
//   - Postprocess: destination templates and permissions
//   - Acquisition / Torrent: wanted-list state machine behaviour
//   - Scheduler: background job intervals
//   - Downloaders / Providers: external services
//   - Notifications / Logging / Metrics: operator surfaces
type Config struct {
	Paths         Paths         `toml:"paths"`
	HTTP          HTTP          `toml:"http"`
	Search        Search        `toml:"search"`
	Match         Match         `toml:"match"`
	FileTypes     FileTypes     `toml:"filetypes"`
	Postprocess   Postprocess   `toml:"postprocess"`
	Acquisition   Acquisition   `toml:"acquisition"`
	Torrent       Torrent       `toml:"torrent"`
	Scheduler     Scheduler     `toml:"scheduler"`
	Downloaders   Downloaders   `toml:"downloaders"`
	Providers     Providers     `toml:"providers"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Metrics       Metrics       `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/bookbag/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("bookbag.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// Library directories are created on a best-effort basis so the daemon can run
// when external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	for _, dir := range []string{c.Paths.DownloadDir, c.Paths.EbookDir, c.Paths.AudioDir} {
		if strings.TrimSpace(dir) != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
	}
	return nil
}

// DatabasePath returns the location of the embedded state database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "bookbag.db")
}

// SocketPath returns the daemon control socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "bookbag.sock")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "bookbagd.lock")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "bookbagd.pid")
}

// LibraryDir returns the library root for the given media kind code ("E" or "A").
func (c *Config) LibraryDir(kind string) string {
	if strings.EqualFold(kind, "A") && strings.TrimSpace(c.Paths.AudioDir) != "" {
		return c.Paths.AudioDir
	}
	return c.Paths.EbookDir
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Save normalizes provider slots and writes the configuration to path.
func (c *Config) Save(path string, logger *slog.Logger) error {
	c.Providers.Compact(logger)
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Redacted returns a copy with credentials masked for display.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(value string) string {
		if value == "" {
			return ""
		}
		return "********"
	}
	d := &out.Downloaders
	for _, dl := range []*Downloader{&d.SABnzbd, &d.NZBGet, &d.QBittorrent, &d.Transmission, &d.Deluge} {
		dl.Password = mask(dl.Password)
		dl.APIKey = mask(dl.APIKey)
	}
	for _, family := range Families {
		list := out.Providers.List(family)
		copied := append([]Provider(nil), (*list)...)
		for i := range copied {
			copied[i].APIKey = mask(copied[i].APIKey)
		}
		*list = copied
	}
	return &out
}
