package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SSLVerifyEnv overrides http.verify_tls at process start when set to a boolean value.
const SSLVerifyEnv = "BOOKBAG_SSL_VERIFY"

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeHTTP()
	c.normalizeSearch()
	c.normalizeFileTypes()
	c.normalizePostprocess()
	c.normalizeDownloaders()
	c.Providers.normalizeEntries()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.DownloadDir, err = expandPath(c.Paths.DownloadDir); err != nil {
		return fmt.Errorf("paths.download_dir: %w", err)
	}
	if c.Paths.EbookDir, err = expandPath(c.Paths.EbookDir); err != nil {
		return fmt.Errorf("paths.ebook_dir: %w", err)
	}
	if c.Paths.AudioDir, err = expandPath(c.Paths.AudioDir); err != nil {
		return fmt.Errorf("paths.audio_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeHTTP() {
	if c.HTTP.TimeoutSeconds <= 0 {
		c.HTTP.TimeoutSeconds = defaultHTTPTimeoutSeconds
	}
	if c.HTTP.ExtendedTimeoutSeconds <= 0 {
		c.HTTP.ExtendedTimeoutSeconds = defaultHTTPExtTimeoutSeconds
	}
	c.HTTP.Proxy = strings.TrimSpace(c.HTTP.Proxy)
	c.HTTP.UserAgent = strings.TrimSpace(c.HTTP.UserAgent)
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = defaultUserAgent
	}
	if value, ok := os.LookupEnv(SSLVerifyEnv); ok {
		if verify, ok := ParseBool(value); ok {
			c.HTTP.verifyOverride = &verify
		}
	}
}

func (c *Config) normalizeSearch() {
	if c.Search.ProviderCooldownSeconds < 0 {
		c.Search.ProviderCooldownSeconds = 0
	}
	if c.Search.ProviderTimeoutSeconds <= 0 {
		c.Search.ProviderTimeoutSeconds = c.HTTP.TimeoutSeconds
	}
	if c.Search.RequestsPerSecond <= 0 {
		c.Search.RequestsPerSecond = defaultRequestsPerSecond
	}
}

func (c *Config) normalizeFileTypes() {
	c.FileTypes.EbookTypes = normalizeList(c.FileTypes.EbookTypes, true)
	c.FileTypes.AudioTypes = normalizeList(c.FileTypes.AudioTypes, true)
	c.FileTypes.MagazineTypes = normalizeList(c.FileTypes.MagazineTypes, true)
	c.FileTypes.BannedExtensions = normalizeList(c.FileTypes.BannedExtensions, true)
	c.FileTypes.SkippedExtensions = normalizeList(c.FileTypes.SkippedExtensions, true)
	c.FileTypes.RejectWords = normalizeList(c.FileTypes.RejectWords, false)
	c.FileTypes.RejectAudioWords = normalizeList(c.FileTypes.RejectAudioWords, false)
}

func (c *Config) normalizePostprocess() {
	pp := &c.Postprocess
	if strings.TrimSpace(pp.EbookDestFolder) == "" {
		pp.EbookDestFolder = defaultEbookDestFolder
	}
	if strings.TrimSpace(pp.EbookDestFile) == "" {
		pp.EbookDestFile = defaultEbookDestFile
	}
	if strings.TrimSpace(pp.AudioDestFolder) == "" {
		pp.AudioDestFolder = defaultAudioDestFolder
	}
	if strings.TrimSpace(pp.AudioDestFile) == "" {
		pp.AudioDestFile = defaultAudioDestFile
	}
	if strings.TrimSpace(pp.FilePerm) == "" {
		pp.FilePerm = defaultFilePerm
	}
	if strings.TrimSpace(pp.DirPerm) == "" {
		pp.DirPerm = defaultDirPerm
	}
}

func (c *Config) normalizeDownloaders() {
	d := &c.Downloaders
	for _, dl := range []*Downloader{&d.SABnzbd, &d.NZBGet, &d.QBittorrent, &d.Transmission, &d.Deluge} {
		dl.Host = strings.TrimSpace(dl.Host)
		dl.Username = strings.TrimSpace(dl.Username)
		dl.APIKey = strings.TrimSpace(dl.APIKey)
		dl.Category = strings.TrimSpace(dl.Category)
	}
	if d.SABnzbd.APIKey == "" {
		if value, ok := os.LookupEnv("SABNZBD_API_KEY"); ok {
			d.SABnzbd.APIKey = strings.TrimSpace(value)
		}
	}
	if d.QBittorrent.Password == "" {
		if value, ok := os.LookupEnv("QBITTORRENT_PASSWORD"); ok {
			d.QBittorrent.Password = value
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	if c.Metrics.Bind == "" {
		c.Metrics.Bind = defaultMetricsBind
	}
}

// ParseBool accepts the boolean spellings used in environment overrides.
func ParseBool(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

// ParsePerm parses an octal permission string such as "0o644" or "0755".
func ParsePerm(value string) (os.FileMode, error) {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	trimmed = strings.TrimPrefix(trimmed, "0o")
	parsed, err := strconv.ParseUint(trimmed, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid permission %q: %w", value, err)
	}
	return os.FileMode(parsed), nil
}

// normalizeList lowercases, trims, and dedups entries. Extension lists also
// drop a leading dot.
func normalizeList(values []string, extensions bool) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		normalized := strings.ToLower(strings.TrimSpace(value))
		if extensions {
			normalized = strings.TrimPrefix(normalized, ".")
		}
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
