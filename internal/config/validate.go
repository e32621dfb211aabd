package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateMatch(); err != nil {
		return err
	}
	if err := c.validateIntervals(); err != nil {
		return err
	}
	if err := c.validatePostprocess(); err != nil {
		return err
	}
	if err := c.validateFileTypes(); err != nil {
		return err
	}
	if err := c.Providers.validate(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateMatch() error {
	ratios := []struct {
		key   string
		value int
	}{
		{"match.search_ratio", c.Match.SearchRatio},
		{"match.download_ratio", c.Match.DownloadRatio},
		{"match.library_ratio", c.Match.LibraryRatio},
	}
	for _, ratio := range ratios {
		if ratio.value < 0 || ratio.value > 100 {
			return fmt.Errorf("%s must be between 0 and 100", ratio.key)
		}
	}
	return nil
}

func (c *Config) validateIntervals() error {
	if err := ensurePositiveMap(map[string]int{
		"http.timeout_seconds":                   c.HTTP.TimeoutSeconds,
		"search.provider_timeout_seconds":        c.Search.ProviderTimeoutSeconds,
		"scheduler.search_interval_minutes":      c.Scheduler.SearchIntervalMinutes,
		"scheduler.rss_interval_minutes":         c.Scheduler.RSSIntervalMinutes,
		"scheduler.postprocess_interval_minutes": c.Scheduler.PostprocessIntervalMinutes,
		"scheduler.reconcile_interval_minutes":   c.Scheduler.ReconcileIntervalMinutes,
		"scheduler.library_scan_interval_hours":  c.Scheduler.LibraryScanIntervalHours,
		"acquisition.backoff_base_minutes":       c.Acquisition.BackoffBaseMinutes,
		"acquisition.backoff_max_hours":          c.Acquisition.BackoffMaxHours,
	}); err != nil {
		return err
	}
	if c.Acquisition.RetentionHours < 0 {
		return errors.New("acquisition.retention_hours must be >= 0")
	}
	if c.Acquisition.HistoryDays < 0 {
		return errors.New("acquisition.history_days must be >= 0")
	}
	return nil
}

func (c *Config) validatePostprocess() error {
	if _, err := ParsePerm(c.Postprocess.FilePerm); err != nil {
		return fmt.Errorf("postprocess.file_perm: %w", err)
	}
	if _, err := ParsePerm(c.Postprocess.DirPerm); err != nil {
		return fmt.Errorf("postprocess.dir_perm: %w", err)
	}
	for key, tmpl := range map[string]string{
		"postprocess.ebook_dest_file": c.Postprocess.EbookDestFile,
		"postprocess.audio_dest_file": c.Postprocess.AudioDestFile,
	} {
		if !strings.Contains(tmpl, "$") {
			return fmt.Errorf("%s must contain at least one $ placeholder", key)
		}
	}
	return nil
}

func (c *Config) validateFileTypes() error {
	if len(c.FileTypes.EbookTypes) == 0 {
		return errors.New("filetypes.ebook_types must include at least one extension")
	}
	if len(c.FileTypes.AudioTypes) == 0 {
		return errors.New("filetypes.audio_types must include at least one extension")
	}
	if c.FileTypes.RejectMaxSizeMB > 0 && c.FileTypes.RejectMinSizeMB > c.FileTypes.RejectMaxSizeMB {
		return errors.New("filetypes.reject_min_size_mb must not exceed reject_max_size_mb")
	}
	if c.FileTypes.RejectMaxAudioMB > 0 && c.FileTypes.RejectMinAudioMB > c.FileTypes.RejectMaxAudioMB {
		return errors.New("filetypes.reject_min_audio_mb must not exceed reject_max_audio_mb")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
