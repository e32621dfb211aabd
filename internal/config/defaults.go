package config

const (
	defaultDataDir                    = "~/.local/share/bookbag"
	defaultLogDir                     = "~/.local/share/bookbag/logs"
	defaultDownloadDir                = "~/downloads/books"
	defaultEbookDir                   = "~/library/ebooks"
	defaultHTTPTimeoutSeconds         = 30
	defaultHTTPExtTimeoutSeconds      = 90
	defaultUserAgent                  = "bookbag/0.1"
	defaultProviderCooldownSeconds    = 3600
	defaultRequestsPerSecond          = 1.0
	defaultSearchRatio                = 80
	defaultDownloadRatio              = 90
	defaultLibraryRatio               = 80
	defaultEbookDestFolder            = "$Author/$Title"
	defaultEbookDestFile              = "$Title - $Author"
	defaultAudioDestFolder            = "$Author/$Title"
	defaultAudioDestFile              = "$Author - $Title Part $Part of $Total"
	defaultFilePerm                   = "0o644"
	defaultDirPerm                    = "0o755"
	defaultRetentionHours             = 72
	defaultBackoffBaseMinutes         = 360
	defaultBackoffMaxHours            = 168
	defaultSearchIntervalMinutes      = 360
	defaultRSSIntervalMinutes         = 20
	defaultPostprocessIntervalMinutes = 10
	defaultReconcileIntervalMinutes   = 5
	defaultLibraryScanIntervalHours   = 24
	defaultLogFormat                  = "console"
	defaultLogLevel                   = "info"
	defaultLogRetentionDays           = 30
	defaultMetricsBind                = "127.0.0.1:9417"
	defaultNotifyRequestTimeout       = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			LogDir:      defaultLogDir,
			DownloadDir: defaultDownloadDir,
			EbookDir:    defaultEbookDir,
		},
		HTTP: HTTP{
			TimeoutSeconds:         defaultHTTPTimeoutSeconds,
			ExtendedTimeoutSeconds: defaultHTTPExtTimeoutSeconds,
			UserAgent:              defaultUserAgent,
		},
		Search: Search{
			ProviderCooldownSeconds: defaultProviderCooldownSeconds,
			ProviderTimeoutSeconds:  defaultHTTPTimeoutSeconds,
			RequestsPerSecond:       defaultRequestsPerSecond,
		},
		Match: Match{
			SearchRatio:   defaultSearchRatio,
			DownloadRatio: defaultDownloadRatio,
			LibraryRatio:  defaultLibraryRatio,
		},
		FileTypes: FileTypes{
			EbookTypes:        []string{"epub", "mobi", "pdf"},
			AudioTypes:        []string{"mp3", "m4a", "m4b"},
			MagazineTypes:     []string{"pdf", "epub"},
			RejectWords:       []string{"audiobook", "mp3"},
			RejectAudioWords:  []string{"epub", "mobi"},
			BannedExtensions:  []string{"avi", "mp4", "mov", "iso", "m4v"},
			SkippedExtensions: []string{"fail", "part", "bts", "!ut", "torrent", "magnet", "nzb", "unpack"},
		},
		Postprocess: Postprocess{
			EbookDestFolder: defaultEbookDestFolder,
			EbookDestFile:   defaultEbookDestFile,
			AudioDestFolder: defaultAudioDestFolder,
			AudioDestFile:   defaultAudioDestFile,
			FilePerm:        defaultFilePerm,
			DirPerm:         defaultDirPerm,
			WriteOPF:        true,
		},
		Acquisition: Acquisition{
			BlacklistFailed:    true,
			RetentionHours:     defaultRetentionHours,
			BackoffBaseMinutes: defaultBackoffBaseMinutes,
			BackoffMaxHours:    defaultBackoffMaxHours,
		},
		Torrent: Torrent{
			SeedWait:     true,
			KeepSeeding:  true,
			PreferMagnet: true,
		},
		Scheduler: Scheduler{
			SearchIntervalMinutes:      defaultSearchIntervalMinutes,
			RSSIntervalMinutes:         defaultRSSIntervalMinutes,
			PostprocessIntervalMinutes: defaultPostprocessIntervalMinutes,
			ReconcileIntervalMinutes:   defaultReconcileIntervalMinutes,
			LibraryScanIntervalHours:   defaultLibraryScanIntervalHours,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Snatched:       true,
			Processed:      true,
			Failed:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Metrics: Metrics{
			Bind: defaultMetricsBind,
		},
	}
}
