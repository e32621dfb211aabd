package store

import (
	"strings"
	"time"
)

// Kind is the media kind code used throughout acquisition.
type Kind string

const (
	KindEbook    Kind = "E"
	KindAudio    Kind = "A"
	KindMagazine Kind = "M"
)

// ParseKind accepts codes and common names ("ebook", "audio", "audiobook").
func ParseKind(value string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "e", "ebook", "book":
		return KindEbook, true
	case "a", "audio", "audiobook":
		return KindAudio, true
	case "m", "magazine", "mag":
		return KindMagazine, true
	}
	return "", false
}

// Label returns the human-readable kind name.
func (k Kind) Label() string {
	switch k {
	case KindAudio:
		return "audiobook"
	case KindMagazine:
		return "magazine"
	default:
		return "ebook"
	}
}

// Download modes recorded on search results and wanted entries.
const (
	ModeNZB     = "nzb"
	ModeTorrent = "torrent"
	ModeMagnet  = "magnet"
	ModeDirect  = "direct"
)

// Status is a catalog item's per-kind lifecycle state and also the phase of
// a wanted entry.
type Status string

const (
	StatusWanted    Status = "Wanted"
	StatusSnatched  Status = "Snatched"
	StatusProcessed Status = "Processed"
	StatusFailed    Status = "Failed"
	StatusSkipped   Status = "Skipped"
	StatusIgnored   Status = "Ignored"
	StatusHave      Status = "Have"
	StatusOpen      Status = "Open"
)

var allStatuses = []Status{
	StatusWanted, StatusSnatched, StatusProcessed, StatusFailed,
	StatusSkipped, StatusIgnored, StatusHave, StatusOpen,
}

// ParseStatus matches a status name case-insensitively.
func ParseStatus(value string) (Status, bool) {
	value = strings.TrimSpace(value)
	for _, status := range allStatuses {
		if strings.EqualFold(value, string(status)) {
			return status, true
		}
	}
	return "", false
}

// Reason explains why a URL was blacklisted.
type Reason string

const (
	ReasonFailed              Reason = "Failed"
	ReasonTypeMismatch        Reason = "TypeMismatch"
	ReasonUnsupportedFileType Reason = "UnsupportedFileType"
	ReasonUserBlacklisted     Reason = "UserBlacklisted"
	ReasonProcessed           Reason = "Processed"
	ReasonCancelled           Reason = "Cancelled"
)

// UnmatchedStatus tracks operator review of a library file.
type UnmatchedStatus string

const (
	UnmatchedPending UnmatchedStatus = "Unmatched"
	UnmatchedMatched UnmatchedStatus = "Matched"
	UnmatchedIgnored UnmatchedStatus = "Ignored"
)

// ParseUnmatchedStatus matches an unmatched review status case-insensitively.
// "pending" is accepted for Unmatched.
func ParseUnmatchedStatus(value string) (UnmatchedStatus, bool) {
	value = strings.TrimSpace(value)
	for _, status := range []UnmatchedStatus{UnmatchedPending, UnmatchedMatched, UnmatchedIgnored} {
		if strings.EqualFold(value, string(status)) {
			return status, true
		}
	}
	if strings.EqualFold(value, "pending") {
		return UnmatchedPending, true
	}
	return "", false
}

// CatalogItem is a book the user tracks, with one status per media kind.
type CatalogItem struct {
	ID          string
	Title       string
	Subtitle    string
	AuthorName  string
	Language    string
	ISBN        string
	EbookStatus Status
	AudioStatus Status
	EbookPath   string
	AudioPath   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StatusFor returns the status for the given kind. Magazines share the ebook column.
func (c CatalogItem) StatusFor(kind Kind) Status {
	if kind == KindAudio {
		return c.AudioStatus
	}
	return c.EbookStatus
}

// PathFor returns the library path for the given kind.
func (c CatalogItem) PathFor(kind Kind) string {
	if kind == KindAudio {
		return c.AudioPath
	}
	return c.EbookPath
}

// WantedEntry records a submission to a download client, keyed by URL.
type WantedEntry struct {
	URL         string
	Provider    string
	Title       string
	Size        int64
	SubmittedAt time.Time
	ItemID      string
	Kind        Kind
	ClientName  string
	DownloadID  string
	Phase       Status
	Message     string
	Mode        string
	UpdatedAt   time.Time
}

// BlacklistEntry suppresses a URL from future searches. Empty ItemID means the
// entry applies to every item.
type BlacklistEntry struct {
	ID        int64
	URL       string
	Provider  string
	Title     string
	Reason    Reason
	ItemID    string
	Kind      Kind
	AuxInfo   string
	CreatedAt time.Time
}

// Scoped reports whether the entry only applies to one item and kind.
func (b BlacklistEntry) Scoped() bool { return b.ItemID != "" }

// FailedSearch counts consecutive searches that produced nothing usable.
type FailedSearch struct {
	ItemID          string
	Kind            Kind
	Count           int
	IntervalMinutes int
	LastAttempt     time.Time
}

// UnmatchedFile is a library file that could not be tied to a catalog item.
type UnmatchedFile struct {
	FileID        string
	Path          string
	FileName      string
	Extension     string
	Size          int64
	LibraryKind   Kind
	AuthorGuess   string
	TitleGuess    string
	ISBNGuess     string
	LanguageGuess string
	ScanCount     int
	Status        UnmatchedStatus
	MatchedItemID string
	Notes         string
	FirstSeen     time.Time
	LastSeen      time.Time
}

// ProviderUsage is one provider's API call count for a local day.
type ProviderUsage struct {
	Name  string
	Day   string
	Count int
}
