package ipc

import "time"

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// JobStatus describes one scheduled job.
type JobStatus struct {
	Name           string    `json:"name"`
	IntervalSecs   int64     `json:"interval_seconds"`
	Running        bool      `json:"running"`
	Pending        bool      `json:"pending"`
	Runs           int       `json:"runs"`
	LastStart      time.Time `json:"last_start"`
	LastDurationMs int64     `json:"last_duration_ms"`
	LastError      string    `json:"last_error"`
	NextRun        time.Time `json:"next_run"`
}

// ProviderStatus describes one enabled provider.
type ProviderStatus struct {
	Name           string    `json:"name"`
	Label          string    `json:"label"`
	Family         string    `json:"family"`
	Host           string    `json:"host"`
	CooldownUntil  time.Time `json:"cooldown_until"`
	CooldownReason string    `json:"cooldown_reason"`
	UsedToday      int       `json:"used_today"`
	APILimit       int       `json:"api_limit"`
}

// ClientStatus describes one enabled download client.
type ClientStatus struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
}

// StatusResponse represents combined daemon, scheduler and pipeline state.
type StatusResponse struct {
	Running      bool             `json:"running"`
	PID          int              `json:"pid"`
	DatabasePath string           `json:"database_path"`
	LockPath     string           `json:"lock_path"`
	Jobs         []JobStatus      `json:"jobs"`
	Providers    []ProviderStatus `json:"providers"`
	Clients      []ClientStatus   `json:"clients"`
	Wanted       map[string]int   `json:"wanted"`
	Unmatched    int              `json:"unmatched"`
}

// Item mirrors a catalog item.
type Item struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	ISBN        string `json:"isbn"`
	Language    string `json:"language"`
	EbookStatus string `json:"ebook_status"`
	AudioStatus string `json:"audio_status"`
	EbookPath   string `json:"ebook_path"`
	AudioPath   string `json:"audio_path"`
}

// ItemAddRequest creates a catalog item wanted for the listed kinds.
type ItemAddRequest struct {
	Title    string   `json:"title"`
	Author   string   `json:"author"`
	ISBN     string   `json:"isbn"`
	Language string   `json:"language"`
	Kinds    []string `json:"kinds"`
}

// ItemAddResponse returns the stored item.
type ItemAddResponse struct {
	Item Item `json:"item"`
}

// ItemListRequest filters catalog items by kind and status.
type ItemListRequest struct {
	Kind     string   `json:"kind"`
	Statuses []string `json:"statuses"`
}

// ItemListResponse contains catalog items.
type ItemListResponse struct {
	Items []Item `json:"items"`
}

// SearchRequest runs an interactive search for one item.
type SearchRequest struct {
	ItemID string `json:"item_id"`
	Kind   string `json:"kind"`
}

// SearchResponse reports the search outcome.
type SearchResponse struct {
	Snatched   bool      `json:"snatched"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	Provider   string    `json:"provider"`
	Score      int       `json:"score"`
	Candidates int       `json:"candidates"`
	Deferred   bool      `json:"deferred"`
	NextSearch time.Time `json:"next_search"`
	Reason     string    `json:"reason"`
	Errors     []string  `json:"errors"`
}

// SearchResult mirrors one scored provider result.
type SearchResult struct {
	Title    string `json:"title"`
	Provider string `json:"provider"`
	Size     int64  `json:"size"`
	Date     string `json:"date"`
	URL      string `json:"url"`
	Mode     string `json:"mode"`
	Score    int    `json:"score"`
}

// ManualSearchRequest lists results for one item without snatching.
type ManualSearchRequest struct {
	ItemID string `json:"item_id"`
	Kind   string `json:"kind"`
}

// ManualSearchResponse contains every result, best first.
type ManualSearchResponse struct {
	Term    string         `json:"term"`
	Results []SearchResult `json:"results"`
	Errors  []string       `json:"errors"`
}

// SnatchRequest submits a result chosen from a manual search.
type SnatchRequest struct {
	ItemID string `json:"item_id"`
	Kind   string `json:"kind"`
	URL    string `json:"url"`
}

// SnatchResponse describes the submitted result.
type SnatchResponse struct {
	Result SearchResult `json:"result"`
}

// WantedEntry mirrors one acquisition attempt.
type WantedEntry struct {
	URL         string    `json:"url"`
	Provider    string    `json:"provider"`
	Title       string    `json:"title"`
	Size        int64     `json:"size"`
	ItemID      string    `json:"item_id"`
	Kind        string    `json:"kind"`
	Client      string    `json:"client"`
	DownloadID  string    `json:"download_id"`
	Phase       string    `json:"phase"`
	Message     string    `json:"message"`
	Mode        string    `json:"mode"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WantedListRequest filters wanted entries by phase.
type WantedListRequest struct {
	Phases []string `json:"phases"`
}

// WantedListResponse contains wanted entries.
type WantedListResponse struct {
	Entries []WantedEntry `json:"entries"`
}

// WantedClearRequest purges Processed and Failed entries older than the given age.
type WantedClearRequest struct {
	OlderThanHours int `json:"older_than_hours"`
}

// WantedClearResponse reports how many entries were removed.
type WantedClearResponse struct {
	Removed int64 `json:"removed"`
}

// BlacklistEntry mirrors one blacklist row.
type BlacklistEntry struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Provider  string    `json:"provider"`
	Title     string    `json:"title"`
	Reason    string    `json:"reason"`
	ItemID    string    `json:"item_id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// BlacklistListRequest lists the blacklist.
type BlacklistListRequest struct{}

// BlacklistListResponse contains blacklist rows.
type BlacklistListResponse struct {
	Entries []BlacklistEntry `json:"entries"`
}

// BlacklistAddRequest blacklists a URL globally.
type BlacklistAddRequest struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// BlacklistAddResponse is empty.
type BlacklistAddResponse struct{}

// BlacklistRemoveRequest deletes one blacklist row.
type BlacklistRemoveRequest struct {
	ID int64 `json:"id"`
}

// BlacklistRemoveResponse reports whether a row was deleted.
type BlacklistRemoveResponse struct {
	Removed bool `json:"removed"`
}

// UnmatchedFile mirrors one unmatched library file.
type UnmatchedFile struct {
	FileID    string    `json:"file_id"`
	Path      string    `json:"path"`
	FileName  string    `json:"file_name"`
	Kind      string    `json:"kind"`
	Author    string    `json:"author"`
	Title     string    `json:"title"`
	ISBN      string    `json:"isbn"`
	ScanCount int       `json:"scan_count"`
	Status    string    `json:"status"`
	MatchedTo string    `json:"matched_to"`
	Notes     string    `json:"notes"`
	LastSeen  time.Time `json:"last_seen"`
}

// UnmatchedListRequest filters unmatched files by review status.
type UnmatchedListRequest struct {
	Statuses []string `json:"statuses"`
}

// UnmatchedListResponse contains unmatched files.
type UnmatchedListResponse struct {
	Files []UnmatchedFile `json:"files"`
}

// UnmatchedIgnoreRequest hides one unmatched file.
type UnmatchedIgnoreRequest struct {
	FileID string `json:"file_id"`
}

// UnmatchedIgnoreResponse is empty.
type UnmatchedIgnoreResponse struct{}

// Candidate is a catalog item that may match an unmatched file.
type Candidate struct {
	Item  Item `json:"item"`
	Score int  `json:"score"`
}

// UnmatchedCandidatesRequest lists match candidates for one file.
type UnmatchedCandidatesRequest struct {
	FileID string `json:"file_id"`
}

// UnmatchedCandidatesResponse contains candidates, best first.
type UnmatchedCandidatesResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// UnmatchedMatchRequest links a file to a catalog item.
type UnmatchedMatchRequest struct {
	FileID string `json:"file_id"`
	ItemID string `json:"item_id"`
}

// UnmatchedMatchResponse is empty.
type UnmatchedMatchResponse struct{}

// ClearDelayRequest resets an item's search backoff.
type ClearDelayRequest struct {
	ItemID string `json:"item_id"`
	Kind   string `json:"kind"`
}

// ClearDelayResponse is empty.
type ClearDelayResponse struct{}

// CancelRequest aborts a snatched download.
type CancelRequest struct {
	URL string `json:"url"`
}

// CancelResponse is empty.
type CancelResponse struct{}

// JobTriggerRequest queues an immediate job run.
type JobTriggerRequest struct {
	Name string `json:"name"`
}

// JobTriggerResponse is empty.
type JobTriggerResponse struct{}

// PostprocessRunRequest processes downloads now.
type PostprocessRunRequest struct{}

// PostprocessRunResponse totals the pass.
type PostprocessRunResponse struct {
	Checked   int `json:"checked"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Unmatched int `json:"unmatched"`
	Pending   int `json:"pending"`
}

// LibraryScanRequest scans the library now.
type LibraryScanRequest struct{}

// LibraryScanResponse totals the scan.
type LibraryScanResponse struct {
	Books     int `json:"books"`
	Known     int `json:"known"`
	Linked    int `json:"linked"`
	Unmatched int `json:"unmatched"`
	Pruned    int `json:"pruned"`
}

// ProviderUsageRequest lists today's provider API usage.
type ProviderUsageRequest struct{}

// ProviderUsage is one provider's call count.
type ProviderUsage struct {
	Name  string `json:"name"`
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// ProviderUsageResponse contains usage rows.
type ProviderUsageResponse struct {
	Usage []ProviderUsage `json:"usage"`
}
