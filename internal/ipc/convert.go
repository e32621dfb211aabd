package ipc

import (
	"fmt"

	"bookbag/internal/daemon"
	"bookbag/internal/scorer"
	"bookbag/internal/store"
)

func fromScored(r scorer.Scored) SearchResult {
	return SearchResult{
		Title:    r.Title,
		Provider: r.Provider,
		Size:     r.Size,
		Date:     r.Date,
		URL:      r.URL,
		Mode:     r.Mode,
		Score:    r.Score,
	}
}

func fromItem(item *store.CatalogItem) Item {
	if item == nil {
		return Item{}
	}
	return Item{
		ID:          item.ID,
		Title:       item.Title,
		Author:      item.AuthorName,
		ISBN:        item.ISBN,
		Language:    item.Language,
		EbookStatus: string(item.EbookStatus),
		AudioStatus: string(item.AudioStatus),
		EbookPath:   item.EbookPath,
		AudioPath:   item.AudioPath,
	}
}

func fromWanted(entry *store.WantedEntry) WantedEntry {
	return WantedEntry{
		URL:         entry.URL,
		Provider:    entry.Provider,
		Title:       entry.Title,
		Size:        entry.Size,
		ItemID:      entry.ItemID,
		Kind:        string(entry.Kind),
		Client:      entry.ClientName,
		DownloadID:  entry.DownloadID,
		Phase:       string(entry.Phase),
		Message:     entry.Message,
		Mode:        entry.Mode,
		SubmittedAt: entry.SubmittedAt,
		UpdatedAt:   entry.UpdatedAt,
	}
}

func fromBlacklist(entry *store.BlacklistEntry) BlacklistEntry {
	return BlacklistEntry{
		ID:        entry.ID,
		URL:       entry.URL,
		Provider:  entry.Provider,
		Title:     entry.Title,
		Reason:    string(entry.Reason),
		ItemID:    entry.ItemID,
		Kind:      string(entry.Kind),
		CreatedAt: entry.CreatedAt,
	}
}

func fromUnmatched(file *store.UnmatchedFile) UnmatchedFile {
	return UnmatchedFile{
		FileID:    file.FileID,
		Path:      file.Path,
		FileName:  file.FileName,
		Kind:      string(file.LibraryKind),
		Author:    file.AuthorGuess,
		Title:     file.TitleGuess,
		ISBN:      file.ISBNGuess,
		ScanCount: file.ScanCount,
		Status:    string(file.Status),
		MatchedTo: file.MatchedItemID,
		Notes:     file.Notes,
		LastSeen:  file.LastSeen,
	}
}

func fromStatus(status daemon.Status, resp *StatusResponse) {
	resp.Running = status.Running
	resp.DatabasePath = status.DatabasePath
	resp.LockPath = status.LockFilePath
	resp.Unmatched = status.Unmatched
	resp.Wanted = make(map[string]int, len(status.Wanted))
	for phase, count := range status.Wanted {
		resp.Wanted[string(phase)] = count
	}
	resp.Jobs = make([]JobStatus, 0, len(status.Jobs))
	for _, job := range status.Jobs {
		resp.Jobs = append(resp.Jobs, JobStatus{
			Name:           job.Name,
			IntervalSecs:   int64(job.Interval.Seconds()),
			Running:        job.Running,
			Pending:        job.Pending,
			Runs:           job.Runs,
			LastStart:      job.LastStart,
			LastDurationMs: job.LastDuration.Milliseconds(),
			LastError:      job.LastError,
			NextRun:        job.NextRun,
		})
	}
	resp.Providers = make([]ProviderStatus, 0, len(status.Providers))
	for _, p := range status.Providers {
		resp.Providers = append(resp.Providers, ProviderStatus{
			Name:           p.Name,
			Label:          p.Label,
			Family:         string(p.Family),
			Host:           p.Host,
			CooldownUntil:  p.CooldownUntil,
			CooldownReason: p.CooldownReason,
			UsedToday:      p.UsedToday,
			APILimit:       p.APILimit,
		})
	}
	resp.Clients = make([]ClientStatus, 0, len(status.Clients))
	for _, c := range status.Clients {
		resp.Clients = append(resp.Clients, ClientStatus{Name: c.Name, Protocol: string(c.Protocol)})
	}
}

func parseKind(value string, fallback store.Kind) (store.Kind, error) {
	if value == "" {
		return fallback, nil
	}
	kind, ok := store.ParseKind(value)
	if !ok {
		return "", fmt.Errorf("unknown kind %q", value)
	}
	return kind, nil
}

func parseStatuses(values []string) ([]store.Status, error) {
	statuses := make([]store.Status, 0, len(values))
	for _, value := range values {
		status, ok := store.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
