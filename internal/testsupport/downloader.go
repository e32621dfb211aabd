package testsupport

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"bookbag/internal/downloader"
	"bookbag/internal/store"
)

// FakeClient is an in-memory download client. Set fields before use; the
// recorded calls are safe to read after the code under test returns.
type FakeClient struct {
	ClientName string
	Proto      downloader.Protocol
	SubmitErr  error
	// Percent and State are returned by Progress for every job.
	Percent int
	State   string
	Dir     string

	mu        sync.Mutex
	Submitted []downloader.Job
	Removed   []string
	next      int
}

// NewFakeClient returns a fake for protocol named name.
func NewFakeClient(name string, protocol downloader.Protocol) *FakeClient {
	return &FakeClient{ClientName: name, Proto: protocol}
}

func (f *FakeClient) Name() string                     { return f.ClientName }
func (f *FakeClient) Protocol() downloader.Protocol    { return f.Proto }
func (f *FakeClient) Validate() error                  { return nil }
func (f *FakeClient) IsSeedingState(state string) bool { return downloader.IsSeedingState(state) }

func (f *FakeClient) Submit(_ context.Context, job downloader.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}
	f.Submitted = append(f.Submitted, job)
	f.next++
	return fmt.Sprintf("job-%d", f.next), nil
}

func (f *FakeClient) Progress(context.Context, string) (int, string, error) {
	return f.Percent, f.State, nil
}

func (f *FakeClient) Folder(context.Context, string) (string, error) {
	return f.Dir, nil
}

func (f *FakeClient) Remove(_ context.Context, id string, _ bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Removed = append(f.Removed, id)
	return true, nil
}

// SubmittedJobs returns a copy of the submitted jobs.
func (f *FakeClient) SubmittedJobs() []downloader.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]downloader.Job(nil), f.Submitted...)
}

// RemovedIDs returns a copy of the removed job ids.
func (f *FakeClient) RemovedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Removed...)
}

// SnatchedEntry stores a Snatched wanted entry for item handled by client.
func SnatchedEntry(t testing.TB, st *store.Store, item *store.CatalogItem, kind store.Kind, url, client string) *store.WantedEntry {
	t.Helper()
	entry := &store.WantedEntry{
		URL:        url,
		Provider:   "Indexer",
		Title:      item.AuthorName + " - " + item.Title,
		Size:       1 << 20,
		ItemID:     item.ID,
		Kind:       kind,
		ClientName: client,
		DownloadID: "job-1",
		Phase:      store.StatusSnatched,
		Mode:       store.ModeNZB,
	}
	if err := st.UpsertWanted(context.Background(), entry); err != nil {
		t.Fatalf("store.UpsertWanted: %v", err)
	}
	if err := st.SetItemStatus(context.Background(), item.ID, kind, store.StatusSnatched); err != nil {
		t.Fatalf("store.SetItemStatus: %v", err)
	}
	return entry
}
