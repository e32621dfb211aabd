package testsupport

import (
	"context"
	"testing"

	"bookbag/internal/config"
	"bookbag/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewItem inserts a catalog item marked Wanted for kind.
func NewItem(t testing.TB, st *store.Store, title, author string, kind store.Kind) *store.CatalogItem {
	t.Helper()

	item := &store.CatalogItem{Title: title, AuthorName: author}
	if kind == store.KindAudio {
		item.AudioStatus = store.StatusWanted
	} else {
		item.EbookStatus = store.StatusWanted
	}
	if err := st.UpsertItem(context.Background(), item); err != nil {
		t.Fatalf("store.UpsertItem: %v", err)
	}
	return item
}
