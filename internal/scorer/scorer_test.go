package scorer

import (
	"testing"

	"bookbag/internal/provider"
	"bookbag/internal/store"
	"bookbag/internal/testsupport"
)

func result(title string) provider.SearchResult {
	return provider.SearchResult{
		Kind:     store.KindEbook,
		Title:    title,
		Provider: "Indexer",
		Size:     provider.DefaultSize,
		Date:     provider.DefaultDate,
		URL:      "http://indexer.example/" + title,
		Mode:     store.ModeNZB,
	}
}

func TestScoreKeepsRelevantTitles(t *testing.T) {
	term := "Kondo Marie tidying up"
	results := []provider.SearchResult{
		result("Marie Kondo - The Life-Changing Magic of Tidying Up"),
		result("Unrelated Cookbook"),
	}
	scored := Score(term, results, Policy{Threshold: 40})
	if len(scored) != 1 {
		t.Fatalf("expected one result, got %+v", scored)
	}
	if scored[0].Title != results[0].Title {
		t.Fatalf("unexpected survivor %q", scored[0].Title)
	}
	if scored[0].Score != 95 {
		t.Fatalf("expected score 95, got %d", scored[0].Score)
	}
}

func TestScoreWithinThresholdBounds(t *testing.T) {
	titles := []string{
		"Dune",
		"Frank Herbert - Dune",
		"Dune Messiah",
		"Children of Dune",
		"dune_frank_herbert_epub",
		"A Completely Different Book",
	}
	results := make([]provider.SearchResult, 0, len(titles))
	for _, title := range titles {
		results = append(results, result(title))
	}
	for _, threshold := range []int{0, 40, 60, 90} {
		for _, scored := range Score("Frank Herbert Dune", results, Policy{Threshold: threshold}) {
			if scored.Score < threshold || scored.Score > 100 {
				t.Fatalf("threshold %d: score %d out of range for %q", threshold, scored.Score, scored.Title)
			}
		}
	}
	if got := len(Score("Frank Herbert Dune", results, Policy{})); got != len(titles) {
		t.Fatalf("threshold 0 should keep all well-formed results, kept %d", got)
	}
}

func TestScoreDropsMalformed(t *testing.T) {
	missingURL := result("Dune")
	missingURL.URL = ""
	missingMode := result("Dune")
	missingMode.Mode = ""
	missingProvider := result("Dune")
	missingProvider.Provider = " "
	missingTitle := result("")

	scored := Score("Dune", []provider.SearchResult{missingURL, missingMode, missingProvider, missingTitle, result("Dune")}, Policy{})
	if len(scored) != 1 {
		t.Fatalf("expected only the well-formed result, got %+v", scored)
	}
}

func TestRejectWordsAndSizes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.FileTypes.RejectMinSizeMB = 1
	cfg.FileTypes.RejectMaxSizeMB = 50
	policy := PolicyFor(cfg, store.KindEbook, 0)

	audiobook := result("Dune Audiobook")
	tooBig := result("Dune Deluxe")
	tooBig.Size = 60 << 20
	tooSmall := result("Dune Tiny")
	tooSmall.Size = 100
	unknownSize := result("Dune Unknown")
	fine := result("Dune Fine")
	fine.Size = 2 << 20

	scored := Score("Dune", []provider.SearchResult{audiobook, tooBig, tooSmall, unknownSize, fine}, policy)
	kept := map[string]bool{}
	for _, s := range scored {
		kept[s.Title] = true
	}
	if len(kept) != 2 || !kept["Dune Unknown"] || !kept["Dune Fine"] {
		t.Fatalf("unexpected survivors %v", kept)
	}

	// A reject word that is part of the term is ignored.
	scored = Score("MP3 Guide", []provider.SearchResult{result("The MP3 Guide")}, policy)
	if len(scored) != 1 {
		t.Fatalf("reject word in term should not reject, got %+v", scored)
	}

	audioPolicy := PolicyFor(cfg, store.KindAudio, 0)
	if got := Score("Dune", []provider.SearchResult{result("Dune epub")}, audioPolicy); len(got) != 0 {
		t.Fatalf("audio policy should reject epub titles, got %+v", got)
	}
}

func TestSortByScoreUsesPriorityForTies(t *testing.T) {
	low := Scored{SearchResult: provider.SearchResult{Title: "low", Priority: 1}, Score: 90}
	high := Scored{SearchResult: provider.SearchResult{Title: "high", Priority: 5}, Score: 90}
	best := Scored{SearchResult: provider.SearchResult{Title: "best", Priority: 0}, Score: 99}
	results := []Scored{low, high, best}
	SortByScore(results)
	if results[0].Title != "best" || results[1].Title != "high" || results[2].Title != "low" {
		t.Fatalf("unexpected order %v %v %v", results[0].Title, results[1].Title, results[2].Title)
	}
}
