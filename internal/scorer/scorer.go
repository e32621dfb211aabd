// Package scorer ranks provider results against a search term.
package scorer

import (
	"sort"
	"strings"

	"bookbag/internal/config"
	"bookbag/internal/metrics"
	"bookbag/internal/provider"
	"bookbag/internal/store"
	"bookbag/internal/textutil"
)

const megabyte = 1 << 20

// Scored is a result with its match score.
type Scored struct {
	provider.SearchResult
	Score int
}

// Policy controls which results survive scoring. Zero values disable the
// corresponding check.
type Policy struct {
	Threshold   int
	RejectWords []string
	MinSizeMB   int
	MaxSizeMB   int
}

// PolicyFor builds the policy for kind from the filetypes section.
func PolicyFor(cfg *config.Config, kind store.Kind, threshold int) Policy {
	policy := Policy{Threshold: threshold}
	if kind == store.KindAudio {
		policy.RejectWords = cfg.FileTypes.RejectAudioWords
		policy.MinSizeMB = cfg.FileTypes.RejectMinAudioMB
		policy.MaxSizeMB = cfg.FileTypes.RejectMaxAudioMB
		return policy
	}
	policy.RejectWords = cfg.FileTypes.RejectWords
	policy.MinSizeMB = cfg.FileTypes.RejectMinSizeMB
	policy.MaxSizeMB = cfg.FileTypes.RejectMaxSizeMB
	return policy
}

// ScoreTitle returns the match score of title against term: the token set
// ratio minus the difference in word counts.
func ScoreTitle(term, title string) int {
	title = strings.ReplaceAll(title, "_", " ")
	score := textutil.TokenSetRatio(term, title)
	diff := len(textutil.Words(term)) - len(textutil.Words(title))
	if diff < 0 {
		diff = -diff
	}
	score -= diff
	if score < 0 {
		return 0
	}
	return score
}

// Score scores every result against term and drops malformed, rejected and
// below-threshold entries. Output order is unspecified; see SortByScore.
func Score(term string, results []provider.SearchResult, policy Policy) []Scored {
	rejects := activeRejectWords(term, policy.RejectWords)
	out := make([]Scored, 0, len(results))
	for _, result := range results {
		if !result.Valid() {
			continue
		}
		if rejected(result.Title, rejects) || !sizeAllowed(result.Size, policy) {
			continue
		}
		score := ScoreTitle(term, result.Title)
		if policy.Threshold > 0 && score < policy.Threshold {
			continue
		}
		out = append(out, Scored{SearchResult: result, Score: score})
	}
	for _, scored := range out {
		metrics.SearchResults.WithLabelValues(string(scored.Kind)).Inc()
	}
	return out
}

// SortByScore orders results best first. Equal scores fall back to provider
// priority, higher first.
func SortByScore(results []Scored) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Priority > results[j].Priority
	})
}

// activeRejectWords drops reject words the term itself contains, so a book
// titled "The MP3 Guide" can still be found.
func activeRejectWords(term string, words []string) []string {
	processedTerm := " " + textutil.Process(term) + " "
	out := make([]string, 0, len(words))
	for _, word := range words {
		processed := textutil.Process(word)
		if processed == "" || strings.Contains(processedTerm, " "+processed+" ") {
			continue
		}
		out = append(out, processed)
	}
	return out
}

func rejected(title string, words []string) bool {
	return firstRejectWord(title, words) != ""
}

func firstRejectWord(title string, words []string) string {
	if len(words) == 0 {
		return ""
	}
	processed := " " + textutil.Process(strings.ReplaceAll(title, "_", " ")) + " "
	for _, word := range words {
		if strings.Contains(processed, " "+word+" ") {
			return word
		}
	}
	return ""
}

// RejectWordIn returns the first of the policy's reject words found as a
// whole word in name, or "". Words that appear in term are ignored.
func RejectWordIn(term, name string, policy Policy) string {
	return firstRejectWord(name, activeRejectWords(term, policy.RejectWords))
}

// sizeAllowed applies the min/max bounds. Results carrying the placeholder
// size are not held to the minimum.
func sizeAllowed(size int64, policy Policy) bool {
	if policy.MaxSizeMB > 0 && size > int64(policy.MaxSizeMB)*megabyte {
		return false
	}
	if policy.MinSizeMB > 0 && size != provider.DefaultSize && size < int64(policy.MinSizeMB)*megabyte {
		return false
	}
	return true
}
