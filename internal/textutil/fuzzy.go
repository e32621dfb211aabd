package textutil

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Ratio returns the 0-100 similarity of two already-processed strings, based
// on the longest common subsequence (insertions and deletions cost one,
// substitutions two). Either side empty yields 0.
func Ratio(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	lcs := longestCommonSubsequence(ra, rb)
	return int(math.Round(100 * float64(2*lcs) / float64(len(ra)+len(rb))))
}

func longestCommonSubsequence(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// Process lowercases text, folds accents, and collapses every run of
// non-alphanumeric characters into a single space.
func Process(text string) string {
	folded := FoldAccents(text)
	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// TokenSetRatio compares the unique word sets of a and b: the shared words
// are compared against each side's shared-plus-remaining words and the best
// of the three pairings wins. Word order and repetition are ignored.
func TokenSetRatio(a, b string) int {
	pa, pb := Process(a), Process(b)
	if pa == "" || pb == "" {
		return 0
	}
	setA := tokenSet(pa)
	setB := tokenSet(pb)

	var shared, onlyA, onlyB []string
	for token := range setA {
		if _, ok := setB[token]; ok {
			shared = append(shared, token)
		} else {
			onlyA = append(onlyA, token)
		}
	}
	for token := range setB {
		if _, ok := setA[token]; !ok {
			onlyB = append(onlyB, token)
		}
	}
	sort.Strings(shared)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	sect := strings.Join(shared, " ")
	combinedA := strings.TrimSpace(sect + " " + strings.Join(onlyA, " "))
	combinedB := strings.TrimSpace(sect + " " + strings.Join(onlyB, " "))

	return max(Ratio(sect, combinedA), Ratio(sect, combinedB), Ratio(combinedA, combinedB))
}

// TokenSortRatio compares a and b after sorting their words.
func TokenSortRatio(a, b string) int {
	return Ratio(sortedTokens(Process(a)), sortedTokens(Process(b)))
}

// Words splits text into words on whitespace, commas and plus signs.
func Words(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == '+'
	})
}

func tokenSet(processed string) map[string]struct{} {
	fields := strings.Fields(processed)
	set := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		set[field] = struct{}{}
	}
	return set
}

func sortedTokens(processed string) string {
	fields := strings.Fields(processed)
	sort.Strings(fields)
	return strings.Join(fields, " ")
}
