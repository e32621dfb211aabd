package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var titleCaser = cases.Title(language.English)

// FoldAccents strips combining marks so "Brontë" compares equal to "Bronte".
func FoldAccents(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}

// Normalize produces a comparison key: accents folded, lowercased,
// punctuation dropped, whitespace collapsed.
func Normalize(text string) string {
	return Process(text)
}

// TitleCase capitalises each word, used when a guess came from a lowercase
// file name.
func TitleCase(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}
	return titleCaser.String(text)
}

// IsUpperOrLower reports whether text contains letters of a single case only.
func IsUpperOrLower(text string) bool {
	return text == strings.ToLower(text) || text == strings.ToUpper(text)
}
