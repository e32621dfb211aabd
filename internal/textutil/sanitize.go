package textutil

import (
	"strings"
	"unicode"
)

// SanitizeFileName makes name safe as a single path segment on common
// filesystems and SMB shares. Separators and colons become dashes, shell and
// Windows reserved characters and control runes are dropped, runs of spaces
// collapse, and leading or trailing dots are trimmed.
func SanitizeFileName(name string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r):
			return -1
		case strings.ContainsRune(`/\:*`, r):
			return '-'
		case strings.ContainsRune(`?"<>|`, r):
			return -1
		}
		return r
	}, name)
	out = strings.Join(strings.Fields(out), " ")
	return strings.Trim(out, ". ")
}
