// Package summary derives the short preview stored alongside every note.
package summary

import "unicode/utf8"

const (
	// MaxChars is the number of characters kept when content is truncated.
	MaxChars = 100
	// Ellipsis marks truncated text.
	Ellipsis = "..."
)

// Derive returns content unchanged when it has fewer than MaxChars characters,
// otherwise its first MaxChars characters followed by Ellipsis.
//
// Characters are Unicode code points. A grapheme cluster made of several code
// points (a letter plus combining marks, a flag, a ZWJ emoji sequence) can be
// cut in the middle; no locale-aware boundary detection is attempted.
func Derive(content string) string {
	if utf8.RuneCountInString(content) < MaxChars {
		return content
	}
	n := 0
	for i := range content {
		if n == MaxChars {
			return content[:i] + Ellipsis
		}
		n++
	}
	return content + Ellipsis
}
