// Package search implements case-insensitive substring search over notes with
// highlighted context snippets.
package search

import (
	"context"
	"strings"
	"unicode"

	"github.com/starford/jotter/internal/models"
)

const (
	// ContextChars is the number of characters kept on each side of a match.
	ContextChars = 20
	// FallbackChars is the snippet length used when content has no match.
	FallbackChars = 40

	ellipsis = "..."
)

// Lister supplies notes in presentation order.
type Lister interface {
	List(ctx context.Context) ([]models.Note, error)
}

// Result is one search hit.
type Result struct {
	Note    models.Note `json:"note"`
	Snippet string      `json:"snippet"`
}

// Engine runs searches against a Lister.
type Engine struct {
	notes Lister
}

// New creates a search engine.
func New(notes Lister) *Engine {
	return &Engine{notes: notes}
}

// Search returns notes whose content or title contains query, ignoring case,
// in the order the Lister returns them. A blank query matches every note.
// limit <= 0 means no limit.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	notes, err := e.notes.List(ctx)
	if err != nil {
		return nil, err
	}

	blank := strings.TrimSpace(query) == ""
	q := []rune(query)
	out := make([]Result, 0)
	for _, n := range notes {
		if limit > 0 && len(out) >= limit {
			break
		}
		content := []rune(n.Content)
		if blank {
			out = append(out, Result{Note: n, Snippet: fallback(content)})
			continue
		}
		i := index(content, q)
		if i < 0 && (n.Title == nil || index([]rune(*n.Title), q) < 0) {
			continue
		}
		out = append(out, Result{Note: n, Snippet: snippetAt(content, i, len(q))})
	}
	return out, nil
}

// Snippet returns the part of content around the first case-insensitive
// occurrence of query, or the fallback snippet when there is none.
func Snippet(content, query string) string {
	c := []rune(content)
	q := []rune(query)
	if len(q) == 0 {
		return fallback(c)
	}
	return snippetAt(c, index(c, q), len(q))
}

func snippetAt(content []rune, i, qlen int) string {
	if i < 0 {
		return fallback(content)
	}
	start := max(0, i-ContextChars)
	end := min(len(content), i+qlen+ContextChars)

	var b strings.Builder
	if start > 0 {
		b.WriteString(ellipsis)
	}
	b.WriteString(string(content[start:end]))
	if end < len(content) {
		b.WriteString(ellipsis)
	}
	return b.String()
}

func fallback(content []rune) string {
	if len(content) <= FallbackChars {
		return string(content)
	}
	return string(content[:FallbackChars]) + ellipsis
}

// index returns the rune offset of the first case-insensitive occurrence of
// q in s, or -1. Runes are folded one by one so offsets in the folded and
// original text agree.
func index(s, q []rune) int {
	if len(q) > len(s) {
		return -1
	}
outer:
	for i := 0; i+len(q) <= len(s); i++ {
		for j, r := range q {
			if !equalFold(s[i+j], r) {
				continue outer
			}
		}
		return i
	}
	return -1
}

// equalFold compares lower-case mappings only. Runes that share an upper case
// but lower to different letters, such as ſ and s, do not match.
func equalFold(a, b rune) bool {
	return a == b || unicode.ToLower(a) == unicode.ToLower(b)
}
