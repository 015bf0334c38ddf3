// Package sections turns raw generative-model output into an ordered list of
// titled sections suitable for display and editing.
package sections

import (
	"fmt"
	"log/slog"
	"strings"
)

// Fallback identifiers used when no structure is detected in the input.
const (
	FallbackID    = "main"
	FallbackTitle = "Content"
)

// Section is one titled block of normalized content.
type Section struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Assemble cleans raw model output and splits it into sections. It tries
// structured JSON first and falls back to heading heuristics. The result is
// never empty.
func Assemble(raw string) (out []Section) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("section assembly panicked, using fallback", "panic", r)
			out = []Section{fallback(raw)}
		}
	}()

	cleaned := Clean(raw)
	if secs, ok := ExtractStructured(cleaned); ok {
		return uniqueIDs(secs)
	}
	return uniqueIDs(SplitHeuristically(cleaned))
}

// AssembleDelimited is Assemble for call sites that ask the model for
// ###NAME### delimited blocks. Input without delimited blocks goes through
// the regular Assemble path.
func AssembleDelimited(raw string) (out []Section) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("delimited assembly panicked, using fallback", "panic", r)
			out = []Section{fallback(raw)}
		}
	}()

	if secs, ok := ExtractDelimited(Clean(raw)); ok {
		return uniqueIDs(secs)
	}
	return Assemble(raw)
}

func fallback(text string) Section {
	content := ""
	func() {
		defer func() { _ = recover() }()
		content = StripMarkdown(Clean(text))
	}()
	return Section{ID: FallbackID, Title: FallbackTitle, Content: content}
}

// uniqueIDs suffixes repeated ids so every id in the result is distinct.
func uniqueIDs(secs []Section) []Section {
	used := make(map[string]bool, len(secs))
	for i := range secs {
		base := secs[i].ID
		if base == "" {
			base = fmt.Sprintf("section-%d", i)
		}
		id := base
		for n := 2; used[id]; n++ {
			id = fmt.Sprintf("%s-%d", base, n)
		}
		used[id] = true
		secs[i].ID = id
	}
	return secs
}

// Titles returns the titles of secs in order.
func Titles(secs []Section) []string {
	out := make([]string, len(secs))
	for i, s := range secs {
		out[i] = s.Title
	}
	return out
}

func trimTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ":")
	return strings.TrimSpace(s)
}
