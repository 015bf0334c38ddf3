package sections

import (
	"fmt"
	"regexp"
)

// Boundary marks one heading found in a text: the byte span of the heading
// line and the heading text itself.
type Boundary struct {
	Start int
	End   int
	Title string
}

// HeadingMatcher finds heading lines in prose. Matches must be returned in
// source order and must not overlap.
type HeadingMatcher interface {
	Match(text string) []Boundary
}

// RegexpMatcher is a HeadingMatcher backed by a regular expression. The
// heading title is the first non-empty capture group.
type RegexpMatcher struct {
	re *regexp.Regexp
}

// NewRegexpMatcher returns a matcher for re. The expression should consume
// the whole heading line including its trailing newline.
func NewRegexpMatcher(re *regexp.Regexp) *RegexpMatcher {
	return &RegexpMatcher{re: re}
}

func (m *RegexpMatcher) Match(text string) []Boundary {
	idx := m.re.FindAllStringSubmatchIndex(text, -1)
	out := make([]Boundary, 0, len(idx))
	for _, loc := range idx {
		title := ""
		for g := 1; 2*g+1 < len(loc); g++ {
			if loc[2*g] >= 0 && loc[2*g+1] > loc[2*g] {
				title = text[loc[2*g]:loc[2*g+1]]
				break
			}
		}
		out = append(out, Boundary{Start: loc[0], End: loc[1], Title: title})
	}
	return out
}

var (
	// A line holding only bold text.
	boldLineRe = regexp.MustCompile(`(?m)^[ \t]*(?:\*\*([^*\n]+?)\*\*|__([^_\n]+?)__)[ \t]*:?[ \t]*\n`)
	// "# Title" or "## Title".
	hashHeaderRe = regexp.MustCompile(`(?m)^#{1,2}[ \t]+([^\n]+?)[ \t]*#*[ \t]*(?:\n|$)`)
	// "1. Visão Geral:" style numbered headings, accents included.
	numberedHeaderRe = regexp.MustCompile(`(?m)^[ \t]*\d+\.[ \t]*\*{0,2}(\p{Lu}[\p{L}\p{M}\d ,/&()'-]*?)\*{0,2}[ \t]*[:.][ \t]*\*{0,2}[ \t]*\n`)
)

// DefaultMatchers returns the built-in heading strategies, most specific
// first.
func DefaultMatchers() []HeadingMatcher {
	return []HeadingMatcher{
		NewRegexpMatcher(boldLineRe),
		NewRegexpMatcher(hashHeaderRe),
		NewRegexpMatcher(numberedHeaderRe),
	}
}

// Splitter partitions prose into sections using an ordered list of heading
// matchers. The first matcher that yields at least two non-empty sections
// wins.
type Splitter struct {
	matchers []HeadingMatcher
}

// NewSplitter creates a Splitter. With no matchers it uses DefaultMatchers.
func NewSplitter(matchers ...HeadingMatcher) *Splitter {
	if len(matchers) == 0 {
		matchers = DefaultMatchers()
	}
	return &Splitter{matchers: matchers}
}

var defaultSplitter = NewSplitter()

// SplitHeuristically splits cleaned prose with the default matchers. When no
// matcher finds two usable sections the whole text becomes a single section.
func SplitHeuristically(cleaned string) []Section {
	return defaultSplitter.Split(cleaned)
}

// Split applies the splitter's matchers to cleaned. The result is never
// empty.
func (s *Splitter) Split(cleaned string) []Section {
	for _, m := range s.matchers {
		bounds := m.Match(cleaned)
		if len(bounds) < 2 {
			continue
		}
		if secs := fromBoundaries(cleaned, bounds); len(secs) >= 2 {
			return secs
		}
	}
	return []Section{{
		ID:      FallbackID,
		Title:   FallbackTitle,
		Content: StripMarkdown(cleaned),
	}}
}

// fromBoundaries cuts text at each heading. Text before the first heading is
// not part of any section.
func fromBoundaries(text string, bounds []Boundary) []Section {
	out := make([]Section, 0, len(bounds))
	for i, b := range bounds {
		end := len(text)
		if i+1 < len(bounds) {
			end = bounds[i+1].Start
		}
		if end < b.End {
			continue
		}
		content := StripMarkdown(text[b.End:end])
		if content == "" {
			continue
		}
		title := trimTitle(StripMarkdown(b.Title))
		if title == "" {
			title = fmt.Sprintf("Section %d", len(out)+1)
		}
		out = append(out, Section{
			ID:      fmt.Sprintf("section-%d", len(out)),
			Title:   title,
			Content: content,
		})
	}
	return out
}
