package render

import (
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/kalambet/sectiond/internal/sections"
)

// DefaultWidth is the word-wrap width for terminal output.
const DefaultWidth = 80

// PlainText re-flattens sections into "Title\n\nContent" blocks separated by
// blank lines.
func PlainText(secs []sections.Section) string {
	blocks := make([]string, 0, len(secs))
	for _, s := range secs {
		switch {
		case s.Title == "":
			blocks = append(blocks, s.Content)
		case s.Content == "":
			blocks = append(blocks, s.Title)
		default:
			blocks = append(blocks, s.Title+"\n\n"+s.Content)
		}
	}
	return strings.Join(blocks, "\n\n")
}

// Markdown renders sections as level-two markdown headings.
func Markdown(secs []sections.Section) string {
	var b strings.Builder
	for i, s := range secs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(s.Title)
		b.WriteString("\n\n")
		b.WriteString(s.Content)
	}
	return b.String()
}

// Terminal renders markdown for a terminal, wrapping at width columns
// (DefaultWidth when width <= 0).
func Terminal(markdown string, width int) (string, error) {
	if width <= 0 {
		width = DefaultWidth
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(markdown)
}
