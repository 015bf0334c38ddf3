package sections

import (
	"regexp"
	"strings"
)

const fence = "```"

var (
	fenceOpenRe  = regexp.MustCompile("(?i)^\\s*```(?:[a-z0-9_+.-]*[ \\t]*\\r?\\n)?")
	fenceCloseRe = regexp.MustCompile("\\s*```\\s*$")
)

// Clean strips code-fence markers from model output and trims it. It removes
// one leading fence opener, one trailing closer and any stray fences left
// inside the text. A language tag after the opener is only dropped when a
// line break follows it. Clean is idempotent.
func Clean(raw string) string {
	s := fenceOpenRe.ReplaceAllString(raw, "")
	s = fenceCloseRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, fence, "")
	return strings.TrimSpace(s)
}

var (
	codeBlockRe    = regexp.MustCompile("(?s)```.*?```")
	ruleRe         = regexp.MustCompile(`(?m)^[ \t]*([-*_][ \t]*){3,}$`)
	headerRe       = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]+`)
	bulletRe       = regexp.MustCompile(`(?m)^[ \t]*[-•*+][ \t]+`)
	numberedItemRe = regexp.MustCompile(`(?m)^[ \t]*\d+[.)][ \t]+`)
	boldStarRe     = regexp.MustCompile(`\*\*([^\n]+?)\*\*`)
	boldUnderRe    = regexp.MustCompile(`__([^\n]+?)__`)
	italicStarRe   = regexp.MustCompile(`\*([^*\s](?:[^*\n]*[^*\s])?)\*`)
	italicUnderRe  = regexp.MustCompile(`(^|[\s(])_([^_\n]+)_([\s).,;:!?]|$)`)
	inlineCodeRe   = regexp.MustCompile("`([^`\\n]*)`")
	blankRunRe     = regexp.MustCompile(`\n(?:[ \t]*\n){2,}`)
)

// StripMarkdown removes markdown decoration from s: fenced code blocks,
// header markers, bold and italic wrappers, bullets, numbered-list markers,
// inline code, horizontal rules. Runs of three or more newlines collapse to
// one blank line and the result is trimmed.
func StripMarkdown(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = codeBlockRe.ReplaceAllString(s, "")
	s = ruleRe.ReplaceAllString(s, "")
	s = headerRe.ReplaceAllString(s, "")
	s = bulletRe.ReplaceAllString(s, "")
	s = numberedItemRe.ReplaceAllString(s, "")
	s = boldStarRe.ReplaceAllString(s, "$1")
	s = boldUnderRe.ReplaceAllString(s, "$1")
	s = italicStarRe.ReplaceAllString(s, "$1")
	s = italicUnderRe.ReplaceAllString(s, "$1$2$3")
	s = inlineCodeRe.ReplaceAllString(s, "$1")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
