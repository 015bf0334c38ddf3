package sections

import (
	"regexp"
	"strings"
)

var delimiterRe = regexp.MustCompile(`###([A-Z][A-Z0-9_]*)###`)

// ExtractDelimited splits text written as ###NAME###body###NAME### blocks.
// A block may also be closed by ###END_NAME### or left open until the next
// opener or the end of the text. Empty blocks are dropped; false is reported
// when no non-empty block exists.
func ExtractDelimited(cleaned string) ([]Section, bool) {
	markers := delimiterRe.FindAllStringSubmatchIndex(cleaned, -1)
	if len(markers) == 0 {
		return nil, false
	}

	var out []Section
	for i := 0; i < len(markers); i++ {
		m := markers[i]
		name := cleaned[m[2]:m[3]]
		if strings.HasPrefix(name, "END_") {
			continue
		}

		end := len(cleaned)
		if i+1 < len(markers) {
			next := markers[i+1]
			end = next[0]
			nextName := cleaned[next[2]:next[3]]
			if nextName == name || nextName == "END_"+name {
				i++
			}
		}

		body := StripMarkdown(cleaned[m[1]:end])
		if body == "" {
			continue
		}
		out = append(out, Section{
			ID:      strings.ToLower(name),
			Title:   FormatTitle(name),
			Content: body,
		})
	}
	return out, len(out) > 0
}
