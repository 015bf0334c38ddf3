// Package render turns assembled sections into the shapes downstream
// consumers expect: a printable document keyed by a fixed vocabulary, flat
// text, and styled terminal output.
package render

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kalambet/sectiond/internal/sections"
)

// Term is one well-known section of a printable document.
type Term struct {
	Key     string   `json:"key"`
	Title   string   `json:"title"`
	Aliases []string `json:"aliases,omitempty"`
}

// Vocabulary is the ordered set of terms a printable document is laid out
// with.
type Vocabulary []Term

// DefaultVocabulary is the layout used by diagnosis-style documents.
var DefaultVocabulary = Vocabulary{
	{Key: "overview", Title: "Overview", Aliases: []string{"visao geral", "resumo", "summary", "executive summary"}},
	{Key: "risks", Title: "Risks", Aliases: []string{"riscos", "risk", "risco", "pontos de atencao"}},
	{Key: "recommendations", Title: "Recommendations", Aliases: []string{"recomendacoes", "recommendation", "recomendacao"}},
	{Key: "next_step", Title: "Next Step", Aliases: []string{"next steps", "proximo passo", "proximos passos"}},
}

// Document is a set of sections mapped onto a vocabulary. Sections that
// match no term are kept in Extra in their original order.
type Document struct {
	Vocabulary Vocabulary         `json:"-"`
	Fields     map[string]string  `json:"fields"`
	Extra      []sections.Section `json:"additional,omitempty"`
}

// Printable maps secs onto vocab, matching each section by id or title
// against term keys and aliases. Case, accents, underscores and dashes are
// ignored. Several sections matching one term are joined with a blank line.
// A nil vocab uses DefaultVocabulary.
func Printable(secs []sections.Section, vocab Vocabulary) Document {
	if vocab == nil {
		vocab = DefaultVocabulary
	}
	index := make(map[string]string)
	for _, t := range vocab {
		index[normalize(t.Key)] = t.Key
		index[normalize(t.Title)] = t.Key
		for _, a := range t.Aliases {
			index[normalize(a)] = t.Key
		}
	}

	doc := Document{Vocabulary: vocab, Fields: make(map[string]string)}
	for _, s := range secs {
		key, ok := index[normalize(s.ID)]
		if !ok {
			key, ok = index[normalize(s.Title)]
		}
		if !ok {
			doc.Extra = append(doc.Extra, s)
			continue
		}
		if prev := doc.Fields[key]; prev != "" {
			doc.Fields[key] = prev + "\n\n" + s.Content
		} else {
			doc.Fields[key] = s.Content
		}
	}
	return doc
}

// Field returns the content mapped to key, or "".
func (d Document) Field(key string) string {
	return d.Fields[key]
}

// Missing lists vocabulary keys with no content, in vocabulary order.
func (d Document) Missing() []string {
	var out []string
	for _, t := range d.Vocabulary {
		if strings.TrimSpace(d.Fields[t.Key]) == "" {
			out = append(out, t.Key)
		}
	}
	return out
}

// Markdown lays the document out as level-two sections: vocabulary terms
// first, in order, then the extra sections.
func (d Document) Markdown() string {
	var b strings.Builder
	write := func(title, content string) {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(title)
		b.WriteString("\n\n")
		b.WriteString(content)
	}
	for _, t := range d.Vocabulary {
		if c := d.Fields[t.Key]; strings.TrimSpace(c) != "" {
			write(t.Title, c)
		}
	}
	for _, s := range d.Extra {
		write(s.Title, s.Content)
	}
	return b.String()
}

// normalize folds a heading or id for vocabulary lookup: lower case, no
// diacritics, separators collapsed to single spaces.
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ':':
			return ' '
		}
		return unicode.ToLower(r)
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}
