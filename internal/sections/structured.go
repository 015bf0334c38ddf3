package sections

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Alternative key names recognised in JSON array elements, in priority order.
var (
	titleKeys   = []string{"title", "titulo", "título", "heading", "name", "nome"}
	contentKeys = []string{"content", "conteudo", "conteúdo", "text", "texto", "body", "description", "descricao", "descrição"}
)

// ExtractStructured interprets cleaned text as JSON. An array becomes one
// section per element, an object one section per key in source order. Any
// other shape, or text that is not JSON, reports false.
func ExtractStructured(cleaned string) ([]Section, bool) {
	if !looksLikeJSON(cleaned) {
		return nil, false
	}
	v, err := decodeOrdered(cleaned)
	if err != nil {
		slog.Debug("structured extraction skipped", "error", err)
		return nil, false
	}

	switch v.kind {
	case kindArray:
		if len(v.items) == 0 {
			return nil, false
		}
		out := make([]Section, 0, len(v.items))
		for i, item := range v.items {
			out = append(out, sectionFromElement(i, item))
		}
		return out, true
	case kindObject:
		if len(v.keys) == 0 {
			return nil, false
		}
		out := make([]Section, 0, len(v.keys))
		for i, k := range v.keys {
			out = append(out, Section{
				ID:      k,
				Title:   trimTitle(StripMarkdown(FormatTitle(k))),
				Content: StripMarkdown(flatten(v.values[i])),
			})
		}
		return out, true
	default:
		return nil, false
	}
}

func sectionFromElement(i int, item node) Section {
	sec := Section{
		ID:    fmt.Sprintf("section-%d", i),
		Title: fmt.Sprintf("Section %d", i+1),
	}
	if item.kind != kindObject {
		sec.Content = StripMarkdown(flatten(item))
		return sec
	}

	if id, ok := item.get("id"); ok {
		if s := strings.TrimSpace(flatten(id)); s != "" {
			sec.ID = s
		}
	}
	title, hasTitle := item.first(titleKeys)
	content, hasContent := item.first(contentKeys)
	if !hasTitle && !hasContent {
		sec.Content = StripMarkdown(pairsProse(item, "\n", "id"))
		return sec
	}
	if hasTitle {
		if t := strings.TrimSpace(StripMarkdown(flatten(title))); t != "" {
			sec.Title = t
		}
	}
	if hasContent {
		sec.Content = StripMarkdown(flatten(content))
	}
	return sec
}

var camelBoundaryRe = regexp.MustCompile(`(\p{Ll}|\d)(\p{Lu})`)

// FormatTitle turns a JSON key such as "visao_geral" or "nextStep" into a
// heading ("Visao Geral", "Next Step").
func FormatTitle(key string) string {
	s := camelBoundaryRe.ReplaceAllString(key, "$1 $2")
	s = strings.Map(func(r rune) rune {
		if r == '_' || r == '-' {
			return ' '
		}
		return r
	}, s)
	// Casers carry state and are not safe to share across goroutines.
	caser := cases.Title(language.Und, cases.NoLower)
	words := strings.Fields(s)
	for i, w := range words {
		if isUpperWord(w) {
			w = strings.ToLower(w)
		}
		words[i] = caser.String(w)
	}
	return strings.Join(words, " ")
}

func isUpperWord(w string) bool {
	for _, r := range w {
		if unicode.IsLower(r) {
			return false
		}
	}
	return true
}

// flatten renders a JSON value as prose. Objects become "Key: value" lines,
// arrays one element per line.
func flatten(v node) string {
	switch v.kind {
	case kindNull:
		return ""
	case kindString:
		return v.str
	case kindScalar:
		return v.str
	case kindArray:
		parts := make([]string, 0, len(v.items))
		for _, it := range v.items {
			var s string
			if it.kind == kindObject {
				s = pairsProse(it, "; ")
			} else {
				s = flatten(it)
			}
			if strings.TrimSpace(s) != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	case kindObject:
		return pairsProse(v, "\n")
	}
	return ""
}

func pairsProse(obj node, sep string, skip ...string) string {
	parts := make([]string, 0, len(obj.keys))
outer:
	for i, k := range obj.keys {
		for _, s := range skip {
			if k == s {
				continue outer
			}
		}
		var val string
		if obj.values[i].kind == kindObject {
			val = pairsProse(obj.values[i], "; ")
		} else {
			val = flatten(obj.values[i])
		}
		parts = append(parts, FormatTitle(k)+": "+val)
	}
	return strings.Join(parts, sep)
}

type nodeKind int

const (
	kindNull nodeKind = iota
	kindString
	kindScalar
	kindArray
	kindObject
)

// node is a decoded JSON value that keeps object keys in source order.
type node struct {
	kind   nodeKind
	str    string
	items  []node
	keys   []string
	values []node
}

func (n node) get(key string) (node, bool) {
	if i := n.index(key); i >= 0 {
		return n.values[i], true
	}
	return node{}, false
}

func (n node) first(keys []string) (node, bool) {
	for _, k := range keys {
		if v, ok := n.get(k); ok {
			return v, true
		}
	}
	return node{}, false
}

var errTrailingData = errors.New("trailing data after JSON value")

func decodeOrdered(s string) (node, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	v, err := decodeNode(dec)
	if err != nil {
		return node{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return node{}, errTrailingData
	}
	return v, nil
}

func decodeNode(dec *json.Decoder) (node, error) {
	tok, err := dec.Token()
	if err != nil {
		return node{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			n := node{kind: kindArray}
			for dec.More() {
				item, err := decodeNode(dec)
				if err != nil {
					return node{}, err
				}
				n.items = append(n.items, item)
			}
			if _, err := dec.Token(); err != nil {
				return node{}, err
			}
			return n, nil
		case '{':
			n := node{kind: kindObject}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return node{}, err
				}
				key, ok := kt.(string)
				if !ok {
					return node{}, fmt.Errorf("unexpected object key %v", kt)
				}
				val, err := decodeNode(dec)
				if err != nil {
					return node{}, err
				}
				if i := n.index(key); i >= 0 {
					n.values[i] = val
					continue
				}
				n.keys = append(n.keys, key)
				n.values = append(n.values, val)
			}
			if _, err := dec.Token(); err != nil {
				return node{}, err
			}
			return n, nil
		}
		return node{}, fmt.Errorf("unexpected delimiter %v", t)
	case string:
		return node{kind: kindString, str: t}, nil
	case json.Number:
		return node{kind: kindScalar, str: t.String()}, nil
	case bool:
		if t {
			return node{kind: kindScalar, str: "true"}, nil
		}
		return node{kind: kindScalar, str: "false"}, nil
	case nil:
		return node{kind: kindNull}, nil
	}
	return node{}, fmt.Errorf("unexpected token %v", tok)
}

func (n node) index(key string) int {
	for i, k := range n.keys {
		if k == key {
			return i
		}
	}
	return -1
}

// looksLikeJSON reports whether s starts like a JSON array or object.
func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{")
}
