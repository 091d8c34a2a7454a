// Package blocks repairs rich-text block trees before persistence. The store
// requires every block and span in an array-of-object field to carry a unique
// string _key; payloads arriving from external callers routinely omit them.
package blocks

import (
	"encoding/json"
	"strings"

	"pressroom/api/internal/util"
)

// Mode controls how nodes that cannot be interpreted as blocks are handled.
type Mode int

const (
	// Lenient wraps unrecognizable nodes into a minimally valid block so
	// rendering never crashes on partial input.
	Lenient Mode = iota
	// Strict drops unrecognizable nodes instead.
	Strict
)

// Block is one unit of formatted content (paragraph, heading, list item).
// Fields not modeled here are preserved verbatim in Extra.
type Block struct {
	Type     string
	Style    string
	Key      string
	MarkDefs []any
	Children []Span
	Extra    map[string]any
}

// Span is a leaf text node within a block.
type Span struct {
	Type  string
	Text  string
	Marks []any
	Key   string
	Extra map[string]any
}

func (b Block) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(b.Extra)+5)
	for k, v := range b.Extra {
		out[k] = v
	}
	out["_type"] = b.Type
	out["_key"] = b.Key
	if b.Style != "" {
		out["style"] = b.Style
	}
	markDefs := b.MarkDefs
	if markDefs == nil {
		markDefs = []any{}
	}
	out["markDefs"] = markDefs
	children := b.Children
	if children == nil {
		children = []Span{}
	}
	out["children"] = children
	return json.Marshal(out)
}

func (s Span) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+4)
	for k, v := range s.Extra {
		out[k] = v
	}
	out["_type"] = s.Type
	out["_key"] = s.Key
	out["text"] = s.Text
	marks := s.Marks
	if marks == nil {
		marks = []any{}
	}
	out["marks"] = marks
	return json.Marshal(out)
}

// Repair walks a raw body (as decoded from JSON) and returns blocks that all
// carry unique, non-blank structural keys. It is total: malformed input never
// errors. A non-array body is treated as empty, and an empty result is
// replaced by a single default paragraph so every stored article has at least
// one renderable block.
func Repair(raw any, mode Mode) []Block {
	seen := make(map[string]struct{})
	items, _ := raw.([]any)

	out := make([]Block, 0, len(items))
	for _, item := range items {
		switch node := item.(type) {
		case map[string]any:
			out = append(out, repairBlock(node, mode, seen))
		case string:
			if mode == Lenient {
				out = append(out, wrapText(node, seen))
			}
		default:
			if mode == Lenient && node != nil {
				out = append(out, wrapText("", seen))
			}
		}
	}

	if len(out) == 0 {
		out = append(out, wrapText("", seen))
	}
	return out
}

func repairBlock(node map[string]any, mode Mode, seen map[string]struct{}) Block {
	b := Block{Type: "block", Extra: make(map[string]any)}
	if t, ok := node["_type"].(string); ok && strings.TrimSpace(t) != "" {
		b.Type = t
	}
	if style, ok := node["style"].(string); ok {
		b.Style = style
	}
	if defs, ok := node["markDefs"].([]any); ok {
		b.MarkDefs = defs
	} else {
		b.MarkDefs = []any{}
	}
	b.Key = takeKey(node["_key"], seen)

	for k, v := range node {
		switch k {
		case "_type", "_key", "style", "markDefs", "children":
		default:
			b.Extra[k] = v
		}
	}

	rawChildren, _ := node["children"].([]any)
	b.Children = make([]Span, 0, len(rawChildren))
	for _, c := range rawChildren {
		switch child := c.(type) {
		case map[string]any:
			b.Children = append(b.Children, repairSpan(child, seen))
		case string:
			if mode == Lenient {
				b.Children = append(b.Children, Span{Type: "span", Text: child, Marks: []any{}, Key: takeKey(nil, seen)})
			}
		default:
			if mode == Lenient && child != nil {
				b.Children = append(b.Children, Span{Type: "span", Text: "", Marks: []any{}, Key: takeKey(nil, seen)})
			}
		}
	}
	return b
}

func repairSpan(node map[string]any, seen map[string]struct{}) Span {
	s := Span{Type: "span", Extra: make(map[string]any)}
	if t, ok := node["_type"].(string); ok && strings.TrimSpace(t) != "" {
		s.Type = t
	}
	if text, ok := node["text"].(string); ok {
		s.Text = text
	}
	if marks, ok := node["marks"].([]any); ok {
		s.Marks = marks
	} else {
		s.Marks = []any{}
	}
	s.Key = takeKey(node["_key"], seen)

	for k, v := range node {
		switch k {
		case "_type", "_key", "text", "marks":
		default:
			s.Extra[k] = v
		}
	}
	return s
}

// takeKey retains an existing non-blank key on first sight and synthesizes a
// fresh one otherwise. Later duplicates of a retained key are re-keyed so the
// whole document's key set stays duplicate-free.
func takeKey(existing any, seen map[string]struct{}) string {
	if s, ok := existing.(string); ok && strings.TrimSpace(s) != "" {
		if _, dup := seen[s]; !dup {
			seen[s] = struct{}{}
			return s
		}
	}
	for {
		key := util.NewKey()
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			return key
		}
	}
}

func wrapText(text string, seen map[string]struct{}) Block {
	return Block{
		Type:     "block",
		Style:    "normal",
		Key:      takeKey(nil, seen),
		MarkDefs: []any{},
		Children: []Span{{
			Type:  "span",
			Text:  text,
			Marks: []any{},
			Key:   takeKey(nil, seen),
		}},
		Extra: make(map[string]any),
	}
}
