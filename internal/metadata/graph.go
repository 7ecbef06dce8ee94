package metadata

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/piprate/json-gold/ld"
)

// ValueKind distinguishes the objects of a statement.
type ValueKind int

const (
	Literal ValueKind = iota
	IRI
	BlankNode
)

// Value is the object of one statement.
type Value struct {
	Kind     ValueKind
	Value    string
	Datatype string
	Language string
}

// Graph maps subject -> property -> values.
type Graph struct {
	statements map[string]map[string][]Value
}

// ParseGraph expands a JSON-LD document and builds its statement graph.
// Only inline contexts are accepted; remote contexts are refused.
func ParseGraph(r io.Reader) (*Graph, error) {
	var doc any
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}

	proc := ld.NewJsonLdProcessor()
	opts := ld.NewJsonLdOptions("")
	opts.DocumentLoader = offlineLoader{}
	expanded, err := proc.Expand(doc, opts)
	if err != nil {
		return nil, fmt.Errorf("expand json-ld: %w", err)
	}

	b := &graphBuilder{graph: &Graph{statements: make(map[string]map[string][]Value)}}
	for _, item := range expanded {
		if node, ok := item.(map[string]any); ok {
			b.node(node)
		}
	}
	return b.graph, nil
}

type offlineLoader struct{}

func (offlineLoader) LoadDocument(u string) (*ld.RemoteDocument, error) {
	return nil, ld.NewJsonLdError(ld.LoadingDocumentFailed, fmt.Sprintf("remote context %q refused", u))
}

type graphBuilder struct {
	graph *Graph
	next  int
}

func (b *graphBuilder) node(obj map[string]any) string {
	if nested, ok := obj["@graph"].([]any); ok {
		for _, item := range nested {
			if node, ok := item.(map[string]any); ok {
				b.node(node)
			}
		}
	}
	id, _ := obj["@id"].(string)
	if id == "" {
		id = "_:b" + strconv.Itoa(b.next)
		b.next++
	}
	props := b.graph.statements[id]
	if props == nil {
		props = make(map[string][]Value)
		b.graph.statements[id] = props
	}

	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		raw := obj[key]
		if strings.HasPrefix(key, "@") {
			continue
		}
		for _, item := range asSlice(raw) {
			props[key] = append(props[key], b.values(item)...)
		}
	}
	return id
}

func (b *graphBuilder) values(item any) []Value {
	m, ok := item.(map[string]any)
	if !ok {
		return nil
	}
	if raw, ok := m["@value"]; ok {
		v := Value{Kind: Literal, Value: literalString(raw)}
		v.Datatype, _ = m["@type"].(string)
		v.Language, _ = m["@language"].(string)
		return []Value{v}
	}
	if list, ok := m["@list"]; ok {
		var out []Value
		for _, elem := range asSlice(list) {
			out = append(out, b.values(elem)...)
		}
		return out
	}
	id, hasID := m["@id"].(string)
	if hasID && len(m) == 1 {
		return []Value{reference(id)}
	}
	return []Value{reference(b.node(m))}
}

func reference(id string) Value {
	if strings.HasPrefix(id, "_:") {
		return Value{Kind: BlankNode, Value: id}
	}
	return Value{Kind: IRI, Value: id}
}

func asSlice(raw any) []any {
	if items, ok := raw.([]any); ok {
		return items
	}
	return []any{raw}
}

func literalString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Values returns the objects of subject/property in document order.
func (g *Graph) Values(subject, property string) []Value {
	return g.statements[subject][property]
}

// Subjects lists every subject, sorted.
func (g *Graph) Subjects() []string {
	out := make([]string, 0, len(g.statements))
	for subject := range g.statements {
		out = append(out, subject)
	}
	sort.Strings(out)
	return out
}

// SubjectsWith lists the subjects that have at least one value for property.
func (g *Graph) SubjectsWith(property string) []string {
	var out []string
	for _, subject := range g.Subjects() {
		if len(g.statements[subject][property]) > 0 {
			out = append(out, subject)
		}
	}
	return out
}
