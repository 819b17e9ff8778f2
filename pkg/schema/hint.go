package schema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Hint describes the fields an index should have.
// Each entry is either a storage-type token or a nested Hint; unlike a raw
// decoded JSON object there is no doubt which of the two a value is.
type Hint map[string]HintField

// HintField is a single entry of a Hint. Exactly one of Token and Nested is set.
type HintField struct {
	Token  string
	Nested Hint
}

// Token declares a leaf field with the given storage-type token.
func Token(token string) HintField {
	return HintField{Token: token}
}

// Nested declares an object field described by h.
func Nested(h Hint) HintField {
	if h == nil {
		h = Hint{}
	}
	return HintField{Nested: h}
}

// IsNested reports whether the field describes an object.
func (f HintField) IsNested() bool {
	return f.Nested != nil
}

// Source is what an index can be initialized from: a Hint to infer a mapping
// from, or a complete Mapping applied verbatim.
type Source interface {
	isSource()
}

func (Hint) isSource()    {}
func (Mapping) isSource() {}

// Infer turns a hint into a mapping.
//
// Nested hints become object fields. The "text" token becomes an analyzed
// full-text field with doc values disabled, since analyzed text cannot use
// columnar storage. The "string" token becomes an exact-match keyword field.
// Any other token is used verbatim as the storage type with doc values on.
//
// Infer does not add the reserved timestamp field; see Mapping.WithTimestamp.
// The hint must not be cyclic.
func Infer(h Hint) Mapping {
	return Mapping{Properties: inferProperties(h)}
}

func inferProperties(h Hint) map[string]FieldSpec {
	props := make(map[string]FieldSpec, len(h))
	for name, field := range h {
		if field.IsNested() {
			props[name] = FieldSpec{
				Type:       TypeObject,
				Properties: inferProperties(field.Nested),
			}
			continue
		}
		props[name] = inferLeaf(field.Token)
	}
	return props
}

func inferLeaf(token string) FieldSpec {
	switch token {
	case TokenFullText:
		return FieldSpec{Type: TypeText, Fielddata: boolPtr(true), DocValues: boolPtr(false)}
	case TokenString:
		return FieldSpec{Type: TypeKeyword, DocValues: boolPtr(true)}
	default:
		return FieldSpec{Type: token, DocValues: boolPtr(true)}
	}
}

// ParseHint converts a decoded JSON object into a Hint.
// String values are type tokens and objects are nested hints; anything else
// is rejected.
func ParseHint(raw map[string]any) (Hint, error) {
	return parseHint(raw, "")
}

func parseHint(raw map[string]any, prefix string) (Hint, error) {
	h := make(Hint, len(raw))

	// Sorted so the first reported error is stable.
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		switch v := raw[name].(type) {
		case string:
			if v == "" {
				return nil, fmt.Errorf("field %q: empty type token", path)
			}
			h[name] = Token(v)
		case map[string]any:
			nested, err := parseHint(v, path)
			if err != nil {
				return nil, err
			}
			h[name] = Nested(nested)
		default:
			return nil, fmt.Errorf("field %q: expected a type token or an object, got %T", path, v)
		}
	}
	return h, nil
}

// mappingEnvelope marks a complete mapping in ParseSource input.
type mappingEnvelope struct {
	Mappings *Mapping `json:"mappings"`
}

// ParseSource decodes a JSON document into a Source.
//
// A document of the form {"mappings": {"properties": {...}}} is a complete
// mapping and is returned as a Mapping. Any other object is parsed as a Hint.
func ParseSource(data []byte) (Source, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode schema source: %w", err)
	}

	if isMappingEnvelope(raw) {
		var env mappingEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("failed to decode mapping: %w", err)
		}
		m := env.Mappings.Clone()
		return m, nil
	}

	return ParseHint(raw)
}

func isMappingEnvelope(raw map[string]any) bool {
	if len(raw) != 1 {
		return false
	}
	inner, ok := raw["mappings"].(map[string]any)
	if !ok {
		return false
	}
	_, ok = inner["properties"].(map[string]any)
	return ok
}
