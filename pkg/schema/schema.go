// Package schema builds storage mappings for the document store.
//
// A Mapping is what gets sent to the store: a tree of field names to FieldSpecs
// in the {"properties": {...}} wire shape. Callers rarely write one by hand;
// they describe the fields they want with a Hint and let Infer produce the
// mapping. A complete Mapping can still be supplied directly when full control
// over the schema is needed.
package schema

import (
	"bytes"
	"encoding/json"
	"maps"
)

// Storage types the inference engine and backends know about.
const (
	TypeText    = "text"
	TypeKeyword = "keyword"
	TypeObject  = "object"
	TypeDate    = "date"
)

// Type tokens with special meaning in a Hint.
const (
	// TokenFullText produces a tokenized, analyzed field for relevance search.
	TokenFullText = "text"
	// TokenString produces an exact-match keyword field.
	TokenString = "string"
)

// DefaultTimestampField is the reserved field every record carries.
const DefaultTimestampField = "timestamp"

// TimestampFormat accepts strict date-time strings or epoch milliseconds.
const TimestampFormat = "strict_date_optional_time||epoch_millis"

// Kind classifies a FieldSpec.
type Kind int

const (
	// KindScalar is a leaf with an explicit storage type.
	KindScalar Kind = iota
	// KindFullText is an analyzed text field without doc values.
	KindFullText
	// KindExactMatch is a keyword field indexed verbatim.
	KindExactMatch
	// KindObject is a nested object with its own properties.
	KindObject
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindFullText:
		return "full_text"
	case KindExactMatch:
		return "exact_match"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// FieldSpec is the mapping of a single field.
// The JSON tags match the store's mapping wire format. Attributes the schema
// does not model (analyzer, fields, ignore_above, scaling_factor, ...) are
// kept in Extra and written back unchanged.
type FieldSpec struct {
	Type       string               `json:"type,omitempty"`
	Format     string               `json:"format,omitempty"`
	DocValues  *bool                `json:"doc_values,omitempty"`
	Fielddata  *bool                `json:"fielddata,omitempty"`
	Properties map[string]FieldSpec `json:"properties,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// fieldSpecKeys are the attributes FieldSpec models directly.
var fieldSpecKeys = []string{"type", "format", "doc_values", "fielddata", "properties"}

// MarshalJSON writes the modeled attributes over the preserved ones.
func (f FieldSpec) MarshalJSON() ([]byte, error) {
	type plain FieldSpec
	known, err := json.Marshal(plain(f))
	if err != nil || len(f.Extra) == 0 {
		return known, err
	}
	return withExtra(known, f.Extra)
}

// UnmarshalJSON reads the modeled attributes and keeps the rest in Extra.
func (f *FieldSpec) UnmarshalJSON(data []byte) error {
	type plain FieldSpec
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := extraKeys(data, fieldSpecKeys)
	if err != nil {
		return err
	}
	*f = FieldSpec(p)
	f.Extra = extra
	return nil
}

// Kind derives the kind of the spec from its type.
func (f FieldSpec) Kind() Kind {
	switch {
	case f.Type == TypeObject || (f.Type == "" && f.Properties != nil):
		return KindObject
	case f.Type == TypeText:
		return KindFullText
	case f.Type == TypeKeyword:
		return KindExactMatch
	default:
		return KindScalar
	}
}

// HasDocValues reports whether values are kept in on-disk columnar storage.
// Stores enable doc values by default for everything except analyzed text.
func (f FieldSpec) HasDocValues() bool {
	if f.DocValues != nil {
		return *f.DocValues
	}
	return f.Kind() != KindFullText && f.Kind() != KindObject
}

// Clone returns a deep copy of the spec.
func (f FieldSpec) Clone() FieldSpec {
	out := f
	if f.DocValues != nil {
		v := *f.DocValues
		out.DocValues = &v
	}
	if f.Fielddata != nil {
		v := *f.Fielddata
		out.Fielddata = &v
	}
	if f.Properties != nil {
		out.Properties = cloneProperties(f.Properties)
	}
	out.Extra = cloneExtra(f.Extra)
	return out
}

// Mapping is a complete index mapping. Top-level settings besides
// properties (dynamic, _source, ...) are kept in Extra.
type Mapping struct {
	Properties map[string]FieldSpec `json:"properties"`

	Extra map[string]json.RawMessage `json:"-"`
}

// NewMapping returns an empty mapping.
func NewMapping() Mapping {
	return Mapping{Properties: map[string]FieldSpec{}}
}

// IsEmpty reports whether the mapping declares no fields.
func (m Mapping) IsEmpty() bool {
	return len(m.Properties) == 0
}

// Clone returns a deep copy of the mapping.
func (m Mapping) Clone() Mapping {
	return Mapping{Properties: cloneProperties(m.Properties), Extra: cloneExtra(m.Extra)}
}

// TimestampSpec is the fixed spec of the reserved timestamp field.
func TimestampSpec() FieldSpec {
	return FieldSpec{Type: TypeDate, Format: TimestampFormat}
}

// WithTimestamp returns a copy of m with field set to the timestamp spec,
// replacing whatever was declared under that name.
func (m Mapping) WithTimestamp(field string) Mapping {
	out := m.Clone()
	out.Properties[field] = TimestampSpec()
	return out
}

// WithoutFullTextArtifacts returns a copy of m in which every full-text field
// has its fielddata flag and disabled doc values removed. Those are by-products
// of how full-text fields are declared, not part of the intended schema.
// All other specs are left as they are.
func (m Mapping) WithoutFullTextArtifacts() Mapping {
	return Mapping{Properties: stripArtifacts(m.Properties), Extra: cloneExtra(m.Extra)}
}

func stripArtifacts(props map[string]FieldSpec) map[string]FieldSpec {
	out := make(map[string]FieldSpec, len(props))
	for name, spec := range props {
		spec = spec.Clone()
		switch spec.Kind() {
		case KindFullText:
			spec.Fielddata = nil
			if spec.DocValues != nil && !*spec.DocValues {
				spec.DocValues = nil
			}
		case KindObject:
			spec.Properties = stripArtifacts(spec.Properties)
		}
		out[name] = spec
	}
	return out
}

// Merge returns a copy of m with the fields of other added.
// Fields declared in both take the spec from other; nested objects merge recursively.
// Top-level settings from other override those of m.
func (m Mapping) Merge(other Mapping) Mapping {
	extra := cloneExtra(m.Extra)
	if len(other.Extra) > 0 {
		if extra == nil {
			extra = make(map[string]json.RawMessage, len(other.Extra))
		}
		maps.Copy(extra, cloneExtra(other.Extra))
	}
	return Mapping{Properties: mergeProperties(m.Properties, other.Properties), Extra: extra}
}

func mergeProperties(base, extra map[string]FieldSpec) map[string]FieldSpec {
	out := cloneProperties(base)
	for name, spec := range extra {
		existing, ok := out[name]
		if ok && existing.Kind() == KindObject && spec.Kind() == KindObject {
			merged := spec.Clone()
			merged.Properties = mergeProperties(existing.Properties, spec.Properties)
			out[name] = merged
			continue
		}
		out[name] = spec.Clone()
	}
	return out
}

// MarshalJSON keeps "properties" present even when empty.
func (m Mapping) MarshalJSON() ([]byte, error) {
	props := m.Properties
	if props == nil {
		props = map[string]FieldSpec{}
	}
	known, err := json.Marshal(struct {
		Properties map[string]FieldSpec `json:"properties"`
	}{props})
	if err != nil || len(m.Extra) == 0 {
		return known, err
	}
	return withExtra(known, m.Extra)
}

// UnmarshalJSON reads properties and keeps the other top-level settings.
func (m *Mapping) UnmarshalJSON(data []byte) error {
	var p struct {
		Properties map[string]FieldSpec `json:"properties"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := extraKeys(data, []string{"properties"})
	if err != nil {
		return err
	}
	m.Properties = p.Properties
	m.Extra = extra
	return nil
}

// withExtra merges the object in known over extra.
func withExtra(known []byte, extra map[string]json.RawMessage) ([]byte, error) {
	merged := make(map[string]json.RawMessage, len(extra)+4)
	maps.Copy(merged, extra)
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}

// extraKeys returns the members of the object in data not named in known,
// or nil when there are none.
func extraKeys(data []byte, known []string) (map[string]json.RawMessage, error) {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for _, key := range known {
		delete(raw, key)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

func cloneExtra(extra map[string]json.RawMessage) map[string]json.RawMessage {
	if extra == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(extra))
	for k, v := range extra {
		out[k] = bytes.Clone(v)
	}
	return out
}

func cloneProperties(props map[string]FieldSpec) map[string]FieldSpec {
	out := make(map[string]FieldSpec, len(props))
	for name, spec := range maps.All(props) {
		out[name] = spec.Clone()
	}
	return out
}

func boolPtr(v bool) *bool {
	return &v
}
