package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHint() Hint {
	return Hint{
		"title":   Token("text"),
		"user":    Token("string"),
		"steps":   Token("long"),
		"ratio":   Token("float"),
		"created": Token("date"),
		"device": Nested(Hint{
			"name": Token("string"),
			"battery": Nested(Hint{
				"level": Token("integer"),
			}),
		}),
	}
}

func TestInfer_TokensMapToFieldSpecs(t *testing.T) {
	// Given: a hint with every kind of token
	m := Infer(sampleHint())

	// Then: full-text fields are analyzed text without doc values
	title := m.Properties["title"]
	assert.Equal(t, KindFullText, title.Kind())
	assert.Equal(t, "text", title.Type)
	require.NotNil(t, title.Fielddata)
	assert.True(t, *title.Fielddata)
	assert.False(t, title.HasDocValues())

	// And: string fields are exact-match keywords with doc values
	user := m.Properties["user"]
	assert.Equal(t, KindExactMatch, user.Kind())
	assert.Equal(t, "keyword", user.Type)
	assert.True(t, user.HasDocValues())

	// And: other tokens are used verbatim with doc values on
	for _, name := range []string{"steps", "ratio", "created"} {
		spec := m.Properties[name]
		assert.Equal(t, KindScalar, spec.Kind(), name)
		assert.True(t, spec.HasDocValues(), name)
	}
	assert.Equal(t, "long", m.Properties["steps"].Type)
	assert.Equal(t, "float", m.Properties["ratio"].Type)
}

func TestInfer_NestedHintsRecurseToMatchingDepth(t *testing.T) {
	m := Infer(sampleHint())

	device := m.Properties["device"]
	require.Equal(t, KindObject, device.Kind())
	assert.Equal(t, "object", device.Type)
	assert.Equal(t, KindExactMatch, device.Properties["name"].Kind())

	battery := device.Properties["battery"]
	require.Equal(t, KindObject, battery.Kind())
	assert.Equal(t, "integer", battery.Properties["level"].Type)
}

func TestInfer_IsIdempotent(t *testing.T) {
	h := sampleHint()

	first := Infer(h)
	second := Infer(h)

	assert.Equal(t, first, second)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestInfer_EmptyHint(t *testing.T) {
	m := Infer(Hint{})
	assert.True(t, m.IsEmpty())

	// The timestamp is still injected
	m = m.WithTimestamp(DefaultTimestampField)
	assert.Len(t, m.Properties, 1)
	assert.Equal(t, TimestampSpec(), m.Properties[DefaultTimestampField])
}

func TestWithTimestamp_OverridesHintedType(t *testing.T) {
	tokens := []string{"string", "text", "long", "keyword"}

	for _, token := range tokens {
		t.Run(token, func(t *testing.T) {
			m := Infer(Hint{"timestamp": Token(token), "x": Token("long")})
			m = m.WithTimestamp("timestamp")

			assert.Equal(t, FieldSpec{Type: "date", Format: TimestampFormat}, m.Properties["timestamp"])
			assert.Equal(t, "long", m.Properties["x"].Type)
		})
	}

	// Nested hint under the reserved name is replaced as well
	m := Infer(Hint{"timestamp": Nested(Hint{"a": Token("long")})}).WithTimestamp("timestamp")
	assert.Equal(t, TimestampSpec(), m.Properties["timestamp"])
}

func TestWithTimestamp_DoesNotMutateReceiver(t *testing.T) {
	m := Infer(Hint{"a": Token("long")})
	_ = m.WithTimestamp("timestamp")
	_, ok := m.Properties["timestamp"]
	assert.False(t, ok)
}

func TestMapping_WireShape(t *testing.T) {
	m := Infer(Hint{
		"title":  Token("text"),
		"nested": Nested(Hint{"n": Token("string")}),
	}).WithTimestamp("timestamp")

	data, err := json.Marshal(m)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"properties": {
			"title": {"type": "text", "fielddata": true, "doc_values": false},
			"nested": {"type": "object", "properties": {"n": {"type": "keyword", "doc_values": true}}},
			"timestamp": {"type": "date", "format": "strict_date_optional_time||epoch_millis"}
		}
	}`, string(data))

	empty, err := json.Marshal(Mapping{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"properties": {}}`, string(empty))
}

func TestWithoutFullTextArtifacts(t *testing.T) {
	// Given: a mapping with full-text fields at two levels
	m := Infer(Hint{
		"body":  Token("text"),
		"count": Token("long"),
		"meta": Nested(Hint{
			"summary": Token("text"),
			"tag":     Token("string"),
		}),
	}).WithTimestamp("timestamp")

	// When: stripping artifacts
	stripped := m.WithoutFullTextArtifacts()

	// Then: full-text fields keep only their type
	assert.Equal(t, FieldSpec{Type: "text"}, stripped.Properties["body"])
	assert.Equal(t, FieldSpec{Type: "text"}, stripped.Properties["meta"].Properties["summary"])

	// And: every other spec is unchanged
	assert.Equal(t, m.Properties["count"], stripped.Properties["count"])
	assert.Equal(t, m.Properties["timestamp"], stripped.Properties["timestamp"])
	assert.Equal(t, m.Properties["meta"].Properties["tag"], stripped.Properties["meta"].Properties["tag"])

	// And: the original is untouched
	require.NotNil(t, m.Properties["body"].Fielddata)
}

func TestMapping_KeepsUnmodeledAttributes(t *testing.T) {
	// Given: a complete mapping using attributes the schema does not model
	raw := `{"mappings":{"dynamic":"strict","properties":{
		"title":{"type":"text","analyzer":"english","fielddata":true,"fields":{"raw":{"type":"keyword","ignore_above":256}}},
		"price":{"type":"scaled_float","scaling_factor":100},
		"meta":{"properties":{"tag":{"type":"keyword","normalizer":"lowercase"}}}}}}`

	// When: parsing it and stripping full-text artifacts
	src, err := ParseSource([]byte(raw))
	require.NoError(t, err)
	m, ok := src.(Mapping)
	require.True(t, ok)
	data, err := json.Marshal(m.WithoutFullTextArtifacts())
	require.NoError(t, err)

	// Then: everything but the fielddata flag survives
	assert.JSONEq(t, `{"dynamic":"strict","properties":{
		"title":{"type":"text","analyzer":"english","fields":{"raw":{"type":"keyword","ignore_above":256}}},
		"price":{"type":"scaled_float","scaling_factor":100},
		"meta":{"properties":{"tag":{"type":"keyword","normalizer":"lowercase"}}}}}`, string(data))
	assert.Equal(t, KindFullText, m.Properties["title"].Kind())
}

func TestFieldSpec_ModeledAttributesWin(t *testing.T) {
	spec := FieldSpec{Type: "long", Extra: map[string]json.RawMessage{
		"type":   json.RawMessage(`"text"`),
		"coerce": json.RawMessage(`false`),
	}}

	data, err := json.Marshal(spec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"long","coerce":false}`, string(data))

	clone := spec.Clone()
	clone.Extra["coerce"][0] = 'F'
	assert.Equal(t, "false", string(spec.Extra["coerce"]))
}

func TestMapping_Merge(t *testing.T) {
	base := Infer(Hint{"a": Token("long"), "o": Nested(Hint{"x": Token("string")})})
	extra := Infer(Hint{"b": Token("text"), "o": Nested(Hint{"y": Token("long")})})

	merged := base.Merge(extra)

	assert.Equal(t, "long", merged.Properties["a"].Type)
	assert.Equal(t, "text", merged.Properties["b"].Type)
	assert.Equal(t, "keyword", merged.Properties["o"].Properties["x"].Type)
	assert.Equal(t, "long", merged.Properties["o"].Properties["y"].Type)
	assert.Len(t, base.Properties, 2)
}

func TestKind_ObjectWithoutType(t *testing.T) {
	// Stores report object fields as bare property trees
	spec := FieldSpec{Properties: map[string]FieldSpec{"a": {Type: "long"}}}
	assert.Equal(t, KindObject, spec.Kind())
	assert.Equal(t, "object", spec.Kind().String())
}

func TestParseHint(t *testing.T) {
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"name": "string",
		"note": "text",
		"geo": {"lat": "double", "lon": "double"}
	}`), &raw))

	h, err := ParseHint(raw)
	require.NoError(t, err)

	assert.Equal(t, Token("string"), h["name"])
	assert.Equal(t, Token("text"), h["note"])
	require.True(t, h["geo"].IsNested())
	assert.Equal(t, Token("double"), h["geo"].Nested["lat"])
}

func TestParseHint_RejectsNonTokens(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		msg  string
	}{
		{"number", map[string]any{"a": 1.0}, `field "a"`},
		{"array", map[string]any{"a": []any{"x"}}, `field "a"`},
		{"empty token", map[string]any{"a": ""}, "empty type token"},
		{"nested number", map[string]any{"o": map[string]any{"b": true}}, `field "o.b"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHint(tt.raw)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestParseSource(t *testing.T) {
	t.Run("hint", func(t *testing.T) {
		src, err := ParseSource([]byte(`{"steps": "long", "properties": {"a": "string"}}`))
		require.NoError(t, err)
		h, ok := src.(Hint)
		require.True(t, ok)
		assert.True(t, h["properties"].IsNested())
	})

	t.Run("complete mapping", func(t *testing.T) {
		src, err := ParseSource([]byte(`{"mappings": {"properties": {"steps": {"type": "integer", "doc_values": false}}}}`))
		require.NoError(t, err)
		m, ok := src.(Mapping)
		require.True(t, ok)
		assert.Equal(t, "integer", m.Properties["steps"].Type)
		assert.False(t, m.Properties["steps"].HasDocValues())
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := ParseSource([]byte(`{`))
		require.Error(t, err)
	})
}
