package correl8

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	cerrors "github.com/correl8/correl8/internal/errors"
	"github.com/correl8/correl8/pkg/schema"
	"github.com/correl8/correl8/pkg/store"
)

func TestInit_InfersMappingWithTimestamp(t *testing.T) {
	// Given: a hint that also declares the timestamp as a string
	h := newLocalHandle(t)
	ctx := context.Background()
	hint := eventsHint()
	hint["timestamp"] = schema.Token(schema.TokenString)

	// When: initializing
	require.NoError(t, h.Init(ctx, hint))

	// Then: the index exists with the inferred fields and the fixed timestamp spec
	ok, err := h.IsInitialized(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	m, err := h.GetMapping(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.TimestampSpec(), m.Properties["timestamp"])
	assert.Equal(t, schema.KindFullText, m.Properties["note"].Kind())
	assert.Equal(t, schema.KindExactMatch, m.Properties["device"].Kind())
	assert.Equal(t, "long", m.Properties["steps"].Type)
	assert.Equal(t, schema.KindExactMatch, m.Properties["geo"].Properties["city"].Kind())
}

func TestInit_IsRepeatable(t *testing.T) {
	h := newLocalHandle(t)
	ctx := context.Background()

	require.NoError(t, h.Init(ctx, eventsHint()))
	require.NoError(t, h.Init(ctx, eventsHint()))
}

func TestInit_VerbatimMapping(t *testing.T) {
	// Given: a complete mapping without a timestamp field
	h := newLocalHandle(t)
	ctx := context.Background()
	src, err := schema.ParseSource([]byte(`{"mappings":{"properties":{"hr":{"type":"integer"}}}}`))
	require.NoError(t, err)

	// When: initializing with it
	require.NoError(t, h.Init(ctx, src))

	// Then: it is applied as given
	m, err := h.GetMapping(ctx)
	require.NoError(t, err)
	assert.Equal(t, "integer", m.Properties["hr"].Type)
	_, hasTimestamp := m.Properties["timestamp"]
	assert.False(t, hasTimestamp)
}

func TestInit_MappingFailure(t *testing.T) {
	h, m := newMockHandle(t)
	m.On("CreateIndex", mock.Anything, testIndex).Return(store.ErrIndexExists).Once()
	m.On("PutMapping", mock.Anything, testIndex, mock.Anything).Return(store.ErrMappingConflict).Once()

	err := h.Init(context.Background(), eventsHint())

	assert.ErrorIs(t, err, ErrMappingFailed)
	assert.ErrorIs(t, err, store.ErrMappingConflict)
}

func TestInit_MappingFailureIsLoggedStructured(t *testing.T) {
	// Given: a store that rejects the mapping and a JSON logger
	var buf bytes.Buffer
	h, m := newMockHandle(t, WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	m.On("CreateIndex", mock.Anything, testIndex).Return(nil).Once()
	m.On("PutMapping", mock.Anything, testIndex, mock.Anything).Return(store.ErrMappingConflict).Once()

	// When: initializing
	require.Error(t, h.Init(context.Background(), eventsHint()))

	// Then: the log line carries the error code and where it failed
	var line struct {
		Msg   string `json:"msg"`
		Error struct {
			Code  string `json:"code"`
			Index string `json:"index"`
			Step  string `json:"step"`
			Cause string `json:"cause"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "mapping_failed", line.Msg)
	assert.Equal(t, cerrors.ErrCodeMappingFailed, line.Error.Code)
	assert.Equal(t, testIndex, line.Error.Index)
	assert.Equal(t, "put mapping", line.Error.Step)
	assert.Contains(t, line.Error.Cause, "mapping conflict")
}

func TestInit_CreateFailure(t *testing.T) {
	h, m := newMockHandle(t)
	m.On("CreateIndex", mock.Anything, testIndex).Return(errors.New("disk full")).Once()

	err := h.Init(context.Background(), eventsHint())

	assert.ErrorIs(t, err, ErrMappingFailed)
	m.AssertNotCalled(t, "PutMapping", mock.Anything, mock.Anything, mock.Anything)
}

func TestClear_StripsFullTextArtifacts(t *testing.T) {
	// Given: an initialized index holding a record
	h := newLocalHandle(t)
	ctx := context.Background()
	require.NoError(t, h.Init(ctx, eventsHint()))
	_, err := h.Insert(ctx, store.Document{"id": "1", "device": "watch", "note": "morning run"})
	require.NoError(t, err)
	before, err := h.GetMapping(ctx)
	require.NoError(t, err)
	require.NotNil(t, before.Properties["note"].Fielddata)

	// When: clearing
	require.NoError(t, h.Clear(ctx))

	// Then: the records are gone and only the full-text artifacts changed
	res, err := h.Search(ctx, store.Query{})
	require.NoError(t, err)
	assert.Zero(t, res.Total)

	after, err := h.GetMapping(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.FieldSpec{Type: schema.TypeText}, after.Properties["note"])
	assert.Equal(t, before.Properties["device"], after.Properties["device"])
	assert.Equal(t, before.Properties["steps"], after.Properties["steps"])
	assert.Equal(t, before.Properties["timestamp"], after.Properties["timestamp"])
	assert.Equal(t, before.Properties["geo"], after.Properties["geo"])
}

func TestClear_KeepsUnmodeledAttributes(t *testing.T) {
	// Given: an index initialized from a complete mapping with analyzers,
	// multi-fields and a scaled float
	h := newLocalHandle(t)
	ctx := context.Background()
	src, err := schema.ParseSource([]byte(`{"mappings":{"properties":{
		"title":{"type":"text","analyzer":"english","fielddata":true,"fields":{"keyword":{"type":"keyword","ignore_above":256}}},
		"price":{"type":"scaled_float","scaling_factor":100}}}}`))
	require.NoError(t, err)
	require.NoError(t, h.Init(ctx, src))

	// When: clearing
	require.NoError(t, h.Clear(ctx))

	// Then: only the fielddata flag is gone
	after, err := h.GetMapping(ctx)
	require.NoError(t, err)
	data, err := json.Marshal(after)
	require.NoError(t, err)
	assert.JSONEq(t, `{"properties":{
		"title":{"type":"text","analyzer":"english","fields":{"keyword":{"type":"keyword","ignore_above":256}}},
		"price":{"type":"scaled_float","scaling_factor":100}}}`, string(data))
}

func TestClear_NotInitialized(t *testing.T) {
	h := newLocalHandle(t)

	err := h.Clear(context.Background())

	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestClear_EmptyMappingTouchesNothing(t *testing.T) {
	h, m := newMockHandle(t)
	m.On("GetMapping", mock.Anything, testIndex).Return(schema.NewMapping(), nil).Once()

	err := h.Clear(context.Background())

	assert.ErrorIs(t, err, ErrNotInitialized)
	m.AssertNotCalled(t, "DeleteIndex", mock.Anything, mock.Anything)
	m.AssertNotCalled(t, "CreateIndex", mock.Anything, mock.Anything)
}

func TestRemove_DeletesBothIndexes(t *testing.T) {
	// Given: an initialized index with config
	h := newLocalHandle(t)
	ctx := context.Background()
	require.NoError(t, h.Init(ctx, eventsHint()))
	require.NoError(t, h.SetConfig(ctx, store.Document{"a": 1}))

	// When: removing it
	require.NoError(t, h.Remove(ctx))

	// Then: neither index exists, and removing again is fine
	for _, name := range []string{h.Index(), h.ConfigIndex()} {
		ok, err := h.Store().IndexExists(ctx, name)
		require.NoError(t, err)
		assert.False(t, ok, name)
	}
	assert.NoError(t, h.Remove(ctx))
}

func TestRemove_PartialFailure(t *testing.T) {
	// Given: a store that fails to delete the config index
	h, m := newMockHandle(t)
	m.On("DeleteIndex", mock.Anything, testIndex).Return(nil).Once()
	m.On("DeleteIndex", mock.Anything, testConfigIndex).Return(errors.New("timeout")).Once()

	// When: removing
	err := h.Remove(context.Background())

	// Then: the partial failure is reported
	assert.ErrorIs(t, err, ErrPartialRemove)
	m.AssertExpectations(t)
}

func TestRemove_ActiveFailureStops(t *testing.T) {
	h, m := newMockHandle(t)
	m.On("DeleteIndex", mock.Anything, testIndex).Return(errors.New("refused")).Once()

	err := h.Remove(context.Background())

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPartialRemove)
	m.AssertNotCalled(t, "DeleteIndex", mock.Anything, testConfigIndex)
}
