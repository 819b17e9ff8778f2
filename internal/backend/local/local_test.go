package local

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/correl8/correl8/internal/logging"
	"github.com/correl8/correl8/pkg/schema"
	"github.com/correl8/correl8/pkg/store"
)

func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func eventsMapping() schema.Mapping {
	return schema.Infer(schema.Hint{
		"title":  schema.Token(schema.TokenFullText),
		"device": schema.Token(schema.TokenString),
		"steps":  schema.Token("long"),
		"meta": schema.Nested(schema.Hint{
			"source": schema.Token(schema.TokenString),
		}),
	}).WithTimestamp(schema.DefaultTimestampField)
}

func seed(t *testing.T, s *Store, index string, docs map[string]store.Document) {
	t.Helper()
	ctx := context.Background()
	for id, doc := range docs {
		_, err := s.Index(ctx, index, id, doc, store.WriteOptions{Refresh: true})
		require.NoError(t, err)
	}
}

func TestIndexLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)

	// Given: no index
	exists, err := s.IndexExists(ctx, "correl8-events")
	require.NoError(t, err)
	assert.False(t, exists)

	// When: creating it twice
	require.NoError(t, s.CreateIndex(ctx, "correl8-events"))
	err = s.CreateIndex(ctx, "correl8-events")

	// Then: the second call reports it exists
	assert.ErrorIs(t, err, store.ErrIndexExists)
	exists, err = s.IndexExists(ctx, "correl8-events")
	require.NoError(t, err)
	assert.True(t, exists)

	// And: a fresh index has an empty mapping
	m, err := s.GetMapping(ctx, "correl8-events")
	require.NoError(t, err)
	assert.True(t, m.IsEmpty())

	// When: deleting it
	require.NoError(t, s.DeleteIndex(ctx, "correl8-events"))

	// Then: it is gone
	assert.ErrorIs(t, s.DeleteIndex(ctx, "correl8-events"), store.ErrIndexNotFound)
	_, err = s.GetMapping(ctx, "correl8-events")
	assert.ErrorIs(t, err, store.ErrIndexNotFound)
}

func TestCreateIndex_RejectsPathNames(t *testing.T) {
	s := newMemStore(t)

	for _, name := range []string{"", "..", "a/b", "a b"} {
		assert.Error(t, s.CreateIndex(context.Background(), name), name)
	}
}

func TestPutMapping_MergesAndDetectsConflicts(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	require.NoError(t, s.CreateIndex(ctx, "correl8-events"))

	// Given: the inferred mapping applied
	require.NoError(t, s.PutMapping(ctx, "correl8-events", eventsMapping()))

	// When: adding a field
	extra := schema.Infer(schema.Hint{"heart_rate": schema.Token("integer")})
	require.NoError(t, s.PutMapping(ctx, "correl8-events", extra))

	// Then: both sets are present
	m, err := s.GetMapping(ctx, "correl8-events")
	require.NoError(t, err)
	assert.Equal(t, "integer", m.Properties["heart_rate"].Type)
	assert.Equal(t, schema.TypeDate, m.Properties["timestamp"].Type)
	assert.Equal(t, schema.TypeKeyword, m.Properties["meta"].Properties["source"].Type)

	// When: changing a field type
	err = s.PutMapping(ctx, "correl8-events", schema.Infer(schema.Hint{"steps": schema.Token(schema.TokenFullText)}))

	// Then: the store refuses
	assert.ErrorIs(t, err, store.ErrMappingConflict)
	assert.Contains(t, err.Error(), `"steps"`)
}

func TestPutMapping_MissingIndex(t *testing.T) {
	s := newMemStore(t)

	err := s.PutMapping(context.Background(), "nope", eventsMapping())

	assert.ErrorIs(t, err, store.ErrIndexNotFound)
}

func TestIndex_GeneratesIDAndAutoCreates(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)

	id, err := s.Index(ctx, "correl8-events-config", "", store.Document{"a": "b"}, store.WriteOptions{})

	require.NoError(t, err)
	assert.Len(t, id, 36)
	exists, err := s.IndexExists(ctx, "correl8-events-config")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSearch_QueryStringIDsAndSort(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	require.NoError(t, s.CreateIndex(ctx, "correl8-events"))
	require.NoError(t, s.PutMapping(ctx, "correl8-events", eventsMapping()))
	seed(t, s, "correl8-events", map[string]store.Document{
		"1": {"title": "morning run in the park", "device": "watch", "steps": 1200, "timestamp": "2024-05-01T07:00:00.000Z"},
		"2": {"title": "evening walk", "device": "phone", "steps": 300, "timestamp": "2024-05-01T19:00:00.000Z"},
		"3": {"title": "long run", "device": "watch", "steps": 9000, "timestamp": "2024-05-02T07:00:00.000Z"},
	})

	t.Run("match all", func(t *testing.T) {
		res, err := s.Search(ctx, []string{"correl8-events"}, store.Query{})
		require.NoError(t, err)
		assert.Equal(t, 3, res.Total)
		assert.Len(t, res.Hits, 3)
	})

	t.Run("full text", func(t *testing.T) {
		res, err := s.Search(ctx, []string{"correl8-events"}, store.Query{Text: "title:run"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"1", "3"}, res.IDs())
	})

	t.Run("keyword", func(t *testing.T) {
		res, err := s.Search(ctx, []string{"correl8-events"}, store.Query{Text: "device:phone"})
		require.NoError(t, err)
		assert.Equal(t, []string{"2"}, res.IDs())
		assert.Equal(t, "evening walk", res.Hits[0].Source["title"])
		assert.Equal(t, "correl8-events", res.Hits[0].Index)
	})

	t.Run("ids and text", func(t *testing.T) {
		res, err := s.Search(ctx, []string{"correl8-events"}, store.Query{Text: "device:watch", IDs: []string{"1", "2"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"1"}, res.IDs())
	})

	t.Run("sort and page", func(t *testing.T) {
		res, err := s.Search(ctx, []string{"correl8-events"}, store.Query{Sort: []string{"-steps"}, Size: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"3", "1"}, res.IDs())
		assert.Equal(t, 3, res.Total)

		res, err = s.Search(ctx, []string{"correl8-events"}, store.Query{Sort: []string{"-steps"}, Size: 2, From: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"2"}, res.IDs())
	})

	t.Run("missing index", func(t *testing.T) {
		_, err := s.Search(ctx, []string{"nope"}, store.Query{})
		assert.ErrorIs(t, err, store.ErrIndexNotFound)
	})
}

func TestPutMapping_ReindexesExistingDocuments(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	seed(t, s, "correl8-events", map[string]store.Document{
		"1": {"device": "Watch-7"},
	})

	// When: the field becomes a keyword after the document was written
	require.NoError(t, s.PutMapping(ctx, "correl8-events",
		schema.Infer(schema.Hint{"device": schema.Token(schema.TokenString)})))

	// Then: the exact value matches and the document survived the rebuild
	res, err := s.Search(ctx, []string{"correl8-events"}, store.Query{Text: `device:"Watch-7"`})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, res.IDs())
}

func TestUpdate_MergesRecursively(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	seed(t, s, "c", map[string]store.Document{
		"settings": {"token": "old", "sync": map[string]any{"from": "2020", "to": "2021"}},
	})

	err := s.Update(ctx, "c", "settings", store.Document{"sync": map[string]any{"to": "2024"}, "extra": true}, store.WriteOptions{})
	require.NoError(t, err)

	res, err := s.Search(ctx, []string{"c"}, store.Query{IDs: []string{"settings"}})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, store.Document{
		"token": "old",
		"sync":  map[string]any{"from": "2020", "to": "2024"},
		"extra": true,
	}, res.Hits[0].Source)

	assert.ErrorIs(t, s.Update(ctx, "c", "missing", store.Document{}, store.WriteOptions{}), store.ErrDocumentNotFound)
	assert.ErrorIs(t, s.Update(ctx, "nope", "x", store.Document{}, store.WriteOptions{}), store.ErrIndexNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	seed(t, s, "c", map[string]store.Document{"1": {"a": 1}})

	require.NoError(t, s.Delete(ctx, "c", "1"))
	assert.ErrorIs(t, s.Delete(ctx, "c", "1"), store.ErrDocumentNotFound)

	res, err := s.Search(ctx, []string{"c"}, store.Query{})
	require.NoError(t, err)
	assert.Zero(t, res.Total)
}

func TestMultiSearch_KeepsOrder(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	seed(t, s, "a", map[string]store.Document{"1": {"k": "x"}, "2": {"k": "y"}})
	seed(t, s, "b", map[string]store.Document{"3": {"k": "x"}})

	results, err := s.MultiSearch(ctx, []store.MultiSearchItem{
		{Header: store.MultiSearchHeader{Index: "b"}, Query: store.Query{}},
		{Header: store.MultiSearchHeader{Index: "a"}, Query: store.Query{IDs: []string{"2"}}},
	})

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"3"}, results[0].IDs())
	assert.Equal(t, []string{"2"}, results[1].IDs())

	_, err = s.MultiSearch(ctx, []store.MultiSearchItem{{Header: store.MultiSearchHeader{Index: "nope"}}})
	assert.ErrorIs(t, err, store.ErrIndexNotFound)
}

func TestScroll_PagesThroughResults(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	seed(t, s, "c", map[string]store.Document{
		"1": {"n": 1}, "2": {"n": 2}, "3": {"n": 3}, "4": {"n": 4}, "5": {"n": 5},
	})

	// Given: a scrolled search with page size 2
	first, err := s.Search(ctx, []string{"c"}, store.Query{Size: 2, Sort: []string{"_id"}, Scroll: time.Minute})
	require.NoError(t, err)
	require.NotEmpty(t, first.ScrollID)

	// When: scrolling until exhausted
	seen := first.IDs()
	for {
		page, err := s.Scroll(ctx, first.ScrollID, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, first.ScrollID, page.ScrollID)
		if len(page.Hits) == 0 {
			break
		}
		seen = append(seen, page.IDs()...)
	}

	// Then: every document was returned once, in order
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, seen)
}

func TestScroll_Expired(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	seed(t, s, "c", map[string]store.Document{"1": {"n": 1}})

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	now = func() time.Time { return base }
	t.Cleanup(func() { now = time.Now })

	res, err := s.Search(ctx, []string{"c"}, store.Query{Scroll: time.Second})
	require.NoError(t, err)

	now = func() time.Time { return base.Add(time.Minute) }
	_, err = s.Scroll(ctx, res.ScrollID, time.Second)
	assert.ErrorIs(t, err, store.ErrScrollNotFound)

	_, err = s.Scroll(ctx, "unknown", time.Second)
	assert.ErrorIs(t, err, store.ErrScrollNotFound)
}

func TestBulk_ReportsPerItemOutcome(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	seed(t, s, "c", map[string]store.Document{"1": {"n": 1}})

	res, err := s.Bulk(ctx, []store.BulkOp{
		{Action: store.BulkIndex, Index: "c", ID: "2", Doc: store.Document{"n": 2}},
		{Action: store.BulkIndex, Index: "c", ID: "1", Doc: store.Document{"n": 10}},
		{Action: store.BulkUpdate, Index: "c", ID: "missing", Doc: store.Document{"n": 3}},
		{Action: store.BulkDelete, Index: "c", ID: "2"},
		{Action: store.BulkDelete, Index: "c", ID: "gone"},
	}, store.BulkOptions{RequestTimeout: time.Minute})

	require.NoError(t, err)
	require.Len(t, res.Items, 5)
	assert.Equal(t, http.StatusCreated, res.Items[0].Status)
	assert.Equal(t, http.StatusOK, res.Items[1].Status)
	assert.Equal(t, http.StatusNotFound, res.Items[2].Status)
	assert.NotEmpty(t, res.Items[2].Error)
	assert.Equal(t, http.StatusOK, res.Items[3].Status)
	assert.Equal(t, http.StatusNotFound, res.Items[4].Status)
	assert.Empty(t, res.Items[4].Error)
	assert.True(t, res.Errors)
	assert.Len(t, res.Failed(), 1)
}

func TestBulk_CancelledContext(t *testing.T) {
	s := newMemStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Bulk(ctx, []store.BulkOp{{Action: store.BulkIndex, Index: "c", Doc: store.Document{}}}, store.BulkOptions{})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestClose_RejectsFurtherCalls(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.IndexExists(ctx, "c")
	assert.ErrorIs(t, err, store.ErrClosed)
	_, err = s.Search(ctx, []string{"c"}, store.Query{})
	assert.ErrorIs(t, err, store.ErrClosed)
	_, err = s.Scroll(ctx, "x", time.Second)
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestDataDir_PersistsAndLocks(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// Given: a store with a mapped index and a document
	s, err := Open(ctx, Options{DataDir: dir, Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, s.CreateIndex(ctx, "correl8-events"))
	require.NoError(t, s.PutMapping(ctx, "correl8-events", eventsMapping()))
	_, err = s.Index(ctx, "correl8-events", "1", store.Document{"device": "watch"}, store.WriteOptions{})
	require.NoError(t, err)

	// Then: a second store on the same directory is refused
	_, err = Open(ctx, Options{DataDir: dir, Logger: logging.Discard()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in use")

	// When: reopening after close
	require.NoError(t, s.Close())
	s2, err := Open(ctx, Options{DataDir: dir, Logger: logging.Discard()})
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	// Then: mapping and documents are back
	m, err := s2.GetMapping(ctx, "correl8-events")
	require.NoError(t, err)
	assert.Equal(t, schema.TypeKeyword, m.Properties["device"].Type)

	res, err := s2.Search(ctx, []string{"correl8-events"}, store.Query{Text: "device:watch"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, res.IDs())
}

func TestMergeDocuments_DoesNotMutateInputs(t *testing.T) {
	base := store.Document{"a": map[string]any{"b": 1}}
	partial := store.Document{"a": map[string]any{"c": 2}}

	out := mergeDocuments(base, partial)

	assert.Equal(t, store.Document{"a": map[string]any{"b": 1, "c": 2}}, out)
	assert.Equal(t, store.Document{"a": map[string]any{"b": 1}}, base)
}

func TestPutMapping_FailedRebuildKeepsPreviousMapping(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// Given: a persisted index with a mapping and a document
	s, err := Open(ctx, Options{DataDir: dir, Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, s.CreateIndex(ctx, "correl8-events"))
	require.NoError(t, s.PutMapping(ctx, "correl8-events", eventsMapping()))
	_, err = s.Index(ctx, "correl8-events", "1", store.Document{"device": "watch"}, store.WriteOptions{})
	require.NoError(t, err)

	// When: a mapping update cannot reindex the documents
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = s.PutMapping(cancelled, "correl8-events", schema.Infer(schema.Hint{"battery": schema.Token("integer")}))
	require.Error(t, err)

	// Then: the index is still served with its previous mapping
	m, err := s.GetMapping(ctx, "correl8-events")
	require.NoError(t, err)
	assert.NotContains(t, m.Properties, "battery")
	res, err := s.Search(ctx, []string{"correl8-events"}, store.Query{Text: "device:watch"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, res.IDs())

	// And: the catalog agrees after a reopen
	require.NoError(t, s.Close())
	s2, err := Open(ctx, Options{DataDir: dir, Logger: logging.Discard()})
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()
	m, err = s2.GetMapping(ctx, "correl8-events")
	require.NoError(t, err)
	assert.NotContains(t, m.Properties, "battery")
	assert.Equal(t, schema.TypeKeyword, m.Properties["device"].Type)
}

func TestPutMapping_KeepsUnmodeledAttributes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, Options{DataDir: dir, Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, s.CreateIndex(ctx, "correl8-shop"))
	src, err := schema.ParseSource([]byte(`{"mappings":{"dynamic":"strict","properties":{
		"title":{"type":"text","analyzer":"english","fields":{"raw":{"type":"keyword","ignore_above":256}}},
		"price":{"type":"scaled_float","scaling_factor":100}}}}`))
	require.NoError(t, err)
	require.NoError(t, s.PutMapping(ctx, "correl8-shop", src.(schema.Mapping)))
	require.NoError(t, s.Close())

	s2, err := Open(ctx, Options{DataDir: dir, Logger: logging.Discard()})
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()
	m, err := s2.GetMapping(ctx, "correl8-shop")
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dynamic":"strict","properties":{
		"title":{"type":"text","analyzer":"english","fields":{"raw":{"type":"keyword","ignore_above":256}}},
		"price":{"type":"scaled_float","scaling_factor":100}}}`, string(data))
}
