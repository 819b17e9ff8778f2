package correl8

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/correl8/correl8/internal/telemetry"
	"github.com/correl8/correl8/pkg/store"
	"github.com/correl8/correl8/pkg/timestamp"
)

var fixedNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedWindow() *timestamp.Window {
	w := timestamp.Default()
	w.Now = func() time.Time { return fixedNow }
	return w
}

// getSource reads a document back by id.
func getSource(t *testing.T, h *Handle, id string) store.Document {
	t.Helper()
	res, err := h.Search(context.Background(), store.Query{IDs: []string{id}})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	return res.Hits[0].Source
}

func TestInsert_RequiresInit(t *testing.T) {
	// Given: a handle whose index was never initialized
	h := newLocalHandle(t)
	ctx := context.Background()

	// When: inserting
	_, err := h.Insert(ctx, store.Document{"device": "watch"})

	// Then: the caller is told to initialize and nothing is auto-created
	assert.ErrorIs(t, err, ErrNotInitialized)
	ok, err := h.IsInitialized(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInsert_NormalizesTimestamps(t *testing.T) {
	h := newLocalHandle(t, WithNormalizer(fixedWindow()))
	ctx := context.Background()
	require.NoError(t, h.Init(ctx, eventsHint()))

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"iso string", "2023-06-01T12:30:00Z", "2023-06-01T12:30:00.000Z"},
		{"epoch millis", float64(1700000000000), "2023-11-14T22:13:20.000Z"},
		{"epoch seconds", 1700000000, "2023-11-14T22:13:20.000Z"},
		{"numeric string", "1700000000", "2023-11-14T22:13:20.000Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := h.Insert(ctx, store.Document{"timestamp": tt.value, "device": "watch"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, getSource(t, h, id)["timestamp"])
		})
	}
}

func TestInsert_TimestampFallback(t *testing.T) {
	// Given: a record with an unusable timestamp
	rec := telemetry.New()
	h := newLocalHandle(t, WithTelemetry(rec))
	ctx := context.Background()
	require.NoError(t, h.Init(ctx, eventsHint()))
	doc := store.Document{"timestamp": "yesterday-ish"}

	// When: inserting it
	before := time.Now().Add(-time.Second)
	id, err := h.Insert(ctx, doc)
	require.NoError(t, err)

	// Then: it is stamped with the current time and counted
	got, err := time.Parse(time.RFC3339, getSource(t, h, id)["timestamp"].(string))
	require.NoError(t, err)
	assert.True(t, got.After(before))
	assert.Equal(t, "yesterday-ish", doc["timestamp"], "caller's document is not modified")

	var buf strings.Builder
	require.NoError(t, rec.WriteText(&buf))
	assert.Contains(t, buf.String(), `correl8_timestamp_fallbacks_total{index="correl8-events"} 1`)
	assert.Contains(t, buf.String(), `correl8_store_operations_total{index="correl8-events",operation="insert",result="ok"} 1`)
}

func TestInsert_MissingTimestampUsesNow(t *testing.T) {
	rec := telemetry.New()
	h := newLocalHandle(t, WithTelemetry(rec))
	ctx := context.Background()
	require.NoError(t, h.Init(ctx, eventsHint()))

	id, err := h.Insert(ctx, store.Document{"device": "phone"})

	require.NoError(t, err)
	assert.NotEmpty(t, getSource(t, h, id)["timestamp"])
	var buf strings.Builder
	require.NoError(t, rec.WriteText(&buf))
	assert.NotContains(t, buf.String(), "correl8_timestamp_fallbacks_total{")
}

func TestInsert_EmptyTimestampUsesNowSilently(t *testing.T) {
	// Given: records whose timestamp is present but empty or zero
	rec := telemetry.New()
	h := newLocalHandle(t, WithTelemetry(rec))
	ctx := context.Background()
	require.NoError(t, h.Init(ctx, eventsHint()))

	// When: inserting them
	before := time.Now().Add(-time.Second)
	for _, v := range []any{"", 0, float64(0)} {
		id, err := h.Insert(ctx, store.Document{"timestamp": v, "device": "phone"})
		require.NoError(t, err)

		got, err := time.Parse(time.RFC3339, getSource(t, h, id)["timestamp"].(string))
		require.NoError(t, err)
		assert.True(t, got.After(before), "%#v", v)
	}

	// Then: none of them counts as a fallback
	var buf strings.Builder
	require.NoError(t, rec.WriteText(&buf))
	assert.NotContains(t, buf.String(), "correl8_timestamp_fallbacks_total{")
}

func TestInsert_ExactMillisecondTimestamp(t *testing.T) {
	h := newLocalHandle(t, WithNormalizer(fixedWindow()))
	ctx := context.Background()
	require.NoError(t, h.Init(ctx, eventsHint()))

	id, err := h.Insert(ctx, store.Document{"timestamp": int64(1700000000001), "device": "watch"})
	require.NoError(t, err)

	assert.Equal(t, "2023-11-14T22:13:20.001Z", getSource(t, h, id)["timestamp"])
}

func TestInsert_UpsertByID(t *testing.T) {
	// Given: two inserts with the same id
	h := newLocalHandle(t)
	ctx := context.Background()
	require.NoError(t, h.Init(ctx, eventsHint()))

	id, err := h.Insert(ctx, store.Document{"id": "day-1", "steps": 100})
	require.NoError(t, err)
	_, err = h.Insert(ctx, store.Document{"id": "day-1", "steps": 200})
	require.NoError(t, err)

	// Then: one document with the second body remains
	assert.Equal(t, "day-1", id)
	res, err := h.Search(ctx, store.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.InDelta(t, 200, res.Hits[0].Source["steps"], 0)
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "", DocumentID(store.Document{}))
	assert.Equal(t, "abc", DocumentID(store.Document{"id": "abc"}))
	assert.Equal(t, "42", DocumentID(store.Document{"id": float64(42)}))
	assert.Equal(t, "7", DocumentID(store.Document{"id": 7}))
}

func TestBulk_ScopesAndTimeout(t *testing.T) {
	// Given: ops with and without an index
	h, m := newMockHandle(t, WithBulkTimeout(10*time.Minute))
	ops := []store.BulkOp{
		{Action: store.BulkIndex, Doc: store.Document{"a": 1}},
		{Action: store.BulkDelete, Index: "other", ID: "2"},
	}
	m.On("Bulk", mock.Anything, []store.BulkOp{
		{Action: store.BulkIndex, Index: testIndex, Doc: store.Document{"a": 1}},
		{Action: store.BulkDelete, Index: "other", ID: "2"},
	}, store.BulkOptions{Timeout: 30 * time.Second, RequestTimeout: 10 * time.Minute}).
		Return(&store.BulkResult{}, nil).Once()

	// When: sending them with a timeout
	_, err := h.Bulk(context.Background(), ops, 30*time.Second)

	// Then: the active index and the bulk ceiling are applied, input untouched
	require.NoError(t, err)
	assert.Empty(t, ops[0].Index)
	m.AssertExpectations(t)
}

func TestBulk_NoTimeout(t *testing.T) {
	h, m := newMockHandle(t)
	m.On("Bulk", mock.Anything, mock.Anything, store.BulkOptions{}).Return(&store.BulkResult{}, nil).Once()

	_, err := h.Bulk(context.Background(), []store.BulkOp{{Action: store.BulkDelete, ID: "1"}}, 0)

	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestDeleteMany_NoHitsNoBulk(t *testing.T) {
	// Given: a query without hits
	h, m := newMockHandle(t)
	q := store.Query{Text: "device:none"}
	m.On("Search", mock.Anything, []string{testIndex}, q).Return(&store.SearchResult{}, nil).Once()

	// When: deleting by query
	res, err := h.DeleteMany(context.Background(), q)

	// Then: nothing is sent and nothing fails
	require.NoError(t, err)
	assert.Nil(t, res)
	m.AssertNotCalled(t, "Bulk", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteMany(t *testing.T) {
	h := newLocalHandle(t)
	ctx := context.Background()
	require.NoError(t, h.Init(ctx, eventsHint()))
	for _, d := range []string{"watch", "watch", "phone"} {
		_, err := h.Insert(ctx, store.Document{"device": d})
		require.NoError(t, err)
	}

	res, err := h.DeleteMany(ctx, store.Query{Text: "device:watch"})

	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Empty(t, res.Failed())
	left, err := h.Search(ctx, store.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, left.Total)
	assert.Equal(t, "phone", left.Hits[0].Source["device"])
}

func TestDeleteOne(t *testing.T) {
	h := newLocalHandle(t)
	ctx := context.Background()
	require.NoError(t, h.Init(ctx, eventsHint()))
	id, err := h.Insert(ctx, store.Document{"device": "watch"})
	require.NoError(t, err)

	require.NoError(t, h.DeleteOne(ctx, id))

	assert.ErrorIs(t, h.DeleteOne(ctx, id), store.ErrDocumentNotFound)
}

func TestSearch_MissingIndex(t *testing.T) {
	h := newLocalHandle(t)

	_, err := h.Search(context.Background(), store.Query{})

	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestMSearch_RepeatsIndexHeader(t *testing.T) {
	h, m := newMockHandle(t)
	queries := []store.Query{{Text: "a:1"}, {Text: "b:2"}}
	m.On("MultiSearch", mock.Anything, []store.MultiSearchItem{
		{Header: store.MultiSearchHeader{Index: testIndex}, Query: queries[0]},
		{Header: store.MultiSearchHeader{Index: testIndex}, Query: queries[1]},
	}).Return([]*store.SearchResult{{}, {}}, nil).Once()

	res, err := h.MSearch(context.Background(), queries)

	require.NoError(t, err)
	assert.Len(t, res, 2)
	m.AssertExpectations(t)
}

func TestScroll(t *testing.T) {
	// Given: five records
	h := newLocalHandle(t)
	ctx := context.Background()
	require.NoError(t, h.Init(ctx, eventsHint()))
	for i := range 5 {
		_, err := h.Insert(ctx, store.Document{"steps": i})
		require.NoError(t, err)
	}

	// When: scrolling two at a time
	first, err := h.StartScroll(ctx, store.Query{Size: 2}, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, first.ScrollID)
	seen := len(first.Hits)
	for {
		page, err := h.Scroll(ctx, first.ScrollID, time.Minute)
		require.NoError(t, err)
		if len(page.Hits) == 0 {
			break
		}
		seen += len(page.Hits)
	}

	// Then: every record is visited once
	assert.Equal(t, 5, seen)
}
