package correl8

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"github.com/correl8/correl8/pkg/schema"
	"github.com/correl8/correl8/pkg/store"
	"github.com/correl8/correl8/pkg/timestamp"
)

// idField is the record field used as the document id.
const idField = "id"

// Insert writes doc to the active index and returns its id. The index must
// exist. The timestamp field is normalized: a missing one is set to the
// current time, an unparseable one too, with a warning. A non-empty "id"
// field is used as the document id, replacing any document with that id.
// doc is not modified.
func (h *Handle) Insert(ctx context.Context, doc store.Document) (id string, err error) {
	if err := h.checkOpen(); err != nil {
		return "", err
	}
	start := time.Now()
	defer func() { h.observe(h.index, "insert", start, err) }()

	exists, err := h.s.store.IndexExists(ctx, h.index)
	if err != nil {
		return "", h.storeErr(h.index, err)
	}
	if !exists {
		return "", h.storeErr(h.index, store.ErrIndexNotFound)
	}

	record := maps.Clone(doc)
	if record == nil {
		record = store.Document{}
	}
	record[schema.DefaultTimestampField] = timestamp.Format(h.normalizeTimestamp(record[schema.DefaultTimestampField]))

	id, err = h.s.store.Index(ctx, h.index, DocumentID(record), record, store.WriteOptions{})
	if err != nil {
		return "", h.storeErr(h.index, err)
	}
	return id, nil
}

// normalizeTimestamp resolves v, falling back to the current time. Only a
// value that is present but unusable counts as a fallback.
func (h *Handle) normalizeTimestamp(v any) time.Time {
	if timestamp.Unset(v) {
		return time.Now()
	}
	if t, ok := h.s.normalizer.Normalize(v); ok {
		return t
	}
	h.s.logger.Warn("timestamp_fallback",
		slog.String("index", h.index),
		slog.String("value", fmt.Sprint(v)))
	h.s.telemetry.TimestampFallback(h.index)
	return time.Now()
}

// DocumentID returns the id field of doc as a string, or "" to let the store
// choose one.
func DocumentID(doc store.Document) string {
	switch v := doc[idField].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Bulk sends ops in one request. Ops without an index target the active
// index. A non-zero timeout is passed to the store as the server-side timeout
// and the request deadline is raised to the bulk timeout.
func (h *Handle) Bulk(ctx context.Context, ops []store.BulkOp, timeout time.Duration) (res *store.BulkResult, err error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { h.observe(h.index, "bulk", start, err) }()

	scoped := make([]store.BulkOp, len(ops))
	for i, op := range ops {
		if op.Index == "" {
			op.Index = h.index
		}
		scoped[i] = op
	}

	var opts store.BulkOptions
	if timeout > 0 {
		opts.Timeout = timeout
		opts.RequestTimeout = max(h.s.bulkTimeout, timeout)
	}

	res, err = h.s.store.Bulk(ctx, scoped, opts)
	if err != nil {
		return nil, h.storeErr(h.index, err)
	}
	return res, nil
}

// DeleteOne deletes the document with id from the active index.
func (h *Handle) DeleteOne(ctx context.Context, id string) (err error) {
	if err := h.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { h.observe(h.index, "delete", start, err) }()

	return h.storeErr(h.index, h.s.store.Delete(ctx, h.index, id))
}

// DeleteMany deletes every document of the first page of q's hits in one
// bulk request. With no hits no request is sent and the result is nil.
func (h *Handle) DeleteMany(ctx context.Context, q store.Query) (*store.BulkResult, error) {
	found, err := h.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(found.Hits) == 0 {
		return nil, nil
	}

	ops := make([]store.BulkOp, 0, len(found.Hits))
	for _, hit := range found.Hits {
		ops = append(ops, store.BulkOp{Action: store.BulkDelete, Index: hit.Index, ID: hit.ID})
	}
	return h.Bulk(ctx, ops, 0)
}

// Search runs q against the active index.
func (h *Handle) Search(ctx context.Context, q store.Query) (res *store.SearchResult, err error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { h.observe(h.index, "search", start, err) }()

	res, err = h.s.store.Search(ctx, []string{h.index}, q)
	if err != nil {
		return nil, h.storeErr(h.index, err)
	}
	return res, nil
}

// MSearch runs several queries against the active index in one request.
// Results are in the order of queries.
func (h *Handle) MSearch(ctx context.Context, queries []store.Query) (res []*store.SearchResult, err error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { h.observe(h.index, "msearch", start, err) }()

	items := make([]store.MultiSearchItem, len(queries))
	for i, q := range queries {
		items[i] = store.MultiSearchItem{
			Header: store.MultiSearchHeader{Index: h.index},
			Query:  q,
		}
	}
	res, err = h.s.store.MultiSearch(ctx, items)
	if err != nil {
		return nil, h.storeErr(h.index, err)
	}
	return res, nil
}

// StartScroll runs q against the active index and keeps a scroll context
// alive for keepAlive. Use the ScrollID of the result with Scroll.
func (h *Handle) StartScroll(ctx context.Context, q store.Query, keepAlive time.Duration) (*store.SearchResult, error) {
	if keepAlive <= 0 {
		keepAlive = time.Minute
	}
	q.Scroll = keepAlive
	return h.Search(ctx, q)
}

// Scroll fetches the next page of a scroll started with StartScroll.
func (h *Handle) Scroll(ctx context.Context, scrollID string, keepAlive time.Duration) (res *store.SearchResult, err error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { h.observe(h.index, "scroll", start, err) }()

	res, err = h.s.store.Scroll(ctx, scrollID, keepAlive)
	if err != nil {
		return nil, h.storeErr(h.index, err)
	}
	return res, nil
}
