// Package store defines the port to the document store that holds indexes,
// mappings and documents.
//
// The correl8 handle only decides which schema to request and which timestamp
// to assign; everything durable lives behind the Store interface. Backends
// live under internal/backend: an embedded one built on bleve and SQLite, and
// a remote one speaking the Elasticsearch REST API.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/correl8/correl8/pkg/schema"
)

// Sentinel errors returned by every backend. Compare with errors.Is.
var (
	// ErrIndexNotFound is returned when an operation targets a missing index.
	ErrIndexNotFound = errors.New("index not found")
	// ErrIndexExists is returned by CreateIndex when the index already exists.
	ErrIndexExists = errors.New("index already exists")
	// ErrDocumentNotFound is returned by Update and Delete for a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrScrollNotFound is returned when a scroll id is unknown or expired.
	ErrScrollNotFound = errors.New("scroll context not found")
	// ErrMappingConflict is returned when a mapping update changes an existing field type.
	ErrMappingConflict = errors.New("mapping conflict")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store is closed")
)

// Document is a JSON object stored in an index.
type Document = map[string]any

// Store is a document-oriented search and storage engine.
type Store interface {
	// IndexExists reports whether the named index exists.
	IndexExists(ctx context.Context, index string) (bool, error)
	// CreateIndex creates an empty index with the store's default schema.
	CreateIndex(ctx context.Context, index string) error
	// DeleteIndex deletes an index and all its documents.
	DeleteIndex(ctx context.Context, index string) error
	// PutMapping adds the mapping's fields to the index mapping.
	PutMapping(ctx context.Context, index string, m schema.Mapping) error
	// GetMapping returns the current mapping of the index.
	GetMapping(ctx context.Context, index string) (schema.Mapping, error)

	// Index writes doc under id, replacing any existing document. An empty id
	// lets the store generate one. The stored id is returned.
	Index(ctx context.Context, index, id string, doc Document, opts WriteOptions) (string, error)
	// Update merges the fields of partial into an existing document.
	Update(ctx context.Context, index, id string, partial Document, opts WriteOptions) error
	// Delete removes a document.
	Delete(ctx context.Context, index, id string) error

	// Search runs a query against one or more indexes.
	Search(ctx context.Context, indexes []string, q Query) (*SearchResult, error)
	// MultiSearch runs several searches in one request.
	MultiSearch(ctx context.Context, items []MultiSearchItem) ([]*SearchResult, error)
	// Scroll fetches the next page of a scrolled search.
	Scroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*SearchResult, error)
	// Bulk applies a batch of index, update and delete actions.
	Bulk(ctx context.Context, ops []BulkOp, opts BulkOptions) (*BulkResult, error)

	// Close releases the connection to the store.
	Close() error
}

// WriteOptions tune single-document writes.
type WriteOptions struct {
	// Refresh makes the write visible to search before the call returns.
	Refresh bool
}

// Query is a search request.
type Query struct {
	// Text is a query-string expression ("field:value AND other"). Empty matches all.
	Text string `json:"q,omitempty"`
	// IDs restricts hits to these document ids.
	IDs []string `json:"ids,omitempty"`
	// Size is the page size. Zero uses DefaultSize.
	Size int `json:"size,omitempty"`
	// From is the offset of the first hit.
	From int `json:"from,omitempty"`
	// Sort lists fields to sort by; a leading "-" sorts descending.
	Sort []string `json:"sort,omitempty"`
	// Scroll, when non-zero, opens a scroll context kept alive this long.
	Scroll time.Duration `json:"-"`
}

// DefaultSize is the page size used when Query.Size is zero.
const DefaultSize = 10

// PageSize returns the effective page size.
func (q Query) PageSize() int {
	if q.Size <= 0 {
		return DefaultSize
	}
	return q.Size
}

// Hit is a single search hit.
type Hit struct {
	Index  string   `json:"_index"`
	ID     string   `json:"_id"`
	Score  float64  `json:"_score"`
	Source Document `json:"_source"`
}

// SearchResult is the response to a search or scroll request.
type SearchResult struct {
	Took     time.Duration `json:"took"`
	Total    int           `json:"total"`
	Hits     []Hit         `json:"hits"`
	ScrollID string        `json:"scroll_id,omitempty"`
}

// IDs returns the ids of all hits in order.
func (r *SearchResult) IDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		ids[i] = h.ID
	}
	return ids
}

// MultiSearchHeader scopes one multi-search body.
type MultiSearchHeader struct {
	Index string `json:"index"`
}

// MultiSearchItem is a header/body pair of a multi-search request.
type MultiSearchItem struct {
	Header MultiSearchHeader
	Query  Query
}

// BulkAction is the kind of a bulk operation.
type BulkAction string

const (
	BulkIndex  BulkAction = "index"
	BulkUpdate BulkAction = "update"
	BulkDelete BulkAction = "delete"
)

// BulkOp is one action of a bulk request.
type BulkOp struct {
	Action BulkAction `json:"action"`
	Index  string     `json:"index,omitempty"`
	ID     string     `json:"id,omitempty"`
	// Doc is the document for index and the partial document for update.
	Doc Document `json:"doc,omitempty"`
}

// BulkOptions tune a bulk request.
type BulkOptions struct {
	// Timeout is the server-side timeout for each action. Zero uses the store default.
	Timeout time.Duration
	// RequestTimeout bounds the whole request. Zero means no extra bound.
	RequestTimeout time.Duration
	// Refresh makes the writes visible to search before the call returns.
	Refresh bool
}

// BulkItem is the outcome of one bulk action.
type BulkItem struct {
	Action BulkAction `json:"action"`
	Index  string     `json:"index"`
	ID     string     `json:"id"`
	Status int        `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// BulkResult is the response to a bulk request.
type BulkResult struct {
	Took   time.Duration `json:"took"`
	Errors bool          `json:"errors"`
	Items  []BulkItem    `json:"items"`
}

// Failed returns the items that did not succeed.
func (r *BulkResult) Failed() []BulkItem {
	if r == nil {
		return nil
	}
	var failed []BulkItem
	for _, item := range r.Items {
		if item.Error != "" {
			failed = append(failed, item)
		}
	}
	return failed
}
