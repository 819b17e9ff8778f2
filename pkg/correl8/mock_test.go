package correl8

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/correl8/correl8/internal/backend/local"
	"github.com/correl8/correl8/internal/logging"
	"github.com/correl8/correl8/pkg/schema"
	"github.com/correl8/correl8/pkg/store"
)

// mockStore is a testify mock of store.Store.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) IndexExists(ctx context.Context, index string) (bool, error) {
	args := m.Called(ctx, index)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) CreateIndex(ctx context.Context, index string) error {
	return m.Called(ctx, index).Error(0)
}

func (m *mockStore) DeleteIndex(ctx context.Context, index string) error {
	return m.Called(ctx, index).Error(0)
}

func (m *mockStore) PutMapping(ctx context.Context, index string, mp schema.Mapping) error {
	return m.Called(ctx, index, mp).Error(0)
}

func (m *mockStore) GetMapping(ctx context.Context, index string) (schema.Mapping, error) {
	args := m.Called(ctx, index)
	return args.Get(0).(schema.Mapping), args.Error(1)
}

func (m *mockStore) Index(ctx context.Context, index, id string, doc store.Document, opts store.WriteOptions) (string, error) {
	args := m.Called(ctx, index, id, doc, opts)
	return args.String(0), args.Error(1)
}

func (m *mockStore) Update(ctx context.Context, index, id string, partial store.Document, opts store.WriteOptions) error {
	return m.Called(ctx, index, id, partial, opts).Error(0)
}

func (m *mockStore) Delete(ctx context.Context, index, id string) error {
	return m.Called(ctx, index, id).Error(0)
}

func (m *mockStore) Search(ctx context.Context, indexes []string, q store.Query) (*store.SearchResult, error) {
	args := m.Called(ctx, indexes, q)
	res, _ := args.Get(0).(*store.SearchResult)
	return res, args.Error(1)
}

func (m *mockStore) MultiSearch(ctx context.Context, items []store.MultiSearchItem) ([]*store.SearchResult, error) {
	args := m.Called(ctx, items)
	res, _ := args.Get(0).([]*store.SearchResult)
	return res, args.Error(1)
}

func (m *mockStore) Scroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*store.SearchResult, error) {
	args := m.Called(ctx, scrollID, keepAlive)
	res, _ := args.Get(0).(*store.SearchResult)
	return res, args.Error(1)
}

func (m *mockStore) Bulk(ctx context.Context, ops []store.BulkOp, opts store.BulkOptions) (*store.BulkResult, error) {
	args := m.Called(ctx, ops, opts)
	res, _ := args.Get(0).(*store.BulkResult)
	return res, args.Error(1)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}

const (
	testIndex       = "correl8-events"
	testConfigIndex = "correl8-events-config"
)

// newMockHandle returns a handle over a mock whose config index already
// exists, with the bootstrap finished.
func newMockHandle(t *testing.T, opts ...Option) (*Handle, *mockStore) {
	t.Helper()
	m := &mockStore{}
	m.On("IndexExists", mock.Anything, testConfigIndex).Return(true, nil).Once()
	m.On("Close").Return(nil).Maybe()

	opts = append([]Option{WithBaseName("Correl8"), WithStore(m), WithLogger(logging.Discard())}, opts...)
	h, err := New(context.Background(), "Events", opts...)
	require.NoError(t, err)
	require.NoError(t, h.WaitBootstrap(context.Background()))
	t.Cleanup(func() { _ = h.Close() })
	return h, m
}

// newLocalHandle returns a handle over an in-memory local store.
func newLocalHandle(t *testing.T, opts ...Option) *Handle {
	t.Helper()
	s, err := local.Open(context.Background(), local.Options{Logger: logging.Discard()})
	require.NoError(t, err)

	opts = append([]Option{WithBaseName("Correl8"), WithStore(s), WithLogger(logging.Discard())}, opts...)
	h, err := New(context.Background(), "Events", opts...)
	require.NoError(t, err)
	require.NoError(t, h.WaitBootstrap(context.Background()))
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// eventsHint declares one field of each kind.
func eventsHint() schema.Hint {
	return schema.Hint{
		"device": schema.Token(schema.TokenString),
		"note":   schema.Token(schema.TokenFullText),
		"steps":  schema.Token("long"),
		"geo": schema.Nested(schema.Hint{
			"city": schema.Token(schema.TokenString),
		}),
	}
}
