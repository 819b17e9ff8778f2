// Package local is an embedded store.Store: one bleve index per store index
// for search, with mappings and document sources kept in a SQLite catalog.
//
// With an empty data directory everything lives in memory, which is what the
// tests use. With a data directory the catalog and indexes persist and a file
// lock keeps other processes out.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/correl8/correl8/pkg/schema"
	"github.com/correl8/correl8/pkg/store"
)

// DefaultMaxScrolls bounds the number of open scroll contexts.
const DefaultMaxScrolls = 256

// Options configure the embedded store.
type Options struct {
	// DataDir holds catalog.db and the bleve indexes. Empty means in memory.
	DataDir string
	// MaxScrolls bounds open scroll contexts; the least recently used is dropped.
	MaxScrolls int
	Logger     *slog.Logger
}

// Store implements store.Store on bleve and SQLite.
type Store struct {
	opts    Options
	logger  *slog.Logger
	catalog *catalog
	lock    *dirLock
	scrolls *lru.Cache[string, *scrollCursor]

	mu      sync.RWMutex
	indexes map[string]*localIndex
	closed  bool
}

// localIndex is one store index.
type localIndex struct {
	name    string
	mapping schema.Mapping
	bleve   bleve.Index
}

// Open opens (or creates) an embedded store.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxScrolls <= 0 {
		opts.MaxScrolls = DefaultMaxScrolls
	}

	s := &Store{
		opts:    opts,
		logger:  opts.Logger,
		indexes: make(map[string]*localIndex),
	}

	if opts.DataDir != "" {
		s.lock = newDirLock(opts.DataDir)
		if err := s.lock.tryLock(); err != nil {
			return nil, err
		}
	}

	cat, err := openCatalog(opts.DataDir)
	if err != nil {
		_ = s.releaseLock()
		return nil, err
	}
	s.catalog = cat

	scrolls, err := lru.New[string, *scrollCursor](opts.MaxScrolls)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create scroll cache: %w", err)
	}
	s.scrolls = scrolls

	if err := s.load(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// load opens the bleve index of every cataloged index.
func (s *Store) load(ctx context.Context) error {
	rows, err := s.catalog.listIndexes(ctx)
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}
	for _, row := range rows {
		idx, err := s.openBleve(ctx, row.name, row.mapping)
		if err != nil {
			return err
		}
		s.indexes[row.name] = idx
	}
	if len(rows) > 0 {
		s.logger.Debug("local_store_loaded",
			slog.String("data_dir", s.opts.DataDir),
			slog.Int("indexes", len(rows)))
	}
	return nil
}

// openBleve opens a persisted bleve index, rebuilding it from the catalog if it
// is missing or unreadable.
func (s *Store) openBleve(ctx context.Context, name string, m schema.Mapping) (*localIndex, error) {
	if s.opts.DataDir == "" {
		return s.rebuild(ctx, name, m, nil)
	}

	b, err := bleve.Open(s.blevePath(name))
	if err == nil {
		b.SetName(name)
		return &localIndex{name: name, mapping: m, bleve: b}, nil
	}

	s.logger.Warn("local_index_rebuilt",
		slog.String("index", name),
		slog.String("reason", err.Error()))
	return s.rebuild(ctx, name, m, nil)
}

// rebuild replaces the bleve index of name with a fresh one using mapping m and
// reindexes every cataloged document. prev, if set, is closed first.
func (s *Store) rebuild(ctx context.Context, name string, m schema.Mapping, prev *localIndex) (*localIndex, error) {
	if prev != nil && prev.bleve != nil {
		_ = prev.bleve.Close()
	}

	im := buildIndexMapping(m)
	var (
		b   bleve.Index
		err error
	)
	if s.opts.DataDir == "" {
		b, err = bleve.NewMemOnly(im)
	} else {
		path := s.blevePath(name)
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("failed to clear index %s: %w", name, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		b, err = bleve.New(path, im)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create index %s: %w", name, err)
	}
	b.SetName(name)

	batch := b.NewBatch()
	err = s.catalog.eachDocument(ctx, name, func(id string, doc store.Document) error {
		return batch.Index(id, doc)
	})
	if err == nil && batch.Size() > 0 {
		err = b.Batch(batch)
	}
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to reindex %s: %w", name, err)
	}
	return &localIndex{name: name, mapping: m, bleve: b}, nil
}

func (s *Store) blevePath(name string) string {
	return filepath.Join(s.opts.DataDir, "indexes", name+".bleve")
}

// validateIndexName rejects names that cannot be used as a directory name.
func validateIndexName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\ "*<>?|#,`) {
		return fmt.Errorf("invalid index name %q", name)
	}
	return nil
}

// get returns the index or store.ErrIndexNotFound. Callers hold s.mu.
func (s *Store) get(name string) (*localIndex, error) {
	if s.closed {
		return nil, store.ErrClosed
	}
	idx, ok := s.indexes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrIndexNotFound, name)
	}
	return idx, nil
}

// IndexExists implements store.Store.
func (s *Store) IndexExists(_ context.Context, index string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, store.ErrClosed
	}
	_, ok := s.indexes[index]
	return ok, nil
}

// CreateIndex implements store.Store.
func (s *Store) CreateIndex(ctx context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(ctx, index)
}

func (s *Store) createLocked(ctx context.Context, index string) error {
	if s.closed {
		return store.ErrClosed
	}
	if err := validateIndexName(index); err != nil {
		return err
	}
	if _, ok := s.indexes[index]; ok {
		return fmt.Errorf("%w: %s", store.ErrIndexExists, index)
	}
	if err := s.catalog.createIndex(ctx, index); err != nil {
		return fmt.Errorf("failed to create index %s: %w", index, err)
	}

	idx, err := s.rebuild(ctx, index, schema.NewMapping(), nil)
	if err != nil {
		_ = s.catalog.deleteIndex(ctx, index)
		return err
	}
	s.indexes[index] = idx

	s.logger.Debug("local_index_created", slog.String("index", index))
	return nil
}

// DeleteIndex implements store.Store.
func (s *Store) DeleteIndex(ctx context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.get(index)
	if err != nil {
		return err
	}
	if err := s.catalog.deleteIndex(ctx, index); err != nil {
		return fmt.Errorf("failed to delete index %s: %w", index, err)
	}
	_ = idx.bleve.Close()
	if s.opts.DataDir != "" {
		_ = os.RemoveAll(s.blevePath(index))
	}
	delete(s.indexes, index)

	s.logger.Debug("local_index_deleted", slog.String("index", index))
	return nil
}

// PutMapping implements store.Store. The bleve index is rebuilt with the
// merged mapping so existing documents pick up the new field types.
func (s *Store) PutMapping(ctx context.Context, index string, m schema.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.get(index)
	if err != nil {
		return err
	}
	merged, err := mergeMapping(idx.mapping, m)
	if err != nil {
		return err
	}

	rebuilt, err := s.rebuild(ctx, index, merged, idx)
	if err != nil {
		s.restore(ctx, index, idx.mapping, nil)
		return err
	}
	if err := s.catalog.putMapping(ctx, index, merged); err != nil {
		s.restore(ctx, index, idx.mapping, rebuilt)
		return fmt.Errorf("failed to store mapping of %s: %w", index, err)
	}
	s.indexes[index] = rebuilt

	s.logger.Debug("local_mapping_updated",
		slog.String("index", index),
		slog.Int("fields", len(merged.Properties)))
	return nil
}

// restore rebuilds index with the mapping the catalog still holds after a
// failed PutMapping. Callers hold s.mu.
func (s *Store) restore(ctx context.Context, name string, m schema.Mapping, open *localIndex) {
	idx, err := s.rebuild(context.WithoutCancel(ctx), name, m, open)
	if err == nil {
		s.indexes[name] = idx
		return
	}
	// Unreachable until the store is reopened and rebuilds it from the catalog.
	delete(s.indexes, name)
	s.logger.Error("local_index_restore_failed",
		slog.String("index", name),
		slog.String("error", err.Error()))
}

// GetMapping implements store.Store.
func (s *Store) GetMapping(_ context.Context, index string) (schema.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, err := s.get(index)
	if err != nil {
		return schema.Mapping{}, err
	}
	return idx.mapping.Clone(), nil
}

// Close implements store.Store. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for _, idx := range s.indexes {
		if err := idx.bleve.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.scrolls != nil {
		s.scrolls.Purge()
	}
	if s.catalog != nil {
		if err := s.catalog.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.releaseLock(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Store) releaseLock() error {
	if s.lock == nil {
		return nil
	}
	return s.lock.unlock()
}

var _ store.Store = (*Store)(nil)

// now is replaced in tests.
var now = time.Now
