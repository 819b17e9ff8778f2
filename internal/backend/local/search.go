package local

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/correl8/correl8/pkg/store"
)

// maxParallelSearches bounds the fan-out of MultiSearch.
const maxParallelSearches = 4

// scrollCursor remembers where a scrolled search stopped.
type scrollCursor struct {
	indexes []string
	query   store.Query
	next    int
	expires time.Time
}

// buildQuery translates a store query into a bleve query.
func buildQuery(q store.Query) query.Query {
	var parts []query.Query
	if len(q.IDs) > 0 {
		parts = append(parts, bleve.NewDocIDQuery(q.IDs))
	}
	if text := strings.TrimSpace(q.Text); text != "" && text != "*" {
		parts = append(parts, bleve.NewQueryStringQuery(text))
	}

	switch len(parts) {
	case 0:
		return bleve.NewMatchAllQuery()
	case 1:
		return parts[0]
	default:
		return bleve.NewConjunctionQuery(parts...)
	}
}

// Search implements store.Store. A non-zero q.Scroll opens a scroll context
// whose id is returned in the result.
func (s *Store) Search(ctx context.Context, indexes []string, q store.Query) (*store.SearchResult, error) {
	res, err := s.search(ctx, indexes, q, q.From)
	if err != nil {
		return nil, err
	}
	if q.Scroll > 0 {
		res.ScrollID = uuid.NewString()
		s.scrolls.Add(res.ScrollID, &scrollCursor{
			indexes: indexes,
			query:   q,
			next:    q.From + len(res.Hits),
			expires: now().Add(q.Scroll),
		})
	}
	return res, nil
}

func (s *Store) search(ctx context.Context, indexes []string, q store.Query, from int) (*store.SearchResult, error) {
	start := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}
	if len(indexes) == 0 {
		return nil, fmt.Errorf("%w: no index given", store.ErrIndexNotFound)
	}
	targets := make([]bleve.Index, 0, len(indexes))
	for _, name := range indexes {
		idx, err := s.get(name)
		if err != nil {
			return nil, err
		}
		targets = append(targets, idx.bleve)
	}

	req := bleve.NewSearchRequestOptions(buildQuery(q), q.PageSize(), from, false)
	if len(q.Sort) > 0 {
		req.SortBy(q.Sort)
	}

	var target bleve.Index = targets[0]
	if len(targets) > 1 {
		target = bleve.NewIndexAlias(targets...)
	}
	found, err := target.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	res := &store.SearchResult{
		Total: int(found.Total),
		Hits:  make([]store.Hit, 0, len(found.Hits)),
	}
	for _, hit := range found.Hits {
		index := hit.Index
		if index == "" {
			index = indexes[0]
		}
		src, err := s.catalog.getDocument(ctx, index, hit.ID)
		if err != nil {
			return nil, err
		}
		res.Hits = append(res.Hits, store.Hit{
			Index:  index,
			ID:     hit.ID,
			Score:  hit.Score,
			Source: src,
		})
	}
	res.Took = time.Since(start)
	return res, nil
}

// MultiSearch implements store.Store. Items run concurrently; results keep
// the order of items.
func (s *Store) MultiSearch(ctx context.Context, items []store.MultiSearchItem) ([]*store.SearchResult, error) {
	results := make([]*store.SearchResult, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelSearches)
	for i, item := range items {
		g.Go(func() error {
			res, err := s.search(gctx, []string{item.Header.Index}, item.Query, item.Query.From)
			if err != nil {
				return fmt.Errorf("msearch item %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Scroll implements store.Store.
func (s *Store) Scroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*store.SearchResult, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, store.ErrClosed
	}

	cur, ok := s.scrolls.Get(scrollID)
	if !ok || now().After(cur.expires) {
		s.scrolls.Remove(scrollID)
		return nil, fmt.Errorf("%w: %s", store.ErrScrollNotFound, scrollID)
	}

	res, err := s.search(ctx, cur.indexes, cur.query, cur.next)
	if err != nil {
		return nil, err
	}

	if keepAlive <= 0 {
		keepAlive = cur.query.Scroll
	}
	s.scrolls.Add(scrollID, &scrollCursor{
		indexes: cur.indexes,
		query:   cur.query,
		next:    cur.next + len(res.Hits),
		expires: now().Add(keepAlive),
	})
	res.ScrollID = scrollID
	return res, nil
}
