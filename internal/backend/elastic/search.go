package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	cerrors "github.com/correl8/correl8/internal/errors"
	"github.com/correl8/correl8/pkg/store"
)

// searchBody renders a store query as a search request body.
func searchBody(q store.Query) map[string]any {
	var must []any
	if len(q.IDs) > 0 {
		must = append(must, map[string]any{"ids": map[string]any{"values": q.IDs}})
	}
	if text := strings.TrimSpace(q.Text); text != "" {
		must = append(must, map[string]any{"query_string": map[string]any{"query": text}})
	}

	var query any
	switch len(must) {
	case 0:
		query = map[string]any{"match_all": map[string]any{}}
	case 1:
		query = must[0]
	default:
		query = map[string]any{"bool": map[string]any{"must": must}}
	}

	body := map[string]any{
		"query": query,
		"size":  q.PageSize(),
	}
	if q.From > 0 {
		body["from"] = q.From
	}
	if len(q.Sort) > 0 {
		sort := make([]any, 0, len(q.Sort))
		for _, field := range q.Sort {
			if name, ok := strings.CutPrefix(field, "-"); ok {
				sort = append(sort, map[string]any{name: "desc"})
				continue
			}
			sort = append(sort, map[string]any{field: "asc"})
		}
		body["sort"] = sort
	}
	return body
}

// searchResponse is the wire shape of search, scroll and msearch responses.
type searchResponse struct {
	Took     int64  `json:"took"`
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			Index  string         `json:"_index"`
			ID     string         `json:"_id"`
			Score  *float64       `json:"_score"`
			Source store.Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	// Set on failed msearch items.
	Error  json.RawMessage `json:"error"`
	Status int             `json:"status"`
}

func (r *searchResponse) result() *store.SearchResult {
	out := &store.SearchResult{
		Took:     time.Duration(r.Took) * time.Millisecond,
		Total:    r.Hits.Total.Value,
		ScrollID: r.ScrollID,
		Hits:     make([]store.Hit, 0, len(r.Hits.Hits)),
	}
	for _, h := range r.Hits.Hits {
		hit := store.Hit{Index: h.Index, ID: h.ID, Source: h.Source}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		out.Hits = append(out.Hits, hit)
	}
	return out
}

// Search implements store.Store.
func (s *Store) Search(ctx context.Context, indexes []string, q store.Query) (*store.SearchResult, error) {
	body, err := json.Marshal(searchBody(q))
	if err != nil {
		return nil, err
	}

	resp, err := s.do(ctx, "search", func() (*esapi.Response, error) {
		options := []func(*esapi.SearchRequest){
			s.client.Search.WithContext(ctx),
			s.client.Search.WithIndex(indexes...),
			s.client.Search.WithBody(bytes.NewReader(body)),
		}
		if q.Scroll > 0 {
			options = append(options, s.client.Search.WithScroll(q.Scroll))
		}
		return s.client.Search(options...)
	})
	if err != nil {
		return nil, err
	}

	var out searchResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return out.result(), nil
}

// Scroll implements store.Store.
func (s *Store) Scroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*store.SearchResult, error) {
	resp, err := s.do(ctx, "scroll", func() (*esapi.Response, error) {
		return s.client.Scroll(
			s.client.Scroll.WithContext(ctx),
			s.client.Scroll.WithScrollID(scrollID),
			s.client.Scroll.WithScroll(keepAlive))
	})
	if err != nil {
		return nil, err
	}

	var out searchResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return out.result(), nil
}

// MultiSearch implements store.Store. The body is newline-delimited
// header/query pairs; the first failed item fails the call.
func (s *Store) MultiSearch(ctx context.Context, items []store.MultiSearchItem) ([]*store.SearchResult, error) {
	if len(items) == 0 {
		return []*store.SearchResult{}, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item.Header); err != nil {
			return nil, err
		}
		if err := enc.Encode(searchBody(item.Query)); err != nil {
			return nil, err
		}
	}
	body := buf.Bytes()

	resp, err := s.do(ctx, "msearch", func() (*esapi.Response, error) {
		return s.client.Msearch(bytes.NewReader(body), s.client.Msearch.WithContext(ctx))
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Responses []searchResponse `json:"responses"`
	}
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	if len(out.Responses) != len(items) {
		return nil, cerrors.New(cerrors.ErrCodeStoreFailed,
			fmt.Sprintf("msearch returned %d responses for %d queries", len(out.Responses), len(items)), nil)
	}

	results := make([]*store.SearchResult, len(out.Responses))
	for i := range out.Responses {
		r := &out.Responses[i]
		if len(r.Error) > 0 {
			return nil, fmt.Errorf("msearch item %d: %w", i, itemError(r.Status, r.Error))
		}
		results[i] = r.result()
	}
	return results, nil
}

// itemError classifies the error object of one msearch or bulk item.
func itemError(status int, raw json.RawMessage) error {
	apiErr := &apiError{Status: status}
	var detail struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if json.Unmarshal(raw, &detail) == nil {
		apiErr.Type, apiErr.Reason = detail.Type, detail.Reason
	}
	return classify(apiErr)
}
