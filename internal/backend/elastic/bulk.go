package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/correl8/correl8/pkg/store"
)

// bulkMeta is the action line of a bulk body.
type bulkMeta struct {
	Index string `json:"_index,omitempty"`
	ID    string `json:"_id,omitempty"`
}

// bulkBody renders ops as newline-delimited JSON.
func bulkBody(ops []store.BulkOp) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, op := range ops {
		meta := map[store.BulkAction]bulkMeta{op.Action: {Index: op.Index, ID: op.ID}}
		switch op.Action {
		case store.BulkIndex:
			if err := enc.Encode(meta); err != nil {
				return nil, err
			}
			doc := op.Doc
			if doc == nil {
				doc = store.Document{}
			}
			if err := enc.Encode(doc); err != nil {
				return nil, fmt.Errorf("bulk action %d: %w", i, err)
			}
		case store.BulkUpdate:
			if err := enc.Encode(meta); err != nil {
				return nil, err
			}
			if err := enc.Encode(map[string]any{"doc": op.Doc}); err != nil {
				return nil, fmt.Errorf("bulk action %d: %w", i, err)
			}
		case store.BulkDelete:
			if err := enc.Encode(meta); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("bulk action %d: unknown action %q", i, op.Action)
		}
	}
	return buf.Bytes(), nil
}

// Bulk implements store.Store.
func (s *Store) Bulk(ctx context.Context, ops []store.BulkOp, opts store.BulkOptions) (*store.BulkResult, error) {
	if len(ops) == 0 {
		return &store.BulkResult{Items: []store.BulkItem{}}, nil
	}
	body, err := bulkBody(ops)
	if err != nil {
		return nil, err
	}

	if opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.RequestTimeout)
		defer cancel()
	}

	resp, err := s.do(ctx, "bulk", func() (*esapi.Response, error) {
		options := []func(*esapi.BulkRequest){
			s.client.Bulk.WithContext(ctx),
			s.client.Bulk.WithRefresh(refresh(opts.Refresh)),
		}
		if opts.Timeout > 0 {
			options = append(options, s.client.Bulk.WithTimeout(opts.Timeout))
		}
		return s.client.Bulk(bytes.NewReader(body), options...)
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Took   int64 `json:"took"`
		Errors bool  `json:"errors"`
		Items  []map[store.BulkAction]struct {
			Index  string          `json:"_index"`
			ID     string          `json:"_id"`
			Status int             `json:"status"`
			Error  json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := decode(resp, &out); err != nil {
		return nil, err
	}

	res := &store.BulkResult{
		Took:   time.Duration(out.Took) * time.Millisecond,
		Errors: out.Errors,
		Items:  make([]store.BulkItem, 0, len(out.Items)),
	}
	for _, entry := range out.Items {
		for action, item := range entry {
			bi := store.BulkItem{Action: action, Index: item.Index, ID: item.ID, Status: item.Status}
			if len(item.Error) > 0 {
				bi.Error = itemError(item.Status, item.Error).Error()
			}
			res.Items = append(res.Items, bi)
		}
	}

	if res.Errors {
		s.logger.Warn("elastic_bulk_partial_failure",
			slog.Int("actions", len(ops)),
			slog.Int("failed", len(res.Failed())))
	}
	return res, nil
}
