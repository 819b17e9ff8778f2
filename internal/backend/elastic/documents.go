package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/correl8/correl8/pkg/store"
)

func refresh(on bool) string {
	if on {
		return "true"
	}
	return "false"
}

// Index implements store.Store.
func (s *Store) Index(ctx context.Context, index, id string, doc store.Document, opts store.WriteOptions) (string, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}

	resp, err := s.do(ctx, "index", func() (*esapi.Response, error) {
		options := []func(*esapi.IndexRequest){
			s.client.Index.WithContext(ctx),
			s.client.Index.WithRefresh(refresh(opts.Refresh)),
		}
		if id != "" {
			options = append(options, s.client.Index.WithDocumentID(id))
		}
		return s.client.Index(index, bytes.NewReader(body), options...)
	})
	if err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"_id"`
	}
	if err := decode(resp, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Update implements store.Store with a partial-document update.
func (s *Store) Update(ctx context.Context, index, id string, partial store.Document, opts store.WriteOptions) error {
	body, err := json.Marshal(map[string]any{"doc": partial})
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	resp, err := s.do(ctx, "update", func() (*esapi.Response, error) {
		return s.client.Update(index, id, bytes.NewReader(body),
			s.client.Update.WithContext(ctx),
			s.client.Update.WithRefresh(refresh(opts.Refresh)),
			s.client.Update.WithRetryOnConflict(3))
	})
	if err != nil {
		return err
	}
	return decode(resp, nil)
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, index, id string) error {
	resp, err := s.do(ctx, "delete", func() (*esapi.Response, error) {
		return s.client.Delete(index, id, s.client.Delete.WithContext(ctx))
	})
	if err != nil {
		return err
	}
	return decode(resp, nil)
}
