package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/correl8/correl8/pkg/schema"
	"github.com/correl8/correl8/pkg/store"
)

// IndexExists implements store.Store.
func (s *Store) IndexExists(ctx context.Context, index string) (bool, error) {
	resp, err := s.do(ctx, "indices.exists", func() (*esapi.Response, error) {
		return s.client.Indices.Exists([]string{index}, s.client.Indices.Exists.WithContext(ctx))
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return resp.StatusCode == http.StatusOK, decode(resp, nil)
}

// CreateIndex implements store.Store.
func (s *Store) CreateIndex(ctx context.Context, index string) error {
	resp, err := s.do(ctx, "indices.create", func() (*esapi.Response, error) {
		return s.client.Indices.Create(index, s.client.Indices.Create.WithContext(ctx))
	})
	if err != nil {
		return err
	}
	return decode(resp, nil)
}

// DeleteIndex implements store.Store.
func (s *Store) DeleteIndex(ctx context.Context, index string) error {
	resp, err := s.do(ctx, "indices.delete", func() (*esapi.Response, error) {
		return s.client.Indices.Delete([]string{index}, s.client.Indices.Delete.WithContext(ctx))
	})
	if errors.Is(err, store.ErrDocumentNotFound) {
		// HEAD-style 404 without an error body
		return store.ErrIndexNotFound
	}
	if err != nil {
		return err
	}
	return decode(resp, nil)
}

// PutMapping implements store.Store.
func (s *Store) PutMapping(ctx context.Context, index string, m schema.Mapping) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	resp, err := s.do(ctx, "indices.put_mapping", func() (*esapi.Response, error) {
		return s.client.Indices.PutMapping([]string{index}, bytes.NewReader(body),
			s.client.Indices.PutMapping.WithContext(ctx))
	})
	if err != nil {
		return err
	}
	return decode(resp, nil)
}

// GetMapping implements store.Store.
func (s *Store) GetMapping(ctx context.Context, index string) (schema.Mapping, error) {
	resp, err := s.do(ctx, "indices.get_mapping", func() (*esapi.Response, error) {
		return s.client.Indices.GetMapping(
			s.client.Indices.GetMapping.WithIndex(index),
			s.client.Indices.GetMapping.WithContext(ctx))
	})
	if err != nil {
		return schema.Mapping{}, err
	}

	// {"<index>": {"mappings": {"properties": {...}}}}
	var body map[string]struct {
		Mappings schema.Mapping `json:"mappings"`
	}
	if err := decode(resp, &body); err != nil {
		return schema.Mapping{}, err
	}
	entry, ok := body[index]
	if !ok {
		// index was an alias; take the single concrete index behind it
		for _, v := range body {
			entry = v
			break
		}
	}
	if entry.Mappings.Properties == nil {
		entry.Mappings.Properties = map[string]schema.FieldSpec{}
	}
	return entry.Mappings, nil
}
