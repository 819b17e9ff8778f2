package local

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/correl8/correl8/pkg/store"
)

// Index implements store.Store. A missing index is created on first write.
// Writes are searchable as soon as they return, so Refresh has nothing to do.
func (s *Store) Index(ctx context.Context, index, id string, doc store.Document, _ store.WriteOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, _, err := s.indexLocked(ctx, index, id, doc)
	return id, err
}

// indexLocked writes doc and reports whether it was created rather than replaced.
func (s *Store) indexLocked(ctx context.Context, index, id string, doc store.Document) (string, bool, error) {
	if s.closed {
		return "", false, store.ErrClosed
	}
	if _, ok := s.indexes[index]; !ok {
		if err := s.createLocked(ctx, index); err != nil {
			return "", false, err
		}
	}
	idx := s.indexes[index]

	if id == "" {
		id = uuid.NewString()
	}
	version, err := s.catalog.putDocument(ctx, index, id, doc)
	if err != nil {
		return "", false, fmt.Errorf("failed to store document %s/%s: %w", index, id, err)
	}
	if err := idx.bleve.Index(id, doc); err != nil {
		return "", false, fmt.Errorf("failed to index document %s/%s: %w", index, id, err)
	}

	s.logger.Debug("local_document_indexed",
		slog.String("index", index),
		slog.String("id", id),
		slog.Int64("version", version))
	return id, version == 1, nil
}

// Update implements store.Store. Objects in partial merge into the stored
// objects recursively; every other value replaces the stored one.
func (s *Store) Update(ctx context.Context, index, id string, partial store.Document, _ store.WriteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(ctx, index, id, partial)
}

func (s *Store) updateLocked(ctx context.Context, index, id string, partial store.Document) error {
	idx, err := s.get(index)
	if err != nil {
		return err
	}
	current, err := s.catalog.getDocument(ctx, index, id)
	if err != nil {
		return err
	}

	merged := mergeDocuments(current, partial)
	if _, err := s.catalog.putDocument(ctx, index, id, merged); err != nil {
		return fmt.Errorf("failed to store document %s/%s: %w", index, id, err)
	}
	if err := idx.bleve.Index(id, merged); err != nil {
		return fmt.Errorf("failed to index document %s/%s: %w", index, id, err)
	}
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, index, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(ctx, index, id)
}

func (s *Store) deleteLocked(ctx context.Context, index, id string) error {
	idx, err := s.get(index)
	if err != nil {
		return err
	}
	found, err := s.catalog.deleteDocument(ctx, index, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s/%s: %w", index, id, err)
	}
	if !found {
		return fmt.Errorf("%w: %s/%s", store.ErrDocumentNotFound, index, id)
	}
	if err := idx.bleve.Delete(id); err != nil {
		return fmt.Errorf("failed to unindex document %s/%s: %w", index, id, err)
	}
	return nil
}

// mergeDocuments returns base with partial applied. Neither input is modified.
func mergeDocuments(base, partial store.Document) store.Document {
	out := make(store.Document, len(base)+len(partial))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range partial {
		sub, isObj := v.(map[string]any)
		existing, wasObj := out[k].(map[string]any)
		if isObj && wasObj {
			out[k] = mergeDocuments(existing, sub)
			continue
		}
		out[k] = v
	}
	return out
}
