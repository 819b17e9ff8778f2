package correl8

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cerrors "github.com/correl8/correl8/internal/errors"
	"github.com/correl8/correl8/pkg/schema"
	"github.com/correl8/correl8/pkg/store"
)

// Init creates the active index and applies a mapping to it. A schema.Hint is
// inferred and gets the reserved timestamp field; a schema.Mapping is applied
// as given. An existing index is reused and its mapping extended.
func (h *Handle) Init(ctx context.Context, src schema.Source) (err error) {
	if err := h.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { h.observe(h.index, "init", start, err) }()

	m, err := mappingFor(src)
	if err != nil {
		return err
	}

	if err := h.s.store.CreateIndex(ctx, h.index); err != nil && !errors.Is(err, store.ErrIndexExists) {
		return h.mappingFailed("create index", err)
	}
	if err := h.s.store.PutMapping(ctx, h.index, m); err != nil {
		return h.mappingFailed("put mapping", err)
	}

	h.s.logger.Info("index_initialized",
		slog.String("index", h.index),
		slog.Int("fields", len(m.Properties)))
	return nil
}

// mappingFor turns a schema source into the mapping to apply.
func mappingFor(src schema.Source) (schema.Mapping, error) {
	switch v := src.(type) {
	case schema.Hint:
		return schema.Infer(v).WithTimestamp(schema.DefaultTimestampField), nil
	case schema.Mapping:
		if v.Properties == nil {
			v.Properties = map[string]schema.FieldSpec{}
		}
		return v, nil
	case nil:
		return schema.Infer(nil).WithTimestamp(schema.DefaultTimestampField), nil
	default:
		return schema.Mapping{}, cerrors.New(cerrors.ErrCodeInvalidHint,
			fmt.Sprintf("unsupported schema source %T", src), nil)
	}
}

func (h *Handle) mappingFailed(step string, err error) error {
	if errors.Is(err, store.ErrClosed) {
		return h.storeErr(h.index, err)
	}
	failed := cerrors.New(cerrors.ErrCodeMappingFailed,
		fmt.Sprintf("%s failed for index %s", step, h.index), err).
		WithDetail("index", h.index).
		WithDetail("step", step)
	h.s.logger.Error("mapping_failed", cerrors.LogAttr(failed))
	return failed
}

// IsInitialized reports whether the active index exists.
func (h *Handle) IsInitialized(ctx context.Context) (bool, error) {
	if err := h.checkOpen(); err != nil {
		return false, err
	}
	ok, err := h.s.store.IndexExists(ctx, h.index)
	return ok, h.storeErr(h.index, err)
}

// GetMapping returns the mapping of the active index.
func (h *Handle) GetMapping(ctx context.Context) (schema.Mapping, error) {
	if err := h.checkOpen(); err != nil {
		return schema.Mapping{}, err
	}
	m, err := h.s.store.GetMapping(ctx, h.index)
	if err != nil {
		return schema.Mapping{}, h.storeErr(h.index, err)
	}
	return m, nil
}

// Clear empties the active index and keeps its mapping. Full-text fields are
// reapplied without their fielddata and disabled doc values. An index without
// a mapping cannot be cleared and reports ErrNotInitialized before anything
// is deleted.
func (h *Handle) Clear(ctx context.Context) (err error) {
	if err := h.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { h.observe(h.index, "clear", start, err) }()

	m, err := h.GetMapping(ctx)
	if err != nil && !errors.Is(err, ErrNotInitialized) {
		return err
	}
	if err != nil || m.IsEmpty() {
		h.s.logger.Warn("clear_without_mapping",
			slog.String("index", h.index),
			slog.String("hint", "initialize first"))
		return cerrors.NotInitializedError(h.index, err)
	}

	if err := h.s.store.DeleteIndex(ctx, h.index); err != nil && !errors.Is(err, store.ErrIndexNotFound) {
		return h.storeErr(h.index, err)
	}
	if err := h.s.store.CreateIndex(ctx, h.index); err != nil && !errors.Is(err, store.ErrIndexExists) {
		return h.mappingFailed("recreate index", err)
	}
	if err := h.s.store.PutMapping(ctx, h.index, m.WithoutFullTextArtifacts()); err != nil {
		return h.mappingFailed("reapply mapping", err)
	}

	h.s.logger.Info("index_cleared", slog.String("index", h.index))
	return nil
}

// Remove deletes the active index and then the config index. Missing indexes
// are skipped. When the config index cannot be deleted after the active index
// was, ErrPartialRemove is returned and the active index stays deleted.
func (h *Handle) Remove(ctx context.Context) (err error) {
	if err := h.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { h.observe(h.index, "remove", start, err) }()

	if err := h.s.store.DeleteIndex(ctx, h.index); err != nil && !errors.Is(err, store.ErrIndexNotFound) {
		return h.storeErr(h.index, err)
	}

	if err := h.waitConfig(ctx); err != nil {
		return cerrors.New(cerrors.ErrCodePartialRemove,
			fmt.Sprintf("index %s removed but config index %s was not", h.index, h.configIndex), err)
	}
	if err := h.s.store.DeleteIndex(ctx, h.configIndex); err != nil && !errors.Is(err, store.ErrIndexNotFound) {
		partial := cerrors.New(cerrors.ErrCodePartialRemove,
			fmt.Sprintf("index %s removed but config index %s was not", h.index, h.configIndex), err).
			WithDetail("index", h.index).
			WithDetail("config_index", h.configIndex).
			WithSuggestion("Run remove again to delete the config index")
		h.s.logger.Error("remove_partial", cerrors.LogAttr(partial))
		return partial
	}

	h.s.logger.Info("index_removed",
		slog.String("index", h.index),
		slog.String("config_index", h.configIndex))
	return nil
}
