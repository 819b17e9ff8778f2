package correl8

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/correl8/correl8/pkg/store"
)

// Config returns the search result for the config document. The result has
// no hits when no config has been written yet; see FirstSource.
func (h *Handle) Config(ctx context.Context) (res *store.SearchResult, err error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { h.observe(h.configIndex, "config_get", start, err) }()

	if err := h.waitConfig(ctx); err != nil {
		return nil, err
	}
	return h.findConfig(ctx)
}

func (h *Handle) findConfig(ctx context.Context) (*store.SearchResult, error) {
	res, err := h.s.store.Search(ctx, []string{h.configIndex}, store.Query{
		IDs:  []string{h.s.configID},
		Size: 1,
	})
	if err != nil {
		return nil, h.storeErr(h.configIndex, err)
	}
	return res, nil
}

// SetConfig writes obj into the config document. The first call creates the
// document with obj as its body; later calls merge the fields of obj into it.
// The write is refreshed so a following Config observes it.
func (h *Handle) SetConfig(ctx context.Context, obj store.Document) (err error) {
	if err := h.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { h.observe(h.configIndex, "config_set", start, err) }()

	if err := h.waitConfig(ctx); err != nil {
		return err
	}

	existing, err := h.findConfig(ctx)
	if err != nil {
		return err
	}

	body := maps.Clone(obj)
	if body == nil {
		body = store.Document{}
	}
	write := store.WriteOptions{Refresh: true}

	if len(existing.Hits) > 0 {
		err = h.s.store.Update(ctx, h.configIndex, h.s.configID, body, write)
		if err != nil {
			return h.storeErr(h.configIndex, err)
		}
		h.s.logger.Debug("config_updated",
			slog.String("index", h.configIndex),
			slog.String("id", h.s.configID))
		return nil
	}

	if _, err = h.s.store.Index(ctx, h.configIndex, h.s.configID, body, write); err != nil {
		return h.storeErr(h.configIndex, err)
	}
	h.s.logger.Debug("config_created",
		slog.String("index", h.configIndex),
		slog.String("id", h.s.configID))
	return nil
}

// waitConfig waits for the bootstrap. Its failure is not returned: the store
// call that follows reports the actual problem.
func (h *Handle) waitConfig(ctx context.Context) error {
	select {
	case <-h.boot.done:
		return h.checkOpen()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FirstSource returns the source of the first hit of res.
func FirstSource(res *store.SearchResult) (store.Document, bool) {
	if res == nil || len(res.Hits) == 0 {
		return nil, false
	}
	return res.Hits[0].Source, true
}
