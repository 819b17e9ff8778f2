package local

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/correl8/correl8/pkg/store"
)

// Bulk implements store.Store. Actions apply in order; a failed action is
// reported in its item and does not stop the others. opts.Timeout has no
// meaning for the embedded store; opts.RequestTimeout bounds the whole call.
func (s *Store) Bulk(ctx context.Context, ops []store.BulkOp, opts store.BulkOptions) (*store.BulkResult, error) {
	start := time.Now()
	if opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.RequestTimeout)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	res := &store.BulkResult{Items: make([]store.BulkItem, 0, len(ops))}
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("bulk interrupted after %d of %d actions: %w", len(res.Items), len(ops), err)
		}
		item := s.applyLocked(ctx, op)
		if item.Error != "" {
			res.Errors = true
		}
		res.Items = append(res.Items, item)
	}
	res.Took = time.Since(start)
	return res, nil
}

func (s *Store) applyLocked(ctx context.Context, op store.BulkOp) store.BulkItem {
	item := store.BulkItem{Action: op.Action, Index: op.Index, ID: op.ID}

	var err error
	switch op.Action {
	case store.BulkIndex:
		var created bool
		item.ID, created, err = s.indexLocked(ctx, op.Index, op.ID, op.Doc)
		item.Status = http.StatusOK
		if created {
			item.Status = http.StatusCreated
		}
	case store.BulkUpdate:
		err = s.updateLocked(ctx, op.Index, op.ID, op.Doc)
		item.Status = http.StatusOK
	case store.BulkDelete:
		err = s.deleteLocked(ctx, op.Index, op.ID)
		item.Status = http.StatusOK
		// A cluster reports not_found without flagging the bulk as failed.
		if errors.Is(err, store.ErrDocumentNotFound) {
			item.Status, err = http.StatusNotFound, nil
		}
	default:
		err = fmt.Errorf("unknown bulk action %q", op.Action)
	}

	if err != nil {
		item.Status = statusOf(err)
		item.Error = err.Error()
	}
	return item
}

// statusOf maps store errors to the HTTP status a cluster would report.
func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrIndexNotFound), errors.Is(err, store.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrMappingConflict):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
