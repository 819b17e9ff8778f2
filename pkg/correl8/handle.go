package correl8

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/correl8/correl8/internal/backend"
	cerrors "github.com/correl8/correl8/internal/errors"
	"github.com/correl8/correl8/internal/telemetry"
	"github.com/correl8/correl8/pkg/store"
	"github.com/correl8/correl8/pkg/timestamp"
)

// session is the state shared by every handle derived from one New call.
type session struct {
	store       store.Store
	conn        store.Connection
	logger      *slog.Logger
	normalizer  timestamp.Normalizer
	telemetry   *telemetry.Recorder
	configID    string
	bulkTimeout time.Duration

	// ctx parents all bootstraps; cancel stops them on Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed atomic.Bool
}

// bootstrap tracks the creation of one config index.
type bootstrap struct {
	done chan struct{}
	err  error
}

// Handle addresses an active index and its config index.
// A Handle is immutable and safe for concurrent use.
type Handle struct {
	s    *session
	boot *bootstrap

	baseName    string
	docType     string
	index       string
	configIndex string
}

// New creates a handle for docType and starts creating its config index in
// the background. Without WithStore a store is opened from the connection.
func New(ctx context.Context, docType string, opts ...Option) (*Handle, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if strings.TrimSpace(docType) == "" {
		return nil, cerrors.ValidationError("document type is required", nil)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.normalizer == nil {
		o.normalizer = timestamp.Default()
	}

	st := o.store
	if st == nil {
		var err error
		st, err = backend.Open(ctx, o.conn, o.logger)
		if err != nil {
			return nil, err
		}
	}

	s := &session{
		store:       st,
		conn:        o.conn,
		logger:      o.logger,
		normalizer:  o.normalizer,
		telemetry:   o.telemetry,
		configID:    o.configID,
		bulkTimeout: o.bulkTimeout,
	}
	// Bootstraps outlive the constructor's context but not Close.
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	active, config := IndexNames(o.baseName, docType)
	h := &Handle{
		s:           s,
		baseName:    o.baseName,
		docType:     docType,
		index:       active,
		configIndex: config,
	}
	h.boot = s.startBootstrap(config)
	return h, nil
}

// startBootstrap creates the config index in a goroutine.
func (s *session) startBootstrap(index string) *bootstrap {
	b := &bootstrap{done: make(chan struct{})}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		b.err = ErrClosed
		close(b.done)
		return b
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(b.done)
		b.err = s.bootstrapIndex(s.ctx, index)
	}()
	return b
}

// bootstrapIndex makes sure index exists. A failed existence check is treated
// as a missing index. Failures are logged and never returned to callers that
// do not use the config.
func (s *session) bootstrapIndex(ctx context.Context, index string) (err error) {
	defer func() { s.telemetry.Bootstrap(index, err) }()

	exists, err := s.store.IndexExists(ctx, index)
	if err != nil {
		s.logger.Debug("config_exists_check_failed",
			slog.String("index", index),
			slog.String("error", err.Error()))
	}
	if exists {
		return nil
	}

	err = s.store.CreateIndex(ctx, index)
	if err == nil || errors.Is(err, store.ErrIndexExists) {
		s.logger.Debug("config_index_created", slog.String("index", index))
		return nil
	}
	if ctx.Err() != nil {
		return ErrClosed
	}

	failed := cerrors.New(cerrors.ErrCodeBootstrapFailed,
		fmt.Sprintf("failed to create config index %s", index), err).
		WithDetail("index", index)
	s.logger.Warn("config_bootstrap_failed", cerrors.LogAttr(failed))
	return failed
}

func (s *session) close() error {
	s.mu.Lock()
	if s.closed.Swap(true) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

// WithType returns a handle for another document type. The config index is
// unchanged; see WithConfigReset.
func (h *Handle) WithType(docType string) *Handle {
	out := *h
	out.docType = docType
	out.index = activeName(h.baseName, docType)
	return &out
}

// WithIndex returns a handle whose active index is derived from the base
// name and name, without changing the document type. The config index is
// unchanged.
func (h *Handle) WithIndex(name string) *Handle {
	out := *h
	out.index = activeName(h.baseName, name)
	return &out
}

// WithConfigReset returns a handle whose config index sits next to the
// current active index, and starts bootstrapping it. Existing config is not
// migrated.
func (h *Handle) WithConfigReset() *Handle {
	out := *h
	out.configIndex = configName(h.index)
	if out.configIndex != h.configIndex {
		out.boot = h.s.startBootstrap(out.configIndex)
	}
	return &out
}

// BaseName returns the base name of the handle.
func (h *Handle) BaseName() string { return h.baseName }

// DocType returns the current document type.
func (h *Handle) DocType() string { return h.docType }

// Index returns the active index name.
func (h *Handle) Index() string { return h.index }

// ConfigIndex returns the config index name.
func (h *Handle) ConfigIndex() string { return h.configIndex }

// ConfigID returns the id of the config document.
func (h *Handle) ConfigID() string { return h.s.configID }

// Store returns the underlying store.
func (h *Handle) Store() store.Store { return h.s.store }

// ClientOptions returns a copy of the connection options.
func (h *Handle) ClientOptions() store.Connection { return h.s.conn.Clone() }

// WaitBootstrap blocks until the config index bootstrap has finished and
// returns its outcome.
func (h *Handle) WaitBootstrap(ctx context.Context) error {
	select {
	case <-h.boot.done:
		return h.boot.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops any running bootstrap and closes the store. Every handle of the
// session returns ErrClosed afterwards. Close is idempotent.
func (h *Handle) Close() error {
	return h.s.close()
}

func (h *Handle) checkOpen() error {
	if h.s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// observe records an operation on index.
func (h *Handle) observe(index, op string, start time.Time, err error) {
	h.s.telemetry.Observe(index, op, start, err)
}

// storeErr maps store failures for index to handle errors.
func (h *Handle) storeErr(index string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrClosed):
		return cerrors.New(cerrors.ErrCodeHandleClosed, "handle is closed", err)
	case errors.Is(err, store.ErrIndexNotFound):
		return cerrors.NotInitializedError(index, err)
	}
	return err
}
