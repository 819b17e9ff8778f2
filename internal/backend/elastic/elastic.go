// Package elastic is a store.Store that talks to an Elasticsearch cluster
// over its REST API.
package elastic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	cerrors "github.com/correl8/correl8/internal/errors"
	"github.com/correl8/correl8/pkg/store"
	"github.com/correl8/correl8/pkg/version"
)

// Options configure the remote store.
type Options struct {
	Connection store.Connection
	Logger     *slog.Logger
	// Retry overrides the backoff for transient failures. MaxRetries comes
	// from Connection.MaxRetries when Retry is nil.
	Retry *cerrors.RetryConfig
	// Transport replaces the HTTP transport, mainly for tests.
	Transport http.RoundTripper
	// RequestTimeout bounds requests whose context carries no deadline.
	// Defaults to DefaultRequestTimeout. A caller deadline, such as the bulk
	// request timeout, always takes precedence, longer or shorter.
	RequestTimeout time.Duration
}

// DefaultRequestTimeout bounds a request when the caller sets no deadline.
const DefaultRequestTimeout = 60 * time.Second

// Store implements store.Store over go-elasticsearch.
type Store struct {
	client    *elasticsearch.Client
	transport http.RoundTripper
	logger    *slog.Logger
	retry     cerrors.RetryConfig
	closed    atomic.Bool
}

// New creates a client for the cluster described by opts.Connection.
// No request is sent until the first operation.
func New(opts Options) (*Store, error) {
	conn := opts.Connection
	if len(conn.Hosts) == 0 {
		conn.Hosts = store.DefaultConnection().Hosts
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	cfg := elasticsearch.Config{
		Addresses: conn.Hosts,
		Transport: &deadlineTransport{next: transport, timeout: opts.RequestTimeout, userAgent: version.UserAgent()},
		// Retries go through cerrors.Retry so they honour ctx and the backoff.
		DisableRetry: true,
	}
	if conn.APIKey != "" {
		cfg.APIKey = conn.APIKey
	} else {
		cfg.Username = conn.Username
		cfg.Password = conn.Password
	}

	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeConfigInvalid, "invalid elasticsearch connection", err)
	}

	retry := cerrors.DefaultRetryConfig()
	retry.InitialDelay = 200 * time.Millisecond
	retry.MaxDelay = 5 * time.Second
	retry.Jitter = true
	retry.MaxRetries = conn.MaxRetries
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	retry.RetryIf = cerrors.IsRetryable

	return &Store{
		client:    client,
		transport: transport,
		logger:    opts.Logger,
		retry:     retry,
	}, nil
}

// Close implements store.Store. Idle connections are dropped; later calls
// return store.ErrClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if t, ok := s.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// deadlineTransport gives requests without a context deadline the default
// timeout and names correl8 in the User-Agent. There is no response header
// timeout on the transport itself, so a longer caller deadline is honoured.
type deadlineTransport struct {
	next      http.RoundTripper
	timeout   time.Duration
	userAgent string
}

func (t *deadlineTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := req.Context(), context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
	}
	req = req.Clone(ctx)
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the request context once the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// apiError is the error object of an Elasticsearch response.
type apiError struct {
	Status int
	Type   string
	Reason string
}

func (e *apiError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("elasticsearch returned %d", e.Status)
	}
	return fmt.Sprintf("elasticsearch returned %d %s: %s", e.Status, e.Type, e.Reason)
}

// do sends a request, retrying transient failures. On success the caller owns
// resp.Body. Error responses are decoded, closed and returned as errors.
func (s *Store) do(ctx context.Context, op string, send func() (*esapi.Response, error)) (*esapi.Response, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}

	return cerrors.RetryWithResult(ctx, s.retry, func() (*esapi.Response, error) {
		start := time.Now()
		resp, err := send()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.logger.Debug("elastic_request_failed",
				slog.String("op", op),
				slog.String("error", err.Error()))
			return nil, cerrors.NetworkError("elasticsearch is not reachable", err)
		}
		if !resp.IsError() {
			s.logger.Debug("elastic_request",
				slog.String("op", op),
				slog.Int("status", resp.StatusCode),
				slog.Duration("took", time.Since(start)))
			return resp, nil
		}

		defer func() { _ = resp.Body.Close() }()
		apiErr := decodeError(resp)
		s.logger.Debug("elastic_request_rejected",
			slog.String("op", op),
			slog.Int("status", apiErr.Status),
			slog.String("type", apiErr.Type))
		return nil, classify(apiErr)
	})
}

func decodeError(resp *esapi.Response) *apiError {
	apiErr := &apiError{Status: resp.StatusCode}
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || len(body.Error) == 0 {
		return apiErr
	}
	var detail struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if json.Unmarshal(body.Error, &detail) == nil {
		apiErr.Type, apiErr.Reason = detail.Type, detail.Reason
	} else {
		// Some endpoints return "error" as a plain string.
		_ = json.Unmarshal(body.Error, &apiErr.Reason)
	}
	return apiErr
}

// classify maps an error response to a store sentinel or a structured error.
func classify(e *apiError) error {
	switch e.Type {
	case "index_not_found_exception":
		return fmt.Errorf("%w: %s", store.ErrIndexNotFound, e.Reason)
	case "resource_already_exists_exception":
		return fmt.Errorf("%w: %s", store.ErrIndexExists, e.Reason)
	case "document_missing_exception":
		return fmt.Errorf("%w: %s", store.ErrDocumentNotFound, e.Reason)
	case "search_context_missing_exception":
		return fmt.Errorf("%w: %s", store.ErrScrollNotFound, e.Reason)
	case "illegal_argument_exception", "mapper_parsing_exception":
		if e.Status == http.StatusBadRequest {
			return fmt.Errorf("%w: %s", store.ErrMappingConflict, e.Reason)
		}
	}

	switch e.Status {
	case http.StatusTooManyRequests:
		return cerrors.New(cerrors.ErrCodeStoreRejected, "elasticsearch rejected the request", e)
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return cerrors.New(cerrors.ErrCodeStoreUnavailable, "elasticsearch is unavailable", e)
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return cerrors.New(cerrors.ErrCodeStoreTimeout, "elasticsearch timed out", e)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", store.ErrDocumentNotFound, e.Error())
	}
	return cerrors.New(cerrors.ErrCodeStoreFailed, "elasticsearch request failed", e)
}

// decode reads a JSON response body into v and closes it.
func decode(resp *esapi.Response, v any) error {
	defer func() { _ = resp.Body.Close() }()
	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return cerrors.New(cerrors.ErrCodeStoreFailed, "malformed elasticsearch response", err)
	}
	return nil
}

// isNotFound reports whether err means the index or document is missing.
func isNotFound(err error) bool {
	return errors.Is(err, store.ErrIndexNotFound) || errors.Is(err, store.ErrDocumentNotFound)
}

var _ store.Store = (*Store)(nil)
