package correl8

import (
	"log/slog"
	"time"

	"github.com/correl8/correl8/internal/telemetry"
	"github.com/correl8/correl8/pkg/store"
	"github.com/correl8/correl8/pkg/timestamp"
)

const (
	// DefaultConfigID is the id of the config document in the config index.
	DefaultConfigID = "settings"

	// DefaultBulkTimeout is the request deadline applied to a bulk call that
	// carries a server-side timeout.
	DefaultBulkTimeout = 5 * time.Minute
)

// Option configures New.
type Option func(*options)

type options struct {
	baseName    string
	conn        store.Connection
	store       store.Store
	logger      *slog.Logger
	normalizer  timestamp.Normalizer
	telemetry   *telemetry.Recorder
	configID    string
	bulkTimeout time.Duration
}

func defaultOptions() options {
	return options{
		baseName:    DefaultBaseName,
		conn:        store.DefaultConnection(),
		configID:    DefaultConfigID,
		bulkTimeout: DefaultBulkTimeout,
	}
}

// WithBaseName sets the base name of the index names.
func WithBaseName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.baseName = name
		}
	}
}

// WithConnection sets how the store is reached. It is ignored when WithStore
// is also given, except for ClientOptions.
func WithConnection(conn store.Connection) Option {
	return func(o *options) {
		o.conn = conn.Clone()
	}
}

// WithStore uses s instead of opening a store from the connection.
// Close closes s.
func WithStore(s store.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithNormalizer replaces the timestamp normalizer used by Insert.
func WithNormalizer(n timestamp.Normalizer) Option {
	return func(o *options) {
		o.normalizer = n
	}
}

// WithTelemetry records operation metrics into r.
func WithTelemetry(r *telemetry.Recorder) Option {
	return func(o *options) {
		o.telemetry = r
	}
}

// WithConfigID sets the id of the config document.
func WithConfigID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.configID = id
		}
	}
}

// WithBulkTimeout sets the request deadline used by Bulk when a server-side
// timeout is given.
func WithBulkTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.bulkTimeout = d
		}
	}
}
