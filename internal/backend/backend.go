// Package backend opens the store.Store selected by a connection.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/correl8/correl8/internal/backend/elastic"
	"github.com/correl8/correl8/internal/backend/local"
	cerrors "github.com/correl8/correl8/internal/errors"
	"github.com/correl8/correl8/pkg/store"
)

// Open returns the backend named by conn.Backend. An empty name selects the
// elastic backend.
func Open(ctx context.Context, conn store.Connection, logger *slog.Logger) (store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	name := strings.ToLower(strings.TrimSpace(conn.Backend))
	switch name {
	case "", store.BackendElastic:
		s, err := elastic.New(elastic.Options{Connection: conn, Logger: logger})
		if err != nil {
			return nil, err
		}
		logger.Debug("store_opened",
			slog.String("backend", store.BackendElastic),
			slog.String("hosts", strings.Join(conn.Hosts, ",")))
		return s, nil

	case store.BackendLocal:
		s, err := local.Open(ctx, local.Options{DataDir: conn.DataDir, Logger: logger})
		if err != nil {
			return nil, err
		}
		dir := conn.DataDir
		if dir == "" {
			dir = "(memory)"
		}
		logger.Debug("store_opened",
			slog.String("backend", store.BackendLocal),
			slog.String("data_dir", dir))
		return s, nil

	default:
		return nil, cerrors.ConfigError(fmt.Sprintf("unknown store backend %q", conn.Backend), nil).
			WithSuggestion("Set store.backend to \"elastic\" or \"local\"")
	}
}
