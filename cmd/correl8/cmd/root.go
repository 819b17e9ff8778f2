// Package cmd provides the CLI commands for correl8.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/correl8/correl8/internal/config"
	cerrors "github.com/correl8/correl8/internal/errors"
	"github.com/correl8/correl8/internal/logging"
	"github.com/correl8/correl8/internal/output"
	"github.com/correl8/correl8/internal/telemetry"
	"github.com/correl8/correl8/pkg/correl8"
	"github.com/correl8/correl8/pkg/version"
)

// envQueryDB overrides the query log location.
const envQueryDB = config.EnvPrefix + "QUERY_DB"

// app holds the flags and per-run state shared by all commands.
type app struct {
	dir      string
	docType  string
	baseName string
	backend  string
	hosts    []string
	dataDir  string
	debug    bool

	logger         *slog.Logger
	loggingCleanup func()
}

// NewRootCmd creates the root command for the correl8 CLI.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "correl8",
		Short: "Store and search time-stamped records in a document index",
		Long: `correl8 keeps one index per document type in Elasticsearch (or in a
local bleve index) and a companion config index holding a single settings
document shared by everything built on the same base name.

Index names are "<base>-<type>" and "<base>-<type>-config", lowercased.`,
		Version:           version.Version,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.startLogging,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			a.stopLogging()
			return nil
		},
	}
	cmd.SetVersionTemplate("correl8 version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVarP(&a.docType, "type", "t", "", "Document type (overrides index.doc_type)")
	pf.StringVar(&a.baseName, "base", "", "Index base name (overrides index.base_name)")
	pf.StringVar(&a.backend, "backend", "", "Store backend: elastic or local")
	pf.StringSliceVar(&a.hosts, "hosts", nil, "Elasticsearch hosts (comma-separated)")
	pf.StringVar(&a.dataDir, "data-dir", "", "Data directory for the local backend")
	pf.StringVar(&a.dir, "dir", ".", "Directory holding .correl8.yaml")
	pf.BoolVar(&a.debug, "debug", false, "Enable debug logging to ~/.correl8/logs/")

	cmd.AddCommand(a.newInitCmd())
	cmd.AddCommand(a.newStatusCmd())
	cmd.AddCommand(a.newMappingCmd())
	cmd.AddCommand(a.newClearCmd())
	cmd.AddCommand(a.newRemoveCmd())
	cmd.AddCommand(a.newInsertCmd())
	cmd.AddCommand(a.newBulkCmd())
	cmd.AddCommand(a.newSearchCmd())
	cmd.AddCommand(a.newDeleteCmd())
	cmd.AddCommand(a.newConfigCmd())
	cmd.AddCommand(a.newStatsCmd())
	cmd.AddCommand(a.newServeCmd())
	cmd.AddCommand(a.newDoctorCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and reports failures.
func Execute() error {
	root := NewRootCmd()
	cmd, err := root.ExecuteC()
	if err != nil {
		reportError(cmd, err, os.Stdout, os.Stderr)
	}
	return err
}

// reportError prints err as JSON on stdout when the failed command was run
// with --json, and for humans on stderr otherwise. --debug adds the cause.
func reportError(cmd *cobra.Command, err error, stdout, stderr io.Writer) {
	var done reportedError
	if errors.As(err, &done) {
		return
	}
	if cmd != nil {
		if asJSON, ferr := cmd.Flags().GetBool("json"); ferr == nil && asJSON {
			if data, jerr := cerrors.FormatJSON(err); jerr == nil {
				_, _ = fmt.Fprintln(stdout, string(data))
				return
			}
		}
	}
	verbose := false
	if cmd != nil {
		verbose, _ = cmd.Flags().GetBool("debug")
	}
	_, _ = fmt.Fprint(stderr, cerrors.FormatForCLI(err, verbose))
}

// reportedError is a failure the command already wrote to its output.
type reportedError struct {
	error
}

func (e reportedError) Unwrap() error { return e.error }

// startLogging sends warnings to stderr, or everything to the log file
// with --debug. serve replaces this with file-only logging.
func (a *app) startLogging(cmd *cobra.Command, _ []string) error {
	if a.debug {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		a.logger = logger
		a.loggingCleanup = cleanup
		logger.Debug("debug_logging_enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("command", cmd.CommandPath()),
			slog.String("version", version.Version))
		return nil
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	return nil
}

func (a *app) stopLogging() {
	if a.loggingCleanup != nil {
		a.loggingCleanup()
		a.loggingCleanup = nil
	}
}

// loadConfig loads the configuration and applies command-line overrides.
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.dir)
	if err != nil {
		return nil, cerrors.ConfigError("failed to load configuration", err).
			WithSuggestion("Check .correl8.yaml and ~/.config/correl8/config.yaml")
	}

	overridden := false
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
			overridden = true
		}
	}
	set(&cfg.Index.DocType, a.docType)
	set(&cfg.Index.BaseName, a.baseName)
	set(&cfg.Store.Backend, a.backend)
	set(&cfg.Store.DataDir, a.dataDir)
	if len(a.hosts) > 0 {
		cfg.Store.Hosts = a.hosts
		overridden = true
	}
	if overridden {
		if err := cfg.Validate(); err != nil {
			return nil, cerrors.ConfigError("invalid command-line override", err)
		}
	}
	return cfg, nil
}

// openHandle opens a handle on the configured document type.
func (a *app) openHandle(ctx context.Context, opts ...correl8.Option) (*correl8.Handle, *config.Config, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	docType := strings.TrimSpace(cfg.Index.DocType)
	if docType == "" {
		return nil, nil, cerrors.ValidationError("no document type given", nil).
			WithSuggestion("Pass --type or set index.doc_type in .correl8.yaml")
	}

	base := []correl8.Option{
		correl8.WithBaseName(cfg.Index.BaseName),
		correl8.WithConnection(cfg.Connection()),
		correl8.WithConfigID(cfg.Index.ConfigID),
		correl8.WithNormalizer(cfg.Window()),
		correl8.WithBulkTimeout(cfg.BulkTimeout()),
		correl8.WithLogger(a.logger),
	}
	h, err := correl8.New(ctx, docType, append(base, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	return h, cfg, nil
}

// openQueryLog opens the persistent search log. Failures are logged and
// searching continues without it.
func (a *app) openQueryLog() *telemetry.QueryLog {
	path := os.Getenv(envQueryDB)
	if path == "" {
		path = telemetry.DefaultQueryDBPath()
	}
	qs, err := telemetry.OpenSQLiteQueryStore(path)
	if err != nil {
		a.logger.Warn("query_log_unavailable", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	return telemetry.NewQueryLog(qs, telemetry.DefaultQueryLogConfig())
}

func closeHandle(h *correl8.Handle, logger *slog.Logger) {
	if err := h.Close(); err != nil {
		logger.Warn("handle_close_failed", slog.String("error", err.Error()))
	}
}

func newWriter(cmd *cobra.Command) *output.Writer {
	return output.New(cmd.OutOrStdout())
}
