// Package ui renders the progress of bulk loads: an animated bubbletea view
// on interactive terminals and plain lines for pipes, CI and --no-tui.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/correl8/correl8/internal/output"
)

// Stage is a phase of a bulk load.
type Stage int

const (
	// StageReading is parsing the NDJSON input.
	StageReading Stage = iota
	// StageSending is sending batches of a finite input.
	StageSending
	// StageFollowing is sending lines appended to a followed file.
	StageFollowing
	// StageComplete indicates the load is done.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageReading:
		return "Reading"
	case StageSending:
		return "Sending"
	case StageFollowing:
		return "Following"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageReading:
		return "READ"
	case StageSending:
		return "SEND"
	case StageFollowing:
		return "TAIL"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent reports records sent so far. Total is zero when the input
// has no known end.
type ProgressEvent struct {
	Stage   Stage
	Current int
	Total   int
	Message string
}

// ErrorEvent is a record that was rejected by the store (an error) or
// skipped while reading (a warning).
type ErrorEvent struct {
	Line   int
	ID     string
	Err    error
	IsWarn bool
}

// CompletionStats summarizes a finished load.
type CompletionStats struct {
	Action   string
	Index    string
	Records  int
	Batches  int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// Renderer displays bulk progress.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config configures the renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	Title      string
}

// ConfigOption modifies a Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithTitle sets the header line, usually naming the target index.
func WithTitle(title string) ConfigOption {
	return func(c *Config) {
		c.Title = title
	}
}

// NewConfig creates a Config writing to output.
func NewConfig(out io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: out, Title: "correl8 bulk"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns the TUI renderer for interactive terminals and the
// plain renderer for everything else.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && output.IsTTY(f)
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
