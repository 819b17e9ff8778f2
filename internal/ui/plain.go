package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer prints one line per batch, for pipes and CI logs.
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	title   string
	started bool
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, title: cfg.Title}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started && r.title != "" {
		_, _ = fmt.Fprintln(r.out, r.title)
	}
	r.started = true
	return nil
}

// UpdateProgress implements Renderer.
// Format: [STAGE] current/total - message, or [STAGE] current records.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	line := fmt.Sprintf("[%s] %d records", event.Stage.Icon(), event.Current)
	if event.Total > 0 {
		line = fmt.Sprintf("[%s] %d/%d", event.Stage.Icon(), event.Current, event.Total)
	}
	if event.Message != "" {
		line += " - " + event.Message
	}
	_, _ = fmt.Fprintln(r.out, line)
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	_, _ = fmt.Fprintf(r.out, "%s: %s%v\n", prefix, where(event), event.Err)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %s %d records", stats.Action, stats.Records)
	if stats.Index != "" {
		_, _ = fmt.Fprintf(r.out, " into %s", stats.Index)
	}
	_, _ = fmt.Fprintf(r.out, " in %s", stats.Duration.Round(100*time.Millisecond))
	if stats.Batches > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d batches)", stats.Batches)
	}
	if stats.Failed > 0 || stats.Skipped > 0 {
		_, _ = fmt.Fprintf(r.out, ", %d failed, %d skipped", stats.Failed, stats.Skipped)
	}
	_, _ = fmt.Fprintln(r.out)
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

// where names the record an error event is about.
func where(event ErrorEvent) string {
	switch {
	case event.ID != "":
		return fmt.Sprintf("id %s: ", event.ID)
	case event.Line > 0:
		return fmt.Sprintf("line %d: ", event.Line)
	default:
		return ""
	}
}

var _ Renderer = (*PlainRenderer)(nil)
