package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/correl8/correl8/internal/output"
)

// maxShownErrors is how many rejected records the live view lists.
const maxShownErrors = 3

// TUIRenderer draws an animated progress view using bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *bulkModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails when the output is not a
// terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, errors.New("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newBulkModel(tracker, cfg.Title, output.GetStyles(cfg.NoColor || output.DetectNoColor()))
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer. The view is drawn inline, not on the
// alternate screen, so the final summary stays in the scrollback.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.program = tea.NewProgram(r.model,
		tea.WithOutput(r.cfg.Output),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
		tea.WithContext(ctx),
	)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage != r.tracker.Stats().Stage {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current)
	if r.program != nil {
		r.program.Send(progressUpdateMsg(event))
	}
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(event)
	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.SetStage(StageComplete, 0)
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program == nil {
		return nil
	}
	r.program.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	r.cancel()
	return nil
}

var _ Renderer = (*TUIRenderer)(nil)

type progressUpdateMsg ProgressEvent
type errorMsg ErrorEvent
type completeMsg CompletionStats
type tickMsg time.Time

// bulkModel is the bubbletea model for a bulk load.
type bulkModel struct {
	tracker     *ProgressTracker
	title       string
	width       int
	complete    bool
	stats       CompletionStats
	lastMessage string
	recent      []ErrorEvent
	spinner     spinner.Model
	progressBar progress.Model
	styles      output.Styles
}

func newBulkModel(tracker *ProgressTracker, title string, styles output.Styles) *bulkModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Success

	p := progress.New(
		progress.WithSolidFill(output.ColorLime),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	return &bulkModel{
		tracker:     tracker,
		title:       title,
		width:       80,
		spinner:     s,
		progressBar: p,
		styles:      styles,
	}
}

// Init implements tea.Model.
func (m *bulkModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *bulkModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = max(msg.Width-30, 20)

	case progressUpdateMsg:
		m.lastMessage = msg.Message

	case errorMsg:
		m.recent = append(m.recent, ErrorEvent(msg))
		if len(m.recent) > maxShownErrors {
			m.recent = m.recent[len(m.recent)-maxShownErrors:]
		}

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *bulkModel) View() string {
	if m.complete {
		return m.renderComplete()
	}

	stats := m.tracker.Stats()
	lines := []string{m.styles.Header.Render(m.title)}

	if stats.Total > 0 {
		lines = append(lines, fmt.Sprintf("%s  %s",
			m.progressBar.ViewAs(stats.Progress),
			m.styles.Label.Render(fmt.Sprintf("%d / %d records", stats.Current, stats.Total))))
	} else {
		lines = append(lines, fmt.Sprintf("%s %s  %s",
			m.spinner.View(), stats.Stage,
			m.styles.Label.Render(fmt.Sprintf("%d records", stats.Current))))
	}

	metrics := fmt.Sprintf("Speed: %.0f/s", stats.Speed.Current)
	if stats.Speed.Avg > 0 {
		metrics += fmt.Sprintf(" (avg: %.0f, peak: %.0f)", stats.Speed.Avg, stats.Speed.Peak)
	}
	if stats.ETA > 0 {
		metrics += "  ETA: " + formatDuration(stats.ETA)
	}
	if m.lastMessage != "" {
		metrics += "  " + m.lastMessage
	}
	lines = append(lines, m.styles.Dim.Render(metrics))

	if stats.ErrorCount > 0 || stats.WarnCount > 0 {
		lines = append(lines, m.styles.Warning.Render(
			fmt.Sprintf("%d rejected, %d skipped", stats.ErrorCount, stats.WarnCount)))
		for _, e := range m.recent {
			style := m.styles.Error
			if e.IsWarn {
				style = m.styles.Warning
			}
			lines = append(lines, style.Render(truncate("  "+where(e)+e.Err.Error(), m.width)))
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

func (m *bulkModel) renderComplete() string {
	s := m.stats
	line := fmt.Sprintf("%s %d records", s.Action, s.Records)
	if s.Index != "" {
		line += " into " + s.Index
	}
	line += " in " + formatDuration(s.Duration)
	if s.Batches > 0 {
		line += fmt.Sprintf(" (%d batches)", s.Batches)
	}

	lines := []string{m.styles.Success.Render("DONE") + " " + line}
	if s.Failed > 0 || s.Skipped > 0 {
		lines = append(lines, m.styles.Warning.Render(
			fmt.Sprintf("     %d failed, %d skipped", s.Failed, s.Skipped)))
	}
	return strings.Join(lines, "\n") + "\n"
}

// formatDuration formats d as 1h2m, 2m15s, 4.2s or 350ms.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func truncate(s string, width int) string {
	if width <= 3 || lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	if len(r) <= width-3 {
		return s
	}
	return string(r[:width-3]) + "..."
}
