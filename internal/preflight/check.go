package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// DefaultCheckTimeout bounds each store check.
const DefaultCheckTimeout = 5 * time.Second

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status by name in JSON reports.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Pinger is the part of a store the checks talk to.
type Pinger interface {
	IndexExists(ctx context.Context, index string) (bool, error)
}

// Target describes what to check. Empty fields skip their checks.
type Target struct {
	// Store is the opened store; nil reports the store as unavailable.
	Store Pinger
	// StoreErr is the error that kept Store from opening, if any.
	StoreErr error
	// Index and ConfigIndex are the active and config index names.
	Index       string
	ConfigIndex string
	// DataDir is the local backend directory.
	DataDir string
}

// Checker performs preflight validation checks.
type Checker struct {
	verbose bool
	timeout time.Duration
	output  io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose enables verbose output.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// WithCheckTimeout bounds each store check.
func WithCheckTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a new Checker with the given options.
func New(opts ...Option) *Checker {
	c := &Checker{
		timeout: DefaultCheckTimeout,
		output:  os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check that applies to t.
func (c *Checker) RunAll(ctx context.Context, t Target) []CheckResult {
	var results []CheckResult

	if t.DataDir != "" {
		results = append(results, c.CheckWritePermissions(t.DataDir))
		results = append(results, c.CheckDiskSpace(t.DataDir))
	}
	results = append(results, c.CheckFileDescriptors())

	storeResult := c.CheckStore(ctx, t.Store, t.StoreErr)
	results = append(results, storeResult)
	if storeResult.Status != StatusPass {
		return results
	}

	if t.Index != "" {
		results = append(results, c.CheckIndex(ctx, t.Store, "index", t.Index,
			"Run 'correl8 init' to create it"))
	}
	if t.ConfigIndex != "" {
		results = append(results, c.CheckIndex(ctx, t.Store, "config_index", t.ConfigIndex,
			"Created on first use by any correl8 command"))
	}
	return results
}

// CheckStore checks the store once.
func (c *Checker) CheckStore(ctx context.Context, s Pinger, openErr error) CheckResult {
	result := CheckResult{
		Name:     "store",
		Required: true,
	}
	if openErr != nil || s == nil {
		result.Status = StatusFail
		result.Message = "cannot open store"
		if openErr != nil {
			result.Details = openErr.Error()
		}
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	if _, err := s.IndexExists(ctx, "correl8-preflight"); err != nil {
		result.Status = StatusFail
		result.Message = "unreachable"
		result.Details = err.Error()
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("reachable (%s)", time.Since(start).Round(time.Millisecond))
	return result
}

// CheckIndex reports whether index exists. A missing index is a warning.
func (c *Checker) CheckIndex(ctx context.Context, s Pinger, name, index, hint string) CheckResult {
	result := CheckResult{Name: name}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	exists, err := s.IndexExists(ctx, index)
	switch {
	case err != nil:
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s: %v", index, err)
	case !exists:
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s does not exist", index)
		result.Details = hint
	default:
		result.Status = StatusPass
		result.Message = index
	}
	return result
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns a summary status string for the results.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	hasCriticalFailure := false

	for _, r := range results {
		if r.IsCritical() {
			hasCriticalFailure = true
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}

	if hasCriticalFailure {
		return "failed"
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "correl8 doctor")
	_, _ = fmt.Fprintln(c.output, "==============")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if r.Details != "" && (c.verbose || r.Status != StatusPass) {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))
}

// CheckWritePermissions checks that dir exists or can be created, and that
// files can be written in it.
func (c *Checker) CheckWritePermissions(dir string) CheckResult {
	result := CheckResult{
		Name:     "write_permissions",
		Required: true,
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
		return result
	}
	f, err := os.CreateTemp(dir, ".correl8-preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	result.Status = StatusPass
	result.Message = dir
	return result
}
