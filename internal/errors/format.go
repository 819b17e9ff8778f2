package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
)

// FormatForCLI renders err for the terminal: the message, the details that
// name what failed (index, field, ...), the suggestion and the code. The
// underlying cause is shown only when verbose is set.
func FormatForCLI(err error, verbose bool) string {
	if err == nil {
		return ""
	}
	ae := asError(err)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", ae.Message)
	for _, k := range slices.Sorted(maps.Keys(ae.Details)) {
		fmt.Fprintf(&sb, "  %s: %s\n", k, ae.Details[k])
	}
	if verbose && ae.Cause != nil && ae.Cause.Error() != ae.Message {
		fmt.Fprintf(&sb, "  Cause: %v\n", ae.Cause)
	}
	if ae.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", ae.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", ae.Code)
	return sb.String()
}

// JSONError is the --json form of a failed command.
type JSONError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON wraps err as {"error": {...}} for commands run with --json.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	return json.Marshal(struct {
		Error JSONError `json:"error"`
	}{AsJSON(err)})
}

// AsJSON converts err for embedding in a larger JSON report.
func AsJSON(err error) JSONError {
	ae := asError(err)
	je := JSONError{
		Code:       ae.Code,
		Message:    ae.Message,
		Category:   string(ae.Category),
		Severity:   string(ae.Severity),
		Details:    ae.Details,
		Suggestion: ae.Suggestion,
		Retryable:  ae.Retryable,
	}
	if ae.Cause != nil {
		je.Cause = ae.Cause.Error()
	}
	return je
}

// LogAttr returns err as a single slog attribute. Structured errors become
// an "error" group carrying code, cause and details; other errors a string.
func LogAttr(err error) slog.Attr {
	var ae *Error
	if !errors.As(err, &ae) {
		return slog.String("error", err.Error())
	}

	attrs := []any{
		slog.String("code", ae.Code),
		slog.String("message", ae.Message),
		slog.Bool("retryable", ae.Retryable),
	}
	if ae.Cause != nil {
		attrs = append(attrs, slog.String("cause", ae.Cause.Error()))
	}
	for _, k := range slices.Sorted(maps.Keys(ae.Details)) {
		attrs = append(attrs, slog.String(k, ae.Details[k]))
	}
	return slog.Group("error", attrs...)
}

func asError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(ErrCodeInternal, err)
}
