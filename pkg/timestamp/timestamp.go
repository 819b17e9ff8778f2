// Package timestamp turns loosely typed record timestamps into calendar times.
//
// Records arrive with timestamps as date strings, epoch seconds or epoch
// milliseconds, usually without saying which. The Window normalizer resolves
// numeric values by checking which interpretation lands inside a plausible
// time window. Callers depend on the Normalizer interface so an explicit,
// unit-tagged input can replace the heuristic later.
package timestamp

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPast is how far back a numeric timestamp may lie (about 10 years).
	DefaultPast = time.Duration(365.25*24*10) * time.Hour

	// DefaultFuture bounds the window on the recent side.
	// The upper bound of the accepted window is now minus this value.
	DefaultFuture = 24 * time.Hour
)

// Normalizer converts an arbitrary timestamp value into a time.Time.
// The boolean result is false when no normalization is possible; callers
// must then substitute the current time and surface a warning.
type Normalizer interface {
	Normalize(v any) (time.Time, bool)
}

// layouts are tried in order for string values.
// Values without a zone are read as UTC, never as the host's local zone.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.RFC822Z,
	time.RFC822,
	time.RubyDate,
	time.UnixDate,
	time.ANSIC,
	"Mon Jan 02 2006 15:04:05 GMT-0700",
	"January 2, 2006 15:04:05",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// Window is the window-based Normalizer.
//
// A numeric value is read as epoch milliseconds when it falls within
// [now-Past, now-Future], otherwise as epoch seconds when it falls within the
// same window expressed in seconds. Milliseconds are tried first, so a value
// that is both a plausible recent second count and an old millisecond count
// resolves to milliseconds.
type Window struct {
	Past   time.Duration
	Future time.Duration

	// Now returns the reference time. Defaults to time.Now.
	Now func() time.Time
}

// NewWindow returns a Window with the given horizons.
// Zero values fall back to DefaultPast and DefaultFuture.
func NewWindow(past, future time.Duration) *Window {
	if past == 0 {
		past = DefaultPast
	}
	if future == 0 {
		future = DefaultFuture
	}
	return &Window{Past: past, Future: future, Now: time.Now}
}

// Default returns a Window with the default horizons.
func Default() *Window {
	return NewWindow(DefaultPast, DefaultFuture)
}

// Unset reports whether v carries no timestamp at all: nil, an empty string,
// a numeric zero or false. Such records are stamped with the current time
// without a fallback warning.
func Unset(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case bool:
		return !val
	case string:
		return val == ""
	case json.Number:
		f, err := val.Float64()
		return err == nil && f == 0
	}
	if n, ok := toInt(v); ok {
		return n == 0
	}
	if f, ok := toFloat(v); ok {
		return f == 0
	}
	return false
}

// Normalize implements Normalizer.
func (w *Window) Normalize(v any) (time.Time, bool) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if val.IsZero() {
			return time.Time{}, false
		}
		return val, true
	case *time.Time:
		if val == nil || val.IsZero() {
			return time.Time{}, false
		}
		return *val, true
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}
		if t, ok := ParseDate(s); ok {
			return t, true
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return w.integer(n)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return time.Time{}, false
		}
		return w.fractional(f)
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return w.integer(n)
		}
		f, err := val.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return w.fractional(f)
	}

	if n, ok := toInt(v); ok {
		return w.integer(n)
	}
	if f, ok := toFloat(v); ok {
		return w.fractional(f)
	}
	return time.Time{}, false
}

// bounds returns the accepted window in milliseconds and in seconds.
func (w *Window) bounds() (msLow, msHigh, secLow, secHigh int64) {
	now := w.now()
	msLow = now.UnixMilli() - w.Past.Milliseconds()
	msHigh = now.UnixMilli() - w.Future.Milliseconds()
	secLow = now.Unix() - int64(w.Past/time.Second)
	secHigh = now.Unix() - int64(w.Future/time.Second)
	return msLow, msHigh, secLow, secHigh
}

// integer applies the millisecond-then-second window checks to an exact
// integer, so no precision is lost on the way to a time.Time.
func (w *Window) integer(n int64) (time.Time, bool) {
	msLow, msHigh, secLow, secHigh := w.bounds()
	if n >= msLow && n <= msHigh {
		return time.UnixMilli(n), true
	}
	if n >= secLow && n <= secHigh {
		return time.Unix(n, 0), true
	}
	return time.Time{}, false
}

// fractional is integer for values that carry a fraction.
func (w *Window) fractional(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return w.integer(int64(f))
	}

	msLow, msHigh, secLow, secHigh := w.bounds()
	if f >= float64(msLow) && f <= float64(msHigh) {
		return fromMillis(f), true
	}
	if f >= float64(secLow) && f <= float64(secHigh) {
		return fromMillis(f * 1e3), true
	}
	return time.Time{}, false
}

// fromMillis converts the whole milliseconds exactly and rounds the fraction
// to the microsecond, below which a float64 near the present carries noise.
func fromMillis(ms float64) time.Time {
	whole, frac := math.Modf(ms)
	return time.UnixMilli(int64(whole)).Add(time.Duration(math.Round(frac*1e3)) * time.Microsecond)
}

func (w *Window) now() time.Time {
	if w.Now == nil {
		return time.Now()
	}
	return w.Now()
}

// ParseDate parses s with the supported calendar layouts.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Format renders t the way the reserved timestamp field is stored:
// RFC 3339 with millisecond precision, accepted by strict_date_optional_time.
func Format(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
