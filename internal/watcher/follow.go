package watcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrLineTooLong is returned when a line grows past Options.MaxLineBytes
// without a newline.
var ErrLineTooLong = errors.New("line too long")

// LineFunc receives one line without its line ending. The slice is only
// valid during the call.
type LineFunc func(line []byte) error

// Options configures Follow.
type Options struct {
	// PollInterval is how often the file is checked without an event.
	// Default: 1s
	PollInterval time.Duration

	// FromStart reads the existing content before following. By default
	// only lines appended after Follow starts are delivered.
	FromStart bool

	// MaxLineBytes bounds a single line.
	// Default: 16MB
	MaxLineBytes int

	// AfterRead, if set, runs after each burst of lines has been delivered.
	AfterRead func() error

	// Logger receives watch errors. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultOptions returns the default follow options.
func DefaultOptions() Options {
	return Options{
		PollInterval: time.Second,
		MaxLineBytes: 16 * 1024 * 1024,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = defaults.MaxLineBytes
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type follower struct {
	path    string
	opts    Options
	fn      LineFunc
	file    *os.File
	offset  int64
	partial []byte
	buf     []byte
}

// Follow delivers the lines appended to path until ctx is done or fn
// returns an error. A trailing line without a newline is held back until
// it is completed. Follow returns nil when ctx is cancelled.
func Follow(ctx context.Context, path string, opts Options, fn LineFunc) error {
	opts = opts.WithDefaults()
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	f := &follower{path: abs, opts: opts, fn: fn, buf: make([]byte, 32*1024)}
	if err := f.open(opts.FromStart); err != nil {
		return err
	}
	defer f.close()

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if fsw, err := fsnotify.NewWatcher(); err != nil {
		opts.Logger.Debug("follow_polling", slog.String("path", abs), slog.String("reason", err.Error()))
	} else {
		defer func() { _ = fsw.Close() }()
		// The directory is watched so that a rotated file is noticed.
		if err := fsw.Add(filepath.Dir(abs)); err != nil {
			opts.Logger.Debug("follow_polling", slog.String("path", abs), slog.String("reason", err.Error()))
		} else {
			events, errs = fsw.Events, fsw.Errors
		}
	}

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	if err := f.read(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			opts.Logger.Warn("follow_watch_error", slog.String("path", abs), slog.String("error", err.Error()))
			continue
		case <-ticker.C:
		}

		if err := f.poll(); err != nil {
			return err
		}
	}
}

func (f *follower) open(fromStart bool) error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.path, err)
	}
	f.file = file
	f.offset = 0
	f.partial = f.partial[:0]
	if fromStart {
		return nil
	}
	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("seek %s: %w", f.path, err)
	}
	f.offset = end
	return nil
}

func (f *follower) close() {
	if f.file != nil {
		_ = f.file.Close()
	}
}

// poll handles rotation and truncation, then reads what is new.
func (f *follower) poll() error {
	info, err := os.Stat(f.path)
	if err != nil {
		// Removed and not yet recreated: keep the open file.
		return f.read()
	}
	cur, err := f.file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", f.path, err)
	}

	switch {
	case !os.SameFile(info, cur):
		if err := f.read(); err != nil {
			return err
		}
		f.close()
		if err := f.open(true); err != nil {
			return err
		}
		f.opts.Logger.Debug("follow_rotated", slog.String("path", f.path))
	case info.Size() < f.offset:
		if _, err := f.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("seek %s: %w", f.path, err)
		}
		f.offset = 0
		f.partial = f.partial[:0]
		f.opts.Logger.Debug("follow_truncated", slog.String("path", f.path))
	}
	return f.read()
}

// read delivers every complete line up to the end of the file.
func (f *follower) read() error {
	delivered := false
	for {
		n, err := f.file.Read(f.buf)
		if n > 0 {
			f.offset += int64(n)
			got, cerr := f.consume(f.buf[:n])
			if cerr != nil {
				return cerr
			}
			delivered = delivered || got
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", f.path, err)
		}
	}
	if delivered && f.opts.AfterRead != nil {
		return f.opts.AfterRead()
	}
	return nil
}

func (f *follower) consume(data []byte) (bool, error) {
	delivered := false
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			f.partial = append(f.partial, data...)
			if len(f.partial) > f.opts.MaxLineBytes {
				return delivered, fmt.Errorf("%s: %w", f.path, ErrLineTooLong)
			}
			return delivered, nil
		}

		line := data[:i]
		if len(f.partial) > 0 {
			f.partial = append(f.partial, line...)
			line = f.partial
		}
		if err := f.fn(bytes.TrimSuffix(line, []byte("\r"))); err != nil {
			return delivered, err
		}
		delivered = true
		f.partial = f.partial[:0]
		data = data[i+1:]
	}
	return delivered, nil
}
