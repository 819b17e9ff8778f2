// Package watcher follows a growing file and hands each appended line to a
// callback, the way `tail -F` does.
//
// The package uses a hybrid strategy:
//   - Primary: fsnotify events on the file's directory
//   - Fallback: a poll ticker, for mounts where fsnotify is unavailable or
//     silent (network file systems, Docker volumes)
//
// Truncation restarts reading at the top of the file. Rotation (the path
// now names a different file) finishes the old file and continues with the
// new one from its start.
//
// Usage:
//
//	err := watcher.Follow(ctx, "events.ndjson", watcher.Options{}, func(line []byte) error {
//	    return handle(line)
//	})
package watcher
