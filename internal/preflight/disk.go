package preflight

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// MinDiskSpaceBytes is the minimum free space for the local data directory.
const MinDiskSpaceBytes = 100 * 1024 * 1024

// indexesDir holds one bleve directory per index under the data dir.
const indexesDir = "indexes"

// CheckDiskSpace checks the free space in a local data directory. Segment
// merges write the merged segment before dropping its inputs, so the
// largest index must fit once more on top of MinDiskSpaceBytes. Run
// CheckWritePermissions first so that dataDir exists.
func (c *Checker) CheckDiskSpace(dataDir string) CheckResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dataDir, &stat); err != nil {
		return CheckResult{
			Name:     "disk_space",
			Status:   StatusFail,
			Message:  fmt.Sprintf("failed to check disk space: %v", err),
			Required: true,
		}
	}

	name, size, err := largestIndex(dataDir)
	result := diskVerdict(stat.Bavail*uint64(stat.Bsize), name, size)
	if err != nil {
		result.Details = fmt.Sprintf("index sizes unknown: %v", err)
	}
	return result
}

// diskVerdict judges available bytes against what a rebuild of the largest
// index needs.
func diskVerdict(available uint64, largest string, largestSize uint64) CheckResult {
	result := CheckResult{Name: "disk_space", Required: true}
	need := uint64(MinDiskSpaceBytes) + largestSize

	result.Message = fmt.Sprintf("%s free (minimum: %s)", formatBytes(available), formatBytes(need))
	if largest != "" {
		result.Message += fmt.Sprintf(", largest index %s is %s", largest, formatBytes(largestSize))
	}
	if available < need {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusPass
	return result
}

// largestIndex returns the name and on-disk size of the biggest bleve index
// in dataDir. A data dir without indexes yields "" and 0.
func largestIndex(dataDir string) (string, uint64, error) {
	entries, err := os.ReadDir(filepath.Join(dataDir, indexesDir))
	if errors.Is(err, fs.ErrNotExist) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}

	var (
		name    string
		biggest uint64
	)
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), ".bleve") {
			continue
		}
		size, err := dirSize(filepath.Join(dataDir, indexesDir, e.Name()))
		if err != nil {
			return "", 0, err
		}
		if size > biggest {
			name, biggest = strings.TrimSuffix(e.Name(), ".bleve"), size
		}
	}
	return name, biggest, nil
}

func dirSize(root string) (uint64, error) {
	var total uint64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += uint64(info.Size())
		return nil
	})
	return total, err
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
