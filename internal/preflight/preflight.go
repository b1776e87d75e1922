// Package preflight validates the environment before an index build:
// free disk space and write permission where the indexes land, and the
// file descriptor budget the watcher and SQLite stores draw from.
//
// Checks run once per data directory; a marker file records a pass so
// later builds skip them. A forced rebuild clears the marker.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Status is the outcome of a single check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical problem.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

func (s Status) String() string {
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

// Result holds the outcome of one check.
type Result struct {
	Name     string
	Status   Status
	Message  string
	Detail   string
	Required bool
}

// Critical reports whether a required check failed.
func (r Result) Critical() bool {
	return r.Required && r.Status == StatusFail
}

// HasCriticalFailures reports whether any required check failed.
func HasCriticalFailures(results []Result) bool {
	for _, r := range results {
		if r.Critical() {
			return true
		}
	}
	return false
}

// MinDiskSpaceBytes is the free space floor for a build (100 MB).
const MinDiskSpaceBytes = 100 * 1024 * 1024

// MinFileDescriptors is the descriptor budget below which the watcher
// and store fds start competing with the rest of the process.
const MinFileDescriptors = 1024

// Checker runs the environment checks.
type Checker struct{}

// New creates a Checker.
func New() *Checker {
	return &Checker{}
}

// Run executes all checks against the index data directory. The
// directory may not exist yet; path checks fall back to the nearest
// existing ancestor.
func (c *Checker) Run(dataDir string) []Result {
	return []Result{
		c.CheckDiskSpace(dataDir),
		c.CheckWritePermission(dataDir),
		c.CheckFileDescriptors(),
	}
}

// CheckDiskSpace verifies the filesystem holding dir has room for the
// index files.
func (c *Checker) CheckDiskSpace(dir string) Result {
	result := Result{Name: "disk_space", Required: true}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(nearestExisting(dir), &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	available := stat.Bavail * uint64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: %s)", formatBytes(available), formatBytes(MinDiskSpaceBytes))
	if available < MinDiskSpaceBytes {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusPass
	return result
}

// CheckWritePermission verifies a file can be created where the indexes
// will be written.
func (c *Checker) CheckWritePermission(dir string) Result {
	result := Result{Name: "write_permission", Required: true}

	target := nearestExisting(dir)
	probe, err := os.CreateTemp(target, ".trirank-write-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot write to %s: %v", target, err)
		return result
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)

	result.Status = StatusPass
	result.Message = fmt.Sprintf("writable: %s", target)
	return result
}

// CheckFileDescriptors reports a warning when the soft limit is low. A
// corpus directory of .jsonl exports needs few descriptors, so this
// never blocks a build.
func (c *Checker) CheckFileDescriptors() Result {
	result := Result{Name: "file_descriptors", Required: false}

	var rlimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlimit); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", rlimit.Cur, MinFileDescriptors)
	if rlimit.Cur < MinFileDescriptors {
		result.Status = StatusWarn
		result.Detail = "Run 'ulimit -n 4096' to raise the limit"
		return result
	}
	result.Status = StatusPass
	return result
}

// markerName is the passed-checks marker inside the data directory.
const markerName = "preflight.passed"

// NeedsCheck reports whether checks should run for this data directory.
func NeedsCheck(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, markerName))
	return os.IsNotExist(err)
}

// MarkPassed records a successful check run.
func MarkPassed(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	content := []byte(time.Now().Format(time.RFC3339) + "\n")
	return os.WriteFile(filepath.Join(dataDir, markerName), content, 0o644)
}

// ClearMarker forces a re-check on the next build.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, markerName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker: %w", err)
	}
	return nil
}

// nearestExisting walks up from path to the closest directory that
// exists, so checks work before the data directory is created.
func nearestExisting(path string) string {
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}

func formatBytes(bytes uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
		tb = 1024 * gb
	)
	switch {
	case bytes >= tb:
		return fmt.Sprintf("%.1f TB", float64(bytes)/tb)
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kb)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
