package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Operation is a file system operation on a corpus file.
type Operation int

const (
	// OpCreate indicates a new corpus file appeared.
	OpCreate Operation = iota
	// OpModify indicates an existing corpus file changed.
	OpModify
	// OpDelete indicates a corpus file was removed.
	OpDelete
	// OpRename indicates a corpus file was renamed.
	OpRename
	// OpConfigChange indicates the .trirank.yaml config file changed.
	// Serve mode reloads configuration instead of reindexing.
	OpConfigChange
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpConfigChange:
		return "CONFIG_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// ChangeEvent is one detected change to the corpus directory.
type ChangeEvent struct {
	// Path is relative to the watched corpus root.
	Path string

	// Op is the type of change.
	Op Operation

	// IsDir indicates the event is for a directory.
	IsDir bool

	// Timestamp is when the change was detected.
	Timestamp time.Time
}

// WatchOptions configures the corpus watcher.
type WatchOptions struct {
	// DebounceWindow is how long to coalesce events before emitting.
	// Default: 500ms, long enough for a multi-file corpus export.
	DebounceWindow time.Duration

	// PollInterval is the scan interval for polling mode (fallback).
	// Default: 5s.
	PollInterval time.Duration

	// EventBufferSize is the batch channel buffer. Default: 100.
	EventBufferSize int
}

// DefaultWatchOptions returns the default watcher options.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 100,
	}
}

// withDefaults fills zero values with defaults.
func (o WatchOptions) withDefaults() WatchOptions {
	defaults := DefaultWatchOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}

// Watcher watches a corpus directory for .jsonl changes. Events arrive in
// debounced batches, one batch per burst of edits.
type Watcher struct {
	fsWatcher      *fsnotify.Watcher
	pollWatcher    *pollingWatcher
	useFsnotify    bool
	debouncer      *Debouncer
	events         chan []ChangeEvent
	errors         chan error
	stopCh         chan struct{}
	rootPath       string
	opts           WatchOptions
	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64
}

// NewWatcher creates a corpus watcher. fsnotify is preferred; when it
// cannot initialize (unsupported filesystem, exhausted inotify watches)
// the watcher falls back to periodic polling.
func NewWatcher(opts WatchOptions) (*Watcher, error) {
	opts = opts.withDefaults()

	w := &Watcher{
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []ChangeEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		w.fsWatcher = fsw
		w.useFsnotify = true
	} else {
		w.useFsnotify = false
		w.pollWatcher = newPollingWatcher(opts.PollInterval)
	}

	return w, nil
}

// Start begins watching the given corpus directory. It blocks until Stop
// is called or the context is cancelled.
func (w *Watcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	w.mu.Lock()
	w.rootPath = absPath
	w.mu.Unlock()

	go w.forwardDebouncedEvents(ctx)

	if w.useFsnotify {
		return w.startFsnotify(ctx)
	}
	return w.startPolling(ctx)
}

// startFsnotify runs the fsnotify event loop.
func (w *Watcher) startFsnotify(ctx context.Context) error {
	if err := w.addRecursive(w.rootPath); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleFsnotifyEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// startPolling runs the polling loop and forwards its events through the
// debouncer.
func (w *Watcher) startPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case event, ok := <-w.pollWatcher.eventsCh():
				if !ok {
					return
				}
				w.routeEvent(event)
			case err, ok := <-w.pollWatcher.errorsCh():
				if !ok {
					return
				}
				w.emitError(err)
			}
		}
	}()

	return w.pollWatcher.start(ctx, w.rootPath)
}

// handleFsnotifyEvent converts, filters, and routes one fsnotify event.
func (w *Watcher) handleFsnotifyEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(w.rootPath, event.Name)
	if err != nil {
		relPath = event.Name
	}

	isDir := false
	if info, statErr := os.Stat(event.Name); statErr == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		// New directories join the watch so files created inside them
		// are seen.
		if isDir && !ignoredDir(relPath) {
			_ = w.fsWatcher.Add(event.Name)
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// Chmod and unknown ops are noise.
		return
	}

	w.routeEvent(ChangeEvent{
		Path:      relPath,
		Op:        op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

// routeEvent applies the corpus filter and queues the event. Only .jsonl
// files and the config file matter; everything else in the directory is
// not part of the corpus.
func (w *Watcher) routeEvent(event ChangeEvent) {
	if event.Path == "." || event.Path == "" || event.IsDir {
		return
	}
	if ignoredDir(filepath.Dir(event.Path)) {
		return
	}

	base := filepath.Base(event.Path)
	if base == ".trirank.yaml" || base == ".trirank.yml" {
		event.Op = OpConfigChange
		w.debouncer.Add(event)
		return
	}

	if !strings.EqualFold(filepath.Ext(base), ".jsonl") {
		return
	}
	w.debouncer.Add(event)
}

// forwardDebouncedEvents moves debounced batches to the output channel.
func (w *Watcher) forwardDebouncedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case events, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(events) == 0 {
				continue
			}
			w.emitEvents(events)
		}
	}
}

// addRecursive adds root and its non-ignored subdirectories to fsnotify.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip directories we cannot access
		}
		if !d.IsDir() {
			return nil
		}

		relPath, _ := filepath.Rel(w.rootPath, path)
		if relPath == "." {
			return w.fsWatcher.Add(path)
		}
		if ignoredDir(relPath) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

// ignoredDir reports whether a directory is outside the corpus: the data
// directory, version control, and other dotted directories.
func ignoredDir(relPath string) bool {
	if relPath == "." || relPath == "" {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// emitEvents sends a batch to the output channel without blocking. The
// read lock is held across the send so Stop cannot close the channel
// between the stopped check and the send.
func (w *Watcher) emitEvents(events []ChangeEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}

	select {
	case w.events <- events:
	default:
		count := w.droppedBatches.Add(1)
		slog.Warn("watcher buffer full, dropping batch",
			slog.Int("batch_size", len(events)),
			slog.Uint64("total_dropped_batches", count))
	}
}

// emitError sends an error without blocking.
func (w *Watcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}

	select {
	case w.errors <- err:
	default:
	}
}

// Stop stops the watcher and releases resources. Safe to call multiple
// times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)

	w.debouncer.Stop()

	if w.useFsnotify && w.fsWatcher != nil {
		_ = w.fsWatcher.Close()
	}
	if w.pollWatcher != nil {
		_ = w.pollWatcher.stop()
	}

	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel of debounced event batches. The channel is
// closed when the watcher stops.
func (w *Watcher) Events() <-chan []ChangeEvent {
	return w.events
}

// Errors returns the channel of non-fatal watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// DroppedBatches returns how many batches were dropped to a full buffer.
func (w *Watcher) DroppedBatches() uint64 {
	return w.droppedBatches.Load()
}

// Mode returns "fsnotify" or "polling".
func (w *Watcher) Mode() string {
	if w.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// RootPath returns the corpus root being watched.
func (w *Watcher) RootPath() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rootPath
}
