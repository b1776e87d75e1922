package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// pollingWatcher detects corpus changes by periodically rescanning the
// directory. It is the fallback when fsnotify cannot initialize.
type pollingWatcher struct {
	interval  time.Duration
	fileState map[string]fileSnapshot
	events    chan ChangeEvent
	errors    chan error
	stopCh    chan struct{}
	mu        sync.Mutex
	stopped   bool
	rootPath  string
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

func newPollingWatcher(interval time.Duration) *pollingWatcher {
	return &pollingWatcher{
		interval:  interval,
		fileState: make(map[string]fileSnapshot),
		events:    make(chan ChangeEvent, 100),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}
}

// start polls until the context is cancelled or stop is called. The first
// scan establishes the baseline; later scans diff against it.
func (p *pollingWatcher) start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	p.rootPath = absPath

	baseline, err := p.snapshot()
	if err != nil {
		return fmt.Errorf("perform initial scan: %w", err)
	}
	p.mu.Lock()
	p.fileState = baseline
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.detectChanges(); err != nil {
				select {
				case p.errors <- err:
				default:
				}
			}
		}
	}
}

func (p *pollingWatcher) stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

func (p *pollingWatcher) eventsCh() <-chan ChangeEvent {
	return p.events
}

func (p *pollingWatcher) errorsCh() <-chan error {
	return p.errors
}

// snapshot records the state of every tracked file under the root.
// Only corpus .jsonl files and the config file are tracked; the data
// directory and other dotted directories are skipped.
func (p *pollingWatcher) snapshot() (map[string]fileSnapshot, error) {
	state := make(map[string]fileSnapshot)
	err := filepath.WalkDir(p.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip entries we cannot access
		}

		relPath, relErr := filepath.Rel(p.rootPath, path)
		if relErr != nil || relPath == "." {
			return nil
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if !trackedFile(d.Name()) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		state[relPath] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// trackedFile reports whether a file name participates in change
// detection.
func trackedFile(name string) bool {
	if name == ".trirank.yaml" || name == ".trirank.yml" {
		return true
	}
	return strings.EqualFold(filepath.Ext(name), ".jsonl")
}

// detectChanges rescans and emits one event per created, modified, or
// deleted file since the previous scan.
func (p *pollingWatcher) detectChanges() error {
	current, err := p.snapshot()
	if err != nil {
		return fmt.Errorf("walk corpus for changes: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for path, snap := range current {
		prev, existed := p.fileState[path]
		switch {
		case !existed:
			p.emitEvent(ChangeEvent{Path: path, Op: OpCreate, Timestamp: time.Now()})
		case prev.modTime != snap.modTime || prev.size != snap.size:
			p.emitEvent(ChangeEvent{Path: path, Op: OpModify, Timestamp: time.Now()})
		}
	}

	for path := range p.fileState {
		if _, exists := current[path]; !exists {
			p.emitEvent(ChangeEvent{Path: path, Op: OpDelete, Timestamp: time.Now()})
		}
	}

	p.fileState = current
	return nil
}

// emitEvent sends without blocking. Called with the lock held.
func (p *pollingWatcher) emitEvent(event ChangeEvent) {
	if p.stopped {
		return
	}

	select {
	case p.events <- event:
	default:
		slog.Warn("polling watcher buffer full, dropping event",
			slog.String("path", event.Path),
			slog.String("op", event.Op.String()))
	}
}
