package async

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/trirank/trirank/internal/corpus"
)

// BuildFunc runs one full index build and returns its result.
type BuildFunc func(ctx context.Context) (*corpus.BuildResult, error)

// RebuilderConfig configures the background rebuilder.
type RebuilderConfig struct {
	// DataDir is the index data directory. The in-progress marker lives
	// there.
	DataDir string

	// Build runs one rebuild (required).
	Build BuildFunc

	// OnComplete is called after each successful build, before the next
	// watcher batch is considered. Serve mode swaps the live graph
	// source here.
	OnComplete func(result *corpus.BuildResult)

	// OnConfigChange is called when the watcher reports a config file
	// change. Config changes never trigger a rebuild.
	OnConfigChange func(path string)
}

// Rebuilder turns watcher batches into index rebuilds, one at a time.
// Batches arriving while a build runs coalesce into at most one
// follow-up build, so a long corpus export costs two builds, not one
// per file.
type Rebuilder struct {
	cfg      RebuilderConfig
	progress *RebuildProgress
	trigger  chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
	lastErr error
}

// NewRebuilder creates a rebuilder. The build function is required.
func NewRebuilder(cfg RebuilderConfig) (*Rebuilder, error) {
	if cfg.Build == nil {
		return nil, fmt.Errorf("build function is required")
	}
	return &Rebuilder{
		cfg:      cfg,
		progress: NewRebuildProgress(),
		trigger:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Progress returns the shared progress tracker. Inject it as the build
// renderer so rebuilds report live stage and counts.
func (r *Rebuilder) Progress() *RebuildProgress {
	return r.progress
}

// Trigger requests a rebuild outside the watcher path, e.g. at serve
// startup when the index is missing or a previous build was
// interrupted. Non-blocking; pending triggers coalesce.
func (r *Rebuilder) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run consumes watcher batches until the context is cancelled, the
// channel closes, or Stop is called. It blocks; serve mode runs it on
// its own goroutine.
func (r *Rebuilder) Run(ctx context.Context, batches <-chan []corpus.ChangeEvent) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("rebuilder already running")
	}
	r.started = true
	r.mu.Unlock()
	defer close(r.doneCh)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stopCh:
			return nil
		case <-r.trigger:
			r.buildLoop(ctx, batches)
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			if r.classify(batch) {
				r.buildLoop(ctx, batches)
			}
		}
	}
}

// classify routes config changes to their callback and reports whether
// the batch contains corpus changes.
func (r *Rebuilder) classify(batch []corpus.ChangeEvent) bool {
	corpusChanged := false
	for _, event := range batch {
		if event.Op == corpus.OpConfigChange {
			slog.Info("config_change_detected", slog.String("path", event.Path))
			if r.cfg.OnConfigChange != nil {
				r.cfg.OnConfigChange(event.Path)
			}
			continue
		}
		corpusChanged = true
	}
	return corpusChanged
}

// buildLoop builds, then builds again while corpus changes arrived
// mid-build. Everything that lands during one build coalesces into a
// single follow-up.
func (r *Rebuilder) buildLoop(ctx context.Context, batches <-chan []corpus.ChangeEvent) {
	for {
		r.buildOnce(ctx)

		dirty := false
	drain:
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-r.trigger:
				dirty = true
			case batch, ok := <-batches:
				if !ok {
					break drain
				}
				if r.classify(batch) {
					dirty = true
				}
			default:
				break drain
			}
		}
		if !dirty {
			return
		}
	}
}

// buildOnce runs one build with the in-progress marker on disk. The
// marker is removed only after a clean finish, so the next serve start
// can tell the index may be torn and rebuild it.
func (r *Rebuilder) buildOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	r.progress.Begin()
	start := time.Now()
	slog.Info("background_rebuild_started")

	marker := markerPath(r.cfg.DataDir)
	if err := os.MkdirAll(r.cfg.DataDir, 0o755); err == nil {
		_ = os.WriteFile(marker, []byte(time.Now().UTC().Format(time.RFC3339)), 0o644)
	}

	result, err := r.cfg.Build(ctx)
	if err != nil {
		if ctx.Err() != nil {
			slog.Info("background_rebuild_interrupted",
				slog.Duration("elapsed", time.Since(start)))
			return
		}
		r.progress.SetError(err.Error())
		r.setErr(err)
		slog.Error("background_rebuild_failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		return
	}

	_ = os.Remove(marker)
	r.setErr(nil)
	if r.cfg.OnComplete != nil {
		r.cfg.OnComplete(result)
	}
	slog.Info("background_rebuild_complete",
		slog.Int("documents", result.Documents),
		slog.Int("chunks", result.Chunks),
		slog.Int("entities", result.Entities),
		slog.Duration("elapsed", time.Since(start)))
}

func (r *Rebuilder) setErr(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

// LastError returns the most recent build error, nil after a success.
func (r *Rebuilder) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Stop signals Run to return and waits for it. Safe to call multiple
// times and before Run.
func (r *Rebuilder) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// markerPath is the in-progress marker location under the data dir.
func markerPath(dataDir string) string {
	return filepath.Join(dataDir, "rebuild.active")
}

// HasInterruptedBuild reports whether a previous rebuild died without
// finishing: the marker is written when a build starts and removed only
// on a clean finish.
func HasInterruptedBuild(dataDir string) bool {
	_, err := os.Stat(markerPath(dataDir))
	return err == nil
}
