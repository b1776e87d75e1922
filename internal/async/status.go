// Package async runs index rebuilds in the background for serve mode.
// Queries keep serving the previous snapshot while a rebuild runs; the
// new snapshot swaps in on completion.
package async

import (
	"context"
	"sync"
	"time"

	"github.com/trirank/trirank/internal/ui"
)

// RebuildStatus is the overall background-rebuild state.
type RebuildStatus string

const (
	// StatusIdle means no rebuild has run in this process yet.
	StatusIdle RebuildStatus = "idle"
	// StatusRebuilding means a rebuild is in flight.
	StatusRebuilding RebuildStatus = "rebuilding"
	// StatusReady means the last rebuild completed and its snapshot is live.
	StatusReady RebuildStatus = "ready"
	// StatusError means the last rebuild failed. The previous snapshot
	// stays live, so this is a health report, not a serving outage.
	StatusError RebuildStatus = "error"
)

// RebuildSnapshot is an immutable view of rebuild progress, shaped for
// the serve status line and the MCP health tool.
type RebuildSnapshot struct {
	Status         string  `json:"status"`
	Stage          string  `json:"stage,omitempty"`
	Current        int     `json:"current"`
	Total          int     `json:"total"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	Builds         int     `json:"builds"`
	Documents      int     `json:"documents"`
	Chunks         int     `json:"chunks"`
	Entities       int     `json:"entities"`
	Errors         int     `json:"errors"`
	Warnings       int     `json:"warnings"`
	LastBuiltAt    string  `json:"last_built_at,omitempty"`
	LastDurationMS int64   `json:"last_duration_ms,omitempty"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// RebuildProgress is a thread-safe rebuild tracker. It implements
// ui.Renderer, so the index builder drives it directly and serve mode
// reads the same numbers the TUI would show.
type RebuildProgress struct {
	mu sync.RWMutex

	status       RebuildStatus
	stage        ui.Stage
	current      int
	total        int
	builds       int
	documents    int
	chunks       int
	entities     int
	errorCount   int
	warnings     int
	startTime    time.Time
	lastBuiltAt  time.Time
	lastDuration time.Duration
	errorMessage string
}

var _ ui.Renderer = (*RebuildProgress)(nil)

// NewRebuildProgress creates a tracker in the idle state.
func NewRebuildProgress() *RebuildProgress {
	return &RebuildProgress{status: StatusIdle}
}

// Begin marks the start of one rebuild and resets per-build counters.
func (p *RebuildProgress) Begin() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusRebuilding
	p.stage = ui.StageLoading
	p.current = 0
	p.total = 0
	p.errorCount = 0
	p.warnings = 0
	p.errorMessage = ""
	p.builds++
	p.startTime = time.Now()
}

// Start implements ui.Renderer.
func (p *RebuildProgress) Start(ctx context.Context) error { return nil }

// UpdateProgress records the stage and counters from one build event.
func (p *RebuildProgress) UpdateProgress(event ui.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = event.Stage
	if event.Total > 0 {
		p.total = event.Total
	}
	if event.Current > 0 {
		p.current = event.Current
	}
}

// AddError counts build warnings and errors.
func (p *RebuildProgress) AddError(event ui.ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings++
	} else {
		p.errorCount++
	}
}

// Complete marks the build done and stores its summary.
func (p *RebuildProgress) Complete(stats ui.CompletionStats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusReady
	p.stage = ui.StageComplete
	p.documents = stats.Documents
	p.chunks = stats.Chunks
	p.entities = stats.Entities
	p.errorCount = stats.Errors
	p.warnings = stats.Warnings
	p.lastBuiltAt = time.Now()
	p.lastDuration = stats.Duration
}

// Stop implements ui.Renderer.
func (p *RebuildProgress) Stop() error { return nil }

// SetError marks the rebuild failed with a message.
func (p *RebuildProgress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusError
	p.errorMessage = message
}

// Rebuilding reports whether a rebuild is in flight.
func (p *RebuildProgress) Rebuilding() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status == StatusRebuilding
}

// Snapshot returns an immutable copy of the current state.
func (p *RebuildProgress) Snapshot() RebuildSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var pct float64
	if p.total > 0 {
		pct = float64(p.current) / float64(p.total) * 100.0
	}
	var elapsed int
	if p.status == StatusRebuilding {
		elapsed = int(time.Since(p.startTime).Seconds())
	}

	snap := RebuildSnapshot{
		Status:         string(p.status),
		Current:        p.current,
		Total:          p.total,
		ProgressPct:    pct,
		ElapsedSeconds: elapsed,
		Builds:         p.builds,
		Documents:      p.documents,
		Chunks:         p.chunks,
		Entities:       p.entities,
		Errors:         p.errorCount,
		Warnings:       p.warnings,
		ErrorMessage:   p.errorMessage,
	}
	if p.status != StatusIdle {
		snap.Stage = p.stage.String()
	}
	if !p.lastBuiltAt.IsZero() {
		snap.LastBuiltAt = p.lastBuiltAt.UTC().Format(time.RFC3339)
		snap.LastDurationMS = p.lastDuration.Milliseconds()
	}
	return snap
}
