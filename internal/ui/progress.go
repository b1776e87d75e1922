package ui

import (
	"sync"
	"time"
)

// ProgressTracker holds build progress for the current stage, plus the
// errors and warnings collected along the way. Safe for concurrent use:
// builder goroutines update it while a renderer reads snapshots.
type ProgressTracker struct {
	mu          sync.RWMutex
	stage       Stage
	current     int
	total       int
	currentItem string
	startTime   time.Time
	stageStart  time.Time
	errors      []ErrorEvent
	warnings    []ErrorEvent

	// lastETA carries the previous estimate for exponential smoothing.
	lastETA time.Duration

	speed speedMeter
}

// SpeedStats contains throughput metrics for display.
type SpeedStats struct {
	Current float64 // items/sec right now
	Avg     float64 // rolling average
	Peak    float64 // maximum observed
}

// ProgressStats is a snapshot of current progress.
type ProgressStats struct {
	Stage       Stage
	Current     int
	Total       int
	Progress    float64
	ETA         time.Duration
	CurrentItem string
	ErrorCount  int
	WarnCount   int
	Speed       SpeedStats
}

// NewProgressTracker creates a tracker positioned at the first stage.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	p := &ProgressTracker{
		stage:      StageLoading,
		startTime:  now,
		stageStart: now,
	}
	p.speed.reset(now)
	return p
}

// SetStage transitions to a new stage and resets per-stage state.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.total = total
	p.current = 0
	p.currentItem = ""
	p.stageStart = time.Now()
	p.lastETA = 0
	p.speed.reset(p.stageStart)
}

// Update advances progress within the current stage.
func (p *ProgressTracker) Update(current int, item string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if item != "" {
		p.currentItem = item
	}
	p.speed.observe(current, time.Now())
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
	} else {
		p.errors = append(p.errors, event)
	}
}

// Progress returns completion of the current stage as 0.0 to 1.0.
func (p *ProgressTracker) Progress() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.progressLocked()
}

func (p *ProgressTracker) progressLocked() float64 {
	if p.total == 0 {
		return 0.0
	}
	progress := float64(p.current) / float64(p.total)
	if progress > 1.0 {
		return 1.0
	}
	return progress
}

// ETA estimates remaining time for the current stage. Takes the write
// lock because smoothing stores the estimate it returns.
func (p *ProgressTracker) ETA() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calculateETA()
}

// Elapsed returns time since tracker creation.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Since(p.startTime)
}

// Stats returns a snapshot of everything a renderer needs. Takes the
// write lock because the embedded ETA updates its smoothing state.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProgressStats{
		Stage:       p.stage,
		Current:     p.current,
		Total:       p.total,
		Progress:    p.progressLocked(),
		ETA:         p.calculateETA(),
		CurrentItem: p.currentItem,
		ErrorCount:  len(p.errors),
		WarnCount:   len(p.warnings),
		Speed:       p.speed.stats(),
	}
}

// etaSmoothingFactor weights new estimates against the previous one.
// Embedding batches vary enough that a raw ETA jumps around.
const etaSmoothingFactor = 0.3

// calculateETA estimates remaining stage time with exponential
// smoothing. Must be called with the lock held.
func (p *ProgressTracker) calculateETA() time.Duration {
	if p.current == 0 || p.total == 0 {
		return 0
	}

	elapsed := time.Since(p.stageStart)
	progress := float64(p.current) / float64(p.total)
	if progress <= 0 || progress >= 1.0 {
		return 0
	}

	totalEstimate := time.Duration(float64(elapsed) / progress)
	rawRemaining := totalEstimate - elapsed
	if rawRemaining < 0 {
		return 0
	}

	if p.lastETA == 0 {
		p.lastETA = rawRemaining
		return rawRemaining
	}
	smoothed := time.Duration(
		etaSmoothingFactor*float64(rawRemaining) +
			(1-etaSmoothingFactor)*float64(p.lastETA),
	)
	p.lastETA = smoothed
	return smoothed
}

// Errors returns a copy of the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]ErrorEvent, len(p.errors))
	copy(result, p.errors)
	return result
}

// Warnings returns a copy of the recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]ErrorEvent, len(p.warnings))
	copy(result, p.warnings)
	return result
}

// RenderSparkline returns the throughput chart at the given width.
func (p *ProgressTracker) RenderSparkline(width int) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.speed.chart == nil {
		return ""
	}
	if width <= 0 {
		return p.speed.chart.Render()
	}
	return p.speed.chart.RenderWithWidth(width)
}

// SpeedStats returns current throughput statistics.
func (p *ProgressTracker) SpeedStats() SpeedStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.speed.stats()
}

// speedSampleInterval spaces throughput samples far enough apart that
// per-update jitter stays out of the chart.
const speedSampleInterval = 500 * time.Millisecond

// speedMeter derives items/sec from progress updates, keeping a rolling
// average, the observed peak, and a sparkline of recent samples. Callers
// hold the tracker lock.
type speedMeter struct {
	lastCurrent int
	lastSample  time.Time
	current     float64
	avg         float64
	peak        float64
	samples     int
	chart       *Sparkline
}

func (m *speedMeter) reset(now time.Time) {
	m.lastCurrent = 0
	m.lastSample = now
	m.current = 0
	m.avg = 0
	m.peak = 0
	m.samples = 0
	if m.chart == nil {
		m.chart = NewSparkline(60)
	} else {
		m.chart.Clear()
	}
}

func (m *speedMeter) observe(current int, now time.Time) {
	elapsed := now.Sub(m.lastSample)
	if elapsed < speedSampleInterval {
		return
	}

	delta := current - m.lastCurrent
	if delta > 0 && elapsed > 0 {
		speed := float64(delta) / elapsed.Seconds()
		m.current = speed

		m.samples++
		if m.samples == 1 {
			m.avg = speed
		} else {
			// Smoothing factor 0.2 keeps the average responsive
			// without tracking every spike.
			m.avg = 0.2*speed + 0.8*m.avg
		}

		if speed > m.peak {
			m.peak = speed
		}
		m.chart.Add(speed)
	}

	m.lastCurrent = current
	m.lastSample = now
}

func (m *speedMeter) stats() SpeedStats {
	return SpeedStats{
		Current: m.current,
		Avg:     m.avg,
		Peak:    m.peak,
	}
}
