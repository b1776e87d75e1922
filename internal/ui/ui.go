// Package ui provides terminal UI components for index-build progress and
// status display.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage represents an index build stage.
type Stage int

const (
	// StageLoading is the corpus record loading stage.
	StageLoading Stage = iota
	// StageLexical is the inverted-index build stage.
	StageLexical
	// StageEmbedding is the chunk embedding stage.
	StageEmbedding
	// StageGraph is the knowledge-graph build stage.
	StageGraph
	// StageFinalizing is the snapshot commit and validation stage.
	StageFinalizing
	// StageComplete indicates the build is complete.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageLoading:
		return "Loading"
	case StageLexical:
		return "Lexical"
	case StageEmbedding:
		return "Embedding"
	case StageGraph:
		return "Graph"
	case StageFinalizing:
		return "Finalizing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage icon for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageLoading:
		return "LOAD"
	case StageLexical:
		return "LEX"
	case StageEmbedding:
		return "EMBED"
	case StageGraph:
		return "GRAPH"
	case StageFinalizing:
		return "FINAL"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent represents a progress update.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentItem string // Corpus file or chunk id in flight
	Message     string
}

// ErrorEvent represents an error during processing.
type ErrorEvent struct {
	Item   string // Corpus file, record, or chunk the error concerns
	Err    error
	IsWarn bool
}

// StageTimings tracks duration for each build stage.
type StageTimings struct {
	Load     time.Duration // Corpus record parsing
	Lexical  time.Duration // Inverted index build
	Embed    time.Duration // Embedding generation
	Graph    time.Duration // Knowledge graph build
	Finalize time.Duration // Snapshot commit + validation
}

// EmbedderInfo describes how chunk vectors were produced.
type EmbedderInfo struct {
	Model       string // Embedding model name (e.g. "hash-256")
	Dimensions  int
	Precomputed int // Chunks whose vectors arrived with the corpus
	Generated   int // Chunks embedded locally
}

// CompletionStats contains final build statistics.
type CompletionStats struct {
	Documents int
	Chunks    int
	Entities  int
	Duration  time.Duration
	Errors    int
	Warnings  int
	Stages    StageTimings
	Embedder  EmbedderInfo
}

// Renderer defines the interface for progress display.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates progress display.
	UpdateProgress(event ProgressEvent)

	// AddError adds an error to display.
	AddError(event ErrorEvent)

	// Complete marks rendering as complete with summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	CorpusDir  string // Corpus root path to display in header
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithCorpusDir sets the corpus root path to display in the header.
func WithCorpusDir(dir string) ConfigOption {
	return func(c *Config) {
		c.CorpusDir = dir
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{
		Output: output,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

// NewRenderer creates an appropriate renderer based on config and environment.
// It returns a TUI renderer for interactive terminals, and a plain text
// renderer for CI environments, pipes, or when --no-tui is specified.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain {
		return NewPlainRenderer(cfg)
	}

	if !IsTTY(cfg.Output) {
		return NewPlainRenderer(cfg)
	}

	if DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}

	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}

	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	return false
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
