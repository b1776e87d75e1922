package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo contains index health information for the stats command.
type StatusInfo struct {
	// Index stats
	CorpusName     string    `json:"corpus_name"`
	TotalDocuments int       `json:"total_documents"`
	TotalChunks    int       `json:"total_chunks"`
	TotalEntities  int       `json:"total_entities"`
	LastIndexed    time.Time `json:"last_indexed"`

	// Storage sizes (in bytes)
	MetadataSize int64 `json:"metadata_size"`
	GraphSize    int64 `json:"graph_size"`
	TotalSize    int64 `json:"total_size"`

	// Embedding space the index was built in
	EmbeddingModel      string `json:"embedding_model,omitempty"`
	EmbeddingDimensions int    `json:"embedding_dimensions,omitempty"`

	// Component status
	MethodsEnabled []string `json:"methods_enabled"`
	GraphStatus    string   `json:"graph_status"`   // "ready", "empty", "unavailable"
	WatcherStatus  string   `json:"watcher_status"` // "running", "stopped", "n/a"
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	// Header
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index Status: "+info.CorpusName))

	// Index stats
	_, _ = fmt.Fprintf(r.out, "  Documents:    %d\n", info.TotalDocuments)
	_, _ = fmt.Fprintf(r.out, "  Chunks:       %d\n", info.TotalChunks)
	_, _ = fmt.Fprintf(r.out, "  Entities:     %d\n", info.TotalEntities)
	if !info.LastIndexed.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last indexed: %s\n", formatTime(info.LastIndexed))
	}
	_, _ = fmt.Fprintln(r.out)

	// Storage sizes
	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Metadata: %s\n", FormatBytes(info.MetadataSize))
	_, _ = fmt.Fprintf(r.out, "    Graph:    %s\n", FormatBytes(info.GraphSize))
	_, _ = fmt.Fprintf(r.out, "    Total:    %s\n", FormatBytes(info.TotalSize))
	_, _ = fmt.Fprintln(r.out)

	// Embedding space
	if info.EmbeddingModel != "" {
		_, _ = fmt.Fprintln(r.out, "  Embeddings:")
		_, _ = fmt.Fprintf(r.out, "    Model:      %s\n", info.EmbeddingModel)
		_, _ = fmt.Fprintf(r.out, "    Dimensions: %d\n", info.EmbeddingDimensions)
		_, _ = fmt.Fprintln(r.out)
	}

	// Retrieval methods
	if len(info.MethodsEnabled) > 0 {
		_, _ = fmt.Fprintf(r.out, "  Methods: %v\n", info.MethodsEnabled)
	}
	if info.GraphStatus != "" {
		_, _ = fmt.Fprintf(r.out, "  Graph:   %s\n", r.renderStatus(info.GraphStatus))
	}

	// Watcher status
	if info.WatcherStatus != "" && info.WatcherStatus != "n/a" {
		_, _ = fmt.Fprintf(r.out, "  Watcher: %s\n", r.renderStatus(info.WatcherStatus))
	}

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderStatus colors a component state: green when serving, yellow when
// idle, red when broken.
func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready", "running":
		return r.styles.Success.Render(status)
	case "empty", "stopped":
		return r.styles.Warning.Render(status)
	case "error", "unavailable":
		return r.styles.Error.Render(status)
	}
	return status
}

// formatTime renders an index timestamp as a relative age, switching to
// an absolute date once it is more than a week old.
func formatTime(t time.Time) string {
	age := time.Since(t)
	if age < time.Minute {
		return "just now"
	}

	scales := []struct {
		limit time.Duration
		unit  time.Duration
		name  string
	}{
		{time.Hour, time.Minute, "minute"},
		{24 * time.Hour, time.Hour, "hour"},
		{7 * 24 * time.Hour, 24 * time.Hour, "day"},
	}
	for _, s := range scales {
		if age < s.limit {
			n := int(age / s.unit)
			if n == 1 {
				return fmt.Sprintf("1 %s ago", s.name)
			}
			return fmt.Sprintf("%d %ss ago", n, s.name)
		}
	}
	return t.Format("2006-01-02 15:04")
}

// FormatBytes renders a byte count with a binary unit suffix.
func FormatBytes(bytes int64) string {
	const step = 1024
	if bytes < step {
		return fmt.Sprintf("%d B", bytes)
	}
	value := float64(bytes) / step
	for _, unit := range []string{"KB", "MB"} {
		if value < step {
			return fmt.Sprintf("%.1f %s", value, unit)
		}
		value /= step
	}
	return fmt.Sprintf("%.1f GB", value)
}
