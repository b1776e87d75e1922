// Package output formats user-facing command output: status lines,
// section headers, and inline progress. Structured logging stays on
// slog; this package only covers what a human reads on stdout. Write
// errors are ignored throughout, console output has nowhere to report
// them.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/trirank/trirank/internal/ui"
)

// Writer prints formatted command output. Styling engages only when
// the destination is an interactive terminal and NO_COLOR is unset.
type Writer struct {
	out    io.Writer
	styles ui.Styles
}

// New creates a Writer with automatic color detection.
func New(out io.Writer) *Writer {
	noColor := ui.DetectNoColor() || !ui.IsTTY(out)
	return &Writer{out: out, styles: ui.GetStyles(noColor)}
}

// NewPlain creates a Writer that never styles its output.
func NewPlain(out io.Writer) *Writer {
	return &Writer{out: out, styles: ui.NoColorStyles()}
}

// Status prints a message under a short prefix column.
func (w *Writer) Status(prefix, msg string) {
	if prefix != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", prefix, msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "  %s\n", msg)
}

// Statusf prints a formatted status message.
func (w *Writer) Statusf(prefix, format string, args ...any) {
	w.Status(prefix, fmt.Sprintf(format, args...))
}

// Header prints a bold section header.
func (w *Writer) Header(msg string) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(msg))
}

// Headerf prints a formatted section header.
func (w *Writer) Headerf(format string, args ...any) {
	w.Header(fmt.Sprintf(format, args...))
}

// Dim prints secondary text, indented under the line it belongs to.
func (w *Writer) Dim(msg string) {
	_, _ = fmt.Fprintf(w.out, "   %s\n", w.styles.Label.Render(msg))
}

// Success prints a success line.
func (w *Writer) Success(msg string) {
	w.Status(w.styles.Success.Render("✓"), msg)
}

// Successf prints a formatted success line.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (w *Writer) Warning(msg string) {
	w.Status(w.styles.Warning.Render("!"), msg)
}

// Warningf prints a formatted warning line.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error line.
func (w *Writer) Error(msg string) {
	w.Status(w.styles.Error.Render("✗"), msg)
}

// Errorf prints a formatted error line.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Code prints an indented block, blank-line separated from its
// surroundings.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Progress prints an in-place progress bar. The line ends only once
// current reaches total.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}

	pct := float64(current) / float64(total) * 100
	bar := w.styles.Progress.Render(renderProgressBar(current, total, 30))
	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", bar, pct, msg)

	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

// ProgressDone terminates an unfinished progress line.
func (w *Writer) ProgressDone() {
	_, _ = fmt.Fprintln(w.out)
}

func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}

	filled := int(float64(current) / float64(total) * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
