package ui

import (
	"strings"
)

// Sparkline charts recent throughput samples as a row of Unicode block
// characters. Bars scale to the highest sample currently visible, so the
// chart always uses its full height.
type Sparkline struct {
	samples []float64 // ring buffer
	head    int
	count   int
}

// sparkLevels are the block characters from empty to full.
var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// NewSparkline creates a sparkline holding capacity samples.
func NewSparkline(capacity int) *Sparkline {
	if capacity <= 0 {
		capacity = 60
	}
	return &Sparkline{samples: make([]float64, capacity)}
}

// Add records one sample, evicting the oldest once the window is full.
func (s *Sparkline) Add(value float64) {
	if value < 0 {
		value = 0
	}
	s.samples[s.head] = value
	s.head = (s.head + 1) % len(s.samples)
	s.count++
}

// Clear discards all samples.
func (s *Sparkline) Clear() {
	for i := range s.samples {
		s.samples[i] = 0
	}
	s.head = 0
	s.count = 0
}

// Render draws the full window.
func (s *Sparkline) Render() string {
	return s.RenderWithWidth(len(s.samples))
}

// RenderWithWidth draws the most recent width samples, right-padded while
// the window is still filling so the chart grows left to right.
func (s *Sparkline) RenderWithWidth(width int) string {
	if width <= 0 || width > len(s.samples) {
		width = len(s.samples)
	}

	window := s.window()
	if len(window) == 0 {
		return strings.Repeat(string(sparkLevels[0]), width)
	}
	if len(window) > width {
		window = window[len(window)-width:]
	}

	var peak float64
	for _, v := range window {
		if v > peak {
			peak = v
		}
	}

	var b strings.Builder
	b.Grow(width * 3)
	for _, v := range window {
		b.WriteRune(levelFor(v, peak))
	}
	for i := len(window); i < width; i++ {
		b.WriteRune(' ')
	}
	return b.String()
}

// window returns the recorded samples oldest to newest.
func (s *Sparkline) window() []float64 {
	n := s.count
	if n > len(s.samples) {
		n = len(s.samples)
	}
	start := 0
	if s.count > len(s.samples) {
		start = s.head
	}
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s.samples[(start+i)%len(s.samples)])
	}
	return out
}

// levelFor maps a sample to a block character, scaled against the peak.
func levelFor(value, peak float64) rune {
	if peak <= 0 {
		return sparkLevels[0]
	}
	idx := int(value / peak * float64(len(sparkLevels)-1))
	if idx < 0 {
		idx = 0
	}
	if idx > len(sparkLevels)-1 {
		idx = len(sparkLevels) - 1
	}
	return sparkLevels[idx]
}
