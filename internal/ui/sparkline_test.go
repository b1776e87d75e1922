package ui

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSparkline_EmptyRendersBaseline(t *testing.T) {
	s := NewSparkline(10)

	out := s.RenderWithWidth(5)

	assert.Equal(t, strings.Repeat("▁", 5), out)
}

func TestSparkline_PeakRendersFullBlock(t *testing.T) {
	s := NewSparkline(10)
	s.Add(1)
	s.Add(10)

	out := s.RenderWithWidth(10)

	assert.Contains(t, out, "█", "the peak sample should reach full height")
	assert.Equal(t, 10, utf8.RuneCountInString(out))
}

func TestSparkline_PadsWhileFilling(t *testing.T) {
	s := NewSparkline(10)
	s.Add(5)
	s.Add(5)

	out := s.RenderWithWidth(6)

	assert.Equal(t, 6, utf8.RuneCountInString(out))
	assert.True(t, strings.HasSuffix(out, "    "), "unfilled slots pad on the right")
}

func TestSparkline_WindowSlides(t *testing.T) {
	// Given: a full window with one tall sample at the start
	s := NewSparkline(4)
	s.Add(100)
	s.Add(1)
	s.Add(1)
	s.Add(1)

	// When: new samples push the tall one out
	s.Add(2)

	// Then: bars rescale to the remaining peak
	out := s.Render()
	assert.Contains(t, out, "█", "the new peak should reach full height")
	assert.Equal(t, 4, utf8.RuneCountInString(out))
}

func TestSparkline_ClearResets(t *testing.T) {
	s := NewSparkline(8)
	s.Add(3)
	s.Add(7)

	s.Clear()

	assert.Equal(t, strings.Repeat("▁", 8), s.Render())
}

func TestSparkline_NegativeSamplesClampToZero(t *testing.T) {
	s := NewSparkline(4)
	s.Add(-5)
	s.Add(10)

	out := s.Render()

	assert.Equal(t, '▁', []rune(out)[0], "negative samples draw as empty")
}
