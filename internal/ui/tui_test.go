package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTUIRenderer_ReturnsNilForNonTTY(t *testing.T) {
	// Given: a non-TTY buffer
	buf := &bytes.Buffer{}
	cfg := NewConfig(buf)

	// When: creating TUI renderer
	r, err := NewTUIRenderer(cfg)

	// Then: returns error (can't create TUI for non-TTY)
	assert.Error(t, err)
	assert.Nil(t, r)
}

func TestBuildModel_InitialView(t *testing.T) {
	// Given: a new build model with properly initialized tracker
	tracker := NewProgressTracker()
	model := newBuildModel(tracker, "")

	// When: getting initial view
	view := model.View()

	// Then: view contains stage indicators
	assert.Contains(t, view, "Load")
}

func TestBuildModel_StageIndicators(t *testing.T) {
	// Given: a model at different stages
	tracker := NewProgressTracker()
	model := newBuildModel(tracker, "")

	// When: rendering at the loading stage
	tracker.SetStage(StageLoading, 100)
	view := model.View()

	// Then: all stage indicators are shown (short names)
	assert.Contains(t, view, "Load")
	assert.Contains(t, view, "Lexical")
	assert.Contains(t, view, "Embed")
	assert.Contains(t, view, "Graph")
}

func TestBuildModel_ProgressDisplay(t *testing.T) {
	// Given: a model with progress
	tracker := NewProgressTracker()
	tracker.SetStage(StageLoading, 100)
	tracker.Update(50, "corpus/solar.jsonl")

	model := newBuildModel(tracker, "")

	// When: rendering view
	view := model.View()

	// Then: progress is shown
	assert.Contains(t, view, "50")
	assert.Contains(t, view, "100")
}

func TestBuildModel_ItemDisplay(t *testing.T) {
	// Given: a model with a current item
	tracker := NewProgressTracker()
	tracker.SetStage(StageLoading, 100)
	tracker.Update(1, "corpus/energy/storage.jsonl")

	model := newBuildModel(tracker, "")

	// When: rendering view
	view := model.View()

	// Then: item path is shown (possibly truncated)
	assert.Contains(t, view, "storage.jsonl")
}

func TestBuildModel_ErrorDisplay(t *testing.T) {
	// Given: a model with errors
	tracker := NewProgressTracker()
	tracker.AddError(ErrorEvent{
		Item:   "corpus/broken.jsonl",
		Err:    assert.AnError,
		IsWarn: false,
	})
	tracker.AddError(ErrorEvent{
		Item:   "chunk-odd",
		Err:    assert.AnError,
		IsWarn: true,
	})

	model := newBuildModel(tracker, "")

	// When: rendering view
	view := model.View()

	// Then: error count is shown
	assert.Contains(t, view, "1")
}

func TestBuildModel_CompletionState(t *testing.T) {
	// Given: a completed model
	tracker := NewProgressTracker()
	tracker.SetStage(StageComplete, 0)

	model := newBuildModel(tracker, "")
	model.complete = true
	model.stats = CompletionStats{
		Documents: 100,
		Chunks:    500,
		Entities:  40,
	}

	// When: rendering view
	view := model.View()

	// Then: shows completion
	assert.Contains(t, view, "Complete")
}

func TestStageUnit(t *testing.T) {
	assert.Equal(t, "records", stageUnit(StageLoading))
	assert.Equal(t, "chunks", stageUnit(StageLexical))
	assert.Equal(t, "chunks", stageUnit(StageEmbedding))
	assert.Equal(t, "entities", stageUnit(StageGraph))
}

func TestTruncatePath_Short(t *testing.T) {
	// Given: a short path
	path := "corpus/solar.jsonl"

	// When: truncating
	result := truncatePath(path, 50)

	// Then: unchanged
	assert.Equal(t, path, result)
}

func TestTruncatePath_Long(t *testing.T) {
	// Given: a long path
	path := "corpus/archive/very/deeply/nested/directory/records.jsonl"

	// When: truncating to 30 chars
	result := truncatePath(path, 30)

	// Then: truncated with ellipsis
	assert.LessOrEqual(t, len(result), 30)
	assert.Contains(t, result, "...")
	assert.Contains(t, result, "records.jsonl") // Keeps filename
}

func TestTruncatePath_Empty(t *testing.T) {
	// Given: empty path
	path := ""

	// When: truncating
	result := truncatePath(path, 50)

	// Then: returns empty
	assert.Equal(t, "", result)
}

func TestTUIRenderer_InterfaceCompliance(t *testing.T) {
	// Ensure TUIRenderer implements Renderer
	var _ Renderer = (*TUIRenderer)(nil)
}
