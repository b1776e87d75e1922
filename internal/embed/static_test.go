package embed

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Basic Embedding
// ============================================================================

func TestStaticEmbedder_Embed_ReturnsCorrectDimensions(t *testing.T) {
	// Given: hash embedder at the default dimension
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	// When: I embed a short text
	embedding, err := embedder.Embed(context.Background(), "solar panel installation costs")

	// Then: a DefaultDimensions-length vector is returned
	require.NoError(t, err)
	assert.Len(t, embedding, DefaultDimensions)
}

func TestStaticEmbedder_Embed_CustomDimensions(t *testing.T) {
	// Given: hash embedder at 64 dimensions
	embedder := NewStaticEmbedder(64)
	defer func() { _ = embedder.Close() }()

	// When: I embed text
	embedding, err := embedder.Embed(context.Background(), "wind turbine maintenance")

	// Then: a 64-length vector is returned
	require.NoError(t, err)
	assert.Len(t, embedding, 64)
	assert.Equal(t, 64, embedder.Dimensions())
}

func TestStaticEmbedder_Embed_VectorIsNormalized(t *testing.T) {
	// Given: hash embedder
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	// When: I embed text
	embedding, err := embedder.Embed(context.Background(), "battery storage capacity")
	require.NoError(t, err)

	// Then: vector magnitude is ~1.0 (normalized)
	magnitude := vectorMagnitude(embedding)
	assert.InDelta(t, 1.0, magnitude, 0.001, "vector should be normalized to unit length")
}

// ============================================================================
// Deterministic Output
// ============================================================================

func TestStaticEmbedder_Embed_IsDeterministic(t *testing.T) {
	// Given: hash embedder
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	text := "grid interconnection standards for rooftop solar"

	// When: I embed same text twice
	emb1, err1 := embedder.Embed(context.Background(), text)
	emb2, err2 := embedder.Embed(context.Background(), text)

	// Then: identical vectors are returned
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, emb1, emb2, "same text should produce identical vectors")
}

func TestStaticEmbedder_Embed_DeterministicAcrossInstances(t *testing.T) {
	// Given: two separate embedder instances
	embedder1 := NewStaticEmbedder(0)
	embedder2 := NewStaticEmbedder(0)
	defer func() { _ = embedder1.Close() }()
	defer func() { _ = embedder2.Close() }()

	text := "hydroelectric dam turbine efficiency"

	// When: I embed same text with different instances
	emb1, _ := embedder1.Embed(context.Background(), text)
	emb2, _ := embedder2.Embed(context.Background(), text)

	// Then: identical vectors are returned
	assert.Equal(t, emb1, emb2, "same text should produce identical vectors across instances")
}

// ============================================================================
// Different Texts Differ
// ============================================================================

func TestStaticEmbedder_Embed_DifferentTextsProduceDifferentVectors(t *testing.T) {
	// Given: hash embedder
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	// When: I embed two unrelated texts
	emb1, _ := embedder.Embed(context.Background(), "solar panel efficiency")
	emb2, _ := embedder.Embed(context.Background(), "municipal water treatment")

	// Then: different vectors are returned
	assert.NotEqual(t, emb1, emb2, "different texts should produce different vectors")
}

// ============================================================================
// Empty Input
// ============================================================================

func TestStaticEmbedder_Embed_EmptyInput_ReturnsZeroVector(t *testing.T) {
	// Given: hash embedder
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	// When: I embed empty string
	embedding, err := embedder.Embed(context.Background(), "")

	// Then: a zero vector of the full dimension is returned
	require.NoError(t, err)
	assert.Len(t, embedding, DefaultDimensions)

	for i, v := range embedding {
		assert.Equal(t, float32(0), v, "element %d should be zero", i)
	}
}

func TestStaticEmbedder_Embed_WhitespaceOnly_ReturnsZeroVector(t *testing.T) {
	// Given: hash embedder
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	// When: I embed whitespace-only string
	embedding, err := embedder.Embed(context.Background(), "   \t\n  ")

	// Then: a zero vector is returned
	require.NoError(t, err)
	assert.Len(t, embedding, DefaultDimensions)

	for _, v := range embedding {
		assert.Equal(t, float32(0), v)
	}
}

// ============================================================================
// Similar Texts Have Higher Similarity
// ============================================================================

func TestStaticEmbedder_SimilarText_HasHigherSimilarity(t *testing.T) {
	// Given: hash embedder and text samples
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	panels := "solar panels convert sunlight into electricity"
	cells := "solar cells turn sunlight into electric power"
	plumbing := "copper pipes carry water through the building"

	// When: I compute embeddings
	panelsEmb, _ := embedder.Embed(context.Background(), panels)
	cellsEmb, _ := embedder.Embed(context.Background(), cells)
	plumbingEmb, _ := embedder.Embed(context.Background(), plumbing)

	// Then: panels/cells similarity > panels/plumbing similarity
	nearSim := cosineSimilarity(panelsEmb, cellsEmb)
	farSim := cosineSimilarity(panelsEmb, plumbingEmb)

	assert.Greater(t, nearSim, farSim,
		"related texts should have higher similarity (near: %.4f) than unrelated (far: %.4f)",
		nearSim, farSim)
}

// ============================================================================
// Per-Token Embeddings
// ============================================================================

func TestStaticEmbedder_EmbedTokens_OneVectorPerToken(t *testing.T) {
	// Given: hash embedder
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	// When: I embed tokens of a three-content-word text
	matrix, err := embedder.EmbedTokens(context.Background(), "solar panel efficiency")

	// Then: three unit vectors are returned, in token order
	require.NoError(t, err)
	require.Len(t, matrix, 3)
	for i, vec := range matrix {
		assert.Len(t, vec, DefaultDimensions, "token %d should have full dimension", i)
		assert.InDelta(t, 1.0, vectorMagnitude(vec), 0.001, "token %d should be unit length", i)
	}
}

func TestStaticEmbedder_EmbedTokens_FunctionWordsFiltered(t *testing.T) {
	// Given: hash embedder
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	// When: I embed tokens of a text padded with function words
	matrix, err := embedder.EmbedTokens(context.Background(), "the cost of the panels")

	// Then: only the content words survive
	require.NoError(t, err)
	assert.Len(t, matrix, 2, "expected vectors for 'cost' and 'panels' only")
}

func TestStaticEmbedder_EmbedTokens_SameTokenMatchesExactly(t *testing.T) {
	// Given: hash embedder
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	// When: the same token appears in a query and a chunk
	queryMatrix, err := embedder.EmbedTokens(context.Background(), "turbine")
	require.NoError(t, err)
	chunkMatrix, err := embedder.EmbedTokens(context.Background(), "turbine maintenance schedule")
	require.NoError(t, err)

	// Then: the shared token's vectors have dot product ~1.0
	require.Len(t, queryMatrix, 1)
	require.NotEmpty(t, chunkMatrix)
	sim := cosineSimilarity(queryMatrix[0], chunkMatrix[0])
	assert.InDelta(t, 1.0, sim, 0.001, "identical tokens should produce identical vectors")
}

func TestStaticEmbedder_EmbedTokens_EmptyText_ReturnsEmptyMatrix(t *testing.T) {
	// Given: hash embedder
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	// When: I embed tokens of empty and all-function-word texts
	empty, err1 := embedder.EmbedTokens(context.Background(), "")
	stopOnly, err2 := embedder.EmbedTokens(context.Background(), "the of and")

	// Then: both return empty (non-nil) matrices
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
	assert.NotNil(t, stopOnly)
	assert.Empty(t, stopOnly)
}

func TestStaticEmbedder_EmbedTokens_IsDeterministic(t *testing.T) {
	// Given: hash embedder
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	text := "offshore wind farm capacity factor"

	// When: I embed tokens twice
	m1, err1 := embedder.EmbedTokens(context.Background(), text)
	m2, err2 := embedder.EmbedTokens(context.Background(), text)

	// Then: identical matrices are returned
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, m1, m2)
}

// ============================================================================
// Multilingual Tokenization
// ============================================================================

func TestStaticEmbedder_Embed_ArabicText_ProducesNonZeroVector(t *testing.T) {
	// Given: hash embedder
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	// When: I embed Arabic text
	embedding, err := embedder.Embed(context.Background(), "تكلفة تركيب الألواح الشمسية")

	// Then: a normalized non-zero vector is returned
	require.NoError(t, err)
	assert.Len(t, embedding, DefaultDimensions)
	assert.InDelta(t, 1.0, vectorMagnitude(embedding), 0.001,
		"Arabic text should tokenize and produce a unit vector")
}

func TestStaticEmbedder_EmbedTokens_ArabicText(t *testing.T) {
	// Given: hash embedder
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	// When: I embed tokens of Arabic text with a function word
	matrix, err := embedder.EmbedTokens(context.Background(), "الطاقة من الشمس")

	// Then: the function word "من" is dropped, content tokens survive
	require.NoError(t, err)
	assert.Len(t, matrix, 2)
}

func TestStaticEmbedder_Embed_SpanishAccents_MatchTokenization(t *testing.T) {
	// Given: hash embedder
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	// When: I embed accented Spanish text
	embedding, err := embedder.Embed(context.Background(), "instalación de paneles solares")

	// Then: a unit vector is returned (accented letters tokenize)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vectorMagnitude(embedding), 0.001)
}

// ============================================================================
// Always Available
// ============================================================================

func TestStaticEmbedder_Available_AlwaysTrue(t *testing.T) {
	// Given: hash embedder
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	// When: I check Available()
	available := embedder.Available(context.Background())

	// Then: result is always true
	assert.True(t, available, "hash embedder should always be available")
}

func TestStaticEmbedder_Available_TrueEvenWithCancelledContext(t *testing.T) {
	// Given: hash embedder
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	// When: I check Available() with cancelled context
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	available := embedder.Available(ctx)

	// Then: result is still true (no external dependencies)
	assert.True(t, available, "hash embedder should be available even with cancelled context")
}

// ============================================================================
// Performance
// ============================================================================

func TestStaticEmbedder_Performance(t *testing.T) {
	// Given: hash embedder
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	texts := make([]string, 1000)
	for i := range texts {
		texts[i] = "renewable energy source " + string(rune('a'+i%26)) + " capacity planning"
	}

	// When: I embed 1000 texts
	start := time.Now()
	for _, text := range texts {
		_, err := embedder.Embed(context.Background(), text)
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	// Then: total time is < 1 second (< 1ms each)
	assert.Less(t, elapsed, 1*time.Second,
		"embedding 1000 texts should take < 1s (took %v)", elapsed)
}

// ============================================================================
// Interface Compliance
// ============================================================================

func TestStaticEmbedder_ImplementsEmbedderInterface(t *testing.T) {
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	// Verify interface compliance at compile time
	var _ Embedder = embedder
}

func TestStaticEmbedder_ModelName_EncodesDimension(t *testing.T) {
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	assert.Equal(t, "hash-256", embedder.ModelName())

	small := NewStaticEmbedder(64)
	defer func() { _ = small.Close() }()

	assert.Equal(t, "hash-64", small.ModelName())
}

// ============================================================================
// Batch Embedding
// ============================================================================

func TestStaticEmbedder_EmbedBatch_ReturnsCorrectCount(t *testing.T) {
	// Given: hash embedder
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	texts := []string{"solar output", "wind output", "tidal output"}

	// When: I call EmbedBatch
	embeddings, err := embedder.EmbedBatch(context.Background(), texts)

	// Then: 3 embeddings are returned
	require.NoError(t, err)
	assert.Len(t, embeddings, 3)

	// And: each has the full dimension
	for i, emb := range embeddings {
		assert.Len(t, emb, DefaultDimensions, "embedding %d should have correct dimensions", i)
	}
}

func TestStaticEmbedder_EmbedBatch_EmptyList_ReturnsEmpty(t *testing.T) {
	// Given: hash embedder
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	// When: I call EmbedBatch with empty list
	embeddings, err := embedder.EmbedBatch(context.Background(), []string{})

	// Then: empty result returned without error
	require.NoError(t, err)
	assert.Empty(t, embeddings)
}

func TestStaticEmbedder_EmbedBatch_HandlesEmptyStringsInBatch(t *testing.T) {
	// Given: batch with empty strings mixed in
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	texts := []string{
		"geothermal heat pump sizing",
		"", // Empty string
		"district heating network losses",
	}

	// When: I call EmbedBatch
	embeddings, err := embedder.EmbedBatch(context.Background(), texts)

	// Then: all embeddings returned
	require.NoError(t, err)
	assert.Len(t, embeddings, 3)

	// And: empty string produces zero vector
	for _, v := range embeddings[1] {
		assert.Equal(t, float32(0), v)
	}
}

// ============================================================================
// Edge Cases
// ============================================================================

func TestStaticEmbedder_Close_IsIdempotent(t *testing.T) {
	embedder := NewStaticEmbedder(0)

	// Should not panic on multiple closes
	err1 := embedder.Close()
	err2 := embedder.Close()
	err3 := embedder.Close()

	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.NoError(t, err3)
}

func TestStaticEmbedder_Embed_AfterClose_ReturnsError(t *testing.T) {
	embedder := NewStaticEmbedder(0)
	_ = embedder.Close()

	// When: I try to embed after close
	_, err := embedder.Embed(context.Background(), "test")

	// Then: error is returned
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestStaticEmbedder_EmbedTokens_AfterClose_ReturnsError(t *testing.T) {
	embedder := NewStaticEmbedder(0)
	_ = embedder.Close()

	_, err := embedder.EmbedTokens(context.Background(), "test")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestStaticEmbedder_Available_AfterClose_ReturnsFalse(t *testing.T) {
	embedder := NewStaticEmbedder(0)
	_ = embedder.Close()

	// When: I check Available after close
	available := embedder.Available(context.Background())

	// Then: returns false
	assert.False(t, available)
}

func TestStaticEmbedder_Embed_LongText_NoError(t *testing.T) {
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	// Generate long text
	longText := ""
	for i := 0; i < 10000; i++ {
		longText += "word "
	}

	embedding, err := embedder.Embed(context.Background(), longText)
	require.NoError(t, err)
	assert.Len(t, embedding, DefaultDimensions)
	assert.InDelta(t, 1.0, vectorMagnitude(embedding), 0.001)
}

// ============================================================================
// N-gram Extraction
// ============================================================================

func TestExtractNgrams_SlidesOverRunes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		n     int
		want  []string
	}{
		{
			name:  "ascii word",
			input: "solar",
			n:     3,
			want:  []string{"sol", "ola", "lar"},
		},
		{
			name:  "shorter than n",
			input: "ab",
			n:     3,
			want:  []string{},
		},
		{
			name:  "arabic runes not bytes",
			input: "شمسية",
			n:     3,
			want:  []string{"شمس", "مسي", "سية"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractNgrams(tt.input, tt.n))
		})
	}
}

// ============================================================================
// Helper Functions
// ============================================================================

// vectorMagnitude computes the magnitude of a vector
func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity computes cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, magA, magB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(magA) * math.Sqrt(magB))
}
