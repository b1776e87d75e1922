// Package embed generates vector embeddings for chunks and queries.
//
// The bundled hash embedder is deterministic and fully offline. Corpora
// built with a real embedding model ship their vectors precomputed in the
// corpus file; this package only has to reproduce query-side vectors that
// live in the same space as whatever built the index, which for the
// bundled model means hashing the query the same way the chunks were
// hashed.
package embed

import (
	"context"
	"math"
)

// Batch sizing constants.
const (
	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion)
	MaxBatchSize = 256
)

// DefaultDimensions is the embedding dimension of the bundled hash embedder.
const DefaultDimensions = 256

// Embedder generates vector embeddings for text
type Embedder interface {
	// Embed generates a single pooled embedding for a text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedTokens generates one embedding per analyzed token of the text,
	// in token order. Used for late-interaction (MaxSim) scoring.
	EmbedTokens(ctx context.Context, text string) ([][]float32, error)

	// EmbedBatch generates pooled embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // Return as-is if zero vector
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
