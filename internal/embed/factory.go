package embed

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// hashModelPrefix identifies the bundled hash embedder family. The full
// model name encodes the dimension, e.g. "hash-256".
const hashModelPrefix = "hash-"

// New creates the bundled hash embedder at the given dimension, wrapped
// with an LRU cache sized by cacheSize. Set TRIRANK_EMBED_CACHE=false to
// disable caching.
func New(dimensions, cacheSize int) Embedder {
	var embedder Embedder = NewStaticEmbedder(dimensions)
	if !isCacheDisabled() {
		embedder = NewCachedEmbedder(embedder, cacheSize)
	}
	return embedder
}

// NewFromModel reconstructs an embedder from a recorded model name, so
// query-time vectors land in the same space the index was built in.
// Only the bundled hash family can be reconstructed locally; an index
// built from precomputed model vectors has no query-side embedder here.
func NewFromModel(model string, cacheSize int) (Embedder, error) {
	dims, err := parseHashDimensions(model)
	if err != nil {
		return nil, err
	}
	return New(dims, cacheSize), nil
}

// parseHashDimensions extracts the dimension from a hash model name.
func parseHashDimensions(model string) (int, error) {
	if !strings.HasPrefix(model, hashModelPrefix) {
		return 0, fmt.Errorf("unknown embedding model %q (expected %s<dimensions>)", model, hashModelPrefix)
	}
	dims, err := strconv.Atoi(strings.TrimPrefix(model, hashModelPrefix))
	if err != nil || dims < 1 {
		return 0, fmt.Errorf("invalid embedding model %q: bad dimension", model)
	}
	return dims, nil
}

// isCacheDisabled checks if the embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("TRIRANK_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// EmbedderInfo contains information about an embedder
type EmbedderInfo struct {
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo returns information about an embedder
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	return EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}
}
