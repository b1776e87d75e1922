package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// StaticEmbedder generates embeddings using a hash-based approach.
// Works without external dependencies (no network, no model download).
// Provides deterministic, fast embeddings with reduced semantic quality.
type StaticEmbedder struct {
	mu         sync.RWMutex
	dimensions int
	closed     bool
}

// functionWords contains high-frequency function words to filter out before
// hashing. Covers the supported corpus languages (English, Spanish, Arabic).
var functionWords = map[string]bool{
	// English
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "to": true, "in": true, "is": true, "are": true,
	"was": true, "for": true, "on": true, "with": true, "that": true,
	// Spanish
	"el": true, "la": true, "los": true, "las": true, "de": true,
	"del": true, "en": true, "un": true, "una": true, "es": true,
	"por": true, "para": true, "con": true, "que": true, "se": true,
	// Arabic
	"في": true, "من": true, "على": true, "إلى": true, "عن": true,
	"هذا": true, "هذه": true, "هو": true, "هي": true, "أن": true,
}

// Weights for vector generation
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// tokenRegex matches runs of Unicode letters and digits, so Arabic and
// accented Spanish text tokenize the same way ASCII does.
var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// NewStaticEmbedder creates a hash embedder with the given dimension.
// Non-positive dimensions fall back to DefaultDimensions.
func NewStaticEmbedder(dimensions int) *StaticEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &StaticEmbedder{dimensions: dimensions}
}

// Embed generates a pooled embedding for a single text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	// Handle empty/whitespace input
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dimensions), nil
	}

	// Generate vector
	vector := e.generateVector(trimmed)

	// Normalize
	return normalizeVector(vector), nil
}

// EmbedTokens generates one unit vector per analyzed token, in token order.
// Each token vector hashes the token itself plus its character n-grams, so
// shared surface forms between query and chunk tokens produce high dot
// products under MaxSim. Texts with no surviving tokens return an empty
// matrix.
func (e *StaticEmbedder) EmbedTokens(ctx context.Context, text string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return [][]float32{}, nil
	}

	tokens := filterFunctionWords(tokenize(trimmed))
	if len(tokens) == 0 {
		return [][]float32{}, nil
	}

	vectors := make([][]float32, len(tokens))
	for i, token := range tokens {
		vectors[i] = e.tokenVector(token)
	}
	return vectors, nil
}

// generateVector creates a hash-based pooled vector from text.
func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, e.dimensions)

	// Step 1: Tokenize
	tokens := tokenize(text)

	// Step 2: Filter function words
	tokens = filterFunctionWords(tokens)

	// Step 3: Add tokens with weight 0.7
	for _, token := range tokens {
		index := hashToIndex(token, e.dimensions)
		vector[index] += tokenWeight
	}

	// Step 4: Extract n-grams and add with weight 0.3
	normalized := normalizeForNgrams(text)
	ngrams := extractNgrams(normalized, ngramSize)
	for _, ngram := range ngrams {
		index := hashToIndex(ngram, e.dimensions)
		vector[index] += ngramWeight
	}

	return vector
}

// tokenVector creates a unit vector for a single token from the token hash
// plus its character n-gram hashes.
func (e *StaticEmbedder) tokenVector(token string) []float32 {
	vector := make([]float32, e.dimensions)
	vector[hashToIndex(token, e.dimensions)] += tokenWeight
	for _, ngram := range extractNgrams(token, ngramSize) {
		vector[hashToIndex(ngram, e.dimensions)] += ngramWeight
	}
	return normalizeVector(vector)
}

// tokenize splits text into lowercased word tokens.
func tokenize(text string) []string {
	words := tokenRegex.FindAllString(text, -1)

	tokens := make([]string, 0, len(words))
	for _, word := range words {
		lower := strings.ToLower(word)
		if lower != "" {
			tokens = append(tokens, lower)
		}
	}

	return tokens
}

// filterFunctionWords removes high-frequency function words.
func filterFunctionWords(tokens []string) []string {
	var filtered []string
	for _, t := range tokens {
		if !functionWords[t] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// normalizeForNgrams prepares text for n-gram extraction.
func normalizeForNgrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// extractNgrams extracts n-rune sliding windows. Windows slide over runes,
// not bytes, so multi-byte scripts do not produce torn UTF-8 fragments.
func extractNgrams(text string, n int) []string {
	runes := []rune(text)
	if len(runes) < n {
		return []string{}
	}

	ngrams := make([]string, 0, len(runes)-n+1)
	for i := 0; i <= len(runes)-n; i++ {
		ngrams = append(ngrams, string(runes[i:i+n]))
	}
	return ngrams
}

// hashToIndex uses FNV-64 to map a string to an index.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// EmbedBatch generates pooled embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}

	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelName returns the model identifier, which encodes the dimension so an
// index records enough to rebuild a compatible query embedder.
func (e *StaticEmbedder) ModelName() string {
	return fmt.Sprintf("%s%d", hashModelPrefix, e.dimensions)
}

// Available checks if the embedder is ready (always true until closed).
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
