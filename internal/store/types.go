// Package store persists corpus metadata: documents, chunks, per-chunk
// embeddings, and runtime state. The retrieval indexes (lexical, dense,
// graph) are built from this layer and enriched back through it.
package store

import (
	"context"
	"time"
)

// State keys for the metadata store.
const (
	// StateKeyIndexDimension stores the embedding dimension used for the index.
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexModel stores the embedding model name used for the index.
	StateKeyIndexModel = "index_embedding_model"
	// StateKeyAnalyzerLanguages stores the comma-joined analyzer languages
	// the lexical index was built with.
	StateKeyAnalyzerLanguages = "index_analyzer_languages"
	// StateKeyIndexedAt stores the RFC3339 timestamp of the last full rebuild.
	StateKeyIndexedAt = "indexed_at"
	// StateKeySchemaVersion stores the metadata schema version.
	StateKeySchemaVersion = "schema_version"
)

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// Chunk is the retrieval unit: a contiguous span of document text with a
// stable corpus-wide ID.
type Chunk struct {
	ID         string            // Stable unique ID within the corpus
	DocumentID string            // Parent document ID
	Text       string            // Chunk text
	Language   string            // en, es, ar
	Position   int               // 0-indexed position within the document
	TokenCount int               // Analyzer token count, set at index time
	Metadata   map[string]string // Custom metadata (section, source offsets)
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Document represents a tracked source document.
type Document struct {
	ID          string    // Stable unique ID within the corpus
	Path        string    // Relative to corpus root
	Title       string
	Language    string    // Dominant language
	ContentHash string    // SHA256 of source content
	ChunkCount  int
	IndexedAt   time.Time
}

// Corpus represents an indexed corpus.
type Corpus struct {
	ID            string // SHA256(absolute root path)
	Name          string // Directory name
	RootPath      string // Absolute path
	ChunkCount    int
	DocumentCount int
	EntityCount   int
	IndexedAt     time.Time
	Version       string // Index schema version
}

// MetadataStore persists corpus metadata in SQLite.
type MetadataStore interface {
	// Corpus operations
	SaveCorpus(ctx context.Context, corpus *Corpus) error
	GetCorpus(ctx context.Context, id string) (*Corpus, error)
	UpdateCorpusStats(ctx context.Context, id string, documentCount, chunkCount, entityCount int) error

	// Document operations
	SaveDocuments(ctx context.Context, docs []*Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	GetDocumentByPath(ctx context.Context, path string) (*Document, error)
	ListDocuments(ctx context.Context) ([]*Document, error)
	DeleteDocument(ctx context.Context, id string) error // Cascades to chunks

	// Chunk operations
	SaveChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) // Batch retrieval, preserves input order
	GetChunksByDocument(ctx context.Context, documentID string) ([]*Chunk, error)
	DeleteChunksByDocument(ctx context.Context, documentID string) error
	AllChunkIDs(ctx context.Context) ([]string, error) // For consistency checks
	CountChunks(ctx context.Context) (int, error)

	// Embedding operations (pooled per-chunk vectors for the dense prefilter)
	SaveChunkEmbeddings(ctx context.Context, chunkIDs []string, embeddings [][]float32, model string) error
	GetAllEmbeddings(ctx context.Context) (map[string][]float32, error)
	GetEmbeddingStats(ctx context.Context) (withEmbedding, withoutEmbedding int, err error)

	// Token vector operations (per-token matrices for late-interaction scoring)
	SaveChunkVectors(ctx context.Context, vectors map[string][][]float32) error
	GetAllChunkVectors(ctx context.Context) (map[string][][]float32, error)

	// State operations (key-value store for runtime state)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// IndexInfo aggregates index facts for the `trirank stats` command.
type IndexInfo struct {
	// Location paths
	Location   string // Index data directory (<corpus>/.trirank)
	CorpusRoot string // Corpus root directory

	// Embedding configuration stored in index
	IndexModel      string
	IndexDimensions int

	// Statistics
	ChunkCount     int
	DocumentCount  int
	EntityCount    int
	IndexSizeBytes int64

	// Timestamps
	IndexedAt time.Time
}
