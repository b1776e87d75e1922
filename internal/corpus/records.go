// Package corpus loads externally-produced corpus files and drives the
// staged index build.
//
// A corpus is a directory of JSONL files. Each line is one record carrying
// a "type" discriminator: document, chunk, entity, relationship, mention,
// or embedding. Documents and chunks feed the metadata store and the
// lexical/dense indexes; entities, relationships, and mentions feed the
// knowledge graph; embedding records carry precomputed per-token vectors
// that take precedence over the bundled hash embedder.
//
// The ingestion pipeline that produces these files lives outside this
// repository. The loader is deliberately tolerant: a malformed line is a
// warning, not a failed build.
package corpus

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/trirank/trirank/internal/kgraph"
	"github.com/trirank/trirank/internal/store"
)

// Record type discriminators, the "type" field of every corpus line.
const (
	RecordDocument     = "document"
	RecordChunk        = "chunk"
	RecordEntity       = "entity"
	RecordRelationship = "relationship"
	RecordMention      = "mention"
	RecordEmbedding    = "embedding"
)

// rawRecord is the wire shape of one corpus line. It is the union of all
// record types; decodeRecord validates the fields each type requires.
type rawRecord struct {
	Type string `json:"type"`

	// document, chunk, entity
	ID string `json:"id,omitempty"`

	// document
	Path  string `json:"path,omitempty"`
	Title string `json:"title,omitempty"`

	// chunk
	DocumentID string            `json:"document_id,omitempty"`
	Text       string            `json:"text,omitempty"`
	Position   int               `json:"position,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	// document, chunk, entity
	Language string `json:"language,omitempty"`

	// entity
	Name       string `json:"name,omitempty"`
	EntityType string `json:"entity_type,omitempty"`

	// relationship
	SourceID string `json:"source_id,omitempty"`
	TargetID string `json:"target_id,omitempty"`
	RelType  string `json:"rel_type,omitempty"`

	// mention, embedding
	ChunkID string `json:"chunk_id,omitempty"`

	// mention
	EntityID string `json:"entity_id,omitempty"`

	// entity, relationship, mention
	Confidence float64 `json:"confidence,omitempty"`

	// embedding
	Model   string      `json:"model,omitempty"`
	Vectors [][]float32 `json:"vectors,omitempty"`
}

// Embedding is one precomputed per-token vector matrix for a chunk.
type Embedding struct {
	ChunkID string
	Model   string
	Vectors [][]float32
}

// Warning records a corpus line that was skipped and why. File is relative
// to the corpus root; Line is 1-based.
type Warning struct {
	File   string
	Line   int
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s:%d: %s", w.File, w.Line, w.Reason)
}

// Records holds everything parsed from a corpus directory, grouped by
// destination. Slices preserve first-seen order across files; files are
// read in sorted name order so the same corpus always loads identically.
type Records struct {
	Documents     []*store.Document
	Chunks        []*store.Chunk
	Entities      []*kgraph.Entity
	Relationships []kgraph.Relationship
	Mentions      []kgraph.Mention
	Embeddings    []Embedding

	// EmbeddingModel is the model named by the first embedding record.
	// Records naming a different model are skipped with a warning.
	EmbeddingModel string

	Warnings []Warning
}

// EmbeddingByChunk returns precomputed vectors keyed by chunk id.
func (r *Records) EmbeddingByChunk() map[string][][]float32 {
	out := make(map[string][][]float32, len(r.Embeddings))
	for _, e := range r.Embeddings {
		out[e.ChunkID] = e.Vectors
	}
	return out
}

// decodeRecord parses one corpus line into the raw union shape and checks
// the fields its type requires. Returns the validated record, or an error
// describing what was missing.
func decodeRecord(line []byte) (*rawRecord, error) {
	var rec rawRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch rec.Type {
	case RecordDocument:
		if rec.ID == "" {
			return nil, fmt.Errorf("document record missing id")
		}
	case RecordChunk:
		if rec.ID == "" {
			return nil, fmt.Errorf("chunk record missing id")
		}
		if rec.DocumentID == "" {
			return nil, fmt.Errorf("chunk record %q missing document_id", rec.ID)
		}
		if strings.TrimSpace(rec.Text) == "" {
			return nil, fmt.Errorf("chunk record %q has empty text", rec.ID)
		}
	case RecordEntity:
		if rec.ID == "" {
			return nil, fmt.Errorf("entity record missing id")
		}
		if rec.Name == "" {
			return nil, fmt.Errorf("entity record %q missing name", rec.ID)
		}
	case RecordRelationship:
		if rec.SourceID == "" || rec.TargetID == "" {
			return nil, fmt.Errorf("relationship record missing source_id or target_id")
		}
	case RecordMention:
		if rec.ChunkID == "" || rec.EntityID == "" {
			return nil, fmt.Errorf("mention record missing chunk_id or entity_id")
		}
	case RecordEmbedding:
		if rec.ChunkID == "" {
			return nil, fmt.Errorf("embedding record missing chunk_id")
		}
		if len(rec.Vectors) == 0 {
			return nil, fmt.Errorf("embedding record %q has no vectors", rec.ChunkID)
		}
	case "":
		return nil, fmt.Errorf("record missing type field")
	default:
		return nil, fmt.Errorf("unknown record type %q", rec.Type)
	}

	return &rec, nil
}

// document converts a document record to its store shape.
func (r *rawRecord) document() *store.Document {
	return &store.Document{
		ID:       r.ID,
		Path:     r.Path,
		Title:    r.Title,
		Language: r.Language,
	}
}

// chunk converts a chunk record to its store shape.
func (r *rawRecord) chunk() *store.Chunk {
	return &store.Chunk{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		Text:       r.Text,
		Language:   r.Language,
		Position:   r.Position,
		Metadata:   r.Metadata,
	}
}

// entity converts an entity record to its graph shape. Confidence
// defaults to 1.0 when the producer omitted it.
func (r *rawRecord) entity() *kgraph.Entity {
	confidence := r.Confidence
	if confidence == 0 {
		confidence = 1.0
	}
	return &kgraph.Entity{
		ID:         r.ID,
		Name:       r.Name,
		Type:       r.EntityType,
		Language:   r.Language,
		Confidence: confidence,
	}
}

// relationship converts a relationship record to its graph shape.
func (r *rawRecord) relationship() kgraph.Relationship {
	confidence := r.Confidence
	if confidence == 0 {
		confidence = 1.0
	}
	return kgraph.Relationship{
		SourceID:   r.SourceID,
		TargetID:   r.TargetID,
		Type:       r.RelType,
		Confidence: confidence,
	}
}

// mention converts a mention record to its graph shape.
func (r *rawRecord) mention() kgraph.Mention {
	confidence := r.Confidence
	if confidence == 0 {
		confidence = 1.0
	}
	return kgraph.Mention{
		ChunkID:    r.ChunkID,
		EntityID:   r.EntityID,
		Confidence: confidence,
	}
}

// embedding converts an embedding record.
func (r *rawRecord) embedding() Embedding {
	return Embedding{
		ChunkID: r.ChunkID,
		Model:   r.Model,
		Vectors: r.Vectors,
	}
}
