package corpus

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/trirank/trirank/internal/store"
)

// maxLineBytes bounds a single corpus line. Embedding records for long
// chunks are the largest lines; 32 MiB covers a few thousand tokens at
// 1024 dimensions with JSON overhead.
const maxLineBytes = 32 << 20

// ctxCheckInterval is how many lines a file parser reads between
// cancellation checks.
const ctxCheckInterval = 1000

// Load reads every .jsonl file under dir and returns the merged records.
// Files parse in parallel but merge in sorted name order, so the same
// corpus always produces the same record order. Malformed lines become
// warnings; only I/O failures and cancellation abort the load.
func Load(ctx context.Context, dir string) (*Records, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("corpus directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus path %s is not a directory", dir)
	}

	files, err := discoverFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scan corpus directory: %w", err)
	}

	parsed := make([]*Records, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, path := range files {
		g.Go(func() error {
			rel, relErr := filepath.Rel(dir, path)
			if relErr != nil {
				rel = path
			}
			recs, parseErr := parseFile(gctx, path, rel)
			if parseErr != nil {
				return parseErr
			}
			parsed[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := merge(parsed)

	slog.Debug("corpus loaded",
		slog.String("dir", dir),
		slog.Int("files", len(files)),
		slog.Int("documents", len(merged.Documents)),
		slog.Int("chunks", len(merged.Chunks)),
		slog.Int("entities", len(merged.Entities)),
		slog.Int("embeddings", len(merged.Embeddings)),
		slog.Int("warnings", len(merged.Warnings)))

	return merged, nil
}

// discoverFiles returns the sorted .jsonl paths under root. Hidden
// directories are skipped, which keeps the loader out of .trirank and
// .git when the corpus lives at a project root.
func discoverFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(d.Name()), ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// parseFile reads one corpus file line by line. Lines that fail to decode
// are recorded as warnings with their 1-based line number.
func parseFile(ctx context.Context, path, rel string) (*Records, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus file %s: %w", rel, err)
	}
	defer f.Close()

	recs := &Records{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rec, decodeErr := decodeRecord([]byte(line))
		if decodeErr != nil {
			recs.Warnings = append(recs.Warnings, Warning{
				File:   rel,
				Line:   lineNo,
				Reason: decodeErr.Error(),
			})
			continue
		}

		switch rec.Type {
		case RecordDocument:
			recs.Documents = append(recs.Documents, rec.document())
		case RecordChunk:
			recs.Chunks = append(recs.Chunks, rec.chunk())
		case RecordEntity:
			recs.Entities = append(recs.Entities, rec.entity())
		case RecordRelationship:
			recs.Relationships = append(recs.Relationships, rec.relationship())
		case RecordMention:
			recs.Mentions = append(recs.Mentions, rec.mention())
		case RecordEmbedding:
			if warn := validateEmbedding(rec); warn != "" {
				recs.Warnings = append(recs.Warnings, Warning{
					File:   rel,
					Line:   lineNo,
					Reason: warn,
				})
				continue
			}
			recs.Embeddings = append(recs.Embeddings, rec.embedding())
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read corpus file %s: %w", rel, err)
	}

	return recs, nil
}

// validateEmbedding checks that every vector in the record has the same
// width. Cross-record width agreement is checked during merge, once the
// first record has established the corpus dimension.
func validateEmbedding(rec *rawRecord) string {
	width := len(rec.Vectors[0])
	if width == 0 {
		return fmt.Sprintf("embedding record %q has a zero-width vector", rec.ChunkID)
	}
	for i, vec := range rec.Vectors {
		if len(vec) != width {
			return fmt.Sprintf("embedding record %q vector %d has width %d, expected %d",
				rec.ChunkID, i, len(vec), width)
		}
	}
	return ""
}

// merge combines per-file records in file order, dropping duplicate ids
// (first occurrence wins) and synthesizing document rows for chunks whose
// document record is missing. Every drop and synthesis is a warning.
func merge(parsed []*Records) *Records {
	out := &Records{}

	seenDocs := make(map[string]bool)
	seenChunks := make(map[string]bool)
	seenEntities := make(map[string]bool)
	seenEmbeddings := make(map[string]bool)
	embeddingDims := 0

	for _, recs := range parsed {
		if recs == nil {
			continue
		}
		out.Warnings = append(out.Warnings, recs.Warnings...)

		for _, doc := range recs.Documents {
			if seenDocs[doc.ID] {
				out.Warnings = append(out.Warnings, Warning{
					Reason: fmt.Sprintf("duplicate document id %q, keeping first occurrence", doc.ID),
				})
				continue
			}
			seenDocs[doc.ID] = true
			out.Documents = append(out.Documents, doc)
		}

		for _, chunk := range recs.Chunks {
			if seenChunks[chunk.ID] {
				out.Warnings = append(out.Warnings, Warning{
					Reason: fmt.Sprintf("duplicate chunk id %q, keeping first occurrence", chunk.ID),
				})
				continue
			}
			seenChunks[chunk.ID] = true
			out.Chunks = append(out.Chunks, chunk)
		}

		for _, entity := range recs.Entities {
			if seenEntities[entity.ID] {
				out.Warnings = append(out.Warnings, Warning{
					Reason: fmt.Sprintf("duplicate entity id %q, keeping first occurrence", entity.ID),
				})
				continue
			}
			seenEntities[entity.ID] = true
			out.Entities = append(out.Entities, entity)
		}

		out.Relationships = append(out.Relationships, recs.Relationships...)
		out.Mentions = append(out.Mentions, recs.Mentions...)

		for _, emb := range recs.Embeddings {
			if seenEmbeddings[emb.ChunkID] {
				out.Warnings = append(out.Warnings, Warning{
					Reason: fmt.Sprintf("duplicate embedding for chunk %q, keeping first occurrence", emb.ChunkID),
				})
				continue
			}
			if out.EmbeddingModel == "" && emb.Model != "" {
				out.EmbeddingModel = emb.Model
			}
			if emb.Model != "" && out.EmbeddingModel != "" && emb.Model != out.EmbeddingModel {
				out.Warnings = append(out.Warnings, Warning{
					Reason: fmt.Sprintf("embedding for chunk %q uses model %q, corpus uses %q, skipping",
						emb.ChunkID, emb.Model, out.EmbeddingModel),
				})
				continue
			}
			width := len(emb.Vectors[0])
			if embeddingDims == 0 {
				embeddingDims = width
			} else if width != embeddingDims {
				out.Warnings = append(out.Warnings, Warning{
					Reason: fmt.Sprintf("embedding for chunk %q has width %d, corpus uses %d, skipping",
						emb.ChunkID, width, embeddingDims),
				})
				continue
			}
			seenEmbeddings[emb.ChunkID] = true
			out.Embeddings = append(out.Embeddings, emb)
		}
	}

	// Chunks referencing a document that never appeared still need a
	// parent row for the metadata store's foreign key.
	for _, chunk := range out.Chunks {
		if seenDocs[chunk.DocumentID] {
			continue
		}
		seenDocs[chunk.DocumentID] = true
		out.Documents = append(out.Documents, synthesizeDocument(chunk.DocumentID, chunk.Language))
		out.Warnings = append(out.Warnings, Warning{
			Reason: fmt.Sprintf("chunk %q references unknown document %q, synthesized a document row",
				chunk.ID, chunk.DocumentID),
		})
	}

	return out
}

// EmbeddingDims returns the vector width of the corpus's precomputed
// embeddings, or 0 when the corpus carries none.
func (r *Records) EmbeddingDims() int {
	if len(r.Embeddings) == 0 {
		return 0
	}
	return len(r.Embeddings[0].Vectors[0])
}

func synthesizeDocument(id, language string) *store.Document {
	return &store.Document{
		ID:       id,
		Path:     id,
		Title:    id,
		Language: language,
	}
}
