package corpus

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/trirank/trirank/internal/dense"
	"github.com/trirank/trirank/internal/embed"
	"github.com/trirank/trirank/internal/kgraph"
	"github.com/trirank/trirank/internal/lexical"
	"github.com/trirank/trirank/internal/store"
	"github.com/trirank/trirank/internal/telemetry"
	"github.com/trirank/trirank/internal/ui"
	"github.com/trirank/trirank/internal/validation"
)

// BuildConfig describes one build request.
type BuildConfig struct {
	// CorpusDir is the directory of corpus .jsonl files.
	CorpusDir string

	// DataDir is where indexes and metadata live. Empty means
	// <CorpusDir>/.trirank.
	DataDir string

	// CorpusName labels the corpus row. Empty means the base name of
	// CorpusDir.
	CorpusName string
}

// BuildResult summarizes a completed build.
type BuildResult struct {
	CorpusID      string
	Documents     int
	Chunks        int
	Entities      int
	Relationships int
	Mentions      int

	// Precomputed and Generated split the embedded chunks by vector origin.
	Precomputed int
	Generated   int

	// EmbedModel and Dimensions describe the embedding space the index
	// was built in.
	EmbedModel string
	Dimensions int

	Duration time.Duration
	Errors   int
	Warnings int

	// Consistency is the post-build cross-index check, nil when the build
	// ended before the indexes were committed.
	Consistency *validation.Report

	// GraphSource is the in-memory graph built from this corpus, ready
	// to serve queries without reloading from disk.
	GraphSource *kgraph.MemorySource
}

// BuilderDependencies contains the injected dependencies for Builder.
type BuilderDependencies struct {
	// Renderer for progress display (required).
	Renderer ui.Renderer

	// Metadata store for corpus, document, and chunk rows (required).
	Metadata store.MetadataStore

	// Lexical index, rebuilt in place (required).
	Lexical *lexical.Index

	// Analyzers tokenize chunks for stored token counts (required).
	Analyzers *lexical.AnalyzerSet

	// Dense scorer, restaged and committed in place (required).
	Dense *dense.Scorer

	// Embedder generates vectors for chunks without precomputed
	// embeddings (required).
	Embedder embed.Embedder

	// TelemetryDB, when set, gets the telemetry schema applied during
	// finalize so later queries can record metrics. Optional.
	TelemetryDB *sql.DB
}

// Builder executes the staged index build with progress reporting.
// Rebuilding mutates the injected index and scorer in place; their
// snapshots swap atomically, so concurrent readers see either the old
// corpus or the new one.
type Builder struct {
	renderer    ui.Renderer
	metadata    store.MetadataStore
	lexical     *lexical.Index
	analyzers   *lexical.AnalyzerSet
	dense       *dense.Scorer
	embedder    embed.Embedder
	telemetryDB *sql.DB
}

// NewBuilder creates a Builder with injected dependencies.
func NewBuilder(deps BuilderDependencies) (*Builder, error) {
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deps.Metadata == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if deps.Lexical == nil {
		return nil, fmt.Errorf("lexical index is required")
	}
	if deps.Analyzers == nil {
		return nil, fmt.Errorf("analyzer set is required")
	}
	if deps.Dense == nil {
		return nil, fmt.Errorf("dense scorer is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	return &Builder{
		renderer:    deps.Renderer,
		metadata:    deps.Metadata,
		lexical:     deps.Lexical,
		analyzers:   deps.Analyzers,
		dense:       deps.Dense,
		embedder:    deps.Embedder,
		telemetryDB: deps.TelemetryDB,
	}, nil
}

// stageTiming tracks duration for each build stage.
type stageTiming struct {
	load     time.Duration
	lexical  time.Duration
	embed    time.Duration
	graph    time.Duration
	finalize time.Duration
}

// Build executes the full pipeline: load records, persist metadata, rebuild
// the lexical index, embed and stage dense vectors, persist the knowledge
// graph, then commit and validate. Per-record problems become warnings and
// the build continues; only I/O failures and cancellation abort it.
func (b *Builder) Build(ctx context.Context, cfg BuildConfig) (*BuildResult, error) {
	startTime := time.Now()
	var errorCount, warnCount int
	var timing stageTiming

	root, err := filepath.Abs(cfg.CorpusDir)
	if err != nil {
		return nil, fmt.Errorf("resolve corpus directory: %w", err)
	}
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(root, ".trirank")
	}

	// Stage 1: Load corpus records
	loadStart := time.Now()
	records, err := b.loadRecords(ctx, root)
	if err != nil {
		return nil, err
	}
	timing.load = time.Since(loadStart)
	warnCount += len(records.Warnings)

	if len(records.Chunks) == 0 {
		duration := time.Since(startTime)
		b.renderer.Complete(ui.CompletionStats{
			Duration: duration,
			Warnings: warnCount,
			Stages:   ui.StageTimings{Load: timing.load},
		})
		slog.Info("index_complete",
			slog.Int("documents", 0),
			slog.Int("chunks", 0),
			slog.String("path", root))
		return &BuildResult{Duration: duration, Warnings: warnCount}, nil
	}

	// Writers in other processes are excluded for the rest of the build.
	lock := store.NewRebuildLock(dataDir)
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("acquire rebuild lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	// Save the corpus row first (needed for foreign key constraints).
	corpusID := hashString(root)
	now := time.Now()
	name := cfg.CorpusName
	if name == "" {
		name = filepath.Base(root)
	}
	corpusRow := &store.Corpus{
		ID:        corpusID,
		Name:      name,
		RootPath:  root,
		IndexedAt: now,
		Version:   fmt.Sprintf("%d", store.CurrentSchemaVersion),
	}
	if err := b.metadata.SaveCorpus(ctx, corpusRow); err != nil {
		return nil, fmt.Errorf("save corpus: %w", err)
	}
	if err := b.metadata.SaveDocuments(ctx, records.Documents); err != nil {
		return nil, fmt.Errorf("save documents: %w", err)
	}

	// Analyzed token counts are persisted with the chunk rows.
	b.countTokens(records.Chunks)
	if err := b.metadata.SaveChunks(ctx, records.Chunks); err != nil {
		return nil, fmt.Errorf("save chunks: %w", err)
	}

	// Stage 2: Rebuild the lexical index
	lexicalStart := time.Now()
	lexReport, err := b.buildLexical(ctx, records.Chunks)
	if err != nil {
		return nil, err
	}
	timing.lexical = time.Since(lexicalStart)
	warnCount += len(lexReport.Skipped)

	// Stage 3: Embed chunks and stage the dense index
	embedStart := time.Now()
	embedded, err := b.embedChunks(ctx, records)
	if err != nil {
		return nil, err
	}
	timing.embed = time.Since(embedStart)
	errorCount += embedded.failed
	warnCount += embedded.skipped

	// Stage 4: Persist the knowledge graph
	graphStart := time.Now()
	graphSource, graphWarns, err := b.buildGraph(ctx, dataDir, records)
	if err != nil {
		return nil, err
	}
	timing.graph = time.Since(graphStart)
	warnCount += graphWarns

	// Stage 5: Commit, persist vectors, validate
	finalizeStart := time.Now()
	checkReport, err := b.finalize(ctx, records, embedded, now)
	if err != nil {
		return nil, err
	}
	timing.finalize = time.Since(finalizeStart)

	if err := b.metadata.UpdateCorpusStats(ctx, corpusID,
		len(records.Documents), len(records.Chunks), len(records.Entities)); err != nil {
		return nil, fmt.Errorf("update corpus stats: %w", err)
	}

	duration := time.Since(startTime)

	b.renderer.Complete(ui.CompletionStats{
		Documents: len(records.Documents),
		Chunks:    len(records.Chunks),
		Entities:  len(records.Entities),
		Duration:  duration,
		Errors:    errorCount,
		Warnings:  warnCount,
		Stages: ui.StageTimings{
			Load:     timing.load,
			Lexical:  timing.lexical,
			Embed:    timing.embed,
			Graph:    timing.graph,
			Finalize: timing.finalize,
		},
		Embedder: ui.EmbedderInfo{
			Model:       embedded.model,
			Dimensions:  embedded.dims,
			Precomputed: embedded.precomputed,
			Generated:   embedded.generated,
		},
	})

	chunksPerSec := 0.0
	if timing.embed.Seconds() > 0 {
		chunksPerSec = float64(len(records.Chunks)) / timing.embed.Seconds()
	}
	slog.Info("index_complete",
		slog.Int("documents", len(records.Documents)),
		slog.Int("chunks", len(records.Chunks)),
		slog.Int("entities", len(records.Entities)),
		slog.String("duration_total", duration.String()),
		slog.Int64("duration_total_ms", duration.Milliseconds()),
		slog.Int64("duration_load_ms", timing.load.Milliseconds()),
		slog.Int64("duration_lexical_ms", timing.lexical.Milliseconds()),
		slog.Int64("duration_embed_ms", timing.embed.Milliseconds()),
		slog.Int64("duration_graph_ms", timing.graph.Milliseconds()),
		slog.Int64("duration_finalize_ms", timing.finalize.Milliseconds()),
		slog.String("embedder_model", embedded.model),
		slog.Int("embedder_dimensions", embedded.dims),
		slog.Float64("chunks_per_sec", chunksPerSec),
		slog.String("path", root))

	return &BuildResult{
		CorpusID:      corpusID,
		Documents:     len(records.Documents),
		Chunks:        len(records.Chunks),
		Entities:      len(records.Entities),
		Relationships: len(records.Relationships),
		Mentions:      len(records.Mentions),
		Precomputed:   embedded.precomputed,
		Generated:     embedded.generated,
		EmbedModel:    embedded.model,
		Dimensions:    embedded.dims,
		Duration:      duration,
		Errors:        errorCount,
		Warnings:      warnCount,
		Consistency:   checkReport,
		GraphSource:   graphSource,
	}, nil
}

// loadRecords reads the corpus directory and reports each warning.
func (b *Builder) loadRecords(ctx context.Context, root string) (*Records, error) {
	b.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageLoading,
		Message: fmt.Sprintf("Loading corpus from %s...", root),
	})
	slog.Info("index_load_started", slog.String("path", root))

	records, err := Load(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}

	for _, warning := range records.Warnings {
		item := warning.File
		if item == "" {
			item = "corpus"
		}
		b.renderer.AddError(ui.ErrorEvent{
			Item:   item,
			Err:    fmt.Errorf("%s", warning.Reason),
			IsWarn: true,
		})
	}

	b.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageLoading,
		Current: len(records.Chunks),
		Total:   len(records.Chunks),
		Message: fmt.Sprintf("Loaded %d documents, %d chunks, %d entities",
			len(records.Documents), len(records.Chunks), len(records.Entities)),
	})
	slog.Info("index_load_complete",
		slog.Int("documents", len(records.Documents)),
		slog.Int("chunks", len(records.Chunks)),
		slog.Int("entities", len(records.Entities)),
		slog.Int("embeddings", len(records.Embeddings)),
		slog.Int("warnings", len(records.Warnings)))
	return records, nil
}

// countTokens stores each chunk's analyzed token count on the chunk row.
// Chunks whose language has no analyzer keep a zero count; the lexical
// rebuild reports them separately.
func (b *Builder) countTokens(chunks []*store.Chunk) {
	for _, chunk := range chunks {
		analyzer, err := b.analyzers.For(chunk.Language)
		if err != nil {
			continue
		}
		chunk.TokenCount = len(analyzer.Analyze(chunk.Text))
	}
}

// buildLexical rebuilds the inverted index and reports skipped chunks.
func (b *Builder) buildLexical(ctx context.Context, chunks []*store.Chunk) (*lexical.BuildReport, error) {
	b.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageLexical,
		Total:   len(chunks),
		Message: "Building lexical index...",
	})

	report, err := b.lexical.Rebuild(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("rebuild lexical index: %w", err)
	}

	for _, skipped := range report.Skipped {
		b.renderer.AddError(ui.ErrorEvent{
			Item:   skipped.ChunkID,
			Err:    fmt.Errorf("%s", skipped.Reason),
			IsWarn: true,
		})
	}

	b.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageLexical,
		Current: report.Indexed,
		Total:   len(chunks),
	})
	slog.Info("index_lexical_complete",
		slog.Int("indexed", report.Indexed),
		slog.Int("terms", report.Terms),
		slog.Int("skipped", len(report.Skipped)))
	return report, nil
}

// embedOutcome accumulates the embed stage's output for finalize.
type embedOutcome struct {
	vectors     map[string][][]float32
	pooledIDs   []string
	pooled      [][]float32
	precomputed int
	generated   int
	skipped     int
	failed      int
	model       string
	dims        int
}

// embedChunks resolves one token matrix per chunk, preferring precomputed
// corpus vectors, and stages everything on the dense scorer. Chunks that
// cannot be embedded are skipped with a warning and stay searchable
// through the other methods.
func (b *Builder) embedChunks(ctx context.Context, records *Records) (*embedOutcome, error) {
	total := len(records.Chunks)
	b.renderer.UpdateProgress(ui.ProgressEvent{
		Stage: ui.StageEmbedding,
		Total: total,
	})

	precomputed := records.EmbeddingByChunk()
	out := &embedOutcome{
		vectors: make(map[string][][]float32, total),
		dims:    b.embedder.Dimensions(),
	}

	// Precomputed vectors must live in the index's configured width;
	// otherwise the query-side embedder could never match them.
	if corpusDims := records.EmbeddingDims(); corpusDims > 0 && corpusDims != out.dims {
		b.renderer.AddError(ui.ErrorEvent{
			Item: "embeddings",
			Err: fmt.Errorf("corpus embeddings are %d-dimensional but the index is configured for %d, generating instead",
				corpusDims, out.dims),
			IsWarn: true,
		})
		out.skipped++
		slog.Warn("corpus_embeddings_ignored",
			slog.Int("corpus_dimensions", corpusDims),
			slog.Int("index_dimensions", out.dims))
		precomputed = nil
	}

	b.dense.Reset()

	for i, chunk := range records.Chunks {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("indexing interrupted at %d/%d chunks: %w", i, total, err)
			}
		}

		b.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageEmbedding,
			Current:     i + 1,
			Total:       total,
			CurrentItem: chunk.ID,
		})

		vectors, found := precomputed[chunk.ID]
		if found {
			out.precomputed++
		} else {
			var embedErr error
			vectors, embedErr = b.embedder.EmbedTokens(ctx, chunk.Text)
			if embedErr != nil {
				b.renderer.AddError(ui.ErrorEvent{
					Item: chunk.ID,
					Err:  fmt.Errorf("embed failed: %w", embedErr),
				})
				out.failed++
				continue
			}
			if len(vectors) == 0 {
				b.renderer.AddError(ui.ErrorEvent{
					Item:   chunk.ID,
					Err:    fmt.Errorf("no analyzable tokens, chunk has no dense entry"),
					IsWarn: true,
				})
				out.skipped++
				continue
			}
			out.generated++
		}

		if err := b.dense.Index(chunk.ID, vectors); err != nil {
			b.renderer.AddError(ui.ErrorEvent{
				Item: chunk.ID,
				Err:  fmt.Errorf("dense staging failed: %w", err),
			})
			out.failed++
			continue
		}

		out.vectors[chunk.ID] = vectors
		out.pooledIDs = append(out.pooledIDs, chunk.ID)
		out.pooled = append(out.pooled, poolVectors(vectors))
	}

	out.model = b.embedder.ModelName()
	if out.precomputed > 0 && records.EmbeddingModel != "" {
		out.model = records.EmbeddingModel
		if out.generated > 0 && records.EmbeddingModel != b.embedder.ModelName() {
			slog.Warn("mixed_embedding_origins",
				slog.String("corpus_model", records.EmbeddingModel),
				slog.String("embedder_model", b.embedder.ModelName()),
				slog.Int("generated", out.generated))
		}
	}

	slog.Info("index_embedding_complete",
		slog.Int("precomputed", out.precomputed),
		slog.Int("generated", out.generated),
		slog.Int("failed", out.failed),
		slog.String("model", out.model))
	return out, nil
}

// buildGraph persists the knowledge graph to the data directory and builds
// the in-memory source that serves it.
func (b *Builder) buildGraph(ctx context.Context, dataDir string, records *Records) (*kgraph.MemorySource, int, error) {
	b.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageGraph,
		Total:   len(records.Entities),
		Message: "Building knowledge graph...",
	})

	graphPath := filepath.Join(dataDir, "graph.db")
	sqliteSource, err := kgraph.OpenSQLiteSource(graphPath)
	if err != nil {
		return nil, 0, fmt.Errorf("open graph store: %w", err)
	}
	defer func() { _ = sqliteSource.Close() }()

	if err := sqliteSource.SaveGraph(ctx, records.Entities, records.Relationships, records.Mentions); err != nil {
		return nil, 0, fmt.Errorf("save graph: %w", err)
	}

	memorySource, skipped := kgraph.NewMemorySource(records.Entities, records.Relationships, records.Mentions)
	for _, rec := range skipped {
		b.renderer.AddError(ui.ErrorEvent{
			Item:   rec.ID,
			Err:    fmt.Errorf("%s", rec.Reason),
			IsWarn: true,
		})
	}

	b.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageGraph,
		Current: len(records.Entities),
		Total:   len(records.Entities),
	})
	slog.Info("index_graph_complete",
		slog.Int("entities", len(records.Entities)),
		slog.Int("relationships", len(records.Relationships)),
		slog.Int("mentions", len(records.Mentions)),
		slog.Int("skipped", len(skipped)),
		slog.String("path", graphPath))
	return memorySource, len(skipped), nil
}

// finalize commits the dense snapshot, persists vectors and state, applies
// the telemetry schema, and cross-checks the indexes against the store.
func (b *Builder) finalize(ctx context.Context, records *Records, embedded *embedOutcome, indexedAt time.Time) (*validation.Report, error) {
	b.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageFinalizing,
		Message: "Committing indexes...",
	})

	denseStats, err := b.dense.Commit(ctx)
	if err != nil {
		return nil, fmt.Errorf("commit dense index: %w", err)
	}

	if err := b.metadata.SaveChunkVectors(ctx, embedded.vectors); err != nil {
		return nil, fmt.Errorf("save chunk vectors: %w", err)
	}
	if len(embedded.pooledIDs) > 0 {
		if err := b.metadata.SaveChunkEmbeddings(ctx, embedded.pooledIDs, embedded.pooled, embedded.model); err != nil {
			return nil, fmt.Errorf("save chunk embeddings: %w", err)
		}
	}

	// State keys let later runs detect what the index was built with.
	stateEntries := map[string]string{
		store.StateKeyIndexDimension:    strconv.Itoa(embedded.dims),
		store.StateKeyIndexModel:        embedded.model,
		store.StateKeyAnalyzerLanguages: strings.Join(b.analyzers.Languages(), ","),
		store.StateKeyIndexedAt:         indexedAt.UTC().Format(time.RFC3339),
	}
	for key, value := range stateEntries {
		if err := b.metadata.SetState(ctx, key, value); err != nil {
			slog.Warn("failed to save index state",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
	}

	if b.telemetryDB != nil {
		if err := telemetry.InitTelemetrySchema(b.telemetryDB); err != nil {
			slog.Warn("failed to apply telemetry schema", slog.String("error", err.Error()))
		}
	}

	checker, err := validation.NewChecker(b.metadata, b.lexical, b.dense)
	if err != nil {
		return nil, fmt.Errorf("create consistency checker: %w", err)
	}
	report, err := checker.Check(ctx)
	if err != nil {
		return nil, fmt.Errorf("consistency check: %w", err)
	}

	slog.Info("index_finalize_complete",
		slog.Int("dense_chunks", denseStats.ChunkCount),
		slog.Int("dense_vectors", denseStats.VectorCount),
		slog.Bool("ann_active", denseStats.ANNActive),
		slog.String("consistency", report.Summary()))
	return report, nil
}

// poolVectors is the normalized mean of a chunk's token vectors, the
// single-vector summary stored alongside the token matrices.
func poolVectors(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dims := len(vectors[0])
	pooled := make([]float64, dims)
	for _, vec := range vectors {
		for i, v := range vec {
			pooled[i] += float64(v)
		}
	}

	var sumSquares float64
	for i := range pooled {
		pooled[i] /= float64(len(vectors))
		sumSquares += pooled[i] * pooled[i]
	}

	out := make([]float32, dims)
	if sumSquares == 0 {
		return out
	}
	norm := math.Sqrt(sumSquares)
	for i, v := range pooled {
		out[i] = float32(v / norm)
	}
	return out
}

// hashString returns the SHA256 hash of a string (first 16 hex chars).
func hashString(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])[:16]
}

// ID returns the corpus identifier for a root path. The builder saves the
// corpus row under this ID, so readers can look it up without a scan.
func ID(root string) string {
	return hashString(root)
}
