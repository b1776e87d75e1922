package mcp

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trirank/trirank/internal/async"
	"github.com/trirank/trirank/internal/corpus"
	"github.com/trirank/trirank/internal/dense"
	"github.com/trirank/trirank/internal/embed"
	"github.com/trirank/trirank/internal/kgraph"
	"github.com/trirank/trirank/internal/lexical"
	"github.com/trirank/trirank/internal/retrieval"
	"github.com/trirank/trirank/internal/store"
	"github.com/trirank/trirank/internal/telemetry"
)

const testCorpusRoot = "/corpus/pv"

const testDims = 64

func testChunks() []*store.Chunk {
	return []*store.Chunk{
		{ID: "chunk-solar", DocumentID: "doc-pv", Language: "en", Position: 0,
			Text: "Solar panels convert sunlight into direct current electricity on the roof."},
		{ID: "chunk-inverter", DocumentID: "doc-pv", Language: "en", Position: 1,
			Text: "The inverter converts direct current from the solar array into alternating current."},
		{ID: "chunk-battery", DocumentID: "doc-pv", Language: "en", Position: 2,
			Text: "Battery storage holds surplus solar energy for the evening peak."},
		{ID: "chunk-grid", DocumentID: "doc-pv", Language: "en", Position: 3,
			Text: "The grid absorbs excess electricity exported by rooftop installations."},
	}
}

func testDocument(chunkCount int) *store.Document {
	return &store.Document{
		ID:          "doc-pv",
		Path:        "guides/pv.md",
		Title:       "Rooftop PV",
		Language:    "en",
		ContentHash: "hash-pv",
		ChunkCount:  chunkCount,
	}
}

// testGraphSource builds the solar-inverter-grid graph used across the
// tool tests, with mentions pointing back at the corpus chunks.
func testGraphSource(t *testing.T) *kgraph.MemorySource {
	t.Helper()
	source, skipped := kgraph.NewMemorySource(
		[]*kgraph.Entity{
			{ID: "e-solar", Name: "Solar Panel", Type: "PRODUCT", Language: "en", Confidence: 0.9},
			{ID: "e-inverter", Name: "Inverter", Type: "PRODUCT", Language: "en", Confidence: 0.85},
			{ID: "e-grid", Name: "Grid", Type: "SYSTEM", Language: "en", Confidence: 0.8},
		},
		[]kgraph.Relationship{
			{SourceID: "e-solar", TargetID: "e-inverter", Type: "FEEDS", Confidence: 0.9},
			{SourceID: "e-inverter", TargetID: "e-grid", Type: "FEEDS", Confidence: 0.9},
		},
		[]kgraph.Mention{
			{ChunkID: "chunk-solar", EntityID: "e-solar", Confidence: 0.9},
			{ChunkID: "chunk-inverter", EntityID: "e-inverter", Confidence: 0.9},
			{ChunkID: "chunk-grid", EntityID: "e-grid", Confidence: 0.8},
		},
	)
	require.Empty(t, skipped)
	return source
}

// newTestStack assembles a real retrieval stack over the four-chunk corpus:
// SQLite metadata with a saved corpus row, BM25 index, hash-embedded dense
// scorer, and an in-memory graph.
func newTestStack(t *testing.T) ServerConfig {
	t.Helper()
	ctx := context.Background()
	chunks := testChunks()
	dataDir := t.TempDir()

	meta, err := store.NewSQLiteStore(filepath.Join(dataDir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	require.NoError(t, meta.SaveCorpus(ctx, &store.Corpus{
		ID:            corpus.ID(testCorpusRoot),
		Name:          "pv",
		RootPath:      testCorpusRoot,
		ChunkCount:    len(chunks),
		DocumentCount: 1,
		EntityCount:   3,
		IndexedAt:     time.Now(),
		Version:       "1",
	}))
	require.NoError(t, meta.SaveDocuments(ctx, []*store.Document{testDocument(len(chunks))}))
	require.NoError(t, meta.SaveChunks(ctx, chunks))

	embedder := embed.NewStaticEmbedder(testDims)
	require.NoError(t, meta.SetState(ctx, store.StateKeyIndexModel, embedder.ModelName()))
	require.NoError(t, meta.SetState(ctx, store.StateKeyIndexDimension, strconv.Itoa(testDims)))

	analyzers, err := lexical.NewAnalyzerSet([]string{"en"})
	require.NoError(t, err)
	lex := lexical.NewIndex(lexical.DefaultParams(), analyzers)
	_, err = lex.Rebuild(ctx, chunks)
	require.NoError(t, err)

	den := dense.NewScorer(dense.Params{Dimensions: testDims})
	for _, chunk := range chunks {
		matrix, err := embedder.EmbedTokens(ctx, chunk.Text)
		require.NoError(t, err)
		require.NoError(t, den.Index(chunk.ID, matrix))
	}
	_, err = den.Commit(ctx)
	require.NoError(t, err)

	source := testGraphSource(t)
	engine, err := retrieval.NewEngine(lex, den, embedder, meta,
		retrieval.EngineConfig{
			PerMethodTimeout: 2 * time.Second,
			GlobalDeadline:   5 * time.Second,
		},
		retrieval.WithGraph(kgraph.NewScorer(source, 2), kgraph.NewExtractor(source, 3, 16)))
	require.NoError(t, err)

	return ServerConfig{
		Engine:     engine,
		Metadata:   meta,
		Lexical:    lex,
		Dense:      den,
		Graph:      source,
		Embedder:   embedder,
		DataDir:    dataDir,
		CorpusRoot: testCorpusRoot,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(newTestStack(t))
	require.NoError(t, err)
	return srv
}

// newEmptyServer builds a server over an empty store and empty indexes,
// the state before any index build has run.
func newEmptyServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	dataDir := t.TempDir()

	meta, err := store.NewSQLiteStore(filepath.Join(dataDir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	analyzers, err := lexical.NewAnalyzerSet([]string{"en"})
	require.NoError(t, err)
	lex := lexical.NewIndex(lexical.DefaultParams(), analyzers)
	_, err = lex.Rebuild(ctx, nil)
	require.NoError(t, err)

	embedder := embed.NewStaticEmbedder(testDims)
	den := dense.NewScorer(dense.Params{Dimensions: testDims})

	engine, err := retrieval.NewEngine(lex, den, embedder, meta, retrieval.EngineConfig{})
	require.NoError(t, err)

	srv, err := NewServer(ServerConfig{
		Engine:     engine,
		Metadata:   meta,
		Lexical:    lex,
		Dense:      den,
		Embedder:   embedder,
		DataDir:    dataDir,
		CorpusRoot: testCorpusRoot,
	})
	require.NoError(t, err)
	return srv
}

// ============================================================================
// TS01: Server Construction
// ============================================================================

func TestNewServer_RequiresEngine(t *testing.T) {
	sc := newTestStack(t)
	sc.Engine = nil

	srv, err := NewServer(sc)

	require.Error(t, err)
	assert.Nil(t, srv)
	assert.Contains(t, err.Error(), "retrieval engine is required")
}

func TestNewServer_RequiresMetadata(t *testing.T) {
	sc := newTestStack(t)
	sc.Metadata = nil

	srv, err := NewServer(sc)

	require.Error(t, err)
	assert.Nil(t, srv)
	assert.Contains(t, err.Error(), "metadata store is required")
}

func TestNewServer_RequiresLexical(t *testing.T) {
	sc := newTestStack(t)
	sc.Lexical = nil

	_, err := NewServer(sc)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "lexical index is required")
}

func TestNewServer_RequiresDense(t *testing.T) {
	sc := newTestStack(t)
	sc.Dense = nil

	_, err := NewServer(sc)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "dense scorer is required")
}

func TestNewServer_NilGraphAndMetricsAllowed(t *testing.T) {
	// Given: a stack without graph or telemetry
	sc := newTestStack(t)
	sc.Graph = nil
	sc.Metrics = nil

	// When: constructing the server
	srv, err := NewServer(sc)

	// Then: both are optional
	require.NoError(t, err)
	assert.Nil(t, srv.graphSource())
}

func TestNewServer_DefaultsConfig(t *testing.T) {
	sc := newTestStack(t)
	sc.Config = nil

	srv, err := NewServer(sc)

	require.NoError(t, err)
	assert.NotNil(t, srv.config)
}

// ============================================================================
// TS02: Server Info and Tools
// ============================================================================

func TestServer_Info(t *testing.T) {
	srv := newTestServer(t)

	name, ver := srv.Info()

	assert.Equal(t, "TriRank", name)
	assert.NotEmpty(t, ver)
}

func TestServer_MCPServer_NotNil(t *testing.T) {
	srv := newTestServer(t)

	assert.NotNil(t, srv.MCPServer())
}

func TestServer_ListTools(t *testing.T) {
	// Given: a constructed server
	srv := newTestServer(t)

	// When: listing tools
	tools := srv.ListTools()

	// Then: the three retrieval tools are registered
	require.Len(t, tools, 3)
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
		assert.NotEmpty(t, tool.Description, "tool %s has no description", tool.Name)
	}
	assert.ElementsMatch(t, []string{"query", "stats", "health"}, names)
}

// ============================================================================
// TS03: Runtime Swaps
// ============================================================================

func TestServer_SetGraphSource_SwapsForDiagnostics(t *testing.T) {
	// Given: a server whose graph starts nil
	sc := newTestStack(t)
	sc.Graph = nil
	srv, err := NewServer(sc)
	require.NoError(t, err)
	require.Nil(t, srv.graphSource())

	// When: a rebuild produces a graph and serve mode swaps it in
	source := testGraphSource(t)
	srv.SetGraphSource(source)

	// Then: diagnostics see the new source
	assert.NotNil(t, srv.graphSource())
}

func TestServer_SetRebuildProgress(t *testing.T) {
	srv := newTestServer(t)
	require.Nil(t, srv.rebuildProgress())

	progress := async.NewRebuildProgress()
	srv.SetRebuildProgress(progress)

	assert.Same(t, progress, srv.rebuildProgress())
}

// ============================================================================
// TS04: Serve Transport
// ============================================================================

func TestServer_Serve_RejectsUnknownTransport(t *testing.T) {
	srv := newTestServer(t)

	err := srv.Serve(context.Background(), "http")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported transport")
	assert.Contains(t, err.Error(), "stdio")
}

// ============================================================================
// TS05: Metrics Resource Registration
// ============================================================================

func TestNewServer_WithMetrics_RegistersResource(t *testing.T) {
	// Given: a stack with telemetry enabled
	sc := newTestStack(t)
	sc.Metrics = telemetry.NewQueryMetrics(nil)

	// When: constructing the server
	srv, err := NewServer(sc)
	require.NoError(t, err)

	// Then: the query_metrics resource is listed
	resources := srv.ListResources(context.Background())
	uris := make([]string, len(resources))
	for i, r := range resources {
		uris[i] = r.URI
	}
	assert.Contains(t, uris, "trirank://metrics/queries")
}
