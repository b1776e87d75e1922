package retrieval

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trirank/trirank/internal/dense"
	"github.com/trirank/trirank/internal/embed"
	"github.com/trirank/trirank/internal/kgraph"
	"github.com/trirank/trirank/internal/lexical"
	"github.com/trirank/trirank/internal/store"
	"github.com/trirank/trirank/internal/telemetry"
)

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

// newTestEngine assembles a real stack over a four-chunk corpus: SQLite
// metadata, BM25 index, hash-embedded late-interaction scorer. Graph and
// metrics are attached by the caller via options.
func newTestEngine(t *testing.T, cfg EngineConfig, opts ...EngineOption) *Engine {
	t.Helper()
	ctx := context.Background()
	chunks := testChunks()

	meta, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	require.NoError(t, meta.SaveDocuments(ctx, []*store.Document{{
		ID:          "doc-pv",
		Path:        "pv.md",
		Title:       "Rooftop PV",
		Language:    "en",
		ContentHash: "hash-pv",
		ChunkCount:  len(chunks),
	}}))
	require.NoError(t, meta.SaveChunks(ctx, chunks))

	analyzers, err := lexical.NewAnalyzerSet([]string{"en"})
	require.NoError(t, err)
	lex := lexical.NewIndex(lexical.DefaultParams(), analyzers)
	_, err = lex.Rebuild(ctx, chunks)
	require.NoError(t, err)

	embedder := embed.NewStaticEmbedder(64)
	den := dense.NewScorer(dense.Params{Dimensions: 64})
	for _, chunk := range chunks {
		matrix, err := embedder.EmbedTokens(ctx, chunk.Text)
		require.NoError(t, err)
		require.NoError(t, den.Index(chunk.ID, matrix))
	}
	_, err = den.Commit(ctx)
	require.NoError(t, err)

	// Generous deadlines keep slow CI machines out of the timeout paths.
	if cfg.PerMethodTimeout == 0 {
		cfg.PerMethodTimeout = 2 * time.Second
	}
	if cfg.GlobalDeadline == 0 {
		cfg.GlobalDeadline = 5 * time.Second
	}

	engine, err := NewEngine(lex, den, embedder, meta, cfg, opts...)
	require.NoError(t, err)
	return engine
}

// withTestGraph wires a small in-memory knowledge graph: solar feeds the
// inverter feeds the grid, with mentions pointing back at the corpus chunks.
func withTestGraph(t *testing.T) EngineOption {
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
			{ChunkID: "chunk-battery", EntityID: "e-solar", Confidence: 0.7},
			{ChunkID: "chunk-inverter", EntityID: "e-inverter", Confidence: 0.9},
			{ChunkID: "chunk-grid", EntityID: "e-grid", Confidence: 0.8},
		},
	)
	require.Empty(t, skipped)
	return WithGraph(kgraph.NewScorer(source, 2), kgraph.NewExtractor(source, 3, 16))
}

// deadSource fails every call, standing in for an unreachable graph store.
type deadSource struct{}

func (deadSource) LookupEntities(ctx context.Context, term string, limit int) ([]*kgraph.Entity, error) {
	return nil, errors.New("graph store offline")
}

func (deadSource) Neighbors(ctx context.Context, entityIDs []string) ([]string, error) {
	return nil, errors.New("graph store offline")
}

func (deadSource) ChunksMentioning(ctx context.Context, entityIDs []string) (map[string][]string, error) {
	return nil, errors.New("graph store offline")
}

func (deadSource) Stats(ctx context.Context) (*kgraph.Stats, error) {
	return nil, errors.New("graph store offline")
}

func resultIDs(results []Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	return ids
}

// TS01: End To End
func TestEngine_Retrieve_FusesAllThreeMethods(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{}, withTestGraph(t))

	resp, err := engine.Retrieve(context.Background(), "solar panels", RetrieveOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, "solar panels", resp.Query)
	assert.Equal(t, AllMethods(), resp.MethodsRequested)
	assert.Equal(t, AllMethods(), resp.MethodsUsed)
	assert.Empty(t, resp.DegradedMethods)

	require.Len(t, resp.Reports, 3)
	for _, r := range resp.Reports {
		assert.Equal(t, TaskCompleted, r.State)
	}

	require.NotEmpty(t, resp.Results)
	assert.Contains(t, resultIDs(resp.Results), "chunk-solar")

	// Only chunk-solar carries both query terms, so the lexical and dense
	// methods rank it first and fusion keeps it on top
	assert.Equal(t, "chunk-solar", resp.Results[0].ChunkID)
	assert.NotEmpty(t, resp.Results[0].MethodRanks)

	// Ranks are contiguous and scores never increase
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
		if i > 0 {
			assert.LessOrEqual(t, r.RRFScore, resp.Results[i-1].RRFScore)
		}
	}

	assert.Greater(t, resp.TotalTime, time.Duration(0))
	assert.Greater(t, resp.RetrievalTime, time.Duration(0))
}

func TestEngine_Retrieve_BlankQueryReturnsEmptyResponse(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{}, withTestGraph(t))

	for _, query := range []string{"", "   ", "\t\n"} {
		resp, err := engine.Retrieve(context.Background(), query, RetrieveOptions{})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.RequestID)
		assert.Empty(t, resp.Query)
		assert.NotNil(t, resp.Results)
		assert.Empty(t, resp.Results)
		assert.Empty(t, resp.Reports)
	}
}

func TestEngine_Retrieve_TopKClampedToConfiguredMax(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{MaxTopK: 2}, withTestGraph(t))

	// Dense alone ranks the whole corpus, so more than two candidates fuse.
	resp, err := engine.Retrieve(context.Background(), "solar panels", RetrieveOptions{TopK: 10})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
}

// TS02: Degradation
func TestEngine_Retrieve_GraphOutageDegradesToPartialResults(t *testing.T) {
	src := deadSource{}
	engine := newTestEngine(t, EngineConfig{},
		WithGraph(kgraph.NewScorer(src, 2), kgraph.NewExtractor(src, 3, 16)))

	resp, err := engine.Retrieve(context.Background(), "solar panels", RetrieveOptions{})
	require.NoError(t, err)

	// Two methods carried the query; the graph outage is reported, not fatal
	assert.NotEmpty(t, resp.Results)
	assert.Equal(t, []Method{MethodLexical, MethodDense}, resp.MethodsUsed)
	assert.Equal(t, []Method{MethodGraph}, resp.DegradedMethods)

	require.Len(t, resp.Reports, 3)
	assert.Equal(t, TaskFailed, resp.Reports[2].State)
	assert.Contains(t, resp.Reports[2].Err, "offline")
}

func TestEngine_Retrieve_NoGraphConfiguredDegrades(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{})

	resp, err := engine.Retrieve(context.Background(), "solar panels", RetrieveOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.Results)
	assert.Contains(t, resp.DegradedMethods, MethodGraph)
	assert.NotContains(t, resp.MethodsUsed, MethodGraph)
}

// TS03: Method Selection
func TestEngine_Retrieve_MethodSubsetRunsOnlyThoseMethods(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{}, withTestGraph(t))

	resp, err := engine.Retrieve(context.Background(), "solar panels", RetrieveOptions{
		Methods: []Method{MethodLexical},
	})
	require.NoError(t, err)

	assert.Equal(t, []Method{MethodLexical}, resp.MethodsRequested)
	require.Len(t, resp.Reports, 1)
	assert.Equal(t, MethodLexical, resp.Reports[0].Method)

	for _, r := range resp.Results {
		assert.Contains(t, r.MethodRanks, MethodLexical)
		assert.NotContains(t, r.MethodRanks, MethodDense)
		assert.NotContains(t, r.MethodRanks, MethodGraph)
	}
}

func TestEngine_Retrieve_UnknownMethodDropped(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{}, withTestGraph(t))

	resp, err := engine.Retrieve(context.Background(), "solar panels", RetrieveOptions{
		Methods: []Method{MethodLexical, Method("magic")},
	})
	require.NoError(t, err)

	assert.Equal(t, []Method{MethodLexical}, resp.MethodsRequested)
	assert.Len(t, resp.Reports, 1)
}

func TestEngine_Retrieve_DuplicateMethodsCollapse(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{}, withTestGraph(t))

	resp, err := engine.Retrieve(context.Background(), "solar panels", RetrieveOptions{
		Methods: []Method{MethodDense, MethodDense, MethodLexical},
	})
	require.NoError(t, err)

	assert.Equal(t, []Method{MethodDense, MethodLexical}, resp.MethodsRequested)
	assert.Len(t, resp.Reports, 2)
}

// TS04: Enrichment And Telemetry
func TestEngine_Retrieve_EnrichmentAttachesChunks(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{}, withTestGraph(t))

	resp, err := engine.Retrieve(context.Background(), "solar panels", RetrieveOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	for _, r := range resp.Results {
		require.NotNil(t, r.Chunk)
		assert.Equal(t, r.ChunkID, r.Chunk.ID)
		assert.NotEmpty(t, r.Chunk.Text)
	}
}

func TestEngine_Retrieve_RecordsTelemetry(t *testing.T) {
	metrics := telemetry.NewQueryMetrics(nil)
	t.Cleanup(func() { _ = metrics.Close() })

	// No graph wired: every full-fanout query degrades on the graph method.
	engine := newTestEngine(t, EngineConfig{}, WithMetrics(metrics))

	_, err := engine.Retrieve(context.Background(), "solar panels", RetrieveOptions{})
	require.NoError(t, err)

	snapshot := metrics.Snapshot()
	assert.Equal(t, int64(1), snapshot.TotalQueries)
	assert.Equal(t, int64(1), snapshot.MethodDegradations[string(MethodGraph)])
	assert.Equal(t, int64(1), snapshot.DegradedQueryCount)

	// A blank query never reaches the recorder
	_, err = engine.Retrieve(context.Background(), "  ", RetrieveOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics.Snapshot().TotalQueries)
}

func TestEngine_Retrieve_PerRequestRRFKOverride(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{}, withTestGraph(t))

	resp, err := engine.Retrieve(context.Background(), "solar panels", RetrieveOptions{RRFK: 1})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	// With k=1 a chunk ranked first anywhere scores at least 1/2; the
	// default k=60 caps a three-list total below 3/61.
	assert.GreaterOrEqual(t, resp.Results[0].RRFScore, 0.5)
}

// TS05: Construction
func TestNewEngine_RequiresCoreDependencies(t *testing.T) {
	ctx := context.Background()
	chunks := testChunks()

	meta, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	analyzers, err := lexical.NewAnalyzerSet([]string{"en"})
	require.NoError(t, err)
	lex := lexical.NewIndex(lexical.DefaultParams(), analyzers)
	_, err = lex.Rebuild(ctx, chunks)
	require.NoError(t, err)

	embedder := embed.NewStaticEmbedder(64)
	den := dense.NewScorer(dense.Params{Dimensions: 64})

	cases := []struct {
		name string
		call func() (*Engine, error)
	}{
		{"nil lexical", func() (*Engine, error) { return NewEngine(nil, den, embedder, meta, EngineConfig{}) }},
		{"nil dense", func() (*Engine, error) { return NewEngine(lex, nil, embedder, meta, EngineConfig{}) }},
		{"nil embedder", func() (*Engine, error) { return NewEngine(lex, den, nil, meta, EngineConfig{}) }},
		{"nil store", func() (*Engine, error) { return NewEngine(lex, den, embedder, nil, EngineConfig{}) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.call()
			assert.ErrorIs(t, err, ErrNilDependency)
		})
	}
}

func TestNewEngine_FillsConfigDefaults(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{})

	assert.Equal(t, 10, engine.config.DefaultTopK)
	assert.Equal(t, 100, engine.config.MaxTopK)
	assert.Equal(t, DefaultRRFK, engine.config.RRFK)
	assert.Equal(t, AllMethods(), engine.config.EnabledMethods)
	assert.Equal(t, "en", engine.config.Language)
}
