package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/trirank/trirank/internal/config"
	"github.com/trirank/trirank/internal/dense"
	"github.com/trirank/trirank/internal/embed"
	"github.com/trirank/trirank/internal/errors"
	"github.com/trirank/trirank/internal/kgraph"
	"github.com/trirank/trirank/internal/lexical"
	"github.com/trirank/trirank/internal/retrieval"
	"github.com/trirank/trirank/internal/store"
	"github.com/trirank/trirank/internal/telemetry"
)

// searchStack holds the fully wired retrieval components for one corpus.
// Search opens it per invocation; serve keeps it alive and rebuilds the
// indexes in place when the corpus changes.
type searchStack struct {
	cfg       *config.Config
	root      string
	dataDir   string
	metadata  *store.SQLiteStore
	analyzers *lexical.AnalyzerSet
	lexical   *lexical.Index
	dense     *dense.Scorer
	embedder  embed.Embedder
	graph     kgraph.Source
	scorer    *kgraph.Scorer
	extractor *kgraph.Extractor
	metrics   *telemetry.QueryMetrics
	engine    *retrieval.Engine

	graphDB *kgraph.SQLiteSource // nil when the graph loads from memory
}

// stackOptions controls how openStack treats a missing index.
type stackOptions struct {
	// CreateMissing opens an empty stack instead of failing when no
	// index exists. Serve mode uses it and triggers a build.
	CreateMissing bool
}

// Close releases the stack's file handles. Safe to call once.
func (s *searchStack) Close() {
	if s.metrics != nil {
		_ = s.metrics.Close()
	}
	if s.embedder != nil {
		_ = s.embedder.Close()
	}
	if s.graphDB != nil {
		_ = s.graphDB.Close()
	}
	if s.metadata != nil {
		_ = s.metadata.Close()
	}
}

// openStack rehydrates the retrieval stack from the data directory: chunks
// feed the lexical index, stored token matrices feed the dense scorer, and
// the graph serves straight from its SQLite file. The rebuilt in-memory
// state is identical to what the original build committed, so search
// results match across process restarts.
func openStack(ctx context.Context, root string, opts stackOptions) (*searchStack, error) {
	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	dataDir := cfg.ResolveDataDir(root)
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if !fileExists(metadataPath) {
		if !opts.CreateMissing {
			return nil, fmt.Errorf("no index found in %s\nRun 'trirank index --corpus %s' first", dataDir, root)
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	st := &searchStack{
		cfg:      cfg,
		root:     root,
		dataDir:  dataDir,
		metadata: metadata,
	}
	if err := st.loadIndexes(ctx); err != nil {
		st.Close()
		return nil, err
	}
	if err := st.openGraph(opts); err != nil {
		st.Close()
		return nil, err
	}
	st.openMetrics()

	engineOpts := []retrieval.EngineOption{retrieval.WithMetrics(st.metrics)}
	if st.scorer != nil {
		engineOpts = append(engineOpts, retrieval.WithGraph(st.scorer, st.extractor))
	}
	engine, err := retrieval.NewEngine(st.lexical, st.dense, st.embedder, st.metadata, engineConfig(cfg), engineOpts...)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create retrieval engine: %w", err)
	}
	st.engine = engine
	return st, nil
}

// loadIndexes rebuilds the lexical index from stored chunks and restages
// the dense scorer from stored token matrices.
func (s *searchStack) loadIndexes(ctx context.Context) error {
	started := time.Now()

	languages := s.cfg.Languages
	if stored, err := s.metadata.GetState(ctx, store.StateKeyAnalyzerLanguages); err == nil && stored != "" {
		languages = strings.Split(stored, ",")
	}
	analyzers, err := lexical.NewAnalyzerSet(languages)
	if err != nil {
		return fmt.Errorf("failed to create analyzers: %w", err)
	}
	s.analyzers = analyzers
	s.lexical = lexical.NewIndex(lexical.Params{K1: s.cfg.BM25K1, B: s.cfg.BM25B}, analyzers)

	ids, err := s.metadata.AllChunkIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}
	chunks, err := s.metadata.GetChunks(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}
	if _, err := s.lexical.Rebuild(ctx, chunks); err != nil {
		return fmt.Errorf("failed to rebuild lexical index: %w", err)
	}

	dims := s.cfg.Dense.Dimensions
	if stored, err := s.metadata.GetState(ctx, store.StateKeyIndexDimension); err == nil && stored != "" {
		if parsed, perr := strconv.Atoi(stored); perr == nil && parsed > 0 {
			dims = parsed
		}
	}
	s.dense = dense.NewScorer(dense.Params{
		Dimensions: dims,
		Prefilter: dense.Prefilter{
			Mode:                s.cfg.Dense.Prefilter,
			MinChunks:           s.cfg.Dense.PrefilterMinChunks,
			CandidateMultiplier: s.cfg.Dense.CandidateMultiplier,
		},
	})

	vectors, err := s.metadata.GetAllChunkVectors(ctx)
	if err != nil {
		return fmt.Errorf("failed to load chunk vectors: %w", err)
	}
	for chunkID, matrix := range vectors {
		if err := s.dense.Index(chunkID, matrix); err != nil {
			slog.Warn("skipping stored vectors",
				slog.String("chunk_id", chunkID),
				slog.String("error", err.Error()))
		}
	}
	if _, err := s.dense.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit dense index: %w", err)
	}

	model, _ := s.metadata.GetState(ctx, store.StateKeyIndexModel)
	if model != "" {
		s.embedder, err = embed.NewFromModel(model, s.cfg.Dense.CacheSize)
		if err != nil {
			slog.Warn("stored embedding model unavailable, using hash embedder",
				slog.String("model", model),
				slog.String("error", err.Error()))
			s.embedder = nil
		}
	}
	if s.embedder == nil {
		s.embedder = embed.New(dims, s.cfg.Dense.CacheSize)
	}

	slog.Debug("stack_indexes_loaded",
		slog.Int("chunks", len(chunks)),
		slog.Int("vector_chunks", len(vectors)),
		slog.Int("dimensions", dims),
		slog.Duration("elapsed", time.Since(started)))
	return nil
}

// openGraph attaches the knowledge graph scorer. The SQLite source sits
// behind a circuit breaker so repeated failures degrade the graph method
// instead of stalling every query on a broken file.
func (s *searchStack) openGraph(opts stackOptions) error {
	graphPath := filepath.Join(s.dataDir, "graph.db")
	if fileExists(graphPath) {
		sqliteSource, err := kgraph.OpenSQLiteSource(graphPath)
		if err != nil {
			return fmt.Errorf("failed to open graph store: %w", err)
		}
		s.graphDB = sqliteSource
		s.graph = kgraph.NewBreakerSource(sqliteSource, breakerOptions(s.cfg)...)
	} else if opts.CreateMissing {
		// Serve mode needs scorer and extractor in place before the
		// first build so a completed build can swap its source in.
		empty, _ := kgraph.NewMemorySource(nil, nil, nil)
		s.graph = empty
	} else {
		// No graph file: queries naming the graph method degrade.
		return nil
	}

	s.scorer = kgraph.NewScorer(s.graph, s.cfg.MaxGraphHops)
	s.extractor = kgraph.NewExtractor(s.graph, s.cfg.Graph.EntityLimitPerTerm, s.cfg.Graph.CacheSize)
	return nil
}

// openMetrics wires query telemetry into the shared metadata database.
// Telemetry is best effort; the stack works without it.
func (s *searchStack) openMetrics() {
	metricsStore, err := telemetry.NewSQLiteMetricsStore(s.metadata.DB())
	if err != nil {
		slog.Warn("query telemetry disabled", slog.String("error", err.Error()))
		s.metrics = telemetry.NewQueryMetrics(nil)
		return
	}
	s.metrics = telemetry.NewQueryMetrics(metricsStore)
}

// swapGraphSource points the graph scorer and extractor at a new source.
// Serve mode calls it after each rebuild so queries traverse the fresh
// graph without reopening the stack.
func (s *searchStack) swapGraphSource(src kgraph.Source) {
	if src == nil || s.scorer == nil {
		return
	}
	s.graph = src
	s.scorer.SetSource(src)
	s.extractor.SetSource(src)
}

// engineConfig maps the file configuration onto engine settings.
func engineConfig(cfg *config.Config) retrieval.EngineConfig {
	ec := retrieval.EngineConfig{
		DefaultTopK:      cfg.MaxResults,
		RRFK:             cfg.RRFK,
		PerMethodTimeout: cfg.MethodTimeout(),
		GlobalDeadline:   cfg.GlobalDeadline(),
		EnabledMethods:   toMethods(cfg.EnabledMethods),
	}
	if len(cfg.Languages) > 0 {
		ec.Language = cfg.Languages[0]
	}
	return ec
}

// toMethods converts configured method names, dropping unknown ones.
func toMethods(names []string) []retrieval.Method {
	var methods []retrieval.Method
	for _, name := range names {
		switch name {
		case config.MethodLexical:
			methods = append(methods, retrieval.MethodLexical)
		case config.MethodDense:
			methods = append(methods, retrieval.MethodDense)
		case config.MethodGraph:
			methods = append(methods, retrieval.MethodGraph)
		default:
			slog.Warn("ignoring unknown method in config", slog.String("method", name))
		}
	}
	return methods
}

// breakerOptions maps graph breaker settings from the configuration.
func breakerOptions(cfg *config.Config) []errors.CircuitBreakerOption {
	var opts []errors.CircuitBreakerOption
	if cfg.Graph.BreakerMaxFailures > 0 {
		opts = append(opts, errors.WithMaxFailures(cfg.Graph.BreakerMaxFailures))
	}
	if cfg.Graph.BreakerResetTimeout != "" {
		if d, err := time.ParseDuration(cfg.Graph.BreakerResetTimeout); err == nil && d > 0 {
			opts = append(opts, errors.WithResetTimeout(d))
		}
	}
	return opts
}

// findCorpusRoot locates the corpus root from the working directory,
// falling back to the working directory itself.
func findCorpusRoot() string {
	root, err := config.FindCorpusRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	return root
}
