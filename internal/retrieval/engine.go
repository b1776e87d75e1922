package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trirank/trirank/internal/dense"
	"github.com/trirank/trirank/internal/embed"
	trerrors "github.com/trirank/trirank/internal/errors"
	"github.com/trirank/trirank/internal/kgraph"
	"github.com/trirank/trirank/internal/lexical"
	"github.com/trirank/trirank/internal/store"
	"github.com/trirank/trirank/internal/telemetry"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// EngineConfig configures the retrieval engine.
type EngineConfig struct {
	// DefaultTopK is the result count when the caller asks for none.
	DefaultTopK int

	// MaxTopK caps the result count a caller may request.
	MaxTopK int

	// RRFK is the fusion smoothing constant.
	RRFK int

	// PerMethodTimeout bounds each method task individually.
	PerMethodTimeout time.Duration

	// GlobalDeadline bounds the whole fan-out.
	GlobalDeadline time.Duration

	// EnabledMethods selects the methods a default query runs.
	EnabledMethods []Method

	// Language selects the query analyzer when the caller names none.
	Language string
}

// DefaultEngineConfig returns the stock configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultTopK:      10,
		MaxTopK:          100,
		RRFK:             DefaultRRFK,
		PerMethodTimeout: DefaultPerMethodTimeout,
		GlobalDeadline:   DefaultGlobalDeadline,
		EnabledMethods:   AllMethods(),
		Language:         "en",
	}
}

// RetrieveOptions configures a single retrieval request.
type RetrieveOptions struct {
	// TopK is the number of fused results to return (0 = engine default).
	TopK int

	// Methods overrides the enabled methods for this request.
	Methods []Method

	// RRFK overrides the fusion constant for this request (0 = default).
	RRFK int

	// Language overrides the query analyzer language.
	Language string
}

// Engine assembles the scorers, the coordinator and the fuser behind one
// Retrieve call that is synchronous to the caller and concurrent inside.
type Engine struct {
	lexical   *lexical.Index
	dense     *dense.Scorer
	graph     *kgraph.Scorer
	extractor *kgraph.Extractor
	embedder  embed.Embedder
	metadata  store.MetadataStore
	config    EngineConfig
	fuser     *Fuser
	coord     *Coordinator
	metrics   *telemetry.QueryMetrics
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithGraph attaches the graph scorer and its query-entity extractor.
// Without it, a request naming the graph method degrades instead of failing.
func WithGraph(scorer *kgraph.Scorer, extractor *kgraph.Extractor) EngineOption {
	return func(e *Engine) {
		e.graph = scorer
		e.extractor = extractor
	}
}

// WithMetrics sets an optional query telemetry collector.
func WithMetrics(m *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates the retrieval engine. The lexical index, dense scorer,
// embedder and chunk store are required; the graph method is attached via
// WithGraph.
func NewEngine(
	lexicalIndex *lexical.Index,
	denseScorer *dense.Scorer,
	embedder embed.Embedder,
	metadata store.MetadataStore,
	config EngineConfig,
	opts ...EngineOption,
) (*Engine, error) {
	if lexicalIndex == nil {
		return nil, fmt.Errorf("%w: lexical index is required", ErrNilDependency)
	}
	if denseScorer == nil {
		return nil, fmt.Errorf("%w: dense scorer is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if metadata == nil {
		return nil, fmt.Errorf("%w: chunk store is required", ErrNilDependency)
	}

	defaults := DefaultEngineConfig()
	if config.DefaultTopK <= 0 {
		config.DefaultTopK = defaults.DefaultTopK
	}
	if config.MaxTopK <= 0 {
		config.MaxTopK = defaults.MaxTopK
	}
	if config.RRFK <= 0 {
		config.RRFK = defaults.RRFK
	}
	if len(config.EnabledMethods) == 0 {
		config.EnabledMethods = defaults.EnabledMethods
	}
	if config.Language == "" {
		config.Language = defaults.Language
	}

	e := &Engine{
		lexical:  lexicalIndex,
		dense:    denseScorer,
		embedder: embedder,
		metadata: metadata,
		config:   config,
		fuser:    NewFuserWithK(config.RRFK),
		coord:    NewCoordinator(config.PerMethodTimeout, config.GlobalDeadline),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Retrieve answers one query: analyze, fan out to the enabled methods, fuse,
// enrich. A blank query returns an empty response; a degraded method returns
// partial results with degradation metadata. The only error paths are
// malformed inputs and programmer errors, never a single method's failure.
func (e *Engine) Retrieve(ctx context.Context, query string, opts RetrieveOptions) (*Response, error) {
	start := time.Now()

	resp := &Response{
		RequestID: uuid.NewString(),
		Query:     strings.TrimSpace(query),
		Results:   []Result{},
	}

	if resp.Query == "" {
		// A blank query is an empty answer, not an error.
		resp.TotalTime = time.Since(start)
		slog.Debug("retrieve_blank_query", slog.String("request_id", resp.RequestID))
		return resp, nil
	}

	opts = e.applyDefaults(opts)
	resp.MethodsRequested = opts.Methods

	tokens := e.lexical.AnalyzeQuery(opts.Language, resp.Query)
	tasks := e.buildTasks(resp.Query, tokens, opts)

	dispatchStart := time.Now()
	lists, reports := e.coord.Dispatch(ctx, tasks)
	resp.RetrievalTime = time.Since(dispatchStart)
	resp.Reports = reports
	resp.MethodsUsed = CompletedMethods(reports)
	resp.DegradedMethods = DegradedMethods(reports)

	fuser := e.fuser
	if opts.RRFK > 0 && opts.RRFK != e.config.RRFK {
		fuser = NewFuserWithK(opts.RRFK)
	}

	fusionStart := time.Now()
	fused, err := fuser.Fuse(lists)
	if err != nil {
		return nil, fmt.Errorf("fusion rejected method output: %w", err)
	}
	resp.FusionTime = time.Since(fusionStart)

	if len(fused) > opts.TopK {
		fused = fused[:opts.TopK]
	}
	resp.Results = e.enrich(ctx, fused)
	resp.TotalTime = time.Since(start)

	e.record(resp)
	return resp, nil
}

// applyDefaults fills in request options from the engine configuration.
func (e *Engine) applyDefaults(opts RetrieveOptions) RetrieveOptions {
	if opts.TopK <= 0 {
		opts.TopK = e.config.DefaultTopK
	}
	if opts.TopK > e.config.MaxTopK {
		opts.TopK = e.config.MaxTopK
	}
	if opts.Language == "" {
		opts.Language = e.config.Language
	}
	opts.Methods = normalizeMethods(opts.Methods, e.config.EnabledMethods)
	return opts
}

// normalizeMethods picks the request's methods, dropping unknown names and
// duplicates while keeping the caller's order.
func normalizeMethods(requested, enabled []Method) []Method {
	if len(requested) == 0 {
		requested = enabled
	}

	known := map[Method]bool{MethodLexical: true, MethodDense: true, MethodGraph: true}
	seen := make(map[Method]bool, len(requested))
	methods := make([]Method, 0, len(requested))
	for _, m := range requested {
		if !known[m] {
			slog.Warn("unknown_method_requested", slog.String("method", string(m)))
			continue
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		methods = append(methods, m)
	}
	return methods
}

// buildTasks wraps each enabled method in a uniform task. Every task fetches
// twice the requested k so fusion has headroom: a chunk ranked just past k
// by two methods can still beat a chunk one method ranked first.
func (e *Engine) buildTasks(query string, tokens []string, opts RetrieveOptions) []Task {
	fetchK := opts.TopK * 2

	tasks := make([]Task, 0, len(opts.Methods))
	for _, method := range opts.Methods {
		switch method {
		case MethodLexical:
			tasks = append(tasks, Task{Method: method, Run: func(ctx context.Context) ([]RankedItem, error) {
				results, err := e.lexical.Search(ctx, tokens, fetchK)
				if err != nil {
					return nil, err
				}
				items := make([]RankedItem, len(results))
				for i, r := range results {
					items[i] = RankedItem{ChunkID: r.ChunkID, Score: r.Score, MatchedTerms: r.MatchedTerms}
				}
				return items, nil
			}})

		case MethodDense:
			tasks = append(tasks, Task{Method: method, Run: func(ctx context.Context) ([]RankedItem, error) {
				matrix, err := e.embedder.EmbedTokens(ctx, query)
				if err != nil {
					return nil, fmt.Errorf("query embedding failed: %w", err)
				}
				results, err := e.dense.Search(ctx, matrix, fetchK)
				if err != nil {
					return nil, err
				}
				items := make([]RankedItem, len(results))
				for i, r := range results {
					items[i] = RankedItem{ChunkID: r.ChunkID, Score: r.Score}
				}
				return items, nil
			}})

		case MethodGraph:
			tasks = append(tasks, Task{Method: method, Run: func(ctx context.Context) ([]RankedItem, error) {
				if e.graph == nil || e.extractor == nil {
					return nil, trerrors.GraphUnavailable(errors.New("no graph source configured"))
				}
				entities, err := e.extractor.Extract(ctx, tokens)
				if err != nil {
					return nil, err
				}
				results, err := e.graph.Score(ctx, entities, fetchK)
				if err != nil {
					return nil, err
				}
				items := make([]RankedItem, len(results))
				for i, r := range results {
					items[i] = RankedItem{ChunkID: r.ChunkID, Score: r.Score, Entities: r.Entities}
				}
				return items, nil
			}})
		}
	}
	return tasks
}

// enrich attaches stored chunk metadata to the fused results. A store miss
// or failure leaves Chunk nil rather than dropping the result: the ranking
// is the answer, the metadata is garnish.
func (e *Engine) enrich(ctx context.Context, fused []FusedResult) []Result {
	results := make([]Result, len(fused))
	for i, f := range fused {
		results[i] = Result{FusedResult: f}
	}
	if len(fused) == 0 {
		return results
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
	}

	chunks, err := e.metadata.GetChunks(ctx, ids)
	if err != nil {
		slog.Warn("result_enrichment_failed", slog.String("error", err.Error()))
		return results
	}

	byID := make(map[string]*store.Chunk, len(chunks))
	for _, chunk := range chunks {
		byID[chunk.ID] = chunk
	}
	for i := range results {
		results[i].Chunk = byID[results[i].ChunkID]
	}
	return results
}

// record emits per-query telemetry and the debug log line.
func (e *Engine) record(resp *Response) {
	if e.metrics != nil {
		degraded := make([]string, len(resp.DegradedMethods))
		for i, m := range resp.DegradedMethods {
			degraded[i] = string(m)
		}
		e.metrics.Record(telemetry.QueryEvent{
			Query:           resp.Query,
			ResultCount:     len(resp.Results),
			Latency:         resp.TotalTime,
			DegradedMethods: degraded,
			Timestamp:       time.Now(),
		})
	}

	slog.Debug("retrieve_completed",
		slog.String("request_id", resp.RequestID),
		slog.Int("results", len(resp.Results)),
		slog.Int("degraded_methods", len(resp.DegradedMethods)),
		slog.Duration("total", resp.TotalTime))
}
