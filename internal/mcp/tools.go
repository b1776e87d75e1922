package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/trirank/trirank/internal/async"
	"github.com/trirank/trirank/internal/corpus"
	"github.com/trirank/trirank/internal/retrieval"
	"github.com/trirank/trirank/internal/store"
	"github.com/trirank/trirank/pkg/version"
)

// Tool descriptions shown to MCP clients. Written to tell an AI client when
// to reach for each tool, not just what it does.
const (
	queryToolDescription = "Hybrid retrieval over the indexed corpus. Combines BM25 keyword matching, " +
		"late-interaction embeddings, and knowledge graph entity proximity, fused by reciprocal rank. " +
		"Each result explains which methods ranked it and why. Use this for every content lookup."

	statsToolDescription = "Index statistics: corpus size, lexical and dense index state, knowledge graph " +
		"counts, and query telemetry. Use to verify the index covers what you expect before querying."

	healthToolDescription = "Component health: healthy, degraded, or unhealthy, with per-component detail " +
		"and background rebuild progress. Use when queries come back empty or degraded."
)

// QueryInput defines the input schema for the query tool.
type QueryInput struct {
	Query    string   `json:"query" jsonschema:"the search query to execute"`
	TopK     int      `json:"top_k,omitempty" jsonschema:"maximum number of results, default 10"`
	Methods  []string `json:"methods,omitempty" jsonschema:"retrieval methods to use: lexical, dense, graph; default all enabled"`
	Language string   `json:"language,omitempty" jsonschema:"query language hint as ISO 639-1 code, default en"`
}

// QueryOutput defines the output schema for the query tool.
type QueryOutput struct {
	RequestID       string         `json:"request_id" jsonschema:"request identifier for log correlation"`
	Results         []QueryResult  `json:"results" jsonschema:"fused results in rank order"`
	MethodsUsed     []string       `json:"methods_used" jsonschema:"methods that completed and contributed"`
	DegradedMethods []string       `json:"degraded_methods,omitempty" jsonschema:"methods that failed or timed out"`
	Reports         []MethodReport `json:"reports,omitempty" jsonschema:"per-method timing and terminal state"`
	ElapsedMS       int64          `json:"elapsed_ms" jsonschema:"total request time in milliseconds"`
}

// QueryResult is a single fused result with its per-method breakdown.
type QueryResult struct {
	ChunkID      string                        `json:"chunk_id"`
	DocumentID   string                        `json:"document_id,omitempty"`
	Text         string                        `json:"text,omitempty" jsonschema:"chunk text"`
	Language     string                        `json:"language,omitempty"`
	Score        float64                       `json:"score" jsonschema:"reciprocal rank fusion score"`
	Rank         int                           `json:"rank" jsonschema:"1-indexed position in the fused ranking"`
	Methods      map[string]MethodContribution `json:"methods" jsonschema:"per-method rank and raw score for methods that returned this chunk"`
	MatchedTerms []string                      `json:"matched_terms,omitempty" jsonschema:"query terms the lexical method matched"`
	Entities     []string                      `json:"entities,omitempty" jsonschema:"entity names the graph method matched"`
}

// MethodContribution is one method's rank and raw score for a result.
type MethodContribution struct {
	Rank  int     `json:"rank"`
	Score float64 `json:"score"`
}

// MethodReport is one method's terminal state for a request.
type MethodReport struct {
	Method     string `json:"method"`
	State      string `json:"state" jsonschema:"completed, timed_out, or failed"`
	DurationMS int64  `json:"duration_ms"`
	Results    int    `json:"results"`
	Error      string `json:"error,omitempty"`
}

// StatsInput defines the input schema for the stats tool (no parameters).
type StatsInput struct{}

// StatsOutput defines the output schema for the stats tool.
type StatsOutput struct {
	Corpus    CorpusStats   `json:"corpus"`
	Lexical   LexicalStats  `json:"lexical"`
	Dense     DenseStats    `json:"dense"`
	Graph     *GraphStats   `json:"graph,omitempty" jsonschema:"absent when the graph method is disabled"`
	Embedding EmbeddingInfo `json:"embedding"`
	Queries   *QueryStats   `json:"queries,omitempty" jsonschema:"absent when telemetry is off"`
}

// CorpusStats describes the indexed corpus.
type CorpusStats struct {
	Name           string `json:"name,omitempty"`
	RootPath       string `json:"root_path"`
	Documents      int    `json:"documents"`
	Chunks         int    `json:"chunks"`
	Entities       int    `json:"entities"`
	IndexedAt      string `json:"indexed_at,omitempty"`
	IndexSizeBytes int64  `json:"index_size_bytes"`
	SchemaVersion  string `json:"schema_version,omitempty"`
}

// LexicalStats describes the BM25 index.
type LexicalStats struct {
	Documents    int     `json:"documents"`
	Terms        int     `json:"terms"`
	AvgDocLength float64 `json:"avg_doc_length"`
}

// DenseStats describes the late-interaction index.
type DenseStats struct {
	Chunks     int  `json:"chunks"`
	Vectors    int  `json:"vectors"`
	Dimensions int  `json:"dimensions"`
	ANNActive  bool `json:"ann_active"`
}

// GraphStats describes the knowledge graph.
type GraphStats struct {
	Entities      int            `json:"entities"`
	Relationships int            `json:"relationships"`
	Mentions      int            `json:"mentions"`
	TypeCounts    map[string]int `json:"type_counts,omitempty"`
}

// EmbeddingInfo describes the active embedder.
type EmbeddingInfo struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Available  bool   `json:"available"`
}

// QueryStats summarizes query telemetry since process start.
type QueryStats struct {
	Total           int64   `json:"total"`
	ZeroResultPct   float64 `json:"zero_result_pct"`
	DegradedPct     float64 `json:"degraded_pct"`
	ExactRepeatRate float64 `json:"exact_repeat_rate"`
}

// HealthInput defines the input schema for the health tool (no parameters).
type HealthInput struct{}

// Health status values, ordered from best to worst.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// HealthOutput defines the output schema for the health tool.
type HealthOutput struct {
	Status        string                     `json:"status" jsonschema:"healthy, degraded, or unhealthy"`
	Components    map[string]ComponentStatus `json:"components"`
	Rebuild       *async.RebuildSnapshot     `json:"rebuild,omitempty" jsonschema:"background rebuild state in serve mode"`
	UptimeSeconds float64                    `json:"uptime_seconds"`
	Version       string                     `json:"version"`
}

// ComponentStatus reports one component's availability.
type ComponentStatus struct {
	Available bool   `json:"available"`
	Message   string `json:"message"`
}

// mcpQueryHandler is the MCP SDK handler for the query tool.
func (s *Server) mcpQueryHandler(ctx context.Context, _ *mcp.CallToolRequest, input QueryInput) (
	*mcp.CallToolResult,
	QueryOutput,
	error,
) {
	// Build retrieve options. A blank query is not an error, the engine
	// answers it with an empty list. A mistyped method is an error here:
	// the engine would drop it silently and the client would never learn
	// why a method contributed nothing.
	opts := retrieval.RetrieveOptions{
		TopK:     input.TopK,
		Language: input.Language,
	}
	for _, m := range input.Methods {
		method := retrieval.Method(m)
		switch method {
		case retrieval.MethodLexical, retrieval.MethodDense, retrieval.MethodGraph:
			opts.Methods = append(opts.Methods, method)
		default:
			return nil, QueryOutput{}, NewInvalidParamsError(
				fmt.Sprintf("unknown method %q (valid: lexical, dense, graph)", m))
		}
	}

	resp, err := s.engine.Retrieve(ctx, input.Query, opts)
	if err != nil {
		slog.Warn("mcp_query_failed",
			slog.String("query", input.Query),
			slog.String("error", err.Error()))
		return nil, QueryOutput{}, MapError(err)
	}

	slog.Debug("mcp_query_completed",
		slog.String("request_id", resp.RequestID),
		slog.Int("results", len(resp.Results)),
		slog.Int("degraded", len(resp.DegradedMethods)),
		slog.Duration("elapsed", resp.TotalTime))

	return nil, toQueryOutput(resp), nil
}

// mcpStatsHandler is the MCP SDK handler for the stats tool.
func (s *Server) mcpStatsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ StatsInput) (
	*mcp.CallToolResult,
	*StatsOutput,
	error,
) {
	info, err := store.CollectIndexInfo(ctx, s.metadata, s.dataDir, s.corpusRoot)
	if err != nil {
		return nil, nil, MapError(err)
	}

	out := &StatsOutput{
		Corpus: CorpusStats{
			RootPath:       s.corpusRoot,
			Documents:      info.DocumentCount,
			Chunks:         info.ChunkCount,
			IndexSizeBytes: info.IndexSizeBytes,
		},
	}
	if !info.IndexedAt.IsZero() {
		out.Corpus.IndexedAt = info.IndexedAt.UTC().Format(time.RFC3339)
	}

	// The corpus row carries the name and entity count. Missing row means
	// the index was never built, which the zero values already say.
	row, err := s.metadata.GetCorpus(ctx, corpus.ID(s.corpusRoot))
	if err != nil {
		return nil, nil, MapError(err)
	}
	if row != nil {
		out.Corpus.Name = row.Name
		out.Corpus.Entities = row.EntityCount
		out.Corpus.SchemaVersion = row.Version
	}

	ls := s.lexical.Stats()
	out.Lexical = LexicalStats{
		Documents:    ls.DocumentCount,
		Terms:        ls.TermCount,
		AvgDocLength: ls.AvgDocLength,
	}

	ds := s.dense.Stats()
	out.Dense = DenseStats{
		Chunks:     ds.ChunkCount,
		Vectors:    ds.VectorCount,
		Dimensions: ds.Dimensions,
		ANNActive:  ds.ANNActive,
	}

	if s.embedder != nil {
		out.Embedding = EmbeddingInfo{
			Model:      s.embedder.ModelName(),
			Dimensions: s.embedder.Dimensions(),
			Available:  s.embedder.Available(ctx),
		}
	} else {
		// No live embedder. Report what the index was built with.
		out.Embedding = EmbeddingInfo{
			Model:      info.IndexModel,
			Dimensions: info.IndexDimensions,
		}
	}

	if g := s.graphSource(); g != nil {
		gs, err := g.Stats(ctx)
		if err != nil {
			slog.Warn("mcp_graph_stats_failed", slog.String("error", err.Error()))
		} else {
			out.Graph = &GraphStats{
				Entities:      gs.EntityCount,
				Relationships: gs.RelationshipCount,
				Mentions:      gs.MentionCount,
				TypeCounts:    gs.TypeCounts,
			}
		}
	}

	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		out.Queries = &QueryStats{
			Total:           snap.TotalQueries,
			ZeroResultPct:   snap.ZeroResultPercentage(),
			DegradedPct:     snap.DegradedPercentage(),
			ExactRepeatRate: snap.ExactRepeatRate,
		}
	}

	return nil, out, nil
}

// mcpHealthHandler is the MCP SDK handler for the health tool.
func (s *Server) mcpHealthHandler(ctx context.Context, _ *mcp.CallToolRequest, _ HealthInput) (
	*mcp.CallToolResult,
	*HealthOutput,
	error,
) {
	out := &HealthOutput{
		Status:        HealthHealthy,
		Components:    make(map[string]ComponentStatus, 4),
		UptimeSeconds: time.Since(s.started).Seconds(),
		Version:       version.Version,
	}
	degrade := func() {
		if out.Status == HealthHealthy {
			out.Status = HealthDegraded
		}
	}

	// Metadata store. An unreachable store takes the whole server down,
	// an empty one only degrades it.
	chunks, err := s.metadata.CountChunks(ctx)
	switch {
	case err != nil:
		out.Components["store"] = ComponentStatus{Message: fmt.Sprintf("metadata store unreachable: %v", err)}
		out.Status = HealthUnhealthy
	case chunks == 0:
		out.Components["store"] = ComponentStatus{Available: true, Message: "no chunks indexed"}
		degrade()
	default:
		out.Components["store"] = ComponentStatus{Available: true, Message: fmt.Sprintf("%d chunks", chunks)}
	}

	ls := s.lexical.Stats()
	if ls.DocumentCount > 0 {
		out.Components["lexical"] = ComponentStatus{
			Available: true,
			Message:   fmt.Sprintf("%d documents, %d terms", ls.DocumentCount, ls.TermCount),
		}
	} else {
		out.Components["lexical"] = ComponentStatus{Message: "empty index"}
		degrade()
	}

	ds := s.dense.Stats()
	if ds.ChunkCount > 0 {
		out.Components["dense"] = ComponentStatus{
			Available: true,
			Message:   fmt.Sprintf("%d chunks, %d vectors, %d dimensions", ds.ChunkCount, ds.VectorCount, ds.Dimensions),
		}
	} else {
		out.Components["dense"] = ComponentStatus{Message: "no vectors committed"}
		degrade()
	}

	// Graph. Disabled is a configuration choice, only a failing backend
	// degrades health.
	if g := s.graphSource(); g == nil {
		out.Components["graph"] = ComponentStatus{Message: "graph method disabled"}
	} else if gs, gerr := g.Stats(ctx); gerr != nil {
		out.Components["graph"] = ComponentStatus{Message: fmt.Sprintf("graph source unavailable: %v", gerr)}
		degrade()
	} else {
		out.Components["graph"] = ComponentStatus{
			Available: true,
			Message:   fmt.Sprintf("%d entities, %d relationships", gs.EntityCount, gs.RelationshipCount),
		}
	}

	if p := s.rebuildProgress(); p != nil {
		snap := p.Snapshot()
		out.Rebuild = &snap
		// Queries keep serving the previous snapshot after a failed
		// rebuild, so a rebuild error degrades rather than kills.
		if snap.Status == string(async.StatusError) {
			degrade()
		}
	}

	return nil, out, nil
}

// toQueryOutput converts an engine response to the tool output schema.
func toQueryOutput(resp *retrieval.Response) QueryOutput {
	out := QueryOutput{
		RequestID:       resp.RequestID,
		Results:         make([]QueryResult, 0, len(resp.Results)),
		MethodsUsed:     methodNames(resp.MethodsUsed),
		DegradedMethods: methodNames(resp.DegradedMethods),
		ElapsedMS:       resp.TotalTime.Milliseconds(),
	}

	for _, r := range resp.Results {
		qr := QueryResult{
			ChunkID:      r.ChunkID,
			Score:        r.RRFScore,
			Rank:         r.Rank,
			Methods:      make(map[string]MethodContribution, len(r.MethodRanks)),
			MatchedTerms: r.MatchedTerms,
			Entities:     r.Entities,
		}
		for method, rank := range r.MethodRanks {
			qr.Methods[string(method)] = MethodContribution{
				Rank:  rank,
				Score: r.MethodScores[method],
			}
		}
		if r.Chunk != nil {
			qr.DocumentID = r.Chunk.DocumentID
			qr.Text = r.Chunk.Text
			qr.Language = r.Chunk.Language
		}
		out.Results = append(out.Results, qr)
	}

	for _, rep := range resp.Reports {
		out.Reports = append(out.Reports, MethodReport{
			Method:     string(rep.Method),
			State:      rep.State.String(),
			DurationMS: rep.Duration.Milliseconds(),
			Results:    rep.ResultCount,
			Error:      rep.Err,
		})
	}

	return out
}

// methodNames converts methods to their wire names.
func methodNames(methods []retrieval.Method) []string {
	names := make([]string, len(methods))
	for i, m := range methods {
		names[i] = string(m)
	}
	return names
}
