package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/trirank/trirank/internal/logging"
	"github.com/trirank/trirank/internal/output"
	"github.com/trirank/trirank/internal/retrieval"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	topK     int
	methods  []string
	language string
	format   string // "text", "json"
	explain  bool   // show per-method ranks and the fan-out report
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed corpus",
		Long: `Search the indexed corpus with hybrid retrieval.

Lexical (BM25), dense (late interaction), and graph (entity
proximity) scoring run concurrently and merge with Reciprocal Rank
Fusion. A method that fails or times out degrades instead of failing
the query.

Examples:
  trirank search "solar panel efficiency"
  trirank search "grid stability" --top-k 5
  trirank search "inverter" --method lexical --method graph
  trirank search "battery storage" --format json
  trirank search "payback period" --explain`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringSliceVarP(&opts.methods, "method", "m", nil, "Retrieval methods to run (lexical, dense, graph; repeatable)")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Query analyzer language (en, es, ar)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show per-method ranks, scores, and the fan-out report")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	methods, err := parseMethods(opts.methods)
	if err != nil {
		return err
	}

	root := findCorpusRoot()
	st, err := openStack(ctx, root, stackOptions{})
	if err != nil {
		return err
	}
	defer st.Close()

	slog.Info("search_started",
		slog.String("query", query),
		slog.Int("top_k", opts.topK),
		slog.String("root", root))

	resp, err := st.engine.Retrieve(ctx, query, retrieval.RetrieveOptions{
		TopK:     opts.topK,
		Methods:  methods,
		Language: opts.language,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	slog.Info("search_complete",
		slog.String("request_id", resp.RequestID),
		slog.Int("results", len(resp.Results)),
		slog.Duration("total", resp.TotalTime))

	if opts.format == "json" {
		return formatSearchJSON(cmd, resp)
	}
	return formatSearchText(ctx, cmd, st, resp, opts.explain)
}

// parseMethods validates method flags before the engine drops unknown
// names silently.
func parseMethods(names []string) ([]retrieval.Method, error) {
	var methods []retrieval.Method
	for _, name := range names {
		switch name {
		case "lexical":
			methods = append(methods, retrieval.MethodLexical)
		case "dense":
			methods = append(methods, retrieval.MethodDense)
		case "graph":
			methods = append(methods, retrieval.MethodGraph)
		default:
			return nil, fmt.Errorf("unknown method %q (valid: lexical, dense, graph)", name)
		}
	}
	return methods, nil
}

// formatSearchText renders results for humans: location, fused score, and
// a short snippet, with per-method detail in explain mode.
func formatSearchText(ctx context.Context, cmd *cobra.Command, st *searchStack, resp *retrieval.Response, explain bool) error {
	out := output.New(cmd.OutOrStdout())

	if len(resp.Results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", resp.Query))
		if len(resp.DegradedMethods) > 0 {
			out.Status("", fmt.Sprintf("Degraded methods: %s", joinMethods(resp.DegradedMethods)))
		}
		return nil
	}

	if explain {
		formatExplainHeader(out, resp)
	}

	out.Statusf("🔍", "Found %d results for %q:", len(resp.Results), resp.Query)
	out.Newline()

	// Resolve document paths once per document, not per chunk.
	docPaths := make(map[string]string)
	for i, r := range resp.Results {
		out.Statusf("", "%d. %s (score: %.4f)", i+1, resultLocation(ctx, st, r, docPaths), r.RRFScore)

		if explain {
			out.Status("", "      "+methodBreakdown(r))
			if len(r.MatchedTerms) > 0 {
				out.Status("", fmt.Sprintf("      matched: %s", strings.Join(r.MatchedTerms, ", ")))
			}
			if len(r.Entities) > 0 {
				out.Status("", fmt.Sprintf("      entities: %s", strings.Join(r.Entities, ", ")))
			}
		}

		if r.Chunk != nil {
			for _, line := range getSnippet(r.Chunk.Text, 3) {
				out.Status("", "   "+line)
			}
		}
		out.Newline()
	}

	if len(resp.DegradedMethods) > 0 {
		out.Warningf("Degraded methods: %s", joinMethods(resp.DegradedMethods))
	}
	return nil
}

// resultLocation returns "path#position" for a chunk, falling back to the
// chunk ID when its document is unknown.
func resultLocation(ctx context.Context, st *searchStack, r retrieval.Result, docPaths map[string]string) string {
	if r.Chunk == nil {
		return r.ChunkID
	}
	path, ok := docPaths[r.Chunk.DocumentID]
	if !ok {
		if doc, err := st.metadata.GetDocument(ctx, r.Chunk.DocumentID); err == nil && doc != nil {
			path = doc.Path
		}
		docPaths[r.Chunk.DocumentID] = path
	}
	if path == "" {
		return r.ChunkID
	}
	return fmt.Sprintf("%s#%d", path, r.Chunk.Position)
}

// methodBreakdown formats one result's per-method ranks and raw scores.
func methodBreakdown(r retrieval.Result) string {
	methods := make([]string, 0, len(r.MethodRanks))
	for method := range r.MethodRanks {
		methods = append(methods, string(method))
	}
	sort.Strings(methods)

	parts := make([]string, 0, len(methods))
	for _, name := range methods {
		method := retrieval.Method(name)
		parts = append(parts, fmt.Sprintf("%s: rank %d (%.3f)", name, r.MethodRanks[method], r.MethodScores[method]))
	}
	return strings.Join(parts, " | ")
}

// formatExplainHeader summarizes the method fan-out for a query.
func formatExplainHeader(out *output.Writer, resp *retrieval.Response) {
	out.Status("", "════════════════════════════════════════")
	out.Status("", "RETRIEVAL REPORT")
	out.Status("", "════════════════════════════════════════")
	out.Status("", fmt.Sprintf("Query: %q", resp.Query))
	out.Status("", fmt.Sprintf("Request: %s", resp.RequestID))
	out.Newline()

	for _, rep := range resp.Reports {
		line := fmt.Sprintf("%s: %s in %s (%d results)",
			rep.Method, rep.State, rep.Duration.Round(time.Microsecond), rep.ResultCount)
		if rep.Err != "" {
			line += fmt.Sprintf(" - %v", rep.Err)
		}
		out.Status("", line)
	}
	out.Newline()

	out.Status("", fmt.Sprintf("Methods used: %s", joinMethods(resp.MethodsUsed)))
	if len(resp.DegradedMethods) > 0 {
		out.Status("", fmt.Sprintf("Degraded: %s", joinMethods(resp.DegradedMethods)))
	}
	out.Status("", fmt.Sprintf("Retrieval: %s | Fusion: %s | Total: %s",
		resp.RetrievalTime.Round(time.Microsecond),
		resp.FusionTime.Round(time.Microsecond),
		resp.TotalTime.Round(time.Microsecond)))
	out.Status("", "════════════════════════════════════════")
	out.Newline()
}

// formatSearchJSON renders the response as indented JSON.
func formatSearchJSON(cmd *cobra.Command, resp *retrieval.Response) error {
	type jsonMethod struct {
		Rank  int     `json:"rank"`
		Score float64 `json:"score"`
	}
	type jsonResult struct {
		ChunkID      string                `json:"chunk_id"`
		DocumentID   string                `json:"document_id,omitempty"`
		Position     int                   `json:"position,omitempty"`
		Language     string                `json:"language,omitempty"`
		Score        float64               `json:"score"`
		Rank         int                   `json:"rank"`
		Methods      map[string]jsonMethod `json:"methods"`
		MatchedTerms []string              `json:"matched_terms,omitempty"`
		Entities     []string              `json:"entities,omitempty"`
		Text         string                `json:"text,omitempty"`
	}
	type jsonResponse struct {
		RequestID       string       `json:"request_id"`
		Query           string       `json:"query"`
		Results         []jsonResult `json:"results"`
		MethodsUsed     []string     `json:"methods_used"`
		DegradedMethods []string     `json:"degraded_methods,omitempty"`
		TotalTimeMS     int64        `json:"total_time_ms"`
	}

	payload := jsonResponse{
		RequestID:       resp.RequestID,
		Query:           resp.Query,
		Results:         make([]jsonResult, 0, len(resp.Results)),
		MethodsUsed:     methodStrings(resp.MethodsUsed),
		DegradedMethods: methodStrings(resp.DegradedMethods),
		TotalTimeMS:     resp.TotalTime.Milliseconds(),
	}
	for _, r := range resp.Results {
		row := jsonResult{
			ChunkID:      r.ChunkID,
			Score:        r.RRFScore,
			Rank:         r.Rank,
			Methods:      make(map[string]jsonMethod, len(r.MethodRanks)),
			MatchedTerms: r.MatchedTerms,
			Entities:     r.Entities,
		}
		for method, rank := range r.MethodRanks {
			row.Methods[string(method)] = jsonMethod{Rank: rank, Score: r.MethodScores[method]}
		}
		if r.Chunk != nil {
			row.DocumentID = r.Chunk.DocumentID
			row.Position = r.Chunk.Position
			row.Language = r.Chunk.Language
			row.Text = r.Chunk.Text
		}
		payload.Results = append(payload.Results, row)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

// joinMethods renders a method list for display.
func joinMethods(methods []retrieval.Method) string {
	return strings.Join(methodStrings(methods), ", ")
}

func methodStrings(methods []retrieval.Method) []string {
	if len(methods) == 0 {
		return nil
	}
	names := make([]string, len(methods))
	for i, m := range methods {
		names[i] = string(m)
	}
	return names
}

// getSnippet returns the first n non-empty-trailing lines of text.
func getSnippet(text string, n int) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
