package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/trirank/trirank/internal/config"
	"github.com/trirank/trirank/internal/corpus"
	"github.com/trirank/trirank/internal/kgraph"
	"github.com/trirank/trirank/internal/store"
	"github.com/trirank/trirank/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats [path]",
		Short: "Show index statistics",
		Long: `Display information about the corpus index: embedding model and
dimensions, document and chunk counts, knowledge graph size, and disk
usage.

This command helps you:
- Verify an index was built correctly
- Check which embedding model the index uses
- Compare index sizes across corpora`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runStats(cmd.Context(), cmd, path, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	cmd.AddCommand(newStatsQueriesCmd())
	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, path string, jsonOutput bool) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	root, err := config.FindCorpusRoot(absPath)
	if err != nil {
		root = absPath
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}
	dataDir := cfg.ResolveDataDir(root)
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return fmt.Errorf("no index found in %s\nRun 'trirank index --corpus %s' first", dataDir, root)
	}

	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	info, err := store.CollectIndexInfo(ctx, metadata, dataDir, root)
	if err != nil {
		return fmt.Errorf("failed to collect index info: %w", err)
	}

	// The corpus row carries the display name and entity count.
	corpusRow, err := metadata.GetCorpus(ctx, corpus.ID(root))
	if err != nil {
		corpusRow = nil
	}

	graphStats := collectGraphStats(ctx, dataDir)

	if jsonOutput {
		return outputStatsJSON(cmd, info, corpusRow, graphStats)
	}
	return outputStatsHuman(cmd, info, corpusRow, graphStats)
}

// collectGraphStats reads graph counts straight from the graph database.
// A missing or unreadable graph yields nil, not an error; the graph
// method is optional.
func collectGraphStats(ctx context.Context, dataDir string) *kgraph.Stats {
	graphPath := filepath.Join(dataDir, "graph.db")
	if !fileExists(graphPath) {
		return nil
	}
	source, err := kgraph.OpenSQLiteSource(graphPath)
	if err != nil {
		return nil
	}
	defer func() { _ = source.Close() }()

	stats, err := source.Stats(ctx)
	if err != nil {
		return nil
	}
	return stats
}

func outputStatsJSON(cmd *cobra.Command, info *store.IndexInfo, corpusRow *store.Corpus, graphStats *kgraph.Stats) error {
	payload := map[string]any{
		"location":    info.Location,
		"corpus_root": info.CorpusRoot,
		"embedding": map[string]any{
			"model":      info.IndexModel,
			"dimensions": info.IndexDimensions,
		},
		"statistics": map[string]any{
			"chunks":           info.ChunkCount,
			"documents":        info.DocumentCount,
			"entities":         info.EntityCount,
			"index_size_bytes": info.IndexSizeBytes,
		},
		"indexed_at": info.IndexedAt,
	}
	if corpusRow != nil {
		payload["corpus"] = map[string]any{
			"id":      corpusRow.ID,
			"name":    corpusRow.Name,
			"version": corpusRow.Version,
		}
	}
	if graphStats != nil {
		payload["graph"] = map[string]any{
			"entities":      graphStats.EntityCount,
			"relationships": graphStats.RelationshipCount,
			"mentions":      graphStats.MentionCount,
			"type_counts":   graphStats.TypeCounts,
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func outputStatsHuman(cmd *cobra.Command, info *store.IndexInfo, corpusRow *store.Corpus, graphStats *kgraph.Stats) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Index Information")
	fmt.Fprintln(out, "=================")
	fmt.Fprintln(out)

	if corpusRow != nil && corpusRow.Name != "" {
		fmt.Fprintf(out, "Corpus:      %s\n", corpusRow.Name)
	}
	fmt.Fprintf(out, "Root:        %s\n", info.CorpusRoot)
	fmt.Fprintf(out, "Location:    %s\n", info.Location)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Embedding Configuration:")
	if info.IndexModel != "" {
		fmt.Fprintf(out, "  Model:       %s\n", info.IndexModel)
		fmt.Fprintf(out, "  Dimensions:  %d\n", info.IndexDimensions)
	} else {
		fmt.Fprintln(out, "  (not recorded)")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Index Statistics:")
	fmt.Fprintf(out, "  Documents:   %d\n", info.DocumentCount)
	fmt.Fprintf(out, "  Chunks:      %d\n", info.ChunkCount)
	fmt.Fprintf(out, "  Entities:    %d\n", info.EntityCount)
	fmt.Fprintf(out, "  Index Size:  %s\n", store.FormatBytes(info.IndexSizeBytes))
	fmt.Fprintln(out)

	if graphStats != nil {
		fmt.Fprintln(out, "Knowledge Graph:")
		fmt.Fprintf(out, "  Entities:      %d\n", graphStats.EntityCount)
		fmt.Fprintf(out, "  Relationships: %d\n", graphStats.RelationshipCount)
		fmt.Fprintf(out, "  Mentions:      %d\n", graphStats.MentionCount)
		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "Indexed At:  %s\n", store.FormatTime(info.IndexedAt))
	return nil
}

func newStatsQueriesCmd() *cobra.Command {
	var jsonOutput bool
	var days int

	cmd := &cobra.Command{
		Use:   "queries",
		Short: "Show query pattern statistics",
		Long: `Display query telemetry recorded by search and serve:
  - Top query terms
  - Zero-result queries
  - Latency distribution
  - Per-method degradation counts`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatsQueries(cmd.Context(), cmd, jsonOutput, days)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")

	return cmd
}

// QueryStatsOutput is the JSON output format for query stats.
type QueryStatsOutput struct {
	TopTerms            []telemetry.TermCount `json:"top_terms"`
	ZeroResultQueries   []string              `json:"zero_result_queries"`
	LatencyDistribution map[string]int64      `json:"latency_distribution"`
	MethodDegradations  map[string]int64      `json:"method_degradations"`
}

func runStatsQueries(ctx context.Context, cmd *cobra.Command, jsonOutput bool, days int) error {
	root := findCorpusRoot()
	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}
	dataDir := cfg.ResolveDataDir(root)
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if !fileExists(metadataPath) {
		return fmt.Errorf("no index found in %s\nRun 'trirank index --corpus %s' first", dataDir, root)
	}

	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	metricsStore, err := telemetry.NewSQLiteMetricsStore(metadata.DB())
	if err != nil {
		return fmt.Errorf("failed to open metrics store: %w", err)
	}

	stats, err := collectQueryStats(metricsStore, days)
	if err != nil {
		return fmt.Errorf("failed to collect query stats: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	return printQueryStats(cmd, stats)
}

func collectQueryStats(metricsStore *telemetry.SQLiteMetricsStore, days int) (*QueryStatsOutput, error) {
	topTerms, err := metricsStore.GetTopTerms(10)
	if err != nil {
		return nil, fmt.Errorf("get top terms: %w", err)
	}

	zeroResults, err := metricsStore.GetZeroResultQueries(10)
	if err != nil {
		return nil, fmt.Errorf("get zero-result queries: %w", err)
	}

	to := time.Now().Format("2006-01-02")
	from := time.Now().AddDate(0, 0, -days).Format("2006-01-02")

	latencies, err := metricsStore.GetLatencyCounts(from, to)
	if err != nil {
		return nil, fmt.Errorf("get latency counts: %w", err)
	}

	degradations, err := metricsStore.GetMethodDegradations(from, to)
	if err != nil {
		return nil, fmt.Errorf("get method degradations: %w", err)
	}

	stats := &QueryStatsOutput{
		TopTerms:            topTerms,
		ZeroResultQueries:   zeroResults,
		LatencyDistribution: make(map[string]int64, len(latencies)),
		MethodDegradations:  degradations,
	}
	for bucket, count := range latencies {
		stats.LatencyDistribution[string(bucket)] = count
	}
	return stats, nil
}

func printQueryStats(cmd *cobra.Command, stats *QueryStatsOutput) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "Query Statistics")
	fmt.Fprintln(w, "================")
	fmt.Fprintln(w)

	if len(stats.TopTerms) > 0 {
		fmt.Fprintln(w, "Top Query Terms:")
		for i, tc := range stats.TopTerms {
			fmt.Fprintf(w, "  %d. %s (%d)\n", i+1, tc.Term, tc.Count)
		}
		fmt.Fprintln(w)
	} else {
		fmt.Fprintln(w, "Top Query Terms: (none recorded yet)")
		fmt.Fprintln(w)
	}

	if len(stats.ZeroResultQueries) > 0 {
		fmt.Fprintln(w, "Recent Zero-Result Queries:")
		for _, q := range stats.ZeroResultQueries {
			fmt.Fprintf(w, "  - %q\n", q)
		}
		fmt.Fprintln(w)
	} else {
		fmt.Fprintln(w, "Recent Zero-Result Queries: (none)")
		fmt.Fprintln(w)
	}

	if len(stats.LatencyDistribution) > 0 {
		fmt.Fprintln(w, "Latency Distribution:")
		buckets := []telemetry.LatencyBucket{
			telemetry.BucketP10, telemetry.BucketP50, telemetry.BucketP100,
			telemetry.BucketP500, telemetry.BucketP1000,
		}
		labels := map[telemetry.LatencyBucket]string{
			telemetry.BucketP10:   "<10ms",
			telemetry.BucketP50:   "10-50ms",
			telemetry.BucketP100:  "50-100ms",
			telemetry.BucketP500:  "100-500ms",
			telemetry.BucketP1000: ">500ms",
		}
		for _, b := range buckets {
			if count, ok := stats.LatencyDistribution[string(b)]; ok {
				fmt.Fprintf(w, "  %s: %d\n", labels[b], count)
			}
		}
		fmt.Fprintln(w)
	}

	if len(stats.MethodDegradations) > 0 {
		fmt.Fprintln(w, "Method Degradations:")
		for method, count := range stats.MethodDegradations {
			fmt.Fprintf(w, "  %s: %d\n", method, count)
		}
	}

	return nil
}
