package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trirank/trirank/internal/config"
	"github.com/trirank/trirank/internal/corpus"
	"github.com/trirank/trirank/internal/dense"
	"github.com/trirank/trirank/internal/embed"
	"github.com/trirank/trirank/internal/lexical"
	"github.com/trirank/trirank/internal/logging"
	"github.com/trirank/trirank/internal/preflight"
	"github.com/trirank/trirank/internal/store"
	"github.com/trirank/trirank/internal/ui"
)

// indexOptions holds CLI flags for index.
type indexOptions struct {
	corpusDir string
	name      string
	force     bool
	noTUI     bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the retrieval indexes for a corpus",
		Long: `Build the lexical index, dense vectors, and knowledge graph for a
corpus of .jsonl record files.

The corpus directory holds one record per line: documents, chunks,
entities, relationships, mentions, and optional precomputed
embeddings. Indexes land in .trirank/ under the corpus directory
unless data_dir is configured.

Examples:
  trirank index --corpus ./handbook
  trirank index --corpus ./handbook --name "Employee Handbook"
  trirank index --corpus ./handbook --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Handle interrupts gracefully so a cancelled build leaves
			// its in-progress marker instead of a half-written index.
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runIndex(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.corpusDir, "corpus", "c", ".", "Corpus directory of .jsonl record files")
	cmd.Flags().StringVar(&opts.name, "name", "", "Corpus display name (default: directory name)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Delete existing indexes before building")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Use plain text progress output")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts indexOptions) error {
	// File-only logging keeps the progress display clean.
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	root, err := filepath.Abs(opts.corpusDir)
	if err != nil {
		return fmt.Errorf("failed to resolve corpus path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("failed to access corpus path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("corpus path is not a directory: %s", root)
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	dataDir := cfg.ResolveDataDir(root)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// One rebuild per data directory at a time, across processes.
	lock := store.NewRebuildLock(dataDir)
	acquired, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire rebuild lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("another rebuild is running for %s\nWait for it to finish or remove %s if it crashed", dataDir, lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	if opts.force {
		if err := clearIndexData(dataDir); err != nil {
			return fmt.Errorf("failed to clear existing index: %w", err)
		}
		if err := preflight.ClearMarker(dataDir); err != nil {
			slog.Warn("failed to clear preflight marker", slog.String("error", err.Error()))
		}
		slog.Info("index_cleared", slog.String("data_dir", dataDir))
	}

	// Environment checks run once per data directory; --force revalidates.
	if preflight.NeedsCheck(dataDir) {
		results := preflight.New().Run(dataDir)
		if preflight.HasCriticalFailures(results) {
			for _, r := range results {
				if r.Critical() {
					fmt.Fprintf(cmd.ErrOrStderr(), "  FAIL %s: %s\n", r.Name, r.Message)
				}
			}
			return fmt.Errorf("environment checks failed")
		}
		for _, r := range results {
			if r.Status == preflight.StatusWarn {
				slog.Warn("preflight_warning",
					slog.String("check", r.Name),
					slog.String("message", r.Message))
			}
		}
		if err := preflight.MarkPassed(dataDir); err != nil {
			slog.Warn("failed to record passed checks", slog.String("error", err.Error()))
		}
	}

	uiCfg := ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(opts.noTUI), ui.WithCorpusDir(root))
	renderer := ui.NewRenderer(uiCfg)
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}
	defer func() { _ = renderer.Stop() }()

	metadata, err := store.NewSQLiteStore(filepath.Join(dataDir, "metadata.db"))
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	analyzers, err := lexical.NewAnalyzerSet(cfg.Languages)
	if err != nil {
		return fmt.Errorf("failed to create analyzers: %w", err)
	}

	embedder := embed.New(cfg.Dense.Dimensions, cfg.Dense.CacheSize)
	defer func() { _ = embedder.Close() }()

	builder, err := corpus.NewBuilder(corpus.BuilderDependencies{
		Renderer:  renderer,
		Metadata:  metadata,
		Lexical:   lexical.NewIndex(lexical.Params{K1: cfg.BM25K1, B: cfg.BM25B}, analyzers),
		Analyzers: analyzers,
		Dense: dense.NewScorer(dense.Params{
			Dimensions: cfg.Dense.Dimensions,
			Prefilter: dense.Prefilter{
				Mode:                cfg.Dense.Prefilter,
				MinChunks:           cfg.Dense.PrefilterMinChunks,
				CandidateMultiplier: cfg.Dense.CandidateMultiplier,
			},
		}),
		Embedder:    embedder,
		TelemetryDB: metadata.DB(),
	})
	if err != nil {
		return fmt.Errorf("failed to create index builder: %w", err)
	}

	result, err := builder.Build(ctx, corpus.BuildConfig{
		CorpusDir:  root,
		DataDir:    dataDir,
		CorpusName: opts.name,
	})
	if err != nil {
		return fmt.Errorf("index build failed: %w", err)
	}

	if result.Consistency != nil && !result.Consistency.Healthy() {
		slog.Warn("index_consistency_issues", slog.String("summary", result.Consistency.Summary()))
	}
	return nil
}

// clearIndexData removes index files from the data directory, leaving
// logs and configuration alone.
func clearIndexData(dataDir string) error {
	indexFiles := []string{
		filepath.Join(dataDir, "metadata.db"),
		filepath.Join(dataDir, "metadata.db-shm"),
		filepath.Join(dataDir, "metadata.db-wal"),
		filepath.Join(dataDir, "graph.db"),
		filepath.Join(dataDir, "graph.db-shm"),
		filepath.Join(dataDir, "graph.db-wal"),
	}

	for _, path := range indexFiles {
		if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}
