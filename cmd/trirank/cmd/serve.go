package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/trirank/trirank/internal/async"
	"github.com/trirank/trirank/internal/config"
	"github.com/trirank/trirank/internal/corpus"
	"github.com/trirank/trirank/internal/logging"
	"github.com/trirank/trirank/internal/mcp"
	"github.com/trirank/trirank/internal/store"
	"github.com/trirank/trirank/internal/validation"
)

// serveOptions holds CLI flags for serve.
type serveOptions struct {
	transport    string
	noWatch      bool
	forceRebuild bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol server over stdio.

The server exposes query, stats, and health tools plus document and
chunk resources to MCP clients. While serving, it watches the corpus
directory and rebuilds the indexes in the background when records
change; queries keep answering from the previous snapshot until the
new one commits.

The MCP protocol owns stdout, so all logging goes to
~/.trirank/logs/. Use 'trirank logs -f' to follow it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "stdio", "Server transport (stdio)")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "Disable corpus file watching")
	cmd.Flags().BoolVar(&opts.forceRebuild, "reindex", false, "Rebuild the index at startup even if one exists")

	return cmd
}

// runServe wires the retrieval stack, the background rebuilder, and the
// MCP server together and blocks until the client disconnects or a
// signal arrives. Nothing may write to stdout before the MCP server
// starts: stdout is the JSON-RPC channel.
func runServe(ctx context.Context, opts serveOptions) error {
	if opts.transport != "" && opts.transport != "stdio" {
		return fmt.Errorf("unsupported transport %q (only stdio is supported)", opts.transport)
	}
	if err := verifyStdinForMCP(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := findCorpusRoot()

	// File-only logging goes up before the stack so nothing touches
	// stdout, which carries the protocol.
	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}
	if cleanup, err := logging.SetupServeMode(cfg.LogLevel); err == nil {
		defer cleanup()
	} else {
		slog.Warn("file logging unavailable", slog.String("error", err.Error()))
	}

	st, err := openServeStack(ctx, root)
	if err != nil {
		return err
	}
	defer st.Close()

	server, err := mcp.NewServer(mcp.ServerConfig{
		Engine:     st.engine,
		Metadata:   st.metadata,
		Lexical:    st.lexical,
		Dense:      st.dense,
		Graph:      st.graph,
		Embedder:   st.embedder,
		Config:     st.cfg,
		Metrics:    st.metrics,
		DataDir:    st.dataDir,
		CorpusRoot: root,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	if err := server.RegisterResources(ctx); err != nil {
		slog.Warn("mcp_resource_registration_failed", slog.String("error", err.Error()))
	}

	rebuilder, err := newServeRebuilder(ctx, st, server)
	if err != nil {
		return err
	}
	defer rebuilder.Stop()
	server.SetRebuildProgress(rebuilder.Progress())

	batches := startWatcher(ctx, st, opts.noWatch)

	go func() {
		if err := rebuilder.Run(ctx, batches); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("rebuilder_stopped", slog.String("error", err.Error()))
		}
	}()

	if needsInitialBuild(ctx, st, opts.forceRebuild) {
		rebuilder.Trigger()
	}

	return server.Serve(ctx, opts.transport)
}

// openServeStack opens the stack, creating an empty index when none
// exists yet. The initial build fills it in the background.
func openServeStack(ctx context.Context, root string) (*searchStack, error) {
	return openStack(ctx, root, stackOptions{CreateMissing: true})
}

// newServeRebuilder builds the background rebuilder around the serve
// stack. Each build rewrites the injected lexical index and dense scorer
// in place; their snapshots swap atomically under live queries. The
// graph swaps through OnComplete because its source is replaced rather
// than mutated.
func newServeRebuilder(ctx context.Context, st *searchStack, server *mcp.Server) (*async.Rebuilder, error) {
	lock := store.NewRebuildLock(st.dataDir)

	// The builder is constructed per build because its renderer is the
	// rebuilder's own progress tracker, which does not exist yet.
	var rebuilder *async.Rebuilder
	build := func(buildCtx context.Context) (*corpus.BuildResult, error) {
		acquired, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire rebuild lock: %w", err)
		}
		if !acquired {
			return nil, fmt.Errorf("another rebuild holds the lock at %s", lock.Path())
		}
		defer func() { _ = lock.Unlock() }()

		builder, err := corpus.NewBuilder(corpus.BuilderDependencies{
			Renderer:    rebuilder.Progress(),
			Metadata:    st.metadata,
			Lexical:     st.lexical,
			Analyzers:   st.analyzers,
			Dense:       st.dense,
			Embedder:    st.embedder,
			TelemetryDB: st.metadata.DB(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create index builder: %w", err)
		}

		return builder.Build(buildCtx, corpus.BuildConfig{
			CorpusDir: st.root,
			DataDir:   st.dataDir,
		})
	}

	rebuilder, err := async.NewRebuilder(async.RebuilderConfig{
		DataDir: st.dataDir,
		Build:   build,
		OnComplete: func(result *corpus.BuildResult) {
			st.swapGraphSource(result.GraphSource)
			server.SetGraphSource(st.graph)
			if err := server.RegisterResources(ctx); err != nil {
				slog.Warn("mcp_resource_refresh_failed", slog.String("error", err.Error()))
			}
		},
		OnConfigChange: func(path string) {
			slog.Info("config_file_changed_restart_to_apply", slog.String("path", path))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rebuilder: %w", err)
	}

	return rebuilder, nil
}

// startWatcher starts corpus watching in the background and returns the
// batch channel, nil when watching is off or unavailable. Watcher setup
// walks the corpus tree, so it must not block MCP startup.
func startWatcher(ctx context.Context, st *searchStack, noWatch bool) <-chan []corpus.ChangeEvent {
	if noWatch {
		slog.Info("corpus_watch_disabled")
		return nil
	}

	watchOpts := corpus.DefaultWatchOptions()
	if d, err := time.ParseDuration(st.cfg.Performance.WatchDebounce); err == nil && d > 0 {
		watchOpts.DebounceWindow = d
	}

	watcher, err := corpus.NewWatcher(watchOpts)
	if err != nil {
		slog.Warn("corpus watcher unavailable, continuing without live rebuilds",
			slog.String("error", err.Error()))
		return nil
	}

	// Start blocks for the watcher's lifetime and shuts itself down
	// when ctx is cancelled.
	slog.Info("corpus_watch_starting",
		slog.String("root", st.root),
		slog.String("mode", watcher.Mode()))
	go func() {
		if err := watcher.Start(ctx, st.root); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("corpus_watch_stopped", slog.String("error", err.Error()))
		}
	}()
	go func() {
		for err := range watcher.Errors() {
			slog.Warn("corpus_watch_error", slog.String("error", err.Error()))
		}
	}()

	return watcher.Events()
}

// needsInitialBuild decides whether serve should rebuild before relying
// on the opened index: forced, empty, torn by an interrupted build, or
// failing the cross-index spot check.
func needsInitialBuild(ctx context.Context, st *searchStack, force bool) bool {
	if force {
		slog.Info("initial_rebuild_forced")
		return true
	}
	if async.HasInterruptedBuild(st.dataDir) {
		slog.Warn("previous build was interrupted, rebuilding")
		return true
	}

	count, err := st.metadata.CountChunks(ctx)
	if err != nil || count == 0 {
		slog.Info("index_empty_building", slog.Int("chunks", count))
		return true
	}

	checker, err := validation.NewChecker(st.metadata, st.lexical, st.dense)
	if err != nil {
		return false
	}
	ok, err := checker.QuickCheck(ctx)
	if err != nil || !ok {
		slog.Warn("index spot check failed, rebuilding",
			slog.Bool("consistent", ok))
		return true
	}
	return false
}

// verifyStdinForMCP rejects interactive terminals. The stdio transport
// expects an MCP client on the other end of the pipe; a human at a
// terminal gets a hint instead of a silent hang.
func verifyStdinForMCP() error {
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return fmt.Errorf("stdin is a terminal, but serve speaks MCP over stdio and expects a client pipe\n" +
			"Configure trirank in your MCP host, or use 'trirank search <query>' for interactive queries")
	}
	return nil
}
