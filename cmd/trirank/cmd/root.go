// Package cmd provides the CLI commands for TriRank.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/trirank/trirank/internal/logging"
	"github.com/trirank/trirank/internal/profiling"
	"github.com/trirank/trirank/pkg/version"
)

// Profiling flags
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profSession  *profiling.Session
)

// Debug logging flag
var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the trirank CLI.
func NewRootCmd() *cobra.Command {
	var reindex bool
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "trirank",
		Short: "Hybrid retrieval over text corpora",
		Long: `TriRank answers text queries by fusing three retrieval methods:
BM25 lexical scoring, late-interaction dense scoring, and knowledge
graph entity proximity. Method results merge with Reciprocal Rank
Fusion, so a chunk ranked well by any method surfaces.

Run 'trirank index --corpus <dir>' to index a corpus of .jsonl
records, then 'trirank search <query>' to query it from the shell or
'trirank serve' to expose it to MCP clients over stdio.

Running 'trirank' with no arguments starts the MCP server directly,
building the index first if none exists.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			// Default mode speaks MCP on stdout, so nothing may be
			// printed before the server starts.
			return runServe(cmd.Context(), serveOptions{
				transport:    "stdio",
				noWatch:      noWatch,
				forceRebuild: reindex,
			})
		},
	}

	cmd.SetVersionTemplate("trirank version {{.Version}}\n")

	// Root flags for the default serve mode
	cmd.Flags().BoolVar(&reindex, "reindex", false, "Rebuild the index at startup even if one exists")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Disable corpus file watching")

	// Profiling flags
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	// Debug logging flag
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.trirank/logs/")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging starts profiling and debug logging if flags are set.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}

	opts := profiling.Options{
		CPUPath:   profileCPU,
		HeapPath:  profileMem,
		TracePath: profileTrace,
	}
	if opts.Enabled() {
		session, err := profiling.Start(opts)
		if err != nil {
			return fmt.Errorf("failed to start profiling: %w", err)
		}
		profSession = session
	}

	return nil
}

// stopProfilingAndLogging flushes profiles and closes the debug log.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if profSession != nil {
		if err := profSession.Stop(); err != nil {
			return fmt.Errorf("failed to stop profiling: %w", err)
		}
		profSession = nil
	}

	if loggingCleanup != nil {
		slog.Info("debug logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}

	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
