package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/trirank/trirank/internal/async"
	"github.com/trirank/trirank/internal/config"
	"github.com/trirank/trirank/internal/dense"
	"github.com/trirank/trirank/internal/embed"
	"github.com/trirank/trirank/internal/kgraph"
	"github.com/trirank/trirank/internal/lexical"
	"github.com/trirank/trirank/internal/retrieval"
	"github.com/trirank/trirank/internal/store"
	"github.com/trirank/trirank/internal/telemetry"
	"github.com/trirank/trirank/pkg/version"
)

// serverName identifies this server to MCP clients.
const serverName = "TriRank"

// Server implements the MCP server exposing TriRank retrieval to AI clients.
// It wraps the retrieval engine for queries and reads the individual indexes
// directly for stats and health, so diagnostics work even when a method is
// degraded.
type Server struct {
	mcp      *mcp.Server
	engine   *retrieval.Engine
	metadata store.MetadataStore
	lexical  *lexical.Index
	dense    *dense.Scorer
	embedder embed.Embedder
	config   *config.Config
	metrics  *telemetry.QueryMetrics

	dataDir    string
	corpusRoot string
	started    time.Time

	// graph and rebuild are swapped at runtime by serve mode.
	mu      sync.RWMutex
	graph   kgraph.Source
	rebuild *async.RebuildProgress

	// document resources currently listed, and the URIs ever handed to
	// the SDK. The SDK registration is append-only, so re-registration
	// after a rebuild only adds URIs it has not seen.
	resources  []ResourceInfo
	registered map[string]bool
}

// ServerConfig carries the dependencies for NewServer. Engine, Metadata,
// Lexical, and Dense are required. Graph may be nil when the graph method
// is disabled, Embedder may be nil when only precomputed vectors exist,
// and Metrics may be nil when telemetry is off.
type ServerConfig struct {
	Engine   *retrieval.Engine
	Metadata store.MetadataStore
	Lexical  *lexical.Index
	Dense    *dense.Scorer
	Graph    kgraph.Source
	Embedder embed.Embedder
	Config   *config.Config
	Metrics  *telemetry.QueryMetrics

	// DataDir is the index directory, CorpusRoot the indexed tree.
	// Both feed the stats tool.
	DataDir    string
	CorpusRoot string
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// ResourceInfo contains information about a resource.
type ResourceInfo struct {
	URI      string
	Name     string
	MIMEType string
}

// ResourceContent contains the content of a resource.
type ResourceContent struct {
	URI      string
	Content  string
	MIMEType string
}

// NewServer creates a new MCP server and registers its tools.
func NewServer(sc ServerConfig) (*Server, error) {
	if sc.Engine == nil {
		return nil, errors.New("retrieval engine is required")
	}
	if sc.Metadata == nil {
		return nil, errors.New("metadata store is required")
	}
	if sc.Lexical == nil {
		return nil, errors.New("lexical index is required")
	}
	if sc.Dense == nil {
		return nil, errors.New("dense scorer is required")
	}
	cfg := sc.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		engine:     sc.Engine,
		metadata:   sc.Metadata,
		lexical:    sc.Lexical,
		dense:      sc.Dense,
		graph:      sc.Graph,
		embedder:   sc.Embedder, // May be nil - stats reports it as unavailable
		config:     cfg,
		metrics:    sc.Metrics,
		dataDir:    sc.DataDir,
		corpusRoot: sc.CorpusRoot,
		started:    time.Now(),
		registered: make(map[string]bool),
	}

	// Create MCP server with implementation info
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version.Version,
		},
		nil, // ServerOptions - capabilities are inferred from registered tools/resources
	)

	s.registerTools()
	if s.metrics != nil {
		s.registerQueryMetricsResource()
	}

	return s, nil
}

// SetRebuildProgress attaches the background rebuild tracker used by serve
// mode. The health tool reports its snapshot so clients can tell a stale
// answer from a failing one.
func (s *Server) SetRebuildProgress(progress *async.RebuildProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuild = progress
}

// SetGraphSource swaps the graph source read by the stats and health tools.
// Serve mode calls this after a background rebuild, alongside the scorer and
// extractor swaps, so every reader sees the same generation.
func (s *Server) SetGraphSource(src kgraph.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph = src
}

// graphSource returns the current graph source, nil when disabled.
func (s *Server) graphSource() kgraph.Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph
}

// rebuildProgress returns the rebuild tracker, nil outside serve mode.
func (s *Server) rebuildProgress() *async.RebuildProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rebuild
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return serverName, version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{Name: "query", Description: queryToolDescription},
		{Name: "stats", Description: statsToolDescription},
		{Name: "health", Description: healthToolDescription},
	}
}

// registerTools registers the typed tool handlers with the MCP SDK.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query",
		Description: queryToolDescription,
	}, s.mcpQueryHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "stats",
		Description: statsToolDescription,
	}, s.mcpStatsHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "health",
		Description: healthToolDescription,
	}, s.mcpHealthHandler)

	slog.Info("mcp_tools_registered", slog.Int("count", 3))
}

// Serve runs the MCP server until the context is canceled. Only the stdio
// transport is supported; MCP clients spawn the server as a subprocess.
func (s *Server) Serve(ctx context.Context, transport string) error {
	switch transport {
	case "stdio", "":
		slog.Info("mcp_server_started",
			slog.String("name", serverName),
			slog.String("version", version.Version),
			slog.String("transport", "stdio"))
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported transport %q (only stdio is supported)", transport)
	}
}
