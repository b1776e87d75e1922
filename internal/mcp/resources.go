package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/trirank/trirank/internal/store"
)

// MaxResourceSize is the maximum content size for a resource read (1MB).
const MaxResourceSize = 1024 * 1024

// Resource URI prefixes. Documents and chunks come from the metadata
// store, not the filesystem, so the content a client reads is exactly
// what the engine retrieves against.
const (
	documentURIPrefix = "trirank://document/"
	chunkURIPrefix    = "trirank://chunk/"
	queryMetricsURI   = "trirank://metrics/queries"
)

// RegisterResources registers every indexed document as an MCP resource.
// Call after the index is loaded; serve mode calls it again after a
// background rebuild picks up new documents. A document that vanished
// from the corpus stays registered with the SDK but reads as not found.
func (s *Server) RegisterResources(ctx context.Context) error {
	docs, err := s.metadata.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	s.mu.Lock()
	s.resources = s.resources[:0]
	s.mu.Unlock()

	for _, doc := range docs {
		s.registerDocumentResource(doc)
	}

	slog.Info("mcp_resources_registered", slog.Int("documents", len(docs)))
	return nil
}

// ListResources returns the current document resources, plus the query
// metrics resource when telemetry is on.
func (s *Server) ListResources(_ context.Context) []ResourceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ResourceInfo, 0, len(s.resources)+1)
	out = append(out, s.resources...)
	if s.metrics != nil {
		out = append(out, ResourceInfo{
			URI:      queryMetricsURI,
			Name:     "query_metrics",
			MIMEType: "application/json",
		})
	}
	return out
}

// ReadResource reads a resource by URI. It accepts document and chunk URIs
// even for chunks that were never individually registered, so clients can
// follow a query result's chunk_id straight to its full text.
func (s *Server) ReadResource(ctx context.Context, uri string) (*ResourceContent, error) {
	switch {
	case uri == queryMetricsURI:
		content, err := s.queryMetricsJSON()
		if err != nil {
			return nil, err
		}
		return &ResourceContent{URI: uri, Content: content, MIMEType: "application/json"}, nil

	case strings.HasPrefix(uri, documentURIPrefix):
		docID := strings.TrimPrefix(uri, documentURIPrefix)
		content, mimeType, err := s.readDocumentContent(ctx, docID)
		if err != nil {
			return nil, err
		}
		return &ResourceContent{URI: uri, Content: content, MIMEType: mimeType}, nil

	case strings.HasPrefix(uri, chunkURIPrefix):
		chunkID := strings.TrimPrefix(uri, chunkURIPrefix)
		chunk, err := s.metadata.GetChunk(ctx, chunkID)
		if err != nil {
			return nil, MapError(err)
		}
		if chunk == nil {
			return nil, NewResourceNotFoundError(uri)
		}
		return &ResourceContent{URI: uri, Content: chunk.Text, MIMEType: "text/plain"}, nil

	default:
		return nil, NewResourceNotFoundError(uri)
	}
}

// registerDocumentResource registers one document with the MCP SDK and
// records it for ListResources.
func (s *Server) registerDocumentResource(doc *store.Document) {
	uri := documentURIPrefix + doc.ID
	name := doc.Title
	if name == "" {
		name = filepath.Base(doc.Path)
	}
	mimeType := mimeForPath(doc.Path)

	s.mu.Lock()
	firstSeen := !s.registered[uri]
	s.registered[uri] = true
	s.resources = append(s.resources, ResourceInfo{URI: uri, Name: name, MIMEType: mimeType})
	s.mu.Unlock()

	if firstSeen {
		s.mcp.AddResource(
			&mcp.Resource{
				Name:        name,
				URI:         uri,
				Description: fmt.Sprintf("%s (%d chunks)", doc.Path, doc.ChunkCount),
				MIMEType:    mimeType,
			},
			s.makeDocumentHandler(doc.ID),
		)
	}
}

// makeDocumentHandler creates an SDK read handler for one document.
func (s *Server) makeDocumentHandler(docID string) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		uri := documentURIPrefix + docID
		content, mimeType, err := s.readDocumentContent(ctx, docID)
		if err != nil {
			return nil, err
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{URI: uri, MIMEType: mimeType, Text: content},
			},
		}, nil
	}
}

// readDocumentContent reassembles a document from its stored chunks, in
// position order.
func (s *Server) readDocumentContent(ctx context.Context, docID string) (content, mimeType string, err error) {
	doc, err := s.metadata.GetDocument(ctx, docID)
	if err != nil {
		return "", "", MapError(err)
	}
	if doc == nil {
		return "", "", NewResourceNotFoundError(documentURIPrefix + docID)
	}

	chunks, err := s.metadata.GetChunksByDocument(ctx, docID)
	if err != nil {
		return "", "", MapError(err)
	}

	var b strings.Builder
	for i, chunk := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(chunk.Text)
		if b.Len() > MaxResourceSize {
			return "", "", &MCPError{
				Code:    ErrCodeInvalidRequest,
				Message: fmt.Sprintf("document %s exceeds the %d byte resource limit", docID, MaxResourceSize),
			}
		}
	}

	return b.String(), mimeForPath(doc.Path), nil
}

// registerQueryMetricsResource registers the query telemetry resource.
func (s *Server) registerQueryMetricsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "query_metrics",
			URI:         queryMetricsURI,
			Description: "Query pattern telemetry: volumes, degradations, repeats, latency buckets",
			MIMEType:    "application/json",
		},
		s.makeQueryMetricsHandler(),
	)
}

// makeQueryMetricsHandler creates the SDK read handler for query metrics.
func (s *Server) makeQueryMetricsHandler() mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		content, err := s.queryMetricsJSON()
		if err != nil {
			return nil, err
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{URI: queryMetricsURI, MIMEType: "application/json", Text: content},
			},
		}, nil
	}
}

// queryMetricsJSON renders the telemetry snapshot. The snapshot struct
// carries its own JSON tags, so it is the wire format.
func (s *Server) queryMetricsJSON() (string, error) {
	if s.metrics == nil {
		return "", NewResourceNotFoundError(queryMetricsURI)
	}
	snap := s.metrics.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", MapError(err)
	}
	return string(data), nil
}

// mimeForPath maps a document path to its MIME type. The corpus carries
// prose, so everything is text.
func mimeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return "text/markdown"
	default:
		return "text/plain"
	}
}
