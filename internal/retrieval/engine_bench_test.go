package retrieval

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/trirank/trirank/internal/dense"
	"github.com/trirank/trirank/internal/embed"
	"github.com/trirank/trirank/internal/lexical"
	"github.com/trirank/trirank/internal/store"
)

// BenchmarkEngineRetrieve_Scale measures full retrieval latency against real
// lexical and dense components at increasing corpus sizes.
func BenchmarkEngineRetrieve_Scale(b *testing.B) {
	scales := []int{100, 1000, 5000}

	for _, scale := range scales {
		b.Run(fmt.Sprintf("chunks_%d", scale), func(b *testing.B) {
			engine, cleanup := newBenchEngine(b, scale)
			defer cleanup()

			ctx := context.Background()
			queries := benchQueries()

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				query := queries[i%len(queries)]
				if _, err := engine.Retrieve(ctx, query, RetrieveOptions{TopK: 20}); err != nil {
					b.Fatalf("retrieve failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkEngineRetrieve_Parallel measures throughput under concurrent
// callers sharing one engine, the shape an MCP server produces.
func BenchmarkEngineRetrieve_Parallel(b *testing.B) {
	engine, cleanup := newBenchEngine(b, 1000)
	defer cleanup()

	ctx := context.Background()
	queries := benchQueries()

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			query := queries[i%len(queries)]
			if _, err := engine.Retrieve(ctx, query, RetrieveOptions{TopK: 20}); err != nil {
				b.Fatalf("retrieve failed: %v", err)
			}
			i++
		}
	})
}

// BenchmarkEngine_Enrich measures hydrating fused rankings back into full
// results, the per-query hot path between fusion and the response.
func BenchmarkEngine_Enrich(b *testing.B) {
	resultCounts := []int{10, 20, 50, 100}

	for _, count := range resultCounts {
		b.Run(fmt.Sprintf("results_%d", count), func(b *testing.B) {
			engine, cleanup := newBenchEngine(b, count*10)
			defer cleanup()

			fused := make([]FusedResult, count)
			for i := range fused {
				fused[i] = FusedResult{
					ChunkID:  fmt.Sprintf("chunk-%d", i),
					RRFScore: 0.5 - float64(i)*0.001,
					Rank:     i + 1,
					MethodScores: map[Method]float64{
						MethodLexical: 8.0 - float64(i)*0.05,
						MethodDense:   0.9 - float64(i)*0.005,
					},
					MethodRanks: map[Method]int{
						MethodLexical: i + 1,
						MethodDense:   i + 1,
					},
					MatchedTerms: []string{"solar", "inverter"},
				}
			}

			ctx := context.Background()
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				_ = engine.enrich(ctx, fused)
			}
		})
	}
}

// BenchmarkFuser_Fuse measures reciprocal rank fusion over three overlapping
// method rankings.
func BenchmarkFuser_Fuse(b *testing.B) {
	listSizes := []int{10, 50, 100, 500}

	for _, size := range listSizes {
		b.Run(fmt.Sprintf("items_%d", size), func(b *testing.B) {
			lists := benchRankedLists(size)
			fuser := NewFuser()

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if _, err := fuser.Fuse(lists); err != nil {
					b.Fatalf("fuse failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkLexicalRebuild_Throughput measures inverted-index build speed,
// reported as chunks per second.
func BenchmarkLexicalRebuild_Throughput(b *testing.B) {
	chunkCounts := []int{100, 500, 1000}

	for _, count := range chunkCounts {
		b.Run(fmt.Sprintf("chunks_%d", count), func(b *testing.B) {
			chunks := benchChunks(count)
			analyzers, err := lexical.NewAnalyzerSet([]string{"en"})
			if err != nil {
				b.Fatalf("analyzers: %v", err)
			}

			ctx := context.Background()
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				index := lexical.NewIndex(lexical.DefaultParams(), analyzers)
				if _, err := index.Rebuild(ctx, chunks); err != nil {
					b.Fatalf("rebuild failed: %v", err)
				}
			}

			b.ReportMetric(float64(count*b.N)/b.Elapsed().Seconds(), "chunks/sec")
		})
	}
}

// newBenchEngine assembles the same real stack the unit tests use, scaled to
// numChunks synthetic chunks.
func newBenchEngine(b *testing.B, numChunks int) (*Engine, func()) {
	b.Helper()
	ctx := context.Background()
	chunks := benchChunks(numChunks)

	meta, err := store.NewSQLiteStore(filepath.Join(b.TempDir(), "meta.db"))
	if err != nil {
		b.Fatalf("metadata store: %v", err)
	}

	docs := benchDocuments(chunks)
	if err := meta.SaveDocuments(ctx, docs); err != nil {
		b.Fatalf("save documents: %v", err)
	}
	if err := meta.SaveChunks(ctx, chunks); err != nil {
		b.Fatalf("save chunks: %v", err)
	}

	analyzers, err := lexical.NewAnalyzerSet([]string{"en"})
	if err != nil {
		b.Fatalf("analyzers: %v", err)
	}
	lex := lexical.NewIndex(lexical.DefaultParams(), analyzers)
	if _, err := lex.Rebuild(ctx, chunks); err != nil {
		b.Fatalf("lexical rebuild: %v", err)
	}

	embedder := embed.NewStaticEmbedder(64)
	den := dense.NewScorer(dense.Params{Dimensions: 64})
	for _, chunk := range chunks {
		matrix, err := embedder.EmbedTokens(ctx, chunk.Text)
		if err != nil {
			b.Fatalf("embed: %v", err)
		}
		if err := den.Index(chunk.ID, matrix); err != nil {
			b.Fatalf("dense index: %v", err)
		}
	}
	if _, err := den.Commit(ctx); err != nil {
		b.Fatalf("dense commit: %v", err)
	}

	cfg := EngineConfig{
		PerMethodTimeout: 2 * time.Second,
		GlobalDeadline:   5 * time.Second,
	}
	engine, err := NewEngine(lex, den, embedder, meta, cfg)
	if err != nil {
		b.Fatalf("engine: %v", err)
	}

	return engine, func() { _ = meta.Close() }
}

var benchVocabulary = []string{
	"solar", "panel", "inverter", "battery", "grid", "rooftop", "array",
	"voltage", "current", "alternating", "direct", "storage", "surplus",
	"export", "meter", "tariff", "installation", "module", "string",
	"charge", "controller", "peak", "demand", "feed", "capacity",
	"degradation", "efficiency", "irradiance", "tilt", "azimuth",
}

// benchChunks generates deterministic synthetic chunks from a small
// energy-domain vocabulary so lexical and dense scores stay non-trivial.
func benchChunks(n int) []*store.Chunk {
	r := rand.New(rand.NewSource(42))
	chunks := make([]*store.Chunk, n)
	for i := range chunks {
		words := make([]string, 12)
		for j := range words {
			words[j] = benchVocabulary[r.Intn(len(benchVocabulary))]
		}
		text := ""
		for j, w := range words {
			if j > 0 {
				text += " "
			}
			text += w
		}
		chunks[i] = &store.Chunk{
			ID:         fmt.Sprintf("chunk-%d", i),
			DocumentID: fmt.Sprintf("doc-%d", i/50),
			Language:   "en",
			Position:   i % 50,
			Text:       text + ".",
		}
	}
	return chunks
}

// benchDocuments derives one document record per 50 chunks.
func benchDocuments(chunks []*store.Chunk) []*store.Document {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, chunk := range chunks {
		if _, seen := counts[chunk.DocumentID]; !seen {
			order = append(order, chunk.DocumentID)
		}
		counts[chunk.DocumentID]++
	}
	docs := make([]*store.Document, 0, len(order))
	for i, id := range order {
		docs = append(docs, &store.Document{
			ID:          id,
			Path:        fmt.Sprintf("docs/guide-%d.md", i),
			Title:       fmt.Sprintf("Guide %d", i),
			Language:    "en",
			ContentHash: fmt.Sprintf("hash-%d", i),
			ChunkCount:  counts[id],
		})
	}
	return docs
}

func benchQueries() []string {
	return []string{
		"solar panel efficiency",
		"inverter direct current",
		"battery storage capacity",
		"grid export surplus",
		"rooftop installation tilt",
		"charge controller voltage",
		"peak demand tariff",
		"module degradation irradiance",
	}
}

// benchRankedLists builds three method rankings with partial overlap, the
// shape the coordinator hands to fusion.
func benchRankedLists(size int) []RankedList {
	lexItems := make([]RankedItem, size)
	denseItems := make([]RankedItem, size)
	graphItems := make([]RankedItem, size/2)
	for i := 0; i < size; i++ {
		lexItems[i] = RankedItem{
			ChunkID:      fmt.Sprintf("chunk-%d", i),
			Score:        20.0 - float64(i)*0.01,
			MatchedTerms: []string{"solar"},
		}
		denseItems[i] = RankedItem{
			ChunkID: fmt.Sprintf("chunk-%d", i+size/3),
			Score:   0.95 - float64(i)*0.001,
		}
	}
	for i := range graphItems {
		graphItems[i] = RankedItem{
			ChunkID:  fmt.Sprintf("chunk-%d", i*2),
			Score:    0.9 - float64(i)*0.002,
			Entities: []string{"Solar Panel"},
		}
	}
	return []RankedList{
		{Method: MethodLexical, Items: lexItems},
		{Method: MethodDense, Items: denseItems},
		{Method: MethodGraph, Items: graphItems},
	}
}
