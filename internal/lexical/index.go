package lexical

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"

	"github.com/trirank/trirank/internal/errors"
	"github.com/trirank/trirank/internal/store"
)

// Params holds the BM25 tuning parameters.
type Params struct {
	K1 float64
	B  float64
}

// DefaultParams returns the standard BM25 parameters.
func DefaultParams() Params {
	return Params{K1: 1.5, B: 0.75}
}

// Result is one scored chunk from a lexical search.
type Result struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// SkippedChunk records a chunk a rebuild could not index.
type SkippedChunk struct {
	ChunkID string
	Reason  string
}

// BuildReport summarizes a rebuild: what went in and what was skipped.
type BuildReport struct {
	Indexed int
	Terms   int
	Skipped []SkippedChunk
}

// posting is one (chunk, term frequency) pair in a term's posting list.
// The doc field indexes into the snapshot's id-sorted chunk table.
type posting struct {
	doc int32
	tf  int32
}

// snapshot is one immutable build of the inverted index. Chunk ids are
// sorted ascending, so posting lists and tie-breaks both follow chunk id
// order by construction.
type snapshot struct {
	ids      []string
	lens     []int
	postings map[string][]posting
	avgdl    float64
	n        int
}

// Index is the BM25 inverted index. Readers score against an immutable
// snapshot loaded through an atomic pointer; Rebuild assembles the next
// snapshot off to the side and swaps it in, so a search racing a rebuild
// sees either the old corpus or the new one, never a mix.
type Index struct {
	params    Params
	analyzers *AnalyzerSet
	snap      atomic.Pointer[snapshot]
}

// NewIndex creates an empty index. Search before the first Rebuild fails
// with NotIndexed. Out-of-range params fall back to the defaults; b=0 is
// in range (length normalization off).
func NewIndex(params Params, analyzers *AnalyzerSet) *Index {
	if params.K1 <= 0 {
		params.K1 = DefaultParams().K1
	}
	if params.B < 0 || params.B > 1 {
		params.B = DefaultParams().B
	}
	return &Index{params: params, analyzers: analyzers}
}

// Rebuild analyzes the chunks and swaps in a fresh snapshot. A chunk whose
// language has no configured analyzer, or whose id repeats an earlier
// chunk's, is skipped and reported rather than aborting the build. The same
// chunk set always produces the same snapshot.
func (ix *Index) Rebuild(ctx context.Context, chunks []*store.Chunk) (*BuildReport, error) {
	report := &BuildReport{}

	type analyzedChunk struct {
		id     string
		tokens []string
	}

	seen := make(map[string]struct{}, len(chunks))
	kept := make([]analyzedChunk, 0, len(chunks))
	for i, chunk := range chunks {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		if _, dup := seen[chunk.ID]; dup {
			report.Skipped = append(report.Skipped, SkippedChunk{ChunkID: chunk.ID, Reason: "duplicate chunk id"})
			slog.Warn("lexical_chunk_skipped",
				slog.String("chunk_id", chunk.ID),
				slog.String("reason", "duplicate chunk id"))
			continue
		}

		analyzer, err := ix.analyzers.For(chunk.Language)
		if err != nil {
			report.Skipped = append(report.Skipped, SkippedChunk{ChunkID: chunk.ID, Reason: err.Error()})
			slog.Warn("lexical_chunk_skipped",
				slog.String("chunk_id", chunk.ID),
				slog.String("reason", err.Error()))
			continue
		}

		seen[chunk.ID] = struct{}{}
		kept = append(kept, analyzedChunk{id: chunk.ID, tokens: analyzer.Analyze(chunk.Text)})
	}

	// Chunk ids ascending: posting doc indexes then follow id order, which
	// is what the tie-break in Search compares.
	sort.Slice(kept, func(i, j int) bool { return kept[i].id < kept[j].id })

	snap := &snapshot{
		ids:      make([]string, len(kept)),
		lens:     make([]int, len(kept)),
		postings: make(map[string][]posting),
		n:        len(kept),
	}

	var totalTokens int
	for i, doc := range kept {
		snap.ids[i] = doc.id
		snap.lens[i] = len(doc.tokens)
		totalTokens += len(doc.tokens)

		tf := make(map[string]int32, len(doc.tokens))
		for _, term := range doc.tokens {
			tf[term]++
		}
		for term, count := range tf {
			snap.postings[term] = append(snap.postings[term], posting{doc: int32(i), tf: count})
		}
	}
	if snap.n > 0 {
		snap.avgdl = float64(totalTokens) / float64(snap.n)
	}

	ix.snap.Store(snap)

	report.Indexed = snap.n
	report.Terms = len(snap.postings)
	slog.Debug("lexical_index_rebuilt",
		slog.Int("chunks", report.Indexed),
		slog.Int("terms", report.Terms),
		slog.Int("skipped", len(report.Skipped)))
	return report, nil
}

// Search scores chunks against the query tokens and returns the top k.
//
// Per query term: IDF = ln((N - df + 0.5)/(df + 0.5) + 1). Per matching
// chunk: TF = (f*(k1+1)) / (f + k1*(1 - b + b*|D|/avgdl)). A chunk's score
// sums IDF*TF over the query terms; a term listed twice in the query
// contributes twice. With the +1 inside the logarithm the IDF is
// non-negative for every df <= N, so no clamping is applied.
//
// Ties order by chunk id ascending. Searching before the first Rebuild
// fails with NotIndexed; empty query tokens return an empty result.
func (ix *Index) Search(ctx context.Context, queryTokens []string, topK int) ([]Result, error) {
	snap := ix.snap.Load()
	if snap == nil {
		return nil, errors.NotIndexed("lexical index")
	}
	if len(queryTokens) == 0 || topK <= 0 || snap.n == 0 {
		return []Result{}, nil
	}

	k1, b := ix.params.K1, ix.params.B
	scores := make(map[int32]float64)
	matched := make(map[int32]map[string]struct{})

	for _, term := range queryTokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		plist := snap.postings[term]
		if len(plist) == 0 {
			continue
		}

		df := float64(len(plist))
		n := float64(snap.n)
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)

		for _, p := range plist {
			f := float64(p.tf)
			norm := 1 - b + b*float64(snap.lens[p.doc])/snap.avgdl
			tfComponent := (f * (k1 + 1)) / (f + k1*norm)
			scores[p.doc] += idf * tfComponent

			terms := matched[p.doc]
			if terms == nil {
				terms = make(map[string]struct{}, 4)
				matched[p.doc] = terms
			}
			terms[term] = struct{}{}
		}
	}

	if len(scores) == 0 {
		return []Result{}, nil
	}

	type candidate struct {
		doc   int32
		score float64
	}
	candidates := make([]candidate, 0, len(scores))
	for doc, score := range scores {
		candidates = append(candidates, candidate{doc: doc, score: score})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].doc < candidates[j].doc
	})

	if topK < len(candidates) {
		candidates = candidates[:topK]
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		terms := make([]string, 0, len(matched[c.doc]))
		for term := range matched[c.doc] {
			terms = append(terms, term)
		}
		sort.Strings(terms)
		results[i] = Result{ChunkID: snap.ids[c.doc], Score: c.score, MatchedTerms: terms}
	}
	return results, nil
}

// AnalyzeQuery analyzes query text with the chain for the given language,
// falling back to the first configured language when the requested one has
// no analyzer.
func (ix *Index) AnalyzeQuery(language, query string) []string {
	analyzer, err := ix.analyzers.For(language)
	if err != nil {
		analyzer = ix.analyzers.Fallback()
	}
	return analyzer.Analyze(query)
}

// Indexed reports whether a snapshot has been built.
func (ix *Index) Indexed() bool {
	return ix.snap.Load() != nil
}

// AllIDs returns the indexed chunk ids, ascending.
// Used for consistency checking between stores.
func (ix *Index) AllIDs() []string {
	snap := ix.snap.Load()
	if snap == nil {
		return []string{}
	}
	ids := make([]string, len(snap.ids))
	copy(ids, snap.ids)
	return ids
}

// Stats describes the current snapshot.
type Stats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// Stats returns statistics for the current snapshot.
func (ix *Index) Stats() Stats {
	snap := ix.snap.Load()
	if snap == nil {
		return Stats{}
	}
	return Stats{
		DocumentCount: snap.n,
		TermCount:     len(snap.postings),
		AvgDocLength:  snap.avgdl,
	}
}
