// Package dense implements the late-interaction retrieval method: chunks
// carry one vector per token, queries are scored with MaxSim (the sum over
// query tokens of the best dot product against any chunk token), and an
// optional ANN prefilter narrows candidates before exact scoring.
package dense

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/trirank/trirank/internal/errors"
)

// Params controls scorer construction.
type Params struct {
	// Dimensions is the expected vector width. Zero means the first indexed
	// vector fixes the width for the rest of the corpus.
	Dimensions int

	Prefilter Prefilter
}

// Entry is one chunk staged for indexing.
type Entry struct {
	ChunkID string
	Vectors [][]float32
}

// Result is one scored chunk.
type Result struct {
	ChunkID string
	Score   float64
}

// Stats describes the committed snapshot.
type Stats struct {
	ChunkCount  int
	VectorCount int
	Dimensions  int
	ANNActive   bool
}

// snapshot is an immutable view of the indexed corpus. Chunk IDs are sorted
// ascending and mats is parallel to ids, so comparing positions compares IDs.
type snapshot struct {
	ids  []string
	mats [][][]float32
	dims int
	ann  *annIndex // nil when the prefilter is inactive for this corpus
}

// Scorer stages per-chunk token matrices and serves MaxSim queries against
// the last committed snapshot. Searches during a rebuild see either the old
// corpus or the new one, never a mix.
type Scorer struct {
	params Params

	mu     sync.Mutex
	dims   int
	staged map[string][][]float32

	snap atomic.Pointer[snapshot]
}

// NewScorer returns a scorer with no committed snapshot. Searching before
// the first Commit reports the not-indexed condition.
func NewScorer(params Params) *Scorer {
	params.Prefilter = params.Prefilter.normalized()
	return &Scorer{
		params: params,
		dims:   params.Dimensions,
		staged: make(map[string][][]float32),
	}
}

// Index stages a chunk's token matrix for the next Commit. Vectors are
// copied and L2-normalized, so MaxSim dot products are cosine similarities.
func (s *Scorer) Index(chunkID string, vectors [][]float32) error {
	if chunkID == "" {
		return fmt.Errorf("chunk id is empty")
	}
	if len(vectors) == 0 {
		return fmt.Errorf("chunk %s has no vectors", chunkID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dims == 0 {
		s.dims = len(vectors[0])
	}
	for _, vec := range vectors {
		if len(vec) != s.dims {
			return errors.DimensionMismatch(s.dims, len(vec))
		}
	}
	if _, exists := s.staged[chunkID]; exists {
		return errors.DuplicateChunk("dense", chunkID)
	}

	mat := make([][]float32, len(vectors))
	for i, vec := range vectors {
		mat[i] = normalizeCopy(vec)
	}
	s.staged[chunkID] = mat
	return nil
}

// Commit seals the staged chunks into a new snapshot and swaps it in.
// Staging is cleared whether or not the commit succeeds, so a failed commit
// leaves the previous snapshot serving searches.
func (s *Scorer) Commit(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	staged := s.staged
	s.staged = make(map[string][][]float32)
	dims := s.dims
	s.mu.Unlock()

	ids := make([]string, 0, len(staged))
	for id := range staged {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	mats := make([][][]float32, len(ids))
	vectorCount := 0
	for i, id := range ids {
		mats[i] = staged[id]
		vectorCount += len(staged[id])
	}

	snap := &snapshot{ids: ids, mats: mats, dims: dims}
	if s.params.Prefilter.enabledFor(len(ids)) {
		ann, err := buildANN(ctx, mats)
		if err != nil {
			return Stats{}, fmt.Errorf("failed to build ANN prefilter: %w", err)
		}
		snap.ann = ann
	}

	s.snap.Store(snap)
	slog.Debug("dense_index_committed",
		slog.Int("chunks", len(ids)),
		slog.Int("vectors", vectorCount),
		slog.Int("dimensions", dims),
		slog.Bool("ann_active", snap.ann != nil))

	return Stats{
		ChunkCount:  len(ids),
		VectorCount: vectorCount,
		Dimensions:  dims,
		ANNActive:   snap.ann != nil,
	}, nil
}

// Rebuild stages every entry and commits in one call, replacing whatever
// was staged before. On error the staging area is discarded and the
// previous snapshot keeps serving searches.
func (s *Scorer) Rebuild(ctx context.Context, entries []Entry) (Stats, error) {
	s.Reset()
	for _, entry := range entries {
		if err := s.Index(entry.ChunkID, entry.Vectors); err != nil {
			s.Reset()
			return Stats{}, err
		}
	}
	return s.Commit(ctx)
}

// Reset discards staged chunks without touching the committed snapshot.
func (s *Scorer) Reset() {
	s.mu.Lock()
	s.staged = make(map[string][][]float32)
	s.dims = s.params.Dimensions
	s.mu.Unlock()
}

// Search scores the query's token vectors against the committed corpus and
// returns the topK chunks by MaxSim, ties broken by chunk ID ascending.
// Query vectors are normalized on a copy, so callers keep their slices.
func (s *Scorer) Search(ctx context.Context, query [][]float32, topK int) ([]Result, error) {
	snap := s.snap.Load()
	if snap == nil {
		return nil, errors.NotIndexed("dense scorer")
	}
	if len(query) == 0 || topK <= 0 || len(snap.ids) == 0 {
		return []Result{}, nil
	}

	normalized := make([][]float32, len(query))
	for i, vec := range query {
		if len(vec) != snap.dims {
			return nil, errors.DimensionMismatch(snap.dims, len(vec))
		}
		normalized[i] = normalizeCopy(vec)
	}

	candidates, err := s.candidateIndexes(ctx, snap, normalized, topK)
	if err != nil {
		return nil, err
	}

	type scored struct {
		idx   int
		score float64
	}
	results := make([]scored, 0, len(candidates))
	for n, idx := range candidates {
		if n%512 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		results = append(results, scored{idx: idx, score: maxSim(normalized, snap.mats[idx])})
	}

	// ids are sorted, so comparing positions compares chunk IDs
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].idx < results[j].idx
	})
	if len(results) > topK {
		results = results[:topK]
	}

	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = Result{ChunkID: snap.ids[r.idx], Score: r.score}
	}
	return out, nil
}

// candidateIndexes returns the snapshot positions to score exactly. With an
// active ANN index it narrows to topK times the candidate multiplier; exact
// scoring of every chunk is the fallback whenever narrowing would not help.
func (s *Scorer) candidateIndexes(ctx context.Context, snap *snapshot, query [][]float32, topK int) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all := len(snap.ids)
	if snap.ann == nil {
		return sequentialIndexes(all), nil
	}
	want := topK * s.params.Prefilter.CandidateMultiplier
	if want >= all {
		return sequentialIndexes(all), nil
	}
	return snap.ann.search(pooledVector(query), want), nil
}

// Indexed reports whether a snapshot has been committed.
func (s *Scorer) Indexed() bool {
	return s.snap.Load() != nil
}

// AllIDs returns the committed chunk IDs in ascending order.
func (s *Scorer) AllIDs() []string {
	snap := s.snap.Load()
	if snap == nil {
		return []string{}
	}
	ids := make([]string, len(snap.ids))
	copy(ids, snap.ids)
	return ids
}

// Stats describes the committed snapshot. Zero values before first commit.
func (s *Scorer) Stats() Stats {
	snap := s.snap.Load()
	if snap == nil {
		return Stats{}
	}
	vectors := 0
	for _, mat := range snap.mats {
		vectors += len(mat)
	}
	return Stats{
		ChunkCount:  len(snap.ids),
		VectorCount: vectors,
		Dimensions:  snap.dims,
		ANNActive:   snap.ann != nil,
	}
}

// maxSim sums, over query vectors, the best dot product against any chunk
// vector. Both sides are unit length, so each term is a cosine similarity.
func maxSim(query, chunk [][]float32) float64 {
	var total float64
	for _, q := range query {
		best := dot(q, chunk[0])
		for _, c := range chunk[1:] {
			if d := dot(q, c); d > best {
				best = d
			}
		}
		total += best
	}
	return total
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// normalizeCopy returns an L2-normalized copy. Zero vectors stay zero.
func normalizeCopy(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)

	var sum float64
	for _, v := range out {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i := range out {
		out[i] /= norm
	}
	return out
}

func sequentialIndexes(n int) []int {
	idxs := make([]int, n)
	for i := range idxs {
		idxs[i] = i
	}
	return idxs
}
