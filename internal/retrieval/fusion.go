package retrieval

import (
	"sort"

	"github.com/trirank/trirank/internal/errors"
)

// DefaultRRFK is the standard RRF smoothing parameter.
// k=60 is the widely validated default across retrieval systems.
const DefaultRRFK = 60

// Fuser merges ranked lists with Reciprocal Rank Fusion.
//
// Algorithm: rrf_score(chunk) = Σ over lists containing it of 1/(k+rank).
// A chunk absent from a list contributes exactly zero for that list, there
// is no substitute rank. Fusion is a pure function of its inputs: the same
// lists in any order produce bit-identical output.
type Fuser struct {
	K int
}

// NewFuser creates a fuser with the default k=60.
func NewFuser() *Fuser {
	return &Fuser{K: DefaultRRFK}
}

// NewFuserWithK creates a fuser with a custom k. If k <= 0, defaults to 60.
func NewFuserWithK(k int) *Fuser {
	if k <= 0 {
		k = DefaultRRFK
	}
	return &Fuser{K: k}
}

// Fuse merges the lists into one ranking: reciprocal-rank totals descending,
// ties by chunk ID ascending, 1-indexed contiguous ranks. Each method's raw
// score and rank are retained on the fused result.
//
// An item's explicit Rank is honored when set (ranks may have gaps); zero
// means the slice position. A duplicate chunk ID within one list is a
// programmer error and fails the whole merge.
func (f *Fuser) Fuse(lists []RankedList) ([]FusedResult, error) {
	byChunk, err := f.collect(lists)
	if err != nil {
		return nil, err
	}

	// Sum contributions in one fixed method order so the total is
	// bit-identical no matter how the caller ordered the lists.
	methods := canonicalMethods(lists)
	results := make([]FusedResult, 0, len(byChunk))
	for _, r := range byChunk {
		var total float64
		for _, m := range methods {
			if rank, ok := r.MethodRanks[m]; ok {
				total += 1.0 / float64(f.K+rank)
			}
		}
		r.RRFScore = total
		results = append(results, *r)
	}

	sortAndRank(results)
	return results, nil
}

// FuseWeighted merges the lists by weighted score sum instead of rank.
// Each list's scores are min-max normalized to [0,1] first, then scaled by
// that method's weight (missing weights count as 1). Secondary API: the
// default retrieve path fuses by rank, which is robust to incomparable
// score scales across methods.
func (f *Fuser) FuseWeighted(lists []RankedList, weights map[Method]float64) ([]FusedResult, error) {
	byChunk, err := f.collect(lists)
	if err != nil {
		return nil, err
	}

	normalized := make(map[Method]map[string]float64, len(lists))
	for _, list := range lists {
		normalized[list.Method] = minMaxNormalize(list.Items)
	}

	methods := canonicalMethods(lists)
	results := make([]FusedResult, 0, len(byChunk))
	for _, r := range byChunk {
		var total float64
		for _, m := range methods {
			score, ok := normalized[m][r.ChunkID]
			if !ok {
				continue
			}
			weight, ok := weights[m]
			if !ok {
				weight = 1
			}
			total += weight * score
		}
		r.RRFScore = total
		results = append(results, *r)
	}

	sortAndRank(results)
	return results, nil
}

// collect indexes every list item by chunk ID, keeping per-method scores and
// ranks, and rejects duplicate chunk IDs within a single list.
func (f *Fuser) collect(lists []RankedList) (map[string]*FusedResult, error) {
	byChunk := make(map[string]*FusedResult)
	for _, list := range lists {
		seen := make(map[string]bool, len(list.Items))
		for pos, item := range list.Items {
			if seen[item.ChunkID] {
				return nil, errors.DuplicateChunk(string(list.Method), item.ChunkID)
			}
			seen[item.ChunkID] = true

			r := byChunk[item.ChunkID]
			if r == nil {
				r = &FusedResult{
					ChunkID:      item.ChunkID,
					MethodScores: make(map[Method]float64, 3),
					MethodRanks:  make(map[Method]int, 3),
				}
				byChunk[item.ChunkID] = r
			}

			rank := item.Rank
			if rank <= 0 {
				rank = pos + 1
			}
			r.MethodScores[list.Method] = item.Score
			r.MethodRanks[list.Method] = rank

			if len(item.MatchedTerms) > 0 {
				r.MatchedTerms = item.MatchedTerms
			}
			if len(item.Entities) > 0 {
				r.Entities = item.Entities
			}
		}
	}
	return byChunk, nil
}

// canonicalMethods returns the distinct methods of the lists sorted by name.
func canonicalMethods(lists []RankedList) []Method {
	seen := make(map[Method]bool, len(lists))
	methods := make([]Method, 0, len(lists))
	for _, list := range lists {
		if !seen[list.Method] {
			seen[list.Method] = true
			methods = append(methods, list.Method)
		}
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	return methods
}

// sortAndRank orders by score descending with ties by chunk ID ascending,
// then assigns 1-indexed contiguous ranks.
func sortAndRank(results []FusedResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].RRFScore != results[j].RRFScore {
			return results[i].RRFScore > results[j].RRFScore
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	for i := range results {
		results[i].Rank = i + 1
	}
}

// minMaxNormalize maps a list's scores onto [0,1]. A list whose scores are
// all equal normalizes to all ones.
func minMaxNormalize(items []RankedItem) map[string]float64 {
	norm := make(map[string]float64, len(items))
	if len(items) == 0 {
		return norm
	}

	lo, hi := items[0].Score, items[0].Score
	for _, item := range items[1:] {
		if item.Score < lo {
			lo = item.Score
		}
		if item.Score > hi {
			hi = item.Score
		}
	}

	spread := hi - lo
	for _, item := range items {
		if spread == 0 {
			norm[item.ChunkID] = 1
			continue
		}
		norm[item.ChunkID] = (item.Score - lo) / spread
	}
	return norm
}
