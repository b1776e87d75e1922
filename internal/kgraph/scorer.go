package kgraph

import (
	"context"
	"sort"
	"sync"

	"github.com/trirank/trirank/internal/errors"
)

// Scorer ranks chunks by hop proximity to query entities. For each query
// entity e with confidence c, a chunk mentioning an entity at hop distance d
// collects c/(1+d); scores are normalized by the maximum among candidates.
// The source can be swapped after a rebuild; each Score call captures the
// source once, so a single query never straddles a swap.
type Scorer struct {
	mu      sync.RWMutex
	source  Source
	maxHops int
}

// NewScorer wraps a source. maxHops below 1 falls back to the default.
func NewScorer(source Source, maxHops int) *Scorer {
	if maxHops < 1 {
		maxHops = DefaultMaxHops
	}
	return &Scorer{source: source, maxHops: maxHops}
}

// SetSource swaps in a freshly built source. In-flight queries finish
// against the source they started with.
func (s *Scorer) SetSource(source Source) {
	s.mu.Lock()
	s.source = source
	s.mu.Unlock()
}

func (s *Scorer) currentSource() Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// Score returns the topK chunks nearest the query entities, ties by chunk ID
// ascending. Chunks beyond maxHops of every query entity never appear. An
// empty entity list is an empty result, not an error; a failing source is
// reported as GraphUnavailable so the coordinator can degrade the method.
func (s *Scorer) Score(ctx context.Context, queryEntities []QueryEntity, topK int) ([]Result, error) {
	if len(queryEntities) == 0 || topK <= 0 {
		return []Result{}, nil
	}

	src := s.currentSource()
	scores := make(map[string]float64)
	reached := make(map[string]map[string]bool)

	for _, qe := range queryEntities {
		if qe.Entity == nil || qe.Entity.ID == "" {
			continue
		}
		distances, err := s.chunkDistances(ctx, src, qe.Entity.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, errors.GraphUnavailable(err)
		}
		for chunkID, d := range distances {
			scores[chunkID] += qe.Confidence / float64(1+d)
			if reached[chunkID] == nil {
				reached[chunkID] = make(map[string]bool)
			}
			reached[chunkID][qe.Entity.Name] = true
		}
	}
	if len(scores) == 0 {
		return []Result{}, nil
	}

	var max float64
	for _, score := range scores {
		if score > max {
			max = score
		}
	}

	results := make([]Result, 0, len(scores))
	for chunkID, score := range scores {
		if max > 0 {
			score /= max
		}
		names := make([]string, 0, len(reached[chunkID]))
		for name := range reached[chunkID] {
			names = append(names, name)
		}
		sort.Strings(names)
		results = append(results, Result{ChunkID: chunkID, Score: score, Entities: names})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// chunkDistances walks outward from one entity, level by level, recording
// the first (shortest) hop distance at which each chunk is mentioned. The
// visited set caps cycles; batch source calls keep I/O to one round trip
// per level.
func (s *Scorer) chunkDistances(ctx context.Context, src Source, rootID string) (map[string]int, error) {
	distances := make(map[string]int)
	frontier := []string{rootID}
	visited := map[string]bool{rootID: true}

	for depth := 0; len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		mentioned, err := src.ChunksMentioning(ctx, frontier)
		if err != nil {
			return nil, err
		}
		for _, chunkIDs := range mentioned {
			for _, chunkID := range chunkIDs {
				if _, ok := distances[chunkID]; !ok {
					distances[chunkID] = depth
				}
			}
		}

		if depth == s.maxHops {
			break
		}

		neighbors, err := src.Neighbors(ctx, frontier)
		if err != nil {
			return nil, err
		}
		next := make([]string, 0, len(neighbors))
		for _, id := range neighbors {
			if !visited[id] {
				visited[id] = true
				next = append(next, id)
			}
		}
		frontier = next
	}
	return distances, nil
}

// MaxHops reports the configured traversal bound.
func (s *Scorer) MaxHops() int {
	return s.maxHops
}
