package kgraph

import (
	"context"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/trirank/trirank/internal/errors"
)

// DefaultExtractorCacheSize bounds the per-term lookup cache.
const DefaultExtractorCacheSize = 512

// prefixMatchFactor discounts entities matched on a name prefix rather than
// the exact name.
const prefixMatchFactor = 0.8

// Extractor turns query terms into query entities by matching them against
// entity names in the source. Lookups repeat heavily across queries, so
// results are memoized per term in an LRU cache. Swapping the source after
// a rebuild purges the cache; the generation counter keeps a lookup that
// started against the old source from repopulating it.
type Extractor struct {
	mu     sync.RWMutex
	source Source
	gen    uint64
	limit  int
	cache  *lru.Cache[string, []QueryEntity]
}

// NewExtractor builds an extractor. limitPerTerm below 1 and cacheSize below
// 1 fall back to the defaults.
func NewExtractor(source Source, limitPerTerm, cacheSize int) *Extractor {
	if limitPerTerm < 1 {
		limitPerTerm = DefaultEntityLimit
	}
	if cacheSize < 1 {
		cacheSize = DefaultExtractorCacheSize
	}
	cache, _ := lru.New[string, []QueryEntity](cacheSize)
	return &Extractor{source: source, limit: limitPerTerm, cache: cache}
}

// SetSource swaps in a freshly built source and drops the memoized
// lookups, which belong to the old graph.
func (e *Extractor) SetSource(source Source) {
	e.mu.Lock()
	e.source = source
	e.gen++
	e.mu.Unlock()
	e.cache.Purge()
}

// Extract matches each term against entity names. Exact name matches carry
// the entity's own confidence; prefix matches are discounted. An entity
// matched by several terms keeps its best confidence. Results are sorted by
// confidence descending, then name, then id.
func (e *Extractor) Extract(ctx context.Context, terms []string) ([]QueryEntity, error) {
	byID := make(map[string]QueryEntity)
	seen := make(map[string]bool, len(terms))

	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true

		matches, err := e.lookup(ctx, term)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, errors.GraphUnavailable(err)
		}
		for _, qe := range matches {
			if prev, ok := byID[qe.Entity.ID]; !ok || qe.Confidence > prev.Confidence {
				byID[qe.Entity.ID] = qe
			}
		}
	}

	results := make([]QueryEntity, 0, len(byID))
	for _, qe := range byID {
		results = append(results, qe)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		if results[i].Entity.Name != results[j].Entity.Name {
			return results[i].Entity.Name < results[j].Entity.Name
		}
		return results[i].Entity.ID < results[j].Entity.ID
	})
	return results, nil
}

func (e *Extractor) lookup(ctx context.Context, term string) ([]QueryEntity, error) {
	if cached, ok := e.cache.Get(term); ok {
		return cached, nil
	}

	e.mu.RLock()
	src, gen := e.source, e.gen
	e.mu.RUnlock()

	entities, err := src.LookupEntities(ctx, term, e.limit)
	if err != nil {
		return nil, err
	}

	matches := make([]QueryEntity, 0, len(entities))
	for _, entity := range entities {
		confidence := entity.Confidence
		if !strings.EqualFold(entity.Name, term) {
			confidence *= prefixMatchFactor
		}
		matches = append(matches, QueryEntity{Entity: entity, Confidence: confidence})
	}

	e.mu.RLock()
	if gen == e.gen {
		e.cache.Add(term, matches)
	}
	e.mu.RUnlock()
	return matches, nil
}

// CacheLen reports how many terms are memoized, for stats reporting.
func (e *Extractor) CacheLen() int {
	return e.cache.Len()
}
