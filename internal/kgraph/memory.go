package kgraph

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

// MemorySource is an id-indexed arena over entities, relationships, and
// mentions. It is immutable after construction, so concurrent queries need
// no locking; a corpus rebuild constructs a fresh source and swaps it in.
type MemorySource struct {
	entities map[string]*Entity
	byName   map[string][]*Entity // lowercased exact name
	names    []string             // sorted lowercased names for prefix scans
	adjacent map[string][]string  // both directions, deduped, sorted
	chunks   map[string][]string  // entity id -> chunk ids, sorted
	stats    Stats
}

var _ Source = (*MemorySource)(nil)

// SkippedRecord reports a graph record dropped during construction.
type SkippedRecord struct {
	Kind   string // "entity", "relationship", "mention"
	ID     string
	Reason string
}

// NewMemorySource builds the arena. Records referencing unknown entities and
// duplicate entity ids are skipped and reported, never fatal: one bad record
// must not take the whole graph down with it.
func NewMemorySource(entities []*Entity, relationships []Relationship, mentions []Mention) (*MemorySource, []SkippedRecord) {
	var skipped []SkippedRecord

	s := &MemorySource{
		entities: make(map[string]*Entity, len(entities)),
		byName:   make(map[string][]*Entity),
		adjacent: make(map[string][]string),
		chunks:   make(map[string][]string),
	}

	for _, e := range entities {
		if e == nil || e.ID == "" {
			skipped = append(skipped, SkippedRecord{Kind: "entity", Reason: "missing id"})
			continue
		}
		if _, exists := s.entities[e.ID]; exists {
			skipped = append(skipped, SkippedRecord{Kind: "entity", ID: e.ID, Reason: "duplicate entity id"})
			continue
		}
		copied := *e
		s.entities[e.ID] = &copied
		name := strings.ToLower(copied.Name)
		s.byName[name] = append(s.byName[name], &copied)
	}

	s.names = make([]string, 0, len(s.byName))
	for name := range s.byName {
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)
	for _, group := range s.byName {
		sortEntitiesByConfidence(group)
	}

	adjacency := make(map[string]map[string]bool)
	for _, r := range relationships {
		if _, ok := s.entities[r.SourceID]; !ok {
			skipped = append(skipped, SkippedRecord{Kind: "relationship", ID: r.SourceID, Reason: "unknown source entity"})
			continue
		}
		if _, ok := s.entities[r.TargetID]; !ok {
			skipped = append(skipped, SkippedRecord{Kind: "relationship", ID: r.TargetID, Reason: "unknown target entity"})
			continue
		}
		if r.SourceID == r.TargetID {
			continue // self-loops never change hop distance
		}
		addEdge(adjacency, r.SourceID, r.TargetID)
		addEdge(adjacency, r.TargetID, r.SourceID)
		s.stats.RelationshipCount++
	}
	for id, neighbors := range adjacency {
		list := make([]string, 0, len(neighbors))
		for n := range neighbors {
			list = append(list, n)
		}
		sort.Strings(list)
		s.adjacent[id] = list
	}

	chunkSets := make(map[string]map[string]bool)
	for _, m := range mentions {
		if _, ok := s.entities[m.EntityID]; !ok {
			skipped = append(skipped, SkippedRecord{Kind: "mention", ID: m.EntityID, Reason: "unknown entity"})
			continue
		}
		if m.ChunkID == "" {
			skipped = append(skipped, SkippedRecord{Kind: "mention", ID: m.EntityID, Reason: "missing chunk id"})
			continue
		}
		if chunkSets[m.EntityID] == nil {
			chunkSets[m.EntityID] = make(map[string]bool)
		}
		if !chunkSets[m.EntityID][m.ChunkID] {
			chunkSets[m.EntityID][m.ChunkID] = true
			s.stats.MentionCount++
		}
	}
	for id, set := range chunkSets {
		list := make([]string, 0, len(set))
		for c := range set {
			list = append(list, c)
		}
		sort.Strings(list)
		s.chunks[id] = list
	}

	s.stats.EntityCount = len(s.entities)
	s.stats.TypeCounts = make(map[string]int)
	for _, e := range s.entities {
		s.stats.TypeCounts[e.Type]++
	}

	for _, skip := range skipped {
		slog.Warn("graph_record_skipped",
			slog.String("kind", skip.Kind),
			slog.String("id", skip.ID),
			slog.String("reason", skip.Reason))
	}

	return s, skipped
}

// LookupEntities matches case-insensitively: exact name hits first at full
// confidence order, then prefix hits, until limit.
func (s *MemorySource) LookupEntities(ctx context.Context, term string, limit int) ([]*Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" || limit <= 0 {
		return []*Entity{}, nil
	}

	results := make([]*Entity, 0, limit)
	seen := make(map[string]bool)
	for _, e := range s.byName[term] {
		if len(results) >= limit {
			return results, nil
		}
		results = append(results, e)
		seen[e.ID] = true
	}

	// Prefix scan over the sorted name list; candidates are re-sorted by
	// confidence before the limit applies, so a strong match late in the
	// alphabet still surfaces.
	var prefixed []*Entity
	start := sort.SearchStrings(s.names, term)
	for i := start; i < len(s.names) && strings.HasPrefix(s.names[i], term); i++ {
		for _, e := range s.byName[s.names[i]] {
			if !seen[e.ID] {
				prefixed = append(prefixed, e)
				seen[e.ID] = true
			}
		}
	}
	sortEntitiesByConfidence(prefixed)
	for _, e := range prefixed {
		if len(results) >= limit {
			break
		}
		results = append(results, e)
	}
	return results, nil
}

// Neighbors returns the union of one-hop neighborhoods, inputs excluded.
func (s *MemorySource) Neighbors(ctx context.Context, entityIDs []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inputs := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		inputs[id] = true
	}
	set := make(map[string]bool)
	for _, id := range entityIDs {
		for _, n := range s.adjacent[id] {
			if !inputs[n] {
				set[n] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// ChunksMentioning returns chunk ids per entity id. Entities without
// mentions are absent from the map.
func (s *MemorySource) ChunksMentioning(ctx context.Context, entityIDs []string) (map[string][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	for _, id := range entityIDs {
		if chunks, ok := s.chunks[id]; ok {
			out[id] = chunks
		}
	}
	return out, nil
}

// Stats reports the counters gathered at construction.
func (s *MemorySource) Stats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stats := s.stats
	stats.TypeCounts = make(map[string]int, len(s.stats.TypeCounts))
	for t, n := range s.stats.TypeCounts {
		stats.TypeCounts[t] = n
	}
	return &stats, nil
}

// Entity returns a node by id, or nil.
func (s *MemorySource) Entity(id string) *Entity {
	return s.entities[id]
}

func addEdge(adjacency map[string]map[string]bool, from, to string) {
	if adjacency[from] == nil {
		adjacency[from] = make(map[string]bool)
	}
	adjacency[from][to] = true
}

func sortEntitiesByConfidence(entities []*Entity) {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Confidence != entities[j].Confidence {
			return entities[i].Confidence > entities[j].Confidence
		}
		return entities[i].ID < entities[j].ID
	})
}
