// Package kgraph implements the graph retrieval method: chunks are ranked by
// hop proximity between query entities and the entities a chunk mentions,
// over a knowledge graph held in a pluggable Source.
package kgraph

import (
	"context"
)

// Default bounds. MaxHops caps BFS depth; entities further away contribute
// nothing. EntityLimit caps matches per query term.
const (
	DefaultMaxHops     = 2
	DefaultEntityLimit = 3
)

// Entity is a node in the knowledge graph.
type Entity struct {
	ID         string
	Name       string
	Type       string
	Language   string
	Confidence float64
}

// Relationship is a directed typed edge between two entities. Traversal
// treats edges as undirected: proximity is symmetric.
type Relationship struct {
	SourceID   string
	TargetID   string
	Type       string
	Confidence float64
}

// Mention links a chunk to an entity it names.
type Mention struct {
	ChunkID    string
	EntityID   string
	Confidence float64
}

// QueryEntity is an entity matched from query text, carrying the confidence
// the match contributes to scoring.
type QueryEntity struct {
	Entity     *Entity
	Confidence float64
}

// Result is one scored chunk. Entities lists the query entity names whose
// neighborhoods reached the chunk, sorted ascending.
type Result struct {
	ChunkID  string
	Score    float64
	Entities []string
}

// Stats summarizes a graph source.
type Stats struct {
	EntityCount       int
	RelationshipCount int
	MentionCount      int
	TypeCounts        map[string]int
}

// Source is the narrow read contract the scorer and extractor need. A source
// may be an in-memory arena or an external store; every call takes a context
// so I/O-backed implementations stay cancellable mid-flight.
type Source interface {
	// LookupEntities returns entities whose name matches term, best
	// confidence first, at most limit. Matching is case-insensitive on the
	// exact name and on name prefixes.
	LookupEntities(ctx context.Context, term string, limit int) ([]*Entity, error)

	// Neighbors returns the ids adjacent to any of the given entities,
	// one hop, both edge directions, excluding the inputs themselves.
	Neighbors(ctx context.Context, entityIDs []string) ([]string, error)

	// ChunksMentioning returns chunk ids that mention any of the given
	// entities, keyed by entity id.
	ChunksMentioning(ctx context.Context, entityIDs []string) (map[string][]string, error)

	// Stats reports graph size counters.
	Stats(ctx context.Context) (*Stats, error)
}
