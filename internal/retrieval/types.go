// Package retrieval runs a query across the three ranking methods and merges
// their independently ranked outputs into one consensus ranking.
//
// The Coordinator fans a query out to the enabled methods, each under its own
// deadline, and the Fuser combines whatever came back using Reciprocal Rank
// Fusion. A method that fails or times out contributes an empty list and is
// reported as degraded; it never fails the query.
package retrieval

import (
	"time"

	"github.com/trirank/trirank/internal/store"
)

// Method identifies one retrieval strategy.
type Method string

const (
	// MethodLexical is BM25 scoring over the inverted index.
	MethodLexical Method = "lexical"

	// MethodDense is late-interaction similarity over token embeddings.
	MethodDense Method = "dense"

	// MethodGraph is entity proximity over the knowledge graph.
	MethodGraph Method = "graph"
)

// AllMethods returns every known method in canonical order.
func AllMethods() []Method {
	return []Method{MethodLexical, MethodDense, MethodGraph}
}

// TaskState tracks one method task through its lifecycle.
type TaskState int

const (
	// TaskPending means the task has not been launched yet.
	TaskPending TaskState = iota
	// TaskRunning means the task goroutine is in flight.
	TaskRunning
	// TaskCompleted means the task returned a ranked list in time.
	TaskCompleted
	// TaskTimedOut means the task exceeded its own or the global deadline.
	TaskTimedOut
	// TaskFailed means the task returned an error.
	TaskFailed
)

// String returns a string representation of the state.
func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskTimedOut:
		return "timed_out"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is one of the three end states.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskTimedOut || s == TaskFailed
}

// RankedItem is one scored chunk in a method's ranked list.
type RankedItem struct {
	// ChunkID identifies the chunk.
	ChunkID string

	// Score is the method's raw score, strictly descending within a list.
	Score float64

	// Rank is the 1-indexed position. Zero means "use the slice position";
	// the coordinator fills it in for lists produced by its own tasks.
	Rank int

	// MatchedTerms lists the query terms the lexical method matched,
	// empty for other methods.
	MatchedTerms []string

	// Entities lists the query entity names that reached this chunk,
	// populated by the graph method only.
	Entities []string
}

// RankedList is one method's ordered contribution to fusion.
type RankedList struct {
	Method Method
	Items  []RankedItem
}

// MethodReport records how one method task ended.
type MethodReport struct {
	Method      Method
	State       TaskState
	Duration    time.Duration
	ResultCount int

	// Err holds the failure or timeout message, empty on completion.
	Err string
}

// Degraded reports whether the method contributed an empty list.
func (r MethodReport) Degraded() bool {
	return r.State != TaskCompleted
}

// FusedResult is a single result after RRF fusion.
type FusedResult struct {
	// ChunkID identifies the chunk.
	ChunkID string

	// RRFScore is the summed reciprocal-rank score across methods.
	RRFScore float64

	// Rank is the 1-indexed position in the fused ranking.
	Rank int

	// MethodScores holds each contributing method's raw score.
	MethodScores map[Method]float64

	// MethodRanks holds each contributing method's 1-indexed rank,
	// absent methods have no entry.
	MethodRanks map[Method]int

	// MatchedTerms carries the lexical method's matched query terms.
	MatchedTerms []string

	// Entities carries the graph method's reaching entity names.
	Entities []string
}

// Result is a fused result enriched with chunk metadata for presentation.
type Result struct {
	FusedResult

	// Chunk is the stored chunk, nil when the store has no record for it.
	Chunk *store.Chunk
}

// Response is the full answer to one retrieval request.
type Response struct {
	// RequestID is a UUID assigned per request for log correlation.
	RequestID string

	// Query is the trimmed query text.
	Query string

	// Results is the fused top-k, enriched with chunk metadata.
	Results []Result

	// MethodsRequested lists the methods the caller enabled.
	MethodsRequested []Method

	// MethodsUsed lists the methods that completed and contributed.
	MethodsUsed []Method

	// DegradedMethods lists the methods that failed or timed out.
	DegradedMethods []Method

	// Reports holds the per-method terminal state, duration and error.
	Reports []MethodReport

	// RetrievalTime covers the concurrent method fan-out.
	RetrievalTime time.Duration

	// FusionTime covers the RRF merge.
	FusionTime time.Duration

	// TotalTime covers the whole request including enrichment.
	TotalTime time.Duration
}
