// Package validation checks cross-index consistency after a rebuild.
//
// The metadata store is the source of truth for which chunks exist. The
// lexical and dense indexes are derived snapshots; after a successful
// rebuild every chunk id should appear in all enabled indexes. Drift in
// either direction means a rebuild was interrupted or the data directory
// was modified out of band, and the fix is always a fresh rebuild.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trirank/trirank/internal/store"
)

// IssueType categorizes a detected inconsistency.
type IssueType int

const (
	// IssueOrphanLexical is a lexical index entry with no metadata row.
	IssueOrphanLexical IssueType = iota
	// IssueOrphanDense is a dense index entry with no metadata row.
	IssueOrphanDense
	// IssueMissingLexical is a metadata chunk absent from the lexical index.
	IssueMissingLexical
	// IssueMissingDense is a metadata chunk absent from the dense index.
	IssueMissingDense
)

// String returns a human-readable description of the issue type.
func (t IssueType) String() string {
	switch t {
	case IssueOrphanLexical:
		return "orphan_lexical"
	case IssueOrphanDense:
		return "orphan_dense"
	case IssueMissingLexical:
		return "missing_lexical"
	case IssueMissingDense:
		return "missing_dense"
	default:
		return "unknown"
	}
}

// Issue is one detected cross-index problem.
type Issue struct {
	Type    IssueType
	ChunkID string
	Details string
}

// Report contains the outcome of a consistency check.
type Report struct {
	// Checked is the number of metadata chunks verified.
	Checked int
	// Issues contains all detected problems, empty when healthy.
	Issues []Issue
	// Duration is how long the check took.
	Duration time.Duration
}

// Healthy reports whether the check found no issues.
func (r *Report) Healthy() bool {
	return len(r.Issues) == 0
}

// Summary returns a one-line description suitable for logs.
func (r *Report) Summary() string {
	if r.Healthy() {
		return fmt.Sprintf("%d chunks consistent across indexes", r.Checked)
	}

	counts := make(map[IssueType]int)
	for _, issue := range r.Issues {
		counts[issue.Type]++
	}
	return fmt.Sprintf("%d chunks checked, %d issues (orphan_lexical=%d orphan_dense=%d missing_lexical=%d missing_dense=%d)",
		r.Checked, len(r.Issues),
		counts[IssueOrphanLexical], counts[IssueOrphanDense],
		counts[IssueMissingLexical], counts[IssueMissingDense])
}

// IDLister exposes the chunk ids held by a derived index snapshot.
// Both the lexical index and the dense scorer satisfy this.
type IDLister interface {
	AllIDs() []string
}

// Checker validates that derived indexes agree with the metadata store.
// A nil lexical or dense lister skips that side of the check, which is
// how disabled retrieval methods are handled.
type Checker struct {
	metadata store.MetadataStore
	lexical  IDLister
	dense    IDLister
}

// NewChecker creates a checker. The metadata store is required; either
// index lister may be nil when the corresponding method is disabled.
func NewChecker(metadata store.MetadataStore, lexical, dense IDLister) (*Checker, error) {
	if metadata == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	return &Checker{
		metadata: metadata,
		lexical:  lexical,
		dense:    dense,
	}, nil
}

// Check scans the metadata store and both index snapshots for drift.
// O(n) in the total number of chunk ids across stores.
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	start := time.Now()

	chunkIDs, err := c.metadata.AllChunkIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list metadata chunk ids: %w", err)
	}

	metadataSet := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		metadataSet[id] = true
	}

	var issues []Issue

	var lexicalSet map[string]bool
	if c.lexical != nil {
		lexicalIDs := c.lexical.AllIDs()
		lexicalSet = make(map[string]bool, len(lexicalIDs))
		for _, id := range lexicalIDs {
			lexicalSet[id] = true
			if !metadataSet[id] {
				issues = append(issues, Issue{
					Type:    IssueOrphanLexical,
					ChunkID: id,
					Details: "lexical index entry without metadata row",
				})
			}
		}
	}

	var denseSet map[string]bool
	if c.dense != nil {
		denseIDs := c.dense.AllIDs()
		denseSet = make(map[string]bool, len(denseIDs))
		for _, id := range denseIDs {
			denseSet[id] = true
			if !metadataSet[id] {
				issues = append(issues, Issue{
					Type:    IssueOrphanDense,
					ChunkID: id,
					Details: "dense index entry without metadata row",
				})
			}
		}
	}

	for _, id := range chunkIDs {
		if c.lexical != nil && !lexicalSet[id] {
			issues = append(issues, Issue{
				Type:    IssueMissingLexical,
				ChunkID: id,
				Details: "metadata chunk missing from lexical index",
			})
		}
		if c.dense != nil && !denseSet[id] {
			issues = append(issues, Issue{
				Type:    IssueMissingDense,
				ChunkID: id,
				Details: "metadata chunk missing from dense index",
			})
		}
	}

	report := &Report{
		Checked:  len(chunkIDs),
		Issues:   issues,
		Duration: time.Since(start),
	}

	if !report.Healthy() {
		slog.Warn("index consistency check found drift",
			slog.Int("checked", report.Checked),
			slog.Int("issues", len(report.Issues)))
	}

	return report, nil
}

// QuickCheck compares counts only, not individual ids.
// Returns true when all enabled indexes hold the same number of chunks
// as the metadata store.
func (c *Checker) QuickCheck(ctx context.Context) (bool, error) {
	metadataCount, err := c.metadata.CountChunks(ctx)
	if err != nil {
		return false, fmt.Errorf("count metadata chunks: %w", err)
	}

	consistent := true
	lexicalCount, denseCount := -1, -1

	if c.lexical != nil {
		lexicalCount = len(c.lexical.AllIDs())
		if lexicalCount != metadataCount {
			consistent = false
		}
	}
	if c.dense != nil {
		denseCount = len(c.dense.AllIDs())
		if denseCount != metadataCount {
			consistent = false
		}
	}

	if !consistent {
		slog.Debug("index counts mismatch",
			slog.Int("metadata", metadataCount),
			slog.Int("lexical", lexicalCount),
			slog.Int("dense", denseCount))
	}

	return consistent, nil
}
