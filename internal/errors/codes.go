// Package errors provides structured error handling for TriRank.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage and index IO errors
//   - 3XX: Graph store and network errors
//   - 4XX: Validation and state errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates index, snapshot, and corpus IO errors.
	CategoryStorage Category = "STORAGE"
	// CategoryGraph indicates graph store and network errors.
	CategoryGraph Category = "GRAPH"
	// CategoryValidation indicates input validation and state errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeStoreIO         = "ERR_201_STORE_IO"
	ErrCodeSnapshotCorrupt = "ERR_202_SNAPSHOT_CORRUPT"
	ErrCodeCorpusRead      = "ERR_203_CORPUS_READ"
	ErrCodeLockHeld        = "ERR_204_LOCK_HELD"

	// Graph errors (300-399)
	ErrCodeGraphUnavailable = "ERR_301_GRAPH_UNAVAILABLE"
	ErrCodeGraphQuery       = "ERR_302_GRAPH_QUERY"

	// Validation errors (400-499)
	ErrCodeNotIndexed        = "ERR_401_NOT_INDEXED"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeDuplicateChunk    = "ERR_403_DUPLICATE_CHUNK"
	ErrCodeInvalidMethod     = "ERR_404_INVALID_METHOD"
	ErrCodeCorpusRecord      = "ERR_405_CORPUS_RECORD"

	// Internal errors (500-599)
	ErrCodeInternal      = "ERR_501_INTERNAL"
	ErrCodeMethodTimeout = "ERR_502_METHOD_TIMEOUT"
	ErrCodeIndexFailed   = "ERR_503_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "301" in "ERR_301_GRAPH_UNAVAILABLE"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryGraph
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// A corrupt snapshot cannot be recovered without a rebuild.
	if code == ErrCodeSnapshotCorrupt {
		return SeverityFatal
	}

	// Retryable and degraded-mode errors are warnings: the query continues
	// on the remaining methods.
	if isRetryableCode(code) || code == ErrCodeMethodTimeout {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeGraphUnavailable, ErrCodeGraphQuery, ErrCodeLockHeld:
		return true
	default:
		return false
	}
}
