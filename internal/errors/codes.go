// Package errors provides structured error handling for fixrecall.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Persistence and corpus IO errors
//   - 3XX: Oracle and network errors (dense index, reranker, generator, evaluator, sources)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates persistence and corpus IO errors.
	CategoryIO Category = "IO"
	// CategoryOracle indicates an external collaborator failed or was unreachable.
	CategoryOracle Category = "ORACLE"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates the request cannot produce a result.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but the process continues.
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

	// Persistence / IO errors (200-299)
	ErrCodePersistence = "ERR_201_PERSISTENCE"
	ErrCodeCorpusLoad  = "ERR_202_CORPUS_LOAD"
	ErrCodeIndexLocked = "ERR_203_INDEX_LOCKED"

	// Oracle errors (300-399)
	ErrCodeRetrievalUnavailable = "ERR_301_RETRIEVAL_UNAVAILABLE"
	ErrCodeRerankerUnavailable  = "ERR_302_RERANKER_UNAVAILABLE"
	ErrCodeGenerationFailed     = "ERR_303_GENERATION_FAILED"
	ErrCodeEvaluationFailed     = "ERR_304_EVALUATION_FAILED"
	ErrCodeSourceUnavailable    = "ERR_305_SOURCE_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeChunkNotFound     = "ERR_402_CHUNK_NOT_FOUND"
	ErrCodeAnalysisNotFound  = "ERR_403_ANALYSIS_NOT_FOUND"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeDimensionMismatch = "ERR_405_DIMENSION_MISMATCH"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryOracle
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeGenerationFailed:
		return SeverityFatal
	case ErrCodeRetrievalUnavailable, ErrCodeRerankerUnavailable, ErrCodeEvaluationFailed:
		// The pipeline keeps going without the failed stage.
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodePersistence, ErrCodeIndexLocked, ErrCodeSourceUnavailable,
		ErrCodeRetrievalUnavailable, ErrCodeRerankerUnavailable:
		return true
	default:
		return false
	}
}
