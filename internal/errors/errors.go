package errors

import (
	stderrors "errors"
	"fmt"
)

// FixError is the structured error type for fixrecall.
// It carries enough context to choose between degrading, retrying and failing.
type FixError struct {
	// Code is the unique error code (e.g., "ERR_402_CHUNK_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Oracle, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Sentinels for the failure taxonomy. Match with errors.Is; comparison is by code,
// so any FixError created with the same code matches.
var (
	ErrRetrievalUnavailable = New(ErrCodeRetrievalUnavailable, "dense retrieval unavailable", nil)
	ErrRerankerUnavailable  = New(ErrCodeRerankerUnavailable, "reranker unavailable", nil)
	ErrGenerationFailure    = New(ErrCodeGenerationFailed, "answer generation failed", nil)
	ErrEvaluationFailure    = New(ErrCodeEvaluationFailed, "evaluation failed", nil)
	ErrPersistence          = New(ErrCodePersistence, "history write failed", nil)
	ErrChunkNotFound        = New(ErrCodeChunkNotFound, "chunk not found", nil)
	ErrAnalysisNotFound     = New(ErrCodeAnalysisNotFound, "analysis not found", nil)
	ErrValidation           = New(ErrCodeInvalidInput, "invalid input", nil)
	ErrIndexLocked          = New(ErrCodeIndexLocked, "index is locked by another process", nil)
)

// Error implements the error interface.
func (e *FixError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *FixError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *FixError) Is(target error) bool {
	if t, ok := target.(*FixError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *FixError) WithDetail(key, value string) *FixError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *FixError) WithSuggestion(suggestion string) *FixError {
	e.Suggestion = suggestion
	return e
}

// New creates a new FixError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *FixError {
	return &FixError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a FixError from an existing error.
// The error's message becomes the FixError message.
func Wrap(code string, err error) *FixError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// RetrievalUnavailable reports that the dense index or embedder could not answer.
func RetrievalUnavailable(message string, cause error) *FixError {
	return New(ErrCodeRetrievalUnavailable, message, cause)
}

// RerankerUnavailable reports that the pairwise scoring oracle could not answer.
func RerankerUnavailable(message string, cause error) *FixError {
	return New(ErrCodeRerankerUnavailable, message, cause)
}

// GenerationFailure reports that no answer was produced.
func GenerationFailure(message string, cause error) *FixError {
	return New(ErrCodeGenerationFailed, message, cause)
}

// EvaluationFailure reports that metrics could not be computed for an answer.
func EvaluationFailure(message string, cause error) *FixError {
	return New(ErrCodeEvaluationFailed, message, cause)
}

// PersistenceError reports a failed durable write.
func PersistenceError(message string, cause error) *FixError {
	return New(ErrCodePersistence, message, cause)
}

// ChunkNotFound reports feedback aimed at a chunk outside the current corpus.
func ChunkNotFound(chunkID string) *FixError {
	return New(ErrCodeChunkNotFound, fmt.Sprintf("chunk %q not found", chunkID), nil).
		WithDetail("chunk_id", chunkID)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *FixError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *FixError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *FixError {
	return New(ErrCodeInternal, message, cause)
}

// As finds the first FixError in err's chain.
func As(err error) (*FixError, bool) {
	var fe *FixError
	if stderrors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
// Returns true if any FixError in the chain has the Retryable flag set.
func IsRetryable(err error) bool {
	if fe, ok := As(err); ok {
		return fe.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if fe, ok := As(err); ok {
		return fe.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a FixError.
// Returns empty string if not a FixError.
func GetCode(err error) string {
	if fe, ok := As(err); ok {
		return fe.Code
	}
	return ""
}

// GetCategory extracts the category from a FixError.
func GetCategory(err error) Category {
	if fe, ok := As(err); ok {
		return fe.Category
	}
	return ""
}
