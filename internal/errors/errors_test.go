package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixError_Unwrap_PreservesCause(t *testing.T) {
	// Given: an original error
	cause := errors.New("connection refused")

	// When: wrapping it as a retrieval failure
	err := RetrievalUnavailable("vector index unreachable", cause)

	// Then: the cause is reachable through the chain
	require.NotNil(t, err)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestFixError_Error_Format(t *testing.T) {
	tests := []struct {
		name     string
		err      *FixError
		expected string
	}{
		{
			name:     "no cause",
			err:      New(ErrCodeInvalidInput, "rating must be +1 or -1", nil),
			expected: "[ERR_401_INVALID_INPUT] rating must be +1 or -1",
		},
		{
			name:     "cause with different text",
			err:      New(ErrCodePersistence, "insert analysis", errors.New("database is locked")),
			expected: "[ERR_201_PERSISTENCE] insert analysis: database is locked",
		},
		{
			name:     "wrapped cause is not repeated",
			err:      Wrap(ErrCodeGenerationFailed, errors.New("status 500")),
			expected: "[ERR_303_GENERATION_FAILED] status 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestFixError_Is_MatchesSentinelByCode(t *testing.T) {
	// Given: a chunk-not-found error built by the constructor
	err := ChunkNotFound("abc123")

	// Then: it matches the sentinel but not an unrelated one
	assert.True(t, errors.Is(err, ErrChunkNotFound))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "abc123", err.Details["chunk_id"])
}

func TestFixError_Is_ThroughFmtWrapping(t *testing.T) {
	// Given: a FixError wrapped by fmt.Errorf
	err := fmt.Errorf("analyze: %w", GenerationFailure("ollama timed out", nil))

	// Then: errors.Is and helpers see through the wrapping
	assert.True(t, errors.Is(err, ErrGenerationFailure))
	assert.Equal(t, ErrCodeGenerationFailed, GetCode(err))
	assert.True(t, IsFatal(err))
}

func TestCategoryAndSeverity_DerivedFromCode(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{ErrCodePersistence, CategoryIO, SeverityError, true},
		{ErrCodeRetrievalUnavailable, CategoryOracle, SeverityWarning, true},
		{ErrCodeRerankerUnavailable, CategoryOracle, SeverityWarning, true},
		{ErrCodeGenerationFailed, CategoryOracle, SeverityFatal, false},
		{ErrCodeEvaluationFailed, CategoryOracle, SeverityWarning, false},
		{ErrCodeChunkNotFound, CategoryValidation, SeverityError, false},
		{ErrCodeInternal, CategoryInternal, SeverityError, false},
		{"short", CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestHelpers_OnPlainErrors(t *testing.T) {
	plain := errors.New("plain")

	assert.False(t, IsRetryable(plain))
	assert.False(t, IsFatal(plain))
	assert.Empty(t, GetCode(plain))
	assert.Empty(t, GetCategory(plain))
}

func TestFormatForCLI(t *testing.T) {
	// Given: an error with a suggestion
	err := ConfigError("weights must sum to 1", nil).
		WithSuggestion("set fusion.lexical_weight + fusion.dense_weight = 1.0")

	// When: formatting for the terminal
	out := FormatForCLI(err)

	// Then: message, hint and code are all present
	assert.Contains(t, out, "Error: weights must sum to 1")
	assert.Contains(t, out, "Hint: set fusion.lexical_weight")
	assert.Contains(t, out, "Code: ERR_102_CONFIG_INVALID")
	assert.Empty(t, FormatForCLI(nil))
	assert.Contains(t, FormatForCLI(errors.New("boom")), "ERR_501_INTERNAL")
}

func TestFormatJSON(t *testing.T) {
	err := PersistenceError("insert analysis", errors.New("disk I/O error")).
		WithDetail("analysis_query", "NPE")

	data, jsonErr := FormatJSON(err)
	require.NoError(t, jsonErr)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ErrCodePersistence, decoded["code"])
	assert.Equal(t, "IO", decoded["category"])
	assert.Equal(t, true, decoded["retryable"])
	assert.Equal(t, "disk I/O error", decoded["cause"])
}
