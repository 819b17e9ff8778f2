package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS01: Error wrapping preserves original error
func TestError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("original error")

	// When: wrapping with Error
	err := New(ErrCodeStoreFailed, "index request failed", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, err)
	assert.Equal(t, originalErr, errors.Unwrap(err))
	assert.True(t, errors.Is(err, originalErr))
}

func TestError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		cause    error
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeConfigNotFound,
			message:  "config file not found",
			expected: "[ERR_101_CONFIG_NOT_FOUND] config file not found",
		},
		{
			name:     "state error",
			code:     ErrCodeNotInitialized,
			message:  "index a-b is not initialized",
			expected: "[ERR_201_INDEX_NOT_INITIALIZED] index a-b is not initialized",
		},
		{
			name:     "with cause",
			code:     ErrCodeStoreTimeout,
			message:  "request timed out",
			cause:    errors.New("context deadline exceeded"),
			expected: "[ERR_301_STORE_TIMEOUT] request timed out: context deadline exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, tt.cause)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestError_Is_MatchesByCode(t *testing.T) {
	// Given: a sentinel and a concrete error with the same code
	sentinel := Sentinel(ErrCodeNotInitialized, "not initialized")
	err := NotInitializedError("a-b", nil)

	// Then: they match by code, also through fmt wrapping
	assert.True(t, errors.Is(err, sentinel))
	assert.True(t, errors.Is(fmt.Errorf("insert: %w", err), sentinel))
}

func TestError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err1 := New(ErrCodeNotInitialized, "not initialized", nil)
	err2 := New(ErrCodeHandleClosed, "closed", nil)

	assert.False(t, errors.Is(err1, err2))
}

func TestError_WithDetails_AddsContext(t *testing.T) {
	err := New(ErrCodeDocumentNotFound, "document not found", nil)

	err = err.WithDetail("index", "a-b")
	err = err.WithDetail("id", "42")

	assert.Equal(t, "a-b", err.Details["index"])
	assert.Equal(t, "42", err.Details["id"])
}

func TestError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrCodeConfigNotFound, CategoryConfig},
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeNotInitialized, CategoryState},
		{ErrCodeMappingConflict, CategoryState},
		{ErrCodeStoreTimeout, CategoryNetwork},
		{ErrCodeStoreUnavailable, CategoryNetwork},
		{ErrCodeInvalidInput, CategoryValidation},
		{ErrCodeInvalidHint, CategoryValidation},
		{ErrCodeInternal, CategoryInternal},
		{ErrCodePartialRemove, CategoryInternal},
		{"bad", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestError_SeverityFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantSeverity Severity
	}{
		{ErrCodeHandleClosed, SeverityFatal},
		{ErrCodeBootstrapFailed, SeverityWarning},
		{ErrCodeNotInitialized, SeverityError},
		{ErrCodeStoreTimeout, SeverityWarning}, // Retryable, so warning
		{ErrCodeStoreUnavailable, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
		})
	}
}

func TestError_RetryableFromCode(t *testing.T) {
	tests := []struct {
		code          string
		wantRetryable bool
	}{
		{ErrCodeStoreTimeout, true},
		{ErrCodeStoreUnavailable, true},
		{ErrCodeStoreRejected, true},
		{ErrCodeNotInitialized, false},
		{ErrCodeConfigInvalid, false},
		{ErrCodeMappingFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWrap_CreatesErrorFromError(t *testing.T) {
	originalErr := errors.New("something went wrong")

	err := Wrap(ErrCodeInternal, originalErr)

	require.NotNil(t, err)
	assert.Equal(t, ErrCodeInternal, err.Code)
	assert.Equal(t, "something went wrong", err.Message)
	assert.Equal(t, "[ERR_501_INTERNAL] something went wrong", err.Error())
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestNotInitializedError_HasSuggestion(t *testing.T) {
	err := NotInitializedError("correl8-events", nil)

	assert.Equal(t, CategoryState, err.Category)
	assert.Equal(t, "correl8-events", err.Details["index"])
	assert.Contains(t, err.Suggestion, "init")
}

func TestHelpers_InspectWrappedChains(t *testing.T) {
	inner := NetworkError("connection refused", nil)
	wrapped := fmt.Errorf("bulk: %w", inner)

	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsFatal(wrapped))
	assert.Equal(t, ErrCodeStoreUnavailable, GetCode(wrapped))
	assert.Equal(t, CategoryNetwork, GetCategory(wrapped))

	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Empty(t, GetCode(errors.New("plain")))
	assert.True(t, IsFatal(New(ErrCodeHandleClosed, "closed", nil)))
}
