// Package errors provides structured error handling for correl8.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Index and document state errors
//   - 3XX: Store transport errors
//   - 4XX: Validation errors
//   - 5XX: Internal and multi-step operation errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryState indicates the index or document is not in the required state.
	CategoryState Category = "STATE"
	// CategoryNetwork indicates failures talking to the store.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates failed operations and unexpected internal errors.
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
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigPermission = "ERR_103_CONFIG_PERMISSION"

	// State errors (200-299)
	ErrCodeNotInitialized   = "ERR_201_INDEX_NOT_INITIALIZED"
	ErrCodeDocumentNotFound = "ERR_202_DOCUMENT_NOT_FOUND"
	ErrCodeMappingConflict  = "ERR_203_MAPPING_CONFLICT"
	ErrCodeScrollExpired    = "ERR_204_SCROLL_EXPIRED"

	// Network errors (300-399)
	ErrCodeStoreTimeout     = "ERR_301_STORE_TIMEOUT"
	ErrCodeStoreUnavailable = "ERR_302_STORE_UNAVAILABLE"
	ErrCodeStoreRejected    = "ERR_303_STORE_REJECTED"

	// Validation errors (400-499)
	ErrCodeInvalidInput    = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidHint     = "ERR_402_INVALID_HINT"
	ErrCodeInvalidQuery    = "ERR_403_INVALID_QUERY"
	ErrCodeInvalidDocument = "ERR_404_INVALID_DOCUMENT"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeMappingFailed   = "ERR_502_MAPPING_FAILED"
	ErrCodePartialRemove   = "ERR_503_PARTIAL_REMOVE"
	ErrCodeHandleClosed    = "ERR_504_HANDLE_CLOSED"
	ErrCodeBootstrapFailed = "ERR_505_BOOTSTRAP_FAILED"
	ErrCodeStoreFailed     = "ERR_506_STORE_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_NOT_FOUND")
	numStr := code[4:7]

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryState
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeHandleClosed:
		return SeverityFatal
	case ErrCodeBootstrapFailed:
		return SeverityWarning
	}

	// Retryable network errors get warning severity
	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeStoreTimeout, ErrCodeStoreUnavailable, ErrCodeStoreRejected:
		return true
	default:
		return false
	}
}
