package correl8

import (
	cerrors "github.com/correl8/correl8/internal/errors"
)

// Errors returned by handle operations. They match with errors.Is against the
// structured errors the handle returns, which carry the index and a suggestion.
var (
	// ErrNotInitialized means the active index does not exist or has no mapping.
	ErrNotInitialized = cerrors.Sentinel(cerrors.ErrCodeNotInitialized, "index is not initialized")
	// ErrMappingFailed means an index could not be created or mapped.
	ErrMappingFailed = cerrors.Sentinel(cerrors.ErrCodeMappingFailed, "failed to apply mapping")
	// ErrPartialRemove means the active index was removed but the config index was not.
	ErrPartialRemove = cerrors.Sentinel(cerrors.ErrCodePartialRemove, "config index was not removed")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = cerrors.Sentinel(cerrors.ErrCodeHandleClosed, "handle is closed")
	// ErrInvalidHint means a schema source could not be used.
	ErrInvalidHint = cerrors.Sentinel(cerrors.ErrCodeInvalidHint, "invalid schema hint")
	// ErrBootstrapFailed is reported by WaitBootstrap when the config index
	// could not be created.
	ErrBootstrapFailed = cerrors.Sentinel(cerrors.ErrCodeBootstrapFailed, "config index bootstrap failed")
)
