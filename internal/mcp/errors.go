// Package mcp implements the Model Context Protocol (MCP) server for correl8.
package mcp

import (
	"context"
	"errors"
	"fmt"

	cerrors "github.com/correl8/correl8/internal/errors"
	"github.com/correl8/correl8/pkg/store"
)

// Custom MCP error codes for correl8.
const (
	// ErrCodeNotInitialized indicates the active index does not exist.
	ErrCodeNotInitialized = -32001

	// ErrCodeStoreUnavailable indicates the document store could not be reached.
	ErrCodeStoreUnavailable = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeDocumentNotFound indicates a document id does not exist.
	ErrCodeDocumentNotFound = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Sentinel errors for internal use.
var (
	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidParams indicates invalid parameters were provided.
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrResourceNotFound indicates the requested resource does not exist.
	ErrResourceNotFound = errors.New("resource not found")
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
// It maps known error types to appropriate MCP error codes and messages.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	// Structured errors carry their own message and suggestion
	var ce *cerrors.Error
	if errors.As(err, &ce) {
		return mapStructuredError(ce)
	}

	switch {
	case errors.Is(err, store.ErrIndexNotFound):
		return &MCPError{
			Code:    ErrCodeNotInitialized,
			Message: "Index not found. Run 'correl8 init' first.",
		}
	case errors.Is(err, store.ErrDocumentNotFound):
		return &MCPError{
			Code:    ErrCodeDocumentNotFound,
			Message: "Document not found.",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request timed out.",
		}
	case errors.Is(err, context.Canceled):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request was canceled.",
		}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{
			Code:    ErrCodeMethodNotFound,
			Message: "Tool not found.",
		}
	case errors.Is(err, ErrInvalidParams):
		return &MCPError{
			Code:    ErrCodeInvalidParams,
			Message: "Invalid parameters.",
		}
	case errors.Is(err, ErrResourceNotFound):
		return &MCPError{
			Code:    ErrCodeMethodNotFound,
			Message: "Resource not found.",
		}
	default:
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: "Internal server error.",
		}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// NewMethodNotFoundError creates an error for unknown methods/tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Resource '%s' not found.", uri),
	}
}

// mapStructuredError converts a structured error to an MCPError.
func mapStructuredError(ce *cerrors.Error) *MCPError {
	message := ce.Message
	if ce.Suggestion != "" {
		message = fmt.Sprintf("%s. %s", ce.Message, ce.Suggestion)
	}

	switch ce.Category {
	case cerrors.CategoryState:
		code := ErrCodeNotInitialized
		if ce.Code == cerrors.ErrCodeDocumentNotFound {
			code = ErrCodeDocumentNotFound
		}
		return &MCPError{Code: code, Message: message}
	case cerrors.CategoryNetwork:
		code := ErrCodeStoreUnavailable
		if ce.Code == cerrors.ErrCodeStoreTimeout {
			code = ErrCodeTimeout
		}
		return &MCPError{Code: code, Message: message}
	case cerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	default: // config, internal and unknown
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
