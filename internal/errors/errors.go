package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/inventory-importer/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
	// CategoryValidation represents validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryAuthorization represents authorization errors
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategoryFile represents problems with the uploaded file itself
	CategoryFile ErrorCategory = "file"
)

// CategorizedError represents an error with category and HTTP status code.
// Message is always safe to show to the caller; Cause never is.
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Request errors

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("Invalid %s: %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
	}
}

// NewInvalidCSRFError is returned when the anti-forgery token does not match the session
func NewInvalidCSRFError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusForbidden,
		Code:       "INVALID_CSRF_TOKEN",
		Message:    "Invalid or missing security token. Please refresh the page and try again.",
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many imports. Please wait before trying again.",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// File errors

// NewMissingFileError is returned when no file or an empty file was uploaded
func NewMissingFileError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryFile,
		StatusCode: http.StatusBadRequest,
		Code:       "FILE_REQUIRED",
		Message:    "No file provided or file is empty",
	}
}

// NewFileTooLargeError is returned when the upload exceeds the size limit
func NewFileTooLargeError(size, limit int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryFile,
		StatusCode: http.StatusRequestEntityTooLarge,
		Code:       "FILE_TOO_LARGE",
		Message:    fmt.Sprintf("File too large. Maximum size is %dMB", limit/(1024*1024)),
		Details: map[string]interface{}{
			"size":  size,
			"limit": limit,
		},
	}
}

// NewUnsupportedFileTypeError is returned when the detected MIME type is not allowed
func NewUnsupportedFileTypeError(mime string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryFile,
		StatusCode: http.StatusUnsupportedMediaType,
		Code:       "UNSUPPORTED_FILE_TYPE",
		Message:    "Invalid file type. Please upload a CSV or XLSX file.",
		Details: map[string]interface{}{
			"mimeType": mime,
		},
	}
}

// NewRowCapExceededError is returned when the file has more data rows than allowed
func NewRowCapExceededError(limit int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryFile,
		StatusCode: http.StatusRequestEntityTooLarge,
		Code:       "ROW_LIMIT_EXCEEDED",
		Message:    fmt.Sprintf("File exceeds the maximum of %d rows. Please split it into smaller files.", limit),
		Details: map[string]interface{}{
			"limit": limit,
		},
	}
}

// NewMalformedFileError is returned when the decoder cannot recover a row boundary
func NewMalformedFileError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryFile,
		StatusCode: http.StatusBadRequest,
		Code:       "MALFORMED_FILE",
		Message:    "The file could not be parsed. Please check that it is a valid CSV or XLSX file.",
		Cause:      cause,
	}
}

// NewFileStructureError describes a file whose layout cannot be imported.
// Message must already be safe to show.
func NewFileStructureError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryFile,
		StatusCode: http.StatusBadRequest,
		Code:       "MALFORMED_FILE",
		Message:    message,
		Cause:      cause,
	}
}

// NewConstraintViolationError is returned when the destination rejects a write.
// Message must already be safe to show.
func NewConstraintViolationError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "CONSTRAINT_VIOLATION",
		Message:    message,
		Cause:      cause,
	}
}

// System Errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(service string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    fmt.Sprintf("service unavailable: %s", service),
		Details: map[string]interface{}{
			"service": service,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusGatewayTimeout,
			Code:       "TIMEOUT",
			Message:    "operation timed out",
			Cause:      err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewServiceUnavailableError("database")
	}

	return NewInternalError("unexpected error", err)
}

// categorizeServiceError categorizes a ServiceError
func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	out := &CategorizedError{
		Code:    err.Code,
		Message: err.Message,
		Details: err.Details,
	}
	switch err.Code {
	case "INVALID_PARAMETER", "INVALID_IMPORT_TYPE", "INVALID_MAPPING":
		out.Category, out.StatusCode = CategoryValidation, http.StatusBadRequest
	case "NOT_FOUND", "IMPORT_NOT_FOUND":
		out.Category, out.StatusCode = CategoryNotFound, http.StatusNotFound
	case "UNAUTHORIZED":
		out.Category, out.StatusCode = CategoryAuthorization, http.StatusUnauthorized
	case "FORBIDDEN", "INVALID_CSRF_TOKEN":
		out.Category, out.StatusCode = CategoryAuthorization, http.StatusForbidden
	case "RATE_LIMIT_EXCEEDED":
		out.Category, out.StatusCode = CategoryRateLimit, http.StatusTooManyRequests
	default:
		out.Category, out.StatusCode = CategorySystem, http.StatusInternalServerError
	}
	return out
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// UserMessage returns text that is safe to put in a response body
func UserMessage(err error) string {
	catErr := Categorize(err)
	if catErr == nil {
		return ""
	}
	if catErr.Category == CategorySystem || catErr.Category == CategoryDatabase || catErr.Category == CategoryCache {
		return "An unexpected error occurred. Please try again."
	}
	return catErr.Message
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryDatabase, CategoryCache:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
