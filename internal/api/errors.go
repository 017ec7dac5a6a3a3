package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	apperrors "github.com/inventory-importer/internal/errors"
	"github.com/inventory-importer/internal/logging"
	"github.com/inventory-importer/internal/models"
	"github.com/inventory-importer/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	respondJSON(w, statusCode, ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// respondServiceError maps a service error onto a response. Internal
// details never reach the body.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)
	if catErr.StatusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).Error("Request failed")
		respondError(w, catErr.StatusCode, catErr.Code, apperrors.UserMessage(catErr), nil)
		return
	}
	respondError(w, catErr.StatusCode, catErr.Code, apperrors.UserMessage(catErr), catErr.Details)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Common error codes
const (
	ErrCodeInvalidInput  = "INVALID_PARAMETER"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// requestErrorStatus maps the codes of request-level import failures to
// HTTP statuses
var requestErrorStatus = map[string]int{
	"UNAUTHORIZED":          http.StatusUnauthorized,
	"FORBIDDEN":             http.StatusForbidden,
	"INVALID_CSRF_TOKEN":    http.StatusForbidden,
	"RATE_LIMIT_EXCEEDED":   http.StatusTooManyRequests,
	"FILE_REQUIRED":         http.StatusBadRequest,
	"FILE_TOO_LARGE":        http.StatusRequestEntityTooLarge,
	"UNSUPPORTED_FILE_TYPE": http.StatusUnsupportedMediaType,
	"ROW_LIMIT_EXCEEDED":    http.StatusRequestEntityTooLarge,
	"MALFORMED_FILE":        http.StatusBadRequest,
	"INVALID_PARAMETER":     http.StatusBadRequest,
	"INTERNAL_ERROR":        http.StatusInternalServerError,
}

// importStatus picks the status code of an import response. Once a ledger
// entry exists the pipeline owns the outcome and the response is 200 with
// success false; before that, request errors get their own status.
func importStatus(res *models.ImportResult) int {
	if res.ErrorCode == "" || res.ImportID != "" {
		return http.StatusOK
	}
	if status, ok := requestErrorStatus[res.ErrorCode]; ok {
		return status
	}
	return http.StatusBadRequest
}

// respondImport writes an ImportResult with the status derived from it
func respondImport(w http.ResponseWriter, res *models.ImportResult) {
	if res.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
	}
	respondJSON(w, importStatus(res), res)
}
