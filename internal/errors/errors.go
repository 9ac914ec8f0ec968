// Package errors provides the error taxonomy of the presence engine.
package errors

import (
	"fmt"
	"net/http"

	"github.com/presence-engine/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryInvariant represents a stored-state invariant violation.
	// Not retried automatically - it indicates upstream duplicate events.
	CategoryInvariant ErrorCategory = "invariant"
	// CategoryPublishTarget represents an unreachable or deleted publish target
	CategoryPublishTarget ErrorCategory = "publish_target"
	// CategoryScheduledJob represents a reset or scan failing mid-run
	CategoryScheduledJob ErrorCategory = "scheduled_job"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryValidation represents validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategorySystem represents other system errors
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
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

// NewInvariantViolationError signals that stored session state does not match
// what exactly one open session per user implies. The triggering operation
// must abort without partial writes.
func NewInvariantViolationError(userID types.UserID, openSessions int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInvariant,
		StatusCode: http.StatusConflict,
		Code:       "OPEN_SESSION_INVARIANT",
		Message:    fmt.Sprintf("expected exactly one open session for user %s, found %d", userID, openSessions),
		Details: map[string]interface{}{
			"userId":       string(userID),
			"openSessions": openSessions,
		},
	}
}

// NewBrokenTargetError records a publish target that no longer resolves
func NewBrokenTargetError(house types.House, target types.TargetRef) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPublishTarget,
		StatusCode: http.StatusBadGateway,
		Code:       "PUBLISH_TARGET_BROKEN",
		Message:    fmt.Sprintf("publish target %s for house %s no longer resolves", target, house),
		Details: map[string]interface{}{
			"house":  string(house),
			"target": string(target),
		},
	}
}

// NewScheduledJobError wraps a failure of the reset service or the
// reconciliation scan with the job name for operator context
func NewScheduledJobError(job string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryScheduledJob,
		StatusCode: http.StatusInternalServerError,
		Code:       "SCHEDULED_JOB_FAILED",
		Message:    fmt.Sprintf("scheduled job %s failed", job),
		Cause:      cause,
		Details: map[string]interface{}{
			"job": job,
		},
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

// NewValidationError creates an invalid parameter error
func NewValidationError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
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

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	if catErr, ok := err.(*CategorizedError); ok {
		return catErr
	}

	if svcErr, ok := err.(*types.ServiceError); ok {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	// Invariant violations indicate duplicate upstream events and must not be
	// replayed; broken targets are cleaned up, not retried.
	switch catErr.Category {
	case CategoryDatabase, CategorySystem:
		return true
	default:
		return false
	}
}
