// Package errors provides categorized errors for classifying failures at the
// ingestion pipeline's component boundaries.
package errors

import (
	"errors"
	"fmt"
	"time"

	"github.com/cast-indexer/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryHub represents hub collaborator errors (remote fetch/subscribe)
	CategoryHub ErrorCategory = "hub"
	// CategoryProfileAPI represents profile-data collaborator errors
	CategoryProfileAPI ErrorCategory = "profile_api"
	// CategoryDatabase represents store errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
	// CategoryValidation represents malformed-input errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryConflict represents identity-uniqueness conflicts
	CategoryConflict ErrorCategory = "conflict"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryTimeout represents per-attempt deadline errors
	CategoryTimeout ErrorCategory = "timeout"
)

// CategorizedError represents an error with a category and machine-readable code
type CategorizedError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
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

// ToServiceError converts to a ServiceError for API responses
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// CategoryOf returns the category of err, or an empty category when err is not
// categorized
func CategoryOf(err error) ErrorCategory {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ""
}

// IsDuplicate reports whether err represents an identity-uniqueness conflict.
// The dedup sink treats these as success-as-no-op rather than failures.
func IsDuplicate(err error) bool {
	return CategoryOf(err) == CategoryConflict
}

// NewDuplicateCastError creates a conflict error for a concurrent insert of the
// same cast hash
func NewDuplicateCastError(hash string) *CategorizedError {
	return &CategorizedError{
		Category: CategoryConflict,
		Code:     "DUPLICATE_CAST",
		Message:  fmt.Sprintf("cast already exists: %s", hash),
		Details: map[string]interface{}{
			"hash": hash,
		},
	}
}

// NewHubError creates a hub collaborator error
func NewHubError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryHub,
		Code:     "HUB_ERROR",
		Message:  fmt.Sprintf("hub request failed: %s", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
		Cause: cause,
	}
}

// NewProfileAPIError creates a profile-data collaborator error
func NewProfileAPIError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryProfileAPI,
		Code:     "PROFILE_API_ERROR",
		Message:  fmt.Sprintf("profile API request failed: %s", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
		Cause: cause,
	}
}

// NewDatabaseError creates a store error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryDatabase,
		Code:     "DATABASE_ERROR",
		Message:  fmt.Sprintf("database operation failed: %s", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
		Cause: cause,
	}
}

// NewCacheError creates a cache error. Cache failures are advisory; callers
// log them and fall through to the authoritative store.
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryCache,
		Code:     "CACHE_ERROR",
		Message:  fmt.Sprintf("cache operation failed: %s", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
		Cause: cause,
	}
}

// NewTimeoutError creates a per-attempt deadline error
func NewTimeoutError(operation string, timeout time.Duration, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryTimeout,
		Code:     "TIMEOUT",
		Message:  fmt.Sprintf("%s did not settle within %v", operation, timeout),
		Details: map[string]interface{}{
			"operation": operation,
			"timeout":   timeout.String(),
		},
		Cause: cause,
	}
}

// NewValidationError creates a malformed-input error
func NewValidationError(message string, details map[string]interface{}) *CategorizedError {
	return &CategorizedError{
		Category: CategoryValidation,
		Code:     "VALIDATION_ERROR",
		Message:  message,
		Details:  details,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, key interface{}) *CategorizedError {
	return &CategorizedError{
		Category: CategoryNotFound,
		Code:     "NOT_FOUND",
		Message:  fmt.Sprintf("%s not found: %v", resource, key),
		Details: map[string]interface{}{
			"resource": resource,
			"key":      key,
		},
	}
}
