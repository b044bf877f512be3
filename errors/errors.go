package errors

import (
	"fmt"
)

// Error categories for structured error handling
const (
	CategoryConfig     = "config"
	CategoryDatabase   = "database"
	CategoryServer     = "server"
	CategoryValidation = "validation"
	CategoryNetwork    = "network"
	CategorySource     = "source"
	CategoryParse      = "parse"
)

// ScopeError represents a structured error with category and context
type ScopeError struct {
	Category string
	Code     string
	Message  string
	Cause    error
	Context  map[string]interface{}
}

func (e *ScopeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

func (e *ScopeError) Unwrap() error {
	return e.Cause
}

func (e *ScopeError) WithContext(key string, value interface{}) *ScopeError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new ScopeError
func New(category, code, message string) *ScopeError {
	return &ScopeError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with ScopeError
func Wrap(err error, category, code, message string) *ScopeError {
	return &ScopeError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    err,
		Context:  make(map[string]interface{}),
	}
}

// Config errors
var (
	ErrInvalidPort       = New(CategoryConfig, "INVALID_PORT", "invalid port number")
	ErrInvalidLibraryURL = New(CategoryConfig, "INVALID_LIBRARY_URL", "invalid library URL")
	ErrInvalidLogLevel   = New(CategoryConfig, "INVALID_LOG_LEVEL", "invalid log level")
	ErrInvalidDataDir    = New(CategoryConfig, "INVALID_DATA_DIR", "invalid data directory")
	ErrMissingAPIKey     = New(CategoryConfig, "MISSING_API_KEY", "missing API key")
)

// Database errors
var (
	ErrDatabaseConnection = New(CategoryDatabase, "CONNECTION_FAILED", "database connection failed")
	ErrDatabaseQuery      = New(CategoryDatabase, "QUERY_FAILED", "database query failed")
	ErrDatabaseMigration  = New(CategoryDatabase, "MIGRATION_FAILED", "database migration failed")
	ErrEntryNotFound      = New(CategoryDatabase, "ENTRY_NOT_FOUND", "history entry not found")
)

// Server errors
var (
	ErrServerStart    = New(CategoryServer, "START_FAILED", "server failed to start")
	ErrServerShutdown = New(CategoryServer, "SHUTDOWN_FAILED", "server shutdown failed")
)

// Network errors
var (
	ErrNetworkTimeout     = New(CategoryNetwork, "TIMEOUT", "network timeout")
	ErrNetworkUnavailable = New(CategoryNetwork, "UNAVAILABLE", "network unavailable")
)

// Validation errors
var (
	ErrValidationFailed = New(CategoryValidation, "VALIDATION_FAILED", "validation failed")
	ErrInvalidInput     = New(CategoryValidation, "INVALID_INPUT", "invalid input")
	ErrMissingParameter = New(CategoryValidation, "MISSING_PARAMETER", "missing required parameter")
	ErrMalformedInput   = New(CategoryValidation, "MALFORMED_INPUT", "malformed input field")
)

// Source errors
var (
	ErrSourceUnavailable = New(CategorySource, "SOURCE_UNAVAILABLE", "external source unavailable")
	ErrSourceResponse    = New(CategorySource, "BAD_RESPONSE", "external source returned an unusable response")
)

// Parse errors
var (
	ErrParseFailure = New(CategoryParse, "PARSE_FAILURE", "line does not match the expected structure")
)

// Helper functions for common error patterns
func IsCategory(err error, category string) bool {
	var scopeErr *ScopeError
	if !As(err, &scopeErr) {
		return false
	}
	return scopeErr.Category == category
}

func GetErrorCode(err error) string {
	var scopeErr *ScopeError
	if !As(err, &scopeErr) {
		return ""
	}
	return scopeErr.Code
}

func GetErrorContext(err error) map[string]interface{} {
	var scopeErr *ScopeError
	if !As(err, &scopeErr) {
		return nil
	}
	return scopeErr.Context
}

// As is a wrapper around errors.As
func As(err error, target interface{}) bool {
	if err == nil {
		return false
	}
	// Simple type assertion for our use case
	if scopeErr, ok := err.(*ScopeError); ok {
		if targetPtr, ok := target.(**ScopeError); ok {
			*targetPtr = scopeErr
			return true
		}
	}
	return false
}
