// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package apperr defines the centralized error handling framework for Mongrest.

It provides a rich error type that bridges the gap between low-level parser,
registry, and storage errors and high-level HTTP responses.

Architecture:

  - AppError: A struct containing a wire-stable error Kind and user-friendly messages.
  - Suggestion: An optional actionable hint (which operator, which method would work).
  - Mapping: Explicit mapping from AppError to standard HTTP status codes.

Every error that leaves the service layer should be wrapped as an [AppError] to ensure
consistent API responses.
*/
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// # Error Kinds
//
// Kind values are part of the wire protocol and must never change once published.
const (
	KindAuthentication    = "authentication"
	KindAuthorization     = "authorization"
	KindNotFound          = "notFound"
	KindSchemaValidation  = "schemaValidation"
	KindQueryParse        = "queryParse"
	KindMethodMismatch    = "methodOperationMismatch"
	KindRelationshipDepth = "relationshipDepth"
	KindComplexity        = "complexityExceeded"
	KindRateLimit         = "rateLimit"
	KindDuplicateKey      = "duplicateKey"
	KindTimeout           = "timeout"
	KindInternal          = "internal"
	KindScriptParse       = "scriptParse"
	KindScriptSecurity    = "scriptSecurity"
	KindProcedureStep     = "procedureStep"
)

// AppError is the canonical error type for the Mongrest API.
//
// It carries an HTTP status code, a wire-stable kind, a client-safe
// message, optional structured details, and an optional suggestion.
//
// # Security
//
// The Cause field is for server-side logging only and is never sent to clients
// to avoid leaking descriptor internals or driver state.
type AppError struct {
	// Kind is the wire-stable error identifier (e.g. "queryParse").
	Kind string `json:"error"`
	// Message is a human-readable description safe to return to the client.
	Message string `json:"message"`
	// HTTPStatus is the HTTP response status code.
	HTTPStatus int `json:"-"`
	// Cause is the underlying error, used for server-side logging only.
	Cause error `json:"-"`
	// Details holds structured diagnostic data (per-field errors, partial
	// procedure step outputs, the offending operator).
	Details any `json:"details,omitempty"`
	// Suggestion tells the caller the minimum needed to act, e.g. the HTTP
	// method that would have been accepted.
	Suggestion string `json:"suggestion,omitempty"`
	// CorrelationID ties a 5xx response to the server-side log line.
	CorrelationID string `json:"correlationId,omitempty"`
	// RetryAfter is the retry hint in seconds for rate-limited responses.
	RetryAfter int `json:"retryAfter,omitempty"`
}

// FieldError represents a single field-level validation failure.
type FieldError struct {
	// Field is the JSON field name that failed validation.
	Field string `json:"field"`
	// Message is the human-readable description of the failure.
	Message string `json:"message"`
}

// Error implements the error interface. It returns the client-safe message.
func (e *AppError) Error() string { return e.Message }

// Unwrap allows [errors.Is] and [errors.As] to traverse the cause chain.
func (e *AppError) Unwrap() error { return e.Cause }

// WithSuggestion attaches an actionable hint and returns the same error.
func (e *AppError) WithSuggestion(s string) *AppError {
	e.Suggestion = s
	return e
}

// WithDetails attaches structured diagnostic data and returns the same error.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// # Client Errors (4xx)

// Authentication creates a 401 [AppError].
func Authentication(msg string) *AppError {
	return &AppError{
		Kind:       KindAuthentication,
		Message:    msg,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Authorization creates a 403 [AppError].
func Authorization(msg string) *AppError {
	return &AppError{
		Kind:       KindAuthorization,
		Message:    msg,
		HTTPStatus: http.StatusForbidden,
	}
}

// NotFound creates a 404 [AppError] for a named resource.
//
// Example:
//
//	apperr.NotFound("Collection", "orders") // "Collection 'orders' not found"
func NotFound(resource, name string) *AppError {
	return &AppError{
		Kind:       KindNotFound,
		Message:    fmt.Sprintf("%s %q not found", resource, name),
		HTTPStatus: http.StatusNotFound,
	}
}

// SchemaValidation creates a 400 [AppError] with per-field details.
func SchemaValidation(msg string, details []FieldError) *AppError {
	return &AppError{
		Kind:       KindSchemaValidation,
		Message:    msg,
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// QueryParse creates a 400 [AppError] for selection/filter parse failures.
func QueryParse(msg string) *AppError {
	return &AppError{
		Kind:       KindQueryParse,
		Message:    msg,
		HTTPStatus: http.StatusBadRequest,
	}
}

// MethodMismatch creates a 400 [AppError] for a strict-mode method/operation
// conflict. The suggested method is carried in Suggestion.
func MethodMismatch(operation, method, suggested string) *AppError {
	return &AppError{
		Kind:       KindMethodMismatch,
		Message:    fmt.Sprintf("Operation %q is not allowed with %s", operation, method),
		HTTPStatus: http.StatusBadRequest,
		Suggestion: fmt.Sprintf("Use %s for %s", suggested, operation),
	}
}

// RelationshipDepth creates a 400 [AppError] for over-deep selections.
func RelationshipDepth(depth, max int) *AppError {
	return &AppError{
		Kind:       KindRelationshipDepth,
		Message:    fmt.Sprintf("Relationship depth %d exceeds the maximum of %d", depth, max),
		HTTPStatus: http.StatusBadRequest,
	}
}

// Complexity creates a 429 [AppError] for queries over the role ceiling.
func Complexity(cost, ceiling int) *AppError {
	return &AppError{
		Kind:       KindComplexity,
		Message:    fmt.Sprintf("Query complexity %d exceeds the limit of %d for your role", cost, ceiling),
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// RateLimited creates a 429 [AppError] with a retry-after hint.
func RateLimited(retryAfterSeconds int) *AppError {
	return &AppError{
		Kind:       KindRateLimit,
		Message:    fmt.Sprintf("Too many requests. Try again in %ds.", retryAfterSeconds),
		HTTPStatus: http.StatusTooManyRequests,
		RetryAfter: retryAfterSeconds,
	}
}

// DuplicateKey creates a 409 [AppError] for unique-index violations.
func DuplicateKey(cause error) *AppError {
	return &AppError{
		Kind:       KindDuplicateKey,
		Message:    "A document with the same unique key already exists",
		HTTPStatus: http.StatusConflict,
		Cause:      cause,
	}
}

// Timeout creates a 504 [AppError] for a cancelled or expired operation.
func Timeout(what string, cause error) *AppError {
	return &AppError{
		Kind:       KindTimeout,
		Message:    what + " timed out",
		HTTPStatus: http.StatusGatewayTimeout,
		Cause:      cause,
	}
}

// ScriptParse creates a 400 [AppError] for shell-script syntax failures.
func ScriptParse(msg string) *AppError {
	return &AppError{
		Kind:       KindScriptParse,
		Message:    msg,
		HTTPStatus: http.StatusBadRequest,
	}
}

// ScriptSecurity creates a 403 [AppError] for rejected dangerous operators.
func ScriptSecurity(operator string) *AppError {
	return &AppError{
		Kind:       KindScriptSecurity,
		Message:    fmt.Sprintf("Operator %q is not permitted", operator),
		HTTPStatus: http.StatusForbidden,
	}
}

// ProcedureStep creates a 500 [AppError] for a failed procedure step. The
// partial step outputs should be attached via [AppError.WithDetails] so
// callers can diagnose which steps completed.
func ProcedureStep(stepID string, cause error) *AppError {
	return &AppError{
		Kind:       KindProcedureStep,
		Message:    fmt.Sprintf("Procedure step %q failed", stepID),
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// # Server Errors (5xx)

// Internal creates a 500 [AppError] wrapping an unexpected server-side error.
// The cause is stored for logging but is never sent to the client.
func Internal(cause error) *AppError {
	return &AppError{
		Kind:       KindInternal,
		Message:    "An unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// # Helpers

// IsAppError reports whether err (or any error in its chain) is an [*AppError].
func IsAppError(err error) bool {
	var ae *AppError
	return errors.As(err, &ae)
}

// As extracts the [*AppError] from err's chain. It returns nil if not found.
func As(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}
