// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package respond provides HTTP response helpers used by all API handlers.
//
// # Architecture
//
// This package centralizes the presentation logic for HTTP responses.
// It ensures that every response (Success or Error) across the entire gateway
// follows a strict, predictable JSON envelope structure, so generated clients
// can parse data without per-endpoint special cases.
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/taibuivan/mongrest/internal/platform/apperr"
	"github.com/taibuivan/mongrest/internal/platform/constants"
	"github.com/taibuivan/mongrest/internal/platform/ctxutil"
)

// QueryMeta is the metadata block attached to every successful query response.
type QueryMeta struct {
	// ExecutionTime is the wall time spent serving the request, in milliseconds.
	ExecutionTime int64 `json:"executionTime"`
	// PipelineStages is the number of aggregation stages executed, when known.
	PipelineStages *int `json:"pipelineStages,omitempty"`
	// HasRelationships reports whether the query expanded any relationship.
	HasRelationships *bool `json:"hasRelationships,omitempty"`
	// Timestamp is when the response was produced.
	Timestamp time.Time `json:"timestamp"`
	// Cached reports that the payload was served from the result cache.
	Cached bool `json:"cached,omitempty"`
}

// NewQueryMeta builds a [QueryMeta] from a request start time.
func NewQueryMeta(start time.Time) QueryMeta {
	return QueryMeta{
		ExecutionTime: time.Since(start).Milliseconds(),
		Timestamp:     time.Now().UTC(),
	}
}

// WithPipeline records pipeline diagnostics on the metadata block.
func (m QueryMeta) WithPipeline(stages int, hasRelationships bool) QueryMeta {
	m.PipelineStages = &stages
	m.HasRelationships = &hasRelationships
	return m
}

// successEnvelope is the JSON envelope for all successful responses.
type successEnvelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data"`
	Meta    *QueryMeta `json:"meta,omitempty"`
}

// errorEnvelope is the JSON envelope for error responses.
type errorEnvelope struct {
	Success       bool   `json:"success"`
	Kind          string `json:"error"`
	Message       string `json:"message"`
	Details       any    `json:"details,omitempty"`
	Suggestion    string `json:"suggestion,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(writer http.ResponseWriter, statusCode int, payload any) {
	writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	writer.WriteHeader(statusCode)
	_ = json.NewEncoder(writer).Encode(payload)
}

// OK writes a 200 OK response with data in the standard success envelope.
func OK(writer http.ResponseWriter, data any) {
	JSON(writer, http.StatusOK, successEnvelope{Success: true, Data: data})
}

// Created writes a 201 Created response with data in the standard success envelope.
func Created(writer http.ResponseWriter, data any) {
	JSON(writer, http.StatusCreated, successEnvelope{Success: true, Data: data})
}

// Query writes a 200 OK response with data and the query metadata block.
func Query(writer http.ResponseWriter, data any, meta QueryMeta) {
	JSON(writer, http.StatusOK, successEnvelope{Success: true, Data: data, Meta: &meta})
}

// NoContent writes a 204 No Content response.
func NoContent(writer http.ResponseWriter) {
	writer.WriteHeader(http.StatusNoContent)
}

// Error converts any Go error into a standardized JSON API error response.
func Error(writer http.ResponseWriter, request *http.Request, err error) {
	requestID := ctxutil.GetRequestID(request.Context())

	var appError *apperr.AppError
	if !errors.As(err, &appError) {
		// Unexpected internal error: log full details but hide them from the client.
		logger := ctxutil.GetLogger(request.Context())
		logger.ErrorContext(request.Context(), "unhandled_error_swallowed",
			slog.String("error", err.Error()),
			slog.String("request_id", requestID),
		)
		appError = apperr.Internal(err)
	}

	// Always log 5xx errors as they indicate server-side issues. The request
	// id doubles as the correlation id surfaced to the client.
	if appError.HTTPStatus >= 500 {
		appError.CorrelationID = requestID
		logger := ctxutil.GetLogger(request.Context())
		logger.ErrorContext(request.Context(), "api_server_error",
			slog.String("kind", appError.Kind),
			slog.String("request_id", requestID),
			slog.Any("cause", appError.Cause),
		)
	}

	// Rate-limit style responses carry the retry hint as a header too.
	if appError.HTTPStatus == http.StatusTooManyRequests && appError.RetryAfter > 0 {
		writer.Header().Set(constants.HeaderRetryAfter, strconv.Itoa(appError.RetryAfter))
	}

	JSON(writer, appError.HTTPStatus, errorEnvelope{
		Success:       false,
		Kind:          appError.Kind,
		Message:       appError.Message,
		Details:       appError.Details,
		Suggestion:    appError.Suggestion,
		CorrelationID: appError.CorrelationID,
	})
}
