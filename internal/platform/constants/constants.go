// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package constants provides centralized, immutable values for the entire platform.

It defines default timeouts, pagination bounds, and cross-cutting keys that are
shared between different layers of the gateway.

Categories:

  - Server Timing: Read/Write/Idle timeouts for the HTTP server.
  - Query Plane: default pagination and relationship-depth bounds.
  - Security: JWT issuer and header names.

Using this package ensures Magic Strings and Magic Numbers are eliminated
from the business logic.
*/
package constants

import "time"

// # Metadata

const (
	AppName    = "mongrest-api"
	AppVersion = "0.1.0-dev"
)

// # Server Timing

const (
	// DefaultReadTimeout is the maximum duration for reading the entire request.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout is the maximum duration before timing out writes of the response.
	DefaultWriteTimeout = 30 * time.Second

	// DefaultIdleTimeout is the maximum amount of time to wait for the next request.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultReadHeaderTimeout is the amount of time allowed to read request headers.
	DefaultReadHeaderTimeout = 2 * time.Second

	// GlobalRequestTimeout is the deadline for the entire request lifecycle.
	GlobalRequestTimeout = 30 * time.Second

	// AggregateRequestTimeout is the extended deadline for raw aggregation
	// requests, which routinely outlive a normal pool borrow.
	AggregateRequestTimeout = 120 * time.Second

	// ShutdownTimeout is how long we wait for in-flight requests to complete during shutdown.
	ShutdownTimeout = 30 * time.Second
)

// # Query Plane

const (
	// DefaultPageLimit is the number of documents per page when the request
	// and the collection descriptor are both silent.
	DefaultPageLimit = 20

	// DefaultMaxLimit is the hard per-page ceiling when the collection
	// descriptor does not declare its own.
	DefaultMaxLimit = 100

	// DefaultMaxRelationshipDepth bounds nested relationship expansion.
	DefaultMaxRelationshipDepth = 3

	// PipelineRecursionBudget is an independent guard on relationship
	// descent inside the pipeline builder. Exceeding it is an invariant
	// violation, not a user error.
	PipelineRecursionBudget = 8
)

// # Procedures

const (
	// DefaultProcedureTimeout bounds a whole procedure invocation.
	DefaultProcedureTimeout = 60 * time.Second

	// DefaultStepTimeout bounds a single procedure step.
	DefaultStepTimeout = 10 * time.Second

	// DefaultRetryBackoff is the fixed pause between retry attempts.
	DefaultRetryBackoff = 500 * time.Millisecond
)

// # Rate Limiting

const (
	// RateLimitCleanupInterval is how often idle buckets are evicted from
	// the in-process fallback limiter.
	RateLimitCleanupInterval = 1 * time.Minute

	// RateLimitClientTTL is how long a subject must be idle before its
	// bucket is deleted.
	RateLimitClientTTL = 3 * time.Minute
)

// # Authentication

const (
	// AuthIssuer is the standard 'iss' claim in JWTs.
	AuthIssuer = "mongrest.app"
)

// # HTTP Headers

const (
	HeaderXRequestID    = "X-Request-ID"
	HeaderXRealIP       = "X-Real-IP"
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderOrigin        = "Origin"
	HeaderRetryAfter    = "Retry-After"
)

// # JSON Field Identifiers

const (
	FieldSuccess = "success"
	FieldData    = "data"
	FieldMeta    = "meta"
	FieldError   = "error"
	FieldMessage = "message"
	FieldDetails = "details"
	FieldStatus  = "status"
	FieldChecks  = "checks"
)

// # Redis Prefixes (Cache Taxonomy)

const (
	RedisPrefixRateLimit   = "gw:ratelimit:"
	RedisPrefixResultCache = "gw:cache:"
)
