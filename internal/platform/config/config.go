// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components (Mongo, Redis, Registry) via constructors.
  - Zero Hidden State: No global variables are used to store config.

This ensures the gateway is Twelve-Factor compliant by storing config in the env.
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/taibuivan/mongrest/internal/platform/sec"
)

// # Configuration Schema

// Config holds all runtime configuration for the Mongrest API server.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// Document database (MongoDB)
	MongoURL      string `env:"MONGO_URL,required"`
	MongoDatabase string `env:"MONGO_DATABASE,required"`

	// Key-value store for rate-limit buckets and the result cache.
	// Optional: when empty the gateway falls back to in-process limiting
	// and disables the result cache.
	RedisURL string `env:"REDIS_URL"`

	// SchemaDir is the root directory holding collections/*.json and
	// procedures/*.json descriptors.
	SchemaDir string `env:"SCHEMA_DIR" envDefault:"./schemas"`

	// Cryptographic keys for identity verification. The private key is
	// optional (verify-only deployments).
	JWTPrivKeyPath string `env:"JWT_PRIVATE_KEY_PATH"`
	JWTPubKeyPath  string `env:"JWT_PUBLIC_KEY_PATH,required"`

	// Query plane
	StrictMethods        bool `env:"STRICT_METHODS"          envDefault:"true"`
	MaxRelationshipDepth int  `env:"MAX_RELATIONSHIP_DEPTH"  envDefault:"3"`
	DefaultLimit         int  `env:"DEFAULT_LIMIT"           envDefault:"20"`
	MaxLimit             int  `env:"MAX_LIMIT"               envDefault:"100"`

	// MaxComplexityByRole maps a role to its query cost ceiling,
	// e.g. "admin:10000,editor:1000,viewer:300".
	MaxComplexityByRole map[string]int `env:"MAX_COMPLEXITY_BY_ROLE" envDefault:"admin:10000,editor:1000,viewer:300,anonymous:100"`

	// RateLimitRequests / RateLimitWindowSeconds map a role to its
	// fixed-window request ceiling.
	RateLimitRequests      map[string]int `env:"RATE_LIMIT_REQUESTS"       envDefault:"admin:10000,editor:1000,viewer:300,anonymous:60"`
	RateLimitWindowSeconds map[string]int `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"admin:60,editor:60,viewer:60,anonymous:60"`

	// Procedures
	ProcedureTimeoutMS int `env:"PROCEDURE_TIMEOUT_MS" envDefault:"60000"`
	StepTimeoutMS      int `env:"STEP_TIMEOUT_MS"      envDefault:"10000"`

	// Scripts
	AllowDangerousOperators bool `env:"ALLOW_DANGEROUS_OPERATORS" envDefault:"false"`

	// Hot reload of the schema directory
	HotReload           bool `env:"HOT_RELOAD"             envDefault:"false"`
	HotReloadDebounceMS int  `env:"HOT_RELOAD_DEBOUNCE_MS" envDefault:"500"`

	// Result cache TTL for GET find/findOne responses. Zero disables caching.
	ResultCacheTTLSeconds int `env:"RESULT_CACHE_TTL_SECONDS" envDefault:"30"`

	// Cross-Origin Resource Sharing
	ExtraOrigins string `env:"EXTRA_ORIGINS"`
}

// RateLimit is the per-role request ceiling over a fixed window.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct.
func Load() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// Use the 'env' package to map environment variables to struct fields.
	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	if cfg.DefaultLimit > cfg.MaxLimit {
		return nil, fmt.Errorf("config: DEFAULT_LIMIT (%d) must not exceed MAX_LIMIT (%d)", cfg.DefaultLimit, cfg.MaxLimit)
	}

	if cfg.MaxRelationshipDepth < 1 {
		return nil, fmt.Errorf("config: MAX_RELATIONSHIP_DEPTH must be at least 1")
	}

	return cfg, nil
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// OriginAllowed decides whether a CORS origin may talk to the gateway.
// Development accepts everything; production accepts the first-party domain
// plus any origin listed in EXTRA_ORIGINS (comma separated).
func (c *Config) OriginAllowed(origin string) bool {
	if c.IsDevelopment() {
		return true
	}
	if strings.HasSuffix(origin, "mongrest.app") {
		return true
	}
	for _, extra := range strings.Split(c.ExtraOrigins, ",") {
		if extra != "" && origin == strings.TrimSpace(extra) {
			return true
		}
	}
	return false
}

// ProcedureTimeout returns the process-wide procedure deadline.
func (c *Config) ProcedureTimeout() time.Duration {
	return time.Duration(c.ProcedureTimeoutMS) * time.Millisecond
}

// StepTimeout returns the default per-step deadline.
func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutMS) * time.Millisecond
}

// ComplexityCeiling returns the query cost ceiling for a role. Roles absent
// from the map inherit the anonymous ceiling.
func (c *Config) ComplexityCeiling(role sec.Role) int {
	if ceiling, ok := c.MaxComplexityByRole[string(role)]; ok {
		return ceiling
	}
	if ceiling, ok := c.MaxComplexityByRole[string(sec.RoleAnonymous)]; ok {
		return ceiling
	}
	return 100
}

// RateLimitFor returns the fixed-window rate limit for a role.
func (c *Config) RateLimitFor(role sec.Role) RateLimit {
	requests, ok := c.RateLimitRequests[string(role)]
	if !ok {
		requests = c.RateLimitRequests[string(sec.RoleAnonymous)]
	}
	if requests <= 0 {
		requests = 60
	}

	windowSeconds, ok := c.RateLimitWindowSeconds[string(role)]
	if !ok || windowSeconds <= 0 {
		windowSeconds = 60
	}

	return RateLimit{Requests: requests, Window: time.Duration(windowSeconds) * time.Second}
}
