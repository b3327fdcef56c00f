// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Command api is the entry point for the Mongrest HTTP gateway.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect to MongoDB.
//  4. Connect to Redis (optional; in-process fallbacks otherwise).
//  5. Load the schema registry, start the hot-reload watcher if enabled.
//  6. Wire the request pipeline and HTTP handlers.
//  7. Start HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taibuivan/mongrest/internal/api"
	"github.com/taibuivan/mongrest/internal/crud"
	"github.com/taibuivan/mongrest/internal/governor"
	"github.com/taibuivan/mongrest/internal/platform/cache"
	"github.com/taibuivan/mongrest/internal/platform/config"
	"github.com/taibuivan/mongrest/internal/platform/constants"
	mongostore "github.com/taibuivan/mongrest/internal/platform/mongo"
	"github.com/taibuivan/mongrest/internal/platform/ratelimit"
	redisstore "github.com/taibuivan/mongrest/internal/platform/redis"
	"github.com/taibuivan/mongrest/internal/platform/sec"
	"github.com/taibuivan/mongrest/internal/procedure"
	"github.com/taibuivan/mongrest/internal/schema"
)

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Add global context to all log entries.
	log := rawLog.With(slog.String("app", "mongrest"))
	slog.SetDefault(log)

	log.Info("[Mongrest] service_initializing")

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		debugLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		log = debugLog.With(slog.String("app", "mongrest"))
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.String("schema_dir", cfg.SchemaDir),
	)

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// Application-lifetime context for background loops (hot reload,
	// in-process limiter eviction). Cancelled once shutdown begins.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// ── 3. MongoDB ────────────────────────────────────────────────────────
	mongoClient, err := mongostore.NewClient(startupCtx, cfg.MongoURL, log)
	must(log, err, "connect to mongodb")
	defer func() {
		log.Info("closing mongo client")
		if cerr := mongoClient.Disconnect(context.Background()); cerr != nil {
			log.Error("mongo disconnect error", slog.Any("error", cerr))
		}
	}()

	store := mongostore.NewStore(mongoClient, cfg.MongoDatabase)

	// ── 4. Redis (optional) ───────────────────────────────────────────────
	// Without Redis the gateway still runs: rate limiting moves in-process
	// and the result cache is disabled.
	var (
		limiter     ratelimit.Limiter
		resultCache cache.ResultCache = cache.Noop{}
		checkCache  func() error
	)
	if cfg.RedisURL != "" {
		rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
		must(log, err, "connect to redis")
		defer func() {
			log.Info("closing redis client")
			if cerr := rdb.Close(); cerr != nil {
				log.Error("redis close error", slog.Any("error", cerr))
			}
		}()

		limiter = ratelimit.NewRedisLimiter(rdb)
		resultCache = cache.NewRedisCache(rdb, log)
		checkCache = func() error {
			return redisstore.Ping(context.Background(), rdb)
		}
	} else {
		log.Warn("redis not configured: using in-process rate limiting, result cache disabled")
		limiter = ratelimit.NewLocalLimiter(appCtx)
	}

	// ── 5. Schema Registry ────────────────────────────────────────────────
	provider, err := schema.NewProvider(cfg.SchemaDir, log)
	must(log, err, "load schema registry")

	if cfg.HotReload {
		debounce := time.Duration(cfg.HotReloadDebounceMS) * time.Millisecond
		go func() {
			if werr := provider.Watch(appCtx, debounce); werr != nil {
				log.Error("schema watcher stopped", slog.Any("error", werr))
			}
		}()
	}

	// ── 6. Identity ───────────────────────────────────────────────────────
	jwtSvc, err := sec.NewTokenService(cfg.JWTPrivKeyPath, cfg.JWTPubKeyPath, constants.AuthIssuer)
	must(log, err, "initialize jwt service")

	// ── 7. Health handlers (wired with real dependency checkers) ──────────
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckDatabase: func() error {
			return mongostore.Ping(context.Background(), mongoClient)
		},
		CheckCache: checkCache,
	}, log)

	// ── 8. Request Pipeline ───────────────────────────────────────────────
	executor := procedure.NewExecutor(store, procedure.NewHookRegistry(nil), log, procedure.Options{
		ProcedureTimeout: cfg.ProcedureTimeout(),
		StepTimeout:      cfg.StepTimeout(),
		ConfigView: map[string]any{
			"environment":  cfg.Environment,
			"defaultLimit": cfg.DefaultLimit,
		},
	})

	service := crud.NewService(
		provider,
		store,
		governor.New(cfg.MaxComplexityByRole),
		limiter,
		resultCache,
		executor,
		crud.NewHookRegistry(nil),
		cfg,
		log,
	)

	// ── 9. HTTP Server ────────────────────────────────────────────────────
	handlers := api.Handlers{
		Liveness:  liveness,
		Readiness: readiness,
		Crud:      crud.NewHandler(service),
	}

	server := api.NewServer(cfg, log, jwtSvc, handlers)

	// ── 10. Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	appCancel()

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server stopped cleanly")
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
