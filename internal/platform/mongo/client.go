// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package mongo provides a managed client for the document database.

It owns connection-pool configuration and startup health checking so the rest
of the gateway only ever sees a ready [*mongo.Database].

Core Responsibilities:

  - Pooling: The driver owns the connection pool; nothing above this package
    holds a connection across a suspension point.
  - Safety: Fails fast at startup when the database is unreachable.
  - Timeouts: Applies conservative defaults for server selection and pings.
*/
package mongo

import (
	stdctx "context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Opinionated default timeouts for MongoDB connections.
const (
	serverSelectionTimeout = 5 * time.Second
	connectTimeout         = 5 * time.Second
	pingTimeout            = 3 * time.Second

	maxPoolSize = 100
	minPoolSize = 5
)

// NewClient connects to MongoDB and verifies connectivity with a ping.
//
// # Parameters
//   - context: Context for the initial ping.
//   - mongoURL: MongoDB connection URI.
//   - logger: Structured logger for connection events.
func NewClient(context stdctx.Context, mongoURL string, logger *slog.Logger) (*mongo.Client, error) {
	clientOptions := options.Client().
		ApplyURI(mongoURL).
		SetServerSelectionTimeout(serverSelectionTimeout).
		SetConnectTimeout(connectTimeout).
		SetMaxPoolSize(maxPoolSize).
		SetMinPoolSize(minPoolSize)

	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect failed: %w", err)
	}

	// Validate connectivity immediately at startup.
	if err := Ping(context, client); err != nil {
		_ = client.Disconnect(context)
		return nil, err
	}

	logger.Info("mongo client connected",
		slog.Uint64("max_pool_size", maxPoolSize),
	)

	return client, nil
}

// Ping verifies that the MongoDB client is healthy.
func Ping(context stdctx.Context, client *mongo.Client) error {
	pingCtx, cancel := stdctx.WithTimeout(context, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongo: ping failed: %w", err)
	}

	return nil
}
