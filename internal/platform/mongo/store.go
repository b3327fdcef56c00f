// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/taibuivan/mongrest/internal/platform/apperr"
)

// Document is one decoded database document.
type Document = map[string]any

// FindOptions narrows a read.
type FindOptions struct {
	Sort       bson.D
	Projection bson.D
	Limit      int64
	Skip       int64
}

// WriteResult summarizes a mutation.
type WriteResult struct {
	MatchedCount  int64 `json:"matchedCount,omitempty"`
	ModifiedCount int64 `json:"modifiedCount,omitempty"`
	DeletedCount  int64 `json:"deletedCount,omitempty"`
	UpsertedID    any   `json:"upsertedId,omitempty"`
}

// Store is the document-database port shared by the CRUD service and the
// procedure executor. One implementation talks to the driver; tests swap in
// fakes.
//
// Not-found on FindOne is (nil, nil), not an error; only the HTTP layer
// knows whether a missing document is a 404.
type Store interface {
	Find(ctx context.Context, collection string, filter bson.D, opts FindOptions) ([]Document, error)
	FindOne(ctx context.Context, collection string, filter bson.D, opts FindOptions) (Document, error)
	Aggregate(ctx context.Context, collection string, pipeline []bson.D) ([]Document, error)
	CountDocuments(ctx context.Context, collection string, filter bson.D) (int64, error)
	Distinct(ctx context.Context, collection, field string, filter bson.D) ([]any, error)
	Explain(ctx context.Context, collection string, pipeline []bson.D) (Document, error)

	InsertOne(ctx context.Context, collection string, document Document) (any, error)
	InsertMany(ctx context.Context, collection string, documents []Document) ([]any, error)
	UpdateOne(ctx context.Context, collection string, filter bson.D, update any, upsert bool) (*WriteResult, error)
	UpdateMany(ctx context.Context, collection string, filter bson.D, update any) (*WriteResult, error)
	ReplaceOne(ctx context.Context, collection string, filter bson.D, replacement Document, upsert bool) (*WriteResult, error)
	DeleteOne(ctx context.Context, collection string, filter bson.D) (*WriteResult, error)
	DeleteMany(ctx context.Context, collection string, filter bson.D) (*WriteResult, error)

	// WithTransaction runs fn inside one session; every store call made
	// with the callback's context joins the transaction.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error)
}

// DocumentStore implements [Store] on the driver.
type DocumentStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewStore wraps a connected client and target database.
func NewStore(client *mongo.Client, database string) *DocumentStore {
	return &DocumentStore{client: client, db: client.Database(database)}
}

// # Reads

func (s *DocumentStore) Find(ctx context.Context, collection string, filter bson.D, opts FindOptions) ([]Document, error) {
	findOpts := options.Find()
	if len(opts.Sort) > 0 {
		findOpts.SetSort(opts.Sort)
	}
	if len(opts.Projection) > 0 {
		findOpts.SetProjection(opts.Projection)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}

	cursor, err := s.db.Collection(collection).Find(ctx, orEmpty(filter), findOpts)
	if err != nil {
		return nil, wrapError("find", err)
	}
	defer cursor.Close(ctx)

	results := []Document{}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, wrapError("find decode", err)
	}
	return results, nil
}

func (s *DocumentStore) FindOne(ctx context.Context, collection string, filter bson.D, opts FindOptions) (Document, error) {
	findOpts := options.FindOne()
	if len(opts.Sort) > 0 {
		findOpts.SetSort(opts.Sort)
	}
	if len(opts.Projection) > 0 {
		findOpts.SetProjection(opts.Projection)
	}

	var result Document
	err := s.db.Collection(collection).FindOne(ctx, orEmpty(filter), findOpts).Decode(&result)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError("findOne", err)
	}
	return result, nil
}

func (s *DocumentStore) Aggregate(ctx context.Context, collection string, pipeline []bson.D) ([]Document, error) {
	cursor, err := s.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, wrapError("aggregate", err)
	}
	defer cursor.Close(ctx)

	results := []Document{}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, wrapError("aggregate decode", err)
	}
	return results, nil
}

func (s *DocumentStore) CountDocuments(ctx context.Context, collection string, filter bson.D) (int64, error) {
	count, err := s.db.Collection(collection).CountDocuments(ctx, orEmpty(filter))
	if err != nil {
		return 0, wrapError("countDocuments", err)
	}
	return count, nil
}

func (s *DocumentStore) Distinct(ctx context.Context, collection, field string, filter bson.D) ([]any, error) {
	var values []any
	if err := s.db.Collection(collection).Distinct(ctx, field, orEmpty(filter)).Decode(&values); err != nil {
		return nil, wrapError("distinct", err)
	}
	return values, nil
}

// Explain runs the aggregation through the server's explain command and
// returns the query planner's verdict without executing the read.
func (s *DocumentStore) Explain(ctx context.Context, collection string, pipeline []bson.D) (Document, error) {
	if pipeline == nil {
		pipeline = []bson.D{}
	}
	command := bson.D{
		{Key: "explain", Value: bson.D{
			{Key: "aggregate", Value: collection},
			{Key: "pipeline", Value: pipeline},
			{Key: "cursor", Value: bson.D{}},
		}},
		{Key: "verbosity", Value: "queryPlanner"},
	}

	var plan Document
	if err := s.db.RunCommand(ctx, command).Decode(&plan); err != nil {
		return nil, wrapError("explain", err)
	}
	return plan, nil
}

// # Writes

func (s *DocumentStore) InsertOne(ctx context.Context, collection string, document Document) (any, error) {
	result, err := s.db.Collection(collection).InsertOne(ctx, document)
	if err != nil {
		return nil, wrapError("insertOne", err)
	}
	return result.InsertedID, nil
}

func (s *DocumentStore) InsertMany(ctx context.Context, collection string, documents []Document) ([]any, error) {
	docs := make([]any, len(documents))
	for i, doc := range documents {
		docs[i] = doc
	}

	result, err := s.db.Collection(collection).InsertMany(ctx, docs)
	if err != nil {
		return nil, wrapError("insertMany", err)
	}
	return result.InsertedIDs, nil
}

func (s *DocumentStore) UpdateOne(ctx context.Context, collection string, filter bson.D, update any, upsert bool) (*WriteResult, error) {
	result, err := s.db.Collection(collection).UpdateOne(ctx, orEmpty(filter), update,
		options.UpdateOne().SetUpsert(upsert))
	if err != nil {
		return nil, wrapError("updateOne", err)
	}
	return &WriteResult{
		MatchedCount:  result.MatchedCount,
		ModifiedCount: result.ModifiedCount,
		UpsertedID:    result.UpsertedID,
	}, nil
}

func (s *DocumentStore) UpdateMany(ctx context.Context, collection string, filter bson.D, update any) (*WriteResult, error) {
	result, err := s.db.Collection(collection).UpdateMany(ctx, orEmpty(filter), update)
	if err != nil {
		return nil, wrapError("updateMany", err)
	}
	return &WriteResult{
		MatchedCount:  result.MatchedCount,
		ModifiedCount: result.ModifiedCount,
	}, nil
}

func (s *DocumentStore) ReplaceOne(ctx context.Context, collection string, filter bson.D, replacement Document, upsert bool) (*WriteResult, error) {
	result, err := s.db.Collection(collection).ReplaceOne(ctx, orEmpty(filter), replacement,
		options.Replace().SetUpsert(upsert))
	if err != nil {
		return nil, wrapError("replaceOne", err)
	}
	return &WriteResult{
		MatchedCount:  result.MatchedCount,
		ModifiedCount: result.ModifiedCount,
		UpsertedID:    result.UpsertedID,
	}, nil
}

func (s *DocumentStore) DeleteOne(ctx context.Context, collection string, filter bson.D) (*WriteResult, error) {
	result, err := s.db.Collection(collection).DeleteOne(ctx, orEmpty(filter))
	if err != nil {
		return nil, wrapError("deleteOne", err)
	}
	return &WriteResult{DeletedCount: result.DeletedCount}, nil
}

func (s *DocumentStore) DeleteMany(ctx context.Context, collection string, filter bson.D) (*WriteResult, error) {
	result, err := s.db.Collection(collection).DeleteMany(ctx, orEmpty(filter))
	if err != nil {
		return nil, wrapError("deleteMany", err)
	}
	return &WriteResult{DeletedCount: result.DeletedCount}, nil
}

// # Transactions

func (s *DocumentStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("start session: %w", err))
	}
	defer session.EndSession(ctx)

	return session.WithTransaction(ctx, fn)
}

// # Helpers

// orEmpty keeps nil filters legal at the driver boundary.
func orEmpty(filter bson.D) bson.D {
	if filter == nil {
		return bson.D{}
	}
	return filter
}

// wrapError maps driver failures onto the API's error kinds. Unique-index
// violations and cancellations have dedicated kinds; the rest is internal.
func wrapError(op string, err error) error {
	switch {
	case mongo.IsDuplicateKeyError(err):
		return apperr.DuplicateKey(err)
	case errors.Is(err, context.DeadlineExceeded), mongo.IsTimeout(err):
		return apperr.Timeout("Database operation", err)
	default:
		return apperr.Internal(fmt.Errorf("%s: %w", op, err))
	}
}
