// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package crud

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/taibuivan/mongrest/internal/platform/apperr"
	"github.com/taibuivan/mongrest/internal/platform/mongo"
	"github.com/taibuivan/mongrest/internal/platform/sec"
	"github.com/taibuivan/mongrest/internal/platform/validate"
	"github.com/taibuivan/mongrest/internal/query"
	"github.com/taibuivan/mongrest/internal/schema"
)

// # Write Surface

// Insert serves POST /crud/{collection}. An object body is a single insert;
// an array body inserts many. Every document is validated against the full
// collection schema before anything is written.
func (s *Service) Insert(ctx context.Context, user *sec.UserContext, name string, body any) (map[string]any, error) {
	reg := s.registry.Registry()
	collection := reg.Collection(name)
	if collection == nil {
		return nil, apperr.NotFound("Collection", name)
	}

	switch payload := body.(type) {
	case map[string]any:
		if err := s.guard(ctx, user, collection, OpInsertOne); err != nil {
			return nil, err
		}
		if err := reg.ValidateDocument(name, payload, false); err != nil {
			return nil, err
		}

		event := HookEvent{Collection: name, Operation: OpInsertOne, Document: payload}
		s.runHooks(ctx, collection, schema.LifecycleBeforeInsert, event)

		id, err := s.store.InsertOne(ctx, name, coerceDocument(collection, payload))
		if err != nil {
			return nil, err
		}
		s.cache.Invalidate(ctx, name)

		out := map[string]any{"insertedId": id}
		event.Result = out
		s.runHooks(ctx, collection, schema.LifecycleAfterInsert, event)
		return out, nil

	case []any:
		if err := s.guard(ctx, user, collection, OpInsertMany); err != nil {
			return nil, err
		}

		documents := make([]mongo.Document, 0, len(payload))
		for i, raw := range payload {
			document, ok := raw.(map[string]any)
			if !ok {
				return nil, apperr.SchemaValidation(
					fmt.Sprintf("Array element %d is not an object", i), nil)
			}
			if err := reg.ValidateDocument(name, document, false); err != nil {
				return nil, err
			}
			documents = append(documents, coerceDocument(collection, document))
		}
		if len(documents) == 0 {
			return nil, apperr.SchemaValidation("Insert body is an empty array", nil)
		}

		event := HookEvent{Collection: name, Operation: OpInsertMany, Documents: documents}
		s.runHooks(ctx, collection, schema.LifecycleBeforeInsert, event)

		ids, err := s.store.InsertMany(ctx, name, documents)
		if err != nil {
			return nil, err
		}
		s.cache.Invalidate(ctx, name)

		out := map[string]any{"insertedIds": ids, "count": len(ids)}
		event.Result = out
		s.runHooks(ctx, collection, schema.LifecycleAfterInsert, event)
		return out, nil

	default:
		return nil, apperr.SchemaValidation("Insert body must be an object or an array of objects", nil)
	}
}

// Replace serves PUT /crud/{collection}/{id}: full-document replacement,
// validated against the complete schema.
func (s *Service) Replace(ctx context.Context, user *sec.UserContext, name, id string, body map[string]any) (*mongo.WriteResult, error) {
	reg := s.registry.Registry()
	collection := reg.Collection(name)
	if collection == nil {
		return nil, apperr.NotFound("Collection", name)
	}
	if err := s.guard(ctx, user, collection, OpReplaceOne); err != nil {
		return nil, err
	}
	if err := reg.ValidateDocument(name, body, false); err != nil {
		return nil, err
	}

	filter := bson.D{{Key: "_id", Value: documentID(id)}}
	event := HookEvent{Collection: name, Operation: OpReplaceOne, Document: body, Filter: filter}
	s.runHooks(ctx, collection, schema.LifecycleBeforeUpdate, event)

	result, err := s.store.ReplaceOne(ctx, name, filter, coerceDocument(collection, body), false)
	if err != nil {
		return nil, err
	}
	if result.MatchedCount == 0 {
		return nil, apperr.NotFound("Document", id)
	}

	s.cache.Invalidate(ctx, name)
	event.Result = result
	s.runHooks(ctx, collection, schema.LifecycleAfterUpdate, event)
	return result, nil
}

// Update serves PATCH /crud/{collection}/{id}. A plain body is a partial
// document wrapped in $set; a body whose top-level keys are operators is
// passed through as the update document.
func (s *Service) Update(ctx context.Context, user *sec.UserContext, name, id string, body map[string]any) (*mongo.WriteResult, error) {
	reg := s.registry.Registry()
	collection := reg.Collection(name)
	if collection == nil {
		return nil, apperr.NotFound("Collection", name)
	}
	if err := s.guard(ctx, user, collection, OpUpdateOne); err != nil {
		return nil, err
	}

	update, err := updateDocument(reg, collection, body)
	if err != nil {
		return nil, err
	}

	filter := bson.D{{Key: "_id", Value: documentID(id)}}
	event := HookEvent{Collection: name, Operation: OpUpdateOne, Document: body, Filter: filter}
	s.runHooks(ctx, collection, schema.LifecycleBeforeUpdate, event)

	result, err := s.store.UpdateOne(ctx, name, filter, update, false)
	if err != nil {
		return nil, err
	}
	if result.MatchedCount == 0 {
		return nil, apperr.NotFound("Document", id)
	}

	s.cache.Invalidate(ctx, name)
	event.Result = result
	s.runHooks(ctx, collection, schema.LifecycleAfterUpdate, event)
	return result, nil
}

// Delete serves DELETE /crud/{collection}/{id}.
func (s *Service) Delete(ctx context.Context, user *sec.UserContext, name, id string) (*mongo.WriteResult, error) {
	reg := s.registry.Registry()
	collection := reg.Collection(name)
	if collection == nil {
		return nil, apperr.NotFound("Collection", name)
	}
	if err := s.guard(ctx, user, collection, OpDeleteOne); err != nil {
		return nil, err
	}

	filter := bson.D{{Key: "_id", Value: documentID(id)}}
	event := HookEvent{Collection: name, Operation: OpDeleteOne, Filter: filter}
	s.runHooks(ctx, collection, schema.LifecycleBeforeDelete, event)

	result, err := s.store.DeleteOne(ctx, name, filter)
	if err != nil {
		return nil, err
	}
	if result.DeletedCount == 0 {
		return nil, apperr.NotFound("Document", id)
	}

	s.cache.Invalidate(ctx, name)
	event.Result = result
	s.runHooks(ctx, collection, schema.LifecycleAfterDelete, event)
	return result, nil
}

// # Bulk Surface

// BulkOperation is one unit of a heterogeneous batch.
type BulkOperation struct {
	Collection string `json:"collection"`
	Operation  string `json:"operation"`

	// ID is a convenience filter on _id for single-document operations.
	ID string `json:"id,omitempty"`

	Document  map[string]any   `json:"document,omitempty"`
	Documents []map[string]any `json:"documents,omitempty"`
	Filter    map[string]any   `json:"filter,omitempty"`
	Update    map[string]any   `json:"update,omitempty"`
}

// BulkRequest is the body of POST /crud/bulk.
type BulkRequest struct {
	// Atomic runs the whole batch in one transaction; the first failure
	// aborts everything.
	Atomic     bool            `json:"atomic,omitempty"`
	Operations []BulkOperation `json:"operations"`
}

// BulkItemResult reports the outcome of one batch entry.
type BulkItemResult struct {
	Collection string `json:"collection"`
	Operation  string `json:"operation"`
	Success    bool   `json:"success"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Bulk executes a heterogeneous batch. Non-atomic batches run every entry
// and report per-item outcomes; atomic batches share one transaction and
// surface the first failure.
func (s *Service) Bulk(ctx context.Context, user *sec.UserContext, req *BulkRequest) ([]BulkItemResult, error) {
	check := &validate.Validator{}
	check.Min("operations", len(req.Operations), 1)
	for i := range req.Operations {
		check.Required(fmt.Sprintf("operations[%d].collection", i), req.Operations[i].Collection)
		check.Required(fmt.Sprintf("operations[%d].operation", i), req.Operations[i].Operation)
	}
	if err := check.Err(); err != nil {
		return nil, err
	}

	run := func(ctx context.Context) ([]BulkItemResult, error) {
		results := make([]BulkItemResult, 0, len(req.Operations))
		for i := range req.Operations {
			operation := &req.Operations[i]
			item := BulkItemResult{Collection: operation.Collection, Operation: operation.Operation}

			output, err := s.bulkOperation(ctx, user, operation)
			if err != nil {
				if req.Atomic {
					return nil, err
				}
				item.Error = err.Error()
			} else {
				item.Success = true
				item.Result = output
			}
			results = append(results, item)
		}
		return results, nil
	}

	if req.Atomic {
		output, err := s.store.WithTransaction(ctx, func(ctx context.Context) (any, error) {
			return run(ctx)
		})
		if err != nil {
			return nil, err
		}
		return output.([]BulkItemResult), nil
	}
	return run(ctx)
}

// bulkOperation authorizes and executes one batch entry.
func (s *Service) bulkOperation(ctx context.Context, user *sec.UserContext, op *BulkOperation) (any, error) {
	reg := s.registry.Registry()
	collection := reg.Collection(op.Collection)
	if collection == nil {
		return nil, apperr.NotFound("Collection", op.Collection)
	}
	if !isWriteOperation(op.Operation) {
		return nil, apperr.QueryParse(fmt.Sprintf("Operation %q is not a bulk write operation", op.Operation))
	}
	if err := s.guard(ctx, user, collection, op.Operation); err != nil {
		return nil, err
	}

	filter, err := s.bulkFilter(collection, op)
	if err != nil {
		return nil, err
	}

	phases := hookPhases[op.Operation]
	event := HookEvent{
		Collection: op.Collection,
		Operation:  op.Operation,
		Document:   op.Document,
		Documents:  op.Documents,
		Filter:     filter,
	}
	s.runHooks(ctx, collection, phases[0], event)

	output, err := s.applyBulkWrite(ctx, reg, collection, op, filter)
	if err != nil {
		return nil, err
	}

	event.Result = output
	s.runHooks(ctx, collection, phases[1], event)
	return output, nil
}

// applyBulkWrite executes one authorized batch entry against the store.
func (s *Service) applyBulkWrite(ctx context.Context, reg *schema.Registry, collection *schema.Collection, op *BulkOperation, filter bson.D) (any, error) {
	switch op.Operation {
	case OpInsertOne:
		if op.Document == nil {
			return nil, apperr.SchemaValidation("insertOne requires a document", nil)
		}
		if err := reg.ValidateDocument(op.Collection, op.Document, false); err != nil {
			return nil, err
		}
		id, err := s.store.InsertOne(ctx, op.Collection, coerceDocument(collection, op.Document))
		if err != nil {
			return nil, err
		}
		s.cache.Invalidate(ctx, op.Collection)
		return map[string]any{"insertedId": id}, nil

	case OpInsertMany:
		documents := make([]mongo.Document, 0, len(op.Documents))
		for _, document := range op.Documents {
			if err := reg.ValidateDocument(op.Collection, document, false); err != nil {
				return nil, err
			}
			documents = append(documents, coerceDocument(collection, document))
		}
		if len(documents) == 0 {
			return nil, apperr.SchemaValidation("insertMany requires documents", nil)
		}
		ids, err := s.store.InsertMany(ctx, op.Collection, documents)
		if err != nil {
			return nil, err
		}
		s.cache.Invalidate(ctx, op.Collection)
		return map[string]any{"insertedIds": ids, "count": len(ids)}, nil

	case OpUpdateOne, OpUpdateMany:
		update, err := updateDocument(reg, collection, op.Update)
		if err != nil {
			return nil, err
		}
		var result *mongo.WriteResult
		if op.Operation == OpUpdateMany {
			result, err = s.store.UpdateMany(ctx, op.Collection, filter, update)
		} else {
			result, err = s.store.UpdateOne(ctx, op.Collection, filter, update, false)
		}
		if err != nil {
			return nil, err
		}
		s.cache.Invalidate(ctx, op.Collection)
		return result, nil

	case OpReplaceOne:
		if op.Document == nil {
			return nil, apperr.SchemaValidation("replaceOne requires a document", nil)
		}
		if err := reg.ValidateDocument(op.Collection, op.Document, false); err != nil {
			return nil, err
		}
		result, err := s.store.ReplaceOne(ctx, op.Collection, filter, coerceDocument(collection, op.Document), false)
		if err != nil {
			return nil, err
		}
		s.cache.Invalidate(ctx, op.Collection)
		return result, nil

	case OpDeleteOne, OpDeleteMany:
		var result *mongo.WriteResult
		var err error
		if op.Operation == OpDeleteMany {
			result, err = s.store.DeleteMany(ctx, op.Collection, filter)
		} else {
			result, err = s.store.DeleteOne(ctx, op.Collection, filter)
		}
		if err != nil {
			return nil, err
		}
		s.cache.Invalidate(ctx, op.Collection)
		return result, nil

	default:
		return nil, apperr.QueryParse(fmt.Sprintf("Unsupported bulk operation %q", op.Operation))
	}
}

// bulkFilter resolves an entry's target filter: the id shortcut when
// present, the typed filter map otherwise.
func (s *Service) bulkFilter(collection *schema.Collection, op *BulkOperation) (bson.D, error) {
	if op.ID != "" {
		return bson.D{{Key: "_id", Value: documentID(op.ID)}}, nil
	}
	if len(op.Filter) == 0 {
		return nil, nil
	}
	conditions, err := query.ParseFilterMap(collection, op.Filter)
	if err != nil {
		return nil, err
	}
	return query.BuildMatch(conditions), nil
}

// # Write Helpers

// updateDocument lowers a PATCH body to the update document: operator
// bodies pass through, plain bodies validate partially and wrap in $set.
func updateDocument(reg *schema.Registry, collection *schema.Collection, body map[string]any) (bson.D, error) {
	if len(body) == 0 {
		return nil, apperr.SchemaValidation("Update body is empty", nil)
	}

	operatorBody := false
	for key := range body {
		if strings.HasPrefix(key, "$") {
			operatorBody = true
			break
		}
	}

	if operatorBody {
		// Validate the $set fragment when present; other operators carry
		// values the document schema cannot describe.
		if fragment, ok := body["$set"].(map[string]any); ok {
			if err := reg.ValidateDocument(collection.Name, fragment, true); err != nil {
				return nil, err
			}
		}
		return query.ToDocument(body), nil
	}

	if err := reg.ValidateDocument(collection.Name, body, true); err != nil {
		return nil, err
	}
	return bson.D{{Key: "$set", Value: query.ToDocument(coerceDocument(collection, body))}}, nil
}

// coerceDocument re-casts declared objectId-format fields in a decoded JSON
// body so references land in the database as real ObjectIDs.
func coerceDocument(collection *schema.Collection, body map[string]any) mongo.Document {
	document := make(mongo.Document, len(body))
	for key, value := range body {
		document[key] = query.CoerceValue(collection.Property(key), value)
	}
	return document
}
