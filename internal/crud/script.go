// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package crud

import (
	"context"
	"fmt"
	"net/http"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/taibuivan/mongrest/internal/platform/apperr"
	"github.com/taibuivan/mongrest/internal/platform/mongo"
	"github.com/taibuivan/mongrest/internal/platform/sec"
	"github.com/taibuivan/mongrest/internal/query"
	"github.com/taibuivan/mongrest/internal/script"
)

// # Raw Aggregation

// Aggregate serves POST /crud/{collection}/aggregate: a caller-supplied
// pipeline, executed verbatim after the security gates.
//
// Write stages ($out / $merge) are only permitted on POST and additionally
// require write rights on the collection.
func (s *Service) Aggregate(ctx context.Context, user *sec.UserContext, name, method string, stages []map[string]any) ([]mongo.Document, error) {
	reg := s.registry.Registry()
	collection := reg.Collection(name)
	if collection == nil {
		return nil, apperr.NotFound("Collection", name)
	}
	if err := s.guard(ctx, user, collection, OpAggregate); err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, apperr.QueryParse("Aggregation pipeline is empty")
	}

	pipeline := query.DecodePipeline(stages)
	if stage, found := query.FindWriteStage(pipeline); found {
		if method != http.MethodPost {
			return nil, apperr.MethodMismatch(fmt.Sprintf("aggregate with %s", stage), method, http.MethodPost)
		}
		if err := authorizeOperation(user, name, collection.Permissions, OpUpdateMany); err != nil {
			return nil, err
		}
	}

	// Raw pipelines bypass the selection cost model; charge them like an
	// aggregate script instead.
	cost := scriptAggregateWeight + scriptStageWeight*len(stages)
	if err := s.governor.CheckScript(user.Role, cost); err != nil {
		return nil, err
	}

	return s.store.Aggregate(ctx, name, pipeline)
}

// Cost weights for pipelines that arrive pre-built instead of compiled from
// a selection. They match the script cost model's aggregate weights.
const (
	scriptAggregateWeight = 5
	scriptStageWeight     = 2
)

// # Script Execution

// ScriptRequest is the body of POST /scripts/execute. The script may arrive
// under any of the three accepted field names.
type ScriptRequest struct {
	Script      string `json:"script,omitempty"`
	MongoScript string `json:"mongoScript,omitempty"`
	Query       string `json:"query,omitempty"`
}

// Source returns the script text, whichever field carried it.
func (r *ScriptRequest) Source() string {
	switch {
	case r.Script != "":
		return r.Script
	case r.MongoScript != "":
		return r.MongoScript
	default:
		return r.Query
	}
}

// ScriptResult frames a script execution for the response body.
type ScriptResult struct {
	Collection string   `json:"collection"`
	Operation  string   `json:"operation"`
	Data       any      `json:"data"`
	Warnings   []string `json:"warnings,omitempty"`
}

// ExecuteScript parses one shell expression, runs the security and
// complexity gates, and dispatches the operation against the store.
func (s *Service) ExecuteScript(ctx context.Context, user *sec.UserContext, source string) (*ScriptResult, error) {
	if source == "" {
		return nil, apperr.ScriptParse("Request carries no script")
	}

	parsed, err := script.Parse(source)
	if err != nil {
		return nil, err
	}
	if err := parsed.CheckSecurity(s.cfg.AllowDangerousOperators); err != nil {
		return nil, err
	}
	if err := s.governor.CheckScript(user.Role, parsed.Complexity); err != nil {
		return nil, err
	}

	reg := s.registry.Registry()
	collection := reg.Collection(parsed.Collection)
	if collection == nil {
		return nil, apperr.NotFound("Collection", parsed.Collection)
	}
	if err := s.guard(ctx, user, collection, parsed.Operation); err != nil {
		return nil, err
	}

	data, err := s.dispatchScript(ctx, user, parsed)
	if err != nil {
		return nil, err
	}

	return &ScriptResult{
		Collection: parsed.Collection,
		Operation:  parsed.Operation,
		Data:       data,
		Warnings:   parsed.Warnings,
	}, nil
}

// dispatchScript routes a parsed script to the matching store call.
func (s *Service) dispatchScript(ctx context.Context, user *sec.UserContext, parsed *script.Script) (any, error) {
	reg := s.registry.Registry()
	name := parsed.Collection
	collection := reg.Collection(name)
	filter := query.ToDocument(parsed.Filter())

	switch parsed.Operation {
	case OpFind:
		return s.store.Find(ctx, name, filter, scriptFindOptions(parsed))

	case OpFindOne:
		return s.store.FindOne(ctx, name, filter, scriptFindOptions(parsed))

	case OpInsertOne:
		document, ok := parsed.Params["document"].(map[string]any)
		if !ok {
			return nil, apperr.ScriptParse("insertOne requires a document argument")
		}
		if err := reg.ValidateDocument(name, document, false); err != nil {
			return nil, err
		}
		id, err := s.store.InsertOne(ctx, name, coerceDocument(collection, document))
		if err != nil {
			return nil, err
		}
		s.cache.Invalidate(ctx, name)
		return map[string]any{"insertedId": id}, nil

	case OpInsertMany:
		raw, ok := parsed.Params["documents"].([]any)
		if !ok {
			return nil, apperr.ScriptParse("insertMany requires an array of documents")
		}
		documents := make([]mongo.Document, 0, len(raw))
		for i, element := range raw {
			document, ok := element.(map[string]any)
			if !ok {
				return nil, apperr.ScriptParse(fmt.Sprintf("insertMany element %d is not a document", i))
			}
			if err := reg.ValidateDocument(name, document, false); err != nil {
				return nil, err
			}
			documents = append(documents, coerceDocument(collection, document))
		}
		ids, err := s.store.InsertMany(ctx, name, documents)
		if err != nil {
			return nil, err
		}
		s.cache.Invalidate(ctx, name)
		return map[string]any{"insertedIds": ids, "count": len(ids)}, nil

	case OpUpdateOne, OpUpdateMany:
		update, ok := parsed.Params["update"].(map[string]any)
		if !ok {
			return nil, apperr.ScriptParse("update requires an update document")
		}
		var result *mongo.WriteResult
		var err error
		if parsed.Operation == OpUpdateMany {
			result, err = s.store.UpdateMany(ctx, name, filter, query.ToDocument(update))
		} else {
			result, err = s.store.UpdateOne(ctx, name, filter, query.ToDocument(update), false)
		}
		if err != nil {
			return nil, err
		}
		s.cache.Invalidate(ctx, name)
		return result, nil

	case OpReplaceOne:
		replacement, ok := parsed.Params["replacement"].(map[string]any)
		if !ok {
			return nil, apperr.ScriptParse("replaceOne requires a replacement document")
		}
		if err := reg.ValidateDocument(name, replacement, false); err != nil {
			return nil, err
		}
		result, err := s.store.ReplaceOne(ctx, name, filter, coerceDocument(collection, replacement), false)
		if err != nil {
			return nil, err
		}
		s.cache.Invalidate(ctx, name)
		return result, nil

	case OpDeleteOne, OpDeleteMany:
		var result *mongo.WriteResult
		var err error
		if parsed.Operation == OpDeleteMany {
			result, err = s.store.DeleteMany(ctx, name, filter)
		} else {
			result, err = s.store.DeleteOne(ctx, name, filter)
		}
		if err != nil {
			return nil, err
		}
		s.cache.Invalidate(ctx, name)
		return result, nil

	case OpAggregate:
		pipeline := query.DecodePipeline(parsed.Pipeline())
		if _, found := query.FindWriteStage(pipeline); found {
			if err := authorizeOperation(user, name, collection.Permissions, OpUpdateMany); err != nil {
				return nil, err
			}
		}
		return s.store.Aggregate(ctx, name, pipeline)

	case OpCountDocuments:
		count, err := s.store.CountDocuments(ctx, name, filter)
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": count}, nil

	case OpDistinct:
		field, ok := parsed.Params["field"].(string)
		if !ok || field == "" {
			return nil, apperr.ScriptParse("distinct requires a field name")
		}
		scope := query.ToDocument(scriptDocumentParam(parsed, "query"))
		values, err := s.store.Distinct(ctx, name, field, scope)
		if err != nil {
			return nil, err
		}
		return map[string]any{"values": values}, nil

	default:
		return nil, apperr.ScriptParse(fmt.Sprintf("Unsupported operation %q", parsed.Operation))
	}
}

// scriptFindOptions lowers the chained modifiers of a find/findOne script.
func scriptFindOptions(parsed *script.Script) mongo.FindOptions {
	return mongo.FindOptions{
		Sort:       scriptSortDoc(parsed),
		Projection: query.ToDocument(scriptDocumentParam(parsed, "projection")),
		Limit:      scriptIntParam(parsed, "limit"),
		Skip:       scriptIntParam(parsed, "skip"),
	}
}

func scriptSortDoc(parsed *script.Script) bson.D {
	return query.ToDocument(scriptDocumentParam(parsed, "sort"))
}

func scriptDocumentParam(parsed *script.Script, key string) map[string]any {
	document, _ := parsed.Params[key].(map[string]any)
	return document
}

func scriptIntParam(parsed *script.Script, key string) int64 {
	switch value := parsed.Params[key].(type) {
	case int64:
		return value
	case float64:
		return int64(value)
	}
	return 0
}
