// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package procedure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/taibuivan/mongrest/internal/platform/apperr"
	"github.com/taibuivan/mongrest/internal/platform/mongo"
	"github.com/taibuivan/mongrest/internal/query"
	"github.com/taibuivan/mongrest/internal/schema"
)

// dispatch routes one step to its handler. The bool result is the stop
// signal raised by condition steps.
func (e *Executor) dispatch(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, bool, error) {
	switch step.Type {
	case schema.StepFind:
		return e.stepFind(ctx, ec, step)
	case schema.StepFindOne:
		return e.stepFindOne(ctx, ec, step)
	case schema.StepInsertOne:
		return e.stepInsertOne(ctx, ec, step)
	case schema.StepInsertMany:
		return e.stepInsertMany(ctx, ec, step)
	case schema.StepUpdateOne, schema.StepUpdateMany:
		return e.stepUpdate(ctx, ec, step)
	case schema.StepDeleteOne, schema.StepDeleteMany:
		return e.stepDelete(ctx, ec, step)
	case schema.StepAggregate:
		return e.stepAggregate(ctx, ec, step)
	case schema.StepCountDocuments:
		return e.stepCount(ctx, ec, step)
	case schema.StepDistinct:
		return e.stepDistinct(ctx, ec, step)
	case schema.StepTransform:
		return renderValue(ec, step.Template), false, nil
	case schema.StepCondition:
		return e.stepCondition(ec, step)
	case schema.StepHTTP:
		return e.stepHTTP(ctx, ec, step)
	case schema.StepDelay:
		return e.stepDelay(ctx, step)
	default:
		return nil, false, apperr.Internal(fmt.Errorf("unhandled step type %q", step.Type))
	}
}

// # Database Steps

func (e *Executor) stepFind(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, bool, error) {
	opts := mongo.FindOptions{
		Sort:       sortDoc(step.Sort),
		Projection: renderDocument(ec, step.Projection),
		Limit:      int64(step.Limit),
		Skip:       int64(step.Skip),
	}
	docs, err := e.store.Find(ctx, step.Collection, renderDocument(ec, step.Filter), opts)
	return docs, false, err
}

func (e *Executor) stepFindOne(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, bool, error) {
	opts := mongo.FindOptions{
		Sort:       sortDoc(step.Sort),
		Projection: renderDocument(ec, step.Projection),
	}
	doc, err := e.store.FindOne(ctx, step.Collection, renderDocument(ec, step.Filter), opts)
	return doc, false, err
}

func (e *Executor) stepInsertOne(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, bool, error) {
	document, ok := renderValue(ec, step.Document).(map[string]any)
	if !ok {
		return nil, false, apperr.Internal(fmt.Errorf("step %q: document is not an object", step.ID))
	}
	id, err := e.store.InsertOne(ctx, step.Collection, document)
	if err != nil {
		return nil, false, err
	}
	return map[string]any{"insertedId": id}, false, nil
}

func (e *Executor) stepInsertMany(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, bool, error) {
	documents := make([]Document, 0, len(step.Documents))
	for _, raw := range step.Documents {
		document, ok := renderValue(ec, raw).(map[string]any)
		if !ok {
			return nil, false, apperr.Internal(fmt.Errorf("step %q: document is not an object", step.ID))
		}
		documents = append(documents, document)
	}

	ids, err := e.store.InsertMany(ctx, step.Collection, documents)
	if err != nil {
		return nil, false, err
	}
	return map[string]any{"insertedIds": ids, "count": len(ids)}, false, nil
}

func (e *Executor) stepUpdate(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, bool, error) {
	filter := renderDocument(ec, step.Filter)

	var update any
	switch {
	case step.Update != nil:
		update = renderDocument(ec, step.Update)
	case step.Replacement != nil:
		// replaceOne travels as updateOne with a replacement body.
		replacement, ok := renderValue(ec, step.Replacement).(map[string]any)
		if !ok {
			return nil, false, apperr.Internal(fmt.Errorf("step %q: replacement is not an object", step.ID))
		}
		result, err := e.store.ReplaceOne(ctx, step.Collection, filter, replacement, step.Upsert)
		return result, false, err
	default:
		return nil, false, apperr.Internal(fmt.Errorf("step %q: missing update document", step.ID))
	}

	if step.Type == schema.StepUpdateMany {
		result, err := e.store.UpdateMany(ctx, step.Collection, filter, update)
		return result, false, err
	}
	result, err := e.store.UpdateOne(ctx, step.Collection, filter, update, step.Upsert)
	return result, false, err
}

func (e *Executor) stepDelete(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, bool, error) {
	filter := renderDocument(ec, step.Filter)
	if step.Type == schema.StepDeleteMany {
		result, err := e.store.DeleteMany(ctx, step.Collection, filter)
		return result, false, err
	}
	result, err := e.store.DeleteOne(ctx, step.Collection, filter)
	return result, false, err
}

func (e *Executor) stepAggregate(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, bool, error) {
	stages := make([]map[string]any, 0, len(step.Pipeline))
	for _, raw := range step.Pipeline {
		stage, ok := renderValue(ec, raw).(map[string]any)
		if !ok {
			return nil, false, apperr.Internal(fmt.Errorf("step %q: pipeline stage is not an object", step.ID))
		}
		stages = append(stages, stage)
	}

	docs, err := e.store.Aggregate(ctx, step.Collection, query.DecodePipeline(stages))
	return docs, false, err
}

func (e *Executor) stepCount(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, bool, error) {
	count, err := e.store.CountDocuments(ctx, step.Collection, renderDocument(ec, step.Filter))
	if err != nil {
		return nil, false, err
	}
	return map[string]any{"count": count}, false, nil
}

func (e *Executor) stepDistinct(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, bool, error) {
	values, err := e.store.Distinct(ctx, step.Collection, step.Field, renderDocument(ec, step.Filter))
	if err != nil {
		return nil, false, err
	}
	return map[string]any{"values": values}, false, nil
}

// # Utility Steps

func (e *Executor) stepCondition(ec *ExecutionContext, step *schema.Step) (any, bool, error) {
	result, err := evalCondition(ec, step.Expression)
	if err != nil {
		return nil, false, apperr.SchemaValidation(err.Error(), nil)
	}
	stop := step.StopIfFalse && !result
	return map[string]any{"result": result}, stop, nil
}

func (e *Executor) stepHTTP(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, bool, error) {
	url, _ := renderValue(ec, step.URL).(string)
	method := step.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if step.Body != nil {
		encoded, err := json.Marshal(renderValue(ec, step.Body))
		if err != nil {
			return nil, false, apperr.Internal(fmt.Errorf("step %q: encode body: %w", step.ID, err))
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, false, apperr.Internal(fmt.Errorf("step %q: build request: %w", step.ID, err))
	}
	if step.Body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	for key, value := range step.Headers {
		rendered, _ := renderValue(ec, value).(string)
		request.Header.Set(key, rendered)
	}

	response, err := e.httpClient.Do(request)
	if err != nil {
		return nil, false, apperr.Internal(fmt.Errorf("step %q: %w", step.ID, err))
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, 4<<20))
	if err != nil {
		return nil, false, apperr.Internal(fmt.Errorf("step %q: read response: %w", step.ID, err))
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		decoded = string(raw)
	}
	return map[string]any{"status": response.StatusCode, "body": decoded}, false, nil
}

func (e *Executor) stepDelay(ctx context.Context, step *schema.Step) (any, bool, error) {
	duration := time.Duration(step.DurationMS) * time.Millisecond
	select {
	case <-time.After(duration):
		return map[string]any{"delayed": step.DurationMS}, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// # Rollback

// rollbackStep undoes one executed step where an inverse exists: inserts
// are deleted by their recorded ids. Everything else has no safe inverse
// and is skipped with a log line from the caller.
func (e *Executor) rollbackStep(ctx context.Context, step *schema.Step, result StepResult) error {
	output, _ := result.Output.(map[string]any)

	switch step.Type {
	case schema.StepInsertOne:
		id, ok := output["insertedId"]
		if !ok {
			return fmt.Errorf("no recorded id to roll back")
		}
		_, err := e.store.DeleteOne(ctx, step.Collection, bson.D{{Key: "_id", Value: id}})
		return err

	case schema.StepInsertMany:
		ids, ok := output["insertedIds"].([]any)
		if !ok || len(ids) == 0 {
			return fmt.Errorf("no recorded ids to roll back")
		}
		_, err := e.store.DeleteMany(ctx, step.Collection,
			bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: bson.A(ids)}}}})
		return err

	default:
		return fmt.Errorf("step type %q has no automatic rollback", step.Type)
	}
}

// # Helpers

// renderDocument renders templates in a raw map and lowers it to bson.D.
func renderDocument(ec *ExecutionContext, raw map[string]any) bson.D {
	if len(raw) == 0 {
		return nil
	}
	rendered, ok := renderValue(ec, raw).(map[string]any)
	if !ok {
		return nil
	}
	return query.ToDocument(rendered)
}

// sortDoc lowers descriptor sort keys.
func sortDoc(keys []schema.SortKey) bson.D {
	if len(keys) == 0 {
		return nil
	}
	doc := make(bson.D, 0, len(keys))
	for _, key := range keys {
		doc = append(doc, bson.E{Key: key.Field, Value: key.Order()})
	}
	return doc
}
