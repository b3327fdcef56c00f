// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package crud

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/taibuivan/mongrest/internal/governor"
	"github.com/taibuivan/mongrest/internal/platform/apperr"
	"github.com/taibuivan/mongrest/internal/platform/config"
	"github.com/taibuivan/mongrest/internal/platform/mongo"
	"github.com/taibuivan/mongrest/internal/platform/ratelimit"
	"github.com/taibuivan/mongrest/internal/platform/sec"
	"github.com/taibuivan/mongrest/internal/procedure"
	"github.com/taibuivan/mongrest/internal/schema"
)

// # Test Harness

// testRegistry loads a catalog with an open collection, a restricted one,
// a permission-overridden relationship, and one procedure.
func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	collections := map[string]string{
		"users.json": `{
			"name": "users",
			"properties": {
				"name":   {"type": "string"},
				"email":  {"type": "string"},
				"status": {"type": "string"},
				"age":    {"type": "number"}
			},
			"required": ["name"],
			"permissions": {"deleteOne": ["admin"]},
			"searchFields": ["name", "email"],
			"hooks": {"afterInsert": ["audit"], "beforeDelete": ["audit"]}
		}`,
		"orders.json": `{
			"name": "orders",
			"properties": {
				"user_id": {"type": "string", "format": "objectId"},
				"total":   {"type": "number"},
				"status":  {"type": "string"}
			},
			"relationships": {
				"customer": {
					"type": "belongsTo",
					"target": "users",
					"localField": "user_id",
					"foreignField": "_id",
					"permissions": {"find": ["editor"]}
				}
			}
		}`,
		"secrets.json": `{
			"name": "secrets",
			"properties": {
				"value": {"type": "string"}
			},
			"permissions": {"find": ["admin"]}
		}`,
	}

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "collections"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "procedures"), 0o755))
	for name, body := range collections {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "collections", name), []byte(body), 0o644))
	}

	ping := `{
		"name": "ping",
		"method": "POST",
		"endpoint": "/ping",
		"permissions": ["viewer"],
		"output": {"type": "object"},
		"steps": [{"id": "count", "type": "countDocuments", "collection": "users"}]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "procedures", "ping.json"), []byte(ping), 0o644))

	registry, err := schema.Load(dir)
	require.NoError(t, err)
	return registry
}

type staticRegistry struct{ registry *schema.Registry }

func (s staticRegistry) Registry() *schema.Registry { return s.registry }

// fakeStore records every call so tests can assert on the compiled output.
type fakeStore struct {
	docs map[string][]mongo.Document

	calls        []string
	lastPipeline []bson.D
	lastFilter   bson.D
	lastUpdate   any

	matched int64
	removed int64
}

func newTestStore() *fakeStore {
	return &fakeStore{docs: map[string][]mongo.Document{}, matched: 1, removed: 1}
}

func (f *fakeStore) call(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeStore) Find(_ context.Context, collection string, filter bson.D, _ mongo.FindOptions) ([]mongo.Document, error) {
	f.call("find %s", collection)
	f.lastFilter = filter
	return f.docs[collection], nil
}

func (f *fakeStore) FindOne(_ context.Context, collection string, filter bson.D, _ mongo.FindOptions) (mongo.Document, error) {
	f.call("findOne %s", collection)
	f.lastFilter = filter
	if docs := f.docs[collection]; len(docs) > 0 {
		return docs[0], nil
	}
	return nil, nil
}

func (f *fakeStore) Aggregate(_ context.Context, collection string, pipeline []bson.D) ([]mongo.Document, error) {
	f.call("aggregate %s", collection)
	f.lastPipeline = pipeline
	return f.docs[collection], nil
}

func (f *fakeStore) CountDocuments(_ context.Context, collection string, _ bson.D) (int64, error) {
	f.call("count %s", collection)
	return int64(len(f.docs[collection])), nil
}

func (f *fakeStore) Distinct(_ context.Context, collection, field string, _ bson.D) ([]any, error) {
	f.call("distinct %s.%s", collection, field)
	return []any{"a", "b"}, nil
}

func (f *fakeStore) Explain(_ context.Context, collection string, pipeline []bson.D) (mongo.Document, error) {
	f.call("explain %s", collection)
	f.lastPipeline = pipeline
	return mongo.Document{"queryPlanner": map[string]any{"namespace": collection}}, nil
}

func (f *fakeStore) InsertOne(_ context.Context, collection string, document mongo.Document) (any, error) {
	f.call("insertOne %s", collection)
	f.docs[collection] = append(f.docs[collection], document)
	return fmt.Sprintf("id-%d", len(f.docs[collection])), nil
}

func (f *fakeStore) InsertMany(_ context.Context, collection string, documents []mongo.Document) ([]any, error) {
	f.call("insertMany %s", collection)
	ids := make([]any, len(documents))
	for i := range documents {
		f.docs[collection] = append(f.docs[collection], documents[i])
		ids[i] = fmt.Sprintf("id-%d", len(f.docs[collection]))
	}
	return ids, nil
}

func (f *fakeStore) UpdateOne(_ context.Context, collection string, filter bson.D, update any, _ bool) (*mongo.WriteResult, error) {
	f.call("updateOne %s", collection)
	f.lastFilter = filter
	f.lastUpdate = update
	return &mongo.WriteResult{MatchedCount: f.matched, ModifiedCount: f.matched}, nil
}

func (f *fakeStore) UpdateMany(_ context.Context, collection string, filter bson.D, update any) (*mongo.WriteResult, error) {
	f.call("updateMany %s", collection)
	f.lastFilter = filter
	f.lastUpdate = update
	return &mongo.WriteResult{MatchedCount: f.matched, ModifiedCount: f.matched}, nil
}

func (f *fakeStore) ReplaceOne(_ context.Context, collection string, filter bson.D, _ mongo.Document, _ bool) (*mongo.WriteResult, error) {
	f.call("replaceOne %s", collection)
	f.lastFilter = filter
	return &mongo.WriteResult{MatchedCount: f.matched, ModifiedCount: f.matched}, nil
}

func (f *fakeStore) DeleteOne(_ context.Context, collection string, filter bson.D) (*mongo.WriteResult, error) {
	f.call("deleteOne %s", collection)
	f.lastFilter = filter
	return &mongo.WriteResult{DeletedCount: f.removed}, nil
}

func (f *fakeStore) DeleteMany(_ context.Context, collection string, filter bson.D) (*mongo.WriteResult, error) {
	f.call("deleteMany %s", collection)
	f.lastFilter = filter
	return &mongo.WriteResult{DeletedCount: f.removed}, nil
}

func (f *fakeStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	f.call("transaction")
	return fn(ctx)
}

// allowLimiter always admits; denyLimiter always rejects.
type allowLimiter struct{}

func (allowLimiter) Allow(context.Context, string, config.RateLimit) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: true}, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, config.RateLimit) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, RetryAfter: 30 * time.Second}, nil
}

// memoryCache is a recording in-process result cache.
type memoryCache struct {
	entries     map[string][]byte
	invalidated []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (c *memoryCache) Get(_ context.Context, collection, key string) ([]byte, bool) {
	payload, ok := c.entries[collection+":"+key]
	return payload, ok
}

func (c *memoryCache) Set(_ context.Context, collection, key string, payload []byte, _ time.Duration) {
	c.entries[collection+":"+key] = payload
}

func (c *memoryCache) Invalidate(_ context.Context, collection string) {
	c.invalidated = append(c.invalidated, collection)
	for key := range c.entries {
		delete(c.entries, key)
	}
}

func testConfig() *config.Config {
	return &config.Config{
		StrictMethods:        true,
		MaxRelationshipDepth: 3,
		DefaultLimit:         20,
		MaxLimit:             100,
	}
}

func testService(t *testing.T, store *fakeStore) *Service {
	t.Helper()
	return testServiceWith(t, store, testConfig(), allowLimiter{}, newMemoryCache())
}

func testServiceWith(t *testing.T, store *fakeStore, cfg *config.Config, limiter ratelimit.Limiter, resultCache *memoryCache) *Service {
	t.Helper()

	log := slog.New(slog.DiscardHandler)
	registry := staticRegistry{registry: testRegistry(t)}
	gov := governor.New(map[string]int{"admin": 10000, "editor": 1000, "viewer": 300, "anonymous": 100})
	executor := procedure.NewExecutor(store, nil, log, procedure.Options{})

	return NewService(registry, store, gov, limiter, resultCache, executor, nil, cfg, log)
}

func userWithRole(role string) *sec.UserContext {
	return sec.NewUserContext(&sec.AuthClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "subject-1"},
		Role:             role,
	})
}

func kindOf(t *testing.T, err error) string {
	t.Helper()
	appErr := apperr.As(err)
	require.NotNil(t, appErr, "expected an AppError, got %v", err)
	return appErr.Kind
}

// # Read Path

func TestFindUnknownCollection(t *testing.T) {
	service := testService(t, newTestStore())

	_, err := service.Find(context.Background(), sec.Anonymous(), "nope", url.Values{})
	assert.Equal(t, apperr.KindNotFound, kindOf(t, err))
}

func TestFindCompilesAndExecutes(t *testing.T) {
	store := newTestStore()
	store.docs["users"] = []mongo.Document{{"name": "Ada"}}
	service := testService(t, store)

	values := url.Values{}
	values.Set("status", "active")
	values.Set("select", "name,email")
	values.Set("sort", "-name")
	values.Set("limit", "5")

	result, err := service.Find(context.Background(), sec.Anonymous(), "users", values)
	require.NoError(t, err)

	assert.Equal(t, []mongo.Document{{"name": "Ada"}}, result.Documents)
	assert.False(t, result.HasRelationships)
	assert.Equal(t, []string{"aggregate users"}, store.calls)

	// $match, $sort, $limit, $project
	require.Len(t, store.lastPipeline, 4)
	assert.Equal(t, "$match", store.lastPipeline[0][0].Key)
	assert.Equal(t, "$sort", store.lastPipeline[1][0].Key)
	assert.Equal(t, "$limit", store.lastPipeline[2][0].Key)
	assert.Equal(t, "$project", store.lastPipeline[3][0].Key)
}

func TestFindRejectsBadParams(t *testing.T) {
	service := testService(t, newTestStore())

	for name, values := range map[string]url.Values{
		"unknown filter field": {"nope": {"eq.1"}},
		"unknown sort field":   {"sort": {"nope"}},
		"bad order":            {"sort": {"name"}, "order": {"sideways"}},
		"zero page":            {"page": {"0"}},
		"non-numeric limit":    {"limit": {"many"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := service.Find(context.Background(), sec.Anonymous(), "users", values)
			assert.Equal(t, apperr.KindQueryParse, kindOf(t, err))
		})
	}
}

func TestFindCollectionPermissions(t *testing.T) {
	service := testService(t, newTestStore())

	_, err := service.Find(context.Background(), userWithRole("viewer"), "secrets", url.Values{})
	assert.Equal(t, apperr.KindAuthorization, kindOf(t, err))

	_, err = service.Find(context.Background(), userWithRole("admin"), "secrets", url.Values{})
	assert.NoError(t, err)
}

func TestFindRelationshipPermissionOverride(t *testing.T) {
	service := testService(t, newTestStore())

	values := url.Values{"select": {"total,customer(name)"}}

	// The customer expansion is restricted to editors by the relationship.
	_, err := service.Find(context.Background(), userWithRole("viewer"), "orders", values)
	assert.Equal(t, apperr.KindAuthorization, kindOf(t, err))

	_, err = service.Find(context.Background(), userWithRole("editor"), "orders", values)
	assert.NoError(t, err)
}

func TestFindRateLimited(t *testing.T) {
	service := testServiceWith(t, newTestStore(), testConfig(), denyLimiter{}, newMemoryCache())

	_, err := service.Find(context.Background(), sec.Anonymous(), "users", url.Values{})
	appErr := apperr.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperr.KindRateLimit, appErr.Kind)
	assert.Equal(t, 30, appErr.RetryAfter)
}

func TestFindResultCache(t *testing.T) {
	store := newTestStore()
	store.docs["users"] = []mongo.Document{{"name": "Ada"}}

	cfg := testConfig()
	cfg.ResultCacheTTLSeconds = 30
	service := testServiceWith(t, store, cfg, allowLimiter{}, newMemoryCache())

	first, err := service.Find(context.Background(), sec.Anonymous(), "users", url.Values{})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := service.Find(context.Background(), sec.Anonymous(), "users", url.Values{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, []string{"aggregate users"}, store.calls, "second read must not hit the store")
}

func TestFindOnePointRead(t *testing.T) {
	store := newTestStore()
	store.docs["users"] = []mongo.Document{{"name": "Ada"}}
	service := testService(t, store)

	id := "507f1f77bcf86cd799439011"
	doc, err := service.FindOne(context.Background(), sec.Anonymous(), "users", id, url.Values{})
	require.NoError(t, err)
	assert.Equal(t, "Ada", doc["name"])

	// The hex id reached the store as a native ObjectID.
	require.Len(t, store.lastFilter, 1)
	assert.Equal(t, "_id", store.lastFilter[0].Key)
	assert.IsType(t, bson.ObjectID{}, store.lastFilter[0].Value)
}

func TestFindOneNotFound(t *testing.T) {
	service := testService(t, newTestStore())

	_, err := service.FindOne(context.Background(), sec.Anonymous(), "users", "u-1", url.Values{})
	assert.Equal(t, apperr.KindNotFound, kindOf(t, err))
}

func TestFindOneWithRelationshipsUsesPipeline(t *testing.T) {
	store := newTestStore()
	store.docs["orders"] = []mongo.Document{{"total": int64(9)}}
	service := testService(t, store)

	values := url.Values{"select": {"total,customer(name)"}}
	doc, err := service.FindOne(context.Background(), userWithRole("editor"), "orders", "o-1", values)
	require.NoError(t, err)
	assert.Equal(t, int64(9), doc["total"])

	require.Equal(t, []string{"aggregate orders"}, store.calls)
	last := store.lastPipeline[len(store.lastPipeline)-1]
	assert.Equal(t, "$limit", last[0].Key)
	assert.Equal(t, 1, last[0].Value)
}

func TestExplainCompilesWithoutExecuting(t *testing.T) {
	store := newTestStore()
	service := testService(t, store)

	params := url.Values{}
	params.Set("status", "active")
	plan, err := service.Explain(context.Background(), userWithRole("viewer"), "users", params)
	require.NoError(t, err)

	assert.Contains(t, plan, "queryPlanner")
	// The plan comes from the server's explain command, not a real read.
	assert.Equal(t, []string{"explain users"}, store.calls)
	require.NotEmpty(t, store.lastPipeline)
	assert.Equal(t, "$match", store.lastPipeline[0][0].Key)
}

func TestExplainUnknownCollection(t *testing.T) {
	service := testService(t, newTestStore())

	_, err := service.Explain(context.Background(), userWithRole("viewer"), "nope", url.Values{})
	assert.Equal(t, apperr.KindNotFound, kindOf(t, err))
}

func TestSearchBodyFilters(t *testing.T) {
	store := newTestStore()
	service := testService(t, store)

	_, err := service.Search(context.Background(), sec.Anonymous(), "users", &SearchRequest{
		Filters: map[string]any{"status": "active"},
		Sort:    "name",
		Limit:   5,
	})
	require.NoError(t, err)

	require.NotEmpty(t, store.lastPipeline)
	assert.Equal(t, "$match", store.lastPipeline[0][0].Key)
}

// # Write Path

func TestInsertValidatesAndWrites(t *testing.T) {
	store := newTestStore()
	resultCache := newMemoryCache()
	service := testServiceWith(t, store, testConfig(), allowLimiter{}, resultCache)
	editor := userWithRole("editor")

	_, err := service.Insert(context.Background(), editor, "users", map[string]any{"email": "a@b.test"})
	assert.Equal(t, apperr.KindSchemaValidation, kindOf(t, err), "missing required name")

	result, err := service.Insert(context.Background(), editor, "users", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "id-1", result["insertedId"])
	assert.Equal(t, []string{"users"}, resultCache.invalidated)
}

func TestInsertManyFromArrayBody(t *testing.T) {
	store := newTestStore()
	service := testService(t, store)

	result, err := service.Insert(context.Background(), userWithRole("editor"), "users",
		[]any{map[string]any{"name": "Ada"}, map[string]any{"name": "Grace"}})
	require.NoError(t, err)
	assert.Equal(t, 2, result["count"])
	assert.Equal(t, []string{"insertMany users"}, store.calls)
}

func TestInsertRequiresEditor(t *testing.T) {
	service := testService(t, newTestStore())

	_, err := service.Insert(context.Background(), userWithRole("viewer"), "users", map[string]any{"name": "Ada"})
	assert.Equal(t, apperr.KindAuthorization, kindOf(t, err))
}

func TestUpdateWrapsPlainBodyInSet(t *testing.T) {
	store := newTestStore()
	service := testService(t, store)

	_, err := service.Update(context.Background(), userWithRole("editor"), "users", "u-1",
		map[string]any{"status": "active"})
	require.NoError(t, err)

	update, ok := store.lastUpdate.(bson.D)
	require.True(t, ok)
	assert.Equal(t, "$set", update[0].Key)
}

func TestUpdateNotFound(t *testing.T) {
	store := newTestStore()
	store.matched = 0
	service := testService(t, store)

	_, err := service.Update(context.Background(), userWithRole("editor"), "users", "u-1",
		map[string]any{"status": "active"})
	assert.Equal(t, apperr.KindNotFound, kindOf(t, err))
}

func TestDeleteRestrictedToAdmin(t *testing.T) {
	service := testService(t, newTestStore())

	// users declares deleteOne: ["admin"].
	_, err := service.Delete(context.Background(), userWithRole("editor"), "users", "u-1")
	assert.Equal(t, apperr.KindAuthorization, kindOf(t, err))

	_, err = service.Delete(context.Background(), userWithRole("admin"), "users", "u-1")
	assert.NoError(t, err)
}

// # Bulk

func TestWriteLifecycleHooks(t *testing.T) {
	store := newTestStore()
	service := testService(t, store)

	var events []HookEvent
	service.hooks = NewHookRegistry(map[string]LifecycleHook{
		"audit": func(_ context.Context, event HookEvent) error {
			events = append(events, event)
			return nil
		},
	})

	_, err := service.Insert(context.Background(), userWithRole("editor"), "users",
		map[string]any{"name": "Ada"})
	require.NoError(t, err)

	_, err = service.Delete(context.Background(), userWithRole("admin"), "users", "u-1")
	require.NoError(t, err)

	require.Len(t, events, 2)

	inserted := events[0]
	assert.Equal(t, "users", inserted.Collection)
	assert.Equal(t, OpInsertOne, inserted.Operation)
	assert.Equal(t, "Ada", inserted.Document["name"])
	assert.NotNil(t, inserted.Result, "afterInsert carries the write outcome")

	removed := events[1]
	assert.Equal(t, OpDeleteOne, removed.Operation)
	assert.Nil(t, removed.Result, "beforeDelete fires ahead of the write")
	require.NotEmpty(t, removed.Filter)
	assert.Equal(t, "_id", removed.Filter[0].Key)
}

func TestHookFailureDoesNotVetoWrite(t *testing.T) {
	store := newTestStore()
	service := testService(t, store)
	service.hooks = NewHookRegistry(map[string]LifecycleHook{
		"audit": func(context.Context, HookEvent) error {
			return fmt.Errorf("audit sink down")
		},
	})

	_, err := service.Insert(context.Background(), userWithRole("editor"), "users",
		map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, []string{"insertOne users"}, store.calls)
}

func TestBulkNonAtomicRecordsPerItemErrors(t *testing.T) {
	store := newTestStore()
	service := testService(t, store)

	results, err := service.Bulk(context.Background(), userWithRole("editor"), &BulkRequest{
		Operations: []BulkOperation{
			{Collection: "users", Operation: OpInsertOne, Document: map[string]any{"name": "Ada"}},
			{Collection: "nope", Operation: OpInsertOne, Document: map[string]any{"name": "Ada"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.NotEmpty(t, results[1].Error)
}

func TestBulkAtomicRunsInTransaction(t *testing.T) {
	store := newTestStore()
	service := testService(t, store)

	_, err := service.Bulk(context.Background(), userWithRole("editor"), &BulkRequest{
		Atomic: true,
		Operations: []BulkOperation{
			{Collection: "users", Operation: OpInsertOne, Document: map[string]any{"name": "Ada"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "transaction", store.calls[0])
}

func TestBulkAtomicAbortsOnFirstError(t *testing.T) {
	service := testService(t, newTestStore())

	_, err := service.Bulk(context.Background(), userWithRole("editor"), &BulkRequest{
		Atomic: true,
		Operations: []BulkOperation{
			{Collection: "nope", Operation: OpInsertOne, Document: map[string]any{"name": "Ada"}},
		},
	})
	assert.Equal(t, apperr.KindNotFound, kindOf(t, err))
}

func TestBulkRejectsReadOperations(t *testing.T) {
	service := testService(t, newTestStore())

	results, err := service.Bulk(context.Background(), userWithRole("editor"), &BulkRequest{
		Operations: []BulkOperation{{Collection: "users", Operation: OpFind}},
	})
	require.NoError(t, err)
	assert.False(t, results[0].Success)
}

// # Authorization Unit Checks

func TestAuthorizeOperation(t *testing.T) {
	scoped := sec.NewUserContext(&sec.AuthClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "s"},
		Role:             "editor",
		Collections:      []string{"orders"},
	})
	granted := sec.NewUserContext(&sec.AuthClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "g"},
		Role:             "viewer",
		Permissions:      []string{"users:deleteOne"},
	})

	tests := []struct {
		name      string
		user      *sec.UserContext
		perms     map[string][]string
		operation string
		wantErr   bool
	}{
		{"anonymous read open by default", sec.Anonymous(), nil, OpFind, false},
		{"anonymous write denied", sec.Anonymous(), nil, OpInsertOne, true},
		{"viewer write denied", userWithRole("viewer"), nil, OpInsertOne, true},
		{"editor write allowed", userWithRole("editor"), nil, OpInsertOne, false},
		{"declared list wins over default", userWithRole("viewer"), map[string][]string{"find": {"admin"}}, OpFind, true},
		{"admin bypasses declared list", userWithRole("admin"), map[string][]string{"find": {"admin"}}, OpFind, false},
		{"explicit grant bypasses role", granted, nil, OpDeleteOne, false},
		{"collection scope blocks", scoped, nil, OpFind, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := authorizeOperation(tt.user, "users", tt.perms, tt.operation)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
