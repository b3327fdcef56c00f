// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package crud

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mongrest/internal/platform/apperr"
	"github.com/taibuivan/mongrest/internal/platform/mongo"
	"github.com/taibuivan/mongrest/internal/platform/sec"
)

// # Raw Aggregation

func TestAggregateEmptyPipeline(t *testing.T) {
	service := testService(t, newTestStore())

	_, err := service.Aggregate(context.Background(), sec.Anonymous(), "users", http.MethodPost, nil)
	assert.Equal(t, apperr.KindQueryParse, kindOf(t, err))
}

func TestAggregateExecutesPipeline(t *testing.T) {
	store := newTestStore()
	store.docs["users"] = []mongo.Document{{"_id": "active", "count": int64(3)}}
	service := testService(t, store)

	docs, err := service.Aggregate(context.Background(), sec.Anonymous(), "users", http.MethodPost,
		[]map[string]any{
			{"$match": map[string]any{"status": "active"}},
			{"$group": map[string]any{"_id": "$status", "count": map[string]any{"$sum": 1}}},
		})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, []string{"aggregate users"}, store.calls)
	assert.Len(t, store.lastPipeline, 2)
}

func TestAggregateWriteStageGates(t *testing.T) {
	stages := []map[string]any{
		{"$match": map[string]any{"status": "active"}},
		{"$out": "users_archive"},
	}

	t.Run("rejected outside POST", func(t *testing.T) {
		service := testService(t, newTestStore())
		_, err := service.Aggregate(context.Background(), userWithRole("editor"), "users", http.MethodGet, stages)
		assert.Equal(t, apperr.KindMethodMismatch, kindOf(t, err))
	})

	t.Run("requires write rights", func(t *testing.T) {
		service := testService(t, newTestStore())
		_, err := service.Aggregate(context.Background(), sec.Anonymous(), "users", http.MethodPost, stages)
		assert.Equal(t, apperr.KindAuthorization, kindOf(t, err))
	})

	t.Run("editor on POST passes", func(t *testing.T) {
		store := newTestStore()
		service := testService(t, store)
		_, err := service.Aggregate(context.Background(), userWithRole("editor"), "users", http.MethodPost, stages)
		require.NoError(t, err)
		assert.Equal(t, []string{"aggregate users"}, store.calls)
	})
}

// # Script Execution

func TestExecuteScriptFind(t *testing.T) {
	store := newTestStore()
	store.docs["users"] = []mongo.Document{{"name": "Ada"}}
	service := testService(t, store)

	result, err := service.ExecuteScript(context.Background(), sec.Anonymous(),
		`db.users.find({"status": "active"}).sort({"name": 1}).limit(5)`)
	require.NoError(t, err)

	assert.Equal(t, "users", result.Collection)
	assert.Equal(t, OpFind, result.Operation)
	assert.Equal(t, []string{"find users"}, store.calls)
	require.Len(t, store.lastFilter, 1)
	assert.Equal(t, "status", store.lastFilter[0].Key)
}

func TestExecuteScriptCount(t *testing.T) {
	store := newTestStore()
	store.docs["users"] = []mongo.Document{{"name": "Ada"}, {"name": "Grace"}}
	service := testService(t, store)

	result, err := service.ExecuteScript(context.Background(), sec.Anonymous(), `db.users.countDocuments({})`)
	require.NoError(t, err)

	data, ok := result.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(2), data["count"])
}

func TestExecuteScriptEmptySource(t *testing.T) {
	service := testService(t, newTestStore())

	_, err := service.ExecuteScript(context.Background(), sec.Anonymous(), "")
	assert.Equal(t, apperr.KindScriptParse, kindOf(t, err))
}

func TestExecuteScriptUnknownCollection(t *testing.T) {
	service := testService(t, newTestStore())

	_, err := service.ExecuteScript(context.Background(), sec.Anonymous(), `db.nope.find({})`)
	assert.Equal(t, apperr.KindNotFound, kindOf(t, err))
}

func TestExecuteScriptDangerousOperator(t *testing.T) {
	service := testService(t, newTestStore())

	_, err := service.ExecuteScript(context.Background(), userWithRole("admin"),
		`db.users.find({"$where": "this.age > 18"})`)
	assert.Equal(t, apperr.KindScriptSecurity, kindOf(t, err))
}

func TestExecuteScriptWriteNeedsEditor(t *testing.T) {
	service := testService(t, newTestStore())

	_, err := service.ExecuteScript(context.Background(), userWithRole("viewer"),
		`db.users.deleteMany({"status": "stale"})`)
	assert.Equal(t, apperr.KindAuthorization, kindOf(t, err))
}

func TestExecuteScriptInsertValidatesSchema(t *testing.T) {
	store := newTestStore()
	service := testService(t, store)
	editor := userWithRole("editor")

	_, err := service.ExecuteScript(context.Background(), editor,
		`db.users.insertOne({"email": "a@b.test"})`)
	assert.Equal(t, apperr.KindSchemaValidation, kindOf(t, err), "missing required name")

	result, err := service.ExecuteScript(context.Background(), editor,
		`db.users.insertOne({"name": "Ada"})`)
	require.NoError(t, err)

	data, ok := result.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "id-1", data["insertedId"])
}

// # Procedures

func TestExecuteProcedureByRoute(t *testing.T) {
	store := newTestStore()
	store.docs["users"] = []mongo.Document{{"name": "Ada"}}
	service := testService(t, store)

	result, err := service.ExecuteProcedure(context.Background(), userWithRole("viewer"),
		http.MethodPost, "/ping", nil)
	require.NoError(t, err)

	assert.Equal(t, "ping", result.Procedure)
	assert.Equal(t, 1, result.Steps)
	assert.Contains(t, store.calls, "count users")
}

func TestExecuteProcedureUnknownRoute(t *testing.T) {
	service := testService(t, newTestStore())

	_, err := service.ExecuteProcedure(context.Background(), userWithRole("viewer"),
		http.MethodPost, "/nope", nil)
	assert.Equal(t, apperr.KindNotFound, kindOf(t, err))
}

func TestExecuteProcedureRequiresDeclaredRole(t *testing.T) {
	service := testService(t, newTestStore())

	// ping declares viewer as its floor; anonymous is below it.
	_, err := service.ExecuteProcedure(context.Background(), sec.Anonymous(),
		http.MethodPost, "/ping", nil)
	assert.Equal(t, apperr.KindAuthorization, kindOf(t, err))
}
