// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package schema_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mongrest/internal/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// writeCatalog materializes a descriptor directory for one test.
func writeCatalog(t *testing.T, collections, procedures map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "collections"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "procedures"), 0o755))

	for name, body := range collections {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "collections", name+".json"), []byte(body), 0o644))
	}
	for name, body := range procedures {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "procedures", name+".json"), []byte(body), 0o644))
	}
	return dir
}

const usersDescriptor = `{
	"name": "users",
	"properties": {
		"name":   {"type": "string"},
		"email":  {"type": "string", "format": "email"},
		"age":    {"type": "number", "minimum": 0}
	},
	"required": ["name", "email"]
}`

const ordersDescriptor = `{
	"name": "orders",
	"properties": {
		"user_id": {"type": "string", "format": "objectId"},
		"total":   {"type": "number"}
	},
	"relationships": {
		"customer": {
			"type": "belongsTo",
			"target": "users",
			"localField": "user_id",
			"foreignField": "_id"
		}
	}
}`

func TestLoadValidCatalog(t *testing.T) {
	dir := writeCatalog(t,
		map[string]string{"users": usersDescriptor, "orders": ordersDescriptor},
		map[string]string{"cleanup": `{
			"name": "cleanup",
			"method": "POST",
			"endpoint": "/maintenance/cleanup",
			"permissions": ["admin"],
			"steps": [{"id": "drop", "type": "deleteMany", "collection": "orders", "filter": {"total": 0}}]
		}`},
	)

	registry, err := schema.Load(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"orders", "users"}, registry.CollectionNames())
	assert.NotNil(t, registry.Collection("users"))
	assert.Nil(t, registry.Collection("nope"))

	require.NotNil(t, registry.Procedure("cleanup"))
	assert.Same(t, registry.Procedure("cleanup"), registry.ProcedureByRoute("POST", "/maintenance/cleanup"))
	assert.Nil(t, registry.ProcedureByRoute("GET", "/maintenance/cleanup"))
}

func TestLoadRejectsInvalidCollections(t *testing.T) {
	tests := map[string]string{
		"unknown top-level key":  `{"name": "users", "properties": {"name": {"type": "string"}}, "nope": 1}`,
		"missing properties":     `{"name": "users"}`,
		"required not declared":  `{"name": "users", "properties": {"name": {"type": "string"}}, "required": ["email"]}`,
		"search field unknown":   `{"name": "users", "properties": {"name": {"type": "string"}}, "searchFields": ["email"]}`,
		"default sort unknown":   `{"name": "users", "properties": {"name": {"type": "string"}}, "defaultSort": [{"field": "email"}]}`,
		"hook lifecycle unknown": `{"name": "users", "properties": {"name": {"type": "string"}}, "hooks": {"afterRename": ["audit"]}}`,
		"alias shadows property": `{
			"name": "users",
			"properties": {"group": {"type": "string"}},
			"relationships": {"group": {"type": "belongsTo", "target": "users", "localField": "group", "foreignField": "_id"}}
		}`,
		"relationship target missing": `{
			"name": "users",
			"properties": {"team_id": {"type": "string"}},
			"relationships": {"team": {"type": "belongsTo", "target": "teams", "localField": "team_id", "foreignField": "_id"}}
		}`,
	}

	for name, descriptor := range tests {
		t.Run(name, func(t *testing.T) {
			dir := writeCatalog(t, map[string]string{"users": descriptor}, nil)
			_, err := schema.Load(dir)
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsInvalidProcedures(t *testing.T) {
	step := `{"id": "list", "type": "find", "collection": "users"}`

	tests := map[string]string{
		"bad method":        `{"name": "p", "method": "FETCH", "endpoint": "/p", "steps": [` + step + `]}`,
		"relative endpoint": `{"name": "p", "method": "POST", "endpoint": "p", "steps": [` + step + `]}`,
		"no steps":          `{"name": "p", "method": "POST", "endpoint": "/p", "steps": []}`,
		"duplicate step ids": `{"name": "p", "method": "POST", "endpoint": "/p",
			"steps": [` + step + `, ` + step + `]}`,
		"unknown step collection": `{"name": "p", "method": "POST", "endpoint": "/p",
			"steps": [{"id": "list", "type": "find", "collection": "nope"}]}`,
		"transactional http step": `{"name": "p", "method": "POST", "endpoint": "/p", "transactional": true,
			"steps": [{"id": "notify", "type": "http", "url": "https://example.test", "method": "POST"}]}`,
		"unknown error strategy": `{"name": "p", "method": "POST", "endpoint": "/p",
			"errorHandling": {"strategy": "explode"}, "steps": [` + step + `]}`,
		"rollback references unknown step": `{"name": "p", "method": "POST", "endpoint": "/p",
			"errorHandling": {"strategy": "rollback", "rollbackSteps": ["nope"]}, "steps": [` + step + `]}`,
	}

	for name, descriptor := range tests {
		t.Run(name, func(t *testing.T) {
			dir := writeCatalog(t, map[string]string{"users": usersDescriptor}, map[string]string{"p": descriptor})
			_, err := schema.Load(dir)
			assert.Error(t, err)
		})
	}
}

func TestValidateDocument(t *testing.T) {
	dir := writeCatalog(t, map[string]string{"users": usersDescriptor}, nil)
	registry, err := schema.Load(dir)
	require.NoError(t, err)

	t.Run("full mode enforces required", func(t *testing.T) {
		err := registry.ValidateDocument("users", map[string]any{"name": "Ada"}, false)
		assert.Error(t, err, "email is required")

		err = registry.ValidateDocument("users", map[string]any{"name": "Ada", "email": "ada@lovelace.test"}, false)
		assert.NoError(t, err)
	})

	t.Run("partial mode skips required", func(t *testing.T) {
		err := registry.ValidateDocument("users", map[string]any{"age": float64(36)}, true)
		assert.NoError(t, err)
	})

	t.Run("type mismatch rejected in both modes", func(t *testing.T) {
		document := map[string]any{"name": "Ada", "email": "ada@lovelace.test", "age": "old"}
		assert.Error(t, registry.ValidateDocument("users", document, false))
		assert.Error(t, registry.ValidateDocument("users", map[string]any{"age": "old"}, true))
	})

	t.Run("undeclared fields rejected", func(t *testing.T) {
		document := map[string]any{"name": "Ada", "email": "ada@lovelace.test", "password": "x"}
		assert.Error(t, registry.ValidateDocument("users", document, false))
	})

	t.Run("unknown collection", func(t *testing.T) {
		assert.Error(t, registry.ValidateDocument("nope", map[string]any{}, false))
	})
}

func TestValidateProcedureInput(t *testing.T) {
	dir := writeCatalog(t, map[string]string{"users": usersDescriptor}, map[string]string{
		"greet": `{
			"name": "greet",
			"method": "POST",
			"endpoint": "/greet",
			"input": {
				"type": "object",
				"properties": {"who": {"type": "string"}},
				"required": ["who"]
			},
			"steps": [{"id": "count", "type": "countDocuments", "collection": "users"}]
		}`,
		"ping": `{
			"name": "ping",
			"method": "GET",
			"endpoint": "/ping",
			"steps": [{"id": "count", "type": "countDocuments", "collection": "users"}]
		}`,
	})
	registry, err := schema.Load(dir)
	require.NoError(t, err)

	assert.Error(t, registry.ValidateProcedureInput("greet", map[string]any{}))
	assert.NoError(t, registry.ValidateProcedureInput("greet", map[string]any{"who": "world"}))

	// No input schema means any parameters pass.
	assert.NoError(t, registry.ValidateProcedureInput("ping", map[string]any{"anything": true}))
}

func TestIncomingRelationships(t *testing.T) {
	dir := writeCatalog(t, map[string]string{"users": usersDescriptor, "orders": ordersDescriptor}, nil)
	registry, err := schema.Load(dir)
	require.NoError(t, err)

	incoming := registry.IncomingRelationships("users")
	require.Len(t, incoming, 1)
	assert.Equal(t, "orders", incoming[0].Source)
	assert.Equal(t, "customer", incoming[0].Alias)

	assert.Empty(t, registry.IncomingRelationships("orders"))
}

func TestProviderServesLoadedRegistry(t *testing.T) {
	dir := writeCatalog(t, map[string]string{"users": usersDescriptor}, nil)

	provider, err := schema.NewProvider(dir, testLogger())
	require.NoError(t, err)
	assert.NotNil(t, provider.Registry().Collection("users"))
}

func TestProviderFailsOnBrokenCatalog(t *testing.T) {
	dir := writeCatalog(t, map[string]string{"users": `{"name": "users"}`}, nil)

	_, err := schema.NewProvider(dir, testLogger())
	assert.Error(t, err)
}
