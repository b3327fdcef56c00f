// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package query_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mongrest/internal/schema"
)

// testRegistry loads a small catalog covering every relationship shape:
// users —hasMany→ orders, orders —belongsTo→ users, orders —manyToMany→
// products through order_products, and users —belongsTo→ profiles.
func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	descriptors := map[string]string{
		"users.json": `{
			"name": "users",
			"properties": {
				"name":       {"type": "string"},
				"email":      {"type": "string"},
				"age":        {"type": "number"},
				"status":     {"type": "string"},
				"profile_id": {"type": "string", "format": "objectId"}
			},
			"required": ["name", "email"],
			"searchFields": ["name", "email"],
			"defaultSort": [{"field": "name"}],
			"defaultLimit": 10,
			"maxLimit": 50,
			"relationships": {
				"orders": {
					"type": "hasMany",
					"target": "orders",
					"localField": "_id",
					"foreignField": "user_id",
					"defaultFilters": {"status": "paid"},
					"pagination": {"defaultLimit": 5, "maxLimit": 20}
				},
				"profile": {
					"type": "belongsTo",
					"target": "profiles",
					"localField": "profile_id",
					"foreignField": "_id"
				}
			}
		}`,
		"orders.json": `{
			"name": "orders",
			"properties": {
				"user_id":    {"type": "string", "format": "objectId"},
				"total":      {"type": "number"},
				"status":     {"type": "string"},
				"created_at": {"type": "string", "format": "date-time"}
			},
			"relationships": {
				"customer": {
					"type": "belongsTo",
					"target": "users",
					"localField": "user_id",
					"foreignField": "_id"
				},
				"products": {
					"type": "manyToMany",
					"target": "products",
					"localField": "_id",
					"foreignField": "_id",
					"through": "order_products",
					"throughLocalField": "order_id",
					"throughForeignField": "product_id"
				}
			}
		}`,
		"products.json": `{
			"name": "products",
			"properties": {
				"name":  {"type": "string"},
				"price": {"type": "number"},
				"tags":  {"type": "array"}
			},
			"indexes": [{"keys": [{"field": "name"}], "text": true}]
		}`,
		"order_products.json": `{
			"name": "order_products",
			"properties": {
				"order_id":   {"type": "string", "format": "objectId"},
				"product_id": {"type": "string", "format": "objectId"}
			}
		}`,
		"profiles.json": `{
			"name": "profiles",
			"properties": {
				"bio":    {"type": "string"},
				"avatar": {"type": "string"}
			}
		}`,
	}

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "collections"), 0o755))
	for name, body := range descriptors {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "collections", name), []byte(body), 0o644))
	}

	registry, err := schema.Load(dir)
	require.NoError(t, err)
	return registry
}
