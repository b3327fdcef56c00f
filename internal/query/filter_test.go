// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package query_test

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/taibuivan/mongrest/internal/query"
	"github.com/taibuivan/mongrest/internal/schema"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{"null", nil},
		{"true", true},
		{"false", false},
		{"42", int64(42)},
		{"-7", int64(-7)},
		{"3.14", 3.14},
		{"hello", "hello"},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-03-01T10:30:00Z", time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)},
		// 24-hex stays a string without schema knowledge.
		{"507f1f77bcf86cd799439011", "507f1f77bcf86cd799439011"},
		// Not quite numeric shapes stay strings.
		{"1.2.3", "1.2.3"},
		{"42abc", "42abc"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, query.Coerce(tt.raw))
		})
	}
}

func TestCoerceFieldObjectID(t *testing.T) {
	property := &schema.Property{Type: "string", Format: schema.FormatObjectID}

	value := query.CoerceField(property, "507f1f77bcf86cd799439011")
	id, ok := value.(bson.ObjectID)
	require.True(t, ok, "expected a native ObjectID, got %T", value)
	assert.Equal(t, "507f1f77bcf86cd799439011", id.Hex())

	// Non-hex input on an id field falls through to the normal ladder.
	assert.Equal(t, "not-an-id", query.CoerceField(property, "not-an-id"))
}

func TestCoerceFieldStringKeepsText(t *testing.T) {
	property := &schema.Property{Type: "string"}

	// "42" stored in a string field must stay text.
	assert.Equal(t, "42", query.CoerceField(property, "42"))
	assert.Equal(t, "true", query.CoerceField(property, "true"))
}

func TestParseCondition(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		op    string
		value any
	}{
		{"bare equality", "active", query.OpEq, "active"},
		{"numeric equality", "42", query.OpEq, int64(42)},
		{"gte", "gte.10", query.OpGte, int64(10)},
		{"ne", "ne.closed", query.OpNe, "closed"},
		{"exists", "exists.true", query.OpExists, true},
		{"null false", "null.false", query.OpNull, false},
		{"like anchors and globs", "like.John*", query.OpLike, "^John.*$"},
		{"ilike escapes meta", "ilike.a+b", query.OpILike, `^a\+b$`},
		// An unknown prefix is just a value containing a dot.
		{"unknown prefix", "approximately.10", query.OpEq, "approximately.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			condition, err := query.ParseCondition(nil, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.op, condition.Op)
			assert.Equal(t, tt.value, condition.Value)
		})
	}
}

func TestParseConditionLists(t *testing.T) {
	condition, err := query.ParseCondition(nil, "in.(active,pending,42)")
	require.NoError(t, err)
	assert.Equal(t, query.OpIn, condition.Op)
	assert.Equal(t, []any{"active", "pending", int64(42)}, condition.Values)

	_, err = query.ParseCondition(nil, "in.active,pending")
	require.Error(t, err)

	_, err = query.ParseCondition(nil, "nin.()")
	require.Error(t, err)
}

func TestParseConditionErrors(t *testing.T) {
	_, err := query.ParseCondition(nil, "exists.maybe")
	require.Error(t, err)

	_, err = query.ParseCondition(nil, "regex.[unclosed")
	require.Error(t, err)
}

func TestParseFilters(t *testing.T) {
	registry := testRegistry(t)
	users := registry.Collection("users")

	values := url.Values{}
	values.Set("status", "active")
	values.Set("age", "gte.21")
	values.Set("orders.total", "gt.100")
	values.Set("select", "name,email")
	values.Set("limit", "5")
	values.Set("$hint", "whatever")

	filters, err := query.ParseFilters(users, values)
	require.NoError(t, err)

	assert.Equal(t, query.OpEq, filters.Direct["status"].Op)
	assert.Equal(t, query.OpGte, filters.Direct["age"].Op)

	require.True(t, filters.HasRelationshipFilters())
	assert.Equal(t, query.OpGt, filters.Relationship["orders"]["total"].Op)

	assert.Equal(t, "name,email", filters.Special["select"])
	assert.Equal(t, "5", filters.Special["limit"])
	assert.Equal(t, "whatever", filters.Special["$hint"])
}

func TestParseFiltersUnknownField(t *testing.T) {
	registry := testRegistry(t)

	values := url.Values{}
	values.Set("nickname", "bob")

	_, err := query.ParseFilters(registry.Collection("users"), values)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nickname")
}

func TestParseFiltersObjectIDRecast(t *testing.T) {
	registry := testRegistry(t)

	values := url.Values{}
	values.Set("user_id", "507f1f77bcf86cd799439011")

	filters, err := query.ParseFilters(registry.Collection("orders"), values)
	require.NoError(t, err)

	_, ok := filters.Direct["user_id"].Value.(bson.ObjectID)
	assert.True(t, ok)
}

func TestBuildMatch(t *testing.T) {
	conditions := map[string]query.Condition{
		"status": {Op: query.OpEq, Value: "active"},
		"age":    {Op: query.OpGte, Value: int64(21)},
	}

	match := query.BuildMatch(conditions)

	// Sorted field order keeps the document deterministic.
	require.Len(t, match, 2)
	assert.Equal(t, "age", match[0].Key)
	assert.Equal(t, bson.D{{Key: "$gte", Value: int64(21)}}, match[0].Value)
	assert.Equal(t, "status", match[1].Key)
	assert.Equal(t, "active", match[1].Value)
}

func TestBuildMatchGlobsAreCaseInsensitive(t *testing.T) {
	like, err := query.ParseCondition(nil, "like.John*")
	require.NoError(t, err)
	ilike, err := query.ParseCondition(nil, "ilike.John*")
	require.NoError(t, err)

	want := bson.D{{Key: "name", Value: bson.D{
		{Key: "$regex", Value: "^John.*$"},
		{Key: "$options", Value: "i"},
	}}}

	// Both glob operators lower to the same case-insensitive match.
	assert.Equal(t, want, query.BuildMatch(map[string]query.Condition{"name": like}))
	assert.Equal(t, want, query.BuildMatch(map[string]query.Condition{"name": ilike}))

	// Explicit regex stays case-sensitive.
	regex, err := query.ParseCondition(nil, "regex.^John")
	require.NoError(t, err)
	assert.Equal(t,
		bson.D{{Key: "name", Value: bson.D{{Key: "$regex", Value: "^John"}}}},
		query.BuildMatch(map[string]query.Condition{"name": regex}))
}

func TestBuildMatchEmptyOperator(t *testing.T) {
	match := query.BuildMatch(map[string]query.Condition{
		"tags": {Op: query.OpEmpty, Value: true},
	})

	require.Len(t, match, 1)
	assert.Equal(t, "$or", match[0].Key)

	// Mixed plain and compound conditions fold under $and.
	mixed := query.BuildMatch(map[string]query.Condition{
		"status": {Op: query.OpEq, Value: "active"},
		"tags":   {Op: query.OpEmpty, Value: false},
	})
	require.Len(t, mixed, 1)
	assert.Equal(t, "$and", mixed[0].Key)
}
