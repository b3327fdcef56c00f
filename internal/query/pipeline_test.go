// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package query_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/taibuivan/mongrest/internal/query"
	"github.com/taibuivan/mongrest/internal/schema"
)

func testBuilder(t *testing.T) (*query.Builder, *schema.Registry) {
	t.Helper()
	registry := testRegistry(t)
	return &query.Builder{Registry: registry, DefaultLimit: 20, MaxLimit: 100}, registry
}

// stageKeys extracts the operator of each stage, the easiest way to assert
// the stage-order contract.
func stageKeys(pipeline []bson.D) []string {
	keys := make([]string, 0, len(pipeline))
	for _, stage := range pipeline {
		keys = append(keys, stage[0].Key)
	}
	return keys
}

func parseAll(t *testing.T, registry *schema.Registry, collection, selectExpr string, params url.Values) query.Input {
	t.Helper()
	desc := registry.Collection(collection)
	require.NotNil(t, desc)

	selections, err := query.ParseSelect(selectExpr)
	require.NoError(t, err)

	filters, err := query.ParseFilters(desc, params)
	require.NoError(t, err)

	validator := &query.Validator{Registry: registry, MaxDepth: 3}
	require.NoError(t, validator.ValidateSelection(desc, selections))
	require.NoError(t, validator.ValidateRelationshipFilters(desc, filters))

	return query.Input{Collection: desc, Select: selections, Filters: filters}
}

func TestBuildStageOrder(t *testing.T) {
	builder, registry := testBuilder(t)

	params := url.Values{}
	params.Set("status", "active")
	in := parseAll(t, registry, "users", "name,orders(total)", params)
	in.Search = "smith"
	in.Sort = []schema.SortKey{{Field: "email"}}
	in.Page = 2
	in.Limit = 10

	result, err := builder.Build(in)
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"$match", "$match", "$lookup", "$sort", "$skip", "$limit", "$project"},
		stageKeys(result.Pipeline))
	assert.True(t, result.HasRelationships)
	assert.Equal(t, 10, result.Limit)
	assert.Equal(t, 10, result.Skip)
}

func TestBuildDeterministic(t *testing.T) {
	builder, registry := testBuilder(t)

	params := url.Values{}
	params.Set("status", "active")
	params.Set("age", "gte.21")
	in := parseAll(t, registry, "users", "name,orders(total,status)!limit.3,orders!count", params)

	first, err := builder.Build(in)
	require.NoError(t, err)
	second, err := builder.Build(in)
	require.NoError(t, err)

	assert.Equal(t, first.Pipeline, second.Pipeline)
}

func TestBuildPaginationClamp(t *testing.T) {
	builder, registry := testBuilder(t)

	// users declares maxLimit 50; a larger request clamps instead of failing.
	in := parseAll(t, registry, "users", "", url.Values{})
	in.Limit = 500
	result, err := builder.Build(in)
	require.NoError(t, err)
	assert.Equal(t, 50, result.Limit)

	// Page zero and page one are the same window.
	in.Limit = 10
	in.Page = 0
	result, err = builder.Build(in)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Skip)
}

func TestBuildDefaultSort(t *testing.T) {
	builder, registry := testBuilder(t)

	in := parseAll(t, registry, "users", "", url.Values{})
	result, err := builder.Build(in)
	require.NoError(t, err)

	// No request sort: the descriptor's defaultSort applies.
	require.Equal(t, []string{"$sort", "$limit"}, stageKeys(result.Pipeline))
	assert.Equal(t, bson.D{{Key: "name", Value: 1}}, result.Pipeline[0][0].Value)
	assert.Equal(t, 10, result.Limit) // descriptor defaultLimit beats gateway default
}

func TestBuildBelongsToSimple(t *testing.T) {
	builder, registry := testBuilder(t)

	in := parseAll(t, registry, "orders", "total,customer(*)", url.Values{})
	in.Unpaged = true
	result, err := builder.Build(in)
	require.NoError(t, err)

	require.Equal(t, []string{"$lookup", "$addFields", "$project"}, stageKeys(result.Pipeline))

	// Unfiltered belongsTo uses the plain lookup form.
	lookup := result.Pipeline[0][0].Value.(bson.D)
	assert.Equal(t, "from", lookup[0].Key)
	assert.Equal(t, "users", lookup[0].Value)
	assert.Equal(t, "localField", lookup[1].Key)

	// The lookup array reduces to its head or null.
	addFields := result.Pipeline[1][0].Value.(bson.D)
	assert.Equal(t, "customer", addFields[0].Key)
}

func TestBuildProjectionDropsImplicitID(t *testing.T) {
	builder, registry := testBuilder(t)

	in := parseAll(t, registry, "orders", "total,customer(name)", url.Values{})
	in.Unpaged = true
	result, err := builder.Build(in)
	require.NoError(t, err)

	// The response carries exactly the selected top-level fields, so the
	// implicit _id inclusion is switched off.
	final := result.Pipeline[len(result.Pipeline)-1]
	require.Equal(t, "$project", final[0].Key)
	assert.Equal(t, bson.D{
		{Key: "total", Value: 1},
		{Key: "customer", Value: 1},
		{Key: "_id", Value: 0},
	}, final[0].Value)

	// Same inside the expansion's sub-pipeline.
	lookup := result.Pipeline[0][0].Value.(bson.D)
	var inner []bson.D
	for _, field := range lookup {
		if field.Key == "pipeline" {
			inner = field.Value.([]bson.D)
		}
	}
	require.NotEmpty(t, inner)
	sub := inner[len(inner)-1]
	require.Equal(t, "$project", sub[0].Key)
	assert.Equal(t, bson.D{
		{Key: "name", Value: 1},
		{Key: "_id", Value: 0},
	}, sub[0].Value)
}

func TestBuildProjectionKeepsRequestedID(t *testing.T) {
	builder, registry := testBuilder(t)

	in := parseAll(t, registry, "orders", "_id,total", url.Values{})
	in.Unpaged = true
	result, err := builder.Build(in)
	require.NoError(t, err)

	final := result.Pipeline[len(result.Pipeline)-1]
	require.Equal(t, "$project", final[0].Key)
	assert.Equal(t, bson.D{
		{Key: "_id", Value: 1},
		{Key: "total", Value: 1},
	}, final[0].Value)
}

func TestBuildBelongsToFiltered(t *testing.T) {
	builder, registry := testBuilder(t)

	params := url.Values{}
	params.Set("customer.status", "active")
	in := parseAll(t, registry, "orders", "total,customer(name)", params)
	in.Unpaged = true

	result, err := builder.Build(in)
	require.NoError(t, err)

	// Filtered belongsTo: pipeline-form lookup, reduce, then the outer
	// match drops parents whose expansion is null.
	require.Equal(t, []string{"$lookup", "$addFields", "$match", "$project"}, stageKeys(result.Pipeline))

	lookup := result.Pipeline[0][0].Value.(bson.D)
	assert.Equal(t, "let", lookup[1].Key)
	assert.Equal(t, "pipeline", lookup[2].Key)

	outer := result.Pipeline[2][0].Value.(bson.D)
	assert.Equal(t, bson.D{{Key: "customer", Value: bson.D{{Key: "$ne", Value: nil}}}}, outer)
}

func TestBuildHasManyDefaults(t *testing.T) {
	builder, registry := testBuilder(t)

	in := parseAll(t, registry, "users", "name,orders(total)", url.Values{})
	in.Unpaged = true
	result, err := builder.Build(in)
	require.NoError(t, err)

	// The descriptor's defaultFilters and pagination force the pipeline
	// lookup form even without request-side modifiers.
	lookup := result.Pipeline[0][0].Value.(bson.D)
	require.Equal(t, "pipeline", lookup[2].Key)

	inner := lookup[2].Value.([]bson.D)
	keys := stageKeys(inner)
	assert.Equal(t, []string{"$match", "$match", "$limit", "$project"}, keys)

	// First inner $match correlates the foreign key; second carries the
	// descriptor's default filter.
	assert.Equal(t, "$expr", inner[0][0].Value.(bson.D)[0].Key)
	assert.Equal(t, bson.D{{Key: "status", Value: "paid"}}, inner[1][0].Value)
	assert.Equal(t, 5, inner[2][0].Value)
}

func TestBuildHasManyModifierClamp(t *testing.T) {
	builder, registry := testBuilder(t)

	// orders pagination maxLimit is 20; !limit.99 clamps.
	in := parseAll(t, registry, "users", "orders(total)!limit.99!order.total.desc", url.Values{})
	in.Unpaged = true
	result, err := builder.Build(in)
	require.NoError(t, err)

	lookup := result.Pipeline[0][0].Value.(bson.D)
	inner := lookup[2].Value.([]bson.D)
	assert.Equal(t, []string{"$match", "$match", "$sort", "$limit", "$project"}, stageKeys(inner))

	var limit any
	for _, stage := range inner {
		if stage[0].Key == "$limit" {
			limit = stage[0].Value
		}
	}
	assert.Equal(t, 20, limit)
}

func TestBuildManyToMany(t *testing.T) {
	builder, registry := testBuilder(t)

	in := parseAll(t, registry, "orders", "total,products(name,price)", url.Values{})
	in.Unpaged = true
	result, err := builder.Build(in)
	require.NoError(t, err)

	keys := stageKeys(result.Pipeline)
	assert.Equal(t, []string{"$lookup", "$lookup", "$unset", "$project"}, keys)

	// Junction scaffolding is unset before the response.
	assert.Equal(t, "products_junction", result.Pipeline[2][0].Value)

	junction := result.Pipeline[0][0].Value.(bson.D)
	assert.Equal(t, "order_products", junction[0].Value)

	// The final projection never includes the junction alias.
	projection := result.Pipeline[3][0].Value.(bson.D)
	for _, entry := range projection {
		assert.NotEqual(t, "products_junction", entry.Key)
	}
}

func TestBuildAggregates(t *testing.T) {
	builder, registry := testBuilder(t)

	in := parseAll(t, registry, "users", "name,orders!count,spend:orders!sum(total)", url.Values{})
	in.Unpaged = true
	result, err := builder.Build(in)
	require.NoError(t, err)

	keys := stageKeys(result.Pipeline)
	assert.Equal(t, []string{"$lookup", "$addFields", "$lookup", "$addFields", "$project"}, keys)

	count := result.Pipeline[1][0].Value.(bson.D)
	assert.Equal(t, "orders", count[0].Key)
	assert.Equal(t, bson.D{{Key: "$size", Value: "$orders"}}, count[0].Value)

	sum := result.Pipeline[3][0].Value.(bson.D)
	assert.Equal(t, "spend", sum[0].Key)
	assert.Equal(t, bson.D{{Key: "$sum", Value: "$spend.total"}}, sum[0].Value)
}

func TestBuildTextSearch(t *testing.T) {
	builder, registry := testBuilder(t)

	// products has a text index and no searchFields: $text leads the pipeline.
	in := parseAll(t, registry, "products", "", url.Values{})
	in.Search = "widget"
	result, err := builder.Build(in)
	require.NoError(t, err)

	first := result.Pipeline[0][0].Value.(bson.D)
	assert.Equal(t, "$text", first[0].Key)
}

func TestBuildRegexSearch(t *testing.T) {
	builder, registry := testBuilder(t)

	in := parseAll(t, registry, "users", "", url.Values{})
	in.Search = "a+b" // meta characters must be escaped
	result, err := builder.Build(in)
	require.NoError(t, err)

	match := result.Pipeline[0][0].Value.(bson.D)
	or := match[0].Value.(bson.A)
	require.Len(t, or, 2) // name, email

	first := or[0].(bson.D)[0].Value.(bson.D)
	assert.Equal(t, `a\+b`, first[0].Value)
	assert.Equal(t, "i", first[1].Value)
}

func TestBuildSearchFieldOverride(t *testing.T) {
	builder, registry := testBuilder(t)

	in := parseAll(t, registry, "users", "", url.Values{})
	in.Search = "smith"
	in.SearchFields = []string{"name"}
	result, err := builder.Build(in)
	require.NoError(t, err)

	match := result.Pipeline[0][0].Value.(bson.D)
	or := match[0].Value.(bson.A)
	assert.Len(t, or, 1)

	in.SearchFields = []string{"nickname"}
	_, err = builder.Build(in)
	require.Error(t, err)
}

func TestFindWriteStage(t *testing.T) {
	read := []bson.D{
		{{Key: "$match", Value: bson.D{}}},
		{{Key: "$group", Value: bson.D{}}},
	}
	_, found := query.FindWriteStage(read)
	assert.False(t, found)

	write := append(read, bson.D{{Key: "$merge", Value: "audit"}})
	stage, found := query.FindWriteStage(write)
	assert.True(t, found)
	assert.Equal(t, "$merge", stage)
}

func TestDecodePipeline(t *testing.T) {
	stages := []map[string]any{
		{"$match": map[string]any{"status": "active"}},
		{"$limit": float64(5)},
	}

	pipeline := query.DecodePipeline(stages)
	require.Len(t, pipeline, 2)
	assert.Equal(t, "$match", pipeline[0][0].Key)
	assert.Equal(t, bson.D{{Key: "status", Value: "active"}}, pipeline[0][0].Value)
}
