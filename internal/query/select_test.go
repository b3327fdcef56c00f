// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mongrest/internal/query"
	"github.com/taibuivan/mongrest/internal/schema"
)

func TestParseSelectFields(t *testing.T) {
	selections, err := query.ParseSelect("name,email,address.city")
	require.NoError(t, err)
	require.Len(t, selections, 3)

	for _, sel := range selections {
		assert.Equal(t, query.KindField, sel.Kind)
	}
	assert.Equal(t, "address.city", selections[2].Name)
}

func TestParseSelectEmpty(t *testing.T) {
	selections, err := query.ParseSelect("")
	require.NoError(t, err)
	assert.Nil(t, selections)
}

func TestParseSelectRelationship(t *testing.T) {
	selections, err := query.ParseSelect("name,orders(total,status)")
	require.NoError(t, err)
	require.Len(t, selections, 2)

	rel := selections[1]
	assert.Equal(t, query.KindRelationship, rel.Kind)
	assert.Equal(t, "orders", rel.Name)
	assert.Equal(t, "orders", rel.Relation)
	require.Len(t, rel.SubFields, 2)
	assert.Equal(t, "total", rel.SubFields[0].Name)
}

func TestParseSelectWildcard(t *testing.T) {
	selections, err := query.ParseSelect("orders(*)")
	require.NoError(t, err)
	require.Len(t, selections, 1)
	assert.True(t, selections[0].Wildcard)
	assert.Empty(t, selections[0].SubFields)
}

func TestParseSelectAliasedRelationship(t *testing.T) {
	selections, err := query.ParseSelect("buyer:customer(name,email)")
	require.NoError(t, err)
	require.Len(t, selections, 1)
	assert.Equal(t, "buyer", selections[0].Name)
	assert.Equal(t, "customer", selections[0].Relation)
}

func TestParseSelectNested(t *testing.T) {
	selections, err := query.ParseSelect("orders(total,customer(name,profile(bio)))")
	require.NoError(t, err)

	orders := selections[0]
	require.Len(t, orders.SubFields, 2)
	customer := orders.SubFields[1]
	assert.Equal(t, query.KindRelationship, customer.Kind)
	profile := customer.SubFields[1]
	assert.Equal(t, "profile", profile.Name)
	assert.Equal(t, "bio", profile.SubFields[0].Name)
}

func TestParseSelectModifiers(t *testing.T) {
	selections, err := query.ParseSelect("orders(total)!order.created_at.desc!limit.5!skip.10!inner")
	require.NoError(t, err)

	m := selections[0].Modifiers
	require.Len(t, m.Sort, 1)
	assert.Equal(t, schema.SortKey{Field: "created_at", Direction: "desc"}, m.Sort[0])
	assert.True(t, m.HasLimit)
	assert.Equal(t, 5, m.Limit)
	assert.True(t, m.HasSkip)
	assert.Equal(t, 10, m.Skip)
	assert.True(t, m.Inner)
}

func TestParseSelectMultipleOrders(t *testing.T) {
	selections, err := query.ParseSelect("orders(*)!order.status.asc!order.total.desc")
	require.NoError(t, err)

	m := selections[0].Modifiers
	require.Len(t, m.Sort, 2)
	assert.Equal(t, "status", m.Sort[0].Field)
	assert.Equal(t, "total", m.Sort[1].Field)
}

func TestParseSelectAggregates(t *testing.T) {
	selections, err := query.ParseSelect("name,orders!count,revenue:orders!sum(total)")
	require.NoError(t, err)
	require.Len(t, selections, 3)

	count := selections[1]
	assert.Equal(t, query.KindAggregate, count.Kind)
	assert.Equal(t, query.AggCount, count.Aggregate)
	assert.Empty(t, count.AggregateField)

	sum := selections[2]
	assert.Equal(t, "revenue", sum.Name)
	assert.Equal(t, "orders", sum.Relation)
	assert.Equal(t, query.AggSum, sum.Aggregate)
	assert.Equal(t, "total", sum.AggregateField)
}

func TestParseSelectErrors(t *testing.T) {
	tests := []struct {
		name       string
		expression string
	}{
		{"unbalanced open", "orders(total"},
		{"unbalanced close", "orders)total("},
		{"empty element", "name,,email"},
		{"empty sublist", "orders()"},
		{"unknown modifier", "orders(*)!first.3"},
		{"bad limit", "orders(*)!limit.zero"},
		{"negative limit", "orders(*)!limit.-1"},
		{"bad order direction", "orders(*)!order.total.down"},
		{"trailing garbage", "orders(total)x"},
		{"unknown aggregate", "orders!median(total)"},
		{"sum without field", "orders!sum"},
		{"count with field", "orders!count(total)"},
		{"bad field charset", "na me"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := query.ParseSelect(tt.expression)
			require.Error(t, err)
		})
	}
}

func TestSelectRoundTrip(t *testing.T) {
	// Print produces canonical syntax; re-parsing it must yield the same AST.
	expressions := []string{
		"name,email",
		"orders(*)",
		"name,orders(total,status)!order.created_at.desc!limit.5!inner",
		"buyer:customer(name,profile(bio))",
		"orders!count,revenue:orders!sum(total)",
		"orders(total,customer(name))!skip.2",
	}

	for _, expression := range expressions {
		t.Run(expression, func(t *testing.T) {
			first, err := query.ParseSelect(expression)
			require.NoError(t, err)

			printed := query.Print(first)
			second, err := query.ParseSelect(printed)
			require.NoError(t, err)

			assert.Equal(t, first, second)
		})
	}
}

func TestMeasure(t *testing.T) {
	selections, err := query.ParseSelect("name,email,orders(total,customer(name)),orders!count")
	require.NoError(t, err)

	stats := query.Measure(selections)
	assert.Equal(t, 4, stats.Fields) // name, email, total, customer.name
	assert.Equal(t, 3, stats.Relationships)
	assert.Equal(t, 2, stats.MaxDepth)
}
