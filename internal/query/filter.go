// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package query

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/taibuivan/mongrest/internal/platform/apperr"
	"github.com/taibuivan/mongrest/internal/schema"
)

// Filter operators. Values without an operator prefix default to OpEq.
const (
	OpEq     = "eq"
	OpNe     = "ne"
	OpGt     = "gt"
	OpGte    = "gte"
	OpLt     = "lt"
	OpLte    = "lte"
	OpIn     = "in"
	OpNin    = "nin"
	OpLike   = "like"
	OpILike  = "ilike"
	OpRegex  = "regex"
	OpExists = "exists"
	OpNull   = "null"
	OpEmpty  = "empty"
)

// reservedKeys are query parameters with special meaning; they are routed to
// [Filters.Special] instead of becoming field conditions, as is any key
// starting with '$'.
var reservedKeys = map[string]struct{}{
	"select":       {},
	"sort":         {},
	"order":        {},
	"page":         {},
	"limit":        {},
	"offset":       {},
	"search":       {},
	"searchFields": {},
}

// Condition is one parsed filter: operator plus coerced operand(s).
type Condition struct {
	Op     string
	Value  any
	Values []any // in / nin only
	Raw    string
}

// Filters is the parsed filter portion of a request.
type Filters struct {
	// Direct conditions on the requested collection, keyed by field.
	Direct map[string]Condition
	// Relationship conditions keyed by alias, then target field.
	Relationship map[string]map[string]Condition
	// Special keeps reserved parameters (pagination, search, select) for
	// the request pipeline to consume.
	Special map[string]string
}

// HasRelationshipFilters reports whether any condition targets a
// relationship alias.
func (f Filters) HasRelationshipFilters() bool { return len(f.Relationship) > 0 }

// ParseFilters parses a query string's filter parameters against a
// collection descriptor. Reserved keys and '$'-prefixed keys are diverted to
// Special; `alias.field` keys become relationship conditions when alias is a
// declared relationship; everything else is a direct field condition.
//
// Field and alias existence is checked here so an unknown name fails before
// any pipeline is built.
func ParseFilters(collection *schema.Collection, values url.Values) (Filters, error) {
	filters := Filters{
		Direct:       make(map[string]Condition),
		Relationship: make(map[string]map[string]Condition),
		Special:      make(map[string]string),
	}

	// Deterministic iteration keeps parse errors stable between runs.
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := values.Get(key)

		if _, reserved := reservedKeys[key]; reserved || strings.HasPrefix(key, "$") {
			filters.Special[key] = raw
			continue
		}

		// alias.field targets a relationship when alias is declared.
		if alias, field, found := strings.Cut(key, "."); found {
			if relationship := collection.Relationship(alias); relationship != nil {
				condition, err := ParseCondition(nil, raw)
				if err != nil {
					return Filters{}, err
				}
				if filters.Relationship[alias] == nil {
					filters.Relationship[alias] = make(map[string]Condition)
				}
				filters.Relationship[alias][field] = condition
				continue
			}
		}

		if !collection.HasProperty(key) {
			return Filters{}, apperr.QueryParse(
				fmt.Sprintf("Unknown filter field %q on collection %q", key, collection.Name))
		}

		condition, err := ParseCondition(collection.Property(key), raw)
		if err != nil {
			return Filters{}, err
		}
		filters.Direct[key] = condition
	}

	return filters, nil
}

// ParseCondition parses one `op.operand` filter value. A value with no
// recognized operator prefix is an equality match on the whole string.
func ParseCondition(property *schema.Property, raw string) (Condition, error) {
	op, operand, found := strings.Cut(raw, ".")
	if op == "neq" {
		op = OpNe
	}
	if !found || !knownOperator(op) {
		return Condition{Op: OpEq, Value: CoerceField(property, raw), Raw: raw}, nil
	}

	condition := Condition{Op: op, Raw: raw}

	switch op {
	case OpIn, OpNin:
		if !strings.HasPrefix(operand, "(") || !strings.HasSuffix(operand, ")") {
			return Condition{}, apperr.QueryParse(
				fmt.Sprintf("Operator %q needs a parenthesized list, e.g. %s.(a,b,c)", op, op))
		}
		list := operand[1 : len(operand)-1]
		if strings.TrimSpace(list) == "" {
			return Condition{}, apperr.QueryParse(fmt.Sprintf("Operator %q needs at least one value", op))
		}
		for _, item := range strings.Split(list, ",") {
			condition.Values = append(condition.Values, CoerceField(property, strings.TrimSpace(item)))
		}

	case OpExists, OpNull, OpEmpty:
		switch operand {
		case "true":
			condition.Value = true
		case "false":
			condition.Value = false
		default:
			return Condition{}, apperr.QueryParse(
				fmt.Sprintf("Operator %q needs true or false, got %q", op, operand))
		}

	case OpLike, OpILike:
		condition.Value = likePattern(operand)

	case OpRegex:
		if _, err := regexp.Compile(operand); err != nil {
			return Condition{}, apperr.QueryParse(fmt.Sprintf("Invalid regex %q: %v", operand, err))
		}
		condition.Value = operand

	default:
		condition.Value = CoerceField(property, operand)
	}

	return condition, nil
}

// ParseFilterMap parses JSON-typed filters (search bodies, descriptor
// default filters) into conditions. String values still go through operator
// parsing; other JSON types are equality matches.
func ParseFilterMap(collection *schema.Collection, raw map[string]any) (map[string]Condition, error) {
	conditions := make(map[string]Condition, len(raw))
	for field, value := range raw {
		if !collection.HasProperty(field) {
			return nil, apperr.QueryParse(
				fmt.Sprintf("Unknown filter field %q on collection %q", field, collection.Name))
		}
		property := collection.Property(field)

		if text, ok := value.(string); ok {
			condition, err := ParseCondition(property, text)
			if err != nil {
				return nil, err
			}
			conditions[field] = condition
			continue
		}

		conditions[field] = Condition{Op: OpEq, Value: CoerceValue(property, value)}
	}
	return conditions, nil
}

// knownOperator reports whether op is a recognized filter operator.
func knownOperator(op string) bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNin,
		OpLike, OpILike, OpRegex, OpExists, OpNull, OpEmpty:
		return true
	}
	return false
}

// likePattern translates a glob-style pattern into an anchored regex:
// metacharacters are escaped, then '*' becomes '.*'.
func likePattern(glob string) string {
	escaped := regexp.QuoteMeta(glob)
	return "^" + strings.ReplaceAll(escaped, `\*`, ".*") + "$"
}

// # Lowering

// BuildMatch lowers a condition set into a deterministic $match document.
// Fields are emitted in sorted order; the `empty` operator needs a
// document-level $or, which is folded in through $and when present.
func BuildMatch(conditions map[string]Condition) bson.D {
	fields := make([]string, 0, len(conditions))
	for field := range conditions {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	match := bson.D{}
	var compound bson.A

	for _, field := range fields {
		condition := conditions[field]
		if condition.Op == OpEmpty {
			compound = append(compound, emptyClause(field, condition.Value == true))
			continue
		}
		match = append(match, bson.E{Key: field, Value: condition.bson()})
	}

	if len(compound) == 0 {
		return match
	}

	// Mixed plain and compound conditions combine under one $and.
	all := bson.A{}
	if len(match) > 0 {
		all = append(all, match)
	}
	all = append(all, compound...)
	if len(all) == 1 {
		if doc, ok := all[0].(bson.D); ok {
			return doc
		}
	}
	return bson.D{{Key: "$and", Value: all}}
}

// bson lowers a single condition to its field-level operand.
func (c Condition) bson() any {
	switch c.Op {
	case OpEq:
		return c.Value
	case OpNe:
		return bson.D{{Key: "$ne", Value: c.Value}}
	case OpGt, OpGte, OpLt, OpLte:
		return bson.D{{Key: "$" + c.Op, Value: c.Value}}
	case OpIn:
		return bson.D{{Key: "$in", Value: bson.A(c.Values)}}
	case OpNin:
		return bson.D{{Key: "$nin", Value: bson.A(c.Values)}}
	case OpLike, OpILike:
		return bson.D{{Key: "$regex", Value: c.Value}, {Key: "$options", Value: "i"}}
	case OpRegex:
		return bson.D{{Key: "$regex", Value: c.Value}}
	case OpExists:
		return bson.D{{Key: "$exists", Value: c.Value}}
	case OpNull:
		if c.Value == true {
			return bson.D{{Key: "$eq", Value: nil}}
		}
		return bson.D{{Key: "$ne", Value: nil}}
	default:
		return c.Value
	}
}

// emptyClause builds the document-level test for "empty": missing, empty
// string, or empty array (negated for empty.false).
func emptyClause(field string, wantEmpty bool) bson.D {
	or := bson.A{
		bson.D{{Key: field, Value: ""}},
		bson.D{{Key: field, Value: bson.A{}}},
		bson.D{{Key: field, Value: bson.D{{Key: "$exists", Value: false}}}},
	}
	if wantEmpty {
		return bson.D{{Key: "$or", Value: or}}
	}
	return bson.D{{Key: "$nor", Value: or}}
}
