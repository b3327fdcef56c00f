// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package query

import (
	"fmt"
	"regexp"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/taibuivan/mongrest/internal/platform/apperr"
	"github.com/taibuivan/mongrest/internal/platform/constants"
	"github.com/taibuivan/mongrest/internal/schema"
)

// Builder lowers a validated AST into an aggregation pipeline.
//
// # Determinism
//
// Every emitted document is a bson.D with a fixed key order, and condition
// sets are walked in sorted field order, so identical requests always
// produce byte-identical pipelines. The result cache keys on that property.
//
// # Stage Order
//
// The contract, for every read:
//
//  1. $match on direct filters
//  2. search stage (a $text match precedes the direct match instead, since
//     the server requires $text in the first stage)
//  3. relationship stages, in selection order
//  4. $sort
//  5. $skip / $limit
//  6. final $project
type Builder struct {
	Registry     *schema.Registry
	DefaultLimit int
	MaxLimit     int
}

// Input is one read request, parsed and validated.
type Input struct {
	Collection *schema.Collection
	Select     []Selection
	Filters    Filters
	Sort       []schema.SortKey

	// Search and its optional field override. Empty SearchFields falls back
	// to the descriptor's searchFields, or a $text match when the collection
	// has a text index.
	Search       string
	SearchFields []string

	Page   int // 1-based; 0 means first page
	Limit  int // 0 means descriptor / gateway default
	Offset int // explicit document offset; wins over Page when positive

	// Unpaged suppresses stages 4–5 for callers that page themselves
	// (single-document reads append their own $limit).
	Unpaged bool
}

// Result carries the pipeline and the facts the response meta reports.
type Result struct {
	Pipeline         []bson.D
	HasRelationships bool
	Limit            int
	Skip             int
}

// Build lowers the request into pipeline stages.
func (b *Builder) Build(in Input) (Result, error) {
	result := Result{HasRelationships: HasRelationships(in.Select)}
	var pipeline []bson.D

	// ── 1. Direct match (with the $text stage ahead when searching) ───────
	textSearch := in.Search != "" && len(in.SearchFields) == 0 &&
		len(in.Collection.SearchFields) == 0 && in.Collection.HasTextIndex()
	if textSearch {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.D{
			{Key: "$text", Value: bson.D{{Key: "$search", Value: in.Search}}},
		}}})
	}

	if match := BuildMatch(in.Filters.Direct); len(match) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: match}})
	}

	// ── 2. Regex search over declared fields ──────────────────────────────
	if in.Search != "" && !textSearch {
		stage, err := b.searchStage(in)
		if err != nil {
			return Result{}, err
		}
		pipeline = append(pipeline, stage)
	}

	// ── 3. Relationship stages, in selection order ────────────────────────
	for _, selection := range in.Select {
		if selection.Kind == KindField {
			continue
		}
		stages, err := b.relationshipStages(in.Collection, selection, in.Filters, 1)
		if err != nil {
			return Result{}, err
		}
		pipeline = append(pipeline, stages...)
	}

	// ── 4–5. Sort and pagination ──────────────────────────────────────────
	if !in.Unpaged {
		sort := in.Sort
		if len(sort) == 0 {
			sort = in.Collection.DefaultSort
		}
		if len(sort) > 0 {
			pipeline = append(pipeline, bson.D{{Key: "$sort", Value: sortDoc(sort)}})
		}

		limit, skip := b.pageWindow(in)
		if skip > 0 {
			pipeline = append(pipeline, bson.D{{Key: "$skip", Value: skip}})
		}
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
		result.Limit, result.Skip = limit, skip
	}

	// ── 6. Final projection ───────────────────────────────────────────────
	if projection := buildProjection(in.Select); len(projection) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$project", Value: projection}})
	}

	result.Pipeline = pipeline
	return result, nil
}

// pageWindow resolves the effective limit and skip. Descriptor limits
// override gateway defaults; the requested limit is clamped, never rejected.
func (b *Builder) pageWindow(in Input) (limit, skip int) {
	defaultLimit := b.DefaultLimit
	if in.Collection.DefaultLimit > 0 {
		defaultLimit = in.Collection.DefaultLimit
	}
	maxLimit := b.MaxLimit
	if in.Collection.MaxLimit > 0 {
		maxLimit = in.Collection.MaxLimit
	}

	limit = in.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	if in.Offset > 0 {
		return limit, in.Offset
	}

	page := in.Page
	if page < 1 {
		page = 1
	}
	return limit, (page - 1) * limit
}

// searchStage builds the case-insensitive $or regex match for non-text
// search. The query is escaped; search is substring match, not regex entry.
func (b *Builder) searchStage(in Input) (bson.D, error) {
	fields := in.SearchFields
	if len(fields) == 0 {
		fields = in.Collection.SearchFields
	}
	if len(fields) == 0 {
		return nil, apperr.QueryParse(fmt.Sprintf(
			"Collection %q declares no searchFields and has no text index", in.Collection.Name))
	}

	pattern := regexp.QuoteMeta(in.Search)
	or := make(bson.A, 0, len(fields))
	for _, field := range fields {
		if !in.Collection.HasProperty(field) {
			return nil, apperr.QueryParse(fmt.Sprintf(
				"Search field %q is not declared on %q", field, in.Collection.Name))
		}
		or = append(or, bson.D{{Key: field, Value: bson.D{
			{Key: "$regex", Value: pattern},
			{Key: "$options", Value: "i"},
		}}})
	}

	return bson.D{{Key: "$match", Value: bson.D{{Key: "$or", Value: or}}}}, nil
}

// # Relationship Lowering

// relationshipStages emits the $lookup (and companions) for one selection
// node. depth guards against descriptor cycles slipping past validation.
func (b *Builder) relationshipStages(collection *schema.Collection, selection Selection, filters Filters, depth int) ([]bson.D, error) {
	if depth > constants.PipelineRecursionBudget {
		return nil, apperr.Internal(fmt.Errorf(
			"relationship expansion exceeded the recursion budget at %q", selection.Name))
	}

	relationship := collection.Relationship(selection.Relation)
	target := b.Registry.Collection(relationship.Target)

	conditions, err := b.aliasConditions(relationship, target, filters, selection.Relation)
	if err != nil {
		return nil, err
	}

	if selection.Kind == KindAggregate {
		return b.aggregateStages(relationship, target, selection, conditions)
	}

	subPipeline, err := b.subPipeline(target, selection, conditions, relationship, depth)
	if err != nil {
		return nil, err
	}

	switch relationship.Kind {
	case schema.BelongsTo:
		return belongsToStages(relationship, selection, subPipeline, len(conditions) > 0), nil
	case schema.ManyToMany:
		return manyToManyStages(relationship, selection, subPipeline), nil
	default:
		return hasManyStages(relationship, selection, subPipeline), nil
	}
}

// aliasConditions merges the descriptor's default filters under any request
// filters for this alias. Request filters win per field.
func (b *Builder) aliasConditions(relationship *schema.Relationship, target *schema.Collection, filters Filters, alias string) (map[string]Condition, error) {
	merged := make(map[string]Condition)
	for field, value := range relationship.DefaultFilters {
		merged[field] = Condition{Op: OpEq, Value: CoerceValue(target.Property(field), value)}
	}
	for field, condition := range filters.Relationship[alias] {
		merged[field] = condition
	}
	if len(merged) == 0 {
		return nil, nil
	}
	return merged, nil
}

// subPipeline builds the inner pipeline of a pipeline-form $lookup: filter,
// nested expansions, ordering, windowing, projection. A nil return means the
// simple localField/foreignField lookup form suffices.
func (b *Builder) subPipeline(target *schema.Collection, selection Selection, conditions map[string]Condition, relationship *schema.Relationship, depth int) ([]bson.D, error) {
	var stages []bson.D

	if len(conditions) > 0 {
		stages = append(stages, bson.D{{Key: "$match", Value: BuildMatch(conditions)}})
	}

	for _, sub := range selection.SubFields {
		if sub.Kind == KindField {
			continue
		}
		nested, err := b.relationshipStages(target, sub, Filters{}, depth+1)
		if err != nil {
			return nil, err
		}
		stages = append(stages, nested...)
	}

	sort := selection.Modifiers.Sort
	if len(sort) == 0 {
		sort = relationship.DefaultSort
	}
	if len(sort) > 0 && relationship.Kind != schema.BelongsTo {
		stages = append(stages, bson.D{{Key: "$sort", Value: sortDoc(sort)}})
	}

	if relationship.Kind != schema.BelongsTo {
		skip, limit, hasLimit := relationshipWindow(selection.Modifiers, relationship.Pagination)
		if skip > 0 {
			stages = append(stages, bson.D{{Key: "$skip", Value: skip}})
		}
		if hasLimit {
			stages = append(stages, bson.D{{Key: "$limit", Value: limit}})
		}
	}

	if projection := buildProjection(selection.SubFields); len(projection) > 0 {
		stages = append(stages, bson.D{{Key: "$project", Value: projection}})
	}

	return stages, nil
}

// relationshipWindow resolves the expansion's skip/limit from the modifier
// chain and the descriptor's pagination policy. A bare skip without any
// limit is legal and emits $skip alone.
func relationshipWindow(modifiers Modifiers, pagination *schema.RelationshipPagination) (skip, limit int, hasLimit bool) {
	if modifiers.HasSkip {
		skip = modifiers.Skip
	}

	switch {
	case modifiers.HasLimit:
		limit = modifiers.Limit
		if pagination != nil && pagination.MaxLimit > 0 && limit > pagination.MaxLimit {
			limit = pagination.MaxLimit
		}
		hasLimit = true
	case pagination != nil && pagination.DefaultLimit > 0:
		limit = pagination.DefaultLimit
		hasLimit = true
	}

	return skip, limit, hasLimit
}

// belongsToStages emits the one-to-one expansion: lookup, reduce the array
// to its head (or null), and drop parents with no match when the expansion
// is filtered or marked inner.
func belongsToStages(relationship *schema.Relationship, selection Selection, subPipeline []bson.D, filtered bool) []bson.D {
	alias := selection.Name
	stages := []bson.D{lookupStage(relationship.Target, relationship.LocalField, relationship.ForeignField, alias, subPipeline)}

	stages = append(stages, bson.D{{Key: "$addFields", Value: bson.D{{Key: alias, Value: bson.D{
		{Key: "$ifNull", Value: bson.A{
			bson.D{{Key: "$arrayElemAt", Value: bson.A{"$" + alias, 0}}},
			nil,
		}},
	}}}}})

	if filtered || selection.Modifiers.Inner {
		stages = append(stages, bson.D{{Key: "$match", Value: bson.D{
			{Key: alias, Value: bson.D{{Key: "$ne", Value: nil}}},
		}}})
	}

	return stages
}

// hasManyStages emits the one-to-many expansion.
func hasManyStages(relationship *schema.Relationship, selection Selection, subPipeline []bson.D) []bson.D {
	alias := selection.Name
	stages := []bson.D{lookupStage(relationship.Target, relationship.LocalField, relationship.ForeignField, alias, subPipeline)}

	if selection.Modifiers.Inner {
		stages = append(stages, matchNonEmpty(alias))
	}
	return stages
}

// manyToManyStages emits the junction walk: junction lookup, target lookup
// through the junction ids, then the junction scaffolding is unset so it
// never reaches the response.
func manyToManyStages(relationship *schema.Relationship, selection Selection, subPipeline []bson.D) []bson.D {
	alias := selection.Name
	junctionAlias := alias + "_junction"
	junctionIDs := "$" + junctionAlias + "." + relationship.ThroughForeignField

	stages := []bson.D{{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: relationship.Through},
		{Key: "localField", Value: relationship.LocalField},
		{Key: "foreignField", Value: relationship.ThroughLocalField},
		{Key: "as", Value: junctionAlias},
	}}}}

	if subPipeline == nil {
		stages = append(stages, bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: relationship.Target},
			{Key: "localField", Value: junctionAlias + "." + relationship.ThroughForeignField},
			{Key: "foreignField", Value: relationship.ForeignField},
			{Key: "as", Value: alias},
		}}})
	} else {
		inner := append([]bson.D{{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{
			{Key: "$in", Value: bson.A{"$" + relationship.ForeignField, "$$junction_ids"}},
		}}}}}}, subPipeline...)
		stages = append(stages, bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: relationship.Target},
			{Key: "let", Value: bson.D{{Key: "junction_ids", Value: junctionIDs}}},
			{Key: "pipeline", Value: inner},
			{Key: "as", Value: alias},
		}}})
	}

	stages = append(stages, bson.D{{Key: "$unset", Value: junctionAlias}})

	if selection.Modifiers.Inner {
		stages = append(stages, matchNonEmpty(alias))
	}
	return stages
}

// aggregateStages expands the relationship into a scratch array and
// immediately collapses it to the requested scalar under the same alias.
func (b *Builder) aggregateStages(relationship *schema.Relationship, target *schema.Collection, selection Selection, conditions map[string]Condition) ([]bson.D, error) {
	alias := selection.Name

	var subPipeline []bson.D
	if len(conditions) > 0 {
		subPipeline = append(subPipeline, bson.D{{Key: "$match", Value: BuildMatch(conditions)}})
	}
	if selection.Aggregate.needsField() {
		// Only the operand field crosses the lookup.
		subPipeline = append(subPipeline, bson.D{{Key: "$project", Value: bson.D{
			{Key: selection.AggregateField, Value: 1},
		}}})
	}

	var stages []bson.D
	if relationship.Kind == schema.ManyToMany {
		stages = manyToManyStages(relationship, Selection{Kind: KindRelationship, Name: alias, Relation: selection.Relation}, subPipeline)
	} else {
		stages = []bson.D{lookupStage(relationship.Target, relationship.LocalField, relationship.ForeignField, alias, subPipeline)}
	}

	var expr bson.D
	if selection.Aggregate == AggCount {
		expr = bson.D{{Key: "$size", Value: "$" + alias}}
	} else {
		operand := "$" + alias + "." + selection.AggregateField
		expr = bson.D{{Key: "$" + string(selection.Aggregate), Value: operand}}
	}

	stages = append(stages, bson.D{{Key: "$addFields", Value: bson.D{{Key: alias, Value: expr}}}})
	return stages, nil
}

// lookupStage emits a $lookup, choosing the simple localField/foreignField
// form when no inner pipeline is needed and the correlated pipeline form
// otherwise. Key order within the document is fixed.
func lookupStage(from, localField, foreignField, alias string, subPipeline []bson.D) bson.D {
	if subPipeline == nil {
		return bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: from},
			{Key: "localField", Value: localField},
			{Key: "foreignField", Value: foreignField},
			{Key: "as", Value: alias},
		}}}
	}

	inner := append([]bson.D{{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{
		{Key: "$eq", Value: bson.A{"$" + foreignField, "$$local_key"}},
	}}}}}}, subPipeline...)

	return bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: from},
		{Key: "let", Value: bson.D{{Key: "local_key", Value: "$" + localField}}},
		{Key: "pipeline", Value: inner},
		{Key: "as", Value: alias},
	}}}
}

// matchNonEmpty drops parents whose expansion matched nothing.
func matchNonEmpty(alias string) bson.D {
	return bson.D{{Key: "$match", Value: bson.D{
		{Key: alias, Value: bson.D{{Key: "$ne", Value: bson.A{}}}},
	}}}
}

// # Shared Pieces

// sortDoc lowers sort keys into the database's {field: ±1} form, preserving
// key order.
func sortDoc(keys []schema.SortKey) bson.D {
	doc := make(bson.D, 0, len(keys))
	for _, key := range keys {
		doc = append(doc, bson.E{Key: key.Field, Value: key.Order()})
	}
	return doc
}

// buildProjection emits the inclusion projection for a selection list, in
// selection order. Wildcards and empty lists project nothing — the full
// document passes through.
func buildProjection(selections []Selection) bson.D {
	if len(selections) == 0 {
		return nil
	}
	projection := make(bson.D, 0, len(selections)+1)
	includesID := false
	for _, selection := range selections {
		if selection.Name == "_id" {
			includesID = true
		}
		projection = append(projection, bson.E{Key: selection.Name, Value: 1})
	}
	// Inclusion projections keep _id unless it is excluded explicitly, and
	// the response must carry exactly the requested fields.
	if !includesID {
		projection = append(projection, bson.E{Key: "_id", Value: 0})
	}
	return projection
}

// # Raw Pipelines

// writeStages are the aggregation stages that persist results; they are
// refused from caller-supplied pipelines.
var writeStages = map[string]struct{}{
	"$out":   {},
	"$merge": {},
}

// FindWriteStage scans a caller-supplied pipeline for a persisting stage and
// returns its name. Only the first key of each stage document matters; a
// well-formed stage has exactly one.
func FindWriteStage(pipeline []bson.D) (string, bool) {
	for _, stage := range pipeline {
		if len(stage) == 0 {
			continue
		}
		if _, write := writeStages[stage[0].Key]; write {
			return stage[0].Key, true
		}
	}
	return "", false
}

// ToDocument converts one JSON-decoded map into an ordered bson.D, keys
// sorted for determinism, nested maps and arrays converted recursively.
func ToDocument(m map[string]any) bson.D {
	return mapToD(m)
}

// DecodePipeline converts JSON-decoded stage maps (procedure steps, script
// bodies) into ordered bson.D stages. Key order inside each stage follows
// Go's map iteration and is therefore not canonical; caller-supplied
// pipelines are executed as given, never cached.
func DecodePipeline(stages []map[string]any) []bson.D {
	pipeline := make([]bson.D, 0, len(stages))
	for _, stage := range stages {
		pipeline = append(pipeline, mapToD(stage))
	}
	return pipeline
}

func mapToD(m map[string]any) bson.D {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	// Stage documents have a single operator key almost always; sorting
	// makes the multi-key case deterministic too.
	sort.Strings(keys)

	doc := make(bson.D, 0, len(m))
	for _, key := range keys {
		doc = append(doc, bson.E{Key: key, Value: convertValue(m[key])})
	}
	return doc
}

func convertValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return mapToD(v)
	case []any:
		array := make(bson.A, 0, len(v))
		for _, item := range v {
			array = append(array, convertValue(item))
		}
		return array
	default:
		return v
	}
}
