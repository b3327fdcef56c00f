// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package schema holds the in-memory catalog of collection and procedure
descriptors that drives the whole gateway.

Descriptors are loaded once from JSON files at startup, validated against the
meta-rules, and indexed for O(1) lookup during request parsing. The loaded
[Registry] is immutable; hot reload builds a fresh registry and swaps it
atomically via [Provider].
*/
package schema

// # Sorting & Indexing

// SortKey is one entry of an ordered sort specification.
type SortKey struct {
	Field     string `json:"field"`
	Direction string `json:"direction,omitempty"` // "asc" (default) or "desc"
}

// Order returns the numeric sort direction understood by the database.
func (k SortKey) Order() int {
	if k.Direction == "desc" {
		return -1
	}
	return 1
}

// IndexKey is one field of a compound index.
type IndexKey struct {
	Field string `json:"field"`
	Order int    `json:"order,omitempty"` // 1 ascending (default), -1 descending
}

// Index describes one index on a collection.
type Index struct {
	Keys   []IndexKey `json:"keys"`
	Unique bool       `json:"unique,omitempty"`
	// Text marks a full-text index; its presence enables bare `search`
	// without explicit searchFields.
	Text bool `json:"text,omitempty"`
}

// # Properties

// Property is a JSON-schema-like description of one document field. Its
// JSON representation is a valid JSON-schema fragment, which lets the
// registry compile validators from the same structure it validates against.
type Property struct {
	Type        string               `json:"type,omitempty"`
	Format      string               `json:"format,omitempty"`
	Pattern     string               `json:"pattern,omitempty"`
	Minimum     *float64             `json:"minimum,omitempty"`
	Maximum     *float64             `json:"maximum,omitempty"`
	MinLength   *int                 `json:"minLength,omitempty"`
	MaxLength   *int                 `json:"maxLength,omitempty"`
	Enum        []any                `json:"enum,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Description string               `json:"description,omitempty"`
}

// FormatObjectID marks a string property holding a document id; the value
// coercer re-casts 24-hex strings for such fields.
const FormatObjectID = "objectId"

// # Relationships

// RelationshipKind discriminates the three navigation shapes.
type RelationshipKind string

const (
	// BelongsTo: local → remote, cardinality one; result is a single
	// subdocument or null.
	BelongsTo RelationshipKind = "belongsTo"

	// HasMany: local → remote, cardinality many; result is an array.
	HasMany RelationshipKind = "hasMany"

	// ManyToMany: local → junction → remote; result is an array.
	ManyToMany RelationshipKind = "manyToMany"
)

// RelationshipPagination bounds relationship expansion page sizes.
type RelationshipPagination struct {
	DefaultLimit int `json:"defaultLimit,omitempty"`
	MaxLimit     int `json:"maxLimit,omitempty"`
}

// Relationship is a declared navigation from one collection to another.
type Relationship struct {
	Kind         RelationshipKind `json:"type"`
	Target       string           `json:"target"`
	LocalField   string           `json:"localField"`
	ForeignField string           `json:"foreignField"`

	// Junction plumbing, manyToMany only.
	Through             string `json:"through,omitempty"`
	ThroughLocalField   string `json:"throughLocalField,omitempty"`
	ThroughForeignField string `json:"throughForeignField,omitempty"`

	// DefaultFilters are merged under any request filters for this alias.
	DefaultFilters map[string]any `json:"defaultFilters,omitempty"`

	DefaultSort []SortKey               `json:"defaultSort,omitempty"`
	Pagination  *RelationshipPagination `json:"pagination,omitempty"`

	// Permissions overrides the target collection's per-operation roles
	// when this relationship is expanded.
	Permissions map[string][]string `json:"permissions,omitempty"`
}

// # Collections

// RateLimitPolicy is a per-operation request ceiling declared by a descriptor.
type RateLimitPolicy struct {
	Requests      int `json:"requests"`
	WindowSeconds int `json:"windowSeconds"`
}

// Collection is the authoritative description of one stored collection.
type Collection struct {
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	Properties           map[string]*Property `json:"properties"`
	Required             []string             `json:"required,omitempty"`
	AdditionalProperties bool                 `json:"additionalProperties,omitempty"`

	Indexes       []Index                  `json:"indexes,omitempty"`
	Relationships map[string]*Relationship `json:"relationships,omitempty"`

	// Operational policy
	Permissions  map[string][]string        `json:"permissions,omitempty"` // operation → allowed roles
	RateLimits   map[string]RateLimitPolicy `json:"rateLimits,omitempty"`  // operation → ceiling
	SearchFields []string                   `json:"searchFields,omitempty"`
	DefaultSort  []SortKey                  `json:"defaultSort,omitempty"`
	DefaultLimit int                        `json:"defaultLimit,omitempty"`
	MaxLimit     int                        `json:"maxLimit,omitempty"`
	Hooks        map[string][]string        `json:"hooks,omitempty"` // lifecycle → hook names
}

// Write lifecycles a collection may bind hooks to.
const (
	LifecycleBeforeInsert = "beforeInsert"
	LifecycleAfterInsert  = "afterInsert"
	LifecycleBeforeUpdate = "beforeUpdate"
	LifecycleAfterUpdate  = "afterUpdate"
	LifecycleBeforeDelete = "beforeDelete"
	LifecycleAfterDelete  = "afterDelete"
)

// KnownLifecycle reports whether the hooks key names a write phase.
func KnownLifecycle(name string) bool {
	switch name {
	case LifecycleBeforeInsert, LifecycleAfterInsert,
		LifecycleBeforeUpdate, LifecycleAfterUpdate,
		LifecycleBeforeDelete, LifecycleAfterDelete:
		return true
	}
	return false
}

// HasProperty reports whether the field is declared or is the id field.
func (c *Collection) HasProperty(name string) bool {
	if name == "_id" {
		return true
	}
	_, ok := c.Properties[name]
	return ok
}

// Property returns the declared property schema, nil for undeclared fields.
func (c *Collection) Property(name string) *Property {
	return c.Properties[name]
}

// Relationship resolves an alias, nil when unknown.
func (c *Collection) Relationship(alias string) *Relationship {
	return c.Relationships[alias]
}

// HasTextIndex reports whether any declared index is a text index.
func (c *Collection) HasTextIndex() bool {
	for _, index := range c.Indexes {
		if index.Text {
			return true
		}
	}
	return false
}

// # Procedures

// StepType discriminates procedure step handlers.
type StepType string

const (
	StepFind           StepType = "find"
	StepFindOne        StepType = "findOne"
	StepInsertOne      StepType = "insertOne"
	StepInsertMany     StepType = "insertMany"
	StepUpdateOne      StepType = "updateOne"
	StepUpdateMany     StepType = "updateMany"
	StepDeleteOne      StepType = "deleteOne"
	StepDeleteMany     StepType = "deleteMany"
	StepAggregate      StepType = "aggregate"
	StepCountDocuments StepType = "countDocuments"
	StepDistinct       StepType = "distinct"
	StepTransform      StepType = "transform"
	StepCondition      StepType = "condition"
	StepHTTP           StepType = "http"
	StepDelay          StepType = "delay"
)

// IsDatabase reports whether the step type talks to the document database.
func (t StepType) IsDatabase() bool {
	switch t {
	case StepFind, StepFindOne, StepInsertOne, StepInsertMany,
		StepUpdateOne, StepUpdateMany, StepDeleteOne, StepDeleteMany,
		StepAggregate, StepCountDocuments, StepDistinct:
		return true
	}
	return false
}

// Step is one unit of a procedure plan. The Type field discriminates which
// parameter group applies; unrelated fields stay zero.
type Step struct {
	ID        string   `json:"id"`
	Type      StepType `json:"type"`
	TimeoutMS int      `json:"timeoutMs,omitempty"`

	// Database steps
	Collection  string           `json:"collection,omitempty"`
	Filter      map[string]any   `json:"filter,omitempty"`
	Document    map[string]any   `json:"document,omitempty"`
	Documents   []map[string]any `json:"documents,omitempty"`
	Update      map[string]any   `json:"update,omitempty"`
	Replacement map[string]any   `json:"replacement,omitempty"`
	Pipeline    []map[string]any `json:"pipeline,omitempty"`
	Field       string           `json:"field,omitempty"` // distinct
	Sort        []SortKey        `json:"sort,omitempty"`
	Limit       int              `json:"limit,omitempty"`
	Skip        int              `json:"skip,omitempty"`
	Projection  map[string]any   `json:"projection,omitempty"`
	Upsert      bool             `json:"upsert,omitempty"`

	// Transform step
	Template any `json:"template,omitempty"`

	// Condition step
	Expression  string `json:"expression,omitempty"`
	StopIfFalse bool   `json:"stopIfFalse,omitempty"`

	// HTTP step
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`

	// Delay step
	DurationMS int `json:"durationMs,omitempty"`
}

// ErrorStrategy selects the failure policy of a procedure.
type ErrorStrategy string

const (
	StrategyRollback ErrorStrategy = "rollback"
	StrategyRetry    ErrorStrategy = "retry"
	StrategyIgnore   ErrorStrategy = "ignore"
)

// ErrorHandling configures what happens when a step fails.
type ErrorHandling struct {
	Strategy      ErrorStrategy `json:"strategy,omitempty"`
	RollbackSteps []string      `json:"rollbackSteps,omitempty"`
	RetryCount    int           `json:"retryCount,omitempty"`
}

// ProcedureHooks names host-provided functions to invoke around execution.
type ProcedureHooks struct {
	BeforeExecution []string `json:"beforeExecution,omitempty"`
	AfterExecution  []string `json:"afterExecution,omitempty"`
	OnError         []string `json:"onError,omitempty"`
}

// Procedure is a declarative multi-step workflow exposed as an endpoint.
type Procedure struct {
	Name     string `json:"name"`
	Method   string `json:"method"`
	Endpoint string `json:"endpoint"`

	Steps []Step `json:"steps"`

	// Input / Output are JSON-schema fragments for the invocation payload
	// and the response body.
	Input  map[string]any `json:"input,omitempty"`
	Output map[string]any `json:"output,omitempty"`

	Permissions   []string                   `json:"permissions,omitempty"` // allowed roles
	RateLimits    map[string]RateLimitPolicy `json:"rateLimits,omitempty"`
	Hooks         ProcedureHooks             `json:"hooks,omitempty"`
	ErrorHandling ErrorHandling              `json:"errorHandling,omitempty"`
	TimeoutMS     int                        `json:"timeoutMs,omitempty"`

	// Transactional runs all database steps in a single session that is
	// committed or aborted as a unit.
	Transactional bool `json:"transactional,omitempty"`
}

// HasOutputSchema reports whether the procedure frames its response through
// a declared output schema (last step's output) instead of the step map.
func (p *Procedure) HasOutputSchema() bool {
	return len(p.Output) > 0
}

// Step returns the step with the given id, nil when absent.
func (p *Procedure) Step(id string) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// # Introspection

// IncomingRelationship is one edge of the reverse relationship index: some
// source collection navigates into the indexed target.
type IncomingRelationship struct {
	Source string           `json:"source"`
	Alias  string           `json:"alias"`
	Kind   RelationshipKind `json:"type"`
}
