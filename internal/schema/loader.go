// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package schema

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Load reads every descriptor under dir and builds a validated [Registry].
//
// Layout: <dir>/collections/*.json and <dir>/procedures/*.json. Any
// descriptor failing validation is fatal — the gateway must refuse to serve
// with a partial catalog.
func Load(dir string) (*Registry, error) {
	registry := &Registry{
		collections:       make(map[string]*Collection),
		procedures:        make(map[string]*Procedure),
		procedureRoutes:   make(map[string]*Procedure),
		incoming:          make(map[string][]IncomingRelationship),
		fullValidators:    make(map[string]*jsonschema.Resolved),
		partialValidators: make(map[string]*jsonschema.Resolved),
		inputValidators:   make(map[string]*jsonschema.Resolved),
	}

	// ── 1. Collections ────────────────────────────────────────────────────
	collectionFiles, err := descriptorFiles(filepath.Join(dir, "collections"))
	if err != nil {
		return nil, err
	}
	if len(collectionFiles) == 0 {
		return nil, fmt.Errorf("schema: no collection descriptors found under %s", dir)
	}

	for _, path := range collectionFiles {
		collection := &Collection{}
		if err := readDescriptor(path, collection); err != nil {
			return nil, err
		}
		if _, exists := registry.collections[collection.Name]; exists {
			return nil, fmt.Errorf("schema: duplicate collection %q (%s)", collection.Name, path)
		}
		registry.collections[collection.Name] = collection
	}

	// ── 2. Procedures ─────────────────────────────────────────────────────
	procedureFiles, err := descriptorFiles(filepath.Join(dir, "procedures"))
	if err != nil {
		return nil, err
	}

	for _, path := range procedureFiles {
		procedure := &Procedure{}
		if err := readDescriptor(path, procedure); err != nil {
			return nil, err
		}
		if _, exists := registry.procedures[procedure.Name]; exists {
			return nil, fmt.Errorf("schema: duplicate procedure %q (%s)", procedure.Name, path)
		}
		registry.procedures[procedure.Name] = procedure
	}

	// ── 3. Meta-validation ────────────────────────────────────────────────
	// Cross-descriptor rules can only run once everything is loaded.
	for _, collection := range registry.collections {
		if err := registry.validateCollection(collection); err != nil {
			return nil, err
		}
	}
	for _, procedure := range registry.procedures {
		if err := registry.validateProcedure(procedure); err != nil {
			return nil, err
		}
		routeKey := procedure.Method + " " + procedure.Endpoint
		if _, exists := registry.procedureRoutes[routeKey]; exists {
			return nil, fmt.Errorf("schema: procedure %q duplicates route %s", procedure.Name, routeKey)
		}
		registry.procedureRoutes[routeKey] = procedure
	}

	// ── 4. Validator compilation (memoized) ───────────────────────────────
	for name, collection := range registry.collections {
		full, err := compileObjectSchema(documentSchema(collection, false))
		if err != nil {
			return nil, fmt.Errorf("schema: collection %q: %w", name, err)
		}
		partial, err := compileObjectSchema(documentSchema(collection, true))
		if err != nil {
			return nil, fmt.Errorf("schema: collection %q: %w", name, err)
		}
		registry.fullValidators[name] = full
		registry.partialValidators[name] = partial
	}

	for name, procedure := range registry.procedures {
		if len(procedure.Input) == 0 {
			continue
		}
		input, err := compileObjectSchema(procedure.Input)
		if err != nil {
			return nil, fmt.Errorf("schema: procedure %q input: %w", name, err)
		}
		registry.inputValidators[name] = input
	}

	// ── 5. Reverse relationship index ─────────────────────────────────────
	for _, sourceName := range registry.CollectionNames() {
		source := registry.collections[sourceName]
		for _, alias := range sortedAliases(source.Relationships) {
			relationship := source.Relationships[alias]
			registry.incoming[relationship.Target] = append(registry.incoming[relationship.Target],
				IncomingRelationship{Source: sourceName, Alias: alias, Kind: relationship.Kind})
		}
	}

	return registry, nil
}

// descriptorFiles lists *.json files in a directory, sorted for determinism.
// A missing directory yields an empty list, not an error.
func descriptorFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("schema: read %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// readDescriptor decodes one descriptor file with strict field checking so
// a typoed key fails loud at startup instead of silently dropping policy.
func readDescriptor(path string, target any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("schema: read %s: %w", path, err)
	}

	decoder := json.NewDecoder(strings.NewReader(string(raw)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("schema: parse %s: %w", path, err)
	}

	return nil
}

// # Meta-Validation

// validateCollection enforces the per-collection meta-rules.
func (r *Registry) validateCollection(collection *Collection) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("schema: collection %q: %s", collection.Name, fmt.Sprintf(format, args...))
	}

	if collection.Name == "" {
		return fmt.Errorf("schema: collection descriptor missing name")
	}
	if len(collection.Properties) == 0 {
		return fail("properties must not be empty")
	}

	// required ⊆ properties
	for _, field := range collection.Required {
		if _, ok := collection.Properties[field]; !ok {
			return fail("required field %q is not declared in properties", field)
		}
	}

	// index fields are properties or _id
	for _, index := range collection.Indexes {
		if len(index.Keys) == 0 {
			return fail("index with no keys")
		}
		for _, key := range index.Keys {
			if !collection.HasProperty(key.Field) {
				return fail("index field %q is not declared in properties", key.Field)
			}
		}
	}

	// pagination sanity
	if collection.MaxLimit > 0 && collection.DefaultLimit > collection.MaxLimit {
		return fail("defaultLimit %d exceeds maxLimit %d", collection.DefaultLimit, collection.MaxLimit)
	}

	// search fields are properties
	for _, field := range collection.SearchFields {
		if !collection.HasProperty(field) {
			return fail("searchFields entry %q is not declared in properties", field)
		}
	}
	for _, key := range collection.DefaultSort {
		if !collection.HasProperty(key.Field) {
			return fail("defaultSort field %q is not declared in properties", key.Field)
		}
	}

	// hook lifecycles are known write phases
	for lifecycle := range collection.Hooks {
		if !KnownLifecycle(lifecycle) {
			return fail("hooks lifecycle %q is not a write phase", lifecycle)
		}
	}

	// relationships
	for alias, relationship := range collection.Relationships {
		if _, collides := collection.Properties[alias]; collides {
			return fail("relationship alias %q collides with a property name", alias)
		}
		if err := r.validateRelationship(collection, alias, relationship); err != nil {
			return err
		}
	}

	return nil
}

// validateRelationship enforces that every referenced field and collection
// exists on both ends (and on the junction, for manyToMany).
func (r *Registry) validateRelationship(collection *Collection, alias string, relationship *Relationship) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("schema: collection %q relationship %q: %s",
			collection.Name, alias, fmt.Sprintf(format, args...))
	}

	switch relationship.Kind {
	case BelongsTo, HasMany, ManyToMany:
	default:
		return fail("unknown kind %q", relationship.Kind)
	}

	target := r.collections[relationship.Target]
	if target == nil {
		return fail("target collection %q is not registered", relationship.Target)
	}

	if !collection.HasProperty(relationship.LocalField) {
		return fail("localField %q does not exist on %q", relationship.LocalField, collection.Name)
	}
	if !target.HasProperty(relationship.ForeignField) {
		return fail("foreignField %q does not exist on %q", relationship.ForeignField, relationship.Target)
	}

	if relationship.Kind == ManyToMany {
		junction := r.collections[relationship.Through]
		if junction == nil {
			return fail("junction collection %q is not registered", relationship.Through)
		}
		if !junction.HasProperty(relationship.ThroughLocalField) {
			return fail("throughLocalField %q does not exist on %q", relationship.ThroughLocalField, relationship.Through)
		}
		if !junction.HasProperty(relationship.ThroughForeignField) {
			return fail("throughForeignField %q does not exist on %q", relationship.ThroughForeignField, relationship.Through)
		}
	}

	if relationship.Pagination != nil && relationship.Pagination.MaxLimit > 0 &&
		relationship.Pagination.DefaultLimit > relationship.Pagination.MaxLimit {
		return fail("pagination defaultLimit exceeds maxLimit")
	}

	// default filters must reference target fields
	for field := range relationship.DefaultFilters {
		if !target.HasProperty(field) {
			return fail("defaultFilters field %q does not exist on %q", field, relationship.Target)
		}
	}
	for _, key := range relationship.DefaultSort {
		if !target.HasProperty(key.Field) {
			return fail("defaultSort field %q does not exist on %q", key.Field, relationship.Target)
		}
	}

	return nil
}

// validateProcedure enforces the per-procedure meta-rules.
func (r *Registry) validateProcedure(procedure *Procedure) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("schema: procedure %q: %s", procedure.Name, fmt.Sprintf(format, args...))
	}

	if procedure.Name == "" {
		return fmt.Errorf("schema: procedure descriptor missing name")
	}

	switch procedure.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fail("invalid method %q", procedure.Method)
	}

	if procedure.Endpoint == "" || !strings.HasPrefix(procedure.Endpoint, "/") {
		return fail("endpoint must start with '/'")
	}
	if len(procedure.Steps) == 0 {
		return fail("must declare at least one step")
	}

	seen := make(map[string]struct{}, len(procedure.Steps))
	for i := range procedure.Steps {
		step := &procedure.Steps[i]
		if step.ID == "" {
			return fail("step %d is missing an id", i)
		}
		if _, dup := seen[step.ID]; dup {
			return fail("duplicate step id %q", step.ID)
		}
		seen[step.ID] = struct{}{}

		if step.Type.IsDatabase() {
			if r.collections[step.Collection] == nil {
				return fail("step %q references unknown collection %q", step.ID, step.Collection)
			}
		} else {
			switch step.Type {
			case StepTransform, StepCondition, StepHTTP, StepDelay:
			default:
				return fail("step %q has unknown type %q", step.ID, step.Type)
			}
		}

		// Transactions never span external I/O.
		if procedure.Transactional && (step.Type == StepHTTP || step.Type == StepDelay) {
			return fail("transactional procedures cannot contain %q steps", step.Type)
		}
	}

	switch procedure.ErrorHandling.Strategy {
	case "", StrategyRollback, StrategyRetry, StrategyIgnore:
	default:
		return fail("unknown error strategy %q", procedure.ErrorHandling.Strategy)
	}

	for _, stepID := range procedure.ErrorHandling.RollbackSteps {
		if _, ok := seen[stepID]; !ok {
			return fail("rollbackSteps references unknown step %q", stepID)
		}
	}

	return nil
}

// sortedAliases returns relationship aliases in deterministic order.
func sortedAliases(relationships map[string]*Relationship) []string {
	aliases := make([]string, 0, len(relationships))
	for alias := range relationships {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}
