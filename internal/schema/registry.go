// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/taibuivan/mongrest/internal/platform/apperr"
)

// Registry is the validated, immutable catalog of descriptors.
//
// # Concurrency
//
// A Registry is never mutated after [newRegistry] returns, so all reads are
// lock-free. Hot reload replaces the whole registry through [Provider].
type Registry struct {
	collections map[string]*Collection
	procedures  map[string]*Procedure

	// procedureRoutes maps "METHOD endpoint" to its procedure for dispatch.
	procedureRoutes map[string]*Procedure

	// incoming is the reverse relationship index: target collection →
	// every relationship that navigates into it.
	incoming map[string][]IncomingRelationship

	// Compiled validators, memoized at load time.
	fullValidators    map[string]*jsonschema.Resolved
	partialValidators map[string]*jsonschema.Resolved
	inputValidators   map[string]*jsonschema.Resolved
}

// # Lookups

// Collection returns the descriptor for a collection, or nil when unknown.
func (r *Registry) Collection(name string) *Collection {
	return r.collections[name]
}

// Procedure returns the descriptor for a procedure, or nil when unknown.
func (r *Registry) Procedure(name string) *Procedure {
	return r.procedures[name]
}

// ProcedureByRoute resolves a procedure from its declared method + endpoint.
func (r *Registry) ProcedureByRoute(method, endpoint string) *Procedure {
	return r.procedureRoutes[method+" "+endpoint]
}

// CollectionNames returns all registered collection names, sorted.
func (r *Registry) CollectionNames() []string {
	names := make([]string, 0, len(r.collections))
	for name := range r.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Procedures returns all registered procedures, sorted by name.
func (r *Registry) Procedures() []*Procedure {
	procedures := make([]*Procedure, 0, len(r.procedures))
	for _, procedure := range r.procedures {
		procedures = append(procedures, procedure)
	}
	sort.Slice(procedures, func(i, j int) bool { return procedures[i].Name < procedures[j].Name })
	return procedures
}

// IncomingRelationships returns every relationship that navigates into the
// target collection, for `/crud/{collection}/relationships` introspection.
func (r *Registry) IncomingRelationships(target string) []IncomingRelationship {
	return r.incoming[target]
}

// # Document Validation

// ValidateDocument checks a document against the collection's compiled
// validator. In partial mode (PATCH semantics) required fields are not
// enforced. Validation failures are value errors, never panics.
func (r *Registry) ValidateDocument(collection string, document map[string]any, partial bool) error {
	validators := r.fullValidators
	if partial {
		validators = r.partialValidators
	}

	resolved, ok := validators[collection]
	if !ok {
		return apperr.NotFound("Collection", collection)
	}

	if err := resolved.Validate(document); err != nil {
		return apperr.SchemaValidation(
			fmt.Sprintf("Document does not match the %q schema", collection),
			[]apperr.FieldError{{Field: collection, Message: err.Error()}},
		)
	}

	return nil
}

// ValidateProcedureInput checks invocation parameters against the
// procedure's compiled input validator. Procedures without an input schema
// accept any parameters.
func (r *Registry) ValidateProcedureInput(name string, params map[string]any) error {
	resolved, ok := r.inputValidators[name]
	if !ok {
		return nil
	}

	if err := resolved.Validate(params); err != nil {
		return apperr.SchemaValidation(
			fmt.Sprintf("Parameters do not match the %q input schema", name),
			[]apperr.FieldError{{Field: "params", Message: err.Error()}},
		)
	}

	return nil
}

// # Validator Compilation

// compileObjectSchema converts a JSON-schema-shaped document into a resolved
// validator. The round trip through encoding/json keeps [Property] and raw
// map fragments on the same code path.
func compileObjectSchema(doc map[string]any) (*jsonschema.Resolved, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	var compiled jsonschema.Schema
	if err := json.Unmarshal(raw, &compiled); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	resolved, err := compiled.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}

	return resolved, nil
}

// documentSchema builds the JSON-schema document for a collection. Partial
// mode drops the required list so PATCH bodies validate field-by-field.
func documentSchema(collection *Collection, partial bool) map[string]any {
	doc := map[string]any{
		"type":       "object",
		"properties": collection.Properties,
	}
	if !partial && len(collection.Required) > 0 {
		doc["required"] = collection.Required
	}
	if !collection.AdditionalProperties {
		doc["additionalProperties"] = false
	}
	return doc
}
