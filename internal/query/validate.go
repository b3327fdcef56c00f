// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package query

import (
	"fmt"

	"github.com/taibuivan/mongrest/internal/platform/apperr"
	"github.com/taibuivan/mongrest/internal/schema"
)

// Validator checks parsed ASTs against the schema registry. Parsing is
// purely syntactic; everything name-shaped is verified here, after parse and
// before any pipeline is built.
type Validator struct {
	Registry *schema.Registry
	MaxDepth int
}

// ValidateSelection walks the selection tree: every field must be declared
// on its collection, every relationship alias must resolve, aggregate
// operand fields must exist on the target, and nesting must stay within the
// configured depth.
func (v *Validator) ValidateSelection(collection *schema.Collection, selections []Selection) error {
	return v.validateLevel(collection, selections, 1)
}

func (v *Validator) validateLevel(collection *schema.Collection, selections []Selection, depth int) error {
	for _, selection := range selections {
		switch selection.Kind {
		case KindField:
			if collection.Relationship(selection.Name) != nil {
				return apperr.QueryParse(fmt.Sprintf(
					"%q is a relationship on %q; select it as %s(...) or %s!count",
					selection.Name, collection.Name, selection.Name, selection.Name))
			}
			if !fieldSelectable(collection, selection.Name) {
				return apperr.QueryParse(fmt.Sprintf(
					"Unknown field %q on collection %q", selection.Name, collection.Name))
			}

		case KindAggregate:
			if depth > v.MaxDepth {
				return apperr.RelationshipDepth(depth, v.MaxDepth)
			}
			relationship, target, err := v.resolve(collection, selection.Relation)
			if err != nil {
				return err
			}
			if selection.Aggregate.needsField() && !target.HasProperty(selection.AggregateField) {
				return apperr.QueryParse(fmt.Sprintf(
					"Aggregate field %q does not exist on %q", selection.AggregateField, relationship.Target))
			}

		case KindRelationship:
			if depth > v.MaxDepth {
				return apperr.RelationshipDepth(depth, v.MaxDepth)
			}
			relationship, target, err := v.resolve(collection, selection.Relation)
			if err != nil {
				return err
			}
			if err := v.validateModifiers(relationship, target, selection); err != nil {
				return err
			}
			if !selection.Wildcard {
				if err := v.validateLevel(target, selection.SubFields, depth+1); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ValidateRelationshipFilters checks `alias.field` filter targets. Aliases
// were resolved during parsing; the target fields are only checkable here.
func (v *Validator) ValidateRelationshipFilters(collection *schema.Collection, filters Filters) error {
	for alias, conditions := range filters.Relationship {
		_, target, err := v.resolve(collection, alias)
		if err != nil {
			return err
		}
		for field := range conditions {
			if !target.HasProperty(field) {
				return apperr.QueryParse(fmt.Sprintf(
					"Unknown filter field %q on relationship %q", field, alias))
			}
		}
	}
	return nil
}

// resolve looks up a relationship alias and its target descriptor. A
// registered relationship pointing at an unregistered target is a registry
// invariant violation, surfaced as an internal error rather than a 400.
func (v *Validator) resolve(collection *schema.Collection, alias string) (*schema.Relationship, *schema.Collection, error) {
	relationship := collection.Relationship(alias)
	if relationship == nil {
		return nil, nil, apperr.QueryParse(fmt.Sprintf(
			"Unknown relationship %q on collection %q", alias, collection.Name))
	}
	target := v.Registry.Collection(relationship.Target)
	if target == nil {
		return nil, nil, apperr.Internal(fmt.Errorf(
			"relationship %q targets unregistered collection %q", alias, relationship.Target))
	}
	return relationship, target, nil
}

// validateModifiers checks the modifier chain against the relationship
// declaration: sort fields must exist on the target, and belongsTo carries
// at most the inner modifier since a single subdocument has no order or page.
func (v *Validator) validateModifiers(relationship *schema.Relationship, target *schema.Collection, selection Selection) error {
	m := selection.Modifiers
	if relationship.Kind == schema.BelongsTo && (len(m.Sort) > 0 || m.HasLimit || m.HasSkip) {
		return apperr.QueryParse(fmt.Sprintf(
			"Relationship %q resolves to a single document; order, limit, and skip do not apply", selection.Name))
	}
	for _, key := range m.Sort {
		if !target.HasProperty(key.Field) {
			return apperr.QueryParse(fmt.Sprintf(
				"Sort field %q does not exist on relationship %q", key.Field, selection.Name))
		}
	}
	return nil
}

// fieldSelectable reports whether a possibly-dotted field path is declared.
// Nested paths validate their head segment; the schema does not always
// describe subdocument internals.
func fieldSelectable(collection *schema.Collection, name string) bool {
	// Every stored document carries _id whether or not it is declared.
	if name == "_id" || collection.HasProperty(name) {
		return true
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return collection.HasProperty(name[:i])
		}
	}
	return false
}
