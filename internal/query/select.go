// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/taibuivan/mongrest/internal/platform/apperr"
	"github.com/taibuivan/mongrest/internal/schema"
)

// ParseSelect parses a select expression into a list of selection nodes.
//
// Grammar, informally:
//
//	list     := element ("," element)*
//	element  := field
//	          | alias [":" relation] "(" "*" | list ")" chain*
//	          | alias [":" relation] "!" aggregate ["(" field ")"]
//	chain    := "!order." field "." ("asc"|"desc")
//	          | "!limit." int | "!skip." int | "!inner"
//
// The parser is a single left-to-right pass tracking parenthesis depth;
// nested lists recurse. An empty expression selects everything and yields a
// nil list.
func ParseSelect(expression string) ([]Selection, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, nil
	}
	return parseList(expression)
}

// parseList splits a comma-separated element list at depth zero and parses
// each element.
func parseList(list string) ([]Selection, error) {
	var selections []Selection

	depth := 0
	start := 0
	for i := 0; i <= len(list); i++ {
		if i < len(list) {
			switch list[i] {
			case '(':
				depth++
				continue
			case ')':
				depth--
				if depth < 0 {
					return nil, apperr.QueryParse("Unbalanced ')' in select expression")
				}
				continue
			}
			if list[i] != ',' || depth != 0 {
				continue
			}
		}

		element := strings.TrimSpace(list[start:i])
		if element == "" {
			return nil, apperr.QueryParse("Empty element in select expression")
		}
		selection, err := parseElement(element)
		if err != nil {
			return nil, err
		}
		selections = append(selections, selection)
		start = i + 1
	}

	if depth != 0 {
		return nil, apperr.QueryParse("Unbalanced '(' in select expression")
	}

	return selections, nil
}

// parseElement parses one element: a plain field, a relationship expansion,
// or a relationship aggregate.
func parseElement(element string) (Selection, error) {
	paren, bang := -1, -1
	depth := 0
	for i := 0; i < len(element); i++ {
		switch element[i] {
		case '(':
			if depth == 0 && paren == -1 {
				paren = i
			}
			depth++
		case ')':
			depth--
		case '!':
			if depth == 0 && bang == -1 {
				bang = i
			}
		}
	}

	// Plain field: no expansion, no aggregate.
	if paren == -1 && bang == -1 {
		if err := checkFieldName(element); err != nil {
			return Selection{}, err
		}
		return Selection{Kind: KindField, Name: element}, nil
	}

	// Aggregate: the '!' appears before any '(' at depth zero.
	if bang != -1 && (paren == -1 || bang < paren) {
		return parseAggregate(element, bang)
	}

	return parseRelationship(element, paren)
}

// parseAggregate handles `alias[:relation]!kind` and
// `alias[:relation]!kind(field)`.
func parseAggregate(element string, bang int) (Selection, error) {
	name, relation, err := parseAliasPrefix(element[:bang])
	if err != nil {
		return Selection{}, err
	}

	rest := element[bang+1:]
	kind := rest
	field := ""
	if open := strings.IndexByte(rest, '('); open != -1 {
		if !strings.HasSuffix(rest, ")") {
			return Selection{}, apperr.QueryParse(fmt.Sprintf("Malformed aggregate %q", element))
		}
		kind = rest[:open]
		field = rest[open+1 : len(rest)-1]
	}

	aggregate := AggregateKind(kind)
	if !aggregate.valid() {
		return Selection{}, apperr.QueryParse(fmt.Sprintf("Unknown aggregate %q in %q", kind, element))
	}
	if aggregate.needsField() && field == "" {
		return Selection{}, apperr.QueryParse(fmt.Sprintf("Aggregate %q requires a field, e.g. %s!%s(amount)", kind, name, kind))
	}
	if !aggregate.needsField() && field != "" {
		return Selection{}, apperr.QueryParse("Aggregate \"count\" takes no field")
	}
	if field != "" {
		if err := checkFieldName(field); err != nil {
			return Selection{}, err
		}
	}

	return Selection{
		Kind:           KindAggregate,
		Name:           name,
		Relation:       relation,
		Aggregate:      aggregate,
		AggregateField: field,
	}, nil
}

// parseRelationship handles `alias[:relation](sublist)` with an optional
// trailing modifier chain.
func parseRelationship(element string, paren int) (Selection, error) {
	name, relation, err := parseAliasPrefix(element[:paren])
	if err != nil {
		return Selection{}, err
	}

	close := matchingParen(element, paren)
	if close == -1 {
		return Selection{}, apperr.QueryParse(fmt.Sprintf("Unclosed '(' in %q", element))
	}

	selection := Selection{Kind: KindRelationship, Name: name, Relation: relation}

	inside := strings.TrimSpace(element[paren+1 : close])
	switch inside {
	case "*":
		selection.Wildcard = true
	case "":
		return Selection{}, apperr.QueryParse(fmt.Sprintf("Relationship %q selects no fields; use %s(*) for all", name, name))
	default:
		subFields, err := parseList(inside)
		if err != nil {
			return Selection{}, err
		}
		selection.SubFields = subFields
	}

	modifiers, err := parseModifierChain(element[close+1:], name)
	if err != nil {
		return Selection{}, err
	}
	selection.Modifiers = modifiers

	return selection, nil
}

// parseModifierChain parses zero or more `!key[.value]` tokens trailing a
// relationship expansion.
func parseModifierChain(chain, alias string) (Modifiers, error) {
	modifiers := Modifiers{}
	if chain == "" {
		return modifiers, nil
	}
	if chain[0] != '!' {
		return modifiers, apperr.QueryParse(fmt.Sprintf("Unexpected %q after relationship %q", chain, alias))
	}

	for _, token := range strings.Split(chain[1:], "!") {
		switch {
		case token == "inner":
			modifiers.Inner = true

		case strings.HasPrefix(token, "order."):
			key, err := parseOrderToken(token[len("order."):])
			if err != nil {
				return modifiers, err
			}
			modifiers.Sort = append(modifiers.Sort, key)

		case strings.HasPrefix(token, "limit."):
			n, err := strconv.Atoi(token[len("limit."):])
			if err != nil || n < 1 {
				return modifiers, apperr.QueryParse(fmt.Sprintf("Modifier %q needs a positive integer", "!"+token))
			}
			modifiers.Limit, modifiers.HasLimit = n, true

		case strings.HasPrefix(token, "skip."):
			n, err := strconv.Atoi(token[len("skip."):])
			if err != nil || n < 0 {
				return modifiers, apperr.QueryParse(fmt.Sprintf("Modifier %q needs a non-negative integer", "!"+token))
			}
			modifiers.Skip, modifiers.HasSkip = n, true

		default:
			return modifiers, apperr.QueryParse(fmt.Sprintf("Unknown modifier %q on relationship %q", "!"+token, alias))
		}
	}

	return modifiers, nil
}

// parseOrderToken parses `field.asc` / `field.desc`. Dotted field paths keep
// everything before the final segment as the field.
func parseOrderToken(token string) (schema.SortKey, error) {
	dot := strings.LastIndexByte(token, '.')
	if dot <= 0 {
		return schema.SortKey{}, apperr.QueryParse(fmt.Sprintf("Modifier %q must be !order.<field>.<asc|desc>", "!order."+token))
	}
	field, direction := token[:dot], token[dot+1:]
	if direction != "asc" && direction != "desc" {
		return schema.SortKey{}, apperr.QueryParse(fmt.Sprintf("Sort direction must be asc or desc, got %q", direction))
	}
	if err := checkFieldName(field); err != nil {
		return schema.SortKey{}, err
	}
	return schema.SortKey{Field: field, Direction: direction}, nil
}

// parseAliasPrefix splits `alias[:relation]`. Without the explicit form the
// alias doubles as the relationship name.
func parseAliasPrefix(prefix string) (name, relation string, err error) {
	name, relation, found := strings.Cut(prefix, ":")
	if !found {
		relation = name
	}
	if err := checkFieldName(name); err != nil {
		return "", "", err
	}
	if err := checkFieldName(relation); err != nil {
		return "", "", err
	}
	return name, relation, nil
}

// matchingParen returns the index of the ')' closing the '(' at open, or -1.
func matchingParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// checkFieldName enforces the identifier charset: letters, digits,
// underscore, and dots for nested paths.
func checkFieldName(name string) error {
	if name == "" {
		return apperr.QueryParse("Empty field name in select expression")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '.':
		default:
			return apperr.QueryParse(fmt.Sprintf("Invalid character %q in field name %q", string(c), name))
		}
	}
	if name[0] == '.' || name[len(name)-1] == '.' {
		return apperr.QueryParse(fmt.Sprintf("Field name %q must not start or end with '.'", name))
	}
	return nil
}
