// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package script parses the mongo-shell expression subset accepted by the
script endpoint.

A script is one `db.<collection>.<operation>(...)` call with optional
chained .sort/.limit/.skip/.project suffixes. The parser reduces it to a
named parameter map keyed by the operation's canonical positions, scores its
complexity, and flags operators that evaluate arbitrary code. Execution is
the caller's business; this package never touches the database.
*/
package script

import (
	"fmt"
	"sort"
	"strings"

	"github.com/taibuivan/mongrest/internal/platform/apperr"
)

// Script is one parsed shell expression.
type Script struct {
	Collection string
	Operation  string

	// Params is keyed by the operation's canonical parameter names
	// (updateOne → filter, update; distinct → field, query; ...), with any
	// chained modifiers merged in under sort / limit / skip / projection.
	Params map[string]any

	// Warnings records tolerated deviations from strict JSON, such as
	// unquoted keys and trailing commas.
	Warnings []string

	// Dangerous lists the code-evaluating operators found anywhere in the
	// arguments, in sorted order.
	Dangerous []string

	// Complexity is the script's cost: operation weight, plus 2 per
	// aggregation stage, plus 3 per nesting level, plus 25 per dangerous
	// operator.
	Complexity int
}

// positional maps each operation to its canonical parameter names, in
// argument order. The optional tail may be omitted in the script.
var positional = map[string][]string{
	"find":           {"filter", "projection"},
	"findOne":        {"filter", "projection"},
	"insertOne":      {"document"},
	"insertMany":     {"documents"},
	"updateOne":      {"filter", "update"},
	"updateMany":     {"filter", "update"},
	"replaceOne":     {"filter", "replacement"},
	"deleteOne":      {"filter"},
	"deleteMany":     {"filter"},
	"aggregate":      {"pipeline"},
	"countDocuments": {"filter"},
	"distinct":       {"field", "query"},
}

// required is how many of the positional parameters must be present.
var required = map[string]int{
	"insertOne":  1,
	"insertMany": 1,
	"updateOne":  2,
	"updateMany": 2,
	"replaceOne": 2,
	"aggregate":  1,
	"distinct":   1,
}

// operationWeight is the base cost per operation kind.
var operationWeight = map[string]int{
	"find":           2,
	"findOne":        1,
	"insertOne":      2,
	"insertMany":     3,
	"updateOne":      3,
	"updateMany":     4,
	"replaceOne":     3,
	"deleteOne":      3,
	"deleteMany":     4,
	"aggregate":      5,
	"countDocuments": 1,
	"distinct":       2,
}

// dangerousOperators evaluate caller-supplied code on the server.
var dangerousOperators = map[string]struct{}{
	"$where":       {},
	"$function":    {},
	"$accumulator": {},
	"mapReduce":    {},
	"$mapReduce":   {},
}

const dangerousPenalty = 25

// Parse reduces one shell expression to a [Script].
//
// Grammar: `db '.' IDENT '.' OP '(' ARGS? ')' CHAIN*` with an optional
// trailing semicolon. Anything else is a scriptParse error.
func Parse(src string) (*Script, error) {
	s := &scanner{src: strings.TrimSpace(src)}

	if err := s.keyword("db"); err != nil {
		return nil, err
	}
	if err := s.expect('.'); err != nil {
		return nil, err
	}
	collection, err := s.identifier("collection name")
	if err != nil {
		return nil, err
	}
	if err := s.expect('.'); err != nil {
		return nil, err
	}
	operation, err := s.identifier("operation")
	if err != nil {
		return nil, err
	}

	names, known := positional[operation]
	if !known {
		return nil, apperr.ScriptParse(fmt.Sprintf("Unsupported operation %q", operation))
	}

	args, err := s.arguments()
	if err != nil {
		return nil, err
	}
	if len(args) > len(names) {
		return nil, apperr.ScriptParse(fmt.Sprintf(
			"%s takes at most %d arguments, got %d", operation, len(names), len(args)))
	}
	if len(args) < required[operation] {
		return nil, apperr.ScriptParse(fmt.Sprintf(
			"%s needs at least %d arguments, got %d", operation, required[operation], len(args)))
	}

	script := &Script{
		Collection: collection,
		Operation:  operation,
		Params:     make(map[string]any, len(args)+2),
	}
	for i, arg := range args {
		script.Params[names[i]] = arg
	}

	if err := s.chains(script); err != nil {
		return nil, err
	}

	// Trailing semicolon and nothing else.
	if c, ok := s.peek(); ok {
		if c != ';' {
			return nil, s.errorf("unexpected trailing input")
		}
		s.pos++
		if _, more := s.peek(); more {
			return nil, s.errorf("unexpected input after ';'")
		}
	}

	script.Warnings = s.warnings
	script.Dangerous = findDangerous(script.Params)
	script.Complexity = complexity(script)
	return script, nil
}

// CheckSecurity rejects scripts carrying dangerous operators unless the
// gateway explicitly allows them.
func (s *Script) CheckSecurity(allowDangerous bool) error {
	if allowDangerous || len(s.Dangerous) == 0 {
		return nil
	}
	return apperr.ScriptSecurity(s.Dangerous[0]).WithDetails(s.Dangerous)
}

// Pipeline returns the aggregate stages, nil for other operations.
func (s *Script) Pipeline() []map[string]any {
	raw, ok := s.Params["pipeline"].([]any)
	if !ok {
		return nil
	}
	stages := make([]map[string]any, 0, len(raw))
	for _, stage := range raw {
		if doc, ok := stage.(map[string]any); ok {
			stages = append(stages, doc)
		}
	}
	return stages
}

// Filter returns the filter/query document, never nil.
func (s *Script) Filter() map[string]any {
	for _, key := range []string{"filter", "query"} {
		if doc, ok := s.Params[key].(map[string]any); ok {
			return doc
		}
	}
	return map[string]any{}
}

// # Call Structure

// keyword consumes one exact identifier.
func (s *scanner) keyword(want string) error {
	got, err := s.identifier(fmt.Sprintf("%q", want))
	if err != nil {
		return err
	}
	if got != want {
		return apperr.ScriptParse(fmt.Sprintf("Script must start with %q, got %q", want, got))
	}
	return nil
}

// identifier consumes a bare identifier.
func (s *scanner) identifier(what string) (string, error) {
	s.skipSpace()
	start := s.pos
	for s.pos < len(s.src) && isIdentChar(s.src[s.pos]) {
		s.pos++
	}
	if s.pos == start {
		return "", s.errorf("expected %s", what)
	}
	return s.src[start:s.pos], nil
}

// arguments parses the parenthesized argument list of the base call.
func (s *scanner) arguments() ([]any, error) {
	if err := s.expect('('); err != nil {
		return nil, err
	}

	var args []any
	for {
		c, ok := s.peek()
		if !ok {
			return nil, s.errorf("unterminated argument list")
		}
		if c == ')' {
			s.pos++
			return args, nil
		}

		value, err := s.value()
		if err != nil {
			return nil, err
		}
		args = append(args, value)

		c, ok = s.peek()
		if !ok {
			return nil, s.errorf("unterminated argument list")
		}
		switch c {
		case ',':
			s.pos++
			if next, ok := s.peek(); ok && next == ')' {
				s.warn("trailing comma in argument list")
			}
		case ')':
		default:
			return nil, s.errorf("expected ',' or ')' in arguments, got %q", string(c))
		}
	}
}

// chains parses the .sort/.limit/.skip/.project suffixes and merges them
// into the parameter map. A repeated chain overwrites the earlier one, as
// the shell does.
func (s *scanner) chains(script *Script) error {
	for {
		c, ok := s.peek()
		if !ok || c != '.' {
			return nil
		}
		s.pos++

		name, err := s.identifier("chained method")
		if err != nil {
			return err
		}
		if err := s.expect('('); err != nil {
			return err
		}

		switch name {
		case "sort", "project":
			doc, err := s.object()
			if err != nil {
				return err
			}
			key := name
			if name == "project" {
				key = "projection"
			}
			script.Params[key] = doc

		case "limit", "skip":
			value, err := s.number()
			if err != nil {
				return err
			}
			n, ok := value.(int64)
			if !ok || n < 0 {
				return s.errorf(".%s needs a non-negative integer", name)
			}
			script.Params[name] = n

		default:
			return s.errorf("unsupported chained method .%s", name)
		}

		if err := s.expect(')'); err != nil {
			return err
		}
	}
}

// # Security & Cost

// findDangerous walks the argument tree for code-evaluating operator keys.
func findDangerous(value any) []string {
	found := map[string]struct{}{}
	walkDangerous(value, found)
	if len(found) == 0 {
		return nil
	}

	operators := make([]string, 0, len(found))
	for op := range found {
		operators = append(operators, op)
	}
	sort.Strings(operators)
	return operators
}

func walkDangerous(value any, found map[string]struct{}) {
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			if _, dangerous := dangerousOperators[key]; dangerous {
				found[key] = struct{}{}
			}
			walkDangerous(child, found)
		}
	case []any:
		for _, child := range v {
			walkDangerous(child, found)
		}
	}
}

// complexity applies the unified cost model to a parsed script.
func complexity(s *Script) int {
	cost := operationWeight[s.Operation]
	if stages, ok := s.Params["pipeline"].([]any); ok {
		cost += 2 * len(stages)
	}
	deepest := 0
	for _, value := range s.Params {
		if d := nestingDepth(value); d > deepest {
			deepest = d
		}
	}
	cost += 3 * deepest
	cost += dangerousPenalty * len(s.Dangerous)
	return cost
}

// nestingDepth measures the deepest object/array nesting of the arguments.
// The parameter map itself does not count as a level.
func nestingDepth(value any) int {
	switch v := value.(type) {
	case map[string]any:
		deepest := 0
		for _, child := range v {
			if d := nestingDepth(child); d > deepest {
				deepest = d
			}
		}
		return deepest + 1
	case []any:
		deepest := 0
		for _, child := range v {
			if d := nestingDepth(child); d > deepest {
				deepest = d
			}
		}
		return deepest + 1
	default:
		return 0
	}
}
