// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package procedure

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Templates are {{path}} tokens inside step parameters. A path walks the
// execution context: params.*, steps.<id>.output.*, user.*, config.*, now.
// Array indexing uses [n]. A token whose lookup fails stays verbatim and is
// recorded as a warning, never an error.

// pathSegment is one hop of a parsed template path: a key, optionally
// followed by array indices.
type pathSegment struct {
	key     string
	indices []int
}

// parsePath splits "steps.fetch.output.items[0].name" into typed segments.
func parsePath(path string) ([]pathSegment, error) {
	parts := strings.Split(path, ".")
	segments := make([]pathSegment, 0, len(parts))

	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("empty segment in path %q", path)
		}

		segment := pathSegment{key: part}
		if open := strings.IndexByte(part, '['); open != -1 {
			segment.key = part[:open]
			rest := part[open:]
			for rest != "" {
				if rest[0] != '[' {
					return nil, fmt.Errorf("malformed index in path %q", path)
				}
				close := strings.IndexByte(rest, ']')
				if close == -1 {
					return nil, fmt.Errorf("unclosed index in path %q", path)
				}
				index, err := strconv.Atoi(rest[1:close])
				if err != nil || index < 0 {
					return nil, fmt.Errorf("invalid index in path %q", path)
				}
				segment.indices = append(segment.indices, index)
				rest = rest[close+1:]
			}
		}
		segments = append(segments, segment)
	}

	return segments, nil
}

// resolvePath walks the context along a parsed path. The second return is
// false on any miss.
func resolvePath(ctx *ExecutionContext, path string) (any, bool) {
	segments, err := parsePath(path)
	if err != nil {
		return nil, false
	}

	var current any
	switch segments[0].key {
	case "params":
		current = ctx.Params
	case "steps":
		current = stepsValue(ctx)
	case "user":
		current = map[string]any{
			"subject": ctx.User.Subject,
			"role":    string(ctx.User.Role),
		}
	case "config":
		current = ctx.Config
	case "now":
		current = ctx.Now
	default:
		return nil, false
	}

	if indexed, ok := applyIndices(current, segments[0].indices); ok {
		current = indexed
	} else {
		return nil, false
	}

	for _, segment := range segments[1:] {
		container, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = container[segment.key]
		if !ok {
			return nil, false
		}
		if current, ok = applyIndices(current, segment.indices); !ok {
			return nil, false
		}
	}

	return current, true
}

// stepsValue exposes the step map to templates as plain nested maps.
func stepsValue(ctx *ExecutionContext) map[string]any {
	steps := make(map[string]any, len(ctx.Steps))
	for id, result := range ctx.Steps {
		steps[id] = map[string]any{
			"output":        result.Output,
			"executionTime": result.ExecutionTime,
			"timestamp":     result.Timestamp,
		}
	}
	return steps
}

func applyIndices(value any, indices []int) (any, bool) {
	for _, index := range indices {
		list, ok := asSlice(value)
		if !ok || index >= len(list) {
			return nil, false
		}
		value = list[index]
	}
	return value, true
}

func asSlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []map[string]any:
		list := make([]any, len(v))
		for i, item := range v {
			list[i] = item
		}
		return list, true
	default:
		return nil, false
	}
}

// # Rendering

// renderValue deep-copies a parameter bundle, substituting templates in
// every string. The input is never mutated.
func renderValue(ctx *ExecutionContext, value any) any {
	switch v := value.(type) {
	case string:
		return renderString(ctx, v)
	case map[string]any:
		rendered := make(map[string]any, len(v))
		for key, child := range v {
			rendered[key] = renderValue(ctx, child)
		}
		return rendered
	case []any:
		rendered := make([]any, len(v))
		for i, child := range v {
			rendered[i] = renderValue(ctx, child)
		}
		return rendered
	case []map[string]any:
		rendered := make([]any, len(v))
		for i, child := range v {
			rendered[i] = renderValue(ctx, child)
		}
		return rendered
	default:
		return value
	}
}

// renderString substitutes {{path}} tokens. A string that is exactly one
// token keeps the resolved value's type; embedded tokens stringify.
func renderString(ctx *ExecutionContext, s string) any {
	if !strings.Contains(s, "{{") {
		return s
	}

	// Whole-string token: typed substitution.
	if strings.HasPrefix(s, "{{") && strings.HasSuffix(s, "}}") {
		inner := strings.TrimSpace(s[2 : len(s)-2])
		if !strings.Contains(inner, "{{") {
			value, ok := resolvePath(ctx, inner)
			if !ok {
				ctx.warn(fmt.Sprintf("template path %q not found", inner))
				return s
			}
			return value
		}
	}

	var b strings.Builder
	rest := s
	for {
		open := strings.Index(rest, "{{")
		if open == -1 {
			b.WriteString(rest)
			return b.String()
		}
		close := strings.Index(rest[open:], "}}")
		if close == -1 {
			b.WriteString(rest)
			return b.String()
		}
		close += open

		b.WriteString(rest[:open])
		token := rest[open : close+2]
		path := strings.TrimSpace(rest[open+2 : close])

		if value, ok := resolvePath(ctx, path); ok {
			b.WriteString(stringify(value))
		} else {
			ctx.warn(fmt.Sprintf("template path %q not found", path))
			b.WriteString(token)
		}
		rest = rest[close+2:]
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}
