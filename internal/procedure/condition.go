// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package procedure

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition steps evaluate a bounded boolean expression over the execution
// context: comparisons, && / || / !, parentheses, literals, and context
// paths. Nothing here ever evaluates caller-supplied code.
//
//	steps.check.output.count > 0 && params.mode == "strict"

// evalCondition parses and evaluates one expression against the context.
func evalCondition(ctx *ExecutionContext, expression string) (bool, error) {
	p := &condParser{ctx: ctx, src: expression}
	value, err := p.parseOr()
	if err != nil {
		return false, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return false, fmt.Errorf("condition: unexpected %q at offset %d", p.src[p.pos:], p.pos)
	}
	return truthy(value), nil
}

type condParser struct {
	ctx *ExecutionContext
	src string
	pos int
}

func (p *condParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *condParser) take(literal string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], literal) {
		p.pos += len(literal)
		return true
	}
	return false
}

func (p *condParser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.take("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
	return left, nil
}

func (p *condParser) parseAnd() (any, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.take("&&") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
	return left, nil
}

func (p *condParser) parseNot() (any, error) {
	p.skipSpace()
	// "!" but not "!=", which belongs to the comparison below.
	if p.pos < len(p.src) && p.src[p.pos] == '!' &&
		(p.pos+1 >= len(p.src) || p.src[p.pos+1] != '=') {
		p.pos++
		value, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return !truthy(value), nil
	}
	return p.parseComparison()
}

func (p *condParser) parseComparison() (any, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	for _, op := range []string{"==", "!=", ">=", "<=", ">", "<"} {
		if p.take(op) {
			right, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			return compare(op, left, right)
		}
	}
	return left, nil
}

func (p *condParser) parseTerm() (any, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, fmt.Errorf("condition: unexpected end of expression")
	}

	c := p.src[p.pos]
	switch {
	case c == '(':
		p.pos++
		value, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.take(")") {
			return nil, fmt.Errorf("condition: missing ')'")
		}
		return value, nil

	case c == '"' || c == '\'':
		return p.parseString(c)

	case c == '-' || (c >= '0' && c <= '9'):
		return p.parseNumber()

	default:
		return p.parseWordOrPath()
	}
}

func (p *condParser) parseString(quote byte) (any, error) {
	p.pos++
	start := p.pos
	for p.pos < len(p.src) {
		if p.src[p.pos] == quote {
			value := p.src[start:p.pos]
			p.pos++
			return value, nil
		}
		p.pos++
	}
	return nil, fmt.Errorf("condition: unterminated string")
}

func (p *condParser) parseNumber() (any, error) {
	start := p.pos
	if p.src[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.src) && (p.src[p.pos] >= '0' && p.src[p.pos] <= '9' || p.src[p.pos] == '.') {
		p.pos++
	}
	value, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return nil, fmt.Errorf("condition: invalid number %q", p.src[start:p.pos])
	}
	return value, nil
}

// parseWordOrPath consumes a keyword literal or a context path. Unresolvable
// paths evaluate to nil rather than failing, so conditions can probe for
// optional values.
func (p *condParser) parseWordOrPath() (any, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			c == '_' || c == '.' || c == '[' || c == ']' {
			p.pos++
			continue
		}
		break
	}
	word := p.src[start:p.pos]

	switch word {
	case "":
		return nil, fmt.Errorf("condition: unexpected %q", string(p.src[p.pos]))
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}

	value, _ := resolvePath(p.ctx, word)
	return value, nil
}

// # Semantics

// truthy: nil, false, zero, and "" are false; everything else is true.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int64:
		return v != 0
	case int:
		return v != 0
	default:
		return true
	}
}

// compare applies a comparison operator with numeric normalization. Ordering
// is defined for numbers and strings only.
func compare(op string, left, right any) (bool, error) {
	ln, lIsNum := toFloat(left)
	rn, rIsNum := toFloat(right)

	if lIsNum && rIsNum {
		switch op {
		case "==":
			return ln == rn, nil
		case "!=":
			return ln != rn, nil
		case ">":
			return ln > rn, nil
		case ">=":
			return ln >= rn, nil
		case "<":
			return ln < rn, nil
		case "<=":
			return ln <= rn, nil
		}
	}

	ls, lIsStr := left.(string)
	rs, rIsStr := right.(string)
	if lIsStr && rIsStr {
		switch op {
		case "==":
			return ls == rs, nil
		case "!=":
			return ls != rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		}
	}

	// Mixed or non-ordered types support equality only.
	switch op {
	case "==":
		return left == right, nil
	case "!=":
		return left != right, nil
	}
	return false, fmt.Errorf("condition: %q is not defined for %T and %T", op, left, right)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}
