// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package script

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/taibuivan/mongrest/internal/platform/apperr"
)

// scanner reads JSON-ish values out of a shell expression: objects with
// unquoted identifier keys, single- or double-quoted strings, trailing
// commas, and the ObjectId / ISODate constructors. Tolerated deviations from
// strict JSON are collected as warnings, not errors.
type scanner struct {
	src      string
	pos      int
	warnings []string
}

func (s *scanner) warn(format string, args ...any) {
	s.warnings = append(s.warnings, fmt.Sprintf(format, args...))
}

func (s *scanner) errorf(format string, args ...any) error {
	return apperr.ScriptParse(fmt.Sprintf(format+" (at offset %d)", append(args, s.pos)...))
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case ' ', '\t', '\n', '\r':
			s.pos++
		default:
			return
		}
	}
}

func (s *scanner) peek() (byte, bool) {
	s.skipSpace()
	if s.pos >= len(s.src) {
		return 0, false
	}
	return s.src[s.pos], true
}

// expect consumes one literal byte, skipping leading whitespace.
func (s *scanner) expect(c byte) error {
	got, ok := s.peek()
	if !ok {
		return s.errorf("expected %q, got end of input", string(c))
	}
	if got != c {
		return s.errorf("expected %q, got %q", string(c), string(got))
	}
	s.pos++
	return nil
}

// value scans one JSON-ish value.
func (s *scanner) value() (any, error) {
	c, ok := s.peek()
	if !ok {
		return nil, s.errorf("expected a value, got end of input")
	}

	switch {
	case c == '{':
		return s.object()
	case c == '[':
		return s.array()
	case c == '"' || c == '\'':
		return s.quotedString(c)
	case c == '-' || (c >= '0' && c <= '9'):
		return s.number()
	default:
		return s.word()
	}
}

func (s *scanner) object() (map[string]any, error) {
	if err := s.expect('{'); err != nil {
		return nil, err
	}

	object := map[string]any{}
	for {
		c, ok := s.peek()
		if !ok {
			return nil, s.errorf("unterminated object")
		}
		if c == '}' {
			s.pos++
			return object, nil
		}

		key, err := s.objectKey()
		if err != nil {
			return nil, err
		}
		if err := s.expect(':'); err != nil {
			return nil, err
		}
		val, err := s.value()
		if err != nil {
			return nil, err
		}
		object[key] = val

		c, ok = s.peek()
		if !ok {
			return nil, s.errorf("unterminated object")
		}
		switch c {
		case ',':
			s.pos++
			if next, ok := s.peek(); ok && next == '}' {
				s.warn("trailing comma in object")
			}
		case '}':
		default:
			return nil, s.errorf("expected ',' or '}' in object, got %q", string(c))
		}
	}
}

// objectKey accepts quoted keys and bare identifiers; bare identifiers are
// shell style, not JSON, and emit a warning.
func (s *scanner) objectKey() (string, error) {
	c, ok := s.peek()
	if !ok {
		return "", s.errorf("expected an object key")
	}
	if c == '"' || c == '\'' {
		return s.quotedString(c)
	}

	start := s.pos
	for s.pos < len(s.src) && isIdentChar(s.src[s.pos]) {
		s.pos++
	}
	if s.pos == start {
		return "", s.errorf("expected an object key, got %q", string(c))
	}
	key := s.src[start:s.pos]
	s.warn("unquoted object key %q", key)
	return key, nil
}

func (s *scanner) array() ([]any, error) {
	if err := s.expect('['); err != nil {
		return nil, err
	}

	array := []any{}
	for {
		c, ok := s.peek()
		if !ok {
			return nil, s.errorf("unterminated array")
		}
		if c == ']' {
			s.pos++
			return array, nil
		}

		val, err := s.value()
		if err != nil {
			return nil, err
		}
		array = append(array, val)

		c, ok = s.peek()
		if !ok {
			return nil, s.errorf("unterminated array")
		}
		switch c {
		case ',':
			s.pos++
			if next, ok := s.peek(); ok && next == ']' {
				s.warn("trailing comma in array")
			}
		case ']':
		default:
			return nil, s.errorf("expected ',' or ']' in array, got %q", string(c))
		}
	}
}

func (s *scanner) quotedString(quote byte) (string, error) {
	s.skipSpace()
	s.pos++ // opening quote

	var b strings.Builder
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch c {
		case quote:
			s.pos++
			return b.String(), nil
		case '\\':
			if s.pos+1 >= len(s.src) {
				return "", s.errorf("unterminated escape")
			}
			s.pos++
			switch esc := s.src[s.pos]; esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(esc)
			}
			s.pos++
		default:
			b.WriteByte(c)
			s.pos++
		}
	}
	return "", s.errorf("unterminated string")
}

func (s *scanner) number() (any, error) {
	s.skipSpace()
	start := s.pos
	if s.src[s.pos] == '-' {
		s.pos++
	}
	isFloat := false
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if c >= '0' && c <= '9' {
			s.pos++
			continue
		}
		if c == '.' && !isFloat {
			isFloat = true
			s.pos++
			continue
		}
		break
	}

	text := s.src[start:s.pos]
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, s.errorf("invalid number %q", text)
		}
		return f, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, s.errorf("invalid number %q", text)
	}
	return n, nil
}

// word scans bare literals: true, false, null, and the ObjectId / ISODate /
// Date constructors the shell emits.
func (s *scanner) word() (any, error) {
	s.skipSpace()
	start := s.pos
	for s.pos < len(s.src) && isIdentChar(s.src[s.pos]) {
		s.pos++
	}
	word := s.src[start:s.pos]

	switch word {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null", "undefined":
		return nil, nil
	case "ObjectId":
		return s.constructorArg(word, func(arg string) (any, error) {
			id, err := bson.ObjectIDFromHex(arg)
			if err != nil {
				return nil, s.errorf("ObjectId needs a 24-hex argument, got %q", arg)
			}
			return id, nil
		})
	case "ISODate", "Date":
		return s.constructorArg(word, func(arg string) (any, error) {
			for _, layout := range []string{time.RFC3339, "2006-01-02"} {
				if t, err := time.Parse(layout, arg); err == nil {
					return t.UTC(), nil
				}
			}
			return nil, s.errorf("%s needs an ISO-8601 argument, got %q", word, arg)
		})
	case "":
		return nil, s.errorf("expected a value")
	default:
		return nil, s.errorf("unexpected token %q", word)
	}
}

// constructorArg parses the ("...") tail of a shell constructor.
func (s *scanner) constructorArg(name string, convert func(string) (any, error)) (any, error) {
	if err := s.expect('('); err != nil {
		return nil, err
	}
	c, ok := s.peek()
	if !ok || (c != '"' && c != '\'') {
		return nil, s.errorf("%s needs a quoted argument", name)
	}
	arg, err := s.quotedString(c)
	if err != nil {
		return nil, err
	}
	if err := s.expect(')'); err != nil {
		return nil, err
	}
	return convert(arg)
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '$'
}
