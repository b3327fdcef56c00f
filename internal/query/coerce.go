// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package query

import (
	"regexp"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/taibuivan/mongrest/internal/schema"
)

// Query strings carry no type information, so every operand is inferred by
// shape before it reaches the database. The ladder is ordered from most to
// least specific; the first match wins.

var (
	integerPattern = regexp.MustCompile(`^-?\d+$`)
	floatPattern   = regexp.MustCompile(`^-?\d+\.\d+$`)
	hexIDPattern   = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)
)

// Coerce infers a typed value from a raw query-string operand.
//
// The ladder: null, booleans, integers, floats, ISO-8601 timestamps and
// dates, then plain string. A bare 24-hex string stays a string here; only
// schema knowledge can say it is a document id, which is [CoerceField]'s job.
func Coerce(raw string) any {
	switch raw {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}

	if integerPattern.MatchString(raw) {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
		// Out of int64 range; the text form is still a legal filter value.
		return raw
	}

	if floatPattern.MatchString(raw) {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
		return raw
	}

	// Datetime before date: both parse the shorter layout's prefix.
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC()
	}

	return raw
}

// CoerceField coerces an operand with knowledge of the schema property it
// targets. String properties with the objectId format re-cast 24-hex values
// to a native ObjectID so id equality matches stored documents.
func CoerceField(property *schema.Property, raw string) any {
	if property != nil && property.Format == schema.FormatObjectID && hexIDPattern.MatchString(raw) {
		if id, err := bson.ObjectIDFromHex(raw); err == nil {
			return id
		}
	}

	value := Coerce(raw)

	// String-typed fields keep numeric-looking text as text; "42" stored in
	// a string column should never become int64(42).
	if property != nil && property.Type == "string" && property.Format != schema.FormatObjectID {
		switch value.(type) {
		case int64, float64, bool:
			return raw
		}
	}

	return value
}

// CoerceValue applies schema-aware coercion to an already-typed value, used
// when filters arrive as JSON (search bodies, descriptor default filters)
// rather than query strings. Only the objectId re-cast applies; JSON already
// carries real types.
func CoerceValue(property *schema.Property, value any) any {
	if property == nil || property.Format != schema.FormatObjectID {
		return value
	}
	text, ok := value.(string)
	if !ok || !hexIDPattern.MatchString(text) {
		return value
	}
	if id, err := bson.ObjectIDFromHex(text); err == nil {
		return id
	}
	return value
}

// IsHexID reports whether raw looks like a 24-hex document id.
func IsHexID(raw string) bool {
	return hexIDPattern.MatchString(raw)
}
