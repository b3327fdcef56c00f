// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package query is the gateway's query compiler.

It turns the compact selection syntax and operator-coded filter parameters
into a typed AST, validates the AST against the schema registry, and lowers
the result to a MongoDB aggregation pipeline.

The package is pure: parsing, validation, and pipeline building never touch
I/O, which keeps every function here trivially testable and deterministic.
*/
package query

import (
	"strconv"
	"strings"

	"github.com/taibuivan/mongrest/internal/schema"
)

// Kind discriminates selection AST nodes.
type Kind int

const (
	// KindField selects a plain document field.
	KindField Kind = iota
	// KindRelationship expands a declared relationship.
	KindRelationship
	// KindAggregate computes a scalar over a relationship without expanding it.
	KindAggregate
)

// AggregateKind is the computation applied by a [KindAggregate] node.
type AggregateKind string

const (
	AggCount AggregateKind = "count"
	AggSum   AggregateKind = "sum"
	AggAvg   AggregateKind = "avg"
	AggMin   AggregateKind = "min"
	AggMax   AggregateKind = "max"
)

// needsField reports whether the aggregate requires an operand field.
func (k AggregateKind) needsField() bool { return k != AggCount }

// valid reports whether k is a recognized aggregate.
func (k AggregateKind) valid() bool {
	switch k {
	case AggCount, AggSum, AggAvg, AggMin, AggMax:
		return true
	}
	return false
}

// Modifiers carries the `!key.value` chain attached to a relationship.
type Modifiers struct {
	Sort     []schema.SortKey
	Limit    int
	HasLimit bool
	Skip     int
	HasSkip  bool
	Inner    bool
}

// empty reports whether no modifier was attached.
func (m Modifiers) empty() bool {
	return len(m.Sort) == 0 && !m.HasLimit && !m.HasSkip && !m.Inner
}

// Selection is one node of the parsed select tree.
//
// Name is the caller-facing alias under which results are attached. For
// relationships, Relation is the declared relationship name being navigated;
// it equals Name unless the caller renamed it with the `alias:relation` form.
type Selection struct {
	Kind     Kind
	Name     string
	Relation string

	// Relationship payload
	Wildcard  bool
	SubFields []Selection
	Modifiers Modifiers

	// Aggregate payload
	Aggregate      AggregateKind
	AggregateField string
}

// String renders the node back into selection syntax. The output is
// canonical: re-parsing it yields an AST equal to the original.
func (s Selection) String() string {
	var b strings.Builder
	s.write(&b)
	return b.String()
}

func (s Selection) write(b *strings.Builder) {
	switch s.Kind {
	case KindField:
		b.WriteString(s.Name)

	case KindRelationship:
		b.WriteString(s.Name)
		if s.Relation != s.Name {
			b.WriteByte(':')
			b.WriteString(s.Relation)
		}
		b.WriteByte('(')
		if s.Wildcard {
			b.WriteByte('*')
		} else {
			for i, sub := range s.SubFields {
				if i > 0 {
					b.WriteByte(',')
				}
				sub.write(b)
			}
		}
		b.WriteByte(')')
		for _, key := range s.Modifiers.Sort {
			b.WriteString("!order.")
			b.WriteString(key.Field)
			if key.Direction == "desc" {
				b.WriteString(".desc")
			} else {
				b.WriteString(".asc")
			}
		}
		if s.Modifiers.HasLimit {
			b.WriteString("!limit.")
			b.WriteString(strconv.Itoa(s.Modifiers.Limit))
		}
		if s.Modifiers.HasSkip {
			b.WriteString("!skip.")
			b.WriteString(strconv.Itoa(s.Modifiers.Skip))
		}
		if s.Modifiers.Inner {
			b.WriteString("!inner")
		}

	case KindAggregate:
		b.WriteString(s.Name)
		if s.Relation != s.Name {
			b.WriteByte(':')
			b.WriteString(s.Relation)
		}
		b.WriteByte('!')
		b.WriteString(string(s.Aggregate))
		if s.AggregateField != "" {
			b.WriteByte('(')
			b.WriteString(s.AggregateField)
			b.WriteByte(')')
		}
	}
}

// Print renders a whole selection list back into selection syntax.
func Print(selections []Selection) string {
	var b strings.Builder
	for i, sel := range selections {
		if i > 0 {
			b.WriteByte(',')
		}
		sel.write(&b)
	}
	return b.String()
}

// HasRelationships reports whether any node expands or aggregates a
// relationship.
func HasRelationships(selections []Selection) bool {
	for _, sel := range selections {
		if sel.Kind != KindField {
			return true
		}
	}
	return false
}

// Stats summarizes a selection tree for the complexity governor.
type Stats struct {
	Fields        int
	Relationships int
	MaxDepth      int
}

// Measure walks the tree and counts fields, relationship expansions, and the
// deepest nesting level.
func Measure(selections []Selection) Stats {
	stats := Stats{}
	measureInto(selections, 0, &stats)
	return stats
}

func measureInto(selections []Selection, depth int, stats *Stats) {
	for _, sel := range selections {
		switch sel.Kind {
		case KindField:
			stats.Fields++
		case KindAggregate:
			stats.Relationships++
			if depth+1 > stats.MaxDepth {
				stats.MaxDepth = depth + 1
			}
		case KindRelationship:
			stats.Relationships++
			if depth+1 > stats.MaxDepth {
				stats.MaxDepth = depth + 1
			}
			measureInto(sel.SubFields, depth+1, stats)
		}
	}
}
