// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package governor prices every parsed query or script and enforces the
per-role complexity ceilings before anything reaches the database.

One cost model covers both entry points. Queries are priced from their
selection shape; scripts arrive pre-scored by the script parser. The ceiling
is resolved from the caller's role, so an anonymous caller can never afford
what an admin can.
*/
package governor

import (
	"math"

	"github.com/taibuivan/mongrest/internal/platform/apperr"
	"github.com/taibuivan/mongrest/internal/platform/sec"
	"github.com/taibuivan/mongrest/internal/query"
)

// Query cost weights. Relationship expansions dominate because each one is
// a join; depth compounds the fan-out.
const (
	queryBaseCost      = 1.0
	fieldWeight        = 0.1
	relationshipWeight = 5.0
	depthWeight        = 10.0
)

// Governor holds the per-role ceilings, resolved once from configuration.
type Governor struct {
	ceilings map[string]int
	fallback int
}

// New builds a governor from a role → ceiling map. Roles missing from the
// map inherit the anonymous ceiling, or a conservative floor of 100.
func New(ceilings map[string]int) *Governor {
	fallback := ceilings[string(sec.RoleAnonymous)]
	if fallback <= 0 {
		fallback = 100
	}
	return &Governor{ceilings: ceilings, fallback: fallback}
}

// Ceiling returns the complexity budget for a role.
func (g *Governor) Ceiling(role sec.Role) int {
	if ceiling, ok := g.ceilings[string(role)]; ok && ceiling > 0 {
		return ceiling
	}
	return g.fallback
}

// QueryCost prices a parsed selection.
func QueryCost(stats query.Stats) int {
	cost := queryBaseCost +
		fieldWeight*float64(stats.Fields) +
		relationshipWeight*float64(stats.Relationships) +
		depthWeight*float64(stats.MaxDepth)
	return int(math.Ceil(cost))
}

// CheckQuery prices the selection and rejects it when the caller's role
// cannot afford it.
func (g *Governor) CheckQuery(role sec.Role, stats query.Stats) error {
	return g.check(role, QueryCost(stats))
}

// CheckScript enforces the ceiling against a script's pre-computed cost.
func (g *Governor) CheckScript(role sec.Role, cost int) error {
	return g.check(role, cost)
}

func (g *Governor) check(role sec.Role, cost int) error {
	ceiling := g.Ceiling(role)
	if cost > ceiling {
		return apperr.Complexity(cost, ceiling)
	}
	return nil
}
