// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package procedure executes declarative multi-step workflows.

A procedure descriptor is an ordered plan of database, transform, condition,
http, and delay steps. The executor runs them strictly sequentially, carries
an execution context between them, interpolates {{path}} templates from that
context, races every step against its timeout, and applies the descriptor's
error strategy on failure.
*/
package procedure

import (
	"time"

	"github.com/taibuivan/mongrest/internal/platform/sec"
)

// StepResult is one completed step's record in the context.
type StepResult struct {
	Output        any       `json:"output"`
	ExecutionTime int64     `json:"executionTime"` // milliseconds
	Timestamp     time.Time `json:"timestamp"`
}

// ExecutionContext is the per-invocation state threaded between steps.
// Step i+1 observes step i's output committed here before it runs.
type ExecutionContext struct {
	Params map[string]any
	Steps  map[string]StepResult
	User   *sec.UserContext

	// Now is captured once at entry so every template sees the same clock.
	Now time.Time

	// Config exposes a small allowlist of gateway settings to templates.
	Config map[string]any

	// Warnings collects template misses and other non-fatal notes.
	Warnings []string
}

// newExecutionContext seeds the context for one invocation.
func newExecutionContext(params map[string]any, user *sec.UserContext, config map[string]any) *ExecutionContext {
	if params == nil {
		params = map[string]any{}
	}
	return &ExecutionContext{
		Params: params,
		Steps:  map[string]StepResult{},
		User:   user,
		Now:    time.Now().UTC(),
		Config: config,
	}
}

// record commits a step's output.
func (c *ExecutionContext) record(stepID string, output any, started time.Time) {
	c.Steps[stepID] = StepResult{
		Output:        output,
		ExecutionTime: time.Since(started).Milliseconds(),
		Timestamp:     time.Now().UTC(),
	}
}

// warn appends a non-fatal note.
func (c *ExecutionContext) warn(message string) {
	c.Warnings = append(c.Warnings, message)
}

// partialSteps snapshots the outputs recorded so far, attached to errors so
// callers can diagnose which steps completed.
func (c *ExecutionContext) partialSteps() map[string]StepResult {
	snapshot := make(map[string]StepResult, len(c.Steps))
	for id, result := range c.Steps {
		snapshot[id] = result
	}
	return snapshot
}
