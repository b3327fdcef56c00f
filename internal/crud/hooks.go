// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package crud

import (
	"context"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/taibuivan/mongrest/internal/schema"
)

// HookEvent describes one document mutation flowing past a lifecycle hook.
type HookEvent struct {
	Collection string
	Operation  string

	Document  map[string]any   // insert / replacement payload
	Documents []map[string]any // insertMany payload
	Filter    bson.D           // match for updates and deletes

	// Result is the store outcome; nil on before-phases.
	Result any
}

// LifecycleHook observes a write. Hooks cannot veto the mutation; failures
// are logged and skipped.
type LifecycleHook func(ctx context.Context, event HookEvent) error

// HookRegistry maps descriptor hook names to host functions. The table is
// built once at startup and never mutated afterwards.
type HookRegistry struct {
	hooks map[string]LifecycleHook
}

// NewHookRegistry copies the given table.
func NewHookRegistry(hooks map[string]LifecycleHook) *HookRegistry {
	table := make(map[string]LifecycleHook, len(hooks))
	for name, hook := range hooks {
		table[name] = hook
	}
	return &HookRegistry{hooks: table}
}

// run invokes the named hooks in order. Unknown names and hook failures are
// logged and skipped; hooks are best-effort by contract.
func (r *HookRegistry) run(ctx context.Context, names []string, event HookEvent, log *slog.Logger) {
	for _, name := range names {
		hook, ok := r.hooks[name]
		if !ok {
			log.Warn("collection_hook_unknown", slog.String("hook", name))
			continue
		}
		if err := hook(ctx, event); err != nil {
			log.Warn("collection_hook_failed", slog.String("hook", name), slog.Any("error", err))
		}
	}
}

// hookPhases maps a write operation to its before/after lifecycle pair.
var hookPhases = map[string][2]string{
	OpInsertOne:  {schema.LifecycleBeforeInsert, schema.LifecycleAfterInsert},
	OpInsertMany: {schema.LifecycleBeforeInsert, schema.LifecycleAfterInsert},
	OpUpdateOne:  {schema.LifecycleBeforeUpdate, schema.LifecycleAfterUpdate},
	OpUpdateMany: {schema.LifecycleBeforeUpdate, schema.LifecycleAfterUpdate},
	OpReplaceOne: {schema.LifecycleBeforeUpdate, schema.LifecycleAfterUpdate},
	OpDeleteOne:  {schema.LifecycleBeforeDelete, schema.LifecycleAfterDelete},
	OpDeleteMany: {schema.LifecycleBeforeDelete, schema.LifecycleAfterDelete},
}

// runHooks fires the descriptor's hooks for one lifecycle phase.
func (s *Service) runHooks(ctx context.Context, collection *schema.Collection, lifecycle string, event HookEvent) {
	names := collection.Hooks[lifecycle]
	if len(names) == 0 {
		return
	}
	s.hooks.run(ctx, names, event, s.log)
}
