// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package procedure

import (
	"context"
	"log/slog"
)

// Hook is a host-provided function invoked around procedure execution.
// Hooks observe and may annotate the context; they cannot abort the run.
type Hook func(ctx context.Context, ec *ExecutionContext) error

// HookRegistry maps descriptor hook names to host functions. The table is
// built once at startup and never mutated afterwards.
type HookRegistry struct {
	hooks map[string]Hook
}

// NewHookRegistry copies the given table.
func NewHookRegistry(hooks map[string]Hook) *HookRegistry {
	table := make(map[string]Hook, len(hooks))
	for name, hook := range hooks {
		table[name] = hook
	}
	return &HookRegistry{hooks: table}
}

// run invokes the named hooks in order. Unknown names and hook failures are
// logged and skipped; hooks are best-effort by contract.
func (r *HookRegistry) run(ctx context.Context, names []string, ec *ExecutionContext, log *slog.Logger) {
	for _, name := range names {
		hook, ok := r.hooks[name]
		if !ok {
			log.Warn("procedure_hook_unknown", slog.String("hook", name))
			continue
		}
		if err := hook(ctx, ec); err != nil {
			log.Warn("procedure_hook_failed", slog.String("hook", name), slog.Any("error", err))
		}
	}
}
