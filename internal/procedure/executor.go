// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package procedure

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/taibuivan/mongrest/internal/platform/apperr"
	"github.com/taibuivan/mongrest/internal/platform/constants"
	"github.com/taibuivan/mongrest/internal/platform/mongo"
	"github.com/taibuivan/mongrest/internal/platform/sec"
	"github.com/taibuivan/mongrest/internal/schema"
)

// Document mirrors the store's decoded document shape.
type Document = mongo.Document

// Executor runs procedure plans against the document store.
//
// # Flow
//
//  1. Seed the execution context and run beforeExecution hooks.
//  2. Execute steps strictly in order; each step's parameters are rendered
//     against the context, dispatched by type, and raced with its timeout.
//  3. On failure run onError hooks and the descriptor's error strategy
//     (rollback / retry / surface).
//  4. Frame the output: the last step's output when the descriptor declares
//     an output schema, the whole step map otherwise.
type Executor struct {
	store mongo.Store
	hooks *HookRegistry
	log   *slog.Logger

	httpClient *http.Client

	procedureTimeout time.Duration
	stepTimeout      time.Duration
	retryBackoff     time.Duration

	// configView is the allowlisted configuration exposed to templates.
	configView map[string]any
}

// Options tunes an executor; zero values take gateway defaults.
type Options struct {
	ProcedureTimeout time.Duration
	StepTimeout      time.Duration
	RetryBackoff     time.Duration
	HTTPClient       *http.Client
	ConfigView       map[string]any
}

// NewExecutor builds an executor over a store and hook table.
func NewExecutor(store mongo.Store, hooks *HookRegistry, log *slog.Logger, opts Options) *Executor {
	if opts.ProcedureTimeout <= 0 {
		opts.ProcedureTimeout = constants.DefaultProcedureTimeout
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = constants.DefaultStepTimeout
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = constants.DefaultRetryBackoff
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.StepTimeout}
	}
	if hooks == nil {
		hooks = NewHookRegistry(nil)
	}

	return &Executor{
		store:            store,
		hooks:            hooks,
		log:              log,
		httpClient:       opts.HTTPClient,
		procedureTimeout: opts.ProcedureTimeout,
		stepTimeout:      opts.StepTimeout,
		retryBackoff:     opts.RetryBackoff,
		configView:       opts.ConfigView,
	}
}

// Execute runs one procedure invocation. The returned context carries the
// per-step records and warnings for response metadata.
func (e *Executor) Execute(ctx context.Context, procedure *schema.Procedure, params map[string]any, user *sec.UserContext) (any, *ExecutionContext, error) {
	ec := newExecutionContext(params, user, e.configView)

	timeout := e.procedureTimeout
	if procedure.TimeoutMS > 0 {
		timeout = time.Duration(procedure.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.hooks.run(ctx, procedure.Hooks.BeforeExecution, ec, e.log)

	run := func(ctx context.Context) (any, error) {
		return nil, e.runSteps(ctx, procedure, ec)
	}

	var err error
	if procedure.Transactional {
		_, err = e.store.WithTransaction(ctx, run)
	} else {
		_, err = run(ctx)
	}

	if err != nil {
		e.hooks.run(ctx, procedure.Hooks.OnError, ec, e.log)
		return nil, ec, err
	}

	e.hooks.run(ctx, procedure.Hooks.AfterExecution, ec, e.log)
	return e.frameOutput(procedure, ec), ec, nil
}

// runSteps executes the plan in order, applying the error strategy.
func (e *Executor) runSteps(ctx context.Context, procedure *schema.Procedure, ec *ExecutionContext) error {
	for i := range procedure.Steps {
		step := &procedure.Steps[i]

		stop, err := e.runStepWithRetry(ctx, procedure, ec, step)
		if err != nil {
			if procedure.ErrorHandling.Strategy == schema.StrategyRollback && !procedure.Transactional {
				e.rollback(ctx, procedure, ec)
			}
			return e.wrapStepError(step, ec, err)
		}
		if stop {
			e.log.Debug("procedure_stopped",
				slog.String("procedure", procedure.Name), slog.String("step", step.ID))
			return nil
		}
	}
	return nil
}

// runStepWithRetry applies the retry strategy around a single step.
func (e *Executor) runStepWithRetry(ctx context.Context, procedure *schema.Procedure, ec *ExecutionContext, step *schema.Step) (bool, error) {
	attempts := 1
	if procedure.ErrorHandling.Strategy == schema.StrategyRetry && procedure.ErrorHandling.RetryCount > 0 {
		attempts += procedure.ErrorHandling.RetryCount
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var stop bool
		stop, err = e.runStep(ctx, ec, step)
		if err == nil {
			return stop, nil
		}
		if attempt == attempts || ctx.Err() != nil {
			break
		}

		e.log.Warn("procedure_step_retry",
			slog.String("procedure", procedure.Name),
			slog.String("step", step.ID),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		select {
		case <-time.After(e.retryBackoff):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return false, err
}

// runStep renders, dispatches, and records one step under its timeout.
func (e *Executor) runStep(ctx context.Context, ec *ExecutionContext, step *schema.Step) (bool, error) {
	timeout := e.stepTimeout
	if step.TimeoutMS > 0 {
		timeout = time.Duration(step.TimeoutMS) * time.Millisecond
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	output, stop, err := e.dispatch(stepCtx, ec, step)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return false, apperr.Timeout("Step "+step.ID, err)
		}
		return false, err
	}

	ec.record(step.ID, output, started)
	return stop, nil
}

// rollback best-effort undoes the descriptor's rollbackSteps in reverse
// order. Failures are logged, never propagated; they must not mask the
// original cause.
func (e *Executor) rollback(ctx context.Context, procedure *schema.Procedure, ec *ExecutionContext) {
	steps := procedure.ErrorHandling.RollbackSteps
	for i := len(steps) - 1; i >= 0; i-- {
		stepID := steps[i]
		result, executed := ec.Steps[stepID]
		if !executed {
			continue
		}
		step := procedure.Step(stepID)
		if step == nil {
			continue
		}

		if err := e.rollbackStep(ctx, step, result); err != nil {
			e.log.Warn("procedure_rollback_failed",
				slog.String("procedure", procedure.Name),
				slog.String("step", stepID),
				slog.Any("error", err),
			)
		}
	}
}

// wrapStepError converts a step failure into the API error, attaching the
// partial step map so callers can diagnose what completed. Timeouts keep
// their own kind.
func (e *Executor) wrapStepError(step *schema.Step, ec *ExecutionContext, err error) error {
	if appErr := apperr.As(err); appErr != nil && appErr.Kind == apperr.KindTimeout {
		return appErr.WithDetails(ec.partialSteps())
	}
	return apperr.ProcedureStep(step.ID, err).WithDetails(ec.partialSteps())
}

// frameOutput shapes the response body.
func (e *Executor) frameOutput(procedure *schema.Procedure, ec *ExecutionContext) any {
	if procedure.HasOutputSchema() {
		// Declared output schema: the last executed step speaks for the
		// whole procedure.
		for i := len(procedure.Steps) - 1; i >= 0; i-- {
			if result, ok := ec.Steps[procedure.Steps[i].ID]; ok {
				return result.Output
			}
		}
		return nil
	}

	outputs := make(map[string]any, len(ec.Steps))
	for id, result := range ec.Steps {
		outputs[id] = result.Output
	}
	return outputs
}
