// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package crud

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/taibuivan/mongrest/internal/platform/apperr"
	"github.com/taibuivan/mongrest/internal/platform/config"
	"github.com/taibuivan/mongrest/internal/platform/sec"
	"github.com/taibuivan/mongrest/internal/schema"
)

// ProcedureResult frames a procedure invocation for the response body.
type ProcedureResult struct {
	Procedure string   `json:"procedure"`
	Output    any      `json:"output"`
	Steps     int      `json:"steps"`
	Warnings  []string `json:"warnings,omitempty"`
}

// ExecuteProcedure resolves a procedure from its declared method and
// endpoint and runs it through the executor.
func (s *Service) ExecuteProcedure(ctx context.Context, user *sec.UserContext, method, endpoint string, params map[string]any) (*ProcedureResult, error) {
	reg := s.registry.Registry()
	proc := reg.ProcedureByRoute(method, endpoint)
	if proc == nil {
		return nil, apperr.NotFound("Procedure", endpoint)
	}

	if !user.CanExecuteProcedure(proc.Name, proc.Permissions) {
		return nil, apperr.Authorization("You are not permitted to execute this procedure")
	}
	if err := s.procedureRateLimit(ctx, user, proc); err != nil {
		return nil, err
	}
	if err := reg.ValidateProcedureInput(proc.Name, params); err != nil {
		return nil, err
	}

	output, ec, err := s.executor.Execute(ctx, proc, params, user)
	if err != nil {
		return nil, err
	}

	return &ProcedureResult{
		Procedure: proc.Name,
		Output:    output,
		Steps:     len(ec.Steps),
		Warnings:  ec.Warnings,
	}, nil
}

// procedureRateLimit applies the role ceiling, tightened by the procedure's
// own declared policy when present.
func (s *Service) procedureRateLimit(ctx context.Context, user *sec.UserContext, proc *schema.Procedure) error {
	limit := s.cfg.RateLimitFor(user.Role)
	if policy, ok := proc.RateLimits["execute"]; ok && policy.Requests > 0 {
		limit = config.RateLimit{
			Requests: policy.Requests,
			Window:   time.Duration(policy.WindowSeconds) * time.Second,
		}
		if limit.Window <= 0 {
			limit.Window = time.Minute
		}
	}

	subject := user.Subject
	if subject == "" {
		subject = "anonymous"
	}

	decision, err := s.limiter.Allow(ctx, subject+":fn:"+proc.Name, limit)
	if err != nil {
		s.log.Warn("rate_limit_check_failed", slog.Any("error", err))
		return nil
	}
	if !decision.Allowed {
		return apperr.RateLimited(int(math.Ceil(decision.RetryAfter.Seconds())))
	}
	return nil
}
