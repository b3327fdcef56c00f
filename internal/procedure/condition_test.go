// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package procedure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mongrest/internal/platform/sec"
)

func conditionContext() *ExecutionContext {
	ec := newExecutionContext(map[string]any{
		"mode":  "strict",
		"count": int64(3),
		"ratio": 0.5,
		"empty": "",
	}, sec.Anonymous(), nil)
	ec.Steps["check"] = StepResult{Output: map[string]any{
		"count": int64(2),
		"items": []any{map[string]any{"name": "first"}},
	}}
	return ec
}

func TestEvalCondition(t *testing.T) {
	ec := conditionContext()

	tests := []struct {
		expression string
		want       bool
	}{
		{"true", true},
		{"false", false},
		{"!false", true},
		{"1 < 2", true},
		{"2 >= 2", true},
		{"params.count == 3", true},
		{"params.count > 5", false},
		{"params.mode == 'strict'", true},
		{`params.mode != "strict"`, false},
		{"params.ratio < 1", true},
		{"params.empty", false},
		{"params.missing == null", true},
		{"steps.check.output.count > 0 && params.mode == 'strict'", true},
		{"steps.check.output.count > 10 || params.count == 3", true},
		{"!(params.count == 3)", false},
		{"steps.check.output.items[0].name == 'first'", true},
		{"'abc' < 'abd'", true},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			got, err := evalCondition(ec, tt.expression)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalConditionErrors(t *testing.T) {
	ec := conditionContext()

	for _, expression := range []string{
		"",
		"1 <",
		"(true",
		"'unterminated",
		"true extra",
		"params.mode > 1", // ordering across types
	} {
		t.Run(expression, func(t *testing.T) {
			_, err := evalCondition(ec, expression)
			require.Error(t, err)
		})
	}
}
