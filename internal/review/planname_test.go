package review

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
)

func TestPlanNameFromH1(t *testing.T) {
	tests := []struct {
		plan string
		want string
	}{
		{"# HECS-HELP Debt - Plan\n\ndetails", "hecs-help-debt"},
		{"# Currency Conversion System\n\n...", "currency-conversion-system"},
		{"# API Authentication Implementation Plan\n...", "api-authentication"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, PlanName(tt.plan), "plan: %q", tt.plan)
	}
}

func TestPlanNameFromPattern(t *testing.T) {
	plan := "This document is the Plan for Payment Gateway integration work."
	assert.Equal(t, "payment-gateway", PlanName(plan))
}

func TestPlanNameFirstLineFallback(t *testing.T) {
	plan := "Session replay tooling\n\nSome body text."
	assert.Equal(t, "session-replay-tooling", PlanName(plan))
}

func TestPlanNameGenericFallback(t *testing.T) {
	long := make([]byte, 150)
	for i := range long {
		long[i] = 'x'
	}
	assert.Equal(t, "general-plan", PlanName(string(long)))
}

func TestPlanNameLengthLimit(t *testing.T) {
	plan := "# A Very Long Title That Keeps Going And Going And Going Beyond Any Limit"
	name := PlanName(plan)
	assert.LessOrEqual(t, len(name), 50)
	assert.NotEqual(t, "-", name[len(name)-1:])
}

func TestNextPlanVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"plans/plan-v1.md":  {},
		"plans/plan-v2.md":  {},
		"plans/plan-v10.md": {},
		"plans/notes.md":    {},
	}

	assert.Equal(t, 11, NextPlanVersion(fsys, "plans"))
	assert.Equal(t, 1, NextPlanVersion(fsys, "missing"))
}
