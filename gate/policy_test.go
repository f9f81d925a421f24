// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axonflow/sqlgate/connectors/base"
)

func readPlan(mutate func(*QueryPlan)) *QueryPlan {
	p := &QueryPlan{
		Intent: IntentSelect,
		Tables: []string{"users"},
		RawSQL: "SELECT id FROM users WHERE id = 1 LIMIT 10",
	}
	limit := 10
	p.Limit = &limit
	p.Filters = []Filter{{Column: "id", Operator: "=", Value: "1"}}
	if mutate != nil {
		mutate(p)
	}
	return p
}

func TestEvaluateWriteWithoutApprovalBlocks(t *testing.T) {
	engine := NewPolicyEngine(DefaultPolicyConfig())
	plan := &QueryPlan{Intent: IntentWrite, Tables: []string{"users"}, RawSQL: "UPDATE users SET name='Dana' WHERE id=2"}

	verdict := engine.Evaluate(plan, plan.RawSQL, false, nil)

	assert.Equal(t, DecisionBlock, verdict.Decision)
	assert.Contains(t, verdict.Reasons, ReasonWriteApproval)
	assert.Equal(t, RiskHigh, verdict.RiskLevel)
}

func TestEvaluateWriteWithApprovalAllows(t *testing.T) {
	engine := NewPolicyEngine(DefaultPolicyConfig())
	plan := &QueryPlan{Intent: IntentWrite, Tables: []string{"users"}, RawSQL: "UPDATE users SET name='Dana' WHERE id=2"}

	verdict := engine.Evaluate(plan, plan.RawSQL, true, nil)

	assert.Equal(t, DecisionAllow, verdict.Decision)
}

func TestEvaluateReadOnlyBlocksApprovedWrites(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.ReadOnly = true
	engine := NewPolicyEngine(cfg)
	plan := &QueryPlan{Intent: IntentWrite, Tables: []string{"users"}, RawSQL: "DELETE FROM users WHERE id=1"}

	verdict := engine.Evaluate(plan, plan.RawSQL, true, nil)

	assert.Equal(t, DecisionBlock, verdict.Decision)
	assert.Contains(t, verdict.Reasons[0], "disabled by policy")
}

func TestEvaluateBoundedReadAllows(t *testing.T) {
	engine := NewPolicyEngine(DefaultPolicyConfig())
	plan := readPlan(nil)

	verdict := engine.Evaluate(plan, plan.RawSQL, false, nil)

	assert.Equal(t, DecisionAllow, verdict.Decision)
	assert.Nil(t, verdict.EnforcedLimit)
	assert.Less(t, verdict.RiskScore, 0.4)
}

func TestEvaluateUnboundedReadGetsSafeLimit(t *testing.T) {
	engine := NewPolicyEngine(DefaultPolicyConfig())
	plan := &QueryPlan{
		Intent:  IntentSelect,
		Tables:  []string{"users"},
		RawSQL:  "SELECT id FROM users WHERE id > 0",
		Filters: []Filter{{Column: "id", Operator: ">", Value: "0"}},
	}

	verdict := engine.Evaluate(plan, plan.RawSQL, false, nil)

	assert.Equal(t, DecisionAllowWithLimit, verdict.Decision)
	require.NotNil(t, verdict.EnforcedLimit)
	assert.Equal(t, 1000, *verdict.EnforcedLimit)
}

func TestEvaluateHighRiskReadBlocks(t *testing.T) {
	engine := NewPolicyEngine(DefaultPolicyConfig())
	// No filters, no limit, sorted, SELECT * over many joins: the signal
	// contributions sum past the 0.7 threshold.
	plan := &QueryPlan{
		Intent:  IntentSelect,
		Tables:  []string{"a", "b", "c", "d", "e"},
		Joins:   make([]Join, 5),
		OrderBy: []string{"x"},
		RawSQL:  "SELECT * FROM a JOIN b JOIN c JOIN d JOIN e ORDER BY x",
	}

	verdict := engine.Evaluate(plan, plan.RawSQL, false, nil)

	assert.Equal(t, DecisionBlock, verdict.Decision)
	assert.GreaterOrEqual(t, verdict.RiskScore, 0.7)
	assert.Contains(t, verdict.Reasons, "risk score exceeds the policy threshold")
	assert.NotEmpty(t, verdict.SuggestedFix)
}

func TestEvaluateRiskScoreClamped(t *testing.T) {
	engine := NewPolicyEngine(DefaultPolicyConfig())
	plan := &QueryPlan{
		Intent:  IntentSelect,
		Tables:  []string{"a"},
		Joins:   make([]Join, 12),
		OrderBy: []string{"x"},
		RawSQL:  "SELECT * FROM a ORDER BY x WHERE 0=0 LIKE '%y'",
	}

	verdict := engine.Evaluate(plan, plan.RawSQL, false, nil)
	assert.LessOrEqual(t, verdict.RiskScore, 1.0)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	engine := NewPolicyEngine(DefaultPolicyConfig())
	plan := &QueryPlan{
		Intent:  IntentSelect,
		Tables:  []string{"users"},
		OrderBy: []string{"name"},
		RawSQL:  "SELECT * FROM users ORDER BY name",
	}

	first := engine.Evaluate(plan, plan.RawSQL, false, nil)
	second := engine.Evaluate(plan, plan.RawSQL, false, nil)

	assert.Equal(t, first, second, "same plan and config yield identical verdicts")
}

func TestEvaluateHardGates(t *testing.T) {
	engine := NewPolicyEngine(DefaultPolicyConfig())
	plan := readPlan(nil)

	tests := []struct {
		name   string
		sql    string
		reason string
	}{
		{"drop table", "DROP TABLE users", "DDL and privilege statements are not permitted"},
		{"grant embedded", "SELECT 1; GRANT ALL ON users TO intruder", "DDL and privilege statements are not permitted"},
		{"stacked statements", "SELECT 1; SELECT 2", "multiple statements are not allowed"},
		{"tautology", "SELECT * FROM users WHERE name = '' OR 1=1", "statement contains an always-true predicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := engine.Evaluate(plan, tt.sql, false, nil)
			assert.Equal(t, DecisionBlock, verdict.Decision)
			assert.Contains(t, verdict.Reasons, tt.reason)
		})
	}
}

func TestEvaluateTrailingSemicolonIsNotMultiStatement(t *testing.T) {
	engine := NewPolicyEngine(DefaultPolicyConfig())
	plan := readPlan(nil)

	verdict := engine.Evaluate(plan, "SELECT id FROM users WHERE id = 1 LIMIT 10;", false, nil)
	assert.Equal(t, DecisionAllow, verdict.Decision)
}

func TestEvaluateHighPlannerCostAddsRisk(t *testing.T) {
	engine := NewPolicyEngine(DefaultPolicyConfig())
	plan := readPlan(nil)

	baseline := engine.Evaluate(plan, plan.RawSQL, false, nil)
	require.Zero(t, baseline.RiskScore, "bounded filtered read fires no heuristics")

	cost := 25000.0
	verdict := engine.Evaluate(plan, plan.RawSQL, false, &base.ExplainResult{TotalCost: &cost})

	assert.InDelta(t, 0.2, verdict.RiskScore, 0.001)
	assert.Contains(t, verdict.Reasons, "high planner cost detected")
	assert.Contains(t, verdict.Improvements, "Consider adding WHERE filters or indexes.")
	assert.Equal(t, DecisionAllow, verdict.Decision, "cost alone stays under the block threshold")
}

func TestEvaluateCostUnderThresholdAddsNothing(t *testing.T) {
	engine := NewPolicyEngine(DefaultPolicyConfig())
	plan := readPlan(nil)

	cost := 120.0
	verdict := engine.Evaluate(plan, plan.RawSQL, false, &base.ExplainResult{TotalCost: &cost})

	assert.Zero(t, verdict.RiskScore)
	assert.NotContains(t, verdict.Reasons, "high planner cost detected")
}

func TestEvaluatePlannerRisksFeedScore(t *testing.T) {
	engine := NewPolicyEngine(DefaultPolicyConfig())
	plan := readPlan(nil)

	est := &base.ExplainResult{Risks: []string{"sequential scan over a large row estimate"}}
	verdict := engine.Evaluate(plan, plan.RawSQL, false, est)

	assert.InDelta(t, 0.2, verdict.RiskScore, 0.001)
	assert.Contains(t, verdict.Reasons, "sequential scan over a large row estimate")
}

func TestEvaluateEstimateCanPushPastThreshold(t *testing.T) {
	engine := NewPolicyEngine(DefaultPolicyConfig())
	// Unbounded SELECT * scores 0.35 on heuristics alone; the planner's cost
	// and risks add 0.4 and tip the verdict into a block.
	plan := &QueryPlan{
		Intent: IntentSelect,
		Tables: []string{"users"},
		RawSQL: "SELECT * FROM users",
	}

	cost := 50000.0
	est := &base.ExplainResult{TotalCost: &cost, Risks: []string{"full table scan"}}
	verdict := engine.Evaluate(plan, plan.RawSQL, false, est)

	assert.Equal(t, DecisionBlock, verdict.Decision)
	assert.GreaterOrEqual(t, verdict.RiskScore, 0.7)
	assert.Contains(t, verdict.Reasons, "full table scan")
}

func TestEvaluateImprovementsSurface(t *testing.T) {
	engine := NewPolicyEngine(DefaultPolicyConfig())

	t.Run("fired signals and index hints", func(t *testing.T) {
		plan := &QueryPlan{
			Intent:     IntentSelect,
			Tables:     []string{"orders"},
			OrderBy:    []string{"orders.created_at"},
			Filters:    []Filter{{Column: "orders.status", Operator: "=", Value: "'open'"}},
			IndexHints: []string{"Consider index on orders.status."},
			RawSQL:     "SELECT id FROM orders WHERE orders.status = 'open' ORDER BY orders.created_at",
		}

		verdict := engine.Evaluate(plan, plan.RawSQL, false, nil)

		assert.Contains(t, verdict.Improvements, "Add LIMIT when ordering large tables.")
		assert.Contains(t, verdict.Improvements, "Consider index on orders.status.")
	})

	t.Run("clean read gets the fallback", func(t *testing.T) {
		plan := readPlan(nil)
		verdict := engine.Evaluate(plan, plan.RawSQL, false, nil)
		assert.Equal(t, []string{"Query looks reasonable; no obvious improvements detected."}, verdict.Improvements)
	})
}

func TestRiskSignalsIndividually(t *testing.T) {
	cfg := DefaultPolicyConfig()
	signals := defaultSignals(cfg)
	byName := make(map[string]RiskSignal, len(signals))
	for _, s := range signals {
		byName[s.Name] = s
	}

	t.Run("unbounded_read", func(t *testing.T) {
		p := &QueryPlan{Intent: IntentSelect}
		score, reason := byName["unbounded_read"].Evaluate(p, "SELECT id FROM users")
		assert.Equal(t, 0.30, score)
		assert.NotEmpty(t, reason)

		score, _ = byName["unbounded_read"].Evaluate(readPlan(nil), "")
		assert.Zero(t, score)
	})

	t.Run("excess_joins_proportional", func(t *testing.T) {
		p := &QueryPlan{Intent: IntentSelect, Joins: make([]Join, 5)}
		score, _ := byName["excess_joins"].Evaluate(p, "")
		assert.InDelta(t, 0.30, score, 0.001, "two joins over the threshold of 3")

		p.Joins = make([]Join, 3)
		score, _ = byName["excess_joins"].Evaluate(p, "")
		assert.Zero(t, score, "at the threshold contributes nothing")
	})

	t.Run("leading_wildcard_like", func(t *testing.T) {
		score, _ := byName["leading_wildcard_like"].Evaluate(&QueryPlan{}, "SELECT * FROM users WHERE name LIKE '%son'")
		assert.Equal(t, 0.20, score)

		score, _ = byName["leading_wildcard_like"].Evaluate(&QueryPlan{}, "SELECT * FROM users WHERE name LIKE 'A%'")
		assert.Zero(t, score, "anchored patterns are fine")
	})

	t.Run("aggregation_without_group", func(t *testing.T) {
		p := &QueryPlan{Intent: IntentAggregate, Aggregations: []Aggregation{{Function: "count", Column: "*"}}}
		score, _ := byName["aggregation_without_group"].Evaluate(p, "")
		assert.Equal(t, 0.20, score)

		p.GroupBy = []string{"status"}
		score, _ = byName["aggregation_without_group"].Evaluate(p, "")
		assert.Zero(t, score)
	})

	t.Run("select_star", func(t *testing.T) {
		p := &QueryPlan{Intent: IntentSelect}
		score, _ := byName["select_star"].Evaluate(p, "SELECT * FROM users")
		assert.Equal(t, 0.05, score)
	})
}

func TestApprovalStateMachine(t *testing.T) {
	a := NewApproval()
	assert.Equal(t, ApprovalProposed, a.State())
	assert.False(t, a.CanExecute())

	require.NoError(t, a.RequestApproval())
	assert.Equal(t, ApprovalPending, a.State())

	require.NoError(t, a.Approve())
	assert.True(t, a.CanExecute())

	assert.Error(t, a.Reject(), "approved is not rejectable; a new request is required")
}

func TestApprovalRejectionIsTerminal(t *testing.T) {
	a := NewApproval()
	require.NoError(t, a.RequestApproval())
	require.NoError(t, a.Reject())

	assert.Error(t, a.Approve(), "no path from rejected back to executable")
	assert.False(t, a.CanExecute())
}

func TestApprovalForDerivesFromRequest(t *testing.T) {
	write := &QueryPlan{Intent: IntentWrite}
	assert.Equal(t, ApprovalPending, ApprovalFor(write, false).State())
	assert.Equal(t, ApprovalApproved, ApprovalFor(write, true).State())

	read := &QueryPlan{Intent: IntentSelect}
	assert.Equal(t, ApprovalProposed, ApprovalFor(read, true).State())
}
