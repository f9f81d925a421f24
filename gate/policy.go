// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gate

import (
	"axonflow/sqlgate/connectors/base"
)

// Decision is the policy verdict class.
type Decision string

const (
	DecisionAllow          Decision = "allow"
	DecisionAllowWithLimit Decision = "allow_with_limit"
	DecisionBlock          Decision = "block"
)

// RiskLevel buckets a risk score for human consumption.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ReasonWriteApproval is the block reason for an unapproved write. Callers
// match on it to surface the approval flow distinctly from a generic block.
const ReasonWriteApproval = "write requires explicit approval"

// PolicyVerdict is the immutable outcome of one policy evaluation. The plan
// itself is never mutated; EnforcedLimit is applied at execution time.
type PolicyVerdict struct {
	Decision      Decision  `json:"decision"`
	RiskScore     float64   `json:"risk_score"`
	RiskLevel     RiskLevel `json:"risk_level"`
	Reasons       []string  `json:"reasons,omitempty"`
	Improvements  []string  `json:"improvements,omitempty"`
	EnforcedLimit *int      `json:"enforced_limit,omitempty"`
	SuggestedFix  string    `json:"suggested_fix,omitempty"`
}

// Allows reports whether the verdict permits any execution.
func (v *PolicyVerdict) Allows() bool {
	return v.Decision != DecisionBlock
}

// PolicyConfig holds the tunable policy parameters. Weights live in the risk
// signals; these are the thresholds and caps around them.
type PolicyConfig struct {
	// ReadOnly blocks every write regardless of approval.
	ReadOnly bool `yaml:"read_only" json:"read_only"`

	// RiskThreshold is the score at or above which a read is blocked.
	RiskThreshold float64 `yaml:"risk_threshold" json:"risk_threshold"`

	// SafeLimit is the row cap injected when an allowed read has no LIMIT.
	SafeLimit int `yaml:"safe_limit" json:"safe_limit"`

	// JoinThreshold is the join count above which excess joins add risk.
	JoinThreshold int `yaml:"join_threshold" json:"join_threshold"`

	// HighCostThreshold is the planner cost above which an EXPLAIN estimate
	// adds risk.
	HighCostThreshold float64 `yaml:"high_cost_threshold" json:"high_cost_threshold"`
}

// DefaultPolicyConfig returns the shipped policy defaults.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		ReadOnly:          false,
		RiskThreshold:     0.7,
		SafeLimit:         1000,
		JoinThreshold:     3,
		HighCostThreshold: 10000,
	}
}

func (c *PolicyConfig) applyDefaults() {
	d := DefaultPolicyConfig()
	if c.RiskThreshold <= 0 {
		c.RiskThreshold = d.RiskThreshold
	}
	if c.SafeLimit <= 0 {
		c.SafeLimit = d.SafeLimit
	}
	if c.JoinThreshold <= 0 {
		c.JoinThreshold = d.JoinThreshold
	}
	if c.HighCostThreshold <= 0 {
		c.HighCostThreshold = d.HighCostThreshold
	}
}

// PolicyEngine evaluates plans against safety rules. Evaluation is
// deterministic: no randomness, no external calls, identical inputs always
// produce identical verdicts.
type PolicyEngine struct {
	cfg     PolicyConfig
	signals []RiskSignal
}

// NewPolicyEngine builds an engine with the default risk signal set.
func NewPolicyEngine(cfg PolicyConfig) *PolicyEngine {
	cfg.applyDefaults()
	return &PolicyEngine{cfg: cfg, signals: defaultSignals(cfg)}
}

// Config returns the effective policy configuration.
func (e *PolicyEngine) Config() PolicyConfig {
	return e.cfg
}

// Evaluate produces the verdict for a plan. Precedence: hard gates first,
// then the write-approval gate, then block-worthy risk score, then limit
// injection. est is the planner's cost estimate when one was collected; a
// nil est skips the cost-derived signals.
func (e *PolicyEngine) Evaluate(plan *QueryPlan, rawSQL string, approved bool, est *base.ExplainResult) *PolicyVerdict {
	if reasons := CheckPatterns(rawSQL); len(reasons) > 0 {
		return &PolicyVerdict{
			Decision:  DecisionBlock,
			RiskScore: 1.0,
			RiskLevel: RiskHigh,
			Reasons:   reasons,
		}
	}

	if plan.Intent == IntentWrite || plan.Intent == IntentUnknown {
		if e.cfg.ReadOnly {
			return &PolicyVerdict{
				Decision:  DecisionBlock,
				RiskScore: 1.0,
				RiskLevel: RiskHigh,
				Reasons:   []string{"write operations are disabled by policy"},
			}
		}
		if !approved {
			return &PolicyVerdict{
				Decision:  DecisionBlock,
				RiskScore: 1.0,
				RiskLevel: RiskHigh,
				Reasons:   []string{ReasonWriteApproval},
			}
		}
		return &PolicyVerdict{
			Decision:  DecisionAllow,
			RiskScore: 0,
			RiskLevel: RiskLow,
			Reasons:   []string{"write explicitly approved"},
		}
	}

	score, reasons, improvements := scoreSignals(e.signals, plan, rawSQL)

	if est != nil {
		if est.TotalCost != nil && *est.TotalCost > e.cfg.HighCostThreshold {
			score += 0.2
			reasons = append(reasons, "high planner cost detected")
			improvements = appendUnique(improvements, "Consider adding WHERE filters or indexes.")
		}
		if len(est.Risks) > 0 {
			score += 0.2
			reasons = append(reasons, est.Risks...)
		}
		if score > 1.0 {
			score = 1.0
		}
	}

	for _, hint := range plan.IndexHints {
		improvements = appendUnique(improvements, hint)
	}
	if len(improvements) == 0 {
		improvements = []string{"Query looks reasonable; no obvious improvements detected."}
	}

	if score >= e.cfg.RiskThreshold {
		return &PolicyVerdict{
			Decision:     DecisionBlock,
			RiskScore:    score,
			RiskLevel:    riskLevel(score),
			Reasons:      append(reasons, "risk score exceeds the policy threshold"),
			Improvements: improvements,
			SuggestedFix: suggestedFix(reasons),
		}
	}

	if !plan.HasLimit() {
		limit := e.cfg.SafeLimit
		return &PolicyVerdict{
			Decision:      DecisionAllowWithLimit,
			RiskScore:     score,
			RiskLevel:     riskLevel(score),
			Reasons:       append(reasons, "no LIMIT present, safe limit will be enforced"),
			Improvements:  improvements,
			EnforcedLimit: &limit,
		}
	}

	return &PolicyVerdict{
		Decision:     DecisionAllow,
		RiskScore:    score,
		RiskLevel:    riskLevel(score),
		Reasons:      reasons,
		Improvements: improvements,
	}
}

func riskLevel(score float64) RiskLevel {
	switch {
	case score >= 0.7:
		return RiskHigh
	case score >= 0.4:
		return RiskMedium
	default:
		return RiskLow
	}
}
