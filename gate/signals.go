// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gate

import (
	"fmt"
	"regexp"
	"strings"
)

// RiskSignal is one independent contribution to a plan's risk score. Each
// signal is a pure function of the plan and the raw statement text; the
// engine sums the contributions and clamps to [0,1], which keeps the score
// auditable signal by signal. Improvement is the remediation surfaced to
// the caller when the signal fires.
type RiskSignal struct {
	Name        string
	Improvement string
	Evaluate    func(p *QueryPlan, rawSQL string) (float64, string)
}

var (
	selectStarPattern      = regexp.MustCompile(`(?i)\bselect\s+\*`)
	leadingWildcardPattern = regexp.MustCompile(`(?i)\blike\s+'%`)
)

func defaultSignals(cfg PolicyConfig) []RiskSignal {
	return []RiskSignal{
		{
			Name:        "unbounded_read",
			Improvement: "Add WHERE filters to reduce scanned rows.",
			Evaluate: func(p *QueryPlan, _ string) (float64, string) {
				if p.IsRead() && !p.HasLimit() && !p.HasFilters() {
					return 0.30, "read has no WHERE clause and no LIMIT"
				}
				return 0, ""
			},
		},
		{
			Name:        "order_without_limit",
			Improvement: "Add LIMIT when ordering large tables.",
			Evaluate: func(p *QueryPlan, _ string) (float64, string) {
				if len(p.OrderBy) > 0 && !p.HasLimit() {
					return 0.10, "ORDER BY without LIMIT sorts the full result set"
				}
				return 0, ""
			},
		},
		{
			Name:        "excess_joins",
			Improvement: "Add indexes on JOIN columns if missing.",
			Evaluate: func(p *QueryPlan, _ string) (float64, string) {
				excess := len(p.Joins) - cfg.JoinThreshold
				if excess <= 0 {
					return 0, ""
				}
				return 0.15 * float64(excess), fmt.Sprintf(
					"%d joins exceed the threshold of %d", len(p.Joins), cfg.JoinThreshold)
			},
		},
		{
			Name:        "wildcard_multi_join",
			Improvement: "Select only the columns you need.",
			Evaluate: func(p *QueryPlan, rawSQL string) (float64, string) {
				if len(p.Joins) >= 2 && selectStarPattern.MatchString(rawSQL) {
					return 0.15, "SELECT * across multiple joins"
				}
				return 0, ""
			},
		},
		{
			Name:        "aggregation_without_group",
			Improvement: "Add a GROUP BY or a filtering predicate.",
			Evaluate: func(p *QueryPlan, _ string) (float64, string) {
				if len(p.Aggregations) > 0 && len(p.GroupBy) == 0 && !p.HasFilters() {
					return 0.20, "unfiltered aggregation without GROUP BY scans the full table"
				}
				return 0, ""
			},
		},
		{
			Name:        "leading_wildcard_like",
			Improvement: "Prefer prefix search or use a trigram/full-text index.",
			Evaluate: func(_ *QueryPlan, rawSQL string) (float64, string) {
				if leadingWildcardPattern.MatchString(rawSQL) {
					return 0.20, "leading-wildcard LIKE defeats index use"
				}
				return 0, ""
			},
		},
		{
			Name:        "select_star",
			Improvement: "Select only the columns you need.",
			Evaluate: func(p *QueryPlan, rawSQL string) (float64, string) {
				if p.IsRead() && selectStarPattern.MatchString(rawSQL) {
					return 0.05, "SELECT * fetches every column"
				}
				return 0, ""
			},
		},
	}
}

// scoreSignals sums all signal contributions, clamped to [0,1], and collects
// the reasons and improvements of the signals that fired in evaluation order.
func scoreSignals(signals []RiskSignal, p *QueryPlan, rawSQL string) (float64, []string, []string) {
	var score float64
	var reasons, improvements []string
	for _, sig := range signals {
		contribution, reason := sig.Evaluate(p, rawSQL)
		if contribution > 0 {
			score += contribution
			if reason != "" {
				reasons = append(reasons, reason)
			}
			if sig.Improvement != "" {
				improvements = appendUnique(improvements, sig.Improvement)
			}
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}
	return score, reasons, improvements
}

// suggestedFix proposes the cheapest change that lowers a blocked read's
// risk, in priority order.
func suggestedFix(reasons []string) string {
	for _, r := range reasons {
		switch {
		case strings.Contains(r, "no WHERE clause"):
			return "add a WHERE clause or an explicit LIMIT"
		case strings.Contains(r, "joins exceed"):
			return "reduce the number of joined tables"
		case strings.Contains(r, "leading-wildcard"):
			return "anchor the LIKE pattern or use full-text search"
		case strings.Contains(r, "GROUP BY"):
			return "add a GROUP BY or a filtering predicate"
		}
	}
	return ""
}
