// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gate

import (
	"regexp"
	"strings"
)

// GatePattern is a hard gate: any match blocks the statement outright,
// before risk scoring runs.
type GatePattern struct {
	Name    string
	Pattern *regexp.Regexp
	Reason  string
}

var gatePatterns = []GatePattern{
	{
		Name:    "ddl_statement",
		Pattern: regexp.MustCompile(`(?i)\b(drop|alter|truncate|create|grant|revoke)\b`),
		Reason:  "DDL and privilege statements are not permitted",
	},
	{
		Name:    "bulk_copy",
		Pattern: regexp.MustCompile(`(?i)^\s*copy\b`),
		Reason:  "COPY statements are not permitted",
	},
	{
		Name:    "boolean_tautology",
		Pattern: regexp.MustCompile(`(?i)\bor\s+'?1'?\s*=\s*'?1'?\b`),
		Reason:  "statement contains an always-true predicate",
	},
	{
		Name:    "comment_injection",
		Pattern: regexp.MustCompile(`(?i);\s*--`),
		Reason:  "statement contains a comment-terminated tail",
	},
}

// CheckPatterns returns the hard-gate reasons triggered by the statement.
// An empty result means the statement passed every gate.
func CheckPatterns(rawSQL string) []string {
	var reasons []string
	for _, gp := range gatePatterns {
		if gp.Pattern.MatchString(rawSQL) {
			reasons = append(reasons, gp.Reason)
		}
	}
	if isMultiStatement(rawSQL) {
		reasons = append(reasons, "multiple statements are not allowed")
	}
	return reasons
}

// isMultiStatement reports whether the text contains more than one
// statement. A single trailing semicolon is allowed.
func isMultiStatement(rawSQL string) bool {
	trimmed := strings.TrimRight(strings.TrimSpace(rawSQL), ";")
	return strings.Contains(trimmed, ";")
}
