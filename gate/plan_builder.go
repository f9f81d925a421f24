// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gate

import (
	"regexp"
	"strconv"
	"strings"

	"axonflow/sqlgate/schema"
)

// Statement-shape patterns. These are pattern-level heuristics, not a SQL
// grammar: the builder favors a best-effort structured plan over failure
// whenever at least one referenced table matches the schema snapshot.
var (
	selectPattern = regexp.MustCompile(`(?i)^\s*(?:with\b.*?\)\s*)?select\b`)
	writePattern  = regexp.MustCompile(`(?i)^\s*(insert|update|delete|merge|replace)\b`)

	fromPattern   = regexp.MustCompile(`(?i)\bfrom\s+([a-zA-Z_][\w]*(?:\s*,\s*[a-zA-Z_][\w]*)*)`)
	updatePattern = regexp.MustCompile(`(?i)^\s*update\s+([a-zA-Z_][\w]*)`)
	insertPattern = regexp.MustCompile(`(?i)^\s*insert\s+into\s+([a-zA-Z_][\w]*)`)
	deletePattern = regexp.MustCompile(`(?i)^\s*delete\s+from\s+([a-zA-Z_][\w]*)`)

	joinPattern = regexp.MustCompile(
		`(?i)\b(left|right|full|inner|cross)?\s*(?:outer\s+)?join\s+([a-zA-Z_][\w]*)(?:\s+(?:as\s+)?[a-zA-Z_]\w*)?\s+on\s+([\w.]+)\s*=\s*([\w.]+)`)

	aggPattern   = regexp.MustCompile(`(?i)\b(count|sum|avg|min|max)\s*\(\s*(\*|(?:distinct\s+)?[\w.]+)\s*\)`)
	wherePattern = regexp.MustCompile(`(?i)\bwhere\s+(.*?)(?:\bgroup\s+by\b|\border\s+by\b|\blimit\b|\boffset\b|;|$)`)
	groupPattern = regexp.MustCompile(`(?i)\bgroup\s+by\s+([\w.,\s]+?)(?:\bhaving\b|\border\s+by\b|\blimit\b|\boffset\b|;|$)`)
	orderPattern = regexp.MustCompile(`(?i)\border\s+by\s+([\w.,\s]+?)(?:\blimit\b|\boffset\b|;|$)`)
	limitValue   = regexp.MustCompile(`(?i)\blimit\s+(\d+)`)

	predicatePattern = regexp.MustCompile(
		`(?i)([\w.]+)\s*(=|!=|<>|<=|>=|<|>|\bnot\s+like\b|\blike\b|\bin\b|\bis\s+not\b|\bis\b)\s*('[^']*'|\$\d+|\?|[\w.%-]+|\([^)]*\))`)
)

// BuildPlan structures a SQL candidate into a QueryPlan against the given
// schema snapshot. confidence comes from the translation step (1.0 for
// caller-supplied SQL). It returns a PlanError when none of the referenced
// tables exist in the snapshot.
func BuildPlan(rawSQL string, snap *schema.Snapshot, confidence float64) (*QueryPlan, error) {
	plan := &QueryPlan{
		Intent:      classifyIntent(rawSQL),
		Confidence:  confidence,
		RawSQL:      rawSQL,
		Fingerprint: Fingerprint(snap.Version, rawSQL),
	}

	referenced := extractTables(rawSQL)
	for _, name := range referenced {
		if t, ok := snap.Table(name); ok {
			plan.Tables = appendUnique(plan.Tables, t.Name)
		}
	}
	if len(referenced) > 0 && len(plan.Tables) == 0 {
		return nil, &PlanError{
			Message: "no referenced table matches the schema: " + strings.Join(referenced, ", "),
			Query:   rawSQL,
		}
	}
	if len(plan.Tables) == 0 {
		return nil, &PlanError{Message: "no target table found in statement", Query: rawSQL}
	}

	plan.Joins = extractJoins(rawSQL, plan.Tables)
	plan.Filters = extractFilters(rawSQL)
	plan.Aggregations = extractAggregations(rawSQL)
	plan.GroupBy = extractColumnList(groupPattern, rawSQL)
	plan.OrderBy = extractColumnList(orderPattern, rawSQL)
	plan.Limit = extractLimit(rawSQL)
	plan.JoinPaths = joinPaths(snap, plan.Tables)
	plan.IndexHints = indexHints(plan)

	if plan.Intent == IntentSelect && len(plan.Aggregations) > 0 {
		plan.Intent = IntentAggregate
	}
	return plan, nil
}

func classifyIntent(rawSQL string) Intent {
	switch {
	case writePattern.MatchString(rawSQL):
		return IntentWrite
	case selectPattern.MatchString(rawSQL):
		return IntentSelect
	default:
		return IntentUnknown
	}
}

func extractTables(rawSQL string) []string {
	var tables []string
	for _, p := range []*regexp.Regexp{updatePattern, insertPattern, deletePattern} {
		if m := p.FindStringSubmatch(rawSQL); m != nil {
			tables = appendUnique(tables, m[1])
		}
	}
	for _, m := range fromPattern.FindAllStringSubmatch(rawSQL, -1) {
		for _, name := range strings.Split(m[1], ",") {
			tables = appendUnique(tables, strings.TrimSpace(name))
		}
	}
	for _, m := range joinPattern.FindAllStringSubmatch(rawSQL, -1) {
		tables = appendUnique(tables, m[2])
	}
	return tables
}

func extractJoins(rawSQL string, tables []string) []Join {
	var joins []Join
	for _, m := range joinPattern.FindAllStringSubmatch(rawSQL, -1) {
		kind := strings.ToLower(strings.TrimSpace(m[1]))
		if kind == "" {
			kind = "inner"
		}
		left := qualifierOf(m[3])
		if left == "" && len(tables) > 0 {
			left = tables[0]
		}
		joins = append(joins, Join{
			LeftTable:  left,
			RightTable: m[2],
			JoinKey:    m[3] + " = " + m[4],
			Kind:       kind,
		})
	}
	return joins
}

func extractFilters(rawSQL string) []Filter {
	m := wherePattern.FindStringSubmatch(rawSQL)
	if m == nil {
		return nil
	}
	var filters []Filter
	for _, pred := range predicatePattern.FindAllStringSubmatch(m[1], -1) {
		filters = append(filters, Filter{
			Column:   pred[1],
			Operator: strings.ToLower(strings.Join(strings.Fields(pred[2]), " ")),
			Value:    pred[3],
		})
	}
	return filters
}

func extractAggregations(rawSQL string) []Aggregation {
	var aggs []Aggregation
	for _, m := range aggPattern.FindAllStringSubmatch(rawSQL, -1) {
		aggs = append(aggs, Aggregation{
			Function: strings.ToLower(m[1]),
			Column:   strings.TrimSpace(strings.TrimPrefix(strings.ToLower(m[2]), "distinct")),
		})
	}
	return aggs
}

func extractColumnList(p *regexp.Regexp, rawSQL string) []string {
	m := p.FindStringSubmatch(rawSQL)
	if m == nil {
		return nil
	}
	var cols []string
	for _, raw := range strings.Split(m[1], ",") {
		fields := strings.Fields(raw)
		if len(fields) == 0 {
			continue
		}
		// Drop trailing ASC/DESC direction tokens.
		col := fields[0]
		if strings.EqualFold(col, "asc") || strings.EqualFold(col, "desc") {
			continue
		}
		cols = append(cols, col)
	}
	return cols
}

func extractLimit(rawSQL string) *int {
	m := limitValue.FindStringSubmatch(rawSQL)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

// joinPaths returns FK paths from the first table to every other referenced
// table. A nil path means the tables share no FK route.
func joinPaths(snap *schema.Snapshot, tables []string) [][]string {
	if len(tables) < 2 {
		return nil
	}
	var paths [][]string
	for _, t := range tables[1:] {
		if path := snap.JoinPath(tables[0], t); path != nil {
			paths = append(paths, path)
		}
	}
	return paths
}

// indexHints derives naive index suggestions from the plan's join keys,
// filter columns, and sort columns, deduplicated in discovery order.
func indexHints(p *QueryPlan) []string {
	var hints []string
	for _, j := range p.Joins {
		for _, side := range strings.Split(j.JoinKey, "=") {
			if col := strings.TrimSpace(side); strings.Contains(col, ".") {
				hints = appendUnique(hints, "Consider index on "+col+".")
			}
		}
	}
	for _, f := range p.Filters {
		if strings.Contains(f.Column, ".") {
			hints = appendUnique(hints, "Consider index on "+f.Column+".")
		}
	}
	for _, col := range p.OrderBy {
		if strings.Contains(col, ".") {
			hints = appendUnique(hints, "Consider index on "+col+" for ORDER BY.")
		}
	}
	return hints
}

func qualifierOf(column string) string {
	if idx := strings.Index(column, "."); idx > 0 {
		return column[:idx]
	}
	return ""
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	for _, v := range list {
		if strings.EqualFold(v, value) {
			return list
		}
	}
	return append(list, value)
}
