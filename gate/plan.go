// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package gate implements the query lifecycle control plane: it turns a SQL
// candidate into a structured plan, evaluates the plan against safety
// policy, caches plans by fingerprint, drives the explain/preview/execute
// lifecycle against a database connector, and records every decision in the
// audit log.
package gate

// Intent classifies what a statement does.
type Intent string

const (
	IntentSelect    Intent = "select"
	IntentAggregate Intent = "aggregate"
	IntentWrite     Intent = "write"
	IntentUnknown   Intent = "unknown"
)

// Join describes one join clause extracted from the statement.
type Join struct {
	LeftTable  string `json:"left_table"`
	RightTable string `json:"right_table"`
	JoinKey    string `json:"join_key"`
	Kind       string `json:"kind"`
}

// Filter describes one predicate extracted from the WHERE clause.
type Filter struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// Aggregation describes one aggregate function call in the select list.
type Aggregation struct {
	Function string `json:"function"`
	Column   string `json:"column"`
}

// QueryPlan is the structured, serializable representation of one request.
// A plan is immutable once constructed: re-planning produces a new instance,
// and the policy engine never writes into a plan — an enforced limit lives
// on the verdict and is applied at execution time.
type QueryPlan struct {
	Intent       Intent        `json:"intent"`
	Tables       []string      `json:"tables"`
	Joins        []Join        `json:"joins,omitempty"`
	Filters      []Filter      `json:"filters,omitempty"`
	Aggregations []Aggregation `json:"aggregations,omitempty"`
	GroupBy      []string      `json:"group_by,omitempty"`
	OrderBy      []string      `json:"order_by,omitempty"`
	Limit        *int          `json:"limit,omitempty"`
	Confidence   float64       `json:"confidence"`
	RawSQL       string        `json:"raw_sql"`
	Fingerprint  string        `json:"fingerprint"`

	// JoinPaths lists foreign-key paths between the plan's first table and
	// each additional table, derived from the schema snapshot's FK graph.
	// Advisory only: surfaced to the caller so missing join conditions are
	// easy to spot.
	JoinPaths [][]string `json:"join_paths,omitempty"`

	// IndexHints suggests indexes derived from JOIN, WHERE, and ORDER BY
	// columns. Advisory only.
	IndexHints []string `json:"index_hints,omitempty"`
}

// IsRead reports whether the plan only reads data.
func (p *QueryPlan) IsRead() bool {
	return p.Intent == IntentSelect || p.Intent == IntentAggregate
}

// HasLimit reports whether the statement carried an explicit LIMIT.
func (p *QueryPlan) HasLimit() bool {
	return p.Limit != nil
}

// HasFilters reports whether the statement carried any WHERE predicates.
func (p *QueryPlan) HasFilters() bool {
	return len(p.Filters) > 0
}
