// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package schema defines the immutable schema snapshot consumed by the
// query gate. Snapshots are produced by a database introspector and carry a
// version token that participates in plan fingerprints, so a schema change
// invalidates every cached plan built against the old version.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Column describes a single column within a table.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Table describes a table and its columns.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// ForeignKey describes a single foreign key relationship.
type ForeignKey struct {
	Table     string `json:"table"`
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// Snapshot is an immutable view of a database schema at a point in time.
// Construct once and share freely; no method mutates the receiver.
type Snapshot struct {
	Tables      []Table      `json:"tables"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
	Version     string       `json:"version"`
}

// HasTable reports whether the snapshot contains a table with the given
// name. Matching is case-insensitive since SQL identifiers usually arrive
// lowercased from the planner.
func (s *Snapshot) HasTable(name string) bool {
	_, ok := s.Table(name)
	return ok
}

// Table returns the named table, if present.
func (s *Snapshot) Table(name string) (*Table, bool) {
	for i := range s.Tables {
		if strings.EqualFold(s.Tables[i].Name, name) {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// HasColumn reports whether the named table contains the named column.
func (s *Snapshot) HasColumn(table, column string) bool {
	t, ok := s.Table(table)
	if !ok {
		return false
	}
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, column) {
			return true
		}
	}
	return false
}

// TableNames returns the snapshot's table names in declaration order.
func (s *Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	return names
}

// Graph returns the undirected foreign-key adjacency graph. Neighbor lists
// are sorted so traversal order is deterministic.
func (s *Snapshot) Graph() map[string][]string {
	adj := make(map[string]map[string]struct{})
	add := func(a, b string) {
		if adj[a] == nil {
			adj[a] = make(map[string]struct{})
		}
		adj[a][b] = struct{}{}
	}
	for _, fk := range s.ForeignKeys {
		if fk.Table == "" || fk.RefTable == "" {
			continue
		}
		add(fk.Table, fk.RefTable)
		add(fk.RefTable, fk.Table)
	}
	graph := make(map[string][]string, len(adj))
	for node, set := range adj {
		neighbors := make([]string, 0, len(set))
		for n := range set {
			neighbors = append(neighbors, n)
		}
		sort.Strings(neighbors)
		graph[node] = neighbors
	}
	return graph
}

// JoinPath returns the shortest foreign-key path between two tables using
// BFS over the FK graph, or nil when the tables are not connected.
func (s *Snapshot) JoinPath(from, to string) []string {
	if from == to {
		return []string{from}
	}
	graph := s.Graph()
	type node struct {
		name string
		path []string
	}
	queue := []node{{name: from, path: []string{from}}}
	visited := map[string]bool{from: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, neighbor := range graph[cur.name] {
			if visited[neighbor] {
				continue
			}
			next := append(append([]string{}, cur.path...), neighbor)
			if neighbor == to {
				return next
			}
			visited[neighbor] = true
			queue = append(queue, node{name: neighbor, path: next})
		}
	}
	return nil
}

// Digest computes a deterministic version token from the snapshot's
// structure. Introspectors that cannot obtain a native schema version from
// the database use this as the Version field.
func Digest(tables []Table, fks []ForeignKey) string {
	lines := make([]string, 0, len(tables)+len(fks))
	for _, t := range tables {
		for _, c := range t.Columns {
			lines = append(lines, fmt.Sprintf("%s.%s:%s", t.Name, c.Name, c.Type))
		}
	}
	for _, fk := range fks {
		lines = append(lines, fmt.Sprintf("%s.%s->%s.%s", fk.Table, fk.Column, fk.RefTable, fk.RefColumn))
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
