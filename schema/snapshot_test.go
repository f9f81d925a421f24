// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() *Snapshot {
	return &Snapshot{
		Tables: []Table{
			{Name: "users", Columns: []Column{{Name: "id", Type: "integer"}, {Name: "name", Type: "text"}}},
			{Name: "orders", Columns: []Column{{Name: "id", Type: "integer"}, {Name: "user_id", Type: "integer"}}},
			{Name: "items", Columns: []Column{{Name: "id", Type: "integer"}, {Name: "order_id", Type: "integer"}}},
			{Name: "audit", Columns: []Column{{Name: "id", Type: "integer"}}},
		},
		ForeignKeys: []ForeignKey{
			{Table: "orders", Column: "user_id", RefTable: "users", RefColumn: "id"},
			{Table: "items", Column: "order_id", RefTable: "orders", RefColumn: "id"},
		},
		Version: "v1",
	}
}

func TestSnapshotLookups(t *testing.T) {
	s := testSnapshot()

	assert.True(t, s.HasTable("users"))
	assert.True(t, s.HasTable("USERS"), "table lookup should be case-insensitive")
	assert.False(t, s.HasTable("missing"))

	assert.True(t, s.HasColumn("users", "name"))
	assert.False(t, s.HasColumn("users", "email"))
	assert.False(t, s.HasColumn("missing", "id"))

	assert.Equal(t, []string{"users", "orders", "items", "audit"}, s.TableNames())
}

func TestGraphIsUndirectedAndSorted(t *testing.T) {
	s := testSnapshot()
	graph := s.Graph()

	assert.Equal(t, []string{"orders"}, graph["users"])
	assert.Equal(t, []string{"items", "users"}, graph["orders"])
	assert.Equal(t, []string{"orders"}, graph["items"])
	_, ok := graph["audit"]
	assert.False(t, ok, "table without FKs has no graph entry")
}

func TestJoinPath(t *testing.T) {
	s := testSnapshot()

	assert.Equal(t, []string{"users", "orders", "items"}, s.JoinPath("users", "items"))
	assert.Equal(t, []string{"items", "orders", "users"}, s.JoinPath("items", "users"))
	assert.Equal(t, []string{"users"}, s.JoinPath("users", "users"))
	assert.Nil(t, s.JoinPath("users", "audit"), "disconnected tables have no join path")
}

func TestDigestDeterministic(t *testing.T) {
	s := testSnapshot()
	d1 := Digest(s.Tables, s.ForeignKeys)
	d2 := Digest(s.Tables, s.ForeignKeys)
	require.Equal(t, d1, d2)

	// Adding a column must change the digest.
	altered := testSnapshot()
	altered.Tables[0].Columns = append(altered.Tables[0].Columns, Column{Name: "email", Type: "text"})
	assert.NotEqual(t, d1, Digest(altered.Tables, altered.ForeignKeys))
}
