// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package postgres implements the database executor contract for PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/schema"
)

const dialect = "postgres"

// Connector implements base.Executor for PostgreSQL via lib/pq.
type Connector struct {
	cfg base.Config
	db  *sql.DB
}

// New creates an unconnected PostgreSQL connector.
func New(cfg base.Config) *Connector {
	cfg.ApplyPoolDefaults()
	if cfg.Name == "" {
		cfg.Name = dialect
	}
	return &Connector{cfg: cfg}
}

// NewWithDB wraps an existing database handle. Used by tests with sqlmock
// and by callers that manage pool construction themselves.
func NewWithDB(cfg base.Config, db *sql.DB) *Connector {
	cfg.ApplyPoolDefaults()
	if cfg.Name == "" {
		cfg.Name = dialect
	}
	return &Connector{cfg: cfg, db: db}
}

// Connect opens the connection pool and pings the server.
func (c *Connector) Connect(ctx context.Context) error {
	if c.db == nil {
		db, err := sql.Open("postgres", c.cfg.URL)
		if err != nil {
			return base.NewConnectorError(c.cfg.Name, "Connect", "failed to open connection", false, err)
		}
		db.SetMaxOpenConns(c.cfg.MaxOpenConns)
		db.SetMaxIdleConns(c.cfg.MaxIdleConns)
		db.SetConnMaxLifetime(c.cfg.ConnMaxLifetime)
		c.db = db
	}
	if err := c.db.PingContext(ctx); err != nil {
		return c.wrap("Connect", "failed to ping database", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Connector) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Dialect returns "postgres".
func (c *Connector) Dialect() string {
	return dialect
}

// Schema introspects the public schema and derives a version token from the
// structure digest.
func (c *Connector) Schema(ctx context.Context) (*schema.Snapshot, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = 'public'
		ORDER BY table_name, ordinal_position`)
	if err != nil {
		return nil, c.wrap("Schema", "failed to list columns", err)
	}
	defer rows.Close()

	var tables []schema.Table
	byName := map[string]int{}
	for rows.Next() {
		var table, column, dataType, nullable string
		if err := rows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return nil, c.wrap("Schema", "failed to scan column row", err)
		}
		idx, ok := byName[table]
		if !ok {
			idx = len(tables)
			byName[table] = idx
			tables = append(tables, schema.Table{Name: table})
		}
		tables[idx].Columns = append(tables[idx].Columns, schema.Column{
			Name:     column,
			Type:     dataType,
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, c.wrap("Schema", "failed to read column rows", err)
	}

	fkRows, err := c.db.QueryContext(ctx, `
		SELECT tc.table_name, kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = 'public'
		ORDER BY tc.table_name, kcu.column_name`)
	if err != nil {
		return nil, c.wrap("Schema", "failed to list foreign keys", err)
	}
	defer fkRows.Close()

	var fks []schema.ForeignKey
	for fkRows.Next() {
		var fk schema.ForeignKey
		if err := fkRows.Scan(&fk.Table, &fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return nil, c.wrap("Schema", "failed to scan foreign key row", err)
		}
		fks = append(fks, fk)
	}
	if err := fkRows.Err(); err != nil {
		return nil, c.wrap("Schema", "failed to read foreign key rows", err)
	}

	return &schema.Snapshot{
		Tables:      tables,
		ForeignKeys: fks,
		Version:     schema.Digest(tables, fks),
	}, nil
}

// pgPlanNode mirrors the nodes of postgres EXPLAIN (FORMAT JSON) output.
type pgPlanNode struct {
	NodeType     string       `json:"Node Type"`
	RelationName string       `json:"Relation Name"`
	TotalCost    float64      `json:"Total Cost"`
	PlanRows     int64        `json:"Plan Rows"`
	Plans        []pgPlanNode `json:"Plans"`
}

// Explain runs EXPLAIN (FORMAT JSON) and extracts cost, row estimate, and
// plan-level risks (sequential scans, large nested loops).
func (c *Connector) Explain(ctx context.Context, stmt string) (*base.ExplainResult, error) {
	body, _ := base.StripTrailingSemicolon(stmt)
	explainSQL := "EXPLAIN (FORMAT JSON) " + body

	var raw string
	if err := c.db.QueryRowContext(ctx, explainSQL).Scan(&raw); err != nil {
		return nil, c.wrap("Explain", "explain failed", err)
	}

	result := &base.ExplainResult{Dialect: dialect, ExplainSQL: explainSQL, Raw: raw}
	var parsed []struct {
		Plan pgPlanNode `json:"Plan"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || len(parsed) == 0 {
		// Unparseable EXPLAIN output is not fatal; the raw text still ships.
		return result, nil
	}

	root := parsed[0].Plan
	cost := root.TotalCost
	rows := root.PlanRows
	result.TotalCost = &cost
	result.PlanRows = &rows
	result.Risks = walkPlanRisks(root)
	return result, nil
}

func walkPlanRisks(node pgPlanNode) []string {
	var risks []string
	if node.NodeType == "Seq Scan" {
		rel := node.RelationName
		if rel == "" {
			rel = "table"
		}
		risks = append(risks, fmt.Sprintf("Sequential scan on %s.", rel))
	}
	if node.NodeType == "Nested Loop" && node.PlanRows > 5000 {
		risks = append(risks, "Large nested loop join detected.")
	}
	for _, child := range node.Plans {
		risks = append(risks, walkPlanRisks(child)...)
	}
	return risks
}

// Query executes a read with the row cap injected before dispatch.
func (c *Connector) Query(ctx context.Context, stmt string, limit int) (*base.QueryResult, error) {
	bounded, _ := base.ApplyLimit(stmt, limit)
	start := time.Now()
	rows, err := c.db.QueryContext(ctx, bounded)
	if err != nil {
		return nil, c.wrap("Query", "query failed", err)
	}
	defer rows.Close()

	data, err := base.ScanRows(rows)
	if err != nil {
		return nil, c.wrap("Query", "failed to scan rows", err)
	}
	return &base.QueryResult{Rows: data, RowCount: len(data), Duration: time.Since(start)}, nil
}

// Exec executes a write statement.
func (c *Connector) Exec(ctx context.Context, stmt string) (*base.ExecResult, error) {
	start := time.Now()
	res, err := c.db.ExecContext(ctx, stmt)
	if err != nil {
		return nil, c.wrap("Exec", "exec failed", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return &base.ExecResult{RowsAffected: affected, Duration: time.Since(start)}, nil
}

func (c *Connector) wrap(op, message string, err error) error {
	return base.NewConnectorError(c.cfg.Name, op, message, isTransient(err), err)
}

// isTransient classifies pq errors by SQLSTATE class: connection failures,
// resource exhaustion, operator cancellation, and transaction rollbacks are
// retryable; everything else (syntax, permissions) is terminal.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return true
		}
		return false
	}
	// Driver-level failures without a SQLSTATE are usually network issues.
	return errors.Is(err, sql.ErrConnDone)
}
