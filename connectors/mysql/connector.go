// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package mysql implements the database executor contract for MySQL.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/schema"
)

const dialect = "mysql"

// Connector implements base.Executor for MySQL via go-sql-driver/mysql.
type Connector struct {
	cfg base.Config
	db  *sql.DB
}

// New creates an unconnected MySQL connector.
func New(cfg base.Config) *Connector {
	cfg.ApplyPoolDefaults()
	if cfg.Name == "" {
		cfg.Name = dialect
	}
	return &Connector{cfg: cfg}
}

// NewWithDB wraps an existing database handle (sqlmock in tests).
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
		db, err := sql.Open("mysql", c.cfg.URL)
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

// Dialect returns "mysql".
func (c *Connector) Dialect() string {
	return dialect
}

// Schema introspects the current database and derives a version token from
// the structure digest.
func (c *Connector) Schema(ctx context.Context) (*schema.Snapshot, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = DATABASE()
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
		SELECT table_name, column_name, referenced_table_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = DATABASE() AND referenced_table_name IS NOT NULL
		ORDER BY table_name, column_name`)
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

// Explain runs EXPLAIN FORMAT=JSON and extracts the optimizer cost estimate.
func (c *Connector) Explain(ctx context.Context, stmt string) (*base.ExplainResult, error) {
	body, _ := base.StripTrailingSemicolon(stmt)
	explainSQL := "EXPLAIN FORMAT=JSON " + body

	var raw string
	if err := c.db.QueryRowContext(ctx, explainSQL).Scan(&raw); err != nil {
		return nil, c.wrap("Explain", "explain failed", err)
	}

	result := &base.ExplainResult{Dialect: dialect, ExplainSQL: explainSQL, Raw: raw}
	var parsed struct {
		QueryBlock struct {
			CostInfo struct {
				QueryCost string `json:"query_cost"`
			} `json:"cost_info"`
			Table struct {
				AccessType string `json:"access_type"`
				RowsExaminedPerScan int64 `json:"rows_examined_per_scan"`
			} `json:"table"`
		} `json:"query_block"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return result, nil
	}
	if cost, err := strconv.ParseFloat(parsed.QueryBlock.CostInfo.QueryCost, 64); err == nil {
		result.TotalCost = &cost
	}
	if parsed.QueryBlock.Table.RowsExaminedPerScan > 0 {
		rows := parsed.QueryBlock.Table.RowsExaminedPerScan
		result.PlanRows = &rows
	}
	if parsed.QueryBlock.Table.AccessType == "ALL" {
		result.Risks = append(result.Risks, "Full table scan detected.")
	}
	return result, nil
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

// isTransient classifies MySQL server errors: lock waits, deadlocks, and
// connection drops are retryable; everything else is terminal.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1040, 1053, 1205, 1213, 2006, 2013:
			return true
		}
	}
	return false
}
