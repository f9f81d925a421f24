// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package base defines the database executor contract consumed by the query
// gate. Connectors expose schema introspection, EXPLAIN-based cost
// estimation, bounded reads, and writes behind a single interface so the
// control plane never touches a driver directly.
package base

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"axonflow/sqlgate/schema"
)

// Executor is implemented by every database connector. Implementations must
// be safe for concurrent use and must honor context cancellation on all
// blocking calls.
type Executor interface {
	// Connect establishes the connection pool and verifies reachability.
	Connect(ctx context.Context) error

	// Close releases the connection pool.
	Close() error

	// Dialect returns the SQL dialect identifier (postgres, mysql).
	Dialect() string

	// Schema introspects tables, columns, and foreign keys and returns an
	// immutable snapshot with a deterministic version token.
	Schema(ctx context.Context) (*schema.Snapshot, error)

	// Explain runs the dialect's EXPLAIN form against the statement and
	// returns a cost estimate. It never executes the statement itself.
	Explain(ctx context.Context, stmt string) (*ExplainResult, error)

	// Query executes a read statement. When limit is positive and the
	// statement carries no LIMIT clause, the cap is injected into the SQL
	// before dispatch so the database never materializes unbounded results.
	Query(ctx context.Context, stmt string, limit int) (*QueryResult, error)

	// Exec executes a write statement and reports affected rows.
	Exec(ctx context.Context, stmt string) (*ExecResult, error)
}

// Config holds connector construction parameters.
type Config struct {
	Name            string        `yaml:"name" json:"name"`
	Driver          string        `yaml:"driver" json:"driver"`
	URL             string        `yaml:"url" json:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// ApplyPoolDefaults fills unset pool parameters with the defaults shared by
// all connectors.
func (c *Config) ApplyPoolDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
}

// ExplainResult carries the parsed output of an EXPLAIN call.
type ExplainResult struct {
	Dialect    string   `json:"dialect"`
	ExplainSQL string   `json:"explain_sql"`
	TotalCost  *float64 `json:"total_cost,omitempty"`
	PlanRows   *int64   `json:"plan_rows,omitempty"`
	Risks      []string `json:"risks,omitempty"`
	Raw        string   `json:"raw,omitempty"`
}

// QueryResult contains the rows returned by a bounded read.
type QueryResult struct {
	Rows     []map[string]interface{} `json:"rows"`
	RowCount int                      `json:"row_count"`
	Duration time.Duration            `json:"duration"`
}

// ExecResult contains the outcome of a write statement.
type ExecResult struct {
	RowsAffected int64         `json:"rows_affected"`
	Duration     time.Duration `json:"duration"`
}

// ConnectorError wraps a driver failure with enough classification for the
// control plane to report it as retryable or terminal.
type ConnectorError struct {
	Connector string
	Op        string
	Message   string
	Transient bool
	Cause     error
}

func (e *ConnectorError) Error() string {
	msg := e.Connector + "." + e.Op + ": " + e.Message
	if e.Cause != nil {
		msg += " (cause: " + e.Cause.Error() + ")"
	}
	return msg
}

func (e *ConnectorError) Unwrap() error {
	return e.Cause
}

// NewConnectorError builds a ConnectorError.
func NewConnectorError(connector, op, message string, transient bool, cause error) *ConnectorError {
	return &ConnectorError{
		Connector: connector,
		Op:        op,
		Message:   message,
		Transient: transient,
		Cause:     cause,
	}
}

// IsTransient reports whether err is a connector error marked retryable.
// Context deadline and cancellation failures are treated as transient: the
// request can be reissued.
func IsTransient(err error) bool {
	var ce *ConnectorError
	if errors.As(err, &ce) {
		return ce.Transient
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// ScanRows converts sql.Rows into generic row maps. Byte slices are decoded
// to strings so rows serialize cleanly to JSON.
func ScanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
