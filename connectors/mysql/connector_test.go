// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package mysql

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axonflow/sqlgate/connectors/base"
)

func newMockConnector(t *testing.T) (*Connector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(base.Config{Name: "mysql-test"}, db), mock
}

func TestExplainParsesQueryCost(t *testing.T) {
	c, mock := newMockConnector(t)

	explainJSON := `{"query_block": {"cost_info": {"query_cost": "104.25"},
		"table": {"access_type": "ALL", "rows_examined_per_scan": 1000}}}`

	mock.ExpectQuery(`EXPLAIN FORMAT=JSON SELECT \* FROM users`).
		WillReturnRows(sqlmock.NewRows([]string{"EXPLAIN"}).AddRow(explainJSON))

	res, err := c.Explain(context.Background(), "SELECT * FROM users")
	require.NoError(t, err)
	require.NotNil(t, res.TotalCost)
	assert.InDelta(t, 104.25, *res.TotalCost, 0.01)
	require.NotNil(t, res.PlanRows)
	assert.EqualValues(t, 1000, *res.PlanRows)
	assert.Contains(t, res.Risks, "Full table scan detected.")
}

func TestQueryAppliesRowCap(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectQuery(`SELECT \* FROM orders LIMIT 50`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))

	res, err := c.Query(context.Background(), "SELECT * FROM orders", 50)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaIntrospection(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectQuery(`information_schema.columns`).
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type", "is_nullable"}).
			AddRow("users", "id", "int", "NO").
			AddRow("orders", "user_id", "int", "YES"))

	mock.ExpectQuery(`key_column_usage`).
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "referenced_table_name", "referenced_column_name"}).
			AddRow("orders", "user_id", "users", "id"))

	snap, err := c.Schema(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.HasTable("users"))
	assert.True(t, snap.HasColumn("orders", "user_id"))
	assert.Len(t, snap.ForeignKeys, 1)
	assert.NotEmpty(t, snap.Version)
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, isTransient(&mysql.MySQLError{Number: 1213}), "deadlock is transient")
	assert.True(t, isTransient(&mysql.MySQLError{Number: 1205}), "lock wait timeout is transient")
	assert.False(t, isTransient(&mysql.MySQLError{Number: 1064}), "syntax error is permanent")
	assert.True(t, isTransient(mysql.ErrInvalidConn))
	assert.True(t, isTransient(context.DeadlineExceeded))
}
