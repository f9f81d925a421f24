// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const createAuditTable = `
CREATE TABLE IF NOT EXISTS audit_records (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	query TEXT NOT NULL,
	sql_text TEXT,
	plan_fingerprint TEXT,
	decision TEXT,
	risk_score DOUBLE PRECISION,
	reasons JSONB,
	mode TEXT,
	stage_timings_ms JSONB,
	row_count INTEGER,
	outcome TEXT NOT NULL,
	error_detail TEXT
)`

const insertAuditRecord = `
INSERT INTO audit_records
	(id, timestamp, query, sql_text, plan_fingerprint, decision, risk_score,
	 reasons, mode, stage_timings_ms, row_count, outcome, error_detail)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

const selectAuditRecords = `
SELECT id, timestamp, query, sql_text, plan_fingerprint, decision, risk_score,
	reasons, mode, stage_timings_ms, row_count, outcome, error_detail
FROM audit_records ORDER BY seq DESC LIMIT $1`

// PostgresStore persists audit records in a PostgreSQL table. The table is
// insert-only; no code path issues UPDATE or DELETE against it.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgresStore connects to the given database URL and ensures the
// audit table exists.
func OpenPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}
	store := NewPostgresStore(db)
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an existing handle. Used by tests with sqlmock.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createAuditTable); err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	return nil
}

// Record appends one audit entry.
func (s *PostgresStore) Record(ctx context.Context, rec *Record) error {
	normalize(rec)

	reasons, err := json.Marshal(rec.Reasons)
	if err != nil {
		return fmt.Errorf("failed to encode reasons: %w", err)
	}
	timings, err := json.Marshal(rec.StageTimingsMS)
	if err != nil {
		return fmt.Errorf("failed to encode stage timings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, insertAuditRecord,
		rec.ID, rec.Timestamp, rec.Query, rec.SQL, rec.PlanFingerprint,
		rec.Decision, rec.RiskScore, reasons, rec.Mode, timings,
		rec.RowCount, string(rec.Outcome), rec.ErrorDetail)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// List returns the most recent records, newest first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectAuditRecords, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var rec Record
		var reasons, timings []byte
		var outcome string
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Query, &rec.SQL,
			&rec.PlanFingerprint, &rec.Decision, &rec.RiskScore, &reasons,
			&rec.Mode, &timings, &rec.RowCount, &outcome, &rec.ErrorDetail); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Outcome = Outcome(outcome)
		if len(reasons) > 0 {
			_ = json.Unmarshal(reasons, &rec.Reasons)
		}
		if len(timings) > 0 {
			_ = json.Unmarshal(timings, &rec.StageTimingsMS)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
