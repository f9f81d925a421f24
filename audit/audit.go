// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package audit provides the append-only decision record store. Every
// request through the gate produces exactly one record capturing the plan
// fingerprint, the policy verdict, per-stage timings, and the outcome, with
// enough fidelity to reconstruct why a query was allowed, bounded, or
// blocked. Records are never updated or deleted by this subsystem.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal result of one request lifecycle.
type Outcome string

const (
	// OutcomeExecuted indicates the query ran (or was explained) successfully.
	OutcomeExecuted Outcome = "executed"

	// OutcomeBlocked indicates policy denied the request before any
	// database access.
	OutcomeBlocked Outcome = "blocked"

	// OutcomeError indicates a collaborator or planning failure.
	OutcomeError Outcome = "error"

	// OutcomePlanned indicates a plan-only request that produced a plan and
	// verdict without any execution branch.
	OutcomePlanned Outcome = "planned"
)

// Record is a single immutable audit entry.
type Record struct {
	ID              string             `json:"id"`
	Timestamp       time.Time          `json:"timestamp"`
	Query           string             `json:"query"`
	SQL             string             `json:"sql,omitempty"`
	PlanFingerprint string             `json:"plan_fingerprint,omitempty"`
	Decision        string             `json:"decision,omitempty"`
	RiskScore       float64            `json:"risk_score"`
	Reasons         []string           `json:"reasons,omitempty"`
	Mode            string             `json:"mode"`
	StageTimingsMS  map[string]float64 `json:"stage_timings_ms,omitempty"`
	RowCount        int                `json:"row_count"`
	Outcome         Outcome            `json:"outcome"`
	ErrorDetail     string             `json:"error_detail,omitempty"`
}

// Recorder is the append-only store contract. Implementations must be safe
// for concurrent use; callers never hold an explicit lock.
type Recorder interface {
	// Record appends one entry. The entry is assigned an ID and timestamp
	// when missing. Implementations must never mutate prior entries.
	Record(ctx context.Context, rec *Record) error

	// List returns the most recent entries, newest first, up to limit.
	List(ctx context.Context, limit int) ([]*Record, error)

	// Close releases store resources.
	Close() error
}

// normalize fills server-assigned fields on a record before persistence.
func normalize(rec *Record) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
}
