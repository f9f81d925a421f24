// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gate

import (
	"errors"
	"fmt"
)

// ErrUnknownMode is returned when a request names a mode other than
// explain, preview, or execute. It is a request-validation failure, not a
// policy decision.
var ErrUnknownMode = errors.New("unknown mode: must be explain, preview, or execute")

// PlanError reports a SQL candidate whose structure could not be matched
// against the schema snapshot. It is recoverable: the caller can rephrase
// and retry.
type PlanError struct {
	Message string
	Query   string
}

func (e *PlanError) Error() string {
	return "plan: " + e.Message
}

// CollaboratorError wraps a failure from an external collaborator
// (translation, introspection, database) with a retryability class.
// Transient errors may be retried by the caller; the control plane itself
// never retries.
type CollaboratorError struct {
	Op        string // schema_fetch, translate, explain, execute
	Transient bool
	Err       error
}

func (e *CollaboratorError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// AuditWriteError marks a failed audit append. It is logged internally and
// never surfaces as a user-facing failure of an otherwise-successful request.
type AuditWriteError struct {
	Err error
}

func (e *AuditWriteError) Error() string {
	return "audit write failed: " + e.Err.Error()
}

func (e *AuditWriteError) Unwrap() error {
	return e.Err
}
