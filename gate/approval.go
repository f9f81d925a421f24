// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gate

import "fmt"

// ApprovalState tracks a write-intent plan through the approval flow.
type ApprovalState string

const (
	ApprovalProposed ApprovalState = "proposed"
	ApprovalPending  ApprovalState = "pending_approval"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
)

// Approval is the state machine for one write-intent plan instance:
// proposed -> pending_approval -> approved | rejected. Rejected is terminal;
// executing the write again requires a brand-new request carrying the
// approval flag, never a transition out of rejected.
type Approval struct {
	state ApprovalState
}

// NewApproval starts in the proposed state.
func NewApproval() *Approval {
	return &Approval{state: ApprovalProposed}
}

// State returns the current state.
func (a *Approval) State() ApprovalState {
	return a.state
}

// RequestApproval moves proposed -> pending_approval.
func (a *Approval) RequestApproval() error {
	if a.state != ApprovalProposed {
		return fmt.Errorf("cannot request approval from state %q", a.state)
	}
	a.state = ApprovalPending
	return nil
}

// Approve moves pending_approval -> approved, the only state that permits
// executing a write.
func (a *Approval) Approve() error {
	if a.state != ApprovalPending {
		return fmt.Errorf("cannot approve from state %q", a.state)
	}
	a.state = ApprovalApproved
	return nil
}

// Reject moves proposed or pending_approval to rejected, terminally.
func (a *Approval) Reject() error {
	switch a.state {
	case ApprovalProposed, ApprovalPending:
		a.state = ApprovalRejected
		return nil
	default:
		return fmt.Errorf("cannot reject from state %q", a.state)
	}
}

// CanExecute reports whether the plan may be dispatched as a write.
func (a *Approval) CanExecute() bool {
	return a.state == ApprovalApproved
}

// ApprovalFor derives the approval state for one request: the approval flag
// on the request is the explicit approval; its absence leaves the plan
// pending.
func ApprovalFor(plan *QueryPlan, approved bool) *Approval {
	a := NewApproval()
	if plan.Intent != IntentWrite && plan.Intent != IntentUnknown {
		return a
	}
	_ = a.RequestApproval()
	if approved {
		_ = a.Approve()
	}
	return a
}
