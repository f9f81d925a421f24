// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axonflow/sqlgate/audit"
	"axonflow/sqlgate/shared/logger"
)

var errBoom = errors.New("boom")

type stubGate struct {
	planRes *Result
	planErr error
	runRes  *Result
	runErr  error
}

func (s *stubGate) Plan(ctx context.Context, req Request) (*Result, error) {
	return s.planRes, s.planErr
}

func (s *stubGate) Run(ctx context.Context, req Request) (*Result, error) {
	return s.runRes, s.runErr
}

func newTestServer(stub *stubGate) *Server {
	return NewServer(stub, &fakeRecorder{}, logger.New("test"))
}

func postJSON(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleRunSuccess(t *testing.T) {
	stub := &stubGate{runRes: &Result{RequestID: "r1", State: StateCompleted, RowCount: 3}}
	w := postJSON(t, newTestServer(stub).Router(), "/v1/run",
		`{"query":"SELECT * FROM users","mode":"preview"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var res Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 3, res.RowCount)
}

func TestHandleRunBlockedIsStillOK(t *testing.T) {
	stub := &stubGate{runRes: &Result{
		State:   StateBlocked,
		Verdict: &PolicyVerdict{Decision: DecisionBlock, Reasons: []string{ReasonWriteApproval}},
	}}
	w := postJSON(t, newTestServer(stub).Router(), "/v1/run",
		`{"query":"UPDATE users SET name='x'","mode":"execute"}`)

	require.Equal(t, http.StatusOK, w.Code, "a block is a verdict, not an HTTP failure")
	var res Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, StateBlocked, res.State)
	assert.Contains(t, res.Verdict.Reasons, ReasonWriteApproval)
}

func TestHandleRunErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unknown mode", ErrUnknownMode, http.StatusBadRequest, "invalid_request"},
		{"plan error", &PlanError{Message: "no table"}, http.StatusUnprocessableEntity, "plan_error"},
		{"transient collaborator", &CollaboratorError{Op: "translate", Transient: true, Err: errBoom}, http.StatusServiceUnavailable, "collaborator_error"},
		{"permanent collaborator", &CollaboratorError{Op: "execute", Transient: false, Err: errBoom}, http.StatusBadGateway, "collaborator_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubGate{runErr: tt.err}
			w := postJSON(t, newTestServer(stub).Router(), "/v1/run",
				`{"query":"SELECT 1","mode":"preview"}`)

			require.Equal(t, tt.wantStatus, w.Code)
			var resp errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestHandleRunRetryableMarker(t *testing.T) {
	stub := &stubGate{runErr: &CollaboratorError{Op: "execute", Transient: true, Err: errBoom}}
	w := postJSON(t, newTestServer(stub).Router(), "/v1/run",
		`{"query":"SELECT 1","mode":"preview"}`)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Retryable)
}

func TestHandleRunRejectsBadRequests(t *testing.T) {
	server := newTestServer(&stubGate{})
	router := server.Router()

	w := postJSON(t, router, "/v1/run", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, router, "/v1/run", `{"mode":"preview"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "query is required")
}

func TestHandlePlan(t *testing.T) {
	stub := &stubGate{planRes: &Result{
		Plan: &QueryPlan{
			Intent:     IntentSelect,
			Tables:     []string{"users"},
			IndexHints: []string{"Consider index on users.id."},
		},
		Verdict: &PolicyVerdict{
			Decision:     DecisionAllow,
			Improvements: []string{"Select only the columns you need."},
		},
	}}
	w := postJSON(t, newTestServer(stub).Router(), "/v1/plan", `{"query":"show all users","mode":"preview"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var res Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, IntentSelect, res.Plan.Intent)
	assert.Equal(t, []string{"Consider index on users.id."}, res.Plan.IndexHints)
	assert.Equal(t, []string{"Select only the columns you need."}, res.Verdict.Improvements)
}

func TestHandlePlanUnknownModeIsBadRequest(t *testing.T) {
	stub := &stubGate{planErr: ErrUnknownMode}
	w := postJSON(t, newTestServer(stub).Router(), "/v1/plan", `{"query":"show all users","mode":"dryrun"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request", resp.Code)
}

func TestHandleAuditList(t *testing.T) {
	recorder := &fakeRecorder{}
	require.NoError(t, recorder.Record(context.Background(), &audit.Record{
		Query: "SELECT 1", Mode: "preview", Outcome: audit.OutcomeExecuted,
	}))
	server := NewServer(&stubGate{}, recorder, logger.New("test"))

	req := httptest.NewRequest(http.MethodGet, "/v1/audit?limit=5", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "records")

	req = httptest.NewRequest(http.MethodGet, "/v1/audit?limit=bogus", nil)
	w = httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	newTestServer(&stubGate{}).Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestMetricsEndpointIsWired(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	newTestServer(&stubGate{}).Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
