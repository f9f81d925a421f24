// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"axonflow/sqlgate/audit"
	"axonflow/sqlgate/shared/logger"
)

// Lifecycle is the surface the HTTP layer consumes. Controller implements
// it; tests substitute a stub.
type Lifecycle interface {
	Plan(ctx context.Context, req Request) (*Result, error)
	Run(ctx context.Context, req Request) (*Result, error)
}

// Server exposes the control plane over HTTP.
type Server struct {
	gate     Lifecycle
	recorder audit.Recorder
	log      *logger.Logger
}

// NewServer builds the HTTP layer.
func NewServer(gate Lifecycle, recorder audit.Recorder, log *logger.Logger) *Server {
	return &Server{gate: gate, recorder: recorder, log: log}
}

// Router returns the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/plan", s.handlePlan).Methods(http.MethodPost)
	r.HandleFunc("/v1/run", s.handleRun).Methods(http.MethodPost)
	r.HandleFunc("/v1/audit", s.handleAuditList).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	res, err := s.gate.Plan(r.Context(), req)
	if err != nil {
		s.writeError(w, req.RequestID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	res, err := s.gate.Run(r.Context(), req)
	if err != nil {
		s.writeError(w, req.RequestID, err)
		return
	}
	// A policy block is a verdict, not an error: 200 with reasons attached.
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: "limit must be a positive integer", Code: "invalid_request",
			})
			return
		}
		limit = n
	}
	records, err := s.recorder.List(r.Context(), limit)
	if err != nil {
		s.log.ErrorWithErr("", "audit listing failed", err, nil)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: "failed to list audit records", Code: "internal",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (Request, bool) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "invalid JSON body: " + err.Error(), Code: "invalid_request",
		})
		return req, false
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "query is required", Code: "invalid_request",
		})
		return req, false
	}
	return req, true
}

// writeError maps the error taxonomy onto HTTP statuses: validation errors
// are 400, plan failures 422, transient collaborator failures 503 with a
// retryable marker, permanent ones 502.
func (s *Server) writeError(w http.ResponseWriter, requestID string, err error) {
	var planErr *PlanError
	var collabErr *CollaboratorError

	switch {
	case errors.Is(err, ErrUnknownMode):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: err.Error(), Code: "invalid_request", RequestID: requestID,
		})
	case errors.As(err, &planErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error: planErr.Error(), Code: "plan_error", RequestID: requestID,
		})
	case errors.As(err, &collabErr):
		status := http.StatusBadGateway
		if collabErr.Transient {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, errorResponse{
			Error: collabErr.Error(), Code: "collaborator_error",
			Retryable: collabErr.Transient, RequestID: requestID,
		})
	default:
		s.log.ErrorWithErr(requestID, "request failed", err, nil)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: "internal error", Code: "internal", RequestID: requestID,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
