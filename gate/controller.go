// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gate

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"

	"axonflow/sqlgate/audit"
	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/llm"
	"axonflow/sqlgate/schema"
	"axonflow/sqlgate/shared/logger"
)

// Mode is the caller's execution intent.
type Mode string

const (
	ModeExplain Mode = "explain"
	ModePreview Mode = "preview"
	ModeExecute Mode = "execute"
)

// ParseMode validates a mode string. Anything outside the three modes is a
// request-validation error.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeExplain, ModePreview, ModeExecute:
		return Mode(s), nil
	default:
		return "", ErrUnknownMode
	}
}

// State is a lifecycle position. Blocked, Completed, and Failed are
// terminal; all three converge on the mandatory audit write.
type State string

const (
	StatePlanned   State = "planned"
	StateValidated State = "validated"
	StateBlocked   State = "blocked"
	StateExplained State = "explained"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// DefaultPreviewLimit caps rows returned in preview mode.
const DefaultPreviewLimit = 50

// Request is one unit of work entering the control plane. Query is either
// natural language or SQL; SQL is detected by shape and skips translation.
type Request struct {
	Query     string `json:"query"`
	Mode      string `json:"mode"`
	Approve   bool   `json:"approve,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Result is the caller-facing outcome of a request.
type Result struct {
	RequestID     string                   `json:"request_id"`
	State         State                    `json:"state"`
	Plan          *QueryPlan               `json:"plan,omitempty"`
	Verdict       *PolicyVerdict           `json:"verdict,omitempty"`
	ApprovalState ApprovalState            `json:"approval_state,omitempty"`
	Explain       *base.ExplainResult      `json:"explain,omitempty"`
	Rows          []map[string]interface{} `json:"rows,omitempty"`
	RowCount      int                      `json:"row_count"`
	RowsAffected  int64                    `json:"rows_affected,omitempty"`
	CacheHit      bool                     `json:"cache_hit"`
	Timings       map[string]float64       `json:"timings_ms,omitempty"`
}

// ControllerConfig holds the controller's own knobs; policy knobs live in
// PolicyConfig.
type ControllerConfig struct {
	PreviewLimit   int
	RequestTimeout time.Duration
}

// Controller drives the request lifecycle: Plan -> Validate -> {Blocked |
// Explained | Executing} -> Completed | Failed, writing exactly one audit
// record per request at the end, regardless of outcome.
type Controller struct {
	policy     *PolicyEngine
	cache      PlanCache
	executor   base.Executor
	translator llm.Translator
	recorder   audit.Recorder
	log        *logger.Logger
	cfg        ControllerConfig
}

// NewController wires the control plane from its collaborators. All
// dependencies are composed once at startup and passed by reference.
func NewController(policy *PolicyEngine, cache PlanCache, executor base.Executor,
	translator llm.Translator, recorder audit.Recorder, log *logger.Logger,
	cfg ControllerConfig) *Controller {
	if cfg.PreviewLimit <= 0 {
		cfg.PreviewLimit = DefaultPreviewLimit
	}
	return &Controller{
		policy:     policy,
		cache:      cache,
		executor:   executor,
		translator: translator,
		recorder:   recorder,
		log:        log,
		cfg:        cfg,
	}
}

var sqlShapePattern = regexp.MustCompile(
	`(?i)^\s*(select|insert|update|delete|with|merge|replace|drop|alter|truncate|create|grant|revoke|copy)\b`)

// looksLikeSQL reports whether the query text is already SQL rather than
// natural language.
func looksLikeSQL(query string) bool {
	return sqlShapePattern.MatchString(query)
}

// Plan resolves a request to a plan and verdict without touching the
// database beyond schema introspection and the planner cost estimate. It
// is the plan-only surface; the mode is validated here so a later Run
// with the same request cannot fail on it.
func (c *Controller) Plan(ctx context.Context, req Request) (*Result, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	_, modeErr := ParseMode(req.Mode)

	mc := NewMetricsCollector()
	rec := &audit.Record{Query: req.Query, Mode: req.Mode}
	defer c.writeAudit(req.RequestID, rec, mc)

	outcome := func(o audit.Outcome) {
		rec.Outcome = o
		requestsTotal.WithLabelValues("plan", string(o)).Inc()
	}

	if modeErr != nil {
		outcome(audit.OutcomeError)
		rec.ErrorDetail = modeErr.Error()
		return nil, modeErr
	}

	res, err := c.prepare(ctx, req, mc, rec)
	if err != nil {
		outcome(audit.OutcomeError)
		rec.ErrorDetail = err.Error()
		return nil, err
	}
	if !res.Verdict.Allows() {
		res.State = StateBlocked
		outcome(audit.OutcomeBlocked)
	} else {
		res.State = StateValidated
		outcome(audit.OutcomePlanned)
	}
	res.Timings = mc.Timings()
	return res, nil
}

// Run drives the full lifecycle for a request. Policy blocks are returned as
// a Result with State Blocked and no error; errors are reserved for
// validation and collaborator failures.
func (c *Controller) Run(ctx context.Context, req Request) (*Result, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	mode, modeErr := ParseMode(req.Mode)

	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	mc := NewMetricsCollector()
	rec := &audit.Record{Query: req.Query, Mode: req.Mode}
	defer c.writeAudit(req.RequestID, rec, mc)

	outcome := func(o audit.Outcome) {
		rec.Outcome = o
		requestsTotal.WithLabelValues(req.Mode, string(o)).Inc()
	}

	if modeErr != nil {
		outcome(audit.OutcomeError)
		rec.ErrorDetail = modeErr.Error()
		return nil, modeErr
	}

	res, err := c.prepare(ctx, req, mc, rec)
	if err != nil {
		outcome(audit.OutcomeError)
		rec.ErrorDetail = err.Error()
		return nil, err
	}

	if !res.Verdict.Allows() {
		res.State = StateBlocked
		res.Timings = mc.Timings()
		outcome(audit.OutcomeBlocked)
		blockedTotal.Inc()
		return res, nil
	}

	// Explain never issues a data-returning call, regardless of verdict.
	// A write in preview mode is also routed here so previews cannot mutate.
	if mode == ModeExplain || (mode == ModePreview && !res.Plan.IsRead()) {
		if err := c.explain(ctx, res, mc); err != nil {
			res.State = StateFailed
			res.Timings = mc.Timings()
			outcome(audit.OutcomeError)
			rec.ErrorDetail = err.Error()
			return nil, err
		}
		res.State = StateExplained
		res.Timings = mc.Timings()
		outcome(audit.OutcomeExecuted)
		return res, nil
	}

	res.State = StateExecuting
	if err := c.execute(ctx, mode, res, mc); err != nil {
		res.State = StateFailed
		res.Timings = mc.Timings()
		outcome(audit.OutcomeError)
		rec.ErrorDetail = err.Error()
		return nil, err
	}
	res.State = StateCompleted
	res.Timings = mc.Timings()
	rec.RowCount = res.RowCount
	outcome(audit.OutcomeExecuted)
	return res, nil
}

// prepare runs the shared front half: schema fetch, optional translation,
// cache lookup, plan construction, policy evaluation, cache fill.
func (c *Controller) prepare(ctx context.Context, req Request, mc *MetricsCollector, rec *audit.Record) (*Result, error) {
	snap, err := c.fetchSchema(ctx, mc)
	if err != nil {
		return nil, err
	}

	rawSQL := req.Query
	confidence := 1.0
	if !looksLikeSQL(req.Query) {
		translation, err := c.translate(ctx, req, snap, mc)
		if err != nil {
			return nil, err
		}
		rawSQL = translation.SQL
		confidence = translation.Confidence
	}
	rec.SQL = rawSQL

	fp := Fingerprint(snap.Version, rawSQL)
	rec.PlanFingerprint = fp

	res := &Result{RequestID: req.RequestID}

	// Hard gates run before plan construction: a DDL or stacked statement
	// has no plannable structure but must still block, not plan-error.
	if reasons := CheckPatterns(rawSQL); len(reasons) > 0 {
		res.Verdict = &PolicyVerdict{
			Decision:  DecisionBlock,
			RiskScore: 1.0,
			RiskLevel: RiskHigh,
			Reasons:   reasons,
		}
		rec.Decision = string(DecisionBlock)
		rec.RiskScore = 1.0
		rec.Reasons = reasons
		return res, nil
	}

	if entry, ok := c.cache.Get(ctx, fp); ok {
		cacheHitsTotal.Inc()
		mc.Record(StagePlan, 0)
		mc.Record(StageValidate, 0)
		res.Plan = entry.Plan
		res.Verdict = entry.Verdict
		res.CacheHit = true
		res.ApprovalState = ApprovalFor(entry.Plan, req.Approve).State()
		rec.Decision = string(entry.Verdict.Decision)
		rec.RiskScore = entry.Verdict.RiskScore
		rec.Reasons = entry.Verdict.Reasons
		return res, nil
	}
	cacheMissesTotal.Inc()

	stopPlan := mc.StartStage(StagePlan)
	plan, err := BuildPlan(rawSQL, snap, confidence)
	stopPlan()
	if err != nil {
		return nil, err
	}
	res.Plan = plan

	stopValidate := mc.StartStage(StageValidate)
	// Reads get a best-effort EXPLAIN before the verdict so the planner's
	// cost estimate and risks feed the risk score. A failed estimate
	// downgrades to heuristic-only scoring, never fails the request.
	var est *base.ExplainResult
	if plan.IsRead() {
		estimate, eerr := c.executor.Explain(ctx, rawSQL)
		if eerr != nil {
			c.log.Warn(req.RequestID, "planner cost estimate unavailable, scoring on heuristics only", map[string]interface{}{
				"fingerprint": fp,
				"error":       eerr.Error(),
			})
		} else {
			est = estimate
		}
	}
	verdict := c.policy.Evaluate(plan, rawSQL, req.Approve, est)
	stopValidate()
	policyEvaluationsTotal.Inc()

	res.Verdict = verdict
	res.ApprovalState = ApprovalFor(plan, req.Approve).State()
	rec.Decision = string(verdict.Decision)
	rec.RiskScore = verdict.RiskScore
	rec.Reasons = verdict.Reasons

	// Write verdicts depend on the per-request approval flag, so only read
	// plans are cached.
	if plan.IsRead() {
		c.cache.Put(ctx, fp, &CacheEntry{Plan: plan, Verdict: verdict, StoredAt: time.Now().UTC()})
	}
	return res, nil
}

func (c *Controller) fetchSchema(ctx context.Context, mc *MetricsCollector) (*schema.Snapshot, error) {
	stop := mc.StartStage(StageSchemaFetch)
	defer stop()
	s, err := c.executor.Schema(ctx)
	if err != nil {
		return nil, &CollaboratorError{Op: StageSchemaFetch, Transient: base.IsTransient(err), Err: err}
	}
	return s, nil
}

func (c *Controller) translate(ctx context.Context, req Request, snap *schema.Snapshot, mc *MetricsCollector) (*llm.Translation, error) {
	stop := mc.StartStage(StageTranslate)
	defer stop()
	translation, err := c.translator.Translate(ctx, req.Query, snap)
	if err != nil {
		var terr *llm.TranslationError
		transient := errors.As(err, &terr) && terr.Transient
		return nil, &CollaboratorError{Op: StageTranslate, Transient: transient, Err: err}
	}
	return translation, nil
}

func (c *Controller) explain(ctx context.Context, res *Result, mc *MetricsCollector) error {
	stop := mc.StartStage(StageExplain)
	defer stop()
	explain, err := c.executor.Explain(ctx, res.Plan.RawSQL)
	if err != nil {
		return &CollaboratorError{Op: StageExplain, Transient: base.IsTransient(err), Err: err}
	}
	res.Explain = explain
	return nil
}

func (c *Controller) execute(ctx context.Context, mode Mode, res *Result, mc *MetricsCollector) error {
	stop := mc.StartStage(StageExecute)
	defer stop()

	plan, verdict := res.Plan, res.Verdict

	if !plan.IsRead() {
		// Only reachable in execute mode with an approved write verdict.
		out, err := c.executor.Exec(ctx, plan.RawSQL)
		if err != nil {
			return &CollaboratorError{Op: StageExecute, Transient: base.IsTransient(err), Err: err}
		}
		res.RowsAffected = out.RowsAffected
		return nil
	}

	stmt := plan.RawSQL
	limit := 0
	switch {
	case mode == ModePreview:
		// The preview cap overrides any caller-supplied LIMIT, so the row
		// bound holds before the database call is issued.
		stmt = base.OverrideLimit(stmt, c.cfg.PreviewLimit)
	case verdict.EnforcedLimit != nil:
		limit = *verdict.EnforcedLimit
	}

	out, err := c.executor.Query(ctx, stmt, limit)
	if err != nil {
		return &CollaboratorError{Op: StageExecute, Transient: base.IsTransient(err), Err: err}
	}
	res.Rows = out.Rows
	res.RowCount = out.RowCount
	return nil
}

// writeAudit appends the request's single audit record. A failed write is
// logged and counted, never surfaced: the response has already been decided.
func (c *Controller) writeAudit(requestID string, rec *audit.Record, mc *MetricsCollector) {
	rec.StageTimingsMS = mc.Timings()
	if rec.Outcome == "" {
		rec.Outcome = audit.OutcomeError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.recorder.Record(ctx, rec); err != nil {
		werr := &AuditWriteError{Err: err}
		c.log.ErrorWithErr(requestID, "audit record was not persisted", werr, map[string]interface{}{
			"fingerprint": rec.PlanFingerprint,
			"outcome":     string(rec.Outcome),
		})
	}
}
