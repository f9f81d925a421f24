// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gate

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lifecycle stage names. Stage timings are recorded per request and land in
// the audit record and the Prometheus histogram.
const (
	StageSchemaFetch = "schema_fetch"
	StageTranslate   = "translate"
	StagePlan        = "plan"
	StageValidate    = "validate"
	StageExplain     = "explain"
	StageExecute     = "execute"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlgate_requests_total",
		Help: "Requests processed, labeled by mode and outcome.",
	}, []string{"mode", "outcome"})

	blockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sqlgate_blocked_requests_total",
		Help: "Requests blocked by policy.",
	})

	policyEvaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sqlgate_policy_evaluations_total",
		Help: "Policy evaluations performed.",
	})

	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sqlgate_plan_cache_hits_total",
		Help: "Plan cache hits.",
	})

	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sqlgate_plan_cache_misses_total",
		Help: "Plan cache misses.",
	})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sqlgate_stage_duration_seconds",
		Help:    "Lifecycle stage durations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
)

// MetricsCollector accumulates named stage durations during one request's
// lifecycle traversal and hands the completed mapping to the audit record.
// Safe for concurrent use, though a single request records sequentially.
type MetricsCollector struct {
	mu      sync.Mutex
	timings map[string]float64
}

// NewMetricsCollector returns an empty collector for one request.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{timings: make(map[string]float64)}
}

// StartStage starts a scoped timer for the named stage and returns its stop
// function. Callers defer the stop so the duration is recorded on every exit
// path, error exits included.
func (m *MetricsCollector) StartStage(stage string) func() {
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())

		m.mu.Lock()
		defer m.mu.Unlock()
		m.timings[stage] = float64(elapsed.Microseconds()) / 1000.0
	}
}

// Record sets an explicit duration for a stage, in milliseconds. Used when
// the work happened elsewhere (a cache hit records a zero plan stage).
func (m *MetricsCollector) Record(stage string, ms float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timings[stage] = ms
}

// Timings returns a copy of the accumulated stage durations in milliseconds.
func (m *MetricsCollector) Timings() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.timings))
	for k, v := range m.timings {
		out[k] = v
	}
	return out
}
