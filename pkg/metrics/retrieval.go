package metrics

import (
	"sync"
	"time"
)

// RetrievalMetrics tracks performance metrics for retrieval operations
type RetrievalMetrics struct {
	mu sync.RWMutex

	// Lookup metrics
	TotalLookups   int64
	FailedLookups  int64
	PartialResults int64
	LookupDuration time.Duration

	// Backend metrics
	GraphSkips      int64
	GraphFailures   int64
	RerankFallbacks int64
	ReconcilePasses int64
	ActionsDegraded int64
	ReconcileTime   time.Duration
}

// NewRetrievalMetrics creates a new RetrievalMetrics instance
func NewRetrievalMetrics() *RetrievalMetrics {
	return &RetrievalMetrics{}
}

// RecordLookup records one retrieval call
func (m *RetrievalMetrics) RecordLookup(success, partial bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalLookups++
	if !success {
		m.FailedLookups++
	}
	if partial {
		m.PartialResults++
	}
	m.LookupDuration += duration
}

// RecordGraphSkip records a graph lookup skipped on a capability gap
func (m *RetrievalMetrics) RecordGraphSkip() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GraphSkips++
}

// RecordGraphFailure records a degraded graph lookup
func (m *RetrievalMetrics) RecordGraphFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GraphFailures++
}

// RecordRerankFallback records a discarded reranker response
func (m *RetrievalMetrics) RecordRerankFallback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RerankFallbacks++
}

// RecordReconcile records one reconciliation pass
func (m *RetrievalMetrics) RecordReconcile(degraded int64, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ReconcilePasses++
	m.ActionsDegraded += degraded
	m.ReconcileTime += duration
}

// GetMetrics returns a snapshot of the current metrics
func (m *RetrievalMetrics) GetMetrics() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := map[string]any{
		"total_lookups":    m.TotalLookups,
		"failed_lookups":   m.FailedLookups,
		"partial_results":  m.PartialResults,
		"graph_skips":      m.GraphSkips,
		"graph_failures":   m.GraphFailures,
		"rerank_fallbacks": m.RerankFallbacks,
		"reconcile_passes": m.ReconcilePasses,
		"actions_degraded": m.ActionsDegraded,
	}

	if m.TotalLookups > 0 {
		out["avg_lookup_duration"] = m.LookupDuration.Seconds() / float64(m.TotalLookups)
	}
	if m.ReconcilePasses > 0 {
		out["avg_reconcile_time"] = m.ReconcileTime.Seconds() / float64(m.ReconcilePasses)
	}

	return out
}
