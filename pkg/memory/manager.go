package memory

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/mem-go/pkg/errors"
)

/*
Manager is the high-level entry point tying extraction, reconciliation,
retrieval and graph resolution together behind a small API. Handlers and CLI
commands talk to a Manager; the inner components stay independently testable.
*/
type Manager struct {
	vector     VectorStore
	extractor  Extractor
	reconciler *Reconciler
	retriever  *Retriever
	resolver   *Resolver
	audit      AuditSink
	clock      func() time.Time
}

type ManagerOption func(*Manager)

// NewManager wires a Manager from its components. The resolver may be nil
// when the deployment runs without a graph store.
func NewManager(vector VectorStore, extractor Extractor, reconciler *Reconciler, retriever *Retriever, options ...ManagerOption) *Manager {
	manager := &Manager{
		vector:     vector,
		extractor:  extractor,
		reconciler: reconciler,
		retriever:  retriever,
		audit:      NullAuditSink{},
		clock:      time.Now,
	}

	for _, option := range options {
		option(manager)
	}

	return manager
}

// WithResolver enables graph-side entity resolution during Add.
func WithResolver(resolver *Resolver) ManagerOption {
	return func(manager *Manager) {
		manager.resolver = resolver
	}
}

// WithManagerAuditSink routes direct-delete events to a sink.
func WithManagerAuditSink(sink AuditSink) ManagerOption {
	return func(manager *Manager) {
		if sink != nil {
			manager.audit = sink
		}
	}
}

// AddResult combines the reconciliation report with whatever the graph side
// produced for the same text.
type AddResult struct {
	Report *ReconcileReport `json:"report"`
	Graph  *GraphMutation   `json:"graph,omitempty"`
}

/*
Add ingests one piece of text: facts are extracted and reconciled against the
scope's existing memories, then, when a resolver is configured, entities and
relations are resolved into the graph. The graph half is supplementary; its
failure marks the result partial but never discards the committed vector
mutations.
*/
func (manager *Manager) Add(ctx context.Context, text string, scope Scope) (*AddResult, error) {
	if scope.IsZero() {
		return nil, errors.ErrInvalidFilter.WithMessagef("add requires a scope")
	}

	facts, err := manager.extractor.ExtractFacts(ctx, text)
	if err != nil {
		return nil, errors.ErrExtraction.WithMessagef("fact extraction failed: %v", err)
	}

	report, err := manager.reconciler.Reconcile(ctx, scope, facts, nil)
	if err != nil {
		return nil, err
	}

	result := &AddResult{Report: report}

	if manager.resolver != nil {
		mutation, err := manager.resolver.ResolveAndUpsert(ctx, text, scope)
		if err != nil {
			report.Partial = true
			report.Diagnostics = append(report.Diagnostics, "graph resolution skipped: "+err.Error())
			log.Warn("graph resolution degraded", "error", err)
		} else {
			result.Graph = mutation
		}
	}

	return result, nil
}

// Search compiles the raw filter and runs a scoped retrieval for query.
func (manager *Manager) Search(ctx context.Context, query string, rawFilter map[string]any, limit int) (*RetrievalResult, error) {
	filter, err := CompileFilter(rawFilter)
	if err != nil {
		return nil, err
	}
	return manager.retriever.Retrieve(ctx, query, filter, limit)
}

// Get returns a single memory by id.
func (manager *Manager) Get(ctx context.Context, id string) (Item, error) {
	return manager.vector.Get(ctx, id)
}

// Delete removes a single memory by id, recording the deletion.
func (manager *Manager) Delete(ctx context.Context, id string) error {
	before, err := manager.vector.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := manager.vector.Delete(ctx, id); err != nil {
		return err
	}

	if auditErr := manager.audit.Record(ctx, Event{
		Kind:     ActionDelete,
		MemoryID: before.ID,
		Before:   before.Memory,
		Scope:    before.Scope,
		At:       manager.clock().UTC(),
	}); auditErr != nil {
		log.Warn("audit sink rejected delete event", "memory", id, "error", auditErr)
	}

	return nil
}
