package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/theapemachine/mem-go/pkg/errors"
	"github.com/theapemachine/mem-go/pkg/metrics"
)

// DefaultCandidateLimit bounds the candidate set fetched per fact.
const DefaultCandidateLimit = 5

/*
Reconciler turns extracted facts into committed mutations. For each fact it
fetches the nearest existing memories, asks the decision capability for one
action per fact, validates every returned action against that fact's
candidate set, and applies the surviving actions in the fixed phase order
ADD, UPDATE, DELETE. Passes targeting the same scope are serialized through a
keyed lock so a pass never applies actions against candidate sets another
pass has already invalidated.
*/
type Reconciler struct {
	vector   VectorStore
	embedder Embedder
	decider  Extractor
	audit    AuditSink
	locks    *KeyedLock
	topK     int
	clock    func() time.Time
	stats    *metrics.RetrievalMetrics
}

type ReconcilerOption func(*Reconciler)

// NewReconciler constructs a Reconciler over the given backends.
func NewReconciler(vector VectorStore, embedder Embedder, decider Extractor, options ...ReconcilerOption) *Reconciler {
	rec := &Reconciler{
		vector:   vector,
		embedder: embedder,
		decider:  decider,
		audit:    NullAuditSink{},
		locks:    NewKeyedLock(),
		topK:     DefaultCandidateLimit,
		clock:    time.Now,
	}

	for _, option := range options {
		option(rec)
	}

	return rec
}

// WithAuditSink routes mutation events to the given sink.
func WithAuditSink(sink AuditSink) ReconcilerOption {
	return func(rec *Reconciler) {
		if sink != nil {
			rec.audit = sink
		}
	}
}

// WithCandidateLimit overrides the per-fact candidate set size.
func WithCandidateLimit(limit int) ReconcilerOption {
	return func(rec *Reconciler) {
		if limit > 0 {
			rec.topK = limit
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) ReconcilerOption {
	return func(rec *Reconciler) {
		if clock != nil {
			rec.clock = clock
		}
	}
}

// WithReconcilerMetrics wires a metrics collector into the reconciler.
func WithReconcilerMetrics(stats *metrics.RetrievalMetrics) ReconcilerOption {
	return func(rec *Reconciler) {
		rec.stats = stats
	}
}

// WithKeyedLock shares a lock table across reconcilers, for callers that
// construct more than one over the same backends.
func WithKeyedLock(locks *KeyedLock) ReconcilerOption {
	return func(rec *Reconciler) {
		if locks != nil {
			rec.locks = locks
		}
	}
}

/*
Reconcile decides and applies one action per fact, in fact order. It returns
a report containing exactly len(facts) actions; per-fact degradations are
recorded in the report's diagnostics rather than aborting sibling facts. An
error is returned only for failures that occur before any mutation (embedding,
candidate fetch, the decision call itself) or for an invalid scope.
*/
func (rec *Reconciler) Reconcile(ctx context.Context, scope Scope, facts []Fact, filter *FilterExpression) (*ReconcileReport, error) {
	if scope.IsZero() {
		return nil, errors.ErrInvalidFilter.WithMessagef("reconciliation requires a scope")
	}
	if filter == nil {
		filter = ScopeFilter(scope)
	}
	if len(facts) == 0 {
		return &ReconcileReport{Actions: []Action{}}, nil
	}

	// One pass per scope at a time: the candidate sets fetched below must
	// stay valid until the last action is applied.
	key := scope.Key()
	rec.locks.Lock(key)
	defer rec.locks.Unlock(key)

	texts := make([]string, len(facts))
	for i, fact := range facts {
		texts[i] = fact.Text
	}

	embeddings, err := rec.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed facts: %w", err)
	}
	if len(embeddings) != len(facts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d facts", len(embeddings), len(facts))
	}

	batch, err := rec.fetchCandidates(ctx, facts, embeddings, filter)
	if err != nil {
		return nil, err
	}

	decided, err := rec.decider.DecideActions(ctx, batch)
	if err != nil {
		return nil, errors.ErrExtraction.WithMessagef("decision step failed: %v", err)
	}

	report := &ReconcileReport{}
	report.Actions = rec.validateActions(decided, batch, report)

	// Diagnostics before apply are all validation degradations.
	degraded := int64(len(report.Diagnostics))

	start := rec.clock()
	rec.apply(ctx, scope, report, embeddings, batch)

	if rec.stats != nil {
		rec.stats.RecordReconcile(degraded, rec.clock().Sub(start))
	}

	return report, nil
}

// fetchCandidates looks up the candidate set for every fact. Fetches are
// dispatched concurrently but results are keyed back to fact order, and
// candidate ordering is made deterministic: score descending, id ascending.
func (rec *Reconciler) fetchCandidates(ctx context.Context, facts []Fact, embeddings [][]float32, filter *FilterExpression) ([]FactCandidates, error) {
	batch := make([]FactCandidates, len(facts))
	fetchErrs := make([]error, len(facts))

	var wg sync.WaitGroup
	for i := range facts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			candidates, err := rec.vector.Search(ctx, embeddings[i], filter, rec.topK)
			if err != nil {
				fetchErrs[i] = err
				return
			}

			sort.SliceStable(candidates, func(a, b int) bool {
				if candidates[a].Score != candidates[b].Score {
					return candidates[a].Score > candidates[b].Score
				}
				return candidates[a].ID < candidates[b].ID
			})

			batch[i] = FactCandidates{Fact: facts[i], Candidates: candidates}
		}(i)
	}
	wg.Wait()

	for i, err := range fetchErrs {
		if err != nil {
			// The vector store is load-bearing; a failed candidate fetch
			// would leave the decision step blind for this fact.
			return nil, errors.ErrRetrieval.WithMessagef(
				"candidate fetch failed for fact %d: %v", i, err,
			)
		}
	}

	return batch, nil
}

// validateActions enforces one action per fact and candidate-set membership
// for UPDATE/DELETE/NONE targets. Violations degrade that single fact to
// NONE and are recorded; they never abort the batch.
func (rec *Reconciler) validateActions(decided []Action, batch []FactCandidates, report *ReconcileReport) []Action {
	actions := make([]Action, len(batch))

	for i := range batch {
		if i >= len(decided) {
			actions[i] = Action{Kind: ActionNone}
			report.Diagnostics = append(report.Diagnostics, fmt.Sprintf(
				"fact %d: decision step returned no action, defaulting to NONE", i,
			))
			continue
		}
		actions[i] = rec.validateAction(decided[i], batch[i], i, report)
	}

	if len(decided) > len(batch) {
		report.Diagnostics = append(report.Diagnostics, fmt.Sprintf(
			"decision step returned %d extra actions, dropped", len(decided)-len(batch),
		))
	}

	return actions
}

func (rec *Reconciler) validateAction(action Action, pair FactCandidates, index int, report *ReconcileReport) Action {
	degrade := func(format string, args ...any) Action {
		diag := errors.ErrInvalidAction.WithMessagef(format, args...)
		report.Diagnostics = append(report.Diagnostics, diag.Error())
		log.Warn("invalid action degraded to NONE", "fact", index, "reason", diag.Message)
		return Action{Kind: ActionNone}
	}

	if !action.Kind.Valid() {
		return degrade("fact %d: unknown action kind %q", index, action.Kind)
	}

	switch action.Kind {
	case ActionAdd:
		if action.Text == "" {
			action.Text = pair.Fact.Text
		}
		action.TargetID = ""
		return action
	case ActionUpdate, ActionDelete:
		if !candidateSetContains(pair.Candidates, action.TargetID) {
			return degrade("fact %d: %s targets id %q outside the candidate set", index, action.Kind, action.TargetID)
		}
		if action.Kind == ActionUpdate && action.Text == "" {
			action.Text = pair.Fact.Text
		}
		return action
	case ActionNone:
		if action.TargetID != "" && !candidateSetContains(pair.Candidates, action.TargetID) {
			return degrade("fact %d: NONE references id %q outside the candidate set", index, action.TargetID)
		}
		return Action{Kind: ActionNone, TargetID: action.TargetID}
	}

	return Action{Kind: ActionNone}
}

func candidateSetContains(candidates []Item, id string) bool {
	if id == "" {
		return false
	}
	for _, candidate := range candidates {
		if candidate.ID == id {
			return true
		}
	}
	return false
}

/*
apply commits the validated actions in the fixed order ADD, then UPDATE, then
DELETE, across the whole batch. The batch is not atomic: a failure applying
one action is recorded and marks the report partial, but already committed
siblings stand and later actions still run. Cancellation is checked before
every commit so a cancelled pass never half-applies a single action.
*/
func (rec *Reconciler) apply(ctx context.Context, scope Scope, report *ReconcileReport, embeddings [][]float32, batch []FactCandidates) {
	type pending struct {
		index  int
		action Action
	}

	var adds, updates, deletes []pending
	for i, action := range report.Actions {
		switch action.Kind {
		case ActionAdd:
			adds = append(adds, pending{i, action})
		case ActionUpdate:
			updates = append(updates, pending{i, action})
		case ActionDelete:
			deletes = append(deletes, pending{i, action})
		}
	}

	fail := func(p pending, err error) {
		report.Partial = true
		report.Diagnostics = append(report.Diagnostics, fmt.Sprintf(
			"fact %d: applying %s failed: %v", p.index, p.action.Kind, err,
		))
		log.Error("apply action", "kind", p.action.Kind, "fact", p.index, "error", err)
	}

	cancelled := func(p pending) bool {
		if ctx.Err() != nil {
			report.Partial = true
			report.Diagnostics = append(report.Diagnostics, fmt.Sprintf(
				"fact %d: %s not applied, pass cancelled", p.index, p.action.Kind,
			))
			return true
		}
		return false
	}

	for _, p := range adds {
		if cancelled(p) {
			continue
		}

		now := rec.clock().UTC()
		item := Item{
			ID:        uuid.NewString(),
			Memory:    p.action.Text,
			Scope:     scope,
			Metadata:  map[string]any{},
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := rec.vector.Upsert(ctx, item, embeddings[p.index]); err != nil {
			fail(p, err)
			continue
		}

		report.Actions[p.index].TargetID = item.ID
		rec.emit(ctx, Event{Kind: ActionAdd, MemoryID: item.ID, After: item.Memory, Scope: scope, At: now})
	}

	for _, p := range updates {
		if cancelled(p) {
			continue
		}

		before, err := rec.vector.Get(ctx, p.action.TargetID)
		if err != nil {
			fail(p, err)
			continue
		}

		// Content changes, identity and scope do not.
		updated := before
		updated.Memory = p.action.Text
		updated.UpdatedAt = rec.clock().UTC()

		if err := rec.vector.Upsert(ctx, updated, embeddings[p.index]); err != nil {
			fail(p, err)
			continue
		}

		rec.emit(ctx, Event{
			Kind:     ActionUpdate,
			MemoryID: updated.ID,
			Before:   before.Memory,
			After:    updated.Memory,
			Scope:    scope,
			At:       updated.UpdatedAt,
		})
	}

	for _, p := range deletes {
		if cancelled(p) {
			continue
		}

		before, err := rec.vector.Get(ctx, p.action.TargetID)
		if err != nil {
			fail(p, err)
			continue
		}

		if err := rec.vector.Delete(ctx, p.action.TargetID); err != nil {
			fail(p, err)
			continue
		}

		rec.emit(ctx, Event{
			Kind:     ActionDelete,
			MemoryID: before.ID,
			Before:   before.Memory,
			Scope:    scope,
			At:       rec.clock().UTC(),
		})
	}
}

// emit records a mutation event. Audit is best-effort: a sink failure is
// logged and never rolls back the mutation.
func (rec *Reconciler) emit(ctx context.Context, event Event) {
	if err := rec.audit.Record(ctx, event); err != nil {
		log.Warn("audit sink rejected event", "kind", event.Kind, "memory", event.MemoryID, "error", err)
	}
}
