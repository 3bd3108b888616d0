package memory

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/theapemachine/mem-go/pkg/errors"
)

type scriptedExtractor struct {
	factsFn    func(text string) []Fact
	decideFn   func(batch []FactCandidates) ([]Action, error)
	entitiesFn func(text string) ([]RelationTriple, error)
}

func (s *scriptedExtractor) ExtractFacts(ctx context.Context, text string) ([]Fact, error) {
	if s.factsFn == nil {
		return nil, nil
	}
	return s.factsFn(text), nil
}

func (s *scriptedExtractor) DecideActions(ctx context.Context, batch []FactCandidates) ([]Action, error) {
	if s.decideFn == nil {
		return nil, nil
	}
	return s.decideFn(batch)
}

func (s *scriptedExtractor) ExtractEntities(ctx context.Context, text string) ([]RelationTriple, error) {
	if s.entitiesFn == nil {
		return nil, nil
	}
	return s.entitiesFn(text)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (sink *recordingSink) Record(ctx context.Context, event Event) error {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.err != nil {
		return sink.err
	}
	sink.events = append(sink.events, event)
	return nil
}

// opOrderStore wraps the in-memory store and records the order of mutations.
type opOrderStore struct {
	*InMemoryVectorStore
	mu  sync.Mutex
	ops []string
}

func (store *opOrderStore) Upsert(ctx context.Context, item Item, embedding []float32) error {
	store.mu.Lock()
	store.ops = append(store.ops, "upsert:"+item.Memory)
	store.mu.Unlock()
	return store.InMemoryVectorStore.Upsert(ctx, item, embedding)
}

func (store *opOrderStore) Delete(ctx context.Context, id string) error {
	store.mu.Lock()
	store.ops = append(store.ops, "delete:"+id)
	store.mu.Unlock()
	return store.InMemoryVectorStore.Delete(ctx, id)
}

type failingSearchStore struct {
	*InMemoryVectorStore
}

func (store *failingSearchStore) Search(ctx context.Context, embedding []float32, filter *FilterExpression, limit int) ([]Item, error) {
	return nil, stderrors.New("backend down")
}

func seedItem(t *testing.T, store VectorStore, embedder Embedder, id, text string, scope Scope) Item {
	t.Helper()

	vec, err := embedder.Embed(context.Background(), text)
	assert.NoError(t, err)

	item := Item{
		ID:        id,
		Memory:    text,
		Scope:     scope,
		Metadata:  map[string]any{},
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	assert.NoError(t, store.Upsert(context.Background(), item, vec))
	return item
}

func TestReconcileRejectsZeroScope(t *testing.T) {
	rec := NewReconciler(NewInMemoryVectorStore(), NewMockEmbedder(), &scriptedExtractor{})

	_, err := rec.Reconcile(context.Background(), Scope{}, []Fact{{Text: "x"}}, nil)
	assert.True(t, stderrors.Is(err, errors.ErrInvalidFilter))
}

func TestReconcileEmptyFacts(t *testing.T) {
	rec := NewReconciler(NewInMemoryVectorStore(), NewMockEmbedder(), &scriptedExtractor{})

	report, err := rec.Reconcile(context.Background(), Scope{UserID: "u1"}, nil, nil)
	assert.NoError(t, err)
	assert.Empty(t, report.Actions)
}

func TestReconcileAdd(t *testing.T) {
	store := NewInMemoryVectorStore()
	sink := &recordingSink{}
	decider := &scriptedExtractor{
		decideFn: func(batch []FactCandidates) ([]Action, error) {
			return []Action{{Kind: ActionAdd}}, nil
		},
	}

	rec := NewReconciler(store, NewMockEmbedder(), decider, WithAuditSink(sink))

	report, err := rec.Reconcile(
		context.Background(),
		Scope{UserID: "u1"},
		[]Fact{{Text: "likes pizza"}},
		nil,
	)

	assert.NoError(t, err)
	assert.Len(t, report.Actions, 1)
	assert.Equal(t, ActionAdd, report.Actions[0].Kind)
	assert.NotEmpty(t, report.Actions[0].TargetID)
	assert.Equal(t, "likes pizza", report.Actions[0].Text)
	assert.False(t, report.Partial)
	assert.Equal(t, 1, store.Count())

	assert.Len(t, sink.events, 1)
	assert.Equal(t, ActionAdd, sink.events[0].Kind)
	assert.Equal(t, report.Actions[0].TargetID, sink.events[0].MemoryID)
}

func TestReconcileUpdatePreservesIdentity(t *testing.T) {
	store := NewInMemoryVectorStore()
	embedder := NewMockEmbedder()
	scope := Scope{UserID: "u1"}
	existing := seedItem(t, store, embedder, "m1", "lives in Berlin", scope)

	decider := &scriptedExtractor{
		decideFn: func(batch []FactCandidates) ([]Action, error) {
			assert.Len(t, batch, 1)
			assert.NotEmpty(t, batch[0].Candidates)
			return []Action{{Kind: ActionUpdate, TargetID: "m1", Text: "lives in Paris"}}, nil
		},
	}

	rec := NewReconciler(store, embedder, decider)

	report, err := rec.Reconcile(context.Background(), scope, []Fact{{Text: "moved to Paris"}}, nil)
	assert.NoError(t, err)
	assert.False(t, report.Partial)

	updated, err := store.Get(context.Background(), "m1")
	assert.NoError(t, err)
	assert.Equal(t, "lives in Paris", updated.Memory)
	assert.Equal(t, existing.CreatedAt, updated.CreatedAt)
	assert.Equal(t, scope, updated.Scope)
	assert.True(t, updated.UpdatedAt.After(existing.UpdatedAt))
}

func TestReconcileDelete(t *testing.T) {
	store := NewInMemoryVectorStore()
	embedder := NewMockEmbedder()
	scope := Scope{UserID: "u1"}
	seedItem(t, store, embedder, "m1", "is vegetarian", scope)

	sink := &recordingSink{}
	decider := &scriptedExtractor{
		decideFn: func(batch []FactCandidates) ([]Action, error) {
			return []Action{{Kind: ActionDelete, TargetID: "m1"}}, nil
		},
	}

	rec := NewReconciler(store, embedder, decider, WithAuditSink(sink))

	report, err := rec.Reconcile(context.Background(), scope, []Fact{{Text: "eats meat now"}}, nil)
	assert.NoError(t, err)
	assert.False(t, report.Partial)
	assert.Equal(t, 0, store.Count())

	assert.Len(t, sink.events, 1)
	assert.Equal(t, ActionDelete, sink.events[0].Kind)
	assert.Equal(t, "is vegetarian", sink.events[0].Before)
}

func TestReconcileOneActionPerFact(t *testing.T) {
	store := NewInMemoryVectorStore()
	decider := &scriptedExtractor{
		decideFn: func(batch []FactCandidates) ([]Action, error) {
			// One action short, so the last fact must be padded with NONE.
			return []Action{{Kind: ActionAdd}}, nil
		},
	}

	rec := NewReconciler(store, NewMockEmbedder(), decider)

	report, err := rec.Reconcile(
		context.Background(),
		Scope{UserID: "u1"},
		[]Fact{{Text: "a"}, {Text: "b"}},
		nil,
	)

	assert.NoError(t, err)
	assert.Len(t, report.Actions, 2)
	assert.Equal(t, ActionAdd, report.Actions[0].Kind)
	assert.Equal(t, ActionNone, report.Actions[1].Kind)
	assert.NotEmpty(t, report.Diagnostics)
}

func TestReconcileInvalidTargetDegradesToNone(t *testing.T) {
	store := NewInMemoryVectorStore()
	decider := &scriptedExtractor{
		decideFn: func(batch []FactCandidates) ([]Action, error) {
			return []Action{{Kind: ActionUpdate, TargetID: "ghost", Text: "x"}}, nil
		},
	}

	rec := NewReconciler(store, NewMockEmbedder(), decider)

	report, err := rec.Reconcile(
		context.Background(),
		Scope{UserID: "u1"},
		[]Fact{{Text: "a"}},
		nil,
	)

	assert.NoError(t, err)
	assert.Equal(t, ActionNone, report.Actions[0].Kind)
	assert.NotEmpty(t, report.Diagnostics)
	assert.Equal(t, 0, store.Count())
}

func TestReconcileUnknownKindDegradesToNone(t *testing.T) {
	decider := &scriptedExtractor{
		decideFn: func(batch []FactCandidates) ([]Action, error) {
			return []Action{{Kind: "MERGE"}}, nil
		},
	}

	rec := NewReconciler(NewInMemoryVectorStore(), NewMockEmbedder(), decider)

	report, err := rec.Reconcile(
		context.Background(),
		Scope{UserID: "u1"},
		[]Fact{{Text: "a"}},
		nil,
	)

	assert.NoError(t, err)
	assert.Equal(t, ActionNone, report.Actions[0].Kind)
}

func TestReconcileApplyOrder(t *testing.T) {
	inner := NewInMemoryVectorStore()
	store := &opOrderStore{InMemoryVectorStore: inner}
	embedder := NewMockEmbedder()
	scope := Scope{UserID: "u1"}
	seedItem(t, inner, embedder, "m1", "old habit", scope)

	decider := &scriptedExtractor{
		decideFn: func(batch []FactCandidates) ([]Action, error) {
			// Decided in DELETE-first order; apply must still run ADD first.
			return []Action{
				{Kind: ActionDelete, TargetID: "m1"},
				{Kind: ActionAdd, Text: "new habit"},
			}, nil
		},
	}

	rec := NewReconciler(store, embedder, decider)

	report, err := rec.Reconcile(
		context.Background(),
		scope,
		[]Fact{{Text: "dropped the old habit"}, {Text: "new habit"}},
		nil,
	)

	assert.NoError(t, err)
	assert.False(t, report.Partial)
	assert.Equal(t, []string{"upsert:new habit", "delete:m1"}, store.ops)
}

func TestReconcileFetchFailureIsRetrievalError(t *testing.T) {
	store := &failingSearchStore{InMemoryVectorStore: NewInMemoryVectorStore()}
	rec := NewReconciler(store, NewMockEmbedder(), &scriptedExtractor{})

	_, err := rec.Reconcile(
		context.Background(),
		Scope{UserID: "u1"},
		[]Fact{{Text: "a"}},
		nil,
	)

	assert.True(t, stderrors.Is(err, errors.ErrRetrieval))
}

func TestReconcileDecisionFailureIsExtractionError(t *testing.T) {
	decider := &scriptedExtractor{
		decideFn: func(batch []FactCandidates) ([]Action, error) {
			return nil, stderrors.New("model unavailable")
		},
	}

	rec := NewReconciler(NewInMemoryVectorStore(), NewMockEmbedder(), decider)

	_, err := rec.Reconcile(
		context.Background(),
		Scope{UserID: "u1"},
		[]Fact{{Text: "a"}},
		nil,
	)

	assert.True(t, stderrors.Is(err, errors.ErrExtraction))
}

func TestReconcileCancellationMarksPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	decider := &scriptedExtractor{
		decideFn: func(batch []FactCandidates) ([]Action, error) {
			cancel() // cancel between decision and apply
			return []Action{{Kind: ActionAdd}}, nil
		},
	}

	rec := NewReconciler(NewInMemoryVectorStore(), NewMockEmbedder(), decider)

	report, err := rec.Reconcile(ctx, Scope{UserID: "u1"}, []Fact{{Text: "a"}}, nil)
	assert.NoError(t, err)
	assert.True(t, report.Partial)
	assert.NotEmpty(t, report.Diagnostics)
}

func TestReconcileSameScopeSerialized(t *testing.T) {
	store := NewInMemoryVectorStore()
	embedder := NewMockEmbedder()

	var mu sync.Mutex
	active := 0
	maxActive := 0

	decider := &scriptedExtractor{
		decideFn: func(batch []FactCandidates) ([]Action, error) {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()

			return []Action{{Kind: ActionAdd}}, nil
		},
	}

	rec := NewReconciler(store, embedder, decider)
	scope := Scope{UserID: "u1"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rec.Reconcile(context.Background(), scope, []Fact{{Text: "fact"}}, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
}

func TestReconcileAuditFailureDoesNotRollBack(t *testing.T) {
	store := NewInMemoryVectorStore()
	sink := &recordingSink{err: stderrors.New("sink offline")}
	decider := &scriptedExtractor{
		decideFn: func(batch []FactCandidates) ([]Action, error) {
			return []Action{{Kind: ActionAdd}}, nil
		},
	}

	rec := NewReconciler(store, NewMockEmbedder(), decider, WithAuditSink(sink))

	report, err := rec.Reconcile(
		context.Background(),
		Scope{UserID: "u1"},
		[]Fact{{Text: "a"}},
		nil,
	)

	assert.NoError(t, err)
	assert.False(t, report.Partial)
	assert.Equal(t, 1, store.Count())
}
