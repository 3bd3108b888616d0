package memory

import (
	"context"
	"crypto/sha256"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/theapemachine/mem-go/pkg/errors"
)

// InMemoryVectorStore is a VectorStore backed by a map, with real cosine
// scoring and full filter evaluation. It exists so the engine can run
// dependency-free in tests, demos and dev mode; production deployments swap
// in the qdrant adapter.
type InMemoryVectorStore struct {
	mu         sync.RWMutex
	items      map[string]Item
	embeddings map[string][]float32
}

// NewInMemoryVectorStore returns an empty in-memory vector store.
func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{
		items:      make(map[string]Item),
		embeddings: make(map[string][]float32),
	}
}

// Upsert stores or replaces an item and its embedding.
func (store *InMemoryVectorStore) Upsert(ctx context.Context, item Item, embedding []float32) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	item.Score = 0
	store.items[item.ID] = item
	store.embeddings[item.ID] = embedding
	return nil
}

// Search returns up to limit filter-matching items ordered by descending
// cosine similarity, ties broken by ascending id.
func (store *InMemoryVectorStore) Search(ctx context.Context, embedding []float32, filter *FilterExpression, limit int) ([]Item, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	var results []Item
	for id, item := range store.items {
		if !filter.Matches(item) {
			continue
		}
		item.Score = CosineSimilarity(embedding, store.embeddings[id])
		results = append(results, item)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// Get returns the item with the given id.
func (store *InMemoryVectorStore) Get(ctx context.Context, id string) (Item, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	item, ok := store.items[id]
	if !ok {
		return Item{}, errors.ErrNotFound.WithMessagef("memory not found: %s", id)
	}
	return item, nil
}

// Delete removes the item with the given id.
func (store *InMemoryVectorStore) Delete(ctx context.Context, id string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.items[id]; !ok {
		return errors.ErrNotFound.WithMessagef("memory not found: %s", id)
	}
	delete(store.items, id)
	delete(store.embeddings, id)
	return nil
}

// Count returns the number of stored items.
func (store *InMemoryVectorStore) Count() int {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return len(store.items)
}

type storedRelation struct {
	SourceID     string
	Relationship string
	TargetID     string
}

// InMemoryGraphStore is a GraphStore backed by maps, with cosine scoring for
// node resolution and idempotent relation upserts.
type InMemoryGraphStore struct {
	mu        sync.RWMutex
	nodes     map[string]EntityNode
	relations []storedRelation
}

// NewInMemoryGraphStore returns an empty in-memory graph store.
func NewInMemoryGraphStore() *InMemoryGraphStore {
	return &InMemoryGraphStore{nodes: make(map[string]EntityNode)}
}

// UpsertNode stores or replaces a node, assigning an id when absent.
func (store *InMemoryGraphStore) UpsertNode(ctx context.Context, node EntityNode) (EntityNode, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	node.Score = 0
	store.nodes[node.ID] = node
	return node, nil
}

// UpsertRelation records an edge unless the identical triple already exists.
func (store *InMemoryGraphStore) UpsertRelation(ctx context.Context, sourceID, relationship, targetID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.nodes[sourceID]; !ok {
		return errors.ErrNotFound.WithMessagef("source node not found: %s", sourceID)
	}
	if _, ok := store.nodes[targetID]; !ok {
		return errors.ErrNotFound.WithMessagef("target node not found: %s", targetID)
	}

	for _, rel := range store.relations {
		if rel.SourceID == sourceID && rel.Relationship == relationship && rel.TargetID == targetID {
			return nil
		}
	}

	store.relations = append(store.relations, storedRelation{
		SourceID:     sourceID,
		Relationship: relationship,
		TargetID:     targetID,
	})
	return nil
}

// SearchNodes returns up to limit same-scope nodes ordered by descending
// similarity to the query embedding, ties broken by ascending id. Resolution
// never crosses scopes.
func (store *InMemoryGraphStore) SearchNodes(ctx context.Context, scope Scope, embedding []float32, limit int) ([]EntityNode, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	var results []EntityNode
	for _, node := range store.nodes {
		if node.Scope != scope {
			continue
		}
		node.Score = CosineSimilarity(embedding, node.Embedding)
		results = append(results, node)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// Traverse returns the relation triples whose endpoints match the filter's
// scope conditions, in insertion order.
func (store *InMemoryGraphStore) Traverse(ctx context.Context, filter *FilterExpression, limit int) ([]RelationTriple, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	scope := filter.Scope()

	var triples []RelationTriple
	for _, rel := range store.relations {
		source, sok := store.nodes[rel.SourceID]
		target, tok := store.nodes[rel.TargetID]
		if !sok || !tok {
			continue
		}
		if !scopeCovers(scope, source.Scope) || !scopeCovers(scope, target.Scope) {
			continue
		}
		triples = append(triples, RelationTriple{
			Source:       source.Name,
			Relationship: rel.Relationship,
			Target:       target.Name,
		})
		if limit > 0 && len(triples) == limit {
			break
		}
	}

	return triples, nil
}

// DeleteNode removes a node and every edge touching it.
func (store *InMemoryGraphStore) DeleteNode(ctx context.Context, id string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.nodes[id]; !ok {
		return errors.ErrNotFound.WithMessagef("node not found: %s", id)
	}
	delete(store.nodes, id)

	kept := store.relations[:0]
	for _, rel := range store.relations {
		if rel.SourceID != id && rel.TargetID != id {
			kept = append(kept, rel)
		}
	}
	store.relations = kept
	return nil
}

// NodeCount returns the number of stored nodes.
func (store *InMemoryGraphStore) NodeCount() int {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return len(store.nodes)
}

// RelationCount returns the number of stored relations.
func (store *InMemoryGraphStore) RelationCount() int {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return len(store.relations)
}

// scopeCovers reports whether a filter scope constrains to the node scope:
// empty filter fields are unconstrained.
func scopeCovers(filterScope, nodeScope Scope) bool {
	if filterScope.UserID != "" && filterScope.UserID != nodeScope.UserID {
		return false
	}
	if filterScope.AgentID != "" && filterScope.AgentID != nodeScope.AgentID {
		return false
	}
	if filterScope.RunID != "" && filterScope.RunID != nodeScope.RunID {
		return false
	}
	return true
}

// MockEmbedder produces deterministic embeddings derived from the text hash.
// The same text always maps to the same vector, different texts map to
// different vectors, which is all the engine's tests need.
type MockEmbedder struct{}

// NewMockEmbedder returns a deterministic hash-based embedder.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{}
}

// Embed returns an 8-dimensional deterministic vector for text.
func (embedder *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	out := make([]float32, 8)
	for i := range out {
		out[i] = float32(sum[i])/255.0 + 0.01
	}
	return out, nil
}

// EmbedBatch embeds every text independently.
func (embedder *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// NullAuditSink discards every event. Used when no audit backend is
// configured.
type NullAuditSink struct{}

// Record implements AuditSink.
func (NullAuditSink) Record(ctx context.Context, event Event) error { return nil }

var _ VectorStore = (*InMemoryVectorStore)(nil)
var _ GraphStore = (*InMemoryGraphStore)(nil)
var _ Embedder = (*MockEmbedder)(nil)
var _ AuditSink = NullAuditSink{}
