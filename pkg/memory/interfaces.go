package memory

import "context"

// Embedder represents a service capable of generating embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Extractor is the language capability the core depends on. It maps raw text
// to structured output and is treated as a black box: the core constructs its
// input deterministically and strictly validates everything it returns.
type Extractor interface {
	// ExtractFacts derives discrete factual statements from free text.
	ExtractFacts(ctx context.Context, text string) ([]Fact, error)

	// DecideActions returns exactly one action per (fact, candidate set)
	// pair, in input order. Outputs are validated by the reconciler, not
	// trusted.
	DecideActions(ctx context.Context, batch []FactCandidates) ([]Action, error)

	// ExtractEntities derives (source, relationship, target) triples from
	// free text for the graph side.
	ExtractEntities(ctx context.Context, text string) ([]RelationTriple, error)
}

// VectorStore provides scoped semantic search and mutation over memories.
// Search results are ordered by descending similarity score.
type VectorStore interface {
	Upsert(ctx context.Context, item Item, embedding []float32) error
	Search(ctx context.Context, embedding []float32, filter *FilterExpression, limit int) ([]Item, error)
	Get(ctx context.Context, id string) (Item, error)
	Delete(ctx context.Context, id string) error
}

// GraphStore manages entity nodes and their relations. UpsertRelation is
// idempotent: an existing identical (source, relationship, target) edge is
// not duplicated.
type GraphStore interface {
	UpsertNode(ctx context.Context, node EntityNode) (EntityNode, error)
	UpsertRelation(ctx context.Context, sourceID, relationship, targetID string) error
	SearchNodes(ctx context.Context, scope Scope, embedding []float32, limit int) ([]EntityNode, error)
	Traverse(ctx context.Context, filter *FilterExpression, limit int) ([]RelationTriple, error)
	DeleteNode(ctx context.Context, id string) error
}

// Reranker reorders a retrieved result set. Implementations must never change
// set membership, only order; the coordinator enforces this.
type Reranker interface {
	Rerank(ctx context.Context, query string, items []Item) ([]Item, error)
}

// AuditSink receives the ordered stream of mutation events. Recording is
// best-effort: a sink failure is logged by the caller and never rolls back
// the mutation it describes.
type AuditSink interface {
	Record(ctx context.Context, event Event) error
}

// OperatorSupport is optionally implemented by store adapters that cannot
// evaluate the full filter operator set. The retrieval coordinator skips a
// supplementary backend whose capabilities cannot satisfy the compiled
// filter, reporting the gap instead of failing.
type OperatorSupport interface {
	SupportedOperators() []Operator
}
