package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/mem-go/pkg/errors"
	"github.com/theapemachine/mem-go/pkg/metrics"
)

// RetrieverConfig is passed at construction. Whether graph retrieval runs is
// decided here, never read from ambient state mid-call.
type RetrieverConfig struct {
	// GraphEnabled switches the supplementary graph lookup on.
	GraphEnabled bool
	// PoolSize bounds the number of backend lookups in flight across all
	// concurrent Retrieve calls.
	PoolSize int
	// Timeout caps a single Retrieve call. Zero means the caller's context
	// is the only deadline.
	Timeout time.Duration
	// Limit is the default result count when the caller passes none.
	Limit int
}

const (
	defaultPoolSize = 8
	defaultLimit    = 10
)

/*
Retriever fans a query out to the vector index and, when enabled, the graph
store, concurrently on a bounded worker pool, then merges the outcomes into
one result. Vector search is load-bearing: its failure fails the call. Graph
traversal is supplementary: its failure or timeout degrades the call to a
partial, vector-only result.
*/
type Retriever struct {
	vector   VectorStore
	graph    GraphStore
	embedder Embedder
	reranker Reranker
	config   RetrieverConfig
	slots    chan struct{}
	stats    *metrics.RetrievalMetrics
}

type RetrieverOption func(*Retriever)

// NewRetriever constructs a Retriever. The graph store may be nil when graph
// retrieval is disabled.
func NewRetriever(vector VectorStore, graph GraphStore, embedder Embedder, config RetrieverConfig, options ...RetrieverOption) *Retriever {
	if config.PoolSize <= 0 {
		config.PoolSize = defaultPoolSize
	}
	if config.Limit <= 0 {
		config.Limit = defaultLimit
	}
	if graph == nil {
		config.GraphEnabled = false
	}

	retriever := &Retriever{
		vector:   vector,
		graph:    graph,
		embedder: embedder,
		config:   config,
		slots:    make(chan struct{}, config.PoolSize),
	}

	for _, option := range options {
		option(retriever)
	}

	return retriever
}

// WithReranker configures an optional reranker for the vector result set.
func WithReranker(reranker Reranker) RetrieverOption {
	return func(retriever *Retriever) {
		retriever.reranker = reranker
	}
}

// WithRetrieverMetrics wires a metrics collector into the coordinator.
func WithRetrieverMetrics(stats *metrics.RetrievalMetrics) RetrieverOption {
	return func(retriever *Retriever) {
		retriever.stats = stats
	}
}

type vectorOutcome struct {
	items []Item
	err   error
}

type graphOutcome struct {
	triples []RelationTriple
	err     error
}

/*
Retrieve runs the scoped lookups and merges their outputs. Vector results are
returned ranked by descending similarity; graph relations are a separate
ordered list. Callers always receive a complete result, a complete result
flagged partial, or a typed error — never a silent truncation.
*/
func (retriever *Retriever) Retrieve(ctx context.Context, query string, filter *FilterExpression, limit int) (result *RetrievalResult, err error) {
	if retriever.stats != nil {
		start := time.Now()
		defer func() {
			retriever.stats.RecordLookup(err == nil, result != nil && result.Partial, time.Since(start))
		}()
	}

	if filter == nil {
		return nil, errors.ErrInvalidFilter.WithMessagef("retrieval requires a compiled filter")
	}
	if limit <= 0 {
		limit = retriever.config.Limit
	}

	if retriever.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, retriever.config.Timeout)
		defer cancel()
	}

	embedding, err := retriever.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.ErrRetrieval.WithMessagef("embed query: %v", err)
	}

	result = &RetrievalResult{Results: []Item{}, Relations: []RelationTriple{}}

	vectorCh := make(chan vectorOutcome, 1)
	graphCh := make(chan graphOutcome, 1)

	go retriever.vectorLookup(ctx, embedding, filter, limit, vectorCh)

	graphRunning := false
	if retriever.config.GraphEnabled {
		if gap := retriever.graphGap(filter); gap != "" {
			result.Partial = true
			result.Gaps = append(result.Gaps, gap)
			if retriever.stats != nil {
				retriever.stats.RecordGraphSkip()
			}
		} else {
			graphRunning = true
			go retriever.graphLookup(ctx, filter, limit, graphCh)
		}
	}

	vector := <-vectorCh
	if vector.err != nil {
		return nil, errors.ErrRetrieval.WithMessagef("vector search failed: %v", vector.err)
	}
	result.Results = vector.items

	if graphRunning {
		graph := <-graphCh
		if graph.err != nil {
			// Graph is supplementary: degrade, never fail the call.
			result.Partial = true
			result.Gaps = append(result.Gaps, fmt.Sprintf("graph lookup skipped: %v", graph.err))
			log.Warn("graph lookup degraded", "error", graph.err)
			if retriever.stats != nil {
				retriever.stats.RecordGraphFailure()
			}
		} else {
			result.Relations = graph.triples
		}
	}

	if retriever.reranker != nil && len(result.Results) > 1 {
		result.Results = retriever.rerank(ctx, query, result.Results)
	}

	return result, nil
}

// acquire takes a worker slot, or reports the context error if the caller
// gave up first. Cancelled calls stop consuming pool capacity promptly.
func (retriever *Retriever) acquire(ctx context.Context) error {
	select {
	case retriever.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (retriever *Retriever) release() {
	<-retriever.slots
}

func (retriever *Retriever) vectorLookup(ctx context.Context, embedding []float32, filter *FilterExpression, limit int, out chan<- vectorOutcome) {
	if err := retriever.acquire(ctx); err != nil {
		out <- vectorOutcome{err: err}
		return
	}
	defer retriever.release()

	items, err := retriever.vector.Search(ctx, embedding, filter, limit)
	if err != nil {
		out <- vectorOutcome{err: err}
		return
	}
	if items == nil {
		items = []Item{}
	}
	out <- vectorOutcome{items: items}
}

func (retriever *Retriever) graphLookup(ctx context.Context, filter *FilterExpression, limit int, out chan<- graphOutcome) {
	if err := retriever.acquire(ctx); err != nil {
		out <- graphOutcome{err: err}
		return
	}
	defer retriever.release()

	triples, err := retriever.graph.Traverse(ctx, filter, limit)
	if err != nil {
		out <- graphOutcome{err: err}
		return
	}
	if triples == nil {
		triples = []RelationTriple{}
	}
	out <- graphOutcome{triples: triples}
}

// graphGap reports a capability gap when the graph backend cannot satisfy
// the compiled filter, so the backend is skipped instead of queried wrongly.
func (retriever *Retriever) graphGap(filter *FilterExpression) string {
	support, ok := retriever.graph.(OperatorSupport)
	if !ok {
		return ""
	}
	if filter.SatisfiableBy(support.SupportedOperators()) {
		return ""
	}
	return "graph lookup skipped: filter uses operators the graph backend does not support"
}

// rerank asks the configured reranker for a new ordering. Reranking may only
// reorder: when the returned set differs in membership or size, the original
// ranking is kept and the incident logged.
func (retriever *Retriever) rerank(ctx context.Context, query string, items []Item) []Item {
	reranked, err := retriever.reranker.Rerank(ctx, query, items)
	if err != nil {
		log.Warn("reranker failed, keeping vector order", "error", err)
		if retriever.stats != nil {
			retriever.stats.RecordRerankFallback()
		}
		return items
	}

	if !sameMembership(items, reranked) {
		log.Warn("reranker changed set membership, keeping vector order")
		if retriever.stats != nil {
			retriever.stats.RecordRerankFallback()
		}
		return items
	}

	return reranked
}

func sameMembership(a, b []Item) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make(map[string]int, len(a))
	for _, item := range a {
		ids[item.ID]++
	}
	for _, item := range b {
		ids[item.ID]--
		if ids[item.ID] < 0 {
			return false
		}
	}
	return true
}
