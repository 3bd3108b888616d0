package memory

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/theapemachine/mem-go/pkg/errors"
)

// fixedScoreGraph pins SearchNodes scores so threshold boundaries can be
// tested exactly.
type fixedScoreGraph struct {
	*InMemoryGraphStore
	score float64
}

func (store *fixedScoreGraph) SearchNodes(ctx context.Context, scope Scope, embedding []float32, limit int) ([]EntityNode, error) {
	nodes, err := store.InMemoryGraphStore.SearchNodes(ctx, scope, embedding, limit)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		nodes[i].Score = store.score
	}
	return nodes, nil
}

func tripleExtractor(triples ...RelationTriple) *scriptedExtractor {
	return &scriptedExtractor{
		entitiesFn: func(text string) ([]RelationTriple, error) {
			return triples, nil
		},
	}
}

func TestResolveRejectsZeroScope(t *testing.T) {
	resolver := NewResolver(NewInMemoryGraphStore(), NewMockEmbedder(), tripleExtractor(), ThresholdDefault)

	_, err := resolver.ResolveAndUpsert(context.Background(), "text", Scope{})
	assert.True(t, stderrors.Is(err, errors.ErrInvalidFilter))
}

func TestResolveExtractionFailure(t *testing.T) {
	extractor := &scriptedExtractor{
		entitiesFn: func(text string) ([]RelationTriple, error) {
			return nil, stderrors.New("model unavailable")
		},
	}

	resolver := NewResolver(NewInMemoryGraphStore(), NewMockEmbedder(), extractor, ThresholdDefault)

	_, err := resolver.ResolveAndUpsert(context.Background(), "text", Scope{UserID: "u1"})
	assert.True(t, stderrors.Is(err, errors.ErrExtraction))
}

func TestResolveCreatesNodesAndRelations(t *testing.T) {
	graph := NewInMemoryGraphStore()
	extractor := tripleExtractor(RelationTriple{Source: "alex", Relationship: "lives_in", Target: "berlin"})

	resolver := NewResolver(graph, NewMockEmbedder(), extractor, ThresholdDefault)

	mutation, err := resolver.ResolveAndUpsert(context.Background(), "Alex lives in Berlin", Scope{UserID: "u1"})
	assert.NoError(t, err)
	assert.Len(t, mutation.Relations, 1)
	assert.Empty(t, mutation.Diagnostics)
	assert.Equal(t, 2, graph.NodeCount())
	assert.Equal(t, 1, graph.RelationCount())
}

func TestResolveIsIdempotent(t *testing.T) {
	graph := NewInMemoryGraphStore()
	extractor := tripleExtractor(RelationTriple{Source: "alex", Relationship: "lives_in", Target: "berlin"})

	// Exact re-mention embeds identically, so the match score is 1.0.
	resolver := NewResolver(graph, NewMockEmbedder(), extractor, ThresholdDefault)
	scope := Scope{UserID: "u1"}

	_, err := resolver.ResolveAndUpsert(context.Background(), "Alex lives in Berlin", scope)
	assert.NoError(t, err)

	_, err = resolver.ResolveAndUpsert(context.Background(), "Alex lives in Berlin", scope)
	assert.NoError(t, err)

	assert.Equal(t, 2, graph.NodeCount())
	assert.Equal(t, 1, graph.RelationCount())
}

func TestResolveThresholdIsInclusive(t *testing.T) {
	scope := Scope{UserID: "u1"}
	extractor := tripleExtractor(RelationTriple{Source: "alexander", Relationship: "knows", Target: "berlin"})

	seed := func(graph GraphStore) {
		for _, name := range []string{"alex", "berlin"} {
			_, err := graph.UpsertNode(context.Background(), EntityNode{Name: name, Scope: scope})
			assert.NoError(t, err)
		}
	}

	// Best match exactly at the threshold resolves to the existing node.
	atThreshold := &fixedScoreGraph{InMemoryGraphStore: NewInMemoryGraphStore(), score: ThresholdDefault}
	seed(atThreshold)

	resolver := NewResolver(atThreshold, NewMockEmbedder(), extractor, ThresholdDefault)
	_, err := resolver.ResolveAndUpsert(context.Background(), "text", scope)
	assert.NoError(t, err)
	assert.Equal(t, 2, atThreshold.NodeCount())

	// Just below the threshold, new nodes are created instead.
	below := &fixedScoreGraph{InMemoryGraphStore: NewInMemoryGraphStore(), score: ThresholdDefault - 0.0001}
	seed(below)

	resolver = NewResolver(below, NewMockEmbedder(), extractor, ThresholdDefault)
	_, err = resolver.ResolveAndUpsert(context.Background(), "text", scope)
	assert.NoError(t, err)
	assert.Equal(t, 4, below.NodeCount())
}

func TestResolveNeverCrossesScopes(t *testing.T) {
	graph := NewInMemoryGraphStore()

	_, err := graph.UpsertNode(context.Background(), EntityNode{Name: "alex", Scope: Scope{UserID: "other"}})
	assert.NoError(t, err)

	extractor := tripleExtractor(RelationTriple{Source: "alex", Relationship: "likes", Target: "espresso"})
	resolver := NewResolver(graph, NewMockEmbedder(), extractor, 0.0001)

	_, err = resolver.ResolveAndUpsert(context.Background(), "text", Scope{UserID: "u1"})
	assert.NoError(t, err)

	// The other scope's node is invisible; two fresh nodes are created.
	assert.Equal(t, 3, graph.NodeCount())
}

func TestResolveSkipsMalformedTriples(t *testing.T) {
	graph := NewInMemoryGraphStore()
	extractor := tripleExtractor(
		RelationTriple{Source: "", Relationship: "likes", Target: "espresso"},
		RelationTriple{Source: "alex", Relationship: "likes", Target: "espresso"},
	)

	resolver := NewResolver(graph, NewMockEmbedder(), extractor, ThresholdDefault)

	mutation, err := resolver.ResolveAndUpsert(context.Background(), "text", Scope{UserID: "u1"})
	assert.NoError(t, err)
	assert.Len(t, mutation.Relations, 1)
	assert.Len(t, mutation.Diagnostics, 1)
}
