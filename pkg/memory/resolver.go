package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/mem-go/pkg/errors"
)

// Threshold bands callers typically configure. The resolver itself is
// threshold-agnostic and only compares against the configured value.
const (
	ThresholdStrict     = 0.95 // id-like matching
	ThresholdStructured = 0.85 // structured data
	ThresholdDefault    = 0.75 // general default
	ThresholdPermissive = 0.65 // alias matching
)

// GraphMutation reports which nodes and relations one resolution pass
// touched, plus per-mention diagnostics for skipped triples.
type GraphMutation struct {
	Nodes       []EntityNode     `json:"nodes"`
	Relations   []RelationTriple `json:"relations"`
	Diagnostics []string         `json:"diagnostics,omitempty"`
}

/*
Resolver extracts entity triples from text and resolves each mentioned entity
against the existing graph nodes of the same scope. A mention whose best
same-scope match reaches the configured similarity threshold (inclusive)
resolves to that node; otherwise a new node is created. Relations are
upserted idempotently. Resolution never crosses scopes.
*/
type Resolver struct {
	graph     GraphStore
	embedder  Embedder
	extractor Extractor
	audit     AuditSink
	threshold float64
	clock     func() time.Time
}

type ResolverOption func(*Resolver)

// NewResolver constructs a Resolver with the given match threshold.
func NewResolver(graph GraphStore, embedder Embedder, extractor Extractor, threshold float64, options ...ResolverOption) *Resolver {
	if threshold <= 0 {
		threshold = ThresholdDefault
	}

	resolver := &Resolver{
		graph:     graph,
		embedder:  embedder,
		extractor: extractor,
		audit:     NullAuditSink{},
		threshold: threshold,
		clock:     time.Now,
	}

	for _, option := range options {
		option(resolver)
	}

	return resolver
}

// WithResolverAuditSink routes node/relation creation events to a sink.
func WithResolverAuditSink(sink AuditSink) ResolverOption {
	return func(resolver *Resolver) {
		if sink != nil {
			resolver.audit = sink
		}
	}
}

/*
ResolveAndUpsert extracts triples from text, resolves every entity mention
within scope and upserts the resulting nodes and relations. A failure of the
extraction capability fails the call with ErrExtraction; a single malformed
or unresolvable triple is skipped with a recorded diagnostic and does not
block its siblings. There are no retries within a call.
*/
func (resolver *Resolver) ResolveAndUpsert(ctx context.Context, text string, scope Scope) (*GraphMutation, error) {
	if scope.IsZero() {
		return nil, errors.ErrInvalidFilter.WithMessagef("entity resolution requires a scope")
	}

	triples, err := resolver.extractor.ExtractEntities(ctx, text)
	if err != nil {
		return nil, errors.ErrExtraction.WithMessagef("entity extraction failed: %v", err)
	}

	mutation := &GraphMutation{Nodes: []EntityNode{}, Relations: []RelationTriple{}}
	// Resolutions are cached per call so the same mention resolves once,
	// which also makes a second pass over identical text a no-op.
	resolved := map[string]EntityNode{}

	for _, triple := range triples {
		source := strings.TrimSpace(triple.Source)
		target := strings.TrimSpace(triple.Target)
		relationship := strings.TrimSpace(triple.Relationship)

		if source == "" || target == "" || relationship == "" {
			mutation.Diagnostics = append(mutation.Diagnostics, fmt.Sprintf(
				"skipped malformed triple (%q, %q, %q)", triple.Source, triple.Relationship, triple.Target,
			))
			continue
		}

		sourceNode, err := resolver.resolveEntity(ctx, source, scope, resolved, mutation)
		if err != nil {
			mutation.Diagnostics = append(mutation.Diagnostics, fmt.Sprintf(
				"skipped triple (%s -%s-> %s): source: %v", source, relationship, target, err,
			))
			continue
		}

		targetNode, err := resolver.resolveEntity(ctx, target, scope, resolved, mutation)
		if err != nil {
			mutation.Diagnostics = append(mutation.Diagnostics, fmt.Sprintf(
				"skipped triple (%s -%s-> %s): target: %v", source, relationship, target, err,
			))
			continue
		}

		if err := resolver.graph.UpsertRelation(ctx, sourceNode.ID, relationship, targetNode.ID); err != nil {
			mutation.Diagnostics = append(mutation.Diagnostics, fmt.Sprintf(
				"skipped triple (%s -%s-> %s): upsert: %v", source, relationship, target, err,
			))
			continue
		}

		mutation.Relations = append(mutation.Relations, RelationTriple{
			Source:       sourceNode.Name,
			Relationship: relationship,
			Target:       targetNode.Name,
		})
	}

	return mutation, nil
}

// resolveEntity walks one mention through Extracted → Resolving →
// Matched|Created → Upserted. The threshold comparison is inclusive: a best
// match at exactly the threshold resolves to the existing node.
func (resolver *Resolver) resolveEntity(ctx context.Context, name string, scope Scope, resolved map[string]EntityNode, mutation *GraphMutation) (EntityNode, error) {
	key := strings.ToLower(name)
	if node, ok := resolved[key]; ok {
		return node, nil
	}

	embedding, err := resolver.embedder.Embed(ctx, name)
	if err != nil {
		return EntityNode{}, fmt.Errorf("embed entity: %w", err)
	}

	matches, err := resolver.graph.SearchNodes(ctx, scope, embedding, 1)
	if err != nil {
		return EntityNode{}, fmt.Errorf("search nodes: %w", err)
	}

	if len(matches) > 0 && matches[0].Score >= resolver.threshold {
		node := matches[0]
		log.Debug("entity matched", "name", name, "node", node.ID, "score", node.Score)
		resolved[key] = node
		mutation.Nodes = append(mutation.Nodes, node)
		return node, nil
	}

	node, err := resolver.graph.UpsertNode(ctx, EntityNode{
		Name:      name,
		Type:      "entity",
		Scope:     scope,
		Embedding: embedding,
	})
	if err != nil {
		return EntityNode{}, fmt.Errorf("create node: %w", err)
	}

	log.Debug("entity created", "name", name, "node", node.ID)

	if auditErr := resolver.audit.Record(ctx, Event{
		Kind:     ActionAdd,
		MemoryID: node.ID,
		After:    node.Name,
		Scope:    scope,
		At:       resolver.clock().UTC(),
	}); auditErr != nil {
		log.Warn("audit sink rejected node event", "node", node.ID, "error", auditErr)
	}

	resolved[key] = node
	mutation.Nodes = append(mutation.Nodes, node)
	return node, nil
}
