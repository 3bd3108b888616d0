/*
Package neo4j adapts a Neo4j database to the memory.GraphStore interface over
the HTTP transactional endpoint. Node similarity is computed client-side with
cosine over stored embeddings, which keeps the adapter compatible with plain
Neo4j deployments that carry no vector index plugin.
*/
package neo4j

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/theapemachine/mem-go/pkg/errors"
	"github.com/theapemachine/mem-go/pkg/memory"
)

type Client struct {
	Endpoint   string
	Username   string
	Password   string
	httpClient *http.Client
}

type ClientOption func(*Client)

func New(endpoint, user, pass string, options ...ClientOption) *Client {
	client := &Client{
		Endpoint:   endpoint,
		Username:   user,
		Password:   pass,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// WithHTTPClient overrides the underlying HTTP client, for tests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = httpClient
	}
}

// ExecCypher sends a single Cypher statement with optional parameters and
// returns the row values of the first result set.
func (client *Client) ExecCypher(
	ctx context.Context, cypher string, params map[string]any,
) ([][]any, error) {
	payload := map[string]any{
		"statements": []map[string]any{{
			"statement":  cypher,
			"parameters": params,
		}},
	}

	b, err := json.Marshal(payload)

	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		client.Endpoint+"/db/neo4j/tx/commit",
		bytes.NewReader(b),
	)

	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	if client.Username != "" {
		req.SetBasicAuth(client.Username, client.Password)
	}

	resp, err := client.httpClient.Do(req)

	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("neo4j: status %s", resp.Status)
	}

	var out struct {
		Results []struct {
			Data []struct {
				Row []any `json:"row"`
			} `json:"data"`
		} `json:"results"`
		Errors []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("neo4j: %s: %s", out.Errors[0].Code, out.Errors[0].Message)
	}

	if len(out.Results) == 0 {
		return nil, nil
	}

	rows := make([][]any, 0, len(out.Results[0].Data))
	for _, entry := range out.Results[0].Data {
		rows = append(rows, entry.Row)
	}

	return rows, nil
}

// UpsertNode merges a node on (name, scope), assigning an id when absent.
func (client *Client) UpsertNode(ctx context.Context, node memory.EntityNode) (memory.EntityNode, error) {
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	if node.Type == "" {
		node.Type = "entity"
	}

	_, err := client.ExecCypher(ctx, `
		MERGE (n:Entity {name: $name, user_id: $user_id, agent_id: $agent_id, run_id: $run_id})
		ON CREATE SET n.id = $id, n.created_at = timestamp()
		SET n.type = $type, n.embedding = $embedding
		RETURN n.id`,
		map[string]any{
			"id":        node.ID,
			"name":      node.Name,
			"type":      node.Type,
			"user_id":   node.Scope.UserID,
			"agent_id":  node.Scope.AgentID,
			"run_id":    node.Scope.RunID,
			"embedding": node.Embedding,
		},
	)
	if err != nil {
		return memory.EntityNode{}, err
	}

	// MERGE may have matched an existing node carrying a different id.
	rows, err := client.ExecCypher(ctx, `
		MATCH (n:Entity {name: $name, user_id: $user_id, agent_id: $agent_id, run_id: $run_id})
		RETURN n.id LIMIT 1`,
		map[string]any{
			"name":     node.Name,
			"user_id":  node.Scope.UserID,
			"agent_id": node.Scope.AgentID,
			"run_id":   node.Scope.RunID,
		},
	)
	if err != nil {
		return memory.EntityNode{}, err
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		if id, ok := rows[0][0].(string); ok && id != "" {
			node.ID = id
		}
	}

	return node, nil
}

// UpsertRelation merges a directed, labeled edge between two nodes. MERGE
// makes the upsert idempotent: re-asserting an existing triple is a no-op.
func (client *Client) UpsertRelation(ctx context.Context, sourceID, relationship, targetID string) error {
	rows, err := client.ExecCypher(ctx, `
		MATCH (a:Entity {id: $source}), (b:Entity {id: $target})
		MERGE (a)-[r:RELATES {label: $label}]->(b)
		RETURN count(r)`,
		map[string]any{
			"source": sourceID,
			"target": targetID,
			"label":  relationship,
		},
	)
	if err != nil {
		return err
	}

	if len(rows) == 0 || len(rows[0]) == 0 || toFloat(rows[0][0]) == 0 {
		return errors.ErrNotFound.WithMessagef(
			"relation endpoints not found: %s, %s", sourceID, targetID,
		)
	}

	return nil
}

// SearchNodes returns up to limit same-scope nodes ordered by descending
// cosine similarity to the query embedding, ties broken by ascending id.
func (client *Client) SearchNodes(ctx context.Context, scope memory.Scope, embedding []float32, limit int) ([]memory.EntityNode, error) {
	rows, err := client.ExecCypher(ctx, `
		MATCH (n:Entity {user_id: $user_id, agent_id: $agent_id, run_id: $run_id})
		RETURN n.id, n.name, n.type, n.embedding`,
		map[string]any{
			"user_id":  scope.UserID,
			"agent_id": scope.AgentID,
			"run_id":   scope.RunID,
		},
	)
	if err != nil {
		return nil, err
	}

	nodes := make([]memory.EntityNode, 0, len(rows))
	for _, row := range rows {
		if len(row) < 4 {
			continue
		}
		node := memory.EntityNode{Scope: scope}
		node.ID, _ = row[0].(string)
		node.Name, _ = row[1].(string)
		node.Type, _ = row[2].(string)
		node.Embedding = toVector(row[3])
		node.Score = memory.CosineSimilarity(embedding, node.Embedding)
		nodes = append(nodes, node)
	}

	sortNodes(nodes)

	if limit > 0 && len(nodes) > limit {
		nodes = nodes[:limit]
	}

	return nodes, nil
}

// Traverse returns the relation triples between nodes matching the filter's
// scope conditions. An empty scope field is unconstrained.
func (client *Client) Traverse(ctx context.Context, filter *memory.FilterExpression, limit int) ([]memory.RelationTriple, error) {
	scope := filter.Scope()

	rows, err := client.ExecCypher(ctx, `
		MATCH (a:Entity)-[r:RELATES]->(b:Entity)
		WHERE ($user_id = '' OR (a.user_id = $user_id AND b.user_id = $user_id))
		  AND ($agent_id = '' OR (a.agent_id = $agent_id AND b.agent_id = $agent_id))
		  AND ($run_id = '' OR (a.run_id = $run_id AND b.run_id = $run_id))
		RETURN a.name, r.label, b.name
		LIMIT $limit`,
		map[string]any{
			"user_id":  scope.UserID,
			"agent_id": scope.AgentID,
			"run_id":   scope.RunID,
			"limit":    limit,
		},
	)
	if err != nil {
		return nil, err
	}

	triples := make([]memory.RelationTriple, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		triple := memory.RelationTriple{}
		triple.Source, _ = row[0].(string)
		triple.Relationship, _ = row[1].(string)
		triple.Target, _ = row[2].(string)
		triples = append(triples, triple)
	}

	return triples, nil
}

// DeleteNode detaches and removes a node by id.
func (client *Client) DeleteNode(ctx context.Context, id string) error {
	rows, err := client.ExecCypher(ctx, `
		MATCH (n:Entity {id: $id})
		DETACH DELETE n
		RETURN count(n)`,
		map[string]any{"id": id},
	)
	if err != nil {
		return err
	}

	if len(rows) == 0 || len(rows[0]) == 0 || toFloat(rows[0][0]) == 0 {
		return errors.ErrNotFound.WithMessagef("node not found: %s", id)
	}

	return nil
}

// SupportedOperators reports the subset the traversal query can honor: plain
// scope equality only.
func (client *Client) SupportedOperators() []memory.Operator {
	return []memory.Operator{memory.OpEq}
}

func sortNodes(nodes []memory.EntityNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Score != nodes[j].Score {
			return nodes[i].Score > nodes[j].Score
		}
		return nodes[i].ID < nodes[j].ID
	})
}

func toVector(value any) []float32 {
	entries, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(entries))
	for _, entry := range entries {
		out = append(out, float32(toFloat(entry)))
	}
	return out
}

func toFloat(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case json.Number:
		f, _ := v.Float64()
		return f
	case int:
		return float64(v)
	}
	return 0
}

var _ memory.GraphStore = (*Client)(nil)
var _ memory.OperatorSupport = (*Client)(nil)
