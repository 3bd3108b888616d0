/*
Package qdrant adapts a Qdrant collection to the memory.VectorStore interface
over the plain HTTP API. Compiled filter expressions are translated into
Qdrant's must/should/must_not form server-side; the one operator Qdrant cannot
evaluate (icontains) is excluded from the advertised operator set so the
retrieval coordinator can route around it.
*/
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/theapemachine/mem-go/pkg/errors"
	"github.com/theapemachine/mem-go/pkg/memory"
)

// Client wraps an endpoint + collection.
type Client struct {
	Endpoint   string // e.g. http://localhost:6333
	Collection string // e.g. "memories"
	apiKey     string
	httpClient *http.Client
}

type ClientOption func(*Client)

// New returns a Client with sane defaults.
func New(endpoint, collection string, options ...ClientOption) *Client {
	client := &Client{
		Endpoint:   endpoint,
		Collection: collection,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// WithAPIKey sets the api-key header on every request.
func WithAPIKey(key string) ClientOption {
	return func(client *Client) {
		client.apiKey = key
	}
}

// WithHTTPClient overrides the underlying HTTP client, for tests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = httpClient
	}
}

// EnsureCollection creates the collection with a cosine-distance vector index
// when it does not exist yet. Creation is idempotent on the Qdrant side, so
// it is retried on transient failures.
func (client *Client) EnsureCollection(ctx context.Context, dimensions int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimensions,
			"distance": "Cosine",
		},
	}

	return errors.RetryWithBackoff(errors.DefaultRetryConfig(), func() error {
		status, err := client.do(ctx, http.MethodPut,
			fmt.Sprintf("/collections/%s", client.Collection), body, nil)
		if err != nil {
			return err
		}
		// 409 means the collection already exists.
		if status >= 300 && status != http.StatusConflict {
			return fmt.Errorf("qdrant: create collection status %d", status)
		}
		return nil
	})
}

// Upsert stores or replaces one memory as a point.
func (client *Client) Upsert(ctx context.Context, item memory.Item, embedding []float32) error {
	body := map[string]any{
		"points": []map[string]any{{
			"id":      item.ID,
			"vector":  embedding,
			"payload": payloadFromItem(item),
		}},
	}

	status, err := client.do(ctx, http.MethodPut,
		fmt.Sprintf("/collections/%s/points?wait=true", client.Collection), body, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("qdrant: upsert status %d", status)
	}
	return nil
}

// Search runs a filtered vector search and returns scored items in Qdrant's
// descending-score order.
func (client *Client) Search(ctx context.Context, embedding []float32, filter *memory.FilterExpression, limit int) ([]memory.Item, error) {
	body := map[string]any{
		"vector":       embedding,
		"limit":        limit,
		"with_payload": true,
	}

	if qf, err := translateFilter(filter); err != nil {
		return nil, err
	} else if qf != nil {
		body["filter"] = qf
	}

	var out struct {
		Result []struct {
			ID      string         `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}

	status, err := client.do(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/search", client.Collection), body, &out)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("qdrant: search status %d", status)
	}

	items := make([]memory.Item, 0, len(out.Result))
	for _, result := range out.Result {
		item := itemFromPayload(result.ID, result.Payload)
		item.Score = result.Score
		items = append(items, item)
	}

	return items, nil
}

// Get retrieves a single memory by id.
func (client *Client) Get(ctx context.Context, id string) (memory.Item, error) {
	var out struct {
		Result struct {
			ID      string         `json:"id"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}

	status, err := client.do(ctx, http.MethodGet,
		fmt.Sprintf("/collections/%s/points/%s", client.Collection, id), nil, &out)
	if err != nil {
		return memory.Item{}, err
	}
	if status == http.StatusNotFound {
		return memory.Item{}, errors.ErrNotFound.WithMessagef("memory not found: %s", id)
	}
	if status >= 300 {
		return memory.Item{}, fmt.Errorf("qdrant: get status %d", status)
	}

	return itemFromPayload(out.Result.ID, out.Result.Payload), nil
}

// Delete removes a memory by id.
func (client *Client) Delete(ctx context.Context, id string) error {
	body := map[string]any{"points": []string{id}}

	status, err := client.do(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/delete?wait=true", client.Collection), body, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return errors.ErrNotFound.WithMessagef("memory not found: %s", id)
	}
	if status >= 300 {
		return fmt.Errorf("qdrant: delete status %d", status)
	}
	return nil
}

// SupportedOperators reports every filter operator except icontains, which
// has no server-side equivalent in Qdrant.
func (client *Client) SupportedOperators() []memory.Operator {
	return []memory.Operator{
		memory.OpEq, memory.OpNe, memory.OpIn, memory.OpNin,
		memory.OpGt, memory.OpGte, memory.OpLt, memory.OpLte,
		memory.OpContains,
	}
}

func (client *Client) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, client.Endpoint+path, reader)
	if err != nil {
		return 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	if client.apiKey != "" {
		req.Header.Set("api-key", client.apiKey)
	}

	resp, err := client.httpClient.Do(req)
	if err != nil {
		return 0, err
	}

	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}

	return resp.StatusCode, nil
}

var _ memory.VectorStore = (*Client)(nil)
var _ memory.OperatorSupport = (*Client)(nil)
