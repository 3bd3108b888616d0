package provider

import (
	"context"
	"os"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/theapemachine/mem-go/pkg/memory"
	"github.com/theapemachine/mem-go/pkg/utils"
)

/*
CohereEmbedder generates embeddings through the Cohere embed API.
*/
type CohereEmbedder struct {
	api   *cohereclient.Client
	Model string
}

type CohereEmbedderOption func(*CohereEmbedder)

func NewCohereEmbedder(options ...CohereEmbedderOption) *CohereEmbedder {
	embedder := &CohereEmbedder{
		Model: "embed-english-v3.0",
	}

	for _, option := range options {
		option(embedder)
	}

	if embedder.api == nil {
		embedder.api = cohereclient.NewClient(
			cohereclient.WithToken(os.Getenv("COHERE_API_KEY")),
		)
	}

	return embedder
}

func WithCohereEmbedderModel(model string) CohereEmbedderOption {
	return func(embedder *CohereEmbedder) {
		embedder.Model = model
	}
}

func WithCohereEmbedderClient(client *cohereclient.Client) CohereEmbedderOption {
	return func(embedder *CohereEmbedder) {
		embedder.api = client
	}
}

func (embedder *CohereEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (embedder *CohereEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	model := embedder.Model
	resp, err := embedder.api.Embed(ctx, &cohere.EmbedRequest{
		Model: &model,
		Texts: texts,
	})
	if err != nil {
		return nil, err
	}

	embeddings := resp.GetEmbeddingsFloats().Embeddings
	out := make([][]float32, len(embeddings))
	for i, embedding := range embeddings {
		out[i] = utils.ConvertToFloat32(embedding)
	}
	return out, nil
}

/*
CohereReranker reorders a retrieved result set through the Cohere rerank API.
It returns the same items in relevance order; the retrieval coordinator
rejects any response that changed set membership.
*/
type CohereReranker struct {
	api   *cohereclient.Client
	Model string
}

type CohereRerankerOption func(*CohereReranker)

func NewCohereReranker(options ...CohereRerankerOption) *CohereReranker {
	reranker := &CohereReranker{
		Model: "rerank-english-v3.0",
	}

	for _, option := range options {
		option(reranker)
	}

	if reranker.api == nil {
		reranker.api = cohereclient.NewClient(
			cohereclient.WithToken(os.Getenv("COHERE_API_KEY")),
		)
	}

	return reranker
}

func WithCohereRerankerModel(model string) CohereRerankerOption {
	return func(reranker *CohereReranker) {
		reranker.Model = model
	}
}

func WithCohereRerankerClient(client *cohereclient.Client) CohereRerankerOption {
	return func(reranker *CohereReranker) {
		reranker.api = client
	}
}

func (reranker *CohereReranker) Rerank(ctx context.Context, query string, items []memory.Item) ([]memory.Item, error) {
	if len(items) < 2 {
		return items, nil
	}

	documents := make([]*cohere.RerankRequestDocumentsItem, len(items))
	for i, item := range items {
		documents[i] = &cohere.RerankRequestDocumentsItem{String: item.Memory}
	}

	model := reranker.Model
	topN := len(items)
	resp, err := reranker.api.Rerank(ctx, &cohere.RerankRequest{
		Model:     &model,
		Query:     query,
		Documents: documents,
		TopN:      &topN,
	})
	if err != nil {
		return nil, err
	}

	out := make([]memory.Item, 0, len(resp.Results))
	for _, result := range resp.Results {
		if result.Index < 0 || result.Index >= len(items) {
			continue
		}
		item := items[result.Index]
		item.Score = result.RelevanceScore
		out = append(out, item)
	}

	return out, nil
}

var _ memory.Embedder = (*CohereEmbedder)(nil)
var _ memory.Reranker = (*CohereReranker)(nil)
