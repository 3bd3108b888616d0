package provider

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/ollama/ollama/api"
	"github.com/theapemachine/mem-go/pkg/memory"
)

/*
OllamaEmbedder generates embeddings through a local Ollama instance, for
deployments that keep everything off the network.
*/
type OllamaEmbedder struct {
	api   *api.Client
	Model string
}

type OllamaEmbedderOption func(*OllamaEmbedder)

func NewOllamaEmbedder(options ...OllamaEmbedderOption) *OllamaEmbedder {
	embedder := &OllamaEmbedder{
		Model: "nomic-embed-text",
	}

	for _, option := range options {
		option(embedder)
	}

	if embedder.api == nil {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			log.Error("failed to create Ollama client", "error", err)
		} else {
			embedder.api = client
		}
	}

	return embedder
}

func WithOllamaEmbedderModel(model string) OllamaEmbedderOption {
	return func(embedder *OllamaEmbedder) {
		embedder.Model = model
	}
}

func WithOllamaEmbedderClient(client *api.Client) OllamaEmbedderOption {
	return func(embedder *OllamaEmbedder) {
		embedder.api = client
	}
}

func (embedder *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (embedder *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := embedder.api.Embed(ctx, &api.EmbedRequest{
		Model: embedder.Model,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}

	return resp.Embeddings, nil
}

var _ memory.Embedder = (*OllamaEmbedder)(nil)
