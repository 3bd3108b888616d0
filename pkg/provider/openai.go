package provider

import (
	"context"
	"os"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/theapemachine/mem-go/pkg/memory"
	"github.com/theapemachine/mem-go/pkg/utils"
)

/*
OpenAIProvider implements the extraction and decision capabilities on the
OpenAI chat completions API. Every call is a single-turn, low-temperature
completion whose output is parsed and validated by the caller; the provider
never mutates state itself.
*/
type OpenAIProvider struct {
	client *openai.Client
	Model  string
}

type OpenAIProviderOption func(*OpenAIProvider)

func NewOpenAIProvider(options ...OpenAIProviderOption) *OpenAIProvider {
	prvdr := &OpenAIProvider{
		Model: "gpt-4o-mini",
	}

	for _, option := range options {
		option(prvdr)
	}

	if prvdr.client == nil {
		client := openai.NewClient(option.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
		prvdr.client = &client
	}

	return prvdr
}

func WithOpenAIModel(model string) OpenAIProviderOption {
	return func(prvdr *OpenAIProvider) {
		prvdr.Model = model
	}
}

func WithOpenAIClient(client *openai.Client) OpenAIProviderOption {
	return func(prvdr *OpenAIProvider) {
		prvdr.client = client
	}
}

func (prvdr *OpenAIProvider) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := prvdr.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(prvdr.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

func (prvdr *OpenAIProvider) ExtractFacts(ctx context.Context, text string) ([]memory.Fact, error) {
	response, err := prvdr.complete(ctx, factExtractionPrompt, text)
	if err != nil {
		return nil, err
	}
	return parseFacts(response)
}

func (prvdr *OpenAIProvider) DecideActions(ctx context.Context, batch []memory.FactCandidates) ([]memory.Action, error) {
	input, err := buildDecisionInput(batch)
	if err != nil {
		return nil, err
	}

	response, err := prvdr.complete(ctx, actionDecisionPrompt, input)
	if err != nil {
		return nil, err
	}
	return parseActions(response)
}

func (prvdr *OpenAIProvider) ExtractEntities(ctx context.Context, text string) ([]memory.RelationTriple, error) {
	response, err := prvdr.complete(ctx, entityExtractionPrompt, text)
	if err != nil {
		return nil, err
	}
	return parseTriples(response)
}

/*
OpenAIEmbedder generates embeddings through the OpenAI embeddings API.
*/
type OpenAIEmbedder struct {
	client *openai.Client
	Model  string
}

type OpenAIEmbedderOption func(*OpenAIEmbedder)

func NewOpenAIEmbedder(options ...OpenAIEmbedderOption) *OpenAIEmbedder {
	embedder := &OpenAIEmbedder{
		Model: "text-embedding-3-small",
	}

	for _, option := range options {
		option(embedder)
	}

	if embedder.client == nil {
		client := openai.NewClient(option.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
		embedder.client = &client
	}

	return embedder
}

func WithOpenAIEmbedderModel(model string) OpenAIEmbedderOption {
	return func(embedder *OpenAIEmbedder) {
		embedder.Model = model
	}
}

func WithOpenAIEmbedderClient(client *openai.Client) OpenAIEmbedderOption {
	return func(embedder *OpenAIEmbedder) {
		embedder.client = client
	}
}

func (embedder *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (embedder *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := embedder.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(embedder.Model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(resp.Data))
	for _, entry := range resp.Data {
		out[entry.Index] = utils.ConvertToFloat32(entry.Embedding)
	}
	return out, nil
}

var _ memory.Extractor = (*OpenAIProvider)(nil)
var _ memory.Embedder = (*OpenAIEmbedder)(nil)
