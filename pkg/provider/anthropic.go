package provider

import (
	"context"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/theapemachine/mem-go/pkg/memory"
)

/*
AnthropicProvider implements the extraction and decision capabilities on the
Anthropic messages API, as a drop-in alternative to the OpenAI provider.
*/
type AnthropicProvider struct {
	client    *anthropic.Client
	Model     string
	MaxTokens int64
}

type AnthropicProviderOption func(*AnthropicProvider)

func NewAnthropicProvider(options ...AnthropicProviderOption) *AnthropicProvider {
	prvdr := &AnthropicProvider{
		Model:     string(anthropic.ModelClaude3_5HaikuLatest),
		MaxTokens: 2048,
	}

	for _, option := range options {
		option(prvdr)
	}

	if prvdr.client == nil {
		client := anthropic.NewClient(option.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")))
		prvdr.client = &client
	}

	return prvdr
}

func WithAnthropicModel(model string) AnthropicProviderOption {
	return func(prvdr *AnthropicProvider) {
		prvdr.Model = model
	}
}

func WithAnthropicClient(client *anthropic.Client) AnthropicProviderOption {
	return func(prvdr *AnthropicProvider) {
		prvdr.client = client
	}
}

func (prvdr *AnthropicProvider) complete(ctx context.Context, system, user string) (string, error) {
	message, err := prvdr.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(prvdr.Model),
		MaxTokens: prvdr.MaxTokens,
		System: []anthropic.TextBlockParam{{
			Text: system,
		}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for _, block := range message.Content {
		builder.WriteString(block.Text)
	}

	if builder.Len() == 0 {
		return "", errEmptyCompletion
	}

	return builder.String(), nil
}

func (prvdr *AnthropicProvider) ExtractFacts(ctx context.Context, text string) ([]memory.Fact, error) {
	response, err := prvdr.complete(ctx, factExtractionPrompt, text)
	if err != nil {
		return nil, err
	}
	return parseFacts(response)
}

func (prvdr *AnthropicProvider) DecideActions(ctx context.Context, batch []memory.FactCandidates) ([]memory.Action, error) {
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

func (prvdr *AnthropicProvider) ExtractEntities(ctx context.Context, text string) ([]memory.RelationTriple, error) {
	response, err := prvdr.complete(ctx, entityExtractionPrompt, text)
	if err != nil {
		return nil, err
	}
	return parseTriples(response)
}

var _ memory.Extractor = (*AnthropicProvider)(nil)
