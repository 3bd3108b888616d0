package provider

import (
	"context"
	"strings"

	"github.com/theapemachine/mem-go/pkg/memory"
)

/*
MockExtractor is a scripted extraction capability for tests and offline dev
mode. Facts are the non-empty sentences of the input, every decision is ADD,
and entities come from a fixed "A relation B" pattern. Scripts can override
each step.
*/
type MockExtractor struct {
	FactsFn    func(text string) []memory.Fact
	ActionsFn  func(batch []memory.FactCandidates) []memory.Action
	EntitiesFn func(text string) []memory.RelationTriple
	Err        error
}

func NewMockExtractor() *MockExtractor {
	return &MockExtractor{}
}

func (mock *MockExtractor) ExtractFacts(ctx context.Context, text string) ([]memory.Fact, error) {
	if mock.Err != nil {
		return nil, mock.Err
	}
	if mock.FactsFn != nil {
		return mock.FactsFn(text), nil
	}

	var facts []memory.Fact
	for _, sentence := range strings.Split(text, ".") {
		sentence = strings.TrimSpace(sentence)
		if sentence != "" {
			facts = append(facts, memory.Fact{Text: sentence})
		}
	}
	return facts, nil
}

func (mock *MockExtractor) DecideActions(ctx context.Context, batch []memory.FactCandidates) ([]memory.Action, error) {
	if mock.Err != nil {
		return nil, mock.Err
	}
	if mock.ActionsFn != nil {
		return mock.ActionsFn(batch), nil
	}

	actions := make([]memory.Action, len(batch))
	for i, pair := range batch {
		actions[i] = memory.Action{Kind: memory.ActionAdd, Text: pair.Fact.Text}
	}
	return actions, nil
}

func (mock *MockExtractor) ExtractEntities(ctx context.Context, text string) ([]memory.RelationTriple, error) {
	if mock.Err != nil {
		return nil, mock.Err
	}
	if mock.EntitiesFn != nil {
		return mock.EntitiesFn(text), nil
	}
	return nil, nil
}

var _ memory.Extractor = (*MockExtractor)(nil)
