package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/theapemachine/mem-go/pkg/memory"
)

/*
The extraction and decision prompts are deliberately rigid: the model is asked
for strict JSON and nothing else, and every response is parsed leniently and
validated by the caller. The prompts are the only place conversation text
enters the pipeline.
*/

const factExtractionPrompt = `You are a fact extraction system. Extract discrete, self-contained factual statements from the input text. Rules:
- Each fact is one short declarative sentence about the user or subject.
- Skip greetings, questions, and filler.
- Return strict JSON, nothing else: {"facts": ["...", "..."]}
- Return {"facts": []} when the text contains no facts.`

const actionDecisionPrompt = `You are a memory reconciliation system. For each fact you receive a list of candidate memories that already exist. Decide for every fact exactly one action:
- ADD: the fact is new information, no candidate covers it.
- UPDATE: the fact supersedes or refines one candidate; set "id" to that candidate's id and "text" to the updated memory text.
- DELETE: the fact contradicts one candidate such that it must be removed; set "id" to that candidate's id.
- NONE: the fact is already covered or irrelevant.
Only reference candidate ids that were given for that same fact. Return strict JSON, nothing else:
{"actions": [{"event": "ADD|UPDATE|DELETE|NONE", "text": "...", "id": "..."}]}
Return exactly one action per fact, in the same order as the facts.`

const entityExtractionPrompt = `You are an entity and relation extraction system. Extract (source, relationship, target) triples from the input text. Rules:
- source and target are short entity names, relationship is a short verb phrase in snake_case.
- Only extract relations the text states directly.
- Return strict JSON, nothing else: {"relations": [{"source": "...", "relationship": "...", "target": "..."}]}
- Return {"relations": []} when the text contains none.`

// buildDecisionInput renders the (fact, candidates) batch as the JSON the
// decision prompt expects.
func buildDecisionInput(batch []memory.FactCandidates) (string, error) {
	type candidate struct {
		ID     string `json:"id"`
		Memory string `json:"memory"`
	}
	type entry struct {
		Fact       string      `json:"fact"`
		Candidates []candidate `json:"candidates"`
	}

	entries := make([]entry, len(batch))
	for i, pair := range batch {
		entries[i].Fact = pair.Fact.Text
		entries[i].Candidates = make([]candidate, len(pair.Candidates))
		for j, item := range pair.Candidates {
			entries[i].Candidates[j] = candidate{ID: item.ID, Memory: item.Memory}
		}
	}

	data, err := json.Marshal(map[string]any{"input": entries})
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// extractJSON trims whatever prose or fencing surrounds the first JSON object
// in a model response.
func extractJSON(response string) (string, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in response")
	}
	return response[start : end+1], nil
}

func parseFacts(response string) ([]memory.Fact, error) {
	raw, err := extractJSON(response)
	if err != nil {
		return nil, err
	}

	var out struct {
		Facts []string `json:"facts"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("malformed facts response: %w", err)
	}

	facts := make([]memory.Fact, 0, len(out.Facts))
	for _, text := range out.Facts {
		text = strings.TrimSpace(text)
		if text != "" {
			facts = append(facts, memory.Fact{Text: text})
		}
	}
	return facts, nil
}

func parseActions(response string) ([]memory.Action, error) {
	raw, err := extractJSON(response)
	if err != nil {
		return nil, err
	}

	var out struct {
		Actions []memory.Action `json:"actions"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("malformed actions response: %w", err)
	}

	return out.Actions, nil
}

func parseTriples(response string) ([]memory.RelationTriple, error) {
	raw, err := extractJSON(response)
	if err != nil {
		return nil, err
	}

	var out struct {
		Relations []memory.RelationTriple `json:"relations"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("malformed relations response: %w", err)
	}

	return out.Relations, nil
}
