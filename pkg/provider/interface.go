/*
Package provider holds the language-capability and embedding adapters the
memory engine plugs in: OpenAI and Anthropic for extraction and decisions,
OpenAI, Cohere and Ollama for embeddings, Cohere for reranking. Adapters are
interchangeable behind the interfaces in pkg/memory; the engine validates
everything they return and trusts nothing.
*/
package provider

import "errors"

var errEmptyCompletion = errors.New("provider returned no completion choices")
