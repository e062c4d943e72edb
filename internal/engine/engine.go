// Package engine abstracts the inference backends docmind talks to.
package engine

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by backends that lack an operation, such as
// embeddings on Vertex AI Gemini models.
var ErrNotSupported = errors.New("operation not supported by backend")

// Engine abstracts an inference backend (Ollama, an OpenAI-compatible API or
// Vertex AI). Embedding, answer generation and insights extraction use this
// interface instead of depending on a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// EmbedBatch embeds texts in as few calls as the backend allows, one
	// vector per input in input order.
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error

	// Name identifies the backend in logs and status output.
	Name() string
}
