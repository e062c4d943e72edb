package engine

import (
	"context"
	"io"
	"strings"

	"github.com/kalambet/docmind/internal/vertex"
)

// Generator is the part of vertex.Client the engine uses.
type Generator interface {
	Generate(ctx context.Context, req vertex.Request) (string, error)
}

// VertexEngine adapts Gemini on Vertex AI to the Engine interface. It
// generates text only; embeddings return ErrNotSupported.
type VertexEngine struct {
	gen Generator
}

// NewVertexEngine wraps a connected generator.
func NewVertexEngine(gen Generator) *VertexEngine {
	return &VertexEngine{gen: gen}
}

func (e *VertexEngine) Name() string { return "vertex" }

// Chat folds system messages into the system instruction and the remaining
// turns into a single prompt.
func (e *VertexEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	var system, prompt []string
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		prompt = append(prompt, m.Content)
	}
	req := vertex.Request{
		Model:  model,
		System: strings.Join(system, "\n\n"),
		Prompt: strings.Join(prompt, "\n\n"),
	}
	if jsonSchema != nil {
		req.JSON = true
		req.Prompt += "\n\nRespond with JSON matching this schema:\n" + string(jsonSchema.JSON())
	}
	return e.gen.Generate(ctx, req)
}

func (e *VertexEngine) Embed(context.Context, string, string) ([]float32, error) {
	return nil, ErrNotSupported
}

func (e *VertexEngine) EmbedBatch(context.Context, string, []string) ([][]float32, error) {
	return nil, ErrNotSupported
}

// IsRunning is true once the client is connected; Vertex has no cheap probe.
func (e *VertexEngine) IsRunning(context.Context) bool { return e.gen != nil }

func (e *VertexEngine) ListModels(context.Context) ([]string, error) {
	return nil, ErrNotSupported
}

// HasModel assumes hosted models exist; a wrong name fails on first use.
func (e *VertexEngine) HasModel(context.Context, string) bool { return true }

func (e *VertexEngine) PullModel(context.Context, string, func(PullProgress)) error {
	return nil
}

// Close closes the underlying client when it holds resources.
func (e *VertexEngine) Close() error {
	if c, ok := e.gen.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
