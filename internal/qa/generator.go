package qa

import (
	"context"

	"github.com/kalambet/docmind/internal/engine"
)

// SystemPrompt constrains the model to the retrieved context.
const SystemPrompt = "You answer questions about a document. Use only the provided context. " +
	"If the context does not contain the answer, say that the document does not cover it."

// UserPrompt renders the question together with its context.
func UserPrompt(question, contextText string) string {
	return "Answer from context:\n" + contextText + "\n\nQuestion: " + question
}

// Generator produces an answer from a system and user prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// EngineGenerator generates answers with a chat model on an engine.
type EngineGenerator struct {
	engine engine.Engine
	model  string
}

func NewEngineGenerator(e engine.Engine, model string) *EngineGenerator {
	return &EngineGenerator{engine: e, model: model}
}

func (g *EngineGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	return g.engine.Chat(ctx, g.model, []engine.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}, nil)
}
