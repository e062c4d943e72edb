package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/kalambet/docmind/internal/openai"
)

// OpenAIEngine adapts an OpenAI-compatible API to the Engine interface.
type OpenAIEngine struct {
	client *openai.Client
}

// NewOpenAIEngine creates an engine for the API at baseURL.
func NewOpenAIEngine(apiKey, baseURL string) *OpenAIEngine {
	return &OpenAIEngine{client: openai.NewClient(apiKey, baseURL)}
}

func (e *OpenAIEngine) Name() string { return "openai" }

func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	req := openai.ChatRequest{Model: model, Messages: make([]openai.Message, len(messages))}
	for i, m := range messages {
		req.Messages[i] = openai.Message{Role: m.Role, Content: m.Content}
	}
	if jsonSchema != nil {
		zero := 0.0
		req.Temperature = &zero
		req.ResponseFormat = &openai.ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &openai.JSONSchema{Name: "response", Schema: jsonSchema.JSON()},
		}
	}
	return e.client.ChatCompletion(ctx, req)
}

func (e *OpenAIEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vecs, err := e.client.Embeddings(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEngine) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return e.client.Embeddings(ctx, model, texts)
}

func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.client.ListModels(ctx)
	return err == nil
}

func (e *OpenAIEngine) ListModels(ctx context.Context) ([]string, error) {
	models, err := e.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.ID
	}
	return names, nil
}

func (e *OpenAIEngine) HasModel(ctx context.Context, name string) bool {
	names, err := e.ListModels(ctx)
	if err != nil {
		return false
	}
	return slices.Contains(names, name)
}

// PullModel is a no-op check: hosted APIs cannot download models.
func (e *OpenAIEngine) PullModel(ctx context.Context, name string, _ func(PullProgress)) error {
	if e.HasModel(ctx, name) {
		return nil
	}
	return fmt.Errorf("model %s is not served by the configured API: %w", name, ErrNotSupported)
}
