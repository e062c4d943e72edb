// Package vertex generates text with Gemini models on Vertex AI.
package vertex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// DefaultLocation is used when no region is configured.
const DefaultLocation = "us-central1"

// Client wraps a genai client. Credentials come from Application Default
// Credentials.
type Client struct {
	base *genai.Client
}

// New connects to Vertex AI in project/location.
func New(ctx context.Context, project, location string) (*Client, error) {
	if project == "" {
		return nil, errors.New("vertex: project cannot be empty")
	}
	if location == "" {
		location = DefaultLocation
	}
	base, err := genai.NewClient(ctx, project, location)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &Client{base: base}, nil
}

// Request is a single-turn generation.
type Request struct {
	Model  string
	System string
	Prompt string
	// JSON forces an application/json response at temperature 0.
	JSON bool
}

// Generate runs req and returns the concatenated text parts of the first
// candidate.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	model := c.base.GenerativeModel(req.Model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	if req.JSON {
		model.GenerationConfig = genai.GenerationConfig{
			ResponseMIMEType: "application/json",
			Temperature:      genai.Ptr[float32](0),
		}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", fmt.Errorf("generating content with %s: %w", req.Model, err)
	}
	text := ResponseText(resp)
	if text == "" {
		return "", errors.New("vertex: response has no text")
	}
	return text, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c.base != nil {
		return c.base.Close()
	}
	return nil
}

// ResponseText extracts the text of the first candidate, stripping a
// surrounding markdown code fence if the model added one.
func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}

	s := strings.TrimSpace(b.String())
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
