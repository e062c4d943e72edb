package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/kalambet/docmind/internal/vertex"
)

// Backend names accepted by New.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
	BackendVertex = "vertex"
)

// Options selects and configures a backend.
type Options struct {
	Backend string

	OllamaBaseURL string

	OpenAIAPIKey  string
	OpenAIBaseURL string

	VertexProject  string
	VertexLocation string
}

// New returns the engine named by opts.Backend. Vertex connects eagerly and
// must be released with Close.
func New(ctx context.Context, opts Options) (Engine, error) {
	switch opts.Backend {
	case BackendOllama:
		return NewOllamaEngine(opts.OllamaBaseURL), nil
	case BackendOpenAI:
		return NewOpenAIEngine(opts.OpenAIAPIKey, opts.OpenAIBaseURL), nil
	case BackendVertex:
		c, err := vertex.New(ctx, opts.VertexProject, opts.VertexLocation)
		if err != nil {
			return nil, err
		}
		return NewVertexEngine(c), nil
	default:
		return nil, fmt.Errorf("unknown engine backend %q", opts.Backend)
	}
}

// Close releases e if it holds resources.
func Close(e Engine) error {
	if c, ok := e.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
