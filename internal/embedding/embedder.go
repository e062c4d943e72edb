// Package embedding maps chunk and query text to dense vectors.
package embedding

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kalambet/docmind/internal/document"
)

// Embedder produces fixed-dimension vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is the vector size D, or 0 while it is not yet known.
	Dimension() int
}

// EmbedEngine is the inference backend used by Service.
type EmbedEngine interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// BatchEmbedEngine is implemented by backends that embed many texts per call.
type BatchEmbedEngine interface {
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
}

const (
	defaultConcurrency = 4
	defaultBatchSize   = 32
)

// Service embeds text through a remote engine (Ollama or an
// OpenAI-compatible API).
type Service struct {
	engine      EmbedEngine
	model       string
	dim         atomic.Int64
	limiter     *rate.Limiter
	concurrency int
	batchSize   int
}

// Option configures a Service.
type Option func(*Service)

// WithDimension fixes D. Responses of any other size fail with
// ErrDimensionMismatch. Without it D is learned from the first response.
func WithDimension(dim int) Option {
	return func(s *Service) { s.dim.Store(int64(dim)) }
}

// WithRateLimit throttles engine calls to rps requests per second.
// Zero or negative rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Service) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithConcurrency bounds the number of in-flight calls in EmbedBatch.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithBatchSize sets how many texts go into one backend call when the
// engine supports batching. 1 disables batching.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewService creates a Service that embeds with model on e.
func NewService(e EmbedEngine, model string, opts ...Option) *Service {
	s := &Service{engine: e, model: model, concurrency: defaultConcurrency, batchSize: defaultBatchSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dimension returns D, or 0 before the first response when D was not fixed.
func (s *Service) Dimension() int {
	return int(s.dim.Load())
}

// Embed returns the embedding vector for a single text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, document.ErrEmptyInput
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	vec, err := s.engine.Embed(ctx, s.model, text)
	if err != nil {
		return nil, unavailable(ctx, err)
	}
	if err := s.check(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func unavailable(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %w", document.ErrEmbeddingUnavailable, err)
}

// check validates a response vector. The first response fixes D when it was
// not configured.
func (s *Service) check(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: engine returned an empty vector", document.ErrEmbeddingUnavailable)
	}
	s.dim.CompareAndSwap(0, int64(len(vec)))
	if want := s.Dimension(); len(vec) != want {
		return fmt.Errorf("%w: got %d, want %d", document.ErrDimensionMismatch, len(vec), want)
	}
	return nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("text %d: %w", i, document.ErrEmptyInput)
		}
	}

	if be, ok := s.engine.(BatchEmbedEngine); ok && s.batchSize > 1 {
		return s.embedBatches(ctx, be, texts)
	}

	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := s.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// embedBatches sends texts in slices of batchSize, up to concurrency slices
// in flight.
func (s *Service) embedBatches(ctx context.Context, be BatchEmbedEngine, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for start := 0; start < len(texts); start += s.batchSize {
		end := min(start+s.batchSize, len(texts))
		g.Go(func() error {
			if s.limiter != nil {
				if err := s.limiter.Wait(gCtx); err != nil {
					return fmt.Errorf("waiting for rate limiter: %w", err)
				}
			}
			vecs, err := be.EmbedBatch(gCtx, s.model, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, unavailable(gCtx, err))
			}
			if len(vecs) != end-start {
				return fmt.Errorf("%w: got %d vectors for %d texts", document.ErrEmbeddingUnavailable, len(vecs), end-start)
			}
			for i, vec := range vecs {
				if err := s.check(vec); err != nil {
					return fmt.Errorf("embedding text %d: %w", start+i, err)
				}
				results[start+i] = vec
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
