package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/kalambet/docmind/internal/document"
	"github.com/kalambet/docmind/internal/textutil"
)

// DefaultHashDimension is the vector size of the local hashing embedder.
const DefaultHashDimension = 384

const bigramWeight = 0.5

// Hash is a deterministic, offline embedder. Each unigram and bigram of
// content tokens is hashed into one of D signed buckets and the result is
// L2 normalised, so texts sharing vocabulary have high cosine similarity.
type Hash struct {
	dim int
}

// NewHash returns a hashing embedder of dimension dim
// (DefaultHashDimension when dim <= 0).
func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &Hash{dim: dim}
}

func (h *Hash) Dimension() int { return h.dim }

func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, document.ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, h.dim)
	toks := textutil.ContentTokens(text)
	if len(toks) == 0 {
		// Stopword-only or punctuation-only text still gets a stable vector.
		toks = []string{strings.TrimSpace(text)}
	}
	for i, tok := range toks {
		h.add(vec, tok, 1)
		if i > 0 {
			h.add(vec, toks[i-1]+" "+tok, bigramWeight)
		}
	}

	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	out := make([]float32, h.dim)
	if sum == 0 {
		return out, nil
	}
	n := math.Sqrt(sum)
	for i, v := range vec {
		out[i] = float32(v / n)
	}
	return out, nil
}

func (h *Hash) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *Hash) add(vec []float64, feature string, weight float64) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	idx := sum % uint64(h.dim)
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
