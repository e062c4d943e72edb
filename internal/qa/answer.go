package qa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/docmind/internal/document"
	"github.com/kalambet/docmind/internal/vectorindex"
)

// NoRelevantContent is the answer when retrieval returns nothing.
const NoRelevantContent = "No relevant content found in the document."

const contextSeparator = "\n\n"

// Answer retrieves the top k chunks of docID for question and generates an
// answer grounded on them. When generation fails or times out the combined
// context itself is returned with Degraded set.
func (s *Service) Answer(ctx context.Context, docID, question string, k int) (document.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return document.Answer{}, fmt.Errorf("%w: question is empty", document.ErrEmptyInput)
	}
	doc, err := s.Status(docID)
	if err != nil {
		return document.Answer{}, err
	}
	if doc.State != document.StateReady {
		return document.Answer{}, fmt.Errorf("%w: %s is %s", document.ErrDocumentNotReady, docID, doc.State)
	}

	qvec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return document.Answer{}, fmt.Errorf("embedding question: %w", err)
	}
	hits, err := s.index.SearchDocument(docID, qvec, s.topK(k))
	if err != nil {
		return document.Answer{}, fmt.Errorf("searching %s: %w", docID, err)
	}
	if len(hits) == 0 {
		return document.Answer{Answer: NoRelevantContent, Sources: []document.Source{}}, nil
	}

	combined, used := buildContext(hits, s.cfg.MaxContextChars)
	sources := make([]document.Source, len(used))
	for i, h := range used {
		sources[i] = document.Source{
			Title:      doc.Filename,
			PageLabel:  h.Chunk.PageLabel,
			TotalPages: doc.PageCount,
			Source:     h.Chunk.Source,
		}
	}

	start := time.Now()
	text, err := s.generate(ctx, question, combined)
	if err != nil {
		s.logger.Warn("answering from raw context",
			"doc_id", docID, "error", fmt.Errorf("%w: %w", document.ErrGenerationUnavailable, err))
		return document.Answer{Answer: combined, Sources: sources, Degraded: true}, nil
	}

	s.logger.Debug("answer generated", "doc_id", docID, "chunks", len(used),
		"context_chars", len(combined), "duration", time.Since(start).Round(time.Millisecond))
	return document.Answer{Answer: text, Sources: sources}, nil
}

func (s *Service) topK(k int) int {
	if k <= 0 {
		return s.cfg.DefaultTopK
	}
	return min(k, s.cfg.MaxTopK)
}

func (s *Service) generate(ctx context.Context, question, combined string) (string, error) {
	if s.generator == nil {
		return "", errors.New("no generator configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	text, err := s.generator.Generate(ctx, SystemPrompt, UserPrompt(question, combined))
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty completion")
	}
	return text, nil
}

// buildContext joins hit texts in rank order within budget runes. Lower
// ranked hits are dropped first once the budget is reached; the top hit is
// truncated if it alone exceeds the budget. used holds the hits that made
// it into the context.
func buildContext(hits []vectorindex.Result, budget int) (combined string, used []vectorindex.Result) {
	var sb strings.Builder
	remaining := budget
	sepLen := len([]rune(contextSeparator))

	for i, h := range hits {
		text := strings.TrimSpace(h.Chunk.Text)
		n := len([]rune(text))
		if i == 0 {
			if n > remaining {
				text = string([]rune(text)[:remaining])
				n = remaining
			}
			sb.WriteString(text)
			remaining -= n
			used = append(used, h)
			continue
		}
		if n+sepLen > remaining {
			break
		}
		sb.WriteString(contextSeparator)
		sb.WriteString(text)
		remaining -= n + sepLen
		used = append(used, h)
	}
	return sb.String(), used
}
