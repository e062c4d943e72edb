// Package insights derives summaries, topics, entities and sentiment from
// ingested documents in the background.
package insights

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/docmind/internal/document"
	"github.com/kalambet/docmind/internal/engine"
)

const (
	defaultExtractionTimeout = 60 * time.Second
	// maxPromptChars caps how much document text is sent to the model.
	maxPromptChars = 12000
)

// Chatter is the chat half of engine.Engine.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Extractor produces insights with a chat model and falls back to local
// heuristics when no model is configured or the call fails.
type Extractor struct {
	client  Chatter
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExtractor returns an Extractor. A nil client means heuristics only.
// timeout <= 0 uses 60s.
func NewExtractor(client Chatter, model string, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = defaultExtractionTimeout
	}
	return &Extractor{
		client:  client,
		model:   model,
		timeout: timeout,
		logger:  slog.Default().With("component", "insights"),
	}
}

// Extract analyses text. Model failures are logged and answered with
// heuristics; the only error returned is ctx's own.
func (e *Extractor) Extract(ctx context.Context, text string) (document.Insights, error) {
	if err := ctx.Err(); err != nil {
		return document.Insights{}, err
	}
	local := Heuristic(text)
	if e.client == nil || strings.TrimSpace(text) == "" {
		return local, nil
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.client.Chat(cctx, e.model, buildPrompt(text), insightsSchema())
	if err != nil {
		if ctx.Err() != nil {
			return document.Insights{}, ctx.Err()
		}
		e.logger.Warn("insights chat failed, using heuristics", "error", err)
		return local, nil
	}

	var got modelInsights
	if err := json.Unmarshal([]byte(stripFences(raw)), &got); err != nil {
		e.logger.Warn("failed to unmarshal insights from model response", "error", err, "response", truncate(raw, 200))
		return local, nil
	}
	return merge(got, local), nil
}

// modelInsights is the JSON shape requested from the model.
type modelInsights struct {
	Summary     string   `json:"summary"`
	KeyTopics   []string `json:"key_topics"`
	ActionItems []string `json:"action_items"`
	Entities    struct {
		People        []string `json:"people"`
		Organizations []string `json:"organizations"`
		Dates         []string `json:"dates"`
		Locations     []string `json:"locations"`
	} `json:"entities"`
	Sentiment string `json:"sentiment"`
}

var sentiments = []string{"Positive", "Negative", "Neutral", "Mixed"}

// merge validates model output field by field, keeping heuristic values
// where the model returned nothing usable. Stats are always local.
func merge(m modelInsights, local document.Insights) document.Insights {
	out := local
	if s := strings.TrimSpace(m.Summary); s != "" {
		out.Summary = s
	}
	if topics := firstUnique(m.KeyTopics, maxTopics); len(topics) > 0 {
		out.KeyTopics = topics
	}
	items := m.ActionItems[:0:0]
	for _, it := range m.ActionItems {
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(it)), "none") {
			items = append(items, it)
		}
	}
	out.ActionItems = firstUnique(items, maxActionItems)

	out.Entities = document.Entities{
		People:        firstUnique(m.Entities.People, -1),
		Organizations: firstUnique(m.Entities.Organizations, -1),
		Dates:         firstUnique(m.Entities.Dates, -1),
		Locations:     firstUnique(m.Entities.Locations, -1),
	}
	if len(out.Entities.Organizations) == 0 {
		out.Entities.Organizations = local.Entities.Organizations
	}
	if len(out.Entities.Dates) == 0 {
		out.Entities.Dates = local.Entities.Dates
	}

	out.Sentiment = local.Sentiment
	for _, s := range sentiments {
		if strings.EqualFold(strings.TrimSpace(m.Sentiment), s) {
			out.Sentiment = s
			break
		}
	}
	return out
}

const systemPrompt = `You are a document analyst. Read the document and respond with ONLY a single JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Rules:
- summary: 2-3 sentences.
- key_topics: 3-5 main topics or themes.
- action_items: recommendations or next steps stated in the document, at most 5; empty if none.
- entities: people, organizations, dates and locations mentioned; use empty arrays when a category has none.
- sentiment: exactly one of Positive, Negative, Neutral, Mixed.`

func buildPrompt(text string) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Document:\n\n" + truncate(text, maxPromptChars)},
	}
}

func insightsSchema() *engine.Schema {
	list := func(desc string, maxItems int) *engine.Schema {
		return &engine.Schema{Type: "array", Description: desc, Items: &engine.Schema{Type: "string"}, MaxItems: maxItems}
	}
	return &engine.Schema{
		Type: "object",
		Properties: map[string]*engine.Schema{
			"summary":      {Type: "string", Description: "Concise 2-3 sentence summary"},
			"key_topics":   list("Main topics and themes", maxTopics),
			"action_items": list("Action items, recommendations or next steps", maxActionItems),
			"entities": {
				Type: "object",
				Properties: map[string]*engine.Schema{
					"people":        list("People", 0),
					"organizations": list("Organizations", 0),
					"dates":         list("Dates", 0),
					"locations":     list("Locations", 0),
				},
				Required: []string{"people", "organizations", "dates", "locations"},
			},
			"sentiment": {Type: "string", Enum: sentiments},
		},
		Required: []string{"summary", "key_topics", "action_items", "entities", "sentiment"},
	}
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
