package insights

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/docmind/internal/engine"
)

// mockChatter implements Chatter for testing.
type mockChatter struct {
	response string
	err      error
	delay    time.Duration
	schema   *engine.Schema
	messages []engine.Message
}

func (m *mockChatter) Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error) {
	m.schema = jsonSchema
	m.messages = messages
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.response, m.err
}

func TestExtract_Model(t *testing.T) {
	mock := &mockChatter{response: `{
		"summary": "Acme grew revenue.",
		"key_topics": ["cloud", "growth", "cloud", "revenue", "roadmap", "platform", "costs"],
		"action_items": ["Finalize the migration plan", "None found"],
		"entities": {"people": ["Jane Doe"], "organizations": [], "dates": ["March 3, 2024"], "locations": ["Berlin"]},
		"sentiment": "positive"
	}`}
	e := NewExtractor(mock, "llama3.2", time.Second)

	got, err := e.Extract(context.Background(), sampleText)
	require.NoError(t, err)

	assert.Equal(t, "Acme grew revenue.", got.Summary)
	assert.Equal(t, []string{"cloud", "growth", "revenue", "roadmap", "platform"}, got.KeyTopics)
	assert.Equal(t, []string{"Finalize the migration plan"}, got.ActionItems)
	assert.Equal(t, []string{"Jane Doe"}, got.Entities.People)
	assert.Equal(t, []string{"Berlin"}, got.Entities.Locations)
	// Empty model categories fall back to the local extraction.
	assert.Contains(t, got.Entities.Organizations, "Acme Corp")
	assert.Equal(t, "Positive", got.Sentiment)
	assert.Equal(t, Stats(sampleText), got.DocumentStats)

	require.NotNil(t, mock.schema)
	assert.Equal(t, "object", mock.schema.Type)
	assert.Contains(t, mock.schema.Required, "sentiment")
	require.Len(t, mock.messages, 2)
	assert.Equal(t, "system", mock.messages[0].Role)
}

func TestExtract_FencedJSON(t *testing.T) {
	mock := &mockChatter{response: "```json\n{\"summary\":\"Short.\",\"sentiment\":\"Unsure\"}\n```"}
	got, err := NewExtractor(mock, "m", time.Second).Extract(context.Background(), sampleText)
	require.NoError(t, err)
	assert.Equal(t, "Short.", got.Summary)
	assert.Equal(t, Sentiment(sampleText), got.Sentiment)
	assert.Equal(t, KeyTopics(sampleText, maxTopics), got.KeyTopics)
}

func TestExtract_FallbackToHeuristics(t *testing.T) {
	tests := map[string]*mockChatter{
		"chat error":     {err: errors.New("connection refused")},
		"malformed json": {response: "not json at all"},
		"timeout":        {response: `{"summary":"late"}`, delay: time.Second},
	}
	for name, mock := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := NewExtractor(mock, "m", 20*time.Millisecond).Extract(context.Background(), sampleText)
			require.NoError(t, err)
			assert.Equal(t, Heuristic(sampleText), got)
		})
	}
}

func TestExtract_NoClient(t *testing.T) {
	got, err := NewExtractor(nil, "", 0).Extract(context.Background(), sampleText)
	require.NoError(t, err)
	assert.Equal(t, Heuristic(sampleText), got)
}

func TestExtract_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExtractor(&mockChatter{}, "m", time.Second).Extract(ctx, sampleText)
	assert.ErrorIs(t, err, context.Canceled)
}
