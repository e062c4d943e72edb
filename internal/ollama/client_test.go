package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// tagsJSON builds a /api/tags response with the given model names.
func tagsJSON(names ...string) []byte {
	type entry struct {
		Name string `json:"name"`
	}
	r := struct {
		Models []entry `json:"models"`
	}{}
	for _, n := range names {
		r.Models = append(r.Models, entry{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestNew_DefaultBaseURL(t *testing.T) {
	if got := New("").BaseURL(); got != DefaultBaseURL {
		t.Errorf("BaseURL() = %q, want %q", got, DefaultBaseURL)
	}
	if got := New("http://gpu-box:11434/").BaseURL(); got != "http://gpu-box:11434" {
		t.Errorf("BaseURL() = %q, want trailing slash trimmed", got)
	}
}

func TestIsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.2:latest"))
	}))
	if !New(srv.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
	srv.Close()

	if New(srv.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() on closed server = true, want false")
	}
}

func TestListModelsAndHasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.2:latest", "nomic-embed-text:latest"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[1] != "nomic-embed-text:latest" {
		t.Errorf("models = %v", models)
	}
	if !c.HasModel(context.Background(), "nomic-embed-text") {
		t.Error("HasModel(nomic-embed-text) = false, want true")
	}
	if c.HasModel(context.Background(), "mistral") {
		t.Error("HasModel(mistral) = true, want false")
	}
}

func TestChat_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("stream = true, want false")
		}
		if req.Format != nil {
			t.Errorf("format = %s, want omitted", req.Format)
		}
		json.NewEncoder(w).Encode(chatResponse{Message: Message{Role: "assistant", Content: "Revenue grew 12%."}})
	}))
	defer srv.Close()

	got, err := New(srv.URL).Chat(context.Background(), "llama3.2", []Message{{Role: "user", Content: "q"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "Revenue grew 12%." {
		t.Errorf("Chat() = %q", got)
	}
}

func TestChat_JSONFormat(t *testing.T) {
	var format map[string]any
	var options map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Format  map[string]any `json:"format"`
			Options map[string]any `json:"options"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		format, options = req.Format, req.Options
		json.NewEncoder(w).Encode(chatResponse{Message: Message{Content: `{"summary":"s"}`}})
	}))
	defer srv.Close()

	schema := json.RawMessage(`{"type":"object","properties":{"summary":{"type":"string"}}}`)
	got, err := New(srv.URL).Chat(context.Background(), "llama3.2", []Message{{Role: "user", Content: "q"}}, schema)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if format["type"] != "object" {
		t.Errorf("format.type = %v, want object", format["type"])
	}
	if options["temperature"] != float64(0) {
		t.Errorf("options.temperature = %v, want 0", options["temperature"])
	}
	if got != `{"summary":"s"}` {
		t.Errorf("Chat() = %q", got)
	}
}

func TestChat_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model \"llama9\" not found, try pulling it first"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Chat(context.Background(), "llama9", nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "not found, try pulling it first") {
		t.Errorf("error = %q, want server message", err)
	}
}

func TestEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" {
			t.Errorf("model = %q", req.Model)
		}
		out := embedResponse{}
		for i := range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1})
		}
		json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	c := New(srv.URL)
	vecs, err := c.EmbedBatch(context.Background(), "nomic-embed-text", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 || vecs[2][0] != 2 {
		t.Errorf("vecs = %v", vecs)
	}

	vec, err := c.Embed(context.Background(), "nomic-embed-text", "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 {
		t.Errorf("got %d floats, want 2", len(vec))
	}
}

func TestEmbed_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{})
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Embed(context.Background(), "m", "hello"); err == nil {
		t.Fatal("expected error for empty embeddings array")
	}
}

func TestPullModel_Progress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["name"] != "nomic-embed-text" {
			t.Errorf("pull name = %v", req["name"])
		}
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 500})
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 1000})
		enc.Encode(PullProgress{Status: "success"})
	}))
	defer srv.Close()

	var n int
	err := New(srv.URL).PullModel(context.Background(), "nomic-embed-text", func(PullProgress) { n++ })
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if n != 3 {
		t.Errorf("received %d progress updates, want 3", n)
	}
}

func TestPullModel_StreamedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PullProgress{Error: "pull model manifest: file does not exist"})
	}))
	defer srv.Close()

	err := New(srv.URL).PullModel(context.Background(), "nope", nil)
	if err == nil || !strings.Contains(err.Error(), "manifest") {
		t.Errorf("PullModel() error = %v, want manifest error", err)
	}
}
