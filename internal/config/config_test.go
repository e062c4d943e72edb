package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/docmind/internal/document"
)

// mockSecrets is a test double for the secret store.
type mockSecrets map[string]string

func (m mockSecrets) Get(account string) (string, error) {
	v, ok := m[account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
		if s.fallback != "" {
			t.Setenv(s.fallback, "")
		}
	}
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `# empty config`)

	cfg, err := loadFromPath(path, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr() != "127.0.0.1:8000" {
		t.Errorf("Server.Addr() = %q, want 127.0.0.1:8000", cfg.Server.Addr())
	}
	if cfg.Server.MaxUploadMB != 32 {
		t.Errorf("Server.MaxUploadMB = %d, want 32", cfg.Server.MaxUploadMB)
	}
	if !cfg.Ingest.Async {
		t.Error("Ingest.Async = false, want true")
	}
	if cfg.Ingest.MaxChunkChars != 1000 || cfg.Ingest.OverlapChars != 200 {
		t.Errorf("chunking = %d/%d, want 1000/200", cfg.Ingest.MaxChunkChars, cfg.Ingest.OverlapChars)
	}
	if cfg.Query.DefaultK != 4 || cfg.Query.MaxK != 20 {
		t.Errorf("k = %d/%d, want 4/20", cfg.Query.DefaultK, cfg.Query.MaxK)
	}
	if cfg.Query.MaxContextChars != 6000 {
		t.Errorf("Query.MaxContextChars = %d, want 6000", cfg.Query.MaxContextChars)
	}
	if cfg.Query.GenerationTimeout != 30*time.Second {
		t.Errorf("Query.GenerationTimeout = %v, want 30s", cfg.Query.GenerationTimeout)
	}
	if cfg.Embedding.Backend != "hash" || cfg.Embedding.Dimension != 384 {
		t.Errorf("embedding = %s/%d, want hash/384", cfg.Embedding.Backend, cfg.Embedding.Dimension)
	}
	if cfg.Insights.PollInterval != 500*time.Millisecond || cfg.Insights.MaxAttempts != 3 {
		t.Errorf("insights = %v/%d, want 500ms/3", cfg.Insights.PollInterval, cfg.Insights.MaxAttempts)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Server.APIKey != "" {
		t.Errorf("Server.APIKey = %q, want empty", cfg.Server.APIKey)
	}
}

// TestTOMLParsing verifies that fields are correctly read from a TOML file.
func TestTOMLParsing(t *testing.T) {
	clearEnv(t)
	content := `
[server]
host = "0.0.0.0"
port = 9000
cors_origins = "http://a.test, http://b.test"

[ingest]
async = false
max_chunk_chars = 500
overlap_chars = 50
timeout = "2m"

[query]
default_k = 6
generation_timeout = "5s"

[embedding]
backend = "engine"
model = "custom-embed"
rate_limit = 2.5

[storage]
data_dir = "/tmp/docmind-test"

[log]
level = "debug"
format = "json"
`
	path := writeTempConfig(t, content)

	cfg, err := loadFromPath(path, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9000 {
		t.Errorf("Server = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if got := cfg.Server.Origins(); len(got) != 2 || got[1] != "http://b.test" {
		t.Errorf("Server.Origins() = %v", got)
	}
	if cfg.Ingest.Async {
		t.Error("Ingest.Async = true, want false")
	}
	if cfg.Ingest.MaxChunkChars != 500 || cfg.Ingest.OverlapChars != 50 {
		t.Errorf("chunking = %d/%d", cfg.Ingest.MaxChunkChars, cfg.Ingest.OverlapChars)
	}
	if cfg.Ingest.Timeout != 2*time.Minute {
		t.Errorf("Ingest.Timeout = %v", cfg.Ingest.Timeout)
	}
	if cfg.Query.DefaultK != 6 || cfg.Query.GenerationTimeout != 5*time.Second {
		t.Errorf("Query = %+v", cfg.Query)
	}
	if cfg.Embedding.Backend != "engine" || cfg.Embedding.Model != "custom-embed" || cfg.Embedding.RateLimit != 2.5 {
		t.Errorf("Embedding = %+v", cfg.Embedding)
	}
	if cfg.Storage.DataDir != "/tmp/docmind-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `[server]
port = 9000
`)
	t.Setenv("DOCMIND_SERVER_PORT", "9100")
	t.Setenv("DOCMIND_INGEST_ASYNC", "false")

	cfg, err := loadFromPath(path, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Ingest.Async {
		t.Error("Ingest.Async = true, want false")
	}
}

// TestEnvOverride_BadValueKeepsDefault verifies unparsable env values are ignored.
func TestEnvOverride_BadValueKeepsDefault(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, ``)
	t.Setenv("DOCMIND_QUERY_MAX_K", "lots")

	cfg, err := loadFromPath(path, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Query.MaxK != 20 {
		t.Errorf("Query.MaxK = %d, want 20", cfg.Query.MaxK)
	}
}

// TestDotEnvLayer verifies .env values sit between the file and the process environment.
func TestDotEnvLayer(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	os.WriteFile(envPath, []byte("DOCMIND_SERVER_PORT=9200\nDOCMIND_LOG_LEVEL=warn\n"), 0o644)

	dotenv, err := readDotEnv(envPath)
	if err != nil {
		t.Fatalf("reading .env: %v", err)
	}
	t.Setenv("DOCMIND_LOG_LEVEL", "error")

	path := writeTempConfig(t, `[server]
port = 9000
`)
	cfg, err := loadWith(newFileBackend(path), mockSecrets{}, dotenv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("Server.Port = %d, want 9200 from .env", cfg.Server.Port)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want error from the environment", cfg.Log.Level)
	}
}

func TestReadDotEnv_Missing(t *testing.T) {
	vars, err := readDotEnv(filepath.Join(t.TempDir(), ".env"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vars != nil {
		t.Fatalf("expected nil map, got %v", vars)
	}
}

// TestOpenAIFallbacks verifies the conventional OPENAI_* variables are honoured.
func TestOpenAIFallbacks(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `[engine]
backend = "openai"
`)
	t.Setenv("OPENAI_API_KEY", "sk-fallback")
	t.Setenv("OPENAI_BASE_URL", "http://llm.local/v1")

	cfg, err := loadFromPath(path, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-fallback" || cfg.OpenAI.BaseURL != "http://llm.local/v1" {
		t.Errorf("OpenAI = %+v", cfg.OpenAI)
	}

	t.Setenv("DOCMIND_OPENAI_API_KEY", "sk-primary")
	cfg, _ = loadFromPath(path, mockSecrets{})
	if cfg.OpenAI.APIKey != "sk-primary" {
		t.Errorf("OpenAI.APIKey = %q, want the DOCMIND_ value", cfg.OpenAI.APIKey)
	}
}

// TestSecretStoreFallback verifies secrets are read from the store when no env var is set.
func TestSecretStoreFallback(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `# no secrets in file`)

	cfg, err := loadFromPath(path, mockSecrets{"server.api_key": "stored-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.APIKey != "stored-secret" {
		t.Errorf("Server.APIKey = %q, want %q", cfg.Server.APIKey, "stored-secret")
	}

	t.Setenv("DOCMIND_SERVER_API_KEY", "env-secret")
	cfg, _ = loadFromPath(path, mockSecrets{"server.api_key": "stored-secret"})
	if cfg.Server.APIKey != "env-secret" {
		t.Errorf("Server.APIKey = %q, want env value", cfg.Server.APIKey)
	}
}

// TestSecretsIgnoredInFile verifies secrets are never read from the TOML file.
func TestSecretsIgnoredInFile(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `[server]
api_key = "in-file"
`)
	cfg, err := loadFromPath(path, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.APIKey != "" {
		t.Errorf("Server.APIKey = %q, want empty", cfg.Server.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"overlap equals size", func(c *Config) { c.Ingest.OverlapChars = c.Ingest.MaxChunkChars }, "ingest.max_chunk_chars"},
		{"negative overlap", func(c *Config) { c.Ingest.OverlapChars = -1 }, "ingest.max_chunk_chars"},
		{"default k above max", func(c *Config) { c.Query.DefaultK = 30 }, "query.default_k"},
		{"zero budget", func(c *Config) { c.Query.MaxContextChars = 0 }, "query.max_context_chars"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"unknown engine", func(c *Config) { c.Engine.Backend = "llamafile" }, "engine.backend"},
		{"unknown embedding", func(c *Config) { c.Embedding.Backend = "bert" }, "embedding.backend"},
		{"openai without key", func(c *Config) { c.Engine.Backend = "openai" }, "API key"},
		{"vertex without project", func(c *Config) { c.Engine.Backend = "vertex" }, "vertex.project"},
		{"vertex embeddings", func(c *Config) {
			c.Engine.Backend = "vertex"
			c.Vertex.Project = "p"
			c.Embedding.Backend = "engine"
		}, "embedding model"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"zero attempts", func(c *Config) { c.Insights.MaxAttempts = 0 }, "insights.max_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, document.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.want)
			}
		})
	}

	if err := defaults().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

// TestSetKey verifies values written by SetKey round-trip through the TOML file.
func TestSetKey(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "docmind", "config.toml")
	secrets := fileSecrets{path: filepath.Join(dir, "secrets.json")}

	for key, value := range map[string]string{
		"server.port":              "8123",
		"ingest.async":             "false",
		"embedding.rate_limit":     "1.5",
		"query.generation_timeout": "12s",
		"log.level":                "debug",
		"server.api_key":           "s3cret",
	} {
		if err := setKeyWith(newFileBackend(path), secrets, key, value); err != nil {
			t.Fatalf("SetKey(%s): %v", key, err)
		}
	}

	cfg, err := loadFromPath(path, secrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8123 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Ingest.Async {
		t.Error("Ingest.Async = true, want false")
	}
	if cfg.Embedding.RateLimit != 1.5 {
		t.Errorf("Embedding.RateLimit = %v", cfg.Embedding.RateLimit)
	}
	if cfg.Query.GenerationTimeout != 12*time.Second {
		t.Errorf("Query.GenerationTimeout = %v", cfg.Query.GenerationTimeout)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Server.APIKey != "s3cret" {
		t.Errorf("Server.APIKey = %q, want it from the secrets file", cfg.Server.APIKey)
	}

	raw, _ := os.ReadFile(path)
	if strings.Contains(string(raw), "s3cret") {
		t.Error("secret written to the config file")
	}
	info, err := os.Stat(secrets.path)
	if err != nil {
		t.Fatalf("stat secrets file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestSetKey_Invalid(t *testing.T) {
	dir := t.TempDir()
	b := newFileBackend(filepath.Join(dir, "config.toml"))
	secrets := fileSecrets{path: filepath.Join(dir, "secrets.json")}

	if err := setKeyWith(b, secrets, "no.such_key", "1"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := setKeyWith(b, secrets, "server.port", "eighty"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKeyWith(b, secrets, "query.generation_timeout", "soon"); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestShowAll_MasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Server.APIKey = "hidden"

	var found bool
	for _, ki := range ShowAll(cfg) {
		if strings.Contains(ki.Value, "hidden") {
			t.Fatalf("secret value shown for %s", ki.Key)
		}
		if ki.Key == "server.api_key" {
			found = true
			if ki.Value != "(set)" {
				t.Errorf("server.api_key = %q, want (set)", ki.Value)
			}
		}
	}
	if !found {
		t.Error("server.api_key missing from ShowAll")
	}
	if len(ValidKeys()) != len(specs) {
		t.Errorf("ValidKeys() has %d keys, want %d", len(ValidKeys()), len(specs))
	}
}
