// Package config loads docmind settings from defaults, a TOML file, an
// optional .env file and DOCMIND_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kalambet/docmind/internal/document"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Ingest    IngestConfig
	Query     QueryConfig
	Engine    EngineConfig
	Embedding EmbeddingConfig
	Ollama    OllamaConfig
	OpenAI    OpenAIConfig
	Vertex    VertexConfig
	Insights  InsightsConfig
	Archive   ArchiveConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	APIKey      string
	MaxUploadMB int
	// CORSOrigins is a comma-separated origin list; empty allows any origin.
	CORSOrigins string
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Origins splits CORSOrigins.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type StorageConfig struct {
	DataDir string
}

type IngestConfig struct {
	Async         bool
	MaxChunkChars int
	OverlapChars  int
	Timeout       time.Duration
}

type QueryConfig struct {
	DefaultK          int
	MaxK              int
	MaxContextChars   int
	GenerationTimeout time.Duration
}

type EngineConfig struct {
	// Backend is ollama, openai or vertex.
	Backend   string
	ChatModel string
}

type EmbeddingConfig struct {
	// Backend is hash (local, no network) or engine.
	Backend     string
	Model       string
	Dimension   int
	RateLimit   float64
	Concurrency int
}

type OllamaConfig struct {
	BaseURL string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

type VertexConfig struct {
	Project  string
	Location string
}

type InsightsConfig struct {
	Enabled bool
	// UseModel asks the chat model for insights; heuristics fill any gaps.
	UseModel     bool
	Timeout      time.Duration
	PollInterval time.Duration
	MaxAttempts  int
}

type ArchiveConfig struct {
	// Location is empty (disabled), a directory, file:///dir or gs://bucket/prefix.
	Location string
}

type LogConfig struct {
	Level  string
	Format string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8000,
			MaxUploadMB: 32,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Ingest: IngestConfig{
			Async:         true,
			MaxChunkChars: 1000,
			OverlapChars:  200,
			Timeout:       10 * time.Minute,
		},
		Query: QueryConfig{
			DefaultK:          4,
			MaxK:              20,
			MaxContextChars:   6000,
			GenerationTimeout: 30 * time.Second,
		},
		Engine: EngineConfig{
			Backend:   "ollama",
			ChatModel: "llama3.2",
		},
		Embedding: EmbeddingConfig{
			Backend:     "hash",
			Model:       "nomic-embed-text",
			Dimension:   384,
			Concurrency: 4,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Vertex: VertexConfig{
			Location: "us-central1",
		},
		Insights: InsightsConfig{
			Enabled:      true,
			UseModel:     true,
			Timeout:      60 * time.Second,
			PollInterval: 500 * time.Millisecond,
			MaxAttempts:  3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the TOML file at
// $XDG_CONFIG_HOME/docmind/config.toml, a .env file in the working
// directory, and the environment. Secrets not set in the environment are
// read from the platform secret store.
func Load() (Config, error) {
	dotenv, err := readDotEnv(".env")
	if err != nil {
		return Config{}, err
	}
	return loadWith(newFileBackend(configFilePath()), platformSecrets(), dotenv)
}

// loadFromPath loads with the TOML file at path and no .env layer.
func loadFromPath(path string, secrets secretStore) (Config, error) {
	return loadWith(newFileBackend(path), secrets, nil)
}

func loadWith(b ConfigBackend, secrets secretStore, dotenv map[string]string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg, envLookup(dotenv))
	applySecrets(&cfg, secrets)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readDotEnv returns the variables in path, or nil when it does not exist.
func readDotEnv(path string) (map[string]string, error) {
	vars, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return vars, nil
}

// envLookup prefers the process environment over .env values.
func envLookup(dotenv map[string]string) func(string) string {
	return func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}
}

var (
	engineBackends    = []string{"ollama", "openai", "vertex"}
	embeddingBackends = []string{"hash", "engine"}
	logLevels         = []string{"debug", "info", "warn", "error"}
	logFormats        = []string{"text", "json"}
)

// Validate reports the first setting that cannot work, wrapped in
// document.ErrInvalidConfig.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", document.ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	switch {
	case c.Server.Port < 1 || c.Server.Port > 65535:
		return invalid("server.port %d out of range", c.Server.Port)
	case c.Server.MaxUploadMB < 1:
		return invalid("server.max_upload_mb must be positive")
	case c.Ingest.OverlapChars < 0 || c.Ingest.MaxChunkChars <= c.Ingest.OverlapChars:
		return invalid("ingest.max_chunk_chars (%d) must exceed ingest.overlap_chars (%d) >= 0",
			c.Ingest.MaxChunkChars, c.Ingest.OverlapChars)
	case c.Query.MaxK < 1 || c.Query.DefaultK < 1 || c.Query.DefaultK > c.Query.MaxK:
		return invalid("query.default_k (%d) must be between 1 and query.max_k (%d)", c.Query.DefaultK, c.Query.MaxK)
	case c.Query.MaxContextChars < 1:
		return invalid("query.max_context_chars must be positive")
	case c.Query.GenerationTimeout <= 0:
		return invalid("query.generation_timeout must be positive")
	case !slices.Contains(engineBackends, c.Engine.Backend):
		return invalid("engine.backend %q, want one of %s", c.Engine.Backend, strings.Join(engineBackends, ", "))
	case !slices.Contains(embeddingBackends, c.Embedding.Backend):
		return invalid("embedding.backend %q, want one of %s", c.Embedding.Backend, strings.Join(embeddingBackends, ", "))
	case c.Embedding.Backend == "hash" && c.Embedding.Dimension < 1:
		return invalid("embedding.dimension must be positive for the hash backend")
	case c.Embedding.Backend == "engine" && c.Engine.Backend == "vertex":
		return invalid("the vertex backend has no embedding model; use embedding.backend = \"hash\"")
	case c.Engine.Backend == "openai" && c.OpenAI.APIKey == "":
		return invalid("engine.backend is openai but no API key is set; set DOCMIND_OPENAI_API_KEY or OPENAI_API_KEY")
	case c.Engine.Backend == "vertex" && c.Vertex.Project == "":
		return invalid("engine.backend is vertex but vertex.project is empty")
	case c.Insights.MaxAttempts < 1:
		return invalid("insights.max_attempts must be at least 1")
	case c.Insights.PollInterval <= 0:
		return invalid("insights.poll_interval must be positive")
	case !slices.Contains(logLevels, strings.ToLower(c.Log.Level)):
		return invalid("log.level %q, want one of %s", c.Log.Level, strings.Join(logLevels, ", "))
	case !slices.Contains(logFormats, c.Log.Format):
		return invalid("log.format %q, want text or json", c.Log.Format)
	}
	return nil
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "docmind", "config.toml")
}

// ConfigFilePath returns the TOML file Load reads and SetKey writes.
func ConfigFilePath() string {
	return configFilePath()
}
