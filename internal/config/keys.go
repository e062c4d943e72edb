package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key string
	typ keyType
	env string
	// fallback is a conventional variable read when env is unset.
	fallback string
	secret   bool
	apply    func(cfg *Config, v any)
	extract  func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "DOCMIND_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "DOCMIND_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_key", typ: kString, env: "DOCMIND_SERVER_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIKey },
	},
	{
		key: "server.max_upload_mb", typ: kInt, env: "DOCMIND_SERVER_MAX_UPLOAD_MB",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxUploadMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxUploadMB },
	},
	{
		key: "server.cors_origins", typ: kString, env: "DOCMIND_SERVER_CORS_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Server.CORSOrigins = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.CORSOrigins },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DOCMIND_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "ingest.async", typ: kBool, env: "DOCMIND_INGEST_ASYNC",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Async = v.(bool) },
		extract: func(cfg Config) any { return cfg.Ingest.Async },
	},
	{
		key: "ingest.max_chunk_chars", typ: kInt, env: "DOCMIND_INGEST_MAX_CHUNK_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.MaxChunkChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.MaxChunkChars },
	},
	{
		key: "ingest.overlap_chars", typ: kInt, env: "DOCMIND_INGEST_OVERLAP_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.OverlapChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.OverlapChars },
	},
	{
		key: "ingest.timeout", typ: kDuration, env: "DOCMIND_INGEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ingest.Timeout },
	},
	{
		key: "query.default_k", typ: kInt, env: "DOCMIND_QUERY_DEFAULT_K",
		apply:   func(cfg *Config, v any) { cfg.Query.DefaultK = v.(int) },
		extract: func(cfg Config) any { return cfg.Query.DefaultK },
	},
	{
		key: "query.max_k", typ: kInt, env: "DOCMIND_QUERY_MAX_K",
		apply:   func(cfg *Config, v any) { cfg.Query.MaxK = v.(int) },
		extract: func(cfg Config) any { return cfg.Query.MaxK },
	},
	{
		key: "query.max_context_chars", typ: kInt, env: "DOCMIND_QUERY_MAX_CONTEXT_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Query.MaxContextChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Query.MaxContextChars },
	},
	{
		key: "query.generation_timeout", typ: kDuration, env: "DOCMIND_QUERY_GENERATION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Query.GenerationTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Query.GenerationTimeout },
	},
	{
		key: "engine.backend", typ: kString, env: "DOCMIND_ENGINE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Engine.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Backend },
	},
	{
		key: "engine.chat_model", typ: kString, env: "DOCMIND_ENGINE_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.ChatModel },
	},
	{
		key: "embedding.backend", typ: kString, env: "DOCMIND_EMBEDDING_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Backend },
	},
	{
		key: "embedding.model", typ: kString, env: "DOCMIND_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.dimension", typ: kInt, env: "DOCMIND_EMBEDDING_DIMENSION",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dimension = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dimension },
	},
	{
		key: "embedding.rate_limit", typ: kFloat, env: "DOCMIND_EMBEDDING_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Embedding.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Embedding.RateLimit },
	},
	{
		key: "embedding.concurrency", typ: kInt, env: "DOCMIND_EMBEDDING_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Concurrency },
	},
	{
		key: "ollama.base_url", typ: kString, env: "DOCMIND_OLLAMA_BASE_URL",
		fallback: "OLLAMA_HOST",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "openai.api_key", typ: kString, env: "DOCMIND_OPENAI_API_KEY",
		fallback: "OPENAI_API_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.base_url", typ: kString, env: "DOCMIND_OPENAI_BASE_URL",
		fallback: "OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "vertex.project", typ: kString, env: "DOCMIND_VERTEX_PROJECT",
		fallback: "GOOGLE_CLOUD_PROJECT",
		apply:   func(cfg *Config, v any) { cfg.Vertex.Project = v.(string) },
		extract: func(cfg Config) any { return cfg.Vertex.Project },
	},
	{
		key: "vertex.location", typ: kString, env: "DOCMIND_VERTEX_LOCATION",
		apply:   func(cfg *Config, v any) { cfg.Vertex.Location = v.(string) },
		extract: func(cfg Config) any { return cfg.Vertex.Location },
	},
	{
		key: "insights.enabled", typ: kBool, env: "DOCMIND_INSIGHTS_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Insights.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Insights.Enabled },
	},
	{
		key: "insights.use_model", typ: kBool, env: "DOCMIND_INSIGHTS_USE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Insights.UseModel = v.(bool) },
		extract: func(cfg Config) any { return cfg.Insights.UseModel },
	},
	{
		key: "insights.timeout", typ: kDuration, env: "DOCMIND_INSIGHTS_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Insights.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Insights.Timeout },
	},
	{
		key: "insights.poll_interval", typ: kDuration, env: "DOCMIND_INSIGHTS_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Insights.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Insights.PollInterval },
	},
	{
		key: "insights.max_attempts", typ: kInt, env: "DOCMIND_INSIGHTS_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Insights.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Insights.MaxAttempts },
	},
	{
		key: "archive.location", typ: kString, env: "DOCMIND_ARCHIVE_LOCATION",
		apply:   func(cfg *Config, v any) { cfg.Archive.Location = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.Location },
	},
	{
		key: "log.level", typ: kString, env: "DOCMIND_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "DOCMIND_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

// parse converts raw to the Go type of s.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	for _, s := range specs {
		name := s.env
		raw := getenv(name)
		if raw == "" && s.fallback != "" {
			name = s.fallback
			raw = getenv(name)
		}
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", name, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

// applySecrets fills secrets still empty after the environment from the
// secret store, keyed by the dotted key name.
func applySecrets(cfg *Config, store secretStore) {
	if store == nil {
		return
	}
	for _, s := range specs {
		if !s.secret || s.extract(*cfg).(string) != "" {
			continue
		}
		if v, err := store.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
