package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/docmind/internal/api"
	"github.com/kalambet/docmind/internal/archive"
	"github.com/kalambet/docmind/internal/chunker"
	"github.com/kalambet/docmind/internal/config"
	"github.com/kalambet/docmind/internal/embedding"
	"github.com/kalambet/docmind/internal/engine"
	"github.com/kalambet/docmind/internal/insights"
	"github.com/kalambet/docmind/internal/loader"
	"github.com/kalambet/docmind/internal/qa"
	"github.com/kalambet/docmind/internal/storage"
	"github.com/kalambet/docmind/internal/vectorindex"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the docmind server (foreground)",
	Long: `Run the docmind server in the foreground.

With --mcp the server speaks the Model Context Protocol on stdin/stdout
instead of HTTP, for use from MCP clients.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpMode, _ := cmd.Flags().GetBool("mcp")
		return runServer(cmd.Context(), mcpMode)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "serve MCP over stdio instead of HTTP")
}

func setupLogging(cfg config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func runServer(parent context.Context, mcpMode bool) error {
	if parent == nil {
		parent = context.Background()
	}
	fmt.Fprintf(os.Stderr, "docmind version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	if n, err := store.RequeueRunningJobs(); err != nil {
		return fmt.Errorf("requeueing jobs: %w", err)
	} else if n > 0 {
		slog.Info("requeued interrupted insights jobs", "count", n)
	}

	// Inference backend.
	eng, err := engine.New(ctx, engine.Options{
		Backend:        cfg.Engine.Backend,
		OllamaBaseURL:  cfg.Ollama.BaseURL,
		OpenAIAPIKey:   cfg.OpenAI.APIKey,
		OpenAIBaseURL:  cfg.OpenAI.BaseURL,
		VertexProject:  cfg.Vertex.Project,
		VertexLocation: cfg.Vertex.Location,
	})
	if err != nil {
		return fmt.Errorf("creating inference engine: %w", err)
	}
	defer engine.Close(eng)

	models := []string{cfg.Engine.ChatModel}
	if cfg.Embedding.Backend == "engine" {
		models = append(models, cfg.Embedding.Model)
	}
	if err := engine.EnsureReady(ctx, eng, os.Stderr, models...); err != nil {
		if cfg.Embedding.Backend == "engine" {
			return err
		}
		printWarning("%v; answers will fall back to retrieved passages", err)
	}

	embedder, err := newEmbedder(ctx, cfg.Embedding, eng)
	if err != nil {
		return err
	}

	arch, err := archive.Open(ctx, cfg.Archive.Location)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	if arch != nil {
		defer arch.Close()
	}

	// Document service.
	opts := []qa.Option{
		qa.WithGenerator(qa.NewEngineGenerator(eng, cfg.Engine.ChatModel)),
		qa.WithStore(store),
	}
	if arch != nil {
		opts = append(opts, qa.WithArchive(arch))
	}
	var scheduler *insights.Scheduler
	if cfg.Insights.Enabled {
		scheduler = insights.NewScheduler(store, cfg.Insights.MaxAttempts)
		opts = append(opts, qa.WithInsights(scheduler))
	}

	svc, err := qa.New(qa.Config{
		Chunking: chunker.Config{
			MaxChunkChars: cfg.Ingest.MaxChunkChars,
			OverlapChars:  cfg.Ingest.OverlapChars,
		},
		DefaultTopK:       cfg.Query.DefaultK,
		MaxTopK:           cfg.Query.MaxK,
		MaxContextChars:   cfg.Query.MaxContextChars,
		GenerationTimeout: cfg.Query.GenerationTimeout,
		IngestTimeout:     cfg.Ingest.Timeout,
	}, vectorindex.New(embedder.Dimension()), loader.New(), embedder, opts...)
	if err != nil {
		return err
	}

	restored, err := svc.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restoring documents: %w", err)
	}
	slog.Info("documents restored", "ready", restored)

	// Insights worker.
	var insightsSrc api.InsightsSource
	if scheduler != nil {
		var chatter insights.Chatter
		if cfg.Insights.UseModel {
			chatter = eng
		}
		extractor := insights.NewExtractor(chatter, cfg.Engine.ChatModel, cfg.Insights.Timeout)
		worker := insights.NewWorker(store, svc, extractor, cfg.Insights.PollInterval)
		go worker.Run(ctx)
		insightsSrc = scheduler
	}

	if mcpMode {
		return serveMCP(ctx, svc, insightsSrc, cfg)
	}
	return serveHTTP(ctx, svc, insightsSrc, cfg)
}

// newEmbedder returns the configured embedder with a known dimension.
func newEmbedder(ctx context.Context, cfg config.EmbeddingConfig, eng engine.Engine) (embedding.Embedder, error) {
	if cfg.Backend == "hash" {
		return embedding.NewHash(cfg.Dimension), nil
	}

	opts := []embedding.Option{
		embedding.WithRateLimit(cfg.RateLimit, max(cfg.Concurrency, 1)),
		embedding.WithConcurrency(cfg.Concurrency),
	}
	if cfg.Dimension > 0 {
		opts = append(opts, embedding.WithDimension(cfg.Dimension))
	}
	svc := embedding.NewService(eng, cfg.Model, opts...)
	if svc.Dimension() == 0 {
		if _, err := svc.Embed(ctx, "dimension probe"); err != nil {
			return nil, fmt.Errorf("probing embedding dimension of %s: %w", cfg.Model, err)
		}
		slog.Info("embedding dimension detected", "model", cfg.Model, "dimension", svc.Dimension())
	}
	return svc, nil
}

func serveHTTP(ctx context.Context, svc *qa.Service, ins api.InsightsSource, cfg config.Config) error {
	handler := api.NewAppHandler(api.AppDeps{
		Docs:           svc,
		Insights:       ins,
		APIKey:         cfg.Server.APIKey,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		AsyncIngest:    cfg.Ingest.Async,
		Background:     ctx,
		AllowedOrigins: cfg.Server.Origins(),
	})
	if cfg.Server.APIKey == "" {
		slog.Warn("no API key configured; endpoints are open")
	}

	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		printSuccess("docmind listening on http://%s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func serveMCP(ctx context.Context, svc *qa.Service, ins api.InsightsSource, cfg config.Config) error {
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Docs:           svc,
		Insights:       ins,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
	}, version)
	stdioSrv := server.NewStdioServer(mcpSrv)
	slog.Info("MCP server started (stdio transport)")
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
