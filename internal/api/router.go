// Package api serves the document upload, query and insights endpoints, and
// the MCP tool server over the same services.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kalambet/docmind/internal/document"
)

const (
	defaultMaxUploadBytes = 32 << 20 // 32MB
	maxFormBytes          = 1 << 20  // 1MB
	multipartMemory       = 8 << 20
)

// DocumentService is the document lifecycle. *qa.Service implements it.
type DocumentService interface {
	Upload(ctx context.Context, filename string, data []byte) (document.Document, error)
	Ingest(ctx context.Context, docID string, data []byte) error
	Answer(ctx context.Context, docID, question string, k int) (document.Answer, error)
	Status(docID string) (document.Document, error)
	List() []document.Document
	Delete(ctx context.Context, docID string) error
}

// InsightsSource serves stored insights. *insights.Scheduler implements it.
type InsightsSource interface {
	Get(docID string) (rec document.InsightsRecord, ok bool, err error)
}

type AppDeps struct {
	Docs     DocumentService
	Insights InsightsSource // optional; if nil, insights report an error
	APIKey   string
	// MaxUploadBytes bounds the upload body; defaults to 32MB.
	MaxUploadBytes int64
	// AsyncIngest makes /upload return before ingest finishes.
	AsyncIngest bool
	// Background is the parent context of async ingests; cancelled on shutdown.
	Background     context.Context
	AllowedOrigins []string
	Logger         *slog.Logger
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}
	if deps.Background == nil {
		deps.Background = context.Background()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default().With("component", "api")
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))

	r.Get("/", handleHealth)
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(APIKeyAuth(deps.APIKey))

		r.Post("/upload", handleUpload(deps))
		r.Post("/query", handleQuery(deps))
		r.Get("/insights/{doc_id}", handleInsights(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Get("/documents/{doc_id}", handleGetDocument(deps))
		r.Delete("/documents/{doc_id}", handleDeleteDocument(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// requestLogger logs method, path, status and latency of each request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).Round(time.Microsecond),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
