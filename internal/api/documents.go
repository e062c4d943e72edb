package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/docmind/internal/document"
)

type uploadResponse struct {
	DocID    string         `json:"doc_id"`
	Filename string         `json:"filename"`
	Status   document.State `json:"status"`
}

type insightsMetadata struct {
	NumChunks int `json:"num_chunks"`
	PageCount int `json:"page_count"`
	WordCount int `json:"word_count"`
}

type insightsResponse struct {
	Status   document.InsightsStatus `json:"status"`
	DocID    string                  `json:"doc_id"`
	Insights *document.Insights      `json:"insights,omitempty"`
	Metadata *insightsMetadata       `json:"metadata,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

func handleUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes)
		defer r.Body.Close()

		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			badBody(w, err, "invalid multipart body: %v")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			badBody(w, err, "reading file: %v")
			return
		}

		doc, err := deps.Docs.Upload(r.Context(), filepath.Base(header.Filename), data)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		if deps.AsyncIngest {
			go func() {
				if err := deps.Docs.Ingest(deps.Background, doc.ID, data); err != nil {
					deps.Logger.Warn("background ingest failed", "doc_id", doc.ID, "error", err)
				}
			}()
			writeJSON(w, http.StatusAccepted, uploadResponse{DocID: doc.ID, Filename: doc.Filename, Status: document.StateIngesting})
			return
		}

		if err := deps.Docs.Ingest(r.Context(), doc.ID, data); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, uploadResponse{DocID: doc.ID, Filename: doc.Filename, Status: document.StateReady})
	}
}

// badBody reports an oversized body as 413 and anything else as 400.
func badBody(w http.ResponseWriter, err error, format string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error",
			"upload exceeds %d bytes", tooLarge.Limit)
		return
	}
	httpError(w, http.StatusBadRequest, "invalid_request_error", format, err)
}

func handleQuery(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
		defer r.Body.Close()

		if err := parseForm(r); err != nil {
			badBody(w, err, "invalid form body: %v")
			return
		}

		docID := strings.TrimSpace(r.FormValue("doc_id"))
		if docID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "doc_id is required")
			return
		}
		question := r.FormValue("question")

		k := 0
		if v := r.FormValue("k"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "k must be a positive integer")
				return
			}
			k = n
		}

		ans, err := deps.Docs.Answer(r.Context(), docID, question, k)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ans)
	}
}

func parseForm(r *http.Request) error {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "multipart/form-data" {
		return r.ParseMultipartForm(maxFormBytes)
	}
	return r.ParseForm()
}

func handleInsights(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID := chi.URLParam(r, "doc_id")
		doc, err := deps.Docs.Status(docID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := insightsResponse{DocID: docID, Status: document.InsightsPending}
		switch doc.State {
		case document.StateError:
			resp.Status = document.InsightsError
			resp.Error = doc.Error
		case document.StateReady:
			resp.Metadata = &insightsMetadata{NumChunks: doc.NumChunks, PageCount: doc.PageCount, WordCount: doc.WordCount}
			if deps.Insights == nil {
				resp.Status = document.InsightsError
				resp.Error = "insights extraction is disabled"
				break
			}
			rec, ok, err := deps.Insights.Get(docID)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "reading insights: %v", err)
				return
			}
			if ok {
				resp.Status = rec.Status
				resp.Insights = rec.Insights
				resp.Error = rec.Error
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs := deps.Docs.List()
		if state := r.URL.Query().Get("status"); state != "" {
			filtered := docs[:0]
			for _, d := range docs {
				if string(d.State) == state {
					filtered = append(filtered, d)
				}
			}
			docs = filtered
		}
		if docs == nil {
			docs = []document.Document{}
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

func handleGetDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Docs.Status(chi.URLParam(r, "doc_id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleDeleteDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID := chi.URLParam(r, "doc_id")
		if err := deps.Docs.Delete(r.Context(), docID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "doc_id": docID})
	}
}
