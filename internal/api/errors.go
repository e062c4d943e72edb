package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/docmind/internal/document"
)

var errorStatus = []struct {
	err  error
	code int
}{
	{document.ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
	{document.ErrCorruptDocument, http.StatusUnprocessableEntity},
	{document.ErrEmptyInput, http.StatusBadRequest},
	{document.ErrInvalidConfig, http.StatusBadRequest},
	{document.ErrDocumentNotFound, http.StatusNotFound},
	{document.ErrDocumentNotReady, http.StatusConflict},
	{document.ErrIngestInProgress, http.StatusConflict},
	{document.ErrAlreadyIngested, http.StatusConflict},
	{document.ErrEmbeddingUnavailable, http.StatusServiceUnavailable},
	{document.ErrDimensionMismatch, http.StatusConflict},
}

// writeServiceError maps a service error to its status code, using the
// error kind as the error type.
func writeServiceError(w http.ResponseWriter, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			httpError(w, e.code, document.KindOf(err), "%v", err)
			return
		}
	}
	httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
