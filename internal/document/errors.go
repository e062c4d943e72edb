package document

import "errors"

var (
	ErrUnsupportedFormat     = errors.New("unsupported format")
	ErrCorruptDocument       = errors.New("corrupt document")
	ErrInvalidConfig         = errors.New("invalid config")
	ErrEmptyInput            = errors.New("empty input")
	ErrEmbeddingUnavailable  = errors.New("embedding service unavailable")
	ErrDimensionMismatch     = errors.New("dimension mismatch")
	ErrDocumentNotReady      = errors.New("document not ready")
	ErrIngestInProgress      = errors.New("ingest in progress")
	ErrGenerationUnavailable = errors.New("generation unavailable")
	ErrDocumentNotFound      = errors.New("document not found")
	ErrDuplicateChunk        = errors.New("duplicate chunk id")
	ErrAlreadyIngested       = errors.New("document already ingested")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrUnsupportedFormat, "unsupported_format"},
	{ErrCorruptDocument, "corrupt_document"},
	{ErrInvalidConfig, "invalid_config"},
	{ErrEmptyInput, "empty_input"},
	{ErrEmbeddingUnavailable, "embedding_service_unavailable"},
	{ErrDimensionMismatch, "dimension_mismatch"},
	{ErrDocumentNotReady, "document_not_ready"},
	{ErrIngestInProgress, "ingest_in_progress"},
	{ErrGenerationUnavailable, "generation_unavailable"},
	{ErrDocumentNotFound, "document_not_found"},
	{ErrDuplicateChunk, "duplicate_chunk"},
	{ErrAlreadyIngested, "already_ingested"},
}

// KindOf returns the snake_case kind name of the first known error in err's
// chain, or "internal" when none matches.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
