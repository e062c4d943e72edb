// Package qa runs the document lifecycle: upload, all-or-nothing ingest
// into the vector index, and retrieval-augmented answering.
package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/docmind/internal/archive"
	"github.com/kalambet/docmind/internal/chunker"
	"github.com/kalambet/docmind/internal/document"
	"github.com/kalambet/docmind/internal/embedding"
	"github.com/kalambet/docmind/internal/loader"
	"github.com/kalambet/docmind/internal/vectorindex"
)

const (
	DefaultTopK              = 4
	MaxTopK                  = 20
	DefaultMaxContextChars   = 6000
	DefaultGenerationTimeout = 30 * time.Second
)

// Loader turns raw upload bytes into pages.
type Loader interface {
	Load(data []byte) (loader.Result, error)
}

// Store persists documents and their chunk vectors. *storage.Store
// implements it.
type Store interface {
	CreateDocument(d document.Document) error
	ListDocuments(state document.State) ([]document.Document, error)
	SetDocumentState(id string, state document.State, errKind, errMsg string) error
	SetArchive(id, uri string) error
	FailInterruptedIngests() (int, error)
	SaveIngest(d document.Document, chunks []document.Chunk, vectors [][]float32) error
	LoadChunks(docID string) ([]document.Chunk, [][]float32, error)
	DeleteDocument(id string) error
}

// InsightsScheduler queues insights extraction for a freshly ingested
// document.
type InsightsScheduler interface {
	Schedule(ctx context.Context, docID string) error
}

// Config holds the tunables of a Service. Zero fields take defaults.
type Config struct {
	Chunking          chunker.Config
	DefaultTopK       int
	MaxTopK           int
	MaxContextChars   int
	GenerationTimeout time.Duration
	// IngestTimeout bounds one ingest run. Zero means no limit beyond ctx.
	IngestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Chunking == (chunker.Config{}) {
		c.Chunking = chunker.DefaultConfig()
	}
	if c.MaxTopK <= 0 {
		c.MaxTopK = MaxTopK
	}
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = DefaultTopK
	}
	if c.DefaultTopK > c.MaxTopK {
		c.DefaultTopK = c.MaxTopK
	}
	if c.MaxContextChars <= 0 {
		c.MaxContextChars = DefaultMaxContextChars
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = DefaultGenerationTimeout
	}
	return c
}

// Service coordinates loader, chunker, embedder, index and generator.
// Document state lives in memory and is mirrored to the Store when one is
// configured.
type Service struct {
	cfg       Config
	index     *vectorindex.Index
	loader    Loader
	embedder  embedding.Embedder
	generator Generator
	store     Store
	insights  InsightsScheduler
	archive   archive.Archive
	logger    *slog.Logger

	mu   sync.Mutex
	docs map[string]*document.Document
}

// Option configures a Service.
type Option func(*Service)

// WithGenerator enables answer generation. Without one every answer is
// the retrieved context.
func WithGenerator(g Generator) Option { return func(s *Service) { s.generator = g } }

// WithStore persists documents and vectors.
func WithStore(st Store) Option { return func(s *Service) { s.store = st } }

// WithInsights schedules insights after each successful ingest.
func WithInsights(is InsightsScheduler) Option { return func(s *Service) { s.insights = is } }

// WithArchive copies raw uploads to a.
func WithArchive(a archive.Archive) Option { return func(s *Service) { s.archive = a } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// New returns a Service. cfg is validated; an invalid chunking window
// fails with document.ErrInvalidConfig.
func New(cfg Config, index *vectorindex.Index, ld Loader, emb embedding.Embedder, opts ...Option) (*Service, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Chunking.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		cfg:      cfg,
		index:    index,
		loader:   ld,
		embedder: emb,
		logger:   slog.Default().With("component", "qa"),
		docs:     make(map[string]*document.Document),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Upload registers a new document in state Uploaded and archives the raw
// bytes when an archive is configured. It does not ingest.
func (s *Service) Upload(ctx context.Context, filename string, data []byte) (document.Document, error) {
	if len(data) == 0 {
		return document.Document{}, fmt.Errorf("%w: empty upload", document.ErrEmptyInput)
	}
	if filename == "" {
		filename = "upload.pdf"
	}
	now := time.Now().UTC()
	doc := document.Document{
		ID:        uuid.NewString(),
		Filename:  filename,
		State:     document.StateUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if s.store != nil {
		if err := s.store.CreateDocument(doc); err != nil {
			return document.Document{}, fmt.Errorf("registering document: %w", err)
		}
	}

	if s.archive != nil {
		uri, err := s.archive.Put(ctx, doc.ID, filename, data)
		if err != nil {
			s.logger.Warn("archiving upload failed", "doc_id", doc.ID, "error", err)
		} else {
			doc.Archive = uri
			if s.store != nil {
				if err := s.store.SetArchive(doc.ID, uri); err != nil {
					s.logger.Warn("recording archive location failed", "doc_id", doc.ID, "error", err)
				}
			}
		}
	}

	s.mu.Lock()
	s.docs[doc.ID] = &doc
	s.mu.Unlock()

	s.logger.Info("document uploaded", "doc_id", doc.ID, "filename", filename, "bytes", len(data))
	return doc, nil
}

// Ingest runs the document through loader, chunker, embedder and index.
// The document becomes Ready only when every chunk is indexed and stored;
// any failure leaves it in Error with no index entries.
func (s *Service) Ingest(ctx context.Context, docID string, data []byte) error {
	doc, err := s.begin(docID)
	if err != nil {
		return err
	}

	if s.cfg.IngestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.IngestTimeout)
		defer cancel()
	}

	start := time.Now()
	ready, err := s.runIngest(ctx, doc, data)
	if err != nil {
		s.fail(docID, err)
		s.logger.Error("ingest failed", "doc_id", docID, "kind", document.KindOf(err), "error", err)
		return err
	}

	s.mu.Lock()
	if d, ok := s.docs[docID]; ok {
		*d = ready
	}
	s.mu.Unlock()

	s.logger.Info("document ready",
		"doc_id", docID, "pages", ready.PageCount, "chunks", ready.NumChunks,
		"duration", time.Since(start).Round(time.Millisecond))

	if s.insights != nil {
		if err := s.insights.Schedule(ctx, docID); err != nil {
			s.logger.Warn("scheduling insights failed", "doc_id", docID, "error", err)
		}
	}
	return nil
}

// begin moves docID to Ingesting, enforcing one ingest in flight.
func (s *Service) begin(docID string) (document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[docID]
	if !ok {
		return document.Document{}, fmt.Errorf("%w: %s", document.ErrDocumentNotFound, docID)
	}
	switch d.State {
	case document.StateIngesting:
		return document.Document{}, fmt.Errorf("%w: %s", document.ErrIngestInProgress, docID)
	case document.StateReady:
		return document.Document{}, fmt.Errorf("%w: %s", document.ErrAlreadyIngested, docID)
	}

	if s.store != nil {
		if err := s.store.SetDocumentState(docID, document.StateIngesting, "", ""); err != nil {
			return document.Document{}, fmt.Errorf("marking %s ingesting: %w", docID, err)
		}
	}
	d.State = document.StateIngesting
	d.ErrorKind, d.Error = "", ""
	d.UpdatedAt = time.Now().UTC()
	return *d, nil
}

// runIngest turns a panic in any stage into an error so the document can
// still reach Error.
func (s *Service) runIngest(ctx context.Context, doc document.Document, data []byte) (ready document.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			ready = doc
			err = fmt.Errorf("ingest panic: %v", r)
		}
	}()
	return s.ingest(ctx, doc, data)
}

func (s *Service) ingest(ctx context.Context, doc document.Document, data []byte) (document.Document, error) {
	res, err := s.loader.Load(data)
	if err != nil {
		return doc, fmt.Errorf("loading %s: %w", doc.Filename, err)
	}
	if !hasText(res.Pages) {
		return doc, fmt.Errorf("%w: no extractable text in %d pages", document.ErrEmptyInput, res.PageCount)
	}

	chunks, err := chunker.Chunk(doc.ID, doc.Filename, res.Pages, s.cfg.Chunking)
	if err != nil {
		return doc, fmt.Errorf("chunking: %w", err)
	}
	if len(chunks) == 0 {
		return doc, fmt.Errorf("%w: no extractable text in %d pages", document.ErrEmptyInput, res.PageCount)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return doc, fmt.Errorf("embedding %d chunks: %w", len(chunks), err)
	}
	if len(vectors) != len(chunks) {
		return doc, fmt.Errorf("%w: got %d vectors for %d chunks",
			document.ErrEmbeddingUnavailable, len(vectors), len(chunks))
	}

	entries := make([]vectorindex.Entry, len(chunks))
	for i := range chunks {
		entries[i] = vectorindex.Entry{Chunk: chunks[i], Vector: vectors[i]}
	}
	// A previous failed attempt may have left nothing, but make sure.
	s.index.RemoveDocument(doc.ID)
	if err := s.index.AddBatch(entries); err != nil {
		return doc, fmt.Errorf("indexing: %w", err)
	}

	doc.State = document.StateReady
	doc.PageCount = res.PageCount
	doc.WordCount = res.WordCount()
	doc.NumChunks = len(chunks)
	doc.UpdatedAt = time.Now().UTC()

	if s.store != nil {
		if err := s.store.SaveIngest(doc, chunks, vectors); err != nil {
			s.index.RemoveDocument(doc.ID)
			return doc, fmt.Errorf("storing chunks: %w", err)
		}
	}
	return doc, nil
}

func hasText(pages []document.Page) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

func (s *Service) fail(docID string, cause error) {
	s.index.RemoveDocument(docID)

	kind := document.KindOf(cause)
	s.mu.Lock()
	if d, ok := s.docs[docID]; ok {
		d.State = document.StateError
		d.ErrorKind = kind
		d.Error = cause.Error()
		d.UpdatedAt = time.Now().UTC()
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SetDocumentState(docID, document.StateError, kind, cause.Error()); err != nil {
			s.logger.Warn("recording ingest failure", "doc_id", docID, "error", err)
		}
	}
}

// Status returns the current metadata of docID.
func (s *Service) Status(docID string) (document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docID]
	if !ok {
		return document.Document{}, fmt.Errorf("%w: %s", document.ErrDocumentNotFound, docID)
	}
	return *d, nil
}

// List returns all known documents, newest first.
func (s *Service) List() []document.Document {
	s.mu.Lock()
	out := make([]document.Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, *d)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Delete evicts a document from the index, the store and the archive.
// A document that is being ingested cannot be deleted.
func (s *Service) Delete(ctx context.Context, docID string) error {
	s.mu.Lock()
	d, ok := s.docs[docID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", document.ErrDocumentNotFound, docID)
	}
	if d.State == document.StateIngesting {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", document.ErrIngestInProgress, docID)
	}
	doc := *d
	delete(s.docs, docID)
	s.mu.Unlock()

	removed := s.index.RemoveDocument(docID)

	if s.store != nil {
		if err := s.store.DeleteDocument(docID); err != nil {
			return fmt.Errorf("deleting %s: %w", docID, err)
		}
	}
	if s.archive != nil && doc.Archive != "" {
		if err := s.archive.Delete(ctx, docID, doc.Filename); err != nil {
			s.logger.Warn("deleting archived upload failed", "doc_id", docID, "error", err)
		}
	}

	s.logger.Info("document deleted", "doc_id", docID, "chunks", removed)
	return nil
}

// DocumentText returns the reassembled text of a Ready document.
func (s *Service) DocumentText(docID string) (string, error) {
	doc, err := s.Status(docID)
	if err != nil {
		return "", err
	}
	if doc.State != document.StateReady {
		return "", fmt.Errorf("%w: %s is %s", document.ErrDocumentNotReady, docID, doc.State)
	}
	return chunker.Reassemble(s.index.DocumentChunks(docID)), nil
}

// Restore reloads persisted documents at startup. Ready documents get their
// vectors back in the index; ingests cut short by a previous exit are
// marked Error first. It returns the number of Ready documents restored.
func (s *Service) Restore(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}

	if n, err := s.store.FailInterruptedIngests(); err != nil {
		return 0, fmt.Errorf("failing interrupted ingests: %w", err)
	} else if n > 0 {
		s.logger.Warn("marked interrupted ingests as failed", "count", n)
	}

	docs, err := s.store.ListDocuments("")
	if err != nil {
		return 0, fmt.Errorf("listing documents: %w", err)
	}

	restored := 0
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		if d.State == document.StateReady {
			if err := s.restoreVectors(d.ID); err != nil {
				s.logger.Error("restoring document failed", "doc_id", d.ID, "error", err)
				d.State = document.StateError
				d.ErrorKind = document.KindOf(err)
				d.Error = err.Error()
				if serr := s.store.SetDocumentState(d.ID, d.State, d.ErrorKind, d.Error); serr != nil {
					s.logger.Warn("recording restore failure", "doc_id", d.ID, "error", serr)
				}
			} else {
				restored++
			}
		}
		doc := d
		s.mu.Lock()
		s.docs[doc.ID] = &doc
		s.mu.Unlock()
	}

	s.logger.Info("documents restored", "total", len(docs), "ready", restored)
	return restored, nil
}

func (s *Service) restoreVectors(docID string) error {
	chunks, vectors, err := s.store.LoadChunks(docID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return errors.New("no stored chunks")
	}
	if dim := s.embedder.Dimension(); dim > 0 && len(vectors[0]) != dim {
		return fmt.Errorf("%w: stored vectors have %d dimensions, embedder produces %d",
			document.ErrDimensionMismatch, len(vectors[0]), dim)
	}
	entries := make([]vectorindex.Entry, len(chunks))
	for i := range chunks {
		entries[i] = vectorindex.Entry{Chunk: chunks[i], Vector: vectors[i]}
	}
	s.index.RemoveDocument(docID)
	return s.index.AddBatch(entries)
}
