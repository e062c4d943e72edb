package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/docmind/internal/document"
	"github.com/kalambet/docmind/internal/storage"
)

// JobType is the queue type of insights extraction jobs.
const JobType = "extract_insights"

// Store abstracts the insights table and the job queue.
type Store interface {
	SetInsights(rec document.InsightsRecord) error
	GetInsights(docID string) (document.InsightsRecord, error)
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) (bool, error)
}

// TextSource returns the full text of an ingested document.
type TextSource interface {
	DocumentText(docID string) (string, error)
}

type jobPayload struct {
	DocID string `json:"doc_id"`
}

// Scheduler queues extraction and serves stored results.
type Scheduler struct {
	store       Store
	maxAttempts int
}

// NewScheduler returns a Scheduler whose jobs get maxAttempts tries
// (the queue default when <= 0).
func NewScheduler(store Store, maxAttempts int) *Scheduler {
	return &Scheduler{store: store, maxAttempts: maxAttempts}
}

// Schedule stores a pending record for docID and enqueues its extraction.
// A document whose insights are already pending, processing or ready is
// left alone.
func (s *Scheduler) Schedule(ctx context.Context, docID string) error {
	rec, err := s.store.GetInsights(docID)
	switch {
	case err == nil && rec.Status != document.InsightsError:
		return nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("reading insights for %s: %w", docID, err)
	}

	if err := s.store.SetInsights(document.InsightsRecord{DocID: docID, Status: document.InsightsPending}); err != nil {
		return fmt.Errorf("storing pending insights: %w", err)
	}
	payload, err := json.Marshal(jobPayload{DocID: docID})
	if err != nil {
		return err
	}
	return s.store.EnqueueJob(storage.Job{
		ID:          uuid.NewString(),
		Type:        JobType,
		PayloadJSON: string(payload),
		MaxAttempts: s.maxAttempts,
	})
}

// Get returns the insights record of docID. A document that has none yet
// reports ok false.
func (s *Scheduler) Get(docID string) (rec document.InsightsRecord, ok bool, err error) {
	rec, err = s.store.GetInsights(docID)
	if errors.Is(err, storage.ErrNotFound) {
		return document.InsightsRecord{}, false, nil
	}
	if err != nil {
		return document.InsightsRecord{}, false, err
	}
	return rec, true, nil
}

// Worker processes extract_insights jobs from the SQLite job queue.
type Worker struct {
	store     Store
	texts     TextSource
	extractor *Extractor
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store Store, texts TextSource, extractor *Extractor, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		texts:     texts,
		extractor: extractor,
		poll:      pollInterval,
		logger:    slog.Default().With("component", "insights"),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single extract_insights job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	var payload jobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil || payload.DocID == "" {
		w.logger.Error("dropping malformed job", "job_id", job.ID, "payload", job.PayloadJSON)
		return true, w.store.CompleteJob(job.ID)
	}

	err = w.processJob(ctx, payload.DocID)
	switch {
	case err == nil:
	case errors.Is(err, document.ErrDocumentNotFound):
		w.logger.Info("document gone, skipping insights", "doc_id", payload.DocID)
	case ctx.Err() != nil:
		// Left running; RequeueRunningJobs returns it to the queue on restart.
		return true, ctx.Err()
	default:
		w.fail(job, payload.DocID, err)
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) fail(job *storage.Job, docID string, cause error) {
	w.logger.Warn("job failed", "job_id", job.ID, "doc_id", docID, "error", cause)
	final, err := w.store.FailJob(job.ID, cause.Error())
	if err != nil {
		w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", err)
		return
	}
	rec := document.InsightsRecord{DocID: docID, Status: document.InsightsPending}
	if final {
		rec.Status = document.InsightsError
		rec.Error = cause.Error()
	}
	if err := w.store.SetInsights(rec); err != nil {
		w.logger.Error("storing insights status", "doc_id", docID, "error", err)
	}
}

func (w *Worker) processJob(ctx context.Context, docID string) error {
	text, err := w.texts.DocumentText(docID)
	if err != nil {
		return fmt.Errorf("loading text: %w", err)
	}

	if err := w.store.SetInsights(document.InsightsRecord{DocID: docID, Status: document.InsightsProcessing}); err != nil {
		return fmt.Errorf("marking processing: %w", err)
	}

	start := time.Now()
	in, err := w.extractor.Extract(ctx, text)
	if err != nil {
		return fmt.Errorf("extracting: %w", err)
	}

	if err := w.store.SetInsights(document.InsightsRecord{
		DocID:    docID,
		Status:   document.InsightsReady,
		Insights: &in,
	}); err != nil {
		return fmt.Errorf("storing insights: %w", err)
	}
	w.logger.Info("insights ready", "doc_id", docID, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}
