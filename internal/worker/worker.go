// Package worker runs queued generation jobs in the background.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/sectiond/internal/generate"
	"github.com/kalambet/sectiond/internal/storage"
)

// JobTypeGenerate is the job type the worker consumes.
const JobTypeGenerate = "generate"

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id, resultID string) error
	FailJob(id string, errMsg string) error
	AbandonJob(id string, errMsg string) error
}

// Generator runs one generation request.
type Generator interface {
	Generate(ctx context.Context, req generate.Request) (generate.Result, error)
}

// Worker processes generate jobs from the SQLite job queue.
type Worker struct {
	store     JobStore
	generator Generator
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, generator Generator, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		generator: generator,
		poll:      pollInterval,
		logger:    slog.Default(),
	}
}

// NewJob builds a queued job for req.
func NewJob(req generate.Request) (storage.Job, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return storage.Job{}, fmt.Errorf("encoding job payload: %w", err)
	}
	return storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeGenerate,
		PayloadJSON: string(payload),
	}, nil
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

// RunOnce claims and processes a single generate job. It reports whether a
// job was processed, regardless of its outcome.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeGenerate})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	res, err := w.processJob(ctx, job)
	if err != nil {
		if permanent(err) {
			w.logger.Warn("job rejected", "job_id", job.ID, "error", err)
			if abErr := w.store.AbandonJob(job.ID, err.Error()); abErr != nil {
				w.logger.Error("failed to abandon job", "job_id", job.ID, "error", abErr)
			}
			return true, nil
		}
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID, res.GenerationID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	w.logger.Info("job completed", "job_id", job.ID, "operation", res.Operation, "cached", res.Cached)
	return true, nil
}

var errBadPayload = errors.New("malformed job payload")

func (w *Worker) processJob(ctx context.Context, job *storage.Job) (generate.Result, error) {
	var req generate.Request
	if err := json.Unmarshal([]byte(job.PayloadJSON), &req); err != nil {
		return generate.Result{}, fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return w.generator.Generate(ctx, req)
}

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	return errors.Is(err, errBadPayload) ||
		errors.Is(err, generate.ErrUnknownOperation) ||
		errors.Is(err, generate.ErrEmptyPayload) ||
		errors.Is(err, generate.ErrInvalidPayload)
}
