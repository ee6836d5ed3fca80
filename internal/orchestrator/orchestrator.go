package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bookforge-backend/internal/books"
	"bookforge-backend/internal/jobs"
	"bookforge-backend/internal/progresscache"
	"bookforge-backend/internal/shared/telemetry"
)

// Signaler notifies a running worker about a cancel request. Satisfied by
// *scheduler.Scheduler.
type Signaler interface {
	Signal(jobID string)
}

type noopSignaler struct{}

func (noopSignaler) Signal(string) {}

// Orchestrator is the facade over job creation, progress reads,
// cancellation, and retries.
type Orchestrator struct {
	jobs     jobs.Repo
	books    books.Repo
	cache    *progresscache.Cache
	signaler Signaler
}

// New constructs an Orchestrator. The signaler may be nil on API-only
// instances where no worker pool runs in-process.
func New(jobsRepo jobs.Repo, booksRepo books.Repo, cache *progresscache.Cache, signaler Signaler) *Orchestrator {
	if signaler == nil {
		signaler = noopSignaler{}
	}
	return &Orchestrator{
		jobs:     jobsRepo,
		books:    booksRepo,
		cache:    cache,
		signaler: signaler,
	}
}

// StartResult is the immediate response to a start or retry request.
type StartResult struct {
	JobID            string `json:"jobId"`
	EstimatedMinutes int    `json:"estimatedMinutes"`
}

// StartGeneration validates the request and enqueues a new job for the book.
func (o *Orchestrator) StartGeneration(ctx context.Context, bookID, ownerID string, cfg jobs.GenerationConfig) (StartResult, error) {
	if err := cfg.Validate(); err != nil {
		return StartResult{}, err
	}

	book, err := o.ownedBook(ctx, bookID, ownerID)
	if err != nil {
		return StartResult{}, err
	}

	active, err := o.jobs.HasActiveForBook(ctx, book.ID)
	if err != nil {
		return StartResult{}, err
	}
	if active {
		return StartResult{}, fmt.Errorf("%w: book already has an active generation", jobs.ErrConflict)
	}

	return o.enqueue(ctx, book.ID, ownerID, cfg)
}

// GetProgress returns the freshest snapshot for the job, consulting the
// cache before the store.
func (o *Orchestrator) GetProgress(ctx context.Context, jobID, ownerID string) (jobs.ProgressSnapshot, error) {
	if o.cache != nil {
		if snapshot, ok := o.cache.Get(jobID); ok {
			if snapshot.OwnerID != ownerID {
				return jobs.ProgressSnapshot{}, jobs.ErrNotFound
			}
			return snapshot, nil
		}
	}

	job, err := o.ownedJob(ctx, jobID, ownerID)
	if err != nil {
		return jobs.ProgressSnapshot{}, err
	}
	snapshot := jobs.Snapshot(job)
	if o.cache != nil {
		o.cache.Set(snapshot)
	}
	return snapshot, nil
}

// CancelGeneration requests cancellation of a job. Cancelling an already
// cancelled job succeeds; cancelling a completed or failed job conflicts.
func (o *Orchestrator) CancelGeneration(ctx context.Context, jobID, ownerID string) error {
	job, err := o.ownedJob(ctx, jobID, ownerID)
	if err != nil {
		return err
	}

	switch job.Status {
	case jobs.StatusCancelled:
		return nil
	case jobs.StatusCompleted, jobs.StatusFailed:
		return fmt.Errorf("%w: job already %s", jobs.ErrConflict, job.Status)
	case jobs.StatusQueued:
		if err := o.jobs.CancelQueued(ctx, jobID); err != nil {
			if errors.Is(err, jobs.ErrConflict) {
				// A worker claimed the job between the read and the
				// cancel. Fall through to the cooperative path.
				return o.requestCancel(ctx, job)
			}
			return err
		}
		o.refreshSnapshot(ctx, jobID)
		telemetry.Info("orchestrator.cancelled_queued", map[string]any{"job_id": jobID})
		return nil
	default:
		return o.requestCancel(ctx, job)
	}
}

// RetryGeneration starts a fresh job with the failed job's configuration.
// The failed job is kept untouched as an audit record.
func (o *Orchestrator) RetryGeneration(ctx context.Context, jobID, ownerID string) (StartResult, error) {
	job, err := o.ownedJob(ctx, jobID, ownerID)
	if err != nil {
		return StartResult{}, err
	}
	if job.Status != jobs.StatusFailed {
		return StartResult{}, fmt.Errorf("%w: only failed jobs can be retried (status %s)", jobs.ErrConflict, job.Status)
	}

	active, err := o.jobs.HasActiveForBook(ctx, job.BookID)
	if err != nil {
		return StartResult{}, err
	}
	if active {
		return StartResult{}, fmt.Errorf("%w: book already has an active generation", jobs.ErrConflict)
	}

	result, err := o.enqueue(ctx, job.BookID, ownerID, job.Config)
	if err != nil {
		return StartResult{}, err
	}
	telemetry.Info("orchestrator.retried", map[string]any{
		"job_id":     jobID,
		"new_job_id": result.JobID,
	})
	return result, nil
}

// JobStats summarizes the owner's jobs by status. Every status appears in
// the payload so clients get a stable shape.
type JobStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
}

// GetJobStats returns the owner's job counts.
func (o *Orchestrator) GetJobStats(ctx context.Context, ownerID string) (JobStats, error) {
	counts, err := o.jobs.CountByStatus(ctx, ownerID)
	if err != nil {
		return JobStats{}, err
	}
	stats := JobStats{ByStatus: make(map[string]int)}
	for _, status := range []string{
		jobs.StatusQueued, jobs.StatusProcessing, jobs.StatusCancelling,
		jobs.StatusCompleted, jobs.StatusFailed, jobs.StatusCancelled,
	} {
		stats.ByStatus[status] = counts[status]
		stats.Total += counts[status]
	}
	return stats, nil
}

// DeleteJob removes a terminal job record. Active jobs must be cancelled
// before they can be deleted.
func (o *Orchestrator) DeleteJob(ctx context.Context, jobID, ownerID string) error {
	job, err := o.ownedJob(ctx, jobID, ownerID)
	if err != nil {
		return err
	}
	if !jobs.IsTerminal(job.Status) {
		return fmt.Errorf("%w: job is still %s, cancel it first", jobs.ErrConflict, job.Status)
	}
	if err := o.jobs.Delete(ctx, jobID); err != nil {
		return err
	}
	if o.cache != nil {
		o.cache.Delete(jobID)
	}
	telemetry.Info("orchestrator.deleted", map[string]any{"job_id": jobID})
	return nil
}

// ListJobs returns the owner's jobs, newest first, optionally filtered by
// status.
func (o *Orchestrator) ListJobs(ctx context.Context, ownerID, status string, limit, offset int) ([]jobs.Job, error) {
	normalized, err := jobs.NormalizeStatusFilter(status)
	if err != nil {
		return nil, err
	}
	return o.jobs.ListByOwner(ctx, ownerID, normalized, limit, offset)
}

func (o *Orchestrator) enqueue(ctx context.Context, bookID, ownerID string, cfg jobs.GenerationConfig) (StartResult, error) {
	job := jobs.Job{
		ID:        uuid.NewString(),
		BookID:    bookID,
		OwnerID:   ownerID,
		Status:    jobs.StatusQueued,
		Stage:     jobs.StageOutline,
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		return StartResult{}, err
	}
	if o.cache != nil {
		o.cache.Set(jobs.Snapshot(job))
	}
	telemetry.Info("orchestrator.enqueued", map[string]any{
		"job_id":   job.ID,
		"book_id":  bookID,
		"chapters": cfg.ChapterCount,
	})
	return StartResult{JobID: job.ID, EstimatedMinutes: EstimateMinutes(cfg)}, nil
}

func (o *Orchestrator) requestCancel(ctx context.Context, job jobs.Job) error {
	if err := o.jobs.MarkCancelling(ctx, job.ID); err != nil {
		if errors.Is(err, jobs.ErrConflict) {
			// Re-read: the job reached a terminal status in the meantime.
			current, getErr := o.jobs.GetByID(ctx, job.ID)
			if getErr == nil && current.Status == jobs.StatusCancelled {
				return nil
			}
			return fmt.Errorf("%w: job is no longer cancellable", jobs.ErrConflict)
		}
		return err
	}
	o.signaler.Signal(job.ID)
	o.refreshSnapshot(ctx, job.ID)
	telemetry.Info("orchestrator.cancel_requested", map[string]any{"job_id": job.ID})
	return nil
}

func (o *Orchestrator) refreshSnapshot(ctx context.Context, jobID string) {
	if o.cache == nil {
		return
	}
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		o.cache.Delete(jobID)
		return
	}
	o.cache.Set(jobs.Snapshot(job))
}

func (o *Orchestrator) ownedBook(ctx context.Context, bookID, ownerID string) (books.Book, error) {
	book, err := o.books.GetByID(ctx, bookID)
	if err != nil {
		if errors.Is(err, books.ErrNotFound) {
			return books.Book{}, fmt.Errorf("%w: book %s", jobs.ErrNotFound, bookID)
		}
		return books.Book{}, err
	}
	if book.OwnerID != ownerID {
		// Foreign books look like missing ones.
		return books.Book{}, fmt.Errorf("%w: book %s", jobs.ErrNotFound, bookID)
	}
	return book, nil
}

func (o *Orchestrator) ownedJob(ctx context.Context, jobID, ownerID string) (jobs.Job, error) {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return jobs.Job{}, err
	}
	if job.OwnerID != ownerID {
		return jobs.Job{}, jobs.ErrNotFound
	}
	return job, nil
}
