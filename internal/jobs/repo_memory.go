package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores jobs in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Job
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Job)}
}

// Create stores the job.
func (r *MemoryRepo) Create(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job.UpdatedAt = time.Now().UTC()
	r.byID[job.ID] = job
	return nil
}

// GetByID returns a job by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, jobID string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.byID[jobID]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

// ListByOwner returns the owner's jobs, newest first.
func (r *MemoryRepo) ListByOwner(ctx context.Context, ownerID, status string, limit, offset int) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var owned []Job
	for _, job := range r.byID {
		if job.OwnerID != ownerID {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		owned = append(owned, job)
	}
	sort.Slice(owned, func(i, j int) bool {
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})
	if offset >= len(owned) {
		return nil, nil
	}
	owned = owned[offset:]
	if len(owned) > limit {
		owned = owned[:limit]
	}
	return owned, nil
}

// CountByStatus returns the owner's job counts keyed by status.
func (r *MemoryRepo) CountByStatus(ctx context.Context, ownerID string) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, job := range r.byID {
		if job.OwnerID == ownerID {
			counts[job.Status]++
		}
	}
	return counts, nil
}

// Delete removes a terminal job.
func (r *MemoryRepo) Delete(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[jobID]
	if !ok {
		return ErrNotFound
	}
	if !IsTerminal(job.Status) {
		return ErrConflict
	}
	delete(r.byID, jobID)
	return nil
}

// HasActiveForBook reports whether the book has a non-terminal job.
func (r *MemoryRepo) HasActiveForBook(ctx context.Context, bookID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, job := range r.byID {
		if job.BookID == bookID && !IsTerminal(job.Status) {
			return true, nil
		}
	}
	return false, nil
}

// ClaimNext claims the oldest queued job whose book has no job already
// running. The re-check closes the enqueue-time race that can leave two
// queued jobs for one book.
func (r *MemoryRepo) ClaimNext(ctx context.Context) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	busy := make(map[string]bool)
	for _, job := range r.byID {
		if job.Status == StatusProcessing || job.Status == StatusCancelling {
			busy[job.BookID] = true
		}
	}
	var oldest *Job
	for id := range r.byID {
		job := r.byID[id]
		if job.Status != StatusQueued || busy[job.BookID] {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			copied := job
			oldest = &copied
		}
	}
	if oldest == nil {
		return Job{}, ErrNoJob
	}
	now := time.Now().UTC()
	oldest.Status = StatusProcessing
	oldest.StartedAt = &now
	oldest.UpdatedAt = now
	r.byID[oldest.ID] = *oldest
	return *oldest, nil
}

// UpdateProgress persists a milestone with a monotone watermark.
func (r *MemoryRepo) UpdateProgress(ctx context.Context, jobID string, percent float64, stage, step string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status != StatusProcessing && job.Status != StatusCancelling {
		return ErrNotFound
	}
	if percent > job.ProgressPercent {
		job.ProgressPercent = percent
	}
	job.Stage = stage
	job.CurrentStep = step
	job.UpdatedAt = time.Now().UTC()
	r.byID[jobID] = job
	return nil
}

// CancelQueued transitions a still-queued job straight to cancelled.
func (r *MemoryRepo) CancelQueued(ctx context.Context, jobID string) error {
	return r.transition(ctx, jobID, []string{StatusQueued}, func(job *Job) {
		now := time.Now().UTC()
		job.Status = StatusCancelled
		job.CancelRequested = true
		job.CompletedAt = &now
	})
}

// MarkCancelling flags a processing job for cooperative cancellation.
func (r *MemoryRepo) MarkCancelling(ctx context.Context, jobID string) error {
	return r.transition(ctx, jobID, []string{StatusProcessing, StatusCancelling}, func(job *Job) {
		job.Status = StatusCancelling
		job.CancelRequested = true
	})
}

// CancelRequested reports whether cancellation has been requested.
func (r *MemoryRepo) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.byID[jobID]
	if !ok {
		return false, ErrNotFound
	}
	return job.CancelRequested, nil
}

// MarkCancelled finalizes a cancelling or processing job as cancelled.
func (r *MemoryRepo) MarkCancelled(ctx context.Context, jobID string) error {
	return r.transition(ctx, jobID, []string{StatusProcessing, StatusCancelling}, func(job *Job) {
		now := time.Now().UTC()
		job.Status = StatusCancelled
		job.CompletedAt = &now
	})
}

// Complete finalizes a successful job.
func (r *MemoryRepo) Complete(ctx context.Context, jobID, artifactKey string, degraded bool) error {
	return r.transition(ctx, jobID, []string{StatusProcessing, StatusCancelling}, func(job *Job) {
		now := time.Now().UTC()
		job.Status = StatusCompleted
		job.Stage = StageDone
		job.ProgressPercent = 100
		job.ArtifactKey = artifactKey
		job.Degraded = degraded
		job.CompletedAt = &now
	})
}

// Fail finalizes a failed job with its structured error.
func (r *MemoryRepo) Fail(ctx context.Context, jobID string, jobErr JobError) error {
	return r.transition(ctx, jobID, []string{StatusProcessing, StatusCancelling}, func(job *Job) {
		now := time.Now().UTC()
		job.Status = StatusFailed
		job.Error = &jobErr
		job.CompletedAt = &now
	})
}

func (r *MemoryRepo) transition(ctx context.Context, jobID string, from []string, apply func(*Job)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[jobID]
	if !ok {
		return ErrNotFound
	}
	allowed := false
	for _, status := range from {
		if job.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrConflict
	}
	apply(&job)
	job.UpdatedAt = time.Now().UTC()
	r.byID[jobID] = job
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
