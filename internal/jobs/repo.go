package jobs

import "context"

// Repo defines persistence operations for generation jobs.
type Repo interface {
	Create(ctx context.Context, job Job) error
	GetByID(ctx context.Context, jobID string) (Job, error)
	ListByOwner(ctx context.Context, ownerID, status string, limit, offset int) ([]Job, error)

	// CountByStatus returns the owner's job counts keyed by status.
	CountByStatus(ctx context.Context, ownerID string) (map[string]int, error)

	// Delete removes a terminal job. Returns ErrConflict while the job is
	// still queued or running.
	Delete(ctx context.Context, jobID string) error

	// HasActiveForBook reports whether the book already has a job in a
	// non-terminal status.
	HasActiveForBook(ctx context.Context, bookID string) (bool, error)

	// ClaimNext atomically claims the oldest queued job, marking it
	// processing. Queued jobs whose book already has a running job are
	// skipped. Returns ErrNoJob when nothing is claimable.
	ClaimNext(ctx context.Context) (Job, error)

	// UpdateProgress persists a milestone. Progress only moves forward;
	// a lower percent than the stored one is kept at the stored value.
	UpdateProgress(ctx context.Context, jobID string, percent float64, stage, step string) error

	// CancelQueued transitions a still-queued job straight to cancelled.
	// Returns ErrConflict if the job is no longer queued.
	CancelQueued(ctx context.Context, jobID string) error

	// MarkCancelling flags a processing job for cooperative cancellation.
	MarkCancelling(ctx context.Context, jobID string) error

	// CancelRequested reports whether cancellation has been requested.
	CancelRequested(ctx context.Context, jobID string) (bool, error)

	// MarkCancelled finalizes a cancelling or processing job as cancelled.
	MarkCancelled(ctx context.Context, jobID string) error

	Complete(ctx context.Context, jobID, artifactKey string, degraded bool) error
	Fail(ctx context.Context, jobID string, jobErr JobError) error
}
