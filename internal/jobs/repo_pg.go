package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const jobColumns = `
id, book_id, owner_id, status, stage, progress_percent, current_step,
config, error, artifact_key, degraded, cancel_requested,
created_at, started_at, completed_at, updated_at`

// Create inserts a new job.
func (r *PGRepo) Create(ctx context.Context, job Job) error {
	const query = `
INSERT INTO generation_jobs (
	id, book_id, owner_id, status, stage, progress_percent, current_step,
	config, error, artifact_key, degraded, cancel_requested, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`
	configPayload, err := json.Marshal(job.Config)
	if err != nil {
		return err
	}
	var errPayload any
	if job.Error != nil {
		errPayload, err = json.Marshal(job.Error)
		if err != nil {
			return err
		}
	}
	_, err = r.DB.ExecContext(ctx, query,
		job.ID,
		job.BookID,
		job.OwnerID,
		job.Status,
		job.Stage,
		job.ProgressPercent,
		job.CurrentStep,
		configPayload,
		errPayload,
		nullIfEmpty(job.ArtifactKey),
		job.Degraded,
		job.CancelRequested,
		job.CreatedAt,
	)
	return err
}

// GetByID returns a job by ID.
func (r *PGRepo) GetByID(ctx context.Context, jobID string) (Job, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1 LIMIT 1`
	job, err := scanJob(r.DB.QueryRowContext(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}
	return job, nil
}

// ListByOwner returns the owner's jobs, newest first, optionally filtered by status.
func (r *PGRepo) ListByOwner(ctx context.Context, ownerID, status string, limit, offset int) ([]Job, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE owner_id = $1`
	args := []any{ownerID}
	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// CountByStatus returns the owner's job counts keyed by status.
func (r *PGRepo) CountByStatus(ctx context.Context, ownerID string) (map[string]int, error) {
	const query = `
SELECT status, COUNT(*)
FROM generation_jobs
WHERE owner_id = $1
GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// Delete removes a terminal job.
func (r *PGRepo) Delete(ctx context.Context, jobID string) error {
	const query = `
DELETE FROM generation_jobs
WHERE id = $1 AND status IN ('completed', 'failed', 'cancelled')`
	res, err := r.DB.ExecContext(ctx, query, jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, jobID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// HasActiveForBook reports whether the book has a non-terminal job.
func (r *PGRepo) HasActiveForBook(ctx context.Context, bookID string) (bool, error) {
	const query = `
SELECT EXISTS (
	SELECT 1 FROM generation_jobs
	WHERE book_id = $1 AND status IN ('queued', 'processing', 'cancelling')
)`
	var exists bool
	if err := r.DB.QueryRowContext(ctx, query, bookID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ClaimNext claims the oldest queued job whose book has no job already
// running. The CTE locks the candidate row so concurrent workers skip past
// each other instead of blocking; the NOT EXISTS re-check closes the
// enqueue-time race that can leave two queued jobs for one book.
func (r *PGRepo) ClaimNext(ctx context.Context) (Job, error) {
	query := `
WITH next_job AS (
	SELECT id FROM generation_jobs
	WHERE status = 'queued'
	  AND NOT EXISTS (
		SELECT 1 FROM generation_jobs active
		WHERE active.book_id = generation_jobs.book_id
		  AND active.status IN ('processing', 'cancelling')
	  )
	ORDER BY created_at
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
UPDATE generation_jobs
SET status = 'processing', started_at = now(), updated_at = now()
FROM next_job
WHERE generation_jobs.id = next_job.id
RETURNING ` + jobColumns
	job, err := scanJob(r.DB.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNoJob
		}
		return Job{}, err
	}
	return job, nil
}

// UpdateProgress persists a milestone with a monotone watermark.
func (r *PGRepo) UpdateProgress(ctx context.Context, jobID string, percent float64, stage, step string) error {
	const query = `
UPDATE generation_jobs
SET progress_percent = GREATEST(progress_percent, $1),
    stage = $2,
    current_step = $3,
    updated_at = now()
WHERE id = $4 AND status IN ('processing', 'cancelling')`
	res, err := r.DB.ExecContext(ctx, query, percent, stage, step, jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelQueued transitions a still-queued job straight to cancelled.
func (r *PGRepo) CancelQueued(ctx context.Context, jobID string) error {
	const query = `
UPDATE generation_jobs
SET status = 'cancelled', cancel_requested = TRUE, completed_at = now(), updated_at = now()
WHERE id = $1 AND status = 'queued'`
	res, err := r.DB.ExecContext(ctx, query, jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// MarkCancelling flags a processing job for cooperative cancellation.
func (r *PGRepo) MarkCancelling(ctx context.Context, jobID string) error {
	const query = `
UPDATE generation_jobs
SET status = 'cancelling', cancel_requested = TRUE, updated_at = now()
WHERE id = $1 AND status IN ('processing', 'cancelling')`
	res, err := r.DB.ExecContext(ctx, query, jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// CancelRequested reports whether cancellation has been requested.
func (r *PGRepo) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	const query = `SELECT cancel_requested FROM generation_jobs WHERE id = $1`
	var requested bool
	if err := r.DB.QueryRowContext(ctx, query, jobID).Scan(&requested); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	return requested, nil
}

// MarkCancelled finalizes a cancelling or processing job as cancelled.
func (r *PGRepo) MarkCancelled(ctx context.Context, jobID string) error {
	const query = `
UPDATE generation_jobs
SET status = 'cancelled', completed_at = now(), updated_at = now()
WHERE id = $1 AND status IN ('processing', 'cancelling')`
	res, err := r.DB.ExecContext(ctx, query, jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// Complete finalizes a successful job.
func (r *PGRepo) Complete(ctx context.Context, jobID, artifactKey string, degraded bool) error {
	const query = `
UPDATE generation_jobs
SET status = 'completed', stage = 'done', progress_percent = 100,
    artifact_key = $1, degraded = $2, completed_at = now(), updated_at = now()
WHERE id = $3 AND status IN ('processing', 'cancelling')`
	res, err := r.DB.ExecContext(ctx, query, artifactKey, degraded, jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// Fail finalizes a failed job with its structured error.
func (r *PGRepo) Fail(ctx context.Context, jobID string, jobErr JobError) error {
	const query = `
UPDATE generation_jobs
SET status = 'failed', error = $1, completed_at = now(), updated_at = now()
WHERE id = $2 AND status IN ('processing', 'cancelling')`
	payload, err := json.Marshal(jobErr)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, query, payload, jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var job Job
	var currentStep sql.NullString
	var configRaw []byte
	var errRaw []byte
	var artifactKey sql.NullString
	var startedAt sql.NullTime
	var completedAt sql.NullTime
	err := row.Scan(
		&job.ID,
		&job.BookID,
		&job.OwnerID,
		&job.Status,
		&job.Stage,
		&job.ProgressPercent,
		&currentStep,
		&configRaw,
		&errRaw,
		&artifactKey,
		&job.Degraded,
		&job.CancelRequested,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return Job{}, err
	}
	if currentStep.Valid {
		job.CurrentStep = currentStep.String
	}
	if len(configRaw) > 0 {
		if err := json.Unmarshal(configRaw, &job.Config); err != nil {
			return Job{}, fmt.Errorf("decode job config: %w", err)
		}
	}
	if len(errRaw) > 0 {
		var jobErr JobError
		if err := json.Unmarshal(errRaw, &jobErr); err == nil {
			job.Error = &jobErr
		}
	}
	if artifactKey.Valid {
		job.ArtifactKey = artifactKey.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return job, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Repo = (*PGRepo)(nil)
