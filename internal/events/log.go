package events

import (
	"context"

	"bookforge-backend/internal/jobs"
	"bookforge-backend/internal/shared/telemetry"
)

// LogPublisher writes progress events to the log. Used when no broker is
// configured (local development, tests).
type LogPublisher struct{}

// PublishProgress logs the snapshot.
func (LogPublisher) PublishProgress(ctx context.Context, snapshot jobs.ProgressSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	telemetry.Info("generation.progress", map[string]any{
		"job_id":     snapshot.JobID,
		"book_id":    snapshot.BookID,
		"status":     snapshot.Status,
		"stage":      snapshot.Stage,
		"percentage": snapshot.Percentage,
		"step":       snapshot.CurrentStep,
	})
	return nil
}

// Close is a no-op.
func (LogPublisher) Close() {}

var _ Publisher = LogPublisher{}
