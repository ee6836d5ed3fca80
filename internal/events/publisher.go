package events

import (
	"context"

	"bookforge-backend/internal/jobs"
)

// Publisher delivers progress snapshots to interested consumers. Delivery is
// best-effort and at-least-once; consumers reconcile by job ID and timestamp.
type Publisher interface {
	PublishProgress(ctx context.Context, snapshot jobs.ProgressSnapshot) error
	Close()
}
