package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"bookforge-backend/internal/jobs"
	"bookforge-backend/internal/shared/telemetry"
)

// NATSPublisher publishes progress snapshots on a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to NATS and returns a publisher on the subject.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	if subject == "" {
		return nil, fmt.Errorf("nats subject is required")
	}
	conn, err := nats.Connect(url,
		nats.Name("bookforge-progress"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

// PublishProgress publishes the snapshot as JSON. Failures are logged and
// swallowed so a broker outage never stalls the pipeline.
func (p *NATSPublisher) PublishProgress(ctx context.Context, snapshot jobs.ProgressSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode progress event: %w", err)
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		telemetry.Warn("events.publish_failed", map[string]any{
			"job_id":  snapshot.JobID,
			"subject": p.subject,
			"error":   err.Error(),
		})
	}
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

var _ Publisher = (*NATSPublisher)(nil)
