package books

import "time"

// Book statuses tracked by generation runs.
const (
	StatusDraft      = "draft"
	StatusGenerating = "generating"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// Book is the document row generation jobs run against.
type Book struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Title       string    `json:"title"`
	Prompt      string    `json:"prompt"`
	Status      string    `json:"status"`
	ArtifactKey string    `json:"artifactKey,omitempty"`
	WordCount   int       `json:"wordCount,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
