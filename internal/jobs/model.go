package jobs

import (
	"fmt"
	"strings"
	"time"
)

// Job statuses. Queued jobs wait for a worker; cancelling is a transitional
// status while a worker winds down; completed, failed, and cancelled are
// terminal and immutable.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCancelling = "cancelling"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Pipeline stages in execution order.
const (
	StageOutline      = "outline"
	StageContent      = "content"
	StageIllustration = "illustration"
	StagePublish      = "publish"
	StageDone         = "done"
)

// IsTerminal reports whether the status admits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job represents one book generation run.
type Job struct {
	ID              string           `json:"id"`
	BookID          string           `json:"bookId"`
	OwnerID         string           `json:"ownerId"`
	Status          string           `json:"status"`
	Stage           string           `json:"stage"`
	ProgressPercent float64          `json:"progressPercent"`
	CurrentStep     string           `json:"currentStep,omitempty"`
	Config          GenerationConfig `json:"config"`
	Error           *JobError        `json:"error,omitempty"`
	ArtifactKey     string           `json:"artifactKey,omitempty"`
	Degraded        bool             `json:"degraded,omitempty"`
	CancelRequested bool             `json:"-"`
	CreatedAt       time.Time        `json:"createdAt"`
	StartedAt       *time.Time       `json:"startedAt,omitempty"`
	CompletedAt     *time.Time       `json:"completedAt,omitempty"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// GenerationConfig is the immutable configuration snapshot a job runs with.
type GenerationConfig struct {
	OutlineDepth         int    `json:"outlineDepth"`
	ChapterCount         int    `json:"chapterCount"`
	WordsPerChapter      int    `json:"wordsPerChapter"`
	IncludeIllustrations bool   `json:"includeIllustrations"`
	Tone                 string `json:"tone,omitempty"`
	Audience             string `json:"audience,omitempty"`
}

// Validate checks the configuration bounds.
func (c GenerationConfig) Validate() error {
	if c.OutlineDepth < 1 || c.OutlineDepth > 3 {
		return fmt.Errorf("%w: outlineDepth must be between 1 and 3", ErrValidation)
	}
	if c.ChapterCount < 1 || c.ChapterCount > 12 {
		return fmt.Errorf("%w: chapterCount must be between 1 and 12", ErrValidation)
	}
	if c.WordsPerChapter < 500 || c.WordsPerChapter > 5000 {
		return fmt.Errorf("%w: wordsPerChapter must be between 500 and 5000", ErrValidation)
	}
	return nil
}

// JobError is the structured failure recorded on a failed job.
type JobError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Stage     string            `json:"stage,omitempty"`
	Retryable bool              `json:"retryable"`
	Attempts  []ProviderAttempt `json:"attempts,omitempty"`
}

func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ProviderAttempt is one provider call recorded in a failure audit trail.
type ProviderAttempt struct {
	Provider  string `json:"provider"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable"`
}

// ProgressSnapshot is the read model served to progress polls and published
// as progress events.
type ProgressSnapshot struct {
	JobID       string    `json:"jobId"`
	BookID      string    `json:"bookId"`
	OwnerID     string    `json:"-"`
	Status      string    `json:"status"`
	Stage       string    `json:"stage"`
	Percentage  float64   `json:"percentage"`
	CurrentStep string    `json:"currentStep,omitempty"`
	ArtifactKey string    `json:"artifactKey,omitempty"`
	Degraded    bool      `json:"degraded,omitempty"`
	Error       *JobError `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Snapshot builds the read model for a job.
func Snapshot(job Job) ProgressSnapshot {
	return ProgressSnapshot{
		JobID:       job.ID,
		BookID:      job.BookID,
		OwnerID:     job.OwnerID,
		Status:      job.Status,
		Stage:       job.Stage,
		Percentage:  job.ProgressPercent,
		CurrentStep: job.CurrentStep,
		ArtifactKey: job.ArtifactKey,
		Degraded:    job.Degraded,
		Error:       job.Error,
		UpdatedAt:   job.UpdatedAt,
	}
}

// NormalizeStatusFilter validates an optional status filter for job listings.
func NormalizeStatusFilter(status string) (string, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", StatusQueued, StatusProcessing, StatusCancelling, StatusCompleted, StatusFailed, StatusCancelled:
		return status, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, status)
}
