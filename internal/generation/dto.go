package generation

import "bookforge-backend/internal/jobs"

// StartRequest is the body for POST /generation/start.
type StartRequest struct {
	BookID string                `json:"bookId" binding:"required"`
	Config jobs.GenerationConfig `json:"config"`
}
