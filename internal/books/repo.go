package books

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// Repo defines persistence operations for books.
type Repo interface {
	Create(ctx context.Context, book Book) error
	GetByID(ctx context.Context, bookID string) (Book, error)
	UpdateStatus(ctx context.Context, bookID, status string) error

	// SetArtifact stamps the book with the generated artifact and word count.
	SetArtifact(ctx context.Context, bookID, artifactKey string, wordCount int) error
}
