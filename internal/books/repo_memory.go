package books

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo stores books in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Book
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Book)}
}

// Create stores the book.
func (r *MemoryRepo) Create(ctx context.Context, book Book) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	book.UpdatedAt = time.Now().UTC()
	r.byID[book.ID] = book
	return nil
}

// GetByID returns a book by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, bookID string) (Book, error) {
	if err := ctx.Err(); err != nil {
		return Book{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	book, ok := r.byID[bookID]
	if !ok {
		return Book{}, ErrNotFound
	}
	return book, nil
}

// UpdateStatus updates the book status.
func (r *MemoryRepo) UpdateStatus(ctx context.Context, bookID, status string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	book, ok := r.byID[bookID]
	if !ok {
		return ErrNotFound
	}
	book.Status = status
	book.UpdatedAt = time.Now().UTC()
	r.byID[bookID] = book
	return nil
}

// SetArtifact stamps the book with the generated artifact and word count.
func (r *MemoryRepo) SetArtifact(ctx context.Context, bookID, artifactKey string, wordCount int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	book, ok := r.byID[bookID]
	if !ok {
		return ErrNotFound
	}
	book.ArtifactKey = artifactKey
	book.WordCount = wordCount
	book.Status = StatusReady
	book.UpdatedAt = time.Now().UTC()
	r.byID[bookID] = book
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
