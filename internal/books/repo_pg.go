package books

import (
	"context"
	"database/sql"
	"errors"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Create inserts a new book.
func (r *PGRepo) Create(ctx context.Context, book Book) error {
	const query = `
INSERT INTO books (id, owner_id, title, prompt, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)`
	_, err := r.DB.ExecContext(ctx, query,
		book.ID,
		book.OwnerID,
		book.Title,
		book.Prompt,
		book.Status,
		book.CreatedAt,
	)
	return err
}

// GetByID returns a book by ID.
func (r *PGRepo) GetByID(ctx context.Context, bookID string) (Book, error) {
	const query = `
SELECT id, owner_id, title, prompt, status, artifact_key, word_count, created_at, updated_at
FROM books
WHERE id = $1
LIMIT 1`
	var b Book
	var artifactKey sql.NullString
	var wordCount sql.NullInt64
	err := r.DB.QueryRowContext(ctx, query, bookID).Scan(
		&b.ID,
		&b.OwnerID,
		&b.Title,
		&b.Prompt,
		&b.Status,
		&artifactKey,
		&wordCount,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Book{}, ErrNotFound
		}
		return Book{}, err
	}
	if artifactKey.Valid {
		b.ArtifactKey = artifactKey.String
	}
	if wordCount.Valid {
		b.WordCount = int(wordCount.Int64)
	}
	return b, nil
}

// UpdateStatus updates the book status.
func (r *PGRepo) UpdateStatus(ctx context.Context, bookID, status string) error {
	const query = `UPDATE books SET status = $1, updated_at = now() WHERE id = $2`
	res, err := r.DB.ExecContext(ctx, query, status, bookID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetArtifact stamps the book with the generated artifact and word count.
func (r *PGRepo) SetArtifact(ctx context.Context, bookID, artifactKey string, wordCount int) error {
	const query = `
UPDATE books
SET artifact_key = $1, word_count = $2, status = $3, updated_at = now()
WHERE id = $4`
	res, err := r.DB.ExecContext(ctx, query, artifactKey, wordCount, StatusReady, bookID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Repo = (*PGRepo)(nil)
