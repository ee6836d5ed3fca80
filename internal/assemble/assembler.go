package assemble

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"bookforge-backend/internal/shared/storage/object"
)

// Document is the assembled book handed to the renderer.
type Document struct {
	Title    string
	Subtitle string
	Chapters []Chapter
}

// Chapter is one rendered chapter with its optional illustration note.
type Chapter struct {
	Number       int
	Title        string
	Body         string
	Illustration string
}

// WordCount counts the words across all chapter bodies.
func (d Document) WordCount() int {
	total := 0
	for _, chapter := range d.Chapters {
		total += len(strings.Fields(chapter.Body))
	}
	return total
}

// Assembler renders documents and uploads them to the object store.
type Assembler struct {
	store object.ObjectStore
}

// New constructs an Assembler over the store.
func New(store object.ObjectStore) *Assembler {
	return &Assembler{store: store}
}

// Render renders the document as a PDF.
func (a *Assembler) Render(doc Document) ([]byte, error) {
	data, err := RenderPDF(doc)
	if err != nil {
		return nil, fmt.Errorf("render artifact: %w", err)
	}
	return data, nil
}

// Upload stores rendered bytes under the book's namespace and returns the
// storage key.
func (a *Assembler) Upload(ctx context.Context, bookID, jobID string, data []byte) (string, error) {
	key := path.Join("books", bookID, jobID+".pdf")
	if _, err := a.store.SaveWithKey(ctx, key, "application/pdf", bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}
	return key, nil
}
