package pipeline

import (
	"fmt"
	"strings"
)

// Outline is the book structure produced by the outline stage.
type Outline struct {
	Title    string           `json:"title"`
	Chapters []OutlineChapter `json:"chapters"`
}

// OutlineChapter is one planned chapter.
type OutlineChapter struct {
	Number   int      `json:"number"`
	Title    string   `json:"title"`
	Summary  string   `json:"summary,omitempty"`
	Sections []string `json:"sections,omitempty"`
}

// Validate checks the outline against the requested chapter count and
// normalizes chapter numbering.
func (o *Outline) Validate(chapterCount int) error {
	if strings.TrimSpace(o.Title) == "" {
		return fmt.Errorf("outline has no title")
	}
	if len(o.Chapters) == 0 {
		return fmt.Errorf("outline has no chapters")
	}
	if len(o.Chapters) > chapterCount {
		o.Chapters = o.Chapters[:chapterCount]
	}
	for i := range o.Chapters {
		o.Chapters[i].Number = i + 1
		if strings.TrimSpace(o.Chapters[i].Title) == "" {
			return fmt.Errorf("chapter %d has no title", i+1)
		}
	}
	return nil
}

// Artifacts carries the accumulated stage outputs through the run. It is
// owned by the executing job and passed by value between stages.
type Artifacts struct {
	Outline       Outline
	Chapters      []string
	Illustrations []string
	ArtifactKey   string
	DegradedNote  string
}
