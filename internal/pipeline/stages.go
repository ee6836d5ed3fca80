package pipeline

import (
	"context"
	"fmt"

	"bookforge-backend/internal/jobs"
	"bookforge-backend/internal/llm"
)

// generateOutline runs the outline stage, repairing malformed JSON once
// before giving up on the payload.
func (p *Pipeline) generateOutline(ctx context.Context, topic string, cfg jobs.GenerationConfig) (Outline, error) {
	req := llm.OutlineRequest(topic, cfg.ChapterCount, cfg.OutlineDepth, cfg.Tone, cfg.Audience)
	content, _, err := p.generator.Generate(ctx, req)
	if err != nil {
		return Outline{}, err
	}

	var outline Outline
	if decodeErr := llm.DecodeJSON(content, &outline); decodeErr != nil {
		repaired, _, err := p.generator.Generate(ctx, llm.FixJSONRequest(content))
		if err != nil {
			return Outline{}, err
		}
		if err := llm.DecodeJSON(repaired, &outline); err != nil {
			return Outline{}, fmt.Errorf("outline payload: %w", err)
		}
	}
	if err := outline.Validate(cfg.ChapterCount); err != nil {
		return Outline{}, fmt.Errorf("outline: %w", err)
	}

	// Pad short outlines so every requested chapter gets written.
	for len(outline.Chapters) < cfg.ChapterCount {
		n := len(outline.Chapters) + 1
		outline.Chapters = append(outline.Chapters, OutlineChapter{
			Number: n,
			Title:  fmt.Sprintf("Chapter %d", n),
		})
	}
	return outline, nil
}

// generateChapter writes one chapter from its outline entry.
func (p *Pipeline) generateChapter(ctx context.Context, outline Outline, idx int, cfg jobs.GenerationConfig) (string, error) {
	chapter := outline.Chapters[idx]
	req := llm.ChapterRequest(
		outline.Title,
		chapter.Title,
		chapter.Summary,
		chapter.Number,
		len(outline.Chapters),
		cfg.WordsPerChapter,
		cfg.Tone,
		cfg.Audience,
	)
	content, _, err := p.generator.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", fmt.Errorf("chapter %d: empty content", chapter.Number)
	}
	return content, nil
}

// generateIllustration produces an illustration description for one chapter.
func (p *Pipeline) generateIllustration(ctx context.Context, outline Outline, idx int) (string, error) {
	chapter := outline.Chapters[idx]
	req := llm.IllustrationRequest(outline.Title, chapter.Title, chapter.Summary)
	content, _, err := p.generator.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return content, nil
}
