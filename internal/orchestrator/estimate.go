package orchestrator

import "bookforge-backend/internal/jobs"

// Per-stage cost model for the start response. Content scales with the
// total word target; illustrations add a flat per-chapter cost.
const (
	outlineMinutes      = 1
	publishMinutes      = 1
	wordsPerMinute      = 2000
	chaptersPerArtBlock = 4
)

// EstimateMinutes predicts the wall-clock duration of a run.
func EstimateMinutes(cfg jobs.GenerationConfig) int {
	totalWords := cfg.ChapterCount * cfg.WordsPerChapter
	content := (totalWords + wordsPerMinute - 1) / wordsPerMinute
	if content < 1 {
		content = 1
	}

	minutes := outlineMinutes + content + publishMinutes
	if cfg.IncludeIllustrations {
		minutes += (cfg.ChapterCount + chaptersPerArtBlock - 1) / chaptersPerArtBlock
	}
	return minutes
}
