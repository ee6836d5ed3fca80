package pipeline

import "bookforge-backend/internal/jobs"

// Stage weights sum to 100. When illustrations are disabled their share is
// folded into the publish stage so a run still lands exactly on 100.
const (
	outlineWeight      = 15.0
	contentWeight      = 50.0
	illustrationWeight = 15.0
	uploadWeight       = 5.0
)

// Weights is the percentage share of each stage for one run.
type Weights struct {
	Outline      float64
	Content      float64
	Illustration float64
	Publish      float64
}

// WeightsFor computes the stage weights for a configuration.
func WeightsFor(cfg jobs.GenerationConfig) Weights {
	w := Weights{
		Outline: outlineWeight,
		Content: contentWeight,
	}
	if cfg.IncludeIllustrations {
		w.Illustration = illustrationWeight
	}
	w.Publish = 100 - w.Outline - w.Content - w.Illustration
	return w
}

// OutlineDone returns the percent after the outline stage.
func (w Weights) OutlineDone() float64 {
	return w.Outline
}

// ChapterDone returns the percent after writing chapter done of total.
func (w Weights) ChapterDone(done, total int) float64 {
	return w.Outline + w.Content*float64(done)/float64(total)
}

// IllustrationDone returns the percent after illustrating chapter done of total.
func (w Weights) IllustrationDone(done, total int) float64 {
	return w.Outline + w.Content + w.Illustration*float64(done)/float64(total)
}

// AssembleDone returns the percent once the artifact is rendered, leaving
// only the upload.
func (w Weights) AssembleDone() float64 {
	return 100 - uploadWeight
}

// UploadDone returns the terminal percent.
func (w Weights) UploadDone() float64 {
	return 100
}
