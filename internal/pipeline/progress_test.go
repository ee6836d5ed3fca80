package pipeline

import (
	"testing"

	"bookforge-backend/internal/jobs"
)

func TestWeightsSumTo100(t *testing.T) {
	withArt := WeightsFor(jobs.GenerationConfig{IncludeIllustrations: true})
	if sum := withArt.Outline + withArt.Content + withArt.Illustration + withArt.Publish; sum != 100 {
		t.Fatalf("weights with illustrations sum to %v", sum)
	}
	withoutArt := WeightsFor(jobs.GenerationConfig{})
	if sum := withoutArt.Outline + withoutArt.Content + withoutArt.Illustration + withoutArt.Publish; sum != 100 {
		t.Fatalf("weights without illustrations sum to %v", sum)
	}
	if withoutArt.Illustration != 0 {
		t.Fatalf("illustration weight = %v for disabled illustrations", withoutArt.Illustration)
	}
	if withoutArt.Publish != withArt.Publish+illustrationWeight {
		t.Fatalf("publish share %v does not absorb illustration share", withoutArt.Publish)
	}
}

func TestProgressSequenceFourChaptersNoIllustrations(t *testing.T) {
	w := WeightsFor(jobs.GenerationConfig{ChapterCount: 4})

	if got := w.OutlineDone(); got != 15 {
		t.Fatalf("outline done = %v, want 15", got)
	}
	wantChapters := []float64{27.5, 40, 52.5, 65}
	for i, want := range wantChapters {
		if got := w.ChapterDone(i+1, 4); got != want {
			t.Fatalf("chapter %d done = %v, want %v", i+1, got, want)
		}
	}
	if got := w.AssembleDone(); got != 95 {
		t.Fatalf("assemble done = %v, want 95", got)
	}
	if got := w.UploadDone(); got != 100 {
		t.Fatalf("upload done = %v, want 100", got)
	}
}

func TestProgressSequenceWithIllustrations(t *testing.T) {
	w := WeightsFor(jobs.GenerationConfig{ChapterCount: 2, IncludeIllustrations: true})

	if got := w.ChapterDone(2, 2); got != 65 {
		t.Fatalf("content done = %v, want 65", got)
	}
	if got := w.IllustrationDone(1, 2); got != 72.5 {
		t.Fatalf("illustration 1/2 = %v, want 72.5", got)
	}
	if got := w.IllustrationDone(2, 2); got != 80 {
		t.Fatalf("illustration 2/2 = %v, want 80", got)
	}
	if got := w.AssembleDone(); got != 95 {
		t.Fatalf("assemble done = %v, want 95", got)
	}
}

func TestProgressIsNonDecreasingAcrossMilestones(t *testing.T) {
	for _, include := range []bool{true, false} {
		w := WeightsFor(jobs.GenerationConfig{ChapterCount: 8, IncludeIllustrations: include})
		var seq []float64
		seq = append(seq, w.OutlineDone())
		for i := 1; i <= 8; i++ {
			seq = append(seq, w.ChapterDone(i, 8))
		}
		if include {
			for i := 1; i <= 8; i++ {
				seq = append(seq, w.IllustrationDone(i, 8))
			}
		}
		seq = append(seq, w.AssembleDone(), w.UploadDone())
		for i := 1; i < len(seq); i++ {
			if seq[i] < seq[i-1] {
				t.Fatalf("illustrations=%v: milestone %d (%v) below %v", include, i, seq[i], seq[i-1])
			}
		}
	}
}
