package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookforge-backend/internal/assemble"
	"bookforge-backend/internal/books"
	"bookforge-backend/internal/events"
	"bookforge-backend/internal/jobs"
	"bookforge-backend/internal/llm"
	"bookforge-backend/internal/progresscache"
	"bookforge-backend/internal/shared/metrics"
	"bookforge-backend/internal/shared/telemetry"
)

// Generator is the provider chain the stages call. Satisfied by *llm.Gateway.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (string, []llm.Attempt, error)
}

// Pipeline executes one generation job from outline through publish.
type Pipeline struct {
	repo         jobs.Repo
	books        books.Repo
	generator    Generator
	assembler    *assemble.Assembler
	publisher    events.Publisher
	cache        *progresscache.Cache
	stageRetries int
}

// Options configures a Pipeline.
type Options struct {
	Repo      jobs.Repo
	Books     books.Repo
	Generator Generator
	Assembler *assemble.Assembler
	Publisher events.Publisher
	Cache     *progresscache.Cache

	// StageRetries is the number of pipeline-level retries per stage after
	// the gateway's own budget is spent. Defaults to 1.
	StageRetries int
}

// New constructs a Pipeline.
func New(opts Options) *Pipeline {
	retries := opts.StageRetries
	if retries < 0 {
		retries = 0
	}
	if opts.StageRetries == 0 {
		retries = 1
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.LogPublisher{}
	}
	return &Pipeline{
		repo:         opts.Repo,
		books:        opts.Books,
		generator:    opts.Generator,
		assembler:    opts.Assembler,
		publisher:    publisher,
		cache:        opts.Cache,
		stageRetries: retries,
	}
}

// Run executes the job to a terminal status. The cancel channel is closed by
// the scheduler when a cancel request arrives for this job; the store's
// cancel flag is also checked at stage boundaries so requests routed to
// another instance still take effect.
func (p *Pipeline) Run(ctx context.Context, job jobs.Job, cancel <-chan struct{}) {
	start := time.Now()
	metrics.IncJobsStarted()

	book, err := p.books.GetByID(ctx, job.BookID)
	if err != nil {
		p.fail(ctx, job, jobs.JobError{
			Code:    jobs.ErrorCodeInternal,
			Message: fmt.Sprintf("load book: %v", err),
			Stage:   jobs.StageOutline,
		})
		return
	}
	if err := p.books.UpdateStatus(ctx, book.ID, books.StatusGenerating); err != nil {
		telemetry.Warn("pipeline.book_status", map[string]any{"book_id": book.ID, "error": err.Error()})
	}

	topic := book.Prompt
	if topic == "" {
		topic = book.Title
	}
	w := WeightsFor(job.Config)
	total := job.Config.ChapterCount
	var artifacts Artifacts

	p.milestone(ctx, &job, 0, jobs.StageOutline, "Generating book outline")

	// Outline stage.
	if p.cancelled(ctx, job.ID, cancel) {
		p.finishCancelled(ctx, job)
		return
	}
	err = p.runStage(ctx, job.ID, jobs.StageOutline, cancel, func() error {
		outline, err := p.generateOutline(ctx, topic, job.Config)
		if err != nil {
			return err
		}
		artifacts.Outline = outline
		return nil
	})
	if err != nil {
		p.finishError(ctx, job, jobs.StageOutline, err)
		return
	}

	// Content stage, one chapter at a time.
	for i := 0; i < total; i++ {
		if p.cancelled(ctx, job.ID, cancel) {
			p.finishCancelled(ctx, job)
			return
		}
		p.milestone(ctx, &job, w.ChapterDone(i, total), jobs.StageContent,
			fmt.Sprintf("Generating chapter %d/%d", i+1, total))

		idx := i
		err = p.runStage(ctx, job.ID, jobs.StageContent, cancel, func() error {
			chapter, err := p.generateChapter(ctx, artifacts.Outline, idx, job.Config)
			if err != nil {
				return err
			}
			artifacts.Chapters = append(artifacts.Chapters, chapter)
			return nil
		})
		if err != nil {
			p.finishError(ctx, job, jobs.StageContent, err)
			return
		}
	}

	// Illustration stage. Optional: a budget-exhausted failure degrades the
	// run instead of failing it.
	if job.Config.IncludeIllustrations {
		artifacts.Illustrations = make([]string, total)
		for i := 0; i < total; i++ {
			if p.cancelled(ctx, job.ID, cancel) {
				p.finishCancelled(ctx, job)
				return
			}
			p.milestone(ctx, &job, w.IllustrationDone(i, total), jobs.StageIllustration,
				fmt.Sprintf("Creating illustration %d/%d", i+1, total))

			idx := i
			err = p.runStage(ctx, job.ID, jobs.StageIllustration, cancel, func() error {
				description, err := p.generateIllustration(ctx, artifacts.Outline, idx)
				if err != nil {
					return err
				}
				artifacts.Illustrations[idx] = description
				return nil
			})
			if err != nil {
				if errors.Is(err, context.Canceled) {
					p.finishCancelled(ctx, job)
					return
				}
				artifacts.DegradedNote = fmt.Sprintf("illustrations unavailable from chapter %d: %v", i+1, summarize(err))
				metrics.IncJobsDegraded()
				telemetry.Warn("pipeline.illustrations_degraded", map[string]any{
					"job_id": job.ID, "chapter": i + 1, "error": summarize(err),
				})
				break
			}
		}
	}

	// Publish stage: assemble, then upload.
	if p.cancelled(ctx, job.ID, cancel) {
		p.finishCancelled(ctx, job)
		return
	}
	publishStart := w.ChapterDone(total, total)
	if job.Config.IncludeIllustrations {
		publishStart = w.IllustrationDone(total, total)
	}
	p.milestone(ctx, &job, publishStart, jobs.StagePublish, "Compiling book")

	doc := buildDocument(artifacts)
	var rendered []byte
	err = p.runStage(ctx, job.ID, jobs.StagePublish, cancel, func() error {
		data, err := p.assembler.Render(doc)
		if err != nil {
			return err
		}
		rendered = data
		return nil
	})
	if err != nil {
		p.finishError(ctx, job, jobs.StagePublish, err)
		return
	}
	p.milestone(ctx, &job, w.AssembleDone(), jobs.StagePublish, "Uploading book")

	err = p.runStage(ctx, job.ID, jobs.StagePublish, cancel, func() error {
		key, err := p.assembler.Upload(ctx, book.ID, job.ID, rendered)
		if err != nil {
			return err
		}
		artifacts.ArtifactKey = key
		return nil
	})
	if err != nil {
		p.finishError(ctx, job, jobs.StagePublish, err)
		return
	}

	degraded := artifacts.DegradedNote != ""
	if err := p.repo.Complete(ctx, job.ID, artifacts.ArtifactKey, degraded); err != nil {
		telemetry.Error("pipeline.complete", map[string]any{"job_id": job.ID, "error": err.Error()})
		return
	}
	if err := p.books.SetArtifact(ctx, book.ID, artifacts.ArtifactKey, doc.WordCount()); err != nil {
		telemetry.Warn("pipeline.book_artifact", map[string]any{"book_id": book.ID, "error": err.Error()})
	}

	job.Status = jobs.StatusCompleted
	job.Stage = jobs.StageDone
	job.ProgressPercent = 100
	job.CurrentStep = "Completed"
	job.ArtifactKey = artifacts.ArtifactKey
	job.Degraded = degraded
	p.broadcast(ctx, job)

	metrics.IncJobsCompleted()
	metrics.ObserveJobDurationMs(float64(time.Since(start).Milliseconds()))
	telemetry.Info("pipeline.completed", map[string]any{
		"job_id":      job.ID,
		"book_id":     book.ID,
		"artifact":    artifacts.ArtifactKey,
		"degraded":    degraded,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// runStage invokes fn with the pipeline-level stage retry budget.
func (p *Pipeline) runStage(ctx context.Context, jobID, stage string, cancel <-chan struct{}, fn func() error) error {
	start := time.Now()
	defer func() {
		metrics.ObserveStageDurationMs(float64(time.Since(start).Milliseconds()))
	}()

	var lastErr error
	for attempt := 0; attempt <= p.stageRetries; attempt++ {
		if p.cancelled(ctx, jobID, cancel) {
			return context.Canceled
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !stageRetryable(err) {
			return err
		}
		telemetry.Warn("pipeline.stage_retry", map[string]any{
			"job_id": jobID, "stage": stage, "attempt": attempt + 1, "error": summarize(err),
		})
	}
	return lastErr
}

// stageRetryable reports whether a whole-stage rerun could help. Provider
// exhaustion may be transient; content policy blocks and malformed
// configuration are not.
func stageRetryable(err error) bool {
	var exhausted *llm.ExhaustedError
	if errors.As(err, &exhausted) {
		var policyErr *llm.ContentPolicyError
		return !errors.As(exhausted.Last, &policyErr)
	}
	return llm.Retryable(err)
}

func (p *Pipeline) cancelled(ctx context.Context, jobID string, cancel <-chan struct{}) bool {
	select {
	case <-cancel:
		return true
	default:
	}
	requested, err := p.repo.CancelRequested(ctx, jobID)
	return err == nil && requested
}

// milestone persists a progress update and fans it out to the cache and the
// publisher. Store failures are logged, not fatal; the next milestone
// re-persists the watermark.
func (p *Pipeline) milestone(ctx context.Context, job *jobs.Job, percent float64, stage, step string) {
	if percent > job.ProgressPercent {
		job.ProgressPercent = percent
	}
	job.Stage = stage
	job.CurrentStep = step
	job.UpdatedAt = time.Now().UTC()

	if err := p.repo.UpdateProgress(ctx, job.ID, percent, stage, step); err != nil {
		telemetry.Warn("pipeline.progress", map[string]any{"job_id": job.ID, "error": err.Error()})
	}
	p.broadcast(ctx, *job)
}

func (p *Pipeline) broadcast(ctx context.Context, job jobs.Job) {
	snapshot := jobs.Snapshot(job)
	if p.cache != nil {
		p.cache.Set(snapshot)
	}
	if err := p.publisher.PublishProgress(ctx, snapshot); err != nil {
		telemetry.Warn("pipeline.publish", map[string]any{"job_id": job.ID, "error": err.Error()})
	}
}

func (p *Pipeline) finishCancelled(ctx context.Context, job jobs.Job) {
	if err := p.repo.MarkCancelled(ctx, job.ID); err != nil {
		telemetry.Warn("pipeline.cancel", map[string]any{"job_id": job.ID, "error": err.Error()})
	}
	if err := p.books.UpdateStatus(ctx, job.BookID, books.StatusDraft); err != nil {
		telemetry.Warn("pipeline.book_status", map[string]any{"book_id": job.BookID, "error": err.Error()})
	}

	now := time.Now().UTC()
	job.Status = jobs.StatusCancelled
	job.CompletedAt = &now
	job.CurrentStep = "Cancelled"
	p.broadcast(ctx, job)

	metrics.IncJobsCancelled()
	telemetry.Info("pipeline.cancelled", map[string]any{"job_id": job.ID, "book_id": job.BookID})
}

func (p *Pipeline) finishError(ctx context.Context, job jobs.Job, stage string, err error) {
	if errors.Is(err, context.Canceled) {
		p.finishCancelled(ctx, job)
		return
	}
	p.fail(ctx, job, stageJobError(stage, err))
}

func (p *Pipeline) fail(ctx context.Context, job jobs.Job, jobErr jobs.JobError) {
	if err := p.repo.Fail(ctx, job.ID, jobErr); err != nil {
		telemetry.Error("pipeline.fail", map[string]any{"job_id": job.ID, "error": err.Error()})
	}
	if err := p.books.UpdateStatus(ctx, job.BookID, books.StatusFailed); err != nil {
		telemetry.Warn("pipeline.book_status", map[string]any{"book_id": job.BookID, "error": err.Error()})
	}

	now := time.Now().UTC()
	job.Status = jobs.StatusFailed
	job.Error = &jobErr
	job.CompletedAt = &now
	p.broadcast(ctx, job)

	metrics.IncJobsFailed()
	telemetry.Error("pipeline.failed", map[string]any{
		"job_id":  job.ID,
		"book_id": job.BookID,
		"stage":   jobErr.Stage,
		"code":    jobErr.Code,
		"error":   jobErr.Message,
	})
}

// stageJobError maps a stage failure to the structured error persisted on
// the job, preserving the provider attempt chain where available.
func stageJobError(stage string, err error) jobs.JobError {
	var exhausted *llm.ExhaustedError
	if errors.As(err, &exhausted) {
		jobErr := jobs.JobError{
			Code:      jobs.ErrorCodeProvider,
			Message:   summarize(err),
			Stage:     stage,
			Retryable: true,
			Attempts:  mapAttempts(exhausted.Attempts),
		}
		var policyErr *llm.ContentPolicyError
		if errors.As(exhausted.Last, &policyErr) {
			jobErr.Code = jobs.ErrorCodeContentPolicy
			jobErr.Retryable = false
		}
		return jobErr
	}

	var policyErr *llm.ContentPolicyError
	if errors.As(err, &policyErr) {
		return jobs.JobError{
			Code:    jobs.ErrorCodeContentPolicy,
			Message: summarize(err),
			Stage:   stage,
		}
	}

	if stage == jobs.StagePublish {
		return jobs.JobError{
			Code:      jobs.ErrorCodeStorage,
			Message:   summarize(err),
			Stage:     stage,
			Retryable: true,
		}
	}

	return jobs.JobError{
		Code:      jobs.ErrorCodeInternal,
		Message:   summarize(err),
		Stage:     stage,
		Retryable: llm.Retryable(err),
	}
}

func mapAttempts(attempts []llm.Attempt) []jobs.ProviderAttempt {
	out := make([]jobs.ProviderAttempt, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, jobs.ProviderAttempt{
			Provider:  a.Provider,
			LatencyMs: a.Latency.Milliseconds(),
			Error:     a.Err,
			Retryable: a.Retryable,
		})
	}
	return out
}

func buildDocument(artifacts Artifacts) assemble.Document {
	doc := assemble.Document{Title: artifacts.Outline.Title}
	for i, chapter := range artifacts.Outline.Chapters {
		if i >= len(artifacts.Chapters) {
			break
		}
		entry := assemble.Chapter{
			Number: chapter.Number,
			Title:  chapter.Title,
			Body:   artifacts.Chapters[i],
		}
		if i < len(artifacts.Illustrations) {
			entry.Illustration = artifacts.Illustrations[i]
		}
		doc.Chapters = append(doc.Chapters, entry)
	}
	return doc
}

func summarize(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	const limit = 300
	runes := []rune(msg)
	if len(runes) > limit {
		msg = string(runes[:limit]) + "..."
	}
	return msg
}
