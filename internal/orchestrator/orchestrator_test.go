package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bookforge-backend/internal/books"
	"bookforge-backend/internal/jobs"
	"bookforge-backend/internal/progresscache"
)

type recordingSignaler struct {
	mu      sync.Mutex
	signals []string
}

func (s *recordingSignaler) Signal(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, jobID)
}

type fixture struct {
	jobs     *jobs.MemoryRepo
	books    *books.MemoryRepo
	cache    *progresscache.Cache
	signaler *recordingSignaler
	orch     *Orchestrator
}

func validConfig() jobs.GenerationConfig {
	return jobs.GenerationConfig{OutlineDepth: 1, ChapterCount: 4, WordsPerChapter: 1000}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		jobs:     jobs.NewMemoryRepo(),
		books:    books.NewMemoryRepo(),
		cache:    progresscache.New(time.Minute),
		signaler: &recordingSignaler{},
	}
	f.orch = New(f.jobs, f.books, f.cache, f.signaler)
	err := f.books.Create(context.Background(), books.Book{
		ID:      "book-1",
		OwnerID: "user-1",
		Title:   "A Book",
		Prompt:  "A book about gardens",
		Status:  books.StatusDraft,
	})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	return f
}

func TestStartGenerationEnqueuesJob(t *testing.T) {
	f := newFixture(t)

	result, err := f.orch.StartGeneration(context.Background(), "book-1", "user-1", validConfig())
	if err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	if result.JobID == "" {
		t.Fatal("empty job id")
	}
	if result.EstimatedMinutes < 1 {
		t.Fatalf("estimate = %d", result.EstimatedMinutes)
	}

	job, err := f.jobs.GetByID(context.Background(), result.JobID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job.Status != jobs.StatusQueued || job.Stage != jobs.StageOutline {
		t.Fatalf("job = %+v", job)
	}

	// The cache is seeded so an immediate poll hits.
	if _, ok := f.cache.Get(result.JobID); !ok {
		t.Fatal("cache not seeded on start")
	}
}

func TestStartGenerationValidatesConfig(t *testing.T) {
	f := newFixture(t)

	cfg := validConfig()
	cfg.ChapterCount = 50
	_, err := f.orch.StartGeneration(context.Background(), "book-1", "user-1", cfg)
	if !errors.Is(err, jobs.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestStartGenerationDuplicateActiveConflicts(t *testing.T) {
	f := newFixture(t)

	if _, err := f.orch.StartGeneration(context.Background(), "book-1", "user-1", validConfig()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	_, err := f.orch.StartGeneration(context.Background(), "book-1", "user-1", validConfig())
	if !errors.Is(err, jobs.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestStartGenerationForeignBookLooksMissing(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.StartGeneration(context.Background(), "book-1", "intruder", validConfig())
	if !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	_, err = f.orch.StartGeneration(context.Background(), "missing", "user-1", validConfig())
	if !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetProgressFallsBackToStore(t *testing.T) {
	f := newFixture(t)
	result, err := f.orch.StartGeneration(context.Background(), "book-1", "user-1", validConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	f.cache.Delete(result.JobID)
	snapshot, err := f.orch.GetProgress(context.Background(), result.JobID, "user-1")
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if snapshot.Status != jobs.StatusQueued || snapshot.JobID != result.JobID {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	// The store read repopulates the cache.
	if _, ok := f.cache.Get(result.JobID); !ok {
		t.Fatal("cache not repopulated")
	}
}

func TestGetProgressHidesForeignJobs(t *testing.T) {
	f := newFixture(t)
	result, err := f.orch.StartGeneration(context.Background(), "book-1", "user-1", validConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Cache hit path.
	if _, err := f.orch.GetProgress(context.Background(), result.JobID, "intruder"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	// Store path.
	f.cache.Delete(result.JobID)
	if _, err := f.orch.GetProgress(context.Background(), result.JobID, "intruder"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCancelQueuedJobIsImmediatelyTerminal(t *testing.T) {
	f := newFixture(t)
	result, err := f.orch.StartGeneration(context.Background(), "book-1", "user-1", validConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := f.orch.CancelGeneration(context.Background(), result.JobID, "user-1"); err != nil {
		t.Fatalf("CancelGeneration: %v", err)
	}
	job, _ := f.jobs.GetByID(context.Background(), result.JobID)
	if job.Status != jobs.StatusCancelled {
		t.Fatalf("status = %s", job.Status)
	}

	// Cancelling again is a no-op success.
	if err := f.orch.CancelGeneration(context.Background(), result.JobID, "user-1"); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
}

func TestCancelProcessingJobSignalsWorker(t *testing.T) {
	f := newFixture(t)
	result, err := f.orch.StartGeneration(context.Background(), "book-1", "user-1", validConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.jobs.ClaimNext(context.Background()); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := f.orch.CancelGeneration(context.Background(), result.JobID, "user-1"); err != nil {
		t.Fatalf("CancelGeneration: %v", err)
	}
	job, _ := f.jobs.GetByID(context.Background(), result.JobID)
	if job.Status != jobs.StatusCancelling || !job.CancelRequested {
		t.Fatalf("job = %+v", job)
	}
	if len(f.signaler.signals) != 1 || f.signaler.signals[0] != result.JobID {
		t.Fatalf("signals = %v", f.signaler.signals)
	}
}

func TestCancelTerminalJobConflicts(t *testing.T) {
	f := newFixture(t)
	result, err := f.orch.StartGeneration(context.Background(), "book-1", "user-1", validConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.jobs.ClaimNext(context.Background()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := f.jobs.Complete(context.Background(), result.JobID, "key", false); err != nil {
		t.Fatalf("complete: %v", err)
	}

	err = f.orch.CancelGeneration(context.Background(), result.JobID, "user-1")
	if !errors.Is(err, jobs.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestRetryRequiresFailedSource(t *testing.T) {
	f := newFixture(t)
	result, err := f.orch.StartGeneration(context.Background(), "book-1", "user-1", validConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Queued source conflicts.
	if _, err := f.orch.RetryGeneration(context.Background(), result.JobID, "user-1"); !errors.Is(err, jobs.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	if _, err := f.jobs.ClaimNext(context.Background()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	failure := jobs.JobError{Code: jobs.ErrorCodeProvider, Message: "exhausted", Stage: jobs.StageContent, Retryable: true}
	if err := f.jobs.Fail(context.Background(), result.JobID, failure); err != nil {
		t.Fatalf("fail: %v", err)
	}

	retried, err := f.orch.RetryGeneration(context.Background(), result.JobID, "user-1")
	if err != nil {
		t.Fatalf("RetryGeneration: %v", err)
	}
	if retried.JobID == result.JobID {
		t.Fatal("retry reused the job id")
	}

	// The failed job stays untouched as the audit record.
	old, _ := f.jobs.GetByID(context.Background(), result.JobID)
	if old.Status != jobs.StatusFailed || old.Error == nil {
		t.Fatalf("source job mutated: %+v", old)
	}

	fresh, _ := f.jobs.GetByID(context.Background(), retried.JobID)
	if fresh.Status != jobs.StatusQueued || fresh.ProgressPercent != 0 {
		t.Fatalf("new job = %+v", fresh)
	}
	if fresh.Config != old.Config {
		t.Fatalf("config not carried over: %+v vs %+v", fresh.Config, old.Config)
	}
}

func TestListJobsFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	result, err := f.orch.StartGeneration(context.Background(), "book-1", "user-1", validConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	listed, err := f.orch.ListJobs(context.Background(), "user-1", jobs.StatusQueued, 10, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != result.JobID {
		t.Fatalf("listed = %+v", listed)
	}

	listed, err = f.orch.ListJobs(context.Background(), "user-1", jobs.StatusFailed, 10, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("listed = %+v", listed)
	}

	if _, err := f.orch.ListJobs(context.Background(), "user-1", "bogus", 10, 0); !errors.Is(err, jobs.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestGetJobStatsCountsByStatus(t *testing.T) {
	f := newFixture(t)
	result, err := f.orch.StartGeneration(context.Background(), "book-1", "user-1", validConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.jobs.ClaimNext(context.Background()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	failure := jobs.JobError{Code: jobs.ErrorCodeProvider, Message: "exhausted", Stage: jobs.StageContent, Retryable: true}
	if err := f.jobs.Fail(context.Background(), result.JobID, failure); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, err := f.orch.RetryGeneration(context.Background(), result.JobID, "user-1"); err != nil {
		t.Fatalf("retry: %v", err)
	}

	stats, err := f.orch.GetJobStats(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetJobStats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("total = %d, want 2", stats.Total)
	}
	if stats.ByStatus[jobs.StatusFailed] != 1 || stats.ByStatus[jobs.StatusQueued] != 1 {
		t.Fatalf("byStatus = %v", stats.ByStatus)
	}
	// Unused statuses still appear, with zero counts.
	if count, ok := stats.ByStatus[jobs.StatusCompleted]; !ok || count != 0 {
		t.Fatalf("byStatus = %v, want completed present at 0", stats.ByStatus)
	}
}

func TestDeleteJobRequiresTerminalStatus(t *testing.T) {
	f := newFixture(t)
	result, err := f.orch.StartGeneration(context.Background(), "book-1", "user-1", validConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := f.orch.DeleteJob(context.Background(), result.JobID, "user-1"); !errors.Is(err, jobs.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict for queued job", err)
	}
	if err := f.orch.DeleteJob(context.Background(), result.JobID, "intruder"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for foreign owner", err)
	}

	if err := f.orch.CancelGeneration(context.Background(), result.JobID, "user-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := f.orch.DeleteJob(context.Background(), result.JobID, "user-1"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := f.jobs.GetByID(context.Background(), result.JobID); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after delete", err)
	}
	// The cached snapshot goes with the record.
	if _, ok := f.cache.Get(result.JobID); ok {
		t.Fatal("cache still holds deleted job")
	}
}

func TestEstimateMinutesScalesWithConfig(t *testing.T) {
	small := EstimateMinutes(jobs.GenerationConfig{OutlineDepth: 1, ChapterCount: 1, WordsPerChapter: 500})
	large := EstimateMinutes(jobs.GenerationConfig{OutlineDepth: 3, ChapterCount: 12, WordsPerChapter: 5000})
	if small < 1 {
		t.Fatalf("small estimate = %d", small)
	}
	if large <= small {
		t.Fatalf("large estimate %d not above small %d", large, small)
	}

	base := jobs.GenerationConfig{OutlineDepth: 1, ChapterCount: 8, WordsPerChapter: 2000}
	withArt := base
	withArt.IncludeIllustrations = true
	if EstimateMinutes(withArt) <= EstimateMinutes(base) {
		t.Fatal("illustrations do not increase the estimate")
	}
}
