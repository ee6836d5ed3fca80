package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"bookforge-backend/internal/jobs"
	"bookforge-backend/internal/shared/telemetry"
)

// Runner executes a claimed job to a terminal status. Satisfied by
// *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, job jobs.Job, cancel <-chan struct{})
}

// Scheduler runs a fixed-size worker pool over the job queue. Workers claim
// jobs FIFO from the store and poll when the queue is empty.
type Scheduler struct {
	repo         jobs.Repo
	runner       Runner
	workers      int
	pollInterval time.Duration

	mu      sync.Mutex
	cancels map[string]chan struct{}
	wg      sync.WaitGroup
}

// New constructs a scheduler with the given pool size.
func New(repo jobs.Repo, runner Runner, workers int, pollInterval time.Duration) *Scheduler {
	if workers <= 0 {
		workers = 2
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Scheduler{
		repo:         repo,
		runner:       runner,
		workers:      workers,
		pollInterval: pollInterval,
		cancels:      make(map[string]chan struct{}),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		worker := i
		go func() {
			defer s.wg.Done()
			s.runWorker(ctx, worker)
		}()
	}
	telemetry.Info("scheduler.started", map[string]any{"workers": s.workers})
}

// Signal notifies the worker executing jobID that cancellation was
// requested. A no-op when the job is not running on this instance.
func (s *Scheduler) Signal(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.cancels[jobID]; ok {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
}

// Wait blocks until all workers have drained or the timeout elapses.
// Returns true when the pool shut down cleanly.
func (s *Scheduler) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *Scheduler) runWorker(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := s.repo.ClaimNext(ctx)
		if err != nil {
			if errors.Is(err, jobs.ErrNoJob) {
				s.sleep(ctx)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			telemetry.Error("scheduler.claim", map[string]any{"worker": worker, "error": err.Error()})
			s.sleep(ctx)
			continue
		}

		telemetry.Info("scheduler.claimed", map[string]any{
			"worker":  worker,
			"job_id":  job.ID,
			"book_id": job.BookID,
		})
		cancel := s.register(job.ID)
		s.runner.Run(ctx, job, cancel)
		s.unregister(job.ID)
	}
}

func (s *Scheduler) register(jobID string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.cancels[jobID] = ch
	return ch
}

func (s *Scheduler) unregister(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, jobID)
}

func (s *Scheduler) sleep(ctx context.Context) {
	timer := time.NewTimer(s.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
