package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"bookforge-backend/internal/books"
	"bookforge-backend/internal/jobs"
	"bookforge-backend/internal/orchestrator"
	"bookforge-backend/internal/progresscache"
)

type testEnv struct {
	router *gin.Engine
	jobs   *jobs.MemoryRepo
	books  *books.MemoryRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		jobs:  jobs.NewMemoryRepo(),
		books: books.NewMemoryRepo(),
	}
	orch := orchestrator.New(env.jobs, env.books, progresscache.New(time.Minute), nil)
	handler := NewHandler(orch)

	env.router = gin.New()
	env.router.Use(func(c *gin.Context) {
		c.Set("userId", "user-1")
		c.Next()
	})
	api := env.router.Group("/api")
	handler.RegisterRoutes(api)

	err := env.books.Create(context.Background(), books.Book{
		ID:      "book-1",
		OwnerID: "user-1",
		Title:   "A Book",
		Prompt:  "A book about gardens",
		Status:  books.StatusDraft,
	})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	return env
}

func startBody() string {
	return `{"bookId":"book-1","config":{"outlineDepth":1,"chapterCount":4,"wordsPerChapter":1000}}`
}

func (env *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)
	return resp
}

func TestStartReturnsAcceptedWithEstimate(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/generation/start", startBody())
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", resp.Code, resp.Body.String())
	}

	var result struct {
		JobID            string `json:"jobId"`
		EstimatedMinutes int    `json:"estimatedMinutes"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.JobID == "" || result.EstimatedMinutes < 1 {
		t.Fatalf("unexpected response: %+v", result)
	}
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	env := newTestEnv(t)

	body := `{"bookId":"book-1","config":{"outlineDepth":1,"chapterCount":99,"wordsPerChapter":1000}}`
	resp := env.do(t, http.MethodPost, "/api/generation/start", body)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "VALIDATION_ERROR") {
		t.Fatalf("body = %s", resp.Body.String())
	}
}

func TestStartRejectsMissingBookID(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/generation/start", `{"config":{"outlineDepth":1,"chapterCount":4,"wordsPerChapter":1000}}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestStartDuplicateActiveConflicts(t *testing.T) {
	env := newTestEnv(t)

	if resp := env.do(t, http.MethodPost, "/api/generation/start", startBody()); resp.Code != http.StatusAccepted {
		t.Fatalf("first start: %d", resp.Code)
	}
	resp := env.do(t, http.MethodPost, "/api/generation/start", startBody())
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "CONFLICT") {
		t.Fatalf("body = %s", resp.Body.String())
	}
}

func TestProgressRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	start := env.do(t, http.MethodPost, "/api/generation/start", startBody())
	var started struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(start.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode start: %v", err)
	}

	resp := env.do(t, http.MethodGet, "/api/generation/progress/"+started.JobID, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var snapshot jobs.ProgressSnapshot
	if err := json.Unmarshal(resp.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.JobID != started.JobID || snapshot.Status != jobs.StatusQueued {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	if snapshot.Percentage != 0 {
		t.Fatalf("percentage = %v", snapshot.Percentage)
	}
	// Owner identity never leaves the service.
	if strings.Contains(resp.Body.String(), "user-1") {
		t.Fatalf("owner id leaked: %s", resp.Body.String())
	}
}

func TestProgressUnknownJobReturns404(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/generation/progress/nope", "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "NOT_FOUND") {
		t.Fatalf("body = %s", resp.Body.String())
	}
}

func TestCancelQueuedJob(t *testing.T) {
	env := newTestEnv(t)

	start := env.do(t, http.MethodPost, "/api/generation/start", startBody())
	var started struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(start.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode start: %v", err)
	}

	resp := env.do(t, http.MethodPost, "/api/generation/cancel/"+started.JobID, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	job, err := env.jobs.GetByID(context.Background(), started.JobID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job.Status != jobs.StatusCancelled {
		t.Fatalf("status = %s", job.Status)
	}
}

func TestCancelCompletedJobConflicts(t *testing.T) {
	env := newTestEnv(t)

	start := env.do(t, http.MethodPost, "/api/generation/start", startBody())
	var started struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(start.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	if _, err := env.jobs.ClaimNext(context.Background()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := env.jobs.Complete(context.Background(), started.JobID, "books/book-1/a.pdf", false); err != nil {
		t.Fatalf("complete: %v", err)
	}

	resp := env.do(t, http.MethodPost, "/api/generation/cancel/"+started.JobID, "")
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestRetryFailedJob(t *testing.T) {
	env := newTestEnv(t)

	start := env.do(t, http.MethodPost, "/api/generation/start", startBody())
	var started struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(start.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	if _, err := env.jobs.ClaimNext(context.Background()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	failure := jobs.JobError{Code: jobs.ErrorCodeProvider, Message: "exhausted", Stage: jobs.StageContent, Retryable: true}
	if err := env.jobs.Fail(context.Background(), started.JobID, failure); err != nil {
		t.Fatalf("fail: %v", err)
	}

	resp := env.do(t, http.MethodPost, "/api/generation/retry/"+started.JobID, "")
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", resp.Code, resp.Body.String())
	}

	var retried struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &retried); err != nil {
		t.Fatalf("decode retry: %v", err)
	}
	if retried.JobID == "" || retried.JobID == started.JobID {
		t.Fatalf("retry job id = %q", retried.JobID)
	}
}

func TestStatsReturnsCountsForOwner(t *testing.T) {
	env := newTestEnv(t)

	if resp := env.do(t, http.MethodPost, "/api/generation/start", startBody()); resp.Code != http.StatusAccepted {
		t.Fatalf("start: %d", resp.Code)
	}

	resp := env.do(t, http.MethodGet, "/api/generation/stats", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var stats struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"byStatus"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 1 || stats.ByStatus[jobs.StatusQueued] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestDeleteJobOnlyWhenTerminal(t *testing.T) {
	env := newTestEnv(t)

	start := env.do(t, http.MethodPost, "/api/generation/start", startBody())
	var started struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(start.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode start: %v", err)
	}

	resp := env.do(t, http.MethodDelete, "/api/generation/jobs/"+started.JobID, "")
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409 for queued job, got %d", resp.Code)
	}

	if resp := env.do(t, http.MethodPost, "/api/generation/cancel/"+started.JobID, ""); resp.Code != http.StatusOK {
		t.Fatalf("cancel: %d", resp.Code)
	}
	resp = env.do(t, http.MethodDelete, "/api/generation/jobs/"+started.JobID, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	if resp := env.do(t, http.MethodGet, "/api/generation/progress/"+started.JobID, ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 after delete, got %d", resp.Code)
	}
}

func TestListJobsRejectsUnknownStatus(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/generation/jobs?status=bogus", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestListJobsReturnsOwnJobsOnly(t *testing.T) {
	env := newTestEnv(t)

	if resp := env.do(t, http.MethodPost, "/api/generation/start", startBody()); resp.Code != http.StatusAccepted {
		t.Fatalf("start: %d", resp.Code)
	}

	foreign := jobs.Job{
		ID:        "job-foreign",
		BookID:    "book-2",
		OwnerID:   "user-2",
		Status:    jobs.StatusQueued,
		Stage:     jobs.StageOutline,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := env.jobs.Create(context.Background(), foreign); err != nil {
		t.Fatalf("create foreign job: %v", err)
	}

	resp := env.do(t, http.MethodGet, "/api/generation/jobs", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var body struct {
		Jobs []jobs.Job `json:"jobs"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(body.Jobs) != 1 || body.Jobs[0].OwnerID != "user-1" {
		t.Fatalf("jobs = %+v", body.Jobs)
	}
}
