package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	jobsStartedTotal   atomic.Uint64
	jobsCompletedTotal atomic.Uint64
	jobsFailedTotal    atomic.Uint64
	jobsCancelledTotal atomic.Uint64
	jobsDegradedTotal  atomic.Uint64

	providerAttemptsTotal  atomic.Uint64
	providerFallbacksTotal atomic.Uint64

	jobDuration   = newHistogram([]float64{1000, 5000, 15000, 30000, 60000, 120000, 300000, 600000, 1800000})
	stageDuration = newHistogram([]float64{250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000})
)

// IncJobsStarted increments the started counter.
func IncJobsStarted() {
	jobsStartedTotal.Add(1)
}

// IncJobsCompleted increments the completed counter.
func IncJobsCompleted() {
	jobsCompletedTotal.Add(1)
}

// IncJobsFailed increments the failed counter.
func IncJobsFailed() {
	jobsFailedTotal.Add(1)
}

// IncJobsCancelled increments the cancelled counter.
func IncJobsCancelled() {
	jobsCancelledTotal.Add(1)
}

// IncJobsDegraded increments the degraded-result counter.
func IncJobsDegraded() {
	jobsDegradedTotal.Add(1)
}

// IncProviderAttempts increments the provider attempt counter.
func IncProviderAttempts() {
	providerAttemptsTotal.Add(1)
}

// IncProviderFallbacks increments the provider fallback counter.
func IncProviderFallbacks() {
	providerFallbacksTotal.Add(1)
}

// ObserveJobDurationMs records a whole-job duration in milliseconds.
func ObserveJobDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	jobDuration.Observe(value)
}

// ObserveStageDurationMs records a single-stage duration in milliseconds.
func ObserveStageDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	stageDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "generation_jobs_started_total", "Total generation jobs started", jobsStartedTotal.Load())
	writeCounter(&buf, "generation_jobs_completed_total", "Total generation jobs completed", jobsCompletedTotal.Load())
	writeCounter(&buf, "generation_jobs_failed_total", "Total generation jobs failed", jobsFailedTotal.Load())
	writeCounter(&buf, "generation_jobs_cancelled_total", "Total generation jobs cancelled", jobsCancelledTotal.Load())
	writeCounter(&buf, "generation_jobs_degraded_total", "Total generation jobs completed with degraded result", jobsDegradedTotal.Load())
	writeCounter(&buf, "generation_provider_attempts_total", "Total provider calls attempted", providerAttemptsTotal.Load())
	writeCounter(&buf, "generation_provider_fallbacks_total", "Total fallbacks to a lower-priority provider", providerFallbacksTotal.Load())
	writeHistogram(&buf, "generation_job_duration_ms", "Generation job duration in milliseconds", jobDuration.Snapshot())
	writeHistogram(&buf, "generation_stage_duration_ms", "Generation stage duration in milliseconds", stageDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// NowMillis returns current time in milliseconds, useful for callers without time utilities.
func NowMillis() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Millisecond)
}
