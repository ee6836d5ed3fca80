package progresscache

import (
	"sync"
	"time"

	"bookforge-backend/internal/jobs"
)

// Cache is an in-memory TTL cache for progress snapshots. Stale entries are
// evicted lazily on read.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

type entry struct {
	snapshot  jobs.ProgressSnapshot
	expiresAt time.Time
}

// New constructs a cache with the given TTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the cached snapshot for the job, if fresh.
func (c *Cache) Get(jobID string) (jobs.ProgressSnapshot, bool) {
	c.mu.RLock()
	e, ok := c.entries[jobID]
	c.mu.RUnlock()
	if !ok {
		return jobs.ProgressSnapshot{}, false
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[jobID]; ok && c.now().After(cur.expiresAt) {
			delete(c.entries, jobID)
		}
		c.mu.Unlock()
		return jobs.ProgressSnapshot{}, false
	}
	return e.snapshot, true
}

// Set stores the snapshot, resetting its TTL.
func (c *Cache) Set(snapshot jobs.ProgressSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[snapshot.JobID] = entry{
		snapshot:  snapshot,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Delete removes the snapshot for the job.
func (c *Cache) Delete(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, jobID)
}
