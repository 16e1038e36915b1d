// Package jobcache holds the in-process copy of recently mutated jobs.
// Entries are evicted by a periodic sweep once they have not been touched
// for the retention window.
package jobcache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
)

type entry struct {
	job     domain.Job
	touched time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	retention time.Duration
	now       func() time.Time
}

func New(retention time.Duration) *Cache {
	return &Cache{
		entries:   make(map[string]*entry),
		retention: retention,
		now:       time.Now,
	}
}

// Get returns a copy of the cached job.
func (c *Cache) Get(id string) (domain.Job, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return domain.Job{}, false
	}
	return e.job.Clone(), true
}

// Put stores the job unless the cache already holds a newer version.
func (c *Cache) Put(job domain.Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[job.ID]; ok && e.job.Version > job.Version {
		return
	}
	c.entries[job.ID] = &entry{job: job.Clone(), touched: c.now()}
}

// Update applies fn to the cached job under the cache lock and stores the
// result. fn must not call back into the cache.
func (c *Cache) Update(id string, fn func(*domain.Job) error) (domain.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	next := e.job.Clone()
	if err := fn(&next); err != nil {
		return e.job.Clone(), err
	}
	e.job = next
	e.touched = c.now()
	return next.Clone(), nil
}

// List returns cached jobs ordered by creation time, newest first.
func (c *Cache) List(limit, offset int) ([]domain.Job, int) {
	c.mu.RLock()
	jobs := make([]domain.Job, 0, len(c.entries))
	for _, e := range c.entries {
		jobs = append(jobs, e.job.Clone())
	}
	c.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	total := len(jobs)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []domain.Job{}, total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return jobs[offset:end], total
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep evicts entries untouched for longer than the retention window and
// returns how many were removed.
func (c *Cache) Sweep() int {
	cutoff := c.now().Add(-c.retention)
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, e := range c.entries {
		if e.touched.Before(cutoff) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Run sweeps on every tick until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, interval time.Duration, logger zerolog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				logger.Debug().Int("evicted", n).Int("remaining", c.Len()).Msg("job cache sweep")
			}
		}
	}
}
