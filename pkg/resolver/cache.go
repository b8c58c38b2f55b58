package resolver

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/runwatch/pkg/jobrun"
)

// Cached memoizes job lookups for the lifetime of one check.
//
// A run's continuity and its tags both come from the same jobs/get call;
// Cached issues it once per job id. Only successful lookups are kept, and
// Reset drops them between checks. Cluster lookups are passed through
// unchanged. Cached is safe for concurrent use.
type Cached struct {
	clusters ClusterResolver
	jobs     JobResolver
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[int64]Job
}

var (
	_ ClusterResolver = (*Cached)(nil)
	_ JobResolver     = (*Cached)(nil)
)

// NewCached wraps p with per-check job memoization.
func NewCached(p *Sweep) *Cached {
	return &Cached{
		clusters: p,
		jobs:     p,
		logger:   p.logger,
		cache:    make(map[int64]Job),
	}
}

// ResolveCluster delegates to the wrapped resolver.
func (c *Cached) ResolveCluster(ctx context.Context, clusterID string, simplified bool) (jobrun.ClusterInfo, bool) {
	return c.clusters.ResolveCluster(ctx, clusterID, simplified)
}

// Job returns the memoized lookup for jobID, fetching it until one succeeds.
func (c *Cached) Job(ctx context.Context, jobID int64, simplified bool) (Job, bool) {
	c.mu.Lock()
	job, hit := c.cache[jobID]
	c.mu.Unlock()
	if hit {
		return job, true
	}

	job, ok := c.jobs.Job(ctx, jobID, simplified)
	if !ok || ctx.Err() != nil {
		return job, ok
	}

	c.mu.Lock()
	c.cache[jobID] = job
	c.mu.Unlock()
	return job, true
}

// Reset forgets every memoized job.
func (c *Cached) Reset() {
	c.mu.Lock()
	c.cache = make(map[int64]Job)
	c.mu.Unlock()
}

// JobTags returns settings.tags of jobID, or empty tags.
func (c *Cached) JobTags(ctx context.Context, jobID int64) jobrun.Tags {
	job, ok := c.Job(ctx, jobID, false)
	if !ok {
		return jobrun.Tags{}
	}
	return job.Tags()
}

// JobIsContinuous reports whether jobID declares settings.continuous.
func (c *Cached) JobIsContinuous(ctx context.Context, jobID int64) bool {
	job, _ := c.Job(ctx, jobID, false)
	return continuous(job, jobID, c.logger)
}

// Len returns the number of memoized job ids.
func (c *Cached) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}
