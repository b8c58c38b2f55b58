// Package pipeline implements the job-run polling pipeline.
//
// For each workspace the pipeline pages through jobs/runs/list, filters each
// page by state, elapsed time and run name, applies the per-workspace limit,
// then enriches every surviving run with cluster and job metadata. Runs of
// streaming jobs are classified and dropped unless requested. The output is
// an EnrichedRunSet keyed by workspace URL.
//
// Workspaces are processed concurrently with a bounded number in flight.
// Pages and enrichment calls within one workspace are issued serially. A
// failure in one workspace yields an empty list for that workspace only.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/runwatch/pkg/jobrun"
	"github.com/3leaps/runwatch/pkg/resolver"
	"github.com/3leaps/runwatch/pkg/timeutil"
)

// EnrichedRunSet maps workspace URL to its ordered enriched runs.
type EnrichedRunSet map[string][]jobrun.Record

// Total returns the number of runs across all workspaces.
func (s EnrichedRunSet) Total() int {
	n := 0
	for _, runs := range s {
		n += len(runs)
	}
	return n
}

// WorkspaceStats summarizes one workspace's pass through the pipeline.
type WorkspaceStats struct {
	// Pages is the number of runs pages fetched.
	Pages int `json:"pages"`

	// Matched is the number of runs that passed the page filters.
	Matched int `json:"matched"`

	// Streaming is the number of matched runs classified as streaming.
	Streaming int `json:"streaming"`

	// Returned is the number of runs in the output.
	Returned int `json:"returned"`
}

// Result is the full outcome of one pipeline pass.
type Result struct {
	// Runs is the enriched output.
	Runs EnrichedRunSet

	// Stats holds per-workspace counters.
	Stats map[string]WorkspaceStats

	// Errors lists failed workspaces in poll order.
	Errors []*WorkspaceError

	// Started and Finished bracket the pass.
	Started  time.Time
	Finished time.Time
}

// Pipeline drives runs listing and enrichment.
type Pipeline struct {
	api      resolver.API
	clusters resolver.ClusterResolver
	jobs     resolver.JobResolver
	cfg      Config
}

// New creates a Pipeline.
//
// clusters and jobs are consulted during enrichment; passing the same
// resolver.Cached for both memoizes job lookups across runs.
func New(api resolver.API, clusters resolver.ClusterResolver, jobs resolver.JobResolver, cfg Config) *Pipeline {
	return &Pipeline{
		api:      api,
		clusters: clusters,
		jobs:     jobs,
		cfg:      cfg.withDefaults(),
	}
}

// GetJobRuns returns the enriched runs of every workspace.
//
// Every configured workspace is present in the result; failed workspaces map
// to an empty list.
func (p *Pipeline) GetJobRuns(ctx context.Context, opts Options) EnrichedRunSet {
	return p.Run(ctx, opts).Runs
}

// resetter is implemented by resolvers that memoize lookups, such as
// resolver.Cached. They are reset at the start of every pass so each
// pass sees fresh job metadata.
type resetter interface {
	Reset()
}

// Run executes one pipeline pass and returns runs, stats and errors.
func (p *Pipeline) Run(ctx context.Context, opts Options) Result {
	log := p.cfg.Logger
	for _, r := range []any{p.clusters, p.jobs} {
		if rs, ok := r.(resetter); ok {
			rs.Reset()
		}
	}
	if opts.Limit <= 0 {
		log.Warn("No limit set for job runs to fetch; this may take a while")
	}

	urls := p.api.Endpoints().URLs()
	type slot struct {
		runs  []jobrun.Record
		stats WorkspaceStats
		err   *WorkspaceError
	}
	slots := make([]slot, len(urls))
	for i := range slots {
		slots[i].runs = []jobrun.Record{}
	}

	res := Result{Started: p.cfg.Now()}

	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, base := range urls {
		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			for j := i; j < len(urls); j++ {
				slots[j].err = &WorkspaceError{Workspace: urls[j], Err: fmt.Errorf("%w: %w", ErrListRuns, ctx.Err())}
			}
			break
		}

		wg.Add(1)
		go func(i int, base string) {
			defer wg.Done()
			defer func() { <-sem }()

			runs, stats, err := p.workspace(ctx, base, opts)
			slots[i].stats = stats
			if err != nil {
				slots[i].err = err
				return
			}
			slots[i].runs = runs
		}(i, base)
	}
	wg.Wait()

	res.Runs = make(EnrichedRunSet, len(urls))
	res.Stats = make(map[string]WorkspaceStats, len(urls))
	for i, base := range urls {
		res.Runs[base] = slots[i].runs
		res.Stats[base] = slots[i].stats
		if slots[i].err != nil {
			res.Errors = append(res.Errors, slots[i].err)
		}
	}
	res.Finished = p.cfg.Now()
	return res
}

// workspace lists, enriches and shapes the runs of one workspace.
func (p *Pipeline) workspace(ctx context.Context, base string, opts Options) ([]jobrun.Record, WorkspaceStats, *WorkspaceError) {
	log := p.cfg.Logger.With(zap.String("workspace", base))

	runs, stats, err := p.ListRuns(ctx, base, opts)
	if err != nil {
		log.Error("Failed to get job runs; check that the token can access job runs", zap.Error(err))
		return nil, stats, err
	}

	out := make([]jobrun.Record, 0, len(runs))
	for _, run := range runs {
		rec, streaming := p.Enrich(ctx, base, run, opts)
		if streaming {
			stats.Streaming++
			if !opts.IncludeStreamingJobs {
				log.Debug("Dropping streaming run", zap.Int64("run_id", run.RunID), zap.Int64("job_id", run.JobID))
				continue
			}
		}
		out = append(out, p.shape(rec, opts))
	}
	stats.Returned = len(out)
	return out, stats, nil
}

// ListRuns pages through jobs/runs/list for the workspace at base and
// returns the runs that pass the page filters, truncated to opts.Limit.
//
// Pagination stops as soon as the limit is reached.
func (p *Pipeline) ListRuns(ctx context.Context, base string, opts Options) ([]jobrun.Run, WorkspaceStats, *WorkspaceError) {
	log := p.cfg.Logger.With(zap.String("workspace", base))
	params := url.Values{
		"active_only":  {strconv.FormatBool(opts.ActiveRunsOnly)},
		"limit":        {strconv.Itoa(p.cfg.PageSize)},
		"expand_tasks": {strconv.FormatBool(opts.ExpandTasks)},
	}

	var stats WorkspaceStats
	var out []jobrun.Run
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, stats, &WorkspaceError{Workspace: base, Page: page, Err: fmt.Errorf("%w: %w", ErrListRuns, err)}
		}

		resp := p.api.Get(ctx, base, "/jobs/runs/list", params)
		stats.Pages++
		if !resp.OK() {
			cause := resp.Err
			if cause == nil {
				cause = fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
			return nil, stats, &WorkspaceError{Workspace: base, StatusCode: resp.StatusCode, Page: page, Err: fmt.Errorf("%w: %w", ErrListRuns, cause)}
		}

		parsed, err := jobrun.ParsePage(resp.JSON())
		if err != nil {
			return nil, stats, &WorkspaceError{Workspace: base, StatusCode: resp.StatusCode, Page: page, Err: fmt.Errorf("%w: %w", ErrListRuns, err)}
		}

		kept := p.filter(parsed.Runs, opts)
		stats.Matched += len(kept)

		done := !parsed.HasMore()
		if opts.Limit > 0 && len(out)+len(kept) >= opts.Limit {
			kept = kept[:opts.Limit-len(out)]
			done = true
		}
		out = append(out, kept...)
		if len(out) > 0 {
			log.Info("Found compliant job runs so far", zap.Int("count", len(out)))
		}
		if done {
			return out, stats, nil
		}
		params.Set("page_token", parsed.NextPageToken)
	}
}

// filter applies the state, elapsed-time and run-name filters in that order.
func (p *Pipeline) filter(runs []jobrun.Run, opts Options) []jobrun.Run {
	now := p.cfg.Now()
	threshold := timeutil.HoursToMs(opts.OlderThanHours)

	kept := make([]jobrun.Run, 0, len(runs))
	for _, r := range runs {
		if opts.ActiveRunsOnly && !r.IsRunning() {
			continue
		}
		if opts.OlderThanHours > 0 && timeutil.MsSinceAt(r.StartTime, now) <= threshold {
			continue
		}
		if !opts.RunNames.Match(r.RunName) {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// Enrich builds the output record of run and reports whether it belongs to
// a streaming job. The run itself is not modified.
func (p *Pipeline) Enrich(ctx context.Context, base string, run jobrun.Run, opts Options) (jobrun.Record, bool) {
	rec := run.Record()

	if opts.AddClusterInfo {
		if info := p.clusterInfo(ctx, run); len(info) > 0 {
			rec.Merge(info)
		}
	}

	elapsed := timeutil.MsSinceAt(run.StartTime, p.cfg.Now())
	rec[jobrun.FieldTimeFromStart] = elapsed
	rec[jobrun.FieldTimeFromStartHours] = timeutil.MsToHours(elapsed)

	rec[jobrun.FieldContinuous] = p.jobs.JobIsContinuous(ctx, run.JobID)
	tags := p.jobs.JobTags(ctx, run.JobID)
	rec[jobrun.FieldJobTags] = tags

	return rec, tags.Has(p.cfg.StreamingTag)
}

// clusterInfo finds cluster metadata for run.
//
// The first RUNNING task with a cluster instance is resolved; when it cannot
// be resolved the run gets no cluster info. Only when no running task has a
// cluster instance is the last job_cluster_key seen on the tasks looked up
// among the run's job cluster specs, and a placeholder cluster synthesized
// from its node type.
func (p *Pipeline) clusterInfo(ctx context.Context, run jobrun.Run) jobrun.ClusterInfo {
	var key string
	for _, task := range run.Tasks {
		if task.JobClusterKey != "" {
			key = task.JobClusterKey
		}
		if task.State != jobrun.StateRunning || task.ClusterID == "" {
			continue
		}
		p.cfg.Logger.Debug("Resolving cluster of running task",
			zap.String("task_key", task.TaskKey),
			zap.String("cluster_id", task.ClusterID))
		if info, ok := p.clusters.ResolveCluster(ctx, task.ClusterID, true); ok && len(info) > 0 {
			return info
		}
		p.cfg.Logger.Info("Cluster of running task not found in any workspace",
			zap.Int64("run_id", run.RunID),
			zap.String("cluster_id", task.ClusterID))
		return nil
	}

	if key == "" {
		return nil
	}
	for _, jc := range run.JobClusters {
		if jc.Key == key && jc.NodeTypeID != "" {
			return jobrun.ClusterInfo{
				jobrun.FieldClusterID:        jobrun.Unavailable,
				jobrun.FieldClusterName:      key,
				jobrun.FieldNodeTypeID:       jc.NodeTypeID,
				jobrun.FieldDriverNodeTypeID: jc.NodeTypeID,
			}
		}
	}
	return nil
}

// shape applies simplification and cluster back-fill.
func (p *Pipeline) shape(rec jobrun.Record, opts Options) jobrun.Record {
	if opts.SimplifiedOutput {
		rec = rec.Project(jobrun.RunFields)
	}
	if opts.AddClusterInfo {
		for _, f := range jobrun.ClusterFields {
			if _, ok := rec[f]; !ok {
				rec[f] = jobrun.Unspecified
			}
		}
	}
	return rec
}
