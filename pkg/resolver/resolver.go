// Package resolver looks up clusters and jobs across a set of workspaces.
//
// Lookups are linear sweeps: workspaces are tried in the caller-supplied
// order and the first one answering 200 wins. Cluster and job ids are
// assumed globally unique across the configured workspaces; this is not
// enforced, and a collision silently resolves to the earliest workspace.
package resolver

import (
	"context"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/3leaps/runwatch/pkg/jobrun"
	"github.com/3leaps/runwatch/pkg/restapi"
	"github.com/3leaps/runwatch/pkg/workspace"
)

// API is the subset of restapi.Client the resolvers need.
type API interface {
	Get(ctx context.Context, base, endpoint string, params url.Values) restapi.Response
	Endpoints() *workspace.Set
}

var _ API = (*restapi.Client)(nil)

// ClusterResolver resolves cluster ids to cluster metadata.
type ClusterResolver interface {
	// ResolveCluster returns the cluster info for clusterID and whether it was found.
	ResolveCluster(ctx context.Context, clusterID string, simplified bool) (jobrun.ClusterInfo, bool)
}

// JobResolver resolves job ids to job metadata.
type JobResolver interface {
	// Job returns the jobs/get body for jobID and whether it was found.
	Job(ctx context.Context, jobID int64, simplified bool) (Job, bool)

	// JobTags returns the tags declared on jobID; empty when not found.
	JobTags(ctx context.Context, jobID int64) jobrun.Tags

	// JobIsContinuous reports whether jobID declares a continuous schedule.
	JobIsContinuous(ctx context.Context, jobID int64) bool
}

// Job is a resolved job definition.
type Job struct {
	// Workspace is the base URL the job was found in.
	Workspace string

	// Body is the decoded jobs/get response.
	Body map[string]any

	resp restapi.Response
}

// HasSettings reports whether the job body carries a settings object.
func (j Job) HasSettings() bool {
	return j.resp.Get("settings").IsObject()
}

// IsContinuous reports whether settings.continuous is declared.
func (j Job) IsContinuous() bool {
	return j.resp.Get("settings.continuous").Exists()
}

// Tags returns settings.tags.
func (j Job) Tags() jobrun.Tags {
	return jobrun.ParseTags(j.resp.JSON())
}

// Sweep implements ClusterResolver and JobResolver by trying every
// workspace in order.
type Sweep struct {
	api    API
	logger *zap.Logger
}

var (
	_ ClusterResolver = (*Sweep)(nil)
	_ JobResolver     = (*Sweep)(nil)
)

// New creates a Sweep.
func New(api API, logger *zap.Logger) *Sweep {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweep{api: api, logger: logger}
}

// ResolveCluster tries clusters/get across workspaces.
//
// The returned info carries cluster_url derived from the winning workspace.
// When simplified, it is projected onto jobrun.ClusterFields.
func (p *Sweep) ResolveCluster(ctx context.Context, clusterID string, simplified bool) (jobrun.ClusterInfo, bool) {
	params := url.Values{"cluster_id": {clusterID}}
	for _, base := range p.api.Endpoints().URLs() {
		resp := p.api.Get(ctx, base, "/clusters/get", params)
		if !resp.OK() {
			continue
		}
		p.logger.Info("Cluster found",
			zap.String("cluster_id", clusterID),
			zap.String("workspace", base))

		info := make(jobrun.ClusterInfo, len(resp.Body)+1)
		for k, v := range resp.Body {
			info[k] = v
		}
		info[jobrun.FieldClusterURL] = workspace.ClusterURL(base, clusterID)
		if simplified {
			info = info.Simplify()
		}
		return info, true
	}
	p.logger.Info("Cluster not found in any configured workspace", zap.String("cluster_id", clusterID))
	return nil, false
}

// Job tries jobs/get across workspaces.
//
// simplified is accepted for interface symmetry with ResolveCluster and
// currently returns the full job body.
func (p *Sweep) Job(ctx context.Context, jobID int64, simplified bool) (Job, bool) {
	params := url.Values{"job_id": {strconv.FormatInt(jobID, 10)}}
	for _, base := range p.api.Endpoints().URLs() {
		resp := p.api.Get(ctx, base, "/jobs/get", params)
		if !resp.OK() {
			continue
		}
		p.logger.Info("Job found",
			zap.Int64("job_id", jobID),
			zap.String("workspace", base))
		return Job{Workspace: base, Body: resp.Body, resp: resp}, true
	}
	p.logger.Info("Job not found in any configured workspace", zap.Int64("job_id", jobID))
	return Job{}, false
}

// JobTags returns settings.tags of jobID, or empty tags.
func (p *Sweep) JobTags(ctx context.Context, jobID int64) jobrun.Tags {
	job, ok := p.Job(ctx, jobID, false)
	if !ok {
		return jobrun.Tags{}
	}
	return job.Tags()
}

// JobIsContinuous reports whether jobID declares settings.continuous.
//
// A job that cannot be fetched, or has no settings, is reported as not
// continuous with a warning.
func (p *Sweep) JobIsContinuous(ctx context.Context, jobID int64) bool {
	job, _ := p.Job(ctx, jobID, false)
	return continuous(job, jobID, p.logger)
}

func continuous(job Job, jobID int64, logger *zap.Logger) bool {
	if !job.HasSettings() {
		logger.Warn("Job has no settings; cannot determine whether it is continuous",
			zap.Int64("job_id", jobID))
		return false
	}
	return job.IsContinuous()
}
