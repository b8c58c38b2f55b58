// Package inventory provides read-only listings of workspace resources:
// node types, clusters, jobs and single job runs.
//
// Every listing is keyed by workspace base URL. A workspace whose listing
// fails is logged and maps to an empty result; the others are unaffected.
package inventory

import (
	"context"
	"errors"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/3leaps/runwatch/pkg/jobrun"
	"github.com/3leaps/runwatch/pkg/resolver"
	"github.com/3leaps/runwatch/pkg/restapi"
)

// ClusterPageSize is the clusters/list page size. Only the first page is read.
const ClusterPageSize = 100

// Job listing bounds imposed by jobs/list.
const (
	MinJobsLimit = 1
	MaxJobsLimit = 100
)

// ErrJobsLimitRange is returned when a jobs listing limit is outside [1, 100].
var ErrJobsLimitRange = errors.New("jobs limit must be in the range [1, 100]")

// Object is a decoded API object.
type Object = map[string]any

// Inventory issues listing calls against every configured workspace.
type Inventory struct {
	api    resolver.API
	logger *zap.Logger
}

// New creates an Inventory.
func New(api resolver.API, logger *zap.Logger) *Inventory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inventory{api: api, logger: logger}
}

// NodeTypes returns the clusters/list-node-types body of each workspace.
func (inv *Inventory) NodeTypes(ctx context.Context) map[string]Object {
	out := make(map[string]Object)
	for _, base := range inv.api.Endpoints().URLs() {
		resp := inv.api.Get(ctx, base, "/clusters/list-node-types", nil)
		if !resp.OK() {
			inv.logger.Error("Failed to list node types",
				zap.String("workspace", base),
				zap.Int("status_code", resp.StatusCode),
				zap.Error(resp.Err))
		}
		out[base] = resp.Body
	}
	return out
}

// Clusters returns up to ClusterPageSize clusters per workspace.
// When alive is set, only clusters in the RUNNING state are kept.
func (inv *Inventory) Clusters(ctx context.Context, alive bool) map[string][]Object {
	params := url.Values{"page_size": {strconv.Itoa(ClusterPageSize)}}
	out := make(map[string][]Object)
	for _, base := range inv.api.Endpoints().URLs() {
		resp := inv.api.Get(ctx, base, "/clusters/list", params)
		list, ok := objects(resp, "clusters")
		if !ok {
			inv.logger.Error("Failed to get clusters; check that the token can access clusters",
				zap.String("workspace", base),
				zap.Int("status_code", resp.StatusCode))
			out[base] = []Object{}
			continue
		}
		if alive {
			running := list[:0]
			for _, c := range list {
				if c["state"] == jobrun.StateRunning {
					inv.logger.Debug("Running cluster",
						zap.String("workspace", base),
						zap.Any("cluster_name", c["cluster_name"]),
						zap.Any("cluster_id", c["cluster_id"]))
					running = append(running, c)
				}
			}
			list = running
		}
		out[base] = list
	}
	return out
}

// Jobs returns up to limit jobs per workspace.
//
// A limit outside [MinJobsLimit, MaxJobsLimit] is a caller error: it is
// logged and an empty result is returned without issuing requests.
func (inv *Inventory) Jobs(ctx context.Context, limit int) map[string][]Object {
	if limit < MinJobsLimit || limit > MaxJobsLimit {
		inv.logger.Warn(ErrJobsLimitRange.Error(), zap.Int("limit", limit))
		return map[string][]Object{}
	}
	params := url.Values{"limit": {strconv.Itoa(limit)}}
	out := make(map[string][]Object)
	for _, base := range inv.api.Endpoints().URLs() {
		resp := inv.api.Get(ctx, base, "/jobs/list", params)
		list, ok := objects(resp, "jobs")
		if !ok {
			inv.logger.Error("Failed to get jobs; check that the token can access jobs",
				zap.String("workspace", base),
				zap.Int("status_code", resp.StatusCode))
			out[base] = []Object{}
			continue
		}
		out[base] = list
	}
	return out
}

// JobRun fetches a single run from the workspace at base.
func (inv *Inventory) JobRun(ctx context.Context, base string, runID int64, includeHistory, includeResolvedValues bool) restapi.Response {
	params := url.Values{
		"run_id":                  {strconv.FormatInt(runID, 10)},
		"include_history":         {strconv.FormatBool(includeHistory)},
		"include_resolved_values": {strconv.FormatBool(includeResolvedValues)},
	}
	return inv.api.Get(ctx, base, "/jobs/runs/get", params)
}

// objects extracts the array at key as decoded objects.
func objects(resp restapi.Response, key string) ([]Object, bool) {
	if !resp.Decoded {
		return nil, false
	}
	arr := resp.Get(key)
	if !arr.IsArray() {
		return nil, false
	}
	out := make([]Object, 0, len(arr.Array()))
	for _, item := range arr.Array() {
		if m, ok := item.Value().(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, true
}
