// Package jobrun defines the job-run data model.
//
// Runs are parsed strictly at the API boundary into typed values that carry
// only what filtering and enrichment need. The full API object travels
// alongside as raw JSON and is materialized into a Record, a plain map,
// when the pipeline builds output. Records are what downstream consumers
// (formatters, JSONL output, the HTTP snapshot) see.
package jobrun

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Run lifecycle states as reported in status.state.
const (
	StateRunning     = "RUNNING"
	StateQueued      = "QUEUED"
	StatePending     = "PENDING"
	StateBlocked     = "BLOCKED"
	StateTerminating = "TERMINATING"
	StateTerminated  = "TERMINATED"
)

// Sentinel field values.
const (
	// Unspecified back-fills cluster fields a run could not be enriched with.
	Unspecified = "Unspecified"

	// Unavailable is the cluster id of a cluster synthesized from a job cluster spec.
	Unavailable = "Unavailable"

	// DefaultStreamingTag is the tag key that marks a job as streaming.
	DefaultStreamingTag = "streaming"
)

// Output field names.
const (
	FieldRunName            = "run_name"
	FieldCreatorUserName    = "creator_user_name"
	FieldRunPageURL         = "run_page_url"
	FieldFormat             = "format"
	FieldRunType            = "run_type"
	FieldStatus             = "status"
	FieldJobID              = "job_id"
	FieldRunID              = "run_id"
	FieldStartTime          = "start_time"
	FieldSetupDuration      = "setup_duration"
	FieldExecutionDuration  = "execution_duration"
	FieldCleanupDuration    = "cleanup_duration"
	FieldRunDuration        = "run_duration"
	FieldTimeFromStart      = "time_from_start"
	FieldTimeFromStartHours = "time_from_start_hours"
	FieldContinuous         = "continuous"
	FieldJobTags            = "job_tags"

	FieldClusterID        = "cluster_id"
	FieldClusterName      = "cluster_name"
	FieldClusterURL       = "cluster_url"
	FieldClusterCores     = "cluster_cores"
	FieldDriverNodeTypeID = "driver_node_type_id"
	FieldNodeTypeID       = "node_type_id"
	FieldNumWorkers       = "num_workers"
	FieldClusterMemoryMB  = "cluster_memory_mb"
)

// ClusterFields is the allow-list for simplified cluster info.
var ClusterFields = []string{
	FieldClusterID,
	FieldClusterName,
	FieldClusterURL,
	FieldClusterCores,
	FieldDriverNodeTypeID,
	FieldNodeTypeID,
	FieldNumWorkers,
	FieldClusterMemoryMB,
}

// StreamingFields are the enrichment fields derived from the parent job.
var StreamingFields = []string{
	FieldContinuous,
	FieldJobTags,
}

// RunFields is the allow-list for simplified run output.
var RunFields = append([]string{
	FieldRunName,
	FieldCreatorUserName,
	FieldRunPageURL,
	FieldFormat,
	FieldRunType,
	FieldStatus,
	FieldJobID,
	FieldRunID,
	FieldStartTime,
	FieldSetupDuration,
	FieldExecutionDuration,
	FieldCleanupDuration,
	FieldRunDuration,
	FieldTimeFromStart,
	FieldTimeFromStartHours,
}, append(append([]string{}, ClusterFields...), StreamingFields...)...)

// Run is a single execution of a job.
type Run struct {
	RunID           int64
	JobID           int64
	RunName         string
	CreatorUserName string
	RunPageURL      string
	State           string
	StartTime       int64
	Tasks           []Task
	JobClusters     []JobCluster

	raw json.RawMessage
}

// Task is a unit of work within a run.
type Task struct {
	TaskKey       string
	State         string
	JobClusterKey string

	// ClusterID is the id of the cluster instance the task runs on, if any.
	ClusterID string
}

// JobCluster is a cluster specification declared on the job.
type JobCluster struct {
	Key string

	// NodeTypeID is new_cluster.node_type_id; empty when not declared.
	NodeTypeID string
}

// IsRunning reports whether the run's state is RUNNING.
func (r Run) IsRunning() bool {
	return r.State == StateRunning
}

// Record materializes the full API object as a fresh Record.
//
// Each call returns an independent map, so callers may modify it freely.
// Numbers are kept as json.Number so ids and epoch times stay exact.
func (r Run) Record() Record {
	rec := Record{}
	if len(r.raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(r.raw))
		dec.UseNumber()
		_ = dec.Decode(&rec)
	}
	return rec
}

// Raw returns the run as received from the API.
func (r Run) Raw() json.RawMessage {
	return r.raw
}

// Record is a run in output form.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge copies every entry of src into r, overwriting existing keys.
func (r Record) Merge(src map[string]any) {
	for k, v := range src {
		r[k] = v
	}
}

// Project returns a new Record holding only the allowed fields present in r.
func (r Record) Project(allowed []string) Record {
	out := make(Record, len(allowed))
	for _, k := range allowed {
		if v, ok := r[k]; ok {
			out[k] = v
		}
	}
	return out
}

// String returns the value of key rendered as a string, or "" when absent.
func (r Record) String(key string) string {
	return stringify(r[key])
}

// Float returns the numeric value of key.
func (r Record) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// Tags returns the job_tags entry as Tags.
func (r Record) Tags() Tags {
	switch v := r[FieldJobTags].(type) {
	case Tags:
		return v
	case map[string]string:
		return Tags(v)
	case map[string]any:
		out := make(Tags, len(v))
		for k, val := range v {
			out[k] = stringify(val)
		}
		return out
	}
	return Tags{}
}

// ClusterInfo is cluster metadata keyed by API field name.
type ClusterInfo map[string]any

// Simplify projects c onto ClusterFields. Absent fields are omitted.
func (c ClusterInfo) Simplify() ClusterInfo {
	return ClusterInfo(Record(c).Project(ClusterFields))
}

// ID returns the cluster id.
func (c ClusterInfo) ID() string {
	return stringify(c[FieldClusterID])
}

// Tags are the key/value tags declared on a job. Values may be empty.
type Tags map[string]string

// Has reports whether key is present.
func (t Tags) Has(key string) bool {
	_, ok := t[key]
	return ok
}

// Keys returns the tag keys in sorted order.
func (t Tags) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
