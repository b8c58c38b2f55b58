package jobrun

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

// Parse errors.
var (
	// ErrMissingRuns indicates a runs page without a runs array.
	ErrMissingRuns = errors.New("runs page has no runs array")

	// ErrMalformedRun indicates a run lacking a required field.
	ErrMalformedRun = errors.New("malformed run")
)

// FieldError names the field a run failed validation on.
type FieldError struct {
	Index int
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("run %d: field %q: %v", e.Index, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Page is one page of a runs listing.
type Page struct {
	Runs          []Run
	NextPageToken string
	PrevPageToken string
}

// HasMore reports whether another page can be requested.
func (p Page) HasMore() bool {
	return p.NextPageToken != ""
}

// ParsePage extracts a runs page from a jobs/runs/list body.
//
// The API omits runs on an empty listing, so an object without runs that
// also has no further pages is an empty page. Without runs on a page that
// claims more, or with runs that is not an array, ErrMissingRuns is returned.
func ParsePage(body gjson.Result) (Page, error) {
	runs := body.Get("runs")
	if !runs.Exists() && body.IsObject() &&
		!body.Get("has_more").Bool() && body.Get("next_page_token").String() == "" {
		return Page{}, nil
	}
	if !runs.IsArray() {
		return Page{}, ErrMissingRuns
	}

	page := Page{
		NextPageToken: body.Get("next_page_token").String(),
		PrevPageToken: body.Get("prev_page_token").String(),
	}
	for i, item := range runs.Array() {
		run, err := parseRun(item)
		if err != nil {
			if fe, ok := err.(*FieldError); ok {
				fe.Index = i
			}
			return Page{}, err
		}
		page.Runs = append(page.Runs, run)
	}
	return page, nil
}

// ParseRun extracts a single run object, as returned by jobs/runs/get.
func ParseRun(body gjson.Result) (Run, error) {
	return parseRun(body)
}

func parseRun(item gjson.Result) (Run, error) {
	if !item.IsObject() {
		return Run{}, &FieldError{Field: "", Err: ErrMalformedRun}
	}

	runID := item.Get(FieldRunID)
	if runID.Type != gjson.Number {
		return Run{}, &FieldError{Field: FieldRunID, Err: ErrMalformedRun}
	}
	state := item.Get("status.state")
	if state.Type != gjson.String {
		return Run{}, &FieldError{Field: "status.state", Err: ErrMalformedRun}
	}
	start := item.Get(FieldStartTime)
	if start.Type != gjson.Number {
		return Run{}, &FieldError{Field: FieldStartTime, Err: ErrMalformedRun}
	}

	r := Run{
		RunID:           runID.Int(),
		JobID:           item.Get(FieldJobID).Int(),
		RunName:         item.Get(FieldRunName).String(),
		CreatorUserName: item.Get(FieldCreatorUserName).String(),
		RunPageURL:      item.Get(FieldRunPageURL).String(),
		State:           state.String(),
		StartTime:       start.Int(),
		raw:             json.RawMessage(item.Raw),
	}

	for _, t := range item.Get("tasks").Array() {
		r.Tasks = append(r.Tasks, Task{
			TaskKey:       t.Get("task_key").String(),
			State:         t.Get("status.state").String(),
			JobClusterKey: t.Get("job_cluster_key").String(),
			ClusterID:     t.Get("cluster_instance.cluster_id").String(),
		})
	}
	for _, jc := range item.Get("job_clusters").Array() {
		r.JobClusters = append(r.JobClusters, JobCluster{
			Key:        jc.Get("job_cluster_key").String(),
			NodeTypeID: jc.Get("new_cluster.node_type_id").String(),
		})
	}
	return r, nil
}

// ParseTags extracts settings.tags from a jobs/get body.
// A job without tags yields an empty, non-nil map.
func ParseTags(job gjson.Result) Tags {
	tags := Tags{}
	job.Get("settings.tags").ForEach(func(key, value gjson.Result) bool {
		tags[key.String()] = value.String()
		return true
	})
	return tags
}

// ParseClusterInfo decodes a clusters/get body into ClusterInfo.
func ParseClusterInfo(body gjson.Result) ClusterInfo {
	info := ClusterInfo{}
	if m, ok := body.Value().(map[string]any); ok {
		for k, v := range m {
			info[k] = v
		}
	}
	return info
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	case json.Number:
		return s.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
