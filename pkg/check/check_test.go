package check

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/3leaps/runwatch/pkg/archive"
	"github.com/3leaps/runwatch/pkg/checkstore"
	"github.com/3leaps/runwatch/pkg/jobrun"
	"github.com/3leaps/runwatch/pkg/output"
	"github.com/3leaps/runwatch/pkg/pipeline"
	"github.com/3leaps/runwatch/pkg/restapi"
	"github.com/3leaps/runwatch/pkg/slack"
)

const (
	wsA = "https://a.example.com"
	wsB = "https://b.example.com"
)

type fakeSource struct {
	result pipeline.Result
	opts   pipeline.Options
}

func (f *fakeSource) Run(_ context.Context, opts pipeline.Options) pipeline.Result {
	f.opts = opts
	return f.result
}

type fakeNotifier struct {
	messages []slack.WorkspaceMessage
	failAt   int
}

func (f *fakeNotifier) PostWorkspacePayloads(_ context.Context, msgs []slack.WorkspaceMessage) ([]slack.PostResult, error) {
	f.messages = msgs
	var out []slack.PostResult
	var errs []error
	n := 0
	for _, m := range msgs {
		for i := range m.Payloads {
			n++
			res := slack.PostResult{Workspace: m.Workspace, Index: i, StatusCode: http.StatusOK}
			if n == f.failAt {
				res.StatusCode = http.StatusBadRequest
				res.Err = &slack.PostError{Workspace: m.Workspace, Index: i, StatusCode: http.StatusBadRequest, Body: "invalid_blocks"}
				errs = append(errs, res.Err)
			}
			out = append(out, res)
		}
	}
	return out, errors.Join(errs...)
}

func stuckRun(name string, hours float64) jobrun.Record {
	return jobrun.Record{
		"run_id":                int64(len(name)),
		"run_name":              name,
		"run_page_url":          "https://a.example.com/#job/1/run/1",
		"cluster_name":          "etl",
		"cluster_url":           jobrun.Unspecified,
		"time_from_start":       "5:30:00",
		"time_from_start_hours": hours,
		"job_tags":              jobrun.Tags{"team": "data"},
	}
}

func fixedClock() func() time.Time {
	t := time.Date(2025, 3, 20, 1, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func successResult() pipeline.Result {
	return pipeline.Result{
		Runs: pipeline.EnrichedRunSet{
			wsA: {stuckRun("nightly-etl", 5.5), stuckRun("nightly-etl", 6)},
			wsB: {},
		},
		Stats: map[string]pipeline.WorkspaceStats{
			wsA: {Pages: 1, Matched: 3, Streaming: 1, Returned: 2},
			wsB: {Pages: 1},
		},
	}
}

func lines(t *testing.T, data []byte) []gjson.Result {
	t.Helper()
	var out []gjson.Result
	for _, l := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		require.True(t, gjson.ValidBytes(l), "invalid JSON line: %s", l)
		out = append(out, gjson.ParseBytes(l))
	}
	return out
}

func TestRun_FullFlow(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	arch, err := archive.Open(ctx, archive.Config{URI: "file://" + filepath.ToSlash(filepath.Join(dir, "archive"))}, nil)
	require.NoError(t, err)
	store := checkstore.NewStore(filepath.Join(dir, "checks"))
	notifier := &fakeNotifier{}
	var stdout bytes.Buffer

	r, err := New(Config{
		Source:       &fakeSource{result: successResult()},
		Order:        []string{wsA, wsB},
		Notifier:     notifier,
		Archive:      arch,
		Store:        store,
		Output:       &stdout,
		ManifestPath: "alerts.yaml",
		NewID:        func() string { return "check-1" },
		Now:          fixedClock(),
	})
	require.NoError(t, err)

	rep, err := r.Run(ctx, pipeline.Options{OlderThanHours: 4})
	require.NoError(t, err)

	assert.Equal(t, checkstore.StateSuccess, rep.State)
	assert.Equal(t, "2025/03/20/check-1.jsonl", rep.ArchiveKey)
	assert.Equal(t, stdout.Bytes(), rep.JSONL)
	assert.Empty(t, rep.Errors)

	recs := lines(t, rep.JSONL)
	types := make([]string, len(recs))
	for i, rec := range recs {
		types[i] = rec.Get("type").String()
		assert.Equal(t, "check-1", rec.Get("check_id").String())
	}
	// two runs, one duration map, header+2 run payloads for wsA, summary
	assert.Equal(t, []string{
		output.TypeRun, output.TypeRun, output.TypeDuration,
		output.TypePost, output.TypePost, output.TypePost,
		output.TypeSummary,
	}, types)

	assert.Equal(t, 6.0, recs[2].Get("data.durations.nightly-etl_").Float())

	summary := recs[len(recs)-1].Get("data")
	assert.Equal(t, int64(2), summary.Get("workspaces").Int())
	assert.Equal(t, int64(2), summary.Get("runs").Int())
	assert.Equal(t, int64(1), summary.Get("streaming_excluded").Int())
	assert.Equal(t, int64(3), summary.Get("payloads_posted").Int())
	perWorkspace := summary.Get("per_workspace").Map()
	require.Contains(t, perWorkspace, wsB)
	assert.Equal(t, int64(2), perWorkspace[wsA].Int())

	require.Len(t, notifier.messages, 1, "empty workspaces are not posted")
	assert.Equal(t, wsA, notifier.messages[0].Workspace)

	archived, err := arch.Get(ctx, rep.ArchiveKey)
	require.NoError(t, err)
	assert.Equal(t, rep.JSONL, archived)

	stored, err := store.Get("check-1")
	require.NoError(t, err)
	assert.Equal(t, checkstore.StateSuccess, stored.State)
	assert.Equal(t, 2, stored.Runs)
	assert.Equal(t, 3, stored.PayloadsPosted)
	assert.Equal(t, "alerts.yaml", stored.ManifestPath)
	assert.Equal(t, rep.ArchiveKey, stored.ArchiveKey)
	require.NotNil(t, stored.EndedAt)
}

func TestRun_WorkspaceFailureIsPartial(t *testing.T) {
	res := successResult()
	res.Errors = []*pipeline.WorkspaceError{{
		Workspace:  wsB,
		StatusCode: http.StatusForbidden,
		Err:        fmt.Errorf("%w: unexpected status 403", pipeline.ErrListRuns),
	}}

	r, err := New(Config{Source: &fakeSource{result: res}, Order: []string{wsA, wsB}, NewID: func() string { return "c" }})
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), pipeline.Options{})
	require.NoError(t, err)
	assert.Equal(t, checkstore.StatePartial, rep.State)

	recs := lines(t, rep.JSONL)
	var wsErr gjson.Result
	for _, rec := range recs {
		if rec.Get("type").String() == output.TypeWorkspaceError {
			wsErr = rec.Get("data")
		}
	}
	require.True(t, wsErr.Exists())
	assert.Equal(t, wsB, wsErr.Get("workspace").String())
	assert.Equal(t, output.ErrCodeAccessDenied, wsErr.Get("code").String())
	assert.Equal(t, int64(1), recs[len(recs)-1].Get("data.workspaces_failed").Int())
}

func TestRun_AllWorkspacesFailed(t *testing.T) {
	res := pipeline.Result{
		Runs: pipeline.EnrichedRunSet{wsA: {}},
		Errors: []*pipeline.WorkspaceError{{
			Workspace: wsA,
			Err:       fmt.Errorf("%w: %w", pipeline.ErrListRuns, context.DeadlineExceeded),
		}},
	}
	store := checkstore.NewStore(t.TempDir())
	r, err := New(Config{Source: &fakeSource{result: res}, Order: []string{wsA}, Store: store, NewID: func() string { return "c" }})
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), pipeline.Options{})
	require.NoError(t, err)
	assert.Equal(t, checkstore.StateFailed, rep.State)

	stored, err := store.Get("c")
	require.NoError(t, err)
	assert.Equal(t, []string{wsA}, stored.FailedWorkspaces)
	assert.Equal(t, output.ErrCodeTimeout, workspaceErrorRecord(res.Errors[0]).Code)
}

func TestRun_PostFailureIsPartial(t *testing.T) {
	notifier := &fakeNotifier{failAt: 2}
	r, err := New(Config{Source: &fakeSource{result: successResult()}, Order: []string{wsA, wsB}, Notifier: notifier})
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), pipeline.Options{})
	require.NoError(t, err)
	assert.Equal(t, checkstore.StatePartial, rep.State)
	assert.Equal(t, 2, rep.Summary.PayloadsPosted)
	assert.Equal(t, 1, rep.Summary.PayloadsFailed)
	require.Len(t, rep.Errors, 1)

	var posts []gjson.Result
	for _, rec := range lines(t, rep.JSONL) {
		if rec.Get("type").String() == output.TypePost {
			posts = append(posts, rec.Get("data"))
		}
	}
	require.Len(t, posts, 3)
	assert.Contains(t, posts[1].Get("error").String(), "invalid_blocks")
	assert.Equal(t, int64(http.StatusBadRequest), posts[1].Get("status_code").Int())
}

func TestRun_PassesOptionsThrough(t *testing.T) {
	src := &fakeSource{result: pipeline.Result{Runs: pipeline.EnrichedRunSet{}}}
	r, err := New(Config{Source: src})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), pipeline.Options{OlderThanHours: 2, Limit: 7})
	require.NoError(t, err)
	assert.Equal(t, 2.0, src.opts.OlderThanHours)
	assert.Equal(t, 7, src.opts.Limit)
}

func TestNewRequiresSource(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestWorkspaceErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  *pipeline.WorkspaceError
		want string
	}{
		{"throttled", &pipeline.WorkspaceError{StatusCode: 429, Err: pipeline.ErrListRuns}, output.ErrCodeThrottled},
		{"malformed", &pipeline.WorkspaceError{StatusCode: 200, Err: pipeline.ErrListRuns}, output.ErrCodeMalformed},
		{"decode", &pipeline.WorkspaceError{StatusCode: 204, Err: fmt.Errorf("%w: %w", pipeline.ErrListRuns, restapi.ErrDecode)}, output.ErrCodeMalformed},
		{"transport", &pipeline.WorkspaceError{Err: fmt.Errorf("%w: %w", pipeline.ErrListRuns, restapi.ErrTransport)}, output.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, workspaceErrorRecord(tt.err).Code)
		})
	}
}
