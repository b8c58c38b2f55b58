package inventory

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/runwatch/pkg/restapi"
	"github.com/3leaps/runwatch/pkg/workspace"
)

type fakeAPI struct {
	set       *workspace.Set
	responses map[string]restapi.Response
	queries   []string
}

func newFakeAPI(t *testing.T, urls ...string) *fakeAPI {
	t.Helper()
	tokens := make([]string, len(urls))
	for i := range tokens {
		tokens[i] = "t"
	}
	set, err := workspace.New(urls, tokens, nil)
	require.NoError(t, err)
	return &fakeAPI{set: set, responses: map[string]restapi.Response{}}
}

func (f *fakeAPI) on(base, endpoint string, status int, body string) {
	f.responses[base+" "+endpoint] = restapi.NewResponse(status, []byte(body))
}

func (f *fakeAPI) Get(_ context.Context, base, endpoint string, params url.Values) restapi.Response {
	f.queries = append(f.queries, endpoint+"?"+params.Encode())
	if resp, ok := f.responses[base+" "+endpoint]; ok {
		return resp
	}
	return restapi.NewResponse(http.StatusForbidden, []byte(`{"error_code":"PERMISSION_DENIED"}`))
}

func (f *fakeAPI) Endpoints() *workspace.Set { return f.set }

const (
	wsA = "https://a.example.com"
	wsB = "https://b.example.com"
)

func TestClusters(t *testing.T) {
	api := newFakeAPI(t, wsA, wsB)
	api.on(wsA, "/clusters/list", http.StatusOK, `{"clusters":[
		{"cluster_id":"c-1","cluster_name":"etl","state":"RUNNING"},
		{"cluster_id":"c-2","cluster_name":"adhoc","state":"TERMINATED"}
	]}`)

	inv := New(api, nil)

	t.Run("alive keeps running clusters", func(t *testing.T) {
		got := inv.Clusters(context.Background(), true)
		require.Len(t, got[wsA], 1)
		assert.Equal(t, "c-1", got[wsA][0]["cluster_id"])
		assert.Equal(t, []Object{}, got[wsB], "failed workspace maps to empty")
	})

	t.Run("all clusters", func(t *testing.T) {
		got := inv.Clusters(context.Background(), false)
		assert.Len(t, got[wsA], 2)
	})

	assert.Contains(t, api.queries, "/clusters/list?page_size=100")
}

func TestJobs(t *testing.T) {
	api := newFakeAPI(t, wsA)
	api.on(wsA, "/jobs/list", http.StatusOK, `{"jobs":[{"job_id":1},{"job_id":2}]}`)
	inv := New(api, nil)

	got := inv.Jobs(context.Background(), 20)
	assert.Len(t, got[wsA], 2)
	assert.Equal(t, []string{"/jobs/list?limit=20"}, api.queries)

	for _, limit := range []int{0, -1, 101} {
		assert.Empty(t, inv.Jobs(context.Background(), limit))
	}
	assert.Len(t, api.queries, 1, "out-of-range limits issue no requests")
}

func TestNodeTypes(t *testing.T) {
	api := newFakeAPI(t, wsA, wsB)
	api.on(wsA, "/clusters/list-node-types", http.StatusOK, `{"node_types":[{"node_type_id":"i3.xlarge"}]}`)

	got := New(api, nil).NodeTypes(context.Background())
	require.Contains(t, got, wsA)
	require.Contains(t, got, wsB)
	assert.Contains(t, got[wsA], "node_types")
	assert.Equal(t, http.StatusForbidden, got[wsB][restapi.StatusCodeKey])
}

func TestJobRun(t *testing.T) {
	api := newFakeAPI(t, wsA)
	api.on(wsA, "/jobs/runs/get", http.StatusOK, `{"run_id":5,"status":{"state":"RUNNING"}}`)

	resp := New(api, nil).JobRun(context.Background(), wsA, 5, true, false)
	require.True(t, resp.OK())
	assert.Equal(t, "RUNNING", resp.Get("status.state").String())
	assert.Equal(t, []string{"/jobs/runs/get?include_history=true&include_resolved_values=false&run_id=5"}, api.queries)
}
