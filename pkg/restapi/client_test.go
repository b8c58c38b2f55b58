package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/3leaps/runwatch/pkg/workspace"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)

	set, err := workspace.New([]string{srv.URL}, []string{"secret-token"}, nil)
	require.NoError(t, err)

	opts = append([]Option{WithDoer(srv.Client())}, opts...)
	return New(set, opts...), srv
}

func TestClient_Get(t *testing.T) {
	var gotPath, gotAuth, gotQuery string
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"cluster_id":"c-1","num_workers":2}`))
	})

	resp := client.Get(context.Background(), srv.URL, "/clusters/get", url.Values{"cluster_id": {"c-1"}})

	require.True(t, resp.OK())
	assert.Equal(t, "/api/2.2/clusters/get", gotPath)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "cluster_id=c-1", gotQuery)
	assert.Equal(t, http.StatusOK, resp.Body[StatusCodeKey])
	assert.Equal(t, "c-1", resp.Body["cluster_id"])
	assert.Equal(t, int64(2), resp.Get("num_workers").Int())
}

func TestClient_GetWithoutParamsSendsNoQuery(t *testing.T) {
	var gotQuery string
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{}`))
	})

	resp := client.Get(context.Background(), srv.URL, "clusters/list-node-types", nil)
	require.True(t, resp.OK())
	assert.Empty(t, gotQuery)
	assert.Equal(t, map[string]any{StatusCodeKey: http.StatusOK}, resp.Body)
}

func TestClient_NonOKStatusKeepsBody(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error_code":"RESOURCE_DOES_NOT_EXIST"}`))
	})

	resp := client.Get(context.Background(), srv.URL, "/jobs/get", url.Values{"job_id": {"9"}})

	assert.False(t, resp.OK())
	assert.True(t, resp.Decoded)
	assert.NoError(t, resp.Err)
	assert.Equal(t, http.StatusNotFound, resp.Body[StatusCodeKey])
	assert.Equal(t, "RESOURCE_DOES_NOT_EXIST", resp.Body["error_code"])
}

func TestClient_UndecodableBody(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, WithLogger(zap.New(core)))

	resp := client.Get(context.Background(), srv.URL, "/jobs/runs/list", nil)

	assert.False(t, resp.OK())
	assert.False(t, resp.Decoded)
	assert.True(t, IsDecode(resp.Err))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.NotContains(t, resp.Body, StatusCodeKey)
	assert.False(t, resp.JSON().Exists())
	assert.Equal(t, 1, logs.Len())
}

func TestClient_NonObjectJSONIsUndecodable(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["not","an","object"]`))
	})

	resp := client.Get(context.Background(), srv.URL, "/jobs/list", nil)
	assert.True(t, IsDecode(resp.Err))
	assert.Equal(t, `["not","an","object"]`, string(resp.Raw))
}

func TestClient_UnknownWorkspace(t *testing.T) {
	var hits atomic.Int32
	core, logs := observer.New(zap.WarnLevel)
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}, WithLogger(zap.New(core)))

	resp := client.Get(context.Background(), "https://unknown.example.com", "/jobs/get", nil)

	assert.True(t, IsUnknownWorkspace(resp.Err))
	assert.False(t, resp.Sent())
	assert.Empty(t, resp.Body)
	assert.Equal(t, int32(0), hits.Load())
	assert.Equal(t, 1, logs.Len())
}

func TestClient_Post(t *testing.T) {
	t.Run("sends json payload", func(t *testing.T) {
		var got map[string]any
		client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = w.Write([]byte(`{}`))
		})

		resp := client.Post(context.Background(), srv.URL, "/secrets/scopes/create", map[string]any{"scope": "alerts"})

		require.True(t, resp.OK())
		assert.Equal(t, map[string]any{"scope": "alerts"}, got)
		assert.Equal(t, map[string]any{StatusCodeKey: http.StatusOK}, resp.Body)
	})

	t.Run("empty payload is skipped", func(t *testing.T) {
		var hits atomic.Int32
		client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
		})

		resp := client.Post(context.Background(), srv.URL, "/secrets/put", nil)

		assert.True(t, IsEmptyPayload(resp.Err))
		assert.Empty(t, resp.Body)
		assert.Equal(t, int32(0), hits.Load())
	})
}

type failingDoer struct{}

func (failingDoer) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestClient_TransportFailure(t *testing.T) {
	set, err := workspace.New([]string{"https://a.example.com"}, []string{"t"}, nil)
	require.NoError(t, err)
	client := New(set, WithDoer(failingDoer{}))

	resp := client.Get(context.Background(), "https://a.example.com", "/jobs/list", nil)
	assert.True(t, IsTransport(resp.Err))
	assert.False(t, resp.OK())
}

func TestClient_VersionOverride(t *testing.T) {
	var gotPath string
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"scopes":[]}`))
	})

	resp := client.WithVersion("2.0").Get(context.Background(), srv.URL, "/secrets/scopes/list", nil)
	require.True(t, resp.OK())
	assert.Equal(t, "/api/2.0/secrets/scopes/list", gotPath)

	// original client keeps its version
	assert.Equal(t, srv.URL+"/api/2.2/jobs/list", client.URL(srv.URL, "jobs/list"))
}

func TestClient_RateLimitHonorsCancellation(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}, WithRateLimit(0.001))

	// First request consumes the single burst token.
	require.True(t, client.Get(context.Background(), srv.URL, "/jobs/list", nil).OK())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := client.Get(ctx, srv.URL, "/jobs/list", nil)
	assert.True(t, IsTransport(resp.Err))
}
