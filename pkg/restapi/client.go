// Package restapi is the authenticated request layer for the job
// orchestration platform's REST API.
//
// Every call returns a Response value rather than a Go error. Transport
// failures, undecodable bodies, unknown workspaces and empty write payloads
// are all reported through Response.Err and logged, so callers iterating
// many workspaces can degrade one workspace without aborting the rest.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/runwatch/pkg/workspace"
)

// DefaultAPIVersion is the REST API version used for jobs and clusters.
const DefaultAPIVersion = "2.2"

// DefaultTimeout bounds a single request when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// StatusCodeKey is the reserved body key that carries the HTTP status code.
const StatusCodeKey = "http_status_code"

// maxBodyBytes caps how much of a response body is read into memory.
const maxBodyBytes = 32 << 20

// Sentinel errors reported through Response.Err.
var (
	// ErrUnknownWorkspace indicates a request targeted a workspace with no registered token.
	ErrUnknownWorkspace = errors.New("no token registered for workspace")

	// ErrEmptyPayload indicates a write request was issued without a payload.
	ErrEmptyPayload = errors.New("write request requires a payload")

	// ErrTransport indicates the request could not be sent or the body could not be read.
	ErrTransport = errors.New("transport failure")

	// ErrDecode indicates the response body was not a JSON object.
	ErrDecode = errors.New("response body is not a json object")
)

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues authenticated requests against a set of workspaces.
//
// Client is safe for concurrent use.
type Client struct {
	endpoints  *workspace.Set
	doer       Doer
	apiVersion string
	timeout    time.Duration
	limiter    *rate.Limiter
	userAgent  string
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithDoer sets the HTTP executor. Defaults to a new *http.Client.
func WithDoer(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.doer = d
		}
	}
}

// WithAPIVersion overrides the "<version>" segment of /api/<version>/.
func WithAPIVersion(v string) Option {
	return func(c *Client) {
		if v = strings.TrimSpace(v); v != "" {
			c.apiVersion = v
		}
	}
}

// WithTimeout bounds each request. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit caps requests per second across all workspaces.
// Zero or negative disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client for the given workspace set.
func New(endpoints *workspace.Set, opts ...Option) *Client {
	c := &Client{
		endpoints:  endpoints,
		doer:       &http.Client{},
		apiVersion: DefaultAPIVersion,
		timeout:    DefaultTimeout,
		userAgent:  "runwatch",
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoints returns the workspace set the client serves.
func (c *Client) Endpoints() *workspace.Set {
	return c.endpoints
}

// WithVersion returns a copy of c that targets a different API version.
func (c *Client) WithVersion(v string) *Client {
	clone := *c
	WithAPIVersion(v)(&clone)
	return &clone
}

// Get performs an authenticated GET of endpoint on the workspace at base.
//
// endpoint is a path relative to /api/<version>/, with or without a leading
// slash. params may be nil.
func (c *Client) Get(ctx context.Context, base, endpoint string, params url.Values) Response {
	return c.do(ctx, http.MethodGet, base, endpoint, params, nil)
}

// Post performs an authenticated POST of payload to endpoint on the workspace at base.
//
// An empty payload is a caller error: it is logged and no request is sent.
func (c *Client) Post(ctx context.Context, base, endpoint string, payload map[string]any) Response {
	if len(payload) == 0 {
		c.logger.Warn("Write request skipped: payload is empty",
			zap.String("workspace", base),
			zap.String("endpoint", endpoint))
		return emptyResponse(ErrEmptyPayload)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("Write request skipped: payload cannot be encoded",
			zap.String("endpoint", endpoint), zap.Error(err))
		return emptyResponse(fmt.Errorf("%w: %v", ErrEmptyPayload, err))
	}
	return c.do(ctx, http.MethodPost, base, endpoint, nil, body)
}

// URL returns the absolute request URL for endpoint on the workspace at base.
func (c *Client) URL(base, endpoint string) string {
	return base + "/api/" + c.apiVersion + "/" + strings.TrimLeft(endpoint, "/")
}

func (c *Client) do(ctx context.Context, method, base, endpoint string, params url.Values, body []byte) Response {
	ep, ok := c.endpoints.Lookup(base)
	if !ok {
		c.logger.Warn("No token registered for workspace; check the configured workspace urls",
			zap.String("workspace", base),
			zap.String("endpoint", endpoint))
		return emptyResponse(ErrUnknownWorkspace)
	}

	if err := c.waitForRateLimit(ctx); err != nil {
		return emptyResponse(fmt.Errorf("%w: %v", ErrTransport, err))
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.URL(ep.URL, endpoint)
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, reader)
	if err != nil {
		return emptyResponse(fmt.Errorf("%w: %v", ErrTransport, err))
	}
	req.Header.Set("Authorization", "Bearer "+ep.Token)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.doer.Do(req)
	if err != nil {
		c.logger.Error("Request failed",
			zap.String("method", method),
			zap.String("workspace", ep.URL),
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return emptyResponse(fmt.Errorf("%w: %v", ErrTransport, err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{StatusCode: resp.StatusCode, Body: map[string]any{}, Err: fmt.Errorf("%w: %v", ErrTransport, err)}
	}

	c.logger.Debug("Request completed",
		zap.String("method", method),
		zap.String("workspace", ep.URL),
		zap.String("endpoint", endpoint),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	out := decode(resp.StatusCode, raw)
	if !out.Decoded {
		c.logger.Warn("Failed to decode response as JSON; check for an empty 204 reply or an invalid body",
			zap.String("workspace", ep.URL),
			zap.String("endpoint", endpoint),
			zap.Int("status_code", resp.StatusCode))
	}
	return out
}

func (c *Client) waitForRateLimit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}
