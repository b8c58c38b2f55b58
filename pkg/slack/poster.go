package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrWebhookRequired indicates a Poster was created without a webhook URL.
var ErrWebhookRequired = errors.New("webhook url is required")

// PostError describes a payload the webhook rejected.
type PostError struct {
	Workspace  string
	Index      int
	StatusCode int
	Body       string
	Err        error
}

func (e *PostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("post %s payload %d: %v", e.Workspace, e.Index, e.Err)
	}
	return fmt.Sprintf("post %s payload %d: status %d: %s", e.Workspace, e.Index, e.StatusCode, e.Body)
}

func (e *PostError) Unwrap() error {
	return e.Err
}

// PostResult is the outcome of posting one payload.
type PostResult struct {
	Workspace  string
	Index      int
	StatusCode int
	Err        error
}

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Poster sends payloads to an incoming webhook. The webhook URL is the
// credential; no other authentication is sent.
type Poster struct {
	webhook string
	doer    Doer
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

// PosterOption configures a Poster.
type PosterOption func(*Poster)

// WithHTTPDoer sets the HTTP executor.
func WithHTTPDoer(d Doer) PosterOption {
	return func(p *Poster) {
		if d != nil {
			p.doer = d
		}
	}
}

// WithPostRate caps posts per second. Webhooks throttle bursts; the
// default is one post per second.
func WithPostRate(rps float64) PosterOption {
	return func(p *Poster) {
		if rps > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			p.limiter = nil
		}
	}
}

// WithPostLogger sets the logger.
func WithPostLogger(l *zap.Logger) PosterOption {
	return func(p *Poster) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPoster creates a Poster for webhook.
func NewPoster(webhook string, opts ...PosterOption) (*Poster, error) {
	webhook = strings.TrimSpace(webhook)
	if webhook == "" {
		return nil, ErrWebhookRequired
	}
	p := &Poster{
		webhook: webhook,
		doer:    &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		timeout: 15 * time.Second,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// PostWorkspacePayloads posts every payload of every message in order.
//
// A rejected payload is logged and recorded; the remaining payloads are
// still posted. The returned error joins every failure.
func (p *Poster) PostWorkspacePayloads(ctx context.Context, messages []WorkspaceMessage) ([]PostResult, error) {
	var results []PostResult
	var errs []error
	for _, msg := range messages {
		for i, payload := range msg.Payloads {
			if err := ctx.Err(); err != nil {
				return results, errors.Join(append(errs, err)...)
			}
			status, err := p.Post(ctx, payload)
			res := PostResult{Workspace: msg.Workspace, Index: i, StatusCode: status, Err: err}
			results = append(results, res)
			if err != nil {
				var pe *PostError
				if errors.As(err, &pe) {
					pe.Workspace = msg.Workspace
					pe.Index = i
				}
				p.logger.Error("Failed to post alert payload",
					zap.String("workspace", msg.Workspace),
					zap.Int("payload", i),
					zap.Int("status_code", status),
					zap.Error(err))
				errs = append(errs, err)
			}
		}
	}
	return results, errors.Join(errs...)
}

// Post sends a single payload and returns the HTTP status.
func (p *Poster) Post(ctx context.Context, payload Payload) (int, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return 0, &PostError{Err: err}
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, &PostError{Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.webhook, bytes.NewReader(body))
	if err != nil {
		return 0, &PostError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.doer.Do(req)
	if err != nil {
		return 0, &PostError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, &PostError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
