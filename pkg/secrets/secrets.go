// Package secrets reads workspace secret scopes through the 2.0 secrets API.
//
// Unlike the run pipeline, failures here are returned as errors: secrets
// feed configuration (tokens, webhooks), where a missing value must stop
// the caller.
package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/3leaps/runwatch/pkg/restapi"
)

// APIVersion is the REST version the secrets endpoints live under.
const APIVersion = "2.0"

var (
	// ErrRequest indicates the secrets API did not return a usable response.
	ErrRequest = errors.New("secrets request failed")

	// ErrNotFound indicates the requested scope or key does not exist.
	ErrNotFound = errors.New("secret not found")

	// ErrDecode indicates a secret value was not valid base64.
	ErrDecode = errors.New("secret value is not valid base64")
)

// Error describes a failed secrets call.
type Error struct {
	Op         string
	Scope      string
	Key        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	target := e.Scope
	if e.Key != "" {
		target += "/" + e.Key
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("secrets %s %s: status %d: %v", e.Op, target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("secrets %s %s: %v", e.Op, target, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a missing scope or key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Getter performs GETs against a workspace. *restapi.Client satisfies it.
type Getter interface {
	Get(ctx context.Context, base, endpoint string, params url.Values) restapi.Response
}

// Scope is a secret scope.
type Scope struct {
	Name        string `json:"name"`
	BackendType string `json:"backend_type,omitempty"`
}

// KeyInfo describes a secret key without its value.
type KeyInfo struct {
	Key                  string `json:"key"`
	LastUpdatedTimestamp int64  `json:"last_updated_timestamp,omitempty"`
}

// Client reads secrets from one workspace.
type Client struct {
	api    Getter
	base   string
	logger *zap.Logger
}

// New returns a Client reading from the workspace at base.
//
// When api is a *restapi.Client it is re-targeted at APIVersion.
func New(api Getter, base string, logger *zap.Logger) *Client {
	if rc, ok := api.(*restapi.Client); ok {
		api = rc.WithVersion(APIVersion)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, base: base, logger: logger}
}

// Workspace returns the workspace the client reads from.
func (c *Client) Workspace() string {
	return c.base
}

// Scopes lists the secret scopes visible to the token.
func (c *Client) Scopes(ctx context.Context) ([]Scope, error) {
	resp := c.api.Get(ctx, c.base, "/secrets/scopes/list", nil)
	if err := check(resp, "list-scopes", "", ""); err != nil {
		return nil, err
	}
	items := resp.Get("scopes").Array()
	out := make([]Scope, 0, len(items))
	for _, item := range items {
		out = append(out, Scope{
			Name:        item.Get("name").String(),
			BackendType: item.Get("backend_type").String(),
		})
	}
	return out, nil
}

// Keys lists the keys stored in scope.
func (c *Client) Keys(ctx context.Context, scope string) ([]KeyInfo, error) {
	resp := c.api.Get(ctx, c.base, "/secrets/list", url.Values{"scope": {scope}})
	if err := check(resp, "list-keys", scope, ""); err != nil {
		return nil, err
	}
	items := resp.Get("secrets").Array()
	out := make([]KeyInfo, 0, len(items))
	for _, item := range items {
		out = append(out, KeyInfo{
			Key:                  item.Get("key").String(),
			LastUpdatedTimestamp: item.Get("last_updated_timestamp").Int(),
		})
	}
	return out, nil
}

// Secret returns the decoded value of scope/key.
func (c *Client) Secret(ctx context.Context, scope, key string) (string, error) {
	resp := c.api.Get(ctx, c.base, "/secrets/get", url.Values{"scope": {scope}, "key": {key}})
	if err := check(resp, "get", scope, key); err != nil {
		return "", err
	}
	value := resp.Get("value")
	if !value.Exists() {
		return "", &Error{Op: "get", Scope: scope, Key: key, StatusCode: resp.StatusCode, Err: ErrNotFound}
	}
	decoded, err := base64.StdEncoding.DecodeString(value.String())
	if err != nil {
		return "", &Error{Op: "get", Scope: scope, Key: key, Err: fmt.Errorf("%w: %v", ErrDecode, err)}
	}
	c.logger.Debug("Read secret", zap.String("scope", scope), zap.String("key", key))
	return string(decoded), nil
}

func check(resp restapi.Response, op, scope, key string) error {
	if resp.Err != nil {
		return &Error{Op: op, Scope: scope, Key: key, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", ErrRequest, resp.Err)}
	}
	if resp.OK() {
		return nil
	}
	if resp.StatusCode == 404 || resp.Get("error_code").String() == "RESOURCE_DOES_NOT_EXIST" {
		return &Error{Op: op, Scope: scope, Key: key, StatusCode: resp.StatusCode, Err: ErrNotFound}
	}
	msg := resp.Get("message").String()
	if msg == "" {
		msg = "unexpected response"
	}
	return &Error{Op: op, Scope: scope, Key: key, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %s", ErrRequest, msg)}
}
