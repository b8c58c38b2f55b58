// Package workspace models the set of remote platform workspaces a check
// runs against.
//
// A workspace is identified by its base URL and authenticated with a bearer
// token. URLs and tokens are supplied as positionally aligned lists; the Set
// built from them preserves caller order, which is also the poll order used
// when resolving clusters and jobs across workspaces.
package workspace

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// RequiredScheme is the prefix every workspace URL must carry.
const RequiredScheme = "https://"

// Sentinel errors for workspace set construction.
var (
	// ErrTokenCountMismatch indicates the URL and token lists differ in length.
	ErrTokenCountMismatch = errors.New("workspace url and token counts differ")

	// ErrNoValidWorkspaces indicates no URL survived validation.
	ErrNoValidWorkspaces = errors.New("no valid workspace urls")

	// ErrMissingToken indicates a valid workspace has an empty token.
	ErrMissingToken = errors.New("workspace token is empty")
)

// Endpoint is a single workspace base URL with its bearer token.
type Endpoint struct {
	URL   string
	Token string
}

// ClusterURL returns the UI address of a cluster within this workspace.
func (e Endpoint) ClusterURL(clusterID string) string {
	return ClusterURL(e.URL, clusterID)
}

// ClusterURL returns the UI address of a cluster within the workspace at base.
func ClusterURL(base, clusterID string) string {
	return base + "/compute/clusters/" + clusterID
}

// Set is an ordered, de-duplicated collection of endpoints.
//
// A Set is immutable after construction and safe for concurrent use.
type Set struct {
	endpoints []Endpoint
	byURL     map[string]int
}

// EndpointError annotates a validation failure with the offending position.
type EndpointError struct {
	Index int
	URL   string
	Err   error
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("workspace %d (%s): %v", e.Index, e.URL, e.Err)
}

func (e *EndpointError) Unwrap() error {
	return e.Err
}

// New validates urls and tokens and builds a Set.
//
// Invalid URLs are dropped together with their aligned token and logged as a
// warning. Valid URLs are trimmed of a trailing slash. When the same URL
// appears more than once, the first occurrence wins.
func New(urls, tokens []string, logger *zap.Logger) (*Set, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(urls) != len(tokens) {
		return nil, fmt.Errorf("%w: %d urls, %d tokens", ErrTokenCountMismatch, len(urls), len(tokens))
	}

	s := &Set{byURL: make(map[string]int, len(urls))}
	for i, raw := range urls {
		normalized, ok := Normalize(raw)
		if !ok {
			logger.Warn("Dropping invalid workspace url",
				zap.Int("index", i),
				zap.String("workspace", raw),
				zap.String("required_prefix", RequiredScheme))
			continue
		}
		if _, dup := s.byURL[normalized]; dup {
			logger.Warn("Ignoring duplicate workspace url", zap.String("workspace", normalized))
			continue
		}
		token := strings.TrimSpace(tokens[i])
		if token == "" {
			return nil, &EndpointError{Index: i, URL: normalized, Err: ErrMissingToken}
		}
		s.byURL[normalized] = len(s.endpoints)
		s.endpoints = append(s.endpoints, Endpoint{URL: normalized, Token: token})
	}

	if len(s.endpoints) == 0 {
		return nil, ErrNoValidWorkspaces
	}
	return s, nil
}

// Normalize validates a workspace URL and strips a trailing slash.
//
// A URL is valid when it is non-empty, starts with RequiredScheme and has
// something after the scheme.
func Normalize(raw string) (string, bool) {
	u := strings.TrimSpace(raw)
	if u == "" || !strings.HasPrefix(u, RequiredScheme) || len(u) <= len(RequiredScheme) {
		return "", false
	}
	u = strings.TrimRight(u, "/")
	if len(u) <= len(RequiredScheme) {
		return "", false
	}
	return u, true
}

// Endpoints returns the endpoints in poll order.
func (s *Set) Endpoints() []Endpoint {
	out := make([]Endpoint, len(s.endpoints))
	copy(out, s.endpoints)
	return out
}

// URLs returns the workspace base URLs in poll order.
func (s *Set) URLs() []string {
	out := make([]string, len(s.endpoints))
	for i, ep := range s.endpoints {
		out[i] = ep.URL
	}
	return out
}

// Lookup returns the endpoint registered for url.
func (s *Set) Lookup(url string) (Endpoint, bool) {
	i, ok := s.byURL[url]
	if !ok {
		return Endpoint{}, false
	}
	return s.endpoints[i], true
}

// Len returns the number of endpoints.
func (s *Set) Len() int {
	return len(s.endpoints)
}

// IsTokenCountMismatch reports whether err stems from misaligned url and token lists.
func IsTokenCountMismatch(err error) bool {
	return errors.Is(err, ErrTokenCountMismatch)
}

// IsNoValidWorkspaces reports whether err indicates that no url survived validation.
func IsNoValidWorkspaces(err error) bool {
	return errors.Is(err, ErrNoValidWorkspaces)
}
