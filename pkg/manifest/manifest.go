// Package manifest provides loading and validation of runwatch alert manifests.
//
// An alert manifest is a YAML or JSON file that configures one check: the
// workspaces to poll and where their tokens come from, the stuck-run
// threshold and filters, the webhook to notify and an optional report
// archive.
//
// Manifests are validated against a JSON Schema to ensure correctness before
// execution. The schema enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	workspaces:
//	  - url: https://a.cloud.example.com
//	    token: {env: WS_A_TOKEN}
//	check:
//	  older_than_hours: 4
//	  run_names:
//	    excludes: ["adhoc-*"]
//	notify:
//	  webhook: {secret: {scope: alerts, key: slack-webhook}}
//	archive:
//	  uri: s3://ops-reports/runwatch/
package manifest

import (
	"fmt"

	"github.com/3leaps/runwatch/pkg/jobrun"
	"github.com/3leaps/runwatch/pkg/match"
	"github.com/3leaps/runwatch/pkg/pipeline"
)

// Manifest represents a validated alert manifest.
//
// Version and Workspaces are required. Every other section is optional with
// defaults applied during loading.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Workspaces lists the workspaces to poll, in poll order.
	Workspaces []WorkspaceConfig `json:"workspaces" yaml:"workspaces"`

	// Check configures run selection and shaping.
	Check CheckConfig `json:"check,omitempty" yaml:"check,omitempty"`

	// Secrets is the workspace whose secrets API backs {secret: ...} sources.
	// Optional; defaults to the first workspace.
	Secrets *WorkspaceConfig `json:"secrets,omitempty" yaml:"secrets,omitempty"`

	// Notify configures alert delivery. Without a webhook no alerts are posted.
	Notify NotifyConfig `json:"notify,omitempty" yaml:"notify,omitempty"`

	// Archive configures report upload. Optional.
	Archive *ArchiveConfig `json:"archive,omitempty" yaml:"archive,omitempty"`
}

// WorkspaceConfig is one workspace URL and its token source.
type WorkspaceConfig struct {
	URL   string      `json:"url" yaml:"url"`
	Token TokenSource `json:"token" yaml:"token"`
}

// RunNamesConfig filters runs by name.
type RunNamesConfig struct {
	Includes        []string `json:"includes,omitempty" yaml:"includes,omitempty"`
	Excludes        []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`
	CaseInsensitive bool     `json:"case_insensitive,omitempty" yaml:"case_insensitive,omitempty"`
}

// CheckConfig selects and shapes the reported runs.
//
// Booleans that default to true are pointers so an explicit false survives
// default application.
type CheckConfig struct {
	// OlderThanHours is the stuck threshold. Default: DefaultOlderThanHours.
	OlderThanHours *float64 `json:"older_than_hours,omitempty" yaml:"older_than_hours,omitempty"`

	// Limit caps runs per workspace. Zero or less fetches everything.
	// Default: DefaultLimit.
	Limit *int `json:"limit,omitempty" yaml:"limit,omitempty"`

	ActiveRunsOnly       *bool `json:"active_runs_only,omitempty" yaml:"active_runs_only,omitempty"`
	SimplifiedOutput     *bool `json:"simplified_output,omitempty" yaml:"simplified_output,omitempty"`
	ExpandTasks          *bool `json:"expand_tasks,omitempty" yaml:"expand_tasks,omitempty"`
	AddClusterInfo       *bool `json:"add_cluster_info,omitempty" yaml:"add_cluster_info,omitempty"`
	IncludeStreamingJobs bool  `json:"include_streaming_jobs,omitempty" yaml:"include_streaming_jobs,omitempty"`

	// StreamingTag is the tag key marking streaming jobs.
	StreamingTag string `json:"streaming_tag,omitempty" yaml:"streaming_tag,omitempty"`

	// Concurrency bounds parallel workspaces. Range: 1-32.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	RunNames *RunNamesConfig `json:"run_names,omitempty" yaml:"run_names,omitempty"`
}

// NotifyConfig configures webhook delivery.
type NotifyConfig struct {
	// Webhook is the incoming-webhook URL source.
	Webhook *TokenSource `json:"webhook,omitempty" yaml:"webhook,omitempty"`

	// PostEmpty posts a header for workspaces with no stuck runs.
	PostEmpty bool `json:"post_empty,omitempty" yaml:"post_empty,omitempty"`

	// Compact packs several runs into each payload.
	Compact bool `json:"compact,omitempty" yaml:"compact,omitempty"`

	// RateLimit is the maximum posts per second (0 = unlimited).
	RateLimit *float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// ArchiveConfig configures report upload.
type ArchiveConfig struct {
	// URI is s3://bucket/prefix/ or file:///dir.
	URI            string `json:"uri" yaml:"uri"`
	Region         string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint       string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Profile        string `json:"profile,omitempty" yaml:"profile,omitempty"`
	ForcePathStyle bool   `json:"force_path_style,omitempty" yaml:"force_path_style,omitempty"`

	// IMDSRegion resolves the region from EC2 instance metadata when unset.
	IMDSRegion bool `json:"imds_region,omitempty" yaml:"imds_region,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultOlderThanHours is the default stuck threshold.
	DefaultOlderThanHours = 4.0

	// DefaultLimit is the default per-workspace run cap.
	DefaultLimit = 1000

	// DefaultPostRate is the default webhook post rate.
	DefaultPostRate = 1.0
)

// ApplyDefaults fills in default values for optional fields.
//
// This should be called after loading and validating the manifest to ensure
// all optional fields have sensible values.
func (m *Manifest) ApplyDefaults() {
	c := &m.Check
	if c.OlderThanHours == nil {
		v := DefaultOlderThanHours
		c.OlderThanHours = &v
	}
	if c.Limit == nil {
		v := DefaultLimit
		c.Limit = &v
	}
	for _, b := range []**bool{&c.ActiveRunsOnly, &c.SimplifiedOutput, &c.ExpandTasks, &c.AddClusterInfo} {
		if *b == nil {
			v := true
			*b = &v
		}
	}
	if c.StreamingTag == "" {
		c.StreamingTag = jobrun.DefaultStreamingTag
	}
	if c.Concurrency == 0 {
		c.Concurrency = pipeline.DefaultConcurrency
	}

	if m.Notify.RateLimit == nil {
		v := DefaultPostRate
		m.Notify.RateLimit = &v
	}
}

// URLs returns the workspace URLs in manifest order.
func (m *Manifest) URLs() []string {
	out := make([]string, len(m.Workspaces))
	for i, ws := range m.Workspaces {
		out[i] = ws.URL
	}
	return out
}

// SecretsWorkspace returns the workspace backing {secret: ...} sources.
func (m *Manifest) SecretsWorkspace() WorkspaceConfig {
	if m.Secrets != nil {
		return *m.Secrets
	}
	if len(m.Workspaces) == 0 {
		return WorkspaceConfig{}
	}
	return m.Workspaces[0]
}

// NeedsSecrets reports whether any source reads from the secrets API.
func (m *Manifest) NeedsSecrets() bool {
	for _, ws := range m.Workspaces {
		if ws.Token.Secret != nil {
			return true
		}
	}
	return m.Notify.Webhook != nil && m.Notify.Webhook.Secret != nil
}

// Options converts the check section into pipeline options.
//
// Call after ApplyDefaults. Invalid run-name patterns are returned as errors.
func (c CheckConfig) Options() (pipeline.Options, error) {
	opts := pipeline.Options{
		ActiveRunsOnly:       boolOr(c.ActiveRunsOnly, true),
		SimplifiedOutput:     boolOr(c.SimplifiedOutput, true),
		ExpandTasks:          boolOr(c.ExpandTasks, true),
		AddClusterInfo:       boolOr(c.AddClusterInfo, true),
		IncludeStreamingJobs: c.IncludeStreamingJobs,
		OlderThanHours:       DefaultOlderThanHours,
		Limit:                DefaultLimit,
	}
	if c.OlderThanHours != nil {
		opts.OlderThanHours = *c.OlderThanHours
	}
	if c.Limit != nil {
		opts.Limit = *c.Limit
	}
	if c.RunNames != nil {
		m, err := match.New(match.Config{
			Includes:        c.RunNames.Includes,
			Excludes:        c.RunNames.Excludes,
			CaseInsensitive: c.RunNames.CaseInsensitive,
		})
		if err != nil {
			return pipeline.Options{}, fmt.Errorf("check.run_names: %w", err)
		}
		opts.RunNames = m
	}
	return opts, nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
