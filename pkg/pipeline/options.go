package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/runwatch/pkg/jobrun"
	"github.com/3leaps/runwatch/pkg/match"
)

// DefaultPageSize is the jobs/runs/list page size.
const DefaultPageSize = 25

// DefaultConcurrency bounds how many workspaces are processed at once.
const DefaultConcurrency = 4

// Options select and shape the runs returned by GetJobRuns.
type Options struct {
	// ActiveRunsOnly keeps only runs whose state is RUNNING.
	//
	// This is stricter than the API's active_only flag, which also returns
	// QUEUED, PENDING and BLOCKED runs. The flag is still forwarded so the
	// API pre-filters, and the RUNNING check is applied to each page.
	ActiveRunsOnly bool

	// OlderThanHours keeps only runs that started more than this many hours
	// ago. Zero or negative disables the filter.
	OlderThanHours float64

	// Limit caps the runs returned per workspace. Zero or negative fetches
	// every page, which may be slow.
	Limit int

	// SimplifiedOutput projects each run onto jobrun.RunFields.
	SimplifiedOutput bool

	// ExpandTasks asks the API for task and cluster details.
	ExpandTasks bool

	// AddClusterInfo merges cluster metadata into each run and back-fills
	// absent cluster fields with jobrun.Unspecified.
	AddClusterInfo bool

	// IncludeStreamingJobs keeps runs whose job carries the streaming tag.
	IncludeStreamingJobs bool

	// RunNames optionally restricts runs by name. Nil matches every run.
	RunNames *match.Matcher
}

// DefaultOptions returns the options used when none are specified.
func DefaultOptions() Options {
	return Options{
		ActiveRunsOnly: true,
		Limit:          20,
		ExpandTasks:    true,
		AddClusterInfo: true,
	}
}

// Config configures a Pipeline.
type Config struct {
	// StreamingTag is the job tag key that marks a job as streaming.
	// Default: jobrun.DefaultStreamingTag.
	StreamingTag string

	// PageSize is the runs requested per page. Default: DefaultPageSize.
	PageSize int

	// Concurrency bounds parallel workspaces. Default: DefaultConcurrency.
	Concurrency int

	// Now returns the reference time for elapsed-time computation.
	// Default: time.Now.
	Now func() time.Time

	// Logger receives pipeline diagnostics. Default: no-op.
	Logger *zap.Logger
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		StreamingTag: jobrun.DefaultStreamingTag,
		PageSize:     DefaultPageSize,
		Concurrency:  DefaultConcurrency,
		Now:          time.Now,
		Logger:       zap.NewNop(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StreamingTag == "" {
		c.StreamingTag = d.StreamingTag
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}
