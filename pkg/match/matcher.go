// Package match filters job runs by name with include and exclude globs.
package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchAll is the include pattern used when none is configured.
const MatchAll = "**"

// Matcher evaluates glob patterns against run names.
//
// A name matches when it matches at least one include pattern and no
// exclude pattern. Patterns use doublestar syntax; "/" is treated as a
// separator, so "etl/*" matches "etl/daily" but not "etl/daily/backfill".
//
// The Matcher is safe for concurrent use after creation.
type Matcher struct {
	includes   []string
	excludes   []string
	foldCase   bool
	matchesAll bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns a run name must match (at least one).
	// Default: MatchAll.
	Includes []string

	// Excludes are glob patterns a run name must not match (any).
	Excludes []string

	// CaseInsensitive folds pattern and name to lower case before matching.
	CaseInsensitive bool
}

// Errors returned by Matcher operations.
var (
	// ErrInvalidPattern is returned when a pattern cannot be compiled.
	ErrInvalidPattern = errors.New("invalid glob pattern")
)

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New creates a Matcher from cfg.
//
// Returns a *PatternError if any pattern is invalid.
func New(cfg Config) (*Matcher, error) {
	includes, err := compile(cfg.Includes, cfg.CaseInsensitive)
	if err != nil {
		return nil, err
	}
	if len(includes) == 0 {
		includes = []string{MatchAll}
	}
	excludes, err := compile(cfg.Excludes, cfg.CaseInsensitive)
	if err != nil {
		return nil, err
	}

	matchesAll := len(excludes) == 0
	if matchesAll {
		matchesAll = false
		for _, p := range includes {
			if p == MatchAll {
				matchesAll = true
				break
			}
		}
	}

	return &Matcher{
		includes:   includes,
		excludes:   excludes,
		foldCase:   cfg.CaseInsensitive,
		matchesAll: matchesAll,
	}, nil
}

func compile(raw []string, foldCase bool) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if foldCase {
			p = strings.ToLower(p)
		}
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		out = append(out, p)
	}
	return out, nil
}

// Match reports whether name passes the include and exclude patterns.
func (m *Matcher) Match(name string) bool {
	if m == nil || m.matchesAll {
		return true
	}
	if m.foldCase {
		name = strings.ToLower(name)
	}

	matched := false
	for _, inc := range m.includes {
		if matchPattern(inc, name) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	for _, exc := range m.excludes {
		if matchPattern(exc, name) {
			return false
		}
	}
	return true
}

// MatchesAll reports whether every name is accepted.
func (m *Matcher) MatchesAll() bool {
	return m == nil || m.matchesAll
}

// IncludePatterns returns the compiled include patterns.
func (m *Matcher) IncludePatterns() []string {
	return append([]string(nil), m.includes...)
}

// ExcludePatterns returns the compiled exclude patterns.
func (m *Matcher) ExcludePatterns() []string {
	return append([]string(nil), m.excludes...)
}

// matchPattern reports whether name matches pattern.
// Patterns are validated at construction, so the error is ignored.
func matchPattern(pattern, name string) bool {
	ok, _ := doublestar.Match(pattern, name)
	return ok
}
