// Package output provides JSONL output for check results.
//
// Output is structured as typed record envelopes containing runs,
// workspace errors, durations and summaries. Each line is a self-contained
// JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: runwatch.<type>.v<version>
const (
	// TypeRun identifies enriched long-running job run records.
	TypeRun = "runwatch.run.v1"

	// TypeWorkspaceError identifies per-workspace failure records.
	TypeWorkspaceError = "runwatch.workspace_error.v1"

	// TypeDuration identifies per-workspace duration map records.
	TypeDuration = "runwatch.duration.v1"

	// TypePost identifies alert delivery records.
	TypePost = "runwatch.post.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "runwatch.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "runwatch.run.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// CheckID correlates every record of one check.
	CheckID string `json:"check_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// RunRecord is the data payload for one long-running job run.
type RunRecord struct {
	Workspace string         `json:"workspace"`
	Run       map[string]any `json:"run"`
}

// WorkspaceErrorRecord is the data payload for a workspace whose runs could
// not be listed. The workspace still appears in results with no runs.
type WorkspaceErrorRecord struct {
	Workspace  string `json:"workspace"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
	Page       int    `json:"page,omitempty"`
}

// DurationRecord is the data payload mapping run names to elapsed hours.
type DurationRecord struct {
	Workspace string             `json:"workspace"`
	Durations map[string]float64 `json:"durations"`
}

// PostRecord is the data payload for one delivered (or rejected) alert payload.
type PostRecord struct {
	Workspace  string `json:"workspace"`
	Payload    int    `json:"payload"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Error codes for WorkspaceErrorRecord.
const (
	// ErrCodeAccessDenied indicates an authentication or permission failure.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeNotFound indicates the endpoint or resource was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeTimeout indicates an operation timed out.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeMalformed indicates a response that could not be interpreted.
	ErrCodeMalformed = "MALFORMED_RESPONSE"

	// ErrCodeInternal indicates an unexpected failure.
	ErrCodeInternal = "INTERNAL"
)

// CodeForStatus maps an HTTP status to an error code.
func CodeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrCodeAccessDenied
	case status == http.StatusNotFound:
		return ErrCodeNotFound
	case status == http.StatusTooManyRequests:
		return ErrCodeThrottled
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrCodeTimeout
	case status == http.StatusOK:
		return ErrCodeMalformed
	default:
		return ErrCodeInternal
	}
}

// SummaryRecord is the data payload for the final check summary.
type SummaryRecord struct {
	// ThresholdHours is the age a run had to exceed to be reported.
	ThresholdHours float64 `json:"threshold_hours"`

	// Workspaces is the number of workspaces checked.
	Workspaces int `json:"workspaces"`

	// WorkspacesFailed is the number of workspaces whose listing failed.
	WorkspacesFailed int `json:"workspaces_failed"`

	// Runs is the number of runs reported.
	Runs int `json:"runs"`

	// StreamingExcluded is the number of runs dropped as streaming.
	StreamingExcluded int `json:"streaming_excluded"`

	// PerWorkspace maps workspace to reported run count.
	PerWorkspace map[string]int `json:"per_workspace"`

	// PayloadsPosted is the number of alert payloads accepted.
	PayloadsPosted int `json:"payloads_posted"`

	// PayloadsFailed is the number of alert payloads rejected.
	PayloadsFailed int `json:"payloads_failed"`

	// Duration is the total check duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
