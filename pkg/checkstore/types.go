package checkstore

import "time"

// State is the outcome of one check invocation.
//
// NOTE: These values are persisted in check.json and are part of the stable
// on-disk contract.
type State string

const (
	StateRunning State = "running"
	StateSuccess State = "success"
	StatePartial State = "partial"
	StateFailed  State = "failed"
)

// StateFor derives the terminal state from workspace and delivery failures.
//
// A check where every workspace failed is failed. Any failed workspace or
// rejected payload makes it partial.
func StateFor(workspaces, workspacesFailed, payloadsFailed int) State {
	switch {
	case workspaces > 0 && workspacesFailed == workspaces:
		return StateFailed
	case workspacesFailed > 0 || payloadsFailed > 0:
		return StatePartial
	default:
		return StateSuccess
	}
}

// Record is the persistent record written to check.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type Record struct {
	CheckID          string         `json:"check_id"`
	State            State          `json:"state"`
	ManifestPath     string         `json:"manifest_path,omitempty"`
	ThresholdHours   float64        `json:"threshold_hours"`
	Workspaces       []string       `json:"workspaces"`
	PerWorkspace     map[string]int `json:"per_workspace,omitempty"`
	FailedWorkspaces []string       `json:"failed_workspaces,omitempty"`
	Runs             int            `json:"runs"`
	PayloadsPosted   int            `json:"payloads_posted"`
	PayloadsFailed   int            `json:"payloads_failed"`
	ArchiveKey       string         `json:"archive_key,omitempty"`
	Error            string         `json:"error,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	EndedAt          *time.Time     `json:"ended_at,omitempty"`
}
