package pipeline

import (
	"errors"
	"fmt"
)

// ErrListRuns indicates the runs listing of a workspace failed.
var ErrListRuns = errors.New("failed to list job runs")

// WorkspaceError records why one workspace produced no runs.
type WorkspaceError struct {
	// Workspace is the base URL of the failing workspace.
	Workspace string

	// StatusCode is the HTTP status of the failing request, if one was sent.
	StatusCode int

	// Page is the zero-based page index being fetched.
	Page int

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *WorkspaceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: page %d: status %d: %v", e.Workspace, e.Page, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: page %d: %v", e.Workspace, e.Page, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *WorkspaceError) Unwrap() error {
	return e.Err
}

// IsListRuns reports whether err stems from a failed runs listing.
func IsListRuns(err error) bool {
	return errors.Is(err, ErrListRuns)
}
