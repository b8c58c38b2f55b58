package checkstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStore_WriteGetRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	started := time.Date(2025, 3, 20, 1, 0, 0, 0, time.UTC)
	ended := started.Add(3 * time.Second)
	rec := &Record{
		CheckID:          "check-1",
		State:            StatePartial,
		ThresholdHours:   4,
		Workspaces:       []string{"https://a.example.com", "https://b.example.com"},
		PerWorkspace:     map[string]int{"https://a.example.com": 2, "https://b.example.com": 0},
		FailedWorkspaces: []string{"https://b.example.com"},
		Runs:             2,
		StartedAt:        started,
		EndedAt:          &ended,
	}

	if err := s.Write(rec); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	got, err := s.Get("check-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.State != StatePartial {
		t.Fatalf("state mismatch: got=%q want=%q", got.State, StatePartial)
	}
	if got.PerWorkspace["https://a.example.com"] != 2 {
		t.Fatalf("per-workspace counts not persisted: %v", got.PerWorkspace)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Fatalf("ended_at not persisted")
	}

	entries, err := os.ReadDir(s.CheckDir("check-1"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only check.json, got %d entries", len(entries))
	}
}

func TestStore_ListSortsNewestFirst(t *testing.T) {
	s := NewStore(t.TempDir())

	t1 := time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	if err := s.Write(&Record{CheckID: "check-1", State: StateSuccess, StartedAt: t1}); err != nil {
		t.Fatalf("Write check-1: %v", err)
	}
	if err := s.Write(&Record{CheckID: "check-2", State: StateSuccess, StartedAt: t2}); err != nil {
		t.Fatalf("Write check-2: %v", err)
	}
	// Garbage entries are skipped.
	if err := os.MkdirAll(filepath.Join(s.RootDir(), "broken"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 records, got %d", len(list))
	}
	if list[0].CheckID != "check-2" || list[1].CheckID != "check-1" {
		t.Fatalf("unexpected order: %s, %s", list[0].CheckID, list[1].CheckID)
	}

	latest, err := s.Latest()
	if err != nil {
		t.Fatalf("Latest() error: %v", err)
	}
	if latest.CheckID != "check-2" {
		t.Fatalf("latest = %s", latest.CheckID)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Latest(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from empty store, got %v", err)
	}
}

func TestStore_ListMissingRoot(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent"))
	list, err := s.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list")
	}
}

func TestStore_WriteRejectsBadIDs(t *testing.T) {
	s := NewStore(t.TempDir())
	for _, id := range []string{"", "  ", "../x", "a/b", ".."} {
		if err := s.Write(&Record{CheckID: id}); err == nil {
			t.Fatalf("expected error for check_id %q", id)
		}
	}
	if err := s.Write(nil); err == nil {
		t.Fatalf("expected error for nil record")
	}
}

func TestStateFor(t *testing.T) {
	tests := []struct {
		workspaces, failed, payloadsFailed int
		want                               State
	}{
		{2, 0, 0, StateSuccess},
		{2, 1, 0, StatePartial},
		{2, 0, 1, StatePartial},
		{2, 2, 0, StateFailed},
		{0, 0, 0, StateSuccess},
	}
	for _, tt := range tests {
		if got := StateFor(tt.workspaces, tt.failed, tt.payloadsFailed); got != tt.want {
			t.Errorf("StateFor(%d,%d,%d) = %q, want %q", tt.workspaces, tt.failed, tt.payloadsFailed, got, tt.want)
		}
	}
}
