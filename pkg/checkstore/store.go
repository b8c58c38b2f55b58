// Package checkstore persists one JSON record per check invocation.
package checkstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned by Get when no record exists for the check id.
var ErrNotFound = errors.New("check record not found")

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store persists and loads check Records from an on-disk directory.
//
// Directory layout:
//
//	<root>/<check_id>/check.json
//
// Root is expected to be under the app data dir.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) CheckDir(checkID string) string {
	return filepath.Join(s.root, checkID)
}

func (s *Store) CheckPath(checkID string) string {
	return filepath.Join(s.CheckDir(checkID), "check.json")
}

func (s *Store) ensureRoot() error {
	if s.root == "" {
		return fmt.Errorf("check store root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

// Write stores record atomically, replacing any previous version.
func (s *Store) Write(record *Record) error {
	if record == nil {
		return fmt.Errorf("check record is nil")
	}
	checkID := strings.TrimSpace(record.CheckID)
	if checkID == "" {
		return fmt.Errorf("check_id is required")
	}
	if strings.ContainsAny(checkID, `/\`) || checkID == "." || checkID == ".." {
		return fmt.Errorf("invalid check_id %q", checkID)
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	dir := s.CheckDir(checkID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create check dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal check record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, "check.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp check file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp check file: %w", err)
	}

	if err := os.Rename(tmpName, s.CheckPath(checkID)); err != nil {
		return fmt.Errorf("rename check file: %w", err)
	}
	return nil
}

func (s *Store) Get(checkID string) (*Record, error) {
	checkID = strings.TrimSpace(checkID)
	if checkID == "" {
		return nil, fmt.Errorf("check_id is required")
	}
	b, err := os.ReadFile(s.CheckPath(checkID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, checkID)
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("check.json is empty")
	}

	var record Record
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse check.json: %w", err)
	}
	return &record, nil
}

// List returns every readable record, newest first. Unreadable entries are skipped.
func (s *Store) List() ([]Record, error) {
	if s.root == "" {
		return nil, fmt.Errorf("check store root dir is empty")
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checks root: %w", err)
	}

	out := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// Latest returns the most recent record, or ErrNotFound when the store is empty.
func (s *Store) Latest() (*Record, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return &records[0], nil
}
