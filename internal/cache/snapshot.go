package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// SnapshotStore persists the whole cache to one JSON file of the form
// {"<key>": {"data": ..., "timestamp": ...}}, rewritten on every mutation.
// Each write costs O(total cache size).
type SnapshotStore struct {
	mu   sync.Mutex
	path string
}

// NewSnapshotStore returns a store writing to path. The file is created on
// the first mutation.
func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

// Load implements Store. A missing file is an empty cache.
func (s *SnapshotStore) Load() (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string]Entry{}
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("cache: decode snapshot %s: %w", s.path, err)
	}
	return out, nil
}

// Sync implements Store. keys is ignored; the full state is written via a
// temp file and rename so readers never see a torn snapshot.
func (s *SnapshotStore) Sync(_ []string, v View) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(v.Snapshot())
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Close implements Store.
func (s *SnapshotStore) Close() error { return nil }
