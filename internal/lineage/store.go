package lineage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when no record exists for a lineage ID.
var ErrNotFound = errors.New("lineage: record not found")

// Store persists lineage records.
type Store interface {
	Load(lineageID string) (Record, error)
	Save(rec Record) error
	List() ([]string, error)
}

// FileStore keeps one JSON file per lineage under a directory. Writes are
// atomic (temp file, fsync, rename) so a crash never leaves a partial
// record on disk.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("lineage: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lineage: create dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(lineageID string) string {
	return filepath.Join(s.dir, lineageID+".json")
}

// Load reads the record for lineageID, or ErrNotFound.
func (s *FileStore) Load(lineageID string) (Record, error) {
	if strings.TrimSpace(lineageID) == "" {
		return Record{}, errors.New("lineage: id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(lineageID))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("lineage: read %s: %w", lineageID, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("lineage: decode %s: %w", lineageID, err)
	}
	if err := rec.Validate(); err != nil {
		return Record{}, fmt.Errorf("lineage: invalid record on disk: %w", err)
	}
	return rec, nil
}

// Save validates and atomically writes the record.
func (s *FileStore) Save(rec Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("lineage: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("lineage: encode %s: %w", rec.LineageID, err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.path(rec.LineageID), data, 0o644)
}

// List returns all persisted lineage IDs, sorted.
func (s *FileStore) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lineage: list: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("lineage: temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("lineage: write: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("lineage: chmod: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("lineage: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("lineage: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("lineage: rename: %w", err)
	}
	committed = true

	// Sync the directory so the rename itself is durable.
	if err := fsyncDir(dir); err != nil {
		return fmt.Errorf("lineage: sync dir: %w", err)
	}
	return nil
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Load(lineageID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[lineageID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Save(rec Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("lineage: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.LineageID] = rec
	return nil
}

func (s *MemoryStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
