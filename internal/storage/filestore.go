package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/valter-silva-au/command-center/pkg/models"
	"gopkg.in/yaml.v3"
)

// File names of the three durable collections in the file backend.
const (
	ActiveFileName  = "active_recommendations.yaml"
	HistoryFileName = "history_entries.jsonl"
	UsageFileName   = "usage_window.yaml"
	LockFileName    = "store.lock"
)

// activeFile is the top-level structure of active_recommendations.yaml.
type activeFile struct {
	Version         string                  `yaml:"version"`
	Recommendations []models.Recommendation `yaml:"recommendations"`
}

// usageFile is the top-level structure of usage_window.yaml.
type usageFile struct {
	Version string             `yaml:"version"`
	Window  models.UsageWindow `yaml:"window"`
}

type fileStore struct {
	basePath string
	mu       sync.Mutex
}

// NewFileStore creates a Store that keeps the active set and usage window as
// YAML and the history as append-only JSONL under basePath.
func NewFileStore(basePath string) Store {
	return &fileStore{basePath: basePath}
}

func (s *fileStore) path(name string) string {
	return filepath.Join(s.basePath, name)
}

// withLock runs fn holding the cross-process store lock.
func (s *fileStore) withLock(fn func() error) error {
	if err := os.MkdirAll(s.basePath, 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	unlock, err := lockFile(s.path(LockFileName))
	if err != nil {
		return err
	}
	fnErr := fn()
	if err := unlock(); err != nil && fnErr == nil {
		return fmt.Errorf("releasing file lock: %w", err)
	}
	return fnErr
}

func (s *fileStore) LoadActive() ([]models.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(ActiveFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading active recommendations: %w", err)
	}

	var af activeFile
	if err := yaml.Unmarshal(data, &af); err != nil {
		return nil, fmt.Errorf("loading active recommendations: parsing YAML: %w", err)
	}
	return af.Recommendations, nil
}

func (s *fileStore) SaveActive(recs []models.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	af := activeFile{Version: "1.0", Recommendations: recs}
	if af.Recommendations == nil {
		af.Recommendations = []models.Recommendation{}
	}
	data, err := yaml.Marshal(&af)
	if err != nil {
		return fmt.Errorf("saving active recommendations: marshaling YAML: %w", err)
	}
	if err := s.withLock(func() error { return s.writeFileAtomic(ActiveFileName, data) }); err != nil {
		return fmt.Errorf("saving active recommendations: %w", err)
	}
	return nil
}

func (s *fileStore) LoadHistory() ([]models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path(HistoryFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []models.HistoryEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e models.HistoryEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("loading history: line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("loading history: scanning: %w", err)
	}
	return entries, nil
}

func (s *fileStore) AppendHistory(entry models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.basePath, 0o750); err != nil {
		return fmt.Errorf("appending history: creating directory: %w", err)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("appending history: marshalling entry: %w", err)
	}
	data = append(data, '\n')

	return s.withLock(func() error {
		f, err := os.OpenFile(s.path(HistoryFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("appending history: opening file: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return fmt.Errorf("appending history: writing entry: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("appending history: closing file: %w", err)
		}
		return nil
	})
}

func (s *fileStore) LoadUsage() (*models.UsageWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(UsageFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading usage window: %w", err)
	}

	var uf usageFile
	if err := yaml.Unmarshal(data, &uf); err != nil {
		return nil, fmt.Errorf("loading usage window: parsing YAML: %w", err)
	}
	return &uf.Window, nil
}

func (s *fileStore) SaveUsage(w models.UsageWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(&usageFile{Version: "1.0", Window: w})
	if err != nil {
		return fmt.Errorf("saving usage window: marshaling YAML: %w", err)
	}
	if err := s.withLock(func() error { return s.writeFileAtomic(UsageFileName, data) }); err != nil {
		return fmt.Errorf("saving usage window: %w", err)
	}
	return nil
}

func (s *fileStore) Close() error { return nil }

// writeFileAtomic replaces name through a temp file and a rename.
func (s *fileStore) writeFileAtomic(name string, data []byte) error {
	if err := os.MkdirAll(s.basePath, 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.basePath, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", name, err)
	}
	return nil
}
