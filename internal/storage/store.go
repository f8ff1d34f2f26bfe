// Package storage persists the engine's durable collections and reads
// collaborator module records and rule definitions from disk.
package storage

import (
	"fmt"
	"path/filepath"

	"github.com/valter-silva-au/command-center/pkg/models"
)

// SQLiteFileName is the database file used by the SQLite backend.
const SQLiteFileName = "command-center.db"

// Store persists the active set, the history and the usage window. It
// satisfies core.RecommendationRepository, core.HistoryRepository and
// core.UsageRepository.
type Store interface {
	LoadActive() ([]models.Recommendation, error)
	SaveActive(recs []models.Recommendation) error
	LoadHistory() ([]models.HistoryEntry, error)
	AppendHistory(entry models.HistoryEntry) error
	LoadUsage() (*models.UsageWindow, error)
	SaveUsage(w models.UsageWindow) error
	Close() error
}

// Open returns the Store selected by cfg. dataDir is used when cfg.Path is
// empty; a relative cfg.Path is resolved against dataDir.
func Open(cfg models.StorageConfig, dataDir string) (Store, error) {
	dir := dataDir
	if cfg.Path != "" {
		dir = cfg.Path
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(dataDir, dir)
		}
	}

	switch cfg.Backend {
	case "", models.BackendFile:
		return NewFileStore(dir), nil
	case models.BackendSQLite:
		return NewSQLiteStore(filepath.Join(dir, SQLiteFileName))
	default:
		return nil, fmt.Errorf("opening storage: unknown backend %q", cfg.Backend)
	}
}
