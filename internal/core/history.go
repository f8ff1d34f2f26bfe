package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/valter-silva-au/command-center/pkg/models"
)

// HistoryRepository is the durable, append-only backing of the history
// store.
type HistoryRepository interface {
	LoadHistory() ([]models.HistoryEntry, error)
	AppendHistory(entry models.HistoryEntry) error
}

// HistoryStore owns every HistoryEntry and derives statistics from them.
type HistoryStore interface {
	// Load reads the durable entries into memory.
	Load() error
	// Append records a terminal decision. It fails with
	// DuplicateHistoryEntryError if one exists for the recommendation.
	Append(entry models.HistoryEntry) error
	// Has reports whether an entry exists for the recommendation.
	Has(recommendationID string) bool
	List(filter models.HistoryFilter) []models.HistoryEntry
	Statistics(filter models.HistoryFilter) models.Statistics
	Breakdown(groupBy models.GroupBy, filter models.HistoryFilter) ([]models.GroupStatistics, error)
	Len() int
}

type historyStore struct {
	mu      sync.RWMutex
	repo    HistoryRepository
	entries []models.HistoryEntry
	index   map[string]struct{}
}

// NewHistoryStore creates a HistoryStore. repo may be nil for a purely
// in-memory store.
func NewHistoryStore(repo HistoryRepository) HistoryStore {
	return &historyStore{
		repo:  repo,
		index: make(map[string]struct{}),
	}
}

func (h *historyStore) Load() error {
	if h.repo == nil {
		return nil
	}
	entries, err := h.repo.LoadHistory()
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = h.entries[:0]
	h.index = make(map[string]struct{}, len(entries))
	for _, e := range entries {
		// A repeated id in the backing store is ignored rather than trusted.
		if _, dup := h.index[e.RecommendationID]; dup {
			continue
		}
		h.index[e.RecommendationID] = struct{}{}
		h.entries = append(h.entries, e)
	}
	return nil
}

func (h *historyStore) Append(entry models.HistoryEntry) error {
	if entry.RecommendationID == "" {
		return fmt.Errorf("appending history: recommendation ID must not be empty")
	}
	if !entry.FinalStatus.IsTerminal() {
		return fmt.Errorf("appending history: status %q is not terminal", entry.FinalStatus)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.index[entry.RecommendationID]; exists {
		return &DuplicateHistoryEntryError{RecommendationID: entry.RecommendationID}
	}
	if h.repo != nil {
		if err := h.repo.AppendHistory(entry); err != nil {
			return fmt.Errorf("appending history: %w", err)
		}
	}
	h.index[entry.RecommendationID] = struct{}{}
	h.entries = append(h.entries, entry)
	return nil
}

func (h *historyStore) Has(recommendationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.index[recommendationID]
	return ok
}

func (h *historyStore) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

func (h *historyStore) List(filter models.HistoryFilter) []models.HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []models.HistoryEntry
	for _, e := range h.entries {
		if matchesHistoryFilter(e, filter) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DecidedAt.Equal(out[j].DecidedAt) {
			return out[i].DecidedAt.Before(out[j].DecidedAt)
		}
		return out[i].RecommendationID < out[j].RecommendationID
	})
	return out
}

func (h *historyStore) Statistics(filter models.HistoryFilter) models.Statistics {
	return computeStatistics(h.List(filter))
}

func (h *historyStore) Breakdown(groupBy models.GroupBy, filter models.HistoryFilter) ([]models.GroupStatistics, error) {
	var keyOf func(models.HistoryEntry) string
	switch groupBy {
	case models.GroupByModule:
		keyOf = func(e models.HistoryEntry) string { return e.ModuleTag }
	case models.GroupByRule:
		keyOf = func(e models.HistoryEntry) string { return e.RuleID }
	default:
		return nil, fmt.Errorf("breaking down statistics: unsupported grouping %q (use module or rule)", groupBy)
	}

	groups := make(map[string][]models.HistoryEntry)
	for _, e := range h.List(filter) {
		k := keyOf(e)
		groups[k] = append(groups[k], e)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]models.GroupStatistics, 0, len(keys))
	for _, k := range keys {
		out = append(out, models.GroupStatistics{Key: k, Statistics: computeStatistics(groups[k])})
	}
	return out, nil
}

// computeStatistics counts outcomes. Expired entries are excluded from the
// acceptance rate denominator.
func computeStatistics(entries []models.HistoryEntry) models.Statistics {
	var s models.Statistics
	for _, e := range entries {
		s.Total++
		switch e.FinalStatus {
		case models.StatusAccepted:
			s.AcceptedCount++
		case models.StatusDeclined:
			s.DeclinedCount++
		case models.StatusExpired:
			s.ExpiredCount++
		}
	}
	if decided := s.AcceptedCount + s.DeclinedCount; decided > 0 {
		s.AcceptanceRate = float64(s.AcceptedCount) / float64(decided)
	}
	return s
}

func matchesHistoryFilter(e models.HistoryEntry, f models.HistoryFilter) bool {
	if f.ModuleTag != "" && e.ModuleTag != f.ModuleTag {
		return false
	}
	if f.RuleID != "" && e.RuleID != f.RuleID {
		return false
	}
	if f.Status != "" && e.FinalStatus != f.Status {
		return false
	}
	if f.Since != nil && e.DecidedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.DecidedAt.After(*f.Until) {
		return false
	}
	return true
}
