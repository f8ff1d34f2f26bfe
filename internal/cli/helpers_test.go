package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/valter-silva-au/command-center/internal/core"
	"github.com/valter-silva-au/command-center/pkg/models"
)

// captureStdout runs fn and returns what it wrote to os.Stdout.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("creating pipe: %v", err)
	}
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = origStdout

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading pipe: %v", err)
	}
	return string(out)
}

// withEngine installs e as the package Engine for the duration of the test.
func withEngine(t *testing.T, e core.RecommendationEngine) {
	t.Helper()
	orig := Engine
	Engine = e
	t.Cleanup(func() { Engine = orig })
}

var testNow = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

// fakeEngine implements core.RecommendationEngine over an in-memory active
// set. Decided recommendations move to history.
type fakeEngine struct {
	active     []models.Recommendation
	pending    []models.Recommendation
	history    []models.HistoryEntry
	rules      []models.RuleInfo
	usage      models.UsageStatus
	refreshErr error
	refreshed  int
	swept      int
	lastFilter models.HistoryFilter
}

func newFakeEngine(active ...models.Recommendation) *fakeEngine {
	return &fakeEngine{
		active: active,
		rules: []models.RuleInfo{
			{ID: "task-overdue", BasePriority: 80, Modules: []string{"tasks"}, Description: "Open task past its due date"},
			{ID: "contact-neglected", BasePriority: 40, Modules: []string{"contacts"}, Description: "Contact not touched recently"},
		},
		usage: models.UsageStatus{
			Tier:      models.TierFree,
			Remaining: 3,
			Limit:     5,
			Consumed:  2,
			ResetsAt:  testNow.Add(24 * time.Hour),
		},
	}
}

func (f *fakeEngine) Load() error { return nil }

func (f *fakeEngine) ListActive() ([]models.Recommendation, error) {
	out := make([]models.Recommendation, len(f.active))
	copy(out, f.active)
	return out, nil
}

func (f *fakeEngine) Refresh(context.Context) ([]models.Recommendation, error) {
	f.refreshed++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	f.active = append(f.active, f.pending...)
	f.pending = nil
	return f.ListActive()
}

func (f *fakeEngine) Decide(_ context.Context, id string, action models.Action) (*models.Recommendation, error) {
	for _, h := range f.history {
		if h.RecommendationID == id {
			return nil, &core.AlreadyDecidedError{ID: id}
		}
	}
	for i, r := range f.active {
		if r.ID != id {
			continue
		}
		r.Status = models.StatusAccepted
		if action == models.ActionDecline {
			r.Status = models.StatusDeclined
		}
		decided := testNow
		r.DecidedAt = &decided
		f.active = append(f.active[:i], f.active[i+1:]...)
		f.history = append(f.history, models.HistoryEntry{
			RecommendationID:        r.ID,
			RuleID:                  r.RuleID,
			ModuleTag:               r.ModuleTag,
			FinalStatus:             r.Status,
			PriorityScoreAtDecision: r.PriorityScore,
			CreatedAt:               r.CreatedAt,
			DecidedAt:               decided,
		})
		return &r, nil
	}
	return nil, &core.UnknownRecommendationError{ID: id}
}

func (f *fakeEngine) Sweep(context.Context) ([]models.Recommendation, error) {
	f.swept++
	return nil, nil
}

func (f *fakeEngine) GetHistory(filter models.HistoryFilter) []models.HistoryEntry {
	f.lastFilter = filter
	var out []models.HistoryEntry
	for _, h := range f.history {
		if filter.ModuleTag != "" && h.ModuleTag != filter.ModuleTag {
			continue
		}
		if filter.Status != "" && h.FinalStatus != filter.Status {
			continue
		}
		out = append(out, h)
	}
	return out
}

func (f *fakeEngine) GetStatistics(filter models.HistoryFilter) models.Statistics {
	f.lastFilter = filter
	var s models.Statistics
	for _, h := range f.history {
		s.Total++
		switch h.FinalStatus {
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

func (f *fakeEngine) GetBreakdown(groupBy models.GroupBy, filter models.HistoryFilter) ([]models.GroupStatistics, error) {
	if groupBy != models.GroupByModule && groupBy != models.GroupByRule {
		return nil, fmt.Errorf("unsupported grouping %q", groupBy)
	}
	return []models.GroupStatistics{{Key: "tasks", Statistics: f.GetStatistics(filter)}}, nil
}

func (f *fakeEngine) GetUsageStatus() (models.UsageStatus, error) { return f.usage, nil }

func (f *fakeEngine) Rules() []models.RuleInfo { return f.rules }

func sampleRec(id, title string, score int) models.Recommendation {
	return models.Recommendation{
		ID:            id,
		RuleID:        "task-overdue",
		ModuleTag:     "tasks",
		SubjectID:     "tasks/" + id,
		Title:         title,
		Body:          "Due yesterday.",
		PriorityScore: score,
		Confidence:    core.ConfidenceFor(score),
		Status:        models.StatusActive,
		CreatedAt:     testNow.Add(-time.Hour),
		ExpiresAt:     testNow.Add(72 * time.Hour),
		Evidence: []models.Evidence{
			{SourceModule: "tasks", SourceRecordID: id, ObservedAt: testNow.Add(-time.Hour), Excerpt: title},
		},
	}
}
