package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/valter-silva-au/command-center/internal/core"
	"github.com/valter-silva-au/command-center/internal/observability"
	"github.com/valter-silva-au/command-center/pkg/models"
)

// --- Fake implementations ---

type fakeEngine struct {
	active    []models.Recommendation
	history   []models.HistoryEntry
	usage     models.UsageStatus
	refreshed int
	decided   map[string]models.Action
}

func newFakeEngine(recs ...models.Recommendation) *fakeEngine {
	return &fakeEngine{
		active:  recs,
		decided: make(map[string]models.Action),
		usage: models.UsageStatus{
			Tier:      models.TierFree,
			Limit:     5,
			Consumed:  2,
			Remaining: 3,
			ResetsAt:  time.Date(2025, 1, 16, 10, 0, 0, 0, time.UTC),
		},
	}
}

func (f *fakeEngine) Load() error { return nil }

func (f *fakeEngine) ListActive() ([]models.Recommendation, error) {
	return f.active, nil
}

func (f *fakeEngine) Refresh(_ context.Context) ([]models.Recommendation, error) {
	f.refreshed++
	return f.active, nil
}

func (f *fakeEngine) Decide(_ context.Context, id string, action models.Action) (*models.Recommendation, error) {
	if _, ok := f.decided[id]; ok {
		return nil, &core.AlreadyDecidedError{ID: id}
	}
	for i, r := range f.active {
		if r.ID != id {
			continue
		}
		status, _ := action.Status()
		decidedAt := r.CreatedAt.Add(time.Hour)
		r.Status = status
		r.DecidedAt = &decidedAt
		f.decided[id] = action
		f.active = append(f.active[:i], f.active[i+1:]...)
		return &r, nil
	}
	return nil, &core.UnknownRecommendationError{ID: id}
}

func (f *fakeEngine) Sweep(_ context.Context) ([]models.Recommendation, error) { return nil, nil }

func (f *fakeEngine) GetHistory(filter models.HistoryFilter) []models.HistoryEntry {
	var out []models.HistoryEntry
	for _, e := range f.history {
		if filter.ModuleTag != "" && e.ModuleTag != filter.ModuleTag {
			continue
		}
		if filter.Status != "" && e.FinalStatus != filter.Status {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (f *fakeEngine) GetStatistics(filter models.HistoryFilter) models.Statistics {
	var st models.Statistics
	for _, e := range f.GetHistory(filter) {
		st.Total++
		switch e.FinalStatus {
		case models.StatusAccepted:
			st.AcceptedCount++
		case models.StatusDeclined:
			st.DeclinedCount++
		case models.StatusExpired:
			st.ExpiredCount++
		}
	}
	if d := st.AcceptedCount + st.DeclinedCount; d > 0 {
		st.AcceptanceRate = float64(st.AcceptedCount) / float64(d)
	}
	return st
}

func (f *fakeEngine) GetBreakdown(groupBy models.GroupBy, filter models.HistoryFilter) ([]models.GroupStatistics, error) {
	if groupBy != models.GroupByModule && groupBy != models.GroupByRule {
		return nil, &unsupportedGroupingError{groupBy: string(groupBy)}
	}
	return []models.GroupStatistics{{Key: "tasks", Statistics: f.GetStatistics(filter)}}, nil
}

func (f *fakeEngine) GetUsageStatus() (models.UsageStatus, error) { return f.usage, nil }

func (f *fakeEngine) Rules() []models.RuleInfo { return nil }

type unsupportedGroupingError struct {
	groupBy string
}

func (e *unsupportedGroupingError) Error() string {
	return "unsupported grouping: " + e.groupBy
}

type fakeMetricsCalculator struct {
	metrics *observability.Metrics
}

func (f *fakeMetricsCalculator) Calculate(_ time.Time) (*observability.Metrics, error) {
	return f.metrics, nil
}

type fakeAlertEngine struct {
	alerts []observability.Alert
}

func (f *fakeAlertEngine) Evaluate() ([]observability.Alert, error) {
	return f.alerts, nil
}

// --- Test helpers ---

func sampleRecommendation() models.Recommendation {
	created := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	return models.Recommendation{
		ID:            "rec-1",
		RuleID:        "task-overdue",
		ModuleTag:     models.ModuleTasks,
		SubjectID:     "task-42",
		Title:         "Overdue: ship release notes",
		Body:          "This task was due yesterday.",
		DedupKey:      "tasks:task-overdue:task-42",
		PriorityScore: 95,
		Confidence:    models.ConfidenceHigh,
		Status:        models.StatusActive,
		CreatedAt:     created,
		ExpiresAt:     created.Add(72 * time.Hour),
		Evidence: []models.Evidence{{
			SourceRecordID: "task-42",
			SourceModule:   models.ModuleTasks,
			ObservedAt:     created.Add(-time.Hour),
			Excerpt:        "ship release notes",
		}},
	}
}

func sampleRecommendation2() models.Recommendation {
	r := sampleRecommendation()
	r.ID = "rec-2"
	r.RuleID = "note-untagged"
	r.ModuleTag = models.ModuleNotes
	r.SubjectID = "note-7"
	r.DedupKey = "notes:note-untagged:note-7"
	r.Title = "Tag your note: standup"
	r.PriorityScore = 40
	r.Confidence = models.ConfidenceLow
	return r
}

func sampleHistory() []models.HistoryEntry {
	base := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	return []models.HistoryEntry{
		{RecommendationID: "old-1", RuleID: "task-overdue", ModuleTag: "tasks", FinalStatus: models.StatusAccepted, PriorityScoreAtDecision: 90, CreatedAt: base, DecidedAt: base.Add(time.Hour)},
		{RecommendationID: "old-2", RuleID: "task-overdue", ModuleTag: "tasks", FinalStatus: models.StatusDeclined, PriorityScoreAtDecision: 90, CreatedAt: base, DecidedAt: base.Add(2 * time.Hour)},
		{RecommendationID: "old-3", RuleID: "note-untagged", ModuleTag: "notes", FinalStatus: models.StatusExpired, PriorityScoreAtDecision: 40, CreatedAt: base, DecidedAt: base.Add(72 * time.Hour)},
	}
}

// callTool is a helper that connects a client to the server and calls a tool.
func callTool(t *testing.T, srv *Server, toolName string, args map[string]any) *gomcp.CallToolResult {
	t.Helper()

	ctx := context.Background()
	client := gomcp.NewClient(&gomcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)

	t1, t2 := gomcp.NewInMemoryTransports()

	// Connect server (non-blocking).
	go func() {
		_ = srv.MCPServer().Run(ctx, t1)
	}()

	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &gomcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("call tool %s: %v", toolName, err)
	}

	return result
}

// callToolAllowError is like callTool but returns nil instead of failing when
// the tool call returns an error (e.g. schema validation failure).
func callToolAllowError(t *testing.T, srv *Server, toolName string, args map[string]any) *gomcp.CallToolResult {
	t.Helper()

	ctx := context.Background()
	client := gomcp.NewClient(&gomcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)

	t1, t2 := gomcp.NewInMemoryTransports()

	go func() {
		_ = srv.MCPServer().Run(ctx, t1)
	}()

	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &gomcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		// Protocol-level error (e.g. schema validation) -- return nil.
		return nil
	}

	return result
}

// decodeOutput reads a tool's structured output, falling back to the text
// content.
func decodeOutput(t *testing.T, result *gomcp.CallToolResult, out any) {
	t.Helper()
	text := extractText(result)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		if result.StructuredContent == nil {
			t.Fatalf("unmarshalling output: %v (text was: %s)", err, text)
		}
		data, _ := json.Marshal(result.StructuredContent)
		if err2 := json.Unmarshal(data, out); err2 != nil {
			t.Fatalf("unmarshalling structured output: %v", err2)
		}
	}
}

// --- Tests ---

func TestListActive(t *testing.T) {
	eng := newFakeEngine(sampleRecommendation(), sampleRecommendation2())
	srv := NewServer(eng, nil, nil, "test")

	result := callTool(t, srv, "list_active", map[string]any{})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}

	var out listActiveOutput
	decodeOutput(t, result, &out)

	if out.Count != 2 {
		t.Fatalf("expected 2 recommendations, got %d", out.Count)
	}
	first := out.Recommendations[0]
	if first.ID != "rec-1" || first.PriorityScore != 95 || first.Confidence != "high" {
		t.Errorf("unexpected first recommendation: %+v", first)
	}
	if len(first.Evidence) != 1 || first.Evidence[0].SourceRecordID != "task-42" {
		t.Errorf("expected evidence for task-42, got %+v", first.Evidence)
	}
}

func TestRefresh(t *testing.T) {
	eng := newFakeEngine(sampleRecommendation())
	srv := NewServer(eng, nil, nil, "test")

	result := callTool(t, srv, "refresh", map[string]any{})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}
	if eng.refreshed != 1 {
		t.Errorf("expected engine refresh to run once, ran %d times", eng.refreshed)
	}

	var out listActiveOutput
	decodeOutput(t, result, &out)
	if out.Count != 1 {
		t.Errorf("expected 1 recommendation, got %d", out.Count)
	}
}

func TestDecideAccept(t *testing.T) {
	eng := newFakeEngine(sampleRecommendation())
	srv := NewServer(eng, nil, nil, "test")

	result := callTool(t, srv, "decide", map[string]any{"id": "rec-1", "action": "accept"})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}

	var out decideOutput
	decodeOutput(t, result, &out)
	if out.Recommendation.Status != "accepted" {
		t.Errorf("expected status accepted, got %s", out.Recommendation.Status)
	}
	if out.Recommendation.DecidedAt == "" {
		t.Error("expected decided_at to be set")
	}
	if eng.decided["rec-1"] != models.ActionAccept {
		t.Errorf("expected engine to record accept, got %q", eng.decided["rec-1"])
	}
}

func TestDecideTwice(t *testing.T) {
	eng := newFakeEngine(sampleRecommendation())
	srv := NewServer(eng, nil, nil, "test")

	first := callTool(t, srv, "decide", map[string]any{"id": "rec-1", "action": "decline"})
	if first.IsError {
		t.Fatalf("first decide failed: %s", extractText(first))
	}

	second := callTool(t, srv, "decide", map[string]any{"id": "rec-1", "action": "accept"})
	if !second.IsError {
		t.Fatal("expected error result for an already decided recommendation")
	}
	if eng.decided["rec-1"] != models.ActionDecline {
		t.Errorf("first decision must stand, got %q", eng.decided["rec-1"])
	}
}

func TestDecideUnknown(t *testing.T) {
	srv := NewServer(newFakeEngine(), nil, nil, "test")

	result := callTool(t, srv, "decide", map[string]any{"id": "nope", "action": "accept"})
	if !result.IsError {
		t.Fatal("expected error result for unknown recommendation")
	}
	if extractText(result) == "" {
		t.Fatal("expected error message in result content")
	}
}

func TestDecideInvalidAction(t *testing.T) {
	eng := newFakeEngine(sampleRecommendation())
	srv := NewServer(eng, nil, nil, "test")

	result := callTool(t, srv, "decide", map[string]any{"id": "rec-1", "action": "snooze"})
	if !result.IsError {
		t.Fatal("expected error result for invalid action")
	}
	if len(eng.decided) != 0 {
		t.Error("invalid action must not reach the engine")
	}
}

func TestDecideMissingID(t *testing.T) {
	srv := NewServer(newFakeEngine(), nil, nil, "test")

	// The SDK validates required fields at the schema level, so calling
	// decide without id produces a protocol-level validation error.
	result := callToolAllowError(t, srv, "decide", map[string]any{"action": "accept"})
	if result == nil {
		return
	}
	if !result.IsError {
		t.Fatal("expected error result for missing id")
	}
}

func TestGetHistoryWithFilter(t *testing.T) {
	eng := newFakeEngine()
	eng.history = sampleHistory()
	srv := NewServer(eng, nil, nil, "test")

	result := callTool(t, srv, "get_history", map[string]any{"module": "tasks"})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}

	var out getHistoryOutput
	decodeOutput(t, result, &out)
	if out.Count != 2 {
		t.Fatalf("expected 2 task entries, got %d", out.Count)
	}
	for _, e := range out.Entries {
		if e.Module != "tasks" {
			t.Errorf("expected module tasks, got %s", e.Module)
		}
	}
}

func TestGetHistoryInvalidStatus(t *testing.T) {
	srv := NewServer(newFakeEngine(), nil, nil, "test")

	result := callTool(t, srv, "get_history", map[string]any{"status": "active"})
	if !result.IsError {
		t.Fatal("expected error result for non-terminal status filter")
	}
}

func TestGetStatistics(t *testing.T) {
	eng := newFakeEngine()
	eng.history = sampleHistory()
	srv := NewServer(eng, nil, nil, "test")

	result := callTool(t, srv, "get_statistics", map[string]any{"group_by": "module"})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}

	var out getStatisticsOutput
	decodeOutput(t, result, &out)
	if out.Overall.Total != 3 || out.Overall.Accepted != 1 || out.Overall.Declined != 1 || out.Overall.Expired != 1 {
		t.Errorf("unexpected overall statistics: %+v", out.Overall)
	}
	if out.Overall.AcceptanceRate != 0.5 {
		t.Errorf("expected acceptance rate 0.5, got %v", out.Overall.AcceptanceRate)
	}
	if len(out.Groups) != 1 {
		t.Errorf("expected 1 group, got %d", len(out.Groups))
	}
}

func TestGetStatisticsInvalidGrouping(t *testing.T) {
	srv := NewServer(newFakeEngine(), nil, nil, "test")

	result := callTool(t, srv, "get_statistics", map[string]any{"group_by": "weekday"})
	if !result.IsError {
		t.Fatal("expected error result for unsupported grouping")
	}
}

func TestGetUsageStatus(t *testing.T) {
	srv := NewServer(newFakeEngine(), nil, nil, "test")

	result := callTool(t, srv, "get_usage_status", map[string]any{})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}

	var out usageStatusOutput
	decodeOutput(t, result, &out)
	if out.Tier != "free" || out.Limit != 5 || out.Remaining != 3 {
		t.Errorf("unexpected usage status: %+v", out)
	}
	if out.ResetsAt != "2025-01-16T10:00:00Z" {
		t.Errorf("unexpected resets_at %s", out.ResetsAt)
	}
}

func TestGetMetrics(t *testing.T) {
	oldest := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	mc := &fakeMetricsCalculator{metrics: &observability.Metrics{
		Refreshes:         4,
		Surfaced:          9,
		Accepted:          3,
		SurfacedByRule:    map[string]int{"task-overdue": 9},
		RuleFailures:      map[string]int{},
		ModuleUnavailable: map[string]int{},
		EventCount:        20,
		OldestEvent:       &oldest,
	}}
	srv := NewServer(newFakeEngine(), mc, nil, "test")

	result := callTool(t, srv, "get_metrics", map[string]any{"since": "30d"})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}

	var out metricsOutput
	decodeOutput(t, result, &out)
	if out.Refreshes != 4 || out.Surfaced != 9 || out.EventCount != 20 {
		t.Errorf("unexpected metrics: %+v", out)
	}
	if out.OldestEvent != "2025-01-15T10:00:00Z" {
		t.Errorf("unexpected oldest event %s", out.OldestEvent)
	}
}

func TestGetMetricsUnavailable(t *testing.T) {
	srv := NewServer(newFakeEngine(), nil, nil, "test")

	result := callTool(t, srv, "get_metrics", map[string]any{})
	if !result.IsError {
		t.Fatal("expected error result when metrics calculator is nil")
	}
}

func TestGetMetricsInvalidSince(t *testing.T) {
	mc := &fakeMetricsCalculator{metrics: &observability.Metrics{}}
	srv := NewServer(newFakeEngine(), mc, nil, "test")

	result := callTool(t, srv, "get_metrics", map[string]any{"since": "7w"})
	if !result.IsError {
		t.Fatal("expected error result for unsupported duration suffix")
	}
}

func TestGetAlerts(t *testing.T) {
	ae := &fakeAlertEngine{alerts: []observability.Alert{{
		ID:          "rule-failing-meeting-prep",
		Condition:   "rule_failing",
		Severity:    observability.SeverityHigh,
		Message:     "rule meeting-prep failed 3 times",
		TriggeredAt: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
	}}}
	srv := NewServer(newFakeEngine(), nil, ae, "test")

	result := callTool(t, srv, "get_alerts", map[string]any{})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}

	var out getAlertsOutput
	decodeOutput(t, result, &out)
	if out.Count != 1 || out.Alerts[0].Severity != "high" {
		t.Errorf("unexpected alerts: %+v", out)
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"7d", now.AddDate(0, 0, -7), false},
		{"24h", now.Add(-24 * time.Hour), false},
		{"d", time.Time{}, true},
		{"3w", time.Time{}, true},
		{"xd", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSince(tt.in, now)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseSince(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func extractText(result *gomcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(*gomcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
