package observability

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

var logBase = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func newTestLog(t *testing.T) (EventLog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".ccenter", "events.jsonl")
	log, err := NewJSONLEventLog(path)
	if err != nil {
		t.Fatalf("creating event log: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return log, path
}

// refreshSession writes the events of one refresh followed by two decisions.
func refreshSession(t *testing.T, log EventLog) {
	t.Helper()
	events := []Event{
		{Time: logBase, Level: "WARN", Type: "snapshot.module_unavailable", Data: map[string]any{"module": "calendar"}},
		{Time: logBase.Add(time.Second), Level: "WARN", Type: "rule.evaluation_failed", Data: map[string]any{"rule_id": "task-tagged-waiting"}},
		{Time: logBase.Add(2 * time.Second), Level: "INFO", Type: "recommendation.surfaced", Data: map[string]any{"recommendation_id": "rec-1", "rule_id": "task-overdue"}},
		{Time: logBase.Add(3 * time.Second), Level: "INFO", Type: "recommendation.surfaced", Data: map[string]any{"recommendation_id": "rec-2", "rule_id": "meeting-prep"}},
		{Time: logBase.Add(4 * time.Second), Level: "INFO", Type: "refresh.completed", Data: map[string]any{"inserted": 2}},
		{Time: logBase.Add(time.Hour), Level: "INFO", Type: "recommendation.decided", Data: map[string]any{"recommendation_id": "rec-1", "status": "accepted"}},
		{Time: logBase.Add(2 * time.Hour), Level: "INFO", Type: "recommendation.decided", Data: map[string]any{"recommendation_id": "rec-2", "status": "declined"}},
	}
	for _, e := range events {
		if err := log.Write(e); err != nil {
			t.Fatalf("writing %s: %v", e.Type, err)
		}
	}
}

func eventTypes(events []Event) string {
	var out []string
	for _, e := range events {
		out = append(out, e.Type)
	}
	return strings.Join(out, ",")
}

func TestEventLog_WriteAndReadRoundTrip(t *testing.T) {
	log, _ := newTestLog(t)
	refreshSession(t, log)

	events, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 7 {
		t.Fatalf("got %d events, want 7", len(events))
	}
	surfaced := events[2]
	if !surfaced.Time.Equal(logBase.Add(2*time.Second)) || surfaced.Data["rule_id"] != "task-overdue" {
		t.Errorf("surfaced event = %+v", surfaced)
	}
	// JSON numbers come back as float64.
	if inserted, _ := events[4].Data["inserted"].(float64); inserted != 2 {
		t.Errorf("inserted = %v, want 2", events[4].Data["inserted"])
	}
}

func TestEventLog_Filters(t *testing.T) {
	log, _ := newTestLog(t)
	refreshSession(t, log)
	since := logBase.Add(30 * time.Minute)
	until := logBase.Add(90 * time.Minute)

	tests := []struct {
		name   string
		filter EventFilter
		want   string
	}{
		{"types", EventFilter{Types: []string{"refresh.completed", "recommendation.decided"}},
			"refresh.completed,recommendation.decided,recommendation.decided"},
		{"prefix", EventFilter{Prefix: "recommendation."},
			"recommendation.surfaced,recommendation.surfaced,recommendation.decided,recommendation.decided"},
		{"prefix and types", EventFilter{Prefix: "recommendation.", Types: []string{"recommendation.decided", "refresh.completed"}},
			"recommendation.decided,recommendation.decided"},
		{"level", EventFilter{Level: "WARN"}, "snapshot.module_unavailable,rule.evaluation_failed"},
		{"time range", EventFilter{Since: &since, Until: &until}, "recommendation.decided"},
		{"limit keeps the latest", EventFilter{Types: []string{"recommendation.surfaced", "recommendation.decided"}, Limit: 2},
			"recommendation.decided,recommendation.decided"},
		{"limit above count", EventFilter{Level: "WARN", Limit: 10}, "snapshot.module_unavailable,rule.evaluation_failed"},
		{"no match", EventFilter{Types: []string{"usage.quota_exhausted"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := log.Read(tt.filter)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if got := eventTypes(events); got != tt.want {
				t.Errorf("types = %q, want %q", got, tt.want)
			}
		})
	}

	last, _ := log.Read(EventFilter{Types: []string{"recommendation.decided"}, Limit: 1})
	if len(last) != 1 || last[0].Data["status"] != "declined" {
		t.Errorf("last decision = %+v, want the decline", last)
	}
}

func TestEventLog_TruncatesLongValues(t *testing.T) {
	log, _ := newTestLog(t)
	// A multi-byte rune straddles the cut so truncation must back off.
	cause := strings.Repeat("a", MaxDataValueLen-1) + "é" + strings.Repeat("b", 100)
	data := map[string]any{"rule_id": "custom", "error": cause, "attempt": 3}

	if err := log.Write(Event{Time: logBase, Level: "WARN", Type: "rule.evaluation_failed", Data: data}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if data["error"] != cause {
		t.Error("Write modified the caller's data map")
	}

	events, err := log.Read(EventFilter{})
	if err != nil || len(events) != 1 {
		t.Fatalf("Read = %v, %v", events, err)
	}
	got, _ := events[0].Data["error"].(string)
	want := strings.Repeat("a", MaxDataValueLen-1) + TruncatedSuffix
	if got != want {
		t.Errorf("error value has length %d, want %d", len(got), len(want))
	}
	if events[0].Data["rule_id"] != "custom" {
		t.Errorf("short values must be kept: %+v", events[0].Data)
	}
}

func TestEventLog_ReadsOversizedLines(t *testing.T) {
	log, path := newTestLog(t)
	refreshSession(t, log)

	// A line far larger than a default scanner token, written by another
	// process or an older version without truncation.
	huge := `{"time":"2025-01-15T13:00:00Z","level":"WARN","type":"rule.evaluation_failed","data":{"error":"` +
		strings.Repeat("x", 256*1024) + `"}}` + "\n"
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(huge + "not json\n\n"); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()
	if err := log.Write(Event{Time: logBase.Add(4 * time.Hour), Level: "INFO", Type: "refresh.completed"}); err != nil {
		t.Fatal(err)
	}

	events, err := log.Read(EventFilter{Types: []string{"rule.evaluation_failed", "refresh.completed"}})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := eventTypes(events); got != "rule.evaluation_failed,refresh.completed,rule.evaluation_failed,refresh.completed" {
		t.Errorf("types = %q", got)
	}
}

func TestEventLog_MissingFileReadsEmpty(t *testing.T) {
	log, path := newTestLog(t)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	events, err := log.Read(EventFilter{})
	if err != nil || len(events) != 0 {
		t.Errorf("Read = %v, %v, want no events", events, err)
	}
}

func TestEventLog_ConcurrentWrites(t *testing.T) {
	log, _ := newTestLog(t)

	const writers = 10
	const perWriter = 20
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				err := log.Write(Event{
					Time:  logBase,
					Level: "INFO",
					Type:  "recommendation.surfaced",
					Data:  map[string]any{"writer": w, "index": i},
				})
				if err != nil {
					t.Errorf("concurrent write: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	events, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != writers*perWriter {
		t.Errorf("got %d events, want %d", len(events), writers*perWriter)
	}
}
