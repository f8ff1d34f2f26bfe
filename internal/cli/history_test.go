package cli

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/valter-silva-au/command-center/pkg/models"
)

// decidedEngine returns a fake engine with one accepted and one declined
// recommendation in its history.
func decidedEngine(t *testing.T) *fakeEngine {
	t.Helper()
	eng := newFakeEngine(
		sampleRec("rec-1", "Send quarterly report", 82),
		sampleRec("rec-2", "Review pull request", 60),
	)
	ctx := context.Background()
	if _, err := eng.Decide(ctx, "rec-1", models.ActionAccept); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := eng.Decide(ctx, "rec-2", models.ActionDecline); err != nil {
		t.Fatalf("decline: %v", err)
	}
	return eng
}

func TestHistoryFlags_Filter(t *testing.T) {
	tests := []struct {
		name    string
		flags   historyFlags
		wantErr string
		check   func(t *testing.T, f models.HistoryFilter)
	}{
		{
			name:  "empty",
			flags: historyFlags{},
			check: func(t *testing.T, f models.HistoryFilter) {
				if f.Since != nil || f.Status != "" {
					t.Errorf("expected empty filter, got %+v", f)
				}
			},
		},
		{
			name:  "module and status",
			flags: historyFlags{module: "tasks", status: "declined"},
			check: func(t *testing.T, f models.HistoryFilter) {
				if f.ModuleTag != "tasks" || f.Status != models.StatusDeclined {
					t.Errorf("unexpected filter %+v", f)
				}
			},
		},
		{
			name:  "since",
			flags: historyFlags{since: "30d"},
			check: func(t *testing.T, f models.HistoryFilter) {
				if f.Since == nil {
					t.Error("expected Since to be set")
				}
			},
		},
		{name: "active is not terminal", flags: historyFlags{status: "active"}, wantErr: "invalid --status"},
		{name: "bad since", flags: historyFlags{since: "soon"}, wantErr: "parsing --since"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := tt.flags.filter()
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, f)
		})
	}
}

func TestHistoryCmd_Table(t *testing.T) {
	withEngine(t, decidedEngine(t))

	origOpts, origJSON := historyOpts, historyJSON
	defer func() { historyOpts, historyJSON = origOpts, origJSON }()
	historyOpts, historyJSON = historyFlags{}, false

	out := captureStdout(t, func() {
		if err := historyCmd.RunE(historyCmd, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	for _, want := range []string{"DECIDED", "accepted", "declined", "rec-1", "rec-2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHistoryCmd_StatusFilterJSON(t *testing.T) {
	eng := decidedEngine(t)
	withEngine(t, eng)

	origOpts, origJSON := historyOpts, historyJSON
	defer func() { historyOpts, historyJSON = origOpts, origJSON }()
	historyOpts, historyJSON = historyFlags{status: "declined"}, true

	out := captureStdout(t, func() {
		if err := historyCmd.RunE(historyCmd, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	var entries []models.HistoryEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(entries) != 1 || entries[0].RecommendationID != "rec-2" {
		t.Errorf("entries = %+v, want only rec-2", entries)
	}
	if eng.lastFilter.Status != models.StatusDeclined {
		t.Errorf("filter status = %q, want declined", eng.lastFilter.Status)
	}
}

func TestHistoryCmd_EmptyJSONIsArray(t *testing.T) {
	withEngine(t, newFakeEngine())

	origOpts, origJSON := historyOpts, historyJSON
	defer func() { historyOpts, historyJSON = origOpts, origJSON }()
	historyOpts, historyJSON = historyFlags{}, true

	out := captureStdout(t, func() {
		if err := historyCmd.RunE(historyCmd, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("output = %q, want []", out)
	}
}

func TestStatsCmd_WithBreakdown(t *testing.T) {
	withEngine(t, decidedEngine(t))

	origOpts, origBy, origJSON := statsOpts, statsBy, statsJSON
	defer func() { statsOpts, statsBy, statsJSON = origOpts, origBy, origJSON }()
	statsOpts, statsBy, statsJSON = historyFlags{}, "module", true

	out := captureStdout(t, func() {
		if err := statsCmd.RunE(statsCmd, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	var report statsReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if report.Overall.Total != 2 || report.Overall.AcceptanceRate != 0.5 {
		t.Errorf("overall = %+v, want total 2 and rate 0.5", report.Overall)
	}
	if len(report.Groups) != 1 || report.Groups[0].Key != "tasks" {
		t.Errorf("groups = %+v, want one tasks group", report.Groups)
	}
}

func TestStatsCmd_InvalidGrouping(t *testing.T) {
	withEngine(t, decidedEngine(t))

	origBy := statsBy
	defer func() { statsBy = origBy }()
	statsBy = "weekday"

	err := statsCmd.RunE(statsCmd, nil)
	if err == nil {
		t.Fatal("expected error for unsupported grouping")
	}
	if !strings.Contains(err.Error(), "unsupported grouping") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStatsCmd_Table(t *testing.T) {
	withEngine(t, decidedEngine(t))

	origOpts, origBy, origJSON := statsOpts, statsBy, statsJSON
	defer func() { statsOpts, statsBy, statsJSON = origOpts, origBy, origJSON }()
	statsOpts, statsBy, statsJSON = historyFlags{}, "", false

	out := captureStdout(t, func() {
		if err := statsCmd.RunE(statsCmd, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	if !strings.Contains(out, "Acceptance rate:") || !strings.Contains(out, "50.0%") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestUsageCmd(t *testing.T) {
	withEngine(t, newFakeEngine())

	origJSON := usageJSON
	defer func() { usageJSON = origJSON }()

	t.Run("table", func(t *testing.T) {
		usageJSON = false
		out := captureStdout(t, func() {
			if err := usageCmd.RunE(usageCmd, nil); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
		if !strings.Contains(out, "free") || !strings.Contains(out, "3 of 5") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("json", func(t *testing.T) {
		usageJSON = true
		out := captureStdout(t, func() {
			if err := usageCmd.RunE(usageCmd, nil); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
		var st models.UsageStatus
		if err := json.Unmarshal([]byte(out), &st); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, out)
		}
		if st.Remaining != 3 || st.Limit != 5 || st.Tier != models.TierFree {
			t.Errorf("status = %+v", st)
		}
	})
}

func TestRulesCmd(t *testing.T) {
	withEngine(t, newFakeEngine())

	origJSON := rulesJSON
	defer func() { rulesJSON = origJSON }()
	rulesJSON = false

	out := captureStdout(t, func() {
		if err := rulesCmd.RunE(rulesCmd, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	for _, want := range []string{"task-overdue", "contact-neglected"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
