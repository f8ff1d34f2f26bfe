package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/command-center/pkg/models"
	"gopkg.in/yaml.v3"
)

// dirRecordWriter writes sample records as <dir>/<module>.yaml.
type dirRecordWriter struct {
	dir     string
	written map[string][]models.Record
	err     error
}

func newDirRecordWriter(dir string) *dirRecordWriter {
	return &dirRecordWriter{dir: dir, written: make(map[string][]models.Record)}
}

func (w *dirRecordWriter) ModulePath(module string) string {
	return filepath.Join(w.dir, module+".yaml")
}

func (w *dirRecordWriter) WriteModule(module string, records []models.Record) error {
	if w.err != nil {
		return w.err
	}
	data, err := yaml.Marshal(records)
	if err != nil {
		return err
	}
	if err := os.WriteFile(w.ModulePath(module), data, 0o600); err != nil {
		return err
	}
	w.written[module] = records
	return nil
}

var initNow = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func TestProjectInit_CreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	records := newDirRecordWriter(filepath.Join(dir, "modules"))

	result, err := NewProjectInitializer().Init(InitConfig{
		BasePath: dir,
		Tier:     models.TierStandard,
		Backend:  models.BackendSQLite,
		Records:  records,
		Now:      initNow,
	})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	for _, rel := range []string{ConfigFileName, DataDirName, "modules", "rules.yaml"} {
		if _, err := os.Stat(filepath.Join(dir, rel)); err != nil {
			t.Errorf("expected %s to exist: %v", rel, err)
		}
	}
	for _, module := range []string{models.ModuleNotes, models.ModuleTasks, models.ModuleCalendar, models.ModuleContacts} {
		if len(records.written[module]) == 0 {
			t.Errorf("no sample records written for %s", module)
		}
	}
	if len(result.Skipped) != 1 {
		// Only the pre-existing base directory is skipped.
		t.Errorf("Skipped = %v, want only the base path", result.Skipped)
	}

	cfg, err := NewConfigurationManager(dir).LoadGlobalConfig()
	if err != nil {
		t.Fatalf("loading generated config: %v", err)
	}
	if cfg.Usage.Tier != models.TierStandard {
		t.Errorf("Tier = %q, want standard", cfg.Usage.Tier)
	}
	if cfg.Storage.Backend != models.BackendSQLite {
		t.Errorf("Backend = %q, want sqlite", cfg.Storage.Backend)
	}
}

func TestProjectInit_Idempotent(t *testing.T) {
	dir := t.TempDir()
	pi := NewProjectInitializer()
	cfg := InitConfig{BasePath: dir, Records: newDirRecordWriter(filepath.Join(dir, "modules")), Now: initNow}

	if _, err := pi.Init(cfg); err != nil {
		t.Fatalf("first Init failed: %v", err)
	}

	// User edits survive a rerun.
	configPath := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(configPath, []byte("usage:\n  tier: premium\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	result, err := pi.Init(cfg)
	if err != nil {
		t.Fatalf("second Init failed: %v", err)
	}
	if len(result.Created) != 0 {
		t.Errorf("rerun created %v, want nothing", result.Created)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "premium") {
		t.Errorf("rerun overwrote %s:\n%s", ConfigFileName, data)
	}
}

func TestProjectInit_WithoutSamples(t *testing.T) {
	dir := t.TempDir()

	result, err := NewProjectInitializer().Init(InitConfig{BasePath: dir, Now: initNow})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	for _, p := range result.Created {
		if strings.HasSuffix(p, ".yaml") && filepath.Base(p) != "rules.yaml" {
			t.Errorf("unexpected sample file %s", p)
		}
	}
}

func TestProjectInit_Errors(t *testing.T) {
	tests := []struct {
		name   string
		config InitConfig
		want   string
	}{
		{"empty base path", InitConfig{}, "base path is required"},
		{"unknown tier", InitConfig{BasePath: "x", Tier: "gold"}, `usage.tier "gold" is invalid`},
		{"unknown backend", InitConfig{BasePath: "x", Backend: "redis"}, `storage.backend "redis" is invalid`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.config.BasePath != "" {
				tt.config.BasePath = filepath.Join(t.TempDir(), tt.config.BasePath)
			}
			_, err := NewProjectInitializer().Init(tt.config)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should contain %q", err, tt.want)
			}
			if tt.config.BasePath != "" {
				if _, statErr := os.Stat(tt.config.BasePath); statErr == nil {
					t.Error("a rejected config should not create the workspace")
				}
			}
		})
	}
}

func TestProjectInit_RecordWriterError(t *testing.T) {
	dir := t.TempDir()
	records := newDirRecordWriter(dir)
	records.err = fmt.Errorf("read-only filesystem")

	_, err := NewProjectInitializer().Init(InitConfig{BasePath: dir, Records: records, Now: initNow})
	if err == nil || !strings.Contains(err.Error(), "read-only filesystem") {
		t.Errorf("err = %v, want the writer failure", err)
	}
}

func TestProjectInit_RulesFileCompiles(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewProjectInitializer().Init(InitConfig{BasePath: dir, Now: initNow}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "rules.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	var rf models.RulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		t.Fatalf("parsing rules.yaml: %v", err)
	}
	if len(rf.Rules) != len(SampleRuleDefinitions()) {
		t.Fatalf("rules.yaml holds %d rules, want %d", len(rf.Rules), len(SampleRuleDefinitions()))
	}
	if _, err := CompileRules(rf.Rules); err != nil {
		t.Errorf("sample rules do not compile: %v", err)
	}
}

func TestSampleRecords_TriggerSampleRules(t *testing.T) {
	rules, err := CompileRules(SampleRuleDefinitions())
	if err != nil {
		t.Fatalf("CompileRules: %v", err)
	}
	snap := models.Snapshot{Modules: SampleRecords(initNow)}
	for module, recs := range snap.Modules {
		snap.Modules[module] = normalizeRecords(module, recs)
	}

	for _, r := range rules {
		got, err := r.Evaluate(RuleInput{Snapshot: snap, Now: initNow})
		if err != nil {
			t.Errorf("%s: %v", r.ID(), err)
			continue
		}
		if len(got) != 1 {
			t.Errorf("%s produced %d candidates from the samples, want 1", r.ID(), len(got))
		}
	}
}
