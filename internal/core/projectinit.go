package core

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/valter-silva-au/command-center/pkg/models"
	"gopkg.in/yaml.v3"
)

// RecordWriter writes the sample records of a collaborator module.
type RecordWriter interface {
	ModulePath(module string) string
	WriteModule(module string, records []models.Record) error
}

// InitConfig holds the parameters for initializing a workspace.
type InitConfig struct {
	BasePath string
	Tier     models.Tier
	Backend  models.StorageBackend
	// Records receives sample module files; nil skips them.
	Records RecordWriter
	Now     time.Time
}

// InitResult holds a summary of what was created vs. skipped.
type InitResult struct {
	Created []string
	Skipped []string
}

// ProjectInitializer scaffolds a Command Center workspace: the .ccconfig
// file, the data directory, a declarative rules file and sample module
// records.
type ProjectInitializer interface {
	Init(config InitConfig) (*InitResult, error)
}

type projectInitializer struct {
	configTmpl *template.Template
}

// NewProjectInitializer creates a new ProjectInitializer.
func NewProjectInitializer() ProjectInitializer {
	return &projectInitializer{
		configTmpl: template.Must(template.New(ConfigFileName).Parse(configTemplate)),
	}
}

const configTemplate = `# Command Center configuration.
engine:
  lookback: {{.Engine.Lookback}}
  default_ttl: {{.Engine.DefaultTTL}}
  low_water_mark: {{.Engine.LowWaterMark}}
  auto_refresh: {{.Engine.AutoRefresh}}
  max_concurrency: {{.Engine.MaxConcurrency}}

snapshot:
  modules:
{{- range .Snapshot.Modules}}
    - {{.}}
{{- end}}
  module_timeout: {{.Snapshot.ModuleTimeout}}
  records_dir: {{.Snapshot.RecordsDir}}

usage:
  tier: {{.Usage.Tier}}
  window: {{.Usage.Window}}

storage:
  backend: {{.Storage.Backend}}

rules:
  file: rules.yaml
  disabled: []

alerts:
  rule_failure_threshold: {{.Alerts.RuleFailureThreshold}}
  decline_streak: {{.Alerts.DeclineStreak}}
`

// Init creates the workspace. It is safe to run on an existing workspace:
// files and directories that already exist are skipped and not overwritten.
func (pi *projectInitializer) Init(config InitConfig) (*InitResult, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("initializing workspace: base path is required")
	}
	if config.Now.IsZero() {
		config.Now = time.Now().UTC()
	}

	cfg := DefaultGlobalConfig()
	if config.Tier != "" {
		cfg.Usage.Tier = config.Tier
	}
	if config.Backend != "" {
		cfg.Storage.Backend = config.Backend
	}
	if err := NewConfigurationManager(config.BasePath).ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}

	result := &InitResult{}

	for _, dir := range []string{
		config.BasePath,
		filepath.Join(config.BasePath, DataDirName),
		filepath.Join(config.BasePath, cfg.Snapshot.RecordsDir),
	} {
		created, err := ensureDir(dir)
		if err != nil {
			return nil, fmt.Errorf("initializing workspace: creating directory %s: %w", dir, err)
		}
		if created {
			result.Created = append(result.Created, dir)
		} else {
			result.Skipped = append(result.Skipped, dir)
		}
	}

	configPath := filepath.Join(config.BasePath, ConfigFileName)
	if err := writeFileIfNotExists(configPath, func() ([]byte, error) {
		var buf bytes.Buffer
		if err := pi.configTmpl.Execute(&buf, cfg); err != nil {
			return nil, fmt.Errorf("rendering %s: %w", ConfigFileName, err)
		}
		return buf.Bytes(), nil
	}, result); err != nil {
		return nil, err
	}

	rulesPath := filepath.Join(config.BasePath, "rules.yaml")
	if err := writeFileIfNotExists(rulesPath, func() ([]byte, error) {
		return yaml.Marshal(&models.RulesFile{Version: "1.0", Rules: SampleRuleDefinitions()})
	}, result); err != nil {
		return nil, err
	}

	if config.Records != nil {
		samples := SampleRecords(config.Now)
		for _, module := range cfg.Snapshot.Modules {
			path := config.Records.ModulePath(module)
			if _, err := os.Stat(path); err == nil {
				result.Skipped = append(result.Skipped, path)
				continue
			}
			if err := config.Records.WriteModule(module, samples[module]); err != nil {
				return nil, fmt.Errorf("initializing workspace: %w", err)
			}
			result.Created = append(result.Created, path)
		}
	}

	return result, nil
}

// SampleRuleDefinitions returns the declarative rules written by init.
func SampleRuleDefinitions() []models.RuleDefinition {
	return []models.RuleDefinition{
		{
			ID:           "note-open-todos",
			Module:       models.ModuleNotes,
			Description:  "Note with unresolved TODO lines",
			Expression:   `record.text.exists(t, t.contains("TODO"))`,
			Title:        "Resolve TODOs in {title}",
			Body:         "This note still lists open TODO items.",
			BasePriority: 55,
			Cooldown:     7 * 24 * time.Hour,
		},
		{
			ID:           "task-flagged-urgent",
			Module:       models.ModuleTasks,
			Description:  "Open task tagged urgent",
			Expression:   `"urgent" in record.tags && !("done" in record.tags)`,
			Title:        "Urgent: {title}",
			BasePriority: 85,
			Cooldown:     24 * time.Hour,
			TTL:          24 * time.Hour,
		},
	}
}

// SampleRecords returns a small set of records per module that exercises the
// built-in rules relative to now.
func SampleRecords(now time.Time) map[string][]models.Record {
	at := func(d time.Duration) time.Time { return now.Add(d).Truncate(time.Minute) }
	ptr := func(t time.Time) *time.Time { return &t }
	day := 24 * time.Hour

	return map[string][]models.Record{
		models.ModuleTasks: {
			{ID: "task-1", CreatedAt: at(-10 * day), UpdatedAt: at(-2 * day), DueAt: ptr(at(-day)), TextFields: []string{"Send quarterly report", "Finance needs the numbers"}},
			{ID: "task-2", CreatedAt: at(-3 * day), UpdatedAt: at(-3 * time.Hour), DueAt: ptr(at(6 * time.Hour)), Tags: []string{"urgent"}, TextFields: []string{"Review pull request"}},
			{ID: "task-3", CreatedAt: at(-40 * day), UpdatedAt: at(-20 * day), TextFields: []string{"Clean up the garage"}},
			{ID: "task-4", CreatedAt: at(-5 * day), UpdatedAt: at(-day), DueAt: ptr(at(-2 * day)), Tags: []string{"done"}, TextFields: []string{"Renew passport"}},
		},
		models.ModuleCalendar: {
			{ID: "event-1", CreatedAt: at(-7 * day), UpdatedAt: at(-7 * day), DueAt: ptr(at(3 * time.Hour)), TextFields: []string{"Design review"}},
			{ID: "event-2", CreatedAt: at(-7 * day), UpdatedAt: at(-7 * day), DueAt: ptr(at(5 * time.Hour)), TextFields: []string{"Team standup"}},
		},
		models.ModuleNotes: {
			{ID: "note-1", CreatedAt: at(-3 * day), UpdatedAt: at(-2 * day), TextFields: []string{"Ideas for the offsite"}},
			{ID: "note-2", CreatedAt: at(-day), UpdatedAt: at(-time.Hour), Tags: []string{"meetings"}, TextFields: []string{"Team standup agenda", "TODO: collect blockers"}},
		},
		models.ModuleContacts: {
			{ID: "contact-1", CreatedAt: at(-400 * day), UpdatedAt: at(-120 * day), TextFields: []string{"Alex Morgan", "Former colleague"}},
			{ID: "contact-2", CreatedAt: at(-30 * day), UpdatedAt: at(-5 * day), TextFields: []string{"Sam Lee"}},
		},
	}
}

// ensureDir creates a directory if it does not exist. Returns true if created.
func ensureDir(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return false, err
	}
	return true, nil
}

// writeFileIfNotExists writes content from contentFn if the file does not exist.
// It records created/skipped in the result.
func writeFileIfNotExists(path string, contentFn func() ([]byte, error), result *InitResult) error {
	if _, err := os.Stat(path); err == nil {
		result.Skipped = append(result.Skipped, path)
		return nil
	}
	content, err := contentFn()
	if err != nil {
		return fmt.Errorf("initializing workspace: generating content for %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return fmt.Errorf("initializing workspace: writing %s: %w", path, err)
	}
	result.Created = append(result.Created, path)
	return nil
}
