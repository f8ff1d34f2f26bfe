// Package internal provides the App struct that wires all components of the
// Command Center system together and initializes the CLI layer.
package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/valter-silva-au/command-center/internal/cli"
	"github.com/valter-silva-au/command-center/internal/core"
	"github.com/valter-silva-au/command-center/internal/observability"
	"github.com/valter-silva-au/command-center/internal/storage"
	"github.com/valter-silva-au/command-center/pkg/models"
)

// EventLogFileName is the JSONL event log under the data directory.
const EventLogFileName = "events.jsonl"

// DefaultRulesFileName is the declarative rules file used when rules.file is
// not configured.
const DefaultRulesFileName = "rules.yaml"

// App holds all service dependencies for the Command Center system.
type App struct {
	BasePath string
	DataDir  string

	// Configuration
	ConfigMgr core.ConfigurationManager
	Config    *models.GlobalConfig

	// Storage layer
	Store   storage.Store
	Records *storage.RecordDirectory

	// Core services
	Rules     *core.RuleSet
	Reader    core.SnapshotReader
	Evaluator core.Evaluator
	History   core.HistoryStore
	Gate      core.UsageGate
	Engine    core.RecommendationEngine

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
}

// NewApp creates and wires all components of the Command Center system.
// basePath is the directory containing .ccconfig; persisted state lives in
// basePath/.ccenter.
func NewApp(basePath string) (*App, error) {
	app := &App{
		BasePath: basePath,
		DataDir:  filepath.Join(basePath, core.DataDirName),
	}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	globalCfg, err := app.ConfigMgr.LoadGlobalConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := app.ConfigMgr.ValidateConfig(globalCfg); err != nil {
		return nil, err
	}
	app.Config = globalCfg

	if err := os.MkdirAll(app.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(filepath.Join(app.DataDir, EventLogFileName))
	if err != nil {
		// Non-fatal: disable observability if log can't be created.
		app.EventLog = nil
	}
	var evtAdapter core.EventLogger
	if app.EventLog != nil {
		thresholds := observability.DefaultAlertThresholds()
		thresholds.RuleFailures = globalCfg.Alerts.RuleFailureThreshold
		thresholds.DeclineStreak = globalCfg.Alerts.DeclineStreak
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, thresholds)
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
		evtAdapter = &eventLogAdapter{log: app.EventLog}
	}

	// --- Storage layer ---
	app.Store, err = storage.Open(globalCfg.Storage, app.DataDir)
	if err != nil {
		_ = app.closeEventLog()
		return nil, err
	}
	app.Records = storage.NewRecordDirectory(resolvePath(basePath, globalCfg.Snapshot.RecordsDir))

	// --- Rules ---
	app.Rules, err = buildRuleSet(basePath, globalCfg.Rules)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	// --- Core services ---
	app.Reader = core.NewSnapshotReader(app.Records, globalCfg.Snapshot.Modules, globalCfg.Snapshot.ModuleTimeout, evtAdapter)
	app.Evaluator = core.NewEvaluator(app.Rules, globalCfg.Engine.MaxConcurrency, evtAdapter)
	app.History = core.NewHistoryStore(app.Store)
	app.Gate = core.NewUsageGate(globalCfg.Usage, app.Store)

	app.Engine, err = core.NewEngine(core.EngineOptions{
		Reader:      app.Reader,
		Evaluator:   app.Evaluator,
		History:     app.History,
		Gate:        app.Gate,
		Repo:        app.Store,
		EventLogger: evtAdapter,
		Config:      globalCfg.Engine,
	})
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	if err := app.Engine.Load(); err != nil {
		_ = app.Close()
		return nil, err
	}

	// --- Wire CLI package-level variables ---
	cli.BasePath = basePath
	cli.Engine = app.Engine
	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc
	cli.ProjectInit = core.NewProjectInitializer()

	return app, nil
}

// buildRuleSet registers the built-in rules followed by the declarative rules
// file, then drops disabled rule IDs.
func buildRuleSet(basePath string, cfg models.RulesConfig) (*core.RuleSet, error) {
	file := cfg.File
	if file == "" {
		file = DefaultRulesFileName
	}
	defs, err := storage.LoadRuleDefinitions(resolvePath(basePath, file))
	if err != nil {
		return nil, err
	}
	custom, err := core.CompileRules(defs)
	if err != nil {
		return nil, err
	}

	rules := append(core.BuiltinRules(), custom...)
	set, err := core.NewRuleSet(rules...)
	if err != nil {
		return nil, err
	}
	return set.Without(cfg.Disabled...), nil
}

// Close releases resources held by the App, such as the event log file handle
// and the store. It is safe to call Close on a partially wired App.
func (a *App) Close() error {
	var firstErr error
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			firstErr = err
		}
	}
	if err := a.closeEventLog(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (a *App) closeEventLog() error {
	if a.EventLog == nil {
		return nil
	}
	err := a.EventLog.Close()
	a.EventLog = nil
	return err
}

// ResolveBasePath determines the base path for the Command Center workspace.
// It checks for the CCENTER_HOME env var, then the nearest ancestor of the
// current directory containing .ccconfig, then falls back to the current
// directory.
func ResolveBasePath() string {
	if home := os.Getenv("CCENTER_HOME"); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	// Walk up to find a directory containing .ccconfig.
	for {
		if _, err := os.Stat(filepath.Join(dir, core.ConfigFileName)); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	// Fall back to cwd.
	cwd, _ := os.Getwd()
	return cwd
}

func resolvePath(basePath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(basePath, p)
}

// --- Adapters ---

// eventLogAdapter adapts observability.EventLog to core.EventLogger.
type eventLogAdapter struct {
	log observability.EventLog
}

func (a *eventLogAdapter) LogEvent(eventType string, data map[string]any) error {
	return a.log.Write(observability.Event{
		Time:    time.Now().UTC(),
		Level:   levelFor(eventType),
		Type:    eventType,
		Message: eventType,
		Data:    data,
	})
}

// levelFor maps failure events to WARN and everything else to INFO.
func levelFor(eventType string) string {
	switch {
	case eventType == core.EventModuleUnavailable,
		eventType == core.EventRuleFailed,
		eventType == core.EventQuotaExhausted,
		eventType == core.EventInconsistentRecovery,
		strings.HasSuffix(eventType, "_failed"):
		return "WARN"
	default:
		return "INFO"
	}
}
