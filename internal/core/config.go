// Package core contains the business logic of Command Center: the module
// snapshot reader, the rule registry and evaluator, scoring, the
// recommendation lifecycle, history statistics and the usage gate.
package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/valter-silva-au/command-center/pkg/models"
)

// ConfigFileName is the name of the global configuration file.
const ConfigFileName = ".ccconfig"

// DataDirName is the directory under the base path that holds persisted
// state and the event log.
const DataDirName = ".ccenter"

// ConfigurationManager loads and validates the global .ccconfig file.
type ConfigurationManager interface {
	LoadGlobalConfig() (*models.GlobalConfig, error)
	ValidateConfig(cfg *models.GlobalConfig) error
}

// viperConfigManager implements ConfigurationManager using Viper for
// reading YAML configuration files.
type viperConfigManager struct {
	// basePath is the root directory where .ccconfig resides.
	basePath string
}

// NewConfigurationManager creates a new ConfigurationManager that reads
// configuration files relative to basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultGlobalConfig returns a GlobalConfig populated with sensible defaults.
func DefaultGlobalConfig() *models.GlobalConfig {
	return &models.GlobalConfig{
		Engine: models.EngineConfig{
			Lookback:       DefaultLookback,
			DefaultTTL:     DefaultTTL,
			LowWaterMark:   DefaultLowWaterMark,
			AutoRefresh:    true,
			MaxConcurrency: DefaultMaxConcurrency,
		},
		Snapshot: models.SnapshotConfig{
			Modules: []string{
				models.ModuleNotes,
				models.ModuleTasks,
				models.ModuleCalendar,
				models.ModuleContacts,
			},
			ModuleTimeout: 2 * time.Second,
			RecordsDir:    "modules",
		},
		Usage: models.UsageConfig{
			Tier:   models.TierFree,
			Window: DefaultUsageWindow,
		},
		Storage: models.StorageConfig{
			Backend: models.BackendFile,
		},
		Alerts: models.AlertConfig{
			RuleFailureThreshold: 3,
			DeclineStreak:        5,
		},
	}
}

// LoadGlobalConfig reads the .ccconfig file from the base path using Viper.
// If the file does not exist, sensible defaults are returned.
func (cm *viperConfigManager) LoadGlobalConfig() (*models.GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)

	// Set Viper defaults so missing keys fall back gracefully.
	v.SetDefault("engine.lookback", cfg.Engine.Lookback)
	v.SetDefault("engine.default_ttl", cfg.Engine.DefaultTTL)
	v.SetDefault("engine.low_water_mark", cfg.Engine.LowWaterMark)
	v.SetDefault("engine.auto_refresh", cfg.Engine.AutoRefresh)
	v.SetDefault("engine.max_concurrency", cfg.Engine.MaxConcurrency)
	v.SetDefault("snapshot.modules", cfg.Snapshot.Modules)
	v.SetDefault("snapshot.module_timeout", cfg.Snapshot.ModuleTimeout)
	v.SetDefault("snapshot.records_dir", cfg.Snapshot.RecordsDir)
	v.SetDefault("usage.tier", string(cfg.Usage.Tier))
	v.SetDefault("usage.limit", cfg.Usage.Limit)
	v.SetDefault("usage.window", cfg.Usage.Window)
	v.SetDefault("storage.backend", string(cfg.Storage.Backend))
	v.SetDefault("storage.path", cfg.Storage.Path)
	v.SetDefault("rules.file", cfg.Rules.File)
	v.SetDefault("rules.disabled", cfg.Rules.Disabled)
	v.SetDefault("alerts.rule_failure_threshold", cfg.Alerts.RuleFailureThreshold)
	v.SetDefault("alerts.decline_streak", cfg.Alerts.DeclineStreak)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", ConfigFileName, err)
	}

	cfg.Engine.Lookback = v.GetDuration("engine.lookback")
	cfg.Engine.DefaultTTL = v.GetDuration("engine.default_ttl")
	cfg.Engine.LowWaterMark = v.GetInt("engine.low_water_mark")
	cfg.Engine.AutoRefresh = v.GetBool("engine.auto_refresh")
	cfg.Engine.MaxConcurrency = v.GetInt("engine.max_concurrency")

	cfg.Snapshot.Modules = v.GetStringSlice("snapshot.modules")
	cfg.Snapshot.ModuleTimeout = v.GetDuration("snapshot.module_timeout")
	cfg.Snapshot.RecordsDir = v.GetString("snapshot.records_dir")

	cfg.Usage.Tier = models.Tier(v.GetString("usage.tier"))
	cfg.Usage.Limit = v.GetInt("usage.limit")
	cfg.Usage.Window = v.GetDuration("usage.window")

	cfg.Storage.Backend = models.StorageBackend(v.GetString("storage.backend"))
	cfg.Storage.Path = v.GetString("storage.path")

	cfg.Rules.File = v.GetString("rules.file")
	cfg.Rules.Disabled = v.GetStringSlice("rules.disabled")

	cfg.Alerts.RuleFailureThreshold = v.GetInt("alerts.rule_failure_threshold")
	cfg.Alerts.DeclineStreak = v.GetInt("alerts.decline_streak")

	return cfg, nil
}

// ValidateConfig checks the configuration for invalid values and reports
// every problem at once.
func (cm *viperConfigManager) ValidateConfig(cfg *models.GlobalConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	if cfg.Engine.Lookback <= 0 {
		errs = append(errs, fmt.Sprintf("engine.lookback must be positive, got %s", cfg.Engine.Lookback))
	}
	if cfg.Engine.DefaultTTL <= 0 {
		errs = append(errs, fmt.Sprintf("engine.default_ttl must be positive, got %s", cfg.Engine.DefaultTTL))
	}
	if cfg.Engine.LowWaterMark < 0 {
		errs = append(errs, fmt.Sprintf("engine.low_water_mark must be non-negative, got %d", cfg.Engine.LowWaterMark))
	}
	if cfg.Engine.MaxConcurrency < 0 {
		errs = append(errs, fmt.Sprintf("engine.max_concurrency must be non-negative, got %d", cfg.Engine.MaxConcurrency))
	}

	if len(cfg.Snapshot.Modules) == 0 {
		errs = append(errs, "snapshot.modules must list at least one module")
	}
	seen := make(map[string]bool, len(cfg.Snapshot.Modules))
	for _, m := range cfg.Snapshot.Modules {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, "snapshot.modules must not contain empty names")
			continue
		}
		if seen[m] {
			errs = append(errs, fmt.Sprintf("snapshot.modules lists %q twice", m))
		}
		seen[m] = true
	}
	if cfg.Snapshot.ModuleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("snapshot.module_timeout must be non-negative, got %s", cfg.Snapshot.ModuleTimeout))
	}

	if _, ok := models.TierLimits[cfg.Usage.Tier]; !ok {
		errs = append(errs, fmt.Sprintf(
			"usage.tier %q is invalid, must be one of: free, standard, premium",
			cfg.Usage.Tier,
		))
	}
	if cfg.Usage.Limit < 0 {
		errs = append(errs, fmt.Sprintf("usage.limit must be non-negative, got %d", cfg.Usage.Limit))
	}
	if cfg.Usage.Window <= 0 {
		errs = append(errs, fmt.Sprintf("usage.window must be positive, got %s", cfg.Usage.Window))
	}

	switch cfg.Storage.Backend {
	case models.BackendFile, models.BackendSQLite:
	default:
		errs = append(errs, fmt.Sprintf(
			"storage.backend %q is invalid, must be one of: file, sqlite",
			cfg.Storage.Backend,
		))
	}

	if cfg.Alerts.RuleFailureThreshold < 0 {
		errs = append(errs, fmt.Sprintf("alerts.rule_failure_threshold must be non-negative, got %d", cfg.Alerts.RuleFailureThreshold))
	}
	if cfg.Alerts.DeclineStreak < 0 {
		errs = append(errs, fmt.Sprintf("alerts.decline_streak must be non-negative, got %d", cfg.Alerts.DeclineStreak))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
