package models

import "time"

// StorageBackend selects how the durable collections are persisted.
type StorageBackend string

const (
	BackendFile   StorageBackend = "file"
	BackendSQLite StorageBackend = "sqlite"
)

// EngineConfig tunes the recommendation lifecycle.
type EngineConfig struct {
	Lookback       time.Duration `yaml:"lookback" mapstructure:"lookback"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	LowWaterMark   int           `yaml:"low_water_mark" mapstructure:"low_water_mark"`
	AutoRefresh    bool          `yaml:"auto_refresh" mapstructure:"auto_refresh"`
	MaxConcurrency int           `yaml:"max_concurrency" mapstructure:"max_concurrency"`
}

// SnapshotConfig lists the collaborator modules to scan.
type SnapshotConfig struct {
	Modules       []string      `yaml:"modules" mapstructure:"modules"`
	ModuleTimeout time.Duration `yaml:"module_timeout" mapstructure:"module_timeout"`
	// RecordsDir is where the file-backed module provider reads <module>.yaml.
	RecordsDir string `yaml:"records_dir" mapstructure:"records_dir"`
}

// UsageConfig selects the usage tier and window.
type UsageConfig struct {
	Tier   Tier          `yaml:"tier" mapstructure:"tier"`
	Limit  int           `yaml:"limit,omitempty" mapstructure:"limit"`
	Window time.Duration `yaml:"window" mapstructure:"window"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend StorageBackend `yaml:"backend" mapstructure:"backend"`
	Path    string         `yaml:"path" mapstructure:"path"`
}

// RulesConfig controls which rules are registered.
type RulesConfig struct {
	File     string   `yaml:"file,omitempty" mapstructure:"file"`
	Disabled []string `yaml:"disabled,omitempty" mapstructure:"disabled"`
}

// AlertConfig configures engine health alerts.
type AlertConfig struct {
	RuleFailureThreshold int `yaml:"rule_failure_threshold" mapstructure:"rule_failure_threshold"`
	DeclineStreak        int `yaml:"decline_streak" mapstructure:"decline_streak"`
}

// GlobalConfig holds system-wide settings read from .ccconfig via Viper.
type GlobalConfig struct {
	Engine   EngineConfig   `yaml:"engine" mapstructure:"engine"`
	Snapshot SnapshotConfig `yaml:"snapshot" mapstructure:"snapshot"`
	Usage    UsageConfig    `yaml:"usage" mapstructure:"usage"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Rules    RulesConfig    `yaml:"rules" mapstructure:"rules"`
	Alerts   AlertConfig    `yaml:"alerts" mapstructure:"alerts"`
}

// TierLimit returns the effective per-window limit: an explicit limit wins
// over the tier table.
func (c UsageConfig) TierLimit() int {
	if c.Limit > 0 {
		return c.Limit
	}
	if l, ok := TierLimits[c.Tier]; ok {
		return l
	}
	return TierLimits[TierFree]
}
