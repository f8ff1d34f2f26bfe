package models

import "time"

// RuleDefinition is a declarative rule authored in the rules file. Expression
// is a CEL predicate evaluated once per record of Module.
type RuleDefinition struct {
	ID           string        `yaml:"id" json:"id"`
	Module       string        `yaml:"module" json:"module"`
	Description  string        `yaml:"description,omitempty" json:"description,omitempty"`
	Expression   string        `yaml:"expression" json:"expression"`
	Title        string        `yaml:"title" json:"title"`
	Body         string        `yaml:"body,omitempty" json:"body,omitempty"`
	BasePriority int           `yaml:"base_priority" json:"base_priority"`
	Cooldown     time.Duration `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`
	TTL          time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// RuleInfo describes a registered rule for listings.
type RuleInfo struct {
	ID           string   `json:"id"`
	BasePriority int      `json:"base_priority"`
	Modules      []string `json:"modules"`
	Description  string   `json:"description,omitempty"`
}

// RulesFile is the top-level structure of the rules YAML file.
type RulesFile struct {
	Version string           `yaml:"version"`
	Rules   []RuleDefinition `yaml:"rules"`
}
