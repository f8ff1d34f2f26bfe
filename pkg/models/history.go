package models

import "time"

// HistoryEntry is the immutable record written when a recommendation leaves
// the active state.
type HistoryEntry struct {
	RecommendationID        string               `yaml:"recommendation_id" json:"recommendation_id"`
	RuleID                  string               `yaml:"rule_id" json:"rule_id"`
	ModuleTag               string               `yaml:"module_tag" json:"module_tag"`
	SubjectID               string               `yaml:"subject_id,omitempty" json:"subject_id,omitempty"`
	FinalStatus             RecommendationStatus `yaml:"final_status" json:"final_status"`
	PriorityScoreAtDecision int                  `yaml:"priority_score_at_decision" json:"priority_score_at_decision"`
	CreatedAt               time.Time            `yaml:"created_at" json:"created_at"`
	DecidedAt               time.Time            `yaml:"decided_at" json:"decided_at"`
}

// HistoryFilter narrows history queries. Zero-valued fields match everything.
type HistoryFilter struct {
	ModuleTag string
	RuleID    string
	Status    RecommendationStatus
	Since     *time.Time
	Until     *time.Time
}

// Statistics summarises terminal decisions.
type Statistics struct {
	Total          int     `json:"total"`
	AcceptedCount  int     `json:"accepted_count"`
	DeclinedCount  int     `json:"declined_count"`
	ExpiredCount   int     `json:"expired_count"`
	AcceptanceRate float64 `json:"acceptance_rate"`
}

// GroupBy selects the dimension of a statistics breakdown.
type GroupBy string

const (
	GroupByModule GroupBy = "module"
	GroupByRule   GroupBy = "rule"
)

// GroupStatistics is the statistics of one module or rule.
type GroupStatistics struct {
	Key string `json:"key"`
	Statistics
}
