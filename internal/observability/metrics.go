package observability

import (
	"fmt"
	"time"
)

// Metrics holds calculated metrics derived from the event log.
type Metrics struct {
	Refreshes         int            `json:"refreshes"`
	Surfaced          int            `json:"surfaced"`
	Accepted          int            `json:"accepted"`
	Declined          int            `json:"declined"`
	Expired           int            `json:"expired"`
	QuotaExhausted    int            `json:"quota_exhausted"`
	AutoRefreshFailed int            `json:"auto_refresh_failed"`
	SurfacedByRule    map[string]int `json:"surfaced_by_rule"`
	RuleFailures      map[string]int `json:"rule_failures"`
	ModuleUnavailable map[string]int `json:"module_unavailable"`
	EventCount        int            `json:"event_count"`
	OldestEvent       *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent       *time.Time     `json:"newest_event,omitempty"`
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

// metricsCalculator implements MetricsCalculator by reading from an EventLog.
type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a new MetricsCalculator that reads from the given EventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate reads all events since the given time and aggregates them into metrics.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		SurfacedByRule:    make(map[string]int),
		RuleFailures:      make(map[string]int),
		ModuleUnavailable: make(map[string]int),
	}

	m.EventCount = len(events)

	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		switch event.Type {
		case "refresh.completed":
			m.Refreshes++
		case "recommendation.surfaced":
			m.Surfaced++
			if ruleID, ok := event.Data["rule_id"].(string); ok {
				m.SurfacedByRule[ruleID]++
			}
		case "recommendation.decided":
			switch event.Data["status"] {
			case "accepted":
				m.Accepted++
			case "declined":
				m.Declined++
			}
		case "recommendation.expired":
			m.Expired++
		case "usage.quota_exhausted":
			m.QuotaExhausted++
		case "engine.auto_refresh_failed":
			m.AutoRefreshFailed++
		case "rule.evaluation_failed":
			if ruleID, ok := event.Data["rule_id"].(string); ok {
				m.RuleFailures[ruleID]++
			}
		case "snapshot.module_unavailable":
			if module, ok := event.Data["module"].(string); ok {
				m.ModuleUnavailable[module]++
			}
		}
	}

	return m, nil
}
