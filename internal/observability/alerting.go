package observability

import (
	"fmt"
	"sort"
	"time"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts should fire. RuleFailures and
// ModuleFailures count failures of one rule or module within Window;
// DeclineStreak counts consecutive declines. A zero threshold disables its
// check.
type AlertThresholds struct {
	RuleFailures   int           `yaml:"rule_failure_threshold" json:"rule_failure_threshold"`
	ModuleFailures int           `yaml:"module_failure_threshold" json:"module_failure_threshold"`
	DeclineStreak  int           `yaml:"decline_streak" json:"decline_streak"`
	Window         time.Duration `yaml:"window" json:"window"`
}

// DefaultAlertThresholds returns sensible defaults for alert thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		RuleFailures:   3,
		ModuleFailures: 3,
		DeclineStreak:  5,
		Window:         24 * time.Hour,
	}
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

// alertEngine implements AlertEngine by reading events and checking thresholds.
type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates a new AlertEngine with the given EventLog and thresholds.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	if thresholds.Window <= 0 {
		thresholds.Window = DefaultAlertThresholds().Window
	}
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate reads events and checks all alert conditions, returning any triggered alerts.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now()
	var alerts []Alert

	ruleAlerts, err := ae.checkFailingRules(now)
	if err != nil {
		return nil, fmt.Errorf("checking failing rules: %w", err)
	}
	alerts = append(alerts, ruleAlerts...)

	moduleAlerts, err := ae.checkUnavailableModules(now)
	if err != nil {
		return nil, fmt.Errorf("checking unavailable modules: %w", err)
	}
	alerts = append(alerts, moduleAlerts...)

	quotaAlerts, err := ae.checkQuotaExhausted(now)
	if err != nil {
		return nil, fmt.Errorf("checking quota exhaustion: %w", err)
	}
	alerts = append(alerts, quotaAlerts...)

	streakAlerts, err := ae.checkDeclineStreak(now)
	if err != nil {
		return nil, fmt.Errorf("checking decline streak: %w", err)
	}
	alerts = append(alerts, streakAlerts...)

	return alerts, nil
}

// countWithinWindow counts events of eventType per data[key] since now-Window.
func (ae *alertEngine) countWithinWindow(now time.Time, eventType, key string) (map[string]int, error) {
	since := now.Add(-ae.thresholds.Window)
	events, err := ae.eventLog.Read(EventFilter{Types: []string{eventType}, Since: &since})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, event := range events {
		if v, _ := event.Data[key].(string); v != "" {
			counts[v]++
		}
	}
	return counts, nil
}

// checkFailingRules looks for rules that keep failing evaluation.
func (ae *alertEngine) checkFailingRules(now time.Time) ([]Alert, error) {
	if ae.thresholds.RuleFailures <= 0 {
		return nil, nil
	}
	counts, err := ae.countWithinWindow(now, "rule.evaluation_failed", "rule_id")
	if err != nil {
		return nil, err
	}

	var alerts []Alert
	for _, ruleID := range sortedKeys(counts) {
		if counts[ruleID] < ae.thresholds.RuleFailures {
			continue
		}
		alerts = append(alerts, Alert{
			ID:          fmt.Sprintf("rule-failing-%s", ruleID),
			Condition:   "rule_failing",
			Severity:    SeverityHigh,
			Message:     fmt.Sprintf("rule %s failed %d times in the last %s", ruleID, counts[ruleID], ae.thresholds.Window),
			TriggeredAt: now,
		})
	}
	return alerts, nil
}

// checkUnavailableModules looks for collaborator modules that keep failing
// to respond.
func (ae *alertEngine) checkUnavailableModules(now time.Time) ([]Alert, error) {
	if ae.thresholds.ModuleFailures <= 0 {
		return nil, nil
	}
	counts, err := ae.countWithinWindow(now, "snapshot.module_unavailable", "module")
	if err != nil {
		return nil, err
	}

	var alerts []Alert
	for _, module := range sortedKeys(counts) {
		if counts[module] < ae.thresholds.ModuleFailures {
			continue
		}
		alerts = append(alerts, Alert{
			ID:          fmt.Sprintf("module-unavailable-%s", module),
			Condition:   "module_unavailable",
			Severity:    SeverityMedium,
			Message:     fmt.Sprintf("module %s was unavailable %d times in the last %s", module, counts[module], ae.thresholds.Window),
			TriggeredAt: now,
		})
	}
	return alerts, nil
}

// checkQuotaExhausted reports when refreshes were cut short by the usage tier.
func (ae *alertEngine) checkQuotaExhausted(now time.Time) ([]Alert, error) {
	since := now.Add(-ae.thresholds.Window)
	events, err := ae.eventLog.Read(EventFilter{Types: []string{"usage.quota_exhausted"}, Since: &since})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	dropped := 0
	for _, event := range events {
		requested := toInt(event.Data["requested"])
		granted := toInt(event.Data["granted"])
		if requested > granted {
			dropped += requested - granted
		}
	}
	return []Alert{{
		ID:          "quota-exhausted",
		Condition:   "quota_exhausted",
		Severity:    SeverityLow,
		Message:     fmt.Sprintf("usage quota cut %d refreshes short, dropping %d suggestions", len(events), dropped),
		TriggeredAt: now,
	}}, nil
}

// checkDeclineStreak fires when the most recent DeclineStreak decisions were
// all declines.
func (ae *alertEngine) checkDeclineStreak(now time.Time) ([]Alert, error) {
	if ae.thresholds.DeclineStreak <= 0 {
		return nil, nil
	}
	events, err := ae.eventLog.Read(EventFilter{Types: []string{"recommendation.decided"}, Limit: ae.thresholds.DeclineStreak})
	if err != nil {
		return nil, err
	}

	streak := 0
	for i := len(events) - 1; i >= 0; i-- {
		if status, _ := events[i].Data["status"].(string); status != "declined" {
			break
		}
		streak++
	}

	if streak < ae.thresholds.DeclineStreak {
		return nil, nil
	}
	return []Alert{{
		ID:          "decline-streak",
		Condition:   "decline_streak",
		Severity:    SeverityMedium,
		Message:     fmt.Sprintf("the last %d recommendations were all declined", streak),
		TriggeredAt: now,
	}}, nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// toInt reads a JSON number decoded as float64, or an int written in-process.
func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}
