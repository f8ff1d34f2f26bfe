package core

// EventLogger is the subset of the observability event log that core
// services need. Defining it here avoids importing the observability package.
type EventLogger interface {
	LogEvent(eventType string, data map[string]any) error
}

// Event types emitted by the engine.
const (
	EventModuleUnavailable    = "snapshot.module_unavailable"
	EventRuleFailed           = "rule.evaluation_failed"
	EventRefreshCompleted     = "refresh.completed"
	EventSurfaced             = "recommendation.surfaced"
	EventDecided              = "recommendation.decided"
	EventExpired              = "recommendation.expired"
	EventQuotaExhausted       = "usage.quota_exhausted"
	EventAutoRefreshFailed    = "engine.auto_refresh_failed"
	EventInconsistentRecovery = "engine.state_reconciled"
	EventPersistFailed        = "engine.persist_failed"
)

// logEvent emits an event if an EventLogger is configured.
func logEvent(l EventLogger, eventType string, data map[string]any) {
	if l != nil {
		_ = l.LogEvent(eventType, data)
	}
}
