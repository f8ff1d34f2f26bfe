package models

import "time"

// Tier names a usage plan.
type Tier string

const (
	TierFree     Tier = "free"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// TierLimits maps each tier to the number of recommendations it may surface
// per window.
var TierLimits = map[Tier]int{
	TierFree:     5,
	TierStandard: 15,
	TierPremium:  50,
}

// UsageWindow tracks how many recommendations were surfaced in the current
// rolling window.
type UsageWindow struct {
	TierLimit      int           `yaml:"tier_limit" json:"tier_limit"`
	WindowStart    time.Time     `yaml:"window_start" json:"window_start"`
	WindowDuration time.Duration `yaml:"window_duration" json:"window_duration"`
	ConsumedCount  int           `yaml:"consumed_count" json:"consumed_count"`
}

// ResetsAt returns the end of the current window.
func (w UsageWindow) ResetsAt() time.Time {
	return w.WindowStart.Add(w.WindowDuration)
}

// UsageStatus is the driver-facing view of the usage window.
type UsageStatus struct {
	Tier      Tier      `json:"tier"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	Consumed  int       `json:"consumed"`
	ResetsAt  time.Time `json:"resets_at"`
}
