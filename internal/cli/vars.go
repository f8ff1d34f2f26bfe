package cli

import (
	"github.com/valter-silva-au/command-center/internal/core"
	"github.com/valter-silva-au/command-center/internal/observability"
)

// BasePath is the workspace directory containing .ccconfig.
var BasePath string

// Engine is the recommendation engine used by the recommendation, history,
// usage and dashboard commands. Set during application wiring.
var Engine core.RecommendationEngine

// Observability service instances, set during app initialization in app.go.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
)
