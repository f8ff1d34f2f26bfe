// Package mcp provides an MCP (Model Context Protocol) server that exposes
// the recommendation engine as MCP tools for AI assistants.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/valter-silva-au/command-center/internal/core"
	"github.com/valter-silva-au/command-center/internal/observability"
	"github.com/valter-silva-au/command-center/pkg/models"
)

// Server wraps the engine and exposes it as MCP tools.
type Server struct {
	server      *gomcp.Server
	engine      core.RecommendationEngine
	metricsCalc observability.MetricsCalculator
	alertEngine observability.AlertEngine
}

// NewServer creates a new MCP server over the given engine.
// metricsCalc and alertEngine may be nil if observability is disabled.
func NewServer(engine core.RecommendationEngine, metricsCalc observability.MetricsCalculator, alertEngine observability.AlertEngine, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		engine:      engine,
		metricsCalc: metricsCalc,
		alertEngine: alertEngine,
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "ccenter", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio, blocking until the client
// disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type evidenceOutput struct {
	SourceRecordID string `json:"source_record_id"`
	SourceModule   string `json:"source_module"`
	ObservedAt     string `json:"observed_at"`
	Excerpt        string `json:"excerpt"`
}

type recommendationOutput struct {
	ID            string           `json:"id"`
	RuleID        string           `json:"rule_id"`
	Module        string           `json:"module"`
	SubjectID     string           `json:"subject_id"`
	Title         string           `json:"title"`
	Body          string           `json:"body,omitempty"`
	PriorityScore int              `json:"priority_score"`
	Confidence    string           `json:"confidence"`
	Status        string           `json:"status"`
	CreatedAt     string           `json:"created_at"`
	ExpiresAt     string           `json:"expires_at"`
	DecidedAt     string           `json:"decided_at,omitempty"`
	Evidence      []evidenceOutput `json:"evidence"`
}

type listActiveInput struct{}

type listActiveOutput struct {
	Recommendations []recommendationOutput `json:"recommendations"`
	Count           int                    `json:"count"`
}

type refreshInput struct{}

type decideInput struct {
	ID     string `json:"id" jsonschema:"required,the recommendation ID returned by list_active"`
	Action string `json:"action" jsonschema:"required,the decision: accept or decline"`
}

type decideOutput struct {
	Recommendation recommendationOutput `json:"recommendation"`
	Message        string               `json:"message"`
}

type historyFilterInput struct {
	Module string `json:"module,omitempty" jsonschema:"only entries from this module (notes, tasks, calendar, contacts)"`
	RuleID string `json:"rule_id,omitempty" jsonschema:"only entries produced by this rule"`
	Status string `json:"status,omitempty" jsonschema:"only entries with this final status (accepted, declined, expired)"`
	Since  string `json:"since,omitempty" jsonschema:"only entries decided within this window (e.g. 7d, 24h)"`
}

type historyEntryOutput struct {
	RecommendationID string `json:"recommendation_id"`
	RuleID           string `json:"rule_id"`
	Module           string `json:"module"`
	SubjectID        string `json:"subject_id,omitempty"`
	FinalStatus      string `json:"final_status"`
	PriorityScore    int    `json:"priority_score"`
	CreatedAt        string `json:"created_at"`
	DecidedAt        string `json:"decided_at"`
}

type getHistoryOutput struct {
	Entries []historyEntryOutput `json:"entries"`
	Count   int                  `json:"count"`
}

type getStatisticsInput struct {
	Module  string `json:"module,omitempty" jsonschema:"only entries from this module (notes, tasks, calendar, contacts)"`
	RuleID  string `json:"rule_id,omitempty" jsonschema:"only entries produced by this rule"`
	Status  string `json:"status,omitempty" jsonschema:"only entries with this final status (accepted, declined, expired)"`
	Since   string `json:"since,omitempty" jsonschema:"only entries decided within this window (e.g. 7d, 24h)"`
	GroupBy string `json:"group_by,omitempty" jsonschema:"also break statistics down by module or rule"`
}

type statisticsOutput struct {
	Key            string  `json:"key,omitempty"`
	Total          int     `json:"total"`
	Accepted       int     `json:"accepted"`
	Declined       int     `json:"declined"`
	Expired        int     `json:"expired"`
	AcceptanceRate float64 `json:"acceptance_rate"`
}

type getStatisticsOutput struct {
	Overall statisticsOutput   `json:"overall"`
	Groups  []statisticsOutput `json:"groups,omitempty"`
}

type getUsageStatusInput struct{}

type usageStatusOutput struct {
	Tier      string `json:"tier"`
	Limit     int    `json:"limit"`
	Consumed  int    `json:"consumed"`
	Remaining int    `json:"remaining"`
	ResetsAt  string `json:"resets_at"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
	Refreshes         int            `json:"refreshes"`
	Surfaced          int            `json:"surfaced"`
	Accepted          int            `json:"accepted"`
	Declined          int            `json:"declined"`
	Expired           int            `json:"expired"`
	QuotaExhausted    int            `json:"quota_exhausted"`
	SurfacedByRule    map[string]int `json:"surfaced_by_rule"`
	RuleFailures      map[string]int `json:"rule_failures"`
	ModuleUnavailable map[string]int `json:"module_unavailable"`
	EventCount        int            `json:"event_count"`
	OldestEvent       string         `json:"oldest_event,omitempty"`
	NewestEvent       string         `json:"newest_event,omitempty"`
}

type getAlertsInput struct{}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_active",
		Description: "List active recommendations, highest priority first, with the evidence behind each one.",
	}, s.handleListActive)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "refresh",
		Description: "Scan the productivity modules, evaluate every rule and surface new recommendations within the usage quota.",
	}, s.handleRefresh)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "decide",
		Description: "Accept or decline an active recommendation. Decisions are final.",
	}, s.handleDecide)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_history",
		Description: "List terminal decisions (accepted, declined, expired) with optional filters.",
	}, s.handleGetHistory)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_statistics",
		Description: "Get acceptance statistics, optionally broken down by module or rule.",
	}, s.handleGetStatistics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_usage_status",
		Description: "Get the usage tier, remaining recommendations in the current window and when it resets.",
	}, s.handleGetUsageStatus)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get engine metrics from the event log: refreshes, surfaced and decided recommendations, rule and module failures.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate and return engine health alerts (failing rules, unavailable modules, quota exhaustion, decline streaks).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleListActive(_ context.Context, _ *gomcp.CallToolRequest, _ listActiveInput) (*gomcp.CallToolResult, listActiveOutput, error) {
	recs, err := s.engine.ListActive()
	if err != nil {
		return errorResult(fmt.Sprintf("listing active recommendations: %s", err)), listActiveOutput{}, nil
	}
	return nil, toListActiveOutput(recs), nil
}

func (s *Server) handleRefresh(ctx context.Context, _ *gomcp.CallToolRequest, _ refreshInput) (*gomcp.CallToolResult, listActiveOutput, error) {
	recs, err := s.engine.Refresh(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("refreshing: %s", err)), listActiveOutput{}, nil
	}
	return nil, toListActiveOutput(recs), nil
}

func (s *Server) handleDecide(ctx context.Context, _ *gomcp.CallToolRequest, input decideInput) (*gomcp.CallToolResult, decideOutput, error) {
	if input.ID == "" {
		return errorResult("id is required"), decideOutput{}, nil
	}
	action := models.Action(input.Action)
	if _, ok := action.Status(); !ok {
		return errorResult(fmt.Sprintf("invalid action %q: must be accept or decline", input.Action)), decideOutput{}, nil
	}

	rec, err := s.engine.Decide(ctx, input.ID, action)
	if err != nil {
		var already *core.AlreadyDecidedError
		var unknown *core.UnknownRecommendationError
		switch {
		case errors.As(err, &already):
			return errorResult(fmt.Sprintf("recommendation %s was already decided", input.ID)), decideOutput{}, nil
		case errors.As(err, &unknown):
			return errorResult(fmt.Sprintf("recommendation %s is not active", input.ID)), decideOutput{}, nil
		default:
			return errorResult(fmt.Sprintf("deciding %s: %s", input.ID, err)), decideOutput{}, nil
		}
	}

	out := decideOutput{
		Recommendation: toRecommendationOutput(*rec),
		Message:        fmt.Sprintf("recommendation %s %s", rec.ID, rec.Status),
	}
	return nil, out, nil
}

func (s *Server) handleGetHistory(_ context.Context, _ *gomcp.CallToolRequest, input historyFilterInput) (*gomcp.CallToolResult, getHistoryOutput, error) {
	filter, err := toHistoryFilter(input)
	if err != nil {
		return errorResult(err.Error()), getHistoryOutput{}, nil
	}

	entries := s.engine.GetHistory(filter)
	out := getHistoryOutput{
		Entries: make([]historyEntryOutput, len(entries)),
		Count:   len(entries),
	}
	for i, e := range entries {
		out.Entries[i] = historyEntryOutput{
			RecommendationID: e.RecommendationID,
			RuleID:           e.RuleID,
			Module:           e.ModuleTag,
			SubjectID:        e.SubjectID,
			FinalStatus:      string(e.FinalStatus),
			PriorityScore:    e.PriorityScoreAtDecision,
			CreatedAt:        e.CreatedAt.Format(time.RFC3339),
			DecidedAt:        e.DecidedAt.Format(time.RFC3339),
		}
	}
	return nil, out, nil
}

func (s *Server) handleGetStatistics(_ context.Context, _ *gomcp.CallToolRequest, input getStatisticsInput) (*gomcp.CallToolResult, getStatisticsOutput, error) {
	filter, err := toHistoryFilter(historyFilterInput{
		Module: input.Module,
		RuleID: input.RuleID,
		Status: input.Status,
		Since:  input.Since,
	})
	if err != nil {
		return errorResult(err.Error()), getStatisticsOutput{}, nil
	}

	out := getStatisticsOutput{
		Overall: toStatisticsOutput("", s.engine.GetStatistics(filter)),
	}
	if input.GroupBy != "" {
		groups, err := s.engine.GetBreakdown(models.GroupBy(input.GroupBy), filter)
		if err != nil {
			return errorResult(err.Error()), getStatisticsOutput{}, nil
		}
		for _, g := range groups {
			out.Groups = append(out.Groups, toStatisticsOutput(g.Key, g.Statistics))
		}
	}
	return nil, out, nil
}

func (s *Server) handleGetUsageStatus(_ context.Context, _ *gomcp.CallToolRequest, _ getUsageStatusInput) (*gomcp.CallToolResult, usageStatusOutput, error) {
	st, err := s.engine.GetUsageStatus()
	if err != nil {
		return errorResult(fmt.Sprintf("getting usage status: %s", err)), usageStatusOutput{}, nil
	}
	return nil, usageStatusOutput{
		Tier:      string(st.Tier),
		Limit:     st.Limit,
		Consumed:  st.Consumed,
		Remaining: st.Remaining,
		ResetsAt:  st.ResetsAt.Format(time.RFC3339),
	}, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.metricsCalc == nil {
		return errorResult("metrics calculator not available (observability may be disabled)"), emptyMetricsOutput(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}

	sinceTime, err := ParseSince(sinceStr, time.Now().UTC())
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	metrics, err := s.metricsCalc.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		Refreshes:         metrics.Refreshes,
		Surfaced:          metrics.Surfaced,
		Accepted:          metrics.Accepted,
		Declined:          metrics.Declined,
		Expired:           metrics.Expired,
		QuotaExhausted:    metrics.QuotaExhausted,
		SurfacedByRule:    metrics.SurfacedByRule,
		RuleFailures:      metrics.RuleFailures,
		ModuleUnavailable: metrics.ModuleUnavailable,
		EventCount:        metrics.EventCount,
	}
	if metrics.OldestEvent != nil {
		out.OldestEvent = metrics.OldestEvent.Format(time.RFC3339)
	}
	if metrics.NewestEvent != nil {
		out.NewestEvent = metrics.NewestEvent.Format(time.RFC3339)
	}

	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.alertEngine == nil {
		return errorResult("alert engine not available (observability may be disabled)"), getAlertsOutput{}, nil
	}

	alerts, err := s.alertEngine.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{}, nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}

	return nil, out, nil
}

// --- Helpers ---

func toListActiveOutput(recs []models.Recommendation) listActiveOutput {
	out := listActiveOutput{
		Recommendations: make([]recommendationOutput, len(recs)),
		Count:           len(recs),
	}
	for i, r := range recs {
		out.Recommendations[i] = toRecommendationOutput(r)
	}
	return out
}

func toRecommendationOutput(r models.Recommendation) recommendationOutput {
	out := recommendationOutput{
		ID:            r.ID,
		RuleID:        r.RuleID,
		Module:        r.ModuleTag,
		SubjectID:     r.SubjectID,
		Title:         r.Title,
		Body:          r.Body,
		PriorityScore: r.PriorityScore,
		Confidence:    string(r.Confidence),
		Status:        string(r.Status),
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
		ExpiresAt:     r.ExpiresAt.Format(time.RFC3339),
		Evidence:      make([]evidenceOutput, len(r.Evidence)),
	}
	if r.DecidedAt != nil {
		out.DecidedAt = r.DecidedAt.Format(time.RFC3339)
	}
	for i, e := range r.Evidence {
		out.Evidence[i] = evidenceOutput{
			SourceRecordID: e.SourceRecordID,
			SourceModule:   e.SourceModule,
			ObservedAt:     e.ObservedAt.Format(time.RFC3339),
			Excerpt:        e.Excerpt,
		}
	}
	return out
}

func toStatisticsOutput(key string, st models.Statistics) statisticsOutput {
	return statisticsOutput{
		Key:            key,
		Total:          st.Total,
		Accepted:       st.AcceptedCount,
		Declined:       st.DeclinedCount,
		Expired:        st.ExpiredCount,
		AcceptanceRate: st.AcceptanceRate,
	}
}

func toHistoryFilter(in historyFilterInput) (models.HistoryFilter, error) {
	filter := models.HistoryFilter{
		ModuleTag: in.Module,
		RuleID:    in.RuleID,
	}
	if in.Status != "" {
		status := models.RecommendationStatus(in.Status)
		if !status.IsTerminal() {
			return filter, fmt.Errorf("invalid status %q: must be accepted, declined or expired", in.Status)
		}
		filter.Status = status
	}
	if in.Since != "" {
		since, err := ParseSince(in.Since, time.Now().UTC())
		if err != nil {
			return filter, fmt.Errorf("parsing since duration: %w", err)
		}
		filter.Since = &since
	}
	return filter, nil
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{
		SurfacedByRule:    make(map[string]int),
		RuleFailures:      make(map[string]int),
		ModuleUnavailable: make(map[string]int),
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// ParseSince parses a human-friendly duration string like "7d", "30d", or "24h"
// into the corresponding time before now.
func ParseSince(s string, now time.Time) (time.Time, error) {
	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
