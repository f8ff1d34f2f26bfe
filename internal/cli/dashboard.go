package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/command-center/pkg/models"
)

// Dashboard panel indices.
const (
	panelRecommendations = iota
	panelUsage
	panelAlerts
	panelCount
)

type dashboardModel struct {
	activePanel int
	width       int
	height      int
	cursor      int

	// Data.
	recs        []recSnapshot
	usage       *usageSnapshot
	stats       *statsSnapshot
	metricsData *metricsSnapshot
	alerts      []alertSnapshot

	// State.
	status  string
	loading bool
	err     error
}

type recSnapshot struct {
	id         string
	title      string
	module     string
	score      int
	confidence models.Confidence
}

type usageSnapshot struct {
	tier      string
	remaining int
	limit     int
	resetsAt  string
}

type statsSnapshot struct {
	total    int
	accepted int
	declined int
	expired  int
	rate     float64
}

type metricsSnapshot struct {
	refreshes    int
	surfaced     int
	ruleFailures int
	eventCount   int
}

type alertSnapshot struct {
	severity string
	message  string
	time     string
}

// dataLoadedMsg carries loaded data back to the model.
type dataLoadedMsg struct {
	recs    []recSnapshot
	usage   *usageSnapshot
	stats   *statsSnapshot
	metrics *metricsSnapshot
	alerts  []alertSnapshot
	err     error
}

// actionDoneMsg reports the outcome of a decision or refresh triggered from
// the dashboard.
type actionDoneMsg struct {
	status string
	err    error
}

// Style definitions.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1, 2)

	activePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(1, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			MarginBottom(1)

	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Bold(true)

	severityHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	severityMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	severityLow    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newDashboardModel() dashboardModel {
	return dashboardModel{
		activePanel: panelRecommendations,
		loading:     true,
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return loadData
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % panelCount
			return m, nil
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
			return m, nil
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "down", "j":
			if m.cursor < len(m.recs)-1 {
				m.cursor++
			}
			return m, nil
		case "r":
			m.loading = true
			return m, loadData
		case "f":
			m.loading = true
			return m, refreshEngine
		case "a", "d":
			if m.activePanel != panelRecommendations || len(m.recs) == 0 {
				return m, nil
			}
			action := models.ActionAccept
			if msg.String() == "d" {
				action = models.ActionDecline
			}
			m.loading = true
			return m, decideSelected(m.recs[m.cursor].id, action)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case actionDoneMsg:
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			m.status = msg.status
		}
		return m, loadData

	case dataLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.recs = msg.recs
		m.usage = msg.usage
		m.stats = msg.stats
		m.metricsData = msg.metrics
		m.alerts = msg.alerts
		if m.cursor >= len(m.recs) {
			m.cursor = len(m.recs) - 1
		}
		if m.cursor < 0 {
			m.cursor = 0
		}
		m.err = nil
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" Command Center ")
	help := helpStyle.Render("tab: switch panel | j/k: move | a: accept | d: decline | f: fetch new | r: reload | q: quit")

	if m.loading {
		return fmt.Sprintf("%s\n\n  Loading data...\n\n%s", title, help)
	}

	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	recsPanel := m.renderRecommendationsPanel()
	usagePanel := m.renderUsagePanel()
	alertsPanel := m.renderAlertsPanel()

	// Available width for panels after accounting for margins.
	availableWidth := m.width - 2

	var body string
	if availableWidth > 120 {
		// Horizontal layout: the recommendations take half the width.
		half := availableWidth / 2
		quarter := availableWidth / 4
		recsPanel = m.applyPanelStyle(panelRecommendations, recsPanel, half-4)
		usagePanel = m.applyPanelStyle(panelUsage, usagePanel, quarter-4)
		alertsPanel = m.applyPanelStyle(panelAlerts, alertsPanel, quarter-4)
		body = lipgloss.JoinHorizontal(lipgloss.Top, recsPanel, usagePanel, alertsPanel)
	} else {
		// Vertical layout: stacked.
		panelWidth := availableWidth - 4
		if panelWidth < 20 {
			panelWidth = 20
		}
		recsPanel = m.applyPanelStyle(panelRecommendations, recsPanel, panelWidth)
		usagePanel = m.applyPanelStyle(panelUsage, usagePanel, panelWidth)
		alertsPanel = m.applyPanelStyle(panelAlerts, alertsPanel, panelWidth)
		body = lipgloss.JoinVertical(lipgloss.Left, recsPanel, usagePanel, alertsPanel)
	}

	out := fmt.Sprintf("%s\n\n%s\n\n%s", title, body, help)
	if m.status != "" {
		out += "\n" + m.status
	}
	return out
}

func (m dashboardModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m dashboardModel) renderRecommendationsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Recommendations"))
	b.WriteString("\n")

	if len(m.recs) == 0 {
		b.WriteString("  Nothing to do. Press f to look for new suggestions.")
		return b.String()
	}

	for i, r := range m.recs {
		marker := "  "
		if i == m.cursor && m.activePanel == panelRecommendations {
			marker = cursorStyle.Render("> ")
		}
		score := styleForConfidence(r.confidence).Render(fmt.Sprintf("%3d", r.score))
		b.WriteString(fmt.Sprintf("%s%s %-9s %s\n", marker, score, r.module, r.title))
	}

	b.WriteString(fmt.Sprintf("\n  Active: %d", len(m.recs)))
	return b.String()
}

func (m dashboardModel) renderUsagePanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Usage & Outcomes"))
	b.WriteString("\n")

	if m.usage != nil {
		b.WriteString(fmt.Sprintf("  %-12s %s\n", "Tier", m.usage.tier))
		b.WriteString(fmt.Sprintf("  %-12s %d/%d\n", "Remaining", m.usage.remaining, m.usage.limit))
		b.WriteString(fmt.Sprintf("  %-12s %s\n", "Resets", m.usage.resetsAt))
	}

	if m.stats != nil {
		b.WriteString("\n")
		lines := []struct {
			label string
			value int
		}{
			{"Accepted", m.stats.accepted},
			{"Declined", m.stats.declined},
			{"Expired", m.stats.expired},
		}
		for _, l := range lines {
			b.WriteString(fmt.Sprintf("  %-12s %d\n", l.label, l.value))
		}
		b.WriteString(fmt.Sprintf("  %-12s %.0f%%\n", "Acceptance", m.stats.rate*100))
	}

	if m.metricsData != nil {
		md := m.metricsData
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("  %-12s %d\n", "Refreshes", md.refreshes))
		b.WriteString(fmt.Sprintf("  %-12s %d\n", "Surfaced", md.surfaced))
		b.WriteString(fmt.Sprintf("  %-12s %d\n", "Rule errors", md.ruleFailures))
	}

	return b.String()
}

func (m dashboardModel) renderAlertsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Alerts"))
	b.WriteString("\n")

	if len(m.alerts) == 0 {
		b.WriteString("  No active alerts.")
		return b.String()
	}

	for _, a := range m.alerts {
		sev := styleForSeverity(a.severity).Render(fmt.Sprintf("[%s]", strings.ToUpper(a.severity)))
		b.WriteString(fmt.Sprintf("  %s %s\n", sev, a.message))
	}

	b.WriteString(fmt.Sprintf("\n  Total: %d alert(s)", len(m.alerts)))

	return b.String()
}

func styleForSeverity(severity string) lipgloss.Style {
	switch strings.ToLower(severity) {
	case "high":
		return severityHigh
	case "medium":
		return severityMedium
	case "low":
		return severityLow
	default:
		return lipgloss.NewStyle()
	}
}

func loadData() tea.Msg {
	var result dataLoadedMsg

	if Engine != nil {
		recs, err := Engine.ListActive()
		if err != nil {
			result.err = fmt.Errorf("loading recommendations: %w", err)
			return result
		}
		result.recs = make([]recSnapshot, 0, len(recs))
		for _, r := range recs {
			result.recs = append(result.recs, recSnapshot{
				id:         r.ID,
				title:      r.Title,
				module:     r.ModuleTag,
				score:      r.PriorityScore,
				confidence: r.Confidence,
			})
		}

		st, err := Engine.GetUsageStatus()
		if err != nil {
			result.err = fmt.Errorf("loading usage: %w", err)
			return result
		}
		result.usage = &usageSnapshot{
			tier:      string(st.Tier),
			remaining: st.Remaining,
			limit:     st.Limit,
			resetsAt:  st.ResetsAt.Local().Format("Jan 2 15:04"),
		}

		stats := Engine.GetStatistics(models.HistoryFilter{})
		result.stats = &statsSnapshot{
			total:    stats.Total,
			accepted: stats.AcceptedCount,
			declined: stats.DeclinedCount,
			expired:  stats.ExpiredCount,
			rate:     stats.AcceptanceRate,
		}
	}

	// Load metrics from MetricsCalc.
	if MetricsCalc != nil {
		since := time.Now().UTC().AddDate(0, 0, -7)
		metrics, err := MetricsCalc.Calculate(since)
		if err != nil {
			result.err = fmt.Errorf("loading metrics: %w", err)
			return result
		}
		failures := 0
		for _, n := range metrics.RuleFailures {
			failures += n
		}
		result.metrics = &metricsSnapshot{
			refreshes:    metrics.Refreshes,
			surfaced:     metrics.Surfaced,
			ruleFailures: failures,
			eventCount:   metrics.EventCount,
		}
	}

	// Load alerts from AlertEngine.
	if AlertEngine != nil {
		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			result.err = fmt.Errorf("loading alerts: %w", err)
			return result
		}
		result.alerts = make([]alertSnapshot, 0, len(alerts))

		// Sort alerts by severity: high first, then medium, then low.
		sort.Slice(alerts, func(i, j int) bool {
			return severityRank(string(alerts[i].Severity)) < severityRank(string(alerts[j].Severity))
		})

		for _, a := range alerts {
			result.alerts = append(result.alerts, alertSnapshot{
				severity: string(a.Severity),
				message:  a.Message,
				time:     a.TriggeredAt.Format("2006-01-02 15:04 UTC"),
			})
		}
	}

	return result
}

func refreshEngine() tea.Msg {
	if Engine == nil {
		return actionDoneMsg{err: fmt.Errorf("recommendation engine not initialized")}
	}
	before, err := Engine.ListActive()
	if err != nil {
		return actionDoneMsg{err: err}
	}
	recs, err := Engine.Refresh(context.Background())
	if err != nil {
		return actionDoneMsg{err: err}
	}
	added := len(recs) - len(before)
	if added < 0 {
		added = 0
	}
	return actionDoneMsg{status: fmt.Sprintf("Surfaced %d new recommendation(s).", added)}
}

func decideSelected(id string, action models.Action) tea.Cmd {
	return func() tea.Msg {
		if Engine == nil {
			return actionDoneMsg{err: fmt.Errorf("recommendation engine not initialized")}
		}
		rec, err := Engine.Decide(context.Background(), id, action)
		if err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{status: fmt.Sprintf("%s: %s", capitalize(string(rec.Status)), rec.Title)}
	}
}

func severityRank(s string) int {
	switch s {
	case "high":
		return 0
	case "medium":
		return 1
	case "low":
		return 2
	default:
		return 3
	}
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive TUI dashboard for recommendations, usage and alerts",
	Long: `Launch an interactive terminal dashboard showing the active
recommendations, usage quota, decision outcomes and alerts.

Navigate between panels with Tab, move with j/k, accept with a, decline with
d, fetch new suggestions with f, reload with r and quit with q.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engineRequired(); err != nil {
			return err
		}
		p := tea.NewProgram(newDashboardModel(), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
