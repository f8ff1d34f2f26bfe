package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/command-center/internal/core"
	"github.com/valter-silva-au/command-center/pkg/models"
)

var (
	confidenceHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	confidenceMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	confidenceLow    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	idStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	recTitleStyle    = lipgloss.NewStyle().Bold(true)
)

func styleForConfidence(c models.Confidence) lipgloss.Style {
	switch c {
	case models.ConfidenceHigh:
		return confidenceHigh
	case models.ConfidenceMedium:
		return confidenceMedium
	case models.ConfidenceLow:
		return confidenceLow
	default:
		return lipgloss.NewStyle()
	}
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("formatting output as JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// printRecommendations renders the active set, highest priority first.
func printRecommendations(recs []models.Recommendation) {
	if len(recs) == 0 {
		fmt.Println("No active recommendations.")
		return
	}
	for i, r := range recs {
		conf := styleForConfidence(r.Confidence).Render(fmt.Sprintf("%-6s", r.Confidence))
		fmt.Printf("%2d. [%3d %s] %s\n", i+1, r.PriorityScore, conf, recTitleStyle.Render(r.Title))
		fmt.Printf("    %s  %s/%s  expires %s\n",
			idStyle.Render(r.ID), r.ModuleTag, r.RuleID, r.ExpiresAt.Local().Format("2006-01-02 15:04"))
	}
}

// commandContext returns the command's context, or a background context when
// the command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func engineRequired() error {
	if Engine == nil {
		return fmt.Errorf("recommendation engine not initialized")
	}
	return nil
}

var refreshJSON bool

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Scan the modules and surface new recommendations",
	Long: `Read the configured modules, evaluate every registered rule and surface
new recommendations, highest priority first, within the usage tier quota.

Recommendations that are already active are never duplicated.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engineRequired(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		before, err := Engine.ListActive()
		if err != nil {
			return fmt.Errorf("listing active recommendations: %w", err)
		}
		recs, err := Engine.Refresh(ctx)
		if err != nil {
			return fmt.Errorf("refreshing recommendations: %w", err)
		}

		if refreshJSON {
			return printJSON(recs)
		}

		added := len(recs) - len(before)
		if added < 0 {
			added = 0
		}
		fmt.Printf("Surfaced %d new recommendation(s).\n\n", added)
		printRecommendations(recs)
		return nil
	},
}

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List active recommendations",
	Long: `List active recommendations ordered by priority score, highest first.

Recommendations past their expiry are expired before the list is shown.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engineRequired(); err != nil {
			return err
		}
		recs, err := Engine.ListActive()
		if err != nil {
			return fmt.Errorf("listing active recommendations: %w", err)
		}
		if listJSON {
			return printJSON(recs)
		}
		printRecommendations(recs)
		return nil
	},
}

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an active recommendation and its evidence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engineRequired(); err != nil {
			return err
		}
		rec, err := findActive(args[0])
		if err != nil {
			return err
		}
		if showJSON {
			return printJSON(rec)
		}

		fmt.Println(recTitleStyle.Render(rec.Title))
		if rec.Body != "" {
			fmt.Printf("\n%s\n", rec.Body)
		}
		fmt.Println()
		fmt.Printf("  %-12s %s\n", "ID:", rec.ID)
		fmt.Printf("  %-12s %s\n", "Rule:", rec.RuleID)
		fmt.Printf("  %-12s %s\n", "Module:", rec.ModuleTag)
		fmt.Printf("  %-12s %d (%s)\n", "Priority:", rec.PriorityScore,
			styleForConfidence(rec.Confidence).Render(string(rec.Confidence)))
		fmt.Printf("  %-12s %s\n", "Created:", rec.CreatedAt.Local().Format("2006-01-02 15:04"))
		fmt.Printf("  %-12s %s\n", "Expires:", rec.ExpiresAt.Local().Format("2006-01-02 15:04"))
		fmt.Println("\n  Evidence:")
		for _, e := range rec.Evidence {
			fmt.Printf("    - %s/%s (observed %s)\n", e.SourceModule, e.SourceRecordID,
				e.ObservedAt.Local().Format("2006-01-02 15:04"))
			if e.Excerpt != "" {
				fmt.Printf("      %s\n", e.Excerpt)
			}
		}
		return nil
	},
}

// findActive resolves an id or a unique id prefix against the active set.
func findActive(id string) (*models.Recommendation, error) {
	recs, err := Engine.ListActive()
	if err != nil {
		return nil, fmt.Errorf("listing active recommendations: %w", err)
	}
	var matches []models.Recommendation
	for _, r := range recs {
		if r.ID == id {
			return &r, nil
		}
		if strings.HasPrefix(r.ID, id) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return nil, &core.UnknownRecommendationError{ID: id}
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("id prefix %q matches %d recommendations", id, len(matches))
	}
}

// decideCommand builds the accept and decline commands.
func decideCommand(action models.Action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " <id>",
		Short: short,
		Long: fmt.Sprintf(`%s an active recommendation. The id may be abbreviated to a
unique prefix. Decisions are final and recorded in the history.`, capitalize(string(action))),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := engineRequired(); err != nil {
				return err
			}

			id := args[0]
			if rec, err := findActive(id); err == nil {
				id = rec.ID
			}

			rec, err := Engine.Decide(commandContext(cmd), id, action)
			if err != nil {
				switch {
				case core.IsAlreadyDecided(err):
					return fmt.Errorf("recommendation %s was already decided", id)
				case core.IsUnknownRecommendation(err):
					return fmt.Errorf("no active recommendation with id %s", id)
				default:
					return fmt.Errorf("deciding %s: %w", id, err)
				}
			}

			fmt.Printf("%s %s: %s\n", capitalize(string(rec.Status)), rec.ID, rec.Title)
			return nil
		},
	}
}

var (
	acceptCmd  = decideCommand(models.ActionAccept, "Accept an active recommendation")
	declineCmd = decideCommand(models.ActionDecline, "Decline an active recommendation")
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire recommendations past their expiry time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engineRequired(); err != nil {
			return err
		}
		expired, err := Engine.Sweep(commandContext(cmd))
		if err != nil {
			return fmt.Errorf("sweeping: %w", err)
		}
		if len(expired) == 0 {
			fmt.Println("Nothing to expire.")
			return nil
		}
		fmt.Printf("Expired %d recommendation(s):\n", len(expired))
		for _, r := range expired {
			fmt.Printf("  %s  %s (expired %s)\n", idStyle.Render(r.ID), r.Title,
				r.ExpiresAt.Local().Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshJSON, "json", false, "Output the active set as JSON")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output recommendations as JSON")
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output the recommendation as JSON")

	showCmd.ValidArgsFunction = completeRecommendationIDs
	acceptCmd.ValidArgsFunction = completeRecommendationIDs
	declineCmd.ValidArgsFunction = completeRecommendationIDs

	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(acceptCmd)
	rootCmd.AddCommand(declineCmd)
	rootCmd.AddCommand(sweepCmd)
}
