package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/command-center/pkg/models"
)

// historyFlags are shared by the history and stats commands.
type historyFlags struct {
	module string
	rule   string
	status string
	since  string
}

func (f *historyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.module, "module", "", "Only decisions from this module")
	cmd.Flags().StringVar(&f.rule, "rule", "", "Only decisions produced by this rule")
	cmd.Flags().StringVar(&f.status, "status", "", "Only decisions with this outcome (accepted, declined, expired)")
	cmd.Flags().StringVar(&f.since, "since", "", "Only decisions within this window (e.g. 7d, 24h)")
}

func (f *historyFlags) filter() (models.HistoryFilter, error) {
	filter := models.HistoryFilter{
		ModuleTag: f.module,
		RuleID:    f.rule,
	}
	if f.status != "" {
		status := models.RecommendationStatus(f.status)
		if !status.IsTerminal() {
			return filter, fmt.Errorf("invalid --status %q: must be accepted, declined or expired", f.status)
		}
		filter.Status = status
	}
	if f.since != "" {
		since, err := parseSinceDuration(f.since)
		if err != nil {
			return filter, fmt.Errorf("parsing --since: %w", err)
		}
		filter.Since = &since
	}
	return filter, nil
}

var (
	historyOpts historyFlags
	historyJSON bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past decisions and expirations",
	Long: `List every recommendation that reached a terminal state (accepted, declined
or expired), oldest decision first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engineRequired(); err != nil {
			return err
		}
		filter, err := historyOpts.filter()
		if err != nil {
			return err
		}

		entries := Engine.GetHistory(filter)
		if historyJSON {
			if entries == nil {
				entries = []models.HistoryEntry{}
			}
			return printJSON(entries)
		}

		if len(entries) == 0 {
			fmt.Println("No history entries.")
			return nil
		}
		fmt.Printf("%-17s %-9s %-9s %-17s %5s  %s\n", "DECIDED", "STATUS", "MODULE", "RULE", "SCORE", "ID")
		for _, e := range entries {
			fmt.Printf("%-17s %-9s %-9s %-17s %5d  %s\n",
				e.DecidedAt.Local().Format("2006-01-02 15:04"),
				e.FinalStatus, e.ModuleTag, e.RuleID, e.PriorityScoreAtDecision,
				idStyle.Render(e.RecommendationID))
		}
		return nil
	},
}

var (
	statsOpts historyFlags
	statsBy   string
	statsJSON bool
)

// statsReport is the JSON shape of the stats command.
type statsReport struct {
	Overall models.Statistics        `json:"overall"`
	Groups  []models.GroupStatistics `json:"groups,omitempty"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show acceptance statistics",
	Long: `Show how many recommendations were accepted, declined and expired, and the
acceptance rate (accepted over accepted plus declined; expirations are not
counted as declines). Use --by module or --by rule for a breakdown.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engineRequired(); err != nil {
			return err
		}
		filter, err := statsOpts.filter()
		if err != nil {
			return err
		}

		report := statsReport{Overall: Engine.GetStatistics(filter)}
		if statsBy != "" {
			report.Groups, err = Engine.GetBreakdown(models.GroupBy(statsBy), filter)
			if err != nil {
				return err
			}
		}

		if statsJSON {
			return printJSON(report)
		}

		printStatistics("Overall", report.Overall)
		if len(report.Groups) > 0 {
			fmt.Printf("\nBy %s:\n", statsBy)
			fmt.Printf("  %-20s %6s %8s %8s %7s %6s\n", "", "TOTAL", "ACCEPTED", "DECLINED", "EXPIRED", "RATE")
			for _, g := range report.Groups {
				fmt.Printf("  %-20s %6d %8d %8d %7d %5.0f%%\n",
					g.Key, g.Total, g.AcceptedCount, g.DeclinedCount, g.ExpiredCount, g.AcceptanceRate*100)
			}
		}
		return nil
	},
}

func printStatistics(label string, s models.Statistics) {
	fmt.Printf("%s\n", headerStyle.Render(label))
	fmt.Printf("  %-18s %d\n", "Total:", s.Total)
	fmt.Printf("  %-18s %d\n", "Accepted:", s.AcceptedCount)
	fmt.Printf("  %-18s %d\n", "Declined:", s.DeclinedCount)
	fmt.Printf("  %-18s %d\n", "Expired:", s.ExpiredCount)
	fmt.Printf("  %-18s %.1f%%\n", "Acceptance rate:", s.AcceptanceRate*100)
}

var usageJSON bool

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show the usage tier and remaining quota",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engineRequired(); err != nil {
			return err
		}
		st, err := Engine.GetUsageStatus()
		if err != nil {
			return fmt.Errorf("getting usage status: %w", err)
		}
		if usageJSON {
			return printJSON(st)
		}

		fmt.Printf("  %-12s %s\n", "Tier:", st.Tier)
		fmt.Printf("  %-12s %d of %d\n", "Remaining:", st.Remaining, st.Limit)
		fmt.Printf("  %-12s %s (in %s)\n", "Resets at:",
			st.ResetsAt.Local().Format("2006-01-02 15:04"),
			time.Until(st.ResetsAt).Round(time.Minute))
		return nil
	},
}

var rulesJSON bool

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List registered rules",
	Long: `List the rules registered with the engine in registration order: the
built-in rules first, then the declarative rules from the rules file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engineRequired(); err != nil {
			return err
		}
		rules := Engine.Rules()
		if rulesJSON {
			return printJSON(rules)
		}
		if len(rules) == 0 {
			fmt.Println("No rules registered.")
			return nil
		}
		for _, r := range rules {
			fmt.Printf("  %-22s %3d  %-10v %s\n", r.ID, r.BasePriority, r.Modules, r.Description)
		}
		return nil
	},
}

func init() {
	historyOpts.register(historyCmd)
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output history as JSON")

	statsOpts.register(statsCmd)
	statsCmd.Flags().StringVar(&statsBy, "by", "", "Break statistics down by module or rule")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output statistics as JSON")

	usageCmd.Flags().BoolVar(&usageJSON, "json", false, "Output usage status as JSON")
	rulesCmd.Flags().BoolVar(&rulesJSON, "json", false, "Output rules as JSON")

	registerHistoryCompletions(historyCmd)
	registerHistoryCompletions(statsCmd)
	_ = statsCmd.RegisterFlagCompletionFunc("by", completeGroupBy)

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(rulesCmd)
}
