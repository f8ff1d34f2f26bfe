package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "ccenter",
	Short: "Command Center - proactive recommendations across your productivity modules",
	Long: `Command Center (ccenter) watches your notes, tasks, calendar and contacts
and surfaces a short, ranked list of suggestions for what to do next.

Each suggestion carries the evidence that triggered it. Accept or decline it,
or let it expire; every outcome is recorded so acceptance statistics can be
reviewed per module and per rule.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ccenter %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
