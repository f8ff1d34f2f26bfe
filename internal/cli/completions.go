package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/command-center/pkg/models"
)

// completeRecommendationIDs lists active recommendation ids with their title
// as the description.
func completeRecommendationIDs(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if Engine == nil || len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	recs, err := Engine.ListActive()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var ids []string
	for _, r := range recs {
		if strings.HasPrefix(r.ID, toComplete) {
			ids = append(ids, r.ID+"\t"+r.Title)
		}
	}
	return ids, cobra.ShellCompDirectiveNoFileComp
}

// completeModules lists the modules referenced by the registered rules.
func completeModules(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	if Engine == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	seen := make(map[string]bool)
	var modules []string
	for _, r := range Engine.Rules() {
		for _, m := range r.Modules {
			if !seen[m] {
				seen[m] = true
				modules = append(modules, m)
			}
		}
	}
	return modules, cobra.ShellCompDirectiveNoFileComp
}

func completeRuleIDs(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	if Engine == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var ids []string
	for _, r := range Engine.Rules() {
		ids = append(ids, r.ID+"\t"+r.Description)
	}
	return ids, cobra.ShellCompDirectiveNoFileComp
}

func completeTerminalStatuses(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{
		string(models.StatusAccepted) + "\tAccepted by the user",
		string(models.StatusDeclined) + "\tDeclined by the user",
		string(models.StatusExpired) + "\tExpired without a decision",
	}, cobra.ShellCompDirectiveNoFileComp
}

func completeGroupBy(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{string(models.GroupByModule), string(models.GroupByRule)}, cobra.ShellCompDirectiveNoFileComp
}

// registerHistoryCompletions registers flag completions shared by the history
// and stats commands.
func registerHistoryCompletions(cmd *cobra.Command) {
	_ = cmd.RegisterFlagCompletionFunc("module", completeModules)
	_ = cmd.RegisterFlagCompletionFunc("rule", completeRuleIDs)
	_ = cmd.RegisterFlagCompletionFunc("status", completeTerminalStatuses)
}
