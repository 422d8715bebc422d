package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/drillgate/internal/budget"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show the budget tiers and the budget for the current phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		policy := cfg.Policy()
		phase := budget.Phase(cfg.Phase)
		current := policy.TierFor(phase)

		fmt.Printf("%-2s %-8s  %-7s  %6s  %6s  %-10s  %s\n",
			"", "Tier", "Weeks", "Hints", "Resets", "Copy/paste", "Description")
		fmt.Println(strings.Repeat("\u2500", 90))
		for _, t := range policy.Tiers {
			marker := ""
			if t.Name == current.Name {
				marker = "\u25b8"
			}
			weeks := fmt.Sprintf("%d+", t.FirstPhase)
			if t.LastPhase != 0 {
				weeks = fmt.Sprintf("%d-%d", t.FirstPhase, t.LastPhase)
			}
			paste := "allowed"
			if t.CopyPasteBlocked {
				paste = "blocked"
			}
			fmt.Printf("%-2s %-8s  %-7s  %6s  %6s  %-10s  %s\n",
				marker, t.Name, weeks, t.HintsMax, t.ResetsMax, paste, t.Description)
		}

		b := policy.BudgetFor(phase)
		fmt.Printf("\nWeek %d (%s): %s hints, %s resets per step\n",
			phase, current.Name, b.HintsRemaining(), b.ResetsRemaining())
		return nil
	},
}
