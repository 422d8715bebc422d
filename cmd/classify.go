package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/drillgate/internal/safety"
)

var classifyCmd = &cobra.Command{
	Use:   "classify -- <command...>",
	Short: "Report whether a shell command is destructive",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		command := strings.Join(args, " ")
		entry := safety.DefaultCatalog().Classify(command)
		if entry == nil {
			fmt.Println("safe: no destructive pattern matched")
			return nil
		}

		fmt.Printf("%s (%s severity)\n", entry.Name, entry.Severity)
		printList("Risks", entry.Risks)
		labels := make([]string, len(entry.Checklist))
		for i, it := range entry.Checklist {
			labels[i] = it.Label
		}
		printList("Checklist", labels)
		printList("Safer alternatives", entry.Alternatives)
		return nil
	},
}

func printList(title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", title)
	for _, it := range items {
		fmt.Printf("  - %s\n", it)
	}
}
