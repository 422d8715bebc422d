package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/drillgate/internal/gating"
	"github.com/abhisek/drillgate/internal/safety"
	"github.com/abhisek/drillgate/internal/session"
)

var checklistCmd = &cobra.Command{
	Use:   "checklist <step.yaml> -- <command...>",
	Short: "Work through the safety checklist for a destructive command",
	Long: "Shows the safety checklist for a destructive command. Confirm items with --check, then\n" +
		"--proceed once every item is confirmed, or --cancel to abandon the action. Checked items are\n" +
		"remembered between invocations for the same command.",
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		check, _ := cmd.Flags().GetStringSlice("check")
		uncheck, _ := cmd.Flags().GetStringSlice("uncheck")
		proceed, _ := cmd.Flags().GetBool("proceed")
		cancel, _ := cmd.Flags().GetBool("cancel")
		if proceed && cancel {
			return fmt.Errorf("use --proceed or --cancel, not both")
		}

		ctx := cmd.Context()
		command := strings.Join(args[1:], " ")
		return withStep(ctx, args[0], func(_ *engine, st *session.Step) error {
			g, err := st.GuardCommand(ctx, command)
			if err != nil {
				return err
			}
			if g == nil {
				fmt.Println("safe: no checklist needed")
				return nil
			}

			for _, key := range check {
				if err := g.UpdateItem(ctx, key, true); err != nil {
					return err
				}
			}
			for _, key := range uncheck {
				if err := g.UpdateItem(ctx, key, false); err != nil {
					return err
				}
			}

			switch {
			case cancel:
				if err := g.Cancel(ctx); err != nil {
					return err
				}
				fmt.Println("Cancelled. The command was not approved.")
				return nil
			case proceed:
				if err := g.Proceed(ctx); err != nil {
					var ge *gating.Error
					if errors.As(err, &ge) {
						printChecklist(g)
					}
					return err
				}
				fmt.Printf("Approved: %s\n", command)
				return nil
			}
			printChecklist(g)
			return nil
		})
	},
}

func init() {
	checklistCmd.Flags().StringSlice("check", nil, "Confirm checklist items by key")
	checklistCmd.Flags().StringSlice("uncheck", nil, "Clear checklist items by key")
	checklistCmd.Flags().Bool("proceed", false, "Approve the command once every item is confirmed")
	checklistCmd.Flags().Bool("cancel", false, "Abandon the command and clear the checklist")
}

func printChecklist(g *safety.Gate) {
	a := g.Action()
	fmt.Printf("%s (%s severity): %s\n\n", a.Pattern, a.Severity, a.Command)
	state := g.State()
	for _, it := range g.Items() {
		box := "[ ]"
		if state[it.Key] {
			box = "[x]"
		}
		fmt.Printf("  %s %-26s %s\n", box, it.Key, it.Label)
	}
	if g.CanProceed() {
		fmt.Println("\nAll checks confirmed. Run again with --proceed.")
	}
}
