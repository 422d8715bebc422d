package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/drillgate/internal/session"
	"github.com/abhisek/drillgate/internal/struggle"
)

var struggleCmd = &cobra.Command{
	Use:   "struggle",
	Short: "Track the struggle period that unlocks hints",
}

var struggleStartCmd = &cobra.Command{
	Use:   "start <step.yaml>",
	Short: "Start (or resume) a step and its struggle timer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStep(cmd.Context(), args[0], func(_ *engine, st *session.Step) error {
			fmt.Printf("%s: %s\n", st.Content.ID, st.Content.Title)
			printStruggle(st.Struggle.Status())
			return nil
		})
	},
}

var struggleLogCmd = &cobra.Command{
	Use:   "log <step.yaml>",
	Short: "Submit your struggle log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sub, err := submissionFromFlags(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		return withStep(ctx, args[0], func(_ *engine, st *session.Step) error {
			if _, err := st.SubmitLog(ctx, sub); err != nil {
				return err
			}
			fmt.Println("Struggle log accepted.")
			printStruggle(st.Struggle.Status())
			return nil
		})
	},
}

var struggleStatusCmd = &cobra.Command{
	Use:   "status <step.yaml>",
	Short: "Show the struggle timer, hint and validation state of a step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStep(cmd.Context(), args[0], func(_ *engine, st *session.Step) error {
			s := st.Status()
			printStruggle(s.Struggle)
			fmt.Printf("hints:      %d of %d revealed, %s remaining in budget\n",
				len(s.Requested), s.TotalHints, s.Budget.HintsRemaining())
			fmt.Printf("resets:     %s remaining\n", s.Budget.ResetsRemaining())
			if s.Passed {
				fmt.Println("validation: passed")
			} else {
				fmt.Printf("validation: attempt %d\n", s.Attempt)
			}
			if s.Warning != "" {
				fmt.Println(s.Warning)
			}
			return nil
		})
	},
}

func init() {
	addSubmissionFlags(struggleLogCmd)

	struggleCmd.AddCommand(struggleStartCmd)
	struggleCmd.AddCommand(struggleLogCmd)
	struggleCmd.AddCommand(struggleStatusCmd)
}

func printStruggle(s struggle.Status) {
	fmt.Printf("struggle:   %s after %s", s.State, s.Elapsed.Round(time.Second))
	if s.Remaining > 0 {
		fmt.Printf(", %s to go", s.Remaining.Round(time.Second))
	}
	if !s.LogSubmitted {
		fmt.Print(", log not submitted")
	}
	fmt.Println()
}
