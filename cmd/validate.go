package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/drillgate/internal/session"
	"github.com/abhisek/drillgate/internal/stepcheck"
)

var validateCmd = &cobra.Command{
	Use:   "validate <step.yaml>",
	Short: "Check the step's success criteria",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withStep(ctx, args[0], func(_ *engine, st *session.Step) error {
			if st.Runner.Passed() {
				fmt.Println("Step already passed. The next step is unlocked.")
				return nil
			}
			rep, err := st.Validate(ctx)
			if err != nil {
				return err
			}
			for _, r := range rep.Results {
				fmt.Printf("  %-7s %s\n", r.Status, r.Description)
				if r.Status == stepcheck.Failed && r.Err != nil {
					fmt.Printf("          %v\n", r.Err)
				}
			}
			if !rep.AllPassed {
				return fmt.Errorf("attempt %d: %d of %d criteria failed",
					rep.Attempt, len(rep.Failed()), len(rep.Results))
			}
			fmt.Printf("\nAll criteria passed on attempt %d. The next step is unlocked.\n", rep.Attempt)
			return nil
		})
	},
}
