package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/drillgate/internal/budget"
	"github.com/abhisek/drillgate/internal/gating"
	"github.com/abhisek/drillgate/internal/session"
)

var resetCmd = &cobra.Command{
	Use:   "reset <step.yaml>",
	Short: "Restart a step from scratch, spending one reset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withStep(ctx, args[0], func(e *engine, _ *session.Step) error {
			st, err := e.session.ResetStep(ctx)
			if err != nil {
				if gating.KindOf(err) != "" {
					return errors.New(gating.UserMessage(err))
				}
				return err
			}
			b := st.Ledger.Snapshot()
			fmt.Printf("Step %s reset. %s resets remaining.\n", st.Content.ID, b.ResetsRemaining())
			if w := budget.WarningMessage(b); w != "" {
				fmt.Println(w)
			}
			return nil
		})
	},
}

var abandonCmd = &cobra.Command{
	Use:   "abandon <step.yaml>",
	Short: "Leave a step, discarding its struggle, hints and checklist state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withStep(ctx, args[0], func(e *engine, st *session.Step) error {
			if err := e.session.AbandonStep(ctx); err != nil {
				return err
			}
			fmt.Printf("Step %s abandoned.\n", st.Content.ID)
			return nil
		})
	},
}
