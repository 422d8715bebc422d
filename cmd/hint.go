package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/abhisek/drillgate/internal/budget"
	"github.com/abhisek/drillgate/internal/gating"
	"github.com/abhisek/drillgate/internal/session"
)

var hintCmd = &cobra.Command{
	Use:   "hint <step.yaml> [level]",
	Short: "Reveal the next hint (or a specific level)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withStep(ctx, args[0], func(_ *engine, st *session.Step) error {
			level := st.Hints.NextLevel()
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid hint level %q", args[1])
				}
				level = n
			}
			if level == 0 {
				fmt.Println("All hints for this step are already revealed.")
				return nil
			}

			text, err := st.RequestHint(ctx, level)
			if err != nil {
				return errors.New(gating.UserMessage(err))
			}
			fmt.Printf("Hint %d of %d: %s\n", level, st.Hints.Len(), text)
			if w := budget.WarningMessage(st.Ledger.Snapshot()); w != "" {
				fmt.Println(w)
			}
			return nil
		})
	},
}
