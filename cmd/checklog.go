package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/drillgate/internal/strugglelog"
)

var checklogCmd = &cobra.Command{
	Use:   "checklog",
	Short: "Check a struggle log against the configured thresholds without submitting it",
	RunE: func(cmd *cobra.Command, args []string) error {
		sub, err := submissionFromFlags(cmd)
		if err != nil {
			return err
		}
		t := cfg.Thresholds()
		res := strugglelog.NewValidator(t).Validate(sub)

		fmt.Printf("attempts:    %s (minimum %d)\n", passFail(res.AttemptsOK), t.MinAttempts)
		fmt.Printf("stuck point: %s (minimum %d characters)\n", passFail(res.StuckPointOK), t.MinStuckPoint)
		fmt.Printf("hypothesis:  %s (minimum %d characters)\n", passFail(res.HypothesisOK), t.MinHypothesis)
		for _, msg := range res.Errors {
			fmt.Printf("  - %s\n", msg)
		}
		return res.Err()
	},
}

func init() {
	addSubmissionFlags(checklogCmd)
}

func addSubmissionFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayP("attempt", "a", nil, "Something you tried (repeat for each attempt)")
	cmd.Flags().StringP("stuck", "s", "", "Where exactly you are stuck")
	cmd.Flags().StringP("hypothesis", "y", "", "What you think is going wrong")
}

func submissionFromFlags(cmd *cobra.Command) (strugglelog.Submission, error) {
	attempts, err := cmd.Flags().GetStringArray("attempt")
	if err != nil {
		return strugglelog.Submission{}, err
	}
	stuck, _ := cmd.Flags().GetString("stuck")
	hypothesis, _ := cmd.Flags().GetString("hypothesis")
	return strugglelog.Submission{
		AttemptedActions: attempts,
		StuckPoint:       stuck,
		Hypothesis:       hypothesis,
	}, nil
}

func passFail(ok bool) string {
	if ok {
		return "ok"
	}
	return "missing"
}
