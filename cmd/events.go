package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/drillgate/internal/audit"
	"github.com/abhisek/drillgate/internal/store"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List the audit log for the learner",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := queryFromFlags(cmd)
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		events, err := st.Events().Query(cmd.Context(), opts)
		if err != nil {
			return err
		}
		for _, ev := range events {
			payload, err := json.Marshal(ev.Payload)
			if err != nil {
				return fmt.Errorf("encode payload of event %d: %w", ev.Sequence, err)
			}
			fmt.Printf("%6d  %s  %-28s  %-20s  %s\n",
				ev.Sequence, ev.Timestamp.Local().Format(time.DateTime), ev.Type, ev.Scope.StepID, payload)
		}
		fmt.Printf("\n%d events\n", len(events))
		return nil
	},
}

func init() {
	addQueryFlags(eventsCmd)
	eventsCmd.Flags().Int("limit", 50, "Maximum number of events (0 = all)")
	eventsCmd.Flags().Int64("after", 0, "Only events after this sequence number")
}

func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().String("step", "", "Only events for this step ID")
	cmd.Flags().StringSlice("type", nil, "Only events of these types (e.g. hint.requested)")
	cmd.Flags().Duration("since", 0, "Only events newer than this (e.g. 24h)")
	cmd.Flags().Bool("all-learners", false, "Include every learner, not just the configured one")
}

func queryFromFlags(cmd *cobra.Command) (store.QueryOpts, error) {
	var opts store.QueryOpts
	if all, _ := cmd.Flags().GetBool("all-learners"); !all {
		opts.Scope.LearnerID = cfg.Learner
	}
	opts.Scope.StepID, _ = cmd.Flags().GetString("step")

	types, err := cmd.Flags().GetStringSlice("type")
	if err != nil {
		return opts, err
	}
	for _, t := range types {
		opts.Types = append(opts.Types, audit.Type(t))
	}
	if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
		opts.From = time.Now().Add(-since)
	}
	if cmd.Flags().Lookup("limit") != nil {
		opts.Limit, _ = cmd.Flags().GetInt("limit")
	}
	if cmd.Flags().Lookup("after") != nil {
		opts.After, _ = cmd.Flags().GetInt64("after")
	}
	return opts, nil
}

// replay feeds stored events to emitter in sequence order.
func replay(ctx context.Context, st *store.Store, opts store.QueryOpts, emitter audit.Emitter) (int, error) {
	events, err := st.Events().Query(ctx, opts)
	if err != nil {
		return 0, err
	}
	for _, ev := range events {
		emitter.Emit(ctx, ev.Event)
	}
	return len(events), nil
}
