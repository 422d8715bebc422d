package cmd

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/abhisek/drillgate/internal/metrics"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print Prometheus counters rebuilt from the audit log",
	Long: "Replays the stored audit log into a fresh registry and prints it in the Prometheus text\n" +
		"exposition format, suitable for the node_exporter textfile collector.",
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

		reg := prometheus.NewRegistry()
		emitter := metrics.New(reg, cfg.Metrics.Namespace)
		n, err := replay(cmd.Context(), st, opts, emitter)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Fprintln(os.Stderr, "warning: no events matched; counters are empty")
		}
		return metrics.WriteText(os.Stdout, reg)
	},
}

func init() {
	addQueryFlags(metricsCmd)
}
