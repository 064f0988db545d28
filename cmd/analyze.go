package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/matchguard/internal/anomaly"
	"github.com/sells-group/matchguard/internal/model"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <stats.json>",
	Short: "Screen statistics for anomalies without running extraction",
	Long:  "Runs the statistical anomaly checks over a JSON file of observations, distributions and structured records, and prints every finding.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := readStats(args[0])
		if err != nil {
			return err
		}

		res := anomaly.New(cfg.Statistics).Analyze(anomaly.Input{
			Observations:  in.Observations,
			Distributions: in.Distributions,
			Records:       in.Records,
			InputSizeGB:   in.InputSizeGB,
		})
		for _, ce := range res.ConfigErrors {
			fmt.Fprintf(os.Stderr, "config: %s\n", ce.Error())
		}

		if len(res.Anomalies) == 0 {
			fmt.Fprintln(os.Stderr, "No anomalies found.")
			return nil
		}
		formatAnomalies(os.Stdout, res.Anomalies)

		if failOnCritical, _ := cmd.Flags().GetBool("fail-on-critical"); failOnCritical && len(res.Critical()) > 0 {
			return fmt.Errorf("%d critical anomalies", len(res.Critical()))
		}
		return nil
	},
}

// formatAnomalies writes a tabular list of anomaly reports to w.
func formatAnomalies(out io.Writer, reports []model.AnomalyReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SEVERITY\tCHECK\tMETRIC\tOBSERVED\tMESSAGE")
	_, _ = fmt.Fprintln(w, "--------\t-----\t------\t--------\t-------")
	for _, a := range reports {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%g\t%s\n", a.Severity, a.Check, a.Metric, a.Observed, a.Message)
	}
	_ = w.Flush()
}

func init() {
	analyzeCmd.Flags().Bool("fail-on-critical", false, "exit non-zero when a critical anomaly is found")
	rootCmd.AddCommand(analyzeCmd)
}
