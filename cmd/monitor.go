package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sells-group/matchguard/internal/monitoring"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Check run health and send alerts",
	Long:  "Collects run metrics over the lookback window, evaluates alert thresholds and posts alerts to the configured webhook. With --watch the check repeats until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		checker := monitoring.NewChecker(
			monitoring.NewCollector(st),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			checker.Run(ctx)
			return nil
		}

		snap, alerts := checker.CheckOnce(ctx)
		if snap == nil {
			return fmt.Errorf("monitor: metrics collection failed")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"snapshot": snap, "alerts": alerts})
		}
		formatSnapshot(os.Stdout, snap, alerts)
		return nil
	},
}

// formatSnapshot writes a health summary followed by any alerts.
func formatSnapshot(w io.Writer, snap *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	_, _ = fmt.Fprintf(w, "Runs (last %dh): %d total, %d passed, %d needs review, %d failed, %d blocked, %d cancelled\n",
		snap.LookbackHours, snap.RunsTotal, snap.RunsPassed, snap.RunsNeedsReview,
		snap.RunsFailed, snap.RunsBlocked, snap.RunsCancelled)
	_, _ = fmt.Fprintf(w, "Fail rate: %.1f%%  Block rate: %.1f%%\n", snap.FailRate*100, snap.BlockRate*100)
	_, _ = fmt.Fprintf(w, "Mean false positive rate: %.1f%% (%d reports)\n", snap.MeanFalsePositiveRate*100, snap.QualityReports)
	_, _ = fmt.Fprintf(w, "Open investigations: %d\n", snap.OpenInvestigations)

	if len(alerts) == 0 {
		_, _ = color.New(color.FgGreen).Fprintln(w, "No alerts.")
		return
	}
	red := color.New(color.FgRed, color.Bold)
	for _, a := range alerts {
		_, _ = red.Fprintf(w, "ALERT [%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}

func init() {
	monitorCmd.Flags().Bool("watch", false, "repeat the check every monitoring.check_interval_secs")
	monitorCmd.Flags().Bool("json", false, "print the snapshot and alerts as JSON")
	rootCmd.AddCommand(monitorCmd)
}
