package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/matchguard/internal/model"
	"github.com/sells-group/matchguard/internal/store"
)

var investigationsCmd = &cobra.Command{
	Use:   "investigations",
	Short: "List investigations opened for critical anomalies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runID, _ := cmd.Flags().GetString("run")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		invs, err := st.ListInvestigations(ctx, store.InvestigationFilter{
			RunID:  runID,
			Status: status,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "investigations list")
		}
		if len(invs) == 0 {
			fmt.Fprintln(os.Stderr, "No investigations found.")
			return nil
		}

		verbose, _ := cmd.Flags().GetBool("checklist")
		formatInvestigations(os.Stdout, invs, verbose)
		return nil
	},
}

// formatInvestigations writes a tabular list of investigations to w,
// optionally followed by each checklist.
func formatInvestigations(out io.Writer, invs []model.Investigation, checklist bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tRUN\tCHECK\tMETRIC\tSTATUS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t---\t-----\t------\t------\t-------")
	for _, inv := range invs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(inv.ID),
			truncateID(inv.RunID),
			inv.Anomaly.Check,
			inv.Anomaly.Metric,
			inv.Status,
			inv.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()

	if !checklist {
		return
	}
	for _, inv := range invs {
		_, _ = fmt.Fprintf(out, "\n%s: %s\n", truncateID(inv.ID), inv.Anomaly.Message)
		for _, step := range inv.Checklist {
			_, _ = fmt.Fprintf(out, "  [ ] %s\n", step)
		}
	}
}

func init() {
	investigationsCmd.Flags().String("run", "", "filter by run ID")
	investigationsCmd.Flags().String("status", "", "filter by status (open, closed)")
	investigationsCmd.Flags().Int("limit", 50, "max number of investigations to display")
	investigationsCmd.Flags().Bool("checklist", false, "print the checklist of each investigation")
	rootCmd.AddCommand(investigationsCmd)
}
