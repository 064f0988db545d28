package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/matchguard/internal/model"
	"github.com/sells-group/matchguard/internal/review"
)

var reviewCmd = &cobra.Command{
	Use:   "review <run-id>",
	Short: "List or export the human review queue of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		items, err := st.ListReview(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "review list")
		}
		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "Review queue is empty.")
			return nil
		}

		if export, _ := cmd.Flags().GetBool("export"); export {
			client := initNotion()
			if client == nil {
				return eris.New("review export requires notion.token")
			}
			n, err := review.NewNotionExporter(client, cfg.Notion.ReviewDB).Export(ctx, items)
			fmt.Fprintf(os.Stderr, "Exported %d of %d review items to Notion.\n", n, len(items))
			return err
		}

		formatReviewList(os.Stdout, items)
		return nil
	},
}

// formatReviewList writes a tabular list of review items to w.
func formatReviewList(out io.Writer, items []model.ReviewItem) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "MATCH\tENTITY\tTEXT\tCONFIDENCE\tREASON\tSTATUS")
	_, _ = fmt.Fprintln(w, "-----\t------\t----\t----------\t------\t------")
	for _, it := range items {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%s\t%s\n",
			it.Result.Match.ID,
			it.Result.Match.EntityKey,
			it.Result.Match.Text,
			it.Result.Confidence*100,
			it.Reason,
			it.Status,
		)
	}
	_ = w.Flush()
}

func init() {
	reviewCmd.Flags().Bool("export", false, "export the queue to the Notion review database")
	rootCmd.AddCommand(reviewCmd)
}
