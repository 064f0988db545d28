package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/matchguard/internal/model"
	"github.com/sells-group/matchguard/internal/pipeline"
	"github.com/sells-group/matchguard/internal/review"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the validation pipeline over a corpus",
	Long:  "Loads a corpus and an entity registry, runs all six validation stages and persists the run record, review queue and quality report.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		corpusLoc, _ := cmd.Flags().GetString("corpus")
		registryLoc, _ := cmd.Flags().GetString("registry")
		statsPath, _ := cmd.Flags().GetString("stats")
		format, _ := cmd.Flags().GetString("format")
		export, _ := cmd.Flags().GetBool("export-review")

		stats, err := readStats(statsPath)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, registryLoc, true)
		if err != nil {
			return err
		}
		defer env.Close()

		docs, err := loadCorpus(ctx, corpusLoc)
		if err != nil {
			return eris.Wrap(err, "validate: load corpus")
		}

		run, err := env.Pipeline.Run(ctx, pipeline.Input{
			Documents:     docs,
			Registry:      env.Registry,
			Observations:  stats.Observations,
			Distributions: stats.Distributions,
			Records:       stats.Records,
			InputSizeGB:   stats.InputSizeGB,
		})
		if err != nil {
			// The run record is complete even when persisting it failed.
			zap.L().Error("validate: persist run", zap.Error(err))
		}

		switch format {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(run); encErr != nil {
				return encErr
			}
		default:
			printReport(os.Stdout, run)
		}

		if export && run.ReviewQueueSize > 0 {
			if exportErr := exportReview(cmd, env, run.ID); exportErr != nil {
				return exportErr
			}
		}

		if err != nil {
			return eris.Wrap(err, "validate")
		}
		return nil
	},
}

// exportReview pushes the persisted review queue of runID to Notion.
func exportReview(cmd *cobra.Command, env *pipelineEnv, runID string) error {
	if env.Store == nil {
		return eris.New("review export requires a store sink")
	}
	if env.Notion == nil {
		return eris.New("review export requires notion.token")
	}
	items, err := env.Store.ListReview(cmd.Context(), runID)
	if err != nil {
		return eris.Wrap(err, "list review queue")
	}
	n, err := review.NewNotionExporter(env.Notion, cfg.Notion.ReviewDB).Export(cmd.Context(), items)
	fmt.Fprintf(os.Stderr, "Exported %d of %d review items to Notion.\n", n, len(items))
	return err
}

// statusColor maps a status to its terminal color.
func statusColor(s model.ValidationStatus) *color.Color {
	switch s {
	case model.StatusPassed:
		return color.New(color.FgGreen, color.Bold)
	case model.StatusNeedsReview:
		return color.New(color.FgYellow, color.Bold)
	case model.StatusFailed, model.StatusBlocked:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgHiBlack)
	}
}

// printReport writes the text report of run, coloring status lines.
func printReport(w io.Writer, run *model.PipelineRun) {
	for _, line := range strings.SplitAfter(pipeline.FormatReport(run), "\n") {
		switch {
		case strings.HasPrefix(line, "Status: "):
			_, _ = fmt.Fprint(w, "Status: ")
			_, _ = statusColor(run.OverallStatus).Fprint(w, strings.TrimPrefix(line, "Status: "))
		case strings.HasPrefix(line, "  Issue: "):
			_, _ = color.New(color.FgRed).Fprint(w, line)
		default:
			_, _ = fmt.Fprint(w, line)
		}
	}
}

func init() {
	validateCmd.Flags().String("corpus", "", "corpus location: directory, file, http(s):// or ftp:// URL (required)")
	validateCmd.Flags().String("registry", "", "entity registry file or URL (default: notion.entity_db)")
	validateCmd.Flags().String("stats", "", "JSON file of observations, distributions and structured records")
	validateCmd.Flags().String("format", "text", "output format: text or json")
	validateCmd.Flags().Bool("export-review", false, "export the review queue to the Notion review database")
	_ = validateCmd.MarkFlagRequired("corpus")

	rootCmd.AddCommand(validateCmd)
}
