package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/matchguard/internal/model"
)

// maxReportAnomalies caps the anomaly list in a text report.
const maxReportAnomalies = 10

// FormatReport generates a human-readable run report.
func FormatReport(run *model.PipelineRun) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Validation Run: %s\n", run.ID)
	fmt.Fprintf(&b, "Status: %s\n", strings.ToUpper(string(run.OverallStatus)))
	if run.Message != "" {
		fmt.Fprintf(&b, "Message: %s\n", run.Message)
	}
	fmt.Fprintf(&b, "Started: %s\n", run.StartedAt.Format(time.RFC3339))
	if !run.CompletedAt.IsZero() {
		fmt.Fprintf(&b, "Duration: %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	b.WriteString("\n")

	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Final matches: %d\n", len(run.FinalMatches))
	fmt.Fprintf(&b, "- Final confidence: %.0f%%\n", run.FinalConfidence*100)
	fmt.Fprintf(&b, "- Review queue: %d\n", run.ReviewQueueSize)
	fmt.Fprintf(&b, "- Investigations: %d\n\n", len(run.Investigations))

	b.WriteString("## Gates\n")
	for _, g := range run.Gates {
		fmt.Fprintf(&b, "- %s: %s (%.0f%%)\n", g.Stage, g.Status, g.Confidence*100)
		for _, issue := range g.Issues {
			fmt.Fprintf(&b, "  Issue: %s\n", issue)
		}
	}
	b.WriteString("\n")

	if len(run.Anomalies) > 0 {
		b.WriteString("## Anomalies\n")
		for i, a := range run.Anomalies {
			if i == maxReportAnomalies {
				fmt.Fprintf(&b, "- ... and %d more\n", len(run.Anomalies)-maxReportAnomalies)
				break
			}
			fmt.Fprintf(&b, "- [%s] %s: %s\n", a.Severity, a.Check, a.Message)
		}
		b.WriteString("\n")
	}

	if q := run.Quality; q != nil {
		b.WriteString("## Quality\n")
		fmt.Fprintf(&b, "- Raw matches: %d\n", q.RawMatches)
		fmt.Fprintf(&b, "- Validated: %d\n", q.ValidatedMatches)
		fmt.Fprintf(&b, "- Rejected: %d\n", q.RejectedMatches)
		fmt.Fprintf(&b, "- False positive rate: %.1f%%\n", q.FalsePositiveRate*100)
		fmt.Fprintf(&b, "- Validation effectiveness: %.1f%%\n", q.ValidationEffectiveness*100)

		types := make([]string, 0, len(q.ByMatchType))
		for t := range q.ByMatchType {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(&b, "  - %s: %d\n", t, q.ByMatchType[model.MatchType(t)])
		}
	}

	return b.String()
}
