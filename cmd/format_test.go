//go:build !integration

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/matchguard/internal/model"
	"github.com/sells-group/matchguard/internal/monitoring"
)

func init() {
	color.NoColor = true
}

func TestFormatAnomalies(t *testing.T) {
	var buf bytes.Buffer
	formatAnomalies(&buf, []model.AnomalyReport{
		{Metric: "contracts", Check: model.AnomalyCheck("total_mismatch"), Severity: model.SeverityCritical, Observed: 105, Message: "Total != Sum (105 != 100)"},
		{Metric: "coverage_pct", Check: model.AnomalyCheck("hard_bound"), Severity: model.SeverityHigh, Observed: 150, Message: "coverage_pct out of range"},
	})

	out := buf.String()
	assert.Contains(t, out, "SEVERITY")
	assert.Contains(t, out, "critical")
	assert.Contains(t, out, "total_mismatch")
	assert.Contains(t, out, "105")
	assert.Contains(t, out, "coverage_pct out of range")
}

func TestFormatReviewList(t *testing.T) {
	var buf bytes.Buffer
	formatReviewList(&buf, []model.ReviewItem{
		{
			RunID: "run-1",
			Result: model.MatchResult{
				Match:      model.RawMatch{ID: "en-1:0:3:nio", EntityKey: "nio", Text: "NIO"},
				Confidence: 0.55,
			},
			Reason: model.ReviewBelowFloor,
			Status: "pending",
		},
	})

	out := buf.String()
	assert.Contains(t, out, "en-1:0:3:nio")
	assert.Contains(t, out, "55%")
	assert.Contains(t, out, "below_confidence_floor")
	assert.Contains(t, out, "pending")
}

func TestFormatInvestigations(t *testing.T) {
	invs := []model.Investigation{
		{
			ID:        "0123456789abcdef",
			RunID:     "run-1",
			Anomaly:   model.AnomalyReport{Metric: "contracts", Check: model.AnomalyCheck("total_mismatch"), Message: "Total != Sum"},
			Checklist: []string{"Re-extract the source record", "Confirm the declared total"},
			Status:    "open",
			CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	formatInvestigations(&buf, invs, false)
	out := buf.String()
	assert.Contains(t, out, "01234567")
	assert.Contains(t, out, "total_mismatch")
	assert.Contains(t, out, "2026-03-01 09:00")
	assert.NotContains(t, out, "[ ]")

	buf.Reset()
	formatInvestigations(&buf, invs, true)
	out = buf.String()
	assert.Contains(t, out, "01234567: Total != Sum")
	assert.Contains(t, out, "  [ ] Confirm the declared total")
}

func TestFormatSnapshot(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{
		RunsTotal:     10,
		RunsPassed:    6,
		RunsFailed:    4,
		FailRate:      0.4,
		LookbackHours: 24,
	}

	var buf bytes.Buffer
	formatSnapshot(&buf, snap, nil)
	assert.Contains(t, buf.String(), "Runs (last 24h): 10 total, 6 passed")
	assert.Contains(t, buf.String(), "Fail rate: 40.0%")
	assert.Contains(t, buf.String(), "No alerts.")

	buf.Reset()
	formatSnapshot(&buf, snap, []monitoring.Alert{
		{Type: monitoring.AlertRunFailureRate, Severity: "critical", Message: "fail rate 40.0% exceeds 25.0%"},
	})
	assert.Contains(t, buf.String(), "ALERT [critical] run_failure_rate: fail rate 40.0% exceeds 25.0%")
	assert.NotContains(t, buf.String(), "No alerts.")
}

func TestPrintReport(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	run := &model.PipelineRun{
		ID:            "run-9",
		StartedAt:     start,
		CompletedAt:   start.Add(2 * time.Second),
		OverallStatus: model.StatusFailed,
		Message:       "Halted at entity_validation (failed): rate too low",
		Gates: []model.ValidationGate{
			{Stage: model.StageExtraction, Status: model.StatusPassed, Confidence: 1},
			{Stage: model.StageEntityValidation, Status: model.StatusFailed, Issues: []string{"rate too low"}},
		},
	}

	var buf bytes.Buffer
	printReport(&buf, run)
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "# Validation Run: run-9\n"))
	assert.Contains(t, out, "Status: FAILED\n")
	assert.Contains(t, out, "  Issue: rate too low\n")
	assert.Contains(t, out, "- extraction: passed (100%)")
}

func TestStatusColor(t *testing.T) {
	for _, s := range []model.ValidationStatus{
		model.StatusPassed, model.StatusNeedsReview, model.StatusFailed,
		model.StatusBlocked, model.StatusCancelled, model.StatusPending,
	} {
		assert.NotNil(t, statusColor(s), string(s))
	}
}
