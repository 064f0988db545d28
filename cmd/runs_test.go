//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/matchguard/internal/model"
)

func testRuns() []model.PipelineRun {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	return []model.PipelineRun{
		{
			ID:              "abc12345-6789-0000-0000-000000000000",
			StartedAt:       now,
			CompletedAt:     now.Add(1500 * time.Millisecond),
			OverallStatus:   model.StatusPassed,
			FinalMatches:    make([]model.MatchResult, 3),
			FinalConfidence: 0.9,
			Gates: []model.ValidationGate{
				{Stage: model.StageExtraction, Status: model.StatusPassed},
				{Stage: model.StageFinalApproval, Status: model.StatusPassed},
			},
		},
		{
			ID:            "def12345-6789-0000-0000-000000000000",
			StartedAt:     now.Add(-time.Hour),
			CompletedAt:   now.Add(-time.Hour + 500*time.Millisecond),
			OverallStatus: model.StatusFailed,
			Gates: []model.ValidationGate{
				{Stage: model.StageExtraction, Status: model.StatusPassed},
				{Stage: model.StageEntityValidation, Status: model.StatusPassed},
				{Stage: model.StageStatisticalAnalysis, Status: model.StatusBlocked},
			},
		},
		{
			ID:              "0badf00d",
			StartedAt:       now.Add(-2 * time.Hour),
			CompletedAt:     now.Add(-2*time.Hour + time.Second),
			OverallStatus:   model.StatusNeedsReview,
			FinalMatches:    make([]model.MatchResult, 5),
			FinalConfidence: 0.7,
			ReviewQueueSize: 2,
		},
	}
}

func TestFormatRunsList(t *testing.T) {
	var buf bytes.Buffer
	formatRunsList(&buf, testRuns())

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "HALTED_AT")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "passed")
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "statistical_analysis")
	assert.Contains(t, output, "90%")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "1.5s")
}

func TestFormatRunsList_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatRunsList(&buf, nil)

	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	assert.Equal(t, 2, lines, "only header and separator")
}

func TestComputeRunStats(t *testing.T) {
	s := computeRunStats(testRuns())

	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Passed)
	assert.Equal(t, 1, s.Blocked)
	assert.Equal(t, 1, s.NeedsReview)
	assert.Zero(t, s.Failed)
	assert.Equal(t, 8, s.FinalMatches)
	assert.Equal(t, 2, s.Reviewed)
	assert.InDelta(t, 0.8, s.AvgConfidence, 1e-9)
	assert.InDelta(t, 1.0, s.AvgDurSecs, 1e-9)
}

func TestComputeRunStats_Empty(t *testing.T) {
	s := computeRunStats(nil)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.AvgDurSecs)
	assert.Zero(t, s.AvgConfidence)
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, computeRunStats(testRuns()))

	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "Blocked:")
	assert.Contains(t, output, "Avg confidence:")
	assert.Contains(t, output, "80.0%")
	assert.NotContains(t, output, "Other:")
}

func TestHaltedAt(t *testing.T) {
	runs := testRuns()
	assert.Empty(t, haltedAt(runs[0]))
	assert.Equal(t, "statistical_analysis", haltedAt(runs[1]))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000"))
	assert.Equal(t, "short", truncateID("short"))
}
