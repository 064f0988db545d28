// Package monitoring exposes pipeline metrics and alerts on unhealthy run
// history.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/matchguard/internal/anomaly"
	"github.com/sells-group/matchguard/internal/model"
	"github.com/sells-group/matchguard/internal/store"
)

// maxCollectedRuns bounds one collection pass.
const maxCollectedRuns = 10000

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	RunsTotal       int `json:"runs_total"`
	RunsPassed      int `json:"runs_passed"`
	RunsNeedsReview int `json:"runs_needs_review"`
	// RunsFailed and RunsBlocked split the failed runs: blocked runs were
	// halted by a critical anomaly, the rest by a failed gate.
	RunsFailed      int `json:"runs_failed"`
	RunsBlocked     int `json:"runs_blocked"`
	RunsCancelled   int `json:"runs_cancelled"`

	FailRate  float64 `json:"fail_rate"`
	BlockRate float64 `json:"block_rate"`

	// MeanFalsePositiveRate averages the quality reports in the window.
	MeanFalsePositiveRate float64 `json:"mean_false_positive_rate"`
	QualityReports        int     `json:"quality_reports"`
	MeanFinalConfidence   float64 `json:"mean_final_confidence"`
	ReviewQueued          int     `json:"review_queued"`

	OpenInvestigations int `json:"open_investigations"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Finished is the number of runs that reached a terminal status.
func (s *MetricsSnapshot) Finished() int {
	return s.RunsPassed + s.RunsNeedsReview + s.RunsFailed + s.RunsBlocked + s.RunsCancelled
}

// Collector gathers run metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of the runs started within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}
	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{Since: cutoff, Limit: maxCollectedRuns})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var fpSum, confSum float64
	var confRuns int
	for _, r := range runs {
		switch r.OverallStatus {
		case model.StatusPassed:
			snap.RunsPassed++
		case model.StatusNeedsReview:
			snap.RunsNeedsReview++
		case model.StatusFailed:
			if r.Blocked() {
				snap.RunsBlocked++
			} else {
				snap.RunsFailed++
			}
		case model.StatusCancelled:
			snap.RunsCancelled++
		}
		if r.Quality != nil {
			fpSum += r.Quality.FalsePositiveRate
			snap.QualityReports++
		}
		if r.OverallStatus == model.StatusPassed || r.OverallStatus == model.StatusNeedsReview {
			confSum += r.FinalConfidence
			confRuns++
		}
		snap.ReviewQueued += r.ReviewQueueSize
	}

	if finished := snap.Finished(); finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
		snap.BlockRate = float64(snap.RunsBlocked) / float64(finished)
	}
	if snap.QualityReports > 0 {
		snap.MeanFalsePositiveRate = fpSum / float64(snap.QualityReports)
	}
	if confRuns > 0 {
		snap.MeanFinalConfidence = confSum / float64(confRuns)
	}

	open, err := c.store.ListInvestigations(ctx, store.InvestigationFilter{
		Status: anomaly.InvestigationStatusOpen,
		Limit:  maxCollectedRuns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list investigations")
	}
	snap.OpenInvestigations = len(open)

	return snap, nil
}
