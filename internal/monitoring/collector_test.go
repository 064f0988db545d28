package monitoring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/matchguard/internal/anomaly"
	"github.com/sells-group/matchguard/internal/model"
	"github.com/sells-group/matchguard/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitoring.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// saveRun stores a run whose last gate carries status.
func saveRun(t *testing.T, st store.Store, id string, status model.ValidationStatus, started time.Time, fpRate float64) {
	t.Helper()
	gates := []model.ValidationGate{
		{Stage: model.StageExtraction, Status: model.StatusPassed, Timestamp: started},
		{Stage: model.StageStatisticalAnalysis, Status: status, Timestamp: started},
	}
	run := &model.PipelineRun{
		ID:              id,
		StartedAt:       started,
		CompletedAt:     started.Add(time.Second),
		OverallStatus:   model.DeriveStatus(gates),
		FinalConfidence: 0.8,
		ReviewQueueSize: 2,
		Gates:           gates,
		Quality:         &model.QualityReport{RunID: id, FalsePositiveRate: fpRate},
	}
	require.NoError(t, st.SaveRun(context.Background(), run))
}

type failingStore struct {
	store.Store
	listRunsErr error
	listInvErr  error
}

func (f *failingStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.PipelineRun, error) {
	if f.listRunsErr != nil {
		return nil, f.listRunsErr
	}
	return f.Store.ListRuns(ctx, filter)
}

func (f *failingStore) ListInvestigations(ctx context.Context, filter store.InvestigationFilter) ([]model.Investigation, error) {
	if f.listInvErr != nil {
		return nil, f.listInvErr
	}
	return f.Store.ListInvestigations(ctx, filter)
}

func TestCollector_Collect(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()

	saveRun(t, st, "r1", model.StatusPassed, now.Add(-time.Hour), 0.1)
	saveRun(t, st, "r2", model.StatusPassed, now.Add(-2*time.Hour), 0.3)
	saveRun(t, st, "r3", model.StatusFailed, now.Add(-3*time.Hour), 0.2)
	saveRun(t, st, "r4", model.StatusBlocked, now.Add(-4*time.Hour), 0.8)
	saveRun(t, st, "r5", model.StatusNeedsReview, now.Add(-5*time.Hour), 0.1)
	// Outside the window.
	saveRun(t, st, "old", model.StatusFailed, now.Add(-48*time.Hour), 0.9)

	require.NoError(t, st.SaveInvestigation(context.Background(), model.Investigation{
		ID:     "inv-1",
		RunID:  "r4",
		Status: anomaly.InvestigationStatusOpen,
		Anomaly: model.AnomalyReport{
			Metric:   "validated_matches_by_entity",
			Severity: model.SeverityCritical,
		},
		CreatedAt: now,
	}))

	snap, err := NewCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsPassed)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsBlocked)
	assert.Equal(t, 1, snap.RunsNeedsReview)
	assert.Equal(t, 5, snap.Finished())
	assert.InDelta(t, 0.2, snap.FailRate, 1e-9)
	assert.InDelta(t, 0.2, snap.BlockRate, 1e-9)
	assert.InDelta(t, 0.3, snap.MeanFalsePositiveRate, 1e-9)
	assert.Equal(t, 5, snap.QualityReports)
	assert.InDelta(t, 0.8, snap.MeanFinalConfidence, 1e-9)
	assert.Equal(t, 10, snap.ReviewQueued)
	assert.Equal(t, 1, snap.OpenInvestigations)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollector_BlockedRunsCountedFromGates(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	saveRun(t, st, "blocked", model.StatusBlocked, now.Add(-time.Minute), 0)
	saveRun(t, st, "failed", model.StatusFailed, now.Add(-2*time.Minute), 0)

	got, err := st.GetRun(context.Background(), "blocked")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.OverallStatus)

	snap, err := NewCollector(st).Collect(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.RunsBlocked)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.InDelta(t, 0.5, snap.BlockRate, 1e-9)
	assert.InDelta(t, 0.5, snap.FailRate, 1e-9)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := NewCollector(newTestStore(t)).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Zero(t, snap.MeanFalsePositiveRate)
}

func TestCollector_Errors(t *testing.T) {
	st := newTestStore(t)

	_, err := NewCollector(&failingStore{Store: st, listRunsErr: assert.AnError}).Collect(context.Background(), 24)
	assert.ErrorContains(t, err, "monitoring: list runs")

	_, err = NewCollector(&failingStore{Store: st, listInvErr: assert.AnError}).Collect(context.Background(), 24)
	assert.ErrorContains(t, err, "monitoring: list investigations")
}
